package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveQuery inserts a query record.
func (s *Store) SaveQuery(q QueryRecord) error {
	sources := q.SourcesJSON
	if sources == "" {
		sources = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO queries (id, created_at, question, answer, found, sources, model)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.CreatedAt.UTC().Format(time.RFC3339), q.Question, q.Answer, boolToInt(q.Found), sources, q.Model,
	)
	if err != nil {
		return fmt.Errorf("inserting query %s: %w", q.ID, err)
	}
	return nil
}

// GetQuery returns the query with the given id.
func (s *Store) GetQuery(id string) (QueryRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, created_at, question, answer, found, sources, model
		FROM queries WHERE id = ?`, id)
	q, err := scanQuery(row)
	if err == sql.ErrNoRows {
		return QueryRecord{}, ErrNotFound
	}
	return q, err
}

// ListQueries returns queries newest first.
func (s *Store) ListQueries(limit, offset int) ([]QueryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(`
		SELECT id, created_at, question, answer, found, sources, model
		FROM queries ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueryRecord
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// CountStoredQueries returns the number of stored query records.
func (s *Store) CountStoredQueries() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM queries`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// DeleteAllQueries removes every query and rating.
func (s *Store) DeleteAllQueries() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM ratings`); err != nil {
		return fmt.Errorf("deleting ratings: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM queries`); err != nil {
		return fmt.Errorf("deleting queries: %w", err)
	}
	return tx.Commit()
}

// SaveRating inserts a rating. An empty QueryID is stored as NULL.
func (s *Store) SaveRating(r RatingRecord) error {
	var queryID sql.NullString
	if r.QueryID != "" {
		queryID = sql.NullString{String: r.QueryID, Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO ratings (id, query_id, created_at, question, answer, score, note)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, queryID, r.CreatedAt.UTC().Format(time.RFC3339), r.Question, r.Answer, r.Score, r.Note,
	)
	if err != nil {
		return fmt.Errorf("inserting rating %s: %w", r.ID, err)
	}
	return nil
}

// ListRatings returns ratings for queryID newest first, or all ratings when
// queryID is empty.
func (s *Store) ListRatings(queryID string, limit int) ([]RatingRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, query_id, created_at, question, answer, score, note FROM ratings`
	args := []any{}
	if queryID != "" {
		query += ` WHERE query_id = ?`
		args = append(args, queryID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RatingRecord
	for rows.Next() {
		var r RatingRecord
		var qid sql.NullString
		var createdAt string
		if err := rows.Scan(&r.ID, &qid, &createdAt, &r.Question, &r.Answer, &r.Score, &r.Note); err != nil {
			return nil, err
		}
		r.QueryID = qid.String
		if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuery(row rowScanner) (QueryRecord, error) {
	var q QueryRecord
	var createdAt string
	var found int
	if err := row.Scan(&q.ID, &createdAt, &q.Question, &q.Answer, &found, &q.SourcesJSON, &q.Model); err != nil {
		return QueryRecord{}, err
	}
	q.Found = found != 0
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return QueryRecord{}, fmt.Errorf("parsing created_at: %w", err)
	}
	q.CreatedAt = t
	return q, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
