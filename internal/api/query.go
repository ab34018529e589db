package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/filerag/internal/querylog"
)

type QueryRequest struct {
	Question string `json:"question"`
}

type RatingRequest struct {
	QueryID  string `json:"query_id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Score    int    `json:"score"`
	Note     string `json:"note"`
}

type interaction struct {
	ID        string                 `json:"id"`
	CreatedAt string                 `json:"created_at"`
	Question  string                 `json:"question"`
	Answer    string                 `json:"answer"`
	Found     bool                   `json:"found"`
	Sources   []querylog.Attribution `json:"sources"`
	Model     string                 `json:"model,omitempty"`
}

func handleQuery(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Question) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		writeJSON(w, http.StatusOK, deps.Pipeline.Query(r.Context(), req.Question))
	}
}

func handleRate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req RatingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		id := uuid.New().String()
		err := deps.Pipeline.SaveRating(querylog.Rating{
			ID:       id,
			QueryID:  req.QueryID,
			Question: req.Question,
			Answer:   req.Answer,
			Score:    req.Score,
			Note:     req.Note,
		})
		if errors.Is(err, querylog.ErrInvalidScore) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save rating: %v", err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]string{"id": id, "status": "saved"})
	}
}

func handleHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		text, err := deps.Log.ReadAll()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read history: %v", err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(text))
	}
}

func handleHistoryCount(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Log.CountQueries()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count queries: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"count": n})
	}
}

func handleClearHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Log.Reset(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear history: %v", err)
			return
		}
		if err := deps.History.DeleteAllQueries(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear stored queries: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}

func handleListInteractions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		records, err := deps.History.ListQueries(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list interactions: %v", err)
			return
		}

		out := make([]interaction, 0, len(records))
		for _, q := range records {
			var sources []querylog.Attribution
			if err := json.Unmarshal([]byte(q.SourcesJSON), &sources); err != nil || sources == nil {
				sources = []querylog.Attribution{}
			}
			out = append(out, interaction{
				ID:        q.ID,
				CreatedAt: q.CreatedAt.UTC().Format(time.RFC3339),
				Question:  q.Question,
				Answer:    q.Answer,
				Found:     q.Found,
				Sources:   sources,
				Model:     q.Model,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}
