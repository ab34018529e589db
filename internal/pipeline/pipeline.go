package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/filerag/internal/composer"
	"github.com/kalambet/filerag/internal/querylog"
	"github.com/kalambet/filerag/internal/remote"
	"github.com/kalambet/filerag/internal/storage"
)

// Fixed answers for queries that never reach the model.
const (
	NoDocumentsAnswer = "No documents available to query. Please upload documents first."
	NoActiveAnswer    = "No active documents available to query."
)

// Documents lists remote documents and fetches their current state.
type Documents interface {
	ListDocuments(ctx context.Context) ([]remote.DocumentHandle, error)
	Lookup(ctx context.Context, id string) (remote.DocumentHandle, error)
}

// Generator produces an answer from a prompt and attached documents.
type Generator interface {
	Generate(ctx context.Context, prompt string, docs []remote.DocumentHandle) (string, error)
}

// Transcript is the append-only text log.
type Transcript interface {
	Append(rec querylog.Record) error
	AppendRating(r querylog.Rating) error
}

// History is the structured mirror of the transcript. It is optional.
type History interface {
	SaveQuery(q storage.QueryRecord) error
	SaveRating(r storage.RatingRecord) error
}

// Debug describes how a query was resolved.
type Debug struct {
	TotalDocuments  int      `json:"total_documents"`
	ActiveDocuments int      `json:"active_documents"`
	NotReady        []string `json:"not_ready,omitempty"`
	Error           string   `json:"error,omitempty"`
	DurationMs      int64    `json:"duration_ms"`
}

// Response is the outcome of one query. Failures are reported in Answer
// with Found set to false.
type Response struct {
	ID           string                 `json:"id"`
	Question     string                 `json:"question"`
	Answer       string                 `json:"answer"`
	Attributions []querylog.Attribution `json:"sources"`
	Found        bool                   `json:"found"`
	Timestamp    time.Time              `json:"timestamp"`
	Debug        Debug                  `json:"debug"`
}

// Pipeline answers questions against the Active remote documents.
type Pipeline struct {
	docs       Documents
	generator  Generator
	composer   *composer.Composer
	transcript Transcript
	history    History
	model      string
	now        func() time.Time
}

// New creates a Pipeline. history may be nil.
func New(docs Documents, gen Generator, comp *composer.Composer, transcript Transcript, history History, model string) *Pipeline {
	if comp == nil {
		comp = composer.New(false)
	}
	return &Pipeline{
		docs:       docs,
		generator:  gen,
		composer:   comp,
		transcript: transcript,
		history:    history,
		model:      model,
		now:        time.Now,
	}
}

// Query answers question. It never returns an error; every failure becomes
// an answer string with Found false. The result is always logged.
func (p *Pipeline) Query(ctx context.Context, question string) Response {
	start := time.Now()
	resp := p.answer(ctx, question)
	resp.ID = uuid.New().String()
	resp.Question = question
	resp.Timestamp = p.now()
	resp.Debug.DurationMs = time.Since(start).Milliseconds()

	p.record(resp)

	slog.Debug("query answered",
		"id", resp.ID,
		"found", resp.Found,
		"active_documents", resp.Debug.ActiveDocuments,
		"not_ready", len(resp.Debug.NotReady),
	)
	return resp
}

func (p *Pipeline) answer(ctx context.Context, question string) Response {
	all, err := p.docs.ListDocuments(ctx)
	if err != nil {
		slog.Warn("listing documents for query", "error", err)
		all = nil
	}
	if len(all) == 0 {
		return Response{Answer: NoDocumentsAnswer, Attributions: []querylog.Attribution{}}
	}

	ready, notReady := p.partition(ctx, all)
	dbg := Debug{
		TotalDocuments:  len(all),
		ActiveDocuments: len(ready),
		NotReady:        notReady,
	}

	if len(ready) == 0 {
		msg := NoActiveAnswer
		if len(notReady) > 0 {
			msg += "\n\nFailed files: " + strings.Join(notReady, ", ")
		}
		return Response{Answer: msg, Attributions: []querylog.Attribution{}, Debug: dbg}
	}

	prompt := p.composer.Compose(question, ready)
	answer, err := p.generator.Generate(ctx, prompt, ready)
	if err != nil {
		dbg.Error = err.Error()
		return Response{
			Answer:       fmt.Sprintf("Error processing query: %v", err),
			Attributions: []querylog.Attribution{},
			Debug:        dbg,
		}
	}

	attrs := make([]querylog.Attribution, len(ready))
	for i, d := range ready {
		attrs[i] = querylog.Attribution{DocumentName: d.DisplayName, DocumentID: d.ID}
	}

	return Response{
		Answer:       answer,
		Attributions: attrs,
		Found:        Classify(answer, len(attrs)),
		Debug:        dbg,
	}
}

// partition re-reads each listed document and splits them into Active and
// a human-readable list of the rest, preserving list order.
func (p *Pipeline) partition(ctx context.Context, all []remote.DocumentHandle) ([]remote.DocumentHandle, []string) {
	var ready []remote.DocumentHandle
	var notReady []string
	for _, d := range all {
		cur, err := p.docs.Lookup(ctx, d.ID)
		if err != nil {
			notReady = append(notReady, fmt.Sprintf("%s (error: %v)", d.ID, err))
			continue
		}
		if !cur.Ready() {
			notReady = append(notReady, fmt.Sprintf("%s (state: %s)", cur.ID, cur.State))
			continue
		}
		ready = append(ready, cur)
	}
	return ready, notReady
}

func (p *Pipeline) record(resp Response) {
	rec := querylog.Record{
		ID:           resp.ID,
		Timestamp:    resp.Timestamp,
		Question:     resp.Question,
		Answer:       resp.Answer,
		Attributions: resp.Attributions,
		Found:        resp.Found,
	}
	if err := p.transcript.Append(rec); err != nil {
		slog.Warn("failed to log query", "id", resp.ID, "error", err)
	}

	if p.history == nil {
		return
	}
	sources, err := json.Marshal(resp.Attributions)
	if err != nil {
		slog.Warn("failed to encode sources", "id", resp.ID, "error", err)
		sources = []byte("[]")
	}
	if err := p.history.SaveQuery(storage.QueryRecord{
		ID:          resp.ID,
		CreatedAt:   resp.Timestamp,
		Question:    resp.Question,
		Answer:      resp.Answer,
		Found:       resp.Found,
		SourcesJSON: string(sources),
		Model:       p.model,
	}); err != nil {
		slog.Warn("failed to store query", "id", resp.ID, "error", err)
	}
}

// SaveRating appends a rating to the transcript and, when configured, the
// structured history. A transcript failure is returned; a history failure is
// only logged.
func (p *Pipeline) SaveRating(r querylog.Rating) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = p.now()
	}
	if err := p.transcript.AppendRating(r); err != nil {
		return fmt.Errorf("saving rating: %w", err)
	}

	if p.history != nil {
		if err := p.history.SaveRating(storage.RatingRecord{
			ID:        r.ID,
			QueryID:   r.QueryID,
			CreatedAt: r.Timestamp,
			Question:  r.Question,
			Answer:    r.Answer,
			Score:     r.Score,
			Note:      r.Note,
		}); err != nil {
			slog.Warn("failed to store rating", "id", r.ID, "error", err)
		}
	}
	return nil
}
