package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/filerag/internal/pipeline"
	"github.com/kalambet/filerag/internal/querylog"
	"github.com/kalambet/filerag/internal/registry"
	"github.com/kalambet/filerag/internal/remote"
	"github.com/kalambet/filerag/internal/storage"
	"github.com/kalambet/filerag/internal/store"
)

const (
	maxRequestBodySize = 1 << 20   // 1MB
	maxUploadBodySize  = 100 << 20 // 100MB, base64 inflated
)

// StoreManager is the store configuration surface.
type StoreManager interface {
	Exists() bool
	Create(name string) store.Result
	Info(ctx context.Context) store.Info
	Delete(ctx context.Context) store.Result
}

// DocumentRegistry is the document management surface.
type DocumentRegistry interface {
	ListDocuments(ctx context.Context) ([]remote.DocumentHandle, error)
	ReadyDocuments(ctx context.Context) []remote.DocumentHandle
	UploadDocument(ctx context.Context, content []byte, displayName, mimeType string) registry.Result
	BatchUpload(ctx context.Context, items []registry.Item) registry.BatchResult
	DeleteDocument(ctx context.Context, id string) registry.Result
}

// Asker answers questions and records ratings.
type Asker interface {
	Query(ctx context.Context, question string) pipeline.Response
	SaveRating(r querylog.Rating) error
}

// Enqueuer queues uploads for the background worker.
type Enqueuer interface {
	Enqueue(displayName, mimeType string, content []byte) (string, error)
}

// AppDeps wires the REST API. History is required: the interaction list,
// the history reset and upload job status all read it.
type AppDeps struct {
	Store    StoreManager
	Registry DocumentRegistry
	Pipeline Asker
	Log      *querylog.Log
	History  *storage.Store
	Queue    Enqueuer
	Token    string
}

// NewAppHandler returns the REST API. Everything except /health requires
// the bearer token; document and query routes also require a configured store.
// It panics if deps.History is nil.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.History == nil {
		panic("api: NewAppHandler requires a History store")
	}
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/store", handleStoreInfo(deps))
		r.Post("/store", handleStoreCreate(deps))
		r.Delete("/store", handleStoreDelete(deps))

		r.Get("/history", handleHistory(deps))
		r.Delete("/history", handleClearHistory(deps))
		r.Get("/history/count", handleHistoryCount(deps))
		r.Get("/interactions", handleListInteractions(deps))
		r.Post("/ratings", handleRate(deps))
		r.Get("/uploads/{id}", handleUploadStatus(deps))

		r.Group(func(r chi.Router) {
			r.Use(requireStore(deps.Store))

			r.Get("/documents", handleListDocuments(deps))
			r.Post("/documents", handleUploadDocument(deps))
			r.Post("/documents/batch", handleBatchUpload(deps))
			r.Delete("/documents/{id}", handleDeleteDocument(deps))
			r.Post("/uploads", handleQueueUpload(deps))
			r.Post("/query", handleQuery(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
