package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/filerag/internal/remote"
)

// ErrDuplicateDocument marks an upload rejected because a document with the
// same display name already exists.
var ErrDuplicateDocument = errors.New("duplicate document")

// Remote is the adapter surface the registry depends on.
type Remote interface {
	List(ctx context.Context) ([]remote.DocumentHandle, error)
	Get(ctx context.Context, id string) (remote.DocumentHandle, error)
	Upload(ctx context.Context, content []byte, displayName, mimeType string) (remote.DocumentHandle, error)
	Delete(ctx context.Context, id string) error
}

// Result is the outcome of a single upload or delete. Registry operations
// report failures here instead of returning errors.
type Result struct {
	Success   bool                   `json:"success"`
	Duplicate bool                   `json:"duplicate,omitempty"`
	Message   string                 `json:"message"`
	Document  *remote.DocumentHandle `json:"document,omitempty"`
	Pages     int                    `json:"pages,omitempty"`
	Err       error                  `json:"-"`
}

// Registry manages the set of documents on the remote service. It holds no
// local state; every call goes to the service.
type Registry struct {
	remote Remote
	logger *slog.Logger
}

// New creates a Registry backed by r.
func New(r Remote) *Registry {
	return &Registry{remote: r, logger: slog.Default()}
}

// ListDocuments returns every remote document.
func (r *Registry) ListDocuments(ctx context.Context) ([]remote.DocumentHandle, error) {
	docs, err := r.remote.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return docs, nil
}

// Lookup fetches the current state of a single document.
func (r *Registry) Lookup(ctx context.Context, id string) (remote.DocumentHandle, error) {
	return r.remote.Get(ctx, id)
}

// UploadDocument uploads content unless a document with exactly the same
// display name already exists. If the duplicate scan fails the upload still
// goes ahead.
func (r *Registry) UploadDocument(ctx context.Context, content []byte, displayName, mimeType string) Result {
	if mimeType == "" {
		mimeType = DetectMIMEType(displayName, content)
	}

	existing, err := r.remote.List(ctx)
	if err != nil {
		r.logger.Warn("could not check for duplicates", "display_name", displayName, "error", err)
	}
	for _, d := range existing {
		if d.DisplayName == displayName {
			return Result{
				Duplicate: true,
				Message:   fmt.Sprintf("Document %q already exists. Please delete it first or rename the file.", displayName),
				Err:       ErrDuplicateDocument,
			}
		}
	}

	var pages int
	if mimeType == mimePDF {
		pages, err = pdfPageCount(content)
		if err != nil {
			return Result{
				Message: fmt.Sprintf("Failed to upload document: %v", err),
				Err:     err,
			}
		}
	}

	h, err := r.remote.Upload(ctx, content, displayName, mimeType)
	if err != nil {
		return Result{
			Message: fmt.Sprintf("Failed to upload document: %v", err),
			Err:     err,
		}
	}

	r.logger.Info("document uploaded", "id", h.ID, "display_name", displayName, "mime_type", mimeType)
	return Result{
		Success:  true,
		Message:  fmt.Sprintf("Document %q uploaded successfully", displayName),
		Document: &h,
		Pages:    pages,
	}
}

// DeleteDocument removes a document by id.
func (r *Registry) DeleteDocument(ctx context.Context, id string) Result {
	if err := r.remote.Delete(ctx, id); err != nil {
		return Result{
			Message: fmt.Sprintf("Failed to delete document: %v", err),
			Err:     err,
		}
	}
	return Result{Success: true, Message: "Document deleted successfully"}
}

// DocumentCount returns the number of remote documents, or 0 if the list fails.
func (r *Registry) DocumentCount(ctx context.Context) int {
	docs, err := r.remote.List(ctx)
	if err != nil {
		return 0
	}
	return len(docs)
}

// ReadyDocuments returns the Active documents as reported by a single list
// call. A list failure yields an empty slice. It backs the ready-only
// document listings of the CLI and REST API; the query pipeline re-reads
// each document instead so it can also name the ones that are not ready.
func (r *Registry) ReadyDocuments(ctx context.Context) []remote.DocumentHandle {
	docs, err := r.remote.List(ctx)
	if err != nil {
		r.logger.Warn("listing documents for readiness", "error", err)
		return []remote.DocumentHandle{}
	}
	ready := make([]remote.DocumentHandle, 0, len(docs))
	for _, d := range docs {
		if d.Ready() {
			ready = append(ready, d)
		}
	}
	return ready
}

// ReadyDocumentIDs returns the ids of the Active documents. The CLI uses it
// for the ready count in `store info`.
func (r *Registry) ReadyDocumentIDs(ctx context.Context) []string {
	ready := r.ReadyDocuments(ctx)
	ids := make([]string, len(ready))
	for i, d := range ready {
		ids[i] = d.ID
	}
	return ids
}
