package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/filerag/internal/registry"
	"github.com/kalambet/filerag/internal/remote"
	"github.com/kalambet/filerag/internal/storage"
)

// DocumentRequest carries one file. Content is base64 encoded.
type DocumentRequest struct {
	DisplayName string `json:"display_name"`
	MIMEType    string `json:"mime_type"`
	ContentB64  string `json:"content_b64"`
}

type BatchRequest struct {
	Documents []DocumentRequest `json:"documents"`
}

type storeCreateRequest struct {
	Name string `json:"name"`
}

func (d DocumentRequest) decode() ([]byte, error) {
	if d.DisplayName == "" {
		return nil, errors.New("display_name is required")
	}
	content, err := base64.StdEncoding.DecodeString(d.ContentB64)
	if err != nil {
		return nil, errors.New("invalid base64 content")
	}
	if len(content) == 0 {
		return nil, errors.New("content_b64 is required")
	}
	return content, nil
}

func handleStoreInfo(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Store.Info(r.Context()))
	}
}

func handleStoreCreate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req storeCreateRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
				return
			}
		}

		res := deps.Store.Create(req.Name)
		code := http.StatusCreated
		if !res.Success {
			code = http.StatusConflict
		}
		writeJSON(w, code, res)
	}
}

func handleStoreDelete(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := deps.Store.Delete(r.Context())
		code := http.StatusOK
		if !res.Success {
			code = http.StatusNotFound
		}
		writeJSON(w, code, res)
	}
}

// handleListDocuments lists every document, or only Active ones with
// ?ready=true.
func handleListDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var docs []remote.DocumentHandle
		if ready, _ := strconv.ParseBool(r.URL.Query().Get("ready")); ready {
			docs = deps.Registry.ReadyDocuments(r.Context())
		} else {
			var err error
			if docs, err = deps.Registry.ListDocuments(r.Context()); err != nil {
				httpError(w, http.StatusBadGateway, "api_error", "failed to list documents: %v", err)
				return
			}
		}
		if docs == nil {
			docs = []remote.DocumentHandle{}
		}
		writeJSON(w, http.StatusOK, docs)
	}
}

func handleUploadDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		defer r.Body.Close()

		var req DocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		content, err := req.decode()
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		res := deps.Registry.UploadDocument(r.Context(), content, req.DisplayName, req.MIMEType)
		writeJSON(w, uploadStatus(res), res)
	}
}

func uploadStatus(res registry.Result) int {
	switch {
	case res.Success:
		return http.StatusCreated
	case res.Duplicate:
		return http.StatusConflict
	case errors.Is(res.Err, remote.ErrUnsupportedContent):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func handleBatchUpload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		defer r.Body.Close()

		var req BatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Documents) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "documents is required and must not be empty")
			return
		}

		items := make([]registry.Item, 0, len(req.Documents))
		for i, d := range req.Documents {
			content, err := d.decode()
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "documents[%d]: %v", i, err)
				return
			}
			items = append(items, registry.Item{DisplayName: d.DisplayName, MIMEType: d.MIMEType, Content: content})
		}

		writeJSON(w, http.StatusOK, deps.Registry.BatchUpload(r.Context(), items))
	}
}

func handleDeleteDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		res := deps.Registry.DeleteDocument(r.Context(), id)
		code := http.StatusOK
		switch {
		case res.Success:
		case errors.Is(res.Err, remote.ErrNotFound):
			code = http.StatusNotFound
		default:
			code = http.StatusBadGateway
		}
		writeJSON(w, code, res)
	}
}

func handleQueueUpload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		defer r.Body.Close()

		var req DocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		content, err := req.decode()
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		id, err := deps.Queue.Enqueue(req.DisplayName, req.MIMEType, content)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue upload: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"id":     id,
			"status": "queued",
		})
	}
}

type uploadStatusResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
	Result    string `json:"result,omitempty"`
}

func handleUploadStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		job, err := deps.History.GetJob(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "upload not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get upload: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, uploadStatusResponse{
			ID:        job.ID,
			Status:    job.Status,
			Attempts:  job.Attempts,
			LastError: job.LastError,
			Result:    job.Result,
		})
	}
}
