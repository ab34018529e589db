package remote

import (
	"errors"
	"net/http"

	"github.com/kalambet/filerag/internal/gemini"
)

var (
	// ErrUploadFailed is returned when the service reports a Failed state or
	// the upload could not be completed.
	ErrUploadFailed = errors.New("upload failed")

	// ErrServiceUnavailable covers transport and authentication failures.
	ErrServiceUnavailable = errors.New("remote service unavailable")

	// ErrGenerationFailed wraps any error from a generation request.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrNotFound is returned when the requested document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrUnsupportedContent is returned when the service rejects the MIME
	// type or size of an upload.
	ErrUnsupportedContent = errors.New("unsupported content")
)

func statusCode(err error) int {
	var apiErr *gemini.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func isNotFound(err error) bool {
	return statusCode(err) == http.StatusNotFound
}

func isRejectedContent(err error) bool {
	switch statusCode(err) {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return true
	}
	return false
}
