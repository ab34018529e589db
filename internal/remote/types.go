package remote

import (
	"path"
	"strconv"
	"time"

	"github.com/kalambet/filerag/internal/gemini"
)

// State is the readiness of a document on the remote service.
type State string

const (
	StateUnknown    State = "UNKNOWN"
	StateProcessing State = "PROCESSING"
	StateActive     State = "ACTIVE"
	StateFailed     State = "FAILED"
)

// DocumentHandle is the local view of a remote file. Any field other than ID
// may be empty if the service omitted it.
type DocumentHandle struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	MIMEType    string    `json:"mime_type,omitempty"`
	URI         string    `json:"uri,omitempty"`
	SizeBytes   int64     `json:"size_bytes,omitempty"`
	State       State     `json:"state"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Ready reports whether the document can be attached to a generation request.
func (d DocumentHandle) Ready() bool {
	return d.State == StateActive
}

func handleFromFile(f gemini.File) DocumentHandle {
	h := DocumentHandle{
		ID:          f.Name,
		DisplayName: f.DisplayName,
		MIMEType:    f.MIMEType,
		URI:         f.URI,
		State:       parseState(f.State),
		CreatedAt:   parseTime(f.CreateTime),
		UpdatedAt:   parseTime(f.UpdateTime),
	}
	if h.DisplayName == "" {
		h.DisplayName = path.Base(f.Name)
	}
	if n, err := strconv.ParseInt(f.SizeBytes, 10, 64); err == nil {
		h.SizeBytes = n
	}
	if f.Error != nil {
		h.Error = f.Error.Message
	}
	return h
}

func parseState(s string) State {
	switch s {
	case gemini.StateProcessing:
		return StateProcessing
	case gemini.StateActive:
		return StateActive
	case gemini.StateFailed:
		return StateFailed
	default:
		return StateUnknown
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
