package gemini

import (
	"fmt"
	"strings"
)

// File mirrors the Gemini File resource. Every field except Name may be
// absent in a response, so callers must treat empty values as unknown.
type File struct {
	Name           string  `json:"name"`
	DisplayName    string  `json:"displayName,omitempty"`
	MIMEType       string  `json:"mimeType,omitempty"`
	SizeBytes      string  `json:"sizeBytes,omitempty"`
	CreateTime     string  `json:"createTime,omitempty"`
	UpdateTime     string  `json:"updateTime,omitempty"`
	ExpirationTime string  `json:"expirationTime,omitempty"`
	URI            string  `json:"uri,omitempty"`
	State          string  `json:"state,omitempty"`
	Error          *Status `json:"error,omitempty"`
}

// File states reported by the service.
const (
	StateProcessing = "PROCESSING"
	StateActive     = "ACTIVE"
	StateFailed     = "FAILED"
)

// Status is the google.rpc.Status shape used for file and request errors.
type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type uploadResponse struct {
	File File `json:"file"`
}

// ListFilesResponse is one page of GET /v1beta/files.
type ListFilesResponse struct {
	Files         []File `json:"files"`
	NextPageToken string `json:"nextPageToken,omitempty"`
}

// FileData references an uploaded file inside a content part.
type FileData struct {
	MIMEType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

// Part is a single text or file part of a Content.
type Part struct {
	Text     string    `json:"text,omitempty"`
	FileData *FileData `json:"fileData,omitempty"`
}

// Content is a role-tagged list of parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// GenerateContentRequest is the body of models/{model}:generateContent.
type GenerateContentRequest struct {
	Contents []Content `json:"contents"`
}

// Candidate is one generated response.
type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

// PromptFeedback reports why a prompt was blocked, if it was.
type PromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

// GenerateContentResponse is the response of models/{model}:generateContent.
type GenerateContentResponse struct {
	Candidates     []Candidate     `json:"candidates"`
	PromptFeedback *PromptFeedback `json:"promptFeedback,omitempty"`
}

// Text concatenates the text parts of the first candidate.
func (r GenerateContentResponse) Text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// APIError is returned for any non-2xx response from the service.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gemini: HTTP %d", e.StatusCode)
	}
	if e.Status != "" {
		return fmt.Sprintf("gemini: HTTP %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("gemini: HTTP %d: %s", e.StatusCode, e.Message)
}

type errorEnvelope struct {
	Error Status `json:"error"`
}
