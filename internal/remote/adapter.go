package remote

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/kalambet/filerag/internal/gemini"
)

const (
	defaultPollInterval = time.Second
	listPageSize        = 100

	// NoAnswer is returned by Generate when the model produced no text.
	NoAnswer = "No answer generated"
)

// FileService is the subset of the Gemini API the adapter depends on.
type FileService interface {
	UploadFile(ctx context.Context, content []byte, displayName, mimeType string) (gemini.File, error)
	GetFile(ctx context.Context, name string) (gemini.File, error)
	ListFiles(ctx context.Context, pageSize int, pageToken string) (gemini.ListFilesResponse, error)
	DeleteFile(ctx context.Context, name string) error
	GenerateContent(ctx context.Context, model string, req gemini.GenerateContentRequest) (gemini.GenerateContentResponse, error)
}

// Options controls generation and the upload readiness poll.
type Options struct {
	Model        string
	PollInterval time.Duration
	// MaxPolls bounds the readiness poll; 0 polls until the state changes.
	MaxPolls int
}

// Adapter translates between the Gemini wire API and DocumentHandle values,
// mapping every failure onto the package error sentinels.
type Adapter struct {
	svc    FileService
	opts   Options
	logger *slog.Logger
}

// New creates an Adapter. A non-positive poll interval defaults to 1s.
func New(svc FileService, opts Options) *Adapter {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &Adapter{svc: svc, opts: opts, logger: slog.Default()}
}

// Upload submits content and blocks until the service finishes processing it.
// It returns the Active handle, or ErrUploadFailed if processing failed.
func (a *Adapter) Upload(ctx context.Context, content []byte, displayName, mimeType string) (DocumentHandle, error) {
	f, err := a.svc.UploadFile(ctx, content, displayName, mimeType)
	if err != nil {
		if isRejectedContent(err) {
			return DocumentHandle{}, fmt.Errorf("%w: %w: %w", ErrUploadFailed, ErrUnsupportedContent, err)
		}
		return DocumentHandle{}, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	h, err := a.waitReady(ctx, handleFromFile(f))
	if err != nil {
		return DocumentHandle{}, err
	}
	return h, nil
}

func (a *Adapter) waitReady(ctx context.Context, h DocumentHandle) (DocumentHandle, error) {
	limiter := rate.NewLimiter(rate.Every(a.opts.PollInterval), 1)
	limiter.Allow()

	polls := 0
	for h.State == StateProcessing {
		if a.opts.MaxPolls > 0 && polls >= a.opts.MaxPolls {
			return DocumentHandle{}, fmt.Errorf("%w: %s still processing after %d polls", ErrUploadFailed, h.ID, polls)
		}
		if err := limiter.Wait(ctx); err != nil {
			return DocumentHandle{}, fmt.Errorf("%w: waiting for %s: %w", ErrUploadFailed, h.ID, err)
		}
		polls++

		f, err := a.svc.GetFile(ctx, h.ID)
		if err != nil {
			return DocumentHandle{}, fmt.Errorf("%w: polling %s: %w", ErrUploadFailed, h.ID, err)
		}
		h = handleFromFile(f)
		a.logger.Debug("upload poll", "id", h.ID, "state", h.State, "poll", polls)
	}

	if h.State == StateFailed {
		if h.Error != "" {
			return DocumentHandle{}, fmt.Errorf("%w: file processing failed: %s: %s", ErrUploadFailed, h.ID, h.Error)
		}
		return DocumentHandle{}, fmt.Errorf("%w: file processing failed: %s", ErrUploadFailed, h.ID)
	}
	return h, nil
}

// List returns every document on the service, following pagination.
// It never returns a partial result.
func (a *Adapter) List(ctx context.Context) ([]DocumentHandle, error) {
	var out []DocumentHandle
	token := ""
	for {
		page, err := a.svc.ListFiles(ctx, listPageSize, token)
		if err != nil {
			return nil, fmt.Errorf("%w: listing files: %w", ErrServiceUnavailable, err)
		}
		for _, f := range page.Files {
			out = append(out, handleFromFile(f))
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		token = page.NextPageToken
	}
}

// Get returns the current handle for id.
func (a *Adapter) Get(ctx context.Context, id string) (DocumentHandle, error) {
	f, err := a.svc.GetFile(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return DocumentHandle{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return DocumentHandle{}, fmt.Errorf("%w: getting %s: %w", ErrServiceUnavailable, id, err)
	}
	return handleFromFile(f), nil
}

// Delete removes a document from the service.
func (a *Adapter) Delete(ctx context.Context, id string) error {
	if err := a.svc.DeleteFile(ctx, id); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("%w: deleting %s: %w", ErrServiceUnavailable, id, err)
	}
	return nil
}

// Generate sends prompt plus one file reference per document as a single
// request. It does not retry.
func (a *Adapter) Generate(ctx context.Context, prompt string, docs []DocumentHandle) (string, error) {
	parts := make([]gemini.Part, 0, len(docs)+1)
	parts = append(parts, gemini.Part{Text: prompt})
	for _, d := range docs {
		parts = append(parts, gemini.Part{FileData: &gemini.FileData{MIMEType: d.MIMEType, FileURI: d.URI}})
	}

	resp, err := a.svc.GenerateContent(ctx, a.opts.Model, gemini.GenerateContentRequest{
		Contents: []gemini.Content{{Role: "user", Parts: parts}},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	if len(resp.Candidates) == 0 && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked: %s", ErrGenerationFailed, resp.PromptFeedback.BlockReason)
	}

	text := resp.Text()
	if text == "" {
		return NoAnswer, nil
	}
	return text, nil
}
