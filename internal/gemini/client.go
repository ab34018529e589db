package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL  = "https://generativelanguage.googleapis.com"
	defaultTimeout  = 60 * time.Second
	generateTimeout = 300 * time.Second
	maxErrorBody    = 64 << 10
)

// Client communicates with the Gemini File and generateContent REST APIs.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Gemini client with the given API key.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 0,
		},
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	return c
}

// UploadFile sends content as a single multipart/related upload and returns
// the file resource as created. The file is usually still PROCESSING.
func (c *Client) UploadFile(ctx context.Context, content []byte, displayName, mimeType string) (File, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	metaPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return File{}, fmt.Errorf("creating metadata part: %w", err)
	}
	meta := map[string]any{"file": map[string]string{"displayName": displayName}}
	if err := json.NewEncoder(metaPart).Encode(meta); err != nil {
		return File{}, fmt.Errorf("encoding metadata: %w", err)
	}

	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	dataPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {mimeType}})
	if err != nil {
		return File{}, fmt.Errorf("creating data part: %w", err)
	}
	if _, err := dataPart.Write(content); err != nil {
		return File{}, fmt.Errorf("writing data part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return File{}, fmt.Errorf("closing multipart body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/v1beta/files", &body)
	if err != nil {
		return File{}, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "multipart/related; boundary="+mw.Boundary())
	req.Header.Set("X-Goog-Upload-Protocol", "multipart")

	var out uploadResponse
	if err := c.do(req, &out); err != nil {
		return File{}, err
	}
	return out.File, nil
}

// GetFile fetches the current state of a file. name may be "files/abc" or "abc".
func (c *Client) GetFile(ctx context.Context, name string) (File, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1beta/"+fileName(name), nil)
	if err != nil {
		return File{}, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	var f File
	if err := c.do(req, &f); err != nil {
		return File{}, err
	}
	return f, nil
}

// ListFiles returns one page of files. Pass the previous NextPageToken to
// continue; an empty token starts from the beginning.
func (c *Client) ListFiles(ctx context.Context, pageSize int, pageToken string) (ListFilesResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	q := url.Values{}
	if pageSize > 0 {
		q.Set("pageSize", strconv.Itoa(pageSize))
	}
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	u := c.baseURL + "/v1beta/files"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return ListFilesResponse{}, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	var page ListFilesResponse
	if err := c.do(req, &page); err != nil {
		return ListFilesResponse{}, err
	}
	return page, nil
}

// DeleteFile removes a file from the service.
func (c *Client) DeleteFile(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v1beta/"+fileName(name), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)
	return c.do(req, nil)
}

// GenerateContent runs a single non-streaming generation against model.
func (c *Client) GenerateContent(ctx context.Context, model string, in GenerateContentRequest) (GenerateContentResponse, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return GenerateContentResponse{}, fmt.Errorf("marshaling request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	u := c.baseURL + "/v1beta/" + modelName(model) + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return GenerateContentResponse{}, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	var out GenerateContentResponse
	if err := c.do(req, &out); err != nil {
		return GenerateContentResponse{}, err
	}
	return out, nil
}

// do executes req and decodes a 2xx JSON body into v (if non-nil).
// Non-2xx responses become *APIError.
func (c *Client) do(req *http.Request, v any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	if v == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil && err != io.EOF {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var env errorEnvelope
	if json.Unmarshal(data, &env) == nil && env.Error.Message != "" {
		apiErr.Status = env.Error.Status
		apiErr.Message = env.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("x-goog-api-key", c.apiKey)
}

func fileName(name string) string {
	if strings.HasPrefix(name, "files/") {
		return name
	}
	return "files/" + name
}

func modelName(model string) string {
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}
