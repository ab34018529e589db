package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/filerag/internal/composer"
	"github.com/kalambet/filerag/internal/config"
	"github.com/kalambet/filerag/internal/gemini"
)

// fakeGemini serves the subset of the Gemini REST API the CLI uses. Uploaded
// files are Active immediately.
type fakeGemini struct {
	server *httptest.Server

	mu      sync.Mutex
	files   map[string]gemini.File
	order   []string
	answer  string
	prompts []string
}

func newFakeGemini(t *testing.T) *fakeGemini {
	t.Helper()
	f := &fakeGemini{files: map[string]gemini.File{}, answer: "The warranty lasts two years."}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeGemini) setAnswer(a string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answer = a
}

func (f *fakeGemini) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/upload/v1beta/files":
		displayName, mimeType, err := parseUpload(r)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, `{"error":{"code":400,"message":%q}}`, err.Error())
			return
		}
		name := fmt.Sprintf("files/f%d", len(f.order)+1)
		file := gemini.File{
			Name:        name,
			DisplayName: displayName,
			MIMEType:    mimeType,
			State:       gemini.StateActive,
			URI:         f.server.URL + "/v1beta/" + name,
			CreateTime:  time.Now().UTC().Format(time.RFC3339),
		}
		f.files[name] = file
		f.order = append(f.order, name)
		json.NewEncoder(w).Encode(map[string]gemini.File{"file": file})

	case r.Method == http.MethodGet && r.URL.Path == "/v1beta/files":
		resp := gemini.ListFilesResponse{Files: []gemini.File{}}
		for _, name := range f.order {
			if file, ok := f.files[name]; ok {
				resp.Files = append(resp.Files, file)
			}
		}
		json.NewEncoder(w).Encode(resp)

	case strings.HasPrefix(r.URL.Path, "/v1beta/files/"):
		name := strings.TrimPrefix(r.URL.Path, "/v1beta/")
		file, ok := f.files[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"code":404,"message":"file not found","status":"NOT_FOUND"}}`)
			return
		}
		if r.Method == http.MethodDelete {
			delete(f.files, name)
			fmt.Fprint(w, `{}`)
			return
		}
		json.NewEncoder(w).Encode(file)

	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":generateContent"):
		var req gemini.GenerateContentRequest
		json.NewDecoder(r.Body).Decode(&req)
		for _, c := range req.Contents {
			for _, p := range c.Parts {
				if p.Text != "" {
					f.prompts = append(f.prompts, p.Text)
				}
			}
		}
		json.NewEncoder(w).Encode(gemini.GenerateContentResponse{
			Candidates: []gemini.Candidate{{
				Content: gemini.Content{Role: "model", Parts: []gemini.Part{{Text: f.answer}}},
			}},
		})

	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"code":404,"message":"no route"}}`)
	}
}

func parseUpload(r *http.Request) (string, string, error) {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return "", "", err
	}
	mr := multipart.NewReader(r.Body, params["boundary"])
	p, err := mr.NextPart()
	if err != nil {
		return "", "", err
	}
	var meta struct {
		File struct {
			DisplayName string `json:"displayName"`
		} `json:"file"`
	}
	if err := json.NewDecoder(p).Decode(&meta); err != nil {
		return "", "", err
	}
	p, err = mr.NextPart()
	if err != nil {
		return "", "", err
	}
	io.Copy(io.Discard, p)
	return meta.File.DisplayName, p.Header.Get("Content-Type"), nil
}

// useTestConfig points every command at a temp data dir and the fake service.
func useTestConfig(t *testing.T, fake *fakeGemini) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Config{
		Server:   config.ServerConfig{Port: 4100},
		Gemini:   config.GeminiConfig{BaseURL: fake.server.URL, Model: "gemini-test", APIKey: "test-key"},
		Storage:  config.StorageConfig{DataDir: dir},
		QueryLog: config.QueryLogConfig{Path: filepath.Join(dir, "query_history.txt")},
		Upload:   config.UploadConfig{PollInterval: time.Millisecond, MaxPolls: 5},
		Log:      config.LogConfig{Level: "error"},
		Watch:    config.WatchConfig{Extensions: ".txt"},
	}

	orig := loadConfig
	loadConfig = func() (config.Config, error) { return cfg, nil }
	t.Cleanup(func() { loadConfig = orig })
	return cfg
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	origOut, origErr := stdout, stderr
	stdout, stderr = &out, &errOut
	defer func() { stdout, stderr = origOut, origErr }()

	rootCmd.SetArgs(append([]string{"--no-color"}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCLI_EndToEnd(t *testing.T) {
	fake := newFakeGemini(t)
	cfg := useTestConfig(t, fake)
	notes := writeFile(t, t.TempDir(), "notes.txt", "The warranty lasts two years.")

	if _, _, err := runCLI(t, "docs", "list"); err == nil || !strings.Contains(err.Error(), "store create") {
		t.Fatalf("docs list without store: err = %v", err)
	}

	_, errOut, err := runCLI(t, "store", "create", "docs1")
	if err != nil {
		t.Fatalf("store create: %v", err)
	}
	if !strings.Contains(errOut, "Store initialized successfully: docs1") {
		t.Errorf("store create output = %q", errOut)
	}

	if _, _, err := runCLI(t, "docs", "upload", notes); err != nil {
		t.Fatalf("docs upload: %v", err)
	}
	_, _, err = runCLI(t, "docs", "upload", notes)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("duplicate upload: err = %v", err)
	}

	out, _, err := runCLI(t, "docs", "list")
	if err != nil {
		t.Fatalf("docs list: %v", err)
	}
	if !strings.Contains(out, "files/f1") || !strings.Contains(out, "notes.txt") {
		t.Errorf("docs list = %q", out)
	}

	out, errOut, err = runCLI(t, "ask", "How", "long", "is", "the", "warranty?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(out, "The warranty lasts two years.") || !strings.Contains(out, "1. notes.txt") {
		t.Errorf("ask output = %q", out)
	}
	if !strings.Contains(errOut, "Answer found in documents") {
		t.Errorf("ask status = %q", errOut)
	}

	fake.setAnswer(composer.RefusalSentence)
	_, errOut, err = runCLI(t, "ask", "Who is the CEO?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(errOut, "Answer not found in documents") {
		t.Errorf("refusal status = %q", errOut)
	}

	out, _, err = runCLI(t, "history", "count")
	if err != nil {
		t.Fatalf("history count: %v", err)
	}
	if strings.TrimSpace(out) != "2" {
		t.Errorf("history count = %q, want 2", out)
	}

	if _, _, err := runCLI(t, "rate", "--question", "Who is the CEO?", "--score", "2", "--note", "missing"); err != nil {
		t.Fatalf("rate: %v", err)
	}

	log, err := os.ReadFile(cfg.QueryLog.Path)
	if err != nil {
		t.Fatalf("reading query log: %v", err)
	}
	for _, want := range []string{
		"Query: How long is the warranty?",
		"Status: Found",
		"Query: Who is the CEO?",
		"Status: Not Found",
		"RATING SUBMITTED",
		"Note: missing",
	} {
		if !strings.Contains(string(log), want) {
			t.Errorf("query log missing %q", want)
		}
	}

	out, _, err = runCLI(t, "interactions", "--limit", "1")
	if err != nil {
		t.Fatalf("interactions: %v", err)
	}
	if !strings.Contains(out, "Who is the CEO?") || strings.Contains(out, "warranty") {
		t.Errorf("interactions = %q", out)
	}

	if _, _, err := runCLI(t, "docs", "delete", "files/f1"); err != nil {
		t.Fatalf("docs delete: %v", err)
	}
	out, _, _ = runCLI(t, "docs", "list")
	if !strings.Contains(out, "No documents uploaded.") {
		t.Errorf("docs list after delete = %q", out)
	}
}

func TestCLI_BatchUpload(t *testing.T) {
	fake := newFakeGemini(t)
	useTestConfig(t, fake)
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "alpha")
	b := writeFile(t, dir, "b.md", "# beta")

	if _, _, err := runCLI(t, "store", "create"); err != nil {
		t.Fatalf("store create: %v", err)
	}
	_, errOut, err := runCLI(t, "docs", "upload", a, b)
	if err != nil {
		t.Fatalf("batch upload: %v", err)
	}
	if !strings.Contains(errOut, "Uploaded: 2 of 2") {
		t.Errorf("batch output = %q", errOut)
	}

	_, errOut, err = runCLI(t, "docs", "upload", a, b)
	if err == nil || !strings.Contains(err.Error(), "2 of 2 uploads failed") {
		t.Errorf("repeat batch: err = %v", err)
	}
	if !strings.Contains(errOut, "a.txt") {
		t.Errorf("repeat batch output = %q", errOut)
	}
}

func TestCLI_AskNoDocuments(t *testing.T) {
	fake := newFakeGemini(t)
	useTestConfig(t, fake)

	if _, _, err := runCLI(t, "store", "create"); err != nil {
		t.Fatalf("store create: %v", err)
	}
	_, errOut, err := runCLI(t, "ask", "anything?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(errOut, "Answer not found in documents") {
		t.Errorf("ask output = %q", errOut)
	}
	if len(fake.prompts) != 0 {
		t.Errorf("generateContent called with no documents: %v", fake.prompts)
	}
}

func TestCLI_StoreInfoAndDelete(t *testing.T) {
	fake := newFakeGemini(t)
	useTestConfig(t, fake)

	_, errOut, err := runCLI(t, "store", "info")
	if err != nil {
		t.Fatalf("store info: %v", err)
	}
	if !strings.Contains(errOut, "No store configured") {
		t.Errorf("info without store = %q", errOut)
	}

	runCLI(t, "store", "create", "docs1")
	_, errOut, _ = runCLI(t, "store", "info")
	if !strings.Contains(errOut, "Store: docs1") || !strings.Contains(errOut, "Documents: 0") {
		t.Errorf("store info = %q", errOut)
	}

	_, errOut, err = runCLI(t, "store", "delete")
	if err != nil {
		t.Fatalf("store delete without confirm: %v", err)
	}
	if !strings.Contains(errOut, "--confirm") {
		t.Errorf("delete without confirm = %q", errOut)
	}

	if _, _, err := runCLI(t, "store", "delete", "--confirm"); err != nil {
		t.Fatalf("store delete: %v", err)
	}
	_, errOut, _ = runCLI(t, "store", "info")
	if !strings.Contains(errOut, "No store configured") {
		t.Errorf("info after delete = %q", errOut)
	}
}

func TestCLI_ReadyDocuments(t *testing.T) {
	fake := newFakeGemini(t)
	useTestConfig(t, fake)
	t.Cleanup(func() { docsListCmd.Flags().Set("ready", "false") })
	dir := t.TempDir()

	runCLI(t, "store", "create", "docs1")
	if _, _, err := runCLI(t, "docs", "upload", writeFile(t, dir, "a.txt", "alpha"), writeFile(t, dir, "b.txt", "beta")); err != nil {
		t.Fatalf("upload: %v", err)
	}

	fake.mu.Lock()
	for name, file := range fake.files {
		if file.DisplayName == "b.txt" {
			file.State = gemini.StateProcessing
			fake.files[name] = file
		}
	}
	fake.mu.Unlock()

	out, _, err := runCLI(t, "docs", "list", "--ready")
	if err != nil {
		t.Fatalf("docs list --ready: %v", err)
	}
	if !strings.Contains(out, "a.txt") || strings.Contains(out, "b.txt") {
		t.Errorf("ready list = %q, want only a.txt", out)
	}

	out, _, _ = runCLI(t, "docs", "list", "--ready=false")
	if !strings.Contains(out, "a.txt") || !strings.Contains(out, "b.txt") {
		t.Errorf("full list = %q, want both documents", out)
	}

	_, errOut, _ := runCLI(t, "store", "info")
	if !strings.Contains(errOut, "Documents: 2") || !strings.Contains(errOut, "Ready: 1") {
		t.Errorf("store info = %q", errOut)
	}
}

func TestCLI_MissingAPIKey(t *testing.T) {
	fake := newFakeGemini(t)
	cfg := useTestConfig(t, fake)
	cfg.Gemini.APIKey = ""
	loadConfig = func() (config.Config, error) { return cfg, nil }

	_, _, err := runCLI(t, "ask", "q")
	if err == nil || !strings.Contains(err.Error(), "API key") {
		t.Errorf("err = %v", err)
	}
}

// --- apiClient ---

func TestAPIClient_SendsBearerToken(t *testing.T) {
	var gotAuth, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"id":"job-1","status":"queued"}`)
	}))
	defer srv.Close()

	c := &apiClient{baseURL: srv.URL, token: "test-token", httpClient: srv.Client()}
	resp, err := c.post(context.Background(), "/uploads", map[string]string{"display_name": "a.txt"})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result["id"] != "job-1" {
		t.Errorf("id = %q", result["id"])
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotType != "application/json" {
		t.Errorf("content type = %q", gotType)
	}
	if !strings.Contains(gotBody, `"display_name":"a.txt"`) {
		t.Errorf("body = %q", gotBody)
	}
}

func TestDecodeJSON_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"error":{"message":"No store configured","type":"configuration_error"}}`)
	}))
	defer srv.Close()

	c := &apiClient{baseURL: srv.URL, token: "t", httpClient: srv.Client()}
	resp, err := c.get(context.Background(), "/documents")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var v any
	err = decodeJSON(resp, &v)
	if err == nil || !strings.Contains(err.Error(), "409") || !strings.Contains(err.Error(), "No store configured") {
		t.Errorf("err = %v", err)
	}
}

func TestDocsQueue_PostsToServer(t *testing.T) {
	var got []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		got = append(got, body)
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprintf(w, `{"id":"job-%d","status":"queued"}`, len(got))
	}))
	defer srv.Close()

	orig := newAPIClient
	newAPIClient = func() (*apiClient, error) {
		return &apiClient{baseURL: srv.URL, token: "t", httpClient: srv.Client()}, nil
	}
	t.Cleanup(func() { newAPIClient = orig })

	path := writeFile(t, t.TempDir(), "report.md", "# Report")
	_, errOut, err := runCLI(t, "docs", "queue", path)
	if err != nil {
		t.Fatalf("docs queue: %v", err)
	}
	if !strings.Contains(errOut, "Queued report.md as job job-1") {
		t.Errorf("output = %q", errOut)
	}
	if len(got) != 1 || got[0]["display_name"] != "report.md" || got[0]["mime_type"] != "text/markdown" {
		t.Errorf("request = %v", got)
	}
}

func TestRender_NoColor(t *testing.T) {
	orig := noColor
	noColor = true
	defer func() { noColor = orig }()

	if got := render(successStyle, "ok"); got != "ok" {
		t.Errorf("render = %q, want plain text", got)
	}
}
