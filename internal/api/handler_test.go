package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/filerag/internal/ingest"
	"github.com/kalambet/filerag/internal/pipeline"
	"github.com/kalambet/filerag/internal/querylog"
	"github.com/kalambet/filerag/internal/registry"
	"github.com/kalambet/filerag/internal/remote"
	"github.com/kalambet/filerag/internal/storage"
	"github.com/kalambet/filerag/internal/store"
)

const testToken = "test-token-12345"

// --- mocks ---

type mockStore struct {
	exists  bool
	name    string
	created []string
	deleted int
}

func (m *mockStore) Exists() bool { return m.exists }

func (m *mockStore) Create(name string) store.Result {
	if m.exists {
		return store.Result{Message: "Store already exists", Name: m.name}
	}
	m.exists, m.name = true, name
	m.created = append(m.created, name)
	return store.Result{Success: true, Message: "Store initialized successfully", Name: name}
}

func (m *mockStore) Info(context.Context) store.Info {
	if !m.exists {
		return store.Info{Message: "No store configured"}
	}
	return store.Info{Exists: true, Name: m.name}
}

func (m *mockStore) Delete(context.Context) store.Result {
	if !m.exists {
		return store.Result{Message: "No store to delete"}
	}
	m.exists = false
	m.deleted++
	return store.Result{Success: true, Message: "Store deleted successfully"}
}

type mockRegistry struct {
	mu      sync.Mutex
	docs    []remote.DocumentHandle
	listErr error
	uploads []string
	result  *registry.Result
}

func (m *mockRegistry) ListDocuments(context.Context) ([]remote.DocumentHandle, error) {
	return m.docs, m.listErr
}

func (m *mockRegistry) ReadyDocuments(context.Context) []remote.DocumentHandle {
	var ready []remote.DocumentHandle
	for _, d := range m.docs {
		if d.Ready() {
			ready = append(ready, d)
		}
	}
	return ready
}

func (m *mockRegistry) UploadDocument(_ context.Context, content []byte, name, mimeType string) registry.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads = append(m.uploads, name)
	if m.result != nil {
		return *m.result
	}
	for _, d := range m.docs {
		if d.DisplayName == name {
			return registry.Result{Duplicate: true, Message: fmt.Sprintf("Document %q already exists. Please delete it first or rename the file.", name), Err: registry.ErrDuplicateDocument}
		}
	}
	h := remote.DocumentHandle{ID: "files/" + name, DisplayName: name, State: remote.StateActive}
	m.docs = append(m.docs, h)
	return registry.Result{Success: true, Message: fmt.Sprintf("Document %q uploaded successfully", name), Document: &h}
}

func (m *mockRegistry) BatchUpload(ctx context.Context, items []registry.Item) registry.BatchResult {
	out := registry.BatchResult{Total: len(items)}
	for _, it := range items {
		res := m.UploadDocument(ctx, it.Content, it.DisplayName, it.MIMEType)
		if res.Success {
			out.Successful++
		} else {
			out.Failed++
		}
		out.Details = append(out.Details, registry.BatchDetail{File: it.DisplayName, Success: res.Success, Message: res.Message})
	}
	return out
}

func (m *mockRegistry) DeleteDocument(_ context.Context, id string) registry.Result {
	for i, d := range m.docs {
		if d.ID == id || d.ID == "files/"+id {
			m.docs = append(m.docs[:i], m.docs[i+1:]...)
			return registry.Result{Success: true, Message: "Document deleted successfully"}
		}
	}
	return registry.Result{Message: "Failed to delete document: not found", Err: remote.ErrNotFound}
}

type mockAsker struct {
	log       *querylog.Log
	questions []string
	ratings   []querylog.Rating
}

func (m *mockAsker) Query(_ context.Context, q string) pipeline.Response {
	m.questions = append(m.questions, q)
	resp := pipeline.Response{
		ID:           "q-1",
		Question:     q,
		Answer:       "The answer is 42.",
		Attributions: []querylog.Attribution{{DocumentName: "notes.txt", DocumentID: "files/notes"}},
		Found:        true,
		Timestamp:    time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	if m.log != nil {
		m.log.Append(querylog.Record{ID: resp.ID, Timestamp: resp.Timestamp, Question: q, Answer: resp.Answer, Attributions: resp.Attributions, Found: true})
	}
	return resp
}

func (m *mockAsker) SaveRating(r querylog.Rating) error {
	if m.log != nil {
		if err := m.log.AppendRating(r); err != nil {
			return err
		}
	}
	m.ratings = append(m.ratings, r)
	return nil
}

// --- helpers ---

type testEnv struct {
	handler  http.Handler
	store    *mockStore
	registry *mockRegistry
	asker    *mockAsker
	log      *querylog.Log
	history  *storage.Store
}

func setupAppHandler(t *testing.T) *testEnv {
	t.Helper()
	history, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { history.Close() })

	log := querylog.New(filepath.Join(t.TempDir(), "query_history.txt"))
	env := &testEnv{
		store:    &mockStore{exists: true, name: "docs1"},
		registry: &mockRegistry{},
		asker:    &mockAsker{log: log},
		log:      log,
		history:  history,
	}
	env.handler = NewAppHandler(AppDeps{
		Store:    env.store,
		Registry: env.registry,
		Pipeline: env.asker,
		Log:      log,
		History:  history,
		Queue:    ingest.NewQueue(history),
		Token:    testToken,
	})
	return env
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func (e *testEnv) do(method, url, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, authReq(method, url, body, testToken))
	return rr
}

func docBody(name, content string) string {
	return fmt.Sprintf(`{"display_name":%q,"content_b64":%q}`, name, base64.StdEncoding.EncodeToString([]byte(content)))
}

// --- tests ---

func TestHealth_NoAuth(t *testing.T) {
	env := setupAppHandler(t)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, authReq(http.MethodGet, "/health", "", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestNewAppHandler_RequiresHistory(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewAppHandler without History should panic")
		}
	}()
	NewAppHandler(AppDeps{
		Store:    &mockStore{exists: true},
		Registry: &mockRegistry{},
		Log:      querylog.New(filepath.Join(t.TempDir(), "query_history.txt")),
		Token:    testToken,
	})
}

func TestClearHistory_RemovesStoredQueries(t *testing.T) {
	env := setupAppHandler(t)
	if err := env.history.SaveQuery(storage.QueryRecord{ID: "q1", CreatedAt: time.Now(), Question: "q", Answer: "a"}); err != nil {
		t.Fatalf("SaveQuery: %v", err)
	}
	if n, _ := env.history.CountStoredQueries(); n != 1 {
		t.Fatalf("stored queries before clear = %d, want 1", n)
	}

	if rr := env.do(http.MethodDelete, "/history", ""); rr.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rr.Code)
	}
	rr := env.do(http.MethodGet, "/interactions", "")
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("interactions after clear = %s, want []", got)
	}
}

func TestAuth_Required(t *testing.T) {
	env := setupAppHandler(t)

	for _, token := range []string{"", "wrong-token"} {
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, authReq(http.MethodGet, "/documents", "", token))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", token, rr.Code)
		}
	}
}

func TestStore_CreateInfoDelete(t *testing.T) {
	env := setupAppHandler(t)
	env.store.exists = false

	rr := env.do(http.MethodPost, "/store", `{"name":"docs1"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d; body = %s", rr.Code, rr.Body.String())
	}
	rr = env.do(http.MethodPost, "/store", `{"name":"other"}`)
	if rr.Code != http.StatusConflict {
		t.Errorf("second create status = %d, want 409", rr.Code)
	}

	rr = env.do(http.MethodGet, "/store", "")
	var info store.Info
	json.NewDecoder(rr.Body).Decode(&info)
	if !info.Exists || info.Name != "docs1" {
		t.Errorf("info = %+v", info)
	}

	if rr := env.do(http.MethodDelete, "/store", ""); rr.Code != http.StatusOK {
		t.Errorf("delete status = %d", rr.Code)
	}
	if rr := env.do(http.MethodDelete, "/store", ""); rr.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rr.Code)
	}
}

func TestDocuments_RequireStore(t *testing.T) {
	env := setupAppHandler(t)
	env.store.exists = false

	for _, tc := range []struct{ method, url, body string }{
		{http.MethodGet, "/documents", ""},
		{http.MethodPost, "/documents", docBody("a.txt", "a")},
		{http.MethodPost, "/query", `{"question":"q"}`},
	} {
		rr := env.do(tc.method, tc.url, tc.body)
		if rr.Code != http.StatusConflict {
			t.Errorf("%s %s: status = %d, want 409", tc.method, tc.url, rr.Code)
		}
	}
	if len(env.asker.questions) != 0 || len(env.registry.uploads) != 0 {
		t.Error("no work should happen without a store")
	}
}

func TestDocuments_UploadAndDuplicate(t *testing.T) {
	env := setupAppHandler(t)

	rr := env.do(http.MethodPost, "/documents", docBody("notes.txt", "hello"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var res registry.Result
	json.NewDecoder(rr.Body).Decode(&res)
	if !res.Success || res.Document == nil || res.Document.ID != "files/notes.txt" {
		t.Errorf("result = %+v", res)
	}

	rr = env.do(http.MethodPost, "/documents", docBody("notes.txt", "hello"))
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", rr.Code)
	}
	json.NewDecoder(rr.Body).Decode(&res)
	if !strings.Contains(res.Message, "already exists") {
		t.Errorf("message = %q", res.Message)
	}
}

func TestDocuments_UploadValidation(t *testing.T) {
	env := setupAppHandler(t)

	for _, body := range []string{
		`not json`,
		`{"content_b64":"aGVsbG8="}`,
		`{"display_name":"a.txt","content_b64":"!!!"}`,
		`{"display_name":"a.txt","content_b64":""}`,
	} {
		if rr := env.do(http.MethodPost, "/documents", body); rr.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rr.Code)
		}
	}
}

func TestDocuments_UploadFailure(t *testing.T) {
	env := setupAppHandler(t)
	env.registry.result = &registry.Result{Message: "Failed to upload document: upload failed", Err: remote.ErrUploadFailed}

	if rr := env.do(http.MethodPost, "/documents", docBody("a.txt", "a")); rr.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rr.Code)
	}
}

func TestDocuments_ListAndDelete(t *testing.T) {
	env := setupAppHandler(t)
	env.registry.docs = []remote.DocumentHandle{{ID: "files/abc", DisplayName: "a.txt", State: remote.StateActive}}

	rr := env.do(http.MethodGet, "/documents", "")
	var docs []remote.DocumentHandle
	json.NewDecoder(rr.Body).Decode(&docs)
	if len(docs) != 1 || docs[0].DisplayName != "a.txt" {
		t.Fatalf("docs = %+v", docs)
	}

	if rr := env.do(http.MethodDelete, "/documents/abc", ""); rr.Code != http.StatusOK {
		t.Errorf("delete status = %d", rr.Code)
	}
	if rr := env.do(http.MethodDelete, "/documents/abc", ""); rr.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rr.Code)
	}
}

func TestDocuments_ListReadyOnly(t *testing.T) {
	env := setupAppHandler(t)
	env.registry.docs = []remote.DocumentHandle{
		{ID: "files/a", DisplayName: "a.txt", State: remote.StateActive},
		{ID: "files/b", DisplayName: "b.txt", State: remote.StateProcessing},
	}

	rr := env.do(http.MethodGet, "/documents?ready=true", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var docs []remote.DocumentHandle
	json.NewDecoder(rr.Body).Decode(&docs)
	if len(docs) != 1 || docs[0].ID != "files/a" {
		t.Errorf("ready docs = %+v, want only files/a", docs)
	}

	env.registry.docs = env.registry.docs[1:]
	rr = env.do(http.MethodGet, "/documents?ready=true", "")
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("body with nothing ready = %s, want []", got)
	}
}

func TestDocuments_ListEmptyIsArray(t *testing.T) {
	env := setupAppHandler(t)
	rr := env.do(http.MethodGet, "/documents", "")
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

func TestDocuments_Batch(t *testing.T) {
	env := setupAppHandler(t)
	env.registry.docs = []remote.DocumentHandle{{ID: "files/b", DisplayName: "b.txt"}}

	body := fmt.Sprintf(`{"documents":[%s,%s]}`, docBody("a.txt", "a"), docBody("b.txt", "b"))
	rr := env.do(http.MethodPost, "/documents/batch", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var res registry.BatchResult
	json.NewDecoder(rr.Body).Decode(&res)
	if res.Total != 2 || res.Successful != 1 || res.Failed != 1 {
		t.Errorf("batch = %+v", res)
	}
	if res.Details[0].File != "a.txt" || res.Details[1].File != "b.txt" {
		t.Errorf("details order = %+v", res.Details)
	}

	if rr := env.do(http.MethodPost, "/documents/batch", `{"documents":[]}`); rr.Code != http.StatusBadRequest {
		t.Errorf("empty batch status = %d, want 400", rr.Code)
	}
}

func TestUploads_QueueAndStatus(t *testing.T) {
	env := setupAppHandler(t)

	rr := env.do(http.MethodPost, "/uploads", docBody("notes.txt", "hello"))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var queued map[string]string
	json.NewDecoder(rr.Body).Decode(&queued)
	if queued["status"] != "queued" || queued["id"] == "" {
		t.Fatalf("response = %v", queued)
	}

	rr = env.do(http.MethodGet, "/uploads/"+queued["id"], "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status lookup = %d", rr.Code)
	}
	var st uploadStatusResponse
	json.NewDecoder(rr.Body).Decode(&st)
	if st.Status != storage.JobPending {
		t.Errorf("status = %q, want pending", st.Status)
	}

	if rr := env.do(http.MethodGet, "/uploads/missing", ""); rr.Code != http.StatusNotFound {
		t.Errorf("missing upload status = %d, want 404", rr.Code)
	}
}

func TestQuery(t *testing.T) {
	env := setupAppHandler(t)

	rr := env.do(http.MethodPost, "/query", `{"question":"What is the answer?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var resp pipeline.Response
	json.NewDecoder(rr.Body).Decode(&resp)
	if !resp.Found || resp.Answer != "The answer is 42." || len(resp.Attributions) != 1 {
		t.Errorf("response = %+v", resp)
	}

	if rr := env.do(http.MethodPost, "/query", `{"question":"   "}`); rr.Code != http.StatusBadRequest {
		t.Errorf("blank question status = %d, want 400", rr.Code)
	}
}

func TestRatings(t *testing.T) {
	env := setupAppHandler(t)

	rr := env.do(http.MethodPost, "/ratings", `{"question":"q","answer":"a","score":4,"note":"good"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if len(env.asker.ratings) != 1 || env.asker.ratings[0].Score != 4 || env.asker.ratings[0].ID == "" {
		t.Errorf("ratings = %+v", env.asker.ratings)
	}

	if rr := env.do(http.MethodPost, "/ratings", `{"question":"q","score":9}`); rr.Code != http.StatusBadRequest {
		t.Errorf("bad score status = %d, want 400", rr.Code)
	}
	if rr := env.do(http.MethodPost, "/ratings", `{"score":3}`); rr.Code != http.StatusBadRequest {
		t.Errorf("missing question status = %d, want 400", rr.Code)
	}
}

func TestHistory_ShowCountClear(t *testing.T) {
	env := setupAppHandler(t)

	rr := env.do(http.MethodGet, "/history", "")
	if rr.Body.String() != querylog.NoHistory {
		t.Errorf("empty history = %q", rr.Body.String())
	}

	env.do(http.MethodPost, "/query", `{"question":"first?"}`)
	env.do(http.MethodPost, "/query", `{"question":"second?"}`)
	env.do(http.MethodPost, "/ratings", `{"question":"first?","score":5}`)

	rr = env.do(http.MethodGet, "/history", "")
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "Query: second?") {
		t.Errorf("history missing query:\n%s", rr.Body.String())
	}

	rr = env.do(http.MethodGet, "/history/count", "")
	var count map[string]int
	json.NewDecoder(rr.Body).Decode(&count)
	if count["count"] != 2 {
		t.Errorf("count = %d, want 2", count["count"])
	}

	if rr := env.do(http.MethodDelete, "/history", ""); rr.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rr.Code)
	}
	rr = env.do(http.MethodGet, "/history/count", "")
	json.NewDecoder(rr.Body).Decode(&count)
	if count["count"] != 0 {
		t.Errorf("count after clear = %d, want 0", count["count"])
	}
}

func TestInteractions(t *testing.T) {
	env := setupAppHandler(t)
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := env.history.SaveQuery(storage.QueryRecord{
			ID:          fmt.Sprintf("q%d", i),
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
			Question:    fmt.Sprintf("question %d", i),
			Answer:      "answer",
			Found:       i%2 == 0,
			SourcesJSON: `[{"document":"a.txt","document_id":"files/a"}]`,
		}); err != nil {
			t.Fatal(err)
		}
	}

	rr := env.do(http.MethodGet, "/interactions?limit=2", "")
	var out []interaction
	json.NewDecoder(rr.Body).Decode(&out)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if out[0].ID != "q2" || out[0].Sources[0].DocumentName != "a.txt" {
		t.Errorf("first = %+v", out[0])
	}

	rr = env.do(http.MethodGet, "/interactions?limit=2&offset=2", "")
	json.NewDecoder(rr.Body).Decode(&out)
	if len(out) != 1 || out[0].ID != "q0" {
		t.Errorf("page 2 = %+v", out)
	}
}
