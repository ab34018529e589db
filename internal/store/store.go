package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/filerag/internal/remote"
)

// DefaultName is used when Create is called with an empty name.
const DefaultName = "filerag_store"

const (
	configFile      = "config.json"
	deleteWorkers   = 4
	timestampLayout = time.RFC3339
)

// ErrStoreNotConfigured is returned by callers that require a store before
// any has been created.
var ErrStoreNotConfigured = errors.New("no store configured")

// RemoteFiles is the part of the remote adapter the store needs.
type RemoteFiles interface {
	List(ctx context.Context) ([]remote.DocumentHandle, error)
	Delete(ctx context.Context, id string) error
}

// Record is the persisted store configuration.
type Record struct {
	Initialized bool    `json:"store_initialized"`
	Name        *string `json:"store_name"`
	CreatedAt   *string `json:"created_at"`
}

// Result is the outcome of Create or Delete.
type Result struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Name      string `json:"store_name,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	Deleted   int    `json:"deleted,omitempty"`
}

// Info describes the configured store.
type Info struct {
	Exists        bool   `json:"exists"`
	Name          string `json:"store_name,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
	DocumentCount int    `json:"document_count"`
	Message       string `json:"message,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Manager owns the single store record in a data directory.
type Manager struct {
	path  string
	files RemoteFiles
	mu    sync.Mutex
	rec   Record
	// deleting is set while Delete runs the remote cascade without mu.
	deleting bool
	now      func() time.Time
	logger   *slog.Logger
}

// Open loads the store record from dataDir. A missing or unreadable record
// is treated as "no store".
func Open(dataDir string, files RemoteFiles) *Manager {
	m := &Manager{
		path:   filepath.Join(dataDir, configFile),
		files:  files,
		now:    time.Now,
		logger: slog.Default(),
	}
	rec, err := load(m.path)
	if err != nil {
		m.logger.Warn("loading store config", "path", m.path, "error", err)
	}
	m.rec = rec
	return m
}

func load(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("reading store config: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("parsing store config: %w", err)
	}
	return rec, nil
}

func (m *Manager) save(rec Record) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling store config: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing store config: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("replacing store config: %w", err)
	}
	m.rec = rec
	return nil
}

// Path returns the location of the store record.
func (m *Manager) Path() string {
	return m.path
}

// Exists reports whether a store has been created.
func (m *Manager) Exists() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec.Initialized
}

// Name returns the store name, or "" if none is configured.
func (m *Manager) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return deref(m.rec.Name)
}

// Require returns ErrStoreNotConfigured if no store exists.
func (m *Manager) Require() error {
	if !m.Exists() {
		return ErrStoreNotConfigured
	}
	return nil
}

// Create initializes the store. It refuses if one already exists.
func (m *Manager) Create(name string) Result {
	if name == "" {
		name = DefaultName
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rec.Initialized {
		return Result{Message: "Store already exists", Name: deref(m.rec.Name)}
	}

	created := m.now().Format(timestampLayout)
	if err := m.save(Record{Initialized: true, Name: &name, CreatedAt: &created}); err != nil {
		return Result{Message: fmt.Sprintf("Failed to initialize store: %v", err)}
	}
	m.logger.Info("store created", "name", name)
	return Result{
		Success:   true,
		Message:   "Store initialized successfully",
		Name:      name,
		CreatedAt: created,
	}
}

// Info reports the store record and the current remote document count.
func (m *Manager) Info(ctx context.Context) Info {
	m.mu.Lock()
	rec := m.rec
	m.mu.Unlock()

	if !rec.Initialized {
		return Info{Message: "No store configured"}
	}

	info := Info{
		Exists:    true,
		Name:      orUnknown(rec.Name),
		CreatedAt: orUnknown(rec.CreatedAt),
	}
	docs, err := m.files.List(ctx)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	info.DocumentCount = len(docs)
	return info
}

// Delete removes every remote document and resets the record. Individual
// delete failures, and a failure to list, do not stop the reset. The store
// stays visible to Exists while the remote documents are removed.
func (m *Manager) Delete(ctx context.Context) Result {
	m.mu.Lock()
	if !m.rec.Initialized {
		m.mu.Unlock()
		return Result{Message: "No store to delete"}
	}
	if m.deleting {
		m.mu.Unlock()
		return Result{Message: "Store deletion already in progress"}
	}
	m.deleting = true
	m.mu.Unlock()

	deleted := m.deleteAll(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleting = false
	if err := m.save(Record{}); err != nil {
		return Result{Message: fmt.Sprintf("Failed to delete store: %v", err)}
	}
	m.logger.Info("store deleted", "documents_deleted", deleted)
	return Result{Success: true, Message: "Store deleted successfully", Deleted: deleted}
}

func (m *Manager) deleteAll(ctx context.Context) int {
	docs, err := m.files.List(ctx)
	if err != nil {
		m.logger.Warn("listing documents for store delete", "error", err)
		return 0
	}

	var (
		mu      sync.Mutex
		deleted int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(deleteWorkers)
	for _, d := range docs {
		g.Go(func() error {
			if err := m.files.Delete(gctx, d.ID); err != nil {
				m.logger.Warn("deleting document", "id", d.ID, "error", err)
				return nil
			}
			mu.Lock()
			deleted++
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return deleted
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func orUnknown(s *string) string {
	if s == nil || *s == "" {
		return "Unknown"
	}
	return *s
}
