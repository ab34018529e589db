package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kalambet/filerag/internal/registry"
)

const defaultSettle = 750 * time.Millisecond

// DefaultExtensions are the file types queued when none are configured.
var DefaultExtensions = []string{".txt", ".pdf", ".md", ".doc", ".docx"}

// Enqueuer queues a file for background upload.
type Enqueuer interface {
	Enqueue(displayName, mimeType string, content []byte) (string, error)
}

// Watcher queues files created or written in a directory for upload.
// Removals are ignored; the remote file list is authoritative.
type Watcher struct {
	dir        string
	extensions map[string]bool
	queue      Enqueuer
	settle     time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[string]time.Time
}

// New creates a Watcher over dir. Files are queued once no event has been
// seen for them for settle (default 750ms).
func New(dir string, extensions []string, queue Enqueuer, settle time.Duration) *Watcher {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	if settle <= 0 {
		settle = defaultSettle
	}
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}
	return &Watcher{
		dir:        dir,
		extensions: exts,
		queue:      queue,
		settle:     settle,
		logger:     slog.Default(),
		pending:    make(map[string]time.Time),
	}
}

// Watched reports whether path has a watched extension and is not hidden.
func (w *Watcher) Watched(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	return w.extensions[strings.ToLower(filepath.Ext(base))]
}

// ScanExisting queues every watched file already in the directory and
// returns how many were queued.
func (w *Watcher) ScanExisting() (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", w.dir, err)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || !w.Watched(e.Name()) {
			continue
		}
		if err := w.enqueue(filepath.Join(w.dir, e.Name())); err != nil {
			w.logger.Warn("queueing existing file", "file", e.Name(), "error", err)
			continue
		}
		n++
	}
	return n, nil
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.logger.Info("watching directory", "dir", w.dir)

	ticker := time.NewTicker(w.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		case now := <-ticker.C:
			w.flush(now)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !w.Watched(ev.Name) {
		return
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	w.mu.Lock()
	w.pending[ev.Name] = time.Now()
	w.mu.Unlock()
}

// flush queues files whose last event is at least settle old.
func (w *Watcher) flush(now time.Time) {
	var ready []string
	w.mu.Lock()
	for path, last := range w.pending {
		if now.Sub(last) >= w.settle {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		if err := w.enqueue(path); err != nil {
			w.logger.Warn("queueing file", "file", path, "error", err)
		}
	}
}

func (w *Watcher) enqueue(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}
	name := filepath.Base(path)
	id, err := w.queue.Enqueue(name, registry.DetectMIMEType(name, content), content)
	if err != nil {
		return fmt.Errorf("enqueueing: %w", err)
	}
	w.logger.Info("file queued for upload", "file", name, "job_id", id)
	return nil
}
