package querylog

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// NoHistory is returned by ReadAll when the log file does not exist.
	NoHistory = "No query history available"

	queryMarker        = "Query: "
	excerptLimit       = 100
	continuationIndent = "  "
	timestampForm      = time.RFC3339
)

var (
	queryRule  = strings.Repeat("=", 80)
	ratingRule = strings.Repeat("*", 80)
)

// ErrInvalidScore is returned for ratings outside 1..5.
var ErrInvalidScore = errors.New("rating score must be between 1 and 5")

// Log is an append-only plain-text transcript of queries and ratings.
// Each entry is rendered in full and written with one append.
type Log struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// New returns a Log writing to path. The file is created on first use.
func New(path string) *Log {
	return &Log{path: path, now: time.Now}
}

// Path returns the log file location.
func (l *Log) Path() string {
	return l.path
}

// Ensure creates the log with its header if it does not exist yet.
func (l *Log) Ensure() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(nil)
}

// Append writes a query block.
func (l *Log) Append(rec Record) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}

	var buf bytes.Buffer
	buf.WriteString("\n" + queryRule + "\n")
	fmt.Fprintf(&buf, "Timestamp: %s\n", formatTime(ts))
	fmt.Fprintf(&buf, "%s%s\n", queryMarker, field(rec.Question))
	fmt.Fprintf(&buf, "\nAnswer: %s\n", field(rec.Answer))

	if len(rec.Attributions) > 0 {
		buf.WriteString("\nSources:\n")
		for i, a := range rec.Attributions {
			name := a.DocumentName
			if name == "" {
				name = "Unknown"
			}
			fmt.Fprintf(&buf, "  %d. Document: %s\n", i+1, field(name))
			if a.Excerpt != "" {
				fmt.Fprintf(&buf, "     Chunk: %s...\n", field(truncate(a.Excerpt, excerptLimit)))
			}
		}
	} else {
		buf.WriteString("\nSources: No sources found\n")
	}

	status := "Not Found"
	if rec.Found {
		status = "Found"
	}
	fmt.Fprintf(&buf, "Status: %s\n", status)
	buf.WriteString(queryRule + "\n\n")

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(buf.Bytes())
}

// AppendRating writes a rating block.
func (l *Log) AppendRating(r Rating) error {
	if r.Score < 1 || r.Score > 5 {
		return fmt.Errorf("%w: got %d", ErrInvalidScore, r.Score)
	}
	ts := r.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}

	var buf bytes.Buffer
	buf.WriteString("\n" + ratingRule + "\n")
	fmt.Fprintf(&buf, "RATING SUBMITTED: %s\n", formatTime(ts))
	fmt.Fprintf(&buf, "Question: %s\n", field(r.Question))
	fmt.Fprintf(&buf, "Rating: %s (%d/5)\n", strings.Repeat("⭐", r.Score), r.Score)
	if r.Note != "" {
		fmt.Fprintf(&buf, "Note: %s\n", field(r.Note))
	}
	buf.WriteString(ratingRule + "\n\n")

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(buf.Bytes())
}

// ReadAll returns the whole log, or NoHistory if it has not been created.
func (l *Log) ReadAll() (string, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return NoHistory, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading query log: %w", err)
	}
	return string(data), nil
}

// CountQueries counts lines that begin with the query marker. Rating blocks
// use "Question: " and are never counted.
func (l *Log) CountQueries() (int, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("opening query log: %w", err)
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), queryMarker) {
			n++
		}
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("scanning query log: %w", err)
	}
	return n, nil
}

// Reset truncates the log and writes a fresh header marked as cleared.
func (l *Log) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}
	if err := os.WriteFile(l.path, l.header("Cleared"), 0o644); err != nil {
		return fmt.Errorf("resetting query log: %w", err)
	}
	return nil
}

// appendLocked writes block with a single O_APPEND write, prefixing the
// header when the file is new. Callers must hold l.mu.
func (l *Log) appendLocked(block []byte) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}

	var out []byte
	if _, err := os.Stat(l.path); errors.Is(err, fs.ErrNotExist) {
		out = append(out, l.header("Created")...)
	}
	out = append(out, block...)
	if len(out) == 0 {
		return nil
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening query log: %w", err)
	}
	if _, err := f.Write(out); err != nil {
		f.Close()
		return fmt.Errorf("writing query log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing query log: %w", err)
	}
	return nil
}

func (l *Log) header(verb string) []byte {
	return []byte(fmt.Sprintf("# FileRAG Query History\n# %s: %s\n%s\n\n", verb, formatTime(l.now()), queryRule))
}

func formatTime(t time.Time) string {
	return t.Format(timestampForm)
}

// field indents every continuation line of a free-text value so that no
// line inside a block can start with a marker or a rule.
func field(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\n"+continuationIndent)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
