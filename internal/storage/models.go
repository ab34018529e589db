package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// QueryRecord mirrors one query-log block.
type QueryRecord struct {
	ID          string
	CreatedAt   time.Time
	Question    string
	Answer      string
	Found       bool
	SourcesJSON string // JSON array stored as text
	Model       string
}

// RatingRecord mirrors one rating-log block. QueryID is empty when the
// rating was not tied to a stored query.
type RatingRecord struct {
	ID        string
	QueryID   string
	CreatedAt time.Time
	Question  string
	Answer    string
	Score     int
	Note      string
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
	Result      string
}

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)
