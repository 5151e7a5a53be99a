package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Record is one campaign record stored as JSON.
type Record struct {
	Kind      string
	ID        string
	Body      []byte
	UpdatedAt time.Time
}

// Blob is binary content served back under its URL.
type Blob struct {
	ID          string
	Kind        string
	ContentType string
	Data        []byte
	CreatedAt   time.Time
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
}
