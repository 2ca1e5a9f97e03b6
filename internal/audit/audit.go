// Package audit records the run tree: runs, steps, chat exchanges and
// function calls, each created at start and sealed at completion.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the record type.
type Kind string

const (
	KindRun          Kind = "run"
	KindStep         Kind = "step"
	KindChat         Kind = "chat"
	KindFunctionCall Kind = "function_call"
)

// Status is the lifecycle state of a record.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ErrNotFound is returned when a record id is unknown.
var ErrNotFound = errors.New("audit record not found")

// Record is one node of the run tree. Input and Output must be
// JSON-serializable.
type Record struct {
	ID         string      `json:"id"`
	Kind       Kind        `json:"kind"`
	ParentID   string      `json:"parent_id,omitempty"`
	RunID      string      `json:"run_id"`
	Name       string      `json:"name,omitempty"`
	Status     Status      `json:"status"`
	Input      interface{} `json:"input,omitempty"`
	Output     interface{} `json:"output,omitempty"`
	Error      string      `json:"error,omitempty"`
	Tokens     int         `json:"tokens,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	EndedAt    time.Time   `json:"ended_at,omitempty"`
	DurationMs int64       `json:"duration_ms,omitempty"`
}

// Seal closes a record.
type Seal struct {
	Status  Status      `json:"status"`
	Output  interface{} `json:"output,omitempty"`
	Error   string      `json:"error,omitempty"`
	Tokens  int         `json:"tokens,omitempty"`
	EndedAt time.Time   `json:"ended_at"`
}

// Store persists audit records. Implementations are safe for concurrent use.
type Store interface {
	// Create stores rec and returns its id. A non-empty ID is kept as given;
	// empty ID, RunID (for runs), Status and StartedAt are filled in.
	Create(ctx context.Context, rec Record) (string, error)
	// Seal closes the record with the given id.
	Seal(ctx context.Context, id string, seal Seal) error
	// Get returns one record.
	Get(ctx context.Context, id string) (*Record, error)
	// Children returns the direct children of parentID in creation order.
	Children(ctx context.Context, parentID string) ([]*Record, error)
	Close() error
}

// NewID returns a fresh record id.
func NewID() string {
	return uuid.NewString()
}

// prepare fills defaults and checks that payloads serialize.
func prepare(rec *Record) error {
	if rec.Kind == "" {
		return fmt.Errorf("audit record has no kind")
	}
	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.Kind == KindRun && rec.RunID == "" {
		rec.RunID = rec.ID
	}
	if rec.Status == "" {
		rec.Status = StatusRunning
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	if _, err := json.Marshal(rec.Input); err != nil {
		return fmt.Errorf("audit input for %s %q is not serializable: %w", rec.Kind, rec.Name, err)
	}
	return nil
}

// apply seals rec in place.
func apply(rec *Record, seal Seal) error {
	if _, err := json.Marshal(seal.Output); err != nil {
		return fmt.Errorf("audit output for %s %q is not serializable: %w", rec.Kind, rec.Name, err)
	}
	if seal.EndedAt.IsZero() {
		seal.EndedAt = time.Now()
	}
	rec.Status = seal.Status
	rec.Output = seal.Output
	rec.Error = seal.Error
	if seal.Tokens != 0 {
		rec.Tokens = seal.Tokens
	}
	rec.EndedAt = seal.EndedAt
	rec.DurationMs = seal.EndedAt.Sub(rec.StartedAt).Milliseconds()
	return nil
}

// Open creates a store for the configured backend: "memory", "file" (a
// directory of JSONL files) or "sqlite" (a database file).
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(path)
	case "sqlite":
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown audit backend %q", backend)
	}
}

// Tree is a record with its descendants, as read back for replay.
type Tree struct {
	*Record
	Children []*Tree `json:"children,omitempty"`
}

// LoadTree reads the record with id and all of its descendants.
func LoadTree(ctx context.Context, s Store, id string) (*Tree, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	node := &Tree{Record: rec}
	children, err := s.Children(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		sub, err := LoadTree(ctx, s, child.ID)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, sub)
	}
	return node, nil
}

func sortByStart(recs []*Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].StartedAt.Before(recs[j].StartedAt)
	})
}
