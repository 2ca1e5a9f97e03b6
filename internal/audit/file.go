package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// JSONL line types.
const (
	lineHeader = "header" // the run record, first line
	lineRecord = "record" // a step, chat or function-call record
	lineSeal   = "seal"   // a seal for any record in the run
	lineFooter = "footer" // the run's own seal, last line
)

type line struct {
	Type string  `json:"_type"`
	ID   string  `json:"seal_id,omitempty"`
	Rec  *Record `json:"record,omitempty"`
	Seal *Seal   `json:"seal,omitempty"`
}

// FileStore appends each run's records to <dir>/<run-id>.jsonl.
type FileStore struct {
	dir string

	mu    sync.Mutex
	runOf map[string]string // record id -> run id
}

// NewFileStore creates a JSONL store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file audit store needs a directory")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	return &FileStore{dir: dir, runOf: make(map[string]string)}, nil
}

func (s *FileStore) path(runID string) string {
	return filepath.Join(s.dir, runID+".jsonl")
}

func (s *FileStore) Create(ctx context.Context, rec Record) (string, error) {
	if err := prepare(&rec); err != nil {
		return "", err
	}
	if rec.RunID == "" {
		return "", fmt.Errorf("audit %s record %q has no run id", rec.Kind, rec.Name)
	}
	typ := lineRecord
	if rec.Kind == KindRun {
		typ = lineHeader
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.append(rec.RunID, line{Type: typ, Rec: &rec}); err != nil {
		return "", err
	}
	s.runOf[rec.ID] = rec.RunID
	return rec.ID, nil
}

func (s *FileStore) Seal(ctx context.Context, id string, seal Seal) error {
	if _, err := json.Marshal(seal.Output); err != nil {
		return fmt.Errorf("audit output for %s is not serializable: %w", id, err)
	}
	if seal.EndedAt.IsZero() {
		seal.EndedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	runID, err := s.lookup(id)
	if err != nil {
		return err
	}
	typ := lineSeal
	if id == runID {
		typ = lineFooter
	}
	return s.append(runID, line{Type: typ, ID: id, Seal: &seal})
}

func (s *FileStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	runID, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	recs, _, err := s.load(runID)
	if err != nil {
		return nil, err
	}
	rec, ok := recs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, nil
}

func (s *FileStore) Children(ctx context.Context, parentID string) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	runID, err := s.lookup(parentID)
	if err != nil {
		return nil, err
	}
	recs, order, err := s.load(runID)
	if err != nil {
		return nil, err
	}
	var out []*Record
	for _, id := range order {
		if recs[id].ParentID == parentID {
			out = append(out, recs[id])
		}
	}
	return out, nil
}

// RunIDs lists the runs stored in the directory, sorted.
func (s *FileStore) RunIDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jsonl") {
			ids = append(ids, strings.TrimSuffix(e.Name(), ".jsonl"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) append(runID string, l line) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("failed to marshal audit line: %w", err)
	}
	f, err := os.OpenFile(s.path(runID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit line: %w", err)
	}
	return nil
}

// lookup finds the run file that holds id. Records written by another
// process are found by scanning the directory. Callers hold s.mu.
func (s *FileStore) lookup(id string) (string, error) {
	if runID, ok := s.runOf[id]; ok {
		return runID, nil
	}
	if _, err := os.Stat(s.path(id)); err == nil {
		s.runOf[id] = id
		return id, nil
	}
	runIDs, err := s.RunIDs()
	if err != nil {
		return "", err
	}
	for _, runID := range runIDs {
		recs, _, err := s.load(runID)
		if err != nil {
			continue
		}
		if _, ok := recs[id]; ok {
			for rid := range recs {
				s.runOf[rid] = runID
			}
			return runID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, id)
}

// load replays a run file. No line length limit applies.
func (s *FileStore) load(runID string) (map[string]*Record, []string, error) {
	f, err := os.Open(s.path(runID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: run %s", ErrNotFound, runID)
		}
		return nil, nil, err
	}
	defer f.Close()

	recs := make(map[string]*Record)
	var order []string
	reader := bufio.NewReader(f)
	for {
		raw, readErr := reader.ReadBytes('\n')
		if readErr != nil && readErr != io.EOF {
			return nil, nil, fmt.Errorf("error reading audit file: %w", readErr)
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 {
			var l line
			if err := json.Unmarshal(raw, &l); err != nil {
				return nil, nil, fmt.Errorf("failed to parse audit line: %w", err)
			}
			switch l.Type {
			case lineHeader, lineRecord:
				if l.Rec != nil {
					recs[l.Rec.ID] = l.Rec
					order = append(order, l.Rec.ID)
				}
			case lineSeal, lineFooter:
				if rec, ok := recs[l.ID]; ok && l.Seal != nil {
					if err := apply(rec, *l.Seal); err != nil {
						return nil, nil, err
					}
				}
			}
		}
		if readErr == io.EOF {
			break
		}
	}
	return recs, order, nil
}
