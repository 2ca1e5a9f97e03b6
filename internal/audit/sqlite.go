package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var tables = map[Kind]string{
	KindRun:          "runs",
	KindStep:         "run_steps",
	KindChat:         "chat",
	KindFunctionCall: "run_function_calls",
}

var tableOrder = []Kind{KindRun, KindStep, KindChat, KindFunctionCall}

const columns = `id, kind, parent_id, run_id, name, status, input, output, error, tokens, started_at, ended_at, duration_ms`

// SQLiteStore stores records in SQLite, one table per record kind.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	var schema strings.Builder
	for _, kind := range tableOrder {
		table := tables[kind]
		fmt.Fprintf(&schema, `
	CREATE TABLE IF NOT EXISTS %[1]s (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		parent_id TEXT,
		run_id TEXT NOT NULL,
		name TEXT,
		status TEXT NOT NULL,
		input TEXT,
		output TEXT,
		error TEXT,
		tokens INTEGER,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		duration_ms INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_parent ON %[1]s(parent_id);
`, table)
	}
	if _, err := s.db.Exec(schema.String()); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, rec Record) (string, error) {
	if err := prepare(&rec); err != nil {
		return "", err
	}
	table, ok := tables[rec.Kind]
	if !ok {
		return "", fmt.Errorf("unknown audit kind %q", rec.Kind)
	}
	input, err := encode(rec.Input)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO `+table+` (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?, NULL, 0)`,
		rec.ID, string(rec.Kind), rec.ParentID, rec.RunID, rec.Name, string(rec.Status),
		input, rec.Error, rec.Tokens, rec.StartedAt.UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to save %s record: %w", rec.Kind, err)
	}
	return rec.ID, nil
}

func (s *SQLiteStore) Seal(ctx context.Context, id string, seal Seal) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := apply(rec, seal); err != nil {
		return err
	}
	output, err := encode(rec.Output)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE `+tables[rec.Kind]+`
		SET status = ?, output = ?, error = ?, tokens = ?, ended_at = ?, duration_ms = ?
		WHERE id = ?`,
		string(rec.Status), output, rec.Error, rec.Tokens, rec.EndedAt.UnixNano(), rec.DurationMs, id)
	if err != nil {
		return fmt.Errorf("failed to seal %s record: %w", rec.Kind, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	for _, kind := range tableOrder {
		row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM `+tables[kind]+` WHERE id = ?`, id)
		rec, err := scan(row)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load record: %w", err)
		}
		return rec, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (s *SQLiteStore) Children(ctx context.Context, parentID string) ([]*Record, error) {
	var out []*Record
	for _, kind := range tableOrder {
		rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM `+tables[kind]+` WHERE parent_id = ? ORDER BY seq`, parentID)
		if err != nil {
			return nil, fmt.Errorf("failed to load children: %w", err)
		}
		for rows.Next() {
			rec, err := scan(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan record: %w", err)
			}
			out = append(out, rec)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	sortByStart(out)
	return out, nil
}

// Runs lists run records, newest first, optionally limited.
func (s *SQLiteStore) Runs(ctx context.Context, limit int) ([]*Record, error) {
	query := `SELECT ` + columns + ` FROM runs ORDER BY seq DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()
	var out []*Record
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scan(row scanner) (*Record, error) {
	var rec Record
	var kind, status string
	var parent, name, input, output, errText sql.NullString
	var tokens, ended, duration sql.NullInt64
	var started int64
	if err := row.Scan(&rec.ID, &kind, &parent, &rec.RunID, &name, &status,
		&input, &output, &errText, &tokens, &started, &ended, &duration); err != nil {
		return nil, err
	}
	rec.Kind = Kind(kind)
	rec.Status = Status(status)
	rec.ParentID = parent.String
	rec.Name = name.String
	rec.Error = errText.String
	rec.Tokens = int(tokens.Int64)
	rec.StartedAt = time.Unix(0, started)
	if ended.Valid {
		rec.EndedAt = time.Unix(0, ended.Int64)
	}
	rec.DurationMs = duration.Int64
	if input.Valid && input.String != "" {
		if err := json.Unmarshal([]byte(input.String), &rec.Input); err != nil {
			return nil, fmt.Errorf("corrupt input for %s: %w", rec.ID, err)
		}
	}
	if output.Valid && output.String != "" {
		if err := json.Unmarshal([]byte(output.String), &rec.Output); err != nil {
			return nil, fmt.Errorf("corrupt output for %s: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

func encode(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("audit payload is not serializable: %w", err)
	}
	return string(data), nil
}
