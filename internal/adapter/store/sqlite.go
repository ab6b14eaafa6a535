package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"localagent/internal/domain"
)

// SQLiteTaskStore implements domain.TaskStore using SQLite. It is a
// write-through mirror of controller task records.
type SQLiteTaskStore struct {
	db *sql.DB
}

var _ domain.TaskStore = (*SQLiteTaskStore)(nil)

// NewSQLiteTaskStore opens (or creates) a SQLite database at dbPath
// and runs the schema migration.
func NewSQLiteTaskStore(dbPath string) (*SQLiteTaskStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("%w: create store dir: %w", domain.ErrStore, err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open task db: %w", domain.ErrStore, err)
	}
	// One writer; also keeps ":memory:" on a single database.
	db.SetMaxOpenConns(1)

	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: set WAL mode: %w", domain.ErrStore, err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate task db: %w", domain.ErrStore, err)
	}
	return &SQLiteTaskStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id         TEXT PRIMARY KEY,
			type       TEXT NOT NULL,
			content    TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL,
			metadata   TEXT NOT NULL DEFAULT '{}',
			plan       TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			result     TEXT,
			error      TEXT NOT NULL DEFAULT ''
		)
	`); err != nil {
		return err
	}
	_, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at)")
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteTaskStore) Close() error {
	return s.db.Close()
}

// Save inserts rec or replaces the stored copy with the same id.
func (s *SQLiteTaskStore) Save(ctx context.Context, rec *domain.TaskRecord) error {
	if rec == nil || rec.ID == "" {
		return domain.NewDomainError("SQLiteTaskStore.Save", domain.ErrInvalidInput, "record id is required")
	}
	meta, err := json.Marshal(nonNilMap(rec.Task.Metadata))
	if err != nil {
		return fmt.Errorf("%w: marshal task metadata: %w", domain.ErrStore, err)
	}
	plan, err := nullableJSON(rec.Plan)
	if err != nil {
		return fmt.Errorf("%w: marshal task plan: %w", domain.ErrStore, err)
	}
	result, err := nullableJSON(rec.Result)
	if err != nil {
		return fmt.Errorf("%w: marshal task result: %w", domain.ErrStore, err)
	}

	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, type, content, status, metadata, plan, created_at, updated_at, result, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			content = excluded.content,
			status = excluded.status,
			metadata = excluded.metadata,
			plan = excluded.plan,
			updated_at = excluded.updated_at,
			result = excluded.result,
			error = excluded.error`,
		rec.ID, rec.Task.Type, rec.Task.Content, string(rec.Status), string(meta), plan,
		formatTime(rec.CreatedAt), formatTime(updated), result, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("%w: save task %s: %w", domain.ErrStore, rec.ID, err)
	}
	return nil
}

// Get returns the stored record for id.
func (s *SQLiteTaskStore) Get(ctx context.Context, id string) (*domain.TaskRecord, error) {
	row := s.db.QueryRowContext(ctx, selectTasks+" WHERE id = ?", id)
	rec, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewSubSystemError("task", "SQLiteTaskStore.Get", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get task %s: %w", domain.ErrStore, id, err)
	}
	return rec, nil
}

// List returns up to limit records, newest first. limit <= 0 returns all.
func (s *SQLiteTaskStore) List(ctx context.Context, limit int) ([]domain.TaskRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, selectTasks+" ORDER BY created_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list tasks: %w", domain.ErrStore, err)
	}
	defer rows.Close()

	var out []domain.TaskRecord
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan task: %w", domain.ErrStore, err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

const selectTasks = "SELECT id, type, content, status, metadata, plan, created_at, updated_at, result, error FROM tasks"

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (*domain.TaskRecord, error) {
	var rec domain.TaskRecord
	var status, metaStr, createdStr, updatedStr string
	var planStr, resultStr sql.NullString
	if err := sc.Scan(&rec.ID, &rec.Task.Type, &rec.Task.Content, &status, &metaStr, &planStr,
		&createdStr, &updatedStr, &resultStr, &rec.Error); err != nil {
		return nil, err
	}
	rec.Task.ID = rec.ID
	rec.Status = domain.TaskStatus(status)
	if err := json.Unmarshal([]byte(metaStr), &rec.Task.Metadata); err != nil {
		return nil, domain.WrapOp("unmarshal task metadata", err)
	}
	if len(rec.Task.Metadata) == 0 {
		rec.Task.Metadata = nil
	}
	if planStr.Valid {
		var plan domain.Plan
		if err := json.Unmarshal([]byte(planStr.String), &plan); err != nil {
			return nil, domain.WrapOp("unmarshal task plan", err)
		}
		rec.Plan = &plan
	}
	if resultStr.Valid {
		if err := json.Unmarshal([]byte(resultStr.String), &rec.Result); err != nil {
			return nil, domain.WrapOp("unmarshal task result", err)
		}
	}
	rec.CreatedAt, _ = time.Parse(timeLayout, createdStr)
	rec.UpdatedAt, _ = time.Parse(timeLayout, updatedStr)
	return &rec, nil
}

// timeLayout has a fixed-width fraction so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	if string(data) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
