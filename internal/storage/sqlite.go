package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/drawbridge-dev/drawbridge/internal/common"
	"github.com/drawbridge-dev/drawbridge/internal/dbx"
)

// SQLiteStore implements DocumentStore over the embedded-file engine.
type SQLiteStore struct {
	db dbx.DBTX
}

// NewSQLiteStore returns a store bound to the given DBTX.
func NewSQLiteStore(db dbx.DBTX) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS diagrams (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		engine_tag TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create diagrams table: %w", err)
	}
	return nil
}

// Create inserts a new document. SQLite reports constraint violations with
// driver-internal error codes, so an existence check precedes the insert
// instead of translating the driver error.
func (s *SQLiteStore) Create(ctx context.Context, id, title, engineTag, content string) (*Document, error) {
	if id == "" {
		id = uuid.NewString()
	}

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM diagrams WHERE id = ?`, id).Scan(&exists)
	switch {
	case err == nil:
		return nil, fmt.Errorf("diagram %s: %w", id, common.ErrConflict)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("failed to check diagram existence: %w", err)
	}

	now := time.Now().UTC()
	query := `INSERT INTO diagrams (id, title, engine_tag, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, id, title, engineTag, content, formatTime(now), formatTime(now)); err != nil {
		return nil, fmt.Errorf("failed to insert diagram: %w", err)
	}

	return &Document{ID: id, Title: title, EngineTag: engineTag, Content: content, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Document, error) {
	query := `SELECT id, title, engine_tag, content, created_at, updated_at FROM diagrams WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)

	d := &Document{}
	var createdAt, updatedAt string
	if err := row.Scan(&d.ID, &d.Title, &d.EngineTag, &d.Content, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("diagram %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	return d, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id, title, engineTag, content string) (*Document, error) {
	now := time.Now().UTC()
	query := `UPDATE diagrams SET title = ?, engine_tag = ?, content = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query, title, engineTag, content, formatTime(now), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update diagram: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return nil, fmt.Errorf("diagram %s: %w", id, common.ErrNotFound)
	}

	return s.Get(ctx, id)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM diagrams WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete diagram: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return fmt.Errorf("diagram %s: %w", id, common.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]DocumentSummary, error) {
	query := `SELECT id, title, engine_tag, created_at, updated_at FROM diagrams
		ORDER BY updated_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select diagrams: %w", err)
	}
	defer rows.Close()

	var result []DocumentSummary
	for rows.Next() {
		var item DocumentSummary
		var createdAt, updatedAt string
		if err := rows.Scan(&item.ID, &item.Title, &item.EngineTag, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		item.CreatedAt = parseTime(createdAt)
		item.UpdatedAt = parseTime(updatedAt)
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
