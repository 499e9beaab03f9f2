package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/drawbridge-dev/drawbridge/internal/common"
	"github.com/drawbridge-dev/drawbridge/internal/dbx"
)

// SQLSTATE classes used when translating pgx errors into the shared taxonomy.
const (
	pgUniqueViolation   = "23505"
	pgInvalidPassword   = "28P01"
	pgInvalidAuthSpec   = "28000"
	pgDuplicateDatabase = "42P04"
)

// PostgresStore implements DocumentStore over the pgx stdlib driver.
type PostgresStore struct {
	db dbx.DBTX
}

// NewPostgresStore returns a store bound to the given DBTX.
func NewPostgresStore(db dbx.DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Init(ctx context.Context) error {
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

func (s *PostgresStore) Create(ctx context.Context, id, title, engineTag, content string) (*Document, error) {
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now().UTC()
	query := `INSERT INTO diagrams (id, title, engine_tag, content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.db.ExecContext(ctx, query, id, title, engineTag, content, formatTime(now), formatTime(now)); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, fmt.Errorf("diagram %s: %w", id, common.ErrConflict)
		}
		return nil, fmt.Errorf("failed to insert diagram: %w", err)
	}

	return &Document{ID: id, Title: title, EngineTag: engineTag, Content: content, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Document, error) {
	query := `SELECT id, title, engine_tag, content, created_at, updated_at FROM diagrams WHERE id = $1`
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

func (s *PostgresStore) Update(ctx context.Context, id, title, engineTag, content string) (*Document, error) {
	now := time.Now().UTC()
	query := `UPDATE diagrams SET title = $1, engine_tag = $2, content = $3, updated_at = $4 WHERE id = $5`
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

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM diagrams WHERE id = $1`, id)
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

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]DocumentSummary, error) {
	query := `SELECT id, title, engine_tag, created_at, updated_at FROM diagrams
		ORDER BY updated_at DESC LIMIT $1`
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
