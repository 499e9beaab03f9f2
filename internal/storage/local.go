package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
)

// OpenLocal opens (creating if needed) an embedded-file document store at
// path. Used by the client as the offline fallback when the server is
// unreachable; the server side goes through Manager instead.
func OpenLocal(ctx context.Context, path string) (*sql.DB, *SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open local store: %w", err)
	}

	store := NewSQLiteStore(db)
	if err := store.Init(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, store, nil
}
