package storage

import (
	"context"
	"time"
)

// Document is the unit of persistence: an opaque diagram blob plus metadata.
// Content is owned by the presentation layer; this package never inspects
// its internal structure.
type Document struct {
	// ID is globally unique within the active store.
	ID string `json:"id"`

	// Title is the human-readable diagram name.
	Title string `json:"title"`

	// EngineTag is the diagram's own SQL-dialect marker. It is unrelated to
	// the storage engine the document happens to be persisted in.
	EngineTag string `json:"engineTag"`

	// Content is the serialized diagram, stored as a single opaque column.
	Content string `json:"content"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DocumentSummary is the content-free projection returned by listings.
type DocumentSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	EngineTag string    `json:"engineTag"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DocumentStore is the engine-agnostic CRUD interface over the diagrams
// table. Implementations translate driver-specific failures into the
// sentinel errors of internal/common before returning.
type DocumentStore interface {
	// Init creates the diagrams table if it does not exist.
	Init(ctx context.Context) error

	// Create inserts a new document. An empty id means the store assigns
	// one. Returns common.ErrConflict if the id already exists.
	Create(ctx context.Context, id, title, engineTag, content string) (*Document, error)

	// Get returns the full document or common.ErrNotFound.
	Get(ctx context.Context, id string) (*Document, error)

	// Update replaces title, tag and content wholesale. Returns
	// common.ErrNotFound if no row was affected.
	Update(ctx context.Context, id, title, engineTag, content string) (*Document, error)

	// Delete removes the document or returns common.ErrNotFound.
	Delete(ctx context.Context, id string) error

	// ListRecent returns up to limit summaries ordered by updatedAt
	// descending.
	ListRecent(ctx context.Context, limit int) ([]DocumentSummary, error)
}

// timeLayout is a fixed-width RFC3339 variant. Timestamps are stored as text
// in every engine; the fixed fractional width keeps lexicographic order equal
// to chronological order, which ListRecent relies on.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
