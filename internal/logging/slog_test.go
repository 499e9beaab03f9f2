package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	ctx := context.Background()

	l.Debug(ctx, "debug msg", "k", "v")
	l.Info(ctx, "info msg")
	l.Warn(ctx, "warn msg")
	l.Error(ctx, "error msg", "err", "boom")

	out := buf.String()
	assert.Contains(t, out, "debug msg")
	assert.Contains(t, out, "k=v")
	assert.Contains(t, out, "info msg")
	assert.Contains(t, out, "warn msg")
	assert.Contains(t, out, "err=boom")
}

func TestSlogLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	child := l.With("component", "catalog")
	child.Info(context.Background(), "opened")

	assert.Contains(t, buf.String(), "component=catalog")
}

func TestNoopLogger(t *testing.T) {
	l := NewNoopLogger()
	ctx := context.Background()

	// Must not panic and With must return a usable logger.
	l.Debug(ctx, "x")
	l.With("a", 1).Error(ctx, "y")
}
