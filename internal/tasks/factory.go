package tasks

import (
	"context"
	"strings"
)

// NewStore picks the store backend: postgres when a database URL is set,
// sqlite when a file path is set, otherwise in-memory. Returns the resolved
// mode for health reporting.
func NewStore(ctx context.Context, databaseURL, sqlitePath string) (Store, string, error) {
	if strings.TrimSpace(databaseURL) != "" {
		store, err := NewPostgresStore(ctx, databaseURL)
		return store, "postgres", err
	}
	if strings.TrimSpace(sqlitePath) != "" {
		store, err := NewSQLiteStore(sqlitePath)
		return store, "sqlite", err
	}
	return NewMemoryStore(), "memory", nil
}
