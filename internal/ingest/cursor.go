package ingest

import (
	"context"
	"fmt"
	"time"

	"gridprice/internal/models"
)

// CursorStore exposes the newest stored timestamp of a stream
type CursorStore interface {
	LatestTimestamp(ctx context.Context, stream models.StreamKind) (time.Time, bool, error)
}

// CursorResolver derives where a stream's next fetch starts from the primary
// store itself. Nothing else persists a cursor.
type CursorResolver struct {
	store CursorStore
	now   func() time.Time
}

// NewCursorResolver creates a resolver over the primary store
func NewCursorResolver(store CursorStore) *CursorResolver {
	return &CursorResolver{store: store, now: time.Now}
}

// Resolve returns MAX(timestamp) of the stream's table, or now minus lookback
// when the table is empty.
func (r *CursorResolver) Resolve(ctx context.Context, stream models.StreamKind, lookback time.Duration) (time.Time, error) {
	latest, ok, err := r.store.LatestTimestamp(ctx, stream)
	if err != nil {
		return time.Time{}, fmt.Errorf("resolve cursor for %s: %w", stream, err)
	}
	if !ok {
		return r.now().Add(-lookback).UTC(), nil
	}
	return latest.UTC(), nil
}
