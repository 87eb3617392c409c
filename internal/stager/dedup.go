package stager

import (
	"context"
	"fmt"

	"linkvault/internal/extract"
	"linkvault/internal/storage"
)

// Scope is the deduplication boundary: one user in one chat.
type Scope struct {
	UserID int64
	ChatID int64
}

// Deduplicator decides whether a candidate URL has already been staged or
// saved within a scope. Every check goes through the store so the answer is
// the same whichever backend is running and survives process restarts; there
// is deliberately no process-wide cache to drift out of sync.
type Deduplicator struct {
	store storage.Store
}

// NewDeduplicator returns a Deduplicator over the given store.
func NewDeduplicator(store storage.Store) *Deduplicator {
	return &Deduplicator{store: store}
}

// IsDuplicate reports whether url, after normalization, matches an
// unresolved pending entry or an active saved link in the scope. Pending
// entries are checked first.
func (d *Deduplicator) IsDuplicate(ctx context.Context, scope Scope, url string) (bool, error) {
	norm := extract.Normalize(url)

	pending, err := d.store.ListPending(ctx, scope.UserID)
	if err != nil {
		return false, fmt.Errorf("dedup check pending: %w", err)
	}
	for _, e := range pending {
		if e.ChatID == scope.ChatID && extract.Normalize(e.URL) == norm {
			return true, nil
		}
	}

	saved, err := d.store.ListSaved(ctx, storage.SavedFilter{})
	if err != nil {
		return false, fmt.Errorf("dedup check saved: %w", err)
	}
	for _, rec := range saved {
		if rec.UserID == scope.UserID && rec.ChatID == scope.ChatID && extract.Normalize(rec.URL) == norm {
			return true, nil
		}
	}
	return false, nil
}
