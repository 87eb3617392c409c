// Package storage persists pending links, saved links, categories and chat
// settings behind one contract with three interchangeable backends: JSON
// files, an embedded BadgerDB, and MongoDB. The backend is picked once at
// startup by configuration; callers never branch on which one they got.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"linkvault/internal/domain"
)

// Sentinel errors shared by every backend. Callers match with errors.Is.
var (
	// ErrUnavailable means the backend could not be reached. Mutations may
	// be retried at the caller's discretion; there is no silent fallback to
	// another backend mid-session.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrNotFound reports that the addressed record no longer exists. For
	// pending links this is the normal race signal, not a failure.
	ErrNotFound = errors.New("not found")

	// ErrValidation rejects a malformed record before anything is written.
	ErrValidation = errors.New("invalid record")

	// ErrCategoryNotEmpty guards category deletion without the cascade flag.
	ErrCategoryNotEmpty = errors.New("category not empty")
)

// SavedFilter narrows ListSaved. The zero value matches all active records.
type SavedFilter struct {
	// Category matches records by category, case-insensitively.
	Category string

	// Contains matches records whose URL contains the substring,
	// case-insensitively.
	Contains string
}

// Match reports whether an active record passes the filter.
func (f SavedFilter) Match(rec domain.SavedLink) bool {
	if !rec.Active {
		return false
	}
	if f.Category != "" && !strings.EqualFold(f.Category, rec.Category) {
		return false
	}
	if f.Contains != "" && !strings.Contains(strings.ToLower(rec.URL), strings.ToLower(f.Contains)) {
		return false
	}
	return true
}

// Store is the storage contract. All implementations guarantee durability
// across process restart, that concurrent callers never observe a
// half-written record, and that CreatePending followed by ListPending in the
// same process includes the new entry.
type Store interface {
	// CreatePending stores entry and returns the backend-assigned id.
	// Either the full entry is visible afterwards or none of it is.
	// Fails with ErrValidation on an empty URL or user id.
	CreatePending(ctx context.Context, entry domain.PendingLink) (string, error)

	// GetPending reads one pending entry; ErrNotFound if it is gone.
	GetPending(ctx context.Context, id string) (domain.PendingLink, error)

	// TakePending atomically fetches and deletes a pending entry. At most
	// one concurrent caller gets the record; the rest see ErrNotFound.
	// This is the claim primitive the stager's transitions race on.
	TakePending(ctx context.Context, id string) (domain.PendingLink, error)

	// AttachPromptID records the disposition prompt message id on a pending
	// entry. ErrNotFound means the entry already resolved; callers treat
	// that as "too late" rather than a failure.
	AttachPromptID(ctx context.Context, id string, messageID int) error

	// DeletePending removes a pending entry. Idempotent: deleting an
	// already-deleted id succeeds silently.
	DeletePending(ctx context.Context, id string) error

	// ListPending returns all pending entries for a user regardless of
	// age; expiry is the stager's business, not the store's.
	ListPending(ctx context.Context, userID int64) ([]domain.PendingLink, error)

	// CreateSaved stores a saved link and returns its id. Fails with
	// ErrValidation on an empty URL or author.
	CreateSaved(ctx context.Context, rec domain.SavedLink) (string, error)

	// ListSaved returns active records passing the filter.
	ListSaved(ctx context.Context, filter SavedFilter) ([]domain.SavedLink, error)

	// UpdateSavedMetadata sets the scraped title and description on a
	// saved record. ErrNotFound if the record is gone; everything else
	// about the record is immutable.
	UpdateSavedMetadata(ctx context.Context, id, title, description string) error

	// DeleteSaved removes one saved record. Idempotent.
	DeleteSaved(ctx context.Context, id string) error

	// IncrementClicks bumps the click counter on each listed record.
	// Missing ids are skipped silently.
	IncrementClicks(ctx context.Context, ids []string) error

	// ClearSaved removes all saved records.
	ClearSaved(ctx context.Context) error

	// PurgeOlderThan removes saved records older than the duration and
	// returns how many went.
	PurgeOlderThan(ctx context.Context, age time.Duration) (int, error)

	// AddToCategory appends a URL to a category, creating the category on
	// first use. Lookup is case-insensitive; first-seen casing is kept.
	AddToCategory(ctx context.Context, category, url string) error

	// RemoveFromCategory drops every occurrence of a URL from a category's
	// member list. The category itself stays, even when emptied. Idempotent:
	// an unknown category or absent URL succeeds silently.
	RemoveFromCategory(ctx context.Context, category, url string) error

	// ListCategories returns every category with its member URLs.
	ListCategories(ctx context.Context) ([]domain.Category, error)

	// DeleteCategory removes a category mapping (members' saved records
	// are untouched; cascade policy lives in the category index).
	// Idempotent.
	DeleteCategory(ctx context.Context, category string) error

	// ChatSettings returns the stored settings for a chat; ErrNotFound when
	// the chat never stored any (callers fall back to configured defaults).
	ChatSettings(ctx context.Context, chatID int64) (domain.ChatSettings, error)

	// PutChatSettings stores per-chat settings, replacing any previous.
	PutChatSettings(ctx context.Context, s domain.ChatSettings) error

	// Close gracefully shuts down the backend.
	Close() error
}

// validatePending applies the shared create-time checks.
func validatePending(entry domain.PendingLink) error {
	if strings.TrimSpace(entry.URL) == "" || entry.UserID == 0 {
		return ErrValidation
	}
	return nil
}

// validateSaved applies the shared create-time checks.
func validateSaved(rec domain.SavedLink) error {
	if strings.TrimSpace(rec.URL) == "" || strings.TrimSpace(rec.Author) == "" {
		return ErrValidation
	}
	return nil
}
