package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkvault/internal/domain"
)

// testLogger keeps backend noise out of test output.
func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.ErrorLevel)
	return log
}

// backends under conformance test. Mongo joins in when LINKVAULT_TEST_MONGO_URI
// points at a reachable server, mirroring how the original deployment is
// smoke-tested.
func testBackends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	backends := map[string]func(t *testing.T) Store{
		"file": func(t *testing.T) Store {
			s, err := NewFileStore(t.TempDir(), testLogger())
			require.NoError(t, err)
			return s
		},
		"badger": func(t *testing.T) Store {
			s, err := NewBadgerStore(t.TempDir(), testLogger())
			require.NoError(t, err)
			return s
		},
	}
	if uri := os.Getenv("LINKVAULT_TEST_MONGO_URI"); uri != "" {
		backends["mongo"] = func(t *testing.T) Store {
			s, err := NewMongoStore(context.Background(), uri, "linkvault_test", testLogger())
			require.NoError(t, err)
			require.NoError(t, s.ClearSaved(context.Background()))
			return s
		}
	}
	return backends
}

func forEachBackend(t *testing.T, run func(t *testing.T, s Store)) {
	for name, open := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer func() { assert.NoError(t, s.Close()) }()
			run(t, s)
		})
	}
}

func pendingFixture(userID int64, url string) domain.PendingLink {
	return domain.PendingLink{
		UserID:    userID,
		ChatID:    -100200,
		MessageID: 42,
		URL:       url,
	}
}

func savedFixture(url, category string) domain.SavedLink {
	return domain.SavedLink{
		URL:      url,
		Author:   "alice",
		UserID:   7,
		ChatID:   -100200,
		Category: category,
		Active:   true,
	}
}

func TestPendingRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		id, err := s.CreatePending(ctx, pendingFixture(7, "https://example.com/paper"))
		require.NoError(t, err)
		require.NotEmpty(t, id)

		// Read-after-write: the entry is visible immediately.
		list, err := s.ListPending(ctx, 7)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, id, list[0].ID)
		assert.Equal(t, "https://example.com/paper", list[0].URL)
		assert.False(t, list[0].CreatedAt.IsZero())

		got, err := s.GetPending(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, list[0], got)

		// Other users see nothing.
		other, err := s.ListPending(ctx, 999)
		require.NoError(t, err)
		assert.Empty(t, other)
	})
}

func TestCreatePendingValidation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.CreatePending(ctx, domain.PendingLink{UserID: 7})
		assert.ErrorIs(t, err, ErrValidation)

		_, err = s.CreatePending(ctx, domain.PendingLink{URL: "https://example.com"})
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestAttachPromptID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		id, err := s.CreatePending(ctx, pendingFixture(7, "https://example.com/a"))
		require.NoError(t, err)

		require.NoError(t, s.AttachPromptID(ctx, id, 555))
		got, err := s.GetPending(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 555, got.PromptMessageID)

		// After the entry resolves, attaching reports the race.
		require.NoError(t, s.DeletePending(ctx, id))
		assert.ErrorIs(t, s.AttachPromptID(ctx, id, 556), ErrNotFound)
	})
}

func TestDeletePendingIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		id, err := s.CreatePending(ctx, pendingFixture(7, "https://example.com/a"))
		require.NoError(t, err)

		require.NoError(t, s.DeletePending(ctx, id))
		// Second delete of the same id succeeds silently.
		require.NoError(t, s.DeletePending(ctx, id))

		list, err := s.ListPending(ctx, 7)
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestTakePendingClaimsExactlyOnce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		id, err := s.CreatePending(ctx, pendingFixture(7, "https://example.com/a"))
		require.NoError(t, err)

		got, err := s.TakePending(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/a", got.URL)

		// The loser of the race sees ErrNotFound.
		_, err = s.TakePending(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetPending(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSavedRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		rec := savedFixture("https://docs.example.org", "Documentation")
		rec.Title = "Example Docs"
		id, err := s.CreateSaved(ctx, rec)
		require.NoError(t, err)

		list, err := s.ListSaved(ctx, SavedFilter{})
		require.NoError(t, err)
		require.Len(t, list, 1)
		got := list[0]
		assert.Equal(t, id, got.ID)
		assert.Equal(t, rec.URL, got.URL)
		assert.Equal(t, rec.Author, got.Author)
		assert.Equal(t, rec.Category, got.Category)
		assert.Equal(t, rec.Title, got.Title)
		assert.True(t, got.Active)
		assert.False(t, got.SavedAt.IsZero())
	})
}

func TestCreateSavedValidation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.CreateSaved(ctx, domain.SavedLink{Author: "alice"})
		assert.ErrorIs(t, err, ErrValidation)
		_, err = s.CreateSaved(ctx, domain.SavedLink{URL: "https://example.com"})
		assert.ErrorIs(t, err, ErrValidation)

		list, err := s.ListSaved(ctx, SavedFilter{})
		require.NoError(t, err)
		assert.Empty(t, list, "validation failures must not persist partial data")
	})
}

func TestListSavedFilters(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.CreateSaved(ctx, savedFixture("https://docs.example.org/guide", "Documentation"))
		require.NoError(t, err)
		_, err = s.CreateSaved(ctx, savedFixture("https://blog.example.org/post", "Reading"))
		require.NoError(t, err)
		inactive := savedFixture("https://gone.example.org", "Reading")
		inactive.Active = false
		_, err = s.CreateSaved(ctx, inactive)
		require.NoError(t, err)

		byCategory, err := s.ListSaved(ctx, SavedFilter{Category: "documentation"})
		require.NoError(t, err)
		require.Len(t, byCategory, 1)
		assert.Equal(t, "https://docs.example.org/guide", byCategory[0].URL)

		bySubstring, err := s.ListSaved(ctx, SavedFilter{Contains: "BLOG"})
		require.NoError(t, err)
		require.Len(t, bySubstring, 1)
		assert.Equal(t, "https://blog.example.org/post", bySubstring[0].URL)

		all, err := s.ListSaved(ctx, SavedFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 2, "inactive records stay hidden")
	})
}

func TestUpdateSavedMetadata(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		id, err := s.CreateSaved(ctx, savedFixture("https://docs.example.org", "Documentation"))
		require.NoError(t, err)

		require.NoError(t, s.UpdateSavedMetadata(ctx, id, "Example Docs", "All the docs"))
		list, err := s.ListSaved(ctx, SavedFilter{})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "Example Docs", list[0].Title)
		assert.Equal(t, "All the docs", list[0].Description)
		// Everything else is untouched.
		assert.Equal(t, "https://docs.example.org", list[0].URL)
		assert.Equal(t, "Documentation", list[0].Category)

		assert.ErrorIs(t, s.UpdateSavedMetadata(ctx, "missing", "t", "d"), ErrNotFound)
	})
}

func TestDeleteAndClearSaved(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		id, err := s.CreateSaved(ctx, savedFixture("https://a.example", "X"))
		require.NoError(t, err)
		_, err = s.CreateSaved(ctx, savedFixture("https://b.example", "X"))
		require.NoError(t, err)

		require.NoError(t, s.DeleteSaved(ctx, id))
		require.NoError(t, s.DeleteSaved(ctx, id))

		list, err := s.ListSaved(ctx, SavedFilter{})
		require.NoError(t, err)
		require.Len(t, list, 1)

		require.NoError(t, s.ClearSaved(ctx))
		list, err = s.ListSaved(ctx, SavedFilter{})
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestIncrementClicks(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		a, err := s.CreateSaved(ctx, savedFixture("https://a.example", "X"))
		require.NoError(t, err)
		b, err := s.CreateSaved(ctx, savedFixture("https://b.example", "X"))
		require.NoError(t, err)

		require.NoError(t, s.IncrementClicks(ctx, []string{a, b}))
		require.NoError(t, s.IncrementClicks(ctx, []string{a, "missing"}))
		require.NoError(t, s.IncrementClicks(ctx, nil))

		clicks := map[string]int{}
		list, err := s.ListSaved(ctx, SavedFilter{})
		require.NoError(t, err)
		for _, rec := range list {
			clicks[rec.URL] = rec.Clicks
		}
		assert.Equal(t, 2, clicks["https://a.example"])
		assert.Equal(t, 1, clicks["https://b.example"])
	})
}

func TestPurgeOlderThan(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		old := savedFixture("https://old.example", "X")
		old.SavedAt = time.Now().UTC().Add(-48 * time.Hour)
		_, err := s.CreateSaved(ctx, old)
		require.NoError(t, err)
		_, err = s.CreateSaved(ctx, savedFixture("https://new.example", "X"))
		require.NoError(t, err)

		purged, err := s.PurgeOlderThan(ctx, 24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, purged)

		list, err := s.ListSaved(ctx, SavedFilter{})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "https://new.example", list[0].URL)
	})
}

func TestCategories(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.AddToCategory(ctx, "Documentation", "https://docs.example.org"))
		// Case-insensitive lookup appends to the same category and keeps
		// the first writer's casing for display.
		require.NoError(t, s.AddToCategory(ctx, "documentation", "https://docs.example.org/2"))
		require.NoError(t, s.AddToCategory(ctx, "Reading", "https://blog.example.org"))

		cats, err := s.ListCategories(ctx)
		require.NoError(t, err)
		require.Len(t, cats, 2)

		byName := map[string][]string{}
		for _, c := range cats {
			byName[c.Name] = c.URLs
		}
		assert.Equal(t, []string{"https://docs.example.org", "https://docs.example.org/2"}, byName["Documentation"])
		assert.Equal(t, []string{"https://blog.example.org"}, byName["Reading"])

		require.NoError(t, s.DeleteCategory(ctx, "READING"))
		require.NoError(t, s.DeleteCategory(ctx, "READING"))
		cats, err = s.ListCategories(ctx)
		require.NoError(t, err)
		require.Len(t, cats, 1)
		assert.Equal(t, "Documentation", cats[0].Name)
	})
}

func TestRemoveFromCategory(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.AddToCategory(ctx, "Reading", "https://a.example"))
		require.NoError(t, s.AddToCategory(ctx, "Reading", "https://b.example"))

		require.NoError(t, s.RemoveFromCategory(ctx, "reading", "https://a.example"))
		cats, err := s.ListCategories(ctx)
		require.NoError(t, err)
		require.Len(t, cats, 1)
		assert.Equal(t, []string{"https://b.example"}, cats[0].URLs)

		// Absent URL and unknown category succeed silently.
		require.NoError(t, s.RemoveFromCategory(ctx, "Reading", "https://a.example"))
		require.NoError(t, s.RemoveFromCategory(ctx, "ghost", "https://a.example"))

		// Emptying the list keeps the category itself.
		require.NoError(t, s.RemoveFromCategory(ctx, "Reading", "https://b.example"))
		cats, err = s.ListCategories(ctx)
		require.NoError(t, err)
		require.Len(t, cats, 1)
		assert.Empty(t, cats[0].URLs)
	})
}

func TestChatSettings(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.ChatSettings(ctx, -1)
		assert.ErrorIs(t, err, ErrNotFound)

		cs := domain.ChatSettings{
			ChatID:               -1,
			PendingTTL:           2 * time.Minute,
			DeletePromptOnExpiry: true,
			DefaultCategory:      "Inbox",
		}
		require.NoError(t, s.PutChatSettings(ctx, cs))

		got, err := s.ChatSettings(ctx, -1)
		require.NoError(t, err)
		assert.Equal(t, cs, got)

		cs.DefaultCategory = "Resources"
		require.NoError(t, s.PutChatSettings(ctx, cs))
		got, err = s.ChatSettings(ctx, -1)
		require.NoError(t, err)
		assert.Equal(t, "Resources", got.DefaultCategory)
	})
}
