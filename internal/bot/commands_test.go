package bot

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkvault/internal/classify"
	"linkvault/internal/domain"
	"linkvault/internal/stats"
	"linkvault/internal/storage"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func TestCommandArg(t *testing.T) {
	assert.Equal(t, "", commandArg("/links"))
	assert.Equal(t, "Reading", commandArg("/links Reading"))
	assert.Equal(t, "two words", commandArg("/search  two words "))
}

func TestApplySetting(t *testing.T) {
	base := domain.ChatSettings{
		PendingTTL:           time.Hour,
		DeletePromptOnExpiry: true,
		DefaultCategory:      "Inbox",
	}

	s, err := applySetting(base, []string{"ttl", "30"})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, s.PendingTTL)

	s, err = applySetting(base, []string{"expiry", "off"})
	require.NoError(t, err)
	assert.False(t, s.DeletePromptOnExpiry)

	s, err = applySetting(base, []string{"category", "Deep", "Reading"})
	require.NoError(t, err)
	assert.Equal(t, "Deep Reading", s.DefaultCategory)

	_, err = applySetting(base, []string{"ttl", "zero"})
	assert.Error(t, err)
	_, err = applySetting(base, []string{"ttl", "-5"})
	assert.Error(t, err)
	_, err = applySetting(base, []string{"bogus", "x"})
	assert.Error(t, err)
	_, err = applySetting(base, []string{"ttl"})
	assert.Error(t, err)
}

func TestFormatLinks(t *testing.T) {
	assert.Equal(t, "No links saved yet.", formatLinks(nil, ""))
	assert.Equal(t, "No links in Reading yet.", formatLinks(nil, "Reading"))

	recs := []domain.SavedLink{
		{URL: "https://example.com/a", Category: "Reading", Title: "A Post"},
		{URL: "https://example.com/b", Category: "Tools"},
	}
	out := formatLinks(recs, "")
	assert.Contains(t, out, "2 saved links")
	assert.Contains(t, out, "1. https://example.com/a — A Post [Reading]")
	assert.Contains(t, out, "2. https://example.com/b [Tools]")

	scoped := formatLinks(recs[:1], "Reading")
	assert.Contains(t, scoped, "Links in Reading:")
	assert.NotContains(t, scoped, "[Reading]", "category tag is redundant in a scoped listing")
}

func TestFormatCategories(t *testing.T) {
	assert.Contains(t, formatCategories(nil), "No categories")

	out := formatCategories([]domain.Category{
		{Name: "Reading", URLs: []string{"a", "b"}},
		{Name: "Tools", URLs: []string{"c"}},
	})
	assert.Contains(t, out, "Reading (2)")
	assert.Contains(t, out, "Tools (1)")
}

func TestFormatSummary(t *testing.T) {
	assert.Equal(t, "No links saved yet.", formatSummary(stats.Summary{}))

	out := formatSummary(stats.Summary{
		Total:      3,
		ByCategory: []stats.Count{{Key: "Reading", Count: 2}},
		ByDomain:   []stats.Count{{Key: "example.com", Count: 3}},
	})
	assert.Contains(t, out, "3 links saved")
	assert.Contains(t, out, "Reading — 2")
	assert.Contains(t, out, "example.com — 3")
	assert.NotContains(t, out, "Top savers", "empty breakdowns are omitted")
}

func TestDeleteNth(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	h := &Handler{store: store, log: testLogger()}
	ctx := context.Background()

	for _, url := range []string{"https://a.example", "https://b.example"} {
		_, err := store.CreateSaved(ctx, domain.SavedLink{
			URL: url, Author: "alice", UserID: 7, Category: "Reading", Active: true,
		})
		require.NoError(t, err)
		require.NoError(t, store.AddToCategory(ctx, "Reading", url))
	}

	rec, err := h.deleteNth(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "https://b.example", rec.URL)

	// The record is gone and the category index no longer lists its URL.
	recs, err := store.ListSaved(ctx, storage.SavedFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "https://a.example", recs[0].URL)
	cats, err := store.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, []string{"https://a.example"}, cats[0].URLs)

	_, err = h.deleteNth(ctx, 5)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = h.deleteNth(ctx, 0)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFormatVerdict(t *testing.T) {
	out := formatVerdict("https://docs.example.org", classify.Verdict{Safety: classify.Safe, Note: "reputable"})
	assert.Equal(t, "✅ https://docs.example.org: Safe — reputable", out)

	out = formatVerdict("https://evil.example", classify.Verdict{Safety: classify.Suspect})
	assert.Equal(t, "⚠️ https://evil.example: Suspect", out)

	out = formatVerdict("https://x.example", classify.ManualReview())
	assert.Contains(t, out, "Unscored")
}

func TestFormatSettings(t *testing.T) {
	out := formatSettings(domain.ChatSettings{
		PendingTTL:           30 * time.Minute,
		DeletePromptOnExpiry: true,
		DefaultCategory:      "Inbox",
	})
	assert.Contains(t, out, "30m0s")
	assert.Contains(t, out, "deleted")
	assert.Contains(t, out, "Inbox")
}

func TestCategoryKeyboard(t *testing.T) {
	kb := categoryKeyboard("id-1", "Inbox", []string{"Reading", "inbox", "Tools"})
	markup, ok := kb.(*models.InlineKeyboardMarkup)
	require.True(t, ok)

	var labels []string
	for _, row := range markup.InlineKeyboard {
		for _, btn := range row {
			labels = append(labels, btn.Text)
		}
	}
	// Default first, duplicate of the default dropped, ignore row last.
	assert.Equal(t, []string{"Inbox", "Reading", "Tools", "🗑 Ignore"}, labels)
}

func TestCategoryKeyboardSkipsOversizedNames(t *testing.T) {
	long := make([]byte, 80)
	for i := range long {
		long[i] = 'x'
	}
	kb := categoryKeyboard("id-1", "Inbox", []string{string(long)})
	markup := kb.(*models.InlineKeyboardMarkup)

	for _, row := range markup.InlineKeyboard {
		for _, btn := range row {
			assert.LessOrEqual(t, len(btn.CallbackData), maxCallback)
		}
	}
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "alice", displayName(&models.User{Username: "alice", FirstName: "Alice"}))
	assert.Equal(t, "Alice Smith", displayName(&models.User{FirstName: "Alice", LastName: "Smith"}))
	assert.Equal(t, "Alice", displayName(&models.User{FirstName: "Alice"}))
}
