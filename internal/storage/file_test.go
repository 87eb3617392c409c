package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewFileStore(dir, testLogger())
	require.NoError(t, err)
	pendingID, err := s.CreatePending(ctx, pendingFixture(7, "https://example.com/a"))
	require.NoError(t, err)
	savedID, err := s.CreateSaved(ctx, savedFixture("https://docs.example.org", "Documentation"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// A fresh store over the same directory sees everything.
	s2, err := NewFileStore(dir, testLogger())
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetPending(ctx, pendingID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", got.URL)

	list, err := s2.ListSaved(ctx, SavedFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, savedID, list[0].ID)
}

func TestFileStoreCorruptTableReadsEmpty(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, savedFile), []byte("{not json"), 0o644))

	s, err := NewFileStore(dir, testLogger())
	require.NoError(t, err)
	defer s.Close()

	list, err := s.ListSaved(ctx, SavedFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)

	// The store recovers: writes replace the corrupt table.
	_, err = s.CreateSaved(ctx, savedFixture("https://a.example", "X"))
	require.NoError(t, err)
	list, err = s.ListSaved(ctx, SavedFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestFileStoreLegacyRecordsGetDefaults(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// A record written by an older version: no prompt id, no enrichment,
	// no clicks. Optional fields come back as zero values, required ones
	// survive.
	legacy := `[{"id":"abc","user_id":7,"chat_id":-1,"url":"https://example.com/x","created_at":"2024-01-02T03:04:05Z"}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, pendingFile), []byte(legacy), 0o644))

	s, err := NewFileStore(dir, testLogger())
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetPending(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/x", got.URL)
	assert.Zero(t, got.PromptMessageID)
	assert.Zero(t, got.MessageID)
}

func TestFileStoreWritesAreAtomicReplacements(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewFileStore(dir, testLogger())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.CreatePending(ctx, pendingFixture(7, "https://example.com/a"))
	require.NoError(t, err)

	// No temp file lingers after a successful rewrite.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}
