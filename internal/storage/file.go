package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"linkvault/internal/domain"
)

// Logical table files, one per collection. Names match what the system has
// always written so existing data directories keep working.
const (
	pendingFile  = "pending_links.json"
	savedFile    = "saved_links.json"
	categoryFile = "categories.json"
	settingsFile = "chat_settings.json"
)

// FileStore keeps each logical table in one JSON file and rewrites the whole
// file atomically (temp file + rename) under a per-table mutex. It is the
// backend used when no database is configured.
type FileStore struct {
	dir string
	log logrus.FieldLogger

	pendingMu  sync.Mutex
	savedMu    sync.Mutex
	categoryMu sync.Mutex
	settingsMu sync.Mutex
}

// NewFileStore creates the data directory if needed and returns the store.
func NewFileStore(dir string, logger logrus.FieldLogger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data dir %s: %v", ErrUnavailable, dir, err)
	}
	log := logger.WithField("component", "filestore")
	log.WithField("dir", dir).Info("File storage ready")
	return &FileStore{dir: dir, log: log}, nil
}

// Close is a no-op; every mutation is flushed before its call returns.
func (s *FileStore) Close() error { return nil }

// loadTable reads a whole table into dst (a pointer to a slice). A missing
// or unreadable file yields the empty table: a corrupt table must not take
// the rest of the system down with it.
func (s *FileStore) loadTable(name string, dst any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: read %s: %v", ErrUnavailable, name, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		s.log.WithError(err).WithField("file", name).Warn("Corrupt table file, starting empty")
	}
	return nil
}

// saveTable rewrites a table atomically. Readers either see the previous
// file or the new one, never a partial write.
func (s *FileStore) saveTable(name string, src any) error {
	data, err := json.MarshalIndent(src, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrUnavailable, name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: replace %s: %v", ErrUnavailable, name, err)
	}
	return nil
}

// --- pending links ---

func (s *FileStore) CreatePending(ctx context.Context, entry domain.PendingLink) (string, error) {
	if err := validatePending(entry); err != nil {
		return "", err
	}
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	var table []domain.PendingLink
	if err := s.loadTable(pendingFile, &table); err != nil {
		return "", err
	}
	entry.ID = uuid.NewString()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	table = append(table, entry)
	if err := s.saveTable(pendingFile, table); err != nil {
		return "", err
	}
	return entry.ID, nil
}

func (s *FileStore) GetPending(ctx context.Context, id string) (domain.PendingLink, error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	var table []domain.PendingLink
	if err := s.loadTable(pendingFile, &table); err != nil {
		return domain.PendingLink{}, err
	}
	for _, e := range table {
		if e.ID == id {
			return e, nil
		}
	}
	return domain.PendingLink{}, ErrNotFound
}

func (s *FileStore) TakePending(ctx context.Context, id string) (domain.PendingLink, error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	var table []domain.PendingLink
	if err := s.loadTable(pendingFile, &table); err != nil {
		return domain.PendingLink{}, err
	}
	for i, e := range table {
		if e.ID == id {
			table = append(table[:i], table[i+1:]...)
			if err := s.saveTable(pendingFile, table); err != nil {
				return domain.PendingLink{}, err
			}
			return e, nil
		}
	}
	return domain.PendingLink{}, ErrNotFound
}

func (s *FileStore) AttachPromptID(ctx context.Context, id string, messageID int) error {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	var table []domain.PendingLink
	if err := s.loadTable(pendingFile, &table); err != nil {
		return err
	}
	for i := range table {
		if table[i].ID == id {
			table[i].PromptMessageID = messageID
			return s.saveTable(pendingFile, table)
		}
	}
	return ErrNotFound
}

func (s *FileStore) DeletePending(ctx context.Context, id string) error {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	var table []domain.PendingLink
	if err := s.loadTable(pendingFile, &table); err != nil {
		return err
	}
	for i, e := range table {
		if e.ID == id {
			table = append(table[:i], table[i+1:]...)
			return s.saveTable(pendingFile, table)
		}
	}
	// Already gone: success, by contract.
	return nil
}

func (s *FileStore) ListPending(ctx context.Context, userID int64) ([]domain.PendingLink, error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	var table []domain.PendingLink
	if err := s.loadTable(pendingFile, &table); err != nil {
		return nil, err
	}
	var out []domain.PendingLink
	for _, e := range table {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- saved links ---

func (s *FileStore) CreateSaved(ctx context.Context, rec domain.SavedLink) (string, error) {
	if err := validateSaved(rec); err != nil {
		return "", err
	}
	s.savedMu.Lock()
	defer s.savedMu.Unlock()

	var table []domain.SavedLink
	if err := s.loadTable(savedFile, &table); err != nil {
		return "", err
	}
	rec.ID = uuid.NewString()
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now().UTC()
	}
	table = append(table, rec)
	if err := s.saveTable(savedFile, table); err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (s *FileStore) ListSaved(ctx context.Context, filter SavedFilter) ([]domain.SavedLink, error) {
	s.savedMu.Lock()
	defer s.savedMu.Unlock()

	var table []domain.SavedLink
	if err := s.loadTable(savedFile, &table); err != nil {
		return nil, err
	}
	var out []domain.SavedLink
	for _, rec := range table {
		if filter.Match(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *FileStore) UpdateSavedMetadata(ctx context.Context, id, title, description string) error {
	s.savedMu.Lock()
	defer s.savedMu.Unlock()

	var table []domain.SavedLink
	if err := s.loadTable(savedFile, &table); err != nil {
		return err
	}
	for i := range table {
		if table[i].ID == id {
			table[i].Title = title
			table[i].Description = description
			return s.saveTable(savedFile, table)
		}
	}
	return ErrNotFound
}

func (s *FileStore) IncrementClicks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.savedMu.Lock()
	defer s.savedMu.Unlock()

	var table []domain.SavedLink
	if err := s.loadTable(savedFile, &table); err != nil {
		return err
	}
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	bumped := false
	for i := range table {
		if wanted[table[i].ID] {
			table[i].Clicks++
			bumped = true
		}
	}
	if !bumped {
		return nil
	}
	return s.saveTable(savedFile, table)
}

func (s *FileStore) DeleteSaved(ctx context.Context, id string) error {
	s.savedMu.Lock()
	defer s.savedMu.Unlock()

	var table []domain.SavedLink
	if err := s.loadTable(savedFile, &table); err != nil {
		return err
	}
	for i, rec := range table {
		if rec.ID == id {
			table = append(table[:i], table[i+1:]...)
			return s.saveTable(savedFile, table)
		}
	}
	return nil
}

func (s *FileStore) ClearSaved(ctx context.Context) error {
	s.savedMu.Lock()
	defer s.savedMu.Unlock()
	return s.saveTable(savedFile, []domain.SavedLink{})
}

func (s *FileStore) PurgeOlderThan(ctx context.Context, age time.Duration) (int, error) {
	s.savedMu.Lock()
	defer s.savedMu.Unlock()

	var table []domain.SavedLink
	if err := s.loadTable(savedFile, &table); err != nil {
		return 0, err
	}
	cutoff := time.Now().UTC().Add(-age)
	kept := table[:0]
	purged := 0
	for _, rec := range table {
		if rec.SavedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, rec)
	}
	if purged == 0 {
		return 0, nil
	}
	if err := s.saveTable(savedFile, kept); err != nil {
		return 0, err
	}
	return purged, nil
}

// --- categories ---

func (s *FileStore) AddToCategory(ctx context.Context, category, url string) error {
	if strings.TrimSpace(category) == "" {
		return ErrValidation
	}
	s.categoryMu.Lock()
	defer s.categoryMu.Unlock()

	var table []domain.Category
	if err := s.loadTable(categoryFile, &table); err != nil {
		return err
	}
	for i := range table {
		if strings.EqualFold(table[i].Name, category) {
			table[i].URLs = append(table[i].URLs, url)
			return s.saveTable(categoryFile, table)
		}
	}
	table = append(table, domain.Category{Name: category, URLs: []string{url}})
	return s.saveTable(categoryFile, table)
}

func (s *FileStore) RemoveFromCategory(ctx context.Context, category, url string) error {
	s.categoryMu.Lock()
	defer s.categoryMu.Unlock()

	var table []domain.Category
	if err := s.loadTable(categoryFile, &table); err != nil {
		return err
	}
	for i := range table {
		if !strings.EqualFold(table[i].Name, category) {
			continue
		}
		kept := table[i].URLs[:0]
		for _, u := range table[i].URLs {
			if u != url {
				kept = append(kept, u)
			}
		}
		if len(kept) == len(table[i].URLs) {
			return nil
		}
		table[i].URLs = kept
		return s.saveTable(categoryFile, table)
	}
	return nil
}

func (s *FileStore) ListCategories(ctx context.Context) ([]domain.Category, error) {
	s.categoryMu.Lock()
	defer s.categoryMu.Unlock()

	var table []domain.Category
	if err := s.loadTable(categoryFile, &table); err != nil {
		return nil, err
	}
	return table, nil
}

func (s *FileStore) DeleteCategory(ctx context.Context, category string) error {
	s.categoryMu.Lock()
	defer s.categoryMu.Unlock()

	var table []domain.Category
	if err := s.loadTable(categoryFile, &table); err != nil {
		return err
	}
	for i := range table {
		if strings.EqualFold(table[i].Name, category) {
			table = append(table[:i], table[i+1:]...)
			return s.saveTable(categoryFile, table)
		}
	}
	return nil
}

// --- chat settings ---

func (s *FileStore) ChatSettings(ctx context.Context, chatID int64) (domain.ChatSettings, error) {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()

	var table []domain.ChatSettings
	if err := s.loadTable(settingsFile, &table); err != nil {
		return domain.ChatSettings{}, err
	}
	for _, cs := range table {
		if cs.ChatID == chatID {
			return cs, nil
		}
	}
	return domain.ChatSettings{}, ErrNotFound
}

func (s *FileStore) PutChatSettings(ctx context.Context, cs domain.ChatSettings) error {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()

	var table []domain.ChatSettings
	if err := s.loadTable(settingsFile, &table); err != nil {
		return err
	}
	for i := range table {
		if table[i].ChatID == cs.ChatID {
			table[i] = cs
			return s.saveTable(settingsFile, table)
		}
	}
	table = append(table, cs)
	return s.saveTable(settingsFile, table)
}
