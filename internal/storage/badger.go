package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"linkvault/internal/domain"
)

// Key prefixes for the logical tables inside the single Badger keyspace.
const (
	pendingPrefix  = "pending:"
	savedPrefix    = "saved:"
	categoryPrefix = "cat:"
	settingsPrefix = "chat:"
)

// BadgerStore implements Store on an embedded BadgerDB. Per-record atomicity
// comes from Badger transactions; no extra locking is needed.
type BadgerStore struct {
	db  *badger.DB
	log logrus.FieldLogger
}

// NewBadgerStore opens the database at dbPath.
func NewBadgerStore(dbPath string, logger logrus.FieldLogger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = &badgerLogger{logger.WithField("component", "badgerdb")}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger db at %s: %v", ErrUnavailable, dbPath, err)
	}
	log := logger.WithField("component", "badgerstore")
	log.WithField("path", dbPath).Info("BadgerDB opened")

	return &BadgerStore{db: db, log: log}, nil
}

func (s *BadgerStore) Close() error {
	s.log.Info("Closing BadgerDB")
	return s.db.Close()
}

func pendingKey(id string) []byte     { return []byte(pendingPrefix + id) }
func savedKey(id string) []byte       { return []byte(savedPrefix + id) }
func categoryKey(name string) []byte  { return []byte(categoryPrefix + strings.ToLower(name)) }
func settingsKey(chatID int64) []byte { return []byte(fmt.Sprintf("%s%d", settingsPrefix, chatID)) }

// putJSON sets key to the JSON encoding of v inside txn.
func putJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.SetEntry(badger.NewEntry(key, data))
}

// getJSON reads key into dst. Returns ErrNotFound for a missing key; a value
// that no longer parses is treated the same way rather than poisoning the
// caller.
func (s *BadgerStore) getJSON(txn *badger.Txn, key []byte, dst any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, dst); err != nil {
			s.log.WithError(err).WithField("key", string(key)).Warn("Corrupt record, treating as missing")
			return ErrNotFound
		}
		return nil
	})
}

// scanJSON visits every record under prefix, skipping corrupt values.
func scanJSON[T any](s *BadgerStore, prefix string, visit func(T)) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var rec T
				if err := json.Unmarshal(val, &rec); err != nil {
					s.log.WithError(err).WithField("key", string(item.Key())).Warn("Skipping corrupt record")
					return nil
				}
				visit(rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// --- pending links ---

func (s *BadgerStore) CreatePending(ctx context.Context, entry domain.PendingLink) (string, error) {
	if err := validatePending(entry); err != nil {
		return "", err
	}
	entry.ID = uuid.NewString()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, pendingKey(entry.ID), entry)
	})
	if err != nil {
		return "", fmt.Errorf("create pending: %w", err)
	}
	return entry.ID, nil
}

func (s *BadgerStore) GetPending(ctx context.Context, id string) (domain.PendingLink, error) {
	var entry domain.PendingLink
	err := s.db.View(func(txn *badger.Txn) error {
		return s.getJSON(txn, pendingKey(id), &entry)
	})
	if err != nil {
		return domain.PendingLink{}, err
	}
	return entry, nil
}

func (s *BadgerStore) TakePending(ctx context.Context, id string) (domain.PendingLink, error) {
	var entry domain.PendingLink
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := s.getJSON(txn, pendingKey(id), &entry); err != nil {
			return err
		}
		return txn.Delete(pendingKey(id))
	})
	if err != nil {
		return domain.PendingLink{}, err
	}
	return entry, nil
}

func (s *BadgerStore) AttachPromptID(ctx context.Context, id string, messageID int) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var entry domain.PendingLink
		if err := s.getJSON(txn, pendingKey(id), &entry); err != nil {
			return err
		}
		entry.PromptMessageID = messageID
		return putJSON(txn, pendingKey(id), entry)
	})
}

func (s *BadgerStore) DeletePending(ctx context.Context, id string) error {
	// Badger's Delete does not care whether the key exists, which is
	// exactly the idempotency the contract asks for.
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(pendingKey(id))
	})
}

func (s *BadgerStore) ListPending(ctx context.Context, userID int64) ([]domain.PendingLink, error) {
	var out []domain.PendingLink
	err := scanJSON(s, pendingPrefix, func(e domain.PendingLink) {
		if e.UserID == userID {
			out = append(out, e)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("list pending for user %d: %w", userID, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- saved links ---

func (s *BadgerStore) CreateSaved(ctx context.Context, rec domain.SavedLink) (string, error) {
	if err := validateSaved(rec); err != nil {
		return "", err
	}
	rec.ID = uuid.NewString()
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now().UTC()
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, savedKey(rec.ID), rec)
	})
	if err != nil {
		return "", fmt.Errorf("create saved: %w", err)
	}
	return rec.ID, nil
}

func (s *BadgerStore) ListSaved(ctx context.Context, filter SavedFilter) ([]domain.SavedLink, error) {
	var out []domain.SavedLink
	err := scanJSON(s, savedPrefix, func(rec domain.SavedLink) {
		if filter.Match(rec) {
			out = append(out, rec)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("list saved: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SavedAt.Before(out[j].SavedAt) })
	return out, nil
}

func (s *BadgerStore) UpdateSavedMetadata(ctx context.Context, id, title, description string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var rec domain.SavedLink
		if err := s.getJSON(txn, savedKey(id), &rec); err != nil {
			return err
		}
		rec.Title = title
		rec.Description = description
		return putJSON(txn, savedKey(id), rec)
	})
}

func (s *BadgerStore) IncrementClicks(ctx context.Context, ids []string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			var rec domain.SavedLink
			err := s.getJSON(txn, savedKey(id), &rec)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			rec.Clicks++
			if err := putJSON(txn, savedKey(id), rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) DeleteSaved(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(savedKey(id))
	})
}

func (s *BadgerStore) ClearSaved(ctx context.Context) error {
	return s.dropPrefix(savedPrefix)
}

func (s *BadgerStore) PurgeOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-age)
	var stale []string
	err := scanJSON(s, savedPrefix, func(rec domain.SavedLink) {
		if rec.SavedAt.Before(cutoff) {
			stale = append(stale, rec.ID)
		}
	})
	if err != nil {
		return 0, err
	}
	for _, id := range stale {
		if err := s.DeleteSaved(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// --- categories ---

func (s *BadgerStore) AddToCategory(ctx context.Context, category, url string) error {
	if strings.TrimSpace(category) == "" {
		return ErrValidation
	}
	return s.db.Update(func(txn *badger.Txn) error {
		var cat domain.Category
		err := s.getJSON(txn, categoryKey(category), &cat)
		if errors.Is(err, ErrNotFound) {
			cat = domain.Category{Name: category}
		} else if err != nil {
			return err
		}
		cat.URLs = append(cat.URLs, url)
		return putJSON(txn, categoryKey(category), cat)
	})
}

func (s *BadgerStore) RemoveFromCategory(ctx context.Context, category, url string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var cat domain.Category
		err := s.getJSON(txn, categoryKey(category), &cat)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		kept := cat.URLs[:0]
		for _, u := range cat.URLs {
			if u != url {
				kept = append(kept, u)
			}
		}
		if len(kept) == len(cat.URLs) {
			return nil
		}
		cat.URLs = kept
		return putJSON(txn, categoryKey(category), cat)
	})
}

func (s *BadgerStore) ListCategories(ctx context.Context) ([]domain.Category, error) {
	var out []domain.Category
	err := scanJSON(s, categoryPrefix, func(cat domain.Category) {
		out = append(out, cat)
	})
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *BadgerStore) DeleteCategory(ctx context.Context, category string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(categoryKey(category))
	})
}

// --- chat settings ---

func (s *BadgerStore) ChatSettings(ctx context.Context, chatID int64) (domain.ChatSettings, error) {
	var cs domain.ChatSettings
	err := s.db.View(func(txn *badger.Txn) error {
		return s.getJSON(txn, settingsKey(chatID), &cs)
	})
	if err != nil {
		return domain.ChatSettings{}, err
	}
	return cs, nil
}

func (s *BadgerStore) PutChatSettings(ctx context.Context, cs domain.ChatSettings) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, settingsKey(cs.ChatID), cs)
	})
}

func (s *BadgerStore) dropPrefix(prefix string) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// badgerLogger adapts logrus to Badger's internal logger interface.
type badgerLogger struct {
	logger logrus.FieldLogger
}

func (l *badgerLogger) Errorf(f string, v ...interface{})   { l.logger.Errorf(f, v...) }
func (l *badgerLogger) Warningf(f string, v ...interface{}) { l.logger.Warningf(f, v...) }
func (l *badgerLogger) Infof(f string, v ...interface{})    { l.logger.Infof(f, v...) }
func (l *badgerLogger) Debugf(f string, v ...interface{})   { l.logger.Debugf(f, v...) }
