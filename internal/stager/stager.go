// Package stager holds a detected link from staging to disposition. A
// staged entry reaches exactly one of three ends: saved with a category,
// ignored, or expired by its timer. The race between a user's disposition
// and the timer is settled by the store's atomic TakePending claim, so the
// outcome stays correct across concurrent callers and process restarts.
package stager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"linkvault/internal/classify"
	"linkvault/internal/domain"
	"linkvault/internal/extract"
	"linkvault/internal/scrape"
	"linkvault/internal/storage"
)

// Defaults are the configured fallbacks a chat's settings can override.
type Defaults struct {
	PendingTTL           time.Duration
	DeletePromptOnExpiry bool
	DefaultCategory      string
}

// Message is one inbound chat event as the gateway hands it over.
type Message struct {
	UserID    int64
	ChatID    int64
	MessageID int
	Author    string
	Text      string
}

// retryInterval is how long an expiry waits before trying again when the
// backend was unreachable at the moment the timer fired.
const retryInterval = 30 * time.Second

// classifyBudget bounds one classification including the client's own
// retries.
const classifyBudget = 45 * time.Second

// Stager runs the pending-link state machine.
type Stager struct {
	store      storage.Store
	extractor  *extract.Extractor
	dedup      *Deduplicator
	classifier classify.Classifier
	scraper    scrape.Scraper
	defaults   Defaults
	log        logrus.FieldLogger

	// OnClassified is invoked from a background goroutine when a verdict
	// arrives for a staged entry. Optional.
	OnClassified func(entry domain.PendingLink, verdict classify.Verdict)

	// OnExpired is invoked when an entry expires holding a prompt message
	// in a chat that wants prompts cleaned up. The hook's work (deleting
	// the chat message) is best-effort. Optional.
	OnExpired func(entry domain.PendingLink)

	timersMu sync.Mutex
	timers   map[string]*time.Timer

	// scopes serializes dedup-check-plus-create per (user, chat) so a
	// burst of identical links yields one staged entry while unrelated
	// scopes proceed concurrently.
	scopesMu sync.Mutex
	scopes   map[Scope]*sync.Mutex
}

// New wires a Stager. scraper may be scrape.Disabled, classifier
// classify.Disabled; staging works the same without them.
func New(store storage.Store, classifier classify.Classifier, scraper scrape.Scraper, defaults Defaults, logger logrus.FieldLogger) *Stager {
	return &Stager{
		store:      store,
		extractor:  extract.New(),
		dedup:      NewDeduplicator(store),
		classifier: classifier,
		scraper:    scraper,
		defaults:   defaults,
		log:        logger.WithField("component", "stager"),
		timers:     make(map[string]*time.Timer),
		scopes:     make(map[Scope]*sync.Mutex),
	}
}

// Settings returns the effective settings for a chat: stored overrides where
// present, configured defaults everywhere else.
func (s *Stager) Settings(ctx context.Context, chatID int64) domain.ChatSettings {
	cs, err := s.store.ChatSettings(ctx, chatID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.WithError(err).WithField("chat_id", chatID).Warn("Reading chat settings failed, using defaults")
		}
		return domain.ChatSettings{
			ChatID:               chatID,
			PendingTTL:           s.defaults.PendingTTL,
			DeletePromptOnExpiry: s.defaults.DeletePromptOnExpiry,
			DefaultCategory:      s.defaults.DefaultCategory,
		}
	}
	if cs.PendingTTL <= 0 {
		cs.PendingTTL = s.defaults.PendingTTL
	}
	if cs.DefaultCategory == "" {
		cs.DefaultCategory = s.defaults.DefaultCategory
	}
	return cs
}

// Ingest extracts candidate URLs from a message and stages each one that is
// not a duplicate in its scope. It returns the entries that were staged.
// A storage failure stops the loop and is returned; entries staged before
// the failure stay staged.
func (s *Stager) Ingest(ctx context.Context, msg Message) ([]domain.PendingLink, error) {
	candidates := s.extractor.Extract(msg.Text)
	if len(candidates) == 0 {
		return nil, nil
	}

	scope := Scope{UserID: msg.UserID, ChatID: msg.ChatID}
	ttl := s.Settings(ctx, msg.ChatID).PendingTTL

	var staged []domain.PendingLink
	for _, url := range candidates {
		entry, err := s.stageOne(ctx, scope, msg, url, ttl)
		if err != nil {
			return staged, err
		}
		if entry != nil {
			staged = append(staged, *entry)
		}
	}
	return staged, nil
}

// stageOne performs the dedup check and the pending create as one atomic
// step relative to other operations on the same scope.
func (s *Stager) stageOne(ctx context.Context, scope Scope, msg Message, url string, ttl time.Duration) (*domain.PendingLink, error) {
	unlock := s.lockScope(scope)
	defer unlock()

	dup, err := s.dedup.IsDuplicate(ctx, scope, url)
	if err != nil {
		return nil, err
	}
	if dup {
		s.log.WithFields(logrus.Fields{
			"user_id": scope.UserID,
			"url":     url,
		}).Debug("Duplicate link, not staging")
		return nil, nil
	}

	entry := domain.PendingLink{
		UserID:    msg.UserID,
		ChatID:    msg.ChatID,
		MessageID: msg.MessageID,
		Author:    msg.Author,
		URL:       url,
		CreatedAt: time.Now().UTC(),
	}
	id, err := s.store.CreatePending(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("stage link: %w", err)
	}
	entry.ID = id

	s.armTimer(id, ttl)
	go s.classifyAsync(entry)

	s.log.WithFields(logrus.Fields{
		"pending_id": id,
		"user_id":    msg.UserID,
		"url":        url,
		"ttl":        ttl,
	}).Info("Link staged")
	return &entry, nil
}

// Attach records the disposition prompt message on a staged entry. An entry
// that already resolved is "too late" and not an error.
func (s *Stager) Attach(ctx context.Context, id string, promptMessageID int) error {
	err := s.store.AttachPromptID(ctx, id, promptMessageID)
	if errors.Is(err, storage.ErrNotFound) {
		s.log.WithField("pending_id", id).Debug("Entry resolved before its prompt was attached")
		return nil
	}
	return err
}

// Dispose resolves a staged entry. With a category it becomes a saved link;
// with an empty category it is ignored and simply dropped. A
// storage.ErrNotFound return means the entry already resolved through
// another transition; callers treat that as an outcome, not a failure.
func (s *Stager) Dispose(ctx context.Context, id, category string) (*domain.SavedLink, error) {
	entry, err := s.store.TakePending(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cancelTimer(id)

	if category == "" {
		s.log.WithFields(logrus.Fields{
			"pending_id": id,
			"url":        entry.URL,
		}).Info("Link ignored")
		return nil, nil
	}

	author := entry.Author
	if author == "" {
		author = "Unknown"
	}
	rec := domain.SavedLink{
		URL:      entry.URL,
		Author:   author,
		UserID:   entry.UserID,
		ChatID:   entry.ChatID,
		Category: category,
		SavedAt:  time.Now().UTC(),
		Active:   true,
	}
	recID, err := s.store.CreateSaved(ctx, rec)
	if err != nil {
		// The claim succeeded but the save did not. Put the entry back so
		// the link is not lost, and re-arm its timer.
		if restoredID, rerr := s.store.CreatePending(ctx, entry); rerr != nil {
			s.log.WithError(rerr).WithField("url", entry.URL).Error("Could not restore pending entry after failed save")
		} else {
			s.armTimer(restoredID, s.Settings(ctx, entry.ChatID).PendingTTL)
		}
		return nil, fmt.Errorf("save link: %w", err)
	}
	rec.ID = recID

	if err := s.store.AddToCategory(ctx, category, entry.URL); err != nil {
		// The save already succeeded; log and move on rather than telling
		// the user their link was lost.
		s.log.WithError(err).WithFields(logrus.Fields{
			"saved_id": recID,
			"category": category,
		}).Error("Category index update failed after save")
	}

	go s.enrich(rec)

	s.log.WithFields(logrus.Fields{
		"saved_id": recID,
		"url":      rec.URL,
		"category": category,
	}).Info("Link saved")
	return &rec, nil
}

// Resume re-arms expiry timers for a user's surviving pending entries and
// returns them, oldest first. Entries already past their deadline expire
// right away and are not returned. Called when stored entries are
// re-surfaced after a restart.
func (s *Stager) Resume(ctx context.Context, userID int64) ([]domain.PendingLink, error) {
	entries, err := s.store.ListPending(ctx, userID)
	if err != nil {
		return nil, err
	}

	var out []domain.PendingLink
	for _, e := range entries {
		ttl := s.Settings(ctx, e.ChatID).PendingTTL
		remaining := time.Until(e.CreatedAt.Add(ttl))
		if remaining <= 0 {
			go s.expire(e.ID)
			continue
		}
		s.armTimerIfAbsent(e.ID, remaining)
		out = append(out, e)
	}
	return out, nil
}

// Stop cancels every running expiry timer. Pending entries stay in storage
// and resume on the next start.
func (s *Stager) Stop() {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// expire is the timer-fired transition.
func (s *Stager) expire(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	entry, err := s.store.TakePending(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		// A disposition won the race. Nothing to do.
		s.forgetTimer(id)
		return
	}
	if err != nil {
		s.log.WithError(err).WithField("pending_id", id).Warn("Expiry could not reach storage, will retry")
		s.armTimer(id, retryInterval)
		return
	}
	s.forgetTimer(id)

	s.log.WithFields(logrus.Fields{
		"pending_id": id,
		"url":        entry.URL,
	}).Info("Link expired unanswered")

	if entry.PromptMessageID != 0 && s.Settings(ctx, entry.ChatID).DeletePromptOnExpiry {
		if cb := s.OnExpired; cb != nil {
			cb(entry)
		}
	}
}

func (s *Stager) classifyAsync(entry domain.PendingLink) {
	ctx, cancel := context.WithTimeout(context.Background(), classifyBudget)
	defer cancel()

	verdict, err := s.classifier.Classify(ctx, entry.URL)
	if err != nil {
		s.log.WithError(err).WithField("url", entry.URL).Warn("Classification failed, proceeding unscored")
		verdict = classify.ManualReview()
	}
	if cb := s.OnClassified; cb != nil {
		cb(entry, verdict)
	}
}

// enrich scrapes page metadata onto a freshly saved record. Best-effort.
func (s *Stager) enrich(rec domain.SavedLink) {
	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Second)
	defer cancel()

	title, description, err := s.scraper.Metadata(ctx, rec.URL)
	if err != nil {
		s.log.WithError(err).WithField("url", rec.URL).Debug("Metadata scrape failed")
		return
	}
	if title == "" && description == "" {
		return
	}
	err = s.store.UpdateSavedMetadata(ctx, rec.ID, title, description)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.log.WithError(err).WithField("saved_id", rec.ID).Warn("Storing scraped metadata failed")
	}
}

func (s *Stager) armTimer(id string, ttl time.Duration) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	s.timers[id] = time.AfterFunc(ttl, func() { s.expire(id) })
}

func (s *Stager) armTimerIfAbsent(id string, ttl time.Duration) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	if _, ok := s.timers[id]; ok {
		return
	}
	s.timers[id] = time.AfterFunc(ttl, func() { s.expire(id) })
}

// cancelTimer stops and forgets a timer synchronously with the transition
// that resolved its entry. A timer that already fired is harmless: its
// expire call loses the TakePending race and no-ops.
func (s *Stager) cancelTimer(id string) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *Stager) forgetTimer(id string) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	delete(s.timers, id)
}

// lockScope returns the unlock for the scope's mutex, creating it on first
// use. Scope mutexes are never reclaimed; the population is bounded by
// active (user, chat) pairs.
func (s *Stager) lockScope(scope Scope) func() {
	s.scopesMu.Lock()
	mu, ok := s.scopes[scope]
	if !ok {
		mu = &sync.Mutex{}
		s.scopes[scope] = mu
	}
	s.scopesMu.Unlock()

	mu.Lock()
	return mu.Unlock
}
