// Package category maintains the name -> URLs grouping over saved links and
// owns the deletion policy: a non-empty category refuses plain deletion and
// only goes away, members included, when the caller asks for a cascade.
package category

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"linkvault/internal/domain"
	"linkvault/internal/storage"
)

// Index is the category view over a store.
type Index struct {
	store storage.Store
	log   logrus.FieldLogger
}

// NewIndex returns an Index over the given store.
func NewIndex(store storage.Store, logger logrus.FieldLogger) *Index {
	return &Index{
		store: store,
		log:   logger.WithField("component", "category"),
	}
}

// Add records url under name, creating the category on first use. Names are
// matched case-insensitively and the first-seen casing sticks.
func (ix *Index) Add(ctx context.Context, name, url string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty category name", storage.ErrValidation)
	}
	return ix.store.AddToCategory(ctx, name, url)
}

// List returns every category with its member URLs.
func (ix *Index) List(ctx context.Context) ([]domain.Category, error) {
	return ix.store.ListCategories(ctx)
}

// Get returns one category by name, case-insensitively.
func (ix *Index) Get(ctx context.Context, name string) (domain.Category, error) {
	cats, err := ix.store.ListCategories(ctx)
	if err != nil {
		return domain.Category{}, err
	}
	for _, c := range cats {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return domain.Category{}, storage.ErrNotFound
}

// Delete removes a category. A category that still has members is only
// removed when cascade is set, in which case the members' saved records go
// with it; without cascade the call fails with ErrCategoryNotEmpty and
// nothing changes. Deleting an unknown name reports ErrNotFound.
func (ix *Index) Delete(ctx context.Context, name string, cascade bool) error {
	cat, err := ix.Get(ctx, name)
	if err != nil {
		return err
	}

	if len(cat.URLs) > 0 {
		if !cascade {
			return fmt.Errorf("%w: %s holds %d links", storage.ErrCategoryNotEmpty, cat.Name, len(cat.URLs))
		}
		if err := ix.deleteMembers(ctx, cat.Name); err != nil {
			return err
		}
	}

	if err := ix.store.DeleteCategory(ctx, cat.Name); err != nil {
		return err
	}
	ix.log.WithFields(logrus.Fields{
		"category": cat.Name,
		"cascade":  cascade,
	}).Info("Category deleted")
	return nil
}

// deleteMembers removes every saved record filed under the category. Members
// go first so a failure leaves the category visible and retryable rather
// than orphaning its links.
func (ix *Index) deleteMembers(ctx context.Context, name string) error {
	members, err := ix.store.ListSaved(ctx, storage.SavedFilter{Category: name})
	if err != nil {
		return fmt.Errorf("list members of %s: %w", name, err)
	}
	for _, rec := range members {
		if err := ix.store.DeleteSaved(ctx, rec.ID); err != nil {
			return fmt.Errorf("cascade delete %s: %w", rec.ID, err)
		}
	}
	return nil
}
