// Package stats computes read-only summaries over the saved collection.
// Every call recomputes from storage; with collections this size a cache
// would only add staleness.
package stats

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"linkvault/internal/domain"
	"linkvault/internal/storage"
)

// topN bounds each breakdown in a Summary.
const topN = 5

// Count is one bucket of a breakdown.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Summary is a point-in-time view over all active saved links.
type Summary struct {
	Total       int     `json:"total"`
	ByCategory  []Count `json:"by_category"`
	ByDomain    []Count `json:"by_domain"`
	ByAuthor    []Count `json:"by_author"`
	GeneratedAt string  `json:"generated_at"`
}

// Aggregator answers stats queries against a store.
type Aggregator struct {
	store storage.Store
}

// New returns an Aggregator over the given store.
func New(store storage.Store) *Aggregator {
	return &Aggregator{store: store}
}

// Summarize builds the full summary. An empty collection yields zero counts
// and empty breakdowns, not an error.
func (a *Aggregator) Summarize(ctx context.Context) (Summary, error) {
	recs, err := a.store.ListSaved(ctx, storage.SavedFilter{})
	if err != nil {
		return Summary{}, fmt.Errorf("stats: %w", err)
	}

	byCategory := map[string]int{}
	byDomain := map[string]int{}
	byAuthor := map[string]int{}
	for _, rec := range recs {
		if rec.Category != "" {
			byCategory[rec.Category]++
		}
		if d := Domain(rec.URL); d != "" {
			byDomain[d]++
		}
		if rec.Author != "" {
			byAuthor[rec.Author]++
		}
	}

	return Summary{
		Total:       len(recs),
		ByCategory:  top(byCategory),
		ByDomain:    top(byDomain),
		ByAuthor:    top(byAuthor),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// Recent returns the n most recently saved links, newest first.
func (a *Aggregator) Recent(ctx context.Context, n int) ([]domain.SavedLink, error) {
	recs, err := a.store.ListSaved(ctx, storage.SavedFilter{})
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].SavedAt.After(recs[j].SavedAt) })
	if n > 0 && len(recs) > n {
		recs = recs[:n]
	}
	return recs, nil
}

// Domain extracts the host a URL counts under. A leading "www." is stripped
// so www.example.com and example.com land in one bucket.
func Domain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// top sorts a counting map into its topN buckets, count descending with key
// as the tiebreaker so output is stable.
func top(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

// ExportJSON renders every active saved link as indented JSON.
func (a *Aggregator) ExportJSON(ctx context.Context) ([]byte, error) {
	recs, err := a.store.ListSaved(ctx, storage.SavedFilter{})
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return json.MarshalIndent(recs, "", "  ")
}

// ExportCSV renders every active saved link as CSV with a header row.
func (a *Aggregator) ExportCSV(ctx context.Context) ([]byte, error) {
	recs, err := a.store.ListSaved(ctx, storage.SavedFilter{})
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"url", "category", "author", "saved_at", "clicks", "title"}); err != nil {
		return nil, err
	}
	for _, rec := range recs {
		row := []string{
			rec.URL,
			rec.Category,
			rec.Author,
			rec.SavedAt.UTC().Format(time.RFC3339),
			strconv.Itoa(rec.Clicks),
			rec.Title,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
