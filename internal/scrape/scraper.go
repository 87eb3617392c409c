// Package scrape fetches page titles and descriptions to enrich saved
// links. Enrichment is strictly best-effort: a scrape failure only costs the
// metadata, never the save.
package scrape

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
)

// Scraper fetches metadata for a URL.
type Scraper interface {
	Metadata(ctx context.Context, url string) (title, description string, err error)
}

// Disabled is used when no browser is available; saves proceed unenriched.
type Disabled struct{}

func (Disabled) Metadata(ctx context.Context, url string) (string, string, error) {
	return "", "", nil
}

// pageBudget bounds one scrape end to end.
const pageBudget = 30 * time.Second

// RodScraper drives a single persistent headless browser. Pages are opened
// and closed per call; the browser lives for the process.
type RodScraper struct {
	browser *rod.Browser
	log     logrus.FieldLogger
}

// NewRodScraper launches the browser. Callers that cannot tolerate a missing
// browser executable should fall back to Disabled.
func NewRodScraper(logger logrus.FieldLogger) (*RodScraper, error) {
	log := logger.WithField("component", "scraper")

	path, ok := launcher.LookPath()
	if !ok {
		return nil, errors.New("no browser executable found")
	}
	u, err := launcher.New().Bin(path).Launch()
	if err != nil {
		return nil, err
	}
	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, err
	}
	log.Info("Headless browser ready")

	return &RodScraper{browser: browser, log: log}, nil
}

// Close shuts the browser down.
func (s *RodScraper) Close() error {
	s.log.Info("Closing headless browser")
	return s.browser.Close()
}

var descriptionSelectors = []string{
	`meta[name="description"]`,
	`meta[property="og:description"]`,
}

// Metadata loads the page and pulls the title and the first non-empty meta
// description. Missing elements are not errors; only failing to load the
// page is.
func (s *RodScraper) Metadata(ctx context.Context, url string) (string, string, error) {
	log := s.log.WithField("url", url)

	ctx, cancel := context.WithTimeout(ctx, pageBudget)
	defer cancel()

	page, err := s.browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return "", "", err
	}
	defer func() {
		if err := page.Close(); err != nil {
			log.WithError(err).Debug("Closing page failed")
		}
	}()
	page = page.Context(ctx)

	if err := page.WaitLoad(); err != nil {
		return "", "", err
	}

	var title string
	if el, err := page.Element("title"); err == nil {
		if text, err := el.Text(); err == nil {
			title = strings.TrimSpace(text)
		}
	}

	var description string
	for _, sel := range descriptionSelectors {
		el, err := page.Element(sel)
		if err != nil {
			continue
		}
		content, err := el.Attribute("content")
		if err != nil || content == nil {
			continue
		}
		if d := strings.TrimSpace(*content); d != "" {
			description = d
			break
		}
	}

	return title, description, nil
}
