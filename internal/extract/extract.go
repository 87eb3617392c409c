// Package extract turns raw chat message text into candidate resource URLs
// and defines the URL normalization used for deduplication.
package extract

import (
	"net/url"
	"regexp"
	"strings"
)

// urlPattern matches http(s) URLs and bare www. domains embedded in text.
var urlPattern = regexp.MustCompile(`(?:https?://|www\.)\S+`)

// mediaExtensions are path suffixes that mark a URL as media rather than a
// resource worth staging.
var mediaExtensions = []string{
	".gif", ".png", ".jpg", ".jpeg", ".webp", ".bmp", ".mp4", ".mov", ".avi",
}

// mediaDomains host non-resource media; links to them are never staged.
var mediaDomains = []string{
	"giphy.com", "tenor.com", "imgur.com", "gyazo.com",
	"streamable.com", "clippy.gg", "cdn.discordapp.com",
	"media.discordapp.net",
}

// Extractor finds candidate resource URLs in message text. The zero value is
// not usable; construct with New.
type Extractor struct {
	extensions []string
	domains    []string
}

// New returns an Extractor with the default media filters.
func New() *Extractor {
	return &Extractor{extensions: mediaExtensions, domains: mediaDomains}
}

// Extract returns the candidate URLs found in text, in order of appearance.
// Media URLs and tokens that do not parse are skipped silently. The result
// is a fresh slice on every call; Extract has no side effects.
func (e *Extractor) Extract(text string) []string {
	matches := urlPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}

	var out []string
	for _, m := range matches {
		// Trailing sentence punctuation is not part of the URL.
		m = strings.TrimRight(m, ".,;:!?)\"'")
		if strings.HasPrefix(m, "www.") {
			m = "https://" + m
		}
		u, err := url.Parse(m)
		if err != nil || u.Host == "" {
			continue
		}
		if e.isMedia(u) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (e *Extractor) isMedia(u *url.URL) bool {
	path := strings.ToLower(u.Path)
	for _, ext := range e.extensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range e.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
