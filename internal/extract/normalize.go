package extract

import (
	"net/url"
	"strings"
)

// Normalize canonicalizes a URL for equality comparison: scheme and host are
// lower-cased, default ports stripped, and a bare trailing slash on the path
// is removed so "https://a.example/" equals "https://a.example". Anything
// else, query strings included, stays byte-for-byte significant. Inputs that
// do not parse are returned unchanged so they still compare by exact bytes.
//
// Every storage backend sees links through this one function; backends must
// never diverge in what counts as already seen.
func Normalize(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	switch {
	case u.Scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	u.Host = host

	if u.Path == "/" && u.RawQuery == "" && u.Fragment == "" {
		u.Path = ""
	} else {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String()
}
