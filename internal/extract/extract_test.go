package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	e := New()

	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "plain http url",
			text: "check out https://example.com/paper please",
			want: []string{"https://example.com/paper"},
		},
		{
			name: "bare www domain gets a scheme",
			text: "see www.example.org/docs for details",
			want: []string{"https://www.example.org/docs"},
		},
		{
			name: "multiple urls keep order",
			text: "https://a.example/one and https://b.example/two",
			want: []string{"https://a.example/one", "https://b.example/two"},
		},
		{
			name: "media extension skipped",
			text: "lol https://example.com/cat.GIF",
			want: nil,
		},
		{
			name: "media domain skipped",
			text: "https://media.giphy.com/xyz https://example.com/real",
			want: []string{"https://example.com/real"},
		},
		{
			name: "trailing punctuation trimmed",
			text: "read https://example.com/a.",
			want: []string{"https://example.com/a"},
		},
		{
			name: "malformed token skipped silently",
			text: "https://%zz%broken and nothing else",
			want: nil,
		},
		{
			name: "no urls",
			text: "just chatting, nothing to see",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Extract(tt.text))
		})
	}
}

func TestExtractIsRestartable(t *testing.T) {
	e := New()
	text := "https://example.com/a https://example.com/b"

	first := e.Extract(text)
	second := e.Extract(text)
	assert.Equal(t, first, second)

	// Mutating one result must not leak into the next call.
	first[0] = "clobbered"
	assert.Equal(t, second, e.Extract(text))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"case folds scheme and host", "HTTPS://Example.COM/Path", "https://example.com/Path"},
		{"strips default https port", "https://example.com:443/x", "https://example.com/x"},
		{"strips default http port", "http://example.com:80/x", "http://example.com/x"},
		{"keeps non-default port", "https://example.com:8443/x", "https://example.com:8443/x"},
		{"trailing slash equivalence", "https://example.com/docs/", "https://example.com/docs"},
		{"root slash equivalence", "https://example.com/", "https://example.com"},
		{"query stays significant", "https://example.com/a?b=1", "https://example.com/a?b=1"},
		{"unparseable returned verbatim", "http://%zz", "http://%zz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	for _, in := range []string{
		"HTTPS://Example.COM:443/Docs/",
		"http://example.com/",
		"https://example.com/a?b=1",
	} {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), in)
	}
}
