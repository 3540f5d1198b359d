package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeHost(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"full url", "https://Example.COM/path?q=1", "example.com"},
		{"scheme-less", "feeds.example.org/rss", "feeds.example.org"},
		{"bare host", "example.com", "example.com"},
		{"garbage", "://not a url", "unknown"},
		{"empty", "", "unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, SanitizeHost(tc.raw))
		})
	}
}
