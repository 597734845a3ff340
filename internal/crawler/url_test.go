package crawler

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "lowercase", in: "HTTPS://Docs.Example.COM/Guide", want: "https://docs.example.com/Guide"},
		{name: "default port", in: "http://example.com:80/a", want: "http://example.com/a"},
		{name: "tls port", in: "https://example.com:443/a", want: "https://example.com/a"},
		{name: "fragment", in: "https://example.com/a#install", want: "https://example.com/a"},
		{name: "query order", in: "https://example.com/a?b=2&a=1", want: "https://example.com/a?a=1&b=2"},
		{name: "empty path", in: "https://example.com", want: "https://example.com/"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestResolveURL(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://example.com/docs/intro")
	require.NoError(t, err)

	got, err := ResolveURL(base, "../api#top")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/api", got)

	got, err = ResolveURL(base, "setup")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/docs/setup", got)
}

func TestValidateSeedURL(t *testing.T) {
	t.Parallel()

	got, err := ValidateSeedURL(" https://Example.com/docs ")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/docs", got)

	for _, raw := range []string{"ftp://example.com", "example.com/docs", "https://", "::::"} {
		_, err := ValidateSeedURL(raw)
		require.Error(t, err, raw)
		require.True(t, errors.Is(err, ErrInvalidInput), raw)
	}
}

func TestSameSiteAndFollowable(t *testing.T) {
	t.Parallel()

	require.True(t, SameSite("https://www.example.com/a", "https://example.com/b"))
	require.False(t, SameSite("https://example.com/a", "https://other.com/a"))
	require.True(t, Followable("https://example.com/guide"))
	require.False(t, Followable("https://example.com/logo.PNG"))
	require.False(t, Followable("mailto:team@example.com"))
}
