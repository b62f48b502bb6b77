package derivation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fahadfarid28/home-sub000/internal/pak"
)

func TestNegotiate(t *testing.T) {
	thumb := RedirectAsset(
		RedirectOption{ContentType: "image/avif", Route: "/t.avif"},
		RedirectOption{ContentType: "image/webp", Route: "/t.webp"},
		RedirectOption{ContentType: "image/jpeg", Route: "/t.jpg"},
	)

	tests := []struct {
		name   string
		accept string
		want   pak.Route
	}{
		{"empty header", "", "/t.jpg"},
		{"exact match", "image/webp", "/t.webp"},
		{"first listed option wins a tie", "image/webp,image/avif", "/t.avif"},
		{"bare wildcard falls back", "*/*", "/t.jpg"},
		{"exact beats bare wildcard", "image/webp,*/*", "/t.webp"},
		{"type wildcard", "image/*", "/t.avif"},
		{"q=0 refuses a type", "image/avif;q=0,image/webp", "/t.webp"},
		{"q=0 overrides a type wildcard", "image/*,image/avif;q=0", "/t.webp"},
		{"everything refused", "image/avif;q=0,image/webp;q=0.0", "/t.jpg"},
		{"higher q wins", "image/avif;q=0.5,image/webp;q=0.9", "/t.webp"},
		{"exact beats wildcard at equal q", "image/webp,image/*;q=1", "/t.webp"},
		{"wildcard q below exact", "image/webp,image/png,image/*;q=0.8,*/*;q=0.5", "/t.webp"},
		{"browser header", "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8", "/t.avif"},
		{"case insensitive", "Image/WebP", "/t.webp"},
		{"unrelated types", "text/html,application/json", "/t.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route, ok := thumb.Negotiate(tt.accept)
			require.True(t, ok)
			assert.Equal(t, tt.want, route)
		})
	}
}

func TestNegotiateWithoutOptions(t *testing.T) {
	_, ok := InlineAsset([]byte("x"), "text/plain").Negotiate("*/*")
	assert.False(t, ok)
}
