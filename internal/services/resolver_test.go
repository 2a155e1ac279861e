package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagepipe/internal/presets"
)

func TestResolve_Primary(t *testing.T) {
	r := NewResolver(nil)
	hero := presets.MustGet("hero")

	got, err := r.Resolve("https://images.unsplash.com/photo-123?ixlib=rb-4.0&w=50#frag", hero, Primary)
	require.NoError(t, err)
	assert.Equal(t,
		"https://images.unsplash.com/photo-123?w=1920&h=1080&fit=crop&crop=faces,center&auto=format&q=88",
		got)
}

func TestResolve_Secondary(t *testing.T) {
	r := NewResolver(nil)
	thumb := presets.MustGet("thumbnail")

	got, err := r.Resolve("https://acme.imgix.net/a/b.png", thumb, Secondary)
	require.NoError(t, err)
	assert.Equal(t,
		"https://acme.imgix.net/a/b.png?w=150&h=150&fit=crop&crop=faces,center&auto=format&fm=webp&q=70",
		got)
}

func TestResolve_IsDeterministic(t *testing.T) {
	r := NewResolver(nil)
	p := presets.MustGet("medium")
	in := "https://images.unsplash.com/photo-9?x=1"

	a, err := r.Resolve(in, p, Secondary)
	require.NoError(t, err)
	b, err := r.Resolve(in, p, Secondary)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestResolve_UnsupportedHost(t *testing.T) {
	r := NewResolver(nil)
	p := presets.MustGet("medium")

	for _, in := range []string{
		"https://example.com/img.jpg",
		"https://notimgix.net/img.jpg",
		"ftp://images.unsplash.com/img.jpg",
		"images.unsplash.com/img.jpg",
		"://bad",
	} {
		_, err := r.Resolve(in, p, Primary)
		assert.ErrorIs(t, err, ErrUnsupportedHost, in)
		assert.False(t, r.Supports(in), in)
	}
}

func TestResolve_CustomAllowList(t *testing.T) {
	r := NewResolver([]string{" CDN.Example.org "})
	assert.True(t, r.Supports("https://cdn.example.org/x.jpg"))
	assert.True(t, r.Supports("https://eu.cdn.example.org/x.jpg"))
	assert.False(t, r.Supports("https://images.unsplash.com/x.jpg"))
}

func TestResolveSet(t *testing.T) {
	r := NewResolver(nil)
	p := presets.MustGet("large")

	set, err := r.ResolveSet("https://images.unsplash.com/p", p, false)
	require.NoError(t, err)
	assert.Equal(t, []Format{Primary}, set.Formats())

	set, err = r.ResolveSet("https://images.unsplash.com/p", p, true)
	require.NoError(t, err)
	assert.Equal(t, []Format{Primary, Secondary}, set.Formats())
	assert.Contains(t, set[Secondary].URL, "fm=webp")
	assert.Equal(t, p.SecondaryQuality, set[Secondary].Quality)
}
