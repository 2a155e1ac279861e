package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagepipe/internal/services"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "42_hero.jpg", Key("42", "hero", services.Primary))
	assert.Equal(t, "42_hero.webp", Key("42", "hero", services.Secondary))
	assert.Equal(t, "my-photo_small.jpg", Key("../my photo", "small", services.Primary))
	assert.Equal(t, "image_small.jpg", Key("///", "small", services.Primary))
}

func TestFileSourceID(t *testing.T) {
	id := FileSourceID("2024/beach.JPG", "/srv/uploads/2024/beach.JPG")
	assert.Regexp(t, `^2024-beach-jpg-[0-9a-f]{8}$`, id)
	assert.Equal(t, id, FileSourceID("2024/beach.JPG", "/srv/uploads/2024/beach.JPG"))

	distinct := map[string]struct{}{}
	for _, tc := range [][2]string{
		{"photo.jpg", "/a/photo.jpg"},
		{"photo.png", "/a/photo.png"},
		{"photo.jpg", "/b/photo.jpg"},
		{"a/b-c.jpg", "/r/a/b-c.jpg"},
		{"a-b/c.jpg", "/r/a-b/c.jpg"},
	} {
		distinct[FileSourceID(tc[0], tc[1])] = struct{}{}
	}
	assert.Len(t, distinct, 5)
}

func TestFileStore_PutSet(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	set := services.DerivativeSet{
		services.Primary:   {Format: services.Primary, Data: []byte("jpeg-bytes"), Size: 10},
		services.Secondary: {Format: services.Secondary, Data: []byte("webp"), Size: 4},
	}

	locs, err := PutSet(context.Background(), fs, "article-7", "medium", set)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "article-7_medium.jpg"), locs[services.Primary])
	assert.Equal(t, filepath.Join(dir, "article-7_medium.webp"), locs[services.Secondary])

	data, err := os.ReadFile(locs[services.Primary])
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}

func TestFileStore_RequiresDir(t *testing.T) {
	_, err := NewFileStore("")
	assert.Error(t, err)
}

func TestMinioStore_ObjectURL(t *testing.T) {
	s, err := NewMinioStore(MinioConfig{Endpoint: "localhost:9000", Bucket: "derivatives", Prefix: "/img/"})
	require.NoError(t, err)

	assert.Equal(t, "img/a_hero.jpg", s.objectName("a_hero.jpg"))
	assert.Equal(t, "http://localhost:9000/derivatives/img/a_hero.jpg", s.ObjectURL("img/a_hero.jpg"))

	s.cfg.PublicURL = "https://cdn.example.com/"
	assert.Equal(t, "https://cdn.example.com/img/a_hero.jpg", s.ObjectURL("img/a_hero.jpg"))
}

func TestNewMinioStore_Validation(t *testing.T) {
	_, err := NewMinioStore(MinioConfig{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}
