package watcher

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagepipe/internal/batch"
	"imagepipe/internal/pool"
	"imagepipe/internal/services"
	"imagepipe/internal/storage"
)

func TestWatcher_ProcessesNewImages(t *testing.T) {
	dir := t.TempDir()
	out := t.TempDir()

	store, err := storage.NewFileStore(out)
	require.NoError(t, err)

	wp := pool.NewWorkerPool(1, 1)
	require.NoError(t, wp.Start())
	defer wp.Stop()

	orch := batch.New(services.NewEngine(), nil, wp, batch.Options{
		Formats: []services.Format{services.Primary},
		Store:   store,
	})

	var mu sync.Mutex
	var got []batch.FileRecord
	w, err := New(orch, []string{dir}, 50*time.Millisecond, func(rec batch.FileRecord) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, rec)
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	img := image.NewNRGBA(image.Rect(0, 0, 40, 40))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	img.Set(0, 0, color.NRGBA{255, 0, 0, 255})
	f, err := os.Create(filepath.Join(dir, "profile-avatar.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Nil(t, got[0].Error)
	assert.Equal(t, "thumbnail", got[0].ChosenPreset)
	assert.Regexp(t, `^profile-avatar-png-[0-9a-f]{8}$`, got[0].SourceID)
	assert.FileExists(t, filepath.Join(out, got[0].SourceID+"_thumbnail.jpg"))
}

func TestNew_RejectsOutputDir(t *testing.T) {
	dir := t.TempDir()
	wp := pool.NewWorkerPool(1, 1)

	store, err := storage.NewFileStore(dir)
	require.NoError(t, err)

	for name, opts := range map[string]batch.Options{
		"explicit output dir": {OutputDir: dir},
		"file store dir":      {Store: store},
	} {
		t.Run(name, func(t *testing.T) {
			orch := batch.New(services.NewEngine(), nil, wp, opts)
			_, err := New(orch, []string{filepath.Join(dir, ".")}, 0, nil)
			assert.ErrorIs(t, err, ErrWatchesOutput)
		})
	}

	orch := batch.New(services.NewEngine(), nil, wp, batch.Options{OutputDir: filepath.Join(dir, "out")})
	w, err := New(orch, []string{dir}, 0, nil)
	require.NoError(t, err)
	require.NoError(t, w.fsw.Close())
}

func TestNew_MissingDir(t *testing.T) {
	wp := pool.NewWorkerPool(1, 1)
	orch := batch.New(services.NewEngine(), nil, wp, batch.Options{})

	_, err := New(orch, []string{filepath.Join(t.TempDir(), "missing")}, 0, nil)
	assert.Error(t, err)
}
