// Package watcher optimizes images as they appear in watched directories.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"imagepipe/internal/batch"
)

// Handler receives the record of every processed file.
type Handler func(batch.FileRecord)

// Watcher feeds created or rewritten image files to a batch orchestrator.
// Writes are debounced so a file is processed once its writer goes quiet.
type Watcher struct {
	orch     *batch.Orchestrator
	fsw      *fsnotify.Watcher
	roots    map[string]struct{}
	debounce time.Duration
	handler  Handler

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
	wg      sync.WaitGroup
}

// ErrWatchesOutput is returned by New when a watched directory is the one
// derivatives are written to; every stored derivative would be picked up and
// optimized again.
var ErrWatchesOutput = errors.New("watched directory is the derivative output directory")

// New watches roots (non-recursively). debounce <= 0 uses 500ms.
func New(orch *batch.Orchestrator, roots []string, debounce time.Duration, handler Handler) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		orch:     orch,
		fsw:      fsw,
		roots:    make(map[string]struct{}, len(roots)),
		debounce: debounce,
		handler:  handler,
		pending:  make(map[string]*time.Timer),
	}
	out := orch.OutputDir()
	for _, root := range roots {
		root = filepath.Clean(root)
		if abs, err := filepath.Abs(root); err == nil && out != "" && abs == out {
			fsw.Close()
			return nil, fmt.Errorf("%w: %s", ErrWatchesOutput, root)
		}
		if err := fsw.Add(root); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", root, err)
		}
		w.roots[root] = struct{}{}
	}
	return w, nil
}

// Run processes events until ctx is done. Pending files are abandoned and
// files already being optimized finish before Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	log.Info().Int("dirs", len(w.roots)).Msg("👀 Watching for new images")

	for {
		select {
		case <-ctx.Done():
			w.stopPending()
			w.wg.Wait()
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				w.stopPending()
				w.wg.Wait()
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !w.orch.IsImage(ev.Name) {
				continue
			}
			w.schedule(ctx, ev.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				w.stopPending()
				w.wg.Wait()
				return nil
			}
			log.Warn().Err(err).Msg("⚠️ Watcher error")
		}
	}
}

func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Reset(w.debounce)
		return
	}

	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		if w.closed {
			w.mu.Unlock()
			return
		}
		w.wg.Add(1)
		w.mu.Unlock()
		defer w.wg.Done()

		if ctx.Err() != nil {
			return
		}
		w.process(ctx, path)
	})
}

func (w *Watcher) process(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}

	rec := w.orch.ProcessFile(context.WithoutCancel(ctx), filepath.Dir(path), path)
	if rec.Error != nil {
		log.Warn().Str("file", path).Str("error", *rec.Error).Msg("❌ Watch optimization failed")
	} else {
		log.Info().Str("file", path).Str("preset", rec.ChosenPreset).Msg("✅ Watch optimization done")
	}
	if w.handler != nil {
		w.handler(rec)
	}
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}
