// Package batch walks directory trees and optimizes every image it finds,
// producing a per-file report.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"imagepipe/internal/classifier"
	"imagepipe/internal/pool"
	"imagepipe/internal/presets"
	"imagepipe/internal/services"
	"imagepipe/internal/storage"
)

// DefaultExtensions are the source file types picked up by a walk.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tif", ".tiff"}

// DefaultSkipDirs hold derivatives from earlier runs.
var DefaultSkipDirs = []string{"optimized", "derivatives", "_derivatives"}

// Options configure an Orchestrator.
type Options struct {
	Extensions  []string
	SkipDirs    []string
	Formats     []services.Format
	Progressive bool

	// Store, when set, receives every derivative. OutputDir is excluded from
	// walks so a run never picks up its own output.
	Store     storage.Store
	OutputDir string
}

// Orchestrator runs batch optimizations over directory trees.
type Orchestrator struct {
	engine     *services.Engine
	classifier *classifier.Classifier
	pool       *pool.WorkerPool

	extensions map[string]struct{}
	skipDirs   map[string]struct{}
	outputDir  string
	formats    []services.Format
	progress   bool
	store      storage.Store
}

// New creates an orchestrator. wp must be started by the caller.
func New(engine *services.Engine, cls *classifier.Classifier, wp *pool.WorkerPool, opts Options) *Orchestrator {
	if cls == nil {
		cls = classifier.New(classifier.DefaultRules)
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	if opts.SkipDirs == nil {
		opts.SkipDirs = DefaultSkipDirs
	}
	if len(opts.Formats) == 0 {
		opts.Formats = []services.Format{services.Primary, services.Secondary}
	}

	o := &Orchestrator{
		engine:     engine,
		classifier: cls,
		pool:       wp,
		extensions: make(map[string]struct{}, len(opts.Extensions)),
		skipDirs:   make(map[string]struct{}, len(opts.SkipDirs)),
		formats:    services.NormalizeFormats(opts.Formats),
		progress:   opts.Progressive,
		store:      opts.Store,
	}
	for _, ext := range opts.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		o.extensions[ext] = struct{}{}
	}
	for _, d := range opts.SkipDirs {
		o.skipDirs[strings.ToLower(d)] = struct{}{}
	}
	if opts.OutputDir == "" {
		if d, ok := opts.Store.(interface{ Dir() string }); ok {
			opts.OutputDir = d.Dir()
		}
	}
	if opts.OutputDir != "" {
		if abs, err := filepath.Abs(opts.OutputDir); err == nil {
			o.outputDir = abs
		}
	}
	return o
}

// OutputDir returns the absolute directory derivatives are written to, or ""
// when none was configured.
func (o *Orchestrator) OutputDir() string {
	return o.outputDir
}

// IsImage reports whether path has one of the configured extensions.
func (o *Orchestrator) IsImage(path string) bool {
	_, ok := o.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

func (o *Orchestrator) skipDir(root, path string, d fs.DirEntry) bool {
	if path == root {
		return false
	}
	name := d.Name()
	if strings.HasPrefix(name, ".") {
		return true
	}
	if _, ok := o.skipDirs[strings.ToLower(name)]; ok {
		return true
	}
	if o.outputDir != "" {
		if abs, err := filepath.Abs(path); err == nil && abs == o.outputDir {
			return true
		}
	}
	return false
}

// Run optimizes every image under roots. Per-file failures are recorded in
// the report and never abort the run. When ctx is cancelled no new file is
// started, files already being processed finish, and the partial report is
// returned together with ctx.Err().
func (o *Orchestrator) Run(ctx context.Context, roots []string) (*Report, error) {
	report := newReport(time.Now())
	if len(roots) == 0 {
		report.finalize(time.Now())
		return report, fmt.Errorf("no directories given")
	}

	log.Info().Strs("roots", roots).Int("workers", o.pool.MaxWorkers()).Msg("🚀 Batch run starting")

	results := make(chan FileRecord)
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		for rec := range results {
			report.add(rec)
		}
	}()

	var inflight sync.WaitGroup
	g, gctx := errgroup.WithContext(ctx)
	for _, root := range roots {
		root := filepath.Clean(root)
		g.Go(func() error {
			return o.walk(gctx, root, results, &inflight)
		})
	}

	walkErr := g.Wait()
	inflight.Wait()
	close(results)
	<-consumed

	report.finalize(time.Now())

	if err := ctx.Err(); err != nil {
		log.Warn().Err(err).Str("summary", report.Summary()).Msg("⚠️ Batch run cancelled")
		return report, err
	}
	if walkErr != nil {
		log.Error().Err(walkErr).Str("summary", report.Summary()).Msg("❌ Batch run aborted")
		return report, walkErr
	}

	log.Info().Str("summary", report.Summary()).Msg("✅ Batch run complete")
	return report, nil
}

func (o *Orchestrator) walk(ctx context.Context, root string, results chan<- FileRecord, inflight *sync.WaitGroup) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("batch root %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("batch root %s: not a directory", root)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			log.Warn().Err(err).Str("path", path).Msg("⚠️ Skipping unreadable entry")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if o.skipDir(root, path, d) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !o.IsImage(path) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		inflight.Add(1)
		err = o.pool.Submit(ctx, func(taskCtx context.Context) error {
			defer inflight.Done()
			if taskCtx.Err() != nil {
				return taskCtx.Err()
			}
			// A started file runs to completion even if the run is cancelled.
			rec := o.ProcessFile(context.WithoutCancel(taskCtx), root, path)
			results <- rec
			if rec.Error != nil {
				return errors.New(*rec.Error)
			}
			return nil
		})
		if err != nil {
			inflight.Done()
			return err
		}
		return nil
	})
}

// ProcessFile optimizes one file found under root. Failures are reported on
// the returned record.
func (o *Orchestrator) ProcessFile(ctx context.Context, root, path string) FileRecord {
	rec := FileRecord{File: path}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	rel = filepath.ToSlash(rel)
	hint := filepath.ToSlash(filepath.Dir(rel))
	if hint == "." {
		hint = ""
	}
	rec.ChosenPreset = o.classifier.Classify(hint, filepath.Base(rel))

	info, err := os.Stat(path)
	if err != nil {
		rec.fail(fmt.Errorf("stat: %w", err))
		return rec
	}
	rec.OriginalSize = info.Size()
	if err := o.engine.CheckSize(info.Size()); err != nil {
		rec.fail(err)
		return rec
	}

	data, err := os.ReadFile(path)
	if err != nil {
		rec.fail(fmt.Errorf("read: %w", err))
		return rec
	}

	preset, err := presets.Get(rec.ChosenPreset)
	if err != nil {
		rec.fail(err)
		return rec
	}

	// Stored runs also get a thumbnail, rendered from the same decode.
	sizes := []presets.SizePreset{preset}
	withThumb := o.store != nil && preset.Name != presets.Thumbnail
	if withThumb {
		sizes = append(sizes, presets.MustGet(presets.Thumbnail))
	}

	sets, err := o.engine.TransformPresets(ctx, data, sizes, services.TransformOptions{
		Formats:     o.formats,
		Progressive: o.progress,
	})
	if err != nil {
		rec.fail(err)
		log.Debug().Err(err).Str("file", path).Msg("❌ Optimization failed")
		return rec
	}
	set := sets[0]

	rec.PerFormatSizes = make(map[services.Format]int64, len(set))
	rec.SavingsPercent = make(map[services.Format]float64, len(set))
	for f, d := range set {
		rec.PerFormatSizes[f] = d.Size
		rec.SavingsPercent[f] = savings(rec.OriginalSize, d.Size)
	}
	if smallest, ok := set.Smallest(); ok {
		rec.smallest = smallest.Size
	}

	if o.store != nil {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		rec.SourceID = storage.FileSourceID(rel, abs)

		locs, err := storage.PutSet(ctx, o.store, rec.SourceID, preset.Name, set)
		if err != nil {
			rec.fail(err)
			return rec
		}
		rec.Outputs = locs

		if withThumb {
			thumbs, err := storage.PutSet(ctx, o.store, rec.SourceID, presets.Thumbnail, sets[1])
			if err != nil {
				rec.fail(err)
				return rec
			}
			rec.ThumbnailOutputs = thumbs
		}
	}

	log.Debug().
		Str("file", path).
		Str("preset", preset.Name).
		Str("before", humanize.Bytes(uint64(rec.OriginalSize))).
		Str("after", humanize.Bytes(uint64(rec.smallest))).
		Msg("✅ Optimized")
	return rec
}
