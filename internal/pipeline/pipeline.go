// Package pipeline is the entry point for callers: it picks presets,
// dispatches local and remote sources, and wires the engine, resolver,
// batch orchestrator, cache and storage together.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"imagepipe/internal/batch"
	"imagepipe/internal/cache"
	"imagepipe/internal/classifier"
	"imagepipe/internal/pool"
	"imagepipe/internal/presets"
	"imagepipe/internal/services"
	"imagepipe/internal/storage"
)

// ErrNoStore is returned by Publish when no storage backend is configured.
var ErrNoStore = errors.New("no storage backend configured")

// ThumbnailPreset is always produced by Publish.
const ThumbnailPreset = presets.Thumbnail

// Options holds the collaborators of a Pipeline. Engine and Resolver default
// to fresh instances; the rest are optional.
type Options struct {
	Engine     *services.Engine
	Resolver   *services.Resolver
	Classifier *classifier.Classifier
	Downloader *services.Downloader
	Cache      *cache.DerivativeCache
	Store      storage.Store
	Pool       *pool.WorkerPool
	Batch      *batch.Orchestrator
}

// Pipeline serves optimization requests.
type Pipeline struct {
	engine     *services.Engine
	resolver   *services.Resolver
	classifier *classifier.Classifier
	downloader *services.Downloader
	cache      *cache.DerivativeCache
	store      storage.Store
	pool       *pool.WorkerPool
	batch      *batch.Orchestrator
}

// New assembles a pipeline.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		engine:     opts.Engine,
		resolver:   opts.Resolver,
		classifier: opts.Classifier,
		downloader: opts.Downloader,
		cache:      opts.Cache,
		store:      opts.Store,
		pool:       opts.Pool,
		batch:      opts.Batch,
	}
	if p.engine == nil {
		p.engine = services.NewEngine()
	}
	if p.resolver == nil {
		p.resolver = services.NewResolver(nil)
	}
	if p.classifier == nil {
		p.classifier = classifier.New(classifier.DefaultRules)
	}
	return p
}

// Close stops the worker pool and the cache janitor.
func (p *Pipeline) Close() {
	if p.pool != nil {
		p.pool.Stop()
	}
	p.cache.Stop()
}

// CheckSize rejects a source of n bytes that exceeds the input ceiling.
func (p *Pipeline) CheckSize(n int64) error {
	return p.engine.CheckSize(n)
}

// ListPresets returns the registry in declaration order.
func (p *Pipeline) ListPresets() []presets.SizePreset {
	return presets.List()
}

// ResolvePreset applies an explicit preset name when given and classifies
// the hint and filename otherwise.
func (p *Pipeline) ResolvePreset(explicit, hint, filename string) (presets.SizePreset, error) {
	if explicit != "" {
		return presets.Get(explicit)
	}
	return presets.Get(p.classifier.Classify(hint, filename))
}

// Process optimizes src. Local bytes go through the engine; URLs on
// transformable hosts are rewritten without any network access.
func (p *Pipeline) Process(ctx context.Context, src Source, req Request) (*Result, error) {
	switch s := src.(type) {
	case BytesSource:
		return p.Optimize(ctx, OptimizeRequest{Data: s.Data, Filename: s.Filename, Request: req})
	case *BytesSource:
		return p.Optimize(ctx, OptimizeRequest{Data: s.Data, Filename: s.Filename, Request: req})
	case RemoteSource:
		return p.processRemote(s.URL, req)
	case *RemoteSource:
		return p.processRemote(s.URL, req)
	default:
		return nil, fmt.Errorf("unknown source type %T", src)
	}
}

func (p *Pipeline) processRemote(rawURL string, req Request) (*Result, error) {
	preset, err := p.ResolvePreset(req.Preset, req.ContextHint, filenameFromURL(rawURL))
	if err != nil {
		return nil, err
	}
	set, err := p.resolver.ResolveSet(rawURL, preset, req.wantsSecondary())
	if err != nil {
		return nil, err
	}
	return &Result{Remote: true, Preset: preset, Derivatives: set}, nil
}

// Optimize produces the derivative set of an uploaded image.
func (p *Pipeline) Optimize(ctx context.Context, req OptimizeRequest) (*Result, error) {
	if err := p.engine.CheckSize(int64(len(req.Data))); err != nil {
		return nil, err
	}

	preset, err := p.ResolvePreset(req.Preset, req.ContextHint, req.Filename)
	if err != nil {
		return nil, err
	}

	res := &Result{Preset: preset, OriginalSize: int64(len(req.Data))}

	var key string
	if p.cache.Enabled() {
		key = cache.Key(req.Data, preset.Name, services.NormalizeFormats(req.Formats), req.QualityOverride, req.Progressive, req.Focal)
		if entry, ok := p.cache.Get(key); ok {
			res.Derivatives = entry.Set
			res.CacheHit = true
			return res, nil
		}
	}

	opts := services.TransformOptions{
		Formats:         req.Formats,
		Progressive:     req.Progressive,
		QualityOverride: req.QualityOverride,
		Focal:           req.Focal,
	}

	err = p.run(ctx, func(ctx context.Context) error {
		set, err := p.engine.Transform(ctx, req.Data, preset, opts)
		if err != nil {
			return err
		}
		res.Derivatives = set
		return nil
	})
	if err != nil {
		return nil, err
	}

	if key != "" {
		p.cache.Set(key, preset.Name, res.Derivatives)
	}
	return res, nil
}

// OptimizeRemote returns derivative URLs of rawURL at one preset.
func (p *Pipeline) OptimizeRemote(rawURL, presetName string, enableSecondary bool) (map[services.Format]string, error) {
	preset, err := presets.Get(presetName)
	if err != nil {
		return nil, err
	}
	set, err := p.resolver.ResolveSet(rawURL, preset, enableSecondary)
	if err != nil {
		return nil, err
	}
	return urls(set), nil
}

// ResponsiveSet returns derivative URLs of rawURL for every named preset, or
// for the whole registry when names is empty.
func (p *Pipeline) ResponsiveSet(rawURL string, names []string, enableSecondary bool) (map[string]map[services.Format]string, error) {
	if len(names) == 0 {
		names = presets.Names()
	}

	out := make(map[string]map[services.Format]string, len(names))
	for _, name := range names {
		m, err := p.OptimizeRemote(rawURL, name, enableSecondary)
		if err != nil {
			return nil, err
		}
		out[name] = m
	}
	return out, nil
}

// RunBatch optimizes every image under roots.
func (p *Pipeline) RunBatch(ctx context.Context, roots []string) (*batch.Report, error) {
	if p.batch == nil {
		return nil, fmt.Errorf("batch processing is not configured")
	}
	return p.batch.Run(ctx, roots)
}

// Batch returns the orchestrator used by RunBatch, or nil.
func (p *Pipeline) Batch() *batch.Orchestrator {
	return p.batch
}

// ImportRemote downloads an image from a host that cannot transform it and
// optimizes it locally.
func (p *Pipeline) ImportRemote(ctx context.Context, rawURL string, req Request) (*Result, error) {
	if p.downloader == nil {
		return nil, fmt.Errorf("remote import is not configured")
	}

	start := time.Now()
	data, err := p.downloader.Download(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("url", rawURL).Int("bytes", len(data)).Dur("took", time.Since(start)).Msg("📥 Downloaded source")

	return p.Optimize(ctx, OptimizeRequest{Data: data, Filename: filenameFromURL(rawURL), Request: req})
}

// Publish optimizes req and stores every derivative, plus a thumbnail, under
// <source_id>_<preset>.<ext>. The source is decoded once and every preset is
// rendered from the original pixels.
func (p *Pipeline) Publish(ctx context.Context, req PublishRequest) (*Publication, error) {
	if p.store == nil {
		return nil, ErrNoStore
	}
	if err := p.engine.CheckSize(int64(len(req.Data))); err != nil {
		return nil, err
	}

	preset, err := p.ResolvePreset(req.Preset, req.ContextHint, req.Filename)
	if err != nil {
		return nil, err
	}

	id := req.SourceID
	if id == "" {
		id = uuid.NewString()
	}
	id = storage.SanitizeID(id)

	names := []string{preset.Name}
	if preset.Name != ThumbnailPreset {
		names = append(names, ThumbnailPreset)
	}

	pub := &Publication{
		SourceID:    id,
		Preset:      preset,
		Derivatives: make(map[string]services.DerivativeSet, len(names)),
		Locations:   make(map[string]map[services.Format]string, len(names)),
	}

	opts := services.TransformOptions{
		Formats:         req.Formats,
		Progressive:     req.Progressive,
		QualityOverride: req.QualityOverride,
		Focal:           req.Focal,
	}

	err = p.run(ctx, func(ctx context.Context) error {
		src, err := p.engine.Decode(req.Data)
		if err != nil {
			return err
		}
		for _, name := range names {
			sp := presets.MustGet(name)
			set, err := p.engine.Render(ctx, src, sp, opts)
			if err != nil {
				return err
			}
			locs, err := storage.PutSet(ctx, p.store, id, name, set)
			if err != nil {
				return err
			}
			pub.Derivatives[name] = set
			pub.Locations[name] = locs
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("source_id", id).Str("preset", preset.Name).Int("presets", len(names)).Msg("📤 Published derivatives")
	return pub, nil
}

// Stats reports pool, buffer and cache counters for health checks.
func (p *Pipeline) Stats() map[string]interface{} {
	es := p.engine.GetStats()
	bs := p.engine.BufferStats()

	out := map[string]interface{}{
		"engine": map[string]interface{}{
			"total_transforms":  es.TotalTransforms,
			"failed_transforms": es.FailedTransforms,
			"avg_transform_ms":  es.AvgTransformTime.Milliseconds(),
			"max_input_bytes":   p.engine.MaxInputBytes(),
		},
		"buffer_pool": map[string]interface{}{
			"allocated": bs.Allocated,
			"in_use":    bs.InUse,
			"available": bs.Available,
			"hits":      bs.Hits,
			"misses":    bs.Misses,
			"hit_rate":  fmt.Sprintf("%.2f%%", bs.HitRate),
		},
		"cache": p.cache.GetStats(),
	}
	if p.pool != nil {
		ps := p.pool.GetStats()
		out["worker_pool"] = map[string]interface{}{
			"max_workers":    ps.MaxWorkers,
			"active_workers": ps.ActiveWorkers,
			"total_tasks":    ps.TotalTasks,
			"failed_tasks":   ps.FailedTasks,
			"avg_exec_ms":    ps.AvgExecTime.Milliseconds(),
			"queue_size":     ps.QueueSize,
		}
	}
	return out
}

// run executes fn on the worker pool when there is one, bounding how many
// images are decoded at once.
func (p *Pipeline) run(ctx context.Context, fn pool.Task) error {
	if p.pool == nil {
		return fn(ctx)
	}
	return p.pool.Do(ctx, fn)
}

func urls(set services.DerivativeSet) map[services.Format]string {
	out := make(map[services.Format]string, len(set))
	for f, d := range set {
		out[f] = d.URL
	}
	return out
}
