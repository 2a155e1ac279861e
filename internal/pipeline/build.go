package pipeline

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"imagepipe/internal/batch"
	"imagepipe/internal/cache"
	"imagepipe/internal/classifier"
	"imagepipe/internal/config"
	"imagepipe/internal/pool"
	"imagepipe/internal/services"
	"imagepipe/internal/storage"
)

// NewStore builds the storage backend named by cfg.StorageBackend. It returns
// nil for "none".
func NewStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case "none", "":
		return nil, nil
	case "file":
		fs, err := storage.NewFileStore(cfg.OutputDir)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case "minio":
		ms, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			Prefix:    cfg.Minio.Prefix,
			UseSSL:    cfg.Minio.UseSSL,
			PublicURL: cfg.Minio.PublicURL,
		})
		if err != nil {
			return nil, err
		}
		return ms, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// NewClassifier uses the rules of the pipeline file when present.
func NewClassifier(cfg *config.Config) *classifier.Classifier {
	if len(cfg.Pipeline.Rules) == 0 {
		return classifier.New(classifier.DefaultRules)
	}
	rules := make([]classifier.Rule, len(cfg.Pipeline.Rules))
	for i, r := range cfg.Pipeline.Rules {
		rules[i] = classifier.Rule{Preset: r.Preset, Keywords: r.Keywords}
	}
	return classifier.New(rules)
}

// FromConfig wires every component from cfg and starts the worker pool.
// batchStore overrides the store used by batch runs; pass nil to reuse the
// configured backend.
func FromConfig(cfg *config.Config, batchStore storage.Store) (*Pipeline, error) {
	log.Info().
		Int("count", cfg.BufferPoolSize).
		Str("size", humanize.IBytes(uint64(cfg.BufferSize))).
		Msg("📦 Initializing buffer pool")
	buffers := pool.NewBufferPool(cfg.BufferPoolSize, cfg.BufferSize, cfg.MaxBufferRetain)

	log.Info().Int("workers", cfg.MaxWorkers).Msg("👷 Initializing worker pool")
	workers := pool.NewWorkerPool(cfg.MaxWorkers, cfg.QueueSizeMultiplier)
	if err := workers.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker pool: %w", err)
	}

	store, err := NewStore(cfg)
	if err != nil {
		workers.Stop()
		return nil, err
	}
	if batchStore == nil {
		batchStore = store
	}

	engine := services.NewEngine(
		services.WithMaxInputBytes(cfg.MaxInputBytes),
		services.WithMaxPixels(cfg.MaxInputPixels),
		services.WithBufferPool(buffers),
	)
	cls := NewClassifier(cfg)

	var dc *cache.DerivativeCache
	if cfg.EnableCache {
		dc = cache.New(cfg.CacheTTL, cfg.CacheMaxBytes, 0)
	} else {
		log.Warn().Msg("⚠️  Cache disabled")
	}

	formats := []services.Format{services.Primary, services.Secondary}
	orch := batch.New(engine, cls, workers, batch.Options{
		Extensions:  cfg.Pipeline.Extensions,
		SkipDirs:    append(append([]string{}, batch.DefaultSkipDirs...), cfg.Pipeline.SkipDirs...),
		Formats:     formats,
		Progressive: cfg.DefaultProgressive,
		Store:       batchStore,
		OutputDir:   cfg.OutputDir,
	})

	log.Info().
		Str("max_input", humanize.IBytes(uint64(cfg.MaxInputBytes))).
		Str("storage", cfg.StorageBackend).
		Str("vips", services.VipsVersion()).
		Msg("⚙️  Pipeline ready")

	return New(Options{
		Engine:     engine,
		Resolver:   services.NewResolver(cfg.Pipeline.AllowedHosts),
		Classifier: cls,
		Downloader: services.NewDownloader(buffers, cfg.MaxDownloadSize, cfg.DownloadTimeout).AllowPrivateNetworks(cfg.DownloadAllowPrivate),
		Cache:      dc,
		Store:      store,
		Pool:       workers,
		Batch:      orch,
	}), nil
}
