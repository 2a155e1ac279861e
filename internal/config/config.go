package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"imagepipe/internal/presets"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port         string
	AppEnv       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BodyLimit    int

	// Worker pool configuration
	MaxWorkers          int
	QueueSizeMultiplier int
	RequestTimeout      time.Duration

	// Buffer pool configuration
	BufferPoolSize  int
	BufferSize      int
	MaxBufferRetain int

	// Engine configuration
	MaxInputBytes      int64
	MaxInputPixels     int64
	DefaultProgressive bool

	// Cache configuration
	EnableCache   bool
	CacheTTL      time.Duration
	CacheMaxBytes int64

	// Download settings
	DownloadTimeout      time.Duration
	MaxDownloadSize      int64
	DownloadAllowPrivate bool

	// Storage configuration
	StorageBackend string // none/file/minio
	OutputDir      string
	Minio          MinioConfig

	// Batch configuration
	ReportPath string

	// Logging configuration
	LogLevel              string
	LogDir                string
	LogFile               string
	LogMaxSizeMB          int
	LogMaxBackups         int
	LogMaxAgeDays         int
	EnablePerformanceLogs bool

	// Production settings
	EnableCORS bool

	// Pipeline file (YAML) with host, extension and classifier settings
	PipelineConfig string
	Pipeline       PipelineFile
}

// MinioConfig holds object storage settings.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
	PublicURL string
}

// PipelineFile is the optional YAML document named by PIPELINE_CONFIG.
type PipelineFile struct {
	AllowedHosts []string `yaml:"allowed_hosts"`
	Extensions   []string `yaml:"extensions"`
	SkipDirs     []string `yaml:"skip_dirs"`
	Rules        []Rule   `yaml:"rules"`
}

// Rule overrides the classifier keyword table.
type Rule struct {
	Preset   string   `yaml:"preset"`
	Keywords []string `yaml:"keywords"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	// Try to load .env file (optional)
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("Note: .env file not found")
	} else {
		log.Info().Msg("✅ Loaded configuration from .env file")
	}

	maxInput := getInt64("MAX_INPUT_BYTES", 50*1024*1024) // 50MB

	cfg := &Config{
		// Server configuration
		Port:         getEnv("PORT", "5001"),
		AppEnv:       getEnv("APP_ENV", "development"),
		ReadTimeout:  getDuration("READ_TIMEOUT", 2*time.Minute),
		WriteTimeout: getDuration("WRITE_TIMEOUT", 2*time.Minute),
		BodyLimit:    getInt("BODY_LIMIT", int(maxInput)+1024*1024),

		// Worker pool - defaults to one worker per CPU
		MaxWorkers:          getWorkerCount(),
		QueueSizeMultiplier: getInt("QUEUE_SIZE_MULTIPLIER", 4),
		RequestTimeout:      getDuration("REQUEST_TIMEOUT", 2*time.Minute),

		// Buffer pool
		BufferPoolSize:  getInt("BUFFER_POOL_SIZE", 16),
		BufferSize:      getInt("BUFFER_SIZE", 512*1024),
		MaxBufferRetain: getInt("MAX_BUFFER_RETAIN", 16*1024*1024),

		// Engine
		MaxInputBytes:      maxInput,
		MaxInputPixels:     getInt64("MAX_INPUT_PIXELS", 100_000_000), // 100MP
		DefaultProgressive: getBool("DEFAULT_PROGRESSIVE", false),

		// Cache configuration
		EnableCache:   getBool("ENABLE_CACHE", true),
		CacheTTL:      getDuration("CACHE_TTL", 10*time.Minute),
		CacheMaxBytes: getInt64("CACHE_MAX_BYTES", 256*1024*1024), // 256MB

		// Download settings
		DownloadTimeout:      getDuration("DOWNLOAD_TIMEOUT", 30*time.Second),
		MaxDownloadSize:      getInt64("MAX_DOWNLOAD_SIZE", maxInput),
		DownloadAllowPrivate: getBool("DOWNLOAD_ALLOW_PRIVATE", false),

		// Storage
		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", "file")),
		OutputDir:      getEnv("OUTPUT_DIR", "./derivatives"),
		Minio: MinioConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", "derivatives"),
			Prefix:    getEnv("MINIO_PREFIX", ""),
			UseSSL:    getBool("MINIO_USE_SSL", false),
			PublicURL: getEnv("MINIO_PUBLIC_URL", ""),
		},

		// Batch
		ReportPath: getEnv("REPORT_PATH", ""),

		// Logging configuration
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogDir:                getEnv("LOG_DIR", ""),
		LogFile:               getEnv("LOG_FILE", "imagepipe.log"),
		LogMaxSizeMB:          getInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups:         getInt("LOG_MAX_BACKUPS", 3),
		LogMaxAgeDays:         getInt("LOG_MAX_AGE_DAYS", 28),
		EnablePerformanceLogs: getBool("ENABLE_PERFORMANCE_LOGS", true),

		EnableCORS: getBool("ENABLE_CORS", true),

		PipelineConfig: getEnv("PIPELINE_CONFIG", ""),
	}

	if cfg.PipelineConfig != "" {
		pf, err := LoadPipelineFile(cfg.PipelineConfig)
		if err != nil {
			return nil, err
		}
		cfg.Pipeline = *pf
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadPipelineFile parses the YAML pipeline document at path.
func LoadPipelineFile(path string) (*PipelineFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline config: %w", err)
	}

	var pf PipelineFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline config %s: %w", path, err)
	}
	return &pf, nil
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("MAX_WORKERS must be positive")
	}
	if c.MaxInputBytes <= 0 {
		return fmt.Errorf("MAX_INPUT_BYTES must be positive")
	}
	if c.MaxInputPixels <= 0 {
		return fmt.Errorf("MAX_INPUT_PIXELS must be positive")
	}
	switch c.StorageBackend {
	case "none", "file":
	case "minio":
		if c.Minio.Endpoint == "" || c.Minio.Bucket == "" {
			return fmt.Errorf("MINIO_ENDPOINT and MINIO_BUCKET are required for the minio backend")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q (want none, file or minio)", c.StorageBackend)
	}
	if c.StorageBackend == "file" && c.OutputDir == "" {
		return fmt.Errorf("OUTPUT_DIR is required for the file backend")
	}
	return c.Pipeline.Validate()
}

// Validate checks the YAML document.
func (p PipelineFile) Validate() error {
	for _, h := range p.AllowedHosts {
		if strings.TrimSpace(h) == "" || strings.Contains(h, "/") {
			return fmt.Errorf("invalid allowed host %q", h)
		}
	}
	for _, ext := range p.Extensions {
		if strings.TrimSpace(strings.TrimPrefix(ext, ".")) == "" {
			return fmt.Errorf("invalid extension %q", ext)
		}
	}
	for i, r := range p.Rules {
		if r.Preset == "" || len(r.Keywords) == 0 {
			return fmt.Errorf("rule %d needs a preset and at least one keyword", i)
		}
		if !presets.Exists(r.Preset) {
			return fmt.Errorf("rule %d: %w: %q", i, presets.ErrPresetNotFound, r.Preset)
		}
	}
	return nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		log.Warn().Str("key", key).Str("value", value).Int("default", defaultValue).Msg("Invalid integer value, using default")
	}
	return defaultValue
}

func getInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
		log.Warn().Str("key", key).Str("value", value).Int64("default", defaultValue).Msg("Invalid int64 value, using default")
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
		log.Warn().Str("key", key).Str("value", value).Bool("default", defaultValue).Msg("Invalid boolean value, using default")
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		log.Warn().Str("key", key).Str("value", value).Dur("default", defaultValue).Msg("Invalid duration value, using default")
	}
	return defaultValue
}

func getWorkerCount() int {
	if value := os.Getenv("MAX_WORKERS"); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}

	// Image encodes are CPU bound, one worker per core
	return runtime.NumCPU()
}
