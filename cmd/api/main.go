package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/rs/zerolog/log"

	"imagepipe/internal/config"
	"imagepipe/internal/handlers"
	"imagepipe/internal/logging"
	"imagepipe/internal/pipeline"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Invalid configuration")
	}

	// Set up logging
	closer, err := logging.Setup(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to set up logging")
	}
	defer closer.Close()

	log.Info().Msg("🚀 Starting imagepipe API...")

	p, err := pipeline.FromConfig(cfg, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to initialize pipeline")
	}

	imageHandler := handlers.NewImageHandler(p, cfg.RequestTimeout, 0)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ServerHeader: "imagepipe",
		AppName:      "imagepipe Derivative API",
		BodyLimit:    cfg.BodyLimit,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		ErrorHandler: handlers.ErrorHandler,
	})

	// Middleware
	app.Use(recover.New())

	if cfg.EnableCORS {
		app.Use(cors.New(cors.Config{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{"GET", "POST", "HEAD", "OPTIONS"},
			AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		}))
	}

	if cfg.EnablePerformanceLogs {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		}))
	}

	// Routes
	imageHandler.Register(app.Group("/api"))

	// Root endpoint
	app.Get("/", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"service": "imagepipe Derivative API",
			"version": "1.0.0",
			"status":  "running",
			"endpoints": []string{
				"POST /api/optimize",
				"POST /api/optimize/remote",
				"POST /api/responsive",
				"POST /api/import",
				"POST /api/publish",
				"GET  /api/presets",
				"POST /api/batch",
				"GET  /api/health",
			},
		})
	})

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)

		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Info().Msg("🛑 Shutting down gracefully...")

		// Stop accepting requests first so in-flight optimizations finish
		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Warn().Err(err).Msg("⚠️  Error during shutdown")
		}

		// Stop worker pool and cache cleanup
		p.Close()

		log.Info().Msg("👋 Goodbye!")
	}()

	// Start server
	log.Info().
		Str("port", cfg.Port).
		Str("env", cfg.AppEnv).
		Int("workers", cfg.MaxWorkers).
		Msg("🌐 Server starting")
	log.Info().Msg("✅ Ready to optimize images!")

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to start server")
	}
	<-done
}
