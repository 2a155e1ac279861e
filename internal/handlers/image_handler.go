package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"

	"imagepipe/internal/models"
	"imagepipe/internal/pipeline"
	"imagepipe/internal/presets"
	"imagepipe/internal/services"
)

// ImageHandler exposes the pipeline over HTTP
type ImageHandler struct {
	pipeline       *pipeline.Pipeline
	requestTimeout time.Duration
	batchTimeout   time.Duration
}

// NewImageHandler creates a new image handler
func NewImageHandler(p *pipeline.Pipeline, requestTimeout, batchTimeout time.Duration) *ImageHandler {
	if requestTimeout <= 0 {
		requestTimeout = 2 * time.Minute
	}
	if batchTimeout <= 0 {
		batchTimeout = 30 * time.Minute
	}

	return &ImageHandler{
		pipeline:       p,
		requestTimeout: requestTimeout,
		batchTimeout:   batchTimeout,
	}
}

// Register mounts every route on router
func (h *ImageHandler) Register(router fiber.Router) {
	router.Post("/optimize", h.Optimize)
	router.Post("/optimize/remote", h.OptimizeRemote)
	router.Post("/responsive", h.Responsive)
	router.Post("/import", h.Import)
	router.Post("/publish", h.Publish)
	router.Get("/presets", h.Presets)
	router.Post("/batch", h.Batch)
	router.Get("/health", h.Health)
}

// Optimize handles POST /api/optimize (multipart upload)
func (h *ImageHandler) Optimize(c fiber.Ctx) error {
	start := time.Now()

	data, filename, err := h.readUpload(c)
	if err != nil {
		return h.fail(c, err)
	}

	req, err := parseFormRequest(c)
	if err != nil {
		return badRequest(c, "Invalid request parameters", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.requestTimeout)
	defer cancel()

	res, err := h.pipeline.Optimize(ctx, pipeline.OptimizeRequest{Data: data, Filename: filename, Request: req})
	if err != nil {
		log.Warn().Err(err).Str("file", filename).Msg("❌ Optimize failed")
		return h.fail(c, err)
	}

	if download := c.Query("download"); download != "" {
		return h.sendDerivative(c, res, download, filename)
	}

	log.Info().
		Str("file", filename).
		Str("preset", res.Preset.Name).
		Bool("cache_hit", res.CacheHit).
		Str("size", humanize.Bytes(uint64(res.OriginalSize))).
		Dur("took", time.Since(start)).
		Msg("✅ Optimized upload")

	return c.JSON(optimizeResponse(res, start))
}

// OptimizeRemote handles POST /api/optimize/remote
func (h *ImageHandler) OptimizeRemote(c fiber.Ctx) error {
	var req models.RemoteRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	if req.URL == "" {
		return badRequest(c, "url is required", nil)
	}
	if req.Preset == "" {
		req.Preset = presets.Default
	}

	urls, err := h.pipeline.OptimizeRemote(req.URL, req.Preset, req.WebP)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(models.RemoteResponse{
		Success: true,
		Preset:  req.Preset,
		URLs:    formatKeys(urls),
	})
}

// Responsive handles POST /api/responsive
func (h *ImageHandler) Responsive(c fiber.Ctx) error {
	var req models.ResponsiveRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	if req.URL == "" {
		return badRequest(c, "url is required", nil)
	}

	sets, err := h.pipeline.ResponsiveSet(req.URL, req.Presets, req.WebP)
	if err != nil {
		return h.fail(c, err)
	}

	out := make(map[string]map[string]string, len(sets))
	for name, urls := range sets {
		out[name] = formatKeys(urls)
	}
	return c.JSON(models.ResponsiveResponse{Success: true, Sets: out})
}

// Import handles POST /api/import
func (h *ImageHandler) Import(c fiber.Ctx) error {
	start := time.Now()

	var body models.ImportRequest
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	if body.URL == "" {
		return badRequest(c, "url is required", nil)
	}
	formats, err := services.ParseFormats(body.Formats)
	if err != nil {
		return h.fail(c, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.requestTimeout)
	defer cancel()

	res, err := h.pipeline.ImportRemote(ctx, body.URL, pipeline.Request{
		ContextHint: body.Context,
		Preset:      body.Preset,
		Formats:     formats,
	})
	if err != nil {
		log.Warn().Err(err).Str("url", truncateURL(body.URL)).Msg("❌ Import failed")
		return h.fail(c, err)
	}

	return c.JSON(optimizeResponse(res, start))
}

// Publish handles POST /api/publish (multipart upload plus source_id)
func (h *ImageHandler) Publish(c fiber.Ctx) error {
	start := time.Now()

	data, filename, err := h.readUpload(c)
	if err != nil {
		return h.fail(c, err)
	}

	req, err := parseFormRequest(c)
	if err != nil {
		return badRequest(c, "Invalid request parameters", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.requestTimeout)
	defer cancel()

	pub, err := h.pipeline.Publish(ctx, pipeline.PublishRequest{
		OptimizeRequest: pipeline.OptimizeRequest{Data: data, Filename: filename, Request: req},
		SourceID:        c.FormValue("source_id"),
	})
	if err != nil {
		return h.fail(c, err)
	}

	locs := make(map[string]map[string]string, len(pub.Locations))
	for name, m := range pub.Locations {
		locs[name] = formatKeys(m)
	}

	return c.Status(fiber.StatusCreated).JSON(models.PublishResponse{
		Success:        true,
		SourceID:       pub.SourceID,
		Preset:         pub.Preset.Name,
		Locations:      locs,
		ProcessingTime: fmt.Sprintf("%d", time.Since(start).Milliseconds()),
	})
}

// Presets handles GET /api/presets
func (h *ImageHandler) Presets(c fiber.Ctx) error {
	return c.JSON(models.PresetsResponse{Success: true, Presets: h.pipeline.ListPresets()})
}

// Batch handles POST /api/batch
func (h *ImageHandler) Batch(c fiber.Ctx) error {
	var req models.BatchRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	if len(req.Roots) == 0 {
		return badRequest(c, "roots is required", nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.batchTimeout)
	defer cancel()

	report, err := h.pipeline.RunBatch(ctx, req.Roots)
	if err != nil {
		if report != nil && errors.Is(err, context.DeadlineExceeded) {
			return c.Status(fiber.StatusGatewayTimeout).JSON(models.BatchResponse{Success: false, Report: report})
		}
		return h.fail(c, err)
	}

	return c.JSON(models.BatchResponse{Success: true, Report: report})
}

// Health handles GET /api/health
func (h *ImageHandler) Health(c fiber.Ctx) error {
	return c.JSON(models.HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().Format(time.RFC3339),
		VipsVersion: services.VipsVersion(),
		Stats:       h.pipeline.Stats(),
	})
}

// readUpload reads the "file" form field, rejecting oversize uploads before
// reading them.
func (h *ImageHandler) readUpload(c fiber.Ctx) ([]byte, string, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return nil, "", fmt.Errorf("%w: file is required", errBadRequest)
	}
	if err := h.pipeline.CheckSize(fh.Size); err != nil {
		return nil, fh.Filename, err
	}

	f, err := fh.Open()
	if err != nil {
		return nil, fh.Filename, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fh.Filename, fmt.Errorf("failed to read upload: %w", err)
	}
	return data, fh.Filename, nil
}

func (h *ImageHandler) sendDerivative(c fiber.Ctx, res *pipeline.Result, download, filename string) error {
	f, err := services.ParseFormat(download)
	if err != nil {
		return h.fail(c, err)
	}
	d, ok := res.Derivatives[f]
	if !ok {
		return badRequest(c, fmt.Sprintf("format %s was not requested", f), nil)
	}

	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	if base == "" {
		base = "image"
	}

	c.Set(fiber.HeaderContentType, f.ContentType())
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s_%s.%s"`, base, res.Preset.Name, f.Extension()))
	c.Set("X-Preset", res.Preset.Name)
	c.Set("X-Cache-Hit", strconv.FormatBool(res.CacheHit))
	return c.Send(d.Data)
}

// parseFormRequest reads preset, context, formats, progressive, quality and
// focal_x/focal_y from the form.
func parseFormRequest(c fiber.Ctx) (pipeline.Request, error) {
	req := pipeline.Request{
		Preset:      strings.TrimSpace(c.FormValue("preset")),
		ContextHint: c.FormValue("context"),
	}

	formats, err := services.ParseFormats(c.FormValue("formats"))
	if err != nil {
		return req, err
	}
	req.Formats = formats

	if v := c.FormValue("progressive"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, fmt.Errorf("invalid progressive value %q", v)
		}
		req.Progressive = b
	}

	if v := c.FormValue("quality"); v != "" {
		q, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("invalid quality value %q", v)
		}
		req.QualityOverride = &q
	}

	fx, fy := c.FormValue("focal_x"), c.FormValue("focal_y")
	if fx != "" || fy != "" {
		x, errX := strconv.ParseFloat(fx, 64)
		y, errY := strconv.ParseFloat(fy, 64)
		if errX != nil || errY != nil {
			return req, fmt.Errorf("focal_x and focal_y must both be numbers in [0,1]")
		}
		req.Focal = &services.FocalPoint{X: x, Y: y}
	}

	return req, nil
}

func optimizeResponse(res *pipeline.Result, start time.Time) models.OptimizeResponse {
	out := models.OptimizeResponse{
		Success:        true,
		Preset:         res.Preset.Name,
		Remote:         res.Remote,
		CacheHit:       res.CacheHit,
		OriginalSize:   res.OriginalSize,
		ProcessingTime: fmt.Sprintf("%d", time.Since(start).Milliseconds()),
	}

	for _, f := range res.Derivatives.Formats() {
		d := res.Derivatives[f]
		out.Derivatives = append(out.Derivatives, models.DerivativeInfo{
			Format:      string(f),
			Width:       d.Width,
			Height:      d.Height,
			SizeBytes:   d.Size,
			Quality:     d.Quality,
			Progressive: d.Progressive,
			URL:         d.URL,
		})
	}

	if smallest, ok := res.Derivatives.Smallest(); ok && res.OriginalSize > 0 && !res.Remote {
		pct := float64(res.OriginalSize-smallest.Size) / float64(res.OriginalSize) * 100
		out.SavingsPercent = fmt.Sprintf("%.2f%%", pct)
	}
	return out
}
