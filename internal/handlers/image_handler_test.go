package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagepipe/internal/models"
	"imagepipe/internal/pipeline"
	"imagepipe/internal/pool"
	"imagepipe/internal/presets"
	"imagepipe/internal/services"
	"imagepipe/internal/storage"
)

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 80, 60))
	for y := 0; y < 60; y++ {
		for x := 0; x < 80; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 3), uint8(y * 4), 120, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func newApp(t *testing.T, opts pipeline.Options) *fiber.App {
	t.Helper()
	if opts.Pool == nil {
		opts.Pool = pool.NewWorkerPool(2, 2)
		require.NoError(t, opts.Pool.Start())
	}
	p := pipeline.New(opts)
	t.Cleanup(p.Close)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	NewImageHandler(p, 10*time.Second, time.Minute).Register(app.Group("/api"))
	return app
}

func multipartRequest(t *testing.T, target string, file []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if file != nil {
		part, err := w.CreateFormFile("file", "upload.jpg")
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, target string, v interface{}) *http.Request {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestPresets(t *testing.T) {
	app := newApp(t, pipeline.Options{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/presets", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body models.PresetsResponse
	decodeBody(t, resp, &body)
	assert.True(t, body.Success)
	assert.Equal(t, presets.List(), body.Presets)
}

func TestOptimize_JSON(t *testing.T) {
	app := newApp(t, pipeline.Options{})

	resp, err := app.Test(multipartRequest(t, "/api/optimize", testJPEG(t), map[string]string{"preset": "small"}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body models.OptimizeResponse
	decodeBody(t, resp, &body)
	assert.True(t, body.Success)
	assert.Equal(t, "small", body.Preset)
	require.Len(t, body.Derivatives, 1)
	assert.Equal(t, "jpeg", body.Derivatives[0].Format)
	assert.Equal(t, 400, body.Derivatives[0].Width)
	assert.Equal(t, 300, body.Derivatives[0].Height)
	assert.Equal(t, 82, body.Derivatives[0].Quality)
}

func TestOptimize_QualityOverrideAndContext(t *testing.T) {
	app := newApp(t, pipeline.Options{})

	resp, err := app.Test(multipartRequest(t, "/api/optimize", testJPEG(t), map[string]string{
		"context": "sidebar card",
		"quality": "60",
	}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body models.OptimizeResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, "small", body.Preset)
	assert.Equal(t, 60, body.Derivatives[0].Quality)
}

func TestOptimize_Download(t *testing.T) {
	app := newApp(t, pipeline.Options{})

	resp, err := app.Test(multipartRequest(t, "/api/optimize?download=jpeg", testJPEG(t), map[string]string{"preset": "thumbnail"}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "upload_thumbnail.jpg")

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 150, cfg.Width)
	assert.Equal(t, 150, cfg.Height)
}

func TestOptimize_Errors(t *testing.T) {
	tests := []struct {
		name   string
		opts   pipeline.Options
		file   []byte
		fields map[string]string
		target string
		status int
		errMsg string
	}{
		{"missing file", pipeline.Options{}, nil, nil, "/api/optimize", fiber.StatusBadRequest, "Invalid request"},
		{"unknown preset", pipeline.Options{}, []byte("x"), map[string]string{"preset": "poster"}, "/api/optimize", fiber.StatusBadRequest, "Unknown preset"},
		{"corrupt image", pipeline.Options{}, []byte("definitely not a jpeg"), nil, "/api/optimize", fiber.StatusUnprocessableEntity, "Could not decode image"},
		{"bad quality", pipeline.Options{}, []byte("x"), map[string]string{"quality": "high"}, "/api/optimize", fiber.StatusBadRequest, "Invalid request parameters"},
		{"bad format", pipeline.Options{}, []byte("x"), map[string]string{"formats": "gif"}, "/api/optimize", fiber.StatusBadRequest, "Invalid request parameters"},
		{"oversize", pipeline.Options{Engine: services.NewEngine(services.WithMaxInputBytes(16))}, bytes.Repeat([]byte("x"), 64), nil, "/api/optimize", fiber.StatusRequestEntityTooLarge, "Image too large"},
		{"publish without store", pipeline.Options{}, []byte("x"), nil, "/api/publish", fiber.StatusServiceUnavailable, "Storage is not configured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newApp(t, tt.opts)
			resp, err := app.Test(multipartRequest(t, tt.target, tt.file, tt.fields))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			var body models.ErrorResponse
			decodeBody(t, resp, &body)
			assert.False(t, body.Success)
			assert.Equal(t, tt.errMsg, body.Error)
		})
	}
}

func TestOptimizeRemote(t *testing.T) {
	app := newApp(t, pipeline.Options{})

	resp, err := app.Test(jsonRequest(t, "/api/optimize/remote", models.RemoteRequest{
		URL: "https://images.unsplash.com/photo-9", Preset: "large", WebP: true,
	}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body models.RemoteResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, "https://images.unsplash.com/photo-9?w=1200&h=800&fit=crop&crop=faces,center&auto=format&q=85", body.URLs["jpeg"])
	assert.Equal(t, "https://images.unsplash.com/photo-9?w=1200&h=800&fit=crop&crop=faces,center&auto=format&fm=webp&q=78", body.URLs["webp"])

	resp, err = app.Test(jsonRequest(t, "/api/optimize/remote", models.RemoteRequest{URL: "https://example.com/a.jpg"}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestResponsive(t *testing.T) {
	app := newApp(t, pipeline.Options{})

	resp, err := app.Test(jsonRequest(t, "/api/responsive", models.ResponsiveRequest{
		URL: "https://images.unsplash.com/photo-9", Presets: []string{"thumbnail", "hero"},
	}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body models.ResponsiveResponse
	decodeBody(t, resp, &body)
	require.Len(t, body.Sets, 2)
	assert.Contains(t, body.Sets["hero"]["jpeg"], "w=1920&h=1080")
	assert.NotContains(t, body.Sets["hero"], "webp")
}

func TestPublish(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewFileStore(dir)
	require.NoError(t, err)
	app := newApp(t, pipeline.Options{Store: store})

	resp, err := app.Test(multipartRequest(t, "/api/publish", testJPEG(t), map[string]string{
		"preset":    "small",
		"source_id": "post-1",
	}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var body models.PublishResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, "post-1", body.SourceID)
	assert.Contains(t, body.Locations, "small")
	assert.Contains(t, body.Locations, "thumbnail")
	assert.True(t, strings.HasSuffix(body.Locations["thumbnail"]["jpeg"], "post-1_thumbnail.jpg"))
}

func TestBatch_RequiresRoots(t *testing.T) {
	app := newApp(t, pipeline.Options{})

	resp, err := app.Test(jsonRequest(t, "/api/batch", models.BatchRequest{}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	app := newApp(t, pipeline.Options{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body models.HealthResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, "healthy", body.Status)
	assert.Contains(t, body.Stats, "worker_pool")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("wrap: %w", presets.ErrPresetNotFound), fiber.StatusBadRequest},
		{fmt.Errorf("wrap: %w", services.ErrUnsupportedHost), fiber.StatusBadRequest},
		{fmt.Errorf("download failed: %w", services.ErrBlockedAddress), fiber.StatusBadRequest},
		{fmt.Errorf("wrap: %w", services.ErrDecode), fiber.StatusUnprocessableEntity},
		{fmt.Errorf("wrap: %w", services.ErrOversizeInput), fiber.StatusRequestEntityTooLarge},
		{fmt.Errorf("wrap: %w", services.ErrEncode), fiber.StatusInternalServerError},
		{pipeline.ErrNoStore, fiber.StatusServiceUnavailable},
		{errors.New("other"), fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		status, _ := statusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}
