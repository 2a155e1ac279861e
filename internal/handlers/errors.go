package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"

	"imagepipe/internal/models"
	"imagepipe/internal/pipeline"
	"imagepipe/internal/presets"
	"imagepipe/internal/services"
)

var errBadRequest = errors.New("bad request")

// statusFor maps pipeline errors to an HTTP status and a short message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return fiber.StatusBadRequest, "Invalid request"
	case errors.Is(err, presets.ErrPresetNotFound):
		return fiber.StatusBadRequest, "Unknown preset"
	case errors.Is(err, services.ErrUnsupportedHost):
		return fiber.StatusBadRequest, "Unsupported image host"
	case errors.Is(err, services.ErrBlockedAddress):
		return fiber.StatusBadRequest, "Remote address not allowed"
	case errors.Is(err, services.ErrUnsupportedFormat):
		return fiber.StatusBadRequest, "Unsupported output format"
	case errors.Is(err, services.ErrOversizeInput):
		return fiber.StatusRequestEntityTooLarge, "Image too large"
	case errors.Is(err, services.ErrDecode):
		return fiber.StatusUnprocessableEntity, "Could not decode image"
	case errors.Is(err, services.ErrEncode):
		return fiber.StatusInternalServerError, "Could not encode derivative"
	case errors.Is(err, pipeline.ErrNoStore):
		return fiber.StatusServiceUnavailable, "Storage is not configured"
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "Processing timed out"
	default:
		return fiber.StatusInternalServerError, "Processing failed"
	}
}

func (h *ImageHandler) fail(c fiber.Ctx, err error) error {
	status, msg := statusFor(err)
	return c.Status(status).JSON(models.ErrorResponse{
		Success: false,
		Error:   msg,
		Details: err.Error(),
	})
}

func badRequest(c fiber.Ctx, msg string, err error) error {
	resp := models.ErrorResponse{Success: false, Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	return c.Status(fiber.StatusBadRequest).JSON(resp)
}

// ErrorHandler renders errors that escape handlers (routing, body limit,
// panics recovered by middleware) in the same JSON shape.
func ErrorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}

	return c.Status(code).JSON(models.ErrorResponse{
		Success: false,
		Error:   message,
	})
}

func formatKeys[V any](m map[services.Format]V) map[string]V {
	out := make(map[string]V, len(m))
	for f, v := range m {
		out[string(f)] = v
	}
	return out
}

func truncateURL(url string) string {
	if len(url) > 60 {
		return url[:57] + "..."
	}
	return url
}
