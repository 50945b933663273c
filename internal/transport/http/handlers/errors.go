package handlers

import (
	"errors"

	"github.com/apphub/backend/internal/core/services"
	"github.com/apphub/backend/internal/domain"
	"github.com/apphub/backend/internal/infrastructure/remote"
	"github.com/apphub/backend/internal/transport/http/dto"
	"github.com/gofiber/fiber/v2"
)

// statusFor maps service errors onto HTTP status codes for the hub API.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrTaskNotFound),
		errors.Is(err, services.ErrFormNotFound),
		errors.Is(err, services.ErrFieldNotFound),
		errors.Is(err, services.ErrTemplateNotFound),
		errors.Is(err, services.ErrPresetNotFound),
		errors.Is(err, services.ErrNoHistory):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrTaskActive):
		return fiber.StatusConflict
	case errors.Is(err, services.ErrNoCredential):
		return fiber.StatusPreconditionRequired
	case errors.Is(err, services.ErrQueueClosed):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, services.ErrCancelFailed),
		errors.Is(err, services.ErrUploadFailed),
		errors.Is(err, services.ErrDownloadFailed),
		errors.Is(err, remote.ErrTransport):
		return fiber.StatusBadGateway
	case errors.Is(err, services.ErrFieldNotFile),
		errors.Is(err, services.ErrFileMIME),
		errors.Is(err, services.ErrMissingFile),
		errors.Is(err, services.ErrInvalidValue),
		errors.Is(err, services.ErrUnknownSource),
		errors.Is(err, services.ErrInvalidAppID),
		errors.Is(err, services.ErrInvalidCeiling),
		errors.Is(err, services.ErrTemplateInvalid),
		errors.Is(err, services.ErrPresetInvalid),
		errors.Is(err, services.ErrCategoryUnknown),
		errors.Is(err, services.ErrCategoryPresetBad),
		errors.Is(err, services.ErrInvalidPath),
		errors.Is(err, services.ErrMissingParams),
		errors.Is(err, services.ErrUnknownCategory),
		errors.Is(err, services.ErrUnknownAction),
		errors.Is(err, remote.ErrInvalidAPIKey):
		return fiber.StatusBadRequest
	}
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

func writeError(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
}

func badRequest(c *fiber.Ctx, msg string, details ...string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg, Details: details})
}
