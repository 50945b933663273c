package handlers

import (
	"github.com/apphub/backend/internal/core/services"
	"github.com/apphub/backend/internal/infrastructure/logger"
	"github.com/apphub/backend/internal/infrastructure/remote"
	"github.com/apphub/backend/internal/transport/http/dto"
	"github.com/gofiber/fiber/v2"
)

// ExchangeSource exposes the recent backend request/response pairs.
type ExchangeSource interface {
	Exchanges() []remote.Exchange
}

type SystemHandler struct {
	system    *services.SystemService
	exchanges ExchangeSource
	logger    *logger.Logger
}

func NewSystemHandler(system *services.SystemService, exchanges ExchangeSource, logger *logger.Logger) *SystemHandler {
	return &SystemHandler{system: system, exchanges: exchanges, logger: logger}
}

func (h *SystemHandler) Control(c *fiber.Ctx) error {
	var req dto.SystemControlRequest
	if err := c.BodyParser(&req); err != nil {
		return c.JSON(dto.Envelope{Code: -1, Msg: "invalid request body"})
	}
	msg, err := h.system.Control(req.Action)
	if err != nil {
		h.logger.Warnw("system_control_rejected", "action", req.Action)
		return c.JSON(dto.Envelope{Code: -1, Msg: "unknown action"})
	}
	return c.JSON(dto.Envelope{Code: 0, Msg: msg})
}

func (h *SystemHandler) Exchanges(c *fiber.Ctx) error {
	if h.exchanges == nil {
		return c.JSON([]remote.Exchange{})
	}
	return c.JSON(h.exchanges.Exchanges())
}
