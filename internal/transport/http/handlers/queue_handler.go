package handlers

import (
	"github.com/apphub/backend/internal/core/services"
	"github.com/apphub/backend/internal/infrastructure/logger"
	"github.com/apphub/backend/internal/transport/http/dto"
	"github.com/gofiber/fiber/v2"
)

type QueueHandler struct {
	queue  *services.QueueService
	runs   *services.RunService
	logger *logger.Logger
}

func NewQueueHandler(queue *services.QueueService, runs *services.RunService, logger *logger.Logger) *QueueHandler {
	return &QueueHandler{queue: queue, runs: runs, logger: logger}
}

func (h *QueueHandler) List(c *fiber.Ctx) error {
	return c.JSON(dto.QueueResponse{
		Tasks:   h.queue.List(),
		Ceiling: h.queue.Ceiling(),
		Active:  h.queue.ActiveCount(),
	})
}

func (h *QueueHandler) Get(c *fiber.Ctx) error {
	rec, err := h.queue.Get(c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(rec)
}

// Submit queues a ready-made payload. Form-based runs go through Run.
func (h *QueueHandler) Submit(c *fiber.Ctx) error {
	var req dto.SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnw("queue_submit_body_parse_failed", "error", err)
		return badRequest(c, "invalid request body")
	}
	if errs := req.Validate(); len(errs) > 0 {
		return badRequest(c, "validation failed", errs...)
	}
	rec, err := h.queue.Submit(c.UserContext(), req.Payload, req.Name, req.CanvasID)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

func (h *QueueHandler) Run(c *fiber.Ctx) error {
	var req services.RunRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if _, err := services.ParseFormSource(string(req.Source)); err != nil {
		return writeError(c, err)
	}
	rec, err := h.runs.Run(c.UserContext(), req)
	if err != nil {
		h.logger.Warnw("run_failed", "source", req.Source, "error", err)
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

func (h *QueueHandler) SetCeiling(c *fiber.Ctx) error {
	var req dto.CeilingRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	n, err := h.queue.SetCeiling(c.UserContext(), req.Ceiling)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.CeilingResponse{Ceiling: n})
}

// Cancel removes the task locally even when the backend refuses; the
// error is still reported.
func (h *QueueHandler) Cancel(c *fiber.Ctx) error {
	if err := h.queue.Cancel(c.UserContext(), c.Params("id")); err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.SuccessResponse{Message: "task cancelled"})
}

func (h *QueueHandler) Delete(c *fiber.Ctx) error {
	if err := h.queue.Delete(c.UserContext(), c.Params("id")); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *QueueHandler) Outputs(c *fiber.Ctx) error {
	outputs, err := h.queue.Outputs(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(outputs)
}
