package handlers

import (
	"errors"
	"io/fs"
	"net/url"
	"path"

	"github.com/apphub/backend/internal/core/services"
	"github.com/apphub/backend/internal/domain"
	"github.com/apphub/backend/internal/infrastructure/logger"
	"github.com/apphub/backend/internal/transport/http/dto"
	"github.com/gofiber/fiber/v2"
)

// ResultHandler serves saved artifacts and the storage path settings.
// Like the proxy routes it answers with {code, msg} envelopes.
type ResultHandler struct {
	results *services.ResultService
	logger  *logger.Logger
}

func NewResultHandler(results *services.ResultService, logger *logger.Logger) *ResultHandler {
	return &ResultHandler{results: results, logger: logger}
}

func (h *ResultHandler) SaveResult(c *fiber.Ctx) error {
	var req dto.SaveResultRequest
	if err := c.BodyParser(&req); err != nil {
		return c.JSON(dto.SaveResultResponse{Code: -1, Msg: "invalid request body"})
	}
	res, err := h.results.SaveResult(c.UserContext(), req.FileURL)
	if err != nil {
		h.logger.Warnw("save_result_failed", "url", req.FileURL, "error", err)
		return c.JSON(dto.SaveResultResponse{Code: -1, Msg: err.Error()})
	}
	viewer := res.Viewer
	if req.FileType != "" {
		viewer = services.ViewerFor(req.FileType)
	}
	return c.JSON(dto.SaveResultResponse{Code: 0, Msg: res.Msg, LocalPath: res.LocalPath, Viewer: string(viewer)})
}

func (h *ResultHandler) Gallery(c *fiber.Ctx) error {
	category := c.Query("type", services.CategoryImages)
	files, err := h.results.Gallery(c.UserContext(), category)
	if err != nil {
		h.logger.Warnw("gallery_list_failed", "category", category, "error", err)
		return c.JSON(dto.GalleryResponse{Code: -1, Msg: err.Error(), Data: []domain.GalleryFile{}})
	}
	return c.JSON(dto.GalleryResponse{Code: 0, Data: files, Count: len(files)})
}

func (h *ResultHandler) UpdateFile(c *fiber.Ctx) error {
	var req dto.FileUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.JSON(dto.Envelope{Code: -1, Msg: "invalid request body"})
	}
	if err := h.results.UpdateText(c.UserContext(), req.FilePath, req.Content); err != nil {
		h.logger.Warnw("file_update_failed", "path", req.FilePath, "error", err)
		return c.JSON(dto.Envelope{Code: -1, Msg: err.Error()})
	}
	return c.JSON(dto.Envelope{Code: 0, Msg: "saved"})
}

// Serve streams /outputs_proxy/<type>/<file>. Saved files can be edited in
// place, so caching is disabled.
func (h *ResultHandler) Serve(c *fiber.Ctx) error {
	rel, err := url.PathUnescape(c.Params("*"))
	if err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	rc, err := h.results.Open(c.UserContext(), c.Params("type"), rel)
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, services.ErrUnknownCategory):
		return c.SendStatus(fiber.StatusNotFound)
	case errors.Is(err, services.ErrInvalidPath):
		return c.SendStatus(fiber.StatusForbidden)
	case err != nil:
		return err
	}

	c.Set(fiber.HeaderCacheControl, "no-cache, no-store, must-revalidate")
	c.Set(fiber.HeaderPragma, "no-cache")
	c.Set(fiber.HeaderExpires, "0")
	c.Type(path.Ext(rel))
	return c.SendStream(rc)
}

func (h *ResultHandler) GetPaths(c *fiber.Ctx) error {
	return c.JSON(dto.OK(h.results.Paths()))
}

func (h *ResultHandler) SetPaths(c *fiber.Ctx) error {
	var paths map[string]string
	if err := c.BodyParser(&paths); err != nil {
		return c.JSON(dto.Envelope{Code: -1, Msg: "invalid request body"})
	}
	if err := h.results.SetPaths(c.UserContext(), paths); err != nil {
		h.logger.Warnw("paths_update_failed", "error", err)
		return c.JSON(dto.Envelope{Code: -1, Msg: err.Error()})
	}
	return c.JSON(dto.Envelope{Code: 0, Msg: "paths saved"})
}
