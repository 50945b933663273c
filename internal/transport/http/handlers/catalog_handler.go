package handlers

import (
	"bytes"
	"strconv"

	"github.com/apphub/backend/internal/core/services"
	"github.com/apphub/backend/internal/domain"
	"github.com/apphub/backend/internal/infrastructure/logger"
	"github.com/apphub/backend/internal/transport/http/dto"
	"github.com/gofiber/fiber/v2"
)

// CatalogHandler serves templates, credential presets, category presets
// and the current credential.
type CatalogHandler struct {
	templates *services.TemplateService
	keys      services.APIKeySource
	logger    *logger.Logger
}

func NewCatalogHandler(templates *services.TemplateService, keys services.APIKeySource, logger *logger.Logger) *CatalogHandler {
	return &CatalogHandler{templates: templates, keys: keys, logger: logger}
}

func indexParam(c *fiber.Ctx) (int, bool) {
	i, err := strconv.Atoi(c.Params("index"))
	return i, err == nil && i >= 0
}

// ==================== Templates ====================

func (h *CatalogHandler) ListTemplates(c *fiber.Ctx) error {
	templates, err := h.templates.ListTemplates(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(templates)
}

func (h *CatalogHandler) GetTemplate(c *fiber.Ctx) error {
	tpl, err := h.templates.GetTemplate(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(tpl)
}

func (h *CatalogHandler) CreateTemplate(c *fiber.Ctx) error {
	var tpl domain.Template
	if err := c.BodyParser(&tpl); err != nil {
		return badRequest(c, "invalid request body")
	}
	tpl.ID = ""
	saved, err := h.templates.SaveTemplate(c.UserContext(), tpl)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(saved)
}

func (h *CatalogHandler) UpdateTemplate(c *fiber.Ctx) error {
	var tpl domain.Template
	if err := c.BodyParser(&tpl); err != nil {
		return badRequest(c, "invalid request body")
	}
	tpl.ID = c.Params("id")
	saved, err := h.templates.SaveTemplate(c.UserContext(), tpl)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(saved)
}

func (h *CatalogHandler) DeleteTemplate(c *fiber.Ctx) error {
	if err := h.templates.DeleteTemplate(c.UserContext(), c.Params("id")); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *CatalogHandler) FetchSchema(c *fiber.Ctx) error {
	info, err := h.templates.FetchSchema(c.UserContext(), c.Params("appId"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(info)
}

func (h *CatalogHandler) ExportTemplates(c *fiber.Ctx) error {
	var buf bytes.Buffer
	if _, err := h.templates.ExportTemplates(c.UserContext(), &buf); err != nil {
		return writeError(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/yaml")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="templates.yaml"`)
	return c.Send(buf.Bytes())
}

func (h *CatalogHandler) ImportTemplates(c *fiber.Ctx) error {
	n, err := h.templates.ImportTemplates(c.UserContext(), bytes.NewReader(c.Body()))
	if err != nil {
		h.logger.Warnw("templates_import_failed", "error", err)
		return badRequest(c, err.Error())
	}
	return c.JSON(dto.ImportResponse{Imported: n})
}

// ==================== Credential ====================

func (h *CatalogHandler) GetCredential(c *fiber.Ctx) error {
	key := h.keys.CurrentAPIKey()
	if key == "" {
		return c.JSON(dto.CredentialResponse{})
	}
	resp := dto.CredentialResponse{
		Configured: true,
		MaskedKey:  domain.CredentialPreset{Key: key}.MaskedKey(),
	}
	if c.QueryBool("account") {
		account, err := h.templates.Account(c.UserContext())
		if err != nil {
			return writeError(c, err)
		}
		resp.Account = account
	}
	return c.JSON(resp)
}

func (h *CatalogHandler) SetCredential(c *fiber.Ctx) error {
	var req dto.CredentialRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	account, err := h.templates.SetCredential(c.UserContext(), req.APIKey)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.CredentialResponse{
		Configured: true,
		MaskedKey:  domain.CredentialPreset{Key: h.keys.CurrentAPIKey()}.MaskedKey(),
		Account:    account,
	})
}

// ==================== Credential presets ====================

func (h *CatalogHandler) ListPresets(c *fiber.Ctx) error {
	presets, err := h.templates.ListCredentialPresets(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(presets)
}

func (h *CatalogHandler) SavePreset(c *fiber.Ctx) error {
	var req dto.CredentialPresetRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	view, err := h.templates.SaveCredentialPreset(c.UserContext(), req.Name, req.Key, req.TaskCount)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(view)
}

func (h *CatalogHandler) ApplyPreset(c *fiber.Ctx) error {
	i, ok := indexParam(c)
	if !ok {
		return badRequest(c, "invalid preset index")
	}
	ceiling, err := h.templates.ApplyCredentialPreset(c.UserContext(), i)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.CeilingResponse{Ceiling: ceiling})
}

func (h *CatalogHandler) DeletePreset(c *fiber.Ctx) error {
	i, ok := indexParam(c)
	if !ok {
		return badRequest(c, "invalid preset index")
	}
	if err := h.templates.DeleteCredentialPreset(c.UserContext(), i); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ==================== Category presets ====================

func (h *CatalogHandler) ListCategories(c *fiber.Ctx) error {
	presets, err := h.templates.CategoryPresets(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(presets)
}

func (h *CatalogHandler) AddCategoryPreset(c *fiber.Ctx) error {
	var req dto.CategoryPresetRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	p := domain.CategoryPreset{Name: req.Name, ID: req.ID}
	if err := h.templates.SaveCategoryPreset(c.UserContext(), c.Params("category"), -1, p); err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

func (h *CatalogHandler) UpdateCategoryPreset(c *fiber.Ctx) error {
	i, ok := indexParam(c)
	if !ok {
		return badRequest(c, "invalid preset index")
	}
	var req dto.CategoryPresetRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	p := domain.CategoryPreset{Name: req.Name, ID: req.ID}
	if err := h.templates.SaveCategoryPreset(c.UserContext(), c.Params("category"), i, p); err != nil {
		return writeError(c, err)
	}
	return c.JSON(p)
}

func (h *CatalogHandler) DeleteCategoryPreset(c *fiber.Ctx) error {
	i, ok := indexParam(c)
	if !ok {
		return badRequest(c, "invalid preset index")
	}
	if err := h.templates.DeleteCategoryPreset(c.UserContext(), c.Params("category"), i); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
