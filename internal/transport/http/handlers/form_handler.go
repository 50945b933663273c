package handlers

import (
	"io"

	"github.com/apphub/backend/internal/core/services"
	"github.com/apphub/backend/internal/infrastructure/logger"
	"github.com/apphub/backend/internal/transport/http/dto"
	"github.com/gofiber/fiber/v2"
)

type FormHandler struct {
	forms     *services.FormService
	templates *services.TemplateService
	logger    *logger.Logger
}

func NewFormHandler(forms *services.FormService, templates *services.TemplateService, logger *logger.Logger) *FormHandler {
	return &FormHandler{forms: forms, templates: templates, logger: logger}
}

func source(c *fiber.Ctx) (services.FormSource, error) {
	return services.ParseFormSource(c.Params("source"))
}

// Render loads a saved template (by templateId) or a live workapp schema
// (by appId) into the form of the source.
func (h *FormHandler) Render(c *fiber.Ctx) error {
	src, err := source(c)
	if err != nil {
		return writeError(c, err)
	}
	var req dto.RenderFormRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if errs := req.Validate(); len(errs) > 0 {
		return badRequest(c, "validation failed", errs...)
	}

	var form *services.Form
	if req.TemplateID != "" {
		tpl, err := h.templates.GetTemplate(c.UserContext(), req.TemplateID)
		if err != nil {
			return writeError(c, err)
		}
		form, err = h.forms.Render(src, tpl.ID, tpl.AppID, tpl.Fields, req.Restore)
		if err != nil {
			return writeError(c, err)
		}
	} else {
		info, err := h.templates.FetchSchema(c.UserContext(), req.AppID)
		if err != nil {
			h.logger.Warnw("form_schema_fetch_failed", "app_id", req.AppID, "error", err)
			return writeError(c, err)
		}
		form, err = h.forms.Render(src, req.AppID, req.AppID, info.NodeInfoList, req.Restore)
		if err != nil {
			return writeError(c, err)
		}
	}
	return c.JSON(form)
}

func (h *FormHandler) Current(c *fiber.Ctx) error {
	src, err := source(c)
	if err != nil {
		return writeError(c, err)
	}
	form, err := h.forms.Current(src)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(form)
}

func (h *FormHandler) UpdateField(c *fiber.Ctx) error {
	src, err := source(c)
	if err != nil {
		return writeError(c, err)
	}
	var req dto.FieldUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	w, err := h.forms.Update(src, req.NodeID, req.FieldName, req.Value)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(w)
}

func (h *FormHandler) AttachFile(c *fiber.Ctx) error {
	src, err := source(c)
	if err != nil {
		return writeError(c, err)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return writeError(c, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return writeError(c, err)
	}

	att := &services.Attachment{Name: fh.Filename, MIME: fh.Header.Get("Content-Type"), Data: data}
	w, err := h.forms.AttachFile(src, c.FormValue("nodeId"), c.FormValue("fieldName"), att)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(w)
}

func (h *FormHandler) ClearFile(c *fiber.Ctx) error {
	src, err := source(c)
	if err != nil {
		return writeError(c, err)
	}
	w, err := h.forms.ClearFile(src, c.Params("nodeId"), c.Params("fieldName"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(w)
}

func (h *FormHandler) SaveDraft(c *fiber.Ctx) error {
	src, err := source(c)
	if err != nil {
		return writeError(c, err)
	}
	if err := h.forms.SaveDraft(src); err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.SuccessResponse{Message: "draft saved"})
}

func (h *FormHandler) RestoreDraft(c *fiber.Ctx) error {
	src, err := source(c)
	if err != nil {
		return writeError(c, err)
	}
	form, err := h.forms.RestoreDraft(src)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(form)
}

func (h *FormHandler) SetRecording(c *fiber.Ctx) error {
	src, err := source(c)
	if err != nil {
		return writeError(c, err)
	}
	var req dto.RecordingRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := h.forms.SetRecording(src, req.On); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"recording": req.On})
}

func (h *FormHandler) History(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"hasHistory": h.forms.HasHistory(c.Params("appId"))})
}
