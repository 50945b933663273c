package handlers

import (
	"bytes"
	"io"
	"path"
	"strings"

	"github.com/apphub/backend/internal/core/ports"
	"github.com/apphub/backend/internal/core/services"
	"github.com/apphub/backend/internal/domain"
	"github.com/apphub/backend/internal/infrastructure/logger"
	"github.com/apphub/backend/internal/transport/http/dto"
	"github.com/gofiber/fiber/v2"
)

// ProxyHandler serves the backend-compatible routes. Every response is a
// {code, msg, data} envelope with HTTP 200, matching what the backend
// itself returns.
type ProxyHandler struct {
	remote    ports.RemoteClient
	keys      services.APIKeySource
	inputs    ports.ResultStorage
	inputsDir string
	logger    *logger.Logger
}

func NewProxyHandler(remote ports.RemoteClient, keys services.APIKeySource, inputs ports.ResultStorage, inputsDir string, logger *logger.Logger) *ProxyHandler {
	return &ProxyHandler{remote: remote, keys: keys, inputs: inputs, inputsDir: inputsDir, logger: logger}
}

func (h *ProxyHandler) key(given string) string {
	if k := strings.TrimSpace(given); k != "" {
		return k
	}
	return h.keys.CurrentAPIKey()
}

func (h *ProxyHandler) AccountStatus(c *fiber.Ctx) error {
	var req dto.AccountStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.JSON(dto.Envelope{Code: -1, Msg: "invalid request body"})
	}
	status, err := h.remote.AccountStatus(c.UserContext(), h.key(req.Key()))
	if err != nil {
		return c.JSON(dto.Fail(err))
	}
	return c.JSON(dto.OK(status))
}

func (h *ProxyHandler) WebappInfo(c *fiber.Ctx) error {
	webappID := c.Query("webappId")
	if webappID == "" {
		return c.JSON(dto.Envelope{Code: -1, Msg: "webappId is required"})
	}
	info, err := h.remote.WebappInfo(c.UserContext(), h.key(c.Query("apiKey")), webappID)
	if err != nil {
		return c.JSON(dto.Fail(err))
	}
	return c.JSON(dto.OK(info))
}

func (h *ProxyHandler) Run(c *fiber.Ctx) error {
	var payload domain.RunPayload
	if err := c.BodyParser(&payload); err != nil {
		return c.JSON(dto.Envelope{Code: -1, Msg: "invalid request body"})
	}
	payload.APIKey = h.key(payload.APIKey)
	if payload.InstanceType == "" {
		payload.InstanceType = "default"
	}
	taskID, err := h.remote.RunTask(c.UserContext(), payload)
	if err != nil {
		return c.JSON(dto.Fail(err))
	}
	return c.JSON(dto.OK(fiber.Map{"taskId": taskID}))
}

func (h *ProxyHandler) Status(c *fiber.Ctx) error {
	var req dto.TaskRequest
	if err := c.BodyParser(&req); err != nil {
		return c.JSON(dto.Envelope{Code: -1, Msg: "invalid request body"})
	}
	status, err := h.remote.TaskStatus(c.UserContext(), h.key(req.APIKey), req.TaskID.String())
	if err != nil {
		return c.JSON(dto.Fail(err))
	}
	return c.JSON(dto.OK(status))
}

func (h *ProxyHandler) Cancel(c *fiber.Ctx) error {
	var req dto.TaskRequest
	if err := c.BodyParser(&req); err != nil {
		return c.JSON(dto.Envelope{Code: -1, Msg: "invalid request body"})
	}
	if err := h.remote.CancelTask(c.UserContext(), h.key(req.APIKey), req.TaskID.String()); err != nil {
		return c.JSON(dto.Fail(err))
	}
	return c.JSON(dto.Envelope{Code: 0, Msg: "success"})
}

func (h *ProxyHandler) Outputs(c *fiber.Ctx) error {
	var req dto.TaskRequest
	if err := c.BodyParser(&req); err != nil {
		return c.JSON(dto.Envelope{Code: -1, Msg: "invalid request body"})
	}
	outputs, err := h.remote.TaskOutputs(c.UserContext(), h.key(req.APIKey), req.TaskID.String())
	if err != nil {
		return c.JSON(dto.Fail(err))
	}
	return c.JSON(dto.OK(outputs))
}

// Upload keeps a copy of the file under inputs/<kind> and forwards it.
func (h *ProxyHandler) Upload(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.JSON(dto.Envelope{Code: -1, Msg: "No file"})
	}
	f, err := fh.Open()
	if err != nil {
		return c.JSON(dto.Fail(err))
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return c.JSON(dto.Fail(err))
	}

	kind := domain.FieldKind(strings.ToUpper(c.FormValue("fileType")))
	name := path.Base(fh.Filename)
	dir := path.Join(h.inputsDir, kind.UploadFolder())
	if err := h.inputs.Write(c.UserContext(), dir, name, bytes.NewReader(data)); err != nil {
		h.logger.Warnw("upload_input_copy_failed", "dir", dir, "file", name, "error", err)
	}

	fileName, err := h.remote.Upload(c.UserContext(), ports.UploadRequest{
		APIKey:   h.key(c.FormValue("apiKey")),
		NodeID:   c.FormValue("nodeId"),
		FileType: kind,
		FileName: name,
		MIME:     fh.Header.Get("Content-Type"),
		Content:  bytes.NewReader(data),
	})
	if err != nil {
		return c.JSON(dto.Fail(err))
	}
	return c.JSON(dto.OK(fiber.Map{"fileName": fileName}))
}
