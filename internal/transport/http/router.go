package http

import (
	"github.com/apphub/backend/internal/config"
	"github.com/apphub/backend/internal/core/ports"
	"github.com/apphub/backend/internal/core/services"
	"github.com/apphub/backend/internal/infrastructure/logger"
	"github.com/apphub/backend/internal/transport/http/handlers"
	httpmw "github.com/apphub/backend/internal/transport/http/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

type RouterConfig struct {
	Logger    *logger.Logger
	Config    *config.Config
	Remote    ports.RemoteClient
	Exchanges handlers.ExchangeSource
	Inputs    ports.ResultStorage
	State     *services.StateService
	Queue     *services.QueueService
	Forms     *services.FormService
	Runs      *services.RunService
	Templates *services.TemplateService
	Results   *services.ResultService
	System    *services.SystemService
	Stream    *handlers.TaskStream
}

func SetupRoutes(app *fiber.App, cfg RouterConfig) {
	proxyHandler := handlers.NewProxyHandler(cfg.Remote, cfg.State, cfg.Inputs, cfg.Config.Storage.InputsDir, cfg.Logger)
	queueHandler := handlers.NewQueueHandler(cfg.Queue, cfg.Runs, cfg.Logger)
	formHandler := handlers.NewFormHandler(cfg.Forms, cfg.Templates, cfg.Logger)
	catalogHandler := handlers.NewCatalogHandler(cfg.Templates, cfg.State, cfg.Logger)
	resultHandler := handlers.NewResultHandler(cfg.Results, cfg.Logger)
	systemHandler := handlers.NewSystemHandler(cfg.System, cfg.Exchanges, cfg.Logger)

	admin := httpmw.AdminAuth(cfg.Config)

	// Backend-compatible surface
	app.Post("/uc/openapi/accountStatus", admin, proxyHandler.AccountStatus)
	app.Get("/api/webapp/apiCallDemo", admin, proxyHandler.WebappInfo)
	task := app.Group("/task/openapi", admin)
	task.Post("/ai-app/run", proxyHandler.Run)
	task.Post("/status", proxyHandler.Status)
	task.Post("/cancel", proxyHandler.Cancel)
	task.Post("/outputs", proxyHandler.Outputs)
	task.Post("/upload", proxyHandler.Upload)

	app.Post("/api/save_result", admin, resultHandler.SaveResult)
	app.Get("/api/gallery/files", admin, resultHandler.Gallery)
	app.Post("/api/file/update", admin, resultHandler.UpdateFile)
	app.Get("/api/system/paths", admin, resultHandler.GetPaths)
	app.Post("/api/system/paths", admin, resultHandler.SetPaths)
	app.Post("/api/system/control", admin, systemHandler.Control)
	app.Get("/outputs_proxy/:type/*", resultHandler.Serve)

	// Hub API
	api := app.Group("/api", admin)

	queue := api.Group("/queue")
	queue.Get("/", queueHandler.List)
	queue.Post("/", queueHandler.Submit)
	queue.Put("/ceiling", queueHandler.SetCeiling)
	queue.Get("/:id", queueHandler.Get)
	queue.Get("/:id/outputs", queueHandler.Outputs)
	queue.Post("/:id/cancel", queueHandler.Cancel)
	queue.Delete("/:id", queueHandler.Delete)

	api.Post("/run", queueHandler.Run)

	api.Get("/forms/history/:appId", formHandler.History)
	forms := api.Group("/forms/:source")
	forms.Get("/", formHandler.Current)
	forms.Post("/render", formHandler.Render)
	forms.Patch("/fields", formHandler.UpdateField)
	forms.Post("/files", formHandler.AttachFile)
	forms.Delete("/files/:nodeId/:fieldName", formHandler.ClearFile)
	forms.Post("/drafts", formHandler.SaveDraft)
	forms.Post("/drafts/restore", formHandler.RestoreDraft)
	forms.Put("/recording", formHandler.SetRecording)

	templates := api.Group("/templates")
	templates.Get("/", catalogHandler.ListTemplates)
	templates.Post("/", catalogHandler.CreateTemplate)
	templates.Get("/export", catalogHandler.ExportTemplates)
	templates.Post("/import", catalogHandler.ImportTemplates)
	templates.Get("/schema/:appId", catalogHandler.FetchSchema)
	templates.Get("/:id", catalogHandler.GetTemplate)
	templates.Put("/:id", catalogHandler.UpdateTemplate)
	templates.Delete("/:id", catalogHandler.DeleteTemplate)

	presets := api.Group("/presets")
	presets.Get("/", catalogHandler.ListPresets)
	presets.Post("/", catalogHandler.SavePreset)
	presets.Post("/:index/apply", catalogHandler.ApplyPreset)
	presets.Delete("/:index", catalogHandler.DeletePreset)

	categories := api.Group("/categories")
	categories.Get("/", catalogHandler.ListCategories)
	categories.Post("/:category", catalogHandler.AddCategoryPreset)
	categories.Put("/:category/:index", catalogHandler.UpdateCategoryPreset)
	categories.Delete("/:category/:index", catalogHandler.DeleteCategoryPreset)

	api.Get("/credential", catalogHandler.GetCredential)
	api.Put("/credential", catalogHandler.SetCredential)

	api.Get("/diagnostics/exchanges", systemHandler.Exchanges)

	// Task snapshots
	app.Use("/ws", admin, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})
	app.Get("/ws/tasks", websocket.New(cfg.Stream.Handle))

	if dir := cfg.Config.Server.WebDir; dir != "" {
		app.Static("/", dir)
	}
}
