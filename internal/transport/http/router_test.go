package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/apphub/backend/internal/config"
	"github.com/apphub/backend/internal/core/services"
	"github.com/apphub/backend/internal/domain"
	"github.com/apphub/backend/internal/infrastructure/db"
	"github.com/apphub/backend/internal/infrastructure/logger"
	"github.com/apphub/backend/internal/infrastructure/remote"
	"github.com/apphub/backend/internal/infrastructure/storage"
	"github.com/apphub/backend/internal/transport/http/handlers"
	"github.com/gofiber/fiber/v2"
)

const (
	testKey    = "0123456789abcdef0123456789abcdef"
	testTaskID = "1972171722227118082"
)

// fakeBackend serves just enough of the open API for one task to run to
// completion and have its output downloaded.
type fakeBackend struct {
	mu       sync.Mutex
	status   string
	canceled []string
	srv      *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{status: "RUNNING"}
	b.srv = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) setStatus(s string) {
	b.mu.Lock()
	b.status = s
	b.mu.Unlock()
}

func (b *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch r.URL.Path {
	case "/uc/openapi/accountStatus":
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["apikey"] != testKey {
			w.Write([]byte(`{"code":412,"msg":"TOKEN_INVALID"}`))
			return
		}
		w.Write([]byte(`{"code":0,"msg":"success","data":{"remainCoins":"99","currentTaskCounts":"0","currency":"CNY","apiType":"NORMAL"}}`))
	case "/api/webapp/apiCallDemo":
		w.Write([]byte(`{"code":0,"msg":"success","data":{"webappName":"Cutout","nodeInfoList":[{"nodeId":"1","fieldName":"prompt","fieldType":"STRING","fieldValue":"a cat","description":"Prompt"}]}}`))
	case "/task/openapi/ai-app/run":
		w.Write([]byte(`{"code":0,"msg":"success","data":{"taskId":` + testTaskID + `}}`))
	case "/task/openapi/status":
		w.Write([]byte(`{"code":0,"msg":"success","data":"` + b.status + `"}`))
	case "/task/openapi/outputs":
		w.Write([]byte(`{"code":0,"msg":"success","data":[{"fileUrl":"` + b.srv.URL + `/files/out.png","fileType":"png","taskCostTime":"12"}]}`))
	case "/task/openapi/cancel":
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		b.canceled = append(b.canceled, body["taskId"])
		w.Write([]byte(`{"code":0,"msg":"success"}`))
	case "/files/out.png":
		w.Write([]byte("PNGDATA"))
	default:
		http.NotFound(w, r)
	}
}

type testHub struct {
	app     *fiber.App
	backend *fakeBackend
	queue   *services.QueueService
	exits   chan int
	dir     string
}

func newTestHub(t *testing.T, adminToken string) *testHub {
	t.Helper()
	log := logger.NewNop()
	backend := newFakeBackend(t)
	dir := t.TempDir()

	cfg := &config.Config{
		Remote: config.RemoteConfig{BaseURL: backend.srv.URL, ExchangeLog: 20},
		Queue: config.QueueConfig{
			DefaultCeiling:  1,
			MaxCeiling:      5,
			PollInterval:    10 * time.Millisecond,
			ReevaluateDelay: 10 * time.Millisecond,
		},
		Storage: config.StorageConfig{Driver: "local", BaseDir: dir, InputsDir: "inputs", Paths: config.DefaultPaths()},
		Auth:    config.AuthConfig{AdminToken: adminToken},
	}

	repo, closeRepo, err := db.OpenStateRepository(config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(dir, "state.db")}, log)
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	t.Cleanup(func() { closeRepo() })

	state := services.NewStateService(repo, log, "")
	client := remote.NewClient(cfg.Remote, log)
	files := storage.NewLocalStorage(dir)
	queue := services.NewQueueService(client, state, state, cfg.Queue, log)
	t.Cleanup(queue.Close)
	forms := services.NewFormService(log)
	templates := services.NewTemplateService(state, queue, client, log)
	runs := services.NewRunService(forms, queue, client, state, files, cfg.Storage.InputsDir, log)
	results := services.NewResultService(files, client, cfg.Storage.Paths, func(map[string]string) error { return nil }, log)

	exits := make(chan int, 1)
	system := services.NewSystemService(func(code int) { exits <- code }, 0, log)
	stream := handlers.NewTaskStream(queue.List, log)
	queue.SetNotifier(stream)

	app := fiber.New()
	SetupRoutes(app, RouterConfig{
		Logger:    log,
		Config:    cfg,
		Remote:    client,
		Exchanges: client,
		Inputs:    files,
		State:     state,
		Queue:     queue,
		Forms:     forms,
		Runs:      runs,
		Templates: templates,
		Results:   results,
		System:    system,
		Stream:    stream,
	})
	return &testHub{app: app, backend: backend, queue: queue, exits: exits, dir: dir}
}

func (h *testHub) do(t *testing.T, method, target string, body any, header ...string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := h.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func TestRouter_AccountStatusPassesBackendCode(t *testing.T) {
	hub := newTestHub(t, "")

	var env envelope
	decode(t, hub.do(t, "POST", "/uc/openapi/accountStatus", map[string]string{"apikey": "short"}), &env)
	if env.Code != -1 {
		t.Errorf("short key code = %d, want -1", env.Code)
	}

	decode(t, hub.do(t, "POST", "/uc/openapi/accountStatus", map[string]string{"apiKey": testKey}), &env)
	if env.Code != 0 {
		t.Fatalf("valid key envelope = %+v", env)
	}
	var status domain.AccountStatus
	json.Unmarshal(env.Data, &status)
	if status.RemainCoins != "99" {
		t.Errorf("remainCoins = %q", status.RemainCoins)
	}
}

func TestRouter_RunToGallery(t *testing.T) {
	hub := newTestHub(t, "")

	resp := hub.do(t, "PUT", "/api/credential", map[string]string{"apiKey": testKey})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("set credential status = %d", resp.StatusCode)
	}

	resp = hub.do(t, "POST", "/api/forms/preset/render", map[string]string{"appId": "1972141434415607809"})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("render status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = hub.do(t, "PATCH", "/api/forms/preset/fields", map[string]string{"nodeId": "1", "fieldName": "prompt", "value": "a dog"})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("update field status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = hub.do(t, "POST", "/api/run", map[string]string{"source": "preset", "name": "Cutout"})
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("run status = %d", resp.StatusCode)
	}
	var rec domain.TaskRecord
	decode(t, resp, &rec)
	if rec.TaskID != testTaskID || !rec.Status.IsActive() {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Name != "[Preset] Cutout 8082" {
		t.Errorf("name = %q", rec.Name)
	}

	hub.backend.setStatus("SUCCESS")
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp = hub.do(t, "GET", "/api/queue/"+testTaskID, nil)
		decode(t, resp, &rec)
		if rec.Status == domain.TaskStatusSuccess {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task never finished: %+v", rec)
		}
		time.Sleep(10 * time.Millisecond)
	}

	var outputs []domain.TaskOutput
	decode(t, hub.do(t, "GET", "/api/queue/"+testTaskID+"/outputs", nil), &outputs)
	if len(outputs) != 1 || !strings.HasSuffix(outputs[0].FileURL, "/files/out.png") {
		t.Fatalf("outputs = %+v", outputs)
	}

	var saved struct {
		Code      int    `json:"code"`
		Msg       string `json:"msg"`
		LocalPath string `json:"localPath"`
		Viewer    string `json:"viewer"`
	}
	decode(t, hub.do(t, "POST", "/api/save_result", map[string]string{"fileUrl": outputs[0].FileURL, "fileType": "png"}), &saved)
	if saved.Code != 0 || saved.Msg != "success" || saved.LocalPath != "/outputs_proxy/images/out.png" || saved.Viewer != "image" {
		t.Fatalf("save = %+v", saved)
	}
	decode(t, hub.do(t, "POST", "/api/save_result", map[string]string{"fileUrl": outputs[0].FileURL}), &saved)
	if saved.Msg != "exist" {
		t.Errorf("second save msg = %q, want exist", saved.Msg)
	}

	var gallery struct {
		Code  int                  `json:"code"`
		Data  []domain.GalleryFile `json:"data"`
		Count int                  `json:"count"`
	}
	decode(t, hub.do(t, "GET", "/api/gallery/files?type=images", nil), &gallery)
	if gallery.Count != 1 || gallery.Data[0].Name != "out.png" || gallery.Data[0].Type != "PNG" {
		t.Fatalf("gallery = %+v", gallery)
	}

	resp = hub.do(t, "GET", "/outputs_proxy/images/out.png", nil)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusOK || string(body) != "PNGDATA" {
		t.Fatalf("proxy status = %d body = %q", resp.StatusCode, body)
	}
	if cc := resp.Header.Get("Cache-Control"); !strings.Contains(cc, "no-cache") {
		t.Errorf("cache-control = %q", cc)
	}
}

func TestRouter_CancelRemovesTask(t *testing.T) {
	hub := newTestHub(t, "")
	hub.do(t, "PUT", "/api/credential", map[string]string{"apiKey": testKey}).Body.Close()

	resp := hub.do(t, "POST", "/api/queue", map[string]any{
		"payload": map[string]any{"webappId": "42", "apiKey": testKey},
		"name":    "[New] raw",
	})
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = hub.do(t, "POST", "/api/queue/"+testTaskID+"/cancel", nil)
	if resp.StatusCode >= 300 {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	var list struct {
		Tasks []domain.TaskView `json:"tasks"`
	}
	decode(t, hub.do(t, "GET", "/api/queue", nil), &list)
	if len(list.Tasks) != 0 {
		t.Errorf("tasks after cancel = %+v", list.Tasks)
	}
	hub.backend.mu.Lock()
	defer hub.backend.mu.Unlock()
	if len(hub.backend.canceled) != 1 || hub.backend.canceled[0] != testTaskID {
		t.Errorf("backend cancels = %v", hub.backend.canceled)
	}
}

func TestRouter_AdminToken(t *testing.T) {
	hub := newTestHub(t, "s3cret")

	if resp := hub.do(t, "GET", "/api/queue", nil); resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("no token status = %d", resp.StatusCode)
	}
	if resp := hub.do(t, "GET", "/api/queue", nil, "X-Admin-Token", "s3cret"); resp.StatusCode != fiber.StatusOK {
		t.Errorf("header token status = %d", resp.StatusCode)
	}
	if resp := hub.do(t, "GET", "/api/queue", nil, "Authorization", "Bearer s3cret"); resp.StatusCode != fiber.StatusOK {
		t.Errorf("bearer token status = %d", resp.StatusCode)
	}
	if resp := hub.do(t, "GET", "/api/queue?token=s3cret", nil); resp.StatusCode != fiber.StatusOK {
		t.Errorf("query token status = %d", resp.StatusCode)
	}
}

func TestRouter_SystemControl(t *testing.T) {
	hub := newTestHub(t, "")

	var env envelope
	decode(t, hub.do(t, "POST", "/api/system/control", map[string]string{"action": "reboot"}), &env)
	if env.Code != -1 {
		t.Errorf("unknown action code = %d", env.Code)
	}

	decode(t, hub.do(t, "POST", "/api/system/control", map[string]string{"action": "restart"}), &env)
	if env.Code != 0 {
		t.Fatalf("restart envelope = %+v", env)
	}
	select {
	case code := <-hub.exits:
		if code != services.ExitCodeRestart {
			t.Errorf("exit code = %d", code)
		}
	case <-time.After(time.Second):
		t.Fatal("exit was never called")
	}
}

func TestRouter_FileUpdateRejectsTraversal(t *testing.T) {
	hub := newTestHub(t, "")

	content := "x"
	var env envelope
	decode(t, hub.do(t, "POST", "/api/file/update", map[string]any{"filePath": "/outputs_proxy/texts/../../etc/passwd", "content": content}), &env)
	if env.Code != -1 {
		t.Errorf("traversal code = %d", env.Code)
	}
	decode(t, hub.do(t, "POST", "/api/file/update", map[string]any{"filePath": "/outputs_proxy/texts/a.txt"}), &env)
	if env.Code != -1 {
		t.Errorf("missing content code = %d", env.Code)
	}
	decode(t, hub.do(t, "POST", "/api/file/update", map[string]any{"filePath": "/outputs_proxy/texts/a.txt", "content": content}), &env)
	if env.Code != 0 {
		t.Errorf("update envelope = %+v", env)
	}
}

func TestRouter_TemplatesExportImport(t *testing.T) {
	hub := newTestHub(t, "")

	tpl := domain.Template{
		Name:   "Cutout",
		AppID:  "42",
		Fields: []domain.Field{{NodeID: "1", FieldName: "prompt", FieldType: domain.FieldString, FieldValue: "x"}},
	}
	resp := hub.do(t, "POST", "/api/templates", tpl)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = hub.do(t, "GET", "/api/templates/export", nil)
	exported, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(resp.Header.Get("Content-Type"), "yaml") || !strings.Contains(string(exported), "Cutout") {
		t.Fatalf("export = %s (%s)", exported, resp.Header.Get("Content-Type"))
	}

	other := newTestHub(t, "")
	req := httptest.NewRequest("POST", "/api/templates/import", bytes.NewReader(exported))
	req.Header.Set("Content-Type", "application/yaml")
	resp, err := other.app.Test(req, -1)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	var imported struct {
		Imported int `json:"imported"`
	}
	decode(t, resp, &imported)
	if imported.Imported != 1 {
		t.Errorf("imported = %d", imported.Imported)
	}

	var list []domain.Template
	decode(t, other.do(t, "GET", "/api/templates", nil), &list)
	if len(list) != 1 || list[0].Name != "Cutout" {
		t.Errorf("templates after import = %+v", list)
	}
}

func TestRouter_Exchanges(t *testing.T) {
	hub := newTestHub(t, "")
	hub.do(t, "POST", "/uc/openapi/accountStatus", map[string]string{"apikey": testKey}).Body.Close()

	var exchanges []remote.Exchange
	decode(t, hub.do(t, "GET", "/api/diagnostics/exchanges", nil), &exchanges)
	if len(exchanges) == 0 || exchanges[0].URL != "/uc/openapi/accountStatus" {
		t.Errorf("exchanges = %+v", exchanges)
	}
}
