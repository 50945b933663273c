package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/apphub/backend/internal/config"
	"github.com/apphub/backend/internal/core/ports"
	"github.com/apphub/backend/internal/domain"
	"github.com/apphub/backend/internal/infrastructure/db"
	"github.com/apphub/backend/internal/infrastructure/logger"
)

const testAPIKey = "0123456789abcdef0123456789abcdef"

// fakeRemote is an in-memory backend. Task ids are issued sequentially
// starting at 1972171722227110001.
type fakeRemote struct {
	mu sync.Mutex

	nextID    int64
	runErr    error
	statuses  map[string]domain.TaskStatus
	statusErr error
	cancelErr error
	outputs   []domain.TaskOutput
	uploadErr error
	downloads map[string]string
	webapp    *domain.WebappInfo
	account   *domain.AccountStatus

	// when set, RunTask signals runStarted and blocks until runGate closes
	runStarted chan struct{}
	runGate    chan struct{}

	runs        []domain.RunPayload
	statusCalls map[string]int
	cancels     []string
	uploads     []ports.UploadRequest
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		nextID:      1972171722227110001,
		statuses:    map[string]domain.TaskStatus{},
		statusCalls: map[string]int{},
		downloads:   map[string]string{},
	}
}

func (f *fakeRemote) AccountStatus(ctx context.Context, apiKey string) (*domain.AccountStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.account == nil {
		return &domain.AccountStatus{}, nil
	}
	return f.account, nil
}

func (f *fakeRemote) WebappInfo(ctx context.Context, apiKey, webappID string) (*domain.WebappInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.webapp == nil {
		return nil, &domain.APIError{Code: 404, Msg: "not found"}
	}
	return f.webapp, nil
}

func (f *fakeRemote) RunTask(ctx context.Context, payload domain.RunPayload) (string, error) {
	f.mu.Lock()
	started, gate := f.runStarted, f.runGate
	f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, payload)
	if f.runErr != nil {
		return "", f.runErr
	}
	id := fmt.Sprint(f.nextID)
	f.nextID++
	if _, ok := f.statuses[id]; !ok {
		f.statuses[id] = domain.TaskStatusRunning
	}
	return id, nil
}

func (f *fakeRemote) TaskStatus(ctx context.Context, apiKey, taskID string) (domain.TaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls[taskID]++
	if f.statusErr != nil {
		return "", f.statusErr
	}
	return f.statuses[taskID], nil
}

func (f *fakeRemote) CancelTask(ctx context.Context, apiKey, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, taskID)
	return f.cancelErr
}

func (f *fakeRemote) TaskOutputs(ctx context.Context, apiKey, taskID string) ([]domain.TaskOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.TaskOutput(nil), f.outputs...), nil
}

func (f *fakeRemote) Upload(ctx context.Context, req ports.UploadRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.uploads = append(f.uploads, req)
	return "api/" + req.FileName, nil
}

func (f *fakeRemote) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.downloads[url]
	if !ok {
		return nil, fmt.Errorf("no such url %s", url)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *fakeRemote) setStatus(id string, s domain.TaskStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = s
}

func (f *fakeRemote) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func (f *fakeRemote) runApps() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	apps := make([]string, len(f.runs))
	for i, r := range f.runs {
		apps[i] = r.WebappID
	}
	return apps
}

func (f *fakeRemote) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancels)
}

func (f *fakeRemote) statusCallCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls[id]
}

func newTestState(t *testing.T) *StateService {
	t.Helper()
	repo, err := db.NewSQLiteStateRepository(":memory:", logger.NewNop())
	if err != nil {
		t.Fatalf("open state repo: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	state := NewStateService(repo, logger.NewNop(), "")
	if err := state.SetAPIKey(context.Background(), testAPIKey); err != nil {
		t.Fatalf("set api key: %v", err)
	}
	return state
}

func testQueueConfig(ceiling int) config.QueueConfig {
	return config.QueueConfig{
		DefaultCeiling:  ceiling,
		MaxCeiling:      10,
		PollInterval:    5 * time.Millisecond,
		ReevaluateDelay: 5 * time.Millisecond,
		StartupDelay:    5 * time.Millisecond,
	}
}

func newTestQueue(t *testing.T, remote *fakeRemote, ceiling int) (*QueueService, *StateService) {
	t.Helper()
	state := newTestState(t)
	q := NewQueueService(remote, state, state, testQueueConfig(ceiling), logger.NewNop())
	t.Cleanup(q.Close)
	return q, state
}

func payloadFor(app string) domain.RunPayload {
	return domain.RunPayload{WebappID: app, APIKey: testAPIKey, InstanceType: "default"}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func findView(views []domain.TaskView, id string) *domain.TaskView {
	for i := range views {
		if views[i].TaskID == id {
			return &views[i]
		}
	}
	return nil
}

// recordingNotifier counts snapshots.
type recordingNotifier struct {
	mu    sync.Mutex
	calls int
	last  []domain.TaskView
}

func (r *recordingNotifier) TasksChanged(tasks []domain.TaskView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.last = tasks
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
