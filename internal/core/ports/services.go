package ports

import (
	"context"
	"io"
	"time"

	"github.com/apphub/backend/internal/domain"
)

// RemoteClient is the job-execution backend. Non-zero response codes are
// returned as *domain.APIError; transport failures as wrapped errors.
type RemoteClient interface {
	AccountStatus(ctx context.Context, apiKey string) (*domain.AccountStatus, error)
	WebappInfo(ctx context.Context, apiKey, webappID string) (*domain.WebappInfo, error)
	RunTask(ctx context.Context, payload domain.RunPayload) (string, error)
	TaskStatus(ctx context.Context, apiKey, taskID string) (domain.TaskStatus, error)
	CancelTask(ctx context.Context, apiKey, taskID string) error
	TaskOutputs(ctx context.Context, apiKey, taskID string) ([]domain.TaskOutput, error)
	Upload(ctx context.Context, req UploadRequest) (string, error)
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

type UploadRequest struct {
	APIKey   string
	NodeID   string
	FileType domain.FieldKind
	FileName string
	MIME     string
	Content  io.Reader
}

// TaskNotifier receives a fresh snapshot after every task-list mutation.
type TaskNotifier interface {
	TasksChanged(tasks []domain.TaskView)
}

type StoredFile struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// ResultStorage holds saved artifacts. Directories are category paths as
// configured, relative paths resolve against the backend's root.
type ResultStorage interface {
	Stat(ctx context.Context, dir, name string) (size int64, exists bool, err error)
	Write(ctx context.Context, dir, name string, r io.Reader) error
	List(ctx context.Context, dir string) ([]StoredFile, error)
	Open(ctx context.Context, dir, name string) (io.ReadCloser, error)
	MkdirAll(ctx context.Context, dir string) error
}
