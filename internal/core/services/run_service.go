package services

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/apphub/backend/internal/core/ports"
	"github.com/apphub/backend/internal/domain"
	"github.com/apphub/backend/internal/infrastructure/logger"
)

const defaultInstanceType = "default"

var namePrefixes = map[FormSource]string{
	SourceNew:    "[New]",
	SourcePreset: "[Preset]",
}

// RunRequest starts the active form of Source.
type RunRequest struct {
	Source   FormSource `json:"source"`
	Name     string     `json:"name"`
	CanvasID string     `json:"canvasId"`
}

// RunService turns a validated form into a queued task: attached files are
// uploaded first and their backend names become the field values.
type RunService struct {
	forms     *FormService
	queue     *QueueService
	remote    ports.RemoteClient
	keys      APIKeySource
	inputs    ports.ResultStorage
	inputsDir string
	logger    *logger.Logger
}

func NewRunService(
	forms *FormService,
	queue *QueueService,
	remote ports.RemoteClient,
	keys APIKeySource,
	inputs ports.ResultStorage,
	inputsDir string,
	logger *logger.Logger,
) *RunService {
	return &RunService{
		forms:     forms,
		queue:     queue,
		remote:    remote,
		keys:      keys,
		inputs:    inputs,
		inputsDir: inputsDir,
		logger:    logger,
	}
}

func (s *RunService) Run(ctx context.Context, req RunRequest) (domain.TaskRecord, error) {
	apiKey := s.keys.CurrentAPIKey()
	if apiKey == "" {
		return domain.TaskRecord{}, ErrNoCredential
	}
	sub, err := s.forms.Validate(req.Source)
	if err != nil {
		return domain.TaskRecord{}, err
	}
	if !isNumeric(sub.AppID) {
		return domain.TaskRecord{}, ErrInvalidAppID
	}

	nodes := make([]domain.NodeValue, 0, len(sub.Fields))
	for _, f := range sub.Fields {
		value := f.FieldValue
		if f.FieldType.IsFile() {
			att := sub.Files[fieldKey(f.NodeID, f.FieldName)]
			name, err := s.upload(ctx, apiKey, f, att)
			if err != nil {
				return domain.TaskRecord{}, err
			}
			value = name
		}
		nodes = append(nodes, domain.NodeValue{NodeID: f.NodeID, FieldName: f.FieldName, FieldValue: value})
	}

	payload := domain.RunPayload{
		WebappID:     sub.AppID,
		APIKey:       apiKey,
		NodeInfoList: nodes,
		InstanceType: defaultInstanceType,
	}
	return s.queue.Submit(ctx, payload, taskName(req.Source, req.Name), req.CanvasID)
}

func (s *RunService) upload(ctx context.Context, apiKey string, f domain.Field, att *Attachment) (string, error) {
	s.keepInput(ctx, f.FieldType, att)

	name, err := s.remote.Upload(ctx, ports.UploadRequest{
		APIKey:   apiKey,
		NodeID:   f.NodeID,
		FileType: f.FieldType,
		FileName: att.Name,
		MIME:     att.MIME,
		Content:  bytes.NewReader(att.Data),
	})
	if err != nil {
		s.logger.Warnw("run_upload_failed", "node_id", f.NodeID, "file", att.Name, "error", err)
		return "", fmt.Errorf("%w: %s: %v", ErrUploadFailed, att.Name, err)
	}
	if name == "" {
		return "", fmt.Errorf("%w: %s: backend returned no file name", ErrUploadFailed, att.Name)
	}
	s.logger.Infow("run_upload_done", "node_id", f.NodeID, "file", att.Name, "remote_name", name)
	return name, nil
}

// keepInput stores a local copy of the uploaded file under the inputs
// directory. A failed copy does not stop the run.
func (s *RunService) keepInput(ctx context.Context, kind domain.FieldKind, att *Attachment) {
	if s.inputs == nil {
		return
	}
	dir := path.Join(s.inputsDir, kind.UploadFolder())
	if err := s.inputs.Write(ctx, dir, path.Base(att.Name), bytes.NewReader(att.Data)); err != nil {
		s.logger.Warnw("run_input_copy_failed", "dir", dir, "file", att.Name, "error", err)
	}
}

func taskName(source FormSource, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Task"
	}
	if p, ok := namePrefixes[source]; ok {
		return p + " " + name
	}
	return name
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
