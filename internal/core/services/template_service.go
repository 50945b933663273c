package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/apphub/backend/internal/core/ports"
	"github.com/apphub/backend/internal/domain"
	"github.com/apphub/backend/internal/infrastructure/logger"
	"github.com/apphub/backend/internal/infrastructure/remote"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const untitledTemplate = "Untitled task"

// TemplateService manages the saved catalog: workapp templates, credential
// presets and the per-category shortcut buttons.
type TemplateService struct {
	state  *StateService
	queue  *QueueService
	remote ports.RemoteClient
	logger *logger.Logger
	now    func() time.Time
}

func NewTemplateService(state *StateService, queue *QueueService, remote ports.RemoteClient, logger *logger.Logger) *TemplateService {
	return &TemplateService{
		state:  state,
		queue:  queue,
		remote: remote,
		logger: logger,
		now:    time.Now,
	}
}

// ==================== Templates ====================

func (s *TemplateService) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	templates, err := s.state.Templates(ctx)
	if err != nil {
		return nil, err
	}
	if templates == nil {
		templates = []domain.Template{}
	}
	return templates, nil
}

func (s *TemplateService) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	templates, err := s.state.Templates(ctx)
	if err != nil {
		return nil, err
	}
	for i := range templates {
		if templates[i].ID == id {
			return &templates[i], nil
		}
	}
	return nil, ErrTemplateNotFound
}

// SaveTemplate creates a template when t.ID is empty and replaces the
// stored one otherwise.
func (s *TemplateService) SaveTemplate(ctx context.Context, t domain.Template) (*domain.Template, error) {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		t.Name = untitledTemplate
	}
	t.AppID = strings.TrimSpace(t.AppID)
	if !isNumeric(t.AppID) || len(t.Fields) == 0 {
		return nil, ErrTemplateInvalid
	}
	t.Fields = domain.CloneFields(t.Fields)
	creating := t.ID == ""
	if creating {
		t.ID = uuid.New().String()
	}

	err := s.state.UpdateTemplates(ctx, func(templates []domain.Template) ([]domain.Template, error) {
		if creating {
			return append(templates, t), nil
		}
		for i := range templates {
			if templates[i].ID == t.ID {
				templates[i] = t
				return templates, nil
			}
		}
		return nil, ErrTemplateNotFound
	})
	if err != nil {
		return nil, err
	}
	s.logger.Infow("template_saved", "template_id", t.ID, "app_id", t.AppID, "created", creating)
	return &t, nil
}

func (s *TemplateService) DeleteTemplate(ctx context.Context, id string) error {
	err := s.state.UpdateTemplates(ctx, func(templates []domain.Template) ([]domain.Template, error) {
		for i := range templates {
			if templates[i].ID == id {
				return append(templates[:i], templates[i+1:]...), nil
			}
		}
		return nil, ErrTemplateNotFound
	})
	if err != nil {
		return err
	}
	s.logger.Infow("template_deleted", "template_id", id)
	return nil
}

// FetchSchema asks the backend for the parameter schema of a workapp.
func (s *TemplateService) FetchSchema(ctx context.Context, appID string) (*domain.WebappInfo, error) {
	appID = strings.TrimSpace(appID)
	if !isNumeric(appID) {
		return nil, ErrInvalidAppID
	}
	key := s.state.CurrentAPIKey()
	if key == "" {
		return nil, ErrNoCredential
	}
	info, err := s.remote.WebappInfo(ctx, key, appID)
	if err != nil {
		return nil, err
	}
	if info.WebappName == "" {
		info.WebappName = untitledTemplate
	}
	return info, nil
}

// ExportTemplates writes every saved template as a YAML document.
func (s *TemplateService) ExportTemplates(ctx context.Context, w io.Writer) (int, error) {
	templates, err := s.ListTemplates(ctx)
	if err != nil {
		return 0, err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(templates); err != nil {
		return 0, fmt.Errorf("encode templates: %w", err)
	}
	return len(templates), enc.Close()
}

// ImportTemplates merges templates from a YAML document. Entries whose id
// is already stored replace it; entries without an id get a new one.
func (s *TemplateService) ImportTemplates(ctx context.Context, r io.Reader) (int, error) {
	var incoming []domain.Template
	if err := yaml.NewDecoder(r).Decode(&incoming); err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("decode templates: %w", err)
	}
	for i := range incoming {
		t := &incoming[i]
		if !isNumeric(strings.TrimSpace(t.AppID)) || len(t.Fields) == 0 {
			return 0, fmt.Errorf("%w: entry %d (%q)", ErrTemplateInvalid, i, t.Name)
		}
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		if t.Name == "" {
			t.Name = untitledTemplate
		}
	}

	err := s.state.UpdateTemplates(ctx, func(templates []domain.Template) ([]domain.Template, error) {
		index := make(map[string]int, len(templates))
		for i, t := range templates {
			index[t.ID] = i
		}
		for _, t := range incoming {
			if i, ok := index[t.ID]; ok {
				templates[i] = t
				continue
			}
			index[t.ID] = len(templates)
			templates = append(templates, t)
		}
		return templates, nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Infow("templates_imported", "count", len(incoming))
	return len(incoming), nil
}

// ==================== Credential presets ====================

// CredentialPresetView is a stored preset with its key masked.
type CredentialPresetView struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	MaskedKey string `json:"maskedKey"`
	TaskCount int    `json:"taskCount"`
	Date      int64  `json:"date"`
}

func (s *TemplateService) ListCredentialPresets(ctx context.Context) ([]CredentialPresetView, error) {
	presets, err := s.state.CredentialPresets(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]CredentialPresetView, 0, len(presets))
	for i, p := range presets {
		count := p.TaskCount
		if count < 1 {
			count = 1
		}
		views = append(views, CredentialPresetView{Index: i, Name: p.Name, MaskedKey: p.MaskedKey(), TaskCount: count, Date: p.Date})
	}
	return views, nil
}

// SaveCredentialPreset appends a preset. An empty key or task count takes
// the current credential and ceiling.
func (s *TemplateService) SaveCredentialPreset(ctx context.Context, name, key string, taskCount int) (*CredentialPresetView, error) {
	name = strings.TrimSpace(name)
	key = strings.TrimSpace(key)
	if key == "" {
		key = s.state.CurrentAPIKey()
	}
	if taskCount < 1 {
		taskCount = s.queue.Ceiling()
	}
	if name == "" || remote.ValidateAPIKey(key) != nil {
		return nil, ErrPresetInvalid
	}

	p := domain.CredentialPreset{Name: name, Key: key, TaskCount: taskCount, Date: s.now().UnixMilli()}
	var index int
	err := s.state.UpdateCredentialPresets(ctx, func(presets []domain.CredentialPreset) ([]domain.CredentialPreset, error) {
		index = len(presets)
		return append(presets, p), nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Infow("credential_preset_saved", "name", name, "task_count", taskCount)
	return &CredentialPresetView{Index: index, Name: p.Name, MaskedKey: p.MaskedKey(), TaskCount: p.TaskCount, Date: p.Date}, nil
}

// ApplyCredentialPreset makes the preset's key the current credential and
// its task count the ceiling (1 when unset). It returns the new ceiling.
func (s *TemplateService) ApplyCredentialPreset(ctx context.Context, index int) (int, error) {
	presets, err := s.state.CredentialPresets(ctx)
	if err != nil {
		return 0, err
	}
	if index < 0 || index >= len(presets) {
		return 0, ErrPresetNotFound
	}
	p := presets[index]
	if err := s.state.SetAPIKey(ctx, p.Key); err != nil {
		return 0, err
	}
	count := p.TaskCount
	if count < 1 {
		count = 1
	}
	ceiling, err := s.queue.SetCeiling(ctx, count)
	if err != nil {
		return 0, err
	}
	s.logger.Infow("credential_preset_applied", "name", p.Name, "ceiling", ceiling)
	return ceiling, nil
}

func (s *TemplateService) DeleteCredentialPreset(ctx context.Context, index int) error {
	return s.state.UpdateCredentialPresets(ctx, func(presets []domain.CredentialPreset) ([]domain.CredentialPreset, error) {
		if index < 0 || index >= len(presets) {
			return nil, ErrPresetNotFound
		}
		return append(presets[:index], presets[index+1:]...), nil
	})
}

// ==================== Credential ====================

// SetCredential validates key against the backend and makes it current.
func (s *TemplateService) SetCredential(ctx context.Context, key string) (*domain.AccountStatus, error) {
	key = strings.TrimSpace(key)
	status, err := s.remote.AccountStatus(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.state.SetAPIKey(ctx, key); err != nil {
		return nil, err
	}
	s.logger.Infow("credential_set", "task_counts", status.CurrentTaskCounts.String())
	return status, nil
}

// Account reports the balance of the current credential.
func (s *TemplateService) Account(ctx context.Context) (*domain.AccountStatus, error) {
	key := s.state.CurrentAPIKey()
	if key == "" {
		return nil, ErrNoCredential
	}
	return s.remote.AccountStatus(ctx, key)
}

// ==================== Category presets ====================

func (s *TemplateService) CategoryPresets(ctx context.Context) (map[string][]domain.CategoryPreset, error) {
	return s.state.CategoryPresets(ctx)
}

// SaveCategoryPreset appends to category when index is negative and
// replaces the entry at index otherwise.
func (s *TemplateService) SaveCategoryPreset(ctx context.Context, category string, index int, p domain.CategoryPreset) error {
	if !knownCategory(category) {
		return ErrCategoryUnknown
	}
	p.Name = strings.TrimSpace(p.Name)
	p.ID = strings.TrimSpace(p.ID)
	if p.Name == "" || !isNumeric(p.ID) {
		return ErrCategoryPresetBad
	}
	return s.state.UpdateCategoryPresets(ctx, func(presets map[string][]domain.CategoryPreset) error {
		list := presets[category]
		if index < 0 {
			presets[category] = append(list, p)
			return nil
		}
		if index >= len(list) {
			return ErrPresetNotFound
		}
		list[index] = p
		return nil
	})
}

func (s *TemplateService) DeleteCategoryPreset(ctx context.Context, category string, index int) error {
	if !knownCategory(category) {
		return ErrCategoryUnknown
	}
	return s.state.UpdateCategoryPresets(ctx, func(presets map[string][]domain.CategoryPreset) error {
		list := presets[category]
		if index < 0 || index >= len(list) {
			return ErrPresetNotFound
		}
		presets[category] = append(list[:index], list[index+1:]...)
		return nil
	})
}

func knownCategory(c string) bool {
	for _, k := range domain.Categories {
		if k == c {
			return true
		}
	}
	return false
}
