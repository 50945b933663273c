package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/apphub/backend/internal/core/ports"
	"github.com/apphub/backend/internal/domain"
	"github.com/apphub/backend/internal/infrastructure/logger"
	"github.com/apphub/backend/pkg/utils/crypto"
)

// StateService is the typed view over the durable key/value store. Every
// value is stored as serialized JSON under one of the domain.StateKey* keys.
type StateService struct {
	repo          ports.StateRepository
	logger        *logger.Logger
	encryptionKey string

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	apiKey string
}

func NewStateService(repo ports.StateRepository, logger *logger.Logger, encryptionKey string) *StateService {
	return &StateService{
		repo:          repo,
		logger:        logger,
		encryptionKey: encryptionKey,
		locks:         make(map[string]*sync.Mutex),
	}
}

func (s *StateService) lockKeys(keys ...string) func() {
	if len(keys) == 0 {
		return func() {}
	}
	sort.Strings(keys)
	s.mu.Lock()
	acquired := make([]*sync.Mutex, 0, len(keys))
	for _, k := range keys {
		m := s.locks[k]
		if m == nil {
			m = &sync.Mutex{}
			s.locks[k] = m
		}
		acquired = append(acquired, m)
	}
	s.mu.Unlock()
	for _, m := range acquired {
		m.Lock()
	}
	return func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].Unlock()
		}
	}
}

// getJSON decodes the value under key into out and reports whether the
// key existed.
func (s *StateService) getJSON(ctx context.Context, key string, out any) (bool, error) {
	entry, err := s.repo.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if entry == nil || entry.Value == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(entry.Value), out); err != nil {
		s.logger.Warnw("state_value_corrupt", "key", key, "error", err)
		return false, nil
	}
	return true, nil
}

func (s *StateService) setJSON(ctx context.Context, key, category string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.repo.Set(ctx, &domain.StateEntry{Key: key, Value: string(data), Category: category})
}

// ==================== Task list ====================

func (s *StateService) LoadTasks(ctx context.Context) ([]domain.TaskRecord, error) {
	var tasks []domain.TaskRecord
	if _, err := s.getJSON(ctx, domain.StateKeyTasks, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *StateService) SaveTasks(ctx context.Context, tasks []domain.TaskRecord) error {
	unlock := s.lockKeys(domain.StateKeyTasks)
	defer unlock()
	if tasks == nil {
		tasks = []domain.TaskRecord{}
	}
	return s.setJSON(ctx, domain.StateKeyTasks, domain.StateCategoryTasks, tasks)
}

// ApplyMigration clears the stored task list the first time this data
// directory is used and then records the marker. It reports whether the
// migration ran.
func (s *StateService) ApplyMigration(ctx context.Context) (bool, error) {
	unlock := s.lockKeys(domain.StateKeyMigration, domain.StateKeyTasks)
	defer unlock()

	entry, err := s.repo.Get(ctx, domain.StateKeyMigration)
	if err != nil {
		return false, err
	}
	if entry != nil {
		return false, nil
	}
	if err := s.repo.Delete(ctx, domain.StateKeyTasks); err != nil {
		return false, err
	}
	if err := s.setJSON(ctx, domain.StateKeyMigration, domain.StateCategorySettings, true); err != nil {
		return false, err
	}
	s.logger.Infow("state_migration_applied", "marker", domain.StateKeyMigration)
	return true, nil
}

// ==================== Catalog ====================

func (s *StateService) Templates(ctx context.Context) ([]domain.Template, error) {
	var templates []domain.Template
	if _, err := s.getJSON(ctx, domain.StateKeyTemplates, &templates); err != nil {
		return nil, err
	}
	return templates, nil
}

func (s *StateService) SaveTemplates(ctx context.Context, templates []domain.Template) error {
	if templates == nil {
		templates = []domain.Template{}
	}
	return s.setJSON(ctx, domain.StateKeyTemplates, domain.StateCategoryCatalog, templates)
}

// UpdateTemplates runs fn over the stored templates under the key lock and
// saves the result unless fn fails.
func (s *StateService) UpdateTemplates(ctx context.Context, fn func([]domain.Template) ([]domain.Template, error)) error {
	unlock := s.lockKeys(domain.StateKeyTemplates)
	defer unlock()
	current, err := s.Templates(ctx)
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	return s.SaveTemplates(ctx, next)
}

func (s *StateService) CredentialPresets(ctx context.Context) ([]domain.CredentialPreset, error) {
	var presets []domain.CredentialPreset
	if _, err := s.getJSON(ctx, domain.StateKeyCredentialSets, &presets); err != nil {
		return nil, err
	}
	for i := range presets {
		presets[i].Key = s.reveal(presets[i].Key)
	}
	return presets, nil
}

func (s *StateService) UpdateCredentialPresets(ctx context.Context, fn func([]domain.CredentialPreset) ([]domain.CredentialPreset, error)) error {
	unlock := s.lockKeys(domain.StateKeyCredentialSets)
	defer unlock()
	current, err := s.CredentialPresets(ctx)
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	stored := make([]domain.CredentialPreset, len(next))
	for i, p := range next {
		p.Key, err = s.conceal(p.Key)
		if err != nil {
			return err
		}
		stored[i] = p
	}
	return s.setJSON(ctx, domain.StateKeyCredentialSets, domain.StateCategoryAccount, stored)
}

// CategoryPresets returns the per-category shortcuts, seeding the defaults
// on first use.
func (s *StateService) CategoryPresets(ctx context.Context) (map[string][]domain.CategoryPreset, error) {
	presets := map[string][]domain.CategoryPreset{}
	found, err := s.getJSON(ctx, domain.StateKeyCategoryPresets, &presets)
	if err != nil {
		return nil, err
	}
	if !found {
		presets = domain.DefaultCategoryPresets()
		if err := s.setJSON(ctx, domain.StateKeyCategoryPresets, domain.StateCategoryCatalog, presets); err != nil {
			return nil, err
		}
	}
	return presets, nil
}

func (s *StateService) UpdateCategoryPresets(ctx context.Context, fn func(map[string][]domain.CategoryPreset) error) error {
	unlock := s.lockKeys(domain.StateKeyCategoryPresets)
	defer unlock()
	presets, err := s.CategoryPresets(ctx)
	if err != nil {
		return err
	}
	if err := fn(presets); err != nil {
		return err
	}
	return s.setJSON(ctx, domain.StateKeyCategoryPresets, domain.StateCategoryCatalog, presets)
}

// ==================== Account ====================

// LoadAPIKey reads the last-used credential into memory.
func (s *StateService) LoadAPIKey(ctx context.Context) (string, error) {
	var stored string
	if _, err := s.getJSON(ctx, domain.StateKeyAPIKey, &stored); err != nil {
		return "", err
	}
	key := s.reveal(stored)
	s.mu.Lock()
	s.apiKey = key
	s.mu.Unlock()
	return key, nil
}

func (s *StateService) SetAPIKey(ctx context.Context, key string) error {
	stored, err := s.conceal(key)
	if err != nil {
		return err
	}
	if err := s.setJSON(ctx, domain.StateKeyAPIKey, domain.StateCategoryAccount, stored); err != nil {
		return err
	}
	s.mu.Lock()
	s.apiKey = key
	s.mu.Unlock()
	return nil
}

// CurrentAPIKey is the in-memory credential used by polling and dispatch.
func (s *StateService) CurrentAPIKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apiKey
}

// Ceiling returns the stored concurrency ceiling or def when none is set.
func (s *StateService) Ceiling(ctx context.Context, def int) (int, error) {
	var raw domain.FlexString
	found, err := s.getJSON(ctx, domain.StateKeyCeiling, &raw)
	if err != nil || !found {
		return def, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw.String()))
	if err != nil || n < 1 {
		return def, nil
	}
	return n, nil
}

func (s *StateService) SetCeiling(ctx context.Context, n int) error {
	return s.setJSON(ctx, domain.StateKeyCeiling, domain.StateCategorySettings, n)
}

// conceal encrypts a credential when an encryption key is configured.
func (s *StateService) conceal(value string) (string, error) {
	if s.encryptionKey == "" || value == "" {
		return value, nil
	}
	sealed, err := crypto.Encrypt(value, s.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return sealed, nil
}

// reveal is the inverse of conceal. Plain values written before a key was
// configured pass through unchanged.
func (s *StateService) reveal(value string) string {
	if !crypto.IsEncrypted(value) {
		return value
	}
	plain, err := crypto.Decrypt(value, s.encryptionKey)
	if err != nil {
		s.logger.Errorw("state_decrypt_failed", "error", fmt.Errorf("%w: %v", ErrDecryptionFailed, err))
		return ""
	}
	return plain
}
