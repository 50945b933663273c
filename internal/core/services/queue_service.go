package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/apphub/backend/internal/config"
	"github.com/apphub/backend/internal/core/ports"
	"github.com/apphub/backend/internal/domain"
	"github.com/apphub/backend/internal/infrastructure/logger"
	"github.com/google/uuid"
)

// APIKeySource yields the credential used for status polls and cancels.
type APIKeySource interface {
	CurrentAPIKey() string
}

// QueueService owns the task list and enforces the concurrency ceiling.
// All mutation goes through its methods; network calls happen outside mu.
type QueueService struct {
	remote ports.RemoteClient
	state  *StateService
	keys   APIKeySource
	logger *logger.Logger
	cfg    config.QueueConfig
	now    func() time.Time

	commitMu sync.Mutex
	mu       sync.Mutex
	tasks    []*domain.TaskRecord // newest first
	ceiling  int
	pollers  map[string]*pollHandle
	notifier ports.TaskNotifier
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewQueueService(remote ports.RemoteClient, state *StateService, keys APIKeySource, cfg config.QueueConfig, logger *logger.Logger) *QueueService {
	if cfg.DefaultCeiling < 1 {
		cfg.DefaultCeiling = 1
	}
	if cfg.MaxCeiling < cfg.DefaultCeiling {
		cfg.MaxCeiling = cfg.DefaultCeiling
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &QueueService{
		remote:  remote,
		state:   state,
		keys:    keys,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
		ceiling: cfg.DefaultCeiling,
		pollers: make(map[string]*pollHandle),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetNotifier registers the receiver of task-list snapshots.
func (q *QueueService) SetNotifier(n ports.TaskNotifier) {
	q.mu.Lock()
	q.notifier = n
	q.mu.Unlock()
}

// Restore loads the persisted task list, resumes polling of tasks the
// backend knows about and schedules a reevaluation after the startup delay.
func (q *QueueService) Restore(ctx context.Context) error {
	if _, err := q.state.ApplyMigration(ctx); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	ceiling, err := q.state.Ceiling(ctx, q.cfg.DefaultCeiling)
	if err != nil {
		return fmt.Errorf("load ceiling: %w", err)
	}
	records, err := q.state.LoadTasks(ctx)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	var resume []string
	interrupted := 0
	now := q.now().UnixMilli()

	q.mu.Lock()
	q.ceiling = q.clampCeiling(ceiling)
	q.tasks = make([]*domain.TaskRecord, 0, len(records))
	seen := make(map[string]bool, len(records))
	for i := range records {
		rec := records[i]
		if seen[rec.TaskID] {
			continue
		}
		seen[rec.TaskID] = true

		switch {
		case rec.Status.IsActive() && domain.IsProvisionalID(rec.TaskID):
			// the process stopped between marking QUEUED and the backend reply
			rec.Status = domain.TaskStatusFailed
			rec.EndTime = &now
			rec.Payload = nil
			interrupted++
		case rec.Status == domain.TaskStatusPendingStart && rec.Payload == nil:
			rec.Status = domain.TaskStatusFailed
			rec.EndTime = &now
			interrupted++
		case rec.Status.IsActive():
			resume = append(resume, rec.TaskID)
		}
		q.tasks = append(q.tasks, &rec)
	}
	restored := len(q.tasks)
	q.mu.Unlock()

	if interrupted > 0 {
		q.commit(ctx)
	}
	for _, id := range resume {
		q.startPolling(id)
	}
	q.logger.Infow("queue_restored", "tasks", restored, "resumed", len(resume), "interrupted", interrupted, "ceiling", q.Ceiling())

	time.AfterFunc(q.cfg.StartupDelay, func() { q.drain(q.ctx) })
	return nil
}

// Close stops every poll loop and waits for them to exit.
func (q *QueueService) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	q.logger.Infow("queue_closed")
}

// Submit records a new run. With spare capacity it is dispatched at once,
// otherwise it waits as PENDING_START carrying its payload.
func (q *QueueService) Submit(ctx context.Context, payload domain.RunPayload, name, canvasID string) (domain.TaskRecord, error) {
	rec := &domain.TaskRecord{
		TaskID:    domain.ProvisionalIDPrefix + uuid.New().String(),
		Name:      name,
		StartTime: q.now().UnixMilli(),
		CanvasID:  canvasID,
		Payload:   &payload,
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return domain.TaskRecord{}, ErrQueueClosed
	}
	dispatchNow := q.activeCountLocked() < q.ceiling
	if dispatchNow {
		rec.Status = domain.TaskStatusQueued
	} else {
		rec.Status = domain.TaskStatusPendingStart
	}
	q.tasks = append([]*domain.TaskRecord{rec}, q.tasks...)
	provisional := rec.TaskID
	submitted := rec.Clone()
	q.mu.Unlock()

	q.logger.Infow("queue_submit", "task_id", provisional, "name", name, "dispatch", dispatchNow)
	q.commit(ctx)

	if !dispatchNow {
		return q.get(provisional)
	}
	finalID := q.dispatch(provisional, payload)
	out, err := q.get(finalID)
	if errors.Is(err, ErrTaskNotFound) {
		// cancelled while the start call was in flight
		submitted.Payload = nil
		return submitted, nil
	}
	return out, err
}

// Reevaluate promotes the oldest PENDING_START record when a slot is free.
// It reports whether a record was promoted.
func (q *QueueService) Reevaluate(ctx context.Context) bool {
	q.mu.Lock()
	if q.closed || q.activeCountLocked() >= q.ceiling {
		q.mu.Unlock()
		return false
	}
	var next *domain.TaskRecord
	for i := len(q.tasks) - 1; i >= 0; i-- {
		if q.tasks[i].Status == domain.TaskStatusPendingStart {
			next = q.tasks[i]
			break
		}
	}
	if next == nil {
		q.mu.Unlock()
		return false
	}
	// the slot is taken before the network round trip
	next.Status = domain.TaskStatusQueued
	id := next.TaskID
	payload := *next.Payload
	q.mu.Unlock()

	q.logger.Infow("queue_promote", "task_id", id)
	q.commit(ctx)
	q.dispatch(id, payload)
	return true
}

// drain reevaluates until no further record can be promoted.
func (q *QueueService) drain(ctx context.Context) {
	for q.Reevaluate(ctx) {
	}
}

// dispatch starts the run for a record already marked QUEUED and returns
// the id the record ends up with.
func (q *QueueService) dispatch(provisional string, payload domain.RunPayload) string {
	taskID, err := q.remote.RunTask(q.ctx, payload)

	q.mu.Lock()
	rec := q.findLocked(provisional)
	if rec == nil {
		q.mu.Unlock()
		q.logger.Warnw("dispatch_orphaned", "provisional_id", provisional, "task_id", taskID, "error", err)
		if err == nil {
			// removed while the start call was in flight; do not leave it running remotely
			if cerr := q.remote.CancelTask(q.ctx, q.keys.CurrentAPIKey(), taskID); cerr != nil && !isGone(cerr) {
				q.logger.Warnw("dispatch_orphan_cancel_failed", "task_id", taskID, "error", cerr)
			}
		}
		return provisional
	}

	if err != nil {
		now := q.now().UnixMilli()
		rec.Status = domain.TaskStatusFailed
		rec.EndTime = &now
		rec.Payload = nil
		q.mu.Unlock()

		q.logger.Errorw("dispatch_failed", "task_id", provisional, "error", err)
		q.commit(q.ctx)
		q.Reevaluate(q.ctx)
		return provisional
	}

	if q.findLocked(taskID) != nil {
		q.logger.Warnw("dispatch_duplicate_id", "task_id", taskID)
	}
	rec.TaskID = taskID
	rec.StartTime = q.now().UnixMilli()
	if short := domain.ShortID(taskID); !strings.Contains(rec.Name, short) {
		rec.Name = strings.TrimSpace(rec.Name + " " + short)
	}
	rec.Payload = nil
	q.mu.Unlock()

	q.logger.Infow("dispatch_ok", "provisional_id", provisional, "task_id", taskID)
	q.commit(q.ctx)
	q.startPolling(taskID)
	return taskID
}

// Cancel removes a record. Records the backend has never seen, pending
// records and finished records are dropped locally; anything else gets a
// remote cancel first. A failing remote cancel is reported but the record
// is still removed.
func (q *QueueService) Cancel(ctx context.Context, taskID string) error {
	q.mu.Lock()
	rec := q.findLocked(taskID)
	if rec == nil {
		q.mu.Unlock()
		return ErrTaskNotFound
	}
	local := domain.IsProvisionalID(taskID) ||
		rec.Status == domain.TaskStatusPendingStart ||
		rec.Status.IsTerminal()
	q.mu.Unlock()

	var cancelErr error
	if !local {
		if err := q.remote.CancelTask(ctx, q.keys.CurrentAPIKey(), taskID); err != nil && !isGone(err) {
			q.logger.Warnw("queue_cancel_remote_failed", "task_id", taskID, "error", err)
			cancelErr = fmt.Errorf("%w: %v", ErrCancelFailed, err)
		}
	}

	q.remove(ctx, taskID)
	q.logger.Infow("queue_cancel", "task_id", taskID, "local", local)
	q.Reevaluate(ctx)
	return cancelErr
}

// Delete removes a finished record from the list.
func (q *QueueService) Delete(ctx context.Context, taskID string) error {
	q.mu.Lock()
	rec := q.findLocked(taskID)
	if rec == nil {
		q.mu.Unlock()
		return ErrTaskNotFound
	}
	if rec.Status.IsActive() || rec.Status == domain.TaskStatusPendingStart {
		q.mu.Unlock()
		return ErrTaskActive
	}
	q.mu.Unlock()

	q.remove(ctx, taskID)
	return nil
}

func (q *QueueService) remove(ctx context.Context, taskID string) {
	q.mu.Lock()
	for i, t := range q.tasks {
		if t.TaskID == taskID {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			break
		}
	}
	if h, ok := q.pollers[taskID]; ok {
		h.cancel()
		delete(q.pollers, taskID)
	}
	q.mu.Unlock()

	q.commit(ctx)
}

// SetCeiling stores a new ceiling and promotes as many pending records as
// the new capacity allows.
func (q *QueueService) SetCeiling(ctx context.Context, n int) (int, error) {
	if n < 1 {
		return 0, ErrInvalidCeiling
	}
	q.mu.Lock()
	q.ceiling = q.clampCeiling(n)
	applied := q.ceiling
	q.mu.Unlock()

	if err := q.state.SetCeiling(ctx, applied); err != nil {
		return applied, err
	}
	q.logger.Infow("queue_ceiling_set", "ceiling", applied)
	q.commit(ctx)
	q.drain(ctx)
	return applied, nil
}

func (q *QueueService) Ceiling() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ceiling
}

func (q *QueueService) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.activeCountLocked()
}

// List returns the task list, newest first, with queue positions for
// pending records.
func (q *QueueService) List() []domain.TaskView {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.viewsLocked()
}

func (q *QueueService) Get(taskID string) (domain.TaskRecord, error) {
	return q.get(taskID)
}

// Outputs returns the cached outputs of a finished task, fetching them
// once when they are missing.
func (q *QueueService) Outputs(ctx context.Context, taskID string) ([]domain.TaskOutput, error) {
	rec, err := q.get(taskID)
	if err != nil {
		return nil, err
	}
	if rec.Outputs != nil || domain.IsProvisionalID(taskID) {
		return rec.Outputs, nil
	}
	return q.fetchOutputs(ctx, taskID)
}

func (q *QueueService) fetchOutputs(ctx context.Context, taskID string) ([]domain.TaskOutput, error) {
	outputs, err := q.remote.TaskOutputs(ctx, q.keys.CurrentAPIKey(), taskID)
	if err != nil {
		q.logger.Warnw("queue_outputs_failed", "task_id", taskID, "error", err)
		return nil, err
	}

	q.mu.Lock()
	rec := q.findLocked(taskID)
	if rec == nil {
		q.mu.Unlock()
		return outputs, nil
	}
	rec.Outputs = outputs
	q.mu.Unlock()

	q.commit(ctx)
	return outputs, nil
}

func (q *QueueService) get(taskID string) (domain.TaskRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec := q.findLocked(taskID)
	if rec == nil {
		return domain.TaskRecord{}, ErrTaskNotFound
	}
	return rec.Clone(), nil
}

func (q *QueueService) clampCeiling(n int) int {
	if n < 1 {
		return 1
	}
	if n > q.cfg.MaxCeiling {
		return q.cfg.MaxCeiling
	}
	return n
}

func (q *QueueService) findLocked(taskID string) *domain.TaskRecord {
	for _, t := range q.tasks {
		if t.TaskID == taskID {
			return t
		}
	}
	return nil
}

func (q *QueueService) activeCountLocked() int {
	n := 0
	for _, t := range q.tasks {
		if t.Status.IsActive() {
			n++
		}
	}
	return n
}

func (q *QueueService) snapshotLocked() []domain.TaskRecord {
	out := make([]domain.TaskRecord, len(q.tasks))
	for i, t := range q.tasks {
		out[i] = t.Clone()
	}
	return out
}

func (q *QueueService) viewsLocked() []domain.TaskView {
	active := q.activeCountLocked()
	now := q.now().UnixMilli()
	views := make([]domain.TaskView, len(q.tasks))
	pendingBehind := 0
	for i := len(q.tasks) - 1; i >= 0; i-- {
		t := q.tasks[i]
		v := domain.TaskView{TaskRecord: t.Clone(), StartedAt: domain.FormatDateTime(t.StartTime)}
		switch {
		case t.Status == domain.TaskStatusPendingStart:
			v.QueuePosition = QueuePosition(active, pendingBehind, q.ceiling)
			v.Elapsed = domain.FormatDuration(0)
			pendingBehind++
		case t.EndTime != nil:
			v.Elapsed = domain.FormatDuration(*t.EndTime - t.StartTime)
		default:
			v.Elapsed = domain.FormatDuration(now - t.StartTime)
		}
		views[i] = v
	}
	return views
}

// QueuePosition is the number of tasks that must finish before a pending
// record runs: active + olderPending - ceiling + 1, never below 1.
func QueuePosition(active, olderPending, ceiling int) int {
	pos := active + olderPending - ceiling + 1
	if pos < 1 {
		return 1
	}
	return pos
}

// commit saves the current task list and publishes it. commitMu keeps
// saves and notifications in the order their snapshots were taken.
func (q *QueueService) commit(ctx context.Context) {
	q.commitMu.Lock()
	defer q.commitMu.Unlock()

	q.mu.Lock()
	snapshot := q.snapshotLocked()
	n := q.notifier
	var views []domain.TaskView
	if n != nil {
		views = q.viewsLocked()
	}
	q.mu.Unlock()

	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := q.state.SaveTasks(ctx, snapshot); err != nil {
		q.logger.Errorw("queue_persist_failed", "error", err)
	}
	if n != nil {
		n.TasksChanged(views)
	}
}

// isGone reports backend codes that mean the task no longer exists.
func isGone(err error) bool {
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == domain.CodeTaskNotExist || apiErr.Code == domain.CodeNotFound
}
