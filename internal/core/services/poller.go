package services

import (
	"context"
	"time"

	"github.com/apphub/backend/internal/domain"
)

// pollHandle is the cancel signal of one task's poll loop.
type pollHandle struct {
	cancel context.CancelFunc
}

// startPolling launches the status loop for taskID unless one is running.
func (q *QueueService) startPolling(taskID string) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if _, running := q.pollers[taskID]; running {
		q.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(q.ctx)
	h := &pollHandle{cancel: cancel}
	q.pollers[taskID] = h
	q.wg.Add(1)
	q.mu.Unlock()

	go q.pollLoop(ctx, taskID, h)
}

func (q *QueueService) pollLoop(ctx context.Context, taskID string, h *pollHandle) {
	defer q.wg.Done()
	defer func() {
		q.mu.Lock()
		if q.pollers[taskID] == h {
			delete(q.pollers, taskID)
		}
		q.mu.Unlock()
		h.cancel()
	}()

	q.logger.Debugw("poll_started", "task_id", taskID)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if !q.pollOnce(ctx, taskID) {
			q.logger.Debugw("poll_stopped", "task_id", taskID)
			return
		}
		timer.Reset(q.cfg.PollInterval)
	}
}

// pollOnce performs one status check and reports whether the loop should
// continue.
func (q *QueueService) pollOnce(ctx context.Context, taskID string) bool {
	q.mu.Lock()
	rec := q.findLocked(taskID)
	if rec == nil || !rec.Status.IsActive() {
		q.mu.Unlock()
		return false
	}
	q.mu.Unlock()

	status, err := q.remote.TaskStatus(ctx, q.keys.CurrentAPIKey(), taskID)
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		// no retry policy beyond the next tick
		q.logger.Warnw("poll_failed", "task_id", taskID, "error", err)
		return true
	}

	q.mu.Lock()
	rec = q.findLocked(taskID)
	if rec == nil {
		q.mu.Unlock()
		return false
	}
	changed := status != rec.Status
	if changed {
		rec.Status = status
		if !status.IsActive() && rec.EndTime == nil {
			now := q.now().UnixMilli()
			rec.EndTime = &now
		}
	}
	q.mu.Unlock()

	if !changed {
		return true
	}

	q.logger.Infow("poll_status_changed", "task_id", taskID, "status", status)
	q.commit(ctx)

	if status.IsActive() {
		return true
	}
	if !status.IsTerminal() {
		q.logger.Warnw("poll_unknown_status", "task_id", taskID, "status", status)
	}
	time.AfterFunc(q.cfg.ReevaluateDelay, func() { q.Reevaluate(q.ctx) })
	if status == domain.TaskStatusSuccess {
		q.fetchOutputs(ctx, taskID)
	}
	return false
}
