// Package tasks is the task orchestrator: it owns the status lifecycle
// pending -> processing -> completed | failed | cancelled on top of the status
// store and the job queue.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docparse/constants"
	"github.com/joseph-ayodele/docparse/internal/broker"
	"github.com/joseph-ayodele/docparse/internal/common"
	"github.com/joseph-ayodele/docparse/internal/entity"
)

// StatusStore is the live/history record store with atomic counters.
type StatusStore interface {
	Create(ctx context.Context, rec *entity.JobStatus) error
	Get(ctx context.Context, id string) (*entity.JobStatus, error)
	Update(ctx context.Context, id string, p entity.StatusPatch) (constants.TaskStatus, *entity.JobStatus, error)
	Delete(ctx context.Context, id string) error
	MarkCounted(ctx context.Context, id string) (bool, error)
	SaveHistory(ctx context.Context, rec *entity.JobStatus) error
	History(ctx context.Context, id string) (*entity.JobStatus, error)
	CountSubmitted(ctx context.Context) error
	CountTransition(ctx context.Context, from, to constants.TaskStatus, duration *float64) error
	Stats(ctx context.Context) (entity.QueueStats, error)
	Cleanup(ctx context.Context, cutoff time.Time) (int, error)
	PurgeHistory(ctx context.Context, cutoff time.Time) (int, error)
	Recent(ctx context.Context, limit int) ([]*entity.JobStatus, error)
}

// Queue is the distributed job queue together with its worker bookkeeping.
type Queue interface {
	Enqueue(ctx context.Context, job broker.Job) error
	Revoke(ctx context.Context, taskID string) error
	State(ctx context.Context, taskID string) (constants.BrokerState, time.Time, bool, error)
	QueueLength(ctx context.Context) (int64, error)
	InFlight(ctx context.Context) (int64, error)
	Inspect(ctx context.Context) (map[string]entity.WorkerInfo, error)
}

// CancelPolicy decides what Cancel does to a task that already finished.
type CancelPolicy int

const (
	// CancelKeepTerminal leaves completed and failed tasks untouched.
	CancelKeepTerminal CancelPolicy = iota
	// CancelOverwriteTerminal marks every task cancelled, finished or not.
	CancelOverwriteTerminal
)

const (
	defaultRecentLimit = 10
	maxRecentLimit     = 100
)

type Manager struct {
	store  StatusStore
	queue  Queue
	policy CancelPolicy
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

type Option func(*Manager)

func WithCancelPolicy(p CancelPolicy) Option {
	return func(m *Manager) { m.policy = p }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(store StatusStore, queue Queue, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:  store,
		queue:  queue,
		policy: CancelKeepTerminal,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Submit records a pending task for one document and enqueues it.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	id := m.newID()
	now := m.now().UTC()
	rec := &entity.JobStatus{
		TaskID:       id,
		TaskType:     constants.TaskTypeSingle,
		Status:       constants.TaskPending,
		CreatedAt:    now,
		UpdatedAt:    now,
		SourceRef:    req.SourceRef,
		CategoryHint: req.CategoryHint,
		CallbackRef:  req.CallbackRef,
		Message:      "queued",
	}
	job := broker.Job{
		TaskID:       id,
		TaskType:     constants.TaskTypeSingle,
		SourceRef:    req.SourceRef,
		CategoryHint: req.CategoryHint,
		CallbackRef:  req.CallbackRef,
		EnqueuedAt:   now,
	}
	if err := m.enqueue(ctx, rec, job); err != nil {
		return "", err
	}
	m.logger.Info("task submitted", "task_id", id, "source_ref", req.SourceRef, "category_hint", req.CategoryHint)
	return id, nil
}

// SubmitBatch records one pending task covering every document in req.
func (m *Manager) SubmitBatch(ctx context.Context, req BatchRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	id := m.newID()
	if req.BatchID == "" {
		req.BatchID = m.newID()
	}
	now := m.now().UTC()
	rec := &entity.JobStatus{
		TaskID:      id,
		TaskType:    constants.TaskTypeBatch,
		Status:      constants.TaskPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		CallbackRef: req.CallbackRef,
		BatchID:     req.BatchID,
		Message:     fmt.Sprintf("batch of %d documents queued", len(req.Documents)),
	}
	job := broker.Job{
		TaskID:      id,
		TaskType:    constants.TaskTypeBatch,
		CallbackRef: req.CallbackRef,
		BatchID:     req.BatchID,
		Documents:   req.Documents,
		EnqueuedAt:  now,
	}
	if err := m.enqueue(ctx, rec, job); err != nil {
		return "", err
	}
	m.logger.Info("batch submitted", "task_id", id, "batch_id", req.BatchID, "documents", len(req.Documents))
	return id, nil
}

// enqueue writes the record before the job so a worker never sees a job
// without a status. A failed enqueue removes the record again.
func (m *Manager) enqueue(ctx context.Context, rec *entity.JobStatus, job broker.Job) error {
	if err := m.store.Create(ctx, rec); err != nil {
		return fmt.Errorf("submit %s: %w", rec.TaskID, err)
	}
	if err := m.queue.Enqueue(ctx, job); err != nil {
		if derr := m.store.Delete(ctx, rec.TaskID); derr != nil {
			m.logger.Error("tasks.rollback.failed", "task_id", rec.TaskID, "error", derr)
		}
		return fmt.Errorf("submit %s: %w", rec.TaskID, err)
	}
	if err := m.store.CountSubmitted(ctx); err != nil {
		m.logger.Warn("tasks.counter.failed", "task_id", rec.TaskID, "error", err)
	}
	return nil
}

// UpdateStatus applies a partial update. An unknown id yields an error
// wrapping common.ErrNotFound. Moving into a terminal state adjusts the
// counters at most once per task and copies the record into history. A status
// the lifecycle forbids, such as anything after cancelled, yields an error
// wrapping common.ErrTerminalState.
func (m *Manager) UpdateStatus(ctx context.Context, id string, p entity.StatusPatch) error {
	if p.Empty() {
		return common.NewAppError("EMPTY_UPDATE", "status update changes nothing", common.ErrInvalidInput)
	}
	if p.Status != nil && !p.Status.Valid() {
		return common.NewAppError("INVALID_STATUS", fmt.Sprintf("unknown status %q", *p.Status), common.ErrInvalidInput)
	}
	if p.Progress != nil {
		if err := common.NewValidator().Field("progress", *p.Progress, common.IntRange(0, 100)).Error(); err != nil {
			return err
		}
	}
	if p.Status != nil {
		cur, err := m.store.Get(ctx, id)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				m.logger.Warn("tasks.update.unknown", "task_id", id)
			}
			return err
		}
		if !cur.Status.CanTransition(*p.Status) {
			return common.NewAppError("TERMINAL_STATE",
				fmt.Sprintf("task %s is %s, cannot move to %s", id, cur.Status, *p.Status), common.ErrTerminalState)
		}
	}

	p.UpdatedAt = m.now().UTC()
	prev, rec, err := m.store.Update(ctx, id, p)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			m.logger.Warn("tasks.update.unknown", "task_id", id)
		}
		return err
	}
	if p.Status == nil || *p.Status == prev {
		return nil
	}
	m.transition(ctx, prev, rec)
	return nil
}

// transition keeps counters and history in step with a status change that
// has already been written. Failures here are logged; the record stays authoritative.
func (m *Manager) transition(ctx context.Context, prev constants.TaskStatus, rec *entity.JobStatus) {
	log := m.logger.With("task_id", rec.TaskID, "from", prev, "to", rec.Status)

	if !rec.Status.Terminal() {
		if prev == constants.TaskPending && rec.Status == constants.TaskProcessing {
			if err := m.store.CountTransition(ctx, prev, rec.Status, nil); err != nil {
				log.Warn("tasks.counter.failed", "error", err)
			}
		}
		return
	}

	first, err := m.store.MarkCounted(ctx, rec.TaskID)
	if err != nil {
		log.Warn("tasks.counter.guard.failed", "error", err)
	}
	if first {
		if err := m.store.CountTransition(ctx, prev, rec.Status, rec.DurationSeconds); err != nil {
			log.Warn("tasks.counter.failed", "error", err)
		}
	}
	if err := m.store.SaveHistory(ctx, rec); err != nil {
		log.Warn("tasks.history.failed", "error", err)
	}
	log.Info("task finished", "counted", first)
}

// GetStatus reads the live record, falling back to the queue's own
// bookkeeping when the record is missing or the store is unreachable.
func (m *Manager) GetStatus(ctx context.Context, id string) (*entity.JobStatus, error) {
	rec, err := m.store.Get(ctx, id)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		m.logger.Warn("tasks.status.store_unavailable", "task_id", id, "error", err)
	}

	state, updated, ok, qerr := m.queue.State(ctx, id)
	if qerr != nil {
		m.logger.Warn("tasks.status.queue_unavailable", "task_id", id, "error", qerr)
		return nil, err
	}
	if !ok {
		return nil, err
	}
	status, known := state.TaskStatus()
	if !known {
		return nil, common.NewAppError("UNKNOWN_BROKER_STATE", fmt.Sprintf("task %s has broker state %q", id, state), common.ErrInternal)
	}
	synth := &entity.JobStatus{
		TaskID:    id,
		TaskType:  constants.TaskTypeUnknown,
		Status:    status,
		CreatedAt: updated,
		UpdatedAt: updated,
		Message:   "reconstructed from queue state " + string(state),
	}
	if status.Terminal() {
		synth.Progress = 100
	}
	return synth, nil
}

// Cancel revokes the job and marks the task cancelled. Under
// CancelKeepTerminal a finished task is left alone and false is returned.
func (m *Manager) Cancel(ctx context.Context, id string) (bool, error) {
	rec, err := m.store.Get(ctx, id)
	switch {
	case errors.Is(err, common.ErrNotFound):
		_, _, known, qerr := m.queue.State(ctx, id)
		if qerr != nil || !known {
			return false, err
		}
		if err := m.queue.Revoke(ctx, id); err != nil {
			return false, err
		}
		m.logger.Info("task cancelled", "task_id", id, "record", false)
		return true, nil
	case err != nil:
		return false, err
	}

	if rec.Terminal() && m.policy == CancelKeepTerminal {
		m.logger.Info("tasks.cancel.ignored", "task_id", id, "status", rec.Status)
		return false, nil
	}

	if err := m.queue.Revoke(ctx, id); err != nil {
		return false, err
	}
	cancelled := constants.TaskCancelled
	msg := "task cancelled"
	if err := m.UpdateStatus(ctx, id, entity.StatusPatch{Status: &cancelled, Message: &msg}); err != nil {
		return false, err
	}
	m.logger.Info("task cancelled", "task_id", id, "previous", rec.Status)
	return true, nil
}

// QueueStats returns the aggregate counters with live queue depth and
// in-flight count. Read failures degrade to zeros.
func (m *Manager) QueueStats(ctx context.Context) entity.QueueStats {
	st, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("tasks.stats.degraded", "error", err)
		st = entity.QueueStats{}
	}
	if n, err := m.queue.QueueLength(ctx); err == nil {
		st.QueueLength = n
	} else {
		m.logger.Warn("tasks.stats.queue_length.degraded", "error", err)
	}
	if n, err := m.queue.InFlight(ctx); err == nil {
		st.InFlight = n
	} else {
		m.logger.Warn("tasks.stats.in_flight.degraded", "error", err)
	}
	return st
}

// WorkerStatus lists connected workers. Read failures degrade to an empty map.
func (m *Manager) WorkerStatus(ctx context.Context) map[string]entity.WorkerInfo {
	workers, err := m.queue.Inspect(ctx)
	if err != nil {
		m.logger.Warn("tasks.workers.degraded", "error", err)
		return map[string]entity.WorkerInfo{}
	}
	return workers
}

// Cleanup deletes live records created more than olderThanDays ago, whatever
// their state, and returns how many were removed.
func (m *Manager) Cleanup(ctx context.Context, olderThanDays int) (int, error) {
	cutoff, err := m.cutoff(olderThanDays)
	if err != nil {
		return 0, err
	}
	n, err := m.store.Cleanup(ctx, cutoff)
	if err != nil {
		return n, err
	}
	m.logger.Info("tasks cleaned up", "removed", n, "older_than_days", olderThanDays)
	return n, nil
}

// PurgeHistory deletes history records created more than olderThanDays ago.
func (m *Manager) PurgeHistory(ctx context.Context, olderThanDays int) (int, error) {
	cutoff, err := m.cutoff(olderThanDays)
	if err != nil {
		return 0, err
	}
	n, err := m.store.PurgeHistory(ctx, cutoff)
	if err != nil {
		return n, err
	}
	m.logger.Info("history purged", "removed", n, "older_than_days", olderThanDays)
	return n, nil
}

func (m *Manager) cutoff(days int) (time.Time, error) {
	if days < 1 {
		return time.Time{}, common.NewAppError("INVALID_RETENTION", "older_than_days must be at least 1", common.ErrInvalidInput)
	}
	return m.now().UTC().Add(-time.Duration(days) * 24 * time.Hour), nil
}

// Recent returns the newest live records. limit is clamped to [1, 100].
func (m *Manager) Recent(ctx context.Context, limit int) ([]*entity.JobStatus, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	return m.store.Recent(ctx, limit)
}

// History reads the record copied at the task's terminal transition.
func (m *Manager) History(ctx context.Context, id string) (*entity.JobStatus, error) {
	return m.store.History(ctx, id)
}
