// Package worker consumes jobs from the broker, runs them through the
// extraction pipeline and reports every step back to the task orchestrator.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/docparse/constants"
	"github.com/joseph-ayodele/docparse/internal/broker"
	"github.com/joseph-ayodele/docparse/internal/common"
	"github.com/joseph-ayodele/docparse/internal/entity"
	"github.com/joseph-ayodele/docparse/internal/notify"
	"github.com/joseph-ayodele/docparse/internal/pipeline"
	"github.com/joseph-ayodele/docparse/internal/repository"
	"github.com/joseph-ayodele/docparse/internal/telemetry"
)

// Broker is the worker's side of the job queue.
type Broker interface {
	Dequeue(ctx context.Context, workerID string, timeout time.Duration) (*broker.Job, error)
	Started(ctx context.Context, taskID, workerID string) error
	Finished(ctx context.Context, taskID, workerID string, state constants.BrokerState) error
	Schedule(ctx context.Context, job broker.Job, workerID string, at time.Time) error
	PromoteDue(ctx context.Context) (int, error)
	IsRevoked(ctx context.Context, taskID string) (bool, error)
	Heartbeat(ctx context.Context, workerID string, ttl time.Duration) error
	Unregister(ctx context.Context, workerID string) error
}

// StatusUpdater receives progress and final results.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id string, p entity.StatusPatch) error
}

// Pipeline runs one document to a final envelope.
type Pipeline interface {
	Run(ctx context.Context, doc pipeline.Document, progress pipeline.ProgressFunc) pipeline.Envelope
}

// Catalog stores final envelopes for long-term querying.
type Catalog interface {
	Save(ctx context.Context, r repository.Result) error
}

// Notifier delivers the completion callback.
type Notifier interface {
	Notify(ctx context.Context, url string, cb notify.Callback) error
}

const (
	DefaultConcurrency = 4
	DefaultJobTimeout  = 30 * time.Minute
	DefaultMaxRetries  = 3
	DefaultHeartbeat   = 10 * time.Second
	DefaultPoll        = 2 * time.Second
)

type Runtime struct {
	broker   Broker
	tasks    StatusUpdater
	pipeline Pipeline
	catalog  Catalog
	notifier Notifier
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	id          string
	concurrency int
	jobTimeout  time.Duration
	maxRetries  int
	heartbeat   time.Duration
	poll        time.Duration
	backoff     func(attempt int) time.Duration
	sourceRoot  string
	now         func() time.Time
}

type Option func(*Runtime)

func WithConcurrency(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func WithJobTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.jobTimeout = d
		}
	}
}

// WithMaxRetries bounds how often a job is requeued after an infrastructure error.
func WithMaxRetries(n int) Option {
	return func(r *Runtime) {
		if n >= 0 {
			r.maxRetries = n
		}
	}
}

func WithHeartbeat(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.heartbeat = d
		}
	}
}

// WithPollTimeout sets how long one dequeue blocks before checking for shutdown.
func WithPollTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.poll = d
		}
	}
}

func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(r *Runtime) {
		if fn != nil {
			r.backoff = fn
		}
	}
}

func WithCatalog(c Catalog) Option {
	return func(r *Runtime) { r.catalog = c }
}

func WithNotifier(n Notifier) Option {
	return func(r *Runtime) { r.notifier = n }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// WithSourceRoot confines source references to files under dir.
func WithSourceRoot(dir string) Option {
	return func(r *Runtime) { r.sourceRoot = dir }
}

func WithWorkerID(id string) Option {
	return func(r *Runtime) {
		if id != "" {
			r.id = id
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runtime) {
		if now != nil {
			r.now = now
		}
	}
}

// linearBackoff waits 5s, 10s, 15s... capped at one minute.
func linearBackoff(attempt int) time.Duration {
	d := time.Duration(attempt) * 5 * time.Second
	if d > time.Minute {
		return time.Minute
	}
	return d
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}

func NewRuntime(b Broker, tasks StatusUpdater, p Pipeline, logger *slog.Logger, opts ...Option) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runtime{
		broker:      b,
		tasks:       tasks,
		pipeline:    p,
		logger:      logger,
		id:          defaultWorkerID(),
		concurrency: DefaultConcurrency,
		jobTimeout:  DefaultJobTimeout,
		maxRetries:  DefaultMaxRetries,
		heartbeat:   DefaultHeartbeat,
		poll:        DefaultPoll,
		backoff:     linearBackoff,
		now:         time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.With("worker_id", r.id)
	return r
}

// ID returns the name this runtime registers under.
func (r *Runtime) ID() string { return r.id }

// Run consumes jobs until ctx is cancelled. A job in progress when ctx ends
// is finished under its own timeout before Run returns.
func (r *Runtime) Run(ctx context.Context) error {
	r.logger.Info("worker started", "concurrency", r.concurrency)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.broker.Unregister(ctx, r.id); err != nil {
			r.logger.Warn("worker.unregister.failed", "error", err)
		}
		r.logger.Info("worker stopped")
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.heartbeatLoop(gctx) })
	g.Go(func() error { return r.promoteLoop(gctx) })
	for i := 0; i < r.concurrency; i++ {
		slot := i + 1
		g.Go(func() error { return r.consume(gctx, slot) })
	}
	return g.Wait()
}

func (r *Runtime) heartbeatLoop(ctx context.Context) error {
	ttl := 3 * r.heartbeat
	beat := func() {
		if err := r.broker.Heartbeat(ctx, r.id, ttl); err != nil && ctx.Err() == nil {
			r.logger.Warn("worker.heartbeat.failed", "error", err)
		}
	}
	beat()
	t := time.NewTicker(r.heartbeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			beat()
		}
	}
}

func (r *Runtime) promoteLoop(ctx context.Context) error {
	t := time.NewTicker(r.poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := r.broker.PromoteDue(ctx)
			if err != nil && ctx.Err() == nil {
				r.logger.Warn("worker.promote.failed", "error", err)
			}
			if n > 0 {
				r.logger.Debug("worker.promoted", "jobs", n)
			}
		}
	}
}

func (r *Runtime) consume(ctx context.Context, slot int) error {
	log := r.logger.With("slot", slot)
	for {
		if ctx.Err() != nil {
			return nil
		}
		job, err := r.broker.Dequeue(ctx, r.id, r.poll)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, common.ErrInvalidInput) {
				log.Error("worker.job.rejected", "error", err)
				continue
			}
			log.Warn("worker.dequeue.failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.poll):
			}
			continue
		}
		if job == nil {
			continue
		}
		// Shutdown must not abandon a dequeued job halfway.
		r.Process(context.WithoutCancel(ctx), *job)
	}
}

// Process runs one dequeued job to completion, retry or cancellation.
func (r *Runtime) Process(ctx context.Context, job broker.Job) {
	log := r.logger.With("task_id", job.TaskID, "task_type", job.TaskType, "attempt", job.Attempt)

	if r.revoked(ctx, job.TaskID, log) {
		r.dropRevoked(ctx, job, log)
		return
	}
	if err := r.broker.Started(ctx, job.TaskID, r.id); err != nil {
		r.retry(ctx, job, err, log)
		return
	}

	processing := constants.TaskProcessing
	zero := 0
	attempt := job.Attempt
	msg := "processing started"
	err := r.tasks.UpdateStatus(ctx, job.TaskID, entity.StatusPatch{
		Status: &processing, Progress: &zero, Message: &msg, Attempt: &attempt,
	})
	switch {
	case err == nil:
	case errors.Is(err, common.ErrTerminalState):
		r.dropRevoked(ctx, job, log)
		return
	case errors.Is(err, common.ErrNotFound):
		// The record expired or was cleaned up; the result is still catalogued.
		log.Warn("worker.job.record_missing")
	default:
		r.retry(ctx, job, err, log)
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, r.jobTimeout)
	defer cancel()

	start := r.now()
	var out outcome
	switch job.TaskType {
	case constants.TaskTypeBatch:
		out = r.runBatch(jobCtx, cancel, job, log)
	default:
		out = r.runSingle(jobCtx, cancel, job, log)
	}
	duration := r.now().Sub(start).Seconds()

	// A cancel may land after the last progress report.
	if out.revoked || r.revoked(ctx, job.TaskID, log) {
		r.dropRevoked(ctx, job, log)
		return
	}
	if err := r.finish(ctx, job, out, duration); err != nil {
		if errors.Is(err, common.ErrTerminalState) {
			r.dropRevoked(ctx, job, log)
			return
		}
		r.retry(ctx, job, err, log)
		return
	}

	state := constants.BrokerSuccess
	if out.status == constants.TaskFailed {
		state = constants.BrokerFailure
		r.metrics.Failed(ctx, "pipeline")
	}
	if err := r.broker.Finished(ctx, job.TaskID, r.id, state); err != nil {
		log.Warn("worker.finish.bookkeeping_failed", "error", err)
	}
	r.notify(ctx, job, out, log)
	log.Info("worker.job.done", "status", out.status, "duration_s", duration)
}

// outcome is what one job produced.
type outcome struct {
	status  constants.TaskStatus
	message string
	errText string
	result  []byte
	revoked bool
}

func (r *Runtime) finish(ctx context.Context, job broker.Job, out outcome, duration float64) error {
	hundred := 100
	p := entity.StatusPatch{
		Status:          &out.status,
		Progress:        &hundred,
		Message:         &out.message,
		Result:          out.result,
		DurationSeconds: &duration,
	}
	if out.errText != "" {
		p.Error = &out.errText
	}
	err := r.tasks.UpdateStatus(ctx, job.TaskID, p)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	return err
}

// progress reports stage progress and cancels the job when it is revoked.
// scale maps the document's own 0..100 onto the task's progress range.
func (r *Runtime) progress(ctx context.Context, cancel context.CancelFunc, job broker.Job, revoked *bool, scale func(int) int, log *slog.Logger) pipeline.ProgressFunc {
	return func(stage pipeline.Stage, pct int) {
		p := scale(pct)
		msg := fmt.Sprintf("stage %s", stage)
		if err := r.tasks.UpdateStatus(ctx, job.TaskID, entity.StatusPatch{Progress: &p, Message: &msg}); err != nil &&
			!errors.Is(err, common.ErrNotFound) {
			log.Warn("worker.progress.failed", "stage", stage, "error", err)
		}
		if r.revoked(ctx, job.TaskID, log) {
			*revoked = true
			cancel()
		}
	}
}

func (r *Runtime) revoked(ctx context.Context, taskID string, log *slog.Logger) bool {
	ok, err := r.broker.IsRevoked(ctx, taskID)
	if err != nil {
		log.Warn("worker.revoked.check_failed", "error", err)
		return false
	}
	return ok
}

func (r *Runtime) dropRevoked(ctx context.Context, job broker.Job, log *slog.Logger) {
	r.metrics.Cancelled(ctx)
	if err := r.broker.Finished(ctx, job.TaskID, r.id, constants.BrokerRevoked); err != nil {
		log.Warn("worker.finish.bookkeeping_failed", "error", err)
	}
	log.Info("worker.job.revoked")
}

// retry requeues job after an infrastructure error, or records it failed once
// the retry budget is spent.
func (r *Runtime) retry(ctx context.Context, job broker.Job, cause error, log *slog.Logger) {
	if job.Attempt < r.maxRetries {
		next := job
		next.Attempt++
		at := r.now().Add(r.backoff(next.Attempt))
		if err := r.broker.Finished(ctx, job.TaskID, r.id, constants.BrokerRetry); err != nil {
			log.Warn("worker.finish.bookkeeping_failed", "error", err)
		}
		if err := r.broker.Schedule(ctx, next, r.id, at); err != nil {
			log.Error("worker.retry.schedule_failed", "error", err, "cause", cause)
		} else {
			r.metrics.Retried(ctx)
			log.Warn("worker.job.retry", "error", cause, "next_attempt", next.Attempt, "at", at)
			return
		}
	}

	log.Error("worker.job.failed", "error", cause)
	failed := constants.TaskFailed
	msg := "processing failed"
	hundred := 100
	errText := fmt.Sprintf("gave up after %d attempts: %v", job.Attempt+1, cause)
	// Measured from the first enqueue, so it spans every attempt.
	var elapsed float64
	if !job.EnqueuedAt.IsZero() {
		elapsed = max(r.now().Sub(job.EnqueuedAt).Seconds(), 0)
	}
	err := r.tasks.UpdateStatus(ctx, job.TaskID, entity.StatusPatch{
		Status: &failed, Progress: &hundred, Message: &msg, Error: &errText, DurationSeconds: &elapsed,
	})
	switch {
	case errors.Is(err, common.ErrTerminalState):
		r.dropRevoked(ctx, job, log)
		return
	case err != nil:
		log.Error("worker.job.record_failed", "error", err)
	}
	r.metrics.Failed(ctx, "infrastructure")
	if err := r.broker.Finished(ctx, job.TaskID, r.id, constants.BrokerFailure); err != nil {
		log.Warn("worker.finish.bookkeeping_failed", "error", err)
	}
	r.notify(ctx, job, outcome{status: failed, errText: errText}, log)
}

func (r *Runtime) notify(ctx context.Context, job broker.Job, out outcome, log *slog.Logger) {
	if r.notifier == nil || job.CallbackRef == "" {
		return
	}
	cb := notify.Callback{TaskID: job.TaskID, Status: out.status, Result: out.result, Error: out.errText}
	if err := r.notifier.Notify(ctx, job.CallbackRef, cb); err != nil {
		log.Warn("worker.callback.failed", "callback_ref", job.CallbackRef, "error", err)
	}
}
