package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/joseph-ayodele/docparse/constants"
	"github.com/joseph-ayodele/docparse/internal/common"
	"github.com/joseph-ayodele/docparse/internal/entity"
)

const (
	queuePrefix     = "queue:"
	scheduledSuffix = ":scheduled"
	metaPrefix      = "broker_meta:"
	revokedPrefix   = "broker_revoked:"
	workersKey      = "broker_workers"
	workerPrefix    = "broker_worker:"
	activePrefix    = "broker_active:"
	reservedPrefix  = "broker_reserved:"

	DefaultMetaTTL = 7 * 24 * time.Hour
)

// RedisBroker moves job payloads through a Redis list. Producers LPUSH and
// workers BRPOP, so jobs are consumed oldest first.
type RedisBroker struct {
	rdb     *redis.Client
	queue   string
	metaTTL time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*RedisBroker)

func WithMetaTTL(d time.Duration) Option {
	return func(b *RedisBroker) {
		if d > 0 {
			b.metaTTL = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *RedisBroker) {
		if now != nil {
			b.now = now
		}
	}
}

func NewRedisBroker(rdb *redis.Client, queue string, logger *slog.Logger, opts ...Option) *RedisBroker {
	if logger == nil {
		logger = slog.Default()
	}
	if queue == "" {
		queue = "documents"
	}
	b := &RedisBroker{
		rdb:     rdb,
		queue:   queuePrefix + queue,
		metaTTL: DefaultMetaTTL,
		logger:  logger,
		now:     time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func queueErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", common.ErrQueue, op, err)
}

func (b *RedisBroker) scheduledKey() string { return b.queue + scheduledSuffix }

// Enqueue validates and pushes job, recording it as PENDING.
func (b *RedisBroker) Enqueue(ctx context.Context, job Job) error {
	return b.push(ctx, job, constants.BrokerPending)
}

func (b *RedisBroker) push(ctx context.Context, job Job, state constants.BrokerState) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = b.now().UTC()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := ValidatePayload(payload); err != nil {
		return err
	}

	meta := metaPrefix + job.TaskID
	_, err = b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, meta, "state", string(state), "payload", string(payload), "updated_at", b.now().UnixMilli())
		p.Expire(ctx, meta, b.metaTTL)
		p.LPush(ctx, b.queue, payload)
		return nil
	})
	if err != nil {
		b.logger.Error("broker.enqueue.failed", "task_id", job.TaskID, "error", err)
		return queueErr("enqueue "+job.TaskID, err)
	}
	b.logger.Debug("broker.enqueued", "task_id", job.TaskID, "state", state, "attempt", job.Attempt)
	return nil
}

// Schedule parks job until at. PromoteDue later moves it onto the queue in
// the RETRY state. workerID is kept for introspection.
func (b *RedisBroker) Schedule(ctx context.Context, job Job, workerID string, at time.Time) error {
	job.ScheduledBy = workerID
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	meta := metaPrefix + job.TaskID
	_, err = b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, b.scheduledKey(), &redis.Z{Score: float64(at.UnixMilli()), Member: payload})
		p.HSet(ctx, meta, "state", string(constants.BrokerRetry), "updated_at", b.now().UnixMilli())
		p.Expire(ctx, meta, b.metaTTL)
		return nil
	})
	if err != nil {
		return queueErr("schedule "+job.TaskID, err)
	}
	return nil
}

// PromoteDue moves every scheduled job whose time has come onto the queue.
// Concurrent callers never promote the same job twice.
func (b *RedisBroker) PromoteDue(ctx context.Context) (int, error) {
	due, err := b.rdb.ZRangeByScore(ctx, b.scheduledKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(b.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, queueErr("read scheduled", err)
	}
	n := 0
	for _, payload := range due {
		removed, err := b.rdb.ZRem(ctx, b.scheduledKey(), payload).Result()
		if err != nil {
			return n, queueErr("unschedule", err)
		}
		if removed == 0 {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			b.logger.Warn("broker.promote.skip", "error", err)
			continue
		}
		job.ScheduledBy = ""
		if err := b.push(ctx, job, constants.BrokerRetry); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Dequeue blocks up to timeout for the next job and reserves it for workerID.
// It returns nil, nil on timeout. Payloads that fail validation are returned
// as an error wrapping common.ErrInvalidInput and are not requeued.
func (b *RedisBroker) Dequeue(ctx context.Context, workerID string, timeout time.Duration) (*Job, error) {
	vals, err := b.rdb.BRPop(ctx, timeout, b.queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, queueErr("dequeue", err)
	}
	if len(vals) < 2 {
		return nil, queueErr("dequeue", fmt.Errorf("unexpected BRPop response: %v", vals))
	}

	raw := []byte(vals[1])
	if err := ValidatePayload(raw); err != nil {
		b.logger.Error("broker.payload.invalid", "error", err)
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, common.NewAppError("INVALID_PAYLOAD", "decode job", fmt.Errorf("%w: %w", common.ErrInvalidInput, err))
	}
	if err := b.rdb.SAdd(ctx, reservedPrefix+workerID, job.TaskID).Err(); err != nil {
		b.logger.Warn("broker.reserve.failed", "task_id", job.TaskID, "error", err)
	}
	return &job, nil
}

// Started moves a reserved job to the worker's active set and marks it STARTED.
func (b *RedisBroker) Started(ctx context.Context, taskID, workerID string) error {
	_, err := b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SMove(ctx, reservedPrefix+workerID, activePrefix+workerID, taskID)
		p.SAdd(ctx, activePrefix+workerID, taskID)
		p.HSet(ctx, metaPrefix+taskID, "state", string(constants.BrokerStarted), "worker", workerID, "updated_at", b.now().UnixMilli())
		p.Expire(ctx, metaPrefix+taskID, b.metaTTL)
		return nil
	})
	if err != nil {
		return queueErr("start "+taskID, err)
	}
	return nil
}

// Finished releases the job from workerID and records its final broker state.
func (b *RedisBroker) Finished(ctx context.Context, taskID, workerID string, state constants.BrokerState) error {
	_, err := b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SRem(ctx, activePrefix+workerID, taskID)
		p.SRem(ctx, reservedPrefix+workerID, taskID)
		p.HSet(ctx, metaPrefix+taskID, "state", string(state), "updated_at", b.now().UnixMilli())
		p.Expire(ctx, metaPrefix+taskID, b.metaTTL)
		return nil
	})
	if err != nil {
		return queueErr("finish "+taskID, err)
	}
	return nil
}

// Revoke marks taskID revoked and drops it from the queue if it is still waiting.
// A job already running notices the revocation at its next check.
func (b *RedisBroker) Revoke(ctx context.Context, taskID string) error {
	meta := metaPrefix + taskID
	payload, err := b.rdb.HGet(ctx, meta, "payload").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return queueErr("revoke "+taskID, err)
	}
	_, err = b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, revokedPrefix+taskID, 1, b.metaTTL)
		p.HSet(ctx, meta, "state", string(constants.BrokerRevoked), "updated_at", b.now().UnixMilli())
		p.Expire(ctx, meta, b.metaTTL)
		if payload != "" {
			p.LRem(ctx, b.queue, 0, payload)
		}
		return nil
	})
	if err != nil {
		return queueErr("revoke "+taskID, err)
	}
	b.logger.Info("broker.revoked", "task_id", taskID)
	return nil
}

// IsRevoked reports whether taskID has been revoked.
func (b *RedisBroker) IsRevoked(ctx context.Context, taskID string) (bool, error) {
	n, err := b.rdb.Exists(ctx, revokedPrefix+taskID).Result()
	if err != nil {
		return false, queueErr("check revoked "+taskID, err)
	}
	return n > 0, nil
}

// State returns the broker's own view of taskID. ok is false when the broker
// has never seen the task or its bookkeeping expired.
func (b *RedisBroker) State(ctx context.Context, taskID string) (state constants.BrokerState, updated time.Time, ok bool, err error) {
	m, err := b.rdb.HMGet(ctx, metaPrefix+taskID, "state", "updated_at").Result()
	if err != nil {
		return "", time.Time{}, false, queueErr("state "+taskID, err)
	}
	s, _ := m[0].(string)
	if s == "" {
		return "", time.Time{}, false, nil
	}
	if u, _ := m[1].(string); u != "" {
		if ms, err := strconv.ParseInt(u, 10, 64); err == nil {
			updated = time.UnixMilli(ms).UTC()
		}
	}
	return constants.BrokerState(s), updated, true, nil
}

// QueueLength is the number of jobs waiting in the list.
func (b *RedisBroker) QueueLength(ctx context.Context) (int64, error) {
	n, err := b.rdb.LLen(ctx, b.queue).Result()
	if err != nil {
		return 0, queueErr("queue length", err)
	}
	return n, nil
}

// Heartbeat registers workerID as online for ttl.
func (b *RedisBroker) Heartbeat(ctx context.Context, workerID string, ttl time.Duration) error {
	key := workerPrefix + workerID
	_, err := b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, workersKey, workerID)
		p.HSet(ctx, key, "status", "online", "last_seen", b.now().UnixMilli())
		p.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return queueErr("heartbeat "+workerID, err)
	}
	return nil
}

// Unregister removes workerID and its bookkeeping.
func (b *RedisBroker) Unregister(ctx context.Context, workerID string) error {
	_, err := b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SRem(ctx, workersKey, workerID)
		p.Del(ctx, workerPrefix+workerID, activePrefix+workerID, reservedPrefix+workerID)
		return nil
	})
	if err != nil {
		return queueErr("unregister "+workerID, err)
	}
	return nil
}

// Inspect reports active, scheduled and reserved counts for every live worker.
// Workers whose heartbeat expired are pruned.
func (b *RedisBroker) Inspect(ctx context.Context) (map[string]entity.WorkerInfo, error) {
	ids, err := b.rdb.SMembers(ctx, workersKey).Result()
	if err != nil {
		return nil, queueErr("list workers", err)
	}

	scheduled := map[string]int{}
	members, err := b.rdb.ZRange(ctx, b.scheduledKey(), 0, -1).Result()
	if err != nil {
		return nil, queueErr("read scheduled", err)
	}
	for _, m := range members {
		var job Job
		if json.Unmarshal([]byte(m), &job) == nil && job.ScheduledBy != "" {
			scheduled[job.ScheduledBy]++
		}
	}

	out := make(map[string]entity.WorkerInfo, len(ids))
	for _, id := range ids {
		hb, err := b.rdb.HGetAll(ctx, workerPrefix+id).Result()
		if err != nil {
			return nil, queueErr("read worker "+id, err)
		}
		if len(hb) == 0 {
			b.logger.Info("broker.worker.expired", "worker_id", id)
			_ = b.Unregister(ctx, id)
			continue
		}
		active, err := b.rdb.SCard(ctx, activePrefix+id).Result()
		if err != nil {
			return nil, queueErr("read worker "+id, err)
		}
		reserved, err := b.rdb.SCard(ctx, reservedPrefix+id).Result()
		if err != nil {
			return nil, queueErr("read worker "+id, err)
		}
		info := entity.WorkerInfo{
			Active:    int(active),
			Reserved:  int(reserved),
			Scheduled: scheduled[id],
			Status:    hb["status"],
		}
		if ms, err := strconv.ParseInt(hb["last_seen"], 10, 64); err == nil {
			info.LastSeen = time.UnixMilli(ms).UTC()
		}
		out[id] = info
	}
	return out, nil
}

// InFlight sums the active jobs of every live worker.
func (b *RedisBroker) InFlight(ctx context.Context) (int64, error) {
	workers, err := b.Inspect(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, w := range workers {
		n += int64(w.Active)
	}
	return n, nil
}
