// Package store keeps task status records, their history and the aggregate
// queue counters in Redis.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/joseph-ayodele/docparse/constants"
	"github.com/joseph-ayodele/docparse/internal/common"
	"github.com/joseph-ayodele/docparse/internal/entity"
)

const (
	statusPrefix  = "task_status:"
	historyPrefix = "task_history:"
	countedPrefix = "task_counted:"
	statsKey      = "queue_stats:current"

	DefaultStatusTTL  = 7 * 24 * time.Hour
	DefaultHistoryTTL = 30 * 24 * time.Hour
)

// Counter fields of the stats hash.
const (
	statPending    = "pending_tasks"
	statProcessing = "processing_tasks"
	statCompleted  = "completed_tasks"
	statFailed     = "failed_tasks"
	statCancelled  = "cancelled_tasks"
	statTotal      = "total_tasks"
	statDurSum     = "duration_sum"
	statDurCount   = "duration_count"
)

var statusCounter = map[constants.TaskStatus]string{
	constants.TaskPending:    statPending,
	constants.TaskProcessing: statProcessing,
	constants.TaskCompleted:  statCompleted,
	constants.TaskFailed:     statFailed,
	constants.TaskCancelled:  statCancelled,
}

// updateScript applies a partial update only when the record exists. It keeps
// updated_at non-decreasing, refreshes the TTL and returns the previous status
// together with the full record.
//
// KEYS[1] status key; ARGV[1] updated_at millis; ARGV[2] ttl seconds; ARGV[3..] field/value pairs.
var updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
local prev = redis.call('HGET', KEYS[1], 'status') or ''
local last = tonumber(redis.call('HGET', KEYS[1], 'updated_at') or '0') or 0
if tonumber(ARGV[1]) >= last then
  redis.call('HSET', KEYS[1], 'updated_at', ARGV[1])
end
for i = 3, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
redis.call('EXPIRE', KEYS[1], ARGV[2])
return {prev, redis.call('HGETALL', KEYS[1])}
`)

// RedisStore is the task status store. Records are flat hashes keyed by task id.
type RedisStore struct {
	rdb        *redis.Client
	statusTTL  time.Duration
	historyTTL time.Duration
	logger     *slog.Logger
}

type Option func(*RedisStore)

// WithTTL overrides the live and history retention. Zero values keep the defaults.
func WithTTL(status, history time.Duration) Option {
	return func(s *RedisStore) {
		if status > 0 {
			s.statusTTL = status
		}
		if history > 0 {
			s.historyTTL = history
		}
	}
}

func NewRedisStore(rdb *redis.Client, logger *slog.Logger, opts ...Option) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &RedisStore{
		rdb:        rdb,
		statusTTL:  DefaultStatusTTL,
		historyTTL: DefaultHistoryTTL,
		logger:     logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func statusKey(id string) string  { return statusPrefix + id }
func historyKey(id string) string { return historyPrefix + id }

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", common.ErrStore, op, err)
}

func notFound(id string) error {
	return common.NewAppError("TASK_NOT_FOUND", fmt.Sprintf("task %s not found", id), common.ErrNotFound)
}

// Create writes a new status record with the live TTL.
func (s *RedisStore) Create(ctx context.Context, rec *entity.JobStatus) error {
	key := statusKey(rec.TaskID)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, encodeStatus(rec))
		p.Expire(ctx, key, s.statusTTL)
		return nil
	})
	if err != nil {
		s.logger.Error("store.create.failed", "task_id", rec.TaskID, "error", err)
		return storeErr("create "+rec.TaskID, err)
	}
	return nil
}

// Get returns the live record or an error wrapping common.ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, id string) (*entity.JobStatus, error) {
	return s.read(ctx, statusKey(id), id)
}

// History returns the record copied into the history partition.
func (s *RedisStore) History(ctx context.Context, id string) (*entity.JobStatus, error) {
	return s.read(ctx, historyKey(id), id)
}

func (s *RedisStore) read(ctx context.Context, key, id string) (*entity.JobStatus, error) {
	m, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, storeErr("read "+id, err)
	}
	if len(m) == 0 {
		return nil, notFound(id)
	}
	rec, err := decodeStatus(m)
	if err != nil {
		return nil, storeErr("decode "+id, err)
	}
	return rec, nil
}

// Update applies p field by field (last write wins) and returns the status the
// record had before the update along with the updated record.
func (s *RedisStore) Update(ctx context.Context, id string, p entity.StatusPatch) (constants.TaskStatus, *entity.JobStatus, error) {
	ts := p.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	args := []any{millis(ts), int64(s.statusTTL / time.Second)}
	args = append(args, patchArgs(p)...)

	res, err := updateScript.Run(ctx, s.rdb, []string{statusKey(id)}, args...).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil, notFound(id)
	}
	if err != nil {
		s.logger.Error("store.update.failed", "task_id", id, "error", err)
		return "", nil, storeErr("update "+id, err)
	}

	reply, ok := res.([]any)
	if !ok || len(reply) != 2 {
		return "", nil, storeErr("update "+id, fmt.Errorf("unexpected script reply %T", res))
	}
	prev, _ := reply[0].(string)
	fields, _ := reply[1].([]any)
	rec, err := decodeStatus(pairsToMap(fields))
	if err != nil {
		return "", nil, storeErr("decode "+id, err)
	}
	return constants.TaskStatus(prev), rec, nil
}

// Delete removes the live record.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, statusKey(id)).Err(); err != nil {
		return storeErr("delete "+id, err)
	}
	return nil
}

// MarkCounted records that the terminal counters of id have been adjusted.
// It returns false when that already happened.
func (s *RedisStore) MarkCounted(ctx context.Context, id string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, countedPrefix+id, 1, s.historyTTL).Result()
	if err != nil {
		return false, storeErr("mark counted "+id, err)
	}
	return ok, nil
}

// SaveHistory copies rec into the history partition with the history TTL.
func (s *RedisStore) SaveHistory(ctx context.Context, rec *entity.JobStatus) error {
	key := historyKey(rec.TaskID)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key, encodeStatus(rec))
		p.Expire(ctx, key, s.historyTTL)
		return nil
	})
	if err != nil {
		return storeErr("save history "+rec.TaskID, err)
	}
	return nil
}

// CountSubmitted bumps the pending and total counters.
func (s *RedisStore) CountSubmitted(ctx context.Context) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, statsKey, statPending, 1)
		p.HIncrBy(ctx, statsKey, statTotal, 1)
		return nil
	})
	if err != nil {
		return storeErr("count submitted", err)
	}
	return nil
}

// CountTransition moves one task from the from counter to the to counter. A
// duration is accumulated into the processing-time average.
func (s *RedisStore) CountTransition(ctx context.Context, from, to constants.TaskStatus, duration *float64) error {
	if from == to {
		return nil
	}
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if f, ok := statusCounter[from]; ok {
			p.HIncrBy(ctx, statsKey, f, -1)
		}
		if t, ok := statusCounter[to]; ok {
			p.HIncrBy(ctx, statsKey, t, 1)
		}
		if duration != nil && to == constants.TaskCompleted {
			p.HIncrByFloat(ctx, statsKey, statDurSum, *duration)
			p.HIncrBy(ctx, statsKey, statDurCount, 1)
		}
		return nil
	})
	if err != nil {
		return storeErr(fmt.Sprintf("count %s->%s", from, to), err)
	}
	return nil
}

// Stats reads the aggregate counters. Missing fields read as zero.
func (s *RedisStore) Stats(ctx context.Context) (entity.QueueStats, error) {
	m, err := s.rdb.HGetAll(ctx, statsKey).Result()
	if err != nil {
		return entity.QueueStats{}, storeErr("read stats", err)
	}
	i := func(k string) int64 {
		v, _ := strconv.ParseInt(m[k], 10, 64)
		return v
	}
	st := entity.QueueStats{
		PendingTasks:    i(statPending),
		ProcessingTasks: i(statProcessing),
		CompletedTasks:  i(statCompleted),
		FailedTasks:     i(statFailed),
		CancelledTasks:  i(statCancelled),
		TotalTasks:      i(statTotal),
	}
	if n := i(statDurCount); n > 0 {
		sum, _ := strconv.ParseFloat(m[statDurSum], 64)
		st.AverageProcessingTime = sum / float64(n)
	}
	return st, nil
}

// scan calls fn for every record under prefix. Records that fail to decode are skipped.
func (s *RedisStore) scan(ctx context.Context, prefix string, fn func(key string, rec *entity.JobStatus) error) error {
	iter := s.rdb.Scan(ctx, 0, prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		m, err := s.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return storeErr("scan "+key, err)
		}
		if len(m) == 0 {
			continue
		}
		rec, err := decodeStatus(m)
		if err != nil {
			s.logger.Warn("store.scan.skip", "key", key, "error", err)
			continue
		}
		if err := fn(key, rec); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return storeErr("scan "+prefix, err)
	}
	return nil
}

// Cleanup deletes every live record created before cutoff, whatever its state.
func (s *RedisStore) Cleanup(ctx context.Context, cutoff time.Time) (int, error) {
	return s.deleteOlder(ctx, statusPrefix, cutoff)
}

// PurgeHistory deletes history records created before cutoff.
func (s *RedisStore) PurgeHistory(ctx context.Context, cutoff time.Time) (int, error) {
	return s.deleteOlder(ctx, historyPrefix, cutoff)
}

func (s *RedisStore) deleteOlder(ctx context.Context, prefix string, cutoff time.Time) (int, error) {
	n := 0
	err := s.scan(ctx, prefix, func(key string, rec *entity.JobStatus) error {
		if !rec.CreatedAt.Before(cutoff) {
			return nil
		}
		if err := s.rdb.Del(ctx, key).Err(); err != nil {
			return storeErr("delete "+key, err)
		}
		n++
		return nil
	})
	return n, err
}

// Recent returns up to limit live records, newest first.
func (s *RedisStore) Recent(ctx context.Context, limit int) ([]*entity.JobStatus, error) {
	var out []*entity.JobStatus
	err := s.scan(ctx, statusPrefix, func(_ string, rec *entity.JobStatus) error {
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
