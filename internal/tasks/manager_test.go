package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/joseph-ayodele/docparse/constants"
	"github.com/joseph-ayodele/docparse/internal/broker"
	"github.com/joseph-ayodele/docparse/internal/common"
	"github.com/joseph-ayodele/docparse/internal/entity"
	"github.com/joseph-ayodele/docparse/internal/store"
)

type harness struct {
	m      *Manager
	store  *store.RedisStore
	broker *broker.RedisBroker
	mr     *miniredis.Miniredis
	now    time.Time
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{mr: mr, now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	h.store = store.NewRedisStore(rdb, nil)
	h.broker = broker.NewRedisBroker(rdb, "docs", nil)
	opts = append([]Option{WithClock(func() time.Time { return h.now })}, opts...)
	h.m = NewManager(h.store, h.broker, nil, opts...)
	return h
}

func status(s constants.TaskStatus) *constants.TaskStatus { return &s }

func (h *harness) submit(t *testing.T) string {
	t.Helper()
	id, err := h.m.Submit(context.Background(), SubmitRequest{SourceRef: "uploads/label.pdf", CategoryHint: "food"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return id
}

func TestSubmitThenGetStatusIsPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.submit(t)

	rec, err := h.m.GetStatus(ctx, id)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if rec.Status != constants.TaskPending || rec.Progress != 0 {
		t.Errorf("status = %s, progress = %d; want pending, 0", rec.Status, rec.Progress)
	}
	if rec.TaskType != constants.TaskTypeSingle || rec.SourceRef != "uploads/label.pdf" {
		t.Errorf("unexpected record %+v", rec)
	}

	st := h.m.QueueStats(ctx)
	if st.PendingTasks != 1 || st.TotalTasks != 1 || st.QueueLength != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSubmitIDsAreUnique(t *testing.T) {
	h := newHarness(t)
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id := h.submit(t)
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		req  SubmitRequest
	}{
		{"missing source", SubmitRequest{}},
		{"bad callback", SubmitRequest{SourceRef: "a.pdf", CallbackRef: "ftp://example.com/x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.m.Submit(context.Background(), tt.req)
			if !common.IsValidation(err) {
				t.Fatalf("err = %v, want validation error", err)
			}
		})
	}
}

type failingQueue struct {
	Queue
	err error
}

func (f failingQueue) Enqueue(context.Context, broker.Job) error { return f.err }

func (f failingQueue) QueueLength(context.Context) (int64, error) { return 0, f.err }

func (f failingQueue) InFlight(context.Context) (int64, error) { return 0, f.err }

func (f failingQueue) Inspect(context.Context) (map[string]entity.WorkerInfo, error) {
	return nil, f.err
}

func TestSubmitQueueFailureLeavesNoRecord(t *testing.T) {
	h := newHarness(t)
	m := NewManager(h.store, failingQueue{err: common.ErrQueue}, nil)

	_, err := m.Submit(context.Background(), SubmitRequest{SourceRef: "a.pdf"})
	if !errors.Is(err, common.ErrQueue) {
		t.Fatalf("err = %v, want ErrQueue", err)
	}
	recent, _ := h.store.Recent(context.Background(), 10)
	if len(recent) != 0 {
		t.Errorf("record left behind: %+v", recent[0])
	}
}

func TestSubmitStoreFailureIsReported(t *testing.T) {
	h := newHarness(t)
	h.mr.SetError("READONLY")
	_, err := h.m.Submit(context.Background(), SubmitRequest{SourceRef: "a.pdf"})
	if !errors.Is(err, common.ErrStore) {
		t.Fatalf("err = %v, want ErrStore", err)
	}
}

func TestUpdateStatusLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.submit(t)

	progress := 30
	if err := h.m.UpdateStatus(ctx, id, entity.StatusPatch{Status: status(constants.TaskProcessing), Progress: &progress}); err != nil {
		t.Fatal(err)
	}
	st := h.m.QueueStats(ctx)
	if st.PendingTasks != 0 || st.ProcessingTasks != 1 {
		t.Errorf("after processing: %+v", st)
	}

	d := 2.5
	done := entity.StatusPatch{Status: status(constants.TaskCompleted), DurationSeconds: &d}
	if err := h.m.UpdateStatus(ctx, id, done); err != nil {
		t.Fatal(err)
	}
	if err := h.m.UpdateStatus(ctx, id, done); err != nil {
		t.Fatal(err)
	}

	st = h.m.QueueStats(ctx)
	if st.CompletedTasks != 1 || st.ProcessingTasks != 0 {
		t.Errorf("duplicate completed update double-counted: %+v", st)
	}
	if st.AverageProcessingTime != 2.5 {
		t.Errorf("average = %v, want 2.5", st.AverageProcessingTime)
	}

	hist, err := h.m.History(ctx, id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if hist.Status != constants.TaskCompleted {
		t.Errorf("history status = %s", hist.Status)
	}

	t.Run("terminal task cannot go back to processing", func(t *testing.T) {
		err := h.m.UpdateStatus(ctx, id, entity.StatusPatch{Status: status(constants.TaskProcessing)})
		if !errors.Is(err, common.ErrTerminalState) {
			t.Fatalf("err = %v, want ErrTerminalState", err)
		}
	})
}

func TestUpdateStatusInvalid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.submit(t)

	if err := h.m.UpdateStatus(ctx, "missing", entity.StatusPatch{Status: status(constants.TaskFailed)}); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("unknown id: err = %v, want ErrNotFound", err)
	}
	if err := h.m.UpdateStatus(ctx, id, entity.StatusPatch{Status: status("exploded")}); !errors.Is(err, common.ErrInvalidInput) {
		t.Errorf("bad status: err = %v, want ErrInvalidInput", err)
	}
	bad := 150
	if err := h.m.UpdateStatus(ctx, id, entity.StatusPatch{Progress: &bad}); !common.IsValidation(err) {
		t.Errorf("bad progress: err = %v, want validation error", err)
	}
	if err := h.m.UpdateStatus(ctx, id, entity.StatusPatch{}); !errors.Is(err, common.ErrInvalidInput) {
		t.Errorf("empty patch: err = %v, want ErrInvalidInput", err)
	}
}

func TestGetStatusFallsBackToQueue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.broker.Enqueue(ctx, broker.Job{TaskID: "orphan", TaskType: constants.TaskTypeSingle, SourceRef: "x.pdf"}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.broker.Dequeue(ctx, "w1", time.Second); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		state constants.BrokerState
		want  constants.TaskStatus
	}{
		{constants.BrokerStarted, constants.TaskProcessing},
		{constants.BrokerRetry, constants.TaskProcessing},
		{constants.BrokerSuccess, constants.TaskCompleted},
		{constants.BrokerFailure, constants.TaskFailed},
		{constants.BrokerRevoked, constants.TaskCancelled},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if err := h.broker.Finished(ctx, "orphan", "w1", tt.state); err != nil {
				t.Fatal(err)
			}
			rec, err := h.m.GetStatus(ctx, "orphan")
			if err != nil {
				t.Fatalf("GetStatus: %v", err)
			}
			if rec.Status != tt.want || rec.TaskType != constants.TaskTypeUnknown {
				t.Errorf("got %s/%s, want %s/unknown", rec.Status, rec.TaskType, tt.want)
			}
		})
	}

	if _, err := h.m.GetStatus(ctx, "never-seen"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("pending task", func(t *testing.T) {
		h := newHarness(t)
		id := h.submit(t)
		ok, err := h.m.Cancel(ctx, id)
		if err != nil || !ok {
			t.Fatalf("Cancel = %v, %v", ok, err)
		}
		rec, _ := h.m.GetStatus(ctx, id)
		if rec.Status != constants.TaskCancelled {
			t.Errorf("status = %s, want cancelled", rec.Status)
		}
		if n, _ := h.broker.QueueLength(ctx); n != 0 {
			t.Errorf("queued job not revoked, queue length %d", n)
		}
		st := h.m.QueueStats(ctx)
		if st.CancelledTasks != 1 || st.PendingTasks != 0 {
			t.Errorf("stats = %+v", st)
		}
	})

	completed := func(t *testing.T, h *harness) string {
		t.Helper()
		id := h.submit(t)
		if err := h.m.UpdateStatus(ctx, id, entity.StatusPatch{Status: status(constants.TaskCompleted)}); err != nil {
			t.Fatal(err)
		}
		return id
	}

	t.Run("completed task keeps its state by default", func(t *testing.T) {
		h := newHarness(t)
		id := completed(t, h)
		ok, err := h.m.Cancel(ctx, id)
		if err != nil || ok {
			t.Fatalf("Cancel = %v, %v; want false, nil", ok, err)
		}
		rec, _ := h.m.GetStatus(ctx, id)
		if rec.Status != constants.TaskCompleted {
			t.Errorf("status = %s, want completed", rec.Status)
		}
	})

	t.Run("completed task is overwritten under the overwrite policy", func(t *testing.T) {
		h := newHarness(t, WithCancelPolicy(CancelOverwriteTerminal))
		id := completed(t, h)
		ok, err := h.m.Cancel(ctx, id)
		if err != nil || !ok {
			t.Fatalf("Cancel = %v, %v", ok, err)
		}
		rec, _ := h.m.GetStatus(ctx, id)
		if rec.Status != constants.TaskCancelled {
			t.Errorf("status = %s, want cancelled", rec.Status)
		}
		st := h.m.QueueStats(ctx)
		if st.CompletedTasks != 1 || st.CancelledTasks != 0 {
			t.Errorf("counters moved twice for one task: %+v", st)
		}
	})

	t.Run("unknown task", func(t *testing.T) {
		h := newHarness(t)
		ok, err := h.m.Cancel(ctx, "nope")
		if ok || !errors.Is(err, common.ErrNotFound) {
			t.Errorf("Cancel = %v, %v; want false, ErrNotFound", ok, err)
		}
	})
}

func TestCleanupRemovesOnlyOldRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	start := h.now
	h.now = start.AddDate(0, 0, -10)
	old := h.submit(t)
	h.now = start.AddDate(0, 0, -1)
	fresh := h.submit(t)
	h.now = start

	n, err := h.m.Cleanup(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("Cleanup = %d, want 1", n)
	}
	if _, err := h.store.Get(ctx, old); !errors.Is(err, common.ErrNotFound) {
		t.Error("old record survived")
	}
	if _, err := h.store.Get(ctx, fresh); err != nil {
		t.Errorf("fresh record removed: %v", err)
	}

	if _, err := h.m.Cleanup(ctx, 0); !errors.Is(err, common.ErrInvalidInput) {
		t.Errorf("Cleanup(0) err = %v, want ErrInvalidInput", err)
	}
}

func TestSubmitBatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := h.m.SubmitBatch(ctx, BatchRequest{Documents: []broker.Document{{SourceRef: "a.pdf"}, {SourceRef: "b.txt"}}})
	if err != nil {
		t.Fatal(err)
	}
	rec, err := h.m.GetStatus(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.TaskType != constants.TaskTypeBatch || rec.BatchID == "" || rec.Status != constants.TaskPending {
		t.Errorf("unexpected record %+v", rec)
	}
	job, err := h.broker.Dequeue(ctx, "w1", time.Second)
	if err != nil || job == nil {
		t.Fatalf("Dequeue = %v, %v", job, err)
	}
	if len(job.Documents) != 2 || job.BatchID != rec.BatchID {
		t.Errorf("job = %+v", job)
	}

	if _, err := h.m.SubmitBatch(ctx, BatchRequest{}); !common.IsValidation(err) {
		t.Errorf("empty batch err = %v, want validation error", err)
	}
}

func TestAdvisoryReadsDegrade(t *testing.T) {
	h := newHarness(t)
	m := NewManager(h.store, failingQueue{err: common.ErrQueue}, nil)
	h.mr.SetError("LOADING")

	st := m.QueueStats(context.Background())
	if st != (entity.QueueStats{}) {
		t.Errorf("stats = %+v, want zeros", st)
	}
	if w := m.WorkerStatus(context.Background()); len(w) != 0 {
		t.Errorf("workers = %v, want empty", w)
	}
}

func TestRecent(t *testing.T) {
	h := newHarness(t)
	var ids []string
	for i := 0; i < 3; i++ {
		h.now = h.now.Add(time.Minute)
		ids = append(ids, h.submit(t))
	}
	got, err := h.m.Recent(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].TaskID != ids[2] || got[1].TaskID != ids[1] {
		t.Errorf("Recent returned %d records in the wrong order", len(got))
	}
}

func TestRunJanitorSweepsImmediately(t *testing.T) {
	h := newHarness(t)
	start := h.now
	h.now = start.AddDate(0, 0, -10)
	old := h.submit(t)
	h.now = start

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.m.RunJanitor(ctx, Retention{Interval: time.Hour, LiveDays: 7, HistoryDays: 30})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := h.store.Get(context.Background(), old); errors.Is(err, common.ErrNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("old record not swept")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestCancelledTaskIsFinal(t *testing.T) {
	ctx := context.Background()
	for _, next := range []constants.TaskStatus{constants.TaskCompleted, constants.TaskFailed, constants.TaskProcessing} {
		t.Run(string(next), func(t *testing.T) {
			h := newHarness(t)
			id := h.submit(t)
			if ok, err := h.m.Cancel(ctx, id); err != nil || !ok {
				t.Fatalf("Cancel = %v, %v", ok, err)
			}
			err := h.m.UpdateStatus(ctx, id, entity.StatusPatch{Status: status(next)})
			if !errors.Is(err, common.ErrTerminalState) {
				t.Fatalf("UpdateStatus(%s) err = %v, want ErrTerminalState", next, err)
			}
			rec, _ := h.m.GetStatus(ctx, id)
			if rec.Status != constants.TaskCancelled {
				t.Errorf("status = %s, want cancelled", rec.Status)
			}
			st := h.m.QueueStats(ctx)
			if st.CancelledTasks != 1 || st.CompletedTasks != 0 || st.FailedTasks != 0 {
				t.Errorf("stats = %+v", st)
			}
		})
	}
}
