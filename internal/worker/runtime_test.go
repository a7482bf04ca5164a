package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/joseph-ayodele/docparse/constants"
	"github.com/joseph-ayodele/docparse/internal/broker"
	"github.com/joseph-ayodele/docparse/internal/common"
	"github.com/joseph-ayodele/docparse/internal/entity"
	"github.com/joseph-ayodele/docparse/internal/notify"
	"github.com/joseph-ayodele/docparse/internal/pipeline"
	"github.com/joseph-ayodele/docparse/internal/repository"
	"github.com/joseph-ayodele/docparse/internal/store"
	"github.com/joseph-ayodele/docparse/internal/tasks"
)

type stubPipeline struct {
	mu   sync.Mutex
	docs []pipeline.Document
	run  func(ctx context.Context, doc pipeline.Document, progress pipeline.ProgressFunc) pipeline.Envelope
}

func (s *stubPipeline) Run(ctx context.Context, doc pipeline.Document, progress pipeline.ProgressFunc) pipeline.Envelope {
	s.mu.Lock()
	s.docs = append(s.docs, doc)
	s.mu.Unlock()
	return s.run(ctx, doc, progress)
}

func (s *stubPipeline) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

// completeUnlessNamed fails documents whose source ref contains "bad".
func completeUnlessNamed(_ context.Context, doc pipeline.Document, progress pipeline.ProgressFunc) pipeline.Envelope {
	for _, s := range []pipeline.Stage{pipeline.StageReceived, pipeline.StageText, pipeline.StageScored} {
		progress(s, s.Progress())
	}
	env := pipeline.Envelope{
		BasicInfo:    pipeline.BasicInfo{Filename: filepath.Base(doc.Path), SourceRef: doc.SourceRef, PageCount: 1},
		Category:     constants.Food,
		QualityScore: 70,
		Status:       constants.TaskCompleted,
		Stage:        pipeline.StageDone,
		ProcessedAt:  time.Now().UTC(),
	}
	if strings.Contains(doc.SourceRef, "bad") {
		env.Status = constants.TaskFailed
		env.Error = "unsupported document type"
	}
	return env
}

type memCatalog struct {
	mu   sync.Mutex
	rows map[string]repository.Result
}

func (c *memCatalog) Save(_ context.Context, r repository.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rows == nil {
		c.rows = map[string]repository.Result{}
	}
	c.rows[r.TaskID] = r
	return nil
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []notify.Callback
}

func (n *recordingNotifier) Notify(_ context.Context, _ string, cb notify.Callback) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, cb)
	return nil
}

type harness struct {
	mgr      *tasks.Manager
	broker   *broker.RedisBroker
	rdb      *redis.Client
	pipe     *stubPipeline
	catalog  *memCatalog
	notifier *recordingNotifier
	rt       *Runtime
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{
		rdb:      rdb,
		broker:   broker.NewRedisBroker(rdb, "docs", nil),
		pipe:     &stubPipeline{run: completeUnlessNamed},
		catalog:  &memCatalog{},
		notifier: &recordingNotifier{},
	}
	h.mgr = tasks.NewManager(store.NewRedisStore(rdb, nil), h.broker, nil)
	opts = append([]Option{
		WithWorkerID("w1"),
		WithCatalog(h.catalog),
		WithNotifier(h.notifier),
		WithSourceRoot(t.TempDir()),
		WithPollTimeout(time.Second),
	}, opts...)
	h.rt = NewRuntime(h.broker, h.mgr, h.pipe, nil, opts...)
	return h
}

func (h *harness) submit(t *testing.T, ref string) string {
	t.Helper()
	id, err := h.mgr.Submit(context.Background(), tasks.SubmitRequest{
		SourceRef:   ref,
		CallbackRef: "http://callback.local/hook",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return id
}

func (h *harness) dequeue(t *testing.T) broker.Job {
	t.Helper()
	job, err := h.broker.Dequeue(context.Background(), "w1", time.Second)
	if err != nil || job == nil {
		t.Fatalf("Dequeue: job=%v err=%v", job, err)
	}
	return *job
}

func (h *harness) brokerState(t *testing.T, id string) constants.BrokerState {
	t.Helper()
	st, _, ok, err := h.broker.State(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("State(%s): ok=%v err=%v", id, ok, err)
	}
	return st
}

func TestProcessSingleDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.submit(t, "labels/granola.pdf")

	h.rt.Process(ctx, h.dequeue(t))

	rec, err := h.mgr.GetStatus(ctx, id)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if rec.Status != constants.TaskCompleted || rec.Progress != 100 {
		t.Fatalf("status = %s, progress = %d", rec.Status, rec.Progress)
	}
	if rec.DurationSeconds == nil {
		t.Error("duration not recorded")
	}
	var env pipeline.Envelope
	if err := json.Unmarshal(rec.Result, &env); err != nil {
		t.Fatalf("result: %v", err)
	}
	if env.QualityScore != 70 || env.Category != constants.Food {
		t.Errorf("envelope = %+v", env)
	}
	if got := h.brokerState(t, id); got != constants.BrokerSuccess {
		t.Errorf("broker state = %s, want SUCCESS", got)
	}
	if row, ok := h.catalog.rows[id]; !ok || row.Status != "completed" || row.Filename != "granola.pdf" {
		t.Errorf("catalog row = %+v (present %v)", row, ok)
	}
	if len(h.notifier.got) != 1 || h.notifier.got[0].Status != constants.TaskCompleted {
		t.Errorf("callbacks = %+v", h.notifier.got)
	}
	if st := h.mgr.QueueStats(ctx); st.CompletedTasks != 1 || st.PendingTasks != 0 || st.ProcessingTasks != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestProcessFailedDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.submit(t, "bad.docx")

	h.rt.Process(ctx, h.dequeue(t))

	rec, err := h.mgr.GetStatus(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != constants.TaskFailed || rec.Error != "unsupported document type" {
		t.Errorf("record = %+v", rec)
	}
	if got := h.brokerState(t, id); got != constants.BrokerFailure {
		t.Errorf("broker state = %s, want FAILURE", got)
	}
	if len(h.notifier.got) != 1 || h.notifier.got[0].Error == "" {
		t.Errorf("callbacks = %+v", h.notifier.got)
	}
}

func TestProcessRejectsSourceOutsideRoot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.submit(t, "../../etc/passwd")

	h.rt.Process(ctx, h.dequeue(t))

	if h.pipe.calls() != 0 {
		t.Error("pipeline ran for a rejected source")
	}
	rec, err := h.mgr.GetStatus(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != constants.TaskFailed || !strings.Contains(rec.Error, "outside the source root") {
		t.Errorf("record = %+v", rec)
	}
}

func TestProcessSkipsRevokedJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.submit(t, "a.txt")
	job := h.dequeue(t)

	if ok, err := h.mgr.Cancel(ctx, id); err != nil || !ok {
		t.Fatalf("Cancel = %v, %v", ok, err)
	}
	h.rt.Process(ctx, job)

	if h.pipe.calls() != 0 {
		t.Error("pipeline ran for a revoked job")
	}
	rec, _ := h.mgr.GetStatus(ctx, id)
	if rec.Status != constants.TaskCancelled {
		t.Errorf("status = %s, want cancelled", rec.Status)
	}
	if got := h.brokerState(t, id); got != constants.BrokerRevoked {
		t.Errorf("broker state = %s, want REVOKED", got)
	}
}

func TestProcessStopsWhenRevokedMidRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.submit(t, "a.txt")

	sawCancel := false
	h.pipe.run = func(jobCtx context.Context, doc pipeline.Document, progress pipeline.ProgressFunc) pipeline.Envelope {
		progress(pipeline.StageReceived, 5)
		if _, err := h.mgr.Cancel(ctx, id); err != nil {
			t.Errorf("Cancel: %v", err)
		}
		progress(pipeline.StageText, 30)
		sawCancel = jobCtx.Err() != nil
		return pipeline.Envelope{Status: constants.TaskFailed, Error: "cancelled"}
	}
	h.rt.Process(ctx, h.dequeue(t))

	if !sawCancel {
		t.Error("job context was not cancelled after revocation")
	}
	rec, _ := h.mgr.GetStatus(ctx, id)
	if rec.Status != constants.TaskCancelled {
		t.Errorf("status = %s, want cancelled", rec.Status)
	}
	if len(h.catalog.rows) != 0 || len(h.notifier.got) != 0 {
		t.Error("revoked job produced a result")
	}
}

func TestProcessHonoursCancelAfterLastProgress(t *testing.T) {
	ctx := context.Background()
	cancelAtEnd := func(h *harness, id string) func(context.Context, pipeline.Document, pipeline.ProgressFunc) pipeline.Envelope {
		return func(jobCtx context.Context, doc pipeline.Document, progress pipeline.ProgressFunc) pipeline.Envelope {
			env := completeUnlessNamed(jobCtx, doc, progress)
			progress(pipeline.StageDone, 100)
			if ok, err := h.mgr.Cancel(ctx, id); err != nil || !ok {
				t.Errorf("Cancel = %v, %v", ok, err)
			}
			return env
		}
	}
	check := func(t *testing.T, h *harness, id string) {
		t.Helper()
		rec, _ := h.mgr.GetStatus(ctx, id)
		if rec.Status != constants.TaskCancelled {
			t.Errorf("status = %s, want cancelled", rec.Status)
		}
		st := h.mgr.QueueStats(ctx)
		if st.CompletedTasks != 0 || st.CancelledTasks != 1 {
			t.Errorf("stats = %+v, want one cancelled", st)
		}
		if len(h.notifier.got) != 0 {
			t.Errorf("callbacks = %d, want 0", len(h.notifier.got))
		}
		if got := h.brokerState(t, id); got != constants.BrokerRevoked {
			t.Errorf("broker state = %s, want REVOKED", got)
		}
	}

	t.Run("single", func(t *testing.T) {
		h := newHarness(t)
		id := h.submit(t, "a.txt")
		h.pipe.run = cancelAtEnd(h, id)
		h.rt.Process(ctx, h.dequeue(t))
		check(t, h, id)
		if len(h.catalog.rows) != 0 {
			t.Errorf("catalog rows = %d, want 0", len(h.catalog.rows))
		}
	})

	t.Run("batch", func(t *testing.T) {
		h := newHarness(t)
		id, err := h.mgr.SubmitBatch(ctx, tasks.BatchRequest{
			Documents:   []broker.Document{{SourceRef: "a.txt"}},
			CallbackRef: "http://callback.local/hook",
		})
		if err != nil {
			t.Fatalf("SubmitBatch: %v", err)
		}
		h.pipe.run = cancelAtEnd(h, id)
		h.rt.Process(ctx, h.dequeue(t))
		check(t, h, id)
	})
}

func TestFinishRefusesCancelledRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.submit(t, "a.txt")
	job := h.dequeue(t)
	if ok, err := h.mgr.Cancel(ctx, id); err != nil || !ok {
		t.Fatalf("Cancel = %v, %v", ok, err)
	}

	err := h.rt.finish(ctx, job, outcome{status: constants.TaskCompleted, message: "done"}, 1)
	if !errors.Is(err, common.ErrTerminalState) {
		t.Fatalf("finish err = %v, want ErrTerminalState", err)
	}
	rec, _ := h.mgr.GetStatus(ctx, id)
	if rec.Status != constants.TaskCancelled {
		t.Errorf("status = %s, want cancelled", rec.Status)
	}
}

// flakyBroker fails Started a fixed number of times.
type flakyBroker struct {
	*broker.RedisBroker
	failures int
}

func (b *flakyBroker) Started(ctx context.Context, taskID, workerID string) error {
	if b.failures > 0 {
		b.failures--
		return fmt.Errorf("%w: connection reset", common.ErrQueue)
	}
	return b.RedisBroker.Started(ctx, taskID, workerID)
}

func TestProcessRetriesInfrastructureErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	flaky := &flakyBroker{RedisBroker: h.broker, failures: 1}
	rt := NewRuntime(flaky, h.mgr, h.pipe, nil,
		WithWorkerID("w1"),
		WithBackoff(func(int) time.Duration { return -time.Second }),
	)
	id := h.submit(t, "a.txt")

	rt.Process(ctx, h.dequeue(t))

	if got := h.brokerState(t, id); got != constants.BrokerRetry {
		t.Fatalf("broker state = %s, want RETRY", got)
	}
	if n, err := h.broker.PromoteDue(ctx); err != nil || n != 1 {
		t.Fatalf("PromoteDue = %d, %v", n, err)
	}
	job := h.dequeue(t)
	if job.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", job.Attempt)
	}

	rt.Process(ctx, job)
	rec, _ := h.mgr.GetStatus(ctx, id)
	if rec.Status != constants.TaskCompleted || rec.Attempt != 1 {
		t.Errorf("record = %+v", rec)
	}
}

func TestProcessGivesUpAfterMaxRetries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	flaky := &flakyBroker{RedisBroker: h.broker, failures: 100}
	enqueued := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	rt := NewRuntime(flaky, h.mgr, h.pipe, nil, WithWorkerID("w1"), WithMaxRetries(2),
		WithClock(func() time.Time { return enqueued.Add(90 * time.Second) }))
	id := h.submit(t, "a.txt")

	job := h.dequeue(t)
	job.Attempt = 2
	job.EnqueuedAt = enqueued
	rt.Process(ctx, job)

	rec, _ := h.mgr.GetStatus(ctx, id)
	if rec.Status != constants.TaskFailed || !strings.Contains(rec.Error, "gave up after 3 attempts") {
		t.Errorf("record = %+v", rec)
	}
	if rec.Progress != 100 || rec.DurationSeconds == nil || *rec.DurationSeconds != 90 {
		t.Errorf("progress = %d, duration = %v; want 100 and 90s across attempts", rec.Progress, rec.DurationSeconds)
	}
	if got := h.brokerState(t, id); got != constants.BrokerFailure {
		t.Errorf("broker state = %s, want FAILURE", got)
	}
}

func TestProcessBatch(t *testing.T) {
	tests := []struct {
		name       string
		refs       []string
		wantStatus constants.TaskStatus
		wantBatch  string
		wantRate   float64
	}{
		{"all completed", []string{"a.txt", "b.txt"}, constants.TaskCompleted, constants.BatchCompleted, 100},
		{"partial", []string{"a.txt", "bad.docx", "c.txt"}, constants.TaskCompleted, constants.BatchPartialFailed, 66.67},
		{"all failed", []string{"bad1.docx", "bad2.docx"}, constants.TaskFailed, constants.BatchFailed, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			docs := make([]broker.Document, len(tt.refs))
			for i, ref := range tt.refs {
				docs[i] = broker.Document{SourceRef: ref}
			}
			id, err := h.mgr.SubmitBatch(ctx, tasks.BatchRequest{BatchID: "b1", Documents: docs})
			if err != nil {
				t.Fatalf("SubmitBatch: %v", err)
			}
			h.rt.Process(ctx, h.dequeue(t))

			rec, err := h.mgr.GetStatus(ctx, id)
			if err != nil {
				t.Fatal(err)
			}
			if rec.Status != tt.wantStatus || rec.Progress != 100 {
				t.Fatalf("status = %s, progress = %d", rec.Status, rec.Progress)
			}
			var sum entity.BatchSummary
			if err := json.Unmarshal(rec.Result, &sum); err != nil {
				t.Fatalf("summary: %v", err)
			}
			if sum.Status != tt.wantBatch || sum.SuccessRate != tt.wantRate || sum.TotalFiles != len(tt.refs) {
				t.Errorf("summary = %+v", sum)
			}
			if sum.CompletedCount+sum.FailedCount != len(tt.refs) || len(sum.Results) != len(tt.refs) {
				t.Errorf("counts = %d + %d, results = %d", sum.CompletedCount, sum.FailedCount, len(sum.Results))
			}
			if len(h.catalog.rows) != len(tt.refs) {
				t.Errorf("catalog rows = %d", len(h.catalog.rows))
			}
			if row := h.catalog.rows[id+"/0"]; row.BatchID != "b1" {
				t.Errorf("first catalog row = %+v", row)
			}
		})
	}
}

func TestBatchProgressIsProportional(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var seen []int
	var id string
	h.pipe.run = func(c context.Context, doc pipeline.Document, progress pipeline.ProgressFunc) pipeline.Envelope {
		progress(pipeline.StageDone, 100)
		rec, err := h.mgr.GetStatus(ctx, id)
		if err == nil {
			seen = append(seen, rec.Progress)
		}
		return completeUnlessNamed(c, doc, func(pipeline.Stage, int) {})
	}
	var err error
	id, err = h.mgr.SubmitBatch(ctx, tasks.BatchRequest{BatchID: "b", Documents: []broker.Document{
		{SourceRef: "a.txt"}, {SourceRef: "b.txt"}, {SourceRef: "c.txt"}, {SourceRef: "d.txt"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	h.rt.Process(ctx, h.dequeue(t))

	want := []int{25, 50, 75, 100}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Errorf("progress = %v, want %v", seen, want)
	}
}

func TestResolvePath(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		name    string
		root    string
		ref     string
		want    string
		wantErr bool
	}{
		{"relative", root, "labels/a.pdf", filepath.Join(root, "labels", "a.pdf"), false},
		{"absolute inside", root, filepath.Join(root, "a.pdf"), filepath.Join(root, "a.pdf"), false},
		{"dot dot escape", root, "../a.pdf", "", true},
		{"absolute outside", root, "/etc/passwd", "", true},
		{"empty", root, " ", "", true},
		{"no root", "", "x/../a.pdf", "a.pdf", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolvePath(tt.root, tt.ref)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunConsumesUntilCancelled(t *testing.T) {
	h := newHarness(t, WithConcurrency(2), WithHeartbeat(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.rt.Run(ctx) }()

	id := h.submit(t, "a.txt")
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec, err := h.mgr.GetStatus(context.Background(), id)
		if err == nil && rec.Status == constants.TaskCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task not completed in time: %+v, %v", rec, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if workers := h.mgr.WorkerStatus(context.Background()); len(workers) != 1 {
		t.Errorf("workers = %v, want w1 only", workers)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
	if workers := h.mgr.WorkerStatus(context.Background()); len(workers) != 0 {
		t.Errorf("workers after stop = %v", workers)
	}
}
