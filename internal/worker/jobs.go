package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/docparse/constants"
	"github.com/joseph-ayodele/docparse/internal/broker"
	"github.com/joseph-ayodele/docparse/internal/entity"
	"github.com/joseph-ayodele/docparse/internal/pipeline"
	"github.com/joseph-ayodele/docparse/internal/repository"
)

func (r *Runtime) runSingle(ctx context.Context, cancel context.CancelFunc, job broker.Job, log *slog.Logger) outcome {
	var revoked bool
	progress := r.progress(ctx, cancel, job, &revoked, func(p int) int { return p }, log)

	env := r.runDocument(ctx, job.TaskID, job.SourceRef, job.CategoryHint, progress, log)
	if revoked || r.revoked(context.WithoutCancel(ctx), job.TaskID, log) {
		return outcome{revoked: true}
	}
	r.save(ctx, job.TaskID, job, env, log)

	result, err := json.Marshal(env)
	if err != nil {
		log.Error("worker.result.encode_failed", "error", err)
	}
	out := outcome{status: env.Status, result: result}
	if env.Succeeded() {
		out.message = "processing completed"
	} else {
		out.message = "processing failed"
		out.errText = env.Error
	}
	return out
}

// runBatch processes documents one by one. Task progress advances in equal
// shares per document.
func (r *Runtime) runBatch(ctx context.Context, cancel context.CancelFunc, job broker.Job, log *slog.Logger) outcome {
	total := len(job.Documents)
	if total == 0 {
		return outcome{status: constants.TaskFailed, message: "batch failed", errText: "batch has no documents"}
	}
	summary := entity.BatchSummary{
		BatchID:    job.BatchID,
		TotalFiles: total,
		Results:    make([]json.RawMessage, 0, total),
	}

	var revoked bool
	for i, doc := range job.Documents {
		if revoked || ctx.Err() != nil {
			break
		}
		base := i * 100 / total
		share := 100 / float64(total)
		scale := func(p int) int {
			return base + int(float64(p)*share/100)
		}
		progress := r.progress(ctx, cancel, job, &revoked, scale, log)

		itemID := fmt.Sprintf("%s/%d", job.TaskID, i)
		env := r.runDocument(ctx, itemID, doc.SourceRef, doc.CategoryHint, progress, log)
		if revoked {
			break
		}
		r.save(ctx, itemID, job, env, log)

		if env.Succeeded() {
			summary.CompletedCount++
		}
		raw, err := json.Marshal(env)
		if err != nil {
			raw = json.RawMessage(`{}`)
		}
		summary.Results = append(summary.Results, raw)
	}
	if revoked {
		return outcome{revoked: true}
	}

	// Documents never reached because the job timed out count as failed.
	summary.FailedCount = total - summary.CompletedCount
	summary.SuccessRate = math.Round(float64(summary.CompletedCount)/float64(total)*10000) / 100

	out := outcome{status: constants.TaskCompleted}
	switch {
	case summary.FailedCount == 0:
		summary.Status = constants.BatchCompleted
		out.message = fmt.Sprintf("batch completed: %d documents", total)
	case summary.CompletedCount > 0:
		summary.Status = constants.BatchPartialFailed
		out.message = fmt.Sprintf("batch partially failed: %d of %d documents failed", summary.FailedCount, total)
	default:
		summary.Status = constants.BatchFailed
		out.status = constants.TaskFailed
		out.message = "batch failed"
		out.errText = fmt.Sprintf("all %d documents failed", total)
	}

	result, err := json.Marshal(summary)
	if err != nil {
		log.Error("worker.result.encode_failed", "error", err)
	}
	out.result = result
	log.Info("worker.batch.done",
		"batch_id", job.BatchID,
		"status", summary.Status,
		"completed", summary.CompletedCount,
		"failed", summary.FailedCount,
	)
	return out
}

// runDocument resolves ref and runs it through the pipeline. A reference that
// escapes the source root yields a failed envelope without touching disk.
func (r *Runtime) runDocument(ctx context.Context, id, ref, hint string, progress pipeline.ProgressFunc, log *slog.Logger) pipeline.Envelope {
	path, err := resolvePath(r.sourceRoot, ref)
	if err != nil {
		log.Warn("worker.source.rejected", "item_id", id, "source_ref", ref, "error", err)
		return pipeline.Envelope{
			BasicInfo:   pipeline.BasicInfo{Filename: filepath.Base(ref), SourceRef: ref},
			Status:      constants.TaskFailed,
			Stage:       pipeline.StageReceived,
			ProcessedAt: r.now().UTC(),
			Error:       err.Error(),
		}
	}
	start := r.now()
	env := r.pipeline.Run(ctx, pipeline.Document{SourceRef: ref, Path: path, CategoryHint: hint}, progress)
	if env.Succeeded() {
		r.metrics.Processed(ctx, string(env.Category), r.now().Sub(start).Seconds())
	}
	return env
}

// resolvePath maps a source reference onto a file under root. An empty root
// accepts the reference as a path.
func resolvePath(root, ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", fmt.Errorf("empty source reference")
	}
	if root == "" {
		return filepath.Clean(ref), nil
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve source root: %w", err)
	}
	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(absRoot, path)
	}
	path = filepath.Clean(path)
	rel, err := filepath.Rel(absRoot, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("source reference %q is outside the source root", ref)
	}
	return path, nil
}

func (r *Runtime) save(ctx context.Context, id string, job broker.Job, env pipeline.Envelope, log *slog.Logger) {
	if r.catalog == nil {
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		log.Warn("worker.catalog.encode_failed", "item_id", id, "error", err)
		return
	}
	row := repository.Result{
		TaskID:       id,
		BatchID:      job.BatchID,
		SourceRef:    env.BasicInfo.SourceRef,
		Filename:     env.BasicInfo.Filename,
		Category:     string(env.Category),
		Status:       string(env.Status),
		QualityScore: env.QualityScore,
		PageCount:    env.BasicInfo.PageCount,
		OCRUsed:      env.BasicInfo.OCRUsed,
		Error:        env.Error,
		Envelope:     raw,
		ProcessedAt:  env.ProcessedAt,
		CreatedAt:    r.now().UTC(),
	}
	// The row is written even when the job deadline has passed.
	if err := r.catalog.Save(context.WithoutCancel(ctx), row); err != nil {
		log.Warn("worker.catalog.save_failed", "item_id", id, "error", err)
	}
}
