package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/docparse/internal/common"
	"github.com/joseph-ayodele/docparse/internal/entity"
	"github.com/joseph-ayodele/docparse/internal/tasks"
)

const maxTaskIDLength = 128

// Orchestrator is the part of tasks.Manager the admin service exposes.
type Orchestrator interface {
	Submit(ctx context.Context, req tasks.SubmitRequest) (string, error)
	SubmitBatch(ctx context.Context, req tasks.BatchRequest) (string, error)
	GetStatus(ctx context.Context, id string) (*entity.JobStatus, error)
	Cancel(ctx context.Context, id string) (bool, error)
	QueueStats(ctx context.Context) entity.QueueStats
	WorkerStatus(ctx context.Context) map[string]entity.WorkerInfo
	Cleanup(ctx context.Context, olderThanDays int) (int, error)
	Recent(ctx context.Context, limit int) ([]*entity.JobStatus, error)
}

type TaskServer struct {
	tasks  Orchestrator
	logger *slog.Logger
}

func NewTaskServer(o Orchestrator, logger *slog.Logger) *TaskServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskServer{tasks: o, logger: logger}
}

// submitBody accepts either a single document or a batch.
type submitBody struct {
	tasks.SubmitRequest
	BatchID   string          `json:"batch_id"`
	Documents json.RawMessage `json:"documents"`
}

// Submit enqueues one document, or a batch when "documents" is present.
func (s *TaskServer) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body submitBody
	if err := decode(in, &body); err != nil {
		return nil, err
	}
	var (
		id  string
		err error
	)
	if len(body.Documents) > 0 && string(body.Documents) != "null" {
		var req tasks.BatchRequest
		if err := decode(in, &req); err != nil {
			return nil, err
		}
		id, err = s.tasks.SubmitBatch(ctx, req)
	} else {
		id, err = s.tasks.Submit(ctx, body.SubmitRequest)
	}
	if err != nil {
		s.logger.Warn("rpc.submit.failed", "request_id", common.RequestIDFromContext(ctx), "error", err)
		return nil, common.ToStatus(err)
	}
	return encode(map[string]any{"task_id": id, "status": "pending"})
}

func (s *TaskServer) GetStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := taskID(in)
	if err != nil {
		return nil, err
	}
	rec, err := s.tasks.GetStatus(ctx, id)
	if err != nil {
		return nil, common.ToStatus(err)
	}
	return encode(rec)
}

func (s *TaskServer) Cancel(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := taskID(in)
	if err != nil {
		return nil, err
	}
	ok, err := s.tasks.Cancel(ctx, id)
	if err != nil {
		s.logger.Warn("rpc.cancel.failed", "task_id", id, "error", err)
		return nil, common.ToStatus(err)
	}
	return encode(map[string]any{"task_id": id, "cancelled": ok})
}

func (s *TaskServer) QueueStats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return encode(s.tasks.QueueStats(ctx))
}

func (s *TaskServer) WorkerStatus(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return encode(map[string]any{"workers": s.tasks.WorkerStatus(ctx)})
}

func (s *TaskServer) Cleanup(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		OlderThanDays *int `json:"older_than_days"`
	}
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	days := 7
	if req.OlderThanDays != nil {
		days = *req.OlderThanDays
	}
	n, err := s.tasks.Cleanup(ctx, days)
	if err != nil {
		return nil, common.ToStatus(err)
	}
	return encode(map[string]any{"removed": n, "older_than_days": days})
}

func (s *TaskServer) Recent(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		Limit int `json:"limit"`
	}
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	recs, err := s.tasks.Recent(ctx, req.Limit)
	if err != nil {
		return nil, common.ToStatus(err)
	}
	return encode(map[string]any{"tasks": recs})
}

func taskID(in *structpb.Struct) (string, error) {
	id := strings.TrimSpace(in.GetFields()["task_id"].GetStringValue())
	v := common.NewValidator()
	v.Field("task_id", id, common.Required, common.MaxLength(maxTaskIDLength))
	if err := common.ValidateAndReturnError(v); err != nil {
		return "", err
	}
	return id, nil
}

// decode maps a Struct onto v through its JSON form.
func decode(in *structpb.Struct, v any) error {
	raw, err := in.MarshalJSON()
	if err != nil {
		return common.InvalidArgumentErrorf("malformed request: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return common.InvalidArgumentErrorf("malformed request: %v", err)
	}
	return nil
}

// encode maps v onto a Struct through its JSON form.
func encode(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, common.InternalErrorf("encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(raw); err != nil {
		return nil, common.InternalError(fmt.Sprintf("encode response: %v", err))
	}
	return out, nil
}
