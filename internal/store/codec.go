package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/joseph-ayodele/docparse/constants"
	"github.com/joseph-ayodele/docparse/internal/entity"
)

// Hash field names of a status record. Timestamps are unix milliseconds.
const (
	fieldTaskID       = "task_id"
	fieldTaskType     = "task_type"
	fieldStatus       = "status"
	fieldProgress     = "progress"
	fieldCreatedAt    = "created_at"
	fieldUpdatedAt    = "updated_at"
	fieldSourceRef    = "source_ref"
	fieldCategoryHint = "category_hint"
	fieldMessage      = "message"
	fieldError        = "error"
	fieldResult       = "result"
	fieldDuration     = "duration_seconds"
	fieldCallbackRef  = "callback_ref"
	fieldBatchID      = "batch_id"
	fieldAttempt      = "attempt"
)

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func fromMillis(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func encodeStatus(rec *entity.JobStatus) map[string]any {
	m := map[string]any{
		fieldTaskID:    rec.TaskID,
		fieldTaskType:  string(rec.TaskType),
		fieldStatus:    string(rec.Status),
		fieldProgress:  rec.Progress,
		fieldCreatedAt: millis(rec.CreatedAt),
		fieldUpdatedAt: millis(rec.UpdatedAt),
		fieldAttempt:   rec.Attempt,
	}
	optional := map[string]string{
		fieldSourceRef:    rec.SourceRef,
		fieldCategoryHint: rec.CategoryHint,
		fieldMessage:      rec.Message,
		fieldError:        rec.Error,
		fieldCallbackRef:  rec.CallbackRef,
		fieldBatchID:      rec.BatchID,
		fieldResult:       string(rec.Result),
	}
	for k, v := range optional {
		if v != "" {
			m[k] = v
		}
	}
	if rec.DurationSeconds != nil {
		m[fieldDuration] = strconv.FormatFloat(*rec.DurationSeconds, 'f', -1, 64)
	}
	return m
}

// patchArgs flattens the non-nil fields of p into field/value pairs.
func patchArgs(p entity.StatusPatch) []any {
	var args []any
	if p.Status != nil {
		args = append(args, fieldStatus, string(*p.Status))
	}
	if p.Progress != nil {
		args = append(args, fieldProgress, strconv.Itoa(*p.Progress))
	}
	if p.Message != nil {
		args = append(args, fieldMessage, *p.Message)
	}
	if p.Error != nil {
		args = append(args, fieldError, *p.Error)
	}
	if p.Result != nil {
		args = append(args, fieldResult, string(p.Result))
	}
	if p.DurationSeconds != nil {
		args = append(args, fieldDuration, strconv.FormatFloat(*p.DurationSeconds, 'f', -1, 64))
	}
	if p.Attempt != nil {
		args = append(args, fieldAttempt, strconv.Itoa(*p.Attempt))
	}
	return args
}

func decodeStatus(m map[string]string) (*entity.JobStatus, error) {
	rec := &entity.JobStatus{
		TaskID:       m[fieldTaskID],
		TaskType:     constants.TaskType(m[fieldTaskType]),
		Status:       constants.TaskStatus(m[fieldStatus]),
		SourceRef:    m[fieldSourceRef],
		CategoryHint: m[fieldCategoryHint],
		Message:      m[fieldMessage],
		Error:        m[fieldError],
		CallbackRef:  m[fieldCallbackRef],
		BatchID:      m[fieldBatchID],
	}
	var err error
	if rec.CreatedAt, err = fromMillis(m[fieldCreatedAt]); err != nil {
		return nil, fmt.Errorf("decode %s: %w", fieldCreatedAt, err)
	}
	if rec.UpdatedAt, err = fromMillis(m[fieldUpdatedAt]); err != nil {
		return nil, fmt.Errorf("decode %s: %w", fieldUpdatedAt, err)
	}
	if v := m[fieldProgress]; v != "" {
		if rec.Progress, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", fieldProgress, err)
		}
	}
	if v := m[fieldAttempt]; v != "" {
		if rec.Attempt, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", fieldAttempt, err)
		}
	}
	if v := m[fieldDuration]; v != "" {
		d, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", fieldDuration, err)
		}
		rec.DurationSeconds = &d
	}
	if v := m[fieldResult]; v != "" {
		if !json.Valid([]byte(v)) {
			return nil, fmt.Errorf("decode %s: invalid json", fieldResult)
		}
		rec.Result = json.RawMessage(v)
	}
	return rec, nil
}

// pairsToMap converts a flat HGETALL reply into a map.
func pairsToMap(vals []any) map[string]string {
	m := make(map[string]string, len(vals)/2)
	for i := 0; i+1 < len(vals); i += 2 {
		k, _ := vals[i].(string)
		v, _ := vals[i+1].(string)
		m[k] = v
	}
	return m
}
