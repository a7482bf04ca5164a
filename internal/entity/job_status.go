package entity

import (
	"encoding/json"
	"time"

	"github.com/joseph-ayodele/docparse/constants"
)

// JobStatus is the live status record kept for every submitted task.
type JobStatus struct {
	TaskID          string               `json:"task_id"`
	TaskType        constants.TaskType   `json:"task_type"`
	Status          constants.TaskStatus `json:"status"`
	Progress        int                  `json:"progress"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	SourceRef       string               `json:"source_ref,omitempty"`
	CategoryHint    string               `json:"category_hint,omitempty"`
	Message         string               `json:"message,omitempty"`
	Error           string               `json:"error,omitempty"`
	Result          json.RawMessage      `json:"result,omitempty"`
	DurationSeconds *float64             `json:"duration_seconds,omitempty"`
	CallbackRef     string               `json:"callback_ref,omitempty"`
	BatchID         string               `json:"batch_id,omitempty"`
	Attempt         int                  `json:"attempt,omitempty"`
}

// Terminal reports whether the record is in completed, failed or cancelled.
func (j *JobStatus) Terminal() bool {
	return j != nil && j.Status.Terminal()
}

// QueueStats aggregates task counters across all workers.
type QueueStats struct {
	PendingTasks          int64   `json:"pending_tasks"`
	ProcessingTasks       int64   `json:"processing_tasks"`
	CompletedTasks        int64   `json:"completed_tasks"`
	FailedTasks           int64   `json:"failed_tasks"`
	CancelledTasks        int64   `json:"cancelled_tasks"`
	TotalTasks            int64   `json:"total_tasks"`
	AverageProcessingTime float64 `json:"average_processing_time"`
	QueueLength           int64   `json:"queue_length"`
	InFlight              int64   `json:"in_flight"`
}

// WorkerInfo describes one connected worker as seen through its heartbeat.
type WorkerInfo struct {
	Active    int       `json:"active"`
	Scheduled int       `json:"scheduled"`
	Reserved  int       `json:"reserved"`
	Status    string    `json:"status"`
	LastSeen  time.Time `json:"last_seen"`
}

// BatchSummary is the result payload of a batch task.
type BatchSummary struct {
	BatchID        string            `json:"batch_id"`
	Status         string            `json:"status"`
	TotalFiles     int               `json:"total_files"`
	CompletedCount int               `json:"completed_count"`
	FailedCount    int               `json:"failed_count"`
	SuccessRate    float64           `json:"success_rate"`
	Results        []json.RawMessage `json:"results"`
}

// StatusPatch is a partial update of a JobStatus. Nil fields are left untouched.
type StatusPatch struct {
	Status          *constants.TaskStatus
	Progress        *int
	Message         *string
	Error           *string
	Result          json.RawMessage
	DurationSeconds *float64
	Attempt         *int
	UpdatedAt       time.Time
}

// Empty reports whether the patch changes nothing besides the timestamp.
func (p StatusPatch) Empty() bool {
	return p.Status == nil && p.Progress == nil && p.Message == nil && p.Error == nil &&
		p.Result == nil && p.DurationSeconds == nil && p.Attempt == nil
}
