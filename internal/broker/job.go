// Package broker is the distributed job queue: a Redis list of JSON payloads
// plus the bookkeeping workers leave behind (per-job state, revocations,
// heartbeats).
package broker

import (
	"time"

	"github.com/joseph-ayodele/docparse/constants"
)

// Document is one source document inside a job.
type Document struct {
	SourceRef    string `json:"source_ref"`
	CategoryHint string `json:"category_hint,omitempty"`
}

// Job is the queue payload. Single jobs carry SourceRef; batch jobs carry Documents.
type Job struct {
	TaskID       string             `json:"task_id"`
	TaskType     constants.TaskType `json:"task_type"`
	SourceRef    string             `json:"source_ref,omitempty"`
	CategoryHint string             `json:"category_hint,omitempty"`
	CallbackRef  string             `json:"callback_ref,omitempty"`
	BatchID      string             `json:"batch_id,omitempty"`
	Documents    []Document         `json:"documents,omitempty"`
	Attempt      int                `json:"attempt"`
	EnqueuedAt   time.Time          `json:"enqueued_at"`
	ScheduledBy  string             `json:"scheduled_by,omitempty"`
}
