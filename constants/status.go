package constants

// TaskStatus is the canonical status stored in a task's status record.
type TaskStatus string

// Stable values (stored as these exact strings).
const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskProcessing, TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are expected from s.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// CanTransition reports whether the lifecycle allows moving from s to next.
// Completed and failed may be rewritten by another terminal state (last write
// wins); cancelled is final.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case TaskPending:
		return next == TaskProcessing || next.Terminal()
	case TaskCancelled:
		return false
	default:
		return next.Terminal()
	}
}

// TaskType distinguishes single-document jobs from batches.
type TaskType string

const (
	TaskTypeSingle  TaskType = "single"
	TaskTypeBatch   TaskType = "batch"
	TaskTypeUnknown TaskType = "unknown" // synthesized from broker bookkeeping
)

// BrokerState is the queue's own view of a job, independent of the status store.
type BrokerState string

const (
	BrokerPending BrokerState = "PENDING"
	BrokerStarted BrokerState = "STARTED"
	BrokerRetry   BrokerState = "RETRY"
	BrokerSuccess BrokerState = "SUCCESS"
	BrokerFailure BrokerState = "FAILURE"
	BrokerRevoked BrokerState = "REVOKED"
)

var brokerStateMap = map[BrokerState]TaskStatus{
	BrokerPending: TaskPending,
	BrokerStarted: TaskProcessing,
	BrokerRetry:   TaskProcessing,
	BrokerSuccess: TaskCompleted,
	BrokerFailure: TaskFailed,
	BrokerRevoked: TaskCancelled,
}

// TaskStatus maps the broker state onto the task lifecycle.
func (b BrokerState) TaskStatus() (TaskStatus, bool) {
	s, ok := brokerStateMap[b]
	return s, ok
}

// Batch outcomes reported in a batch summary.
const (
	BatchCompleted     = "completed"
	BatchPartialFailed = "partial_failed"
	BatchFailed        = "failed"
)
