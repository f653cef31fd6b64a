package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// QueueItem describes a queue entry in a transport-friendly format.
type QueueItem struct {
	ID           int64             `json:"id"`
	TargetID     string            `json:"target_id"`
	TargetType   string            `json:"target_type"`
	Action       string            `json:"action"`
	Priority     int               `json:"priority"`
	Status       string            `json:"status"`
	Attempts     int               `json:"attempts"`
	MaxAttempts  int               `json:"max_attempts"`
	Payload      map[string]string `json:"payload,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    string            `json:"created_at,omitempty"`
	QueuedAt     string            `json:"queued_at,omitempty"`
	StartedAt    string            `json:"started_at,omitempty"`
	CompletedAt  string            `json:"completed_at,omitempty"`
	UpdatedAt    string            `json:"updated_at,omitempty"`
}

// TickSummary is the last tick's counters.
type TickSummary struct {
	StartedAt       string `json:"started_at"`
	DurationMS      int64  `json:"duration_ms"`
	Skipped         bool   `json:"skipped"`
	Selected        int    `json:"selected"`
	Processed       int    `json:"processed"`
	Completed       int    `json:"completed"`
	Requeued        int    `json:"requeued"`
	Failed          int    `json:"failed"`
	Unrecorded      int    `json:"unrecorded"`
	BudgetExhausted bool   `json:"budget_exhausted"`
}

// WorkflowStatus summarizes queue processing state.
type WorkflowStatus struct {
	QueueStats  map[string]int `json:"queue_stats"`
	Total       int            `json:"total"`
	LastTick    *TickSummary   `json:"last_tick,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
	LastErrorAt string         `json:"last_error_at,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	QueueDBPath  string         `json:"queue_db_path"`
	LockFilePath string         `json:"lock_file_path"`
	StoreBackend string         `json:"store_backend"`
	ActiveLocks  int            `json:"active_locks"`
	Workflow     WorkflowStatus `json:"workflow"`
}

// QueueListResponse wraps a collection of queue items for API responses.
type QueueListResponse struct {
	Items []QueueItem `json:"items"`
}

// EnqueueRequest is the body of POST /api/queue.
type EnqueueRequest struct {
	TargetID      string            `json:"target_id"`
	TargetType    string            `json:"target_type,omitempty"`
	Action        string            `json:"action"`
	Priority      int               `json:"priority,omitempty"`
	MaxAttempts   int               `json:"max_attempts,omitempty"`
	Payload       map[string]string `json:"payload,omitempty"`
	RaisePriority bool              `json:"raise_priority,omitempty"`
}

// EnqueueResponse reports the item an enqueue resolved to.
type EnqueueResponse struct {
	Item    QueueItem `json:"item"`
	Created bool      `json:"created"`
}

// BulkEnqueueRequest is the body of POST /api/queue/bulk.
type BulkEnqueueRequest struct {
	Items []EnqueueRequest `json:"items"`
}

// RejectedRequest describes a bulk entry that failed validation.
type RejectedRequest struct {
	Index    int    `json:"index"`
	TargetID string `json:"target_id"`
	Error    string `json:"error"`
}

// BulkEnqueueResponse summarizes a bulk enqueue.
type BulkEnqueueResponse struct {
	Created      int               `json:"created"`
	Deduplicated int               `json:"deduplicated"`
	Rejected     []RejectedRequest `json:"rejected,omitempty"`
	Items        []QueueItem       `json:"items"`
}

// RetryRequest optionally limits retry-failed to specific item ids.
type RetryRequest struct {
	IDs []int64 `json:"ids,omitempty"`
}

// ClearRequest optionally limits clear to specific statuses.
type ClearRequest struct {
	Statuses []string `json:"statuses,omitempty"`
}

// CountResponse reports how many rows or records an operator action touched.
type CountResponse struct {
	Count int64 `json:"count"`
}

// StartBatchRequest is the body of POST /api/batches.
type StartBatchRequest struct {
	Items     []string `json:"items"`
	Operation string   `json:"operation"`
	ChunkSize int      `json:"chunk_size,omitempty"`
}

// StartBatchResponse returns the new batch id.
type StartBatchResponse struct {
	BatchID string `json:"batch_id"`
}

// LockInfo describes a held lock.
type LockInfo struct {
	ResourceID string `json:"resource_id"`
	Holder     string `json:"holder"`
	AcquiredAt string `json:"acquired_at"`
	ExpiresAt  string `json:"expires_at"`
}

// LockListResponse wraps the held locks.
type LockListResponse struct {
	Locks []LockInfo `json:"locks"`
}

// ErrorResponse is returned for every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
