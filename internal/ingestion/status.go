// Package ingestion tracks long-running file ingestion jobs in a shared
// TTL'd store so that job progress survives restarts and can be polled from
// any connection.
package ingestion

import "time"

// StatusTTL is how long a job record stays readable after its last update.
// An expired record reads as "job not found", which watchers treat as a
// terminal outcome rather than an error.
const StatusTTL = time.Hour

// State is one label of a pipeline's state machine.
type State string

// Document pipeline states.
const (
	StateUploaded  State = "uploaded"
	StateParsing   State = "parsing"
	StateChunking  State = "chunking"
	StateEmbedding State = "embedding"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Image pipeline states. The image pipeline shares uploaded, embedding,
// completed and failed with the document pipeline.
const (
	StateValidating  State = "validating"
	StateNormalizing State = "normalizing"
	StateAnalyzing   State = "analyzing"
)

// Terminal reports whether the state ends the job.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Status is the persisted record for one ingestion job.
type Status struct {
	State    State  `json:"state"`
	Progress int    `json:"progress"`
	FileID   string `json:"file_id,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`
	Error    string `json:"error,omitempty"`
}
