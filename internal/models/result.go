package models

import (
	"encoding/json"
	"time"
)

// ProcessingResult is the final structured outcome of a job, written to the
// result store exactly once when the job reaches a terminal state.
type ProcessingResult struct {
	JobID      string          `json:"job_id" badgerhold:"key"`
	State      JobState        `json:"state"`
	Success    bool            `json:"success"`
	Message    string          `json:"message"`              // Human-readable outcome or error text
	Output     json.RawMessage `json:"output,omitempty"`     // Inline output from the remote pipeline, if any
	DocumentID string          `json:"document_id,omitempty"` // Persisted document attached at completion
	Simulated  bool            `json:"simulated,omitempty"`
	ResolvedAt time.Time       `json:"resolved_at"`
}

// NewProcessingResult creates a terminal result stamped with the current time.
func NewProcessingResult(jobID string, state JobState, message string) *ProcessingResult {
	return &ProcessingResult{
		JobID:      jobID,
		State:      state,
		Success:    state == JobStateCompleted,
		Message:    message,
		ResolvedAt: time.Now(),
	}
}
