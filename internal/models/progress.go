package models

import "time"

// Stage is the normalized progress stage shown to subscribers.
type Stage string

const (
	StagePending    Stage = "pending"
	StageProcessing Stage = "processing"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
	StageTimedOut   Stage = "timed_out"
	StageError      Stage = "error"
)

// IsTerminal returns true for stages that end a job's event stream.
func (s Stage) IsTerminal() bool {
	switch s {
	case StageCompleted, StageFailed, StageTimedOut, StageError:
		return true
	}
	return false
}

// ProgressEvent is one observable update for a job. Events are immutable
// and published in non-decreasing EmittedAt order per job.
type ProgressEvent struct {
	JobID      string    `json:"job_id"`
	Percentage int       `json:"percentage"`
	Stage      Stage     `json:"stage"`
	Message    string    `json:"message"`
	EmittedAt  time.Time `json:"timestamp"`
}

// NewProgressEvent creates a progress event stamped with the current time.
func NewProgressEvent(jobID string, percentage int, stage Stage, message string) ProgressEvent {
	return ProgressEvent{
		JobID:      jobID,
		Percentage: percentage,
		Stage:      stage,
		Message:    message,
		EmittedAt:  time.Now(),
	}
}
