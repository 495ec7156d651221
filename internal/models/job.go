// -----------------------------------------------------------------------
// Processing Job - Lifecycle state for one remote document-processing job
// -----------------------------------------------------------------------

package models

import (
	"time"

	"github.com/google/uuid"
)

// JobState represents the lifecycle state of a processing job.
type JobState string

const (
	JobStateCreated   JobState = "created"
	JobStateStarted   JobState = "started"
	JobStatePolling   JobState = "polling"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateTimedOut  JobState = "timed_out"
	JobStateError     JobState = "error"
)

// IsTerminal returns true if the state has no outgoing transitions.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateTimedOut, JobStateError:
		return true
	}
	return false
}

// Job tracks one document submitted for remote asynchronous processing.
// Mutated only by the orchestrator that owns it; callers read snapshots.
type Job struct {
	ID               string    `json:"id"`
	SourceReference  string    `json:"source_reference"`             // Input artifact identifier (storage blob name)
	RemoteInstanceID string    `json:"remote_instance_id,omitempty"` // Assigned by the remote pipeline once started
	Simulated        bool      `json:"simulated,omitempty"`          // Degraded mode: remote pipeline absent, completion simulated
	State            JobState  `json:"state"`
	CreatedAt        time.Time `json:"created_at"`
	LastUpdatedAt    time.Time `json:"last_updated_at"`

	// Result is set exactly once, when the job reaches a terminal state.
	Result *ProcessingResult `json:"result,omitempty"`
}

// NewJob creates a job in the Created state. An empty id generates one.
func NewJob(id, sourceReference string) *Job {
	if id == "" {
		id = NewJobID()
	}
	now := time.Now()
	return &Job{
		ID:              id,
		SourceReference: sourceReference,
		State:           JobStateCreated,
		CreatedAt:       now,
		LastUpdatedAt:   now,
	}
}

// NewJobID generates a unique job ID with the "job_" prefix.
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// MarkStarted records the remote instance id and transitions Created -> Started.
func (j *Job) MarkStarted(remoteInstanceID string, simulated bool) {
	j.RemoteInstanceID = remoteInstanceID
	j.Simulated = simulated
	j.State = JobStateStarted
	j.LastUpdatedAt = time.Now()
}

// MarkPolling transitions Started -> Polling.
func (j *Job) MarkPolling() {
	j.State = JobStatePolling
	j.LastUpdatedAt = time.Now()
}

// Touch advances the last-updated timestamp without changing state.
// Called once per successful poll cycle.
func (j *Job) Touch() {
	j.LastUpdatedAt = time.Now()
}

// MarkTerminal moves the job into a terminal state and attaches the result.
// Returns false if the job is already terminal; the caller must treat that
// as a contract violation and publish nothing.
func (j *Job) MarkTerminal(state JobState, result *ProcessingResult) bool {
	if j.State.IsTerminal() {
		return false
	}
	if !state.IsTerminal() {
		return false
	}
	j.State = state
	j.Result = result
	j.LastUpdatedAt = time.Now()
	return true
}

// IsTerminal returns true if the job has reached a terminal state.
func (j *Job) IsTerminal() bool {
	return j.State.IsTerminal()
}

// Snapshot returns a copy of the job safe to hand to concurrent readers.
func (j *Job) Snapshot() Job {
	cp := *j
	if j.Result != nil {
		r := *j.Result
		cp.Result = &r
	}
	return cp
}
