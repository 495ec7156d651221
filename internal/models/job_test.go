package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobDefaults(t *testing.T) {
	job := NewJob("", "report.pdf")

	assert.NotEmpty(t, job.ID)
	assert.Contains(t, job.ID, "job_")
	assert.Equal(t, "report.pdf", job.SourceReference)
	assert.Equal(t, JobStateCreated, job.State)
	assert.Empty(t, job.RemoteInstanceID)
	assert.False(t, job.IsTerminal())
	assert.Nil(t, job.Result)
}

func TestJobLifecycleTransitions(t *testing.T) {
	job := NewJob("job_1", "report.pdf")

	job.MarkStarted("instance-42", false)
	assert.Equal(t, JobStateStarted, job.State)
	assert.Equal(t, "instance-42", job.RemoteInstanceID)
	assert.False(t, job.Simulated)

	job.MarkPolling()
	assert.Equal(t, JobStatePolling, job.State)

	result := NewProcessingResult(job.ID, JobStateCompleted, "done")
	require.True(t, job.MarkTerminal(JobStateCompleted, result))
	assert.Equal(t, JobStateCompleted, job.State)
	assert.True(t, job.IsTerminal())
	assert.Same(t, result, job.Result)
}

func TestMarkTerminalExactlyOnce(t *testing.T) {
	job := NewJob("job_1", "report.pdf")
	job.MarkStarted("instance-42", false)

	require.True(t, job.MarkTerminal(JobStateCompleted, NewProcessingResult(job.ID, JobStateCompleted, "done")))

	// Second terminal transition is refused and changes nothing
	assert.False(t, job.MarkTerminal(JobStateFailed, NewProcessingResult(job.ID, JobStateFailed, "late failure")))
	assert.Equal(t, JobStateCompleted, job.State)
	assert.Equal(t, "done", job.Result.Message)
}

func TestMarkTerminalRejectsNonTerminalState(t *testing.T) {
	job := NewJob("job_1", "report.pdf")

	assert.False(t, job.MarkTerminal(JobStatePolling, nil))
	assert.Equal(t, JobStateCreated, job.State)
}

func TestJobStateIsTerminal(t *testing.T) {
	terminal := []JobState{JobStateCompleted, JobStateFailed, JobStateTimedOut, JobStateError}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}

	live := []JobState{JobStateCreated, JobStateStarted, JobStatePolling}
	for _, s := range live {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	job := NewJob("job_1", "report.pdf")
	job.MarkStarted("instance-42", false)
	require.True(t, job.MarkTerminal(JobStateCompleted, NewProcessingResult(job.ID, JobStateCompleted, "done")))

	snap := job.Snapshot()
	snap.State = JobStateFailed
	snap.Result.Message = "mutated"

	assert.Equal(t, JobStateCompleted, job.State)
	assert.Equal(t, "done", job.Result.Message)
}

func TestNewProcessingResultSuccess(t *testing.T) {
	completed := NewProcessingResult("job_1", JobStateCompleted, "done")
	assert.True(t, completed.Success)
	assert.False(t, completed.ResolvedAt.IsZero())

	for _, state := range []JobState{JobStateFailed, JobStateTimedOut, JobStateError} {
		r := NewProcessingResult("job_1", state, "nope")
		assert.False(t, r.Success, "%s must not be a success", state)
	}
}
