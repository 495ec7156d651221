// Package pipeline drives the lifecycle of remote document-processing jobs:
// starting them against the external pipeline, polling their status on a
// bounded schedule, and resolving a final structured result exactly once.
package pipeline

import (
	"fmt"
	"time"
)

// TransportError represents a network or protocol failure talking to the
// remote pipeline. Transport errors are retriable: the poll loop skips the
// cycle and retries at the next interval until the job deadline.
type TransportError struct {
	Op         string // "start" or "poll"
	StatusCode int    // HTTP status, 0 for network-level failures
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("pipeline %s failed: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("pipeline %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RemoteNotFoundError indicates the remote pipeline endpoint is absent.
// Returned by Start only when degraded-mode simulation is disabled;
// otherwise the client synthesizes a placeholder instance instead.
type RemoteNotFoundError struct {
	Endpoint string
}

func (e *RemoteNotFoundError) Error() string {
	return fmt.Sprintf("remote pipeline not found: %s", e.Endpoint)
}

// TimeoutError indicates a job exceeded its processing deadline without
// reaching a terminal remote state. Terminal.
type TimeoutError struct {
	JobID  string
	Waited time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s timed out after %s", e.JobID, e.Waited)
}

// RemoteFailureError indicates the remote pipeline reported the job failed.
// Terminal.
type RemoteFailureError struct {
	InstanceID string
	Message    string
}

func (e *RemoteFailureError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote processing failed for instance %s: %s", e.InstanceID, e.Message)
	}
	return fmt.Sprintf("remote processing failed for instance %s", e.InstanceID)
}
