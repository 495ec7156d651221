// -----------------------------------------------------------------------
// Remote pipeline wire types - request/response shapes at the HTTP boundary
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"time"
)

// Raw runtime states reported by the remote pipeline.
const (
	RawStatePending   = "Pending"
	RawStateRunning   = "Running"
	RawStateCompleted = "Completed"
	RawStateFailed    = "Failed"
)

// BlobReference identifies one input blob submitted to the remote pipeline.
type BlobReference struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	Container string `json:"container"`
}

// StartResult is the outcome of starting a remote job. When the remote
// pipeline is absent, Simulated is true and InstanceID is locally
// synthesized; such a job completes on a timer without ever being polled.
type StartResult struct {
	InstanceID     string `json:"instance_id"`
	StatusQueryURI string `json:"status_query_uri,omitempty"`
	Simulated      bool   `json:"simulated,omitempty"`
}

// RawStatus is one status snapshot from the remote pipeline.
type RawStatus struct {
	RuntimeStatus   string          `json:"runtimeStatus"`
	Output          json.RawMessage `json:"output,omitempty"`
	CreatedTime     time.Time       `json:"createdTime"`
	LastUpdatedTime time.Time       `json:"lastUpdatedTime"`
}

// IsTerminal returns true when the raw status ends the poll loop.
func (s *RawStatus) IsTerminal() bool {
	return s.RuntimeStatus == RawStateCompleted || s.RuntimeStatus == RawStateFailed
}
