package interfaces

import (
	"context"

	"github.com/SOWA-EQR/ai-document-processor/internal/models"
)

// PipelineClient is the boundary to the external document-processing
// pipeline. Implementations must return *pipeline.TransportError for
// network/protocol failures so callers can distinguish retriable faults.
type PipelineClient interface {
	// Start submits blobs for processing and returns the remote instance id.
	// When the remote endpoint reports "not found", a synthesized placeholder
	// result with Simulated=true is returned instead of an error.
	Start(ctx context.Context, blobs []models.BlobReference) (*models.StartResult, error)

	// Poll fetches the current raw status for a started instance.
	Poll(ctx context.Context, start *models.StartResult) (*models.RawStatus, error)
}

// ProgressPublisher is the fan-out side of the subscription bus as seen
// by the orchestrator: publish events to a job topic, then close it after
// the terminal event.
type ProgressPublisher interface {
	Publish(event models.ProgressEvent)
	CloseTopic(jobID string)
}
