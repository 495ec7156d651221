package pipeline

import (
	"time"

	"github.com/SOWA-EQR/ai-document-processor/internal/models"
)

// Progress messages shown to subscribers.
const (
	msgPipelineStarting = "Pipeline starting..."
	msgProcessing       = "Extraction/processing in progress..."
	msgCompleted        = "Completed successfully"
	msgFailed           = "Processing failed"
	msgDefault          = "Processing document..."
)

// MapStatus maps a raw remote runtime state onto the normalized progress
// model. Unknown states map to a generic in-progress update.
func MapStatus(rawState string) (percentage int, stage models.Stage, message string) {
	switch rawState {
	case models.RawStatePending:
		return 10, models.StagePending, msgPipelineStarting
	case models.RawStateRunning:
		return 30, models.StageProcessing, msgProcessing
	case models.RawStateCompleted:
		return 100, models.StageCompleted, msgCompleted
	case models.RawStateFailed:
		return 0, models.StageFailed, msgFailed
	default:
		return 20, models.StageProcessing, msgDefault
	}
}

// ElapsedPercentage computes the elapsed-time fallback percentage used while
// the remote job is running without a richer progress signal. Monotonically
// increasing with wall-clock time and capped at 90 so only a genuine
// terminal state reaches 100.
func ElapsedPercentage(elapsed, timeout time.Duration) int {
	if timeout <= 0 {
		return 20
	}
	if elapsed < 0 {
		elapsed = 0
	}
	pct := 20 + int(70*elapsed/timeout)
	if pct > 90 {
		return 90
	}
	return pct
}
