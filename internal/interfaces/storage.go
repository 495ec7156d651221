package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/SOWA-EQR/ai-document-processor/internal/models"
)

// Not-found sentinels returned by storage lookups.
var (
	ErrResultNotFound   = errors.New("result not found")
	ErrDocumentNotFound = errors.New("document not found")
)

// ResultStorage is the append-only lookup of processing results by job id.
// SaveResult is an idempotent overwrite; GetResult returns ErrResultNotFound
// for unknown jobs.
type ResultStorage interface {
	SaveResult(ctx context.Context, result *models.ProcessingResult) error
	GetResult(ctx context.Context, jobID string) (*models.ProcessingResult, error)
	ListResults(ctx context.Context, limit int) ([]*models.ProcessingResult, error)
	DeleteResultsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// DocumentStorage persists uploaded document records.
type DocumentStorage interface {
	SaveDocument(ctx context.Context, doc *models.Document) error
	GetByID(ctx context.Context, id string) (*models.Document, error)
	FindByName(ctx context.Context, name string) (*models.Document, error)
}

// StorageManager provides access to all storage interfaces.
type StorageManager interface {
	ResultStorage() ResultStorage
	DocumentStorage() DocumentStorage
	Close() error
}
