package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/SOWA-EQR/ai-document-processor/internal/interfaces"
	"github.com/SOWA-EQR/ai-document-processor/internal/models"
)

// ResultStorage implements the ResultStorage interface for Badger
type ResultStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewResultStorage creates a new ResultStorage instance
func NewResultStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ResultStorage {
	return &ResultStorage{
		db:     db,
		logger: logger,
	}
}

// SaveResult upserts a processing result keyed by job id. Saving the same
// job id twice overwrites, which keeps terminal resolution idempotent at
// the storage layer.
func (s *ResultStorage) SaveResult(ctx context.Context, result *models.ProcessingResult) error {
	if result.JobID == "" {
		return fmt.Errorf("result job ID is required")
	}
	if result.ResolvedAt.IsZero() {
		result.ResolvedAt = time.Now()
	}

	if err := s.db.Store().Upsert(result.JobID, result); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

// GetResult returns the stored result for a job, or ErrResultNotFound.
func (s *ResultStorage) GetResult(ctx context.Context, jobID string) (*models.ProcessingResult, error) {
	var result models.ProcessingResult
	if err := s.db.Store().Get(jobID, &result); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrResultNotFound
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return &result, nil
}

// ListResults returns stored results, newest first, up to limit (0 for all).
func (s *ResultStorage) ListResults(ctx context.Context, limit int) ([]*models.ProcessingResult, error) {
	query := badgerhold.Where("JobID").Ne("").SortBy("ResolvedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var results []models.ProcessingResult
	if err := s.db.Store().Find(&results, query); err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	out := make([]*models.ProcessingResult, len(results))
	for i := range results {
		out[i] = &results[i]
	}
	return out, nil
}

// DeleteResultsBefore removes results resolved before the cutoff and returns
// the number deleted. Used by the retention sweep.
func (s *ResultStorage) DeleteResultsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := badgerhold.Where("ResolvedAt").Lt(cutoff)

	count, err := s.db.Store().Count(&models.ProcessingResult{}, query)
	if err != nil {
		return 0, fmt.Errorf("failed to count expired results: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	if err := s.db.Store().DeleteMatching(&models.ProcessingResult{}, query); err != nil {
		return 0, fmt.Errorf("failed to delete expired results: %w", err)
	}

	s.logger.Debug().
		Int("deleted", int(count)).
		Str("cutoff", cutoff.Format(time.RFC3339)).
		Msg("Expired results removed")

	return int(count), nil
}
