// Package badger provides the BadgerDB-backed persistence layer: stored
// processing results and uploaded document records.
package badger

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/SOWA-EQR/ai-document-processor/internal/common"
	"github.com/SOWA-EQR/ai-document-processor/internal/interfaces"
)

// Manager wires the Badger connection and the per-entity storage services
// behind the StorageManager interface.
type Manager struct {
	db        *BadgerDB
	results   interfaces.ResultStorage
	documents interfaces.DocumentStorage
	logger    arbor.ILogger
}

// NewManager opens the database and builds the storage services.
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize badger storage: %w", err)
	}

	return &Manager{
		db:        db,
		results:   NewResultStorage(db, logger),
		documents: NewDocumentStorage(db, logger),
		logger:    logger,
	}, nil
}

// ResultStorage returns the result storage service
func (m *Manager) ResultStorage() interfaces.ResultStorage {
	return m.results
}

// DocumentStorage returns the document storage service
func (m *Manager) DocumentStorage() interfaces.DocumentStorage {
	return m.documents
}

// Close closes the underlying database connection
func (m *Manager) Close() error {
	m.logger.Debug().Msg("Closing badger storage")
	return m.db.Close()
}
