package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/common"
	"github.com/ternarybob/pce/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db       *BadgerDB
	pipeline interfaces.PipelineStorage
	usage    interfaces.UsageStorage
	logger   arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:       db,
		pipeline: NewPipelineStorage(db, logger),
		usage:    NewUsageStorage(db, logger),
		logger:   logger,
	}

	logger.Info().Str("path", config.Path).Msg("Badger storage manager initialized")

	return manager, nil
}

// PipelineStorage returns the Pipeline storage interface
func (m *Manager) PipelineStorage() interfaces.PipelineStorage {
	return m.pipeline
}

// UsageStorage returns the Usage storage interface
func (m *Manager) UsageStorage() interfaces.UsageStorage {
	return m.usage
}

// DB returns the underlying database connection
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.Store()
	}
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
