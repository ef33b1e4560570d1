package storage

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/common"
	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/storage/badger"
)

// NewStorageManager creates the Badger-backed storage manager
func NewStorageManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	if config.Storage.Badger.Path == "" {
		return nil, fmt.Errorf("storage.badger.path is required")
	}
	return badger.NewManager(logger, &config.Storage.Badger)
}
