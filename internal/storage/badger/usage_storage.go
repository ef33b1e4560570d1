package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/models"
)

// UsageStorage implements the UsageStorage interface for Badger
type UsageStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewUsageStorage creates a new UsageStorage instance
func NewUsageStorage(db *BadgerDB, logger arbor.ILogger) interfaces.UsageStorage {
	return &UsageStorage{
		db:     db,
		logger: logger,
	}
}

// RecordUsage inserts the record. A record whose id is already stored is
// left as is, which makes redelivered events harmless.
func (s *UsageStorage) RecordUsage(ctx context.Context, record *models.UsageRecord) error {
	if record.ID == "" || record.BrandID == "" {
		return fmt.Errorf("%w: usage id and brand id are required", models.ErrInvalidRequest)
	}
	err := s.db.Store().Insert(record.ID, record)
	if errors.Is(err, badgerhold.ErrKeyExists) {
		s.logger.Debug().
			Str("usage_id", record.ID).
			Str("metric", string(record.Metric)).
			Str("pipeline_id", record.PipelineID).
			Msg("Usage already recorded")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

func (s *UsageStorage) SumUsage(ctx context.Context, brandID string, metric models.UsageMetric, since time.Time) (int, error) {
	var records []models.UsageRecord
	query := badgerhold.Where("BrandID").Eq(brandID).
		And("Metric").Eq(metric).
		And("CreatedAt").Ge(since)
	if err := s.db.Store().Find(&records, query); err != nil {
		return 0, fmt.Errorf("failed to sum usage: %w", err)
	}

	total := 0
	for _, record := range records {
		total += record.Quantity
	}
	return total, nil
}

func (s *UsageStorage) ListUsage(ctx context.Context, brandID string, since time.Time) ([]*models.UsageRecord, error) {
	var records []models.UsageRecord
	query := badgerhold.Where("BrandID").Eq(brandID).And("CreatedAt").Ge(since).SortBy("CreatedAt")
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}

	result := make([]*models.UsageRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}
