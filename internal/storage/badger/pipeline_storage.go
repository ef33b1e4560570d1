package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/models"
)

// OrderClaim reserves an order id for exactly one pipeline. It is keyed by
// order id so concurrent creates for the same order collide on one key.
type OrderClaim struct {
	OrderID    string
	PipelineID string
	CreatedAt  time.Time
}

// PipelineStorage implements the PipelineStorage interface for Badger
type PipelineStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewPipelineStorage creates a new PipelineStorage instance
func NewPipelineStorage(db *BadgerDB, logger arbor.ILogger) interfaces.PipelineStorage {
	return &PipelineStorage{
		db:     db,
		logger: logger,
	}
}

func (s *PipelineStorage) CreatePipeline(ctx context.Context, pipeline *models.Pipeline) error {
	if pipeline.ID == "" || pipeline.OrderID == "" {
		return fmt.Errorf("%w: pipeline id and order id are required", models.ErrInvalidRequest)
	}

	store := s.db.Store()
	err := store.Badger().Update(func(txn *badger.Txn) error {
		claim := &OrderClaim{OrderID: pipeline.OrderID, PipelineID: pipeline.ID, CreatedAt: pipeline.CreatedAt}
		if err := store.TxInsert(txn, pipeline.OrderID, claim); err != nil {
			return err
		}
		return store.TxInsert(txn, pipeline.ID, pipeline)
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, badgerhold.ErrKeyExists), errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("%w: order %s", models.ErrDuplicatePipeline, pipeline.OrderID)
	default:
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
}

func (s *PipelineStorage) GetPipeline(ctx context.Context, id string) (*models.Pipeline, error) {
	var pipeline models.Pipeline
	if err := s.db.Store().Get(id, &pipeline); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", models.ErrPipelineNotFound, id)
		}
		return nil, fmt.Errorf("failed to get pipeline: %w", err)
	}
	return &pipeline, nil
}

func (s *PipelineStorage) GetPipelineByOrder(ctx context.Context, orderID string) (*models.Pipeline, error) {
	var claim OrderClaim
	if err := s.db.Store().Get(orderID, &claim); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: order %s", models.ErrPipelineNotFound, orderID)
		}
		return nil, fmt.Errorf("failed to get order claim: %w", err)
	}
	return s.GetPipeline(ctx, claim.PipelineID)
}

func (s *PipelineStorage) UpdatePipeline(ctx context.Context, pipeline *models.Pipeline) error {
	store := s.db.Store()

	next := *pipeline
	next.Version = pipeline.Version + 1
	next.UpdatedAt = time.Now().UTC()

	err := store.Badger().Update(func(txn *badger.Txn) error {
		var current models.Pipeline
		if err := store.TxGet(txn, pipeline.ID, &current); err != nil {
			return err
		}
		if current.Version != pipeline.Version {
			return fmt.Errorf("%w: stored %d, have %d", models.ErrVersionConflict, current.Version, pipeline.Version)
		}
		return store.TxUpdate(txn, pipeline.ID, &next)
	})

	switch {
	case err == nil:
		*pipeline = next
		return nil
	case err == badgerhold.ErrNotFound:
		return fmt.Errorf("%w: %s", models.ErrPipelineNotFound, pipeline.ID)
	case errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("%w: %s", models.ErrVersionConflict, pipeline.ID)
	case errors.Is(err, models.ErrVersionConflict):
		return err
	default:
		return fmt.Errorf("failed to update pipeline: %w", err)
	}
}

func (s *PipelineStorage) ListPipelines(ctx context.Context, filter models.PipelineFilter) ([]*models.Pipeline, error) {
	query := badgerhold.Where("ID").Ne("")
	if filter.BrandID != "" {
		query = query.And("BrandID").Eq(filter.BrandID)
	}
	if filter.Status != "" {
		query = query.And("Status").Eq(filter.Status)
	}
	query = query.SortBy("CreatedAt")
	if filter.Offset > 0 {
		query = query.Skip(filter.Offset)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var pipelines []models.Pipeline
	if err := s.db.Store().Find(&pipelines, query); err != nil {
		return nil, fmt.Errorf("failed to list pipelines: %w", err)
	}

	result := make([]*models.Pipeline, len(pipelines))
	for i := range pipelines {
		result[i] = &pipelines[i]
	}
	return result, nil
}

func (s *PipelineStorage) CountPipelines(ctx context.Context, brandID string, status models.PipelineStatus) (int, error) {
	query := badgerhold.Where("ID").Ne("")
	if brandID != "" {
		query = query.And("BrandID").Eq(brandID)
	}
	if status != "" {
		query = query.And("Status").Eq(status)
	}
	count, err := s.db.Store().Count(&models.Pipeline{}, query)
	if err != nil {
		return 0, fmt.Errorf("failed to count pipelines: %w", err)
	}
	return int(count), nil
}

func (s *PipelineStorage) CountPipelinesCreatedSince(ctx context.Context, brandID string, since time.Time) (int, error) {
	query := badgerhold.Where("BrandID").Eq(brandID).And("CreatedAt").Ge(since)
	count, err := s.db.Store().Count(&models.Pipeline{}, query)
	if err != nil {
		return 0, fmt.Errorf("failed to count pipelines: %w", err)
	}
	return int(count), nil
}

func (s *PipelineStorage) AppendTransition(ctx context.Context, transition *models.PipelineTransition) error {
	if err := s.db.Store().Insert(transition.ID, transition); err != nil {
		return fmt.Errorf("failed to append transition: %w", err)
	}
	return nil
}

func (s *PipelineStorage) ListTransitions(ctx context.Context, pipelineID string) ([]*models.PipelineTransition, error) {
	var transitions []models.PipelineTransition
	query := badgerhold.Where("PipelineID").Eq(pipelineID).SortBy("CreatedAt")
	if err := s.db.Store().Find(&transitions, query); err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}

	result := make([]*models.PipelineTransition, len(transitions))
	for i := range transitions {
		result[i] = &transitions[i]
	}
	return result, nil
}

func (s *PipelineStorage) SaveError(ctx context.Context, pipelineErr *models.PipelineError) error {
	if pipelineErr.ID == "" {
		return fmt.Errorf("%w: error id is required", models.ErrInvalidRequest)
	}
	if err := s.db.Store().Upsert(pipelineErr.ID, pipelineErr); err != nil {
		return fmt.Errorf("failed to save pipeline error: %w", err)
	}
	return nil
}

func (s *PipelineStorage) GetError(ctx context.Context, id string) (*models.PipelineError, error) {
	var pipelineErr models.PipelineError
	if err := s.db.Store().Get(id, &pipelineErr); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: pipeline error %s", models.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get pipeline error: %w", err)
	}
	return &pipelineErr, nil
}

func (s *PipelineStorage) ListErrors(ctx context.Context, pipelineID string) ([]*models.PipelineError, error) {
	var errs []models.PipelineError
	query := badgerhold.Where("PipelineID").Eq(pipelineID).SortBy("CreatedAt")
	if err := s.db.Store().Find(&errs, query); err != nil {
		return nil, fmt.Errorf("failed to list pipeline errors: %w", err)
	}

	result := make([]*models.PipelineError, len(errs))
	for i := range errs {
		result[i] = &errs[i]
	}
	return result, nil
}

// ListUnresolvedErrors returns unresolved errors oldest first. An empty brandID spans all tenants.
func (s *PipelineStorage) ListUnresolvedErrors(ctx context.Context, brandID string) ([]*models.PipelineError, error) {
	query := badgerhold.Where("ID").Ne("")
	if brandID != "" {
		query = query.And("BrandID").Eq(brandID)
	}

	var errs []models.PipelineError
	if err := s.db.Store().Find(&errs, query.SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list unresolved errors: %w", err)
	}

	result := make([]*models.PipelineError, 0, len(errs))
	for i := range errs {
		if errs[i].ResolvedAt == nil {
			result = append(result, &errs[i])
		}
	}
	return result, nil
}
