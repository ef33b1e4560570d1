package listeners

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/models"
)

// SyncListener feeds orders imported by an e-commerce sync into the engine
type SyncListener struct {
	orders interfaces.PCEService
	logger arbor.ILogger
}

func NewSyncListener(orders interfaces.PCEService, logger arbor.ILogger) *SyncListener {
	return &SyncListener{
		orders: orders,
		logger: logger,
	}
}

func (l *SyncListener) EventTypes() []interfaces.EventType {
	return []interfaces.EventType{
		interfaces.EventSyncStarted,
		interfaces.EventSyncCompleted,
		interfaces.EventSyncFailed,
	}
}

func (l *SyncListener) Handle(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(*models.SyncEvent)
	if !ok {
		return fmt.Errorf("sync listener: unexpected payload %T for %s", event.Payload, event.Type)
	}

	switch event.Type {
	case interfaces.EventSyncStarted:
		l.logger.Info().Str("connection_id", payload.ConnectionID).Str("type", payload.Type).Msg("Sync started")
		return nil
	case interfaces.EventSyncFailed:
		l.logger.Warn().Str("connection_id", payload.ConnectionID).Str("type", payload.Type).Str("error", payload.Error).Msg("Sync failed")
		return nil
	}

	if payload.Type != models.JobTypeSyncOrders && payload.Type != models.JobTypeSyncFull {
		return nil
	}

	var errs []error
	admitted := 0
	for _, orderID := range payload.OrderIDs {
		_, err := l.orders.ProcessOrder(ctx, interfaces.ProcessOrderRequest{
			OrderID: orderID,
			BrandID: payload.BrandID,
			Options: interfaces.ProcessOrderOptions{Source: "sync:" + payload.ConnectionID},
		})
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, models.ErrDuplicatePipeline):
			// Re-synced orders already have a pipeline
		default:
			l.logger.Warn().Err(err).Str("order_id", orderID).Str("brand_id", payload.BrandID).Msg("Synced order not admitted")
			errs = append(errs, fmt.Errorf("order %s: %w", orderID, err))
		}
	}

	l.logger.Info().
		Str("connection_id", payload.ConnectionID).
		Int("orders", len(payload.OrderIDs)).
		Int("admitted", admitted).
		Msg("Synced orders processed")
	return errors.Join(errs...)
}
