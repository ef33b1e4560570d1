package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/common"
	"github.com/ternarybob/pce/internal/interfaces"
)

// Service implements EventService with synchronous, in-order dispatch.
// Handlers for one event run one after another in subscription order; a
// failing or panicking handler never stops the ones after it.
type Service struct {
	subscribers map[interfaces.EventType][]subscription
	mu          sync.RWMutex
	closed      bool
	logger      arbor.ILogger
}

type subscription struct {
	id      string
	handler interfaces.EventHandler
}

// NewService creates a new event service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		subscribers: make(map[interfaces.EventType][]subscription),
		logger:      logger,
	}
}

// Subscribe registers a handler for an event type and returns its subscription id
func (s *Service) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", fmt.Errorf("event service closed")
	}

	id := common.NewSubscriptionID()
	s.subscribers[eventType] = append(s.subscribers[eventType], subscription{id: id, handler: handler})

	s.logger.Debug().
		Str("event_type", string(eventType)).
		Str("subscription_id", id).
		Int("subscriber_count", len(s.subscribers[eventType])).
		Msg("Event handler subscribed")

	return id, nil
}

// Unsubscribe removes the registration with the given id
func (s *Service) Unsubscribe(eventType interfaces.EventType, subscriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subscribers[eventType]
	for i, sub := range subs {
		if sub.id != subscriptionID {
			continue
		}
		remaining := make([]subscription, 0, len(subs)-1)
		remaining = append(remaining, subs[:i]...)
		remaining = append(remaining, subs[i+1:]...)
		s.subscribers[eventType] = remaining

		s.logger.Debug().
			Str("event_type", string(eventType)).
			Str("subscription_id", subscriptionID).
			Msg("Event handler unsubscribed")
		return nil
	}

	return fmt.Errorf("subscription %s not found for event type: %s", subscriptionID, eventType)
}

// Publish sends an event to all subscribers. Handler errors are logged and swallowed.
func (s *Service) Publish(ctx context.Context, event interfaces.Event) error {
	s.dispatch(ctx, event)
	return nil
}

// PublishSync sends an event to all subscribers and returns their joined errors
func (s *Service) PublishSync(ctx context.Context, event interfaces.Event) error {
	return errors.Join(s.dispatch(ctx, event)...)
}

func (s *Service) dispatch(ctx context.Context, event interfaces.Event) []error {
	s.mu.RLock()
	subs := s.subscribers[event.Type]
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return []error{fmt.Errorf("event service closed")}
	}

	if len(subs) == 0 {
		s.logger.Debug().
			Str("event_type", string(event.Type)).
			Msg("No subscribers for event")
		return nil
	}

	s.logger.Debug().
		Str("event_type", string(event.Type)).
		Int("subscriber_count", len(subs)).
		Msg("Publishing event")

	var errs []error
	for _, sub := range subs {
		if err := s.invoke(ctx, event, sub.handler); err != nil {
			s.logger.Error().
				Err(err).
				Str("event_type", string(event.Type)).
				Str("subscription_id", sub.id).
				Msg("Event handler failed")
			errs = append(errs, err)
		}
	}
	return errs
}

func (s *Service) invoke(ctx context.Context, event interfaces.Event, handler interfaces.EventHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			common.LogPanic(s.logger, "event-handler-"+string(event.Type), r)
			err = fmt.Errorf("event handler panic: %v", r)
		}
	}()
	return handler(ctx, event)
}

// SubscriberCount returns the number of handlers registered for an event type
func (s *Service) SubscriberCount(eventType interfaces.EventType) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers[eventType])
}

// Close shuts down the event service
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers = make(map[interfaces.EventType][]subscription)
	s.closed = true
	s.logger.Info().Msg("Event service closed")

	return nil
}
