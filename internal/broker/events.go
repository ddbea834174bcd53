package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes domain events to Kafka
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// Publish sends event keyed by its aggregate id
func (ep *EventPublisher) Publish(ctx context.Context, key string, event interface{}) error {
	return ep.producer.PublishEvent(ctx, key, event)
}

// NopPublisher drops events. Used when no brokers are configured.
type NopPublisher struct{}

// Publish drops the event
func (NopPublisher) Publish(context.Context, string, interface{}) error {
	return nil
}

// EventHandler routes incoming events to registered callbacks
type EventHandler struct {
	onReservationExpired func(context.Context, *models.ReservationEvent) error
	logger               *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnReservationExpired registers a handler for RESERVATION_EXPIRED events
func (eh *EventHandler) OnReservationExpired(handler func(context.Context, *models.ReservationEvent) error) {
	eh.onReservationExpired = handler
}

// HandleMessage routes messages to appropriate handlers. Events nobody
// subscribed to are acknowledged and skipped.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		eh.logger.Warn("Dropping malformed event", zap.ByteString("key", msg.Key), zap.Error(err))
		return nil
	}

	switch baseEvent.EventType {
	case models.EventTypeReservationExpired:
		if eh.onReservationExpired == nil {
			return nil
		}
		var event models.ReservationEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("failed to unmarshal %s event: %w", baseEvent.EventType, err)
		}
		eh.logger.Info("Handling event",
			zap.String("type", baseEvent.EventType),
			zap.String("event_id", baseEvent.EventID))
		return eh.onReservationExpired(ctx, &event)

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
