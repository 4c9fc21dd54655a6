package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"shop-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderCompleted publishes OrderCompleted event
func (ep *EventPublisher) PublishOrderCompleted(ctx context.Context, event *models.OrderCompletedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishDepositCompleted publishes DepositCompleted event
func (ep *EventPublisher) PublishDepositCompleted(ctx context.Context, event *models.DepositCompletedEvent) error {
	key := fmt.Sprintf("deposit-%d", event.DepositID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishDepositExpired publishes DepositExpired event
func (ep *EventPublisher) PublishDepositExpired(ctx context.Context, event *models.DepositExpiredEvent) error {
	key := fmt.Sprintf("deposit-%d", event.DepositID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler routes inbound payment-gateway events.
type EventHandler struct {
	onPaymentConfirmed func(context.Context, *models.PaymentConfirmedEvent) error
	onPaymentFailed    func(context.Context, *models.PaymentFailedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnPaymentConfirmed registers a handler for PaymentConfirmed events
func (eh *EventHandler) OnPaymentConfirmed(handler func(context.Context, *models.PaymentConfirmedEvent) error) {
	eh.onPaymentConfirmed = handler
}

// OnPaymentFailed registers a handler for PaymentFailed events
func (eh *EventHandler) OnPaymentFailed(handler func(context.Context, *models.PaymentFailedEvent) error) {
	eh.onPaymentFailed = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypePaymentConfirmed:
		if eh.onPaymentConfirmed != nil {
			var event models.PaymentConfirmedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentConfirmed event: %w", err)
			}
			return eh.onPaymentConfirmed(ctx, &event)
		}

	case models.EventTypePaymentFailed:
		if eh.onPaymentFailed != nil {
			var event models.PaymentFailedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentFailed event: %w", err)
			}
			return eh.onPaymentFailed(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
