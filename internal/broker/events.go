package broker

import (
	"context"
	"time"

	"fulfillment-service/internal/models"

	"github.com/google/uuid"
)

// Publisher emits order lifecycle events. The orchestrator treats publishing
// as best-effort: a returned error is logged by the caller, never propagated
// to the client.
type Publisher interface {
	PublishOrderCreated(ctx context.Context, order *models.Order) error
	PublishOrderStatusChanged(ctx context.Context, order *models.Order, previousStatus string) error
	PublishPaymentReconciled(ctx context.Context, order *models.Order, gatewayEventID string) error
}

// KafkaPublisher publishes lifecycle events to the order-events topic,
// keyed by order id so events for one order stay ordered.
type KafkaPublisher struct {
	producer *Producer
}

var _ Publisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(producer *Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

func orderKey(orderID string) string {
	return "order-" + orderID
}

func (p *KafkaPublisher) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	event := models.OrderCreatedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeOrderCreated),
		OrderID:       order.ID,
		CustomerEmail: order.CustomerEmail,
		Subtotal:      order.Subtotal,
		Tax:           order.Tax,
		Total:         order.Total,
		Items:         order.Items,
	}
	return p.producer.PublishEvent(ctx, orderKey(order.ID), event)
}

func (p *KafkaPublisher) PublishOrderStatusChanged(ctx context.Context, order *models.Order, previousStatus string) error {
	event := models.OrderStatusChangedEvent{
		BaseEvent:         newBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:           order.ID,
		PreviousStatus:    previousStatus,
		Status:            order.Status,
		TrackingReference: order.TrackingReference,
	}
	return p.producer.PublishEvent(ctx, orderKey(order.ID), event)
}

func (p *KafkaPublisher) PublishPaymentReconciled(ctx context.Context, order *models.Order, gatewayEventID string) error {
	event := models.PaymentReconciledEvent{
		BaseEvent:        newBaseEvent(models.EventTypePaymentReconciled),
		OrderID:          order.ID,
		PaymentStatus:    order.PaymentStatus,
		PaymentReference: order.PaymentReference,
		GatewayEventID:   gatewayEventID,
	}
	return p.producer.PublishEvent(ctx, orderKey(order.ID), event)
}
