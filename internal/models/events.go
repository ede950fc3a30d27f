package models

import "time"

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypePaymentReconciled  = "PAYMENT_RECONCILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is placed
type OrderCreatedEvent struct {
	BaseEvent
	OrderID       string     `json:"order_id"`
	CustomerEmail string     `json:"customer_email"`
	Subtotal      int64      `json:"subtotal"`
	Tax           int64      `json:"tax"`
	Total         int64      `json:"total"`
	Items         OrderItems `json:"items"`
}

// OrderStatusChangedEvent published when an admin moves an order through
// the shipping lifecycle
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID           string `json:"order_id"`
	PreviousStatus    string `json:"previous_status"`
	Status            string `json:"status"`
	TrackingReference string `json:"tracking_reference,omitempty"`
}

// PaymentReconciledEvent published when a gateway webhook event is applied
// to an order. Emitted once per payment outcome; repeat webhook deliveries
// do not re-emit it.
type PaymentReconciledEvent struct {
	BaseEvent
	OrderID          string `json:"order_id"`
	PaymentStatus    string `json:"payment_status"`
	PaymentReference string `json:"payment_reference"`
	GatewayEventID   string `json:"gateway_event_id"`
}
