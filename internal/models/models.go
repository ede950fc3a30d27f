package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Order statuses
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

// Payment statuses
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
)

// ValidOrderStatus reports whether s is one of the five known order statuses.
func ValidOrderStatus(s string) bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// TerminalOrderStatus reports whether s is terminal for display purposes.
// Transitions out of terminal statuses are still mechanically accepted.
func TerminalOrderStatus(s string) bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// TerminalPaymentStatus reports whether s is an absorbing payment status.
func TerminalPaymentStatus(s string) bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

// Address is a postal address, stored as a JSONB column.
type Address struct {
	Street string `json:"street"`
	City   string `json:"city"`
	State  string `json:"state"`
	Zip    string `json:"zip"`
}

// IsZero reports whether the address carries no data.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Value implements driver.Valuer.
func (a Address) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements sql.Scanner.
func (a *Address) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = Address{}
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	}
	return fmt.Errorf("cannot scan %T into Address", src)
}

// OrderItem is a single ordered line item. Prices are in cents.
type OrderItem struct {
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

// OrderItems is the ordered list of line items, stored as a JSONB column.
type OrderItems []OrderItem

// Value implements driver.Valuer.
func (it OrderItems) Value() (driver.Value, error) {
	if it == nil {
		it = OrderItems{}
	}
	return json.Marshal(it)
}

// Scan implements sql.Scanner.
func (it *OrderItems) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*it = nil
		return nil
	case []byte:
		return json.Unmarshal(v, it)
	case string:
		return json.Unmarshal([]byte(v), it)
	}
	return fmt.Errorf("cannot scan %T into OrderItems", src)
}

// Order is a customer's purchase record through its full commercial and
// shipping lifecycle. Commercial fields (Items, Subtotal, Tax, Total) are
// computed once at creation and never mutated afterwards; only lifecycle
// fields change.
type Order struct {
	ID                string     `db:"id" json:"id"`
	CustomerName      string     `db:"customer_name" json:"customer_name"`
	CustomerEmail     string     `db:"customer_email" json:"customer_email"`
	CustomerPhone     string     `db:"customer_phone" json:"customer_phone,omitempty"`
	ShippingAddress   Address    `db:"shipping_address" json:"shipping_address"`
	BillingAddress    Address    `db:"billing_address" json:"billing_address"`
	Items             OrderItems `db:"items" json:"items"`
	Subtotal          int64      `db:"subtotal" json:"subtotal"`
	Tax               int64      `db:"tax" json:"tax"`
	Total             int64      `db:"total" json:"total"`
	Status            string     `db:"status" json:"status"`
	PaymentStatus     string     `db:"payment_status" json:"payment_status"`
	PaymentReference  string     `db:"payment_reference" json:"payment_reference,omitempty"`
	TrackingReference string     `db:"tracking_reference" json:"tracking_reference,omitempty"`
	Notes             string     `db:"notes" json:"notes,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Customer is an upserted-by-email profile aggregating contact and address
// info across orders, keyed by the normalized (lower-cased) email.
type Customer struct {
	Email           string    `db:"email" json:"email"`
	Name            string    `db:"name" json:"name"`
	Phone           string    `db:"phone" json:"phone,omitempty"`
	Address         Address   `db:"address" json:"address"`
	ShippingAddress Address   `db:"shipping_address" json:"shipping_address"`
	BillingAddress  Address   `db:"billing_address" json:"billing_address"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// TrackedOrder is the restricted public view returned by order tracking.
// It exposes only what the customer already knows: no billing address and
// no payment reference.
type TrackedOrder struct {
	ID                string     `json:"id"`
	CustomerName      string     `json:"customer_name"`
	CustomerEmail     string     `json:"customer_email"`
	Items             OrderItems `json:"items"`
	Subtotal          int64      `json:"subtotal"`
	Tax               int64      `json:"tax"`
	Total             int64      `json:"total"`
	Status            string     `json:"status"`
	TrackingReference string     `json:"tracking_reference,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Tracked returns the restricted public view of the order.
func (o *Order) Tracked() *TrackedOrder {
	return &TrackedOrder{
		ID:                o.ID,
		CustomerName:      o.CustomerName,
		CustomerEmail:     o.CustomerEmail,
		Items:             o.Items,
		Subtotal:          o.Subtotal,
		Tax:               o.Tax,
		Total:             o.Total,
		Status:            o.Status,
		TrackingReference: o.TrackingReference,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}

// ProcessedEvent for idempotent event consumers.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
