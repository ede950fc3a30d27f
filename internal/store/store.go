package store

import (
	"context"

	"fulfillment-service/internal/models"
)

// StatusUpdate carries the optional fields of an admin order update. Nil
// fields are left untouched by the store.
type StatusUpdate struct {
	Status            *string
	TrackingReference *string
	Notes             *string
}

// Store is the record store consumed by the orchestrator. Implementations
// must apply updates as single atomic per-record operations: UpdateOrderStatus
// and UpdateOrderPayment never read-modify-write on the caller's side, so
// concurrent admin updates and webhook reconciliations on the same order
// cannot lose writes.
//
// Two implementations exist: Postgres for production and Memory for tests
// and development. Callers never branch on which one is active.
type Store interface {
	// CreateOrder persists a new order and fills CreatedAt/UpdatedAt.
	CreateOrder(ctx context.Context, order *models.Order) error

	// GetOrder returns the order or a NotFoundError.
	GetOrder(ctx context.Context, id string) (*models.Order, error)

	// GetOrderByIDAndEmail returns the order only when both the id and the
	// normalized customer email match; otherwise a NotFoundError that does
	// not distinguish which field was wrong.
	GetOrderByIDAndEmail(ctx context.Context, id, email string) (*models.Order, error)

	// UpdateOrderStatus applies the non-nil fields of upd in one atomic
	// statement, refreshes updated_at, and returns the updated order along
	// with the status the order had immediately before the update.
	UpdateOrderStatus(ctx context.Context, id string, upd StatusUpdate) (*models.Order, string, error)

	// UpdateOrderPayment sets payment_status and payment_reference in one
	// atomic statement, but only while payment_status is still pending.
	// It returns the order and whether a transition actually happened;
	// changed == false means the payment was already terminal and the call
	// was a no-op.
	UpdateOrderPayment(ctx context.Context, orderID, paymentStatus, paymentRef string) (*models.Order, bool, error)

	// ListOrders returns a page of orders, newest first, optionally
	// filtered by status, plus the total count for the filter.
	ListOrders(ctx context.Context, status string, limit, offset int) ([]models.Order, int, error)

	// UpsertCustomer inserts or merges the customer profile keyed by
	// normalized email.
	UpsertCustomer(ctx context.Context, customer *models.Customer) error

	// GetCustomerByEmail returns the profile or a NotFoundError.
	GetCustomerByEmail(ctx context.Context, email string) (*models.Customer, error)

	// ListCustomers returns all customer profiles, most recently updated
	// first.
	ListCustomers(ctx context.Context) ([]models.Customer, error)

	// IsEventProcessed reports whether an event id was already consumed.
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)

	// MarkEventProcessed records an event id; marking the same id twice is
	// not an error.
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error

	Ping(ctx context.Context) error
	Close() error
}
