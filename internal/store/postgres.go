package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/internal/errs"
	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Postgres is the durable Store backed by PostgreSQL.
type Postgres struct {
	db *sqlx.DB
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects to the database and configures the pool.
func NewPostgres(databaseURL string) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{db: db}, nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Postgres) Close() error {
	return s.db.Close()
}

const orderColumns = `id, customer_name, customer_email, customer_phone,
	shipping_address, billing_address, items, subtotal, tax, total,
	status, payment_status, payment_reference, tracking_reference, notes,
	created_at, updated_at`

// CreateOrder persists a new order. Commercial fields are written once here
// and never touched by any update statement.
func (s *Postgres) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (
			id, customer_name, customer_email, customer_phone,
			shipping_address, billing_address, items,
			subtotal, tax, total, status, payment_status,
			payment_reference, tracking_reference, notes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at`

	row := s.db.QueryRowxContext(ctx, query,
		order.ID, order.CustomerName, order.CustomerEmail, order.CustomerPhone,
		order.ShippingAddress, order.BillingAddress, order.Items,
		order.Subtotal, order.Tax, order.Total, order.Status, order.PaymentStatus,
		order.PaymentReference, order.TrackingReference, order.Notes)

	if err := row.Scan(&order.CreatedAt, &order.UpdatedAt); err != nil {
		return errs.NewStorageError("create order", err)
	}
	return nil
}

func (s *Postgres) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		fmt.Sprintf("SELECT %s FROM orders WHERE id = $1", orderColumns), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NewNotFoundError("order", id)
	}
	if err != nil {
		return nil, errs.NewStorageError("get order", err)
	}
	return &order, nil
}

func (s *Postgres) GetOrderByIDAndEmail(ctx context.Context, id, email string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		fmt.Sprintf("SELECT %s FROM orders WHERE id = $1 AND customer_email = $2", orderColumns),
		id, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NewNotFoundError("order", id)
	}
	if err != nil {
		return nil, errs.NewStorageError("get order by id and email", err)
	}
	return &order, nil
}

type orderWithPrev struct {
	models.Order
	PrevStatus string `db:"prev_status"`
}

// UpdateOrderStatus applies the update in a single statement. The CTE locks
// the row and captures the pre-update status so the caller can detect
// edge-triggered transitions without a separate read.
func (s *Postgres) UpdateOrderStatus(ctx context.Context, id string, upd StatusUpdate) (*models.Order, string, error) {
	query := fmt.Sprintf(`
		WITH prev AS (
			SELECT status FROM orders WHERE id = $1 FOR UPDATE
		)
		UPDATE orders o SET
			status = COALESCE($2, o.status),
			tracking_reference = COALESCE($3, o.tracking_reference),
			notes = COALESCE($4, o.notes),
			updated_at = NOW()
		FROM prev
		WHERE o.id = $1
		RETURNING %s, prev.status AS prev_status`,
		qualified("o", orderColumns))

	var row orderWithPrev
	err := s.db.GetContext(ctx, &row, query, id, upd.Status, upd.TrackingReference, upd.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", errs.NewNotFoundError("order", id)
	}
	if err != nil {
		return nil, "", errs.NewStorageError("update order status", err)
	}
	return &row.Order, row.PrevStatus, nil
}

// UpdateOrderPayment performs the conditional payment transition. The
// WHERE guard on payment_status = 'pending' is what makes the webhook
// handler idempotent under at-least-once delivery: once the payment is
// terminal the statement matches no rows and the call reports changed=false.
func (s *Postgres) UpdateOrderPayment(ctx context.Context, orderID, paymentStatus, paymentRef string) (*models.Order, bool, error) {
	query := fmt.Sprintf(`
		UPDATE orders SET
			payment_status = $2,
			payment_reference = $3,
			updated_at = NOW()
		WHERE id = $1 AND payment_status = $4
		RETURNING %s`, orderColumns)

	var order models.Order
	err := s.db.GetContext(ctx, &order, query, orderID, paymentStatus, paymentRef, models.PaymentStatusPending)
	if err == nil {
		return &order, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, errs.NewStorageError("update order payment", err)
	}

	// No pending row matched: either the order does not exist or the
	// payment is already terminal.
	existing, getErr := s.GetOrder(ctx, orderID)
	if getErr != nil {
		return nil, false, getErr
	}
	return existing, false, nil
}

func (s *Postgres) ListOrders(ctx context.Context, status string, limit, offset int) ([]models.Order, int, error) {
	var (
		orders []models.Order
		total  int
		err    error
	)

	if status != "" {
		err = s.db.SelectContext(ctx, &orders,
			fmt.Sprintf(`SELECT %s FROM orders WHERE status = $1
				ORDER BY created_at DESC LIMIT $2 OFFSET $3`, orderColumns),
			status, limit, offset)
		if err == nil {
			err = s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM orders WHERE status = $1", status)
		}
	} else {
		err = s.db.SelectContext(ctx, &orders,
			fmt.Sprintf(`SELECT %s FROM orders
				ORDER BY created_at DESC LIMIT $1 OFFSET $2`, orderColumns),
			limit, offset)
		if err == nil {
			err = s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM orders")
		}
	}
	if err != nil {
		return nil, 0, errs.NewStorageError("list orders", err)
	}
	return orders, total, nil
}

// UpsertCustomer merges the profile on the normalized email key. Empty
// incoming addresses do not clobber previously stored ones.
func (s *Postgres) UpsertCustomer(ctx context.Context, customer *models.Customer) error {
	query := `
		INSERT INTO customers (email, name, phone, address, shipping_address, billing_address)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (email) DO UPDATE SET
			name = EXCLUDED.name,
			phone = CASE WHEN EXCLUDED.phone <> '' THEN EXCLUDED.phone ELSE customers.phone END,
			address = CASE WHEN EXCLUDED.address <> '{}'::jsonb THEN EXCLUDED.address ELSE customers.address END,
			shipping_address = CASE WHEN EXCLUDED.shipping_address <> '{}'::jsonb THEN EXCLUDED.shipping_address ELSE customers.shipping_address END,
			billing_address = CASE WHEN EXCLUDED.billing_address <> '{}'::jsonb THEN EXCLUDED.billing_address ELSE customers.billing_address END,
			updated_at = NOW()
		RETURNING created_at, updated_at`

	row := s.db.QueryRowxContext(ctx, query,
		customer.Email, customer.Name, customer.Phone,
		customer.Address, customer.ShippingAddress, customer.BillingAddress)

	if err := row.Scan(&customer.CreatedAt, &customer.UpdatedAt); err != nil {
		return errs.NewStorageError("upsert customer", err)
	}
	return nil
}

func (s *Postgres) GetCustomerByEmail(ctx context.Context, email string) (*models.Customer, error) {
	var customer models.Customer
	err := s.db.GetContext(ctx, &customer,
		"SELECT * FROM customers WHERE email = $1", email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NewNotFoundError("customer", email)
	}
	if err != nil {
		return nil, errs.NewStorageError("get customer", err)
	}
	return &customer, nil
}

func (s *Postgres) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	var customers []models.Customer
	err := s.db.SelectContext(ctx, &customers,
		"SELECT * FROM customers ORDER BY updated_at DESC")
	if err != nil {
		return nil, errs.NewStorageError("list customers", err)
	}
	return customers, nil
}

func (s *Postgres) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	if err != nil {
		return false, errs.NewStorageError("check processed event", err)
	}
	return exists, nil
}

func (s *Postgres) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	if err != nil {
		return errs.NewStorageError("mark event processed", err)
	}
	return nil
}

// qualified prefixes each column in a comma-separated list with an alias.
func qualified(alias, columns string) string {
	out := ""
	for i, col := range splitColumns(columns) {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + col
	}
	return out
}

func splitColumns(columns string) []string {
	var cols []string
	cur := ""
	for _, r := range columns {
		switch r {
		case ',':
			cols = append(cols, cur)
			cur = ""
		case ' ', '\n', '\t':
		default:
			cur += string(r)
		}
	}
	if cur != "" {
		cols = append(cols, cur)
	}
	return cols
}
