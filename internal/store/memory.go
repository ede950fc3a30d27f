package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"fulfillment-service/internal/errs"
	"fulfillment-service/internal/models"
)

// Memory is the in-memory Store used by tests and the development backend.
// It mirrors the Postgres semantics exactly: per-record atomic updates under
// a single mutex, conditional payment transitions, merge-on-upsert customers.
type Memory struct {
	mu        sync.Mutex
	orders    map[string]*models.Order
	customers map[string]*models.Customer
	events    map[string]models.ProcessedEvent
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		orders:    make(map[string]*models.Order),
		customers: make(map[string]*models.Customer),
		events:    make(map[string]models.ProcessedEvent),
	}
}

func (s *Memory) Ping(ctx context.Context) error { return nil }
func (s *Memory) Close() error                   { return nil }

func (s *Memory) CreateOrder(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[order.ID]; ok {
		return errs.NewStorageError("create order", errDuplicateID)
	}

	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now

	cp := *order
	s.orders[order.ID] = &cp
	return nil
}

var errDuplicateID = errDup{}

type errDup struct{}

func (errDup) Error() string { return "duplicate order id" }

func (s *Memory) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, errs.NewNotFoundError("order", id)
	}
	cp := *order
	return &cp, nil
}

func (s *Memory) GetOrderByIDAndEmail(ctx context.Context, id, email string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok || order.CustomerEmail != email {
		return nil, errs.NewNotFoundError("order", id)
	}
	cp := *order
	return &cp, nil
}

func (s *Memory) UpdateOrderStatus(ctx context.Context, id string, upd StatusUpdate) (*models.Order, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, "", errs.NewNotFoundError("order", id)
	}

	prev := order.Status
	if upd.Status != nil {
		order.Status = *upd.Status
	}
	if upd.TrackingReference != nil {
		order.TrackingReference = *upd.TrackingReference
	}
	if upd.Notes != nil {
		order.Notes = *upd.Notes
	}
	order.UpdatedAt = time.Now().UTC()

	cp := *order
	return &cp, prev, nil
}

func (s *Memory) UpdateOrderPayment(ctx context.Context, orderID, paymentStatus, paymentRef string) (*models.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, false, errs.NewNotFoundError("order", orderID)
	}

	if order.PaymentStatus != models.PaymentStatusPending {
		cp := *order
		return &cp, false, nil
	}

	order.PaymentStatus = paymentStatus
	order.PaymentReference = paymentRef
	order.UpdatedAt = time.Now().UTC()

	cp := *order
	return &cp, true, nil
}

func (s *Memory) ListOrders(ctx context.Context, status string, limit, offset int) ([]models.Order, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []models.Order
	for _, order := range s.orders {
		if status != "" && order.Status != status {
			continue
		}
		all = append(all, *order)
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return []models.Order{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *Memory) UpsertCustomer(ctx context.Context, customer *models.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := s.customers[customer.Email]
	if !ok {
		customer.CreatedAt = now
		customer.UpdatedAt = now
		cp := *customer
		s.customers[customer.Email] = &cp
		return nil
	}

	existing.Name = customer.Name
	if customer.Phone != "" {
		existing.Phone = customer.Phone
	}
	if !customer.Address.IsZero() {
		existing.Address = customer.Address
	}
	if !customer.ShippingAddress.IsZero() {
		existing.ShippingAddress = customer.ShippingAddress
	}
	if !customer.BillingAddress.IsZero() {
		existing.BillingAddress = customer.BillingAddress
	}
	existing.UpdatedAt = now

	*customer = *existing
	return nil
}

func (s *Memory) GetCustomerByEmail(ctx context.Context, email string) (*models.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, ok := s.customers[email]
	if !ok {
		return nil, errs.NewNotFoundError("customer", email)
	}
	cp := *customer
	return &cp, nil
}

func (s *Memory) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var customers []models.Customer
	for _, c := range s.customers {
		customers = append(customers, *c)
	}
	sort.Slice(customers, func(i, j int) bool {
		return customers[i].UpdatedAt.After(customers[j].UpdatedAt)
	})
	return customers, nil
}

func (s *Memory) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.events[eventID]
	return ok, nil
}

func (s *Memory) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[eventID]; ok {
		return nil
	}
	s.events[eventID] = models.ProcessedEvent{
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: time.Now().UTC(),
	}
	return nil
}
