package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"fulfillment-service/internal/errs"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/payment"
	"fulfillment-service/internal/receipt"
	"fulfillment-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeNotifier struct {
	mu        sync.Mutex
	fail      bool
	received  []string
	shipped   []string
	confirmed []string
	receipts  []string
}

func (f *fakeNotifier) record(dst *[]string, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("smtp connection refused")
	}
	*dst = append(*dst, orderID)
	return nil
}

func (f *fakeNotifier) OrderReceived(ctx context.Context, o *models.Order) error {
	return f.record(&f.received, o.ID)
}

func (f *fakeNotifier) OrderShipped(ctx context.Context, o *models.Order) error {
	return f.record(&f.shipped, o.ID)
}

func (f *fakeNotifier) PaymentConfirmed(ctx context.Context, o *models.Order) error {
	return f.record(&f.confirmed, o.ID)
}

func (f *fakeNotifier) SendReceipt(ctx context.Context, o *models.Order, filename, contentType string, doc []byte) error {
	return f.record(&f.receipts, o.ID)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (f *fakePublisher) add(event string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) PublishOrderCreated(ctx context.Context, o *models.Order) error {
	return f.add(models.EventTypeOrderCreated)
}

func (f *fakePublisher) PublishOrderStatusChanged(ctx context.Context, o *models.Order, prev string) error {
	return f.add(models.EventTypeOrderStatusChanged)
}

func (f *fakePublisher) PublishPaymentReconciled(ctx context.Context, o *models.Order, eventID string) error {
	return f.add(models.EventTypePaymentReconciled)
}

type fakeGateway struct {
	fail    bool
	intents int
}

func (f *fakeGateway) CreateIntent(ctx context.Context, amount int64, currency, orderID, email string) (*payment.Intent, error) {
	if f.fail {
		return nil, errs.NewGatewayError("payment", errors.New("connection refused"))
	}
	f.intents++
	return &payment.Intent{
		ID:           "pi_test_1",
		ClientSecret: "pi_test_1_secret",
		Amount:       amount,
		Currency:     currency,
	}, nil
}

type fakeCache struct {
	seen    map[string]bool
	tracked map[string]*models.TrackedOrder
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		seen:    make(map[string]bool),
		tracked: make(map[string]*models.TrackedOrder),
	}
}

func (c *fakeCache) EventSeen(ctx context.Context, eventID string) (bool, error) {
	return c.seen[eventID], nil
}

func (c *fakeCache) MarkEventSeen(ctx context.Context, eventID string) error {
	c.seen[eventID] = true
	return nil
}

func (c *fakeCache) GetTrackedOrder(ctx context.Context, orderID string) (*models.TrackedOrder, error) {
	return c.tracked[orderID], nil
}

func (c *fakeCache) SetTrackedOrder(ctx context.Context, tracked *models.TrackedOrder) error {
	c.tracked[tracked.ID] = tracked
	return nil
}

func (c *fakeCache) InvalidateTrackedOrder(ctx context.Context, orderID string) error {
	delete(c.tracked, orderID)
	return nil
}

// flakyStore fails a configured number of payment updates before recovering.
type flakyStore struct {
	store.Store
	paymentFailures int
}

func (s *flakyStore) UpdateOrderPayment(ctx context.Context, orderID, paymentStatus, paymentRef string) (*models.Order, bool, error) {
	if s.paymentFailures > 0 {
		s.paymentFailures--
		return nil, false, errs.NewStorageError("update order payment", errors.New("connection reset"))
	}
	return s.Store.UpdateOrderPayment(ctx, orderID, paymentStatus, paymentRef)
}

type fixture struct {
	svc       *OrderService
	store     *store.Memory
	notifier  *fakeNotifier
	publisher *fakePublisher
	gateway   *fakeGateway
}

func newFixture() *fixture {
	f := &fixture{
		store:     store.NewMemory(),
		notifier:  &fakeNotifier{},
		publisher: &fakePublisher{},
		gateway:   &fakeGateway{},
	}
	f.svc = NewOrderService(
		f.store,
		f.notifier,
		f.gateway,
		receipt.NewTextRenderer("Test Co"),
		f.publisher,
		nil,
		0.08,
		zap.NewNop(),
	)
	return f
}

func validRequest() *CreateOrderRequest {
	return &CreateOrderRequest{
		CustomerName:  "John Doe",
		CustomerEmail: "John@Example.com",
		Items: models.OrderItems{
			{Name: "Website build", Price: 7500},
			{Name: "Hosting setup", Price: 2500},
		},
		ShippingAddress: models.Address{
			Street: "123 Tech Street", City: "San Francisco", State: "CA", Zip: "94105",
		},
	}
}

func TestCreateOrderComputesTotalsOnce(t *testing.T) {
	f := newFixture()

	order, err := f.svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, order.ID)
	assert.Equal(t, "john@example.com", order.CustomerEmail)
	assert.Equal(t, int64(10000), order.Subtotal)
	assert.Equal(t, int64(800), order.Tax)
	assert.Equal(t, order.Subtotal+order.Tax, order.Total)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)

	// Commercial fields are frozen at creation: a later lifecycle update
	// leaves them untouched.
	status := models.OrderStatusProcessing
	updated, err := f.svc.UpdateStatus(context.Background(), order.ID, &UpdateStatusRequest{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, order.Subtotal, updated.Subtotal)
	assert.Equal(t, order.Tax, updated.Tax)
	assert.Equal(t, order.Total, updated.Total)
}

func TestCreateOrderTaxRounding(t *testing.T) {
	f := newFixture()

	req := validRequest()
	req.Items = models.OrderItems{{Name: "Odd item", Price: 1111}}

	order, err := f.svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)

	// 1111 * 0.08 = 88.88, rounds to 89.
	assert.Equal(t, int64(89), order.Tax)
	assert.Equal(t, int64(1200), order.Total)
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateOrderRequest)
	}{
		{"missing name", func(r *CreateOrderRequest) { r.CustomerName = "  " }},
		{"missing email", func(r *CreateOrderRequest) { r.CustomerEmail = "" }},
		{"malformed email", func(r *CreateOrderRequest) { r.CustomerEmail = "not-an-email" }},
		{"no items", func(r *CreateOrderRequest) { r.Items = nil }},
		{"unnamed item", func(r *CreateOrderRequest) { r.Items[0].Name = "" }},
		{"negative price", func(r *CreateOrderRequest) { r.Items[0].Price = -1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(req)

			_, err := f.svc.CreateOrder(ctx, req)
			assert.True(t, errors.Is(err, errs.ErrValidation))
		})
	}

	// Nothing was persisted and no side effects fired.
	_, total, err := f.store.ListOrders(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, f.notifier.received)
	assert.Empty(t, f.publisher.events)
}

func TestAddressCascade(t *testing.T) {
	legacy := models.Address{Street: "1 Legacy Ln", City: "Austin", State: "TX", Zip: "78701"}
	shipping := models.Address{Street: "2 Ship St", City: "Dallas", State: "TX", Zip: "75201"}
	billing := models.Address{Street: "3 Bill Blvd", City: "Houston", State: "TX", Zip: "77002"}

	cases := []struct {
		name         string
		mutate       func(*CreateOrderRequest)
		wantShipping models.Address
		wantBilling  models.Address
	}{
		{
			"legacy address only",
			func(r *CreateOrderRequest) {
				r.ShippingAddress = models.Address{}
				r.Address = legacy
			},
			legacy, legacy,
		},
		{
			"shipping only",
			func(r *CreateOrderRequest) { r.ShippingAddress = shipping },
			shipping, shipping,
		},
		{
			"all three distinct",
			func(r *CreateOrderRequest) {
				r.Address = legacy
				r.ShippingAddress = shipping
				r.BillingAddress = billing
			},
			shipping, billing,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			req := validRequest()
			tc.mutate(req)

			order, err := f.svc.CreateOrder(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, tc.wantShipping, order.ShippingAddress)
			assert.Equal(t, tc.wantBilling, order.BillingAddress)

			// The customer profile resolves to the same addresses.
			customer, err := f.store.GetCustomerByEmail(context.Background(), order.CustomerEmail)
			require.NoError(t, err)
			assert.Equal(t, order.ShippingAddress, customer.ShippingAddress)
			assert.Equal(t, order.BillingAddress, customer.BillingAddress)
		})
	}
}

func TestCreateOrderSurvivesFailingNotifier(t *testing.T) {
	f := newFixture()
	f.notifier.fail = true

	order, err := f.svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)

	stored, err := f.store.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, stored.Status)
}

func TestCreateOrderDispatchesSideEffects(t *testing.T) {
	f := newFixture()

	order, err := f.svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, []string{order.ID}, f.notifier.received)
	assert.Equal(t, []string{models.EventTypeOrderCreated}, f.publisher.events)
}

func TestShippedEmailFiresOnEdgeOnly(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	shipped := models.OrderStatusShipped
	tracking := "1Z999AA10123456784"

	_, err = f.svc.UpdateStatus(ctx, order.ID, &UpdateStatusRequest{Status: &shipped, TrackingReference: &tracking})
	require.NoError(t, err)
	assert.Equal(t, []string{order.ID}, f.notifier.shipped)

	// Re-saving the shipped order does not re-send.
	notes := "left at front desk"
	_, err = f.svc.UpdateStatus(ctx, order.ID, &UpdateStatusRequest{Notes: &notes})
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, order.ID, &UpdateStatusRequest{Status: &shipped})
	require.NoError(t, err)
	assert.Len(t, f.notifier.shipped, 1)

	// Bouncing away and back is a fresh edge.
	processing := models.OrderStatusProcessing
	_, err = f.svc.UpdateStatus(ctx, order.ID, &UpdateStatusRequest{Status: &processing})
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, order.ID, &UpdateStatusRequest{Status: &shipped})
	require.NoError(t, err)
	assert.Len(t, f.notifier.shipped, 2)
}

func TestShippedEmailRequiresTrackingReference(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	shipped := models.OrderStatusShipped
	_, err = f.svc.UpdateStatus(ctx, order.ID, &UpdateStatusRequest{Status: &shipped})
	require.NoError(t, err)
	assert.Empty(t, f.notifier.shipped)
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	f := newFixture()

	order, err := f.svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)

	bogus := "teleported"
	_, err = f.svc.UpdateStatus(context.Background(), order.ID, &UpdateStatusRequest{Status: &bogus})
	assert.True(t, errors.Is(err, errs.ErrValidation))
}

func TestUpdateStatusUnknownOrder(t *testing.T) {
	f := newFixture()

	status := models.OrderStatusProcessing
	_, err := f.svc.UpdateStatus(context.Background(), "no-such-order", &UpdateStatusRequest{Status: &status})
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func succeededEvent(orderID, eventID string) *payment.Event {
	return &payment.Event{
		ID:         eventID,
		Type:       payment.EventPaymentSucceeded,
		PaymentRef: "pi_test_1",
		OrderID:    orderID,
		Amount:     10800,
	}
}

func TestReconcilePaymentAppliesOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	require.NoError(t, f.svc.ReconcilePayment(ctx, succeededEvent(order.ID, "evt_1")))

	stored, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, stored.PaymentStatus)
	assert.Equal(t, "pi_test_1", stored.PaymentReference)
	assert.Equal(t, []string{order.ID}, f.notifier.confirmed)

	// The gateway redelivers the same event twice more.
	require.NoError(t, f.svc.ReconcilePayment(ctx, succeededEvent(order.ID, "evt_1")))
	require.NoError(t, f.svc.ReconcilePayment(ctx, succeededEvent(order.ID, "evt_1")))

	stored, err = f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, stored.PaymentStatus)
	assert.Len(t, f.notifier.confirmed, 1, "duplicate delivery must not re-notify")
}

func TestReconcilePaymentFailedIsAbsorbing(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	failed := succeededEvent(order.ID, "evt_1")
	failed.Type = payment.EventPaymentFailed
	require.NoError(t, f.svc.ReconcilePayment(ctx, failed))

	stored, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, stored.PaymentStatus)
	assert.Empty(t, f.notifier.confirmed)

	// A success arriving after the failure does not flip the state back.
	require.NoError(t, f.svc.ReconcilePayment(ctx, succeededEvent(order.ID, "evt_2")))

	stored, err = f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, stored.PaymentStatus)
	assert.Empty(t, f.notifier.confirmed)
}

func TestReconcilePaymentRetriesAfterStorageFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	cache := newFakeCache()
	flaky := &flakyStore{Store: f.store, paymentFailures: 1}
	svc := NewOrderService(flaky, f.notifier, f.gateway,
		receipt.NewTextRenderer("Test Co"), f.publisher, cache, 0.08, zap.NewNop())

	// First delivery hits the storage failure and must surface it so the
	// gateway redelivers. The event id must not be remembered as seen.
	err = svc.ReconcilePayment(ctx, succeededEvent(order.ID, "evt_1"))
	assert.True(t, errors.Is(err, errs.ErrStorage))
	assert.False(t, cache.seen["evt_1"])

	// The redelivery applies the payment.
	require.NoError(t, svc.ReconcilePayment(ctx, succeededEvent(order.ID, "evt_1")))

	stored, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, stored.PaymentStatus)
	assert.Equal(t, []string{order.ID}, f.notifier.confirmed)
	assert.True(t, cache.seen["evt_1"])

	// Further redeliveries short-circuit on the cache without re-notifying.
	require.NoError(t, svc.ReconcilePayment(ctx, succeededEvent(order.ID, "evt_1")))
	assert.Len(t, f.notifier.confirmed, 1)
}

func TestReconcilePaymentUnknownOrderAcknowledged(t *testing.T) {
	f := newFixture()

	err := f.svc.ReconcilePayment(context.Background(), succeededEvent("no-such-order", "evt_1"))
	assert.NoError(t, err)
}

func TestReconcilePaymentIgnoresUnhandledType(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	event := succeededEvent(order.ID, "evt_1")
	event.Type = "payment_intent.created"
	require.NoError(t, f.svc.ReconcilePayment(ctx, event))

	stored, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, stored.PaymentStatus)
}

func TestTrackOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	tracked, err := f.svc.TrackOrder(ctx, order.ID, "JOHN@example.COM")
	require.NoError(t, err)
	assert.Equal(t, order.ID, tracked.ID)
	assert.Equal(t, order.Total, tracked.Total)

	wrongEmail := func() error {
		_, err := f.svc.TrackOrder(ctx, order.ID, "mallory@example.com")
		return err
	}()
	wrongID := func() error {
		_, err := f.svc.TrackOrder(ctx, "no-such-order", "john@example.com")
		return err
	}()

	assert.True(t, errors.Is(wrongEmail, errs.ErrNotFound))
	assert.True(t, errors.Is(wrongID, errs.ErrNotFound))
	assert.Equal(t, wrongEmail.Error(), wrongID.Error(),
		"mismatch on either field must look identical to the caller")
}

func TestCreatePaymentIntent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	intent, err := f.svc.CreatePaymentIntent(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Total, intent.Amount)
	assert.Equal(t, "usd", intent.Currency)

	// Once the payment settles, no further intents are opened.
	require.NoError(t, f.svc.ReconcilePayment(ctx, succeededEvent(order.ID, "evt_1")))
	_, err = f.svc.CreatePaymentIntent(ctx, order.ID)
	assert.True(t, errors.Is(err, errs.ErrValidation))
	assert.Equal(t, 1, f.gateway.intents)
}

func TestCreatePaymentIntentGatewayFailure(t *testing.T) {
	f := newFixture()
	f.gateway.fail = true

	order, err := f.svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)

	_, err = f.svc.CreatePaymentIntent(context.Background(), order.ID)
	assert.True(t, errors.Is(err, errs.ErrGateway))
}

func TestReceiptDocuments(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	filename, contentType, doc, err := f.svc.ReceiptDocument(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "receipt-"+order.ID+".txt", filename)
	assert.Equal(t, "text/plain; charset=utf-8", contentType)
	assert.Contains(t, string(doc), "Test Co")

	// The customer path is gated on the email.
	_, _, gated, err := f.svc.CustomerReceipt(ctx, order.ID, "John@Example.com")
	require.NoError(t, err)
	assert.Equal(t, doc, gated)

	_, _, _, err = f.svc.CustomerReceipt(ctx, order.ID, "mallory@example.com")
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestEmailReceipt(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	require.NoError(t, f.svc.EmailReceipt(ctx, order.ID))
	assert.Equal(t, []string{order.ID}, f.notifier.receipts)

	// Explicit resends do surface send failures.
	f.notifier.fail = true
	err = f.svc.EmailReceipt(ctx, order.ID)
	assert.True(t, errors.Is(err, errs.ErrGateway))
}

func TestUpdateStatusSurvivesFailingNotifier(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	f.notifier.fail = true
	shipped := models.OrderStatusShipped
	tracking := "1Z999AA10123456784"

	updated, err := f.svc.UpdateStatus(ctx, order.ID, &UpdateStatusRequest{Status: &shipped, TrackingReference: &tracking})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, updated.Status)
}
