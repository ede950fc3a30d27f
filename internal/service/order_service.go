// Package service contains the order orchestrator. It owns the business
// rules: pricing, the address cascade, lifecycle transitions, webhook
// reconciliation, and the fan-out of best-effort side effects.
package service

import (
	"context"
	"errors"
	"math"
	"regexp"
	"strings"
	"time"

	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/errs"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/notify"
	"fulfillment-service/internal/payment"
	"fulfillment-service/internal/receipt"
	"fulfillment-service/internal/redisclient"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// dispatchTimeout bounds a single notification or publish attempt. Side
// effects are detached from the request context so a client disconnect does
// not abort an email that is already owed.
const dispatchTimeout = 10 * time.Second

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Cache is the optional Redis-backed helper for webhook dedup and the
// tracked-order view. Every use is advisory: a miss, an error, or a nil
// Cache all fall back to the store.
type Cache interface {
	EventSeen(ctx context.Context, eventID string) (bool, error)
	MarkEventSeen(ctx context.Context, eventID string) error
	GetTrackedOrder(ctx context.Context, orderID string) (*models.TrackedOrder, error)
	SetTrackedOrder(ctx context.Context, tracked *models.TrackedOrder) error
	InvalidateTrackedOrder(ctx context.Context, orderID string) error
}

var _ Cache = (*redisclient.Client)(nil)

// OrderService orchestrates the order lifecycle. All collaborators are
// injected at construction; the cache is optional and may be nil.
type OrderService struct {
	store     store.Store
	notifier  notify.Notifier
	gateway   payment.Gateway
	renderer  receipt.Renderer
	publisher broker.Publisher
	cache     Cache
	taxRate   float64
	logger    *zap.Logger
}

func NewOrderService(
	st store.Store,
	notifier notify.Notifier,
	gateway payment.Gateway,
	renderer receipt.Renderer,
	publisher broker.Publisher,
	cache Cache,
	taxRate float64,
	logger *zap.Logger,
) *OrderService {
	return &OrderService{
		store:     st,
		notifier:  notifier,
		gateway:   gateway,
		renderer:  renderer,
		publisher: publisher,
		cache:     cache,
		taxRate:   taxRate,
		logger:    logger,
	}
}

// CreateOrderRequest is the input for placing an order. Address fields are
// optional; see resolveAddresses for the fallback rules.
type CreateOrderRequest struct {
	CustomerName    string            `json:"customer_name" binding:"required"`
	CustomerEmail   string            `json:"customer_email" binding:"required"`
	CustomerPhone   string            `json:"customer_phone"`
	Address         models.Address    `json:"address"`
	ShippingAddress models.Address    `json:"shipping_address"`
	BillingAddress  models.Address    `json:"billing_address"`
	Items           models.OrderItems `json:"items" binding:"required"`
	Notes           string            `json:"notes"`
}

// UpdateStatusRequest carries an admin order update. Nil fields are left
// untouched.
type UpdateStatusRequest struct {
	Status            *string `json:"status"`
	TrackingReference *string `json:"tracking_number"`
	Notes             *string `json:"notes"`
}

// NormalizeEmail lower-cases and trims an email for matching and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// resolveAddresses applies the fallback cascade: shipping falls back to the
// legacy single address field, billing falls back to shipping. The same
// resolution is used for the order and the customer profile so the two can
// never disagree.
func resolveAddresses(req *CreateOrderRequest) (shipping, billing models.Address) {
	shipping = req.ShippingAddress
	if shipping.IsZero() {
		shipping = req.Address
	}
	billing = req.BillingAddress
	if billing.IsZero() {
		billing = shipping
	}
	return shipping, billing
}

func (s *OrderService) validateCreate(req *CreateOrderRequest) error {
	if strings.TrimSpace(req.CustomerName) == "" {
		return errs.NewValidationError("customer_name", "is required")
	}
	email := NormalizeEmail(req.CustomerEmail)
	if email == "" {
		return errs.NewValidationError("customer_email", "is required")
	}
	if !emailPattern.MatchString(email) {
		return errs.NewValidationError("customer_email", "is not a valid email address")
	}
	if len(req.Items) == 0 {
		return errs.NewValidationError("items", "at least one item is required")
	}
	for _, item := range req.Items {
		if strings.TrimSpace(item.Name) == "" {
			return errs.NewValidationError("items", "item name is required")
		}
		if item.Price < 0 {
			return errs.NewValidationError("items", "item price must not be negative")
		}
	}
	return nil
}

// CreateOrder validates and prices the request, persists the order, and then
// fans out the side effects. Only the order write can fail the call: the
// customer upsert, the confirmation email, and the event publish are all
// best-effort once the order is durable.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if err := s.validateCreate(req); err != nil {
		util.OrdersFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	email := NormalizeEmail(req.CustomerEmail)
	shipping, billing := resolveAddresses(req)

	var subtotal int64
	for _, item := range req.Items {
		subtotal += item.Price
	}
	tax := int64(math.Round(float64(subtotal) * s.taxRate))

	order := &models.Order{
		ID:              uuid.New().String(),
		CustomerName:    strings.TrimSpace(req.CustomerName),
		CustomerEmail:   email,
		CustomerPhone:   strings.TrimSpace(req.CustomerPhone),
		ShippingAddress: shipping,
		BillingAddress:  billing,
		Items:           req.Items,
		Subtotal:        subtotal,
		Tax:             tax,
		Total:           subtotal + tax,
		Status:          models.OrderStatusPending,
		PaymentStatus:   models.PaymentStatusPending,
		Notes:           req.Notes,
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		util.OrdersFailedTotal.WithLabelValues("storage").Inc()
		return nil, err
	}
	util.OrdersCreatedTotal.Inc()

	customer := &models.Customer{
		Email:           email,
		Name:            order.CustomerName,
		Phone:           order.CustomerPhone,
		Address:         req.Address,
		ShippingAddress: shipping,
		BillingAddress:  billing,
	}
	if err := s.store.UpsertCustomer(ctx, customer); err != nil {
		s.logger.Warn("Customer upsert failed, order already persisted",
			zap.String("order_id", order.ID),
			zap.Error(err))
	}

	s.dispatch("order_received", func(ctx context.Context) error {
		return s.notifier.OrderReceived(ctx, order)
	})
	s.publish("order created", order.ID, func(ctx context.Context) error {
		return s.publisher.PublishOrderCreated(ctx, order)
	})

	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("customer_email", order.CustomerEmail),
		zap.Int64("total", order.Total))
	return order, nil
}

// GetOrder returns the full order record.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return s.store.GetOrder(ctx, id)
}

// ListOrders returns one page of orders plus the total count for the filter.
func (s *OrderService) ListOrders(ctx context.Context, status string, limit, offset int) ([]models.Order, int, error) {
	if status != "" && !models.ValidOrderStatus(status) {
		return nil, 0, errs.NewValidationError("status", "unknown order status")
	}
	return s.store.ListOrders(ctx, status, limit, offset)
}

// ListCustomers returns all customer profiles.
func (s *OrderService) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	return s.store.ListCustomers(ctx)
}

// UpdateStatus applies an admin update atomically. Any of the five statuses
// is accepted regardless of the current one; the shop is small enough that
// admins are trusted to move orders backwards when reality demands it.
//
// The shipped email fires only on the edge into shipped and only when a
// tracking reference exists, so re-saving a shipped order never re-sends it.
func (s *OrderService) UpdateStatus(ctx context.Context, id string, req *UpdateStatusRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	if req.Status != nil && !models.ValidOrderStatus(*req.Status) {
		return nil, errs.NewValidationError("status", "unknown order status")
	}

	order, prevStatus, err := s.store.UpdateOrderStatus(ctx, id, store.StatusUpdate{
		Status:            req.Status,
		TrackingReference: req.TrackingReference,
		Notes:             req.Notes,
	})
	if err != nil {
		return nil, err
	}
	util.OrderStatusUpdatesTotal.WithLabelValues(order.Status).Inc()
	s.invalidateTracked(order.ID)

	if order.Status == models.OrderStatusShipped &&
		prevStatus != models.OrderStatusShipped &&
		order.TrackingReference != "" {
		s.dispatch("order_shipped", func(ctx context.Context) error {
			return s.notifier.OrderShipped(ctx, order)
		})
	}

	s.publish("order status changed", order.ID, func(ctx context.Context) error {
		return s.publisher.PublishOrderStatusChanged(ctx, order, prevStatus)
	})

	s.logger.Info("Order status updated",
		zap.String("order_id", order.ID),
		zap.String("previous_status", prevStatus),
		zap.String("status", order.Status))
	return order, nil
}

// ReconcilePayment applies a verified gateway event to the matching order.
// It never returns an error for conditions the gateway cannot fix (unknown
// order, repeat delivery, unrecognized event type): the webhook endpoint must
// acknowledge those with 200 or the gateway will retry forever.
func (s *OrderService) ReconcilePayment(ctx context.Context, event *payment.Event) error {
	ctx, span := util.StartSpan(ctx, "OrderService.ReconcilePayment")
	defer span.End()

	var paymentStatus string
	switch event.Type {
	case payment.EventPaymentSucceeded:
		paymentStatus = models.PaymentStatusCompleted
	case payment.EventPaymentFailed:
		paymentStatus = models.PaymentStatusFailed
	default:
		util.WebhookEventsTotal.WithLabelValues("ignored").Inc()
		s.logger.Info("Ignoring unhandled webhook event type",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type))
		return nil
	}

	if event.OrderID == "" {
		util.WebhookEventsTotal.WithLabelValues("no_order").Inc()
		s.logger.Warn("Webhook event carries no order id",
			zap.String("event_id", event.ID))
		return nil
	}

	// Fast-path skip for rapid redeliveries. Read-only on entry: the event
	// id is recorded only after the store update succeeds, so a failed
	// apply is retried by the next delivery instead of being acked as a
	// duplicate. The conditional store update below stays authoritative.
	if s.cache != nil {
		if seen, err := s.cache.EventSeen(ctx, event.ID); err == nil && seen {
			util.WebhookEventsTotal.WithLabelValues("duplicate").Inc()
			return nil
		}
	}

	order, changed, err := s.store.UpdateOrderPayment(ctx, event.OrderID, paymentStatus, event.PaymentRef)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			util.WebhookEventsTotal.WithLabelValues("no_order").Inc()
			s.logger.Warn("Webhook event references unknown order",
				zap.String("event_id", event.ID),
				zap.String("order_id", event.OrderID))
			return nil
		}
		util.WebhookEventsTotal.WithLabelValues("error").Inc()
		return err
	}

	if !changed {
		util.WebhookEventsTotal.WithLabelValues("duplicate").Inc()
		s.logger.Info("Webhook event ignored, payment already settled",
			zap.String("event_id", event.ID),
			zap.String("order_id", order.ID),
			zap.String("payment_status", order.PaymentStatus))
		s.markEventSeen(ctx, event.ID)
		return nil
	}

	util.WebhookEventsTotal.WithLabelValues("applied").Inc()
	s.markEventSeen(ctx, event.ID)
	s.invalidateTracked(order.ID)

	if order.PaymentStatus == models.PaymentStatusCompleted {
		s.dispatch("payment_confirmed", func(ctx context.Context) error {
			return s.notifier.PaymentConfirmed(ctx, order)
		})
	}
	s.publish("payment reconciled", order.ID, func(ctx context.Context) error {
		return s.publisher.PublishPaymentReconciled(ctx, order, event.ID)
	})

	s.logger.Info("Payment reconciled",
		zap.String("event_id", event.ID),
		zap.String("order_id", order.ID),
		zap.String("payment_status", order.PaymentStatus))
	return nil
}

// TrackOrder returns the restricted public view of an order. Both the id and
// the email must match; a mismatch on either produces the same generic not
// found error so callers cannot probe which half was wrong.
func (s *OrderService) TrackOrder(ctx context.Context, orderID, email string) (*models.TrackedOrder, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.TrackOrder")
	defer span.End()

	email = NormalizeEmail(email)
	if orderID == "" || email == "" {
		return nil, errs.NewNotFoundError("order", orderID)
	}

	if s.cache != nil {
		if tracked, err := s.cache.GetTrackedOrder(ctx, orderID); err == nil &&
			tracked != nil && tracked.CustomerEmail == email {
			return tracked, nil
		}
	}

	order, err := s.store.GetOrderByIDAndEmail(ctx, orderID, email)
	if err != nil {
		return nil, err
	}

	tracked := order.Tracked()
	if s.cache != nil {
		if err := s.cache.SetTrackedOrder(ctx, tracked); err != nil {
			s.logger.Warn("Failed to cache tracked order", zap.Error(err))
		}
	}
	return tracked, nil
}

// CreatePaymentIntent opens a charge attempt for the order's total. Gateway
// failures propagate: the client needs to know no intent exists.
func (s *OrderService) CreatePaymentIntent(ctx context.Context, orderID string) (*payment.Intent, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if models.TerminalPaymentStatus(order.PaymentStatus) {
		return nil, errs.NewValidationError("order_id", "payment already settled")
	}

	intent, err := s.gateway.CreateIntent(ctx, order.Total, "usd", order.ID, order.CustomerEmail)
	if err != nil {
		util.PaymentIntentsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	util.PaymentIntentsTotal.WithLabelValues("created").Inc()
	return intent, nil
}

// ReceiptDocument renders the receipt for an order.
func (s *OrderService) ReceiptDocument(ctx context.Context, orderID string) (filename, contentType string, document []byte, err error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return "", "", nil, err
	}
	document, err = s.renderer.Render(order)
	if err != nil {
		return "", "", nil, err
	}
	util.ReceiptsRenderedTotal.Inc()
	return s.renderer.Filename(order), s.renderer.ContentType(), document, nil
}

// CustomerReceipt renders the receipt for the order's own customer. The same
// generic not found error covers a wrong id and a wrong email.
func (s *OrderService) CustomerReceipt(ctx context.Context, orderID, email string) (filename, contentType string, document []byte, err error) {
	order, err := s.store.GetOrderByIDAndEmail(ctx, orderID, NormalizeEmail(email))
	if err != nil {
		return "", "", nil, err
	}
	document, err = s.renderer.Render(order)
	if err != nil {
		return "", "", nil, err
	}
	util.ReceiptsRenderedTotal.Inc()
	return s.renderer.Filename(order), s.renderer.ContentType(), document, nil
}

// EmailReceipt renders the receipt and emails it as an attachment. Unlike
// lifecycle notifications this is an explicit resend operation, so a send
// failure is reported to the caller.
func (s *OrderService) EmailReceipt(ctx context.Context, orderID string) error {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	document, err := s.renderer.Render(order)
	if err != nil {
		return err
	}
	util.ReceiptsRenderedTotal.Inc()

	if err := s.notifier.SendReceipt(ctx, order, s.renderer.Filename(order), s.renderer.ContentType(), document); err != nil {
		return errs.NewGatewayError("notification", err)
	}
	return nil
}

// dispatch runs a notification send on a detached, bounded context and
// swallows the error. Lifecycle emails never fail the operation that owed
// them.
func (s *OrderService) dispatch(kind string, send func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	start := time.Now()
	if err := send(ctx); err != nil {
		util.NotificationsFailedTotal.WithLabelValues(kind).Inc()
		s.logger.Warn("Notification dispatch failed",
			zap.String("kind", kind),
			zap.Error(err))
		return
	}
	util.NotificationLatency.Observe(time.Since(start).Seconds())
	util.NotificationsSentTotal.WithLabelValues(kind).Inc()
}

// publish emits a lifecycle event best-effort.
func (s *OrderService) publish(what, orderID string, fn func(ctx context.Context) error) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		s.logger.Warn("Failed to publish "+what+" event",
			zap.String("order_id", orderID),
			zap.Error(err))
	}
}

// markEventSeen records an applied gateway event id, best-effort.
func (s *OrderService) markEventSeen(ctx context.Context, eventID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.MarkEventSeen(ctx, eventID); err != nil {
		s.logger.Warn("Failed to mark webhook event seen",
			zap.String("event_id", eventID),
			zap.Error(err))
	}
}

func (s *OrderService) invalidateTracked(orderID string) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.cache.InvalidateTrackedOrder(ctx, orderID); err != nil {
		s.logger.Warn("Failed to invalidate tracked order cache",
			zap.String("order_id", orderID),
			zap.Error(err))
	}
}
