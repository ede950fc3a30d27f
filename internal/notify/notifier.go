// Package notify translates order lifecycle events into templated customer
// emails. Every dispatch is best-effort from the orchestrator's point of
// view: a failing notification gateway must never compromise order state.
package notify

import (
	"context"

	"fulfillment-service/internal/models"

	"go.uber.org/zap"
)

// Notifier is the notification gateway consumed by the orchestrator and the
// receipt worker.
type Notifier interface {
	// OrderReceived confirms a newly placed order.
	OrderReceived(ctx context.Context, order *models.Order) error

	// OrderShipped announces shipment with the tracking reference.
	OrderShipped(ctx context.Context, order *models.Order) error

	// PaymentConfirmed confirms a completed payment.
	PaymentConfirmed(ctx context.Context, order *models.Order) error

	// SendReceipt emails a rendered receipt document as an attachment.
	SendReceipt(ctx context.Context, order *models.Order, filename, contentType string, document []byte) error
}

// LogNotifier logs messages instead of sending them. Used when SMTP is not
// configured, so development environments behave like production minus the
// actual delivery.
type LogNotifier struct {
	logger *zap.Logger
}

var _ Notifier = (*LogNotifier)(nil)

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) OrderReceived(ctx context.Context, order *models.Order) error {
	n.logger.Info("Would send order received email",
		zap.String("order_id", order.ID),
		zap.String("to", order.CustomerEmail))
	return nil
}

func (n *LogNotifier) OrderShipped(ctx context.Context, order *models.Order) error {
	n.logger.Info("Would send order shipped email",
		zap.String("order_id", order.ID),
		zap.String("to", order.CustomerEmail),
		zap.String("tracking_reference", order.TrackingReference))
	return nil
}

func (n *LogNotifier) PaymentConfirmed(ctx context.Context, order *models.Order) error {
	n.logger.Info("Would send payment confirmed email",
		zap.String("order_id", order.ID),
		zap.String("to", order.CustomerEmail))
	return nil
}

func (n *LogNotifier) SendReceipt(ctx context.Context, order *models.Order, filename, contentType string, document []byte) error {
	n.logger.Info("Would send receipt email",
		zap.String("order_id", order.ID),
		zap.String("to", order.CustomerEmail),
		zap.String("filename", filename),
		zap.Int("bytes", len(document)))
	return nil
}
