// Package worker runs the background receipt mailer. It consumes the order
// event stream and emails a rendered receipt once per completed payment.
package worker

import (
	"context"
	"encoding/json"

	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/notify"
	"fulfillment-service/internal/receipt"
	"fulfillment-service/internal/store"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ReceiptWorker consumes PaymentReconciled events and mails receipts. The
// stream is at-least-once, so every event is checked against the processed
// events table before any side effect; a crash between send and mark can
// still double-send, which is acceptable for a courtesy email.
type ReceiptWorker struct {
	consumer *broker.Consumer
	store    store.Store
	notifier notify.Notifier
	renderer receipt.Renderer
	logger   *zap.Logger
}

func NewReceiptWorker(
	consumer *broker.Consumer,
	st store.Store,
	notifier notify.Notifier,
	renderer receipt.Renderer,
	logger *zap.Logger,
) *ReceiptWorker {
	return &ReceiptWorker{
		consumer: consumer,
		store:    st,
		notifier: notifier,
		renderer: renderer,
		logger:   logger,
	}
}

// Start consumes until the context is cancelled.
func (w *ReceiptWorker) Start(ctx context.Context) error {
	return w.consumer.StartConsuming(ctx, w.handleMessage)
}

// Stop closes the underlying consumer.
func (w *ReceiptWorker) Stop() {
	if w.consumer == nil {
		return
	}
	if err := w.consumer.Close(); err != nil {
		w.logger.Warn("Failed to close consumer", zap.Error(err))
	}
}

// eventEnvelope is the minimal decode needed to route a message.
type eventEnvelope struct {
	models.BaseEvent
}

func (w *ReceiptWorker) handleMessage(ctx context.Context, msg kafka.Message) error {
	var envelope eventEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		// Undecodable messages are committed, not retried: redelivery
		// cannot make them parse.
		w.logger.Error("Dropping undecodable event", zap.Error(err))
		return nil
	}

	if envelope.EventType != models.EventTypePaymentReconciled {
		return nil
	}

	var event models.PaymentReconciledEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		w.logger.Error("Dropping undecodable payment event", zap.Error(err))
		return nil
	}
	return w.handlePaymentReconciled(ctx, &event)
}

func (w *ReceiptWorker) handlePaymentReconciled(ctx context.Context, event *models.PaymentReconciledEvent) error {
	if event.PaymentStatus != models.PaymentStatusCompleted {
		return nil
	}

	processed, err := w.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if processed {
		w.logger.Info("Skipping already processed event",
			zap.String("event_id", event.EventID),
			zap.String("order_id", event.OrderID))
		return nil
	}

	order, err := w.store.GetOrder(ctx, event.OrderID)
	if err != nil {
		// The order may have been purged; there is nothing to mail and
		// nothing a retry would find.
		w.logger.Warn("Order for receipt event not found",
			zap.String("event_id", event.EventID),
			zap.String("order_id", event.OrderID))
		return w.store.MarkEventProcessed(ctx, event.EventID, event.EventType)
	}

	document, err := w.renderer.Render(order)
	if err != nil {
		return err
	}

	if err := w.notifier.SendReceipt(ctx, order,
		w.renderer.Filename(order), w.renderer.ContentType(), document); err != nil {
		// Leave the event unmarked so the redelivery retries the send.
		w.logger.Warn("Receipt email failed, will retry on redelivery",
			zap.String("event_id", event.EventID),
			zap.String("order_id", event.OrderID),
			zap.Error(err))
		return err
	}

	w.logger.Info("Receipt emailed",
		zap.String("event_id", event.EventID),
		zap.String("order_id", order.ID),
		zap.String("to", order.CustomerEmail))
	return w.store.MarkEventProcessed(ctx, event.EventID, event.EventType)
}
