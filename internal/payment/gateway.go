// Package payment talks to the third-party payment provider. The provider
// is opaque to the rest of the service: a request/response call to create a
// payment intent, and signed webhook events reporting the outcome.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"fulfillment-service/internal/errs"

	"go.uber.org/zap"
)

// Webhook event types emitted by the provider.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.failed"
)

// Intent is the provider's handle for an in-progress charge attempt.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// Event is a verified, parsed webhook event.
type Event struct {
	ID         string
	Type       string
	PaymentRef string
	OrderID    string
	Amount     int64
}

// Gateway creates payment intents against the provider.
type Gateway interface {
	CreateIntent(ctx context.Context, amount int64, currency, orderID, email string) (*Intent, error)
}

// HTTPGateway is the production Gateway over the provider's REST API.
type HTTPGateway struct {
	baseURL   string
	secretKey string
	client    *http.Client
	logger    *zap.Logger
}

var _ Gateway = (*HTTPGateway)(nil)

// NewHTTPGateway creates a gateway client. Constructed once at process start
// and injected; there is no implicit re-initialization.
func NewHTTPGateway(baseURL, secretKey string, logger *zap.Logger) *HTTPGateway {
	return &HTTPGateway{
		baseURL:   baseURL,
		secretKey: secretKey,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
	}
}

type intentRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata"`
}

// CreateIntent asks the provider to open a charge attempt. Errors here do
// propagate to the caller: no intent exists yet, so there is nothing to
// reconcile later.
func (g *HTTPGateway) CreateIntent(ctx context.Context, amount int64, currency, orderID, email string) (*Intent, error) {
	body, err := json.Marshal(intentRequest{
		Amount:   amount,
		Currency: currency,
		Metadata: map[string]string{
			"order_id":       orderID,
			"customer_email": email,
		},
	})
	if err != nil {
		return nil, errs.NewGatewayError("payment", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/v1/payment_intents", bytes.NewReader(body))
	if err != nil {
		return nil, errs.NewGatewayError("payment", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, errs.NewGatewayError("payment", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errs.NewGatewayError("payment", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.logger.Warn("Payment intent creation rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("order_id", orderID))
		return nil, errs.NewGatewayError("payment",
			fmt.Errorf("provider returned status %d", resp.StatusCode))
	}

	var intent Intent
	if err := json.Unmarshal(respBody, &intent); err != nil {
		return nil, errs.NewGatewayError("payment", err)
	}

	g.logger.Info("Payment intent created",
		zap.String("intent_id", intent.ID),
		zap.String("order_id", orderID))
	return &intent, nil
}

// webhookPayload is the provider's event envelope.
type webhookPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Amount   int64             `json:"amount"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// ParseEvent decodes a verified webhook body into an Event. It must only be
// called after VerifySignature has accepted the payload.
func ParseEvent(payload []byte) (*Event, error) {
	var wp webhookPayload
	if err := json.Unmarshal(payload, &wp); err != nil {
		return nil, errs.NewValidationError("payload", "malformed webhook event")
	}
	if wp.ID == "" || wp.Type == "" {
		return nil, errs.NewValidationError("payload", "webhook event missing id or type")
	}

	return &Event{
		ID:         wp.ID,
		Type:       wp.Type,
		PaymentRef: wp.Data.Object.ID,
		OrderID:    wp.Data.Object.Metadata["order_id"],
		Amount:     wp.Data.Object.Amount,
	}, nil
}
