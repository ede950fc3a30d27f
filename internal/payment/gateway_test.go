package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fulfillment-service/internal/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCreateIntent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))

		var req intentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(10800), req.Amount)
		assert.Equal(t, "usd", req.Currency)
		assert.Equal(t, "ord-1", req.Metadata["order_id"])

		json.NewEncoder(w).Encode(Intent{
			ID:           "pi_123",
			ClientSecret: "pi_123_secret",
			Amount:       req.Amount,
			Currency:     req.Currency,
		})
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "sk_test_123", zap.NewNop())
	intent, err := g.CreateIntent(context.Background(), 10800, "usd", "ord-1", "john@example.com")
	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.ID)
	assert.Equal(t, "pi_123_secret", intent.ClientSecret)
}

func TestCreateIntentProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"card_declined"}`, http.StatusPaymentRequired)
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "sk_test_123", zap.NewNop())
	_, err := g.CreateIntent(context.Background(), 500, "usd", "ord-1", "john@example.com")
	assert.True(t, errors.Is(err, errs.ErrGateway))
}

func TestCreateIntentUnreachableProvider(t *testing.T) {
	g := NewHTTPGateway("http://127.0.0.1:1", "sk_test_123", zap.NewNop())
	_, err := g.CreateIntent(context.Background(), 500, "usd", "ord-1", "john@example.com")
	assert.True(t, errors.Is(err, errs.ErrGateway))
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)
	secret := "whsec_test"
	now := time.Now()

	header := Sign(now, payload, secret)
	assert.NoError(t, VerifySignature(payload, header, secret, now))

	t.Run("wrong secret", func(t *testing.T) {
		err := VerifySignature(payload, header, "whsec_other", now)
		assert.True(t, errors.Is(err, errs.ErrValidation))
	})

	t.Run("tampered payload", func(t *testing.T) {
		err := VerifySignature([]byte(`{"id":"evt_2"}`), header, secret, now)
		assert.True(t, errors.Is(err, errs.ErrValidation))
	})

	t.Run("missing header", func(t *testing.T) {
		err := VerifySignature(payload, "", secret, now)
		assert.True(t, errors.Is(err, errs.ErrValidation))
	})

	t.Run("malformed header", func(t *testing.T) {
		err := VerifySignature(payload, "v1=deadbeef", secret, now)
		assert.True(t, errors.Is(err, errs.ErrValidation))
	})

	t.Run("stale timestamp", func(t *testing.T) {
		old := now.Add(-Tolerance - time.Minute)
		err := VerifySignature(payload, Sign(old, payload, secret), secret, now)
		assert.True(t, errors.Is(err, errs.ErrValidation))
	})

	t.Run("within tolerance", func(t *testing.T) {
		recent := now.Add(-Tolerance + time.Minute)
		assert.NoError(t, VerifySignature(payload, Sign(recent, payload, secret), secret, now))
	})
}

func TestParseEvent(t *testing.T) {
	payload := []byte(`{
		"id": "evt_123",
		"type": "payment_intent.succeeded",
		"data": {
			"object": {
				"id": "pi_456",
				"amount": 10800,
				"metadata": {"order_id": "ord-789", "customer_email": "john@example.com"}
			}
		}
	}`)

	event, err := ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "evt_123", event.ID)
	assert.Equal(t, EventPaymentSucceeded, event.Type)
	assert.Equal(t, "pi_456", event.PaymentRef)
	assert.Equal(t, "ord-789", event.OrderID)
	assert.Equal(t, int64(10800), event.Amount)
}

func TestParseEventMalformed(t *testing.T) {
	_, err := ParseEvent([]byte("not json"))
	assert.True(t, errors.Is(err, errs.ErrValidation))

	_, err = ParseEvent([]byte(`{"data":{}}`))
	assert.True(t, errors.Is(err, errs.ErrValidation))
}
