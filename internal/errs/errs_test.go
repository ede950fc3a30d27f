package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"fulfillment-service/internal/errs"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	err := errs.NewValidationError("customer_email", "must be a valid email")

	assert.Equal(t, "validation failed: customer_email: must be a valid email", err.Error())
	assert.True(t, errors.Is(err, errs.ErrValidation))

	var ve *errs.ValidationError
	assert.True(t, errors.As(err, &ve))
	assert.Equal(t, "customer_email", ve.Field)
}

func TestValidationErrorWithoutField(t *testing.T) {
	err := errs.NewValidationError("", "at least one item is required")
	assert.Equal(t, "validation failed: at least one item is required", err.Error())
}

func TestNotFoundErrorIsGeneric(t *testing.T) {
	err := errs.NewNotFoundError("order", "abc-123")

	// The id must never leak into the message.
	assert.Equal(t, "order not found", err.Error())
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	assert.Equal(t, "abc-123", err.ID)
}

func TestAuthError(t *testing.T) {
	err := errs.NewAuthError("invalid token")
	assert.Equal(t, "unauthorized: invalid token", err.Error())
	assert.True(t, errors.Is(err, errs.ErrAuth))

	cause := errors.New("token expired")
	err = errs.NewAuthErrorWithCause("invalid token", cause)
	assert.Equal(t, "unauthorized: invalid token: token expired", err.Error())
}

func TestStorageError(t *testing.T) {
	cause := errors.New("connection refused")
	err := errs.NewStorageError("create order", cause)

	assert.Equal(t, "storage failure: create order: connection refused", err.Error())
	assert.True(t, errors.Is(err, errs.ErrStorage))
}

func TestGatewayError(t *testing.T) {
	cause := errors.New("timeout")
	err := errs.NewGatewayError("payment", cause)

	assert.Equal(t, "gateway failure: payment: timeout", err.Error())
	assert.True(t, errors.Is(err, errs.ErrGateway))
}

func TestWrappedErrorsSurviveFmtErrorf(t *testing.T) {
	inner := errs.NewNotFoundError("order", "42")
	wrapped := fmt.Errorf("track order: %w", inner)

	assert.True(t, errors.Is(wrapped, errs.ErrNotFound))

	var nf *errs.NotFoundError
	assert.True(t, errors.As(wrapped, &nf))
	assert.Equal(t, "42", nf.ID)
}
