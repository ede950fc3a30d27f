package receipt

import (
	"testing"
	"time"

	"fulfillment-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrder() *models.Order {
	return &models.Order{
		ID:            "ord-1",
		CustomerName:  "John Doe",
		CustomerEmail: "john@example.com",
		ShippingAddress: models.Address{
			Street: "123 Tech Street", City: "San Francisco", State: "CA", Zip: "94105",
		},
		Items: models.OrderItems{
			{Name: "Widget", Price: 10000},
			{Name: "Consultation", Price: 15000},
		},
		Subtotal:         25000,
		Tax:              2000,
		Total:            27000,
		Status:           models.OrderStatusProcessing,
		PaymentStatus:    models.PaymentStatusCompleted,
		PaymentReference: "pi_123",
		CreatedAt:        time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC),
	}
}

func TestRenderContainsOrderFields(t *testing.T) {
	r := NewTextRenderer("Edwards Technology Services")

	doc, err := r.Render(testOrder())
	require.NoError(t, err)

	out := string(doc)
	assert.Contains(t, out, "Edwards Technology Services")
	assert.Contains(t, out, "#ord-1")
	assert.Contains(t, out, "2024-03-15 10:30 UTC")
	assert.Contains(t, out, "John Doe <john@example.com>")
	assert.Contains(t, out, "123 Tech Street, San Francisco, CA 94105")
	assert.Contains(t, out, "Widget")
	assert.Contains(t, out, "$100.00")
	assert.Contains(t, out, "$250.00")
	assert.Contains(t, out, "$20.00")
	assert.Contains(t, out, "$270.00")
	assert.Contains(t, out, "pi_123")
}

func TestRenderIsDeterministic(t *testing.T) {
	r := NewTextRenderer("Acme")
	order := testOrder()

	first, err := r.Render(order)
	require.NoError(t, err)
	second, err := r.Render(order)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRenderOmitsEmptyOptionalSections(t *testing.T) {
	r := NewTextRenderer("Acme")
	order := testOrder()
	order.ShippingAddress = models.Address{}
	order.PaymentReference = ""

	doc, err := r.Render(order)
	require.NoError(t, err)

	out := string(doc)
	assert.NotContains(t, out, "Ship to:")
	assert.NotContains(t, out, "Payment reference:")
}

func TestFilenameAndContentType(t *testing.T) {
	r := NewTextRenderer("Acme")
	assert.Equal(t, "receipt-ord-1.txt", r.Filename(testOrder()))
	assert.Equal(t, "text/plain; charset=utf-8", r.ContentType())
}
