package notify

import (
	"bytes"
	"context"
	"html/template"
	"testing"

	"fulfillment-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testOrder() *models.Order {
	return &models.Order{
		ID:            "ord-1",
		CustomerName:  "John Doe",
		CustomerEmail: "john@example.com",
		Items: models.OrderItems{
			{Name: "Widget", Price: 10000},
			{Name: "Consultation", Price: 15000},
		},
		Subtotal:          25000,
		Tax:               2000,
		Total:             27000,
		Status:            models.OrderStatusShipped,
		TrackingReference: "UPS123456789",
	}
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "$108.00", formatMoney(10800))
	assert.Equal(t, "$0.05", formatMoney(5))
	assert.Equal(t, "$0.00", formatMoney(0))
	assert.Equal(t, "-$1.50", formatMoney(-150))
}

func renderTemplate(t *testing.T, name string, order *models.Order) string {
	t.Helper()
	tmpl := template.Must(template.New("emails").Funcs(templateFuncs).Parse(emailTemplates))
	var buf bytes.Buffer
	require.NoError(t, tmpl.ExecuteTemplate(&buf, name, order))
	return buf.String()
}

func TestOrderReceivedTemplate(t *testing.T) {
	body := renderTemplate(t, "order_received", testOrder())

	assert.Contains(t, body, "Dear John Doe")
	assert.Contains(t, body, "#ord-1")
	assert.Contains(t, body, "Widget")
	assert.Contains(t, body, "$100.00")
	assert.Contains(t, body, "Subtotal: $250.00")
	assert.Contains(t, body, "Tax: $20.00")
	assert.Contains(t, body, "Total: $270.00")
}

func TestOrderShippedTemplate(t *testing.T) {
	body := renderTemplate(t, "order_shipped", testOrder())

	assert.Contains(t, body, "UPS123456789")
	assert.Contains(t, body, "#ord-1")
}

func TestPaymentConfirmedTemplate(t *testing.T) {
	body := renderTemplate(t, "payment_confirmed", testOrder())
	assert.Contains(t, body, "$270.00")
}

func TestBuildMessagePlain(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{From: "orders@example.com", FromName: "Orders"}, zap.NewNop())

	msg := string(n.buildMessage("john@example.com", "Hello", []byte("<p>hi</p>"), nil, "", ""))
	assert.Contains(t, msg, "To: john@example.com")
	assert.Contains(t, msg, "Subject: Hello")
	assert.Contains(t, msg, "Content-Type: text/html")
	assert.Contains(t, msg, "<p>hi</p>")
	assert.NotContains(t, msg, "multipart/mixed")
}

func TestBuildMessageWithAttachment(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{From: "orders@example.com"}, zap.NewNop())

	doc := bytes.Repeat([]byte("receipt "), 32)
	msg := string(n.buildMessage("john@example.com", "Receipt", []byte("<p>attached</p>"),
		doc, "receipt-ord-1.txt", "text/plain; charset=utf-8"))

	assert.Contains(t, msg, "multipart/mixed")
	assert.Contains(t, msg, `Content-Disposition: attachment; filename="receipt-ord-1.txt"`)
	assert.Contains(t, msg, "Content-Transfer-Encoding: base64")

	// base64 lines are wrapped at 76 characters
	for _, line := range bytes.Split([]byte(msg), []byte("\r\n")) {
		assert.LessOrEqual(t, len(line), 100)
	}
}

func TestLogNotifierNeverFails(t *testing.T) {
	n := NewLogNotifier(zap.NewNop())
	ctx := context.Background()
	order := testOrder()

	assert.NoError(t, n.OrderReceived(ctx, order))
	assert.NoError(t, n.OrderShipped(ctx, order))
	assert.NoError(t, n.PaymentConfirmed(ctx, order))
	assert.NoError(t, n.SendReceipt(ctx, order, "r.txt", "text/plain", []byte("doc")))
}
