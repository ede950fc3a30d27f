// Package receipt renders an order snapshot into a downloadable document.
// Rendering is a pure function of the order: it may be called zero or many
// times for the same order (on-demand download, resend by email) and always
// produces the same bytes for the same snapshot.
package receipt

import (
	"bytes"
	"fmt"
	"strings"

	"fulfillment-service/internal/models"
)

// Renderer produces a binary receipt document for an order.
type Renderer interface {
	Render(order *models.Order) ([]byte, error)
	ContentType() string
	Filename(order *models.Order) string
}

// TextRenderer renders a fixed-width plain-text receipt.
type TextRenderer struct {
	// CompanyName appears in the receipt header.
	CompanyName string
}

var _ Renderer = (*TextRenderer)(nil)

func NewTextRenderer(companyName string) *TextRenderer {
	return &TextRenderer{CompanyName: companyName}
}

func (r *TextRenderer) ContentType() string {
	return "text/plain; charset=utf-8"
}

func (r *TextRenderer) Filename(order *models.Order) string {
	return fmt.Sprintf("receipt-%s.txt", order.ID)
}

const receiptWidth = 60

func (r *TextRenderer) Render(order *models.Order) ([]byte, error) {
	var buf bytes.Buffer
	rule := strings.Repeat("=", receiptWidth)
	thin := strings.Repeat("-", receiptWidth)

	fmt.Fprintln(&buf, rule)
	fmt.Fprintln(&buf, center(r.CompanyName))
	fmt.Fprintln(&buf, center("RECEIPT"))
	fmt.Fprintln(&buf, rule)

	fmt.Fprintf(&buf, "Order:   #%s\n", order.ID)
	fmt.Fprintf(&buf, "Date:    %s\n", order.CreatedAt.UTC().Format("2006-01-02 15:04 UTC"))
	fmt.Fprintf(&buf, "Status:  %s (payment %s)\n", order.Status, order.PaymentStatus)
	fmt.Fprintln(&buf)

	fmt.Fprintf(&buf, "Billed to: %s <%s>\n", order.CustomerName, order.CustomerEmail)
	if !order.ShippingAddress.IsZero() {
		a := order.ShippingAddress
		fmt.Fprintf(&buf, "Ship to:   %s, %s, %s %s\n", a.Street, a.City, a.State, a.Zip)
	}
	fmt.Fprintln(&buf, thin)

	for _, item := range order.Items {
		fmt.Fprintln(&buf, lineItem(item.Name, item.Price))
	}
	fmt.Fprintln(&buf, thin)

	fmt.Fprintln(&buf, lineItem("Subtotal", order.Subtotal))
	fmt.Fprintln(&buf, lineItem("Tax", order.Tax))
	fmt.Fprintln(&buf, lineItem("TOTAL", order.Total))

	if order.PaymentReference != "" {
		fmt.Fprintln(&buf)
		fmt.Fprintf(&buf, "Payment reference: %s\n", order.PaymentReference)
	}

	fmt.Fprintln(&buf, rule)
	fmt.Fprintln(&buf, center("Thank you for your business!"))
	fmt.Fprintln(&buf, rule)

	return buf.Bytes(), nil
}

func lineItem(name string, cents int64) string {
	amount := fmt.Sprintf("$%d.%02d", cents/100, cents%100)
	pad := receiptWidth - len(name) - len(amount)
	if pad < 1 {
		pad = 1
	}
	return name + strings.Repeat(" ", pad) + amount
}

func center(s string) string {
	if len(s) >= receiptWidth {
		return s
	}
	return strings.Repeat(" ", (receiptWidth-len(s))/2) + s
}
