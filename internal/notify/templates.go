package notify

import (
	"fmt"
	"html/template"
)

var templateFuncs = template.FuncMap{
	"money": formatMoney,
}

// formatMoney renders a cent amount as dollars.
func formatMoney(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

const emailTemplates = `
{{define "order_received"}}
<h2>Thank you for your order!</h2>
<p>Dear {{.CustomerName}},</p>
<p>Your order #{{.ID}} has been received and is being processed.</p>
<h3>Order Details:</h3>
<ul>
{{range .Items}}  <li>{{.Name}} - {{money .Price}}</li>
{{end}}</ul>
<p>Subtotal: {{money .Subtotal}}<br>
Tax: {{money .Tax}}<br>
<strong>Total: {{money .Total}}</strong></p>
<p>You will receive another email once your order ships.</p>
{{end}}

{{define "order_shipped"}}
<h2>Your order is on its way!</h2>
<p>Dear {{.CustomerName}},</p>
<p>Your order #{{.ID}} has shipped!</p>
<p><strong>Tracking Number:</strong> {{.TrackingReference}}</p>
<p>You can track your package using the tracking number above.</p>
{{end}}

{{define "payment_confirmed"}}
<h2>Payment received</h2>
<p>Dear {{.CustomerName}},</p>
<p>We have received your payment of <strong>{{money .Total}}</strong> for order #{{.ID}}.</p>
<p>Thank you for your business!</p>
{{end}}

{{define "receipt"}}
<h2>Receipt for Your Order</h2>
<p>Dear {{.CustomerName}},</p>
<p>Please find attached your receipt for order #{{.ID}}.</p>
<p><strong>Order Total: {{money .Total}}</strong></p>
<p>Thank you for your business!</p>
{{end}}
`
