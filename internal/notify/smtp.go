package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/smtp"
	"time"

	"fulfillment-service/internal/errs"
	"fulfillment-service/internal/models"

	"go.uber.org/zap"
)

// SMTPConfig holds connection credentials for the mail relay.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// SMTPNotifier sends templated transactional emails over SMTP.
type SMTPNotifier struct {
	cfg    SMTPConfig
	tmpl   *template.Template
	logger *zap.Logger
}

var _ Notifier = (*SMTPNotifier)(nil)

// NewSMTPNotifier creates a notifier with the built-in templates parsed.
func NewSMTPNotifier(cfg SMTPConfig, logger *zap.Logger) *SMTPNotifier {
	return &SMTPNotifier{
		cfg:    cfg,
		tmpl:   template.Must(template.New("emails").Funcs(templateFuncs).Parse(emailTemplates)),
		logger: logger,
	}
}

func (n *SMTPNotifier) OrderReceived(ctx context.Context, order *models.Order) error {
	subject := fmt.Sprintf("Order Confirmation - #%s", order.ID)
	return n.sendTemplate(ctx, order, subject, "order_received", nil, "", "")
}

func (n *SMTPNotifier) OrderShipped(ctx context.Context, order *models.Order) error {
	subject := fmt.Sprintf("Your Order Has Shipped - #%s", order.ID)
	return n.sendTemplate(ctx, order, subject, "order_shipped", nil, "", "")
}

func (n *SMTPNotifier) PaymentConfirmed(ctx context.Context, order *models.Order) error {
	subject := fmt.Sprintf("Payment Received - #%s", order.ID)
	return n.sendTemplate(ctx, order, subject, "payment_confirmed", nil, "", "")
}

func (n *SMTPNotifier) SendReceipt(ctx context.Context, order *models.Order, filename, contentType string, document []byte) error {
	subject := fmt.Sprintf("Receipt for Order #%s", order.ID)
	return n.sendTemplate(ctx, order, subject, "receipt", document, filename, contentType)
}

func (n *SMTPNotifier) sendTemplate(ctx context.Context, order *models.Order, subject, name string, attachment []byte, filename, contentType string) error {
	var body bytes.Buffer
	if err := n.tmpl.ExecuteTemplate(&body, name, order); err != nil {
		return errs.NewGatewayError("notification", err)
	}

	msg := n.buildMessage(order.CustomerEmail, subject, body.Bytes(), attachment, filename, contentType)
	if err := n.send(ctx, order.CustomerEmail, msg); err != nil {
		return errs.NewGatewayError("notification", err)
	}

	n.logger.Info("Email sent",
		zap.String("template", name),
		zap.String("to", order.CustomerEmail),
		zap.String("order_id", order.ID))
	return nil
}

// buildMessage assembles an RFC 2045 message, multipart when an attachment
// is present.
func (n *SMTPNotifier) buildMessage(to, subject string, htmlBody, attachment []byte, filename, contentType string) []byte {
	var buf bytes.Buffer

	from := n.cfg.From
	if n.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", n.cfg.FromName), n.cfg.From)
	}

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	buf.WriteString("MIME-Version: 1.0\r\n")

	if attachment == nil {
		buf.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n\r\n")
		buf.Write(htmlBody)
		return buf.Bytes()
	}

	const boundary = "fulfillment-mime-boundary"
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", boundary)

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	buf.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n\r\n")
	buf.Write(htmlBody)
	buf.WriteString("\r\n")

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	fmt.Fprintf(&buf, "Content-Type: %s\r\n", contentType)
	buf.WriteString("Content-Transfer-Encoding: base64\r\n")
	fmt.Fprintf(&buf, "Content-Disposition: attachment; filename=%q\r\n\r\n", filename)

	encoded := base64.StdEncoding.EncodeToString(attachment)
	for len(encoded) > 76 {
		buf.WriteString(encoded[:76])
		buf.WriteString("\r\n")
		encoded = encoded[76:]
	}
	buf.WriteString(encoded)
	buf.WriteString("\r\n")
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)

	return buf.Bytes()
}

// send delivers the message over a context-bounded SMTP session. The caller
// controls the deadline; expiry surfaces as an error the orchestrator
// swallows.
func (n *SMTPNotifier) send(ctx context.Context, to string, msg []byte) error {
	addr := net.JoinHostPort(n.cfg.Host, n.cfg.Port)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	}

	c, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: n.cfg.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if n.cfg.Username != "" {
		auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(n.cfg.From); err != nil {
		return fmt.Errorf("smtp mail: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close: %w", err)
	}

	return c.Quit()
}
