// Package channel implements the delivery-medium adapters that carry a
// notification to its recipient: email, in-app, webhook and logging.
package channel

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/insider-one/notification-engine/internal/config"
	"github.com/insider-one/notification-engine/internal/domain"
)

const maxSMTPConnectAttempts = 3

// smtpConnectionManager owns a single persistent SMTP connection: STARTTLS
// and auth happen once on connect, a NOOP probe gates reuse so a send never
// hits a relay that already dropped the line, and reconnect backs off
// exponentially between ReconnectBaseDelay and ReconnectMaxDelay.
type smtpConnectionManager struct {
	cfg config.SMTPConfig

	mu       sync.Mutex
	client   *smtp.Client
	lastNoop time.Time
}

func newSMTPConnectionManager(cfg config.SMTPConfig) *smtpConnectionManager {
	return &smtpConnectionManager{cfg: cfg}
}

// ensureConnected returns a live client, probing with NOOP once the last
// probe is older than NOOPInterval and reconnecting on failure. Caller must
// hold mu.
func (m *smtpConnectionManager) ensureConnected(ctx context.Context) (*smtp.Client, error) {
	if m.client != nil {
		if time.Since(m.lastNoop) < m.cfg.NOOPInterval {
			return m.client, nil
		}
		if err := m.client.Noop(); err == nil {
			m.lastNoop = time.Now()
			return m.client, nil
		}
		m.client.Close()
		m.client = nil
	}
	return m.connect(ctx)
}

func (m *smtpConnectionManager) connect(ctx context.Context) (*smtp.Client, error) {
	delay := m.cfg.ReconnectBaseDelay
	if delay <= 0 {
		delay = time.Second
	}
	var lastErr error
	for attempt := 1; attempt <= maxSMTPConnectAttempts; attempt++ {
		c, err := m.dial(ctx)
		if err == nil {
			m.client = c
			m.lastNoop = time.Now()
			return c, nil
		}
		lastErr = err
		if attempt == maxSMTPConnectAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
		if m.cfg.ReconnectMaxDelay > 0 && delay > m.cfg.ReconnectMaxDelay {
			delay = m.cfg.ReconnectMaxDelay
		}
	}
	return nil, fmt.Errorf("establish smtp connection after %d attempts: %w", maxSMTPConnectAttempts, lastErr)
}

func (m *smtpConnectionManager) dial(ctx context.Context) (*smtp.Client, error) {
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	d := net.Dialer{Timeout: m.cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
			c.Close()
			return nil, fmt.Errorf("starttls: %w", err)
		}
	}

	if m.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
			if err := c.Auth(auth); err != nil {
				c.Close()
				return nil, fmt.Errorf("auth: %w", err)
			}
		}
	}

	if err := c.Noop(); err != nil {
		c.Close()
		return nil, fmt.Errorf("noop probe: %w", err)
	}
	return c, nil
}

// send delivers msg over the managed connection, tearing it down on any
// protocol error so the next call reconnects rather than reusing a
// half-broken session.
func (m *smtpConnectionManager) send(ctx context.Context, from, to string, msg []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, err := m.ensureConnected(ctx)
	if err != nil {
		return err
	}
	if err := deliver(client, from, to, msg); err != nil {
		client.Close()
		m.client = nil
		return err
	}
	return nil
}

func deliver(c *smtp.Client, from, to string, msg []byte) error {
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("write body: %w", err)
	}
	return w.Close()
}

func (m *smtpConnectionManager) healthCheck() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return fmt.Errorf("smtp: no active connection")
	}
	if err := m.client.Noop(); err != nil {
		m.client.Close()
		m.client = nil
		return err
	}
	m.lastNoop = time.Now()
	return nil
}

func (m *smtpConnectionManager) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		m.client.Quit()
		m.client = nil
	}
}

// EmailAdapter delivers notifications over a persistent SMTP connection,
// sending multipart/alternative messages with personalized plain-text and
// HTML bodies.
type EmailAdapter struct {
	cfg  config.SMTPConfig
	conn *smtpConnectionManager
}

func NewEmailAdapter(cfg config.SMTPConfig) *EmailAdapter {
	return &EmailAdapter{cfg: cfg, conn: newSMTPConnectionManager(cfg)}
}

func (a *EmailAdapter) Channel() domain.Channel { return domain.ChannelEmail }

func (a *EmailAdapter) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		Channel:                domain.ChannelEmail,
		SupportsRichBody:       true,
		SupportsBatch:          false,
		MaxBodySizeBytes:       10 * 1024 * 1024,
		RequiresRecipientEmail: true,
	}
}

func (a *EmailAdapter) Initialize(ctx context.Context) error {
	if a.cfg.Host == "" {
		return fmt.Errorf("email adapter: smtp host not configured")
	}
	a.conn.mu.Lock()
	_, err := a.conn.ensureConnected(ctx)
	a.conn.mu.Unlock()
	return err
}

func (a *EmailAdapter) HealthCheck(ctx context.Context) error {
	return a.conn.healthCheck()
}

func (a *EmailAdapter) Send(ctx context.Context, dctx domain.DeliveryContext) domain.DeliveryResult {
	start := time.Now()

	if dctx.Recipient.Email == nil || *dctx.Recipient.Email == "" {
		return domain.DeliveryResult{
			Err: domain.NewDeliveryError(domain.ErrorKindValidation, "recipient has no email address", nil),
		}
	}
	if max := a.Capabilities().MaxBodySizeBytes; len(dctx.Notification.Content.Body) > max {
		return domain.DeliveryResult{
			Err: domain.NewDeliveryError(domain.ErrorKindValidation, "message body exceeds channel size limit", nil),
		}
	}

	msg, err := a.buildMessage(dctx)
	if err != nil {
		return domain.DeliveryResult{
			DurationMs: time.Since(start).Milliseconds(),
			Err:        domain.NewDeliveryError(domain.ErrorKindUnexpected, "failed to build email message", err),
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- a.conn.send(ctx, a.cfg.FromEmail, *dctx.Recipient.Email, msg)
	}()

	select {
	case <-ctx.Done():
		return domain.DeliveryResult{
			DurationMs: time.Since(start).Milliseconds(),
			Err:        domain.NewDeliveryError(domain.ErrorKindOperationTimeout, "email send cancelled", ctx.Err()),
		}
	case err := <-done:
		duration := time.Since(start).Milliseconds()
		if err != nil {
			return domain.DeliveryResult{
				DurationMs: duration,
				Err:        domain.NewDeliveryError(classifySMTPError(err), "smtp send failed", err),
			}
		}
		return domain.DeliveryResult{
			Success:     true,
			ProviderRef: fmt.Sprintf("smtp-%d", time.Now().UnixNano()),
			DurationMs:  duration,
		}
	}
}

func (a *EmailAdapter) Shutdown(ctx context.Context) error {
	a.conn.close()
	return nil
}

// buildMessage renders a multipart/alternative message (plain text + HTML)
// carrying the headers a receiving system needs to correlate delivery back
// to a notification (Message-ID, Date, X-Notification-ID, X-User-ID,
// X-Correlation-ID), with personalization tokens substituted into both the
// subject and body.
func (a *EmailAdapter) buildMessage(dctx domain.DeliveryContext) ([]byte, error) {
	n := dctx.Notification
	to := *dctx.Recipient.Email

	subject := personalize(n.Content.Subject, n, dctx.Recipient)

	textBody := n.Content.Body
	for k, v := range n.Content.TemplateVars {
		textBody = strings.ReplaceAll(textBody, "{{"+k+"}}", v)
	}
	textBody = personalize(textBody, n, dctx.Recipient)

	htmlBody := domain.BuildHTMLBody(subject, textBody)
	if n.Content.RichBody != nil {
		htmlBody = personalize(*n.Content.RichBody, n, dctx.Recipient)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s <%s>\r\n", a.cfg.FromName, a.cfg.FromEmail)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "Message-ID: <%s@notification-engine.local>\r\n", n.ID.String())
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "X-Notification-ID: %s\r\n", n.ID.String())
	fmt.Fprintf(&buf, "X-User-ID: %s\r\n", dctx.Recipient.UserID)
	fmt.Fprintf(&buf, "X-Correlation-ID: %s\r\n", dctx.CorrelationID)
	buf.WriteString("MIME-Version: 1.0\r\n")

	mw := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", mw.Boundary())

	textPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=UTF-8"}})
	if err != nil {
		return nil, err
	}
	if _, err := textPart.Write([]byte(textBody)); err != nil {
		return nil, err
	}

	htmlPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/html; charset=UTF-8"}})
	if err != nil {
		return nil, err
	}
	if _, err := htmlPart.Write([]byte(htmlBody)); err != nil {
		return nil, err
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// personalize substitutes the supported personalization tokens into s. user_name
// has no dedicated field on Recipient, so it falls back to the recipient's
// user ID, same as user_id itself.
func personalize(s string, n *domain.Notification, recipient domain.Recipient) string {
	email := ""
	if recipient.Email != nil {
		email = *recipient.Email
	}
	replacements := map[string]string{
		"{user_name}":          recipient.UserID,
		"{user_email}":         email,
		"{notification_title}": n.Content.Subject,
		"{user_id}":            recipient.UserID,
	}
	for placeholder, value := range replacements {
		s = strings.ReplaceAll(s, placeholder, value)
	}
	return s
}

// classifySMTPError maps a raw smtp error into a DeliveryError kind. 4xx
// replies are transient, 5xx are permanent; anything else is a network fault.
func classifySMTPError(err error) domain.ErrorKind {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "421"), strings.Contains(msg, "450"), strings.Contains(msg, "451"), strings.Contains(msg, "452"):
		return domain.ErrorKindProviderTransient
	case strings.Contains(msg, "550"), strings.Contains(msg, "551"), strings.Contains(msg, "553"), strings.Contains(msg, "554"):
		return domain.ErrorKindProviderPermanent
	default:
		return domain.ErrorKindNetwork
	}
}
