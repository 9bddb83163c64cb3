package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/consortium-members/membership-backend/internal/config"
)

// Message is a rendered email ready for delivery
type Message struct {
	ID      string // RFC 5322 Message-ID without angle brackets
	From    string
	To      string
	Subject string
	Body    string
	Date    time.Time
}

// NewMessage builds a message with a fresh ULID-based Message-ID
func NewMessage(from, to, subject, body string, now time.Time) *Message {
	domain := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = strings.Trim(from[at+1:], "> ")
	}
	return &Message{
		ID:      ulid.Make().String() + "@" + domain,
		From:    from,
		To:      to,
		Subject: subject,
		Body:    body,
		Date:    now,
	}
}

// Bytes returns the wire form of the message with CRLF line endings
func (m *Message) Bytes() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "Message-ID: <%s>\r\n", m.ID)
	fmt.Fprintf(&b, "Date: %s\r\n", m.Date.UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "From: %s\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(m.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	body := strings.ReplaceAll(m.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\r\n")
	}
	return []byte(b.String())
}

// sanitizeHeader strips line breaks so a subject can never inject headers
func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

// Mailer delivers rendered messages
type Mailer interface {
	Send(ctx context.Context, msg *Message) error
}

// NewMailer returns an SMTP mailer when a host is configured and a logging
// mailer otherwise, so development setups work without a mail server.
func NewMailer(cfg *config.SMTPConfig) Mailer {
	if cfg == nil || cfg.Host == "" {
		return LogMailer{}
	}
	return &SMTPMailer{cfg: cfg}
}

// SMTPMailer sends mail through the configured SMTP relay
type SMTPMailer struct {
	cfg *config.SMTPConfig
}

// Send delivers msg. The context bounds only the TLS dial; net/smtp has no
// context support past that point.
func (m *SMTPMailer) Send(ctx context.Context, msg *Message) error {
	addr := net.JoinHostPort(m.cfg.Host, fmt.Sprintf("%d", m.cfg.Port))
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if m.cfg.UseTLS {
		return sendMailTLS(ctx, addr, m.cfg.Host, auth, msg.From, []string{msg.To}, msg.Bytes())
	}
	return smtp.SendMail(addr, auth, msg.From, []string{msg.To}, msg.Bytes())
}

// sendMailTLS connects via implicit TLS (port 465) and sends a message. When the
// TLS dial fails it falls back to smtp.SendMail, which upgrades with STARTTLS on 587.
func sendMailTLS(ctx context.Context, addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	dialer := &tls.Dialer{Config: &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return smtp.SendMail(addr, auth, from, to, msg)
	}
	defer conn.Close()

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer c.Quit() //nolint:errcheck

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	return w.Close()
}

// LogMailer writes messages to the log instead of sending them
type LogMailer struct{}

// Send logs the envelope and subject of msg
func (LogMailer) Send(_ context.Context, msg *Message) error {
	slog.Info("notification (smtp not configured)", "message_id", msg.ID, "to", msg.To, "subject", msg.Subject)
	return nil
}
