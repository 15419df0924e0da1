package alerts

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

// EmailConfig configures the email channel.
type EmailConfig struct {
	Addr     string // host:port
	Username string
	Password string
	From     string
	To       []string
	Timeout  time.Duration
}

// SendFunc delivers a composed message.
type SendFunc func(ctx context.Context, cfg EmailConfig, m *mail.Msg) error

// Email sends one plain-text message per alert.
type Email struct {
	cfg  EmailConfig
	send SendFunc
}

// NewEmail returns the email channel. send may be nil to use SMTP.
func NewEmail(cfg EmailConfig, send SendFunc) (*Email, error) {
	if cfg.Addr == "" || cfg.From == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("alerts: email needs addr, from and at least one recipient")
	}
	if _, _, err := splitAddr(cfg.Addr); err != nil {
		return nil, fmt.Errorf("alerts: email addr: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if send == nil {
		send = smtpSend
	}
	return &Email{cfg: cfg, send: send}, nil
}

func (e *Email) Name() string { return "email" }

func (e *Email) Notify(ctx context.Context, a Alert) error {
	m, err := e.message(a)
	if err == nil {
		err = e.send(ctx, e.cfg, m)
	}
	if err != nil {
		return &ErrSendFailed{Channel: e.Name(), Cause: err}
	}
	return nil
}

func (e *Email) message(a Alert) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(e.cfg.From); err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	if err := m.To(e.cfg.To...); err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	m.Subject("[kseo] " + a.Type + " alert")
	m.SetDateWithValue(a.SentAt.UTC())

	var b strings.Builder
	b.WriteString(a.Summary())
	b.WriteString("\n\n")
	for _, k := range []string{"url", "keyword", "primary_url", "delta", "suggestion"} {
		if v := field(a.Payload, k); v != "" {
			fmt.Fprintf(&b, "%s: %s\n", k, v)
		}
	}
	m.SetBodyString(mail.TypeTextPlain, b.String())
	return m, nil
}

// smtpSend uses STARTTLS when the relay offers it. The timeout bounds the
// dial and every command, so a dead relay cannot hang a batch.
func smtpSend(ctx context.Context, cfg EmailConfig, m *mail.Msg) error {
	host, port, err := splitAddr(cfg.Addr)
	if err != nil {
		return err
	}
	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTimeout(cfg.Timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password))
	}
	c, err := mail.NewClient(host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func splitAddr(addr string) (string, int, error) {
	host, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", p)
	}
	return host, port, nil
}
