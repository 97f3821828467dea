package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/cuongbtq/email-delivery/internal/domain"
)

// SMTPConfig holds the SMTP submission settings
type SMTPConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	FromEmail string
	FromName  string
	// ImplicitTLS dials TLS directly (port 465). Otherwise STARTTLS is
	// used when the server offers it.
	ImplicitTLS bool
}

// SMTPSender submits messages over SMTP, one connection per message
type SMTPSender struct {
	cfg SMTPConfig
	now func() time.Time
}

// NewSMTPSender creates a new SMTPSender
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg, now: time.Now}
}

// Name implements Sender
func (s *SMTPSender) Name() string { return "smtp" }

// Send delivers msg. The context deadline bounds the whole SMTP dialogue.
func (s *SMTPSender) Send(ctx context.Context, m *Message) error {
	msg := *m
	if msg.FromEmail == "" {
		msg.FromEmail = s.cfg.FromEmail
	}
	if msg.FromName == "" {
		msg.FromName = s.cfg.FromName
	}

	raw, err := buildMessage(&msg, s.now())
	if err != nil {
		return domain.NewPermanentError(err)
	}

	client, err := s.dial(ctx)
	if err != nil {
		return domain.NewTransientError(err)
	}
	defer client.Close()

	if s.cfg.User != "" && s.cfg.Password != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(smtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.Host)); err != nil {
				return domain.NewTransientError(fmt.Errorf("smtp auth failed: %w", err))
			}
		}
	}

	if err := client.Mail(msg.FromEmail); err != nil {
		return classifySMTP("MAIL FROM", err, false)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return classifySMTP("RCPT TO", err, true)
	}

	w, err := client.Data()
	if err != nil {
		return classifySMTP("DATA", err, false)
	}
	if _, err := w.Write(raw); err != nil {
		return classifySMTP("DATA", err, false)
	}
	if err := w.Close(); err != nil {
		return classifySMTP("DATA", err, false)
	}

	_ = client.Quit()
	return nil
}

func (s *SMTPSender) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to smtp server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if s.cfg.ImplicitTLS {
		conn = tls.Client(conn, &tls.Config{ServerName: s.cfg.Host})
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to start smtp session: %w", err)
	}

	if !s.cfg.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
				client.Close()
				return nil, fmt.Errorf("failed to start tls: %w", err)
			}
		}
	}

	return client, nil
}

// classifySMTP maps an SMTP reply to the failure taxonomy. Only a 5xx
// mailbox rejection at RCPT is a hard bounce; everything else, including
// timeouts and 4xx replies, may succeed later.
func classifySMTP(stage string, err error, recipient bool) error {
	wrapped := fmt.Errorf("%s: %w", stage, err)

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && recipient {
		switch tpErr.Code {
		case 550, 551, 553, 554:
			return domain.NewPermanentError(wrapped)
		}
	}
	return domain.NewTransientError(wrapped)
}
