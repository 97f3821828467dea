// Package transport hands rendered messages to the mail-submission
// collaborator and classifies its failures as transient or permanent.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/cuongbtq/email-delivery/shared/logger"
)

// ErrNotConfigured is returned by every send when no transport credentials
// are set. It is a configuration condition, not a delivery failure.
var ErrNotConfigured = errors.New("mail transport is not configured")

// Message is one outbound email
type Message struct {
	JobID          string
	CampaignID     string
	To             string
	FromEmail      string
	FromName       string
	ReplyTo        string
	Subject        string
	HTML           string
	Text           string
	UnsubscribeURL string
}

// Sender delivers a single message. Returned errors wrap either
// *domain.PermanentError or *domain.TransientError, or are ErrNotConfigured.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
	Name() string
}

// DrySender simulates delivery without contacting any server
type DrySender struct {
	logger *slog.Logger
	sent   atomic.Int64
}

// NewDrySender creates a new DrySender
func NewDrySender(log *slog.Logger) *DrySender {
	return &DrySender{logger: log}
}

// Send logs the message and reports success
func (d *DrySender) Send(_ context.Context, msg *Message) error {
	d.sent.Add(1)
	d.logger.Info("Dry-run send",
		slog.String("job_id", msg.JobID),
		logger.Email("to", msg.To),
		slog.String("subject", msg.Subject),
	)
	return nil
}

// Sent returns how many messages were simulated
func (d *DrySender) Sent() int64 {
	return d.sent.Load()
}

// Name implements Sender
func (d *DrySender) Name() string { return "dry-run" }

// Unconfigured is the Sender used when no credentials are set
type Unconfigured struct{}

// Send always fails with ErrNotConfigured
func (Unconfigured) Send(context.Context, *Message) error { return ErrNotConfigured }

// Name implements Sender
func (Unconfigured) Name() string { return "unconfigured" }

// Configured reports whether s can attempt delivery at all
func Configured(s Sender) bool {
	switch s.(type) {
	case Unconfigured, *Unconfigured:
		return false
	}
	return true
}
