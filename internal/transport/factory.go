package transport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/email-delivery/internal/config"
)

// New selects the Sender for the configured provider. Dry-run wins over
// any provider; missing credentials yield Unconfigured rather than an error
// so the worker keeps running.
func New(ctx context.Context, cfg config.TransportConfig, dryRun bool, log *slog.Logger) (Sender, error) {
	if dryRun {
		return NewDrySender(log), nil
	}

	switch cfg.Provider {
	case "ses":
		if !cfg.SES.Configured() {
			return Unconfigured{}, nil
		}
		return NewSESSender(ctx, SESConfig{
			Region:    cfg.SES.Region,
			AccessKey: cfg.SES.AccessKey,
			SecretKey: cfg.SES.SecretKey,
			FromEmail: cfg.SES.FromEmail,
			FromName:  cfg.SES.FromName,
		})
	case "smtp", "":
		if !cfg.SMTP.Configured() {
			return Unconfigured{}, nil
		}
		return NewSMTPSender(SMTPConfig{
			Host:        cfg.SMTP.Host,
			Port:        cfg.SMTP.Port,
			User:        cfg.SMTP.User,
			Password:    cfg.SMTP.Password,
			FromEmail:   cfg.SMTP.FromEmail,
			FromName:    cfg.SMTP.FromName,
			ImplicitTLS: cfg.SMTP.UseTLS,
		}), nil
	default:
		return nil, fmt.Errorf("unknown transport provider: %s", cfg.Provider)
	}
}
