package deliverability

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cuongbtq/email-delivery/internal/domain"
	"github.com/cuongbtq/email-delivery/internal/metrics"
	"golang.org/x/sync/errgroup"
)

const defaultLookupTimeout = 3 * time.Second

// AckStore persists checklist acknowledgements
type AckStore interface {
	ListAcks(ctx context.Context) ([]domain.ChecklistAck, error)
	Acknowledge(ctx context.Context, itemID, by string) (*domain.ChecklistAck, error)
}

// Config holds monitor configuration. It is a snapshot taken at startup.
type Config struct {
	Logger             *slog.Logger
	Resolver           Resolver
	Acks               AckStore
	Metrics            *metrics.Metrics
	Settings           domain.DeliverabilityConfig
	Provider           string
	ProviderConfigured bool
	SMTPConfigured     bool
	RatePerMinute      int
	RatePerHour        int
	DryRunMode         bool
	TestSendMode       bool
	LookupTimeout      time.Duration
}

// Monitor answers the deliverability read paths. It holds no state across
// calls and never touches the job queue.
type Monitor struct {
	logger             *slog.Logger
	resolver           Resolver
	acks               AckStore
	metrics            *metrics.Metrics
	settings           domain.DeliverabilityConfig
	provider           string
	providerConfigured bool
	smtpConfigured     bool
	ratePerMinute      int
	ratePerHour        int
	dryRunMode         bool
	testSendMode       bool
	lookupTimeout      time.Duration
}

// NewMonitor creates a new Monitor
func NewMonitor(cfg *Config) *Monitor {
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}

	return &Monitor{
		logger:             cfg.Logger,
		resolver:           resolver,
		acks:               cfg.Acks,
		metrics:            cfg.Metrics,
		settings:           cfg.Settings,
		provider:           cfg.Provider,
		providerConfigured: cfg.ProviderConfigured,
		smtpConfigured:     cfg.SMTPConfigured,
		ratePerMinute:      cfg.RatePerMinute,
		ratePerHour:        cfg.RatePerHour,
		dryRunMode:         cfg.DryRunMode,
		testSendMode:       cfg.TestSendMode,
		lookupTimeout:      timeout,
	}
}

// Status is the SPF/DKIM/DMARC posture
type Status struct {
	SPFConfigured   bool           `json:"spfConfigured"`
	DKIMConfigured  bool           `json:"dkimConfigured"`
	DMARCConfigured bool           `json:"dmarcConfigured"`
	Details         *StatusDetails `json:"details,omitempty"`
}

// StatusDetails carries the per-record checks
type StatusDetails struct {
	Domain string      `json:"domain,omitempty"`
	SPF    RecordCheck `json:"spf"`
	DKIM   RecordCheck `json:"dkim"`
	DMARC  RecordCheck `json:"dmarc"`
}

// Status runs the three TXT lookups concurrently. A lookup that cannot be
// completed reports the configured flag for that record, never false.
func (m *Monitor) Status(ctx context.Context) Status {
	s := m.settings
	fallbacks := map[string]bool{
		RecordSPF:   s.SPFConfigured,
		RecordDKIM:  s.DKIMConfigured,
		RecordDMARC: s.DMARCConfigured,
	}

	checks := make(map[string]RecordCheck, 3)
	var mu sync.Mutex

	if s.Domain == "" {
		for record, fallback := range fallbacks {
			checks[record] = resolve(RecordCheck{
				Record: record,
				Status: CheckUnavailable,
				Error:  "no deliverability domain configured",
			}, fallback)
		}
	} else {
		lookupCtx, cancel := context.WithTimeout(ctx, m.lookupTimeout)
		defer cancel()

		var g errgroup.Group
		for _, record := range []string{RecordSPF, RecordDKIM, RecordDMARC} {
			g.Go(func() error {
				host := recordHost(record, s.Domain, s.DKIMSelector)
				status, value, err := lookup(lookupCtx, m.resolver, record, host)
				check := RecordCheck{Record: record, Host: host, Status: status, Value: value}
				if err != nil {
					check.Error = "dns lookup failed"
					m.logger.Warn("Deliverability DNS lookup failed",
						slog.String("record", record),
						slog.String("host", host),
						slog.Any("error", err),
					)
				}
				m.metrics.RecordDNSCheck(record, string(status))

				mu.Lock()
				checks[record] = resolve(check, fallbacks[record])
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	return Status{
		SPFConfigured:   checks[RecordSPF].Configured,
		DKIMConfigured:  checks[RecordDKIM].Configured,
		DMARCConfigured: checks[RecordDMARC].Configured,
		Details: &StatusDetails{
			Domain: s.Domain,
			SPF:    checks[RecordSPF],
			DKIM:   checks[RecordDKIM],
			DMARC:  checks[RecordDMARC],
		},
	}
}
