package deliverability

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cuongbtq/email-delivery/internal/domain"
)

// Checklist item ids. They are stable because acknowledgements are keyed
// by them.
const (
	ItemSPFRecord      = "spf_record"
	ItemDKIMRecord     = "dkim_record"
	ItemDMARCRecord    = "dmarc_record"
	ItemSMTPConfigured = "smtp_configured"
	ItemPublicURLHTTPS = "public_url_https"
	ItemRateLimits     = "rate_limits"
	ItemDryRunMode     = "dry_run_mode"
	ItemTestSendMode   = "test_send_mode"
)

var knownItems = map[string]struct{}{
	ItemSPFRecord:      {},
	ItemDKIMRecord:     {},
	ItemDMARCRecord:    {},
	ItemSMTPConfigured: {},
	ItemPublicURLHTTPS: {},
	ItemRateLimits:     {},
	ItemDryRunMode:     {},
	ItemTestSendMode:   {},
}

// KnownItem reports whether id names a checklist item
func KnownItem(id string) bool {
	_, ok := knownItems[id]
	return ok
}

// ConfigReport is the configuration half of the checklist
type ConfigReport struct {
	SMTPConfigured bool   `json:"smtpConfigured"`
	PublicURL      string `json:"publicUrl"`
	PublicURLHTTPS bool   `json:"publicUrlHttps"`
	Domain         string `json:"domain"`
	DKIMSelector   string `json:"dkimSelector"`
	RatePerMinute  int    `json:"ratePerMinute"`
	RatePerHour    int    `json:"ratePerHour"`
	DryRunMode     bool   `json:"dryRunMode"`
	TestSendMode   bool   `json:"testSendMode"`
}

// ProviderReport describes the selected mail transport
type ProviderReport struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
}

// RecordTemplate is a DNS record the operator should publish
type RecordTemplate struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Host        string `json:"host"`
	Value       string `json:"value"`
	Description string `json:"description"`
}

// Recommendation is one actionable checklist warning
type Recommendation struct {
	ID             string     `json:"id"`
	Severity       string     `json:"severity"`
	Title          string     `json:"title"`
	Detail         string     `json:"detail"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
}

// Checklist is the unified deliverability report
type Checklist struct {
	DNS              Status                         `json:"dns"`
	Config           ConfigReport                   `json:"config"`
	Provider         ProviderReport                 `json:"provider"`
	RecordTemplates  []RecordTemplate               `json:"recordTemplates"`
	Recommendations  []Recommendation               `json:"recommendations"`
	Acknowledgements map[string]domain.ChecklistAck `json:"acknowledgements"`
}

// Checklist combines the config snapshot with a fresh DNS status. The dns
// block carries the same values Status returns.
func (m *Monitor) Checklist(ctx context.Context) (*Checklist, error) {
	acks, err := m.acks.ListAcks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load acknowledgements: %w", err)
	}
	ackByID := make(map[string]domain.ChecklistAck, len(acks))
	for _, a := range acks {
		ackByID[a.ItemID] = a
	}

	status := m.Status(ctx)
	cfg := m.configReport()

	recommendations := []Recommendation{}
	if m.settings.WarningsEnabled {
		recommendations = m.recommendations(status, cfg)
		for i := range recommendations {
			if a, ok := ackByID[recommendations[i].ID]; ok {
				at := a.AcknowledgedAt
				recommendations[i].Acknowledged = true
				recommendations[i].AcknowledgedAt = &at
			}
		}
	}

	return &Checklist{
		DNS:              status,
		Config:           cfg,
		Provider:         ProviderReport{Name: m.provider, Configured: m.providerConfigured},
		RecordTemplates:  m.recordTemplates(),
		Recommendations:  recommendations,
		Acknowledgements: ackByID,
	}, nil
}

// Acknowledge dismisses a checklist item. Unknown ids are rejected and a
// repeated acknowledgement keeps the first record.
func (m *Monitor) Acknowledge(ctx context.Context, itemID, by string) (*domain.ChecklistAck, error) {
	if !KnownItem(itemID) {
		return nil, domain.ErrUnknownChecklistItem
	}
	return m.acks.Acknowledge(ctx, itemID, by)
}

func (m *Monitor) configReport() ConfigReport {
	return ConfigReport{
		SMTPConfigured: m.smtpConfigured,
		PublicURL:      m.settings.PublicURL,
		PublicURLHTTPS: isHTTPS(m.settings.PublicURL),
		Domain:         m.settings.Domain,
		DKIMSelector:   m.settings.DKIMSelector,
		RatePerMinute:  m.ratePerMinute,
		RatePerHour:    m.ratePerHour,
		DryRunMode:     m.dryRunMode,
		TestSendMode:   m.testSendMode,
	}
}

func isHTTPS(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && strings.EqualFold(u.Scheme, "https") && u.Host != ""
}

func (m *Monitor) recordTemplates() []RecordTemplate {
	d := m.settings.Domain
	if d == "" {
		d = "example.com"
	}

	include := "include:amazonses.com"
	if m.provider != "ses" {
		include = "a mx"
	}

	return []RecordTemplate{
		{
			ID:          ItemSPFRecord,
			Type:        "TXT",
			Host:        recordHost(RecordSPF, d, m.settings.DKIMSelector),
			Value:       fmt.Sprintf("v=spf1 %s -all", include),
			Description: "Authorizes your mail servers to send for the domain",
		},
		{
			ID:          ItemDKIMRecord,
			Type:        "TXT",
			Host:        recordHost(RecordDKIM, d, m.settings.DKIMSelector),
			Value:       "v=DKIM1; k=rsa; p=<public key from your provider>",
			Description: "Publishes the key receivers use to verify message signatures",
		},
		{
			ID:          ItemDMARCRecord,
			Type:        "TXT",
			Host:        recordHost(RecordDMARC, d, m.settings.DKIMSelector),
			Value:       fmt.Sprintf("v=DMARC1; p=quarantine; rua=mailto:dmarc@%s", d),
			Description: "Tells receivers what to do with mail failing SPF and DKIM",
		},
	}
}

func (m *Monitor) recommendations(status Status, cfg ConfigReport) []Recommendation {
	var out []Recommendation
	add := func(id, severity, title, detail string) {
		out = append(out, Recommendation{ID: id, Severity: severity, Title: title, Detail: detail})
	}

	if !status.SPFConfigured {
		add(ItemSPFRecord, "critical", "Add an SPF record",
			"Publish the SPF record template so receivers accept mail from your servers.")
	}
	if !status.DKIMConfigured {
		add(ItemDKIMRecord, "critical", "Add a DKIM record",
			fmt.Sprintf("Publish your DKIM public key at selector %q.", cfg.DKIMSelector))
	}
	if !status.DMARCConfigured {
		add(ItemDMARCRecord, "warning", "Add a DMARC policy",
			"Start with p=quarantine and a reporting address.")
	}
	if !m.providerConfigured {
		add(ItemSMTPConfigured, "critical", "Configure mail transport",
			"Jobs are parked until transport credentials are set.")
	}
	if !cfg.PublicURLHTTPS {
		add(ItemPublicURLHTTPS, "warning", "Serve the public URL over HTTPS",
			"Unsubscribe links are built from PUBLIC_URL and should use https.")
	}
	if cfg.RatePerMinute <= 0 && cfg.RatePerHour <= 0 {
		add(ItemRateLimits, "warning", "Set sending rate limits",
			"Unlimited sending can hurt a new domain's reputation.")
	}
	if cfg.DryRunMode {
		add(ItemDryRunMode, "info", "Dry-run mode is on",
			"Jobs are marked sent without contacting the mail server.")
	}
	if cfg.TestSendMode {
		add(ItemTestSendMode, "info", "Test-send mode is on",
			"Only allowlisted recipients receive mail.")
	}

	if out == nil {
		return []Recommendation{}
	}
	return out
}
