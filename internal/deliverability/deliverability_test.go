package deliverability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/email-delivery/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type answer struct {
	txts []string
	err  error
}

type fakeResolver struct {
	answers  map[string]answer
	fallback error
}

func (r *fakeResolver) LookupTXT(_ context.Context, name string) ([]string, error) {
	if a, ok := r.answers[name]; ok {
		return a.txts, a.err
	}
	if r.fallback != nil {
		return nil, r.fallback
	}
	return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
}

type fakeAcks struct {
	mu   sync.Mutex
	acks map[string]domain.ChecklistAck
	err  error
}

func (f *fakeAcks) ListAcks(context.Context) ([]domain.ChecklistAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := []domain.ChecklistAck{}
	for _, a := range f.acks {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeAcks) Acknowledge(_ context.Context, itemID, by string) (*domain.ChecklistAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acks == nil {
		f.acks = map[string]domain.ChecklistAck{}
	}
	if a, ok := f.acks[itemID]; ok {
		return &a, nil
	}
	a := domain.ChecklistAck{ItemID: itemID, AcknowledgedAt: time.Now().UTC(), AcknowledgedBy: by}
	f.acks[itemID] = a
	return &a, nil
}

func newTestMonitor(resolver Resolver, settings domain.DeliverabilityConfig, acks *fakeAcks) *Monitor {
	if acks == nil {
		acks = &fakeAcks{}
	}
	return NewMonitor(&Config{
		Logger:        discardLogger(),
		Resolver:      resolver,
		Acks:          acks,
		Settings:      settings,
		Provider:      "smtp",
		LookupTimeout: time.Second,
	})
}

func TestMonitor_Status_Verified(t *testing.T) {
	resolver := &fakeResolver{answers: map[string]answer{
		"example.com":                 {txts: []string{"google-site-verification=abc", "v=spf1 include:amazonses.com -all"}},
		"mail._domainkey.example.com": {txts: []string{"v=DKIM1; k=rsa; p=MIGf"}},
		"_dmarc.example.com":          {txts: []string{"v=DMARC1; p=none"}},
	}}
	m := newTestMonitor(resolver, domain.DeliverabilityConfig{Domain: "example.com", DKIMSelector: "mail"}, nil)

	status := m.Status(context.Background())

	assert.True(t, status.SPFConfigured)
	assert.True(t, status.DKIMConfigured)
	assert.True(t, status.DMARCConfigured)
	require.NotNil(t, status.Details)
	assert.Equal(t, CheckVerified, status.Details.SPF.Status)
	assert.Equal(t, "v=spf1 include:amazonses.com -all", status.Details.SPF.Value)
	assert.Equal(t, "mail._domainkey.example.com", status.Details.DKIM.Host)
	assert.Equal(t, "dns", status.Details.DMARC.Source)
}

func TestMonitor_Status_AbsentIsNotOverridden(t *testing.T) {
	resolver := &fakeResolver{answers: map[string]answer{
		"example.com": {txts: []string{"some other record"}},
	}}
	settings := domain.DeliverabilityConfig{
		Domain: "example.com", DKIMSelector: "default",
		SPFConfigured: true, DKIMConfigured: true, DMARCConfigured: true,
	}
	m := newTestMonitor(resolver, settings, nil)

	status := m.Status(context.Background())

	assert.False(t, status.SPFConfigured)
	assert.False(t, status.DKIMConfigured)
	assert.False(t, status.DMARCConfigured)
	assert.Equal(t, CheckAbsent, status.Details.SPF.Status)
	assert.Equal(t, CheckAbsent, status.Details.DKIM.Status)
}

func TestMonitor_Status_FallbackOnLookupFailure(t *testing.T) {
	flagSets := []domain.DeliverabilityConfig{
		{SPFConfigured: true, DKIMConfigured: false, DMARCConfigured: true},
		{SPFConfigured: false, DKIMConfigured: true, DMARCConfigured: false},
		{SPFConfigured: true, DKIMConfigured: true, DMARCConfigured: true},
		{},
	}
	failures := map[string]error{
		"timeout":     &net.DNSError{Err: "i/o timeout", IsTimeout: true},
		"servfail":    &net.DNSError{Err: "server misbehaving", IsTemporary: true},
		"plain error": errors.New("network unreachable"),
	}

	for name, failure := range failures {
		for _, flags := range flagSets {
			t.Run(name, func(t *testing.T) {
				settings := flags
				settings.Domain = "unreachable.invalid"
				settings.DKIMSelector = "default"
				m := newTestMonitor(&fakeResolver{fallback: failure}, settings, nil)

				status := m.Status(context.Background())

				assert.Equal(t, flags.SPFConfigured, status.SPFConfigured)
				assert.Equal(t, flags.DKIMConfigured, status.DKIMConfigured)
				assert.Equal(t, flags.DMARCConfigured, status.DMARCConfigured)
				assert.Equal(t, CheckUnavailable, status.Details.SPF.Status)
				assert.Equal(t, "fallback", status.Details.DKIM.Source)
				assert.NotEmpty(t, status.Details.DMARC.Error)
			})
		}
	}
}

func TestMonitor_Status_NoDomainUsesFlags(t *testing.T) {
	m := newTestMonitor(&fakeResolver{}, domain.DeliverabilityConfig{SPFConfigured: true}, nil)

	status := m.Status(context.Background())

	assert.True(t, status.SPFConfigured)
	assert.False(t, status.DKIMConfigured)
	assert.False(t, status.DMARCConfigured)
	assert.Equal(t, CheckUnavailable, status.Details.SPF.Status)
}

func TestMonitor_Checklist(t *testing.T) {
	settings := domain.DeliverabilityConfig{
		Domain:          "unreachable.invalid",
		DKIMSelector:    "default",
		PublicURL:       "http://mail.example.com",
		SPFConfigured:   true,
		DKIMConfigured:  false,
		DMARCConfigured: true,
		WarningsEnabled: true,
	}
	acks := &fakeAcks{acks: map[string]domain.ChecklistAck{
		ItemDKIMRecord: {ItemID: ItemDKIMRecord, AcknowledgedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), AcknowledgedBy: "admin"},
	}}
	m := newTestMonitor(&fakeResolver{fallback: errors.New("offline")}, settings, acks)

	checklist, err := m.Checklist(context.Background())
	require.NoError(t, err)

	assert.False(t, checklist.Config.SMTPConfigured)
	assert.False(t, checklist.Config.PublicURLHTTPS)
	assert.Equal(t, m.Status(context.Background()).SPFConfigured, checklist.DNS.SPFConfigured)
	assert.True(t, checklist.DNS.SPFConfigured)
	assert.False(t, checklist.DNS.DKIMConfigured)
	assert.True(t, checklist.DNS.DMARCConfigured)
	assert.Len(t, checklist.RecordTemplates, 3)
	assert.Equal(t, "_dmarc.unreachable.invalid", checklist.RecordTemplates[2].Host)
	assert.Contains(t, checklist.Acknowledgements, ItemDKIMRecord)

	ids := map[string]Recommendation{}
	for _, r := range checklist.Recommendations {
		ids[r.ID] = r
	}
	assert.Contains(t, ids, ItemDKIMRecord)
	assert.True(t, ids[ItemDKIMRecord].Acknowledged)
	assert.Contains(t, ids, ItemSMTPConfigured)
	assert.Contains(t, ids, ItemPublicURLHTTPS)
	assert.Contains(t, ids, ItemRateLimits)
	assert.NotContains(t, ids, ItemSPFRecord)
	assert.False(t, ids[ItemSMTPConfigured].Acknowledged)
}

func TestMonitor_Checklist_WarningsDisabled(t *testing.T) {
	m := newTestMonitor(&fakeResolver{}, domain.DeliverabilityConfig{Domain: "example.com", WarningsEnabled: false}, nil)

	checklist, err := m.Checklist(context.Background())
	require.NoError(t, err)

	assert.NotNil(t, checklist.Recommendations)
	assert.Empty(t, checklist.Recommendations)
	assert.Len(t, checklist.RecordTemplates, 3)
}

func TestMonitor_Checklist_AckStoreError(t *testing.T) {
	m := newTestMonitor(&fakeResolver{}, domain.DeliverabilityConfig{}, &fakeAcks{err: errors.New("db down")})

	_, err := m.Checklist(context.Background())
	assert.Error(t, err)
}

func TestMonitor_Acknowledge(t *testing.T) {
	acks := &fakeAcks{}
	m := newTestMonitor(&fakeResolver{}, domain.DeliverabilityConfig{}, acks)

	first, err := m.Acknowledge(context.Background(), ItemSPFRecord, "admin")
	require.NoError(t, err)
	assert.Equal(t, ItemSPFRecord, first.ItemID)

	again, err := m.Acknowledge(context.Background(), ItemSPFRecord, "someone-else")
	require.NoError(t, err)
	assert.Equal(t, first.AcknowledgedAt, again.AcknowledgedAt)
	assert.Equal(t, "admin", again.AcknowledgedBy)

	_, err = m.Acknowledge(context.Background(), "made_up", "admin")
	assert.ErrorIs(t, err, domain.ErrUnknownChecklistItem)
}

func TestIsHTTPS(t *testing.T) {
	assert.True(t, isHTTPS("https://mail.example.com"))
	assert.True(t, isHTTPS("HTTPS://mail.example.com/path"))
	assert.False(t, isHTTPS("http://mail.example.com"))
	assert.False(t, isHTTPS(""))
	assert.False(t, isHTTPS("https://"))
}
