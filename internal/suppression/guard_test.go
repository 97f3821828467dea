package suppression

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/cuongbtq/email-delivery/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLeads struct {
	byID      map[string]*domain.Lead
	failures  map[string]int
	lookupErr error
}

func newFakeLeads(leads ...*domain.Lead) *fakeLeads {
	f := &fakeLeads{byID: map[string]*domain.Lead{}, failures: map[string]int{}}
	for _, l := range leads {
		f.byID[l.ID] = l
	}
	return f
}

func (f *fakeLeads) GetByID(_ context.Context, id string) (*domain.Lead, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	if l, ok := f.byID[id]; ok {
		return l, nil
	}
	return nil, domain.ErrLeadNotFound
}

func (f *fakeLeads) GetByEmail(_ context.Context, email string) (*domain.Lead, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	for _, l := range f.byID {
		if strings.EqualFold(l.Email, email) {
			return l, nil
		}
	}
	return nil, domain.ErrLeadNotFound
}

func (f *fakeLeads) RecordDeliveryFailure(_ context.Context, id string, threshold int) (int, bool, error) {
	l := f.byID[id]
	l.EmailFailureCount++
	if l.EmailFailureCount >= threshold {
		l.EmailInvalid = true
	}
	return l.EmailFailureCount, l.EmailInvalid, nil
}

func (f *fakeLeads) MarkUnsubscribed(_ context.Context, token string) (*domain.Lead, error) {
	for _, l := range f.byID {
		if l.UnsubscribeToken == token {
			l.IsUnsubscribed = true
			return l, nil
		}
	}
	return nil, domain.ErrLeadNotFound
}

func (f *fakeLeads) Reinstate(_ context.Context, id string) (*domain.Lead, error) {
	l, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrLeadNotFound
	}
	l.IsUnsubscribed, l.EmailInvalid, l.EmailFailureCount = false, false, 0
	return l, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

func TestGuard_Check(t *testing.T) {
	leads := func() *fakeLeads {
		return newFakeLeads(
			&domain.Lead{ID: "active", Email: "active@example.com"},
			&domain.Lead{ID: "unsub", Email: "unsub@example.com", IsUnsubscribed: true},
			&domain.Lead{ID: "invalid", Email: "invalid@example.com", EmailInvalid: true},
			&domain.Lead{ID: "both", Email: "both@example.com", IsUnsubscribed: true, EmailInvalid: true},
			&domain.Lead{ID: "tester", Email: "qa@example.com", IsTestSubscriber: true},
		)
	}

	tests := []struct {
		name   string
		policy Policy
		job    domain.EmailJob
		want   domain.SkipReason
	}{
		{
			name: "active lead passes",
			job:  domain.EmailJob{SubscriberID: strPtr("active"), ToEmail: "active@example.com"},
			want: "",
		},
		{
			name: "unsubscribed lead",
			job:  domain.EmailJob{SubscriberID: strPtr("unsub"), ToEmail: "unsub@example.com"},
			want: domain.SkipUnsubscribed,
		},
		{
			name: "invalid email lead",
			job:  domain.EmailJob{SubscriberID: strPtr("invalid"), ToEmail: "invalid@example.com"},
			want: domain.SkipEmailInvalid,
		},
		{
			name: "unsubscribe wins over invalid",
			job:  domain.EmailJob{SubscriberID: strPtr("both"), ToEmail: "both@example.com"},
			want: domain.SkipUnsubscribed,
		},
		{
			name: "lead found by email when no subscriber id",
			job:  domain.EmailJob{ToEmail: "UNSUB@example.com"},
			want: domain.SkipUnsubscribed,
		},
		{
			name: "transactional recipient without lead",
			job:  domain.EmailJob{ToEmail: "stranger@example.com"},
			want: "",
		},
		{
			name: "malformed address",
			job:  domain.EmailJob{ToEmail: "not an address"},
			want: domain.SkipEmailInvalid,
		},
		{
			name:   "sandbox blocks non-allowlisted",
			policy: Policy{SandboxMode: true, Allowlist: []string{"qa@example.com"}},
			job:    domain.EmailJob{SubscriberID: strPtr("active"), ToEmail: "active@example.com"},
			want:   domain.SkipNotAllowlisted,
		},
		{
			name:   "sandbox allows allowlisted test subscriber",
			policy: Policy{SandboxMode: true, Allowlist: []string{" QA@example.com "}},
			job:    domain.EmailJob{SubscriberID: strPtr("tester"), ToEmail: "qa@example.com"},
			want:   "",
		},
		{
			name:   "sandbox still honors unsubscribe",
			policy: Policy{SandboxMode: true, Allowlist: []string{"unsub@example.com"}},
			job:    domain.EmailJob{SubscriberID: strPtr("unsub"), ToEmail: "unsub@example.com"},
			want:   domain.SkipUnsubscribed,
		},
		{
			name:   "test send outside sandbox requires allowlist",
			policy: Policy{Allowlist: []string{"qa@example.com"}},
			job: domain.EmailJob{ToEmail: "active@example.com",
				Payload: domain.JobPayload{TestSend: true}},
			want: domain.SkipNotAllowlisted,
		},
		{
			name: "test subscriber excluded from real sends",
			job:  domain.EmailJob{SubscriberID: strPtr("tester"), ToEmail: "qa@example.com"},
			want: domain.SkipTestSubscriber,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGuard(leads(), tt.policy, testLogger())

			reason, err := g.Check(context.Background(), &tt.job)
			require.NoError(t, err)
			assert.Equal(t, tt.want, reason)
		})
	}
}

func TestGuard_Check_LookupError(t *testing.T) {
	repo := newFakeLeads()
	repo.lookupErr = errors.New("connection reset")
	g := NewGuard(repo, Policy{}, testLogger())

	_, err := g.Check(context.Background(), &domain.EmailJob{ToEmail: "a@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestGuard_RecordPermanentFailure(t *testing.T) {
	lead := &domain.Lead{ID: "l1", Email: "bounce@example.com"}
	g := NewGuard(newFakeLeads(lead), Policy{}, testLogger())
	job := &domain.EmailJob{SubscriberID: strPtr("l1"), ToEmail: lead.Email}

	for i := 1; i < domain.DefaultFailureThreshold; i++ {
		require.NoError(t, g.RecordPermanentFailure(context.Background(), job))
		assert.False(t, lead.EmailInvalid, "flagged after %d failures", i)
	}

	require.NoError(t, g.RecordPermanentFailure(context.Background(), job))
	assert.True(t, lead.EmailInvalid)
	assert.Equal(t, domain.DefaultFailureThreshold, lead.EmailFailureCount)

	reason, err := g.Check(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, domain.SkipEmailInvalid, reason)
}

func TestGuard_RecordPermanentFailure_NoLead(t *testing.T) {
	g := NewGuard(newFakeLeads(), Policy{FailureThreshold: 1}, testLogger())

	err := g.RecordPermanentFailure(context.Background(), &domain.EmailJob{ToEmail: "x@example.com"})
	assert.NoError(t, err)
}

func TestGuard_UnsubscribeAndReinstate(t *testing.T) {
	lead := &domain.Lead{ID: "l1", Email: "a@example.com", UnsubscribeToken: "tok"}
	g := NewGuard(newFakeLeads(lead), Policy{}, testLogger())
	job := &domain.EmailJob{SubscriberID: strPtr("l1"), ToEmail: lead.Email}

	_, err := g.Unsubscribe(context.Background(), "tok")
	require.NoError(t, err)

	reason, err := g.Check(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, domain.SkipUnsubscribed, reason)

	_, err = g.Unsubscribe(context.Background(), "unknown")
	assert.ErrorIs(t, err, domain.ErrLeadNotFound)

	_, err = g.Reinstate(context.Background(), "l1")
	require.NoError(t, err)

	reason, err = g.Check(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, domain.SkipReason(""), reason)
}
