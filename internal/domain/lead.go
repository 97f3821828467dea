package domain

import (
	"time"

	"github.com/lib/pq"
)

// SuppressionState is the tagged view of a lead's two suppression flags.
type SuppressionState string

const (
	SuppressionActive       SuppressionState = "active"
	SuppressionUnsubscribed SuppressionState = "unsubscribed"
	SuppressionInvalidEmail SuppressionState = "invalid_email"
)

// Lead is a subscriber record referenced by email jobs.
type Lead struct {
	ID                string         `db:"id"`
	Email             string         `db:"email"`
	IsUnsubscribed    bool           `db:"is_unsubscribed"`
	UnsubscribedAt    *time.Time     `db:"unsubscribed_at"`
	UnsubscribeToken  string         `db:"unsubscribe_token"`
	EmailInvalid      bool           `db:"email_invalid"`
	EmailFailureCount int            `db:"email_failure_count"`
	IsTestSubscriber  bool           `db:"is_test_subscriber"`
	Source            string         `db:"source"`
	Country           string         `db:"country"`
	Continent         string         `db:"continent"`
	Interests         pq.StringArray `db:"interests"`
	Tags              pq.StringArray `db:"tags"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

// SuppressionState derives the single state from the legacy boolean flags.
// Unsubscribe wins when both are set.
func (l *Lead) SuppressionState() SuppressionState {
	switch {
	case l.IsUnsubscribed:
		return SuppressionUnsubscribed
	case l.EmailInvalid:
		return SuppressionInvalidEmail
	default:
		return SuppressionActive
	}
}

// SuppressedLead is a row of the suppressed-leads report.
type SuppressedLead struct {
	ID                string     `db:"id"`
	Email             string     `db:"email"`
	Source            string     `db:"source"`
	Country           string     `db:"country"`
	IsUnsubscribed    bool       `db:"is_unsubscribed"`
	EmailInvalid      bool       `db:"email_invalid"`
	EmailFailureCount int        `db:"email_failure_count"`
	Reason            string     `db:"reason"`
	SuppressedAt      *time.Time `db:"suppressed_at"`
}

// AudienceFilter selects campaign recipients. Empty slices match everything.
type AudienceFilter struct {
	Topics     []string `json:"topics,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Continents []string `json:"continents,omitempty"`
	Sources    []string `json:"sources,omitempty"`
}
