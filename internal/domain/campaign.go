package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Campaign is read from email_campaigns, which the CMS layer owns.
type Campaign struct {
	ID          string       `db:"id"`
	Name        string       `db:"name"`
	Status      string       `db:"status"`
	Subject     string       `db:"subject"`
	TemplateID  *string      `db:"template_id"`
	HTML        string       `db:"html_body"`
	Text        string       `db:"text_body"`
	FromEmail   string       `db:"from_email"`
	FromName    string       `db:"from_name"`
	Audience    AudienceJSON `db:"audience"`
	ABTest      *ABTestJSON  `db:"ab_test"`
	MaxAttempts int          `db:"max_attempts"`
	ScheduledAt *time.Time   `db:"scheduled_at"`
	SentAt      *time.Time   `db:"sent_at"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
}

// ABTest configures a two-way subject/content split.
type ABTest struct {
	SplitPercent int    `json:"splitPercent"`
	SubjectB     string `json:"subjectB"`
	TemplateIDB  string `json:"templateIdB,omitempty"`
	HTMLB        string `json:"htmlB,omitempty"`
	TextB        string `json:"textB,omitempty"`
}

// AudienceJSON stores an AudienceFilter as JSONB.
type AudienceJSON AudienceFilter

// Value implements driver.Valuer.
func (a AudienceJSON) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements sql.Scanner.
func (a *AudienceJSON) Scan(value interface{}) error {
	return scanJSON(value, a)
}

// ABTestJSON stores an ABTest as JSONB.
type ABTestJSON ABTest

// Value implements driver.Valuer.
func (a ABTestJSON) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements sql.Scanner.
func (a *ABTestJSON) Scan(value interface{}) error {
	return scanJSON(value, a)
}

// Template is a stored subject/body pair a campaign or automation step may
// reference instead of inline content.
type Template struct {
	ID      string `db:"id"`
	Name    string `db:"name"`
	Subject string `db:"subject"`
	HTML    string `db:"html_body"`
	Text    string `db:"text_body"`
}

// Sendable reports whether the campaign may still be expanded into jobs.
func (c *Campaign) Sendable() bool {
	return c.Status == CampaignStatusDraft || c.Status == CampaignStatusScheduled
}

func scanJSON(value interface{}, dest interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("cannot scan type %T into %T", value, dest)
	}
}
