package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// EmailJob is one outbound email to one recipient, persisted in email_jobs.
type EmailJob struct {
	ID           string     `db:"id"`
	CampaignID   *string    `db:"campaign_id"`
	SubscriberID *string    `db:"subscriber_id"`
	ToEmail      string     `db:"to_email"`
	Payload      JobPayload `db:"payload"`
	Status       JobStatus  `db:"status"`
	Attempts     int        `db:"attempts"`
	MaxAttempts  int        `db:"max_attempts"`
	RunAt        time.Time  `db:"run_at"`
	LastError    *string    `db:"last_error"`
	SkipReason   *string    `db:"skip_reason"`
	LockedAt     *time.Time `db:"locked_at"`
	LockedBy     *string    `db:"locked_by"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// Claim identifies one dispatcher's hold on a processing job. Updates made
// under a claim apply only while the job is still locked by its token.
type Claim struct {
	JobID string
	Token string
}

// Claim returns the claim the job was handed out under
func (j *EmailJob) Claim() Claim {
	c := Claim{JobID: j.ID}
	if j.LockedBy != nil {
		c.Token = *j.LockedBy
	}
	return c
}

// JobPayload is the content snapshot captured when the job is enqueued.
// It is never re-rendered, so later campaign edits do not change what is sent.
type JobPayload struct {
	Subject        string `json:"subject"`
	HTML           string `json:"html,omitempty"`
	Text           string `json:"text,omitempty"`
	TemplateID     string `json:"templateId,omitempty"`
	Variant        string `json:"variant,omitempty"`
	FromEmail      string `json:"fromEmail,omitempty"`
	FromName       string `json:"fromName,omitempty"`
	ReplyTo        string `json:"replyTo,omitempty"`
	UnsubscribeURL string `json:"unsubscribeUrl,omitempty"`
	TestSend       bool   `json:"testSend,omitempty"`
}

// Value implements driver.Valuer so the payload is stored as JSONB.
func (p JobPayload) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner.
func (p *JobPayload) Scan(value interface{}) error {
	if value == nil {
		*p = JobPayload{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan type %T into JobPayload", value)
	}

	return json.Unmarshal(data, p)
}

// JobMessage is the wake-up notification published when jobs are enqueued.
// It carries ids only; the job row stays the source of truth.
type JobMessage struct {
	JobIDs []string  `json:"job_ids"`
	RunAt  time.Time `json:"run_at"`
}

// Failure describes a failed send attempt handed to the job store.
type Failure struct {
	Message   string
	Permanent bool
	RetryAt   time.Time
}
