package domain

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// AutomationStep is one entry of an automation's ordered step list.
type AutomationStep struct {
	Kind         string `json:"kind"`
	Subject      string `json:"subject,omitempty"`
	TemplateID   string `json:"templateId,omitempty"`
	HTML         string `json:"html,omitempty"`
	Text         string `json:"text,omitempty"`
	DelayMinutes int    `json:"delayMinutes,omitempty"`
}

// Steps stores the step list as JSONB.
type Steps []AutomationStep

// Value implements driver.Valuer.
func (s Steps) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner.
func (s *Steps) Scan(value interface{}) error {
	return scanJSON(value, s)
}

// Automation is an ordered sequence of email and delay steps.
type Automation struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Status      string    `db:"status"`
	FromEmail   string    `db:"from_email"`
	FromName    string    `db:"from_name"`
	MaxAttempts int       `db:"max_attempts"`
	Steps       Steps     `db:"steps"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Enrollment is a lead's progress pointer through an automation.
type Enrollment struct {
	ID           string     `db:"id"`
	AutomationID string     `db:"automation_id"`
	LeadID       string     `db:"lead_id"`
	CurrentStep  int        `db:"current_step"`
	Status       string     `db:"status"`
	NextRunAt    time.Time  `db:"next_run_at"`
	LockedAt     *time.Time `db:"locked_at"`
	CompletedAt  *time.Time `db:"completed_at"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}
