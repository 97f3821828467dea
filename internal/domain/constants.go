package domain

// JobStatus is the lifecycle state of an EmailJob.
type JobStatus string

// Job status constants
const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSent       JobStatus = "sent"
	JobStatusFailed     JobStatus = "failed"
	JobStatusSkipped    JobStatus = "skipped"
)

// JobStatuses lists every status in lifecycle order
var JobStatuses = []JobStatus{
	JobStatusQueued, JobStatusProcessing, JobStatusSent, JobStatusFailed, JobStatusSkipped,
}

// Valid reports whether s is a known status
func (s JobStatus) Valid() bool {
	for _, status := range JobStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSent, JobStatusFailed, JobStatusSkipped:
		return true
	default:
		return false
	}
}

// SkipReason explains why a job was suppressed before any send attempt.
type SkipReason string

// Skip reasons
const (
	SkipUnsubscribed   SkipReason = "unsubscribed"
	SkipEmailInvalid   SkipReason = "email_invalid"
	SkipNotAllowlisted SkipReason = "not_allowlisted"
	SkipTestSubscriber SkipReason = "test_subscriber"
)

// Campaign status constants
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusScheduled = "scheduled"
	CampaignStatusSending   = "sending"
	CampaignStatusSent      = "sent"
	CampaignStatusPaused    = "paused"
	CampaignStatusCancelled = "cancelled"
)

// Automation and enrollment status constants
const (
	AutomationStatusActive = "active"
	AutomationStatusPaused = "paused"

	EnrollmentStatusActive    = "active"
	EnrollmentStatusCompleted = "completed"
	EnrollmentStatusCancelled = "cancelled"
)

// Automation step kinds
const (
	StepKindEmail = "email"
	StepKindDelay = "delay"
)

const (
	// DefaultMaxAttempts applies when neither the job nor its campaign sets one.
	DefaultMaxAttempts = 3
	// DefaultFailureThreshold is the number of permanent failures after which
	// a lead is flagged email_invalid.
	DefaultFailureThreshold = 3
)
