package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a job is not in the state the
	// transition requires, e.g. it was claimed or finished by another worker
	ErrInvalidTransition = errors.New("job is not in the expected status")

	// ErrJobInFlight is returned when deleting a job that is being processed
	ErrJobInFlight = errors.New("job is currently processing")

	// ErrLeadNotFound is returned when a lead cannot be found
	ErrLeadNotFound = errors.New("lead not found")

	// ErrCampaignNotFound is returned when a campaign cannot be found
	ErrCampaignNotFound = errors.New("campaign not found")

	// ErrCampaignNotSendable is returned when a campaign is not draft or scheduled
	ErrCampaignNotSendable = errors.New("campaign is not in a sendable status")

	// ErrAutomationNotFound is returned when an automation cannot be found
	ErrAutomationNotFound = errors.New("automation not found")

	// ErrUnknownChecklistItem is returned when acknowledging an unknown item id
	ErrUnknownChecklistItem = errors.New("unknown checklist item")
)

// TransientError wraps delivery failures that may succeed on retry
// (timeouts, connection errors, temporary transport rejections).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient delivery error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError creates a new transient error
func NewTransientError(err error) error {
	return &TransientError{Err: err}
}

// PermanentError wraps delivery failures that will never succeed for this
// recipient (hard bounce, invalid mailbox).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent delivery error: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError creates a new permanent error
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is, or wraps, a PermanentError.
// Anything else is treated as transient.
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}
