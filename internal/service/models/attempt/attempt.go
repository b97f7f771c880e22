package attempt

import "time"

// Status is the state of a single delivery attempt.
type Status string

const (
	StatusTrying  Status = "TRYING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// OutboundAttempt records one dispatch of a message against a provider.
// Rows are append-only: the worker inserts one in TRYING at the start of a
// dispatch and finalizes it at the end; nothing else writes them.
type OutboundAttempt struct {
	ID                int64
	OutboundMessageID int64
	AttemptNo         int
	Status            Status
	ErrorCode         string
	ErrorMessage      string
	NextRetryAt       *time.Time
	ProviderResponse  map[string]any
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
