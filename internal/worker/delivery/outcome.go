package delivery

import (
	"time"

	"github.com/casefront/outbound/internal/provider"
	"github.com/casefront/outbound/internal/service/models/message"
)

// Dead-letter reasons recorded on audit and activity events.
const (
	ReasonNonRetryable = "non-retryable error"
	ReasonMaxAttempts  = "max attempts reached"
)

// defaultBackoffMinutes spaces out retries per attempt number; once attempts
// outrun the table the last entry applies.
var defaultBackoffMinutes = []int{1, 5, 15, 60, 360}

// decision is the state transition for one finished dispatch.
type decision struct {
	status      message.Status
	nextRetryAt *time.Time
	reason      string
}

// decide maps an adapter result onto the message state machine. It is pure:
// given the message (with attemptCount already incremented for this
// dispatch), the normalized result, the current time, and the backoff table,
// it returns the next state without touching storage.
func decide(msg *message.OutboundMessage, res provider.SendResult, now time.Time, backoffMinutes []int) decision {
	if res.Success {
		return decision{status: message.StatusSent}
	}

	if !res.Retryable {
		return decision{status: message.StatusFailed, reason: ReasonNonRetryable}
	}

	if !msg.AttemptsLeft() {
		return decision{status: message.StatusFailed, reason: ReasonMaxAttempts}
	}

	if len(backoffMinutes) == 0 {
		backoffMinutes = defaultBackoffMinutes
	}

	idx := msg.AttemptCount - 1
	if idx >= len(backoffMinutes) {
		idx = len(backoffMinutes) - 1
	}
	if idx < 0 {
		idx = 0
	}

	retryAt := now.Add(time.Duration(backoffMinutes[idx]) * time.Minute)

	return decision{status: message.StatusQueued, nextRetryAt: &retryAt}
}
