package iattemptrepo

import (
	"context"
	"time"

	"github.com/casefront/outbound/internal/service/models/attempt"
	"github.com/casefront/outbound/internal/service/models/message"
)

// IAttemptRepository is the persistence contract for delivery attempts.
// Attempt rows are append-only: inserted in TRYING and finalized exactly once.
type IAttemptRepository interface {
	// Insert persists a new attempt and returns it with its id set.
	Insert(ctx context.Context, att attempt.OutboundAttempt) (attempt.OutboundAttempt, error)

	// MarkSuccess finalizes an attempt as SUCCESS with the normalized
	// provider response.
	MarkSuccess(ctx context.Context, id int64, response map[string]any) error

	// MarkFailed finalizes an attempt as FAILED. nextRetryAt is nil unless a
	// retry was scheduled.
	MarkFailed(ctx context.Context, id int64, code, msg string, nextRetryAt *time.Time, response map[string]any) error

	// ListByMessage returns all attempts for a message ordered by attempt_no.
	ListByMessage(ctx context.Context, messageID int64) ([]attempt.OutboundAttempt, error)

	// DeliveryLatencies returns, per channel, the seconds between message
	// creation and successful attempt for attempts finalized in [from, to].
	DeliveryLatencies(ctx context.Context, orgID int64, from, to time.Time) (map[message.Channel][]float64, error)
}
