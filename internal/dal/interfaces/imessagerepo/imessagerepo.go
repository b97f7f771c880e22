package imessagerepo

import (
	"context"
	"time"

	"github.com/casefront/outbound/internal/service/models/message"
)

// IMessageRepository is the persistence contract for outbound messages.
type IMessageRepository interface {
	// Insert persists a new message and returns it with its id set.
	Insert(ctx context.Context, msg message.OutboundMessage) (message.OutboundMessage, error)

	// GetByIdempotencyKey returns the message for (orgID, key), or nil when
	// none exists.
	GetByIdempotencyKey(ctx context.Context, orgID int64, key string) (*message.OutboundMessage, error)

	// GetByID returns the message with the given id.
	GetByID(ctx context.Context, id int64) (*message.OutboundMessage, error)

	// Update persists the mutable lifecycle fields of a message.
	Update(ctx context.Context, msg *message.OutboundMessage) error

	// SelectDue returns up to limit QUEUED messages ready for dispatch,
	// oldest first. A message is ready when it has no attempts yet or when
	// its latest attempt's next_retry_at is unset or has passed.
	SelectDue(ctx context.Context, now time.Time, limit int) ([]message.OutboundMessage, error)

	// ReclaimStale forces SENDING messages not updated since the cutoff back
	// to QUEUED and returns how many were reclaimed.
	ReclaimStale(ctx context.Context, cutoff time.Time, now time.Time) (int64, error)

	// CountQueuedByChannel reports current queue depth per channel.
	CountQueuedByChannel(ctx context.Context, orgID int64) (map[message.Channel]int64, error)

	// CountByStatusInWindow reports messages per channel that entered the
	// given terminal status inside [from, to].
	CountByStatusInWindow(ctx context.Context, orgID int64, status message.Status, from, to time.Time) (map[message.Channel]int64, error)

	// CountFailedByErrorCode reports dead-lettered messages per error code
	// inside [from, to].
	CountFailedByErrorCode(ctx context.Context, orgID int64, from, to time.Time) (map[string]int64, error)

	// FailureTrend reports dead-letter counts per day inside [from, to].
	FailureTrend(ctx context.Context, orgID int64, from, to time.Time) (map[string]int64, error)

	// DeadLetterByChannel reports the current terminal FAILED messages per
	// channel, regardless of window.
	DeadLetterByChannel(ctx context.Context, orgID int64) (map[message.Channel]int64, error)

	// RecentDeadLetters returns the most recently failed messages.
	RecentDeadLetters(ctx context.Context, orgID int64, limit int) ([]message.OutboundMessage, error)

	// CountSentSince reports messages sent per channel since the cutoff.
	CountSentSince(ctx context.Context, orgID int64, cutoff time.Time) (map[message.Channel]int64, error)
}
