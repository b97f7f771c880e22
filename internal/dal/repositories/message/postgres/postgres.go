package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/casefront/outbound/internal/dal/postgres"
	"github.com/casefront/outbound/internal/service/models/message"
)

var messageColumns = []string{
	"id",
	"org_id",
	"idempotency_key",
	"channel",
	"recipient",
	"dossier_id",
	"template_code",
	"subject",
	"payload",
	"status",
	"attempt_count",
	"max_attempts",
	"error_code",
	"error_message",
	"provider_message_id",
	"created_at",
	"updated_at",
}

// MessageRepository implements the outbound message store for PostgreSQL.
type MessageRepository struct {
	client *postgres.Client
}

// NewMessageRepository creates a new message repository.
func NewMessageRepository(client *postgres.Client) *MessageRepository {
	return &MessageRepository{
		client: client,
	}
}

// Insert persists a new outbound message.
func (r *MessageRepository) Insert(
	ctx context.Context,
	msg message.OutboundMessage,
) (message.OutboundMessage, error) {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return msg, fmt.Errorf("failed to marshal payload: %w", err)
	}

	query, args, err := sq.Insert("outbound_messages").
		Columns(
			"org_id",
			"idempotency_key",
			"channel",
			"recipient",
			"dossier_id",
			"template_code",
			"subject",
			"payload",
			"status",
			"attempt_count",
			"max_attempts",
			"created_at",
			"updated_at",
		).
		Values(
			msg.OrgID,
			msg.IdempotencyKey,
			msg.Channel,
			msg.To,
			msg.DossierID,
			msg.TemplateCode,
			msg.Subject,
			payload,
			msg.Status,
			msg.AttemptCount,
			msg.MaxAttempts,
			msg.CreatedAt,
			msg.UpdatedAt,
		).
		Suffix("RETURNING id").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return msg, fmt.Errorf("failed to build insert query: %w", err)
	}

	if err := r.client.DB().QueryRowContext(ctx, query, args...).Scan(&msg.ID); err != nil {
		return msg, fmt.Errorf("failed to insert outbound message: %w", err)
	}

	return msg, nil
}

// GetByIdempotencyKey returns the message for (orgID, key), or nil.
func (r *MessageRepository) GetByIdempotencyKey(
	ctx context.Context,
	orgID int64,
	key string,
) (*message.OutboundMessage, error) {
	return r.getOne(ctx, sq.Eq{"org_id": orgID, "idempotency_key": key})
}

// GetByID returns the message with the given id.
func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*message.OutboundMessage, error) {
	return r.getOne(ctx, sq.Eq{"id": id})
}

func (r *MessageRepository) getOne(ctx context.Context, pred any) (*message.OutboundMessage, error) {
	query, args, err := sq.Select(messageColumns...).
		From("outbound_messages").
		Where(pred).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	msg, err := scanMessage(r.client.DB().QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to query outbound message: %w", err)
	}

	return msg, nil
}

// Update persists the mutable lifecycle fields of a message.
func (r *MessageRepository) Update(ctx context.Context, msg *message.OutboundMessage) error {
	query, args, err := sq.Update("outbound_messages").
		Set("status", msg.Status).
		Set("attempt_count", msg.AttemptCount).
		Set("error_code", msg.ErrorCode).
		Set("error_message", msg.ErrorMessage).
		Set("provider_message_id", msg.ProviderMessageID).
		Set("updated_at", msg.UpdatedAt).
		Where(sq.Eq{"id": msg.ID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}

	_, err = r.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update outbound message: %w", err)
	}

	return nil
}

// SelectDue retrieves QUEUED messages that are ready for dispatch. A message
// with no attempts is always ready; otherwise its newest attempt must have
// next_retry_at unset or in the past.
func (r *MessageRepository) SelectDue(
	ctx context.Context,
	now time.Time,
	limit int,
) ([]message.OutboundMessage, error) {
	query, args, err := sq.Select(messageColumns...).
		From("outbound_messages").
		Where(sq.Eq{"status": message.StatusQueued}).
		Where(sq.Expr(
			`(attempt_count = 0 OR NOT EXISTS (
				SELECT 1 FROM outbound_attempts a
				WHERE a.outbound_message_id = outbound_messages.id
					AND a.attempt_no = outbound_messages.attempt_count
					AND a.next_retry_at > ?
			))`, now,
		)).
		OrderBy("created_at ASC").
		Limit(uint64(limit)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query due messages: %w", err)
	}
	defer rows.Close()

	var messages []message.OutboundMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbound message: %w", err)
		}
		messages = append(messages, *msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating due messages: %w", err)
	}

	return messages, nil
}

// ReclaimStale forces SENDING messages not updated since the cutoff back to
// QUEUED. Attempt counters are left untouched: the crashed dispatch already
// accounted for its attempt.
func (r *MessageRepository) ReclaimStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	query, args, err := sq.Update("outbound_messages").
		Set("status", message.StatusQueued).
		Set("updated_at", now).
		Where(sq.Eq{"status": message.StatusSending}).
		Where(sq.Lt{"updated_at": cutoff}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build reclaim query: %w", err)
	}

	res, err := r.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale messages: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count reclaimed messages: %w", err)
	}

	return n, nil
}

// CountQueuedByChannel reports current queue depth per channel.
func (r *MessageRepository) CountQueuedByChannel(
	ctx context.Context,
	orgID int64,
) (map[message.Channel]int64, error) {
	return r.countByChannel(ctx, sq.Eq{"org_id": orgID, "status": message.StatusQueued})
}

// CountByStatusInWindow reports messages per channel that entered the given
// status inside [from, to].
func (r *MessageRepository) CountByStatusInWindow(
	ctx context.Context,
	orgID int64,
	status message.Status,
	from, to time.Time,
) (map[message.Channel]int64, error) {
	return r.countByChannel(ctx,
		sq.And{
			sq.Eq{"org_id": orgID, "status": status},
			sq.GtOrEq{"updated_at": from},
			sq.LtOrEq{"updated_at": to},
		})
}

// DeadLetterByChannel reports current terminal FAILED messages per channel.
func (r *MessageRepository) DeadLetterByChannel(
	ctx context.Context,
	orgID int64,
) (map[message.Channel]int64, error) {
	return r.countByChannel(ctx, sq.Eq{"org_id": orgID, "status": message.StatusFailed})
}

// CountSentSince reports messages sent per channel since the cutoff.
func (r *MessageRepository) CountSentSince(
	ctx context.Context,
	orgID int64,
	cutoff time.Time,
) (map[message.Channel]int64, error) {
	return r.countByChannel(ctx,
		sq.And{
			sq.Eq{"org_id": orgID, "status": message.StatusSent},
			sq.GtOrEq{"updated_at": cutoff},
		})
}

func (r *MessageRepository) countByChannel(
	ctx context.Context,
	pred any,
) (map[message.Channel]int64, error) {
	query, args, err := sq.Select("channel", "COUNT(*)").
		From("outbound_messages").
		Where(pred).
		GroupBy("channel").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build count query: %w", err)
	}

	rows, err := r.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}
	defer rows.Close()

	counts := make(map[message.Channel]int64)
	for rows.Next() {
		var ch message.Channel
		var n int64
		if err := rows.Scan(&ch, &n); err != nil {
			return nil, fmt.Errorf("failed to scan message count: %w", err)
		}
		counts[ch] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message counts: %w", err)
	}

	return counts, nil
}

// CountFailedByErrorCode reports dead letters per error code inside [from, to].
func (r *MessageRepository) CountFailedByErrorCode(
	ctx context.Context,
	orgID int64,
	from, to time.Time,
) (map[string]int64, error) {
	query, args, err := sq.Select("error_code", "COUNT(*)").
		From("outbound_messages").
		Where(sq.Eq{"org_id": orgID, "status": message.StatusFailed}).
		Where(sq.GtOrEq{"updated_at": from}).
		Where(sq.LtOrEq{"updated_at": to}).
		GroupBy("error_code").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build count query: %w", err)
	}

	rows, err := r.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count failures by code: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var code string
		var n int64
		if err := rows.Scan(&code, &n); err != nil {
			return nil, fmt.Errorf("failed to scan failure count: %w", err)
		}
		counts[code] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failure counts: %w", err)
	}

	return counts, nil
}

// FailureTrend reports dead-letter counts per day inside [from, to], keyed
// by date in YYYY-MM-DD.
func (r *MessageRepository) FailureTrend(
	ctx context.Context,
	orgID int64,
	from, to time.Time,
) (map[string]int64, error) {
	query, args, err := sq.Select("TO_CHAR(updated_at, 'YYYY-MM-DD') AS day", "COUNT(*)").
		From("outbound_messages").
		Where(sq.Eq{"org_id": orgID, "status": message.StatusFailed}).
		Where(sq.GtOrEq{"updated_at": from}).
		Where(sq.LtOrEq{"updated_at": to}).
		GroupBy("day").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build trend query: %w", err)
	}

	rows, err := r.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query failure trend: %w", err)
	}
	defer rows.Close()

	trend := make(map[string]int64)
	for rows.Next() {
		var day string
		var n int64
		if err := rows.Scan(&day, &n); err != nil {
			return nil, fmt.Errorf("failed to scan failure trend: %w", err)
		}
		trend[day] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failure trend: %w", err)
	}

	return trend, nil
}

// RecentDeadLetters returns the most recently failed messages.
func (r *MessageRepository) RecentDeadLetters(
	ctx context.Context,
	orgID int64,
	limit int,
) ([]message.OutboundMessage, error) {
	query, args, err := sq.Select(messageColumns...).
		From("outbound_messages").
		Where(sq.Eq{"org_id": orgID, "status": message.StatusFailed}).
		OrderBy("updated_at DESC").
		Limit(uint64(limit)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}
	defer rows.Close()

	var messages []message.OutboundMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		messages = append(messages, *msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dead letters: %w", err)
	}

	return messages, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*message.OutboundMessage, error) {
	var msg message.OutboundMessage
	var payload []byte
	var dossierID sql.NullInt64

	err := row.Scan(
		&msg.ID,
		&msg.OrgID,
		&msg.IdempotencyKey,
		&msg.Channel,
		&msg.To,
		&dossierID,
		&msg.TemplateCode,
		&msg.Subject,
		&payload,
		&msg.Status,
		&msg.AttemptCount,
		&msg.MaxAttempts,
		&msg.ErrorCode,
		&msg.ErrorMessage,
		&msg.ProviderMessageID,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if dossierID.Valid {
		msg.DossierID = &dossierID.Int64
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &msg.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}

	return &msg, nil
}
