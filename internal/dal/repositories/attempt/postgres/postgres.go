package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/casefront/outbound/internal/dal/postgres"
	"github.com/casefront/outbound/internal/service/models/attempt"
	"github.com/casefront/outbound/internal/service/models/message"
)

// AttemptRepository implements the delivery attempt store for PostgreSQL.
type AttemptRepository struct {
	client *postgres.Client
}

// NewAttemptRepository creates a new attempt repository.
func NewAttemptRepository(client *postgres.Client) *AttemptRepository {
	return &AttemptRepository{
		client: client,
	}
}

// Insert persists a new attempt row.
func (r *AttemptRepository) Insert(
	ctx context.Context,
	att attempt.OutboundAttempt,
) (attempt.OutboundAttempt, error) {
	query, args, err := sq.Insert("outbound_attempts").
		Columns(
			"outbound_message_id",
			"attempt_no",
			"status",
			"error_code",
			"error_message",
			"next_retry_at",
			"provider_response",
			"created_at",
			"updated_at",
		).
		Values(
			att.OutboundMessageID,
			att.AttemptNo,
			att.Status,
			att.ErrorCode,
			att.ErrorMessage,
			att.NextRetryAt,
			nil,
			att.CreatedAt,
			att.UpdatedAt,
		).
		Suffix("RETURNING id").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return att, fmt.Errorf("failed to build insert query: %w", err)
	}

	if err := r.client.DB().QueryRowContext(ctx, query, args...).Scan(&att.ID); err != nil {
		return att, fmt.Errorf("failed to insert attempt: %w", err)
	}

	return att, nil
}

// MarkSuccess finalizes an attempt as SUCCESS.
func (r *AttemptRepository) MarkSuccess(
	ctx context.Context,
	id int64,
	response map[string]any,
) error {
	return r.finalize(ctx, id, attempt.StatusSuccess, "", "", nil, response)
}

// MarkFailed finalizes an attempt as FAILED.
func (r *AttemptRepository) MarkFailed(
	ctx context.Context,
	id int64,
	code, msg string,
	nextRetryAt *time.Time,
	response map[string]any,
) error {
	return r.finalize(ctx, id, attempt.StatusFailed, code, msg, nextRetryAt, response)
}

func (r *AttemptRepository) finalize(
	ctx context.Context,
	id int64,
	status attempt.Status,
	code, msg string,
	nextRetryAt *time.Time,
	response map[string]any,
) error {
	var raw []byte
	if response != nil {
		var err error
		raw, err = json.Marshal(response)
		if err != nil {
			return fmt.Errorf("failed to marshal provider response: %w", err)
		}
	}

	query, args, err := sq.Update("outbound_attempts").
		Set("status", status).
		Set("error_code", code).
		Set("error_message", msg).
		Set("next_retry_at", nextRetryAt).
		Set("provider_response", raw).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}

	_, err = r.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to finalize attempt: %w", err)
	}

	return nil
}

// ListByMessage returns all attempts for a message ordered by attempt_no.
func (r *AttemptRepository) ListByMessage(
	ctx context.Context,
	messageID int64,
) ([]attempt.OutboundAttempt, error) {
	query, args, err := sq.Select(
		"id",
		"outbound_message_id",
		"attempt_no",
		"status",
		"error_code",
		"error_message",
		"next_retry_at",
		"provider_response",
		"created_at",
		"updated_at",
	).
		From("outbound_attempts").
		Where(sq.Eq{"outbound_message_id": messageID}).
		OrderBy("attempt_no ASC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []attempt.OutboundAttempt
	for rows.Next() {
		var att attempt.OutboundAttempt
		var nextRetryAt sql.NullTime
		var raw []byte
		err := rows.Scan(
			&att.ID,
			&att.OutboundMessageID,
			&att.AttemptNo,
			&att.Status,
			&att.ErrorCode,
			&att.ErrorMessage,
			&nextRetryAt,
			&raw,
			&att.CreatedAt,
			&att.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		if nextRetryAt.Valid {
			att.NextRetryAt = &nextRetryAt.Time
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &att.ProviderResponse); err != nil {
				return nil, fmt.Errorf("failed to unmarshal provider response: %w", err)
			}
		}
		attempts = append(attempts, att)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempts: %w", err)
	}

	return attempts, nil
}

// DeliveryLatencies returns per-channel delivery latencies in seconds for
// attempts that succeeded inside [from, to]. Latency runs from message
// creation to attempt finalization.
func (r *AttemptRepository) DeliveryLatencies(
	ctx context.Context,
	orgID int64,
	from, to time.Time,
) (map[message.Channel][]float64, error) {
	query, args, err := sq.Select(
		"m.channel",
		"EXTRACT(EPOCH FROM (a.updated_at - m.created_at))",
	).
		From("outbound_attempts a").
		Join("outbound_messages m ON m.id = a.outbound_message_id").
		Where(sq.Eq{"a.status": attempt.StatusSuccess, "m.org_id": orgID}).
		Where(sq.GtOrEq{"a.updated_at": from}).
		Where(sq.LtOrEq{"a.updated_at": to}).
		OrderBy("a.updated_at ASC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build latency query: %w", err)
	}

	rows, err := r.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query latencies: %w", err)
	}
	defer rows.Close()

	latencies := make(map[message.Channel][]float64)
	for rows.Next() {
		var ch message.Channel
		var seconds float64
		if err := rows.Scan(&ch, &seconds); err != nil {
			return nil, fmt.Errorf("failed to scan latency: %w", err)
		}
		latencies[ch] = append(latencies[ch], seconds)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating latencies: %w", err)
	}

	return latencies, nil
}
