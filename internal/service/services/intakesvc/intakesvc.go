package intakesvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/casefront/outbound/internal/consent"
	"github.com/casefront/outbound/internal/dal/interfaces/iauditrepo"
	"github.com/casefront/outbound/internal/dal/interfaces/imessagerepo"
	"github.com/casefront/outbound/internal/service/models/message"
)

// ErrConsentRequired is returned when a dossier-bound message lacks a
// granted consent record for its channel. It is a hard synchronous gate,
// never retried.
var ErrConsentRequired = errors.New("consent required")

// ValidationError rejects a malformed submit request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SubmitRequest carries one send request into the pipeline.
type SubmitRequest struct {
	OrgID          int64
	Channel        message.Channel
	To             string
	DossierID      *int64
	TemplateCode   string
	Subject        string
	Payload        map[string]string
	IdempotencyKey string
}

// IntakeService validates, deduplicates, consent-gates, and enqueues
// outbound messages.
type IntakeService struct {
	messageRepo imessagerepo.IMessageRepository
	auditRepo   iauditrepo.IAuditRepository
	consents    consent.Lookup
	maxAttempts int
}

// option is a function that configures the IntakeService.
type option func(*IntakeService)

// MustNewIntakeService creates a new IntakeService.
func MustNewIntakeService(opts ...option) *IntakeService {
	maxAttempts := viper.GetInt("worker.max_attempts")
	if maxAttempts == 0 {
		maxAttempts = 5
	}

	s := &IntakeService{
		maxAttempts: maxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.messageRepo == nil || s.auditRepo == nil || s.consents == nil {
		panic("intakesvc: message repo, audit repo, and consent lookup are required")
	}

	return s
}

// WithMessageRepository sets the message store.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithMessageRepository(repo imessagerepo.IMessageRepository) option {
	return func(s *IntakeService) {
		s.messageRepo = repo
	}
}

// WithAuditRepository sets the audit event sink.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithAuditRepository(repo iauditrepo.IAuditRepository) option {
	return func(s *IntakeService) {
		s.auditRepo = repo
	}
}

// WithConsentLookup sets the consent collaborator.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithConsentLookup(lookup consent.Lookup) option {
	return func(s *IntakeService) {
		s.consents = lookup
	}
}

// Submit accepts one send request. Repeated calls with the same
// (orgID, idempotencyKey) return the stored message without side effects,
// which makes intake safe under client retries.
func (s *IntakeService) Submit(ctx context.Context, req SubmitRequest) (*message.OutboundMessage, error) {
	if err := validate(&req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	} else {
		existing, err := s.messageRepo.GetByIdempotencyKey(ctx, req.OrgID, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	if req.DossierID != nil && req.Channel.RequiresConsent() {
		status, err := s.consents.LatestConsent(ctx, *req.DossierID, req.Channel)
		if err != nil {
			return nil, fmt.Errorf("failed to look up consent: %w", err)
		}
		if status != consent.StatusGranted {
			return nil, fmt.Errorf("%w: dossier %d has no granted %s consent",
				ErrConsentRequired, *req.DossierID, req.Channel)
		}
	}

	now := time.Now()
	msg, err := s.messageRepo.Insert(ctx, message.OutboundMessage{
		OrgID:          req.OrgID,
		IdempotencyKey: req.IdempotencyKey,
		Channel:        req.Channel,
		To:             req.To,
		DossierID:      req.DossierID,
		TemplateCode:   req.TemplateCode,
		Subject:        req.Subject,
		Payload:        req.Payload,
		Status:         message.StatusQueued,
		AttemptCount:   0,
		MaxAttempts:    s.maxAttempts,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue message: %w", err)
	}

	if err := s.auditRepo.LogEvent(ctx, "outbound_message", msg.ID, "created",
		fmt.Sprintf("queued %s message to %s", msg.Channel, msg.To)); err != nil {
		slog.Error("Failed to emit intake audit event", "message_id", msg.ID, "error", err)
	}

	return &msg, nil
}

func validate(req *SubmitRequest) error {
	if req.OrgID <= 0 {
		return &ValidationError{Field: "orgId", Reason: "must be positive"}
	}
	if req.To == "" {
		return &ValidationError{Field: "to", Reason: "must not be empty"}
	}
	if _, err := message.ParseChannel(string(req.Channel)); err != nil {
		return &ValidationError{Field: "channel", Reason: err.Error()}
	}

	return nil
}
