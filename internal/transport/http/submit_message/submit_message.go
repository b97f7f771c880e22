package submitmessage

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/casefront/outbound/internal/service/models/message"
	"github.com/casefront/outbound/internal/service/services/intakesvc"
)

// service is an interface for the service layer.
type service interface {
	Submit(ctx context.Context, req intakesvc.SubmitRequest) (*message.OutboundMessage, error)
}

// submitMessageRequest represents a message submit request.
type submitMessageRequest struct {
	OrgID          int64             `json:"orgId"          validate:"gt=0"`
	Channel        string            `json:"channel"        validate:"required"`
	To             string            `json:"to"             validate:"required"`
	DossierID      *int64            `json:"dossierId"`
	TemplateCode   string            `json:"templateCode"`
	Subject        string            `json:"subject"`
	Payload        map[string]string `json:"payload"`
	IdempotencyKey string            `json:"idempotencyKey"`
}

// Validate validates the submit request.
func (r *submitMessageRequest) Validate() error {
	return validator.New().Struct(r)
}

// toModel converts submitMessageRequest to intakesvc.SubmitRequest.
func (r *submitMessageRequest) toModel() (*intakesvc.SubmitRequest, error) {
	ch, err := message.ParseChannel(r.Channel)
	if err != nil {
		return nil, err
	}

	return &intakesvc.SubmitRequest{
		OrgID:          r.OrgID,
		Channel:        ch,
		To:             r.To,
		DossierID:      r.DossierID,
		TemplateCode:   r.TemplateCode,
		Subject:        r.Subject,
		Payload:        r.Payload,
		IdempotencyKey: r.IdempotencyKey,
	}, nil
}

// submitMessageResponse mirrors the stored message back to the caller.
type submitMessageResponse struct {
	ID             int64  `json:"id"`
	Status         string `json:"status"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// Submit handles the message submit request.
func Submit(w http.ResponseWriter, r *http.Request, service service) {
	req := submitMessageRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		slog.Error("Error decoding request body for message submit", "error", err)

		return
	}

	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		slog.Error("Error validating request body for message submit", "error", err)

		return
	}

	model, err := req.toModel()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		slog.Error("Error converting submit request to model", "error", err)

		return
	}

	msg, err := service.Submit(r.Context(), *model)
	if err != nil {
		status := http.StatusInternalServerError

		var validationErr *intakesvc.ValidationError
		switch {
		case errors.Is(err, intakesvc.ErrConsentRequired):
			status = http.StatusForbidden
		case errors.As(err, &validationErr):
			status = http.StatusBadRequest
		}

		http.Error(w, err.Error(), status)
		slog.Error("Error submitting message", "error", err)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(submitMessageResponse{
		ID:             msg.ID,
		Status:         string(msg.Status),
		IdempotencyKey: msg.IdempotencyKey,
	}); err != nil {
		slog.Error("Error encoding submit response", "error", err)
	}
}
