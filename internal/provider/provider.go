package provider

import (
	"context"
	"strings"

	"github.com/casefront/outbound/internal/service/models/message"
)

// Error codes the worker itself attaches when dispatch never reaches a
// provider. Adapters use their own channel-specific codes.
const (
	CodeNoProvider  = "NO_PROVIDER"
	CodeWorkerError = "WORKER_ERROR"
)

// SendResult is the normalized outcome of one provider call. Adapters report
// ordinary provider-side errors through it instead of returning an error;
// only genuinely unexpected conditions surface as an error from Send.
type SendResult struct {
	Success           bool
	ProviderMessageID string
	ErrorCode         string
	ErrorMessage      string
	Retryable         bool
	Response          map[string]any
}

// Succeeded builds a successful SendResult.
func Succeeded(providerMessageID string, response map[string]any) SendResult {
	return SendResult{
		Success:           true,
		ProviderMessageID: providerMessageID,
		Response:          response,
	}
}

// Failed builds a failed SendResult.
func Failed(code, msg string, retryable bool, response map[string]any) SendResult {
	return SendResult{
		ErrorCode:    code,
		ErrorMessage: msg,
		Retryable:    retryable,
		Response:     response,
	}
}

// Adapter turns a generic outbound message into a channel-specific provider
// call. Implementations look up their own per-tenant configuration, enforce
// message validity and quota, and redact secrets from any error text before
// it is returned.
type Adapter interface {
	// Supports is a pure routing predicate.
	Supports(ch message.Channel) bool

	// Send performs the provider call. It must bound its own duration.
	Send(ctx context.Context, msg *message.OutboundMessage) (SendResult, error)

	// IsRetryable classifies a provider error code.
	IsRetryable(code string) bool
}

// Registry routes messages to adapters. Resolution is a linear scan in
// registration order; the first adapter whose Supports returns true wins.
type Registry struct {
	adapters []Adapter
}

// NewRegistry creates a registry over the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	return &Registry{adapters: adapters}
}

// Register appends an adapter to the registry.
func (r *Registry) Register(a Adapter) {
	r.adapters = append(r.adapters, a)
}

// Resolve returns the first adapter supporting the channel, or false.
func (r *Registry) Resolve(ch message.Channel) (Adapter, bool) {
	for _, a := range r.adapters {
		if a.Supports(ch) {
			return a, true
		}
	}

	return nil, false
}

// Redact removes a tenant secret from error text so raw credentials can
// never reach the message store.
func Redact(text, secret string) string {
	if secret == "" {
		return text
	}

	return strings.ReplaceAll(text, secret, "[redacted]")
}
