package mailgate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/casefront/outbound/internal/provider"
	"github.com/casefront/outbound/internal/ratelimit"
	"github.com/casefront/outbound/internal/service/models/message"
	"github.com/casefront/outbound/internal/tenantcfg"
)

// Error codes reported by this adapter.
const (
	CodeInvalidRecipient = "INVALID_RECIPIENT"
	CodeMessageTooLarge  = "MESSAGE_TOO_LARGE"
	CodeConfigMissing    = "CONFIG_MISSING"
	CodeQuotaExceeded    = "QUOTA_EXCEEDED"
	CodeRelayUnavailable = "PROVIDER_UNAVAILABLE"
	CodeMailboxRejected  = "MAILBOX_REJECTED"
	CodeAuthFailed       = "AUTH_FAILED"
)

// maxBodyBytes caps the rendered email body accepted by the relay.
const maxBodyBytes = 10 << 20

var addressRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

var retryable = map[string]bool{
	CodeQuotaExceeded:        true,
	CodeRelayUnavailable:     true,
	provider.CodeWorkerError: true,
	provider.CodeNoProvider:  true,
	CodeInvalidRecipient:     false,
	CodeMessageTooLarge:      false,
	CodeConfigMissing:        false,
	CodeMailboxRejected:      false,
	CodeAuthFailed:           false,
}

// Relay is the transport behind this adapter, wrapping the tenant's mail
// relay account.
type Relay interface {
	Submit(ctx context.Context, apiKey, from, to, subject, body string) (string, error)
}

// RelayError is a relay-reported failure carrying a classification code.
type RelayError struct {
	Code    string
	Message string
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Adapter sends email through the tenant's configured relay account.
type Adapter struct {
	relay   Relay
	tenants *tenantcfg.Store
	limiter *ratelimit.Limiter
	timeout time.Duration
}

// NewAdapter creates the email adapter.
func NewAdapter(relay Relay, tenants *tenantcfg.Store, limiter *ratelimit.Limiter) *Adapter {
	return &Adapter{
		relay:   relay,
		tenants: tenants,
		limiter: limiter,
		timeout: 60 * time.Second,
	}
}

// Supports implements provider.Adapter.
func (a *Adapter) Supports(ch message.Channel) bool {
	return ch == message.ChannelEmail
}

// IsRetryable implements provider.Adapter.
func (a *Adapter) IsRetryable(code string) bool {
	return retryable[code]
}

// Send implements provider.Adapter.
func (a *Adapter) Send(ctx context.Context, msg *message.OutboundMessage) (provider.SendResult, error) {
	creds, ok := a.tenants.Credentials(msg.OrgID, message.ChannelEmail)
	if !ok {
		return provider.Failed(CodeConfigMissing,
			fmt.Sprintf("no email relay configured for org %d", msg.OrgID), false, nil), nil
	}

	if !addressRe.MatchString(msg.To) {
		return provider.Failed(CodeInvalidRecipient,
			fmt.Sprintf("recipient %q is not a valid address", msg.To), false, nil), nil
	}

	body := msg.Payload["body"]
	if len(body) > maxBodyBytes {
		return provider.Failed(CodeMessageTooLarge,
			fmt.Sprintf("body is %d bytes, limit is %d", len(body), maxBodyBytes), false, nil), nil
	}

	if !a.limiter.CheckAndConsume(msg.OrgID, message.ChannelEmail) {
		return provider.Failed(CodeQuotaExceeded,
			fmt.Sprintf("send quota exhausted for org %d", msg.OrgID), true, nil), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	providerID, err := a.relay.Submit(callCtx, creds.APIKey, creds.Sender, msg.To, msg.Subject, body)
	if err != nil {
		code := CodeRelayUnavailable
		text := err.Error()

		var relayErr *RelayError
		if errors.As(err, &relayErr) {
			code = relayErr.Code
			text = relayErr.Message
		}

		return provider.Failed(code, provider.Redact(text, creds.APIKey), a.IsRetryable(code), nil), nil
	}

	return provider.Succeeded(providerID, map[string]any{
		"from": creds.Sender,
	}), nil
}
