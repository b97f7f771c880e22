package smsgate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

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
	CodeThrottled        = "THROTTLED"
	CodeUnavailable      = "PROVIDER_UNAVAILABLE"
	CodeTimeout          = "TIMEOUT"
	CodeAuthFailed       = "AUTH_FAILED"
	CodeOptedOut         = "OPTED_OUT"
	CodeTemplateNotFound = "TEMPLATE_NOT_FOUND"
)

// maxBodyChars is the gateway's hard cap on concatenated SMS bodies.
const maxBodyChars = 1600

var e164 = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// retryable classifies gateway error codes. Throttling and availability
// errors resolve themselves; malformed input never does.
var retryable = map[string]bool{
	CodeQuotaExceeded:        true,
	CodeThrottled:            true,
	CodeUnavailable:          true,
	CodeTimeout:              true,
	provider.CodeWorkerError: true,
	provider.CodeNoProvider:  true,
	CodeInvalidRecipient:     false,
	CodeMessageTooLarge:      false,
	CodeConfigMissing:        false,
	CodeAuthFailed:           false,
	CodeOptedOut:             false,
	CodeTemplateNotFound:     false,
}

// Gateway is the channel-specific transport behind this adapter. The real
// implementation wraps the SMS provider's HTTP API; tests substitute a fake.
type Gateway interface {
	// Submit delivers one SMS and returns the provider's message id. It must
	// return codes from this package's table for provider-reported errors.
	Submit(ctx context.Context, apiKey, sender, to, body string) (string, error)
}

// GatewayError is a provider-reported failure carrying a classification code.
type GatewayError struct {
	Code    string
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Adapter sends SMS messages through the tenant's configured gateway
// account.
type Adapter struct {
	gateway Gateway
	tenants *tenantcfg.Store
	limiter *ratelimit.Limiter
	timeout time.Duration
}

// NewAdapter creates the SMS adapter.
func NewAdapter(gateway Gateway, tenants *tenantcfg.Store, limiter *ratelimit.Limiter) *Adapter {
	return &Adapter{
		gateway: gateway,
		tenants: tenants,
		limiter: limiter,
		timeout: 30 * time.Second,
	}
}

// Supports implements provider.Adapter.
func (a *Adapter) Supports(ch message.Channel) bool {
	return ch == message.ChannelSMS
}

// IsRetryable implements provider.Adapter.
func (a *Adapter) IsRetryable(code string) bool {
	return retryable[code]
}

// Send implements provider.Adapter. Provider-reported errors come back as a
// failed SendResult, never as an error.
func (a *Adapter) Send(ctx context.Context, msg *message.OutboundMessage) (provider.SendResult, error) {
	creds, ok := a.tenants.Credentials(msg.OrgID, message.ChannelSMS)
	if !ok {
		return provider.Failed(CodeConfigMissing,
			fmt.Sprintf("no SMS credentials configured for org %d", msg.OrgID), false, nil), nil
	}

	if !e164.MatchString(msg.To) {
		return provider.Failed(CodeInvalidRecipient,
			fmt.Sprintf("recipient %q is not a valid E.164 number", msg.To), false, nil), nil
	}

	body := renderBody(msg)
	if len([]rune(body)) > maxBodyChars {
		return provider.Failed(CodeMessageTooLarge,
			fmt.Sprintf("body is %d chars, limit is %d", len([]rune(body)), maxBodyChars), false, nil), nil
	}

	if !a.limiter.CheckAndConsume(msg.OrgID, message.ChannelSMS) {
		return provider.Failed(CodeQuotaExceeded,
			fmt.Sprintf("send quota exhausted for org %d", msg.OrgID), true, nil), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	providerID, err := a.gateway.Submit(callCtx, creds.APIKey, creds.Sender, msg.To, body)
	if err != nil {
		return a.failureFrom(msg.OrgID, creds.APIKey, err), nil
	}

	if providerID == "" {
		providerID = uuid.NewString()
	}

	return provider.Succeeded(providerID, map[string]any{
		"sender": creds.Sender,
		"parts":  (len([]rune(body)) + 159) / 160,
	}), nil
}

func (a *Adapter) failureFrom(orgID int64, apiKey string, err error) provider.SendResult {
	code := CodeUnavailable
	text := err.Error()

	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		code = gwErr.Code
		text = gwErr.Message
	}

	if code == CodeThrottled {
		a.limiter.OnRateLimitError(orgID, message.ChannelSMS)
	}

	return provider.Failed(code, provider.Redact(text, apiKey), a.IsRetryable(code), nil)
}

// renderBody flattens the message into the SMS text. Template rendering is
// owned upstream; by the time a message reaches an adapter the payload
// carries the final body.
func renderBody(msg *message.OutboundMessage) string {
	if body, ok := msg.Payload["body"]; ok {
		return body
	}

	return msg.Subject
}
