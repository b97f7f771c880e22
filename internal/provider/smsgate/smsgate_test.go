package smsgate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/casefront/outbound/internal/ratelimit"
	"github.com/casefront/outbound/internal/service/models/message"
	"github.com/casefront/outbound/internal/tenantcfg"
)

type fakeGateway struct {
	providerID string
	err        error

	calls  int
	lastTo string
	body   string
}

func (g *fakeGateway) Submit(_ context.Context, _, _, to, body string) (string, error) {
	g.calls++
	g.lastTo = to
	g.body = body
	if g.err != nil {
		return "", g.err
	}
	return g.providerID, nil
}

func newTestAdapter(gateway *fakeGateway) *Adapter {
	viper.Reset()
	viper.Set("tenants.7.sms.api_key", "sk-test-secret")
	viper.Set("tenants.7.sms.sender", "CaseFront")

	return NewAdapter(gateway, tenantcfg.NewStore(), ratelimit.NewLimiter(tenantcfg.NewStore()))
}

func smsMessage() *message.OutboundMessage {
	return &message.OutboundMessage{
		ID:      1,
		OrgID:   7,
		Channel: message.ChannelSMS,
		To:      "+31612345678",
		Payload: map[string]string{"body": "your case has been updated"},
	}
}

func TestSupports(t *testing.T) {
	a := newTestAdapter(&fakeGateway{})

	require.True(t, a.Supports(message.ChannelSMS))
	require.False(t, a.Supports(message.ChannelEmail))
}

func TestSendSuccess(t *testing.T) {
	gateway := &fakeGateway{providerID: "sms-123"}
	a := newTestAdapter(gateway)

	res, err := a.Send(context.Background(), smsMessage())
	require.NoError(t, err)

	require.True(t, res.Success)
	require.Equal(t, "sms-123", res.ProviderMessageID)
	require.Equal(t, 1, gateway.calls)
	require.Equal(t, "+31612345678", gateway.lastTo)
	require.Equal(t, "your case has been updated", gateway.body)
}

func TestSendMissingCredentials(t *testing.T) {
	gateway := &fakeGateway{}
	a := newTestAdapter(gateway)

	msg := smsMessage()
	msg.OrgID = 99

	res, err := a.Send(context.Background(), msg)
	require.NoError(t, err)

	require.False(t, res.Success)
	require.Equal(t, CodeConfigMissing, res.ErrorCode)
	require.False(t, res.Retryable)
	require.Zero(t, gateway.calls)
}

func TestSendInvalidRecipient(t *testing.T) {
	gateway := &fakeGateway{}
	a := newTestAdapter(gateway)

	for _, to := range []string{"0612345678", "+0123", "not-a-number", ""} {
		msg := smsMessage()
		msg.To = to

		res, err := a.Send(context.Background(), msg)
		require.NoError(t, err)

		require.False(t, res.Success, "recipient %q", to)
		require.Equal(t, CodeInvalidRecipient, res.ErrorCode)
		require.False(t, res.Retryable)
	}
	require.Zero(t, gateway.calls)
}

func TestSendBodyTooLarge(t *testing.T) {
	a := newTestAdapter(&fakeGateway{})

	msg := smsMessage()
	msg.Payload = map[string]string{"body": strings.Repeat("x", maxBodyChars+1)}

	res, err := a.Send(context.Background(), msg)
	require.NoError(t, err)

	require.Equal(t, CodeMessageTooLarge, res.ErrorCode)
	require.False(t, res.Retryable)
}

func TestSendGatewayErrorClassification(t *testing.T) {
	cases := []struct {
		code      string
		retryable bool
	}{
		{CodeThrottled, true},
		{CodeUnavailable, true},
		{CodeTimeout, true},
		{CodeAuthFailed, false},
		{CodeOptedOut, false},
		{CodeTemplateNotFound, false},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			gateway := &fakeGateway{err: &GatewayError{Code: tc.code, Message: "provider said no"}}
			a := newTestAdapter(gateway)

			res, err := a.Send(context.Background(), smsMessage())
			require.NoError(t, err)

			require.False(t, res.Success)
			require.Equal(t, tc.code, res.ErrorCode)
			require.Equal(t, tc.retryable, res.Retryable)
		})
	}
}

func TestSendUnclassifiedErrorIsUnavailable(t *testing.T) {
	gateway := &fakeGateway{err: errors.New("connection reset by peer")}
	a := newTestAdapter(gateway)

	res, err := a.Send(context.Background(), smsMessage())
	require.NoError(t, err)

	require.Equal(t, CodeUnavailable, res.ErrorCode)
	require.True(t, res.Retryable)
}

func TestSendRedactsCredentials(t *testing.T) {
	gateway := &fakeGateway{err: &GatewayError{
		Code:    CodeAuthFailed,
		Message: "key sk-test-secret was rejected",
	}}
	a := newTestAdapter(gateway)

	res, err := a.Send(context.Background(), smsMessage())
	require.NoError(t, err)

	require.NotContains(t, res.ErrorMessage, "sk-test-secret")
	require.Contains(t, res.ErrorMessage, "[redacted]")
}

func TestSendQuotaExceeded(t *testing.T) {
	gateway := &fakeGateway{providerID: "sms-1"}
	a := newTestAdapter(gateway)
	viper.Set("tenants.7.sms.hourly_limit", 3600)
	viper.Set("tenants.7.sms.burst", 1)

	res, err := a.Send(context.Background(), smsMessage())
	require.NoError(t, err)
	require.True(t, res.Success)

	// Burst of one is spent; the next send inside the same second is refused
	// before the gateway is called.
	res, err = a.Send(context.Background(), smsMessage())
	require.NoError(t, err)

	require.False(t, res.Success)
	require.Equal(t, CodeQuotaExceeded, res.ErrorCode)
	require.True(t, res.Retryable)
	require.Equal(t, 1, gateway.calls)
}
