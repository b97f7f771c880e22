package mailgate

import (
	"context"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/casefront/outbound/internal/ratelimit"
	"github.com/casefront/outbound/internal/service/models/message"
	"github.com/casefront/outbound/internal/tenantcfg"
)

type fakeRelay struct {
	providerID string
	err        error

	calls       int
	lastSubject string
}

func (r *fakeRelay) Submit(_ context.Context, _, _, _, subject, _ string) (string, error) {
	r.calls++
	r.lastSubject = subject
	if r.err != nil {
		return "", r.err
	}
	return r.providerID, nil
}

func newTestAdapter(relay *fakeRelay) *Adapter {
	viper.Reset()
	viper.Set("tenants.7.email.api_key", "relay-secret")
	viper.Set("tenants.7.email.sender", "noreply@casefront.example")

	return NewAdapter(relay, tenantcfg.NewStore(), ratelimit.NewLimiter(tenantcfg.NewStore()))
}

func emailMessage() *message.OutboundMessage {
	return &message.OutboundMessage{
		ID:      1,
		OrgID:   7,
		Channel: message.ChannelEmail,
		To:      "case@worker.example",
		Subject: "Case updated",
		Payload: map[string]string{"body": "Your case has a new document."},
	}
}

func TestSendSuccess(t *testing.T) {
	relay := &fakeRelay{providerID: "mail-9"}
	a := newTestAdapter(relay)

	res, err := a.Send(context.Background(), emailMessage())
	require.NoError(t, err)

	require.True(t, res.Success)
	require.Equal(t, "mail-9", res.ProviderMessageID)
	require.Equal(t, "Case updated", relay.lastSubject)
}

func TestSendInvalidAddress(t *testing.T) {
	relay := &fakeRelay{}
	a := newTestAdapter(relay)

	for _, to := range []string{"not-an-address", "a@b", "a b@c.d", ""} {
		msg := emailMessage()
		msg.To = to

		res, err := a.Send(context.Background(), msg)
		require.NoError(t, err)

		require.Equal(t, CodeInvalidRecipient, res.ErrorCode, "recipient %q", to)
		require.False(t, res.Retryable)
	}
	require.Zero(t, relay.calls)
}

func TestSendRelayErrorClassification(t *testing.T) {
	cases := []struct {
		code      string
		retryable bool
	}{
		{CodeRelayUnavailable, true},
		{CodeMailboxRejected, false},
		{CodeAuthFailed, false},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			relay := &fakeRelay{err: &RelayError{Code: tc.code, Message: "relay refused"}}
			a := newTestAdapter(relay)

			res, err := a.Send(context.Background(), emailMessage())
			require.NoError(t, err)

			require.False(t, res.Success)
			require.Equal(t, tc.code, res.ErrorCode)
			require.Equal(t, tc.retryable, res.Retryable)
		})
	}
}

func TestSendRedactsRelaySecret(t *testing.T) {
	relay := &fakeRelay{err: &RelayError{
		Code:    CodeAuthFailed,
		Message: "login relay-secret rejected",
	}}
	a := newTestAdapter(relay)

	res, err := a.Send(context.Background(), emailMessage())
	require.NoError(t, err)

	require.NotContains(t, res.ErrorMessage, "relay-secret")
	require.Contains(t, res.ErrorMessage, "[redacted]")
}
