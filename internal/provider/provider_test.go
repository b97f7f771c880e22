package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/casefront/outbound/internal/service/models/message"
)

type stubAdapter struct {
	channel message.Channel
	name    string
}

func (a *stubAdapter) Supports(ch message.Channel) bool { return ch == a.channel }

func (a *stubAdapter) Send(context.Context, *message.OutboundMessage) (SendResult, error) {
	return Succeeded(a.name, nil), nil
}

func (a *stubAdapter) IsRetryable(string) bool { return false }

func TestRegistryResolvesByChannel(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubAdapter{channel: message.ChannelSMS, name: "sms"})
	r.Register(&stubAdapter{channel: message.ChannelEmail, name: "email"})

	adapter, ok := r.Resolve(message.ChannelEmail)
	require.True(t, ok)

	res, err := adapter.Send(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "email", res.ProviderMessageID)
}

func TestRegistryResolveUnsupportedChannel(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubAdapter{channel: message.ChannelSMS, name: "sms"})

	_, ok := r.Resolve(message.ChannelWhatsApp)
	require.False(t, ok)
}

func TestRegistryFirstMatchWins(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubAdapter{channel: message.ChannelSMS, name: "primary"})
	r.Register(&stubAdapter{channel: message.ChannelSMS, name: "fallback"})

	adapter, ok := r.Resolve(message.ChannelSMS)
	require.True(t, ok)

	res, err := adapter.Send(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "primary", res.ProviderMessageID)
}

func TestRedact(t *testing.T) {
	require.Equal(t, "key [redacted] rejected", Redact("key sk-123 rejected", "sk-123"))
	require.Equal(t, "no secret here", Redact("no secret here", "sk-123"))
	require.Equal(t, "unchanged", Redact("unchanged", ""))
}
