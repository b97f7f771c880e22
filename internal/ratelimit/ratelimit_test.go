package ratelimit

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/casefront/outbound/internal/service/models/message"
	"github.com/casefront/outbound/internal/tenantcfg"
)

func TestCheckAndConsumeSpendsBurst(t *testing.T) {
	viper.Reset()
	viper.Set("tenants.7.sms.hourly_limit", 3600)
	viper.Set("tenants.7.sms.burst", 2)

	l := NewLimiter(tenantcfg.NewStore())

	require.True(t, l.CheckAndConsume(7, message.ChannelSMS))
	require.True(t, l.CheckAndConsume(7, message.ChannelSMS))
	require.False(t, l.CheckAndConsume(7, message.ChannelSMS))
}

func TestBucketsAreIsolatedPerTenantAndChannel(t *testing.T) {
	viper.Reset()
	viper.Set("tenants.7.sms.hourly_limit", 3600)
	viper.Set("tenants.7.sms.burst", 1)

	l := NewLimiter(tenantcfg.NewStore())

	require.True(t, l.CheckAndConsume(7, message.ChannelSMS))
	require.False(t, l.CheckAndConsume(7, message.ChannelSMS))

	// Another channel and another tenant spend their own buckets.
	require.True(t, l.CheckAndConsume(7, message.ChannelEmail))
	require.True(t, l.CheckAndConsume(8, message.ChannelSMS))
}

func TestDefaultTierApplies(t *testing.T) {
	viper.Reset()
	viper.Set("tenants.default.hourly_limit", 3600)
	viper.Set("tenants.default.burst", 1)

	l := NewLimiter(tenantcfg.NewStore())

	require.True(t, l.CheckAndConsume(42, message.ChannelSMS))
	require.False(t, l.CheckAndConsume(42, message.ChannelSMS))
}
