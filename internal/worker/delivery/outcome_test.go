package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/casefront/outbound/internal/provider"
	"github.com/casefront/outbound/internal/service/models/message"
)

func TestDecideSuccess(t *testing.T) {
	msg := &message.OutboundMessage{AttemptCount: 1, MaxAttempts: 5}

	d := decide(msg, provider.Succeeded("prov-1", nil), time.Now(), defaultBackoffMinutes)

	require.Equal(t, message.StatusSent, d.status)
	require.Nil(t, d.nextRetryAt)
}

func TestDecideBackoffTable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	res := provider.Failed("THROTTLED", "slow down", true, nil)

	cases := []struct {
		attemptCount int
		wantMinutes  int
	}{
		{1, 1},
		{2, 5},
		{3, 15},
		{4, 60},
		{5, 360},
		{6, 360}, // clamped to the last entry
	}

	for _, tc := range cases {
		msg := &message.OutboundMessage{AttemptCount: tc.attemptCount, MaxAttempts: 10}

		d := decide(msg, res, now, defaultBackoffMinutes)

		require.Equal(t, message.StatusQueued, d.status, "attempt %d", tc.attemptCount)
		require.NotNil(t, d.nextRetryAt)
		require.Equal(t, now.Add(time.Duration(tc.wantMinutes)*time.Minute), *d.nextRetryAt,
			"attempt %d", tc.attemptCount)
	}
}

func TestDecideNonRetryableShortCircuit(t *testing.T) {
	msg := &message.OutboundMessage{AttemptCount: 1, MaxAttempts: 5}

	d := decide(msg, provider.Failed("INVALID_RECIPIENT", "bad number", false, nil), time.Now(), defaultBackoffMinutes)

	require.Equal(t, message.StatusFailed, d.status)
	require.Equal(t, ReasonNonRetryable, d.reason)
	require.Nil(t, d.nextRetryAt)
}

func TestDecideDeadLetterAtMaxAttempts(t *testing.T) {
	msg := &message.OutboundMessage{AttemptCount: 3, MaxAttempts: 3}

	d := decide(msg, provider.Failed("THROTTLED", "slow down", true, nil), time.Now(), defaultBackoffMinutes)

	require.Equal(t, message.StatusFailed, d.status)
	require.Equal(t, ReasonMaxAttempts, d.reason)
}

func TestDecideEmptyTableFallsBack(t *testing.T) {
	now := time.Now()
	msg := &message.OutboundMessage{AttemptCount: 1, MaxAttempts: 5}

	d := decide(msg, provider.Failed("TIMEOUT", "timeout", true, nil), now, nil)

	require.Equal(t, message.StatusQueued, d.status)
	require.Equal(t, now.Add(time.Minute), *d.nextRetryAt)
}
