package metricssvc

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/casefront/outbound/internal/dal/interfaces/iattemptrepo"
	"github.com/casefront/outbound/internal/dal/interfaces/imessagerepo"
	"github.com/casefront/outbound/internal/service/models/message"
	"github.com/casefront/outbound/internal/tenantcfg"
)

// fakeMessageRepo serves canned rollups; the embedded interface panics on
// anything the metrics service should never call.
type fakeMessageRepo struct {
	imessagerepo.IMessageRepository

	queued       map[message.Channel]int64
	failed       map[message.Channel]int64
	sent         map[message.Channel]int64
	byCode       map[string]int64
	trend        map[string]int64
	dead         map[message.Channel]int64
	recent       []message.OutboundMessage
	sentLastHour map[message.Channel]int64
}

func (r *fakeMessageRepo) CountQueuedByChannel(context.Context, int64) (map[message.Channel]int64, error) {
	return r.queued, nil
}

func (r *fakeMessageRepo) CountByStatusInWindow(_ context.Context, _ int64, status message.Status, _, _ time.Time) (map[message.Channel]int64, error) {
	if status == message.StatusFailed {
		return r.failed, nil
	}
	return r.sent, nil
}

func (r *fakeMessageRepo) CountFailedByErrorCode(context.Context, int64, time.Time, time.Time) (map[string]int64, error) {
	return r.byCode, nil
}

func (r *fakeMessageRepo) FailureTrend(context.Context, int64, time.Time, time.Time) (map[string]int64, error) {
	return r.trend, nil
}

func (r *fakeMessageRepo) DeadLetterByChannel(context.Context, int64) (map[message.Channel]int64, error) {
	return r.dead, nil
}

func (r *fakeMessageRepo) RecentDeadLetters(context.Context, int64, int) ([]message.OutboundMessage, error) {
	return r.recent, nil
}

func (r *fakeMessageRepo) CountSentSince(context.Context, int64, time.Time) (map[message.Channel]int64, error) {
	return r.sentLastHour, nil
}

type fakeAttemptRepo struct {
	iattemptrepo.IAttemptRepository

	latencies map[message.Channel][]float64
}

func (r *fakeAttemptRepo) DeliveryLatencies(context.Context, int64, time.Time, time.Time) (map[message.Channel][]float64, error) {
	return r.latencies, nil
}

func newTestService(msgs *fakeMessageRepo, attempts *fakeAttemptRepo) *MetricsService {
	return MustNewMetricsService(
		WithMessageRepository(msgs),
		WithAttemptRepository(attempts),
		WithTenantStore(tenantcfg.NewStore()),
	)
}

func TestComputeOverview(t *testing.T) {
	viper.Reset()
	viper.Set("tenants.7.sms.hourly_limit", 200)

	msgs := &fakeMessageRepo{
		queued:       map[message.Channel]int64{message.ChannelSMS: 3, message.ChannelEmail: 2},
		failed:       map[message.Channel]int64{message.ChannelSMS: 1},
		sent:         map[message.Channel]int64{message.ChannelSMS: 9},
		byCode:       map[string]int64{"INVALID_RECIPIENT": 1},
		trend:        map[string]int64{"2026-08-27": 1},
		dead:         map[message.Channel]int64{message.ChannelSMS: 1},
		sentLastHour: map[message.Channel]int64{message.ChannelSMS: 50},
	}
	attempts := &fakeAttemptRepo{
		latencies: map[message.Channel][]float64{
			message.ChannelSMS: {0.4, 0.2, 0.3, 0.1, 0.5},
		},
	}
	svc := newTestService(msgs, attempts)

	ov, err := svc.ComputeOverview(context.Background(), 7, time.Time{}, time.Time{})
	require.NoError(t, err)

	require.Equal(t, int64(5), ov.QueueDepth)
	require.Equal(t, int64(3), ov.QueueDepthByChannel[message.ChannelSMS])
	require.InDelta(t, 0.1, ov.FailureRate, 1e-9)
	require.Equal(t, int64(1), ov.FailuresByErrorCode["INVALID_RECIPIENT"])
	require.Equal(t, int64(1), ov.DeadLetters.Size)
	require.False(t, ov.DeadLetters.Alert)
	require.InDelta(t, 25.0, ov.QuotaUsagePercent[message.ChannelSMS], 1e-9)

	stats := ov.Latency[message.ChannelSMS]
	require.Equal(t, 5, stats.Count)
	require.InDelta(t, 0.3, stats.P50, 1e-9)
	require.InDelta(t, 0.5, stats.P95, 1e-9)
	require.InDelta(t, 0.5, stats.P99, 1e-9)
	require.InDelta(t, 0.3, stats.Average, 1e-9)
}

func TestComputeOverviewDefaultsWindow(t *testing.T) {
	viper.Reset()

	svc := newTestService(&fakeMessageRepo{}, &fakeAttemptRepo{})

	ov, err := svc.ComputeOverview(context.Background(), 7, time.Time{}, time.Time{})
	require.NoError(t, err)

	require.WithinDuration(t, time.Now(), ov.To, time.Second)
	require.WithinDuration(t, ov.To.Add(-24*time.Hour), ov.From, time.Second)
	require.Zero(t, ov.QueueDepth)
	require.Zero(t, ov.FailureRate)
}

func TestDeadLetterAlertThreshold(t *testing.T) {
	viper.Reset()
	viper.Set("metrics.dead_letter_alert_threshold", 2)

	msgs := &fakeMessageRepo{
		dead: map[message.Channel]int64{
			message.ChannelSMS:   2,
			message.ChannelEmail: 1,
		},
	}
	svc := newTestService(msgs, &fakeAttemptRepo{})

	ov, err := svc.ComputeOverview(context.Background(), 7, time.Time{}, time.Time{})
	require.NoError(t, err)

	require.Equal(t, int64(3), ov.DeadLetters.Size)
	require.True(t, ov.DeadLetters.Alert)
}

func TestPercentileNearestRank(t *testing.T) {
	sorted := []float64{10, 20, 30, 40, 50}

	require.Equal(t, 30.0, percentile(sorted, 50))
	require.Equal(t, 50.0, percentile(sorted, 95))
	require.Equal(t, 50.0, percentile(sorted, 99))
	require.Equal(t, 10.0, percentile([]float64{10}, 50))
}
