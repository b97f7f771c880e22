package metricssvc

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/spf13/viper"

	"github.com/casefront/outbound/internal/dal/interfaces/iattemptrepo"
	"github.com/casefront/outbound/internal/dal/interfaces/imessagerepo"
	"github.com/casefront/outbound/internal/service/models/message"
	"github.com/casefront/outbound/internal/tenantcfg"
)

// LatencyStats are nearest-rank percentile estimates over delivery
// latencies, in seconds.
type LatencyStats struct {
	Count   int     `json:"count"`
	P50     float64 `json:"p50"`
	P95     float64 `json:"p95"`
	P99     float64 `json:"p99"`
	Average float64 `json:"average"`
}

// DeadLetterStats describe the terminal FAILED population.
type DeadLetterStats struct {
	Size      int64                     `json:"size"`
	ByChannel map[message.Channel]int64 `json:"byChannel"`
	Recent    []message.OutboundMessage `json:"recent"`
	Alert     bool                      `json:"alert"`
}

// Overview is one observability snapshot for a tenant and time window.
type Overview struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	QueueDepth          int64                            `json:"queueDepth"`
	QueueDepthByChannel map[message.Channel]int64        `json:"queueDepthByChannel"`
	Latency             map[message.Channel]LatencyStats `json:"latency"`
	FailuresByChannel   map[message.Channel]int64        `json:"failuresByChannel"`
	FailuresByErrorCode map[string]int64                 `json:"failuresByErrorCode"`
	FailureTrend        map[string]int64                 `json:"failureTrend"`
	FailureRate         float64                          `json:"failureRate"`
	DeadLetters         DeadLetterStats                  `json:"deadLetters"`
	QuotaUsagePercent   map[message.Channel]float64      `json:"quotaUsagePercent"`
}

// MetricsService computes read-only rollups over the message store for
// operational dashboards and alerts. It never mutates state.
type MetricsService struct {
	messageRepo imessagerepo.IMessageRepository
	attemptRepo iattemptrepo.IAttemptRepository
	tenants     *tenantcfg.Store

	alertThreshold int64
	recentLimit    int
}

// option is a function that configures the MetricsService.
type option func(*MetricsService)

// MustNewMetricsService creates a new MetricsService.
func MustNewMetricsService(opts ...option) *MetricsService {
	alertThreshold := viper.GetInt64("metrics.dead_letter_alert_threshold")
	if alertThreshold == 0 {
		alertThreshold = 100
	}

	recentLimit := viper.GetInt("metrics.recent_dead_letters")
	if recentLimit == 0 {
		recentLimit = 20
	}

	s := &MetricsService{
		alertThreshold: alertThreshold,
		recentLimit:    recentLimit,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.messageRepo == nil || s.attemptRepo == nil || s.tenants == nil {
		panic("metricssvc: message repo, attempt repo, and tenant store are required")
	}

	return s
}

// WithMessageRepository sets the message store.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithMessageRepository(repo imessagerepo.IMessageRepository) option {
	return func(s *MetricsService) {
		s.messageRepo = repo
	}
}

// WithAttemptRepository sets the attempt store.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithAttemptRepository(repo iattemptrepo.IAttemptRepository) option {
	return func(s *MetricsService) {
		s.attemptRepo = repo
	}
}

// WithTenantStore sets the tenant configuration store.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithTenantStore(tenants *tenantcfg.Store) option {
	return func(s *MetricsService) {
		s.tenants = tenants
	}
}

// ComputeOverview builds the observability snapshot for [from, to]. Zero
// from/to default to the last 24 hours.
func (s *MetricsService) ComputeOverview(ctx context.Context, orgID int64, from, to time.Time) (*Overview, error) {
	if to.IsZero() {
		to = time.Now()
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}

	ov := &Overview{From: from, To: to}

	queued, err := s.messageRepo.CountQueuedByChannel(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute queue depth: %w", err)
	}
	ov.QueueDepthByChannel = queued
	for _, n := range queued {
		ov.QueueDepth += n
	}

	latencies, err := s.attemptRepo.DeliveryLatencies(ctx, orgID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to compute latencies: %w", err)
	}
	ov.Latency = make(map[message.Channel]LatencyStats, len(latencies))
	for ch, samples := range latencies {
		ov.Latency[ch] = summarize(samples)
	}

	failures, err := s.messageRepo.CountByStatusInWindow(ctx, orgID, message.StatusFailed, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to compute failures: %w", err)
	}
	ov.FailuresByChannel = failures

	byCode, err := s.messageRepo.CountFailedByErrorCode(ctx, orgID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to compute failure codes: %w", err)
	}
	ov.FailuresByErrorCode = byCode

	trend, err := s.messageRepo.FailureTrend(ctx, orgID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to compute failure trend: %w", err)
	}
	ov.FailureTrend = trend

	sent, err := s.messageRepo.CountByStatusInWindow(ctx, orgID, message.StatusSent, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to compute sent counts: %w", err)
	}
	var totalFailed, totalSent int64
	for _, n := range failures {
		totalFailed += n
	}
	for _, n := range sent {
		totalSent += n
	}
	if totalFailed+totalSent > 0 {
		ov.FailureRate = float64(totalFailed) / float64(totalFailed+totalSent)
	}

	deadByChannel, err := s.messageRepo.DeadLetterByChannel(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute dead letters: %w", err)
	}
	recent, err := s.messageRepo.RecentDeadLetters(ctx, orgID, s.recentLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	ov.DeadLetters = DeadLetterStats{
		ByChannel: deadByChannel,
		Recent:    recent,
	}
	for _, n := range deadByChannel {
		ov.DeadLetters.Size += n
	}
	ov.DeadLetters.Alert = ov.DeadLetters.Size > s.alertThreshold

	sentLastHour, err := s.messageRepo.CountSentSince(ctx, orgID, to.Add(-time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to compute quota usage: %w", err)
	}
	ov.QuotaUsagePercent = make(map[message.Channel]float64, len(sentLastHour))
	for ch, n := range sentLastHour {
		tier := s.tenants.RateTier(orgID, ch)
		if tier.HourlyLimit > 0 {
			ov.QuotaUsagePercent[ch] = 100 * float64(n) / float64(tier.HourlyLimit)
		}
	}

	return ov, nil
}

// summarize computes nearest-rank percentiles over a sample set.
func summarize(samples []float64) LatencyStats {
	if len(samples) == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return LatencyStats{
		Count:   len(sorted),
		P50:     percentile(sorted, 50),
		P95:     percentile(sorted, 95),
		P99:     percentile(sorted, 99),
		Average: sum / float64(len(sorted)),
	}
}

// percentile selects the nearest-rank element: ceil(p/100*n)-1, clamped.
func percentile(sorted []float64, p float64) float64 {
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return sorted[idx]
}
