package ratelimit

import (
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/casefront/outbound/internal/service/models/message"
	"github.com/casefront/outbound/internal/tenantcfg"
)

// Limiter enforces per-tenant send quotas, one token bucket per
// (org, channel) pair. Accounting is atomic within a single process; a
// fleet of workers can oversubscribe a tenant by up to the process count,
// which degrades to extra retries because quota errors are retryable.
type Limiter struct {
	tenants *tenantcfg.Store

	mu      sync.Mutex
	buckets map[bucketKey]*rate.Limiter
}

type bucketKey struct {
	orgID   int64
	channel message.Channel
}

// NewLimiter creates a limiter backed by per-tenant tier configuration.
func NewLimiter(tenants *tenantcfg.Store) *Limiter {
	return &Limiter{
		tenants: tenants,
		buckets: make(map[bucketKey]*rate.Limiter),
	}
}

// CheckAndConsume takes one send from the tenant's quota. It returns false
// when the quota is exhausted; the caller is expected to report a retryable
// quota error rather than drop the message.
func (l *Limiter) CheckAndConsume(orgID int64, ch message.Channel) bool {
	return l.bucket(orgID, ch).Allow()
}

// OnRateLimitError records a provider-side throttle so operators can spot
// tenants whose tier no longer matches their traffic.
func (l *Limiter) OnRateLimitError(orgID int64, ch message.Channel) {
	slog.Warn("Provider throttled tenant", "org_id", orgID, "channel", ch)
}

func (l *Limiter) bucket(orgID int64, ch message.Channel) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := bucketKey{orgID: orgID, channel: ch}
	if b, ok := l.buckets[key]; ok {
		return b
	}

	tier := l.tenants.RateTier(orgID, ch)
	b := rate.NewLimiter(rate.Limit(float64(tier.HourlyLimit)/3600.0), tier.Burst)
	l.buckets[key] = b

	return b
}
