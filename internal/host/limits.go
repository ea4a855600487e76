package host

import (
	"time"

	"golang.org/x/time/rate"

	"sushiclicker.com/internal/protocol"
	"sushiclicker.com/internal/sim/tuning"
)

// limits holds the per-session token buckets. A zero rate disables a bucket.
// Buckets are read at the session clock so tests can drive them. The click
// bucket holds at least one full CLICK batch, since AllowN never admits a
// batch larger than the burst.
type limits struct {
	clicks    *rate.Limiter
	purchases *rate.Limiter
}

func newLimits(cfg tuning.RateLimits) *limits {
	l := &limits{}
	if cfg.ClicksPerSecond > 0 {
		burst := cfg.ClicksPerSecond
		if burst < protocol.MaxClickCount {
			burst = protocol.MaxClickCount
		}
		l.clicks = rate.NewLimiter(rate.Limit(cfg.ClicksPerSecond), burst)
	}
	if cfg.PurchasesPerSecond > 0 {
		l.purchases = rate.NewLimiter(rate.Limit(cfg.PurchasesPerSecond), cfg.PurchasesPerSecond)
	}
	return l
}

func (l *limits) allowClicks(now time.Time, n int) bool {
	if l.clicks == nil {
		return true
	}
	return l.clicks.AllowN(now, n)
}

func (l *limits) allowPurchase(now time.Time) bool {
	if l.purchases == nil {
		return true
	}
	return l.purchases.AllowN(now, 1)
}
