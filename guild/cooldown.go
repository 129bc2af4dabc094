package guild

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/vinns/concierge/syncmap"
)

// Cooldown limits each key to one use per period.
type Cooldown struct {
	every time.Duration
	m     syncmap.Map[string, *rate.Limiter]
}

// NewCooldown creates a cooldown allowing one use per key per period.
func NewCooldown(every time.Duration) *Cooldown {
	return &Cooldown{every: every}
}

// Use tries to use key at now. If key is cooling down, Use returns the time
// remaining and false.
func (c *Cooldown) Use(key string, now time.Time) (time.Duration, bool) {
	if c == nil || c.every <= 0 {
		return 0, true
	}
	l, _ := c.m.LoadOrNew(key, func() *rate.Limiter { return rate.NewLimiter(rate.Every(c.every), 1) })
	r := l.ReserveN(now, 1)
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return d, false
	}
	return 0, true
}

// Sweep forgets keys whose cooldowns have fully elapsed as of now.
func (c *Cooldown) Sweep(now time.Time) int {
	if c == nil {
		return 0
	}
	return c.m.DeleteFunc(func(_ string, l *rate.Limiter) bool { return l.TokensAt(now) >= 1 })
}
