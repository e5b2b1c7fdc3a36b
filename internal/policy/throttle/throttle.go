// Package throttle gates outreach sends behind one or more policies: the
// persisted daily cap and an in-memory cooldown/hourly limiter. Chaining them
// in a single component keeps the two from disagreeing silently.
package throttle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/GeobookerMx/Geobooker3-sub001/internal/outreach"
)

// DailyCap admits sends while the persisted daily quota has room.
type DailyCap struct {
	tracker *outreach.QuotaTracker
}

// NewDailyCap wraps a quota tracker.
func NewDailyCap(tracker *outreach.QuotaTracker) *DailyCap {
	return &DailyCap{tracker: tracker}
}

// Admit checks the quota for source. Read errors deny (fail-closed).
func (d *DailyCap) Admit(ctx context.Context, source outreach.Source) outreach.Decision {
	snap := d.tracker.Check(ctx, source)
	if !snap.CanSend {
		return outreach.Decision{Reason: outreach.ReasonDailyLimit, Quota: &snap}
	}
	return outreach.Decision{Allowed: true, Quota: &snap}
}

// Record is a no-op; the store is the source of truth for daily counts.
func (d *DailyCap) Record(outreach.Source) {}

// CooldownConfig controls the in-memory limiter.
type CooldownConfig struct {
	// Cooldown is the minimum gap between two sends. Zero disables it.
	Cooldown time.Duration
	// HourlyLimit caps sends per window. Zero disables it.
	HourlyLimit int
	// Window defaults to one hour.
	Window time.Duration
}

// Cooldown enforces a fixed gap between sends plus a windowed cap whose reset
// time is set to now+Window on the first send of each window. State is
// process-local and resets on restart.
type Cooldown struct {
	mu          sync.Mutex
	clock       outreach.Clock
	cooldown    time.Duration
	limiter     *rate.Limiter
	hourlyLimit int
	window      time.Duration
	count       int
	resetAt     time.Time
}

// NewCooldown builds a Cooldown policy.
func NewCooldown(cfg CooldownConfig, clock outreach.Clock) *Cooldown {
	window := cfg.Window
	if window <= 0 {
		window = time.Hour
	}
	c := &Cooldown{
		clock:       clock,
		cooldown:    cfg.Cooldown,
		hourlyLimit: cfg.HourlyLimit,
		window:      window,
	}
	if cfg.Cooldown > 0 {
		c.limiter = rate.NewLimiter(rate.Every(cfg.Cooldown), 1)
	}
	return c
}

// Admit denies while the hourly window is exhausted or the cooldown is active.
func (c *Cooldown) Admit(_ context.Context, _ outreach.Source) outreach.Decision {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollWindow(now)

	if c.hourlyLimit > 0 && c.count >= c.hourlyLimit {
		return outreach.Decision{Reason: outreach.ReasonHourlyLimit, RetryAfter: c.resetAt.Sub(now)}
	}
	if c.limiter != nil {
		if tokens := c.limiter.TokensAt(now); tokens < 1 {
			wait := time.Duration((1 - tokens) * float64(c.cooldown))
			return outreach.Decision{Reason: outreach.ReasonCooldown, RetryAfter: wait}
		}
	}
	return outreach.Allow()
}

// Record consumes the cooldown token and counts the send in the window.
func (c *Cooldown) Record(outreach.Source) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollWindow(now)
	if c.limiter != nil {
		c.limiter.AllowN(now, 1)
	}
	if c.resetAt.IsZero() {
		c.resetAt = now.Add(c.window)
	}
	c.count++
}

// Remaining reports sends left in the current window and when it resets. It
// returns -1 when no hourly limit is configured.
func (c *Cooldown) Remaining() (int, time.Time) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollWindow(now)
	if c.hourlyLimit <= 0 {
		return -1, c.resetAt
	}
	left := c.hourlyLimit - c.count
	if left < 0 {
		left = 0
	}
	return left, c.resetAt
}

func (c *Cooldown) rollWindow(now time.Time) {
	if !c.resetAt.IsZero() && !now.Before(c.resetAt) {
		c.count = 0
		c.resetAt = time.Time{}
	}
}

// Chain evaluates policies in order; the first denial wins.
type Chain struct {
	policies []outreach.Throttle
}

// NewChain composes policies. Nil entries are skipped.
func NewChain(policies ...outreach.Throttle) *Chain {
	out := make([]outreach.Throttle, 0, len(policies))
	for _, p := range policies {
		if p != nil {
			out = append(out, p)
		}
	}
	return &Chain{policies: out}
}

// Admit returns the first denial, or an admitting decision carrying the first
// quota snapshot any policy produced.
func (c *Chain) Admit(ctx context.Context, source outreach.Source) outreach.Decision {
	allowed := outreach.Allow()
	for _, p := range c.policies {
		d := p.Admit(ctx, source)
		if !d.Allowed {
			if d.Quota == nil {
				d.Quota = allowed.Quota
			}
			return d
		}
		if allowed.Quota == nil {
			allowed.Quota = d.Quota
		}
	}
	return allowed
}

// Record notifies every policy of a successful send.
func (c *Chain) Record(source outreach.Source) {
	for _, p := range c.policies {
		p.Record(source)
	}
}
