package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

// Cooldown tracks one provider capability. It is Available until Trip is called
// and cools down for the configured period; an optional daily budget also
// makes it unavailable once exhausted, until the next reset.
type Cooldown struct {
	mu     sync.Mutex
	name   string
	period time.Duration
	now    func() time.Time

	until time.Time

	maxPerDay   int
	used        int
	resetTime   time.Time
	activations int
}

type Option func(*Cooldown)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cooldown) { c.now = now }
}

// WithDailyBudget limits Use to n successful reservations per 24h. Zero means unlimited.
func WithDailyBudget(n int) Option {
	return func(c *Cooldown) { c.maxPerDay = n }
}

func NewCooldown(name string, period time.Duration, opts ...Option) *Cooldown {
	c := &Cooldown{name: name, period: period, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	c.resetTime = c.now().Add(24 * time.Hour)
	return c
}

func (c *Cooldown) Name() string { return c.name }

// Available reports whether a call may be attempted right now.
func (c *Cooldown) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.checkReset(now)
	if now.Before(c.until) {
		return false
	}
	return c.maxPerDay <= 0 || c.used < c.maxPerDay
}

// Use reserves one call from the daily budget. It returns false when the
// capability is cooling or the budget is spent.
func (c *Cooldown) Use() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.checkReset(now)
	if now.Before(c.until) {
		return false
	}
	if c.maxPerDay > 0 && c.used >= c.maxPerDay {
		return false
	}
	c.used++
	return true
}

// Trip moves the capability into cooldown for the configured period.
func (c *Cooldown) Trip() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.until = c.now().Add(c.period)
	c.activations++
	slog.Warn("capability cooling down", "capability", c.name, "until", c.until.Format(time.RFC3339))
	return c.until
}

// Clear ends any active cooldown.
func (c *Cooldown) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.until = time.Time{}
}

// Until returns the end of the active cooldown, or the zero time.
func (c *Cooldown) Until() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.now().Before(c.until) {
		return time.Time{}
	}
	return c.until
}

type Stats struct {
	Name        string    `json:"name"`
	Cooling     bool      `json:"cooling"`
	Until       time.Time `json:"until,omitempty"`
	Used        int       `json:"used"`
	Limit       int       `json:"limit"`
	Activations int       `json:"activations"`
	ResetTime   time.Time `json:"resetTime"`
}

func (c *Cooldown) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.checkReset(now)
	s := Stats{
		Name:        c.name,
		Used:        c.used,
		Limit:       c.maxPerDay,
		Activations: c.activations,
		ResetTime:   c.resetTime,
	}
	if now.Before(c.until) {
		s.Cooling = true
		s.Until = c.until
	}
	return s
}

// checkReset resets the daily counter once the reset time has passed.
func (c *Cooldown) checkReset(now time.Time) {
	if now.After(c.resetTime) {
		if c.used > 0 {
			slog.Info("resetting daily call budget", "capability", c.name, "used", c.used, "limit", c.maxPerDay)
		}
		c.used = 0
		c.resetTime = now.Add(24 * time.Hour)
	}
}
