package realtime

import (
	"math"
	"sync"
	"time"
)

// RetryConfig controls reconnection backoff. Immutable once a connection
// attempt sequence starts.
type RetryConfig struct {
	// MaxAttempts is the number of consecutive failed reconnects tolerated
	// before the transport settles into the error state.
	MaxAttempts int

	// BaseDelay is the delay before the first reconnect attempt.
	BaseDelay time.Duration

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration

	// BackoffFactor multiplies the delay each attempt.
	BackoffFactor float64
}

// DefaultRetryConfig mirrors the defaults dashboards ship with.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   5,
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2,
	}
}

// Delay returns the backoff delay for the given zero-based attempt:
// min(BaseDelay * BackoffFactor^attempt, MaxDelay).
func (c RetryConfig) Delay(attempt int) time.Duration {
	d := float64(c.BaseDelay) * math.Pow(c.BackoffFactor, float64(attempt))
	if max := float64(c.MaxDelay); c.MaxDelay > 0 && d > max {
		d = max
	}
	return time.Duration(d)
}

// reconnector tracks reconnect attempts for one transport and owns the
// pending reconnect timer. The attempt counter resets on a successful
// open; the timer is cancelled by an explicit disconnect.
type reconnector struct {
	cfg RetryConfig

	mu      sync.Mutex
	attempt int
	timer   *time.Timer
	stopped bool
}

func newReconnector(cfg RetryConfig) *reconnector {
	return &reconnector{cfg: cfg}
}

// next returns the delay for the upcoming attempt and increments the
// counter. ok is false once MaxAttempts is exhausted.
func (r *reconnector) next() (delay time.Duration, attempt int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || r.attempt >= r.cfg.MaxAttempts {
		return 0, r.attempt, false
	}
	delay = r.cfg.Delay(r.attempt)
	attempt = r.attempt
	r.attempt++
	return delay, attempt, true
}

// schedule arms the reconnect timer. A no-op after stop.
func (r *reconnector) schedule(delay time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(delay, fn)
}

// reset clears the attempt counter after a successful open.
func (r *reconnector) reset() {
	r.mu.Lock()
	r.attempt = 0
	r.mu.Unlock()
}

// stop cancels any pending timer and disables future scheduling.
func (r *reconnector) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
