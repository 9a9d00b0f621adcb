package sessclient

// Tick is an opaque, monotonically increasing counter a driver
// advances and passes to Client.Tick. This package never reads a
// wall clock; every timeout is expressed purely in ticks.
type Tick uint64

// Timer is a logical timer: {after, attempts, ticking, start_tick}.
// Fired reports ticking && (now - start_tick) >= after. A plain
// struct, no callback registry -- the teacher's own preference
// (tube/backoff.go's expBackoff is likewise a bare struct consulted
// by the caller, not a self-driving goroutine).
type Timer struct {
	After     Tick
	Attempts  int
	Ticking   bool
	StartTick Tick
}

// Start arms the timer at now, firing after ticks later.
func (t *Timer) Start(now, after Tick) {
	t.Ticking = true
	t.StartTick = now
	t.After = after
}

// Stop disarms the timer and resets the attempt counter.
func (t *Timer) Stop() {
	t.Ticking = false
	t.Attempts = 0
}

// Rearm restarts the timer's clock at now without touching After or
// Attempts -- used by the fixed-interval ping timer, which reschedules
// itself on every fire rather than backing off.
func (t *Timer) Rearm(now Tick) {
	t.Ticking = true
	t.StartTick = now
}

// Fired reports whether the timer is armed and its interval elapsed.
func (t *Timer) Fired(now Tick) bool {
	return t.Ticking && now-t.StartTick >= t.After
}

// backoffConfig parameterizes onRequestTimeout's exponential backoff,
// mirroring tube/backoff.go's expBackoffConfig but over a Tick count
// instead of a time.Duration, since sessclient has no wall clock.
type backoffConfig struct {
	InitialTicks Tick
	MaxTicks     Tick
	Factor       float64
	Jitter       float64
}

var defaultBackoffConfig = backoffConfig{
	InitialTicks: 1,
	MaxTicks:     1000,
	Factor:       2.0,
	Jitter:       0.2,
}

// nextBackoff computes the next request_timeout interval for the
// given attempt count, exactly mirroring tube/backoff.go's formula
// (exponential growth, jitter drawn in [-0.5, 0.5) scaled by Jitter
// and the current delay; a delay over MaxTicks is clamped to MaxTicks
// and then raised by a non-negative jitter of at most
// Jitter*MaxTicks/4, so the result can exceed MaxTicks by that much)
// adapted from time.Duration arithmetic to Tick (uint64) arithmetic.
func nextBackoff(cfg backoffConfig, attempt int, jitterFrac float64) Tick {
	delay := float64(cfg.InitialTicks) * pow(cfg.Factor, float64(attempt))
	delay += jitterFrac * cfg.Jitter * delay
	if delay > float64(cfg.MaxTicks) {
		delay = float64(cfg.MaxTicks)
		j := jitterFrac * cfg.Jitter * delay / 2
		if j < 0 {
			j = -j
		}
		delay += j
	}
	if delay < 1 {
		delay = 1
	}
	return Tick(delay)
}

func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}
