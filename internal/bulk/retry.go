package bulk

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the retries of a single remote call.
type RetryPolicy struct {
	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration

	// Jitter randomises each delay by up to this fraction. Zero gives deterministic delays.
	Jitter float64

	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// MaxInterval caps the delay between attempts.
	MaxInterval time.Duration

	// Multiplier grows the delay after each attempt.
	Multiplier float64
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 500 * time.Millisecond,
		Jitter:          0.5,
		MaxAttempts:     5,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
	}
}

// backOff builds a fresh backoff sequence bound to ctx.
func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.RandomizationFactor = p.Jitter
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0

	var bo backoff.BackOff = b
	if p.MaxAttempts > 0 {
		bo = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}
	return backoff.WithContext(bo, ctx)
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p == (RetryPolicy{}) {
		return d
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = d.MaxInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = d.Jitter
	}
	return p
}

// PollPolicy controls how long a submitted job is waited on.
type PollPolicy struct {
	// Interval is the delay between status reads.
	Interval time.Duration

	// MaxWait is the total time spent waiting between polls before the job is abandoned.
	MaxWait time.Duration
}

// DefaultPollPolicy returns the policy used when none is configured.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Interval: 5 * time.Second,
		MaxWait:  10 * time.Minute,
	}
}

func (p PollPolicy) withDefaults() PollPolicy {
	d := DefaultPollPolicy()
	if p.Interval <= 0 {
		p.Interval = d.Interval
	}
	if p.MaxWait <= 0 {
		p.MaxWait = d.MaxWait
	}
	return p
}

// TimerFunc creates the timers used for retry and poll delays. Tests inject timers that fire immediately.
type TimerFunc func() backoff.Timer

// systemTimer implements backoff.Timer with time.Timer.
type systemTimer struct {
	timer *time.Timer
}

func newSystemTimer() backoff.Timer {
	return &systemTimer{}
}

func (t *systemTimer) C() <-chan time.Time {
	return t.timer.C
}

func (t *systemTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = time.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *systemTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}
