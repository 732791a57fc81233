package connection

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// linearBackOff grows the wait by a fixed step on every call.
type linearBackOff struct {
	step    time.Duration
	current time.Duration
}

var _ backoff.BackOff = (*linearBackOff)(nil)

func (b *linearBackOff) NextBackOff() time.Duration {
	b.current += b.step
	return b.current
}

func (b *linearBackOff) Reset() {
	b.current = 0
}

type decision int

const (
	decisionStop      decision = iota // attempts already past the limit
	decisionExhausted                 // limit reached now; report and stop
	decisionWait                      // wait the interval, then reconnect
)

// reconnectPolicy tracks attempts and the growing wait between them.
type reconnectPolicy struct {
	mu          sync.Mutex
	maxAttempts int64 // -1 = unlimited
	attempts    int64
	interval    time.Duration
	backoff     backoff.BackOff
}

func newReconnectPolicy(step time.Duration, maxAttempts int64) *reconnectPolicy {
	return &reconnectPolicy{
		maxAttempts: maxAttempts,
		backoff:     &linearBackOff{step: step},
	}
}

// next consumes one attempt. The returned count and interval belong to the
// attempt about to be made.
func (p *reconnectPolicy) next() (decision, int64, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.maxAttempts >= 0 {
		if p.attempts > p.maxAttempts {
			return decisionStop, p.attempts, p.interval
		}
		if p.attempts == p.maxAttempts {
			p.attempts++
			return decisionExhausted, p.attempts, p.interval
		}
	}

	p.interval = p.backoff.NextBackOff()
	p.attempts++
	return decisionWait, p.attempts, p.interval
}

// reset runs after every successful handshake.
func (p *reconnectPolicy) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts = 0
	p.interval = 0
	p.backoff.Reset()
}

func (p *reconnectPolicy) snapshot() ReconnectState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ReconnectState{Attempts: p.attempts, Interval: p.interval}
}
