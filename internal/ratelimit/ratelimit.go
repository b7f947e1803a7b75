// Package ratelimit paces successive requests against the same site.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

type RateLimiter interface {
	// Wait blocks until the delay since the last Wait or Done has passed.
	Wait(ctx context.Context) error
	// Done marks the end of the work started by the last Wait. The next gap
	// is measured from here.
	Done()
	SetDelay(min, max time.Duration)
}

// Pacer enforces a minimum gap between the end of one action and the start of
// the next. When max is greater than min each gap is drawn uniformly from
// [min, max). The first Wait after construction or Reset returns immediately.
type Pacer struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
	mu         sync.Mutex
	rng        *rand.Rand
	now        func() time.Time
}

func NewPacer(minDelay, maxDelay time.Duration) *Pacer {
	p := &Pacer{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
		now: time.Now,
	}
	p.SetDelay(minDelay, maxDelay)
	return p
}

// NewFixed returns a Pacer that always waits exactly d between calls.
func NewFixed(d time.Duration) *Pacer {
	return NewPacer(d, d)
}

func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.lastAction.IsZero() {
		delay := p.nextDelay()
		if elapsed := p.now().Sub(p.lastAction); elapsed < delay {
			timer := time.NewTimer(delay - elapsed)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	p.lastAction = p.now()
	return nil
}

func (p *Pacer) Done() {
	p.mu.Lock()
	p.lastAction = p.now()
	p.mu.Unlock()
}

func (p *Pacer) SetDelay(min, max time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	p.minDelay = min
	p.maxDelay = max
}

// Reset forgets the previous call so the next Wait does not block.
func (p *Pacer) Reset() {
	p.mu.Lock()
	p.lastAction = time.Time{}
	p.mu.Unlock()
}

func (p *Pacer) nextDelay() time.Duration {
	if p.maxDelay <= p.minDelay {
		return p.minDelay
	}
	return p.minDelay + time.Duration(p.rng.Int63n(int64(p.maxDelay-p.minDelay)))
}
