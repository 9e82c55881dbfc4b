package capture

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrPermitTimeout is returned when the open/close permit cannot be taken in time.
var ErrPermitTimeout = errors.New("timed out waiting for camera permit")

// Ticket identifies one holding of a Permit. A ticket becomes stale once the
// permit is released or taken over by ForceAcquire.
type Ticket uint64

// Permit is a binary permit guarding device open and close. Unlike a plain
// semaphore it can be taken over by ForceAcquire so that close never waits
// on a stuck open; the previous holder's ticket then no longer releases it.
type Permit struct {
	token  chan struct{}
	mu     sync.Mutex
	holder Ticket
	gen    Ticket
}

// NewPermit creates a free permit.
func NewPermit() *Permit {
	p := &Permit{token: make(chan struct{}, 1)}
	p.token <- struct{}{}
	return p
}

// Acquire waits up to timeout for the permit.
func (p *Permit) Acquire(ctx context.Context, timeout time.Duration) (Ticket, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-p.token:
		case <-timer.C:
			return 0, ErrPermitTimeout
		case <-ctx.Done():
			return 0, ctx.Err()
		}

		p.mu.Lock()
		if p.holder == 0 {
			p.gen++
			p.holder = p.gen
			t := p.holder
			p.mu.Unlock()
			return t, nil
		}
		// Taken over by ForceAcquire while the token was in hand; the
		// forcing holder returns it on release.
		p.mu.Unlock()
	}
}

// ForceAcquire takes the permit immediately, invalidating any current holder.
func (p *Permit) ForceAcquire() Ticket {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.token:
	default:
	}
	p.gen++
	p.holder = p.gen
	return p.holder
}

// Release frees the permit if t is the current holder. It reports whether
// the release took effect.
func (p *Permit) Release(t Ticket) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t == 0 || p.holder != t {
		return false
	}
	p.holder = 0
	select {
	case p.token <- struct{}{}:
	default:
	}
	return true
}

// Valid reports whether t still holds the permit.
func (p *Permit) Valid(t Ticket) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return t != 0 && p.holder == t
}

// Held reports whether anyone holds the permit.
func (p *Permit) Held() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.holder != 0
}
