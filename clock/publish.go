package clock

import (
	"sync"
	"time"
)

// DefaultPublishInterval throttles observer updates to ~20 fps.
const DefaultPublishInterval = 50 * time.Millisecond

// Publisher fans clock snapshots out to observers at a bounded rate. Each
// subscriber holds at most one pending snapshot; newer ones replace it.
type Publisher struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	subs     []chan State
	closed   bool
}

// NewPublisher returns a publisher that emits at most once per interval.
func NewPublisher(interval time.Duration) *Publisher {
	return &Publisher{interval: interval}
}

// Subscribe returns a channel receiving snapshots. It is closed when the
// publisher closes.
func (p *Publisher) Subscribe() <-chan State {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan State, 1)
	if p.closed {
		close(ch)
		return ch
	}
	p.subs = append(p.subs, ch)
	return ch
}

// Offer publishes s if the interval since the last publish has elapsed.
func (p *Publisher) Offer(s State, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.last.IsZero() && now.Sub(p.last) < p.interval {
		return false
	}
	p.sendLocked(s, now)
	return true
}

// Force publishes s regardless of the interval.
func (p *Publisher) Force(s State, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendLocked(s, now)
}

func (p *Publisher) sendLocked(s State, now time.Time) {
	if p.closed {
		return
	}
	p.last = now
	for _, ch := range p.subs {
		select {
		case ch <- s:
		default:
			// drop the stale pending snapshot, keep the newest
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

// Close closes all subscriber channels.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, ch := range p.subs {
		close(ch)
	}
	p.subs = nil
}
