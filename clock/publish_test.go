package clock

import (
	"testing"
	"time"
)

func TestPublisherThrottles(t *testing.T) {
	p := NewPublisher(50 * time.Millisecond)
	t0 := time.Unix(0, 0)

	if !p.Offer(State{Time: 1}, t0) {
		t.Fatal("first offer should publish")
	}
	if p.Offer(State{Time: 2}, t0.Add(10*time.Millisecond)) {
		t.Fatal("offer inside interval should be throttled")
	}
	if !p.Offer(State{Time: 3}, t0.Add(50*time.Millisecond)) {
		t.Fatal("offer after interval should publish")
	}
}

func TestPublisherLatestWins(t *testing.T) {
	p := NewPublisher(time.Hour)
	ch := p.Subscribe()
	t0 := time.Unix(0, 0)

	p.Force(State{Time: 1}, t0)
	p.Force(State{Time: 2}, t0)
	p.Force(State{Time: 3}, t0)

	got := <-ch
	if got.Time != 3 {
		t.Fatalf("received time %v, want latest 3", got.Time)
	}
	select {
	case s := <-ch:
		t.Fatalf("unexpected extra snapshot %+v", s)
	default:
	}
}

func TestPublisherClose(t *testing.T) {
	p := NewPublisher(time.Millisecond)
	ch := p.Subscribe()
	p.Close()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	p.Force(State{}, time.Now()) // no panic after close
	if _, ok := <-p.Subscribe(); ok {
		t.Fatal("subscribe after close should return a closed channel")
	}
}
