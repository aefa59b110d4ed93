package sample

import (
	"context"
	"time"
)

// Trigger is a single-producer/single-consumer due signal with room for one
// pending pulse. Pulses fired while one is pending collapse into it.
type Trigger struct {
	ch chan struct{}
}

func NewTrigger() *Trigger {
	return &Trigger{ch: make(chan struct{}, 1)}
}

// Fire marks the trigger due without blocking.
func (t *Trigger) Fire() {
	select {
	case t.ch <- struct{}{}:
	default:
	}
}

// Due consumes a pending pulse. False means "not due yet", never an error.
func (t *Trigger) Due() bool {
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

// C exposes the pulse channel for select loops.
func (t *Trigger) C() <-chan struct{} {
	return t.ch
}

// Tick fires t every interval until ctx is done.
func (t *Trigger) Tick(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Fire()
		}
	}
}
