package network

import "context"

// Turn serializes console access between local input and relay-driven
// prompts. It is a single-slot semaphore.
type Turn struct {
	slot chan struct{}
}

func NewTurn() *Turn {
	return &Turn{slot: make(chan struct{}, 1)}
}

// Acquire blocks until the turn is free or ctx is done
func (t *Turn) Acquire(ctx context.Context) error {
	select {
	case t.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tryAcquire takes the turn only if nobody holds it
func (t *Turn) tryAcquire() bool {
	select {
	case t.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release hands the turn back. Releasing a free turn panics.
func (t *Turn) Release() {
	select {
	case <-t.slot:
	default:
		panic("network: release of unheld turn")
	}
}
