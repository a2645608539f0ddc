package scheduler

import (
	"context"
	"fmt"
)

// gate serializes claim computation. At most one caller holds the slot;
// the rest block until it frees and then run a fresh claim against
// current registry state, so no two concurrent callers can be handed
// the same area.
type gate struct {
	slot chan struct{}
}

func newGate() *gate {
	return &gate{slot: make(chan struct{}, 1)}
}

// acquire blocks until the slot is free or the context ends.
func (g *gate) acquire(ctx context.Context) error {
	select {
	case g.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("claim canceled: %w", ctx.Err())
	}
}

func (g *gate) release() {
	<-g.slot
}
