package aggregate

import (
	"context"

	"github.com/joe/dirmover/internal/scan"
)

// Run applies every event from events and publishes snapshots: at most one per
// UpdateInterval while events keep arriving, and a final one when the stream closes. A
// snapshot the consumer has not taken yet is replaced by the newer one. The returned
// channel is closed after the final snapshot, or when ctx is done.
func (a *Aggregator) Run(ctx context.Context, events <-chan scan.Event) <-chan Snapshot {
	out := make(chan Snapshot, 1)

	go func() {
		defer close(out)

		ticker := a.opts.Clock.NewTicker(a.opts.UpdateInterval)
		defer ticker.Stop()

		dirty := false
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					select {
					case <-out:
					default:
					}
					select {
					case out <- a.Snapshot():
					case <-ctx.Done():
					}
					return
				}
				a.Apply(event)
				dirty = true
			case <-ticker.C():
				if dirty {
					publish(out, a.Snapshot())
					dirty = false
				}
			}
		}
	}()

	return out
}

// publish replaces any unconsumed snapshot with snap. Only the Run goroutine sends on
// out, so the second send cannot block.
func publish(out chan Snapshot, snap Snapshot) {
	select {
	case out <- snap:
		return
	default:
	}

	select {
	case <-out:
	default:
	}
	out <- snap
}
