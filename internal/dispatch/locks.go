package dispatch

import (
	"context"

	"github.com/soundloop/collab/internal/wire"
	"github.com/soundloop/collab/pkg/metrics"
)

// The lock coordinator is a stateless relay: lock ownership is advisory
// and client-enforced. The server never records who holds a lock and never
// rejects a conflicting edit. This trades strict mutual exclusion for
// simplicity and availability; clients self-resolve conflicts. Known
// limitation, kept deliberately.

// RequestLock announces that a session is editing a sound slot to every
// other session in the board's room. The requester is excluded: exclusion
// is a delivery filter, not a state change.
func (d *Dispatcher) RequestLock(ctx context.Context, boardID, soundID, requesterSID, actor string) {
	if actor == "" {
		actor = unknownActor
	}
	frame := wire.Marshal(wire.EventSlotLocked, wire.SlotLocked{
		SoundID: soundID,
		User:    actor,
	})
	d.sendToBoard(ctx, boardID, frame, requesterSID)
	metrics.BroadcastsTotal.WithLabelValues(wire.EventSlotLocked).Inc()
}

// ReleaseLock mirrors RequestLock. The payload carries no user: clients
// only need to know the slot is free again.
func (d *Dispatcher) ReleaseLock(ctx context.Context, boardID, soundID, releaserSID string) {
	frame := wire.Marshal(wire.EventSlotReleased, wire.SlotReleased{
		SoundID: soundID,
	})
	d.sendToBoard(ctx, boardID, frame, releaserSID)
	metrics.BroadcastsTotal.WithLabelValues(wire.EventSlotReleased).Inc()
}
