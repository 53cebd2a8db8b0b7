// Package dispatch fans events out to sessions: board-room broadcasts,
// per-user instant notifications, and the advisory lock relay. Delivery is
// fire-and-forget, at-most-once; nothing here blocks on a slow client.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/soundloop/collab/internal/bus"
	"github.com/soundloop/collab/internal/hub"
	"github.com/soundloop/collab/internal/wire"
	"github.com/soundloop/collab/pkg/metrics"
	"github.com/soundloop/collab/pkg/presence"
)

// Actor names used when no identity is attached, matching what clients
// expect to render.
const (
	systemActor  = "System"
	unknownActor = "Someone"
)

type Dispatcher struct {
	logger *slog.Logger
	store  presence.Store
	rooms  *hub.Rooms
	hub    *hub.Hub
	bus    *bus.Bus // nil in single-instance mode
}

func New(logger *slog.Logger, store presence.Store, rooms *hub.Rooms, h *hub.Hub, b *bus.Bus) *Dispatcher {
	return &Dispatcher{
		logger: logger.With(slog.String("component", "dispatcher")),
		store:  store,
		rooms:  rooms,
		hub:    h,
		bus:    b,
	}
}

// sendToBoard delivers a frame to the local room and relays it to other
// instances. Self-exclusion only applies locally: the excluded sid's
// socket always lives on the publishing instance.
func (d *Dispatcher) sendToBoard(ctx context.Context, boardID string, frame []byte, excludeSID string) {
	d.rooms.Broadcast(boardID, frame, excludeSID)
	if d.bus != nil {
		d.bus.PublishBoard(ctx, boardID, frame)
	}
}

// BroadcastBoardUpdate tells every session in the board's room, anonymous
// viewers included, that the board changed. Callers invoke it after
// committing the mutation.
func (d *Dispatcher) BroadcastBoardUpdate(ctx context.Context, boardID, action string, data any, actor string) {
	if actor == "" {
		actor = systemActor
	}
	frame := wire.Marshal(wire.EventBoardUpdated, wire.BoardUpdated{
		Action: action,
		Data:   data,
		User:   actor,
	})
	d.sendToBoard(ctx, boardID, frame, "")
	metrics.BroadcastsTotal.WithLabelValues(wire.EventBoardUpdated).Inc()
}

// SendInstantNotification delivers a notification to every session the
// user has open, anywhere. A user with no sessions receives nothing now;
// the durable record created by the caller surfaces it on next login.
func (d *Dispatcher) SendInstantNotification(ctx context.Context, userID, message, link string) {
	frame := wire.Marshal(wire.EventNewNotification, wire.NewNotification{
		Message: message,
		Link:    link,
	})

	sids := d.store.GetUserSessions(ctx, userID)
	for _, sid := range sids {
		if sess, ok := d.hub.LocalSession(sid); ok {
			sess.Send(frame)
		}
	}
	if d.bus != nil {
		d.bus.PublishUser(ctx, userID, frame)
	}
	metrics.BroadcastsTotal.WithLabelValues(wire.EventNewNotification).Inc()
	d.logger.Debug("Instant notification dispatched", slog.String("userID", userID), slog.Int("sessions", len(sids)))
}

// BroadcastReaction goes to the whole room including the sender: the
// sender's own UI renders the reaction animation from the same event.
func (d *Dispatcher) BroadcastReaction(ctx context.Context, boardID, emoji, actor string) {
	if actor == "" {
		actor = unknownActor
	}
	frame := wire.Marshal(wire.EventReceiveReaction, wire.ReceiveReaction{
		Emoji: emoji,
		User:  actor,
	})
	d.sendToBoard(ctx, boardID, frame, "")
	metrics.BroadcastsTotal.WithLabelValues(wire.EventReceiveReaction).Inc()
}

// BroadcastSoundOrder pushes the full reordered id list to everyone except
// the session that performed the reorder, which already has it.
func (d *Dispatcher) BroadcastSoundOrder(ctx context.Context, boardID string, soundIDs []string, reordererSID string) {
	frame := wire.Marshal(wire.EventUpdateSoundOrder, wire.UpdateSoundOrder{
		SoundIDs: soundIDs,
	})
	d.sendToBoard(ctx, boardID, frame, reordererSID)
	metrics.BroadcastsTotal.WithLabelValues(wire.EventUpdateSoundOrder).Inc()
}
