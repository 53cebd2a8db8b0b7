// Package router decodes inbound client frames and invokes the hub,
// lock coordinator and dispatcher. Malformed or unknown events are dropped
// without mutating any state; one bad frame never affects other sessions.
package router

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/tidwall/gjson"

	"github.com/soundloop/collab/internal/dispatch"
	"github.com/soundloop/collab/internal/hub"
	"github.com/soundloop/collab/internal/wire"
	"github.com/soundloop/collab/pkg/metrics"
)

type EventRouter struct {
	logger     *slog.Logger
	hub        *hub.Hub
	dispatcher *dispatch.Dispatcher
}

func NewEventRouter(logger *slog.Logger, h *hub.Hub, d *dispatch.Dispatcher) *EventRouter {
	return &EventRouter{
		logger:     logger.With(slog.String("component", "event_router")),
		hub:        h,
		dispatcher: d,
	}
}

// HandleMessage is invoked synchronously from a connection's read loop, so
// frames from one sid are applied in arrival order.
func (r *EventRouter) HandleMessage(ctx context.Context, sid string, msg []byte) {
	var clientMsg wire.ClientMessage
	if err := json.Unmarshal(msg, &clientMsg); err != nil {
		r.logger.Warn("Failed to unmarshal client message", slog.String("sid", sid), slog.Any("error", err))
		return
	}

	payload := string(clientMsg.Payload)
	metrics.EventsTotal.WithLabelValues(clientMsg.Event).Inc()

	switch clientMsg.Event {
	case wire.EventJoinBoard:
		boardID := gjson.Get(payload, "board_id").String()
		if boardID == "" {
			r.dropMalformed(sid, clientMsg.Event)
			return
		}
		r.hub.JoinBoard(ctx, sid, boardID)

	case wire.EventLeaveBoard:
		boardID := gjson.Get(payload, "board_id").String()
		if boardID == "" {
			r.dropMalformed(sid, clientMsg.Event)
			return
		}
		r.hub.LeaveBoard(ctx, sid, boardID)

	case wire.EventRequestLock:
		boardID := gjson.Get(payload, "board_id").String()
		soundID := gjson.Get(payload, "sound_id").String()
		if boardID == "" || soundID == "" {
			r.dropMalformed(sid, clientMsg.Event)
			return
		}
		_, username, _ := r.hub.Identity(sid)
		r.dispatcher.RequestLock(ctx, boardID, soundID, sid, username)

	case wire.EventReleaseLock:
		boardID := gjson.Get(payload, "board_id").String()
		soundID := gjson.Get(payload, "sound_id").String()
		if boardID == "" || soundID == "" {
			r.dropMalformed(sid, clientMsg.Event)
			return
		}
		r.dispatcher.ReleaseLock(ctx, boardID, soundID, sid)

	case wire.EventSoundReordered:
		boardID := gjson.Get(payload, "board_id").String()
		ids := gjson.Get(payload, "sound_ids").Array()
		if boardID == "" || len(ids) == 0 {
			r.dropMalformed(sid, clientMsg.Event)
			return
		}
		soundIDs := make([]string, 0, len(ids))
		for _, id := range ids {
			soundIDs = append(soundIDs, id.String())
		}
		r.dispatcher.BroadcastSoundOrder(ctx, boardID, soundIDs, sid)

	case wire.EventSendReaction:
		boardID := gjson.Get(payload, "board_id").String()
		emoji := gjson.Get(payload, "emoji").String()
		if boardID == "" || emoji == "" {
			r.dropMalformed(sid, clientMsg.Event)
			return
		}
		_, username, _ := r.hub.Identity(sid)
		r.dispatcher.BroadcastReaction(ctx, boardID, emoji, username)

	default:
		r.logger.Warn("Received unknown event", slog.String("event", clientMsg.Event), slog.String("sid", sid))
	}
}

func (r *EventRouter) dropMalformed(sid, event string) {
	r.logger.Warn("Dropping malformed event payload", slog.String("event", event), slog.String("sid", sid))
}
