// Package hub manages connection lifecycle and board presence: it reacts
// to transport connect/disconnect and join/leave events, keeps the
// presence store in sync, and rebroadcasts presence snapshots.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/soundloop/collab/internal/bus"
	"github.com/soundloop/collab/internal/wire"
	"github.com/soundloop/collab/pkg/presence"
)

// client pairs a live session with the identity attached at connect time.
// An empty userID marks an anonymous viewer: they receive broadcasts but
// never appear in presence lists.
type client struct {
	sess      Session
	userID    string
	username  string
	createdAt time.Time
}

// Hub is the connection lifecycle manager. Events for one sid arrive in
// order (the transport invokes handlers synchronously from its read loop);
// different sids run concurrently, which the store and the client map
// tolerate.
type Hub struct {
	logger *slog.Logger
	store  presence.Store
	rooms  *Rooms
	bus    *bus.Bus // nil in single-instance mode

	mu      sync.RWMutex
	clients map[string]*client
}

func New(logger *slog.Logger, store presence.Store, rooms *Rooms, b *bus.Bus) *Hub {
	return &Hub{
		logger:  logger.With(slog.String("component", "hub")),
		store:   store,
		rooms:   rooms,
		bus:     b,
		clients: make(map[string]*client),
	}
}

// OnConnect registers a new session. Identified sessions are recorded in
// the global connection index; anonymous ones only become addressable for
// room delivery.
func (h *Hub) OnConnect(ctx context.Context, sess Session, userID, username string) {
	h.mu.Lock()
	h.clients[sess.SID()] = &client{
		sess:      sess,
		userID:    userID,
		username:  username,
		createdAt: time.Now(),
	}
	h.mu.Unlock()

	if userID != "" {
		h.store.AddGlobalConnection(ctx, userID, sess.SID())
		h.logger.Debug("User connected globally", slog.String("userID", userID), slog.String("sid", sess.SID()))
	}
}

// JoinBoard adds the session to the board's delivery room and, for
// identified users, upserts their presence record and rebroadcasts the
// full member snapshot to everyone in the room, joiner included.
func (h *Hub) JoinBoard(ctx context.Context, sid, boardID string) {
	c := h.lookup(sid)
	if c == nil {
		return
	}
	h.rooms.Join(boardID, c.sess)

	if c.userID == "" {
		return
	}
	h.store.AddBoardMember(ctx, boardID, presence.Member{
		ID:       c.userID,
		Username: c.username,
		SID:      sid,
	})
	h.BroadcastPresence(ctx, boardID)
	h.logger.Debug("User joined board", slog.String("userID", c.userID), slog.String("boardID", boardID))
}

// LeaveBoard mirrors JoinBoard.
func (h *Hub) LeaveBoard(ctx context.Context, sid, boardID string) {
	c := h.lookup(sid)
	if c == nil {
		return
	}
	h.rooms.Leave(boardID, sid)

	if c.userID == "" {
		return
	}
	h.store.RemoveBoardMember(ctx, boardID, c.userID, sid)
	h.BroadcastPresence(ctx, boardID)
}

// OnDisconnect is the only path to the terminal state. It purges the sid
// from every delivery room, clears all derived store state in one
// composite call, and rebroadcasts presence for exactly the boards that
// change. Safe to call twice; the second call finds nothing to do.
func (h *Hub) OnDisconnect(ctx context.Context, sid string) {
	h.rooms.LeaveAll(sid)

	affected := h.store.HandleDisconnect(ctx, sid)
	for _, boardID := range affected {
		h.BroadcastPresence(ctx, boardID)
	}

	h.mu.Lock()
	delete(h.clients, sid)
	h.mu.Unlock()

	if len(affected) > 0 {
		h.logger.Debug("Disconnect cleaned up presence", slog.String("sid", sid), slog.Int("boards", len(affected)))
	}
}

// BroadcastPresence sends the board's current member snapshot to the whole
// room. Always a full recomputed list, never a diff, so every client
// converges regardless of what it saw before.
func (h *Hub) BroadcastPresence(ctx context.Context, boardID string) {
	members := h.store.GetBoardMembers(ctx, boardID)
	if members == nil {
		// Clients expect a list; an empty board renders as [], not null.
		members = []presence.Member{}
	}
	frame := wire.Marshal(wire.EventPresenceUpdate, members)
	h.rooms.Broadcast(boardID, frame, "")
	if h.bus != nil {
		h.bus.PublishBoard(ctx, boardID, frame)
	}
}

// Identity reports the identity attached to a local sid. ok is false for
// unknown sids; an empty userID with ok=true is an anonymous session.
func (h *Hub) Identity(sid string) (userID, username string, ok bool) {
	c := h.lookup(sid)
	if c == nil {
		return "", "", false
	}
	return c.userID, c.username, true
}

// LocalUserSessions returns this instance's live sessions for a user.
func (h *Hub) LocalUserSessions(userID string) []Session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []Session
	for _, c := range h.clients {
		if c.userID != "" && c.userID == userID {
			out = append(out, c.sess)
		}
	}
	return out
}

// LocalSession returns the live session for a sid, if it is on this
// instance.
func (h *Hub) LocalSession(sid string) (Session, bool) {
	c := h.lookup(sid)
	if c == nil {
		return nil, false
	}
	return c.sess, true
}

// OldestLocalSession supports connection cycling: when a user exceeds the
// per-user limit, the oldest session is the one to evict.
func (h *Hub) OldestLocalSession(userID string) (Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var oldest *client
	for _, c := range h.clients {
		if c.userID != userID {
			continue
		}
		if oldest == nil || c.createdAt.Before(oldest.createdAt) {
			oldest = c
		}
	}
	if oldest == nil {
		return nil, false
	}
	return oldest.sess, true
}

// SessionCount reports how many sessions a user has open anywhere, via the
// store, so the connection limit holds across a fleet.
func (h *Hub) SessionCount(ctx context.Context, userID string) int {
	return len(h.store.GetUserSessions(ctx, userID))
}

// CloseAll force-closes every local session, for graceful shutdown.
func (h *Hub) CloseAll(err error) {
	h.mu.RLock()
	sessions := make([]Session, 0, len(h.clients))
	for _, c := range h.clients {
		sessions = append(sessions, c.sess)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		s.Close(err)
	}
}

func (h *Hub) lookup(sid string) *client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[sid]
}
