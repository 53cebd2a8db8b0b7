package router_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundloop/collab/internal/dispatch"
	"github.com/soundloop/collab/internal/hub"
	"github.com/soundloop/collab/internal/router"
	"github.com/soundloop/collab/internal/wire"
	"github.com/soundloop/collab/pkg/presence/store"
)

type fakeSession struct {
	sid string

	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeSession) SID() string { return f.sid }

func (f *fakeSession) Send(msg []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, msg)
}

func (f *fakeSession) Close(_ error) {}

func (f *fakeSession) events(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for _, raw := range f.frames {
		var msg struct {
			Event string `json:"event"`
		}
		require.NoError(t, json.Unmarshal(raw, &msg))
		out = append(out, msg.Event)
	}
	return out
}

type fixture struct {
	store  *store.Memory
	hub    *hub.Hub
	router *router.EventRouter
}

func newFixture() *fixture {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	logger := slog.New(handler)
	st := store.NewMemory(logger, time.Hour)
	rooms := hub.NewRooms()
	h := hub.New(logger, st, rooms, nil)
	d := dispatch.New(logger, st, rooms, h, nil)
	return &fixture{store: st, hub: h, router: router.NewEventRouter(logger, h, d)}
}

func TestJoinBoardRouted(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	s1 := &fakeSession{sid: "s1"}
	fx.hub.OnConnect(ctx, s1, "u1", "alice")

	fx.router.HandleMessage(ctx, "s1", []byte(`{"event":"join_board","payload":{"board_id":"7"}}`))

	members := fx.store.GetBoardMembers(ctx, "7")
	require.Len(t, members, 1)
	assert.Equal(t, "u1", members[0].ID)
	assert.Contains(t, s1.events(t), wire.EventPresenceUpdate)
}

func TestLeaveBoardRouted(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	s1 := &fakeSession{sid: "s1"}
	fx.hub.OnConnect(ctx, s1, "u1", "alice")
	fx.router.HandleMessage(ctx, "s1", []byte(`{"event":"join_board","payload":{"board_id":"7"}}`))
	fx.router.HandleMessage(ctx, "s1", []byte(`{"event":"leave_board","payload":{"board_id":"7"}}`))

	assert.Empty(t, fx.store.GetBoardMembers(ctx, "7"))
}

func TestMalformedFrameDropped(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	s1 := &fakeSession{sid: "s1"}
	fx.hub.OnConnect(ctx, s1, "u1", "alice")

	// Not JSON at all.
	fx.router.HandleMessage(ctx, "s1", []byte(`{not json`))
	// Valid frame, missing board_id.
	fx.router.HandleMessage(ctx, "s1", []byte(`{"event":"join_board","payload":{}}`))
	// Lock request missing sound_id.
	fx.router.HandleMessage(ctx, "s1", []byte(`{"event":"request_lock","payload":{"board_id":"7"}}`))

	// Nothing mutated, nothing delivered, and the session is still usable.
	assert.Empty(t, fx.store.GetBoardMembers(ctx, "7"))
	assert.Empty(t, s1.events(t))

	fx.router.HandleMessage(ctx, "s1", []byte(`{"event":"join_board","payload":{"board_id":"7"}}`))
	assert.Len(t, fx.store.GetBoardMembers(ctx, "7"), 1)
}

func TestUnknownEventIgnored(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	s1 := &fakeSession{sid: "s1"}
	fx.hub.OnConnect(ctx, s1, "u1", "alice")

	fx.router.HandleMessage(ctx, "s1", []byte(`{"event":"make_coffee","payload":{}}`))
	assert.Empty(t, s1.events(t))
}

func TestReactionRoutedWithSenderIdentity(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	s1 := &fakeSession{sid: "s1"}
	fx.hub.OnConnect(ctx, s1, "u1", "alice")
	fx.router.HandleMessage(ctx, "s1", []byte(`{"event":"join_board","payload":{"board_id":"7"}}`))

	fx.router.HandleMessage(ctx, "s1", []byte(`{"event":"send_reaction","payload":{"board_id":"7","emoji":"🎉"}}`))

	var reaction wire.ReceiveReaction
	found := false
	s1.mu.Lock()
	frames := append([][]byte(nil), s1.frames...)
	s1.mu.Unlock()
	for _, raw := range frames {
		var msg struct {
			Event   string          `json:"event"`
			Payload json.RawMessage `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(raw, &msg))
		if msg.Event == wire.EventReceiveReaction {
			require.NoError(t, json.Unmarshal(msg.Payload, &reaction))
			found = true
		}
	}
	require.True(t, found, "expected a receive_reaction frame")
	assert.Equal(t, "🎉", reaction.Emoji)
	assert.Equal(t, "alice", reaction.User)
}

func TestSoundReorderedRouted(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	s1 := &fakeSession{sid: "s1"}
	s2 := &fakeSession{sid: "s2"}
	fx.hub.OnConnect(ctx, s1, "u1", "alice")
	fx.hub.OnConnect(ctx, s2, "u2", "bob")
	fx.router.HandleMessage(ctx, "s1", []byte(`{"event":"join_board","payload":{"board_id":"7"}}`))
	fx.router.HandleMessage(ctx, "s2", []byte(`{"event":"join_board","payload":{"board_id":"7"}}`))

	fx.router.HandleMessage(ctx, "s1", []byte(`{"event":"sound_reordered","payload":{"board_id":"7","sound_ids":["b","a"]}}`))

	assert.Contains(t, s2.events(t), wire.EventUpdateSoundOrder)
	assert.NotContains(t, s1.events(t), wire.EventUpdateSoundOrder)
}
