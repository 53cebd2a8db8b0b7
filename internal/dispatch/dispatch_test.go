package dispatch_test

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

func (f *fakeSession) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

func (f *fakeSession) received(t *testing.T, event string) []json.RawMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []json.RawMessage
	for _, raw := range f.frames {
		var msg struct {
			Event   string          `json:"event"`
			Payload json.RawMessage `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(raw, &msg))
		if msg.Event == event {
			out = append(out, msg.Payload)
		}
	}
	return out
}

type fixture struct {
	hub        *hub.Hub
	dispatcher *dispatch.Dispatcher
}

func newFixture() *fixture {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	logger := slog.New(handler)
	st := store.NewMemory(logger, time.Hour)
	rooms := hub.NewRooms()
	h := hub.New(logger, st, rooms, nil)
	d := dispatch.New(logger, st, rooms, h, nil)
	return &fixture{hub: h, dispatcher: d}
}

// connect registers a session; an empty userID makes it anonymous.
func (fx *fixture) connect(ctx context.Context, sid, userID, username string, boards ...string) *fakeSession {
	s := &fakeSession{sid: sid}
	fx.hub.OnConnect(ctx, s, userID, username)
	for _, board := range boards {
		fx.hub.JoinBoard(ctx, sid, board)
	}
	s.reset()
	return s
}

func TestInstantNotificationReachesEveryTab(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	s1 := fx.connect(ctx, "s1", "42", "alice")
	s2 := fx.connect(ctx, "s2", "42", "alice")
	other := fx.connect(ctx, "s3", "99", "bob")

	fx.dispatcher.SendInstantNotification(ctx, "42", "hi", "/x")

	for _, s := range []*fakeSession{s1, s2} {
		payloads := s.received(t, wire.EventNewNotification)
		require.Len(t, payloads, 1)
		var note wire.NewNotification
		require.NoError(t, json.Unmarshal(payloads[0], &note))
		assert.Equal(t, "hi", note.Message)
		assert.Equal(t, "/x", note.Link)
	}
	assert.Empty(t, other.received(t, wire.EventNewNotification))
}

func TestInstantNotificationNoSessionsIsNoop(t *testing.T) {
	fx := newFixture()
	// Nobody is connected for this user; nothing happens, nothing panics.
	fx.dispatcher.SendInstantNotification(context.Background(), "42", "hi", "")
}

func TestRequestLockExcludesRequester(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	requester := fx.connect(ctx, "s1", "u1", "alice", "3")
	peer := fx.connect(ctx, "s2", "u2", "bob", "3")
	outsider := fx.connect(ctx, "s3", "u3", "carol", "4")

	fx.dispatcher.RequestLock(ctx, "3", "9", "s1", "alice")

	payloads := peer.received(t, wire.EventSlotLocked)
	require.Len(t, payloads, 1)
	var locked wire.SlotLocked
	require.NoError(t, json.Unmarshal(payloads[0], &locked))
	assert.Equal(t, "9", locked.SoundID)
	assert.Equal(t, "alice", locked.User)

	assert.Empty(t, requester.received(t, wire.EventSlotLocked))
	assert.Empty(t, outsider.received(t, wire.EventSlotLocked))
}

func TestReleaseLockExcludesReleaserAndCarriesNoUser(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	releaser := fx.connect(ctx, "s1", "u1", "alice", "3")
	peer := fx.connect(ctx, "s2", "u2", "bob", "3")

	fx.dispatcher.ReleaseLock(ctx, "3", "9", "s1")

	payloads := peer.received(t, wire.EventSlotReleased)
	require.Len(t, payloads, 1)
	assert.JSONEq(t, `{"sound_id":"9"}`, string(payloads[0]))
	assert.Empty(t, releaser.received(t, wire.EventSlotReleased))
}

func TestReactionIncludesSender(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	// Unlike locks, the sender's own UI renders the reaction too.
	sender := fx.connect(ctx, "s1", "u1", "alice", "3")
	peer := fx.connect(ctx, "s2", "u2", "bob", "3")

	fx.dispatcher.BroadcastReaction(ctx, "3", "🔥", "alice")

	for _, s := range []*fakeSession{sender, peer} {
		payloads := s.received(t, wire.EventReceiveReaction)
		require.Len(t, payloads, 1)
		var reaction wire.ReceiveReaction
		require.NoError(t, json.Unmarshal(payloads[0], &reaction))
		assert.Equal(t, "🔥", reaction.Emoji)
		assert.Equal(t, "alice", reaction.User)
	}
}

func TestBoardUpdateReachesAnonymousViewers(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	anon := fx.connect(ctx, "anon", "", "")
	fx.hub.JoinBoard(ctx, "anon", "7")
	member := fx.connect(ctx, "s1", "u1", "alice", "7")

	fx.dispatcher.BroadcastBoardUpdate(ctx, "7", "sound_added", map[string]any{"id": "snd-1"}, "alice")

	for _, s := range []*fakeSession{anon, member} {
		payloads := s.received(t, wire.EventBoardUpdated)
		require.Len(t, payloads, 1)
		var update wire.BoardUpdated
		require.NoError(t, json.Unmarshal(payloads[0], &update))
		assert.Equal(t, "sound_added", update.Action)
		assert.Equal(t, "alice", update.User)
	}
}

func TestBoardUpdateDefaultsToSystemActor(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	s1 := fx.connect(ctx, "s1", "u1", "alice", "7")

	fx.dispatcher.BroadcastBoardUpdate(ctx, "7", "sound_deleted", nil, "")

	payloads := s1.received(t, wire.EventBoardUpdated)
	require.Len(t, payloads, 1)
	var update wire.BoardUpdated
	require.NoError(t, json.Unmarshal(payloads[0], &update))
	assert.Equal(t, "System", update.User)
}

func TestSoundOrderExcludesReorderer(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	reorderer := fx.connect(ctx, "s1", "u1", "alice", "7")
	peer := fx.connect(ctx, "s2", "u2", "bob", "7")

	fx.dispatcher.BroadcastSoundOrder(ctx, "7", []string{"c", "a", "b"}, "s1")

	payloads := peer.received(t, wire.EventUpdateSoundOrder)
	require.Len(t, payloads, 1)
	var order wire.UpdateSoundOrder
	require.NoError(t, json.Unmarshal(payloads[0], &order))
	assert.Equal(t, []string{"c", "a", "b"}, order.SoundIDs)

	assert.Empty(t, reorderer.received(t, wire.EventUpdateSoundOrder))
}
