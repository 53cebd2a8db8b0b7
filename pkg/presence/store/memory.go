package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/soundloop/collab/pkg/presence"
)

// boardIndex tracks which boards a sid has joined. Entries carry an expiry
// so a lost disconnect event cannot leak memory forever; expired entries
// are dropped lazily on access.
type boardIndex struct {
	boards    map[string]struct{}
	expiresAt time.Time
}

// Memory is the single-process presence store. It is correct only within
// one instance; a horizontally scaled fleet needs the Redis backend.
type Memory struct {
	boardIndexTTL time.Duration

	globalMu sync.RWMutex
	sidUser  map[string]string
	userSids map[string]map[string]struct{}

	boardMu   sync.RWMutex
	boards    map[string]map[string]presence.Member
	sidBoards map[string]*boardIndex

	logger *slog.Logger
}

func NewMemory(logger *slog.Logger, boardIndexTTL time.Duration) *Memory {
	if boardIndexTTL <= 0 {
		boardIndexTTL = 24 * time.Hour
	}
	return &Memory{
		boardIndexTTL: boardIndexTTL,
		sidUser:       make(map[string]string),
		userSids:      make(map[string]map[string]struct{}),
		boards:        make(map[string]map[string]presence.Member),
		sidBoards:     make(map[string]*boardIndex),
		logger:        logger.With(slog.String("component", "presence_store_memory")),
	}
}

// compile-time check to ensure Memory implements presence.Store.
var _ presence.Store = (*Memory)(nil)

func (m *Memory) AddGlobalConnection(_ context.Context, userID, sid string) {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()

	// A sid belongs to at most one user; re-registration under a different
	// identity moves it.
	if prev, ok := m.sidUser[sid]; ok && prev != userID {
		m.detachLocked(prev, sid)
	}
	m.sidUser[sid] = userID
	sids, ok := m.userSids[userID]
	if !ok {
		sids = make(map[string]struct{})
		m.userSids[userID] = sids
	}
	sids[sid] = struct{}{}
	m.logger.Debug("Global connection registered", slog.String("userID", userID), slog.String("sid", sid))
}

func (m *Memory) RemoveGlobalConnection(_ context.Context, sid string) (string, bool) {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()

	userID, ok := m.sidUser[sid]
	if !ok {
		return "", false
	}
	delete(m.sidUser, sid)
	m.detachLocked(userID, sid)
	m.logger.Debug("Global connection removed", slog.String("userID", userID), slog.String("sid", sid))
	return userID, true
}

// detachLocked removes sid from a user's session set. Caller holds globalMu.
func (m *Memory) detachLocked(userID, sid string) {
	sids, ok := m.userSids[userID]
	if !ok {
		return
	}
	delete(sids, sid)
	if len(sids) == 0 {
		delete(m.userSids, userID)
	}
}

func (m *Memory) GetUserSessions(_ context.Context, userID string) []string {
	m.globalMu.RLock()
	defer m.globalMu.RUnlock()

	sids := m.userSids[userID]
	out := make([]string, 0, len(sids))
	for sid := range sids {
		out = append(out, sid)
	}
	return out
}

func (m *Memory) AddBoardMember(_ context.Context, boardID string, member presence.Member) {
	m.boardMu.Lock()
	defer m.boardMu.Unlock()

	board, ok := m.boards[boardID]
	if !ok {
		board = make(map[string]presence.Member)
		m.boards[boardID] = board
	}
	// Overwrite any prior record for this user: a second tab replaces the
	// first in the presence list rather than accumulating.
	board[member.ID] = member

	idx := m.sidIndexLocked(member.SID)
	if idx == nil {
		idx = &boardIndex{boards: make(map[string]struct{})}
		m.sidBoards[member.SID] = idx
	}
	idx.boards[boardID] = struct{}{}
	idx.expiresAt = time.Now().Add(m.boardIndexTTL)

	m.logger.Debug("Board member added", slog.String("boardID", boardID), slog.String("userID", member.ID))
}

func (m *Memory) RemoveBoardMember(_ context.Context, boardID, userID, sid string) {
	m.boardMu.Lock()
	defer m.boardMu.Unlock()

	if board, ok := m.boards[boardID]; ok {
		delete(board, userID)
		if len(board) == 0 {
			delete(m.boards, boardID)
		}
	}
	if idx := m.sidIndexLocked(sid); idx != nil {
		delete(idx.boards, boardID)
		if len(idx.boards) == 0 {
			delete(m.sidBoards, sid)
		}
	}
}

func (m *Memory) GetBoardMembers(_ context.Context, boardID string) []presence.Member {
	m.boardMu.RLock()
	defer m.boardMu.RUnlock()

	board := m.boards[boardID]
	out := make([]presence.Member, 0, len(board))
	for _, member := range board {
		out = append(out, member)
	}
	return out
}

func (m *Memory) HandleDisconnect(ctx context.Context, sid string) []string {
	userID, _ := m.RemoveGlobalConnection(ctx, sid)

	m.boardMu.Lock()
	defer m.boardMu.Unlock()

	idx := m.sidIndexLocked(sid)
	if idx == nil {
		return nil
	}
	delete(m.sidBoards, sid)

	affected := make([]string, 0, len(idx.boards))
	for boardID := range idx.boards {
		affected = append(affected, boardID)
		if userID == "" {
			continue
		}
		// Removes the user's record by id, even if another of their tabs
		// overwrote it. This mirrors the last-write-wins presence model:
		// the surviving tab disappears from the list until it rejoins.
		if board, ok := m.boards[boardID]; ok {
			delete(board, userID)
			if len(board) == 0 {
				delete(m.boards, boardID)
			}
		}
	}
	m.logger.Debug("Disconnect handled", slog.String("sid", sid), slog.Int("affectedBoards", len(affected)))
	return affected
}

// sidIndexLocked returns the live board index for sid, dropping it if the
// entry has expired. Caller holds boardMu.
func (m *Memory) sidIndexLocked(sid string) *boardIndex {
	idx, ok := m.sidBoards[sid]
	if !ok {
		return nil
	}
	if time.Now().After(idx.expiresAt) {
		delete(m.sidBoards, sid)
		return nil
	}
	return idx
}
