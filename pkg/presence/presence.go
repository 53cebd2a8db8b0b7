package presence

import "context"

// Member is the presence record kept per (board, user) pair. SID identifies
// the tab that most recently joined; when a user has several tabs on the
// same board only the latest one is reflected here (last-write-wins).
type Member struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	SID      string `json:"sid"`
}

// Store is the bookkeeping contract shared by the in-memory and Redis
// backends. Both must behave identically under single-threaded use; the
// Redis backend must additionally stay consistent when several processes
// mutate it concurrently.
//
// All operations are best-effort: backend failures are logged by the
// implementation and surface as zero values, never as panics. Missing
// users, boards and sids are not errors.
type Store interface {
	// AddGlobalConnection records sid as one of the user's open sessions
	// and the reverse sid -> user mapping. Idempotent.
	AddGlobalConnection(ctx context.Context, userID, sid string)

	// RemoveGlobalConnection removes sid from the global index and returns
	// the owning user id. ok is false if the sid is unknown (anonymous, or
	// already removed).
	RemoveGlobalConnection(ctx context.Context, sid string) (userID string, ok bool)

	// GetUserSessions returns every sid the user currently has open,
	// anywhere. Unknown users yield an empty slice.
	GetUserSessions(ctx context.Context, userID string) []string

	// AddBoardMember upserts the presence record for (boardID, member.ID),
	// overwriting any prior record for that pair, and records boardID in
	// the sid's board index with a bounded lifetime.
	AddBoardMember(ctx context.Context, boardID string, member Member)

	// RemoveBoardMember deletes the user's presence record on the board if
	// present and drops boardID from the sid's board index.
	RemoveBoardMember(ctx context.Context, boardID, userID, sid string)

	// GetBoardMembers returns a snapshot of the board's presence records.
	// Ordering is unspecified.
	GetBoardMembers(ctx context.Context, boardID string) []Member

	// HandleDisconnect removes every trace of sid: the global connection,
	// the sid's board index, and the owning user's presence record on each
	// indexed board. It returns the affected board ids so the caller can
	// rebroadcast presence for exactly those boards. Calling it again for
	// the same sid is a no-op returning nil.
	HandleDisconnect(ctx context.Context, sid string) []string
}
