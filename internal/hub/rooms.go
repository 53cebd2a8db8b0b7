package hub

import "sync"

// Session is the transport surface the hub needs from a connection. The
// concrete implementation is transport.Connection; tests substitute fakes.
type Session interface {
	SID() string
	Send(msg []byte)
	Close(err error)
}

// Rooms tracks which sessions receive a board's broadcasts. It is the
// authoritative source for delivery; the presence store is authoritative
// for who appears in member lists. Anonymous viewers live here but never
// in the presence store.
type Rooms struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]Session
	sidRooms map[string]map[string]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		rooms:    make(map[string]map[string]Session),
		sidRooms: make(map[string]map[string]struct{}),
	}
}

func (r *Rooms) Join(boardID string, s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[boardID]
	if !ok {
		room = make(map[string]Session)
		r.rooms[boardID] = room
	}
	room[s.SID()] = s

	joined, ok := r.sidRooms[s.SID()]
	if !ok {
		joined = make(map[string]struct{})
		r.sidRooms[s.SID()] = joined
	}
	joined[boardID] = struct{}{}
}

func (r *Rooms) Leave(boardID, sid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(boardID, sid)
}

// LeaveAll purges a sid from every room it joined, on disconnect.
func (r *Rooms) LeaveAll(sid string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for boardID := range r.sidRooms[sid] {
		r.leaveLocked(boardID, sid)
	}
}

func (r *Rooms) leaveLocked(boardID, sid string) {
	if room, ok := r.rooms[boardID]; ok {
		delete(room, sid)
		if len(room) == 0 {
			delete(r.rooms, boardID)
		}
	}
	if joined, ok := r.sidRooms[sid]; ok {
		delete(joined, boardID)
		if len(joined) == 0 {
			delete(r.sidRooms, sid)
		}
	}
}

// Broadcast queues msg for every session in the board's room, skipping
// excludeSID if non-empty. Delivery is best-effort, at-most-once: a
// session that left mid-flight simply misses the frame.
func (r *Rooms) Broadcast(boardID string, msg []byte, excludeSID string) {
	if msg == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	for sid, s := range r.rooms[boardID] {
		if sid == excludeSID {
			continue
		}
		s.Send(msg)
	}
}
