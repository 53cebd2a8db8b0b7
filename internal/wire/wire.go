// Package wire defines the frames exchanged with clients. Inbound frames
// carry an event name plus a raw payload; outbound frames mirror the shape
// so clients multiplex everything over one socket.
package wire

import "encoding/json"

// Inbound event names.
const (
	EventJoinBoard      = "join_board"
	EventLeaveBoard     = "leave_board"
	EventRequestLock    = "request_lock"
	EventReleaseLock    = "release_lock"
	EventSoundReordered = "sound_reordered"
	EventSendReaction   = "send_reaction"
)

// Outbound event names.
const (
	EventPresenceUpdate   = "presence_update"
	EventBoardUpdated     = "board_updated"
	EventSlotLocked       = "slot_locked"
	EventSlotReleased     = "slot_released"
	EventUpdateSoundOrder = "update_sound_order"
	EventReceiveReaction  = "receive_reaction"
	EventNewNotification  = "new_notification"
)

// ClientMessage is a frame received from a client.
type ClientMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// ServerMessage is a frame sent to a client.
type ServerMessage struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Marshal encodes an outbound frame. Payloads are plain data types, so a
// marshal failure is a programming error; callers treat nil as "drop".
func Marshal(event string, payload any) []byte {
	raw, err := json.Marshal(ServerMessage{Event: event, Payload: payload})
	if err != nil {
		return nil
	}
	return raw
}

// BoardUpdated announces a committed board mutation.
type BoardUpdated struct {
	Action string `json:"action"`
	Data   any    `json:"data"`
	User   string `json:"user"`
}

// SlotLocked tells other collaborators a sound slot is being edited.
type SlotLocked struct {
	SoundID string `json:"sound_id"`
	User    string `json:"user"`
}

// SlotReleased carries no user: clients only need to unlock the slot.
type SlotReleased struct {
	SoundID string `json:"sound_id"`
}

// UpdateSoundOrder carries the full reordered id list, not a diff.
type UpdateSoundOrder struct {
	SoundIDs []string `json:"sound_ids"`
}

// ReceiveReaction is an ephemeral animation trigger.
type ReceiveReaction struct {
	Emoji string `json:"emoji"`
	User  string `json:"user"`
}

// NewNotification is the realtime nudge for a notification already
// persisted by the caller.
type NewNotification struct {
	Message string `json:"message"`
	Link    string `json:"link,omitempty"`
}
