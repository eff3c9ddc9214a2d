package models

import (
	"time"

	"github.com/segmentio/ksuid"
)

// Session represents an active WebSocket connection to a schema room
type Session struct {
	ID          string    `json:"id"`
	SchemaID    string    `json:"schema_id"`
	UserID      string    `json:"user_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

// MessageType is the "type" discriminant of a collaboration frame
type MessageType string

const (
	// Document operations (client -> server)
	MessageCreateElement MessageType = "create_element"
	MessageDeleteElement MessageType = "delete_element"
	MessageUpdateElement MessageType = "update_element"
	MessageMoveElement   MessageType = "move_element"

	// Locks (client -> server)
	MessageLockElement   MessageType = "lock_element"
	MessageUnlockElement MessageType = "unlock_element"
	MessageListLocks     MessageType = "list_locks"

	// Presence (client -> server)
	MessageCursorMove  MessageType = "cursor_move"
	MessageCursorLeave MessageType = "cursor_leave"

	// Server -> client
	MessageSchemaState     MessageType = "schema_state"
	MessageElementCreated  MessageType = "element_created"
	MessageElementDeleted  MessageType = "element_deleted"
	MessageElementUpdated  MessageType = "element_updated"
	MessageElementMoved    MessageType = "element_moved"
	MessageLockResult      MessageType = "lock_result"
	MessageUnlockResult    MessageType = "unlock_result"
	MessageElementLocked   MessageType = "element_locked"
	MessageElementUnlocked MessageType = "element_unlocked"
	MessageLockedElements  MessageType = "locked_elements"
	MessageCursorUpdate    MessageType = "cursor_update"
	MessageCursorLeft      MessageType = "cursor_left"
	MessageUserJoined      MessageType = "user_joined"
	MessageUserLeft        MessageType = "user_left"
	MessageError           MessageType = "error"
)

// BroadcastType maps an inbound operation frame to the frame relayed to
// the rest of the room
func (t MessageType) BroadcastType() (MessageType, bool) {
	switch t {
	case MessageCreateElement:
		return MessageElementCreated, true
	case MessageDeleteElement:
		return MessageElementDeleted, true
	case MessageUpdateElement:
		return MessageElementUpdated, true
	case MessageMoveElement:
		return MessageElementMoved, true
	}
	return "", false
}

func NewSession(schemaID, userID string) *Session {
	return &Session{
		ID:          ksuid.New().String(),
		SchemaID:    schemaID,
		UserID:      userID,
		ConnectedAt: time.Now(),
	}
}
