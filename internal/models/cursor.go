package models

import "time"

// CursorPosition is a user's pointer location on the schema canvas.
// Learning: like Yjs awareness this is ephemeral and never persisted.
type CursorPosition struct {
	UserID    string  `json:"user_id"`
	UserName  string  `json:"user_name"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Color     string  `json:"color"`
	Timestamp int64   `json:"timestamp"` // Unix milliseconds
}

// NewCursorPosition stamps a cursor with the given time
func NewCursorPosition(userID, userName string, x, y float64, color string, at time.Time) CursorPosition {
	return CursorPosition{
		UserID:    userID,
		UserName:  userName,
		X:         x,
		Y:         y,
		Color:     color,
		Timestamp: at.UnixMilli(),
	}
}
