package collaboration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ColaBD/Backend-ColaBD/internal/models"
)

// Envelope is the JSON frame exchanged over the socket
type Envelope struct {
	Type models.MessageType `json:"type"`
	Data json.RawMessage    `json:"data,omitempty"`
}

type outbound struct {
	Type models.MessageType `json:"type"`
	Data any                `json:"data"`
}

type elementRef struct {
	ElementID string `json:"element_id"`
}

type cursorMove struct {
	UserName string  `json:"user_name"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Color    string  `json:"color"`
}

type cursorLeft struct {
	UserID string `json:"user_id"`
}

type lockNotice struct {
	ElementID string     `json:"element_id"`
	UserID    string     `json:"user_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type lockedElements struct {
	LockedElements []models.LockedElement `json:"locked_elements"`
}

type userNotice struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

type errorMessage struct {
	Message string `json:"message"`
}

// SchemaState is pushed to a connection right after it joins
type SchemaState struct {
	SchemaID       string                  `json:"schema_id"`
	Cells          []models.Cell           `json:"cells"`
	LockedElements []models.LockedElement  `json:"locked_elements"`
	Cursors        []models.CursorPosition `json:"cursors"`
}

// decodeEnvelope parses a raw frame
func decodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	return env, nil
}

// decodeObject parses a frame payload as a JSON object; an empty payload is
// an empty object
func decodeObject(data json.RawMessage) (map[string]any, error) {
	obj := map[string]any{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return obj, nil
	}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return obj, nil
}

// decodeOperation turns an operation frame into its typed Operation and the
// payload that is relayed to the rest of the room
func decodeOperation(t models.MessageType, data json.RawMessage) (models.Operation, map[string]any, error) {
	obj, err := decodeObject(data)
	if err != nil {
		return nil, nil, err
	}

	id, _ := obj["id"].(string)
	if strings.TrimSpace(id) == "" {
		return nil, nil, fmt.Errorf("%w: %s without id", ErrMalformedMessage, t)
	}

	switch t {
	case models.MessageCreateElement:
		cell := models.Cell(obj)
		if cell.Type() == "" {
			return nil, nil, fmt.Errorf("%w: element %s has no type", ErrMalformedMessage, id)
		}
		return models.CreateElement{Cell: cell.Clone()}, obj, nil

	case models.MessageDeleteElement:
		return models.DeleteElement{ID: id}, obj, nil

	case models.MessageUpdateElement:
		if attrs, ok := obj["attrs"].(map[string]any); ok {
			return models.UpdateElement{ID: id, Attrs: models.CloneValue(attrs).(map[string]any)}, obj, nil
		}
		if text, ok := obj["text"].(string); ok {
			return models.UpdateElement{ID: id, Text: &text}, obj, nil
		}
		return nil, nil, fmt.Errorf("%w: update of %s carries neither attrs nor text", ErrMalformedMessage, id)

	case models.MessageMoveElement:
		x, y, ok := position(obj)
		if !ok {
			return nil, nil, fmt.Errorf("%w: move of %s has no position", ErrMalformedMessage, id)
		}
		return models.MoveElement{ID: id, X: x, Y: y}, obj, nil
	}

	return nil, nil, fmt.Errorf("%w: %s", ErrUnknownMessage, t)
}

// position reads {position:{x,y}} or a flat {x,y}
func position(obj map[string]any) (float64, float64, bool) {
	src := obj
	if pos, ok := obj["position"].(map[string]any); ok {
		src = pos
	}
	x, okX := src["x"].(float64)
	y, okY := src["y"].(float64)
	return x, y, okX && okY
}

// enrich stamps a relayed payload with its author and the time it was applied
func enrich(payload map[string]any, userID string, at time.Time) map[string]any {
	out := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		out[k] = v
	}
	out["user_id"] = userID
	out["timestamp"] = at.UnixMilli()
	return out
}

// encodeMessage builds an outbound frame
func encodeMessage(t models.MessageType, data any) ([]byte, error) {
	msg, err := json.Marshal(outbound{Type: t, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", t, err)
	}
	return msg, nil
}
