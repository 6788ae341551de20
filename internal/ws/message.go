// Package ws streams live health updates and alerts to dashboard clients
// over WebSocket, one stream per user.
package ws

import "time"

// MessageType identifies the payload shape of a WebSocket message.
type MessageType string

const (
	MessageHealthUpdate MessageType = "health_update"
	MessageAlert        MessageType = "alert"
)

// Message is the envelope for all server-to-client WebSocket messages.
type Message struct {
	Type      MessageType `json:"type"`
	UserID    string      `json:"user_id"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}
