package ws

import "github.com/lexcomms/internal/model"

type EventType string

const (
	EventNewMessage EventType = "new_message"
	EventError      EventType = "error"
)

// OutgoingMessage is what the server sends to the client. The feed is
// server-push only; clients send nothing but pongs.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// NewMessagePayload carries one freshly ingested conversation message.
type NewMessagePayload struct {
	Message *model.Message `json:"message"`
}
