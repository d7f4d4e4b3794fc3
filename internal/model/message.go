package model

import "time"

// Message is one chat message. Seq is the per-conversation position
// (gapless under committed writes); ClientID is the caller-supplied
// idempotency key: a retry with the same ClientID resolves to the same
// row. ServerTs is when the server accepted the message, CreatedAt is the
// row timestamp (they differ only for rows backfilled from the old schema).
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Seq            int64     `json:"seq"`
	ClientID       string    `json:"client_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	ServerTs       time.Time `json:"server_ts"`
	CreatedAt      time.Time `json:"created_at"`
}

// Counter backs the per-scope sequence allocator. NextValue strictly
// increases per (ScopeID, Name); allocation is transactional.
type Counter struct {
	ScopeID   string `json:"scope_id"`
	Name      string `json:"name"`
	NextValue int64  `json:"next_value"`
}
