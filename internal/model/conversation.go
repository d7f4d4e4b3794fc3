package model

import "time"

// Conversation is a message thread between practice staff and a client.
// LatestSeq caches the maximum message seq for O(1) unread computation;
// MembershipVersion increments on participant add/remove and invalidates
// cached membership.
type Conversation struct {
	ID                string    `json:"id"`
	OrgID             string    `json:"org_id"`
	Subject           string    `json:"subject"`
	LatestSeq         int64     `json:"latest_seq"`
	MembershipVersion int64     `json:"membership_version"`
	CreatedBy         string    `json:"created_by"`
	CreatedAt         time.Time `json:"created_at"`
}

type ParticipantRole string

const (
	RoleOwner  ParticipantRole = "owner"
	RoleMember ParticipantRole = "member"
	RoleClient ParticipantRole = "client"
)

// NotifyMode controls message-category fanout for a participant.
type NotifyMode string

const (
	NotifyAll      NotifyMode = "all"
	NotifyMentions NotifyMode = "mentions"
)

type Participant struct {
	ConversationID string          `json:"conversation_id"`
	UserID         string          `json:"user_id"`
	Role           ParticipantRole `json:"role"`
	NotifyMode     NotifyMode      `json:"notify_mode"`
	JoinedAt       time.Time       `json:"joined_at"`
}

// ReadState is the per-(conversation, user) last-read cursor.
// LastReadSeq is monotonic non-decreasing.
type ReadState struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	LastReadSeq    int64     `json:"last_read_seq"`
	UpdatedAt      time.Time `json:"updated_at"`
}
