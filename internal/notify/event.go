// Package notify fans domain events out into per-recipient notifications:
// one in-app row per eligible recipient, a push onto the live stream, and
// async push/email jobs on the delivery queue.
package notify

import (
	"errors"

	"github.com/lexcomms/internal/model"
)

// Entity types carried on every notification. Clients navigate and group
// by this typed reference, never by parsing the link.
const (
	EntityConversation = "conversation"
	EntityInvoice      = "invoice"
	EntityIntakeForm   = "intake_form"
	EntityMatter       = "matter"
	EntityOrg          = "org"
)

var ErrUnknownCategory = errors.New("unknown category")

// Event is one domain occurrence to fan out. Recipients are resolved by
// the producer (conversation participants, practice admins, ...); the
// fanout decides channels per recipient.
type Event struct {
	Category   model.Category    `json:"category"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Link       string            `json:"link,omitempty"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	ActorID    string            `json:"actor_id,omitempty"`
	Recipients []string          `json:"recipients"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
