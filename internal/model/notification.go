package model

import "time"

type Category string

const (
	CategoryMessage Category = "message"
	CategorySystem  Category = "system"
	CategoryPayment Category = "payment"
	CategoryIntake  Category = "intake"
	CategoryMatter  Category = "matter"
)

// ValidCategory reports whether c is one of the known categories.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryMessage, CategorySystem, CategoryPayment, CategoryIntake, CategoryMatter:
		return true
	}
	return false
}

// Categories lists all known categories in stable order.
var Categories = []Category{CategoryMessage, CategorySystem, CategoryPayment, CategoryIntake, CategoryMatter}

type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
)

// Notification is one in-app notification row. One row per eligible
// recipient per event (fan-out). EntityType/EntityID is the mandatory typed
// reference to the object the notification is about (conversation, invoice,
// intake form, matter); clients never parse Link to find it.
type Notification struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	Category   Category          `json:"category"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Link       string            `json:"link,omitempty"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ReadAt     *time.Time        `json:"read_at,omitempty"`
}

// CategoryPolicy is the organization-level routing policy for one category.
// Default lists channels enabled unless the member opts out; Locked lists
// channels members cannot override (always on if listed in Default, always
// off otherwise).
type CategoryPolicy struct {
	Default []Channel `yaml:"default" json:"default"`
	Locked  []Channel `yaml:"locked" json:"locked"`
}

// Preference is a member's personal per-category channel toggle.
type Preference struct {
	UserID   string   `json:"user_id"`
	Category Category `json:"category"`
	Channel  Channel  `json:"channel"`
	Enabled  bool     `json:"enabled"`
}
