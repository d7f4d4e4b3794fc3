package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/lexcomms/internal/model"
)

// membership is a point-in-time view of who belongs to a conversation,
// valid for one membership_version.
type membership struct {
	version      int64
	participants map[string]model.Participant
}

func (m *membership) has(userID string) bool {
	_, ok := m.participants[userID]
	return ok
}

// ids returns all participant user ids.
func (m *membership) ids() []string {
	out := make([]string, 0, len(m.participants))
	for id := range m.participants {
		out = append(out, id)
	}
	return out
}

// notifyTargets returns who should be notified about a message from
// senderID: every other participant, except those with notify_mode=mentions
// who are not in the mention list. Mention tokens are matched against
// participant user ids (handles equal user ids in this system).
func (m *membership) notifyTargets(senderID string, mentions []string) []string {
	mentioned := make(map[string]struct{}, len(mentions))
	for _, h := range mentions {
		mentioned[h] = struct{}{}
	}
	out := make([]string, 0, len(m.participants))
	for id, p := range m.participants {
		if id == senderID {
			continue
		}
		if p.NotifyMode == model.NotifyMentions {
			if _, ok := mentioned[strings.ToLower(id)]; !ok {
				continue
			}
		}
		out = append(out, id)
	}
	return out
}

// membershipCache keeps participant sets keyed by conversation and
// invalidates them via membership_version: every get re-reads the cheap
// conversation row and reloads participants only when the version moved.
type membershipCache struct {
	mu    sync.RWMutex
	convs ConversationStore
	byID  map[string]*membership
}

func newMembershipCache(convs ConversationStore) *membershipCache {
	return &membershipCache{convs: convs, byID: make(map[string]*membership)}
}

func (c *membershipCache) get(ctx context.Context, conversationID string) (*membership, error) {
	conv, err := c.convs.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	cached, ok := c.byID[conversationID]
	c.mu.RUnlock()
	if ok && cached.version == conv.MembershipVersion {
		return cached, nil
	}

	parts, err := c.convs.GetParticipants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	m := &membership{
		version:      conv.MembershipVersion,
		participants: make(map[string]model.Participant, len(parts)),
	}
	for _, p := range parts {
		m.participants[p.UserID] = p
	}

	c.mu.Lock()
	// Keep the newer version if a concurrent reload won.
	if cur, ok := c.byID[conversationID]; !ok || cur.version <= m.version {
		c.byID[conversationID] = m
	} else {
		m = cur
	}
	c.mu.Unlock()
	return m, nil
}
