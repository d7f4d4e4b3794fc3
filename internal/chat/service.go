// Package chat owns the conversation write path: idempotent message
// ingestion with per-conversation sequencing, and the per-user read cursor.
package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lexcomms/internal/logger"
	"github.com/lexcomms/internal/model"
	"github.com/lexcomms/internal/notify"
	"github.com/lexcomms/internal/repository"
)

// ErrNotParticipant is returned when the caller is not a member of the
// conversation (handlers map it to 403).
var ErrNotParticipant = errors.New("not a participant")

// ErrEmptyContent rejects blank messages before touching the allocator.
var ErrEmptyContent = errors.New("empty content")

const (
	// ingestAttempts bounds retries when the sequence allocation loses a
	// serialization race; backoff is fixed, contention is per-conversation
	// and short-lived.
	ingestAttempts = 3
	ingestBackoff  = 50 * time.Millisecond
)

// MessageStore is the transactional persistence the service writes through.
// *repository.MessageRepository implements it.
type MessageStore interface {
	Ingest(ctx context.Context, m *model.Message) (*model.Message, bool, error)
	ListAfterSeq(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]model.Message, error)
}

// ConversationStore provides conversation and membership lookups.
type ConversationStore interface {
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	GetParticipants(ctx context.Context, conversationID string) ([]model.Participant, error)
	LatestSeq(ctx context.Context, id string) (int64, error)
}

// ReadStateStore tracks last-read cursors.
type ReadStateStore interface {
	Advance(ctx context.Context, conversationID, userID string, seq int64, now time.Time) error
	Get(ctx context.Context, conversationID, userID string) (*model.ReadState, error)
	UnreadCount(ctx context.Context, conversationID, userID string) (int64, error)
}

// EventPublisher fans a domain event out to notifications. nil disables fanout.
type EventPublisher interface {
	Publish(ctx context.Context, ev notify.Event) error
}

// Broadcaster pushes a new message to participants connected on the live
// feed. nil disables broadcasting.
type Broadcaster interface {
	BroadcastMessage(participantIDs []string, m *model.Message)
}

type Service struct {
	messages  MessageStore
	convs     ConversationStore
	readState ReadStateStore
	publisher EventPublisher
	broadcast Broadcaster
	members   *membershipCache
}

func NewService(messages MessageStore, convs ConversationStore, readState ReadStateStore, publisher EventPublisher, broadcast Broadcaster) *Service {
	return &Service{
		messages:  messages,
		convs:     convs,
		readState: readState,
		publisher: publisher,
		broadcast: broadcast,
		members:   newMembershipCache(convs),
	}
}

var mentionRe = regexp.MustCompile(`@([A-Za-z0-9._-]+)`)

// extractMentions returns the @handles referenced in content, lowercased.
func extractMentions(content string) []string {
	matches := mentionRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		handle := strings.ToLower(m[1])
		if _, ok := seen[handle]; ok {
			continue
		}
		seen[handle] = struct{}{}
		out = append(out, handle)
	}
	return out
}

// Ingest appends a message idempotently and returns the stored row (the
// original row when clientID was seen before). On a fresh insert it fans
// out a message-category notification to the other participants and pushes
// the message to the conversation's live feed.
func (s *Service) Ingest(ctx context.Context, conversationID, clientID, senderID, content string) (*model.Message, error) {
	defer logger.DeferLogDuration("chat.Ingest", time.Now())()
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if clientID == "" {
		// Without an idempotency key a network retry would duplicate the
		// message; refuse rather than silently degrade.
		return nil, fmt.Errorf("client_id required: %w", ErrEmptyContent)
	}

	membership, err := s.members.get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !membership.has(senderID) {
		return nil, ErrNotParticipant
	}

	now := time.Now().UTC()
	var stored *model.Message
	var created bool
	for attempt := 0; ; attempt++ {
		m := &model.Message{
			ID:             uuid.New().String(),
			ConversationID: conversationID,
			ClientID:       clientID,
			SenderID:       senderID,
			Content:        content,
			ServerTs:       now,
			CreatedAt:      now,
		}
		stored, created, err = s.messages.Ingest(ctx, m)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrConflict) || attempt >= ingestAttempts-1 {
			return nil, err
		}
		logger.Infof("chat ingest conflict conv=%s attempt=%d, retrying", conversationID, attempt+1)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(ingestBackoff):
		}
	}

	if created {
		s.afterIngest(ctx, membership, stored)
	}
	return stored, nil
}

// truncatePreview shortens content to at most max bytes, cutting on a rune
// boundary so a multi-byte character never straddles the ellipsis.
func truncatePreview(content string, max int) string {
	if len(content) <= max {
		return content
	}
	cut := max - 3
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "..."
}

// afterIngest runs the fanout side effects for a freshly inserted message.
// Failures here are logged, never surfaced: the message is committed and
// the REST pull path remains the correctness backstop.
func (s *Service) afterIngest(ctx context.Context, membership *membership, m *model.Message) {
	if s.broadcast != nil {
		s.broadcast.BroadcastMessage(membership.ids(), m)
	}
	recipients := membership.notifyTargets(m.SenderID, extractMentions(m.Content))
	if s.publisher == nil || len(recipients) == 0 {
		return
	}
	preview := truncatePreview(m.Content, 120)
	ev := notify.Event{
		Category:   model.CategoryMessage,
		Title:      "New message",
		Body:       preview,
		EntityType: notify.EntityConversation,
		EntityID:   m.ConversationID,
		ActorID:    m.SenderID,
		Recipients: recipients,
		Metadata:   map[string]string{"message_id": m.ID, "seq": fmt.Sprintf("%d", m.Seq)},
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		logger.Errorf("chat fanout conv=%s msg=%s: %v", m.ConversationID, m.ID, err)
	}
}

// Messages returns the catch-up slice after a known seq, participants only.
func (s *Service) Messages(ctx context.Context, conversationID, userID string, afterSeq int64, limit int) ([]model.Message, error) {
	membership, err := s.members.get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !membership.has(userID) {
		return nil, ErrNotParticipant
	}
	return s.messages.ListAfterSeq(ctx, conversationID, afterSeq, limit)
}

// AdvanceRead moves the caller's read cursor forward; a stale seq is a
// no-op, the cursor never regresses.
func (s *Service) AdvanceRead(ctx context.Context, conversationID, userID string, seq int64) error {
	defer logger.DeferLogDuration("chat.AdvanceRead", time.Now())()
	if seq < 0 {
		seq = 0
	}
	membership, err := s.members.get(ctx, conversationID)
	if err != nil {
		return err
	}
	if !membership.has(userID) {
		return ErrNotParticipant
	}
	return s.readState.Advance(ctx, conversationID, userID, seq, time.Now().UTC())
}

// UnreadCount is the message-thread unread count: max(0, latestSeq -
// lastReadSeq). Distinct from the notification-category counts.
func (s *Service) UnreadCount(ctx context.Context, conversationID, userID string) (int64, error) {
	membership, err := s.members.get(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if !membership.has(userID) {
		return 0, ErrNotParticipant
	}
	return s.readState.UnreadCount(ctx, conversationID, userID)
}
