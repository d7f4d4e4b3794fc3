package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/lexcomms/internal/model"
	"github.com/lexcomms/internal/notify"
	"github.com/lexcomms/internal/repository"
)

// fakeMessageStore assigns sequence numbers the way the SQL layer does:
// one monotonic counter per conversation, idempotent on client_id.
type fakeMessageStore struct {
	mu       sync.Mutex
	byClient map[string]*model.Message
	seqs     map[string]int64
	messages []*model.Message

	failWith  error
	failTimes int
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{
		byClient: make(map[string]*model.Message),
		seqs:     make(map[string]int64),
	}
}

func (s *fakeMessageStore) Ingest(ctx context.Context, m *model.Message) (*model.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTimes > 0 {
		s.failTimes--
		return nil, false, s.failWith
	}
	key := m.ConversationID + "|" + m.ClientID
	if existing, ok := s.byClient[key]; ok {
		return existing, false, nil
	}
	s.seqs[m.ConversationID]++
	stored := *m
	stored.Seq = s.seqs[m.ConversationID]
	s.byClient[key] = &stored
	s.messages = append(s.messages, &stored)
	return &stored, true, nil
}

func (s *fakeMessageStore) ListAfterSeq(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID && m.Seq > afterSeq {
			out = append(out, *m)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type fakeConversationStore struct {
	mu           sync.Mutex
	conv         *model.Conversation
	participants []model.Participant
	loads        int
}

func (s *fakeConversationStore) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil || s.conv.ID != id {
		return nil, repository.ErrNotFound
	}
	cp := *s.conv
	return &cp, nil
}

func (s *fakeConversationStore) GetParticipants(ctx context.Context, conversationID string) ([]model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	return append([]model.Participant(nil), s.participants...), nil
}

func (s *fakeConversationStore) LatestSeq(ctx context.Context, id string) (int64, error) {
	return 0, nil
}

type fakeReadStateStore struct {
	mu     sync.Mutex
	cursor map[string]int64
	latest int64
}

func (s *fakeReadStateStore) key(conversationID, userID string) string {
	return conversationID + "|" + userID
}

func (s *fakeReadStateStore) Advance(ctx context.Context, conversationID, userID string, seq int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor == nil {
		s.cursor = make(map[string]int64)
	}
	k := s.key(conversationID, userID)
	if seq > s.cursor[k] {
		s.cursor[k] = seq
	}
	return nil
}

func (s *fakeReadStateStore) Get(ctx context.Context, conversationID, userID string) (*model.ReadState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &model.ReadState{ConversationID: conversationID, UserID: userID, LastReadSeq: s.cursor[s.key(conversationID, userID)]}, nil
}

func (s *fakeReadStateStore) UnreadCount(ctx context.Context, conversationID, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.latest - s.cursor[s.key(conversationID, userID)]
	if n < 0 {
		n = 0
	}
	return n, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *fakePublisher) Publish(ctx context.Context, ev notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	calls [][]string
}

func (b *fakeBroadcaster) BroadcastMessage(participantIDs []string, m *model.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, participantIDs)
}

func testConversation(participants ...model.Participant) *fakeConversationStore {
	return &fakeConversationStore{
		conv:         &model.Conversation{ID: "conv1", OrgID: "org1", Subject: "Estate of Smith", MembershipVersion: 1},
		participants: participants,
	}
}

func participant(userID string, mode model.NotifyMode) model.Participant {
	return model.Participant{ConversationID: "conv1", UserID: userID, Role: model.RoleMember, NotifyMode: mode}
}

func TestIngestAssignsContiguousSeqs(t *testing.T) {
	msgs := newFakeMessageStore()
	convs := testConversation(participant("alice", model.NotifyAll), participant("bob", model.NotifyAll))
	svc := NewService(msgs, convs, &fakeReadStateStore{}, nil, nil)

	const n = 50
	var wg sync.WaitGroup
	seqCh := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := svc.Ingest(context.Background(), "conv1", fmt.Sprintf("client-%d", i), "alice", "hello")
			if err != nil {
				t.Errorf("ingest %d: %v", i, err)
				return
			}
			seqCh <- m.Seq
		}(i)
	}
	wg.Wait()
	close(seqCh)

	seen := make(map[int64]bool, n)
	for seq := range seqCh {
		if seen[seq] {
			t.Fatalf("duplicate seq %d", seq)
		}
		seen[seq] = true
	}
	for want := int64(1); want <= n; want++ {
		if !seen[want] {
			t.Fatalf("missing seq %d", want)
		}
	}
}

func TestIngestIdempotent(t *testing.T) {
	msgs := newFakeMessageStore()
	convs := testConversation(participant("alice", model.NotifyAll), participant("bob", model.NotifyAll))
	pub := &fakePublisher{}
	svc := NewService(msgs, convs, &fakeReadStateStore{}, pub, nil)

	first, err := svc.Ingest(context.Background(), "conv1", "retry-1", "alice", "hi bob")
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	second, err := svc.Ingest(context.Background(), "conv1", "retry-1", "alice", "hi bob")
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if second.ID != first.ID || second.Seq != first.Seq {
		t.Fatalf("retry returned different row: %+v vs %+v", second, first)
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected 1 fanout event, got %d", len(pub.events))
	}
}

func TestIngestValidation(t *testing.T) {
	msgs := newFakeMessageStore()
	convs := testConversation(participant("alice", model.NotifyAll))
	svc := NewService(msgs, convs, &fakeReadStateStore{}, nil, nil)

	if _, err := svc.Ingest(context.Background(), "conv1", "c1", "alice", "   "); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("blank content: got %v, want ErrEmptyContent", err)
	}
	if _, err := svc.Ingest(context.Background(), "conv1", "", "alice", "hello"); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("missing client_id: got %v, want ErrEmptyContent", err)
	}
	if _, err := svc.Ingest(context.Background(), "conv1", "c1", "mallory", "hello"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("outsider: got %v, want ErrNotParticipant", err)
	}
}

func TestIngestRetriesOnConflict(t *testing.T) {
	msgs := newFakeMessageStore()
	msgs.failWith = repository.ErrConflict
	msgs.failTimes = 2
	convs := testConversation(participant("alice", model.NotifyAll))
	svc := NewService(msgs, convs, &fakeReadStateStore{}, nil, nil)

	m, err := svc.Ingest(context.Background(), "conv1", "c1", "alice", "hello")
	if err != nil {
		t.Fatalf("ingest after conflicts: %v", err)
	}
	if m.Seq != 1 {
		t.Fatalf("seq = %d, want 1", m.Seq)
	}
}

func TestIngestGivesUpAfterRetries(t *testing.T) {
	msgs := newFakeMessageStore()
	msgs.failWith = repository.ErrConflict
	msgs.failTimes = ingestAttempts
	convs := testConversation(participant("alice", model.NotifyAll))
	svc := NewService(msgs, convs, &fakeReadStateStore{}, nil, nil)

	if _, err := svc.Ingest(context.Background(), "conv1", "c1", "alice", "hello"); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("got %v, want ErrConflict after exhausted retries", err)
	}
}

func TestIngestFanoutSkipsSenderAndHonorsMentions(t *testing.T) {
	msgs := newFakeMessageStore()
	convs := testConversation(
		participant("alice", model.NotifyAll),
		participant("bob", model.NotifyAll),
		participant("carol", model.NotifyMentions),
	)
	pub := &fakePublisher{}
	bc := &fakeBroadcaster{}
	svc := NewService(msgs, convs, &fakeReadStateStore{}, pub, bc)

	if _, err := svc.Ingest(context.Background(), "conv1", "c1", "alice", "morning all"); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(pub.events) != 1 {
		t.Fatalf("events = %d, want 1", len(pub.events))
	}
	got := recipientSet(pub.events[0].Recipients)
	if got["alice"] {
		t.Fatal("sender must not be notified")
	}
	if !got["bob"] {
		t.Fatal("bob (notify all) must be notified")
	}
	if got["carol"] {
		t.Fatal("carol (mentions only) must be skipped without a mention")
	}

	if _, err := svc.Ingest(context.Background(), "conv1", "c2", "alice", "ping @carol please review"); err != nil {
		t.Fatalf("ingest with mention: %v", err)
	}
	got = recipientSet(pub.events[1].Recipients)
	if !got["carol"] {
		t.Fatal("carol must be notified when mentioned")
	}

	// Live feed broadcasts to everyone, including the sender's other tabs.
	if len(bc.calls) != 2 {
		t.Fatalf("broadcasts = %d, want 2", len(bc.calls))
	}
	if all := recipientSet(bc.calls[0]); !all["alice"] || !all["bob"] || !all["carol"] {
		t.Fatalf("broadcast missing participants: %v", bc.calls[0])
	}
}

func TestIngestFanoutEventShape(t *testing.T) {
	msgs := newFakeMessageStore()
	convs := testConversation(participant("alice", model.NotifyAll), participant("bob", model.NotifyAll))
	pub := &fakePublisher{}
	svc := NewService(msgs, convs, &fakeReadStateStore{}, pub, nil)

	m, err := svc.Ingest(context.Background(), "conv1", "c1", "alice", "hello")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	ev := pub.events[0]
	if ev.Category != model.CategoryMessage {
		t.Fatalf("category = %s", ev.Category)
	}
	if ev.EntityType != notify.EntityConversation || ev.EntityID != "conv1" {
		t.Fatalf("entity ref = %s/%s", ev.EntityType, ev.EntityID)
	}
	if ev.Metadata["message_id"] != m.ID {
		t.Fatalf("metadata message_id = %q, want %q", ev.Metadata["message_id"], m.ID)
	}
}

func TestIngestPreviewTruncatesOnRuneBoundary(t *testing.T) {
	msgs := newFakeMessageStore()
	convs := testConversation(participant("alice", model.NotifyAll), participant("bob", model.NotifyAll))
	pub := &fakePublisher{}
	svc := NewService(msgs, convs, &fakeReadStateStore{}, pub, nil)

	// Two bytes per rune: the 120-byte cut lands mid-rune unless the
	// truncation steps back to a boundary.
	content := strings.Repeat("ф", 100)
	if _, err := svc.Ingest(context.Background(), "conv1", "c1", "alice", content); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(pub.events) != 1 {
		t.Fatalf("events = %d, want 1", len(pub.events))
	}
	body := pub.events[0].Body
	if !utf8.ValidString(body) {
		t.Fatalf("preview is not valid UTF-8: %q", body)
	}
	if !strings.HasSuffix(body, "...") || len(body) > 120 {
		t.Fatalf("preview = %q (len %d)", body, len(body))
	}
}

func TestTruncatePreview(t *testing.T) {
	if got := truncatePreview("short", 120); got != "short" {
		t.Fatalf("short content must pass through, got %q", got)
	}
	long := strings.Repeat("a", 116) + "яяяя"
	got := truncatePreview(long, 120)
	if !utf8.ValidString(got) || !strings.HasSuffix(got, "...") || len(got) > 120 {
		t.Fatalf("got %q (len %d)", got, len(got))
	}
}

func TestAdvanceReadMonotonic(t *testing.T) {
	msgs := newFakeMessageStore()
	convs := testConversation(participant("alice", model.NotifyAll))
	rs := &fakeReadStateStore{latest: 10}
	svc := NewService(msgs, convs, rs, nil, nil)

	ctx := context.Background()
	if err := svc.AdvanceRead(ctx, "conv1", "alice", 7); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := svc.AdvanceRead(ctx, "conv1", "alice", 3); err != nil {
		t.Fatalf("stale advance: %v", err)
	}
	n, err := svc.UnreadCount(ctx, "conv1", "alice")
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if n != 3 {
		t.Fatalf("unread = %d, want 3 (cursor must not regress)", n)
	}
}

func TestMessagesRequiresMembership(t *testing.T) {
	msgs := newFakeMessageStore()
	convs := testConversation(participant("alice", model.NotifyAll))
	svc := NewService(msgs, convs, &fakeReadStateStore{}, nil, nil)

	if _, err := svc.Messages(context.Background(), "conv1", "mallory", 0, 10); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("got %v, want ErrNotParticipant", err)
	}
}

func recipientSet(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}
