package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lexcomms/internal/logger"
	"github.com/lexcomms/internal/model"
)

type ReadStateRepository struct {
	pool *pgxpool.Pool
}

func NewReadStateRepository(pool *pgxpool.Pool) *ReadStateRepository {
	return &ReadStateRepository{pool: pool}
}

// Advance sets last_read_seq = max(existing, seq). A stale or out-of-order
// ack never regresses the cursor.
func (r *ReadStateRepository) Advance(ctx context.Context, conversationID, userID string, seq int64, now time.Time) error {
	defer logger.DeferLogDuration("readstate.Advance", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO conversation_read_state (conversation_id, user_id, last_read_seq, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (conversation_id, user_id) DO UPDATE SET
		   last_read_seq = GREATEST(conversation_read_state.last_read_seq, EXCLUDED.last_read_seq),
		   updated_at = CASE WHEN EXCLUDED.last_read_seq > conversation_read_state.last_read_seq
		                     THEN EXCLUDED.updated_at ELSE conversation_read_state.updated_at END`,
		conversationID, userID, seq, now,
	)
	if err != nil {
		return fmt.Errorf("readStateRepo.Advance: %w", err)
	}
	return nil
}

func (r *ReadStateRepository) Get(ctx context.Context, conversationID, userID string) (*model.ReadState, error) {
	defer logger.DeferLogDuration("readstate.Get", time.Now())()
	s := &model.ReadState{}
	err := r.pool.QueryRow(ctx,
		`SELECT conversation_id, user_id, last_read_seq, updated_at
		 FROM conversation_read_state WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID,
	).Scan(&s.ConversationID, &s.UserID, &s.LastReadSeq, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// No row yet means nothing read.
		return &model.ReadState{ConversationID: conversationID, UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("readStateRepo.Get: %w", err)
	}
	return s, nil
}

// UnreadCount is max(0, latest_seq - last_read_seq), computed in one round
// trip off the cached latest_seq. This is the message-thread unread count;
// notification-category counts live in NotificationRepository.
func (r *ReadStateRepository) UnreadCount(ctx context.Context, conversationID, userID string) (int64, error) {
	defer logger.DeferLogDuration("readstate.UnreadCount", time.Now())()
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT GREATEST(0, c.latest_seq - COALESCE(rs.last_read_seq, 0))
		 FROM conversations c
		 LEFT JOIN conversation_read_state rs
		   ON rs.conversation_id = c.id AND rs.user_id = $2
		 WHERE c.id = $1`,
		conversationID, userID,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("readStateRepo.UnreadCount: %w", err)
	}
	return count, nil
}
