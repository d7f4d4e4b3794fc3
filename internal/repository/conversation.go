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

type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

func (r *ConversationRepository) Create(ctx context.Context, c *model.Conversation) error {
	defer logger.DeferLogDuration("conv.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO conversations (id, org_id, subject, latest_seq, membership_version, created_by, created_at)
		 VALUES ($1, $2, $3, 0, 0, $4, $5)`,
		c.ID, c.OrgID, c.Subject, c.CreatedBy, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("convRepo.Create: %w", err)
	}
	return nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.GetByID", time.Now())()
	c := &model.Conversation{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, org_id, COALESCE(subject,''), latest_seq, membership_version, created_by, created_at
		 FROM conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.OrgID, &c.Subject, &c.LatestSeq, &c.MembershipVersion, &c.CreatedBy, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("convRepo.GetByID: %w", err)
	}
	return c, nil
}

// LatestSeq returns only the cached high-water mark.
func (r *ConversationRepository) LatestSeq(ctx context.Context, id string) (int64, error) {
	defer logger.DeferLogDuration("conv.LatestSeq", time.Now())()
	var seq int64
	err := r.pool.QueryRow(ctx, `SELECT latest_seq FROM conversations WHERE id = $1`, id).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("convRepo.LatestSeq: %w", err)
	}
	return seq, nil
}

// AddParticipant inserts a participant and bumps membership_version in the
// same transaction, so cached membership keyed by the old version is
// invalidated atomically with the change.
func (r *ConversationRepository) AddParticipant(ctx context.Context, p *model.Participant) error {
	defer logger.DeferLogDuration("conv.AddParticipant", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("convRepo.AddParticipant begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO conversation_participants (conversation_id, user_id, role, notify_mode, joined_at)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT DO NOTHING`,
		p.ConversationID, p.UserID, p.Role, p.NotifyMode, p.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("convRepo.AddParticipant insert: %w", err)
	}
	if tag.RowsAffected() > 0 {
		if _, err := tx.Exec(ctx,
			`UPDATE conversations SET membership_version = membership_version + 1 WHERE id = $1`,
			p.ConversationID,
		); err != nil {
			return fmt.Errorf("convRepo.AddParticipant bump: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("convRepo.AddParticipant commit: %w", err)
	}
	return nil
}

func (r *ConversationRepository) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	defer logger.DeferLogDuration("conv.RemoveParticipant", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("convRepo.RemoveParticipant begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`DELETE FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("convRepo.RemoveParticipant delete: %w", err)
	}
	if tag.RowsAffected() > 0 {
		if _, err := tx.Exec(ctx,
			`UPDATE conversations SET membership_version = membership_version + 1 WHERE id = $1`,
			conversationID,
		); err != nil {
			return fmt.Errorf("convRepo.RemoveParticipant bump: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("convRepo.RemoveParticipant commit: %w", err)
	}
	return nil
}

func (r *ConversationRepository) GetParticipants(ctx context.Context, conversationID string) ([]model.Participant, error) {
	defer logger.DeferLogDuration("conv.GetParticipants", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT conversation_id, user_id, role, notify_mode, joined_at
		 FROM conversation_participants WHERE conversation_id = $1 ORDER BY joined_at`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.GetParticipants query: %w", err)
	}
	defer rows.Close()

	parts := make([]model.Participant, 0, 8)
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.ConversationID, &p.UserID, &p.Role, &p.NotifyMode, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("convRepo.GetParticipants scan: %w", err)
		}
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.GetParticipants rows: %w", err)
	}
	return parts, nil
}

func (r *ConversationRepository) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	defer logger.DeferLogDuration("conv.IsParticipant", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2)`,
		conversationID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("convRepo.IsParticipant: %w", err)
	}
	return exists, nil
}

// SetNotifyMode updates a participant's message-fanout mode (all/mentions).
func (r *ConversationRepository) SetNotifyMode(ctx context.Context, conversationID, userID string, mode model.NotifyMode) error {
	defer logger.DeferLogDuration("conv.SetNotifyMode", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE conversation_participants SET notify_mode = $1 WHERE conversation_id = $2 AND user_id = $3`,
		mode, conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("convRepo.SetNotifyMode: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
