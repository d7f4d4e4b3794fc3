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

const seqCounterName = "message_seq"

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Ingest appends a message idempotently. In one transaction: look up an
// existing row by (conversation_id, client_id) and return it unchanged if
// present; otherwise allocate the next seq from the conversation-scoped
// counter, insert the row and raise conversations.latest_seq, so no reader
// ever sees a message whose seq exceeds latest_seq.
//
// A duplicate-key race between two concurrent retries resolves to the
// winner's row: the loser rolls back (its allocated seq becomes an
// acceptable uncommitted gap) and re-reads.
func (r *MessageRepository) Ingest(ctx context.Context, m *model.Message) (*model.Message, bool, error) {
	defer logger.DeferLogDuration("msg.Ingest", time.Now())()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("msgRepo.Ingest begin: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := getByClientID(ctx, tx, m.ConversationID, m.ClientID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	seq, err := allocateTx(ctx, tx, m.ConversationID, seqCounterName)
	if err != nil {
		return nil, false, err
	}
	m.Seq = seq

	_, err = tx.Exec(ctx,
		`INSERT INTO chat_messages (id, conversation_id, seq, client_id, sender_id, content, server_ts, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.ConversationID, m.Seq, m.ClientID, m.SenderID, m.Content, m.ServerTs, m.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the race on (conversation_id, client_id): return the winner.
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				logger.Errorf("msgRepo.Ingest rollback: %v", rbErr)
			}
			winner, getErr := r.GetByClientID(ctx, m.ConversationID, m.ClientID)
			if getErr != nil {
				return nil, false, fmt.Errorf("msgRepo.Ingest winner lookup: %w", getErr)
			}
			return winner, false, nil
		}
		if isRetryable(err) {
			return nil, false, ErrConflict
		}
		return nil, false, fmt.Errorf("msgRepo.Ingest insert: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE conversations SET latest_seq = GREATEST(latest_seq, $1) WHERE id = $2`,
		m.Seq, m.ConversationID,
	)
	if err != nil {
		if isRetryable(err) {
			return nil, false, ErrConflict
		}
		return nil, false, fmt.Errorf("msgRepo.Ingest latest_seq: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isRetryable(err) {
			return nil, false, ErrConflict
		}
		return nil, false, fmt.Errorf("msgRepo.Ingest commit: %w", err)
	}
	return m, true, nil
}

func getByClientID(ctx context.Context, q pgx.Tx, conversationID, clientID string) (*model.Message, error) {
	m := &model.Message{}
	err := q.QueryRow(ctx,
		`SELECT id, conversation_id, seq, client_id, sender_id, content, server_ts, created_at
		 FROM chat_messages WHERE conversation_id = $1 AND client_id = $2`,
		conversationID, clientID,
	).Scan(&m.ID, &m.ConversationID, &m.Seq, &m.ClientID, &m.SenderID, &m.Content, &m.ServerTs, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.getByClientID: %w", err)
	}
	return m, nil
}

func (r *MessageRepository) GetByClientID(ctx context.Context, conversationID, clientID string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByClientID", time.Now())()
	m := &model.Message{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, conversation_id, seq, client_id, sender_id, content, server_ts, created_at
		 FROM chat_messages WHERE conversation_id = $1 AND client_id = $2`,
		conversationID, clientID,
	).Scan(&m.ID, &m.ConversationID, &m.Seq, &m.ClientID, &m.SenderID, &m.Content, &m.ServerTs, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByClientID: %w", err)
	}
	return m, nil
}

// ListAfterSeq returns messages with seq > afterSeq in seq order. This is
// the catch-up path for clients resuming after a dropped stream.
func (r *MessageRepository) ListAfterSeq(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListAfterSeq", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, conversation_id, seq, client_id, sender_id, content, server_ts, created_at
		 FROM chat_messages
		 WHERE conversation_id = $1 AND seq > $2
		 ORDER BY seq
		 LIMIT $3`,
		conversationID, afterSeq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListAfterSeq query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.ClientID, &m.SenderID, &m.Content, &m.ServerTs, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("msgRepo.ListAfterSeq scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListAfterSeq rows: %w", err)
	}
	return messages, nil
}
