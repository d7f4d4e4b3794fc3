package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lexcomms/internal/logger"
	"github.com/lexcomms/internal/model"
)

type PreferenceRepository struct {
	pool *pgxpool.Pool
}

func NewPreferenceRepository(pool *pgxpool.Pool) *PreferenceRepository {
	return &PreferenceRepository{pool: pool}
}

// Upsert stores a member's per-category channel toggle. Whether the toggle
// actually takes effect is decided at fanout time against the org policy
// (locked channels win).
func (r *PreferenceRepository) Upsert(ctx context.Context, p *model.Preference) error {
	defer logger.DeferLogDuration("pref.Upsert", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO notification_prefs (user_id, category, channel, enabled)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, category, channel) DO UPDATE SET enabled = EXCLUDED.enabled`,
		p.UserID, p.Category, p.Channel, p.Enabled,
	)
	if err != nil {
		return fmt.Errorf("prefRepo.Upsert: %w", err)
	}
	return nil
}

// GetForUsers loads the stored toggles for a set of recipients in one query
// (fanout resolves many recipients per event). Result is keyed by user id.
func (r *PreferenceRepository) GetForUsers(ctx context.Context, userIDs []string) (map[string][]model.Preference, error) {
	defer logger.DeferLogDuration("pref.GetForUsers", time.Now())()
	if len(userIDs) == 0 {
		return map[string][]model.Preference{}, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, category, channel, enabled
		 FROM notification_prefs WHERE user_id = ANY($1)`,
		userIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("prefRepo.GetForUsers query: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]model.Preference, len(userIDs))
	for rows.Next() {
		var p model.Preference
		if err := rows.Scan(&p.UserID, &p.Category, &p.Channel, &p.Enabled); err != nil {
			return nil, fmt.Errorf("prefRepo.GetForUsers scan: %w", err)
		}
		out[p.UserID] = append(out[p.UserID], p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("prefRepo.GetForUsers rows: %w", err)
	}
	return out, nil
}
