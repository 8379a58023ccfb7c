package persist

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/runevale/server/internal/sim"
)

// ProgressRepo persists character progress in Postgres.
type ProgressRepo struct {
	pool *pgxpool.Pool
}

func NewProgressRepo(pool *pgxpool.Pool) *ProgressRepo {
	return &ProgressRepo{pool: pool}
}

// Save upserts the character's record.
func (r *ProgressRepo) Save(ctx context.Context, rec sim.ProgressRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO character_progress
			(wallet, char_id, name, class_id, race_id, level, xp, zone_id, x, y, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (wallet, char_id) DO UPDATE SET
			name = EXCLUDED.name,
			class_id = EXCLUDED.class_id,
			race_id = EXCLUDED.race_id,
			level = EXCLUDED.level,
			xp = EXCLUDED.xp,
			zone_id = EXCLUDED.zone_id,
			x = EXCLUDED.x,
			y = EXCLUDED.y,
			updated_at = now()`,
		rec.Wallet, rec.CharID, rec.Name, rec.ClassID, rec.RaceID,
		rec.Level, rec.XP, rec.ZoneID, rec.X, rec.Y)
	return err
}

// Load returns the wallet's character record, or nil when none exists. An
// empty charID loads the most recently saved character.
func (r *ProgressRepo) Load(ctx context.Context, wallet, charID string) (*sim.ProgressRecord, error) {
	query := `
		SELECT wallet, char_id, name, class_id, race_id, level, xp, zone_id, x, y
		FROM character_progress
		WHERE wallet = $1 AND char_id = $2`
	args := []any{wallet, charID}
	if charID == "" {
		query = `
		SELECT wallet, char_id, name, class_id, race_id, level, xp, zone_id, x, y
		FROM character_progress
		WHERE wallet = $1
		ORDER BY updated_at DESC
		LIMIT 1`
		args = []any{wallet}
	}

	var rec sim.ProgressRecord
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&rec.Wallet, &rec.CharID, &rec.Name, &rec.ClassID, &rec.RaceID,
		&rec.Level, &rec.XP, &rec.ZoneID, &rec.X, &rec.Y)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
