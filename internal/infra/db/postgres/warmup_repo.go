package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-outreach-fleet/internal/domain/model"
	"telegram-outreach-fleet/internal/domain/ports/repository"
)

type WarmupRepo struct {
	pool *pgxpool.Pool
}

func NewWarmupRepo(pool *pgxpool.Pool) *WarmupRepo {
	return &WarmupRepo{pool: pool}
}

func (r *WarmupRepo) SaveWarmup(ctx context.Context, qx repository.Tx, w *model.AccountWarmup) error {
	const q = `
		INSERT INTO account_warmups (
			account_id, profile_id, stage, status, started_at,
			joins_today, reacts_today, last_daily_reset, flood_wait_until, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,1)
		ON CONFLICT (account_id) DO UPDATE SET
			profile_id = EXCLUDED.profile_id,
			stage = EXCLUDED.stage,
			status = EXCLUDED.status,
			joins_today = EXCLUDED.joins_today,
			reacts_today = EXCLUDED.reacts_today,
			last_daily_reset = EXCLUDED.last_daily_reset,
			flood_wait_until = EXCLUDED.flood_wait_until,
			version = account_warmups.version + 1
		RETURNING version`

	row, err := pickRow(ctx, r.pool, qx, q,
		w.AccountID, w.ProfileID, w.Stage, string(w.Status), w.StartedAt,
		w.JoinsToday, w.ReactsToday, w.LastDailyReset, w.FloodWaitUntil)
	if err != nil {
		return err
	}
	if err := row.Scan(&w.Version); err != nil {
		return mapPgError(err)
	}
	return nil
}

func (r *WarmupRepo) FindWarmup(ctx context.Context, qx repository.Tx, accountID string) (*model.AccountWarmup, error) {
	row, err := pickRow(ctx, r.pool, qx, `
		SELECT account_id, profile_id, stage, status, started_at,
		       joins_today, reacts_today, last_daily_reset, flood_wait_until, version
		FROM account_warmups WHERE account_id = $1`, accountID)
	if err != nil {
		return nil, err
	}
	var (
		w      model.AccountWarmup
		status string
	)
	err = row.Scan(&w.AccountID, &w.ProfileID, &w.Stage, &status, &w.StartedAt,
		&w.JoinsToday, &w.ReactsToday, &w.LastDailyReset, &w.FloodWaitUntil, &w.Version)
	if err != nil {
		return nil, mapPgError(err)
	}
	w.Status = model.WarmupStatus(status)
	return &w, nil
}

func (r *WarmupRepo) FindProfile(ctx context.Context, qx repository.Tx, id string) (*model.WarmupProfile, error) {
	row, err := pickRow(ctx, r.pool, qx,
		`SELECT id, name, stages FROM warmup_profiles WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	var (
		p      model.WarmupProfile
		stages []byte
	)
	if err := row.Scan(&p.ID, &p.Name, &stages); err != nil {
		return nil, mapPgError(err)
	}
	if err := json.Unmarshal(stages, &p.Stages); err != nil {
		return nil, fmt.Errorf("unmarshal stages: %w", err)
	}
	return &p, nil
}

func (r *WarmupRepo) ListChannels(ctx context.Context, qx repository.Tx) ([]*model.WarmupChannel, error) {
	rows, err := queryRows(ctx, r.pool, qx, `SELECT id, link FROM warmup_channels ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.WarmupChannel
	for rows.Next() {
		var ch model.WarmupChannel
		if err := rows.Scan(&ch.ID, &ch.Link); err != nil {
			return nil, mapPgError(err)
		}
		out = append(out, &ch)
	}
	return out, mapPgError(rows.Err())
}

func (r *WarmupRepo) ListGroups(ctx context.Context, qx repository.Tx) ([]*model.WarmupGroup, error) {
	rows, err := queryRows(ctx, r.pool, qx, `SELECT id, link FROM warmup_groups ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.WarmupGroup
	for rows.Next() {
		var g model.WarmupGroup
		if err := rows.Scan(&g.ID, &g.Link); err != nil {
			return nil, mapPgError(err)
		}
		out = append(out, &g)
	}
	return out, mapPgError(rows.Err())
}

func (r *WarmupRepo) FindPersona(ctx context.Context, qx repository.Tx, accountID string) (*model.AccountPersona, error) {
	row, err := pickRow(ctx, r.pool, qx, `
		SELECT account_id, typing_chars_per_min, active_hour_start, active_hour_end, reaction_probability
		FROM account_personas WHERE account_id = $1`, accountID)
	if err != nil {
		return nil, err
	}
	var p model.AccountPersona
	err = row.Scan(&p.AccountID, &p.TypingCharsPerMin, &p.ActiveHourStart, &p.ActiveHourEnd, &p.ReactionProbability)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &p, nil
}
