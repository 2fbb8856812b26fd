package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-outreach-fleet/internal/domain"
	"telegram-outreach-fleet/internal/domain/model"
	"telegram-outreach-fleet/internal/domain/ports/repository"
)

type TargetRepo struct {
	pool *pgxpool.Pool
}

func NewTargetRepo(pool *pgxpool.Pool) *TargetRepo {
	return &TargetRepo{pool: pool}
}

const targetColumns = `id, campaign_id, telegram_id, username, phone, status, dialogue_id, fail_reason, version`

func (r *TargetRepo) Save(ctx context.Context, qx repository.Tx, t *model.UserTarget) error {
	const q = `
		INSERT INTO user_targets (
			id, campaign_id, telegram_id, username, phone, status, dialogue_id, fail_reason, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,1)
		ON CONFLICT (id) DO UPDATE SET
			telegram_id = EXCLUDED.telegram_id,
			username = EXCLUDED.username,
			phone = EXCLUDED.phone,
			status = EXCLUDED.status,
			dialogue_id = EXCLUDED.dialogue_id,
			fail_reason = EXCLUDED.fail_reason,
			version = user_targets.version + 1
		RETURNING version`

	row, err := pickRow(ctx, r.pool, qx, q,
		t.ID, t.CampaignID, t.TelegramID, t.Username, t.Phone, string(t.Status), t.DialogueID, t.FailReason)
	if err != nil {
		return err
	}
	if err := row.Scan(&t.Version); err != nil {
		return mapPgError(err)
	}
	return nil
}

func (r *TargetRepo) FindByID(ctx context.Context, qx repository.Tx, id string) (*model.UserTarget, error) {
	row, err := pickRow(ctx, r.pool, qx,
		`SELECT `+targetColumns+` FROM user_targets WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return scanTarget(row)
}

func (r *TargetRepo) FindPending(ctx context.Context, qx repository.Tx, campaignID string, limit int) ([]*model.UserTarget, error) {
	rows, err := queryRows(ctx, r.pool, qx,
		`SELECT `+targetColumns+` FROM user_targets
		 WHERE campaign_id = $1 AND status = $2
		 ORDER BY id
		 LIMIT $3`,
		campaignID, string(model.TargetStatusPending), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.UserTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, mapPgError(rows.Err())
}

func (r *TargetRepo) UpdateStatus(ctx context.Context, qx repository.Tx, id string, st model.TargetStatus, failReason string) error {
	tag, err := execSQL(ctx, r.pool, qx,
		`UPDATE user_targets SET status = $2, fail_reason = $3, version = version + 1 WHERE id = $1`,
		id, string(st), failReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanTarget(row pgx.Row) (*model.UserTarget, error) {
	var (
		t      model.UserTarget
		status string
	)
	err := row.Scan(&t.ID, &t.CampaignID, &t.TelegramID, &t.Username, &t.Phone,
		&status, &t.DialogueID, &t.FailReason, &t.Version)
	if err != nil {
		return nil, mapPgError(err)
	}
	t.Status = model.TargetStatus(status)
	return &t, nil
}
