package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-outreach-fleet/internal/domain"
	"telegram-outreach-fleet/internal/domain/model"
	"telegram-outreach-fleet/internal/domain/ports/repository"
)

type TelegramAppRepo struct {
	pool *pgxpool.Pool
}

func NewTelegramAppRepo(pool *pgxpool.Pool) *TelegramAppRepo {
	return &TelegramAppRepo{pool: pool}
}

const appColumns = `id, api_id, api_hash, name, account_count, max_accounts`

func (r *TelegramAppRepo) Save(ctx context.Context, qx repository.Tx, app *model.TelegramApp) error {
	_, err := execSQL(ctx, r.pool, qx, `
		INSERT INTO telegram_apps (id, api_id, api_hash, name, account_count, max_accounts)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET
			api_id = EXCLUDED.api_id,
			api_hash = EXCLUDED.api_hash,
			name = EXCLUDED.name,
			account_count = EXCLUDED.account_count,
			max_accounts = EXCLUDED.max_accounts`,
		app.ID, app.APIID, app.APIHash, app.Name, app.AccountCount, app.MaxAccounts)
	return err
}

func (r *TelegramAppRepo) FindByID(ctx context.Context, qx repository.Tx, id string) (*model.TelegramApp, error) {
	row, err := pickRow(ctx, r.pool, qx,
		`SELECT `+appColumns+` FROM telegram_apps WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return scanApp(row)
}

// FindWithCapacity returns the least loaded app that still has free slots.
// Apps without an explicit ceiling fall back to the recommended 25.
func (r *TelegramAppRepo) FindWithCapacity(ctx context.Context, qx repository.Tx) (*model.TelegramApp, error) {
	row, err := pickRow(ctx, r.pool, qx,
		`SELECT `+appColumns+` FROM telegram_apps
		 WHERE account_count < CASE WHEN max_accounts > 0 THEN max_accounts ELSE 25 END
		 ORDER BY account_count, id
		 LIMIT 1`)
	if err != nil {
		return nil, err
	}
	app, err := scanApp(row)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrTelegramAppsFull
	}
	return app, err
}

func scanApp(row pgx.Row) (*model.TelegramApp, error) {
	var app model.TelegramApp
	err := row.Scan(&app.ID, &app.APIID, &app.APIHash, &app.Name, &app.AccountCount, &app.MaxAccounts)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &app, nil
}
