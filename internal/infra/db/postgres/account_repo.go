package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-outreach-fleet/internal/domain"
	"telegram-outreach-fleet/internal/domain/model"
	"telegram-outreach-fleet/internal/domain/ports/repository"
)

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

const accountColumns = `id, phone, session_cipher, proxy_id, app_id, campaign_id, status,
	schedule, limits,
	hourly_outreach_sent, hourly_responses_sent, daily_conversations_started,
	total_messages_sent, total_conversations, last_daily_reset,
	last_activity, created_at, version`

func (r *AccountRepo) Save(ctx context.Context, qx repository.Tx, a *model.Account) error {
	schedule, err := json.Marshal(a.Schedule)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	limits, err := json.Marshal(a.Limits)
	if err != nil {
		return fmt.Errorf("marshal limits: %w", err)
	}

	const q = `
		INSERT INTO accounts (
			id, phone, session_cipher, proxy_id, app_id, campaign_id, status,
			schedule, limits,
			hourly_outreach_sent, hourly_responses_sent, daily_conversations_started,
			total_messages_sent, total_conversations, last_daily_reset, daily_reset_hour,
			last_activity, created_at, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,1)
		ON CONFLICT (id) DO UPDATE SET
			phone = EXCLUDED.phone,
			session_cipher = EXCLUDED.session_cipher,
			proxy_id = EXCLUDED.proxy_id,
			app_id = EXCLUDED.app_id,
			campaign_id = EXCLUDED.campaign_id,
			status = EXCLUDED.status,
			schedule = EXCLUDED.schedule,
			limits = EXCLUDED.limits,
			hourly_outreach_sent = EXCLUDED.hourly_outreach_sent,
			hourly_responses_sent = EXCLUDED.hourly_responses_sent,
			daily_conversations_started = EXCLUDED.daily_conversations_started,
			total_messages_sent = EXCLUDED.total_messages_sent,
			total_conversations = EXCLUDED.total_conversations,
			last_daily_reset = EXCLUDED.last_daily_reset,
			last_activity = EXCLUDED.last_activity,
			version = accounts.version + 1
		RETURNING version`

	row, err := pickRow(ctx, r.pool, qx, q,
		a.ID, a.Phone, a.SessionCipher, a.ProxyID, a.AppID, a.CampaignID, string(a.Status),
		schedule, limits,
		a.Counters.HourlyOutreachSent, a.Counters.HourlyResponsesSent, a.Counters.DailyConversationsStarted,
		a.Counters.TotalMessagesSent, a.Counters.TotalConversations, a.Counters.LastDailyReset, a.DailyResetHour(),
		a.LastActivity, a.CreatedAt,
	)
	if err != nil {
		return err
	}
	if err := row.Scan(&a.Version); err != nil {
		return mapPgError(err)
	}
	return nil
}

func (r *AccountRepo) FindByID(ctx context.Context, qx repository.Tx, id string) (*model.Account, error) {
	row, err := pickRow(ctx, r.pool, qx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return scanAccount(row)
}

func (r *AccountRepo) FindStartable(ctx context.Context, qx repository.Tx) ([]*model.Account, error) {
	rows, err := queryRows(ctx, r.pool, qx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE status = $1 AND session_cipher <> '' AND campaign_id <> ''
		 ORDER BY id`, string(model.AccountStatusActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, mapPgError(rows.Err())
}

func (r *AccountRepo) UpdateStatus(ctx context.Context, qx repository.Tx, id string, st model.AccountStatus, message string) error {
	tag, err := execSQL(ctx, r.pool, qx,
		`UPDATE accounts SET status = $2, status_message = $3, version = version + 1 WHERE id = $1`,
		id, string(st), message)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *AccountRepo) ResetHourlyCounters(ctx context.Context, qx repository.Tx) (int, error) {
	tag, err := execSQL(ctx, r.pool, qx,
		`UPDATE accounts
		 SET hourly_outreach_sent = 0, hourly_responses_sent = 0, version = version + 1
		 WHERE hourly_outreach_sent > 0 OR hourly_responses_sent > 0`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *AccountRepo) ResetDailyCounters(ctx context.Context, qx repository.Tx, hour int, todayStart time.Time) (int, error) {
	// last_daily_reset is pinned to todayStart so repeated ticks within the
	// same hour are no-ops.
	tag, err := execSQL(ctx, r.pool, qx,
		`UPDATE accounts
		 SET daily_conversations_started = 0, last_daily_reset = $2, version = version + 1
		 WHERE daily_reset_hour = $1
		   AND (last_daily_reset IS NULL OR last_daily_reset < $2)`,
		hour, todayStart)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var (
		acc      model.Account
		status   string
		schedule []byte
		limits   []byte
	)
	err := row.Scan(
		&acc.ID, &acc.Phone, &acc.SessionCipher, &acc.ProxyID, &acc.AppID, &acc.CampaignID, &status,
		&schedule, &limits,
		&acc.Counters.HourlyOutreachSent, &acc.Counters.HourlyResponsesSent, &acc.Counters.DailyConversationsStarted,
		&acc.Counters.TotalMessagesSent, &acc.Counters.TotalConversations, &acc.Counters.LastDailyReset,
		&acc.LastActivity, &acc.CreatedAt, &acc.Version,
	)
	if err != nil {
		return nil, mapPgError(err)
	}
	acc.Status = model.AccountStatus(status)
	if err := json.Unmarshal(schedule, &acc.Schedule); err != nil {
		return nil, fmt.Errorf("unmarshal schedule: %w", err)
	}
	if err := json.Unmarshal(limits, &acc.Limits); err != nil {
		return nil, fmt.Errorf("unmarshal limits: %w", err)
	}
	return &acc, nil
}
