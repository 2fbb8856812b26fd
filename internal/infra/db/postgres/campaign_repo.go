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

type CampaignRepo struct {
	pool *pgxpool.Pool
}

func NewCampaignRepo(pool *pgxpool.Pool) *CampaignRepo {
	return &CampaignRepo{pool: pool}
}

const campaignColumns = `id, name, status, goal, prompt, sending, ai,
	messages_sent, responded, goals_reached, failed, last_batch_at, created_at, version`

func (r *CampaignRepo) Save(ctx context.Context, qx repository.Tx, c *model.Campaign) error {
	goal, err := json.Marshal(c.Goal)
	if err != nil {
		return fmt.Errorf("marshal goal: %w", err)
	}
	prompt, err := json.Marshal(c.Prompt)
	if err != nil {
		return fmt.Errorf("marshal prompt: %w", err)
	}
	sending, err := json.Marshal(c.Sending)
	if err != nil {
		return fmt.Errorf("marshal sending: %w", err)
	}
	ai, err := json.Marshal(c.AI)
	if err != nil {
		return fmt.Errorf("marshal ai: %w", err)
	}

	const q = `
		INSERT INTO campaigns (
			id, name, status, goal, prompt, sending, ai,
			messages_sent, responded, goals_reached, failed, last_batch_at, created_at, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,1)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			goal = EXCLUDED.goal,
			prompt = EXCLUDED.prompt,
			sending = EXCLUDED.sending,
			ai = EXCLUDED.ai,
			messages_sent = EXCLUDED.messages_sent,
			responded = EXCLUDED.responded,
			goals_reached = EXCLUDED.goals_reached,
			failed = EXCLUDED.failed,
			last_batch_at = EXCLUDED.last_batch_at,
			version = campaigns.version + 1
		RETURNING version`

	row, err := pickRow(ctx, r.pool, qx, q,
		c.ID, c.Name, string(c.Status), goal, prompt, sending, ai,
		c.Stats.MessagesSent, c.Stats.Responded, c.Stats.GoalsReached, c.Stats.Failed,
		c.Sending.LastBatchAt, c.CreatedAt)
	if err != nil {
		return err
	}
	if err := row.Scan(&c.Version); err != nil {
		return mapPgError(err)
	}
	return nil
}

func (r *CampaignRepo) FindByID(ctx context.Context, qx repository.Tx, id string) (*model.Campaign, error) {
	row, err := pickRow(ctx, r.pool, qx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return scanCampaign(row)
}

func (r *CampaignRepo) FindActive(ctx context.Context, qx repository.Tx) ([]*model.Campaign, error) {
	rows, err := queryRows(ctx, r.pool, qx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE status = $1 ORDER BY created_at`,
		string(model.CampaignStatusActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, mapPgError(rows.Err())
}

// BumpStats adds deltas to the running campaign counters without touching
// the rest of the row, so workers never race campaign edits.
func (r *CampaignRepo) BumpStats(ctx context.Context, qx repository.Tx, id string, sent, responded, goals, failed int) error {
	tag, err := execSQL(ctx, r.pool, qx,
		`UPDATE campaigns SET
			messages_sent = messages_sent + $2,
			responded = responded + $3,
			goals_reached = goals_reached + $4,
			failed = failed + $5
		 WHERE id = $1`,
		id, sent, responded, goals, failed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) MarkBatch(ctx context.Context, qx repository.Tx, id string, at time.Time) error {
	tag, err := execSQL(ctx, r.pool, qx,
		`UPDATE campaigns SET last_batch_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanCampaign(row pgx.Row) (*model.Campaign, error) {
	var (
		c           model.Campaign
		status      string
		goal        []byte
		prompt      []byte
		sending     []byte
		ai          []byte
		lastBatchAt *time.Time
	)
	err := row.Scan(&c.ID, &c.Name, &status, &goal, &prompt, &sending, &ai,
		&c.Stats.MessagesSent, &c.Stats.Responded, &c.Stats.GoalsReached, &c.Stats.Failed,
		&lastBatchAt, &c.CreatedAt, &c.Version)
	if err != nil {
		return nil, mapPgError(err)
	}
	c.Status = model.CampaignStatus(status)
	if err := json.Unmarshal(goal, &c.Goal); err != nil {
		return nil, fmt.Errorf("unmarshal goal: %w", err)
	}
	if err := json.Unmarshal(prompt, &c.Prompt); err != nil {
		return nil, fmt.Errorf("unmarshal prompt: %w", err)
	}
	if err := json.Unmarshal(sending, &c.Sending); err != nil {
		return nil, fmt.Errorf("unmarshal sending: %w", err)
	}
	if err := json.Unmarshal(ai, &c.AI); err != nil {
		return nil, fmt.Errorf("unmarshal ai: %w", err)
	}
	// The column is authoritative for batch pacing; MarkBatch bypasses the
	// sending document.
	c.Sending.LastBatchAt = lastBatchAt
	return &c, nil
}
