package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-outreach-fleet/internal/domain"
	"telegram-outreach-fleet/internal/domain/model"
	"telegram-outreach-fleet/internal/domain/ports/repository"
)

type DialogueRepo struct {
	pool *pgxpool.Pool
}

func NewDialogueRepo(pool *pgxpool.Pool) *DialogueRepo {
	return &DialogueRepo{pool: pool}
}

const dialogueColumns = `id, account_id, campaign_id, target_id, telegram_user_id, username, status,
	goal_message_sent, goal_sent_at, next_action_at, retry_count, max_retries, follow_up_count,
	last_user_response_at, interest_score, link_sent_count, needs_review, creative_sent,
	fail_reason, created_at, updated_at, version`

const terminalDialogueStatuses = `('completed','failed','expired')`

// Save upserts the dialogue scalars; messages travel through AppendMessage.
// With checkVersion the update only applies when the stored version still
// matches the loaded one, otherwise domain.ErrOptimisticLock.
func (r *DialogueRepo) Save(ctx context.Context, qx repository.Tx, d *model.Dialogue, checkVersion bool) error {
	q := `
		INSERT INTO dialogues (
			id, account_id, campaign_id, target_id, telegram_user_id, username, status,
			goal_message_sent, goal_sent_at, next_action_at, retry_count, max_retries, follow_up_count,
			last_user_response_at, interest_score, link_sent_count, needs_review, creative_sent,
			fail_reason, created_at, updated_at, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,1)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			goal_message_sent = EXCLUDED.goal_message_sent,
			goal_sent_at = EXCLUDED.goal_sent_at,
			next_action_at = EXCLUDED.next_action_at,
			retry_count = EXCLUDED.retry_count,
			max_retries = EXCLUDED.max_retries,
			follow_up_count = EXCLUDED.follow_up_count,
			last_user_response_at = EXCLUDED.last_user_response_at,
			interest_score = EXCLUDED.interest_score,
			link_sent_count = EXCLUDED.link_sent_count,
			needs_review = EXCLUDED.needs_review,
			creative_sent = EXCLUDED.creative_sent,
			fail_reason = EXCLUDED.fail_reason,
			updated_at = EXCLUDED.updated_at,
			version = dialogues.version + 1`
	args := []interface{}{
		d.ID, d.AccountID, d.CampaignID, d.TargetID, d.TelegramUserID, d.Username, string(d.Status),
		d.GoalMessageSent, d.GoalSentAt, d.NextActionAt, d.RetryCount, d.MaxRetries, d.FollowUpCount,
		d.LastUserResponseAt, d.InterestScore, d.LinkSentCount, d.NeedsReview, d.CreativeSent,
		d.FailReason, d.CreatedAt, d.UpdatedAt,
	}
	if checkVersion {
		q += `
		WHERE dialogues.version = $22`
		args = append(args, d.Version)
	}
	q += `
		RETURNING version`

	row, err := pickRow(ctx, r.pool, qx, q, args...)
	if err != nil {
		return err
	}
	if err := row.Scan(&d.Version); err != nil {
		err = mapPgError(err)
		if checkVersion && errors.Is(err, domain.ErrNotFound) {
			return domain.ErrOptimisticLock
		}
		return err
	}
	return nil
}

func (r *DialogueRepo) AppendMessage(ctx context.Context, qx repository.Tx, m *model.Message) error {
	_, err := execSQL(ctx, r.pool, qx, `
		INSERT INTO dialogue_messages (
			id, dialogue_id, role, content, ts, telegram_message_id, ai_generated, tokens_used, is_follow_up
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		m.ID, m.DialogueID, string(m.Role), m.Content, m.Timestamp,
		m.TelegramMessageID, m.AIGenerated, m.TokensUsed, m.IsFollowUp)
	return err
}

func (r *DialogueRepo) SetMessageTelegramID(ctx context.Context, qx repository.Tx, messageID string, telegramMessageID int) error {
	tag, err := execSQL(ctx, r.pool, qx,
		`UPDATE dialogue_messages SET telegram_message_id = $2 WHERE id = $1`,
		messageID, telegramMessageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *DialogueRepo) FindByID(ctx context.Context, qx repository.Tx, id string) (*model.Dialogue, error) {
	row, err := pickRow(ctx, r.pool, qx,
		`SELECT `+dialogueColumns+` FROM dialogues WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	d, err := scanDialogue(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadMessages(ctx, qx, []*model.Dialogue{d}); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *DialogueRepo) FindOpenByPeer(ctx context.Context, qx repository.Tx, accountID string, telegramUserID int64, username string) (*model.Dialogue, error) {
	row, err := pickRow(ctx, r.pool, qx,
		`SELECT `+dialogueColumns+` FROM dialogues
		 WHERE account_id = $1
		   AND status NOT IN `+terminalDialogueStatuses+`
		   AND (($2::bigint <> 0 AND telegram_user_id = $2)
		     OR ($3 <> '' AND lower(username) = lower($3)))
		 ORDER BY created_at DESC
		 LIMIT 1`,
		accountID, telegramUserID, username)
	if err != nil {
		return nil, err
	}
	d, err := scanDialogue(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadMessages(ctx, qx, []*model.Dialogue{d}); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *DialogueRepo) FindDueFollowUps(ctx context.Context, qx repository.Tx, accountID string, now time.Time, limit int) ([]*model.Dialogue, error) {
	rows, err := queryRows(ctx, r.pool, qx,
		`SELECT `+dialogueColumns+` FROM dialogues
		 WHERE account_id = $1
		   AND status NOT IN `+terminalDialogueStatuses+`
		   AND next_action_at IS NOT NULL AND next_action_at <= $2
		 ORDER BY next_action_at
		 LIMIT $3`,
		accountID, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Dialogue
	for rows.Next() {
		d, err := scanDialogue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err)
	}
	if err := r.loadMessages(ctx, qx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// loadMessages hydrates histories for the given dialogues in one query.
func (r *DialogueRepo) loadMessages(ctx context.Context, qx repository.Tx, dialogues []*model.Dialogue) error {
	if len(dialogues) == 0 {
		return nil
	}
	ids := make([]string, len(dialogues))
	byID := make(map[string]*model.Dialogue, len(dialogues))
	for i, d := range dialogues {
		ids[i] = d.ID
		byID[d.ID] = d
	}

	rows, err := queryRows(ctx, r.pool, qx, `
		SELECT id, dialogue_id, role, content, ts, telegram_message_id, ai_generated, tokens_used, is_follow_up
		FROM dialogue_messages
		WHERE dialogue_id = ANY($1)
		ORDER BY ts, id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m    model.Message
			role string
		)
		if err := rows.Scan(&m.ID, &m.DialogueID, &role, &m.Content, &m.Timestamp,
			&m.TelegramMessageID, &m.AIGenerated, &m.TokensUsed, &m.IsFollowUp); err != nil {
			return mapPgError(err)
		}
		m.Role = model.MessageRole(role)
		if d, ok := byID[m.DialogueID]; ok {
			d.Messages = append(d.Messages, m)
		}
	}
	return mapPgError(rows.Err())
}

func scanDialogue(row pgx.Row) (*model.Dialogue, error) {
	var (
		d      model.Dialogue
		status string
	)
	err := row.Scan(&d.ID, &d.AccountID, &d.CampaignID, &d.TargetID, &d.TelegramUserID, &d.Username, &status,
		&d.GoalMessageSent, &d.GoalSentAt, &d.NextActionAt, &d.RetryCount, &d.MaxRetries, &d.FollowUpCount,
		&d.LastUserResponseAt, &d.InterestScore, &d.LinkSentCount, &d.NeedsReview, &d.CreativeSent,
		&d.FailReason, &d.CreatedAt, &d.UpdatedAt, &d.Version)
	if err != nil {
		return nil, mapPgError(err)
	}
	d.Status = model.DialogueStatus(status)
	return &d, nil
}
