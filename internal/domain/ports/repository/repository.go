package repository

import (
	"context"
	"time"

	"telegram-outreach-fleet/internal/domain/model"
)

// Tx is an opaque transaction handle (pgx.Tx in production). Repositories
// accept it as `qx any` and fall back to the pool when nil.
type Tx = any

// TransactionManager runs a function inside one database transaction.
type TransactionManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type AccountRepository interface {
	Save(ctx context.Context, qx Tx, a *model.Account) error
	FindByID(ctx context.Context, qx Tx, id string) (*model.Account, error)
	// FindStartable returns accounts with status active, session bytes
	// present and a campaign bound: the set the manager mirrors.
	FindStartable(ctx context.Context, qx Tx) ([]*model.Account, error)
	UpdateStatus(ctx context.Context, qx Tx, id string, st model.AccountStatus, message string) error
	// ResetHourlyCounters zeroes hourly counters for every account with a
	// positive count; returns affected rows.
	ResetHourlyCounters(ctx context.Context, qx Tx) (int, error)
	// ResetDailyCounters zeroes the daily conversation counter for
	// accounts whose reset hour matches hour and whose last reset was
	// before todayStart (or never).
	ResetDailyCounters(ctx context.Context, qx Tx, hour int, todayStart time.Time) (int, error)
}

type ProxyRepository interface {
	Save(ctx context.Context, qx Tx, p *model.Proxy) error
	FindByID(ctx context.Context, qx Tx, id string) (*model.Proxy, error)
	// ListAvailable returns up to limit proxies that are usable and
	// unassigned.
	ListAvailable(ctx context.Context, qx Tx, limit int) ([]*model.Proxy, error)
	ListAll(ctx context.Context, qx Tx) ([]*model.Proxy, error)
	// Assign binds the proxy to the account iff it is currently free.
	Assign(ctx context.Context, qx Tx, proxyID, accountID string) error
	Release(ctx context.Context, qx Tx, proxyID string) error
}

type TelegramAppRepository interface {
	Save(ctx context.Context, qx Tx, app *model.TelegramApp) error
	FindByID(ctx context.Context, qx Tx, id string) (*model.TelegramApp, error)
	// FindWithCapacity returns an app with free account slots, preferring
	// the least loaded one.
	FindWithCapacity(ctx context.Context, qx Tx) (*model.TelegramApp, error)
}

type CampaignRepository interface {
	Save(ctx context.Context, qx Tx, c *model.Campaign) error
	FindByID(ctx context.Context, qx Tx, id string) (*model.Campaign, error)
	FindActive(ctx context.Context, qx Tx) ([]*model.Campaign, error)
	BumpStats(ctx context.Context, qx Tx, id string, sent, responded, goals, failed int) error
	MarkBatch(ctx context.Context, qx Tx, id string, at time.Time) error
}

type TargetRepository interface {
	Save(ctx context.Context, qx Tx, t *model.UserTarget) error
	FindByID(ctx context.Context, qx Tx, id string) (*model.UserTarget, error)
	FindPending(ctx context.Context, qx Tx, campaignID string, limit int) ([]*model.UserTarget, error)
	UpdateStatus(ctx context.Context, qx Tx, id string, st model.TargetStatus, failReason string) error
}

type DialogueRepository interface {
	// Save persists the dialogue scalars. With checkVersion the repository
	// enforces optimistic concurrency and returns domain.ErrOptimisticLock
	// on conflict; worker saves pass false because the per-dialogue mutex
	// already serializes them.
	Save(ctx context.Context, qx Tx, d *model.Dialogue, checkVersion bool) error
	AppendMessage(ctx context.Context, qx Tx, m *model.Message) error
	SetMessageTelegramID(ctx context.Context, qx Tx, messageID string, telegramMessageID int) error
	FindByID(ctx context.Context, qx Tx, id string) (*model.Dialogue, error)
	// FindOpenByPeer resolves the single non-terminal dialogue for
	// (account, telegram user or username), or ErrNotFound.
	FindOpenByPeer(ctx context.Context, qx Tx, accountID string, telegramUserID int64, username string) (*model.Dialogue, error)
	// FindDueFollowUps lists non-terminal dialogues of the account whose
	// next_action_at has passed.
	FindDueFollowUps(ctx context.Context, qx Tx, accountID string, now time.Time, limit int) ([]*model.Dialogue, error)
}

type WarmupRepository interface {
	SaveWarmup(ctx context.Context, qx Tx, w *model.AccountWarmup) error
	FindWarmup(ctx context.Context, qx Tx, accountID string) (*model.AccountWarmup, error)
	FindProfile(ctx context.Context, qx Tx, id string) (*model.WarmupProfile, error)
	ListChannels(ctx context.Context, qx Tx) ([]*model.WarmupChannel, error)
	ListGroups(ctx context.Context, qx Tx) ([]*model.WarmupGroup, error)
	FindPersona(ctx context.Context, qx Tx, accountID string) (*model.AccountPersona, error)
}
