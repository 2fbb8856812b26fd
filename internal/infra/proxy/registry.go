package proxy

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"telegram-outreach-fleet/internal/domain"
	"telegram-outreach-fleet/internal/domain/model"
	"telegram-outreach-fleet/internal/domain/ports/repository"
	"telegram-outreach-fleet/internal/infra/metrics"
)

// Registry owns the fleet's proxy pool: availability queries, exclusive
// assignment to accounts, and the health state machine.
type Registry struct {
	repo    repository.ProxyRepository
	checker Checker
	log     *zerolog.Logger
}

func NewRegistry(repo repository.ProxyRepository, checker Checker, logger *zerolog.Logger) *Registry {
	l := logger.With().Str("component", "ProxyRegistry").Logger()
	return &Registry{repo: repo, checker: checker, log: &l}
}

// ListAvailable returns up to limit proxies that are usable and unassigned.
func (r *Registry) ListAvailable(ctx context.Context, limit int) ([]*model.Proxy, error) {
	return r.repo.ListAvailable(ctx, nil, limit)
}

// GetForAccount resolves the proxy currently assigned to the account.
func (r *Registry) GetForAccount(ctx context.Context, accountID string) (*model.Proxy, error) {
	all, err := r.repo.ListAll(ctx, nil)
	if err != nil {
		return nil, err
	}
	for _, p := range all {
		if p.AccountID == accountID {
			return p, nil
		}
	}
	return nil, domain.ErrNoProxyAssigned
}

// IsAssigned reports whether any account references the proxy.
func (r *Registry) IsAssigned(ctx context.Context, proxyID string) (bool, error) {
	p, err := r.repo.FindByID(ctx, nil, proxyID)
	if err != nil {
		return false, err
	}
	return p.AccountID != "", nil
}

// PickFor hands the account a fresh available proxy, excluding ids the
// caller already burned this attempt, and records the assignment. The
// repository enforces the at-most-one-account invariant.
func (r *Registry) PickFor(ctx context.Context, accountID string, exclude map[string]bool) (*model.Proxy, error) {
	candidates, err := r.repo.ListAvailable(ctx, nil, 20)
	if err != nil {
		return nil, err
	}
	for _, p := range candidates {
		if exclude[p.ID] {
			continue
		}
		if err := r.repo.Assign(ctx, nil, p.ID, accountID); err != nil {
			if err == domain.ErrProxyTaken {
				continue // raced another worker, try the next one
			}
			return nil, err
		}
		p.AccountID = accountID
		r.log.Info().Str("proxy_id", p.ID).Str("account_id", accountID).Msg("proxy assigned")
		return p, nil
	}
	return nil, domain.ErrNoProxyAvailable
}

// Release frees the proxy currently bound to the account.
func (r *Registry) Release(ctx context.Context, proxyID string) error {
	return r.repo.Release(ctx, nil, proxyID)
}

// MarkActive records a passed check with its latency.
func (r *Registry) MarkActive(ctx context.Context, proxyID string, latency time.Duration) error {
	p, err := r.repo.FindByID(ctx, nil, proxyID)
	if err != nil {
		return err
	}
	p.MarkActive(latency, time.Now())
	metrics.ObserveProxyCheck(true, latency)
	return r.repo.Save(ctx, nil, p)
}

// MarkFailed records a failed check; three in a row make the proxy
// unavailable.
func (r *Registry) MarkFailed(ctx context.Context, proxyID string) error {
	p, err := r.repo.FindByID(ctx, nil, proxyID)
	if err != nil {
		return err
	}
	p.MarkFailed(time.Now())
	metrics.ObserveProxyCheck(false, 0)
	r.log.Warn().Str("proxy_id", proxyID).Int("failures", p.FailureCount).Str("status", string(p.Status)).Msg("proxy check failed")
	return r.repo.Save(ctx, nil, p)
}

// CheckAll sweeps every non-banned proxy through the health checker,
// updating the state machine. Returns how many probes passed.
func (r *Registry) CheckAll(ctx context.Context) (int, error) {
	all, err := r.repo.ListAll(ctx, nil)
	if err != nil {
		return 0, err
	}
	passed := 0
	for _, p := range all {
		if p.Status == model.ProxyStatusBanned {
			continue
		}
		if ctx.Err() != nil {
			return passed, ctx.Err()
		}
		latency, err := r.checker.Check(ctx, p)
		if err != nil {
			_ = r.MarkFailed(ctx, p.ID)
			continue
		}
		if err := r.MarkActive(ctx, p.ID, latency); err != nil {
			return passed, err
		}
		passed++
	}
	return passed, nil
}
