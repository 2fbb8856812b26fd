package sched

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"telegram-outreach-fleet/internal/domain/ports/repository"
)

// Intervals, variables so tests can shrink them.
var (
	hourlyResetInterval = time.Hour
	// The daily job ticks every minute; the repository predicate makes it
	// idempotent within the hour.
	dailyResetInterval = time.Minute
	proxySweepInterval = 10 * time.Minute
)

// ProxySweeper probes every known proxy and updates its status.
type ProxySweeper interface {
	CheckAll(ctx context.Context) (int, error)
}

// Scheduler runs the fleet-wide periodic jobs: hourly counter resets,
// per-account daily resets and the proxy health sweep.
type Scheduler struct {
	accounts repository.AccountRepository
	proxies  ProxySweeper
	log      zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(accounts repository.AccountRepository, proxies ProxySweeper, logger *zerolog.Logger) *Scheduler {
	l := logger.With().Str("component", "Scheduler").Logger()
	return &Scheduler{accounts: accounts, proxies: proxies, log: l}
}

func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.job(runCtx, hourlyResetInterval, s.resetHourly)
	s.job(runCtx, dailyResetInterval, s.resetDaily)
	if s.proxies != nil {
		s.job(runCtx, proxySweepInterval, s.sweepProxies)
	}
	s.log.Info().Msg("scheduler started")
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) job(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				fn(ctx)
			}
		}
	}()
}

func (s *Scheduler) resetHourly(ctx context.Context) {
	n, err := s.accounts.ResetHourlyCounters(ctx, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("hourly counter reset failed")
		return
	}
	if n > 0 {
		s.log.Info().Int("accounts", n).Msg("hourly counters reset")
	}
}

// resetDaily fires for the accounts whose personal reset hour is the
// current one. Reset hours are a per-account hash so the fleet does not
// reset in lockstep at midnight.
func (s *Scheduler) resetDaily(ctx context.Context) {
	now := time.Now().UTC()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, time.UTC)
	n, err := s.accounts.ResetDailyCounters(ctx, nil, now.Hour(), todayStart)
	if err != nil {
		s.log.Warn().Err(err).Msg("daily counter reset failed")
		return
	}
	if n > 0 {
		s.log.Info().Int("accounts", n).Int("hour", now.Hour()).Msg("daily counters reset")
	}
}

func (s *Scheduler) sweepProxies(ctx context.Context) {
	healthy, err := s.proxies.CheckAll(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("proxy sweep failed")
		return
	}
	s.log.Debug().Int("healthy", healthy).Msg("proxy sweep finished")
}
