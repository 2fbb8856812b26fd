package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"telegram-outreach-fleet/internal/domain/model"
	"telegram-outreach-fleet/internal/domain/ports/repository"
)

type countingAccounts struct {
	mu          sync.Mutex
	hourlyCalls int
	dailyCalls  int
	lastHour    int
	lastStart   time.Time
}

func (c *countingAccounts) Save(context.Context, repository.Tx, *model.Account) error { return nil }

func (c *countingAccounts) FindByID(context.Context, repository.Tx, string) (*model.Account, error) {
	return nil, nil
}

func (c *countingAccounts) FindStartable(context.Context, repository.Tx) ([]*model.Account, error) {
	return nil, nil
}

func (c *countingAccounts) UpdateStatus(context.Context, repository.Tx, string, model.AccountStatus, string) error {
	return nil
}

func (c *countingAccounts) ResetHourlyCounters(context.Context, repository.Tx) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hourlyCalls++
	return 1, nil
}

func (c *countingAccounts) ResetDailyCounters(_ context.Context, _ repository.Tx, hour int, todayStart time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dailyCalls++
	c.lastHour = hour
	c.lastStart = todayStart
	return 0, nil
}

type countingSweeper struct {
	mu    sync.Mutex
	calls int
}

func (c *countingSweeper) CheckAll(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return 3, nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestScheduler_RunsAllJobs(t *testing.T) {
	hourlyResetInterval = 20 * time.Millisecond
	dailyResetInterval = 20 * time.Millisecond
	proxySweepInterval = 20 * time.Millisecond

	accounts := &countingAccounts{}
	sweeper := &countingSweeper{}
	log := zerolog.Nop()
	s := New(accounts, sweeper, &log)

	s.Start(context.Background())
	waitFor(t, 2*time.Second, func() bool {
		accounts.mu.Lock()
		defer accounts.mu.Unlock()
		return accounts.hourlyCalls >= 2 && accounts.dailyCalls >= 2
	})
	waitFor(t, 2*time.Second, func() bool {
		sweeper.mu.Lock()
		defer sweeper.mu.Unlock()
		return sweeper.calls >= 2
	})
	s.Stop()

	accounts.mu.Lock()
	hour, start := accounts.lastHour, accounts.lastStart
	accounts.mu.Unlock()

	now := time.Now().UTC()
	if hour != now.Hour() && hour != (now.Hour()+23)%24 {
		t.Errorf("daily reset hour = %d, now = %d", hour, now.Hour())
	}
	if start.Minute() != 0 || start.Second() != 0 {
		t.Errorf("todayStart not aligned to the hour: %s", start)
	}
}

func TestScheduler_StopHaltsJobs(t *testing.T) {
	hourlyResetInterval = 10 * time.Millisecond
	dailyResetInterval = 10 * time.Millisecond
	proxySweepInterval = 10 * time.Millisecond

	accounts := &countingAccounts{}
	log := zerolog.Nop()
	s := New(accounts, nil, &log)

	s.Start(context.Background())
	waitFor(t, 2*time.Second, func() bool {
		accounts.mu.Lock()
		defer accounts.mu.Unlock()
		return accounts.hourlyCalls >= 1
	})
	s.Stop()

	accounts.mu.Lock()
	after := accounts.hourlyCalls
	accounts.mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	accounts.mu.Lock()
	defer accounts.mu.Unlock()
	if accounts.hourlyCalls != after {
		t.Error("jobs kept running after Stop")
	}
}
