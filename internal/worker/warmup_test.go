package worker

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"telegram-outreach-fleet/internal/domain"
	"telegram-outreach-fleet/internal/domain/model"
)

func warmupProfile() *model.WarmupProfile {
	return &model.WarmupProfile{
		ID:   "prof-1",
		Name: "default ramp",
		Stages: []model.WarmupStage{
			{Number: 0, DurationDays: 2, MaxJoinsPerDay: 2, MaxReactsPerDay: 5},
			{Number: 1, DurationDays: 3, MaxJoinsPerDay: 4, MaxReactsPerDay: 10},
		},
	}
}

func warmupEnv(t *testing.T, startedDaysAgo int) (*env, *warmupRunner, *fakeClient) {
	t.Helper()
	acc := testAccount("acc-1")
	e := newEnv(t, acc)

	state, err := model.NewAccountWarmup("acc-1", "prof-1", time.Now().AddDate(0, 0, -startedDaysAgo))
	if err != nil {
		t.Fatalf("NewAccountWarmup: %v", err)
	}
	e.warmups.warmup = state
	e.warmups.profile = warmupProfile()
	e.warmups.channels = []*model.WarmupChannel{{ID: "ch-1", Link: "https://t.me/news"}}
	e.warmups.groups = []*model.WarmupGroup{{ID: "gr-1", Link: "https://t.me/chat"}}

	log := zerolog.Nop()
	r := newWarmupRunner(e.deps, "acc-1", state, e.warmups.profile, &log)
	return e, r, &fakeClient{}
}

func TestWarmup_ActiveBlocksOutreach(t *testing.T) {
	_, r, _ := warmupEnv(t, 0)
	if !r.Active() {
		t.Fatal("fresh warm-up must be active")
	}
}

func TestWarmup_StageAdvancesWithElapsedDays(t *testing.T) {
	e, r, client := warmupEnv(t, 2)

	if err := r.RunCycle(context.Background(), client, time.Now()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if e.warmups.warmup.Stage != 1 {
		t.Errorf("stage = %d, want 1", e.warmups.warmup.Stage)
	}
}

func TestWarmup_CompletesAfterSchedule(t *testing.T) {
	e, r, client := warmupEnv(t, 6)

	if err := r.RunCycle(context.Background(), client, time.Now()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if e.warmups.warmup.Status != model.WarmupStatusCompleted {
		t.Errorf("status = %s, want completed", e.warmups.warmup.Status)
	}
	if r.Active() {
		t.Error("completed warm-up still reports active")
	}
}

func TestWarmup_SecondCycleIsThrottled(t *testing.T) {
	_, r, client := warmupEnv(t, 0)
	now := time.Now()

	if err := r.RunCycle(context.Background(), client, now); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	joins := len(client.joined)
	// Inside the cooldown window nothing runs.
	if err := r.RunCycle(context.Background(), client, now.Add(time.Minute)); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(client.joined) != joins {
		t.Error("cycle ran again before the cooldown elapsed")
	}
}

func TestWarmup_FloodWaitFreezesAccount(t *testing.T) {
	e, r, client := warmupEnv(t, 0)
	client.joinErr = domain.NewFloodError(3600)
	// Reactions and the rest may still fail-soft; run many cycles until a
	// join attempt hits the flood error.
	now := time.Now()
	for i := 0; i < 20 && e.warmups.warmup.FloodWaitUntil == nil; i++ {
		r.nextCycleAt = time.Time{}
		if err := r.RunCycle(context.Background(), client, now); err != nil {
			t.Fatalf("RunCycle: %v", err)
		}
	}
	if e.warmups.warmup.FloodWaitUntil == nil {
		t.Fatal("flood error did not set the wait horizon")
	}
	if !e.warmups.warmup.InFloodWait(now.Add(30 * time.Minute)) {
		t.Error("account not frozen inside the flood window")
	}

	// Frozen account skips cycles entirely.
	r.nextCycleAt = time.Time{}
	joins := len(client.joined)
	if err := r.RunCycle(context.Background(), client, now.Add(time.Minute)); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(client.joined) != joins {
		t.Error("frozen account still performed actions")
	}
}

func TestWarmup_DailyCapsHonored(t *testing.T) {
	e, r, client := warmupEnv(t, 0)
	lastReset := time.Now()
	r.state.LastDailyReset = &lastReset
	r.state.JoinsToday = 2 // stage 0 cap
	e.warmups.warmup = r.state

	for i := 0; i < 10; i++ {
		r.nextCycleAt = time.Time{}
		if err := r.RunCycle(context.Background(), client, time.Now()); err != nil {
			t.Fatalf("RunCycle: %v", err)
		}
	}
	if len(client.joined) != 0 {
		t.Errorf("joined %d channels over the daily cap", len(client.joined))
	}
}
