package worker

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"telegram-outreach-fleet/internal/domain"
	"telegram-outreach-fleet/internal/domain/model"
	"telegram-outreach-fleet/internal/domain/ports/adapter"
)

// reactionEmojis is a weighted pool skewed toward the few reactions real
// users actually click.
var reactionEmojis = []weightedEmoji{
	{"👍", 5},
	{"❤️", 3},
	{"🔥", 3},
	{"😁", 2},
	{"👏", 1},
	{"🤔", 1},
}

type weightedEmoji struct {
	emoji  string
	weight int
}

func pickEmoji(rng *rand.Rand) string {
	total := 0
	for _, e := range reactionEmojis {
		total += e.weight
	}
	n := rng.Intn(total)
	for _, e := range reactionEmojis {
		n -= e.weight
		if n < 0 {
			return e.emoji
		}
	}
	return reactionEmojis[0].emoji
}

// warmupRunner grows a fresh account into the current stage's activity
// profile before it is allowed to do outreach.
type warmupRunner struct {
	deps      Deps
	accountID string
	log       zerolog.Logger

	mu          sync.Mutex
	state       *model.AccountWarmup
	profile     *model.WarmupProfile
	persona     model.AccountPersona
	rng         *rand.Rand
	nextCycleAt time.Time
}

func newWarmupRunner(deps Deps, accountID string, state *model.AccountWarmup, profile *model.WarmupProfile, log *zerolog.Logger) *warmupRunner {
	r := &warmupRunner{
		deps:      deps,
		accountID: accountID,
		log:       log.With().Str("component", "WarmupRunner").Logger(),
		state:     state,
		profile:   profile,
		persona:   model.DefaultPersona(accountID),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if p, err := deps.Warmups.FindPersona(context.Background(), nil, accountID); err == nil {
		r.persona = *p
	}
	return r
}

// Active reports whether warm-up still restricts the account. Only an
// active warm-up blocks outreach; pending and completed do not.
func (r *warmupRunner) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Status == model.WarmupStatusActive
}

func (r *warmupRunner) Info() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.state.Status) + " stage " + strconv.Itoa(r.state.Stage)
}

// RunCycle performs at most one activity cycle; calls between cycles are
// cheap no-ops. A flood wait freezes the account and ends the cycle early.
func (r *warmupRunner) RunCycle(ctx context.Context, client adapter.TelegramClient, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Status != model.WarmupStatusActive {
		return nil
	}
	if now.Before(r.nextCycleAt) {
		return nil
	}
	r.nextCycleAt = now.Add(uniformDuration(r.rng, 5*time.Minute, 15*time.Minute))

	if r.state.InFloodWait(now) {
		return nil
	}
	if r.state.LastDailyReset == nil || r.state.LastDailyReset.YearDay() != now.YearDay() {
		r.state.ResetDaily(now)
	}
	if r.state.Advance(r.profile, now) {
		if err := r.deps.Warmups.SaveWarmup(ctx, nil, r.state); err != nil {
			return err
		}
		if r.state.Status == model.WarmupStatusCompleted {
			r.log.Info().Msg("warm-up completed")
			return nil
		}
		r.log.Info().Int("stage", r.state.Stage).Msg("warm-up stage advanced")
	}

	stage, ok := r.profile.StageForDay(r.state.ElapsedDays(now))
	if !ok {
		return nil
	}

	for _, act := range r.shuffledActions() {
		if ctx.Err() != nil {
			break
		}
		if err := r.runAction(ctx, client, act, stage, now); err != nil {
			if wait, flood := domain.AsFlood(err); flood {
				r.state.RecordFlood(now, wait)
				r.log.Warn().Dur("wait", wait).Msg("flood wait during warm-up, freezing cycle")
				break
			}
			r.log.Debug().Err(err).Str("action", act).Msg("warm-up action failed")
		}
		if err := sleepCtx(ctx, uniformDuration(r.rng, warmupActionPauseMin, warmupActionPauseMax)); err != nil {
			break
		}
	}
	return r.deps.Warmups.SaveWarmup(ctx, nil, r.state)
}

func (r *warmupRunner) shuffledActions() []string {
	actions := []string{"join_channel", "join_group", "react", "read_dialog", "view_profile"}
	r.rng.Shuffle(len(actions), func(i, j int) { actions[i], actions[j] = actions[j], actions[i] })
	// Random subset, never the full list every cycle.
	n := 2 + r.rng.Intn(len(actions)-1)
	return actions[:n]
}

func (r *warmupRunner) runAction(ctx context.Context, client adapter.TelegramClient, action string, stage model.WarmupStage, now time.Time) error {
	switch action {
	case "join_channel":
		if r.state.JoinsToday >= stage.MaxJoinsPerDay {
			return nil
		}
		channels, err := r.deps.Warmups.ListChannels(ctx, nil)
		if err != nil || len(channels) == 0 {
			return err
		}
		ch := channels[r.rng.Intn(len(channels))]
		if err := client.JoinChannel(ctx, ch.Link); err != nil {
			return err
		}
		r.state.JoinsToday++
	case "join_group":
		if r.state.JoinsToday >= stage.MaxJoinsPerDay {
			return nil
		}
		groups, err := r.deps.Warmups.ListGroups(ctx, nil)
		if err != nil || len(groups) == 0 {
			return err
		}
		g := groups[r.rng.Intn(len(groups))]
		if err := client.JoinChannel(ctx, g.Link); err != nil {
			return err
		}
		r.state.JoinsToday++
	case "react":
		if r.rng.Float64() >= r.persona.ReactionProbability {
			return nil
		}
		if r.state.ReactsToday >= stage.MaxReactsPerDay {
			return nil
		}
		if err := client.ReactToRandomPost(ctx, pickEmoji(r.rng)); err != nil {
			return err
		}
		r.state.ReactsToday++
	case "read_dialog":
		return client.ReadRandomChannel(ctx)
	case "view_profile":
		return client.ViewRandomProfile(ctx)
	}
	return nil
}
