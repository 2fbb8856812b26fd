package worker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"telegram-outreach-fleet/internal/domain/ports/adapter"
)

// Weighted background activities. Idle scrolling leaves no API trace
// beyond presence; typing simulation starts a reply and abandons it.
var backgroundActivities = []struct {
	name   string
	weight int
}{
	{"read_channel", 25},
	{"read_dialog", 20},
	{"idle_scroll", 20},
	{"react", 15},
	{"view_profile", 10},
	{"typing_sim", 10},
}

// backgroundLoop keeps the account's presence pattern human: online bursts
// with a little channel noise, then long offline stretches.
type backgroundLoop struct {
	client adapter.TelegramClient
	offset float64
	log    zerolog.Logger

	mu   sync.Mutex
	rng  *rand.Rand
	last string
}

func newBackgroundLoop(client adapter.TelegramClient, offset float64, log *zerolog.Logger) *backgroundLoop {
	return &backgroundLoop{
		client: client,
		offset: offset,
		log:    log.With().Str("component", "BackgroundActivity").Logger(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *backgroundLoop) Info() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

func (b *backgroundLoop) setLast(s string) {
	b.mu.Lock()
	b.last = s
	b.mu.Unlock()
}

func (b *backgroundLoop) run(ctx context.Context) {
	// Stagger startup so restarted fleets do not all come online at once.
	if err := sleepCtx(ctx, b.dur(0, 120*time.Second)); err != nil {
		return
	}
	for {
		online := scaleDuration(b.dur(45*time.Second, 240*time.Second), b.offset)
		if err := b.onlinePeriod(ctx, online); err != nil {
			return
		}
		b.setLast("offline")
		offline := scaleDuration(b.dur(3*time.Minute, 20*time.Minute), b.offset)
		if err := sleepCtx(ctx, offline); err != nil {
			return
		}
	}
}

func (b *backgroundLoop) onlinePeriod(ctx context.Context, d time.Duration) error {
	if err := b.client.SetOnline(ctx, true); err != nil {
		b.log.Debug().Err(err).Msg("set online failed")
	}
	defer func() {
		offCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = b.client.SetOnline(offCtx, false)
		cancel()
	}()

	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		act := b.pickActivity()
		b.setLast("online: " + act)
		if err := b.runActivity(ctx, act); err != nil {
			b.log.Debug().Err(err).Str("activity", act).Msg("background activity failed")
		}
		if err := sleepCtx(ctx, scaleDuration(b.dur(15*time.Second, 45*time.Second), b.offset)); err != nil {
			return err
		}
	}
	return nil
}

func (b *backgroundLoop) runActivity(ctx context.Context, act string) error {
	switch act {
	case "read_channel":
		return b.client.ReadRandomChannel(ctx)
	case "read_dialog":
		return b.client.ReadRandomDialog(ctx)
	case "react":
		b.mu.Lock()
		emoji := pickEmoji(b.rng)
		b.mu.Unlock()
		return b.client.ReactToRandomPost(ctx, emoji)
	case "view_profile":
		return b.client.ViewRandomProfile(ctx)
	case "typing_sim":
		return b.client.TypeInRandomDialog(ctx, scaleDuration(b.dur(3*time.Second, 9*time.Second), b.offset))
	default:
		// idle_scroll: presence only.
		return nil
	}
}

func (b *backgroundLoop) pickActivity() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, a := range backgroundActivities {
		total += a.weight
	}
	n := b.rng.Intn(total)
	for _, a := range backgroundActivities {
		n -= a.weight
		if n < 0 {
			return a.name
		}
	}
	return backgroundActivities[0].name
}

func (b *backgroundLoop) dur(min, max time.Duration) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uniformDuration(b.rng, min, max)
}
