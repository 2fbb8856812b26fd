package worker

import (
	"context"
	"math/rand"
	"time"
	"unicode/utf8"
)

// timingVariance spreads every humanization timer per account so the fleet
// never fires in lockstep.
const timingVariance = 0.3

// uniformDuration draws U(min, max).
func uniformDuration(rng *rand.Rand, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rng.Int63n(int64(max-min)))
}

// readingDelay simulates the time a human needs to read the inbound text:
// about 15 characters per second plus a small reaction pause.
func readingDelay(text string, rng *rand.Rand) time.Duration {
	chars := utf8.RuneCountInString(text)
	base := float64(chars) / 15.0 * (0.8 + rng.Float64()*0.4)
	react := 0.5 + rng.Float64()*1.5
	return clampDuration(time.Duration((base+react)*float64(time.Second)), time.Second, 8*time.Second)
}

// typingTime derives how long the typing indicator should show for one
// outgoing part, at roughly 250 characters per minute.
func typingTime(part string, rng *rand.Rand) time.Duration {
	chars := utf8.RuneCountInString(part)
	secs := float64(chars) / 250.0 * 60.0 * (0.8 + rng.Float64()*0.5)
	return clampDuration(time.Duration(secs*float64(time.Second)), time.Second, 12*time.Second)
}

// interPartPause is the silence between consecutive parts of one reply.
func interPartPause(rng *rand.Rand) time.Duration {
	return time.Duration((0.8 + rng.Float64()*1.2) * float64(time.Second))
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

// scaleDuration applies the per-account timing offset.
func scaleDuration(d time.Duration, offset float64) time.Duration {
	return time.Duration(float64(d) * offset)
}

// sleepCtx sleeps d or returns early with the context error.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
