package worker

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	batchDebounce = 3 * time.Second
	batchCeiling  = 15 * time.Second
)

// Batch is one flushed burst of messages from a single user.
type Batch struct {
	TelegramUserID int64
	Username       string
	Text           string // buffered texts joined with newlines
	MessageIDs     []int
	LastMessageID  int
}

type BatchFunc func(ctx context.Context, b Batch)

// Batcher coalesces rapid-fire incoming messages per user: each new message
// resets a debounce timer, and a hard ceiling from the first buffered
// message forces a flush while the user keeps typing.
type Batcher struct {
	debounce time.Duration
	ceiling  time.Duration
	fn       BatchFunc

	mu      sync.Mutex
	entries map[int64]*batchEntry
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type batchEntry struct {
	username string
	texts    []string
	ids      []int
	firstAt  time.Time
	timer    *time.Timer
}

func NewBatcher(debounce, ceiling time.Duration, fn BatchFunc) *Batcher {
	if debounce <= 0 {
		debounce = batchDebounce
	}
	if ceiling <= 0 {
		ceiling = batchCeiling
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Batcher{
		debounce: debounce,
		ceiling:  ceiling,
		fn:       fn,
		entries:  make(map[int64]*batchEntry),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Add buffers one message and (re)arms the flush timer for its user.
func (b *Batcher) Add(userID int64, username, text string, messageID int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}

	e, ok := b.entries[userID]
	if !ok {
		e = &batchEntry{username: username, firstAt: time.Now()}
		b.entries[userID] = e
	}
	e.texts = append(e.texts, text)
	e.ids = append(e.ids, messageID)
	if username != "" {
		e.username = username
	}

	if e.timer != nil {
		e.timer.Stop()
	}
	delay := b.debounce
	if rest := b.ceiling - time.Since(e.firstAt); rest < delay {
		delay = rest
	}
	if delay < 0 {
		delay = 0
	}
	e.timer = time.AfterFunc(delay, func() { b.flush(userID) })
}

func (b *Batcher) flush(userID int64) {
	b.mu.Lock()
	e, ok := b.entries[userID]
	if !ok || b.stopped {
		b.mu.Unlock()
		return
	}
	delete(b.entries, userID)
	b.mu.Unlock()

	batch := Batch{
		TelegramUserID: userID,
		Username:       e.username,
		Text:           strings.Join(e.texts, "\n"),
		MessageIDs:     e.ids,
		LastMessageID:  e.ids[len(e.ids)-1],
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.fn(b.ctx, batch)
	}()
}

// Stop aborts all pending timers and waits for in-flight callbacks.
func (b *Batcher) Stop() {
	b.mu.Lock()
	b.stopped = true
	for id, e := range b.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(b.entries, id)
	}
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
}
