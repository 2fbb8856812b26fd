package worker

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"telegram-outreach-fleet/internal/domain"
	"telegram-outreach-fleet/internal/domain/model"
	"telegram-outreach-fleet/internal/domain/ports/adapter"
	"telegram-outreach-fleet/internal/domain/ports/queue"
	"telegram-outreach-fleet/internal/domain/ports/repository"
	"telegram-outreach-fleet/internal/engine"
	"telegram-outreach-fleet/internal/infra/metrics"
	"telegram-outreach-fleet/internal/infra/results"
)

const (
	sessionLockTTL = 5 * time.Minute
	// startActivityGap keeps a restarting worker away from the auth key
	// while the previous connection may still be draining.
	startActivityGap = 30 * time.Second
	maxStartAttempts = 4
	dequeueTimeout   = time.Second
	stopDeadline     = 5 * time.Second
	followUpLimit    = 3
	dueFollowUpPage  = 10
)

// Loop and pause spans, variables so tests can shrink them.
var (
	loopIntervalMin = 8 * time.Second
	loopIntervalMax = 15 * time.Second

	sleepNapMin = 5 * time.Minute
	sleepNapMax = 15 * time.Minute

	firstContactPauseMin = 30 * time.Second
	firstContactPauseMax = 120 * time.Second

	warmupActionPauseMin = 5 * time.Second
	warmupActionPauseMax = 20 * time.Second

	firstDistributeDelay = 5 * time.Second
)

// SessionLocker guards each Telegram auth key with an exclusive lease.
type SessionLocker interface {
	TryLock(ctx context.Context, accountID string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, accountID, token string) error
	Refresh(ctx context.Context, accountID, token string, ttl time.Duration) error
}

// Deps bundles the shared collaborators of workers and the manager.
type Deps struct {
	Accounts  repository.AccountRepository
	Proxies   repository.ProxyRepository
	Apps      repository.TelegramAppRepository
	Campaigns repository.CampaignRepository
	Targets   repository.TargetRepository
	Dialogues repository.DialogueRepository
	Warmups   repository.WarmupRepository
	Tx        repository.TransactionManager
	Queue     queue.TaskQueueStore
	Clients   adapter.ClientFactory
	Engine    *engine.Processor
	Results   *results.Recorder
	Locker    SessionLocker
	Log       *zerolog.Logger
}

// Stats is the per-worker operational snapshot the manager exposes.
type Stats struct {
	AccountID    string    `json:"account_id"`
	Running      bool      `json:"running"`
	MessagesSent int       `json:"messages_sent"`
	Errors       int       `json:"errors"`
	LastMessage  time.Time `json:"last_message"`
	Warmup       string    `json:"warmup_info,omitempty"`
	Background   string    `json:"background_activity_info,omitempty"`
	TimingOffset float64   `json:"timing_offset"`
}

// Worker drives one account: one MTProto connection, one task loop, one
// batcher, one background-activity loop.
type Worker struct {
	deps Deps
	log  zerolog.Logger

	accountID string
	offset    float64

	mu      sync.Mutex
	account *model.Account

	rngMu sync.Mutex
	rng   *rand.Rand

	client    adapter.TelegramClient
	batcher   *Batcher
	locks     *dialogueLocks
	warmup    *warmupRunner
	bg        *backgroundLoop
	lockToken string

	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool

	statMu       sync.Mutex
	messagesSent int
	errorCount   int
	lastMessage  time.Time
}

func New(deps Deps, account *model.Account) *Worker {
	l := deps.Log.With().Str("component", "AccountWorker").Str("account_id", account.ID).Logger()
	return &Worker{
		deps:      deps,
		log:       l,
		accountID: account.ID,
		account:   account,
		offset:    account.TimingOffset(timingVariance),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(len(account.ID)))),
		locks:     newDialogueLocks(),
	}
}

func (w *Worker) Running() bool { return w.running.Load() }

func (w *Worker) Stats() Stats {
	w.statMu.Lock()
	defer w.statMu.Unlock()
	s := Stats{
		AccountID:    w.accountID,
		Running:      w.running.Load(),
		MessagesSent: w.messagesSent,
		Errors:       w.errorCount,
		LastMessage:  w.lastMessage,
		TimingOffset: w.offset,
	}
	if w.warmup != nil {
		s.Warmup = w.warmup.Info()
	}
	if w.bg != nil {
		s.Background = w.bg.Info()
	}
	return s
}

// Start connects the account through its proxy (with failover), registers
// the inbound handler and spawns the run loop. Exactly one run loop per
// account process-wide, enforced by the session lock.
func (w *Worker) Start(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return domain.ErrWorkerRunning
	}

	token, err := w.deps.Locker.TryLock(ctx, w.accountID, sessionLockTTL)
	if err != nil {
		w.running.Store(false)
		return err
	}
	w.lockToken = token

	acc := w.snapshot()
	if acc.LastActivity != nil {
		if rest := startActivityGap - time.Since(*acc.LastActivity); rest > 0 {
			w.log.Debug().Dur("wait", rest).Msg("recent activity on session, waiting out the gap")
			if err := sleepCtx(ctx, rest); err != nil {
				w.release(ctx)
				return err
			}
		}
	}

	if err := w.connect(ctx); err != nil {
		w.release(ctx)
		return err
	}

	if err := w.deps.Accounts.UpdateStatus(ctx, nil, w.accountID, model.AccountStatusActive, ""); err != nil {
		w.log.Warn().Err(err).Msg("failed to persist active status")
	}
	w.initWarmup(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.batcher = NewBatcher(batchDebounce, batchCeiling, w.handleBatch)
	w.bg = newBackgroundLoop(w.client, w.offset, &w.log)
	go w.bg.run(runCtx)
	go w.run(runCtx)

	w.log.Info().Msg("worker started")
	return nil
}

// Stop cancels the run loop and the batcher, disconnects the client with a
// bounded deadline and parks the account in paused.
func (w *Worker) Stop(ctx context.Context) {
	if !w.running.Load() {
		return
	}
	if w.cancel != nil {
		w.cancel()
	}
	if w.batcher != nil {
		w.batcher.Stop()
	}
	if w.done != nil {
		select {
		case <-w.done:
		case <-time.After(stopDeadline):
			w.log.Warn().Msg("run loop did not stop within deadline")
		}
	}
	if w.client != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), stopDeadline)
		if err := w.client.Close(closeCtx); err != nil {
			w.log.Warn().Err(err).Msg("client close failed")
		}
		cancel()
	}
	if err := w.deps.Accounts.UpdateStatus(ctx, nil, w.accountID, model.AccountStatusPaused, ""); err != nil {
		w.log.Warn().Err(err).Msg("failed to persist paused status")
	}
	w.release(ctx)
	w.log.Info().Msg("worker stopped")
}

func (w *Worker) release(ctx context.Context) {
	if w.lockToken != "" {
		if err := w.deps.Locker.Unlock(ctx, w.accountID, w.lockToken); err != nil {
			w.log.Warn().Err(err).Msg("session unlock failed")
		}
		w.lockToken = ""
	}
	w.running.Store(false)
}

// connect builds the client through the assigned proxy; on connection-class
// failures it marks the proxy failed and fails over to another one, up to
// maxStartAttempts proxies. Auth failures abort immediately.
func (w *Worker) connect(ctx context.Context) error {
	acc := w.snapshot()
	app, err := w.deps.Apps.FindByID(ctx, nil, acc.AppID)
	if err != nil {
		return err
	}

	tried := map[string]bool{}
	proxyID := acc.ProxyID
	var lastErr error
	for attempt := 0; attempt < maxStartAttempts; attempt++ {
		if proxyID == "" {
			next, err := w.pickProxy(ctx, tried)
			if err != nil {
				return err
			}
			proxyID = next
		}
		proxy, err := w.deps.Proxies.FindByID(ctx, nil, proxyID)
		if err != nil {
			return err
		}

		client, err := w.deps.Clients.New(w.accountID, acc.SessionCipher, proxy.URL(), app.APIID, app.APIHash)
		if err != nil {
			return err
		}
		client.OnMessage(w.onIncoming)

		if err := client.Connect(ctx); err != nil {
			if domain.IsAuth(err) {
				w.log.Error().Err(err).Msg("session unauthorized, parking account in error")
				_ = w.deps.Accounts.UpdateStatus(ctx, nil, w.accountID, model.AccountStatusError, err.Error())
				return err
			}
			lastErr = err
			w.log.Warn().Err(err).Str("proxy_id", proxyID).Int("attempt", attempt+1).Msg("connect failed, failing over proxy")
			tried[proxyID] = true
			proxy.MarkFailed(time.Now())
			if saveErr := w.deps.Proxies.Save(ctx, nil, proxy); saveErr != nil {
				w.log.Warn().Err(saveErr).Msg("failed to persist proxy failure")
			}
			next, pickErr := w.pickProxy(ctx, tried)
			if pickErr != nil {
				return lastErr
			}
			proxyID = next
			continue
		}

		if proxyID != acc.ProxyID {
			w.reassignProxy(ctx, acc, proxyID)
		}
		w.client = client
		return nil
	}
	return lastErr
}

func (w *Worker) pickProxy(ctx context.Context, exclude map[string]bool) (string, error) {
	avail, err := w.deps.Proxies.ListAvailable(ctx, nil, maxStartAttempts+len(exclude))
	if err != nil {
		return "", err
	}
	for _, p := range avail {
		if !exclude[p.ID] {
			return p.ID, nil
		}
	}
	return "", domain.ErrNoProxyAvailable
}

func (w *Worker) reassignProxy(ctx context.Context, acc *model.Account, proxyID string) {
	err := w.deps.Tx.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if acc.ProxyID != "" {
			if err := w.deps.Proxies.Release(ctx, tx, acc.ProxyID); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		}
		if err := w.deps.Proxies.Assign(ctx, tx, proxyID, w.accountID); err != nil {
			return err
		}
		acc.ProxyID = proxyID
		return w.deps.Accounts.Save(ctx, tx, acc)
	})
	if err != nil {
		w.log.Warn().Err(err).Str("proxy_id", proxyID).Msg("proxy reassignment not persisted")
		return
	}
	w.setAccount(acc)
}

// run is the main task loop.
func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	for {
		if err := sleepCtx(ctx, scaleDuration(w.randDur(loopIntervalMin, loopIntervalMax), w.offset)); err != nil {
			return
		}
		acc, err := w.refresh(ctx)
		if err != nil {
			w.log.Warn().Err(err).Msg("account refresh failed")
			continue
		}
		if err := w.deps.Locker.Refresh(ctx, w.accountID, w.lockToken, sessionLockTTL); err != nil {
			if errors.Is(err, domain.ErrSessionLocked) {
				w.log.Error().Msg("session lock lost, stopping run loop")
				return
			}
		}

		now := time.Now()
		if acc.InSleepWindow(now) {
			_ = sleepCtx(ctx, w.randDur(sleepNapMin, sleepNapMax))
			continue
		}
		if !acc.InsideSchedule(now) {
			continue
		}
		if w.warmup != nil && w.warmup.Active() {
			// Warm-up accounts only make noise; no outreach, no replies.
			if err := w.warmup.RunCycle(ctx, w.client, now); err != nil {
				w.log.Warn().Err(err).Msg("warm-up cycle failed")
			}
			continue
		}

		if err := w.processTasks(ctx); err != nil {
			if !w.recoverNetwork(ctx, err) {
				return
			}
			continue
		}
		if err := w.processDueFollowUps(ctx); err != nil {
			if !w.recoverNetwork(ctx, err) {
				return
			}
		}
	}
}

// recoverNetwork attempts one proxy failover after a transient error and
// reports whether the loop may continue. Non-network errors are logged and
// tolerated.
func (w *Worker) recoverNetwork(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if !domain.IsNetwork(err) {
		w.log.Warn().Err(err).Msg("task loop error")
		w.countError()
		return true
	}
	w.log.Warn().Err(err).Msg("network failure, attempting proxy failover")
	w.countError()
	if w.client != nil {
		closeCtx, cancel := context.WithTimeout(ctx, stopDeadline)
		_ = w.client.Close(closeCtx)
		cancel()
	}
	acc := w.snapshot()
	if acc.ProxyID != "" {
		if proxy, ferr := w.deps.Proxies.FindByID(ctx, nil, acc.ProxyID); ferr == nil {
			proxy.MarkFailed(time.Now())
			_ = w.deps.Proxies.Save(ctx, nil, proxy)
		}
		acc.ProxyID = ""
		w.setAccount(acc)
	}
	if cerr := w.connect(ctx); cerr != nil {
		w.log.Error().Err(cerr).Msg("proxy failover failed, exiting run loop")
		return false
	}
	return true
}

// processTasks drains the account queue for this tick.
func (w *Worker) processTasks(ctx context.Context) error {
	for {
		task, err := w.deps.Queue.Dequeue(ctx, w.accountID, dequeueTimeout)
		if err != nil {
			return err
		}
		if task == nil {
			return nil
		}
		if err := w.handleTask(ctx, task); err != nil {
			return err
		}
	}
}

func (w *Worker) handleTask(ctx context.Context, task *model.Task) error {
	switch task.Type {
	case model.TaskSendFirstMessage:
		return w.sendFirstMessage(ctx, task)
	case model.TaskSendFollowUp:
		return w.handleFollowUpTask(ctx, task)
	case model.TaskSendResponse:
		// Responses are authored by the inbound pipeline; the task only
		// wakes the worker.
		metrics.IncTask(string(task.Type), "completed")
		return w.deps.Queue.Complete(ctx, task)
	default:
		w.log.Warn().Str("task_type", string(task.Type)).Msg("unknown task type")
		return w.deps.Queue.Fail(ctx, task, domain.ErrInvalidArgument, false)
	}
}

func (w *Worker) sendFirstMessage(ctx context.Context, task *model.Task) error {
	acc := w.snapshot()
	now := time.Now()
	if !acc.CanStartConversation(now) {
		metrics.IncTask(string(task.Type), "retried")
		return w.deps.Queue.Fail(ctx, task, domain.ErrLimitReached, true)
	}

	camp, err := w.deps.Campaigns.FindByID(ctx, nil, task.CampaignID)
	if err != nil {
		return w.deps.Queue.Fail(ctx, task, err, true)
	}
	target, err := w.deps.Targets.FindByID(ctx, nil, task.TargetID)
	if err != nil {
		return w.deps.Queue.Fail(ctx, task, err, false)
	}
	if target.Terminal() {
		return w.deps.Queue.Complete(ctx, task)
	}

	dlg, err := model.NewDialogue(uuid.NewString(), w.accountID, camp.ID, target.ID)
	if err != nil {
		return w.deps.Queue.Fail(ctx, task, err, false)
	}
	dlg.TelegramUserID = target.TelegramID
	dlg.Username = target.Username

	lock := w.locks.get(dlg.ID)
	lock.Lock()
	defer lock.Unlock()

	text := w.deps.Engine.FirstMessage(camp)
	parts := splitParts(text)

	// First-contact pause: a human does not fire the opener the instant
	// the profile loads.
	if err := sleepCtx(ctx, scaleDuration(w.randDur(firstContactPauseMin, firstContactPauseMax), w.offset)); err != nil {
		return w.deps.Queue.Fail(ctx, task, err, true)
	}

	ids, err := w.client.SendMessagesNatural(ctx, target.Identifier(), parts, w.typingTimes(parts), w.pause())
	if err != nil {
		return w.firstMessageFailed(ctx, task, camp, target, dlg, err)
	}

	dlg.Status = model.DialogueStatusInitiated
	messages := make([]*model.Message, 0, len(parts))
	for i, part := range parts {
		m := &model.Message{ID: uuid.NewString(), DialogueID: dlg.ID, Role: model.RoleAccount, Content: part, Timestamp: now}
		if i == len(parts)-1 && len(ids) > 0 {
			m.TelegramMessageID = ids[len(ids)-1]
		}
		messages = append(messages, m)
		_ = dlg.Append(*m)
	}

	acc.Counters.DailyConversationsStarted++
	acc.Counters.HourlyOutreachSent++
	acc.Counters.TotalConversations++
	acc.Counters.TotalMessagesSent += len(parts)
	acc.Touch(now)

	target.DialogueID = dlg.ID
	err = w.deps.Tx.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := w.deps.Dialogues.Save(ctx, tx, dlg, false); err != nil {
			return err
		}
		for _, m := range messages {
			if err := w.deps.Dialogues.AppendMessage(ctx, tx, m); err != nil {
				return err
			}
		}
		if err := w.deps.Targets.Save(ctx, tx, target); err != nil {
			return err
		}
		if err := w.deps.Targets.UpdateStatus(ctx, tx, target.ID, model.TargetStatusContacted, ""); err != nil {
			return err
		}
		if err := w.deps.Campaigns.BumpStats(ctx, tx, camp.ID, len(parts), 0, 0, 0); err != nil {
			return err
		}
		return w.deps.Accounts.Save(ctx, tx, acc)
	})
	if err != nil {
		w.log.Error().Err(err).Str("dialogue_id", dlg.ID).Msg("first message persisted partially")
		return w.deps.Queue.Fail(ctx, task, err, true)
	}
	w.setAccount(acc)

	w.countSent(len(parts), now)
	metrics.IncMessageSent("first")
	metrics.IncTask(string(task.Type), "completed")
	w.log.Info().Str("dialogue_id", dlg.ID).Str("target", target.Identifier()).Msg("first message sent")
	return w.deps.Queue.Complete(ctx, task)
}

func (w *Worker) firstMessageFailed(ctx context.Context, task *model.Task, camp *model.Campaign, target *model.UserTarget, dlg *model.Dialogue, sendErr error) error {
	now := time.Now()
	switch {
	case domain.IsPrivacy(sendErr):
		target.Fail("privacy_settings")
		dlg.Fail("privacy_settings")
		if err := w.deps.Dialogues.Save(ctx, nil, dlg, false); err != nil {
			w.log.Warn().Err(err).Msg("failed dialogue not persisted")
		}
		_ = w.deps.Targets.Save(ctx, nil, target)
		if err := w.deps.Results.Record(camp.ID, results.KindFailure, target.Identifier(), "privacy_settings", now); err != nil {
			w.log.Warn().Err(err).Msg("result record failed")
		}
		metrics.IncDialogueFinished("failed", "privacy_settings")
		metrics.IncTask(string(task.Type), "dead_letter")
		return w.deps.Queue.Fail(ctx, task, sendErr, false)
	case domain.IsAuth(sendErr):
		_ = w.deps.Queue.Fail(ctx, task, sendErr, true)
		return sendErr
	default:
		if wait, ok := domain.AsFlood(sendErr); ok {
			w.log.Warn().Dur("wait", wait).Msg("flood wait on first message")
			_ = sleepCtx(ctx, wait)
		}
		metrics.IncTask(string(task.Type), "retried")
		if err := w.deps.Queue.Fail(ctx, task, sendErr, true); err != nil {
			return err
		}
		if domain.IsNetwork(sendErr) {
			return sendErr
		}
		return nil
	}
}

// processDueFollowUps revisits dialogues whose next_action_at has passed.
func (w *Worker) processDueFollowUps(ctx context.Context) error {
	now := time.Now()
	due, err := w.deps.Dialogues.FindDueFollowUps(ctx, nil, w.accountID, now, dueFollowUpPage)
	if err != nil {
		return err
	}
	for _, dlg := range due {
		if err := w.followUpDialogue(ctx, dlg); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) handleFollowUpTask(ctx context.Context, task *model.Task) error {
	dlg, err := w.deps.Dialogues.FindByID(ctx, nil, task.DialogueID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return w.deps.Queue.Complete(ctx, task)
		}
		return w.deps.Queue.Fail(ctx, task, err, true)
	}
	if err := w.followUpDialogue(ctx, dlg); err != nil {
		metrics.IncTask(string(task.Type), "retried")
		return w.deps.Queue.Fail(ctx, task, err, true)
	}
	metrics.IncTask(string(task.Type), "completed")
	return w.deps.Queue.Complete(ctx, task)
}

func (w *Worker) followUpDialogue(ctx context.Context, dlg *model.Dialogue) error {
	lock := w.locks.get(dlg.ID)
	lock.Lock()
	defer lock.Unlock()

	if dlg.Terminal() {
		return nil
	}
	acc := w.snapshot()
	now := time.Now()
	if !acc.CanRespond() {
		return nil
	}
	camp, err := w.deps.Campaigns.FindByID(ctx, nil, dlg.CampaignID)
	if err != nil {
		return err
	}

	if !camp.Sending.FollowUpEnabled || dlg.FollowUpCount >= followUpLimit {
		return w.expireDialogue(ctx, dlg, camp)
	}

	base := len(dlg.Messages)
	res, err := w.deps.Engine.FollowUp(ctx, dlg, camp, now)
	if err != nil {
		return err
	}

	ids, err := w.client.SendMessagesNatural(ctx, recipientOf(dlg), res.Messages, w.typingTimes(res.Messages), w.pause())
	if err != nil {
		if wait, ok := domain.AsFlood(err); ok {
			_ = sleepCtx(ctx, wait)
		}
		return err
	}

	dlg.FollowUpCount++
	if backoff, ok := model.FollowUpBackoff(dlg.FollowUpCount + 1); ok {
		dlg.ScheduleNextAction(now.Add(backoff))
	} else {
		// Out of budget; the next due pass expires the dialogue.
		dlg.ScheduleNextAction(now.Add(24 * time.Hour))
	}
	acc.Counters.HourlyResponsesSent++
	acc.Counters.TotalMessagesSent += len(res.Messages)
	acc.Touch(now)

	if err := w.persistTurn(ctx, dlg, acc, base, ids); err != nil {
		return err
	}
	w.countSent(len(res.Messages), now)
	metrics.IncMessageSent("follow_up")
	w.log.Info().Str("dialogue_id", dlg.ID).Int("follow_up", dlg.FollowUpCount).Msg("follow-up sent")
	return nil
}

func (w *Worker) expireDialogue(ctx context.Context, dlg *model.Dialogue, camp *model.Campaign) error {
	dlg.Status = model.DialogueStatusExpired
	dlg.NextActionAt = nil
	dlg.UpdatedAt = time.Now()
	if err := w.deps.Dialogues.Save(ctx, nil, dlg, false); err != nil {
		return err
	}
	if dlg.TargetID != "" {
		if target, err := w.deps.Targets.FindByID(ctx, nil, dlg.TargetID); err == nil && !target.Terminal() {
			_ = w.deps.Targets.UpdateStatus(ctx, nil, target.ID, model.TargetStatusFailed, "no_response")
			if err := w.deps.Results.Record(camp.ID, results.KindFailure, target.Identifier(), "no_response", time.Now()); err != nil {
				w.log.Warn().Err(err).Msg("result record failed")
			}
		}
	}
	metrics.IncDialogueFinished("expired", "no_response")
	w.log.Info().Str("dialogue_id", dlg.ID).Msg("dialogue expired after follow-up budget")
	return nil
}

// onIncoming feeds the batcher; the heavy lifting happens on flush.
func (w *Worker) onIncoming(ctx context.Context, msg adapter.IncomingMessage) {
	w.batcher.Add(msg.TelegramUserID, msg.Username, msg.Text, msg.MessageID)
}

// handleBatch runs the inbound pipeline for one coalesced user turn.
func (w *Worker) handleBatch(ctx context.Context, b Batch) {
	if w.warmup != nil && w.warmup.Active() {
		return
	}
	acc := w.snapshot()
	if !acc.CanRespond() {
		w.log.Debug().Int64("user_id", b.TelegramUserID).Msg("response limit reached, dropping inbound turn")
		return
	}

	dlg, err := w.deps.Dialogues.FindOpenByPeer(ctx, nil, w.accountID, b.TelegramUserID, b.Username)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			w.log.Warn().Err(err).Msg("dialogue lookup failed")
			w.countError()
		}
		return
	}

	lock := w.locks.get(dlg.ID)
	lock.Lock()
	defer lock.Unlock()

	camp, err := w.deps.Campaigns.FindByID(ctx, nil, dlg.CampaignID)
	if err != nil {
		w.log.Warn().Err(err).Msg("campaign lookup failed")
		w.countError()
		return
	}

	now := time.Now()
	statsBefore := camp.Stats
	base := len(dlg.Messages)

	res, err := w.deps.Engine.ProcessInbound(ctx, dlg, camp, b.Text, now)
	if err != nil {
		w.log.Error().Err(err).Str("dialogue_id", dlg.ID).Msg("inbound processing failed")
		w.countError()
		return
	}

	// Read like a human: pause proportional to the inbound length, then ack.
	if err := sleepCtx(ctx, scaleDuration(w.readDelay(b.Text), w.offset)); err != nil {
		return
	}
	if err := w.client.MarkAsRead(ctx, recipientOf(dlg), b.LastMessageID); err != nil {
		w.log.Debug().Err(err).Msg("mark as read failed")
	}

	var sentIDs []int
	if len(res.Messages) > 0 {
		sentIDs, err = w.client.SendMessagesNatural(ctx, recipientOf(dlg), res.Messages, w.typingTimes(res.Messages), w.pause())
		if err != nil {
			w.log.Error().Err(err).Str("dialogue_id", dlg.ID).Msg("send failed")
			w.countError()
			if wait, ok := domain.AsFlood(err); ok {
				_ = sleepCtx(ctx, wait)
			}
			return
		}
		acc.Counters.HourlyResponsesSent++
		acc.Counters.TotalMessagesSent += len(res.Messages)
		acc.Touch(now)
		if !res.Finished {
			camp.Stats.MessagesSent += len(res.Messages)
		}
	}

	w.applyAction(ctx, dlg, camp, res, now)

	if err := w.persistTurn(ctx, dlg, acc, base, sentIDs); err != nil {
		w.log.Error().Err(err).Str("dialogue_id", dlg.ID).Msg("turn persistence failed")
		w.countError()
		return
	}
	w.bumpCampaignStats(ctx, camp.ID, statsBefore, camp.Stats)
	w.applyTargetOutcome(ctx, dlg, camp, res, now)

	if len(res.Messages) > 0 {
		w.countSent(len(res.Messages), now)
		metrics.IncMessageSent("response")
		if res.LinkSent {
			metrics.IncMessageSent("link")
		}
	}
}

// applyAction executes the side-effect of the parsed action tag.
func (w *Worker) applyAction(ctx context.Context, dlg *model.Dialogue, camp *model.Campaign, res *engine.Result, now time.Time) {
	switch res.Action {
	case engine.ActionSendLinks:
		if dlg.GoalMessageSent || res.LinkSent {
			return
		}
		block := engine.LinkBlock(rand.New(rand.NewSource(now.UnixNano())), camp.Goal.TargetURL, dlg.LinkSentCount > 0)
		ids, err := w.client.SendMessagesNatural(ctx, recipientOf(dlg), []string{block}, w.typingTimes([]string{block}), w.pause())
		if err != nil {
			w.log.Warn().Err(err).Msg("link delivery failed")
			w.countError()
			return
		}
		m := model.Message{Role: model.RoleAccount, Content: block, Timestamp: now}
		if len(ids) > 0 {
			m.TelegramMessageID = ids[len(ids)-1]
		}
		_ = dlg.Append(m)
		dlg.LinkSentCount++
		dlg.MarkGoalReached(now)
		camp.Stats.GoalsReached++
		res.GoalReached = true
		res.LinkSent = true
		metrics.IncMessageSent("link")
	case engine.ActionNegativeFinish:
		dlg.Status = model.DialogueStatusCompleted
		dlg.UpdatedAt = now
		metrics.IncDialogueFinished("completed", "negative_finish")
	case engine.ActionHandoff:
		dlg.Status = model.DialogueStatusPaused
		dlg.NeedsReview = true
		dlg.UpdatedAt = now
	case engine.ActionCreativeSent:
		dlg.CreativeSent = true
	}
}

// persistTurn writes the dialogue scalars and every message appended since
// base in one transaction, stamping the last outbound telegram id.
func (w *Worker) persistTurn(ctx context.Context, dlg *model.Dialogue, acc *model.Account, base int, sentIDs []int) error {
	newMessages := make([]*model.Message, 0, len(dlg.Messages)-base)
	lastOutbound := -1
	for i := base; i < len(dlg.Messages); i++ {
		m := &dlg.Messages[i]
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.Role == model.RoleAccount {
			lastOutbound = len(newMessages)
		}
		newMessages = append(newMessages, m)
	}
	if lastOutbound >= 0 && len(sentIDs) > 0 && newMessages[lastOutbound].TelegramMessageID == 0 {
		newMessages[lastOutbound].TelegramMessageID = sentIDs[len(sentIDs)-1]
	}

	err := w.deps.Tx.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := w.deps.Dialogues.Save(ctx, tx, dlg, false); err != nil {
			return err
		}
		for _, m := range newMessages {
			if err := w.deps.Dialogues.AppendMessage(ctx, tx, m); err != nil {
				return err
			}
		}
		return w.deps.Accounts.Save(ctx, tx, acc)
	})
	if err != nil {
		return err
	}
	w.setAccount(acc)
	return nil
}

func (w *Worker) bumpCampaignStats(ctx context.Context, campaignID string, before, after model.CampaignStats) {
	sent := after.MessagesSent - before.MessagesSent
	responded := after.Responded - before.Responded
	goals := after.GoalsReached - before.GoalsReached
	failed := after.Failed - before.Failed
	if sent == 0 && responded == 0 && goals == 0 && failed == 0 {
		return
	}
	if err := w.deps.Campaigns.BumpStats(ctx, nil, campaignID, sent, responded, goals, failed); err != nil {
		w.log.Warn().Err(err).Msg("campaign stats bump failed")
	}
}

// applyTargetOutcome mirrors the dialogue outcome onto the target and the
// result files.
func (w *Worker) applyTargetOutcome(ctx context.Context, dlg *model.Dialogue, camp *model.Campaign, res *engine.Result, now time.Time) {
	if dlg.TargetID == "" {
		return
	}
	target, err := w.deps.Targets.FindByID(ctx, nil, dlg.TargetID)
	if err != nil {
		w.log.Warn().Err(err).Msg("target lookup failed")
		return
	}

	record := func(kind results.Kind, reason string) {
		if err := w.deps.Results.Record(camp.ID, kind, target.Identifier(), reason, now); err != nil {
			w.log.Warn().Err(err).Msg("result record failed")
		}
		if err := w.deps.Results.RemoveFromSource(camp.Sending.SourceFilePath, target.Identifier()); err != nil {
			w.log.Warn().Err(err).Msg("source list cleanup failed")
		}
	}

	switch {
	case res.GoalReached:
		_ = w.deps.Targets.UpdateStatus(ctx, nil, target.ID, model.TargetStatusConverted, "")
		record(results.KindSuccess, "")
	case res.Finished:
		if !target.Terminal() {
			_ = w.deps.Targets.UpdateStatus(ctx, nil, target.ID, model.TargetStatusFailed, res.FailReason)
		}
		record(results.KindFailure, res.FailReason)
		metrics.IncDialogueFinished("failed", res.FailReason)
	case res.Action == engine.ActionNegativeFinish:
		if !target.Terminal() {
			_ = w.deps.Targets.UpdateStatus(ctx, nil, target.ID, model.TargetStatusCompleted, "")
		}
		record(results.KindOther, "negative_finish")
	case res.FirstResponse:
		_ = w.deps.Targets.UpdateStatus(ctx, nil, target.ID, model.TargetStatusInProgress, "")
	}
}

func (w *Worker) initWarmup(ctx context.Context) {
	state, err := w.deps.Warmups.FindWarmup(ctx, nil, w.accountID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			w.log.Warn().Err(err).Msg("warm-up lookup failed")
		}
		return
	}
	profile, err := w.deps.Warmups.FindProfile(ctx, nil, state.ProfileID)
	if err != nil {
		w.log.Warn().Err(err).Msg("warm-up profile lookup failed")
		return
	}
	w.warmup = newWarmupRunner(w.deps, w.accountID, state, profile, &w.log)
}

// refresh reloads the account snapshot from the database.
func (w *Worker) refresh(ctx context.Context) (*model.Account, error) {
	acc, err := w.deps.Accounts.FindByID(ctx, nil, w.accountID)
	if err != nil {
		return nil, err
	}
	w.setAccount(acc)
	return acc, nil
}

func (w *Worker) snapshot() *model.Account {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := *w.account
	return &cp
}

func (w *Worker) setAccount(acc *model.Account) {
	w.mu.Lock()
	w.account = acc
	w.mu.Unlock()
}

func (w *Worker) countSent(n int, at time.Time) {
	w.statMu.Lock()
	w.messagesSent += n
	w.lastMessage = at
	w.statMu.Unlock()
}

func (w *Worker) countError() {
	w.statMu.Lock()
	w.errorCount++
	w.statMu.Unlock()
}

func (w *Worker) randDur(min, max time.Duration) time.Duration {
	w.rngMu.Lock()
	defer w.rngMu.Unlock()
	return uniformDuration(w.rng, min, max)
}

func (w *Worker) readDelay(text string) time.Duration {
	w.rngMu.Lock()
	defer w.rngMu.Unlock()
	return readingDelay(text, w.rng)
}

func (w *Worker) pause() time.Duration {
	w.rngMu.Lock()
	defer w.rngMu.Unlock()
	return interPartPause(w.rng)
}

func (w *Worker) typingTimes(parts []string) []time.Duration {
	w.rngMu.Lock()
	defer w.rngMu.Unlock()
	out := make([]time.Duration, len(parts))
	for i, p := range parts {
		out[i] = scaleDuration(typingTime(p, w.rng), w.offset)
	}
	return out
}

func splitParts(text string) []string {
	raw := strings.Split(text, "|||")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

func recipientOf(dlg *model.Dialogue) string {
	if dlg.Username != "" {
		return dlg.Username
	}
	return strconv.FormatInt(dlg.TelegramUserID, 10)
}
