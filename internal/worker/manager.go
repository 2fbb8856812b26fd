package worker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"telegram-outreach-fleet/internal/config"
	"telegram-outreach-fleet/internal/domain/model"
	"telegram-outreach-fleet/internal/domain/ports/queue"
	"telegram-outreach-fleet/internal/infra/metrics"
)

// ManagerStats is the fleet roll-up served on /stats.
type ManagerStats struct {
	Workers []Stats      `json:"workers"`
	Queue   *queue.Stats `json:"queue,omitempty"`
}

// Manager owns the worker fleet: starts and stops workers against the
// database state, distributes campaign targets and restarts dead workers.
type Manager struct {
	deps Deps
	cfg  config.FleetConfig
	log  zerolog.Logger

	mu      sync.Mutex
	workers map[string]*Worker
	cursor  map[string]int // campaign id → round-robin position

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(deps Deps, cfg config.FleetConfig) *Manager {
	l := deps.Log.With().Str("component", "WorkerManager").Logger()
	return &Manager{
		deps:    deps,
		cfg:     cfg,
		log:     l,
		workers: make(map[string]*Worker),
		cursor:  make(map[string]int),
	}
}

// Start recovers orphaned tasks, boots a worker per startable account and
// launches the periodic jobs.
func (m *Manager) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	if n, err := m.deps.Queue.RecoverProcessingTasks(runCtx); err != nil {
		m.log.Warn().Err(err).Msg("task recovery failed")
	} else if n > 0 {
		m.log.Info().Int("tasks", n).Msg("recovered in-flight tasks")
	}

	accounts, err := m.deps.Accounts.FindStartable(runCtx, nil)
	if err != nil {
		return err
	}
	for _, acc := range accounts {
		if m.workerCount() >= m.cfg.MaxWorkers {
			m.log.Warn().Int("max", m.cfg.MaxWorkers).Msg("worker cap reached, remaining accounts stay parked")
			break
		}
		m.startWorker(runCtx, acc)
		if err := sleepCtx(runCtx, m.cfg.StartSpacing); err != nil {
			return err
		}
	}

	// Let connections settle before the first target wave.
	if err := sleepCtx(runCtx, firstDistributeDelay); err != nil {
		return err
	}
	m.distribute(runCtx)

	m.job(runCtx, m.cfg.DistributeInterval, m.distribute)
	m.job(runCtx, m.cfg.HealthInterval, m.health)
	m.job(runCtx, m.cfg.SyncInterval, m.sync)

	m.log.Info().Int("workers", m.workerCount()).Msg("manager started")
	return nil
}

// Stop halts the jobs and shuts every worker down.
func (m *Manager) Stop(ctx context.Context) {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	workers := make([]*Worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.workers = make(map[string]*Worker)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Stop(ctx)
		}(w)
	}
	wg.Wait()
	metrics.SetWorkersRunning(0)
	m.log.Info().Msg("manager stopped")
}

func (m *Manager) job(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
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

func (m *Manager) startWorker(ctx context.Context, acc *model.Account) {
	w := New(m.deps, acc)
	if err := w.Start(ctx); err != nil {
		m.log.Warn().Err(err).Str("account_id", acc.ID).Msg("worker start failed")
		return
	}
	m.mu.Lock()
	m.workers[acc.ID] = w
	n := len(m.workers)
	m.mu.Unlock()
	metrics.SetWorkersRunning(n)
}

func (m *Manager) workerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// distribute enqueues one batch of first-message tasks per due campaign,
// spreading targets round-robin over that campaign's available workers.
func (m *Manager) distribute(ctx context.Context) {
	campaigns, err := m.deps.Campaigns.FindActive(ctx, nil)
	if err != nil {
		m.log.Warn().Err(err).Msg("active campaign listing failed")
		return
	}
	now := time.Now()
	for _, camp := range campaigns {
		if !camp.BatchDue(now) {
			continue
		}
		targets, err := m.deps.Targets.FindPending(ctx, nil, camp.ID, m.cfg.TargetsPerBatch)
		if err != nil {
			m.log.Warn().Err(err).Str("campaign_id", camp.ID).Msg("pending target listing failed")
			continue
		}
		avail := m.availableWorkers(camp.ID, now)
		if err := camp.CanActivate(len(avail), len(targets)); err != nil {
			m.log.Debug().Err(err).Str("campaign_id", camp.ID).Msg("campaign batch skipped")
			continue
		}

		m.mu.Lock()
		start := m.cursor[camp.ID]
		m.cursor[camp.ID] = (start + len(targets)) % len(avail)
		m.mu.Unlock()

		assigned := 0
		for i, target := range targets {
			w := avail[(start+i)%len(avail)]
			task := model.NewTask(model.TaskSendFirstMessage, w.accountID, camp.ID)
			task.TargetID = target.ID
			task.Recipient = target.Identifier()
			if err := m.deps.Queue.Enqueue(ctx, task, false); err != nil {
				m.log.Warn().Err(err).Str("target_id", target.ID).Msg("enqueue failed")
				continue
			}
			if err := m.deps.Targets.UpdateStatus(ctx, nil, target.ID, model.TargetStatusAssigned, ""); err != nil {
				m.log.Warn().Err(err).Str("target_id", target.ID).Msg("target assignment not persisted")
			}
			assigned++
		}
		if err := m.deps.Campaigns.MarkBatch(ctx, nil, camp.ID, now); err != nil {
			m.log.Warn().Err(err).Str("campaign_id", camp.ID).Msg("batch mark failed")
		}
		m.log.Info().Str("campaign_id", camp.ID).Int("targets", assigned).Int("workers", len(avail)).Msg("batch distributed")
	}
	m.reportQueueDepths(ctx)
}

// availableWorkers lists this campaign's running workers that can still
// open conversations, in stable order for the round-robin cursor.
func (m *Manager) availableWorkers(campaignID string, now time.Time) []*Worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Worker, 0, len(m.workers))
	for _, w := range m.workers {
		if !w.Running() {
			continue
		}
		acc := w.snapshot()
		if acc.CampaignID != campaignID {
			continue
		}
		if w.warmup != nil && w.warmup.Active() {
			continue
		}
		if !acc.CanStartConversation(now) {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].accountID < out[j].accountID })
	return out
}

// health restarts workers that died since the last check, from a fresh
// database snapshot of the account.
func (m *Manager) health(ctx context.Context) {
	m.mu.Lock()
	dead := make([]string, 0)
	for id, w := range m.workers {
		if !w.Running() {
			dead = append(dead, id)
			delete(m.workers, id)
		}
	}
	n := len(m.workers)
	m.mu.Unlock()
	metrics.SetWorkersRunning(n)

	for _, id := range dead {
		acc, err := m.deps.Accounts.FindByID(ctx, nil, id)
		if err != nil {
			m.log.Warn().Err(err).Str("account_id", id).Msg("dead worker account lookup failed")
			continue
		}
		if acc.Status != model.AccountStatusActive || !acc.HasSession() {
			m.log.Info().Str("account_id", id).Str("status", string(acc.Status)).Msg("dead worker not restartable")
			continue
		}
		m.log.Warn().Str("account_id", id).Msg("restarting dead worker")
		metrics.IncWorkerRestart()
		m.startWorker(ctx, acc)
	}
}

// sync reconciles the fleet against the database: stops workers whose
// account left the startable set, starts workers for accounts that joined.
func (m *Manager) sync(ctx context.Context) {
	startable, err := m.deps.Accounts.FindStartable(ctx, nil)
	if err != nil {
		m.log.Warn().Err(err).Msg("startable account listing failed")
		return
	}
	want := make(map[string]*model.Account, len(startable))
	for _, acc := range startable {
		want[acc.ID] = acc
	}

	m.mu.Lock()
	var stop []*Worker
	for id, w := range m.workers {
		if _, ok := want[id]; !ok {
			stop = append(stop, w)
			delete(m.workers, id)
		} else {
			delete(want, id)
		}
	}
	n := len(m.workers)
	m.mu.Unlock()
	metrics.SetWorkersRunning(n)

	for _, w := range stop {
		m.log.Info().Str("account_id", w.accountID).Msg("stopping deactivated worker")
		w.Stop(ctx)
	}
	for _, acc := range want {
		if m.workerCount() >= m.cfg.MaxWorkers {
			break
		}
		m.log.Info().Str("account_id", acc.ID).Msg("starting newly activated worker")
		m.startWorker(ctx, acc)
		if err := sleepCtx(ctx, m.cfg.StartSpacing); err != nil {
			return
		}
	}
}

func (m *Manager) reportQueueDepths(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		if depth, err := m.deps.Queue.Depth(ctx, id); err == nil {
			metrics.SetQueueDepth(id, depth)
		}
	}
}

// Stats gathers per-worker snapshots and the queue roll-up.
func (m *Manager) Stats(ctx context.Context) ManagerStats {
	m.mu.Lock()
	workers := make([]*Worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.Unlock()

	out := ManagerStats{Workers: make([]Stats, 0, len(workers))}
	for _, w := range workers {
		out.Workers = append(out.Workers, w.Stats())
	}
	sort.Slice(out.Workers, func(i, j int) bool { return out.Workers[i].AccountID < out.Workers[j].AccountID })

	if qs, err := m.deps.Queue.Stats(ctx); err == nil {
		out.Queue = qs
	} else {
		m.log.Warn().Err(err).Msg("queue stats failed")
	}
	return out
}
