package worker

import (
	"context"
	"strings"
	"sync"
	"time"

	"telegram-outreach-fleet/internal/domain"
	"telegram-outreach-fleet/internal/domain/model"
	"telegram-outreach-fleet/internal/domain/ports/adapter"
	"telegram-outreach-fleet/internal/domain/ports/queue"
	"telegram-outreach-fleet/internal/domain/ports/repository"
)

// In-memory fakes for the repository, queue, locker and Telegram surfaces.
// They mirror only the behavior the worker observes.

type fakeAccounts struct {
	mu   sync.Mutex
	rows map[string]*model.Account
}

func newFakeAccounts(accs ...*model.Account) *fakeAccounts {
	f := &fakeAccounts{rows: map[string]*model.Account{}}
	for _, a := range accs {
		cp := *a
		f.rows[a.ID] = &cp
	}
	return f
}

func (f *fakeAccounts) Save(_ context.Context, _ repository.Tx, a *model.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *a
	f.rows[a.ID] = &cp
	return nil
}

func (f *fakeAccounts) FindByID(_ context.Context, _ repository.Tx, id string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAccounts) FindStartable(_ context.Context, _ repository.Tx) ([]*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Account
	for _, a := range f.rows {
		if a.Status == model.AccountStatusActive && a.HasSession() && a.CampaignID != "" {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeAccounts) UpdateStatus(_ context.Context, _ repository.Tx, id string, st model.AccountStatus, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Status = st
	return nil
}

func (f *fakeAccounts) ResetHourlyCounters(context.Context, repository.Tx) (int, error) {
	return 0, nil
}

func (f *fakeAccounts) ResetDailyCounters(context.Context, repository.Tx, int, time.Time) (int, error) {
	return 0, nil
}

func (f *fakeAccounts) status(id string) model.AccountStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id].Status
}

type fakeProxies struct {
	mu   sync.Mutex
	rows map[string]*model.Proxy
}

func newFakeProxies(proxies ...*model.Proxy) *fakeProxies {
	f := &fakeProxies{rows: map[string]*model.Proxy{}}
	for _, p := range proxies {
		cp := *p
		f.rows[p.ID] = &cp
	}
	return f
}

func (f *fakeProxies) Save(_ context.Context, _ repository.Tx, p *model.Proxy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.rows[p.ID] = &cp
	return nil
}

func (f *fakeProxies) FindByID(_ context.Context, _ repository.Tx, id string) (*model.Proxy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProxies) ListAvailable(_ context.Context, _ repository.Tx, limit int) ([]*model.Proxy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Proxy
	for _, p := range f.rows {
		if p.AccountID == "" && p.Available() && len(out) < limit {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeProxies) ListAll(context.Context, repository.Tx) ([]*model.Proxy, error) {
	return nil, nil
}

func (f *fakeProxies) Assign(_ context.Context, _ repository.Tx, proxyID, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[proxyID]
	if !ok {
		return domain.ErrNotFound
	}
	if p.AccountID != "" && p.AccountID != accountID {
		return domain.ErrProxyTaken
	}
	p.AccountID = accountID
	return nil
}

func (f *fakeProxies) Release(_ context.Context, _ repository.Tx, proxyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.rows[proxyID]; ok {
		p.AccountID = ""
	}
	return nil
}

type fakeApps struct {
	app *model.TelegramApp
}

func (f *fakeApps) Save(context.Context, repository.Tx, *model.TelegramApp) error { return nil }

func (f *fakeApps) FindByID(_ context.Context, _ repository.Tx, id string) (*model.TelegramApp, error) {
	if f.app == nil || f.app.ID != id {
		return nil, domain.ErrNotFound
	}
	cp := *f.app
	return &cp, nil
}

func (f *fakeApps) FindWithCapacity(context.Context, repository.Tx) (*model.TelegramApp, error) {
	if f.app == nil {
		return nil, domain.ErrTelegramAppsFull
	}
	cp := *f.app
	return &cp, nil
}

type fakeCampaigns struct {
	mu      sync.Mutex
	rows    map[string]*model.Campaign
	batched map[string]time.Time
}

func newFakeCampaigns(camps ...*model.Campaign) *fakeCampaigns {
	f := &fakeCampaigns{rows: map[string]*model.Campaign{}, batched: map[string]time.Time{}}
	for _, c := range camps {
		cp := *c
		f.rows[c.ID] = &cp
	}
	return f
}

func (f *fakeCampaigns) Save(_ context.Context, _ repository.Tx, c *model.Campaign) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.rows[c.ID] = &cp
	return nil
}

func (f *fakeCampaigns) FindByID(_ context.Context, _ repository.Tx, id string) (*model.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCampaigns) FindActive(context.Context, repository.Tx) ([]*model.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Campaign
	for _, c := range f.rows {
		if c.Status == model.CampaignStatusActive {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeCampaigns) BumpStats(_ context.Context, _ repository.Tx, id string, sent, responded, goals, failed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Stats.MessagesSent += sent
	c.Stats.Responded += responded
	c.Stats.GoalsReached += goals
	c.Stats.Failed += failed
	return nil
}

func (f *fakeCampaigns) MarkBatch(_ context.Context, _ repository.Tx, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batched[id] = at
	if c, ok := f.rows[id]; ok {
		t := at
		c.Sending.LastBatchAt = &t
	}
	return nil
}

func (f *fakeCampaigns) stats(id string) model.CampaignStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id].Stats
}

type fakeTargets struct {
	mu   sync.Mutex
	rows map[string]*model.UserTarget
}

func newFakeTargets(targets ...*model.UserTarget) *fakeTargets {
	f := &fakeTargets{rows: map[string]*model.UserTarget{}}
	for _, tg := range targets {
		cp := *tg
		f.rows[tg.ID] = &cp
	}
	return f
}

func (f *fakeTargets) Save(_ context.Context, _ repository.Tx, t *model.UserTarget) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	f.rows[t.ID] = &cp
	return nil
}

func (f *fakeTargets) FindByID(_ context.Context, _ repository.Tx, id string) (*model.UserTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTargets) FindPending(_ context.Context, _ repository.Tx, campaignID string, limit int) ([]*model.UserTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.UserTarget
	for _, t := range f.rows {
		if t.CampaignID == campaignID && t.Status == model.TargetStatusPending && len(out) < limit {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeTargets) UpdateStatus(_ context.Context, _ repository.Tx, id string, st model.TargetStatus, failReason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = st
	t.FailReason = failReason
	return nil
}

func (f *fakeTargets) get(id string) *model.UserTarget {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.rows[id]
	return &cp
}

type fakeDialogues struct {
	mu   sync.Mutex
	rows map[string]*model.Dialogue
}

func newFakeDialogues(dlgs ...*model.Dialogue) *fakeDialogues {
	f := &fakeDialogues{rows: map[string]*model.Dialogue{}}
	for _, d := range dlgs {
		f.rows[d.ID] = cloneDialogue(d)
	}
	return f
}

func cloneDialogue(d *model.Dialogue) *model.Dialogue {
	cp := *d
	cp.Messages = append([]model.Message(nil), d.Messages...)
	return &cp
}

func (f *fakeDialogues) Save(_ context.Context, _ repository.Tx, d *model.Dialogue, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.rows[d.ID]
	cp := *d
	if ok {
		// scalars only, the message log is append-only
		cp.Messages = existing.Messages
	} else {
		cp.Messages = nil
	}
	f.rows[d.ID] = &cp
	return nil
}

func (f *fakeDialogues) AppendMessage(_ context.Context, _ repository.Tx, m *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.rows[m.DialogueID]
	if !ok {
		return domain.ErrNotFound
	}
	d.Messages = append(d.Messages, *m)
	return nil
}

func (f *fakeDialogues) SetMessageTelegramID(context.Context, repository.Tx, string, int) error {
	return nil
}

func (f *fakeDialogues) FindByID(_ context.Context, _ repository.Tx, id string) (*model.Dialogue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneDialogue(d), nil
}

func (f *fakeDialogues) FindOpenByPeer(_ context.Context, _ repository.Tx, accountID string, telegramUserID int64, username string) (*model.Dialogue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.rows {
		if d.AccountID != accountID || d.Terminal() {
			continue
		}
		if (telegramUserID != 0 && d.TelegramUserID == telegramUserID) ||
			(username != "" && strings.EqualFold(d.Username, username)) {
			return cloneDialogue(d), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeDialogues) FindDueFollowUps(_ context.Context, _ repository.Tx, accountID string, now time.Time, limit int) ([]*model.Dialogue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Dialogue
	for _, d := range f.rows {
		if d.AccountID != accountID || d.Terminal() || d.NextActionAt == nil {
			continue
		}
		if !d.NextActionAt.After(now) && len(out) < limit {
			out = append(out, cloneDialogue(d))
		}
	}
	return out, nil
}

func (f *fakeDialogues) get(id string) *model.Dialogue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneDialogue(f.rows[id])
}

type fakeWarmups struct {
	warmup   *model.AccountWarmup
	profile  *model.WarmupProfile
	channels []*model.WarmupChannel
	groups   []*model.WarmupGroup
}

func (f *fakeWarmups) SaveWarmup(_ context.Context, _ repository.Tx, w *model.AccountWarmup) error {
	cp := *w
	f.warmup = &cp
	return nil
}

func (f *fakeWarmups) FindWarmup(_ context.Context, _ repository.Tx, accountID string) (*model.AccountWarmup, error) {
	if f.warmup == nil || f.warmup.AccountID != accountID {
		return nil, domain.ErrNotFound
	}
	cp := *f.warmup
	return &cp, nil
}

func (f *fakeWarmups) FindProfile(_ context.Context, _ repository.Tx, id string) (*model.WarmupProfile, error) {
	if f.profile == nil || f.profile.ID != id {
		return nil, domain.ErrNotFound
	}
	cp := *f.profile
	return &cp, nil
}

func (f *fakeWarmups) ListChannels(context.Context, repository.Tx) ([]*model.WarmupChannel, error) {
	return f.channels, nil
}

func (f *fakeWarmups) ListGroups(context.Context, repository.Tx) ([]*model.WarmupGroup, error) {
	return f.groups, nil
}

func (f *fakeWarmups) FindPersona(context.Context, repository.Tx, string) (*model.AccountPersona, error) {
	return nil, domain.ErrNotFound
}

type fakeTx struct{}

func (fakeTx) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}

// fakeQueue is a FIFO with in-flight tracking, no backoff simulation.
type fakeQueue struct {
	mu        sync.Mutex
	pending   map[string][]*model.Task
	completed []*model.Task
	failed    []*model.Task // retried
	dead      []*model.Task
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{pending: map[string][]*model.Task{}}
}

func (q *fakeQueue) Enqueue(_ context.Context, task *model.Task, priority bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if priority {
		q.pending[task.AccountID] = append([]*model.Task{task}, q.pending[task.AccountID]...)
	} else {
		q.pending[task.AccountID] = append(q.pending[task.AccountID], task)
	}
	return nil
}

func (q *fakeQueue) Dequeue(_ context.Context, accountID string, _ time.Duration) (*model.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.pending[accountID]
	if len(list) == 0 {
		return nil, nil
	}
	task := list[0]
	q.pending[accountID] = list[1:]
	return task, nil
}

func (q *fakeQueue) Complete(_ context.Context, task *model.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, task)
	return nil
}

func (q *fakeQueue) Fail(_ context.Context, task *model.Task, taskErr error, retry bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if taskErr != nil {
		task.LastError = taskErr.Error()
	}
	if retry && task.CanRetry() {
		task.RetryCount++
		q.failed = append(q.failed, task)
	} else {
		q.dead = append(q.dead, task)
	}
	return nil
}

func (q *fakeQueue) RecoverProcessingTasks(context.Context) (int, error) { return 0, nil }

func (q *fakeQueue) Depth(_ context.Context, accountID string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending[accountID])), nil
}

func (q *fakeQueue) Stats(context.Context) (*queue.Stats, error) {
	return &queue.Stats{}, nil
}

func (q *fakeQueue) depth(accountID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[accountID])
}

func (q *fakeQueue) completedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.completed)
}

type sentCall struct {
	recipient string
	parts     []string
}

// fakeClient records the send traffic and lets tests inject one error.
type fakeClient struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	handler   adapter.MessageHandler
	sent      []sentCall
	read      []int
	joined    []string
	sendErr   error
	joinErr   error
	nextID    int
}

func (c *fakeClient) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return nil
}

func (c *fakeClient) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) SendMessage(_ context.Context, recipient, text string, _ int) (int, error) {
	ids, err := c.SendMessagesNatural(context.Background(), recipient, []string{text}, nil, 0)
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

func (c *fakeClient) SendMessagesNatural(_ context.Context, recipient string, parts []string, _ []time.Duration, _ time.Duration) ([]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		err := c.sendErr
		c.sendErr = nil
		return nil, err
	}
	c.sent = append(c.sent, sentCall{recipient: recipient, parts: append([]string(nil), parts...)})
	ids := make([]int, len(parts))
	for i := range parts {
		c.nextID++
		ids[i] = c.nextID
	}
	return ids, nil
}

func (c *fakeClient) MarkAsRead(_ context.Context, _ string, maxID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.read = append(c.read, maxID)
	return nil
}

func (c *fakeClient) TypeAndWait(context.Context, string, time.Duration) error { return nil }

func (c *fakeClient) JoinChannel(_ context.Context, link string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.joinErr != nil {
		return c.joinErr
	}
	c.joined = append(c.joined, link)
	return nil
}

func (c *fakeClient) LeaveChannel(context.Context, string) error { return nil }

func (c *fakeClient) ScrapeParticipants(context.Context, string, adapter.ScrapeOptions) ([]adapter.Participant, error) {
	return nil, nil
}

func (c *fakeClient) ReadRandomChannel(context.Context) error                 { return nil }
func (c *fakeClient) ReadRandomDialog(context.Context) error                  { return nil }
func (c *fakeClient) ReactToRandomPost(context.Context, string) error         { return nil }
func (c *fakeClient) ViewRandomProfile(context.Context) error                 { return nil }
func (c *fakeClient) TypeInRandomDialog(context.Context, time.Duration) error { return nil }
func (c *fakeClient) SetOnline(context.Context, bool) error                   { return nil }

func (c *fakeClient) OnMessage(h adapter.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

func (c *fakeClient) sentCalls() []sentCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentCall(nil), c.sent...)
}

func (c *fakeClient) failNextSend(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

type fakeFactory struct {
	mu      sync.Mutex
	clients []*fakeClient
}

func (f *fakeFactory) New(string, string, string, int, string) (adapter.TelegramClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeClient{}
	f.clients = append(f.clients, c)
	return c, nil
}

func (f *fakeFactory) last() *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) == 0 {
		return nil
	}
	return f.clients[len(f.clients)-1]
}

type fakeLocker struct {
	mu     sync.Mutex
	locked map[string]string
}

func newFakeLocker() *fakeLocker { return &fakeLocker{locked: map[string]string{}} }

func (l *fakeLocker) TryLock(_ context.Context, accountID string, _ time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.locked[accountID]; held {
		return "", domain.ErrSessionLocked
	}
	token := "tok-" + accountID
	l.locked[accountID] = token
	return token, nil
}

func (l *fakeLocker) Unlock(_ context.Context, accountID, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked[accountID] == token {
		delete(l.locked, accountID)
	}
	return nil
}

func (l *fakeLocker) Refresh(_ context.Context, accountID, token string, _ time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked[accountID] != token {
		return domain.ErrSessionLocked
	}
	return nil
}

func (l *fakeLocker) held(accountID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.locked[accountID]
	return ok
}

// fakeLLM returns a scripted reply.
type fakeLLM struct {
	reply string
	err   error
}

func (f *fakeLLM) Generate(_ context.Context, _ []adapter.Message, params adapter.GenerateParams) (*adapter.Reply, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &adapter.Reply{Content: f.reply, Model: params.Model, Usage: adapter.Usage{TotalTokens: 20}}, nil
}

func (f *fakeLLM) CountTokens(string, []adapter.Message) (int, error) { return 10, nil }
