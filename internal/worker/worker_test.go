package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"telegram-outreach-fleet/internal/domain"
	"telegram-outreach-fleet/internal/domain/model"
	"telegram-outreach-fleet/internal/engine"
	"telegram-outreach-fleet/internal/infra/results"
)

func TestMain(m *testing.M) {
	// Collapse the humanization waits so unit tests finish quickly.
	loopIntervalMin, loopIntervalMax = 5*time.Millisecond, 15*time.Millisecond
	sleepNapMin, sleepNapMax = 5*time.Millisecond, 10*time.Millisecond
	firstContactPauseMin, firstContactPauseMax = time.Millisecond, 2*time.Millisecond
	warmupActionPauseMin, warmupActionPauseMax = time.Millisecond, 2*time.Millisecond
	firstDistributeDelay = 10 * time.Millisecond
	os.Exit(m.Run())
}

type env struct {
	accounts  *fakeAccounts
	proxies   *fakeProxies
	apps      *fakeApps
	campaigns *fakeCampaigns
	targets   *fakeTargets
	dialogues *fakeDialogues
	warmups   *fakeWarmups
	queue     *fakeQueue
	factory   *fakeFactory
	locker    *fakeLocker
	llm       *fakeLLM
	dir       string
	deps      Deps
}

func testAccount(id string) *model.Account {
	acc, _ := model.NewAccount(id, "+7900"+id)
	acc.Status = model.AccountStatusActive
	acc.SessionCipher = "cipher"
	acc.CampaignID = "camp-1"
	acc.ProxyID = "proxy-1"
	acc.AppID = "app-1"
	acc.Schedule.StartTime = "00:00"
	acc.Schedule.EndTime = "23:59"
	acc.Schedule.SleepEnabled = false
	return acc
}

func testCampaign() *model.Campaign {
	camp, _ := model.NewCampaign("camp-1", "crypto outreach")
	camp.Status = model.CampaignStatusActive
	camp.Prompt.SystemPrompt = "ты обычный трейдер, пишешь коротко"
	camp.Goal.TargetURL = "https://t.me/+abc"
	return camp
}

func newEnv(t *testing.T, accs ...*model.Account) *env {
	t.Helper()
	proxy, _ := model.NewProxy("proxy-1", "127.0.0.1", 1080, model.ProxyTypeSocks5)
	app, _ := model.NewTelegramApp("app-1", 12345, "hash")
	e := &env{
		accounts:  newFakeAccounts(accs...),
		proxies:   newFakeProxies(proxy),
		apps:      &fakeApps{app: app},
		campaigns: newFakeCampaigns(testCampaign()),
		targets:   newFakeTargets(),
		dialogues: newFakeDialogues(),
		warmups:   &fakeWarmups{},
		queue:     newFakeQueue(),
		factory:   &fakeFactory{},
		locker:    newFakeLocker(),
		llm:       &fakeLLM{reply: "понял"},
		dir:       t.TempDir(),
	}
	log := zerolog.Nop()
	e.deps = Deps{
		Accounts:  e.accounts,
		Proxies:   e.proxies,
		Apps:      e.apps,
		Campaigns: e.campaigns,
		Targets:   e.targets,
		Dialogues: e.dialogues,
		Warmups:   e.warmups,
		Tx:        fakeTx{},
		Queue:     e.queue,
		Clients:   e.factory,
		Engine:    engine.NewProcessor(e.llm, &log),
		Results:   results.NewRecorder(e.dir, &log),
		Locker:    e.locker,
		Log:       &log,
	}
	return e
}

// directWorker builds a worker with a preset client, bypassing Start.
func directWorker(e *env, acc *model.Account) (*Worker, *fakeClient) {
	w := New(e.deps, acc)
	client := &fakeClient{}
	w.client = client
	return w, client
}

func seedTarget(e *env, id string) *model.UserTarget {
	target, _ := model.NewUserTarget(id, "camp-1", 0, "@prospect_"+id, "")
	e.targets.Save(context.Background(), nil, target)
	return target
}

func seedDialogue(t *testing.T, e *env, accountID string, outbound ...string) *model.Dialogue {
	t.Helper()
	target := seedTarget(e, "t-"+uuid.NewString()[:8])
	dlg, err := model.NewDialogue(uuid.NewString(), accountID, "camp-1", target.ID)
	if err != nil {
		t.Fatalf("NewDialogue: %v", err)
	}
	dlg.TelegramUserID = 555
	dlg.Username = "prospect"
	dlg.Status = model.DialogueStatusInitiated
	for _, text := range outbound {
		if err := dlg.Append(model.Message{ID: uuid.NewString(), DialogueID: dlg.ID, Role: model.RoleAccount, Content: text, Timestamp: time.Now()}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := e.dialogues.Save(context.Background(), nil, dlg, false); err != nil {
		t.Fatalf("save dialogue: %v", err)
	}
	for i := range dlg.Messages {
		e.dialogues.AppendMessage(context.Background(), nil, &dlg.Messages[i])
	}
	return dlg
}

func firstMessageTask(accountID, targetID string) *model.Task {
	task := model.NewTask(model.TaskSendFirstMessage, accountID, "camp-1")
	task.TargetID = targetID
	return task
}

func TestSendFirstMessage_HappyPath(t *testing.T) {
	acc := testAccount("acc-1")
	e := newEnv(t, acc)
	w, client := directWorker(e, acc)
	target := seedTarget(e, "t-1")

	if err := w.sendFirstMessage(context.Background(), firstMessageTask("acc-1", target.ID)); err != nil {
		t.Fatalf("sendFirstMessage: %v", err)
	}

	if e.queue.completedCount() != 1 {
		t.Error("task not completed")
	}
	calls := client.sentCalls()
	if len(calls) != 1 {
		t.Fatalf("sent calls = %d, want 1", len(calls))
	}
	if calls[0].recipient != "prospect_t-1" {
		t.Errorf("recipient = %q", calls[0].recipient)
	}

	got := e.targets.get(target.ID)
	if got.Status != model.TargetStatusContacted {
		t.Errorf("target status = %s", got.Status)
	}
	if got.DialogueID == "" {
		t.Fatal("target not linked to dialogue")
	}
	dlg := e.dialogues.get(got.DialogueID)
	if dlg.Status != model.DialogueStatusInitiated {
		t.Errorf("dialogue status = %s", dlg.Status)
	}
	if len(dlg.Messages) != len(calls[0].parts) {
		t.Errorf("persisted %d messages, sent %d parts", len(dlg.Messages), len(calls[0].parts))
	}
	if dlg.Messages[len(dlg.Messages)-1].TelegramMessageID == 0 {
		t.Error("last outbound missing telegram id")
	}

	saved, _ := e.accounts.FindByID(context.Background(), nil, "acc-1")
	if saved.Counters.DailyConversationsStarted != 1 || saved.Counters.HourlyOutreachSent != 1 {
		t.Errorf("counters = %+v", saved.Counters)
	}
	if e.campaigns.stats("camp-1").MessagesSent != len(calls[0].parts) {
		t.Errorf("campaign stats = %+v", e.campaigns.stats("camp-1"))
	}
}

func TestSendFirstMessage_PrivacyIsTerminal(t *testing.T) {
	acc := testAccount("acc-1")
	e := newEnv(t, acc)
	w, client := directWorker(e, acc)
	target := seedTarget(e, "t-1")
	client.failNextSend(&domain.PrivacyError{Reason: "settings"})

	if err := w.sendFirstMessage(context.Background(), firstMessageTask("acc-1", target.ID)); err != nil {
		t.Fatalf("sendFirstMessage: %v", err)
	}

	if len(e.queue.dead) != 1 {
		t.Error("privacy failure must dead-letter, not retry")
	}
	got := e.targets.get(target.ID)
	if got.Status != model.TargetStatusFailed || got.FailReason != "privacy_settings" {
		t.Errorf("target = %s/%s", got.Status, got.FailReason)
	}
	data, err := os.ReadFile(filepath.Join(e.dir, "camp-1_failure.txt"))
	if err != nil {
		t.Fatalf("failure file missing: %v", err)
	}
	if !strings.Contains(string(data), "privacy_settings") {
		t.Errorf("failure line = %q", data)
	}
}

func TestSendFirstMessage_LimitHitRetries(t *testing.T) {
	acc := testAccount("acc-1")
	acc.Counters.HourlyOutreachSent = acc.Limits.MaxOutreachPerHour
	e := newEnv(t, acc)
	w, client := directWorker(e, acc)
	target := seedTarget(e, "t-1")

	if err := w.sendFirstMessage(context.Background(), firstMessageTask("acc-1", target.ID)); err != nil {
		t.Fatalf("sendFirstMessage: %v", err)
	}
	if len(e.queue.failed) != 1 {
		t.Error("limit hit must re-enqueue with retry")
	}
	if len(client.sentCalls()) != 0 {
		t.Error("nothing may be sent over the limit")
	}
}

func TestHandleBatch_FirstReplyGoesActive(t *testing.T) {
	acc := testAccount("acc-1")
	e := newEnv(t, acc)
	w, client := directWorker(e, acc)
	dlg := seedDialogue(t, e, "acc-1", "привет, ты на фьючах?")

	w.handleBatch(context.Background(), Batch{TelegramUserID: 555, Username: "prospect", Text: "да бывает", LastMessageID: 9})

	if len(client.read) != 1 || client.read[0] != 9 {
		t.Errorf("mark-as-read calls = %v", client.read)
	}
	calls := client.sentCalls()
	if len(calls) == 0 {
		t.Fatal("no reply sent")
	}

	saved := e.dialogues.get(dlg.ID)
	if saved.Status != model.DialogueStatusActive {
		t.Errorf("dialogue status = %s", saved.Status)
	}
	if len(saved.Messages) < 3 {
		t.Errorf("history = %d messages, want user turn + reply appended", len(saved.Messages))
	}
	if e.campaigns.stats("camp-1").Responded != 1 {
		t.Errorf("campaign stats = %+v", e.campaigns.stats("camp-1"))
	}
	accRow, _ := e.accounts.FindByID(context.Background(), nil, "acc-1")
	if accRow.Counters.HourlyResponsesSent != 1 {
		t.Errorf("hourly responses = %d", accRow.Counters.HourlyResponsesSent)
	}
	target := e.targets.get(saved.TargetID)
	if target.Status != model.TargetStatusInProgress {
		t.Errorf("target status = %s", target.Status)
	}
}

func TestHandleBatch_HandoffPausesForReview(t *testing.T) {
	acc := testAccount("acc-1")
	e := newEnv(t, acc)
	e.llm.reply = "понял тебя, сек [HANDOFF]"
	w, _ := directWorker(e, acc)
	dlg := seedDialogue(t, e, "acc-1", "привет, ты на фьючах?", "у нас тут закрытый чат")
	dlg.Status = model.DialogueStatusActive
	e.dialogues.Save(context.Background(), nil, dlg, false)

	w.handleBatch(context.Background(), Batch{TelegramUserID: 555, Username: "prospect", Text: "можешь объяснить подробнее как это работает у вас", LastMessageID: 3})

	saved := e.dialogues.get(dlg.ID)
	if saved.Status != model.DialogueStatusPaused || !saved.NeedsReview {
		t.Errorf("status = %s, needs_review = %v", saved.Status, saved.NeedsReview)
	}
}

func TestHandleBatch_RejectionFinishesAndRecordsFailure(t *testing.T) {
	acc := testAccount("acc-1")
	e := newEnv(t, acc)
	w, client := directWorker(e, acc)
	dlg := seedDialogue(t, e, "acc-1", "привет", "держи ссылку https://t.me/+abc")
	dlg.Status = model.DialogueStatusActive
	dlg.GoalMessageSent = true
	e.dialogues.Save(context.Background(), nil, dlg, false)

	w.handleBatch(context.Background(), Batch{TelegramUserID: 555, Username: "prospect", Text: "не интересно", LastMessageID: 4})

	saved := e.dialogues.get(dlg.ID)
	if saved.Status != model.DialogueStatusFailed || saved.FailReason != "user_rejected" {
		t.Errorf("dialogue = %s/%s", saved.Status, saved.FailReason)
	}
	// Closer goes out before the dialogue dies.
	if len(client.sentCalls()) == 0 {
		t.Error("rejection closer not sent")
	}
	target := e.targets.get(saved.TargetID)
	if target.Status != model.TargetStatusFailed {
		t.Errorf("target status = %s", target.Status)
	}
	if _, err := os.Stat(filepath.Join(e.dir, "camp-1_failure.txt")); err != nil {
		t.Errorf("failure file missing: %v", err)
	}
}

func TestHandleBatch_UnknownPeerDropped(t *testing.T) {
	acc := testAccount("acc-1")
	e := newEnv(t, acc)
	w, client := directWorker(e, acc)

	w.handleBatch(context.Background(), Batch{TelegramUserID: 999, Username: "stranger", Text: "привет", LastMessageID: 1})

	if len(client.sentCalls()) != 0 {
		t.Error("must not reply to peers without an open dialogue")
	}
}

func TestFollowUp_SendsAndSchedulesNext(t *testing.T) {
	acc := testAccount("acc-1")
	e := newEnv(t, acc)
	w, client := directWorker(e, acc)
	dlg := seedDialogue(t, e, "acc-1", "привет")
	dlg.Status = model.DialogueStatusActive
	due := time.Now().Add(-time.Minute)
	dlg.NextActionAt = &due
	e.dialogues.Save(context.Background(), nil, dlg, false)

	if err := w.processDueFollowUps(context.Background()); err != nil {
		t.Fatalf("processDueFollowUps: %v", err)
	}

	if len(client.sentCalls()) != 1 {
		t.Fatalf("sent calls = %d", len(client.sentCalls()))
	}
	saved := e.dialogues.get(dlg.ID)
	if saved.FollowUpCount != 1 {
		t.Errorf("follow-up count = %d", saved.FollowUpCount)
	}
	if saved.NextActionAt == nil {
		t.Fatal("next action not rescheduled")
	}
	// Second follow-up waits 48h.
	gap := time.Until(*saved.NextActionAt)
	if gap < 47*time.Hour || gap > 49*time.Hour {
		t.Errorf("next action in %s, want ~48h", gap)
	}
	last := saved.Messages[len(saved.Messages)-1]
	if !last.IsFollowUp {
		t.Error("appended message not flagged as follow-up")
	}
}

func TestFollowUp_BudgetExhaustedExpires(t *testing.T) {
	acc := testAccount("acc-1")
	e := newEnv(t, acc)
	w, client := directWorker(e, acc)
	dlg := seedDialogue(t, e, "acc-1", "привет")
	dlg.Status = model.DialogueStatusActive
	dlg.FollowUpCount = followUpLimit
	due := time.Now().Add(-time.Minute)
	dlg.NextActionAt = &due
	e.dialogues.Save(context.Background(), nil, dlg, false)

	if err := w.processDueFollowUps(context.Background()); err != nil {
		t.Fatalf("processDueFollowUps: %v", err)
	}

	if len(client.sentCalls()) != 0 {
		t.Error("expired dialogue must not get another message")
	}
	saved := e.dialogues.get(dlg.ID)
	if saved.Status != model.DialogueStatusExpired {
		t.Errorf("status = %s", saved.Status)
	}
	target := e.targets.get(saved.TargetID)
	if target.Status != model.TargetStatusFailed || target.FailReason != "no_response" {
		t.Errorf("target = %s/%s", target.Status, target.FailReason)
	}
}

func TestFollowUp_DisabledByCampaignExpires(t *testing.T) {
	acc := testAccount("acc-1")
	e := newEnv(t, acc)
	camp := testCampaign()
	camp.Sending.FollowUpEnabled = false
	e.campaigns.Save(context.Background(), nil, camp)
	w, client := directWorker(e, acc)
	dlg := seedDialogue(t, e, "acc-1", "привет")
	dlg.Status = model.DialogueStatusActive
	due := time.Now().Add(-time.Minute)
	dlg.NextActionAt = &due
	e.dialogues.Save(context.Background(), nil, dlg, false)

	if err := w.processDueFollowUps(context.Background()); err != nil {
		t.Fatalf("processDueFollowUps: %v", err)
	}
	if len(client.sentCalls()) != 0 {
		t.Error("follow-ups disabled, nothing may be sent")
	}
	if got := e.dialogues.get(dlg.ID); got.Status != model.DialogueStatusExpired {
		t.Errorf("status = %s", got.Status)
	}
}

func TestWorker_StartStopLifecycle(t *testing.T) {
	acc := testAccount("acc-1")
	e := newEnv(t, acc)
	w := New(e.deps, acc)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !w.Running() {
		t.Fatal("worker not running after Start")
	}
	if !e.locker.held("acc-1") {
		t.Error("session lock not held")
	}
	client := e.factory.last()
	if client == nil || !client.connected {
		t.Fatal("client not connected")
	}
	if e.accounts.status("acc-1") != model.AccountStatusActive {
		t.Errorf("status = %s", e.accounts.status("acc-1"))
	}

	// Second Start against the same session must be refused.
	w2 := New(e.deps, testAccount("acc-1"))
	if err := w2.Start(context.Background()); err == nil {
		t.Error("second worker acquired the same session")
	}

	w.Stop(context.Background())
	if w.Running() {
		t.Error("worker still running after Stop")
	}
	if e.locker.held("acc-1") {
		t.Error("session lock not released")
	}
	if !client.closed {
		t.Error("client not closed")
	}
	if e.accounts.status("acc-1") != model.AccountStatusPaused {
		t.Errorf("status after stop = %s", e.accounts.status("acc-1"))
	}
}

func TestWorker_DrainsQueueInRunLoop(t *testing.T) {
	acc := testAccount("acc-1")
	e := newEnv(t, acc)
	target := seedTarget(e, "t-1")
	e.queue.Enqueue(context.Background(), firstMessageTask("acc-1", target.ID), false)

	w := New(e.deps, acc)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop(context.Background())

	waitFor(t, 5*time.Second, func() bool { return e.queue.completedCount() == 1 })
	if got := e.targets.get(target.ID); got.Status != model.TargetStatusContacted {
		t.Errorf("target status = %s", got.Status)
	}
}
