package engine

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"telegram-outreach-fleet/internal/config"
	"telegram-outreach-fleet/internal/domain/model"
	"telegram-outreach-fleet/internal/domain/ports/adapter"
	"telegram-outreach-fleet/internal/infra/logging"
)

type fakeLLM struct {
	reply string
	err   error
	calls int
	last  []adapter.Message
}

var _ adapter.LLMProvider = (*fakeLLM)(nil)

func (f *fakeLLM) Generate(ctx context.Context, messages []adapter.Message, params adapter.GenerateParams) (*adapter.Reply, error) {
	f.calls++
	f.last = messages
	if f.err != nil {
		return nil, f.err
	}
	return &adapter.Reply{Content: f.reply, Model: params.Model, Usage: adapter.Usage{TotalTokens: 42}}, nil
}

func (f *fakeLLM) CountTokens(model string, messages []adapter.Message) (int, error) {
	return 0, nil
}

func testProcessor(t *testing.T, llm adapter.LLMProvider) *Processor {
	t.Helper()
	log := logging.New(config.LogConfig{Level: "error", Format: "console"}, true)
	p := NewProcessor(llm, log)
	p.SetRand(rand.New(rand.NewSource(1)))
	return p
}

func testDialogue(t *testing.T) *model.Dialogue {
	t.Helper()
	dlg, err := model.NewDialogue("dlg-1", "acc-1", "camp-1", "tgt-1")
	if err != nil {
		t.Fatal(err)
	}
	dlg.Status = model.DialogueStatusInitiated
	return dlg
}

func testCampaign(t *testing.T) *model.Campaign {
	t.Helper()
	camp, err := model.NewCampaign("camp-1", "crypto")
	if err != nil {
		t.Fatal(err)
	}
	camp.Prompt.SystemPrompt = "ты обычный трейдер из москвы"
	camp.Goal.TargetURL = "https://t.me/x"
	camp.Goal.TargetMessage = "подпишись на канал с сигналами"
	return camp
}

func seedOutbound(t *testing.T, dlg *model.Dialogue, texts ...string) {
	t.Helper()
	for _, text := range texts {
		if err := dlg.Append(model.Message{Role: model.RoleAccount, Content: text}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestProcessInbound_MediaSpamGate(t *testing.T) {
	p := testProcessor(t, &fakeLLM{})
	dlg := testDialogue(t)
	camp := testCampaign(t)
	seedOutbound(t, dlg, "привет")
	now := time.Now()

	for _, ph := range []string{"[стикер]", "[стикер]"} {
		if err := dlg.Append(model.Message{Role: model.RoleUser, Content: ph}); err != nil {
			t.Fatal(err)
		}
	}
	res, err := p.ProcessInbound(context.Background(), dlg, camp, "[стикер]", now)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Finished || res.FailReason != "media_spam" {
		t.Fatalf("res = %+v, want media_spam finish", res)
	}
	if len(res.Messages) != 0 {
		t.Fatalf("spam gate produced a reply: %#v", res.Messages)
	}
	if dlg.Status != model.DialogueStatusFailed || dlg.FailReason != "media_spam" {
		t.Fatalf("dialogue = %s/%s", dlg.Status, dlg.FailReason)
	}
	if camp.Stats.Failed != 1 {
		t.Fatalf("failed stat = %d", camp.Stats.Failed)
	}
}

func TestProcessInbound_RejectionOnlyAfterOffer(t *testing.T) {
	p := testProcessor(t, &fakeLLM{reply: "ну смотри, тут все просто"})
	dlg := testDialogue(t)
	camp := testCampaign(t)
	seedOutbound(t, dlg, "привет", "ты в теме?")
	now := time.Now()

	// Before the offer a "no" keeps the conversation alive.
	res, err := p.ProcessInbound(context.Background(), dlg, camp, "не", now)
	if err != nil {
		t.Fatal(err)
	}
	if res.Finished {
		t.Fatal("rejected before the goal was offered")
	}

	dlg.GoalMessageSent = true
	res, err = p.ProcessInbound(context.Background(), dlg, camp, "не надо, спасибо", now)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Finished || res.FailReason != "user_rejected" {
		t.Fatalf("res = %+v, want user_rejected", res)
	}
	if len(res.Messages) != 1 {
		t.Fatalf("want one polite closer, got %#v", res.Messages)
	}
	if dlg.Status != model.DialogueStatusFailed {
		t.Fatalf("dialogue status = %s", dlg.Status)
	}
	if camp.Stats.Failed != 1 || camp.Stats.MessagesSent != 1 {
		t.Fatalf("stats = %+v", camp.Stats)
	}
}

func TestProcessInbound_ExplicitLinkRequestSkipsLLM(t *testing.T) {
	llm := &fakeLLM{reply: "не должен вызываться"}
	p := testProcessor(t, llm)
	dlg := testDialogue(t)
	camp := testCampaign(t)
	seedOutbound(t, dlg, "привет", "ты в теме крипты?")
	now := time.Now()

	res, err := p.ProcessInbound(context.Background(), dlg, camp, "а что у тебя за канал? скинь ссылку", now)
	if err != nil {
		t.Fatal(err)
	}
	if llm.calls != 0 {
		t.Fatalf("llm called %d times on a scripted branch", llm.calls)
	}
	if !res.LinkSent || len(res.Messages) != 1 {
		t.Fatalf("res = %+v", res)
	}
	if !strings.Contains(res.Messages[0], camp.Goal.TargetURL) {
		t.Fatalf("link block misses url: %q", res.Messages[0])
	}
	// The URL in the outbound trips the goal check.
	if !res.GoalReached || dlg.Status != model.DialogueStatusGoalReached {
		t.Fatalf("goal not registered: %+v, status %s", res, dlg.Status)
	}
	if !dlg.GoalMessageSent || dlg.LinkSentCount != 1 {
		t.Fatalf("dialogue flags: sent=%v count=%d", dlg.GoalMessageSent, dlg.LinkSentCount)
	}
	if camp.Stats.GoalsReached != 1 || camp.Stats.Responded != 1 {
		t.Fatalf("stats = %+v", camp.Stats)
	}
}

func TestProcessInbound_ConsentAfterChannelMention(t *testing.T) {
	llm := &fakeLLM{}
	p := testProcessor(t, llm)
	dlg := testDialogue(t)
	dlg.Status = model.DialogueStatusActive
	camp := testCampaign(t)
	seedOutbound(t, dlg, "привет", "веду небольшой канал про крипту, скинуть?")
	now := time.Now()

	res, err := p.ProcessInbound(context.Background(), dlg, camp, "давай", now)
	if err != nil {
		t.Fatal(err)
	}
	if !res.LinkSent || llm.calls != 0 {
		t.Fatalf("res = %+v, llm calls = %d", res, llm.calls)
	}
}

func TestProcessInbound_LinkDeliveryAlwaysMarksGoal(t *testing.T) {
	// The goal flips on delivering the link block itself, even when no
	// target URL is configured and the block paraphrases the pitch.
	llm := &fakeLLM{}
	p := testProcessor(t, llm)
	dlg := testDialogue(t)
	dlg.Status = model.DialogueStatusActive
	camp := testCampaign(t)
	camp.Goal.TargetURL = ""
	camp.Goal.TargetMessage = ""
	seedOutbound(t, dlg, "привет", "веду небольшой канал про крипту, скинуть?")
	now := time.Now()

	res, err := p.ProcessInbound(context.Background(), dlg, camp, "давай", now)
	if err != nil {
		t.Fatal(err)
	}
	if !res.LinkSent || !res.GoalReached {
		t.Fatalf("res = %+v, want link + goal", res)
	}
	if !dlg.GoalMessageSent || dlg.GoalSentAt == nil {
		t.Fatalf("goal flags: sent=%v at=%v", dlg.GoalMessageSent, dlg.GoalSentAt)
	}
	if dlg.Status != model.DialogueStatusGoalReached {
		t.Fatalf("status = %s, want goal-reached", dlg.Status)
	}
	if camp.Stats.GoalsReached != 1 {
		t.Fatalf("goals reached = %d", camp.Stats.GoalsReached)
	}

	// Re-sending the link later must not count the goal twice.
	seedOutbound(t, dlg, "веду канал, напомню про него")
	if _, err := p.ProcessInbound(context.Background(), dlg, camp, "давай", now.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if camp.Stats.GoalsReached != 1 || dlg.LinkSentCount != 2 {
		t.Fatalf("goals = %d, links = %d", camp.Stats.GoalsReached, dlg.LinkSentCount)
	}
}

func TestProcessInbound_SecondOutboundShortcut(t *testing.T) {
	llm := &fakeLLM{}
	p := testProcessor(t, llm)
	dlg := testDialogue(t)
	camp := testCampaign(t)
	seedOutbound(t, dlg, "привет")
	now := time.Now()

	res, err := p.ProcessInbound(context.Background(), dlg, camp, "как дела?", now)
	if err != nil {
		t.Fatal(err)
	}
	if llm.calls != 0 {
		t.Fatal("second-outbound shortcut must not call the llm")
	}
	if len(res.Messages) != 1 || res.AIGenerated || res.TokensUsed != 0 {
		t.Fatalf("res = %+v", res)
	}
}

func TestProcessInbound_LLMPathWithActionTag(t *testing.T) {
	llm := &fakeLLM{reply: "ок, удачи [NEGATIVE_FINISH]"}
	p := testProcessor(t, llm)
	dlg := testDialogue(t)
	dlg.Status = model.DialogueStatusActive
	camp := testCampaign(t)
	seedOutbound(t, dlg, "привет", "ты в теме?", "понятно")
	now := time.Now()

	res, err := p.ProcessInbound(context.Background(), dlg, camp, "я вообще не из этой сферы", now)
	if err != nil {
		t.Fatal(err)
	}
	if llm.calls != 1 {
		t.Fatalf("llm calls = %d", llm.calls)
	}
	if res.Action != ActionNegativeFinish {
		t.Fatalf("action = %s", res.Action)
	}
	if !res.AIGenerated || res.TokensUsed != 42 {
		t.Fatalf("res = %+v", res)
	}
	if llm.last[0].Role != "system" {
		t.Fatal("system prompt missing from llm call")
	}
	if dlg.NextActionAt == nil {
		t.Fatal("next action not scheduled")
	}
}

func TestProcessInbound_LLMErrorPropagates(t *testing.T) {
	llm := &fakeLLM{err: errors.New("provider down")}
	p := testProcessor(t, llm)
	dlg := testDialogue(t)
	dlg.Status = model.DialogueStatusActive
	camp := testCampaign(t)
	seedOutbound(t, dlg, "привет", "ты в теме?", "ясно")

	if _, err := p.ProcessInbound(context.Background(), dlg, camp, "расскажи про погоду", time.Now()); err == nil {
		t.Fatal("expected error from llm path")
	}
}

func TestProcessInbound_GoalByKeywords(t *testing.T) {
	// Three of the first five goal keywords in the outbound is 60%.
	llm := &fakeLLM{reply: "кстати подпишись на канал, там сигналами делятся"}
	p := testProcessor(t, llm)
	dlg := testDialogue(t)
	dlg.Status = model.DialogueStatusActive
	camp := testCampaign(t)
	camp.Goal.TargetURL = ""
	camp.Goal.TargetMessage = "подпишись на канал про крипту"
	seedOutbound(t, dlg, "привет", "ты в теме?", "ок")

	res, err := p.ProcessInbound(context.Background(), dlg, camp, "ну рассказывай", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !res.GoalReached {
		t.Fatalf("goal not reached, messages = %#v", res.Messages)
	}
}

func TestFirstMessage(t *testing.T) {
	p := testProcessor(t, &fakeLLM{})
	camp := testCampaign(t)

	camp.Prompt.FirstMessage = "привет, увидел тебя в чате"
	if got := p.FirstMessage(camp); got != "привет, увидел тебя в чате" {
		t.Fatalf("configured first message ignored: %q", got)
	}

	camp.Prompt.FirstMessage = ""
	got := p.FirstMessage(camp)
	if got == "" {
		t.Fatal("empty first message")
	}
}

func TestFollowUp_FallsBackToPoolOnLLMFailure(t *testing.T) {
	p := testProcessor(t, &fakeLLM{err: errors.New("provider down")})
	dlg := testDialogue(t)
	dlg.Status = model.DialogueStatusActive
	camp := testCampaign(t)
	seedOutbound(t, dlg, "привет")

	res, err := p.FollowUp(context.Background(), dlg, camp, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Messages) != 1 || res.AIGenerated {
		t.Fatalf("res = %+v", res)
	}
	last := dlg.Messages[len(dlg.Messages)-1]
	if !last.IsFollowUp {
		t.Fatal("follow-up flag not set on appended message")
	}
}

func TestFollowUp_UsesRaisedTemperature(t *testing.T) {
	llm := &fakeLLM{reply: "ну что, глянул?"}
	p := testProcessor(t, llm)
	dlg := testDialogue(t)
	dlg.Status = model.DialogueStatusActive
	camp := testCampaign(t)
	seedOutbound(t, dlg, "привет")

	if _, err := p.FollowUp(context.Background(), dlg, camp, time.Now()); err != nil {
		t.Fatal(err)
	}
	if llm.calls != 1 {
		t.Fatalf("llm calls = %d", llm.calls)
	}
}
