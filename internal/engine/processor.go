package engine

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"telegram-outreach-fleet/internal/domain/model"
	"telegram-outreach-fleet/internal/domain/ports/adapter"
)

// inboundTemperature is fixed for regular replies. Follow-ups run hotter,
// see Campaign.FollowUpTemperature.
const inboundTemperature = 0.8

// minMessagesForSoftInterest gates the soft-interest branch: the user has
// to have talked a bit before curiosity alone earns the link.
const minMessagesForSoftInterest = 3

// Result is the outcome of one processed turn. The caller owns persistence
// and the actual sending; the processor mutates only the in-memory
// dialogue and campaign stats.
type Result struct {
	Messages    []string
	Action      Action
	AIGenerated bool
	TokensUsed  int
	Model       string

	GoalReached   bool // outbound hit the campaign goal this turn
	LinkSent      bool // a link block is among Messages
	FirstResponse bool // the user's first reply, dialogue went active
	Finished      bool // dialogue reached a terminal status this turn
	FailReason    string
}

// Processor turns inbound user turns into outbound replies: lexicon gates,
// scripted branches and the LLM path with humanization.
type Processor struct {
	llm adapter.LLMProvider
	log *zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewProcessor(llm adapter.LLMProvider, logger *zerolog.Logger) *Processor {
	l := logger.With().Str("component", "DialogueProcessor").Logger()
	return &Processor{
		llm: llm,
		log: &l,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetRand pins the randomness source. Test hook.
func (p *Processor) SetRand(rng *rand.Rand) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rng = rng
}

func (p *Processor) withRand(f func(rng *rand.Rand) string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return f(p.rng)
}

// ProcessInbound runs the full inbound pipeline for one batched user turn.
func (p *Processor) ProcessInbound(ctx context.Context, dlg *model.Dialogue, camp *model.Campaign, text string, now time.Time) (*Result, error) {
	// Media-spam gate: three placeholders in a row end the dialogue.
	if IsMediaPlaceholder(text) && lastUserTurnsWerePlaceholders(dlg, 2) {
		dlg.Fail("media_spam")
		camp.Stats.Failed++
		return &Result{Finished: true, FailReason: "media_spam"}, nil
	}

	if err := dlg.Append(model.Message{Role: model.RoleUser, Content: text, Timestamp: now}); err != nil {
		return nil, err
	}
	dlg.InterestScore += InterestDelta(text)

	// Rejection is only honored once the offer is on the table; before
	// that, pushback is something the conversation can still work with.
	if dlg.GoalMessageSent && IsRejection(text) {
		closer := p.withRand(RejectionCloser)
		_ = dlg.Append(model.Message{Role: model.RoleAccount, Content: closer, Timestamp: now})
		dlg.Fail("user_rejected")
		camp.Stats.Failed++
		camp.Stats.MessagesSent++
		return &Result{Messages: []string{closer}, Action: ActionContinue, Finished: true, FailReason: "user_rejected"}, nil
	}

	res := &Result{Action: ActionContinue}
	if dlg.Status == model.DialogueStatusInitiated {
		dlg.Status = model.DialogueStatusActive
		camp.Stats.Responded++
		res.FirstResponse = true
	}

	// Branch selection, first match wins.
	switch {
	case IsExplicitLinkRequest(text) && !dlg.GoalMessageSent:
		p.composeLink(dlg, camp, res, now)
	case IsShortPositive(text) && lastOutboundMentionsChannel(dlg):
		p.composeLink(dlg, camp, res, now)
	case IsSoftInterest(text) && dlg.CountByRole(model.RoleUser) >= minMessagesForSoftInterest &&
		dlg.InterestScore >= 1 && !dlg.GoalMessageSent:
		p.composeLink(dlg, camp, res, now)
	case dlg.CountByRole(model.RoleAccount) == 1:
		// Scripted second turn, no tokens spent.
		res.Messages = []string{p.withRand(SecondMessage)}
	default:
		if err := p.generateReply(ctx, dlg, camp, res); err != nil {
			return nil, err
		}
	}

	for i, msg := range res.Messages {
		m := model.Message{Role: model.RoleAccount, Content: msg, Timestamp: now, AIGenerated: res.AIGenerated}
		if i == 0 {
			m.TokensUsed = res.TokensUsed
		}
		if err := dlg.Append(m); err != nil {
			return nil, err
		}
	}

	p.checkGoal(dlg, camp, res, now)
	dlg.ScheduleNextAction(now.Add(24 * time.Hour))
	return res, nil
}

// FirstMessage produces the cold opener for a brand-new dialogue.
func (p *Processor) FirstMessage(camp *model.Campaign) string {
	if text := strings.TrimSpace(camp.Prompt.FirstMessage); text != "" {
		return text
	}
	text := p.withRand(Greeting)
	if text == "" {
		return FirstMessageFallback
	}
	return text
}

// FollowUp generates a re-engagement message for a silent user. Falls back
// to the scripted nudge pool when the LLM path fails.
func (p *Processor) FollowUp(ctx context.Context, dlg *model.Dialogue, camp *model.Campaign, now time.Time) (*Result, error) {
	res := &Result{Action: ActionContinue}

	history := BuildHistory(dlg)
	messages := make([]adapter.Message, 0, len(history)+2)
	messages = append(messages, adapter.Message{Role: "system", Content: BuildSystemPrompt(camp, dlg)})
	messages = append(messages, history...)
	messages = append(messages, adapter.Message{
		Role:    "user",
		Content: "(собеседник давно не отвечает. напиши короткое ненавязчивое сообщение, чтобы вернуть его в разговор. без давления.)",
	})

	reply, err := p.llm.Generate(ctx, messages, adapter.GenerateParams{
		Model:       camp.AI.Model,
		Temperature: camp.FollowUpTemperature(),
		MaxTokens:   camp.AI.MaxTokens,
	})
	if err != nil {
		p.log.Warn().Err(err).Str("dialogue_id", dlg.ID).Msg("follow-up generation failed, using scripted nudge")
		res.Messages = []string{p.withRand(FollowUpNudge)}
	} else {
		parsed := ParseResponse(reply.Content)
		res.Messages = p.humanizeAll(parsed.Messages)
		res.AIGenerated = true
		res.TokensUsed = reply.Usage.TotalTokens
		res.Model = reply.Model
	}
	if len(res.Messages) == 0 {
		res.Messages = []string{p.withRand(FollowUpNudge)}
	}

	for i, msg := range res.Messages {
		m := model.Message{Role: model.RoleAccount, Content: msg, Timestamp: now, AIGenerated: res.AIGenerated, IsFollowUp: true}
		if i == 0 {
			m.TokensUsed = res.TokensUsed
		}
		if err := dlg.Append(m); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (p *Processor) composeLink(dlg *model.Dialogue, camp *model.Campaign, res *Result, now time.Time) {
	resend := dlg.LinkSentCount > 0
	block := p.withRand(func(rng *rand.Rand) string {
		return LinkBlock(rng, camp.Goal.TargetURL, resend)
	})
	dlg.LinkSentCount++
	res.Messages = []string{block}
	res.LinkSent = true
	// Delivering the link is the goal, whatever the block's exact text.
	if !dlg.GoalMessageSent {
		dlg.MarkGoalReached(now)
		camp.Stats.GoalsReached++
		res.GoalReached = true
	}
}

func (p *Processor) generateReply(ctx context.Context, dlg *model.Dialogue, camp *model.Campaign, res *Result) error {
	history := BuildHistory(dlg)
	messages := make([]adapter.Message, 0, len(history)+1)
	messages = append(messages, adapter.Message{Role: "system", Content: BuildSystemPrompt(camp, dlg)})
	messages = append(messages, history...)

	reply, err := p.llm.Generate(ctx, messages, adapter.GenerateParams{
		Model:       camp.AI.Model,
		Temperature: inboundTemperature,
		MaxTokens:   camp.AI.MaxTokens,
	})
	if err != nil {
		return err
	}
	parsed := ParseResponse(reply.Content)
	res.Messages = p.humanizeAll(parsed.Messages)
	res.Action = parsed.Action
	res.AIGenerated = true
	res.TokensUsed = reply.Usage.TotalTokens
	res.Model = reply.Model
	return nil
}

func (p *Processor) humanizeAll(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		h := p.withRand(func(rng *rand.Rand) string { return Humanize(part, rng) })
		if h == "" {
			continue
		}
		out = append(out, h)
	}
	return out
}

// checkGoal marks the goal reached when this turn's outbound carried the
// target URL or enough of the goal message's leading keywords.
func (p *Processor) checkGoal(dlg *model.Dialogue, camp *model.Campaign, res *Result, now time.Time) {
	if dlg.Status == model.DialogueStatusGoalReached || len(res.Messages) == 0 {
		return
	}
	outbound := strings.ToLower(strings.Join(res.Messages, "\n"))
	hit := false
	if url := strings.ToLower(strings.TrimSpace(camp.Goal.TargetURL)); url != "" && strings.Contains(outbound, url) {
		hit = true
	}
	if !hit && goalKeywordRatio(outbound, camp.Goal.TargetMessage) >= 0.6 {
		hit = true
	}
	if !hit {
		return
	}
	dlg.MarkGoalReached(now)
	camp.Stats.GoalsReached++
	res.GoalReached = true
}

// goalKeywordRatio is the share of the goal message's first five keywords
// present in the outbound text.
func goalKeywordRatio(outbound, goalMessage string) float64 {
	words := strings.Fields(strings.ToLower(goalMessage))
	if len(words) > 5 {
		words = words[:5]
	}
	if len(words) == 0 {
		return 0
	}
	hits := 0
	for _, w := range words {
		if strings.Contains(outbound, w) {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}

func lastUserTurnsWerePlaceholders(dlg *model.Dialogue, n int) bool {
	seen := 0
	for i := len(dlg.Messages) - 1; i >= 0 && seen < n; i-- {
		if dlg.Messages[i].Role != model.RoleUser {
			continue
		}
		if !IsMediaPlaceholder(dlg.Messages[i].Content) {
			return false
		}
		seen++
	}
	return seen == n
}

func lastOutboundMentionsChannel(dlg *model.Dialogue) bool {
	last := dlg.LastAccountMessage()
	return last != nil && MentionsChannel(last.Content)
}
