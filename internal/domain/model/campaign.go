package model

import (
	"strings"
	"time"

	"telegram-outreach-fleet/internal/domain"
)

type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusReady     CampaignStatus = "ready"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// CampaignGoal is the artifact the dialogue works toward, usually a channel
// link plus the pitch that carries it.
type CampaignGoal struct {
	TargetMessage   string
	TargetURL       string
	MinMessagesGoal int // min our-messages before offering the goal
	MaxMessagesGoal int
}

// CampaignPrompt is the persona definition fed to the LLM.
type CampaignPrompt struct {
	SystemPrompt    string
	FirstMessage    string
	ForbiddenTopics []string
	Language        string
	Tone            string
}

// CampaignSending holds batch pacing for outreach distribution.
type CampaignSending struct {
	BatchIntervalHours int
	MessagesPerBatch   int
	DelayMin           time.Duration
	DelayMax           time.Duration
	LastBatchAt        *time.Time
	SourceFilePath     string
	FollowUpEnabled    bool
}

// CampaignAI selects the model knobs for this campaign.
type CampaignAI struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// CampaignStats are running counters, bumped by the workers.
type CampaignStats struct {
	MessagesSent int
	Responded    int
	GoalsReached int
	Failed       int
}

type Campaign struct {
	ID        string
	Name      string
	Status    CampaignStatus
	Goal      CampaignGoal
	Prompt    CampaignPrompt
	Sending   CampaignSending
	AI        CampaignAI
	Stats     CampaignStats
	CreatedAt time.Time
	Version   int
}

func NewCampaign(id, name string) (*Campaign, error) {
	if id == "" || name == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &Campaign{
		ID:     id,
		Name:   name,
		Status: CampaignStatusDraft,
		Goal:   CampaignGoal{MinMessagesGoal: 3, MaxMessagesGoal: 10},
		AI:     CampaignAI{Model: "gpt-4o-mini", Temperature: 0.8, MaxTokens: 300},
		Sending: CampaignSending{
			BatchIntervalHours: 4,
			MessagesPerBatch:   20,
			DelayMin:           30 * time.Second,
			DelayMax:           120 * time.Second,
			FollowUpEnabled:    true,
		},
		CreatedAt: time.Now(),
	}, nil
}

// CanActivate checks the activation preconditions: a non-empty persona
// prompt, at least one account and at least one target.
func (c *Campaign) CanActivate(accounts, targets int) error {
	if strings.TrimSpace(c.Prompt.SystemPrompt) == "" || accounts < 1 || targets < 1 {
		return domain.ErrCampaignNotReady
	}
	return nil
}

// BatchDue reports whether enough time elapsed since the last distribution
// batch for this campaign.
func (c *Campaign) BatchDue(now time.Time) bool {
	if c.Sending.LastBatchAt == nil {
		return true
	}
	interval := time.Duration(c.Sending.BatchIntervalHours) * time.Hour
	if interval <= 0 {
		return true
	}
	return now.Sub(*c.Sending.LastBatchAt) >= interval
}

// FollowUpTemperature is the campaign temperature nudged up for follow-up
// generation, capped at 1.0.
func (c *Campaign) FollowUpTemperature() float64 {
	t := c.AI.Temperature + 0.1
	if t > 1.0 {
		t = 1.0
	}
	return t
}
