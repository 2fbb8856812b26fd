package model

import (
	"time"

	"telegram-outreach-fleet/internal/domain"
)

type DialogueStatus string

const (
	DialogueStatusPending     DialogueStatus = "pending"
	DialogueStatusInitiated   DialogueStatus = "initiated"
	DialogueStatusActive      DialogueStatus = "active"
	DialogueStatusGoalReached DialogueStatus = "goal-reached"
	DialogueStatusCompleted   DialogueStatus = "completed"
	DialogueStatusFailed      DialogueStatus = "failed"
	DialogueStatusPaused      DialogueStatus = "paused"
	DialogueStatusExpired     DialogueStatus = "expired"
)

type MessageRole string

const (
	RoleAccount MessageRole = "account"
	RoleUser    MessageRole = "user"
)

// Message is one line of a dialogue. Appended, never edited.
type Message struct {
	ID                string
	DialogueID        string
	Role              MessageRole
	Content           string
	Timestamp         time.Time
	TelegramMessageID int
	AIGenerated       bool
	TokensUsed        int
	IsFollowUp        bool
}

// Dialogue is one conversation: Account × Campaign × Target × Telegram user.
// Terminal statuses freeze the history.
type Dialogue struct {
	ID                 string
	AccountID          string
	CampaignID         string
	TargetID           string
	TelegramUserID     int64
	Username           string
	Status             DialogueStatus
	Messages           []Message
	GoalMessageSent    bool
	GoalSentAt         *time.Time
	NextActionAt       *time.Time
	RetryCount         int
	MaxRetries         int
	FollowUpCount      int
	LastUserResponseAt *time.Time
	InterestScore      int
	LinkSentCount      int
	NeedsReview        bool
	CreativeSent       bool
	FailReason         string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Version            int
}

func NewDialogue(id, accountID, campaignID, targetID string) (*Dialogue, error) {
	if id == "" || accountID == "" || campaignID == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Dialogue{
		ID:         id,
		AccountID:  accountID,
		CampaignID: campaignID,
		TargetID:   targetID,
		Status:     DialogueStatusPending,
		MaxRetries: 3,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Terminal reports whether the dialogue history is frozen.
func (d *Dialogue) Terminal() bool {
	switch d.Status {
	case DialogueStatusCompleted, DialogueStatusFailed, DialogueStatusExpired:
		return true
	}
	return false
}

// Append adds a message to the history. Appends to a terminal dialogue are
// rejected, which is the freeze invariant.
func (d *Dialogue) Append(m Message) error {
	if d.Terminal() {
		return domain.ErrDialogueTerminal
	}
	m.DialogueID = d.ID
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	d.Messages = append(d.Messages, m)
	d.UpdatedAt = m.Timestamp
	if m.Role == RoleUser {
		t := m.Timestamp
		d.LastUserResponseAt = &t
	}
	return nil
}

// LastAccountMessage returns the most recent outbound message, or nil.
func (d *Dialogue) LastAccountMessage() *Message {
	for i := len(d.Messages) - 1; i >= 0; i-- {
		if d.Messages[i].Role == RoleAccount {
			return &d.Messages[i]
		}
	}
	return nil
}

// CountByRole counts messages with the given role.
func (d *Dialogue) CountByRole(role MessageRole) int {
	n := 0
	for i := range d.Messages {
		if d.Messages[i].Role == role {
			n++
		}
	}
	return n
}

// Recent returns up to n most recent messages in chronological order.
func (d *Dialogue) Recent(n int) []Message {
	if len(d.Messages) <= n {
		return d.Messages
	}
	return d.Messages[len(d.Messages)-n:]
}

// Fail finishes the dialogue with a reason. No-op when already terminal.
func (d *Dialogue) Fail(reason string) {
	if d.Terminal() {
		return
	}
	d.Status = DialogueStatusFailed
	d.FailReason = reason
	d.UpdatedAt = time.Now()
}

// MarkGoalReached flips the goal flags and the status.
func (d *Dialogue) MarkGoalReached(now time.Time) {
	if d.Terminal() {
		return
	}
	d.GoalMessageSent = true
	t := now
	d.GoalSentAt = &t
	d.Status = DialogueStatusGoalReached
	d.UpdatedAt = now
}

// ScheduleNextAction stamps when the worker should look at this dialogue
// again (follow-up due time).
func (d *Dialogue) ScheduleNextAction(at time.Time) {
	t := at
	d.NextActionAt = &t
}

// FollowUpBackoff returns the wait before follow-up number n (1-based):
// 24h, 48h, 96h. Beyond the third follow-up the dialogue expires.
func FollowUpBackoff(n int) (time.Duration, bool) {
	switch n {
	case 1:
		return 24 * time.Hour, true
	case 2:
		return 48 * time.Hour, true
	case 3:
		return 96 * time.Hour, true
	default:
		return 0, false
	}
}
