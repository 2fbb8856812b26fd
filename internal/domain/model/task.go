package model

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

type TaskType string

const (
	TaskSendFirstMessage TaskType = "send-first-message"
	TaskSendResponse     TaskType = "send-response"
	TaskSendFollowUp     TaskType = "send-follow-up"
)

// taskMaxRetries is the default retry budget before a task falls into the
// dead-letter lane.
const taskMaxRetries = 3

// Task is the durable queue record. It serializes to the UTF-8 JSON wire
// shape the queue store contract fixes.
type Task struct {
	ID         string    `json:"id"`
	Type       TaskType  `json:"task_type"`
	AccountID  string    `json:"account_id"`
	CampaignID string    `json:"campaign_id"`
	TargetID   string    `json:"target_id,omitempty"`
	DialogueID string    `json:"dialogue_id,omitempty"`
	Recipient  string    `json:"recipient,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`
	LastError  string    `json:"error,omitempty"`
}

// NewTask builds a queue task with a time-ordered id.
func NewTask(typ TaskType, accountID, campaignID string) *Task {
	return &Task{
		ID:         ulid.Make().String(),
		Type:       typ,
		AccountID:  accountID,
		CampaignID: campaignID,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: taskMaxRetries,
	}
}

// CanRetry reports whether the task still has retry budget.
func (t *Task) CanRetry() bool { return t.RetryCount < t.MaxRetries }

// RetryBackoff is the capped exponential wait before re-enqueue:
// min(300s, 10·2^retry_count).
func (t *Task) RetryBackoff() time.Duration {
	d := 10 * time.Second
	for i := 0; i < t.RetryCount; i++ {
		d *= 2
		if d >= 300*time.Second {
			return 300 * time.Second
		}
	}
	return d
}

// Marshal renders the wire JSON.
func (t *Task) Marshal() ([]byte, error) { return json.Marshal(t) }

// UnmarshalTask parses the wire JSON.
func UnmarshalTask(b []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, err
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = taskMaxRetries
	}
	return &t, nil
}
