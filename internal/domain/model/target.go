package model

import (
	"strconv"
	"strings"

	"telegram-outreach-fleet/internal/domain"
)

type TargetStatus string

const (
	TargetStatusPending    TargetStatus = "pending"
	TargetStatusAssigned   TargetStatus = "assigned"
	TargetStatusContacted  TargetStatus = "contacted"
	TargetStatusInProgress TargetStatus = "in-progress"
	TargetStatusConverted  TargetStatus = "converted"
	TargetStatusCompleted  TargetStatus = "completed"
	TargetStatusFailed     TargetStatus = "failed"
	TargetStatusSkipped    TargetStatus = "skipped"
	TargetStatusBlocked    TargetStatus = "blocked"
)

// UserTarget is a per-campaign prospect. At least one of TelegramID,
// Username, Phone must identify it.
type UserTarget struct {
	ID         string
	CampaignID string
	TelegramID int64
	Username   string
	Phone      string
	Status     TargetStatus
	DialogueID string
	FailReason string
	Version    int
}

func NewUserTarget(id, campaignID string, tgID int64, username, phone string) (*UserTarget, error) {
	if id == "" || campaignID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if tgID == 0 && username == "" && phone == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &UserTarget{
		ID:         id,
		CampaignID: campaignID,
		TelegramID: tgID,
		Username:   strings.TrimPrefix(username, "@"),
		Phone:      phone,
		Status:     TargetStatusPending,
	}, nil
}

// Identifier renders the best available handle for queue tasks and result
// files: username, else telegram id, else phone.
func (t *UserTarget) Identifier() string {
	switch {
	case t.Username != "":
		return t.Username
	case t.TelegramID != 0:
		return strconv.FormatInt(t.TelegramID, 10)
	default:
		return t.Phone
	}
}

// Terminal reports whether the target reached a final status; transitions
// out of terminal statuses are forbidden.
func (t *UserTarget) Terminal() bool {
	switch t.Status {
	case TargetStatusConverted, TargetStatusCompleted, TargetStatusFailed, TargetStatusSkipped, TargetStatusBlocked:
		return true
	}
	return false
}

// Transition moves the target status forward. The only backward edge is
// assigned → pending (re-queue).
func (t *UserTarget) Transition(to TargetStatus) error {
	if t.Status == to {
		return nil
	}
	if t.Terminal() {
		return domain.ErrInvalidArgument
	}
	if to == TargetStatusPending && t.Status != TargetStatusAssigned {
		return domain.ErrInvalidArgument
	}
	t.Status = to
	return nil
}

// Fail moves the target to failed with a reason; a no-op when already
// terminal.
func (t *UserTarget) Fail(reason string) {
	if t.Terminal() {
		return
	}
	t.Status = TargetStatusFailed
	t.FailReason = reason
}
