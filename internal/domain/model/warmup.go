package model

import (
	"time"

	"telegram-outreach-fleet/internal/domain"
)

type WarmupStatus string

const (
	WarmupStatusPending   WarmupStatus = "pending"
	WarmupStatusActive    WarmupStatus = "active"
	WarmupStatusCompleted WarmupStatus = "completed"
	WarmupStatusPaused    WarmupStatus = "paused"
)

// WarmupStage is one step of the staged ramp-up schedule.
type WarmupStage struct {
	Number          int
	DurationDays    int
	MaxJoinsPerDay  int
	MaxReactsPerDay int
	CanOutreach     bool
}

// WarmupProfile is an ordered stage schedule shared by accounts.
type WarmupProfile struct {
	ID     string
	Name   string
	Stages []WarmupStage
}

// StageForDay resolves which stage applies after the given number of
// elapsed days, and whether the schedule is exhausted.
func (p *WarmupProfile) StageForDay(day int) (WarmupStage, bool) {
	acc := 0
	for _, s := range p.Stages {
		acc += s.DurationDays
		if day < acc {
			return s, true
		}
	}
	return WarmupStage{}, false
}

// AccountWarmup tracks one account's progress through a profile. While the
// status is active the account only performs human-like noise: no outreach,
// no replies.
type AccountWarmup struct {
	AccountID      string
	ProfileID      string
	Stage          int
	Status         WarmupStatus
	StartedAt      time.Time
	JoinsToday     int
	ReactsToday    int
	LastDailyReset *time.Time
	FloodWaitUntil *time.Time
	Version        int
}

func NewAccountWarmup(accountID, profileID string, now time.Time) (*AccountWarmup, error) {
	if accountID == "" || profileID == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &AccountWarmup{
		AccountID: accountID,
		ProfileID: profileID,
		Stage:     0,
		Status:    WarmupStatusActive,
		StartedAt: now,
	}, nil
}

// ElapsedDays since warm-up start.
func (w *AccountWarmup) ElapsedDays(now time.Time) int {
	return int(now.Sub(w.StartedAt).Hours() / 24)
}

// Advance matches elapsed time against the profile schedule and either
// bumps the stage or completes the warm-up. Returns true when something
// changed.
func (w *AccountWarmup) Advance(profile *WarmupProfile, now time.Time) bool {
	if w.Status != WarmupStatusActive {
		return false
	}
	stage, ok := profile.StageForDay(w.ElapsedDays(now))
	if !ok {
		w.Status = WarmupStatusCompleted
		return true
	}
	if stage.Number != w.Stage {
		w.Stage = stage.Number
		return true
	}
	return false
}

// InFloodWait reports whether a prior flood error still holds the account back.
func (w *AccountWarmup) InFloodWait(now time.Time) bool {
	return w.FloodWaitUntil != nil && now.Before(*w.FloodWaitUntil)
}

// RecordFlood stores the wait horizon after a Flood error.
func (w *AccountWarmup) RecordFlood(now time.Time, wait time.Duration) {
	until := now.Add(wait)
	w.FloodWaitUntil = &until
}

// ResetDaily zeroes the per-day action counters.
func (w *AccountWarmup) ResetDaily(now time.Time) {
	w.JoinsToday = 0
	w.ReactsToday = 0
	t := now
	w.LastDailyReset = &t
}

// WarmupChannel and WarmupGroup are join targets for the warm-up noise.
type WarmupChannel struct {
	ID   string
	Link string
}

type WarmupGroup struct {
	ID   string
	Link string
}

// AccountPersona tunes the simulated human behavior of one account.
type AccountPersona struct {
	AccountID           string
	TypingCharsPerMin   int
	ActiveHourStart     int
	ActiveHourEnd       int
	ReactionProbability float64
}

func DefaultPersona(accountID string) AccountPersona {
	return AccountPersona{
		AccountID:           accountID,
		TypingCharsPerMin:   250,
		ActiveHourStart:     9,
		ActiveHourEnd:       23,
		ReactionProbability: 0.3,
	}
}
