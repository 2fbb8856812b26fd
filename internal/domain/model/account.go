package model

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"time"

	"telegram-outreach-fleet/internal/domain"
)

type AccountStatus string

const (
	AccountStatusInactive AccountStatus = "inactive"
	AccountStatusReady    AccountStatus = "ready"
	AccountStatusActive   AccountStatus = "active"
	AccountStatusPaused   AccountStatus = "paused"
	AccountStatusError    AccountStatus = "error"
	AccountStatusBanned   AccountStatus = "banned"
	AccountStatusCooldown AccountStatus = "cooldown"
)

// Schedule is the daily activity window of an account. StartTime/EndTime are
// "HH:MM" wall-clock strings in Timezone; overnight windows (start > end) are
// allowed. SleepBaseHour anchors the simulated nightly sleep.
type Schedule struct {
	StartTime    string
	EndTime      string
	ActiveDays   []time.Weekday
	Timezone     string
	SleepEnabled bool
	SleepBase    int     // hour 0..23 the account tends to fall asleep
	SleepHours   float64 // nominal sleep duration
}

// Limits are the per-account rate knobs.
type Limits struct {
	MaxConversationsPerDay int
	MaxOutreachPerHour     int
	MaxResponsesPerHour    int
	MinMessageDelay        time.Duration
	MaxMessageDelay        time.Duration
	MaxActiveDialogues     int
}

// Counters are the authoritative per-account counters. Hourly counters are
// bulk-reset by the fleet job; the daily counter resets at the account's own
// DailyResetHour.
type Counters struct {
	HourlyOutreachSent        int
	HourlyResponsesSent       int
	DailyConversationsStarted int
	TotalMessagesSent         int
	TotalConversations        int
	LastDailyReset            *time.Time
}

// Account is the aggregate root: one Telegram user-session bound to a proxy
// and an API application.
type Account struct {
	ID            string
	Phone         string
	SessionCipher string // encrypted session blob, base64; empty until authorized
	ProxyID       string
	AppID         string
	CampaignID    string
	Status        AccountStatus
	Schedule      Schedule
	Limits        Limits
	Counters      Counters
	LastActivity  *time.Time
	CreatedAt     time.Time
	Version       int
}

func NewAccount(id, phone string) (*Account, error) {
	if id == "" || phone == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &Account{
		ID:        id,
		Phone:     phone,
		Status:    AccountStatusInactive,
		Schedule:  DefaultSchedule(),
		Limits:    DefaultLimits(),
		CreatedAt: time.Now(),
	}, nil
}

func DefaultSchedule() Schedule {
	return Schedule{
		StartTime:    "09:00",
		EndTime:      "23:00",
		ActiveDays:   []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday},
		Timezone:     "UTC",
		SleepEnabled: true,
		SleepBase:    23,
		SleepHours:   8,
	}
}

func DefaultLimits() Limits {
	return Limits{
		MaxConversationsPerDay: 10,
		MaxOutreachPerHour:     5,
		MaxResponsesPerHour:    30,
		MinMessageDelay:        30 * time.Second,
		MaxMessageDelay:        120 * time.Second,
		MaxActiveDialogues:     20,
	}
}

// DailyResetHour derives the hour (UTC) at which this account's daily
// counters reset. It is a stable hash of the account id so resets spread
// uniformly across the fleet instead of firing at midnight in lockstep.
func (a *Account) DailyResetHour() int {
	return DailyResetHourFor(a.ID)
}

func DailyResetHourFor(accountID string) int {
	sum := md5.Sum([]byte(accountID))
	hx := hex.EncodeToString(sum[:])
	n, _ := strconv.ParseInt(hx[:2], 16, 64)
	return int(n % 24)
}

// TimingOffset is a deterministic multiplier in [1-variance, 1+variance]
// applied to every humanization timer of this account, so accounts never
// fire in lockstep.
func (a *Account) TimingOffset(variance float64) float64 {
	return 1 + (seededUnit(a.ID, "timing")*2-1)*variance
}

// SleepShift is a deterministic per-account shift of the sleep anchor in
// [-2h, +2h].
func (a *Account) SleepShift() time.Duration {
	return time.Duration((seededUnit(a.ID, "sleep")*4 - 2) * float64(time.Hour))
}

// seededUnit maps (id, salt) onto [0,1) deterministically.
func seededUnit(id, salt string) float64 {
	sum := md5.Sum([]byte(id + ":" + salt))
	v := binary.BigEndian.Uint32(sum[:4])
	return float64(v) / float64(1<<32)
}

// HasSession reports whether the account carries authorized session bytes.
func (a *Account) HasSession() bool { return a.SessionCipher != "" }

// CanSendOutreach is the admission predicate for cold messages.
func (a *Account) CanSendOutreach(now time.Time) bool {
	return a.Status == AccountStatusActive &&
		a.Counters.HourlyOutreachSent < a.Limits.MaxOutreachPerHour &&
		!a.InSleepWindow(now)
}

// CanRespond is the admission predicate for replies in existing dialogues.
func (a *Account) CanRespond() bool {
	return a.Status == AccountStatusActive &&
		a.Counters.HourlyResponsesSent < a.Limits.MaxResponsesPerHour
}

// CanStartConversation gates new dialogues by the daily counter on top of
// the outreach predicate.
func (a *Account) CanStartConversation(now time.Time) bool {
	return a.CanSendOutreach(now) &&
		a.Counters.DailyConversationsStarted < a.Limits.MaxConversationsPerDay
}

// InsideSchedule reports whether now falls inside the account's configured
// window and active weekdays. Overnight windows wrap midnight.
func (a *Account) InsideSchedule(now time.Time) bool {
	loc := a.location()
	local := now.In(loc)

	dayOK := false
	for _, d := range a.Schedule.ActiveDays {
		if local.Weekday() == d {
			dayOK = true
			break
		}
	}
	if !dayOK {
		return false
	}

	start, okS := parseClock(a.Schedule.StartTime)
	end, okE := parseClock(a.Schedule.EndTime)
	if !okS || !okE {
		return true
	}
	cur := local.Hour()*60 + local.Minute()
	if start <= end {
		return cur >= start && cur <= end
	}
	// overnight window, e.g. 22:00-06:00
	return cur >= start || cur <= end
}

// InSleepWindow reports whether the account is inside its simulated nightly
// sleep. The window starts at SleepBase shifted by the deterministic
// per-account offset plus a small daily jitter, and lasts SleepHours ± 1h.
func (a *Account) InSleepWindow(now time.Time) bool {
	if !a.Schedule.SleepEnabled {
		return false
	}
	local := now.In(a.location())

	day := local.Format("2006-01-02")
	jitter := time.Duration((seededUnit(a.ID, "sleep-jitter:"+day)*2 - 1) * float64(time.Hour))
	durJitter := time.Duration((seededUnit(a.ID, "sleep-dur:"+day)*2 - 1) * float64(time.Hour))

	anchor := time.Date(local.Year(), local.Month(), local.Day(), a.Schedule.SleepBase, 0, 0, 0, local.Location())
	start := anchor.Add(a.SleepShift()).Add(jitter)
	dur := time.Duration(a.Schedule.SleepHours*float64(time.Hour)) + durJitter

	// The window may belong to yesterday's anchor when we are past midnight.
	for _, s := range []time.Time{start.AddDate(0, 0, -1), start} {
		if !local.Before(s) && local.Before(s.Add(dur)) {
			return true
		}
	}
	return false
}

func (a *Account) location() *time.Location {
	if a.Schedule.Timezone != "" {
		if loc, err := time.LoadLocation(a.Schedule.Timezone); err == nil {
			return loc
		}
	}
	return time.UTC
}

func parseClock(s string) (int, bool) {
	if len(s) != 5 || s[2] != ':' {
		return 0, false
	}
	h, err1 := strconv.Atoi(s[:2])
	m, err2 := strconv.Atoi(s[3:])
	if err1 != nil || err2 != nil || h > 23 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// Touch stamps the last-activity marker.
func (a *Account) Touch(now time.Time) {
	t := now
	a.LastActivity = &t
}

// MarkError transitions the account into the error status. Banned is
// terminal and never overwritten.
func (a *Account) MarkError() {
	if a.Status != AccountStatusBanned {
		a.Status = AccountStatusError
	}
}
