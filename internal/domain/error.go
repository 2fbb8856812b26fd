package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOptimisticLock     = errors.New("version conflict")
	ErrInvalidExecContext = errors.New("invalid executor context")

	ErrNoProxyAssigned  = errors.New("account has no proxy assigned")
	ErrNoProxyAvailable = errors.New("no proxy available")
	ErrProxyTaken       = errors.New("proxy already assigned to another account")
	ErrNoSession        = errors.New("account has no session")
	ErrAccountNotActive = errors.New("account is not active")
	ErrDialogueTerminal = errors.New("dialogue is in a terminal status")
	ErrCampaignNotReady = errors.New("campaign does not satisfy activation preconditions")
	ErrWorkerRunning    = errors.New("worker already running for account")
	ErrWorkerNotFound   = errors.New("no worker for account")
	ErrQueueClosed      = errors.New("task queue closed")
	ErrWarmupRestricted = errors.New("account is in warm-up, outreach restricted")
	ErrLimitReached     = errors.New("rate limit reached for account")
	ErrOutsideSchedule  = errors.New("outside account schedule window")
	ErrTelegramAppsFull = errors.New("all telegram apps at capacity")
	ErrSessionMalformed = errors.New("session blob is malformed")
	ErrSessionLocked    = errors.New("session is locked by another worker")
)

// FloodError is Telegram's FLOOD_WAIT: the caller must sleep Wait before
// retrying the same call.
type FloodError struct {
	Wait time.Duration
}

func (e *FloodError) Error() string { return fmt.Sprintf("flood wait %s", e.Wait) }

// NewFloodError builds a FloodError from a wait expressed in seconds.
func NewFloodError(seconds int) *FloodError {
	return &FloodError{Wait: time.Duration(seconds) * time.Second}
}

// PeerFloodError means Telegram throttled outbound messages to new peers.
// Handled as a one hour flood wait.
type PeerFloodError struct{}

func (e *PeerFloodError) Error() string { return "peer flood" }

// AsFlood maps an error to the flood-wait duration it implies, if any.
func AsFlood(err error) (time.Duration, bool) {
	var fe *FloodError
	if errors.As(err, &fe) {
		return fe.Wait, true
	}
	var pf *PeerFloodError
	if errors.As(err, &pf) {
		return time.Hour, true
	}
	return 0, false
}

// PrivacyError means the recipient's privacy settings forbid contact.
// Never retried.
type PrivacyError struct {
	Reason string
}

func (e *PrivacyError) Error() string { return "privacy restricted: " + e.Reason }

// AuthError means the session is revoked, duplicated or unauthorized.
// The worker stops and the account goes to error status.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return "telegram auth: " + e.Reason }

// NetworkError wraps connection-class failures eligible for proxy failover.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "network: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

func IsPrivacy(err error) bool {
	var pe *PrivacyError
	return errors.As(err, &pe)
}

// LLM provider error kinds.

// RateLimitError surfaces provider rate limits; never auto-retried.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("llm rate limited, retry after %s", e.RetryAfter)
}

// ConnectionError is a transport failure talking to the provider; retried
// with exponential backoff.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return "llm connection: " + e.Err.Error() }
func (e *ConnectionError) Unwrap() error { return e.Err }

// ProviderError is a provider-side failure for a specific model; the caller
// walks the fallback model chain.
type ProviderError struct {
	Model string
	Err   error
}

func (e *ProviderError) Error() string { return "llm provider (" + e.Model + "): " + e.Err.Error() }
func (e *ProviderError) Unwrap() error { return e.Err }
