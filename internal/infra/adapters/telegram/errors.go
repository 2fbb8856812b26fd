package telegram

import (
	"context"
	"errors"
	"net"

	"github.com/gotd/td/tgerr"

	"telegram-outreach-fleet/internal/domain"
)

var privacyCodes = []string{
	"USER_PRIVACY_RESTRICTED",
	"USER_IS_BLOCKED",
	"YOU_BLOCKED_USER",
	"USER_DEACTIVATED",
	"INPUT_USER_DEACTIVATED",
	"USER_IS_BOT",
}

var authCodes = []string{
	"AUTH_KEY_UNREGISTERED",
	"AUTH_KEY_DUPLICATED",
	"AUTH_KEY_INVALID",
	"SESSION_REVOKED",
	"SESSION_EXPIRED",
	"USER_DEACTIVATED_BAN",
}

// mapError folds Telegram RPC failures into the domain error kinds the
// worker dispatches on.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &domain.FloodError{Wait: wait}
	}
	if tgerr.Is(err, "PEER_FLOOD") {
		return &domain.PeerFloodError{}
	}
	if tgerr.Is(err, privacyCodes...) {
		return &domain.PrivacyError{Reason: rpcType(err)}
	}
	if tgerr.Is(err, authCodes...) {
		return &domain.AuthError{Reason: rpcType(err)}
	}
	var rpc *tgerr.Error
	if errors.As(err, &rpc) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &domain.NetworkError{Err: err}
	}
	// No RPC type means the request never completed.
	return &domain.NetworkError{Err: err}
}

func rpcType(err error) string {
	var rpc *tgerr.Error
	if errors.As(err, &rpc) {
		return rpc.Type
	}
	return err.Error()
}
