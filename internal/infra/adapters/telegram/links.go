package telegram

import (
	"strings"

	"telegram-outreach-fleet/internal/domain"
)

// ChannelRef is a parsed channel pointer: either a public username or a
// private invite hash, never both.
type ChannelRef struct {
	Username   string
	InviteHash string
}

// ParseChannelLink understands the link shapes found in warm-up pools and
// campaign configs: @name, t.me/name, t.me/+hash, t.me/joinchat/hash, with
// or without the scheme.
func ParseChannelLink(link string) (ChannelRef, error) {
	s := strings.TrimSpace(link)
	if s == "" {
		return ChannelRef{}, domain.ErrInvalidArgument
	}
	if strings.HasPrefix(s, "@") {
		return usernameRef(s[1:])
	}

	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	if host, rest, ok := strings.Cut(s, "/"); ok && isTelegramHost(host) {
		rest = strings.TrimSuffix(rest, "/")
		if q := strings.IndexByte(rest, '?'); q >= 0 {
			rest = rest[:q]
		}
		switch {
		case strings.HasPrefix(rest, "+"):
			return inviteRef(rest[1:])
		case strings.HasPrefix(rest, "joinchat/"):
			return inviteRef(rest[len("joinchat/"):])
		default:
			return usernameRef(rest)
		}
	}
	// A bare word is treated as a username.
	if !strings.ContainsAny(s, "/ ") {
		return usernameRef(s)
	}
	return ChannelRef{}, domain.ErrInvalidArgument
}

func isTelegramHost(host string) bool {
	switch strings.ToLower(host) {
	case "t.me", "telegram.me", "telegram.dog":
		return true
	}
	return false
}

func usernameRef(name string) (ChannelRef, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ChannelRef{}, domain.ErrInvalidArgument
	}
	return ChannelRef{Username: name}, nil
}

func inviteRef(hash string) (ChannelRef, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return ChannelRef{}, domain.ErrInvalidArgument
	}
	return ChannelRef{InviteHash: hash}, nil
}
