package telegram

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/gotd/td/tg"

	"telegram-outreach-fleet/internal/domain"
)

// peerCache remembers user access hashes seen in updates and resolves, so
// numeric recipients stay reachable without re-resolving.
type peerCache struct {
	mu     sync.RWMutex
	byID   map[int64]*tg.InputPeerUser
	byName map[string]*tg.InputPeerUser
}

func newPeerCache() *peerCache {
	return &peerCache{
		byID:   map[int64]*tg.InputPeerUser{},
		byName: map[string]*tg.InputPeerUser{},
	}
}

func (pc *peerCache) remember(u *tg.User) {
	peer := &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash}
	pc.mu.Lock()
	pc.byID[u.ID] = peer
	if name, ok := u.GetUsername(); ok && name != "" {
		pc.byName[strings.ToLower(name)] = peer
	}
	pc.mu.Unlock()
}

func (pc *peerCache) lookupID(id int64) (*tg.InputPeerUser, bool) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	p, ok := pc.byID[id]
	return p, ok
}

func (pc *peerCache) lookupName(name string) (*tg.InputPeerUser, bool) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	p, ok := pc.byName[strings.ToLower(name)]
	return p, ok
}

// resolvePeer turns a recipient ("@name", "name" or a numeric user id)
// into an input peer. Numeric ids are only resolvable after their access
// hash was observed in an update or a dialog listing.
func (c *Client) resolvePeer(ctx context.Context, recipient string) (tg.InputPeerClass, error) {
	r := strings.TrimSpace(strings.TrimPrefix(recipient, "@"))
	if r == "" {
		return nil, domain.ErrInvalidArgument
	}

	if id, err := strconv.ParseInt(r, 10, 64); err == nil {
		if p, ok := c.peers.lookupID(id); ok {
			return p, nil
		}
		return nil, domain.ErrNotFound
	}

	if p, ok := c.peers.lookupName(r); ok {
		return p, nil
	}
	res, err := c.api.ContactsResolveUsername(ctx, r)
	if err != nil {
		return nil, mapError(err)
	}
	for _, u := range res.Users {
		if user, ok := u.(*tg.User); ok {
			c.peers.remember(user)
		}
	}
	if p, ok := c.peers.lookupName(r); ok {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

// resolveChannel resolves a channel ref to an input channel, joining
// resolution results into the peer cache as a side effect.
func (c *Client) resolveChannel(ctx context.Context, ref ChannelRef) (*tg.InputChannel, error) {
	if ref.Username == "" {
		return nil, domain.ErrInvalidArgument
	}
	res, err := c.api.ContactsResolveUsername(ctx, ref.Username)
	if err != nil {
		return nil, mapError(err)
	}
	for _, ch := range res.Chats {
		if channel, ok := ch.(*tg.Channel); ok {
			return &tg.InputChannel{ChannelID: channel.ID, AccessHash: channel.AccessHash}, nil
		}
	}
	return nil, domain.ErrNotFound
}
