package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/gotd/td/tg"

	"telegram-outreach-fleet/internal/domain"
)

// The pinned gotd generates single-field requests as bare arguments; keep
// the resolve call sites on that form.
var _ func(context.Context, string) (*tg.ContactsResolvedPeer, error) = (*tg.Client)(nil).ContactsResolveUsername

func rememberedUser(id int64, hash int64, username string) *tg.User {
	u := &tg.User{ID: id, AccessHash: hash}
	if username != "" {
		u.SetUsername(username)
	}
	return u
}

func TestPeerCache_RememberAndLookup(t *testing.T) {
	pc := newPeerCache()
	pc.remember(rememberedUser(42, 7, "Trader"))

	p, ok := pc.lookupID(42)
	if !ok || p.UserID != 42 || p.AccessHash != 7 {
		t.Fatalf("lookupID = %+v, %v", p, ok)
	}
	// Username lookups are case-insensitive.
	if _, ok := pc.lookupName("tRaDeR"); !ok {
		t.Fatal("case-insensitive name lookup failed")
	}
	if _, ok := pc.lookupID(99); ok {
		t.Fatal("unknown id resolved")
	}
}

func TestResolvePeer_CachedPathsSkipAPI(t *testing.T) {
	// api is nil: any cached path reaching the network would panic.
	c := &Client{peers: newPeerCache()}
	c.peers.remember(rememberedUser(42, 7, "trader"))
	ctx := context.Background()

	for _, recipient := range []string{"@trader", "trader", "42"} {
		p, err := c.resolvePeer(ctx, recipient)
		if err != nil {
			t.Fatalf("resolvePeer(%q): %v", recipient, err)
		}
		user, ok := p.(*tg.InputPeerUser)
		if !ok || user.UserID != 42 {
			t.Fatalf("resolvePeer(%q) = %+v", recipient, p)
		}
	}

	// Numeric ids are only reachable through the cache.
	if _, err := c.resolvePeer(ctx, "99"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown numeric id: %v", err)
	}
	if _, err := c.resolvePeer(ctx, "  "); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("blank recipient: %v", err)
	}
}
