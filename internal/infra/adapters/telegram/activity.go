package telegram

import (
	"context"
	"time"

	"github.com/gotd/td/tg"

	"telegram-outreach-fleet/internal/domain/ports/adapter"
)

// Warm-up and background-activity surface: the "human noise" an account
// makes besides outreach.

func (c *Client) ScrapeParticipants(ctx context.Context, entity string, opts adapter.ScrapeOptions) ([]adapter.Participant, error) {
	ref, err := ParseChannelLink(entity)
	if err != nil {
		return nil, err
	}
	channel, err := c.resolveChannel(ctx, ref)
	if err != nil {
		return nil, err
	}

	participants, err := c.scrapeViaParticipants(ctx, channel, opts)
	if err == nil {
		return participants, nil
	}
	c.log.Debug().Err(err).Str("entity", entity).Msg("participants endpoint failed, scraping message history")
	return c.scrapeViaHistory(ctx, channel, opts)
}

func (c *Client) scrapeViaParticipants(ctx context.Context, channel *tg.InputChannel, opts adapter.ScrapeOptions) ([]adapter.Participant, error) {
	const pageSize = 100
	var out []adapter.Participant
	for offset := 0; ; offset += pageSize {
		res, err := c.api.ChannelsGetParticipants(ctx, &tg.ChannelsGetParticipantsRequest{
			Channel: channel,
			Filter:  &tg.ChannelParticipantsRecent{},
			Offset:  offset,
			Limit:   pageSize,
		})
		if err != nil {
			return nil, mapError(err)
		}
		page, ok := res.(*tg.ChannelsChannelParticipants)
		if !ok || len(page.Users) == 0 {
			break
		}
		for _, u := range page.Users {
			user, ok := u.(*tg.User)
			if !ok {
				continue
			}
			c.peers.remember(user)
			if p, keep := participantFrom(user, opts); keep {
				out = append(out, p)
				if opts.Max > 0 && len(out) >= opts.Max {
					return out, nil
				}
			}
		}
		if len(page.Users) < pageSize {
			break
		}
	}
	return out, nil
}

// scrapeViaHistory collects senders from recent messages. Slower and
// partial, but works on channels that hide their member list.
func (c *Client) scrapeViaHistory(ctx context.Context, channel *tg.InputChannel, opts adapter.ScrapeOptions) ([]adapter.Participant, error) {
	res, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  &tg.InputPeerChannel{ChannelID: channel.ChannelID, AccessHash: channel.AccessHash},
		Limit: 100,
	})
	if err != nil {
		return nil, mapError(err)
	}
	users := usersFromHistory(res)

	var out []adapter.Participant
	seen := map[int64]bool{}
	for _, user := range users {
		if seen[user.ID] {
			continue
		}
		seen[user.ID] = true
		c.peers.remember(user)
		if p, keep := participantFrom(user, opts); keep {
			out = append(out, p)
			if opts.Max > 0 && len(out) >= opts.Max {
				break
			}
		}
	}
	return out, nil
}

func usersFromHistory(res tg.MessagesMessagesClass) []*tg.User {
	var raw []tg.UserClass
	switch h := res.(type) {
	case *tg.MessagesMessages:
		raw = h.Users
	case *tg.MessagesMessagesSlice:
		raw = h.Users
	case *tg.MessagesChannelMessages:
		raw = h.Users
	}
	out := make([]*tg.User, 0, len(raw))
	for _, u := range raw {
		if user, ok := u.(*tg.User); ok {
			out = append(out, user)
		}
	}
	return out
}

func participantFrom(user *tg.User, opts adapter.ScrapeOptions) (adapter.Participant, bool) {
	if opts.SkipBots && user.Bot {
		return adapter.Participant{}, false
	}
	username, _ := user.GetUsername()
	if opts.SkipNoUsername && username == "" {
		return adapter.Participant{}, false
	}
	firstName, _ := user.GetFirstName()
	return adapter.Participant{
		TelegramID: user.ID,
		Username:   username,
		FirstName:  firstName,
		IsBot:      user.Bot,
	}, true
}

func (c *Client) ReadRandomChannel(ctx context.Context) error {
	channel, err := c.randomChannel(ctx)
	if err != nil {
		return err
	}
	_, err = c.api.ChannelsReadHistory(ctx, &tg.ChannelsReadHistoryRequest{Channel: channel})
	return mapError(err)
}

func (c *Client) ReactToRandomPost(ctx context.Context, emoji string) error {
	channel, err := c.randomChannel(ctx)
	if err != nil {
		return err
	}
	peer := &tg.InputPeerChannel{ChannelID: channel.ChannelID, AccessHash: channel.AccessHash}
	history, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{Peer: peer, Limit: 20})
	if err != nil {
		return mapError(err)
	}
	ids := messageIDs(history)
	if len(ids) == 0 {
		return errNoDialogs
	}
	_, err = c.api.MessagesSendReaction(ctx, &tg.MessagesSendReactionRequest{
		Peer:     peer,
		MsgID:    ids[c.rng.Intn(len(ids))],
		Reaction: []tg.ReactionClass{&tg.ReactionEmoji{Emoticon: emoji}},
	})
	return mapError(err)
}

func (c *Client) ViewRandomProfile(ctx context.Context) error {
	user, err := c.randomDialogUser(ctx)
	if err != nil {
		return err
	}
	_, err = c.api.UsersGetFullUser(ctx, &tg.InputUser{UserID: user.ID, AccessHash: user.AccessHash})
	return mapError(err)
}

func (c *Client) ReadRandomDialog(ctx context.Context) error {
	user, err := c.randomDialogUser(ctx)
	if err != nil {
		return err
	}
	_, err = c.api.MessagesReadHistory(ctx, &tg.MessagesReadHistoryRequest{
		Peer: &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash},
	})
	return mapError(err)
}

// TypeInRandomDialog shows typing in a random private dialog and sends
// nothing, as if the user started a reply and thought better of it.
func (c *Client) TypeInRandomDialog(ctx context.Context, d time.Duration) error {
	user, err := c.randomDialogUser(ctx)
	if err != nil {
		return err
	}
	return c.typeAt(ctx, &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash}, d)
}

func (c *Client) randomDialogUser(ctx context.Context) (*tg.User, error) {
	dialogs, err := c.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      50,
	})
	if err != nil {
		return nil, mapError(err)
	}
	users := dialogUsers(dialogs)
	if len(users) == 0 {
		return nil, errNoDialogs
	}
	user := users[c.rng.Intn(len(users))]
	c.peers.remember(user)
	return user, nil
}

func (c *Client) SetOnline(ctx context.Context, online bool) error {
	_, err := c.api.AccountUpdateStatus(ctx, !online)
	return mapError(err)
}

// randomChannel picks a random channel from the account's dialog list.
func (c *Client) randomChannel(ctx context.Context) (*tg.InputChannel, error) {
	dialogs, err := c.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      50,
	})
	if err != nil {
		return nil, mapError(err)
	}
	channels := dialogChannels(dialogs)
	if len(channels) == 0 {
		return nil, errNoDialogs
	}
	ch := channels[c.rng.Intn(len(channels))]
	return &tg.InputChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}, nil
}

func dialogChannels(res tg.MessagesDialogsClass) []*tg.Channel {
	var chats []tg.ChatClass
	switch d := res.(type) {
	case *tg.MessagesDialogs:
		chats = d.Chats
	case *tg.MessagesDialogsSlice:
		chats = d.Chats
	}
	var out []*tg.Channel
	for _, ch := range chats {
		if channel, ok := ch.(*tg.Channel); ok && !channel.Left {
			out = append(out, channel)
		}
	}
	return out
}

func dialogUsers(res tg.MessagesDialogsClass) []*tg.User {
	var raw []tg.UserClass
	switch d := res.(type) {
	case *tg.MessagesDialogs:
		raw = d.Users
	case *tg.MessagesDialogsSlice:
		raw = d.Users
	}
	var out []*tg.User
	for _, u := range raw {
		if user, ok := u.(*tg.User); ok && !user.Bot && !user.Self {
			out = append(out, user)
		}
	}
	return out
}

func messageIDs(res tg.MessagesMessagesClass) []int {
	var msgs []tg.MessageClass
	switch h := res.(type) {
	case *tg.MessagesMessages:
		msgs = h.Messages
	case *tg.MessagesMessagesSlice:
		msgs = h.Messages
	case *tg.MessagesChannelMessages:
		msgs = h.Messages
	}
	var out []int
	for _, m := range msgs {
		if msg, ok := m.(*tg.Message); ok {
			out = append(out, msg.ID)
		}
	}
	return out
}
