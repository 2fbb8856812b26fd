package telegram

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	mathrand "math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gotd/contrib/bg"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"telegram-outreach-fleet/internal/domain"
	"telegram-outreach-fleet/internal/domain/ports/adapter"
	"telegram-outreach-fleet/internal/infra/vault"
)

// typingRefresh is how often the typing indicator is re-sent; the server
// drops it after about five seconds.
const typingRefresh = 4500 * time.Millisecond

const reconnectTimeout = 5 * time.Minute

var _ adapter.TelegramClient = (*Client)(nil)

// Client wraps one MTProto connection for one account, always routed
// through the account's proxy.
type Client struct {
	accountID     string
	sessionCipher string
	proxyURL      string
	apiID         int
	apiHash       string

	vault *vault.Vault
	log   *zerolog.Logger
	rng   *mathrand.Rand

	handler    adapter.MessageHandler
	dispatcher tg.UpdateDispatcher

	tg    *telegram.Client
	api   *tg.Client
	peers *peerCache
	stop  bg.StopFunc
}

var _ adapter.ClientFactory = (*Factory)(nil)

// Factory builds clients bound to the shared session vault.
type Factory struct {
	vault *vault.Vault
	log   *zerolog.Logger
}

func NewFactory(v *vault.Vault, logger *zerolog.Logger) *Factory {
	l := logger.With().Str("component", "TelegramClientFactory").Logger()
	return &Factory{vault: v, log: &l}
}

func (f *Factory) New(accountID, sessionCipher, proxyURL string, apiID int, apiHash string) (adapter.TelegramClient, error) {
	if proxyURL == "" {
		// Direct connections are forbidden, full stop.
		return nil, domain.ErrNoProxyAssigned
	}
	if sessionCipher == "" {
		return nil, domain.ErrNoSession
	}
	return &Client{
		accountID:     accountID,
		sessionCipher: sessionCipher,
		proxyURL:      proxyURL,
		apiID:         apiID,
		apiHash:       apiHash,
		vault:         f.vault,
		log:           f.log,
		rng:           mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
		dispatcher:    tg.NewUpdateDispatcher(),
		peers:         newPeerCache(),
	}, nil
}

func (c *Client) OnMessage(h adapter.MessageHandler) { c.handler = h }

func (c *Client) Connect(ctx context.Context) error {
	plain, err := c.vault.DecryptSession(c.sessionCipher)
	if err != nil {
		return fmt.Errorf("decrypt session for %s: %w", c.accountID, err)
	}
	data, err := session.TelethonSession(plain)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSessionMalformed, err)
	}
	storage := new(session.StorageMemory)
	loader := session.Loader{Storage: storage}
	if err := loader.Save(ctx, data); err != nil {
		return err
	}

	dialer, err := dialFuncFor(c.proxyURL)
	if err != nil {
		return &domain.NetworkError{Err: err}
	}

	c.dispatcher.OnNewMessage(c.onNewMessage)
	c.tg = telegram.NewClient(c.apiID, c.apiHash, telegram.Options{
		Resolver: dcs.Plain(dcs.PlainOptions{
			Dial: dialer,
		}),
		ReconnectionBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.Multiplier = 1.1
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = reconnectTimeout
			return b
		},
		Device:         DeviceFor(c.accountID, time.Now()),
		SessionStorage: storage,
		UpdateHandler:  c.dispatcher,
		RetryInterval:  5 * time.Second,
		MaxRetries:     5,
		DialTimeout:    10 * time.Second,
		Middlewares: []telegram.Middleware{
			floodwait.NewSimpleWaiter(),
			ratelimit.New(rate.Every(100*time.Millisecond), 5),
		},
	})

	stop, err := bg.Connect(c.tg, bg.WithContext(ctx))
	if err != nil {
		return mapError(err)
	}
	c.stop = stop

	status, err := c.tg.Auth().Status(ctx)
	if err != nil {
		c.stopConnection()
		return mapError(err)
	}
	if !status.Authorized {
		c.stopConnection()
		return &domain.AuthError{Reason: "session not authorized"}
	}
	c.api = c.tg.API()
	c.log.Info().Str("account_id", c.accountID).Msg("telegram client connected")
	return nil
}

func (c *Client) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.stopConnection()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) stopConnection() {
	if c.stop != nil {
		_ = c.stop()
		c.stop = nil
	}
}

func (c *Client) onNewMessage(ctx context.Context, e tg.Entities, update *tg.UpdateNewMessage) error {
	msg, ok := update.Message.(*tg.Message)
	if !ok || msg.Out {
		return nil
	}
	peer, ok := msg.PeerID.(*tg.PeerUser)
	if !ok {
		return nil
	}
	user := e.Users[peer.UserID]
	if user == nil || user.Bot {
		return nil
	}
	c.peers.remember(user)
	if c.handler == nil {
		return nil
	}

	text := incomingText(msg)
	if text == "" {
		return nil
	}
	username, _ := user.GetUsername()
	c.handler(ctx, adapter.IncomingMessage{
		TelegramUserID: user.ID,
		Username:       username,
		MessageID:      msg.ID,
		Text:           text,
		ReceivedAt:     time.Now(),
	})
	return nil
}

func (c *Client) SendMessage(ctx context.Context, recipient, text string, replyTo int) (int, error) {
	peer, err := c.resolvePeer(ctx, recipient)
	if err != nil {
		return 0, err
	}
	req := &tg.MessagesSendMessageRequest{
		Peer:     peer,
		Message:  text,
		RandomID: randomID(),
	}
	if replyTo > 0 {
		req.ReplyTo = &tg.InputReplyToMessage{ReplyToMsgID: replyTo}
	}
	updates, err := c.api.MessagesSendMessage(ctx, req)
	if err != nil {
		return 0, mapError(err)
	}
	return sentMessageID(updates), nil
}

func (c *Client) SendMessagesNatural(ctx context.Context, recipient string, parts []string, typingTimes []time.Duration, pauseBetween time.Duration) ([]int, error) {
	ids := make([]int, 0, len(parts))
	for i, part := range parts {
		if i > 0 && pauseBetween > 0 {
			if err := sleepCtx(ctx, jitter(c.rng, pauseBetween, 0.3)); err != nil {
				return ids, err
			}
		}
		var typing time.Duration
		if i < len(typingTimes) {
			typing = typingTimes[i]
		}
		if typing > 0 {
			if err := c.TypeAndWait(ctx, recipient, typing); err != nil {
				return ids, err
			}
		}
		id, err := c.SendMessage(ctx, recipient, part, 0)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Client) TypeAndWait(ctx context.Context, recipient string, d time.Duration) error {
	peer, err := c.resolvePeer(ctx, recipient)
	if err != nil {
		return err
	}
	return c.typeAt(ctx, peer, d)
}

func (c *Client) typeAt(ctx context.Context, peer tg.InputPeerClass, d time.Duration) error {
	deadline := time.Now().Add(d)
	for {
		_, err := c.api.MessagesSetTyping(ctx, &tg.MessagesSetTypingRequest{
			Peer:   peer,
			Action: &tg.SendMessageTypingAction{},
		})
		if err != nil {
			return mapError(err)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		step := typingRefresh
		if remaining < step {
			step = remaining
		}
		if err := sleepCtx(ctx, step); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return nil
		}
	}
}

func (c *Client) MarkAsRead(ctx context.Context, recipient string, maxID int) error {
	peer, err := c.resolvePeer(ctx, recipient)
	if err != nil {
		return err
	}
	_, err = c.api.MessagesReadHistory(ctx, &tg.MessagesReadHistoryRequest{Peer: peer, MaxID: maxID})
	return mapError(err)
}

func (c *Client) JoinChannel(ctx context.Context, link string) error {
	ref, err := ParseChannelLink(link)
	if err != nil {
		return err
	}
	if ref.InviteHash != "" {
		_, err := c.api.MessagesImportChatInvite(ctx, ref.InviteHash)
		return mapError(err)
	}
	channel, err := c.resolveChannel(ctx, ref)
	if err != nil {
		return err
	}
	_, err = c.api.ChannelsJoinChannel(ctx, channel)
	return mapError(err)
}

func (c *Client) LeaveChannel(ctx context.Context, link string) error {
	ref, err := ParseChannelLink(link)
	if err != nil {
		return err
	}
	channel, err := c.resolveChannel(ctx, ref)
	if err != nil {
		return err
	}
	_, err = c.api.ChannelsLeaveChannel(ctx, channel)
	return mapError(err)
}

func randomID() int64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return int64(binary.LittleEndian.Uint64(b[:]))
}

func jitter(rng *mathrand.Rand, d time.Duration, spread float64) time.Duration {
	f := 1 + spread*(2*rng.Float64()-1)
	return time.Duration(float64(d) * f)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var errNoDialogs = errors.New("no suitable dialogs")
