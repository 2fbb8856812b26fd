package adapter

import (
	"context"
	"time"
)

// IncomingMessage is one inbound private message as the worker sees it.
// Non-text media arrives as a textual placeholder ("[стикер]", "[фото]", ...).
type IncomingMessage struct {
	TelegramUserID int64
	Username       string
	MessageID      int
	Text           string
	ReceivedAt     time.Time
}

// Participant is a scraped group member.
type Participant struct {
	TelegramID int64
	Username   string
	FirstName  string
	IsBot      bool
}

// ScrapeOptions tunes participant scraping.
type ScrapeOptions struct {
	Max            int
	SkipBots       bool
	SkipNoUsername bool
}

// MessageHandler consumes incoming private messages from non-bot users.
type MessageHandler func(ctx context.Context, msg IncomingMessage)

// TelegramClient is the per-connection operation set. One instance wraps one
// MTProto connection routed through one proxy; all calls are serialized by
// the owning worker.
type TelegramClient interface {
	// Connect decrypts and normalizes the session, opens MTProto through
	// the assigned proxy and verifies the authorized state.
	Connect(ctx context.Context) error
	// Close disconnects; bounded by the caller's context deadline.
	Close(ctx context.Context) error

	// SendMessage delivers one text message and returns its Telegram id.
	SendMessage(ctx context.Context, recipient, text string, replyTo int) (int, error)
	// SendMessagesNatural types for typingTimes[i], sends parts[i], then
	// pauses pauseBetween ± 30% between parts. Returns sent ids in order.
	SendMessagesNatural(ctx context.Context, recipient string, parts []string, typingTimes []time.Duration, pauseBetween time.Duration) ([]int, error)
	// MarkAsRead acknowledges history up to maxID. Best effort.
	MarkAsRead(ctx context.Context, recipient string, maxID int) error
	// TypeAndWait shows the typing indicator for the whole duration,
	// refreshing before the server-side expiry.
	TypeAndWait(ctx context.Context, recipient string, d time.Duration) error

	JoinChannel(ctx context.Context, link string) error
	LeaveChannel(ctx context.Context, link string) error
	// ScrapeParticipants pages through group members, falling back to
	// message-history scraping when the participants endpoint fails.
	ScrapeParticipants(ctx context.Context, entity string, opts ScrapeOptions) ([]Participant, error)

	// Warm-up / background-activity surface.
	ReadRandomChannel(ctx context.Context) error
	ReadRandomDialog(ctx context.Context) error
	ReactToRandomPost(ctx context.Context, emoji string) error
	ViewRandomProfile(ctx context.Context) error
	// TypeInRandomDialog shows the typing indicator in a random private
	// dialog without sending anything.
	TypeInRandomDialog(ctx context.Context, d time.Duration) error
	SetOnline(ctx context.Context, online bool) error

	// OnMessage registers the handler for incoming private messages from
	// non-bot users. Must be called before Connect.
	OnMessage(h MessageHandler)
}

// ClientFactory builds a connected-ready client for an account bound to a
// specific proxy and API application.
type ClientFactory interface {
	New(accountID string, sessionCipher string, proxyURL string, apiID int, apiHash string) (TelegramClient, error)
}
