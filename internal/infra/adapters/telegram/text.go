package telegram

import (
	"github.com/gotd/td/tg"
)

// placeholderFor maps non-text content to the textual stand-ins the
// dialogue engine's media-spam gate matches on.
func placeholderFor(media tg.MessageMediaClass) string {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		return "[фото]"
	case *tg.MessageMediaGeo, *tg.MessageMediaGeoLive, *tg.MessageMediaVenue:
		return "[геолокация]"
	case *tg.MessageMediaContact:
		return "[контакт]"
	case *tg.MessageMediaPoll:
		return "[опрос]"
	case *tg.MessageMediaDocument:
		if doc, ok := m.Document.(*tg.Document); ok {
			return documentPlaceholder(doc)
		}
		return "[документ]"
	default:
		return "[документ]"
	}
}

func documentPlaceholder(doc *tg.Document) string {
	video := false
	animated := false
	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeSticker:
			return "[стикер]"
		case *tg.DocumentAttributeAudio:
			if a.Voice {
				return "[голосовое]"
			}
			return "[аудио]"
		case *tg.DocumentAttributeVideo:
			if a.RoundMessage {
				return "[кружок]"
			}
			video = true
		case *tg.DocumentAttributeAnimated:
			animated = true
		}
	}
	switch {
	case animated:
		return "[гифка]"
	case video:
		return "[видео]"
	}
	return "[документ]"
}

// incomingText extracts the text the worker should see: the message body,
// or a media placeholder when there is no text.
func incomingText(msg *tg.Message) string {
	if msg.Message != "" {
		return msg.Message
	}
	if media, ok := msg.GetMedia(); ok {
		return placeholderFor(media)
	}
	return ""
}

// sentMessageID digs the new message id out of a send result.
func sentMessageID(updates tg.UpdatesClass) int {
	switch u := updates.(type) {
	case *tg.UpdateShortSentMessage:
		return u.ID
	case *tg.Updates:
		for _, upd := range u.Updates {
			switch m := upd.(type) {
			case *tg.UpdateMessageID:
				return m.ID
			case *tg.UpdateNewMessage:
				if msg, ok := m.Message.(*tg.Message); ok {
					return msg.ID
				}
			}
		}
	}
	return 0
}
