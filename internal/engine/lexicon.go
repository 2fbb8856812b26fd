package engine

import "strings"

// MediaPlaceholders are the stand-ins the Telegram adapter substitutes for
// non-text content. Matched by prefix in the media-spam gate.
var MediaPlaceholders = []string{
	"[стикер]",
	"[фото]",
	"[видео]",
	"[гифка]",
	"[голосовое]",
	"[кружок]",
	"[документ]",
	"[аудио]",
	"[геолокация]",
	"[контакт]",
	"[опрос]",
}

// IsMediaPlaceholder reports whether the text starts with a media stand-in.
func IsMediaPlaceholder(text string) bool {
	t := strings.TrimSpace(strings.ToLower(text))
	for _, p := range MediaPlaceholders {
		if strings.HasPrefix(t, p) {
			return true
		}
	}
	return false
}

// rejectionExact are short messages that alone mean "no".
var rejectionExact = []string{
	"нее", "неа", "не", "нет", "пас",
	"не надо", "нет спасибо", "не интересно", "неинтересно",
	"не хочу", "не нужно", "отстань", "отвали",
}

// rejectionPhrases end the dialogue when found anywhere in the text.
var rejectionPhrases = []string{
	"не интересует",
	"мне это не нужно",
	"не пиши мне",
	"не пишите мне",
	"хватит писать",
	"это спам",
	"удали мой контакт",
	"я не торгую",
	"отпишись",
	"иди нафиг",
	"пошел нафиг",
	"не беспокой",
}

// IsRejection matches the rejection lexicon: exact short forms, any phrase
// from the extended list, or a short message opening with a negation.
func IsRejection(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.Trim(t, ".!)")
	for _, w := range rejectionExact {
		if t == w {
			return true
		}
	}
	for _, p := range rejectionPhrases {
		if strings.Contains(t, p) {
			return true
		}
	}
	if len([]rune(t)) <= 25 {
		for _, pfx := range []string{"не ", "нет ", "не,", "нет,"} {
			if strings.HasPrefix(t, pfx) {
				return true
			}
		}
	}
	return false
}

// linkRequestStems match an explicit ask for the channel or link.
var linkRequestStems = []string{
	"ссылк", "ссыль", "линк",
	"скинь", "скинеш", "кинь",
	"за канал", "какой канал", "где канал", "твой канал",
	"где посмотреть", "покажи", "давай глянуть",
}

// IsExplicitLinkRequest reports whether the user directly asked for the
// link or the channel.
func IsExplicitLinkRequest(text string) bool {
	t := strings.ToLower(text)
	for _, stem := range linkRequestStems {
		if strings.Contains(t, stem) {
			return true
		}
	}
	return false
}

// shortPositives are consent words, matched exactly. Prefix matching here
// fires on phrases like "да не надо", so it is deliberately exact.
var shortPositives = []string{
	"давай", "да", "ок", "окей", "ага", "угу", "го", "можно", "валяй", "конечно",
}

// IsShortPositive reports whether the text is a bare consent word.
func IsShortPositive(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.Trim(t, ".!)")
	for _, w := range shortPositives {
		if t == w {
			return true
		}
	}
	return false
}

// channelMentionStems mark an outbound message as having brought up the
// channel, arming the consent branch.
var channelMentionStems = []string{
	"канал", "ссылк", "t.me/", "закреп", "подпис",
}

// MentionsChannel reports whether our outbound text brought up the channel.
func MentionsChannel(text string) bool {
	t := strings.ToLower(text)
	for _, stem := range channelMentionStems {
		if strings.Contains(t, stem) {
			return true
		}
	}
	return false
}

// softInterestStems are curiosity markers short of an explicit ask.
var softInterestStems = []string{
	"интересно", "любопытно", "расскажи", "подробнее", "а что там",
	"что за тема", "как это работает", "давно этим", "сколько выходит",
}

// IsSoftInterest reports whether the text signals curiosity.
func IsSoftInterest(text string) bool {
	t := strings.ToLower(text)
	for _, stem := range softInterestStems {
		if strings.Contains(t, stem) {
			return true
		}
	}
	return false
}

// Interest-score stems, weighted per family.
var (
	tradingStems  = []string{"трейд", "торг", "фьюч", "спот", "крипт", "бирж"}
	signalStems   = []string{"сигнал"}
	channelStems  = []string{"канал"}
	positiveStems = []string{"интересно", "круто", "норм", "класс", "хорошо", "неплохо", "прикольно"}
)

func countStems(t string, stems []string) int {
	n := 0
	for _, stem := range stems {
		n += strings.Count(t, stem)
	}
	return n
}

// InterestDelta scores one user turn:
// 2 per trading-style mention, 3 per signals mention, 4 per channel
// mention, 1 per positive word, clamped to [0, 20].
func InterestDelta(text string) int {
	t := strings.ToLower(text)
	d := 2*countStems(t, tradingStems) +
		3*countStems(t, signalStems) +
		4*countStems(t, channelStems) +
		countStems(t, positiveStems)
	if d < 0 {
		return 0
	}
	if d > 20 {
		return 20
	}
	return d
}
