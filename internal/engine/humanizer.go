package engine

import (
	"math/rand"
	"regexp"
	"strings"
	"unicode"
)

// residualTagRe catches any leftover bracketed command the LLM invented,
// not just the four known tags.
var residualTagRe = regexp.MustCompile(`\[\s*[A-Z][A-Z_]*\s*\]`)

// formalPrefixes rewrites stiff openers to the register the fleet speaks.
// Applied once, longest-first order matters for overlapping keys.
var formalPrefixes = []struct{ from, to string }{
	{"Здравствуйте,", "привет,"},
	{"Здравствуйте", "привет"},
	{"Понимаю,", "понимаю"},
	{"Понимаю вас,", "понимаю"},
	{"Конечно,", "ну"},
	{"Разумеется,", "ну"},
	{"Безусловно,", "ну"},
	{"Отлично,", "класс,"},
	{"Прекрасно,", "класс,"},
	{"Извините,", "сорян,"},
	{"Прошу прощения,", "сорян,"},
}

// Humanize roughs up a raw LLM reply so it reads like thumb-typed chat:
// one question max, stray commands stripped, stochastic case and
// punctuation drops. The randomness is driven by the caller's rng so tests
// can pin a seed.
func Humanize(raw string, rng *rand.Rand) string {
	s := residualTagRe.ReplaceAllString(raw, "")
	s = limitQuestions(s)
	s = rewriteFormalPrefix(s)

	if rng.Float64() < 0.7 {
		s = lowerFirst(s)
	}
	s = dropCommas(s, rng, 0.25)
	s = strings.ReplaceAll(s, "!", ".")
	s = strings.Join(strings.Fields(s), " ")
	if strings.HasSuffix(s, ".") && rng.Float64() < 0.3 {
		s = strings.TrimRight(s, ".")
	}
	return strings.TrimSpace(s)
}

// limitQuestions keeps the first question sentence and every non-question
// sentence, dropping questions beyond the first.
func limitQuestions(s string) string {
	var out strings.Builder
	var sentence strings.Builder
	questions := 0
	flush := func() {
		text := sentence.String()
		sentence.Reset()
		if strings.Contains(text, "?") {
			questions++
			if questions > 1 {
				return
			}
		}
		out.WriteString(text)
	}
	for _, r := range s {
		sentence.WriteRune(r)
		if r == '?' || r == '!' || r == '.' {
			flush()
		}
	}
	flush()
	return strings.TrimSpace(out.String())
}

func rewriteFormalPrefix(s string) string {
	for _, p := range formalPrefixes {
		if strings.HasPrefix(s, p.from) {
			return p.to + s[len(p.from):]
		}
	}
	return s
}

func lowerFirst(s string) string {
	r := []rune(s)
	if len(r) > 0 && unicode.IsUpper(r[0]) {
		r[0] = unicode.ToLower(r[0])
	}
	return string(r)
}

func dropCommas(s string, rng *rand.Rand, p float64) string {
	var b strings.Builder
	for _, r := range s {
		if r == ',' && rng.Float64() < p {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
