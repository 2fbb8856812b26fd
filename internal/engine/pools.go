package engine

import "math/rand"

// The pools below are part of the outbound behavior contract: variety and
// weighted sampling are what keep the fleet from sounding scripted.

type weighted struct {
	text   string
	weight int
}

// greetingPool is weighted toward the simplest openers.
var greetingPool = []weighted{
	{"привет", 5},
	{"здарова", 4},
	{"хай", 3},
	{"привет) как оно?", 2},
	{"йо", 2},
	{"здарова, как сам?", 1},
	{"привет, есть минутка?", 1},
}

// secondMessagePool is the scripted second outbound turn. Costs no tokens.
var secondMessagePool = []string{
	"ты на фьючах торгуешь или спот?",
	"сам давно в крипте?",
	"ты вообще по трейдингу или так, наблюдаешь?",
	"чем занимаешься, если не секрет?",
	"ты в теме крипты вообще?",
}

// linkIntroPool opens the link block. Repeat sends get their own phrasing.
var linkIntroPool = []string{
	"лови",
	"скидываю, глянь",
	"держи, вот он",
	"вот, смотри",
}

var linkRepeatIntroPool = []string{
	"я уже скидывал, лови еще раз",
	"так я же кидал, вот снова",
}

// linkOutroPool closes the link block with a nudge.
var linkOutroPool = []string{
	"там все сигналы и разборы выкладывают",
	"глянь закреп, там суть",
	"посмотри последние посты, поймешь о чем я",
	"там без воды, по делу",
}

// rejectionCloserPool is the polite goodbye after a refusal.
var rejectionCloserPool = []string{
	"ок, удачи",
	"понял, всего доброго",
	"ладно, бывай",
	"ок, не настаиваю. удачи",
}

// followUpPool nudges a user who went silent.
var followUpPool = []string{
	"ну что, глянул?",
	"как успехи?",
	"не потерялся?",
	"актуально еще?",
}

// FirstMessageFallback is used when every other first-message path fails.
const FirstMessageFallback = "ты на фьючах торгуешь или спот?"

func pickWeighted(rng *rand.Rand, pool []weighted) string {
	total := 0
	for _, w := range pool {
		total += w.weight
	}
	n := rng.Intn(total)
	for _, w := range pool {
		n -= w.weight
		if n < 0 {
			return w.text
		}
	}
	return pool[len(pool)-1].text
}

func pick(rng *rand.Rand, pool []string) string {
	return pool[rng.Intn(len(pool))]
}

// Greeting draws an opener from the weighted pool.
func Greeting(rng *rand.Rand) string { return pickWeighted(rng, greetingPool) }

// SecondMessage draws the scripted second outbound turn.
func SecondMessage(rng *rand.Rand) string { return pick(rng, secondMessagePool) }

// RejectionCloser draws a polite goodbye.
func RejectionCloser(rng *rand.Rand) string { return pick(rng, rejectionCloserPool) }

// FollowUpNudge draws a scripted follow-up line.
func FollowUpNudge(rng *rand.Rand) string { return pick(rng, followUpPool) }

// LinkBlock composes the three-chunk link delivery: intro, the link on its
// own line, and a short post-explanation, joined by blank lines.
func LinkBlock(rng *rand.Rand, url string, resend bool) string {
	intro := pick(rng, linkIntroPool)
	if resend {
		intro = pick(rng, linkRepeatIntroPool)
	}
	return intro + "\n\n" + url + "\n\n" + pick(rng, linkOutroPool)
}
