// Package langdetect guesses the spoken language from confirmed transcripts.
package langdetect

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pemistahl/lingua-go"
)

// Auto is returned when no language could be determined.
const Auto = "auto"

// minRunes is the shortest text worth a vote; single words are too ambiguous.
const minRunes = 12

// Detector wraps a lingua detector.
type Detector struct {
	d lingua.LanguageDetector
}

// New creates a detector for the given ISO 639-1 codes. Fewer than two
// recognised codes means all spoken languages.
func New(codes ...string) *Detector {
	var langs []lingua.Language
	for _, c := range codes {
		iso := lingua.GetIsoCode639_1FromValue(strings.ToUpper(baseCode(c)))
		lang := lingua.GetLanguageFromIsoCode639_1(iso)
		if lang != lingua.Unknown {
			langs = append(langs, lang)
		}
	}

	b := lingua.NewLanguageDetectorBuilder()
	if len(langs) >= 2 {
		return &Detector{d: b.FromLanguages(langs...).Build()}
	}
	return &Detector{d: b.FromAllSpokenLanguages().Build()}
}

// baseCode strips region and script subtags: "pt-BR" -> "pt".
func baseCode(tag string) string {
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		return tag[:i]
	}
	return tag
}

// Detect returns the ISO 639-1 code and English name of text's language, or
// Auto when it cannot tell.
func (d *Detector) Detect(text string) (code, name string) {
	lang, ok := d.d.DetectLanguageOf(text)
	if !ok {
		return Auto, "Auto"
	}
	return strings.ToLower(lang.IsoCode639_1().String()), lang.String()
}

// Tracker keeps a running vote over a session's transcripts. It is safe for
// concurrent use.
type Tracker struct {
	det *Detector

	mu    sync.Mutex
	votes map[string]int
	best  string
}

// NewTracker creates a tracker using det.
func NewTracker(det *Detector) *Tracker {
	return &Tracker{det: det, votes: make(map[string]int), best: Auto}
}

// Observe adds text to the vote.
func (t *Tracker) Observe(text string) {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < minRunes {
		return
	}
	code, _ := t.det.Detect(text)
	if code == Auto {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.votes[code]++
	if t.best == Auto || t.votes[code] > t.votes[t.best] {
		t.best = code
	}
}

// Language returns the leading language, or Auto before any vote.
func (t *Tracker) Language() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.best
}

// Reset clears the vote.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.votes)
	t.best = Auto
}
