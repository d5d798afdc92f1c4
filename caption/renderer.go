package caption

import (
	"slices"
	"time"

	"golang.org/x/text/unicode/norm"

	"go.aimuz.me/livecaption/internal/loop"
)

// RevealMode selects how newly confirmed text appears.
type RevealMode int

const (
	// RevealTypewriter types new characters at a bounded rate.
	RevealTypewriter RevealMode = iota
	// RevealHighlight shows text instantly and marks added words.
	RevealHighlight
)

// Renderer defaults.
const (
	DefaultInstantCap   = 50
	DefaultTypeTail     = 30
	DefaultTypeInterval = 25 * time.Millisecond
	DefaultSecondaryFor = 3 * time.Second
	DefaultSilence      = 5 * time.Second
)

// RendererConfig holds configuration for the renderer.
// Zero values are replaced with defaults.
type RendererConfig struct {
	Mode RevealMode

	// A new suffix longer than InstantCap runes shows all but the last
	// TypeTail runes instantly.
	InstantCap   int
	TypeTail     int
	TypeInterval time.Duration

	SecondaryFor time.Duration // how long the previous line stays visible
	Silence      time.Duration // hide a speaker after this long without updates
}

func (c RendererConfig) withDefaults() RendererConfig {
	if c.InstantCap <= 0 {
		c.InstantCap = DefaultInstantCap
	}
	if c.TypeTail <= 0 {
		c.TypeTail = DefaultTypeTail
	}
	c.TypeTail = min(c.TypeTail, c.InstantCap)
	if c.TypeInterval <= 0 {
		c.TypeInterval = DefaultTypeInterval
	}
	if c.SecondaryFor <= 0 {
		c.SecondaryFor = DefaultSecondaryFor
	}
	if c.Silence <= 0 {
		c.Silence = DefaultSilence
	}
	return c
}

// Track is what one stream of a speaker currently shows.
type Track struct {
	Confirmed        string // revealed part of the confirmed text
	Live             string
	Primary          string // Confirmed plus Live
	Secondary        string
	SecondaryVisible bool
	Words            []Word // RevealHighlight only
}

// Presentation is the display instruction for one speaker.
type Presentation struct {
	Speaker     string
	Transcript  Track
	Translation Track
}

// Surface displays presentations. All calls happen on the loop.
type Surface interface {
	Show(p Presentation)
	Hide(speaker string)
	SetOverlayVisible(visible bool)
	ShowError(message string)
}

type trackView struct {
	target []rune
	shown  int
	live   string
	words  []Word

	secondary        string
	secondaryVisible bool

	typing loop.Timer
	fade   loop.Timer
}

func (tv *trackView) track() Track {
	confirmed := string(tv.target[:tv.shown])
	primary := confirmed
	if tv.live != "" {
		if primary != "" {
			primary += " "
		}
		primary += tv.live
	}
	return Track{
		Confirmed:        confirmed,
		Live:             tv.live,
		Primary:          primary,
		Secondary:        tv.secondary,
		SecondaryVisible: tv.secondaryVisible && tv.secondary != "",
		Words:            tv.words,
	}
}

// active reports whether the track has anything to show, counting
// confirmed text that is still being typed.
func (tv *trackView) active() bool {
	return len(tv.target) > 0 || tv.live != "" || (tv.secondaryVisible && tv.secondary != "")
}

func (tv *trackView) stopTimers() {
	stopTimer(&tv.typing)
	stopTimer(&tv.fade)
}

type speakerView struct {
	tracks  [2]trackView
	silence loop.Timer
	visible bool
}

func stopTimer(t *loop.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// Renderer draws each speaker's captions on a Surface. It must only be used
// from the loop.
type Renderer struct {
	exec    loop.Executor
	surface Surface
	cfg     RendererConfig

	speakers map[string]*speakerView
	overlay  bool
}

// NewRenderer creates a renderer drawing on surface.
func NewRenderer(exec loop.Executor, surface Surface, cfg RendererConfig) *Renderer {
	return &Renderer{
		exec:     exec,
		surface:  surface,
		cfg:      cfg.withDefaults(),
		speakers: make(map[string]*speakerView),
	}
}

// Config returns the effective configuration.
func (r *Renderer) Config() RendererConfig { return r.cfg }

// Render applies a reconciled update.
func (r *Renderer) Render(u Update) {
	v, ok := r.speakers[u.Speaker]
	if !ok {
		v = &speakerView{}
		r.speakers[u.Speaker] = v
	}
	tv := &v.tracks[u.Kind]

	if u.Confirmation {
		r.setSecondary(u.Speaker, tv, norm.NFC.String(u.PreviousConfirmed))
	}
	r.reveal(u.Speaker, tv, norm.NFC.String(u.Confirmed))
	tv.live = norm.NFC.String(u.Live)

	stopTimer(&v.silence)
	v.silence = r.exec.AfterFunc(r.cfg.Silence, func() {
		v.silence = nil
		r.hide(u.Speaker, v)
	})

	r.present(u.Speaker, v)
}

func (r *Renderer) setSecondary(speaker string, tv *trackView, prev string) {
	stopTimer(&tv.fade)
	tv.secondary = prev
	tv.secondaryVisible = prev != ""
	if !tv.secondaryVisible {
		return
	}
	tv.fade = r.exec.AfterFunc(r.cfg.SecondaryFor, func() {
		tv.fade = nil
		tv.secondaryVisible = false
		r.refresh(speaker)
	})
}

func commonPrefix(a, b []rune) int {
	n := min(len(a), len(b))
	for i := range n {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// reveal moves the confirmed target to text. Characters already on screen
// that text keeps are never retyped.
func (r *Renderer) reveal(speaker string, tv *trackView, text string) {
	next := []rune(text)
	if slices.Equal(next, tv.target) {
		return
	}

	if r.cfg.Mode == RevealHighlight {
		stopTimer(&tv.typing)
		tv.words = DiffWords(string(tv.target), text)
		tv.target = next
		tv.shown = len(next)
		return
	}

	keep := commonPrefix(tv.target[:tv.shown], next)
	tv.target = next
	tv.shown = keep
	if len(next)-keep > r.cfg.InstantCap {
		tv.shown = len(next) - r.cfg.TypeTail
	}

	stopTimer(&tv.typing)
	if tv.shown < len(next) {
		r.typeNext(speaker, tv)
	}
}

func (r *Renderer) typeNext(speaker string, tv *trackView) {
	tv.typing = r.exec.AfterFunc(r.cfg.TypeInterval, func() {
		tv.typing = nil
		tv.shown++
		r.refresh(speaker)
		if tv.shown < len(tv.target) {
			r.typeNext(speaker, tv)
		}
	})
}

// refresh redraws a speaker that is currently on screen.
func (r *Renderer) refresh(speaker string) {
	v, ok := r.speakers[speaker]
	if !ok || !v.visible {
		return
	}
	r.present(speaker, v)
}

func (r *Renderer) present(speaker string, v *speakerView) {
	if !v.tracks[KindTranscript].active() && !v.tracks[KindTranslation].active() {
		r.hide(speaker, v)
		return
	}
	v.visible = true
	r.syncOverlay()
	r.surface.Show(Presentation{
		Speaker:     speaker,
		Transcript:  v.tracks[KindTranscript].track(),
		Translation: v.tracks[KindTranslation].track(),
	})
}

func (r *Renderer) hide(speaker string, v *speakerView) {
	if v.visible {
		v.visible = false
		r.surface.Hide(speaker)
	}
	r.syncOverlay()
}

func (r *Renderer) syncOverlay() {
	visible := false
	for _, v := range r.speakers {
		if v.visible {
			visible = true
			break
		}
	}
	if visible != r.overlay {
		r.overlay = visible
		r.surface.SetOverlayVisible(visible)
	}
}

// ShowError forwards a user-visible error to the surface.
func (r *Renderer) ShowError(message string) {
	r.surface.ShowError(message)
}

// Snapshot returns what the speaker would currently show.
func (r *Renderer) Snapshot(speaker string) (Presentation, bool) {
	v, ok := r.speakers[speaker]
	if !ok {
		return Presentation{}, false
	}
	return Presentation{
		Speaker:     speaker,
		Transcript:  v.tracks[KindTranscript].track(),
		Translation: v.tracks[KindTranslation].track(),
	}, v.visible
}

// OverlayVisible reports whether any speaker is on screen.
func (r *Renderer) OverlayVisible() bool { return r.overlay }

// Reset cancels every animation and timer and clears the screen.
func (r *Renderer) Reset() {
	for speaker, v := range r.speakers {
		stopTimer(&v.silence)
		for i := range v.tracks {
			v.tracks[i].stopTimers()
		}
		if v.visible {
			r.surface.Hide(speaker)
		}
	}
	clear(r.speakers)
	r.syncOverlay()
}
