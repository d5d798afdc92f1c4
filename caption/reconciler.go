// Package caption turns backend events into on-screen captions: a
// per-speaker reconciler, a delay scheduler and a renderer with typewriter
// reveal.
package caption

import (
	"slices"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.aimuz.me/livecaption/transport"
)

// DefaultSpeaker is used for events that carry no speaker id.
const DefaultSpeaker = "default"

// Kind separates the transcript and translation streams of a speaker.
type Kind int

const (
	KindTranscript Kind = iota
	KindTranslation
)

func (k Kind) String() string {
	switch k {
	case KindTranscript:
		return "transcript"
	case KindTranslation:
		return "translation"
	default:
		return "unknown"
	}
}

// SpeakerState is the reconciled text of one speaker and stream kind.
type SpeakerState struct {
	Confirmed         string
	PreviousConfirmed string
	Live              string
	AwaitingNewLive   bool
	ConfirmCount      uint32
	DeltaGeneration   int32 // -1 when no delta sequence is active
	DeltaAccumulator  string
	LiveStart         time.Duration
}

func newSpeakerState() *SpeakerState {
	return &SpeakerState{AwaitingNewLive: true, DeltaGeneration: -1}
}

// Update is the snapshot handed to the scheduler after each transition.
type Update struct {
	Speaker           string
	Kind              Kind
	Confirmed         string
	PreviousConfirmed string
	Live              string
	Elapsed           time.Duration
	LiveStart         time.Duration
	ConfirmCount      uint32 // count at emit time
	Confirmation      bool
}

type stateKey struct {
	speaker string
	kind    Kind
}

// Reconciler keeps one state machine per speaker and kind. It is not safe
// for concurrent use; it lives on the loop.
type Reconciler struct {
	states map[stateKey]*SpeakerState
}

// NewReconciler creates an empty reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{states: make(map[stateKey]*SpeakerState)}
}

func (r *Reconciler) state(speaker string, kind Kind) *SpeakerState {
	k := stateKey{speaker, kind}
	s, ok := r.states[k]
	if !ok {
		s = newSpeakerState()
		r.states[k] = s
	}
	return s
}

// Apply folds ev into the speaker's state. arrival is the stream offset used
// when the event carries none. Events with no caption effect return false.
func (r *Reconciler) Apply(ev transport.Event, arrival time.Duration) (Update, bool) {
	switch e := ev.(type) {
	case transport.PartialTranscriptEvent:
		return r.partial(e.Timing, KindTranscript, e.Text, arrival), true
	case transport.PartialEvent:
		return r.partial(e.Timing, KindTranscript, e.Text, arrival), true
	case transport.PartialTranslationEvent:
		return r.partial(e.Timing, KindTranslation, e.Text, arrival), true
	case transport.TranslationDeltaEvent:
		return r.delta(e, arrival), true
	case transport.ConfirmedTranscriptEvent:
		return r.confirm(e.Timing, KindTranscript, e.Text, arrival), true
	case transport.ConfirmedTranslationEvent:
		return r.confirm(e.Timing, KindTranslation, e.Text, arrival), true
	}
	return Update{}, false
}

func resolve(t transport.Timing, arrival time.Duration) (string, time.Duration) {
	speaker := string(t.Speaker)
	if speaker == "" {
		speaker = DefaultSpeaker
	}
	elapsed, ok := t.Elapsed()
	if !ok {
		elapsed = arrival
	}
	return speaker, elapsed
}

func (r *Reconciler) partial(t transport.Timing, kind Kind, text string, arrival time.Duration) Update {
	speaker, elapsed := resolve(t, arrival)
	s := r.state(speaker, kind)
	r.beginLive(s, elapsed)
	s.Live = text
	// A full partial supersedes any delta sequence.
	s.DeltaGeneration = -1
	s.DeltaAccumulator = ""
	return snapshot(speaker, kind, s, elapsed, false)
}

func (r *Reconciler) delta(e transport.TranslationDeltaEvent, arrival time.Duration) Update {
	speaker, elapsed := resolve(e.Timing, arrival)
	s := r.state(speaker, KindTranslation)
	r.beginLive(s, elapsed)
	if e.Generation != s.DeltaGeneration {
		s.DeltaGeneration = e.Generation
		s.DeltaAccumulator = ""
	}
	s.DeltaAccumulator = joinDelta(s.DeltaAccumulator, e.Delta)
	s.Live = s.DeltaAccumulator
	return snapshot(speaker, KindTranslation, s, elapsed, false)
}

// joinDelta appends delta, collapsing whitespace that meets at the boundary.
func joinDelta(acc, delta string) string {
	if acc == "" || delta == "" {
		return acc + delta
	}
	last, _ := utf8.DecodeLastRuneInString(acc)
	if unicode.IsSpace(last) {
		delta = strings.TrimLeftFunc(delta, unicode.IsSpace)
	}
	return acc + delta
}

func (r *Reconciler) beginLive(s *SpeakerState, elapsed time.Duration) {
	if s.AwaitingNewLive {
		s.LiveStart = elapsed
		s.AwaitingNewLive = false
	}
}

func (r *Reconciler) confirm(t transport.Timing, kind Kind, text string, arrival time.Duration) Update {
	speaker, elapsed := resolve(t, arrival)
	s := r.state(speaker, kind)
	s.PreviousConfirmed = s.Confirmed
	s.Confirmed = text
	s.Live = ""
	s.AwaitingNewLive = true
	s.ConfirmCount++
	return snapshot(speaker, kind, s, elapsed, true)
}

func snapshot(speaker string, kind Kind, s *SpeakerState, elapsed time.Duration, confirmation bool) Update {
	return Update{
		Speaker:           speaker,
		Kind:              kind,
		Confirmed:         s.Confirmed,
		PreviousConfirmed: s.PreviousConfirmed,
		Live:              s.Live,
		Elapsed:           elapsed,
		LiveStart:         s.LiveStart,
		ConfirmCount:      s.ConfirmCount,
		Confirmation:      confirmation,
	}
}

// Stale reports whether u was superseded by a later confirmation. A live
// update is stale once its speaker's confirm count has moved on, or once the
// state has been reset. Confirmations are never stale.
func (r *Reconciler) Stale(u Update) bool {
	if u.Confirmation {
		return false
	}
	s, ok := r.states[stateKey{u.Speaker, u.Kind}]
	if !ok {
		return true
	}
	return s.ConfirmCount != u.ConfirmCount
}

// State returns a copy of the state for speaker and kind.
func (r *Reconciler) State(speaker string, kind Kind) (SpeakerState, bool) {
	s, ok := r.states[stateKey{speaker, kind}]
	if !ok {
		return SpeakerState{}, false
	}
	return *s, true
}

// Speakers lists every speaker seen since the last reset, sorted.
func (r *Reconciler) Speakers() []string {
	var out []string
	for k := range r.states {
		if !slices.Contains(out, k.speaker) {
			out = append(out, k.speaker)
		}
	}
	slices.Sort(out)
	return out
}

// Reset drops every speaker.
func (r *Reconciler) Reset() {
	clear(r.states)
}
