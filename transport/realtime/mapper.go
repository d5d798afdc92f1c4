package realtime

import (
	"strings"

	"go.aimuz.me/livecaption/transport"
)

// mapper turns Realtime API events into caption events. Deltas are
// accumulated per item so every partial carries the full hypothesis.
type mapper struct {
	items map[string]*item
}

type item struct {
	startMs *int64
	endMs   *int64
	text    strings.Builder
}

func newMapper() *mapper {
	return &mapper{items: make(map[string]*item)}
}

func (m *mapper) lookup(id string) *item {
	it, ok := m.items[id]
	if !ok {
		it = &item{}
		m.items[id] = it
	}
	return it
}

func millis(v *int64) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}

// Map converts ev. The second result is false when ev has no caption
// counterpart.
func (m *mapper) Map(ev ServerEvent) (transport.Event, bool) {
	switch e := ev.(type) {
	case SessionCreatedEvent:
		return transport.SessionStartedEvent{SessionID: e.Session.ID}, true

	case SpeechStartedEvent:
		ms := e.AudioStartMs
		m.lookup(e.ItemID).startMs = &ms
		return nil, false

	case SpeechStoppedEvent:
		ms := e.AudioEndMs
		m.lookup(e.ItemID).endMs = &ms
		return nil, false

	case TranscriptDeltaEvent:
		it := m.lookup(e.ItemID)
		it.text.WriteString(e.Delta)
		// No offset: partials are stamped on arrival.
		return transport.PartialTranscriptEvent{Text: it.text.String()}, true

	case TranscriptEvent:
		it := m.lookup(e.ItemID)
		delete(m.items, e.ItemID)
		at := it.endMs
		if at == nil {
			at = it.startMs
		}
		return transport.ConfirmedTranscriptEvent{
			Timing: transport.Timing{ElapsedMs: millis(at)},
			Text:   strings.TrimSpace(e.Transcript),
		}, true

	case ErrorEvent:
		msg := e.Error.Message
		if msg == "" {
			msg = e.Error.Type
		}
		return transport.ErrorEvent{Message: msg, Code: e.Error.Code}, true
	}
	return nil, false
}

// Decoder turns raw data channel payloads into transport events, as the
// client does for live traffic. It keeps per-item state, so one Decoder
// serves one recording.
type Decoder struct {
	m *mapper
}

// NewDecoder creates a Decoder.
func NewDecoder() *Decoder { return &Decoder{m: newMapper()} }

// Decode parses data. ok is false for events with no caption meaning.
func (d *Decoder) Decode(data []byte) (ev transport.Event, ok bool, err error) {
	se, err := ParseServerEvent(data)
	if err != nil {
		return nil, false, err
	}
	ev, ok = d.m.Map(se)
	return ev, ok, nil
}
