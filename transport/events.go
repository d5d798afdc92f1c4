package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Inbound event types sent by the caption backend.
const (
	TypeSessionStarted       = "session_started"
	TypePartialTranscript    = "partial_transcript"
	TypeConfirmedTranscript  = "confirmed_transcript"
	TypePartialTranslation   = "partial_translation"
	TypeTranslationDelta     = "partial_translation_delta"
	TypeConfirmedTranslation = "confirmed_translation"
	TypePartial              = "partial"
	TypeError                = "error"
)

// Event is a discriminated union for backend events.
// Check the concrete type via type switch.
type Event interface {
	Type() string
}

// SpeakerID identifies a speaker. The backend sends either a string or a
// number; both decode to the same textual form.
type SpeakerID string

// UnmarshalJSON accepts a JSON string, number or null.
func (s *SpeakerID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*s = ""
	case len(data) > 0 && data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = SpeakerID(v)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("speaker: %w", err)
		}
		*s = SpeakerID(n.String())
	}
	return nil
}

// Timing carries the speaker and stream offset shared by text events.
type Timing struct {
	Speaker   SpeakerID `json:"speaker,omitempty"`
	ElapsedMs *float64  `json:"elapsed_ms,omitempty"`
}

// Elapsed returns the offset from stream start, if the backend sent one.
func (t Timing) Elapsed() (time.Duration, bool) {
	if t.ElapsedMs == nil {
		return 0, false
	}
	return time.Duration(*t.ElapsedMs * float64(time.Millisecond)), true
}

// ElapsedMillis builds a Timing offset from a duration.
func ElapsedMillis(d time.Duration) *float64 {
	ms := float64(d) / float64(time.Millisecond)
	return &ms
}

// SessionStartedEvent acknowledges a new stream.
type SessionStartedEvent struct {
	SessionID string `json:"session_id,omitempty"`
}

func (SessionStartedEvent) Type() string { return TypeSessionStarted }

// PartialTranscriptEvent carries the current transcript hypothesis.
type PartialTranscriptEvent struct {
	Timing
	Text string `json:"text"`
}

func (PartialTranscriptEvent) Type() string { return TypePartialTranscript }

// ConfirmedTranscriptEvent carries finalized transcript text.
type ConfirmedTranscriptEvent struct {
	Timing
	Text string `json:"text"`
}

func (ConfirmedTranscriptEvent) Type() string { return TypeConfirmedTranscript }

// PartialTranslationEvent carries the full current translation hypothesis.
type PartialTranslationEvent struct {
	Timing
	Text string `json:"text"`
}

func (PartialTranslationEvent) Type() string { return TypePartialTranslation }

// TranslationDeltaEvent appends to the translation hypothesis of the given
// generation.
type TranslationDeltaEvent struct {
	Timing
	Generation int32  `json:"generation"`
	Delta      string `json:"delta"`
}

func (TranslationDeltaEvent) Type() string { return TypeTranslationDelta }

// ConfirmedTranslationEvent carries finalized translation text.
type ConfirmedTranslationEvent struct {
	Timing
	Text string `json:"text"`
}

func (ConfirmedTranslationEvent) Type() string { return TypeConfirmedTranslation }

// PartialEvent is the untyped partial some backends send for the source
// transcript.
type PartialEvent struct {
	Timing
	Text string `json:"text"`
}

func (PartialEvent) Type() string { return TypePartial }

// ErrorEvent reports a backend or transport failure.
type ErrorEvent struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (ErrorEvent) Type() string { return TypeError }

// UnknownEvent holds events we don't recognize.
type UnknownEvent struct {
	Kind string
	Raw  json.RawMessage
}

func (e UnknownEvent) Type() string { return e.Kind }

// ParseEvent unmarshals JSON into the appropriate Event type.
// Errors wrap ErrMalformed.
func ParseEvent(data []byte) (Event, error) {
	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var ev Event
	var err error
	switch header.Type {
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	case TypeSessionStarted:
		ev, err = decode[SessionStartedEvent](data)
	case TypePartialTranscript:
		ev, err = decode[PartialTranscriptEvent](data)
	case TypeConfirmedTranscript:
		ev, err = decode[ConfirmedTranscriptEvent](data)
	case TypePartialTranslation:
		ev, err = decode[PartialTranslationEvent](data)
	case TypeTranslationDelta:
		ev, err = decode[TranslationDeltaEvent](data)
	case TypeConfirmedTranslation:
		ev, err = decode[ConfirmedTranslationEvent](data)
	case TypePartial:
		ev, err = decode[PartialEvent](data)
	case TypeError:
		var e ErrorEvent
		if err = json.Unmarshal(data, &e); err == nil && e.Message == "" {
			e.Message = "Server error"
		}
		ev = e
	default:
		return UnknownEvent{Kind: header.Type, Raw: data}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, header.Type, err)
	}
	return ev, nil
}

func decode[T Event](data []byte) (Event, error) {
	var e T
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// MarshalEvent encodes ev with its type tag. It is the inverse of ParseEvent
// and is used by test backends and the recorder.
func MarshalEvent(ev Event) ([]byte, error) {
	if u, ok := ev.(UnknownEvent); ok {
		return u.Raw, nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	tag := `{"type":` + strconv.Quote(ev.Type())
	if bytes.Equal(body, []byte("{}")) {
		return []byte(tag + "}"), nil
	}
	return []byte(tag + "," + string(body[1:])), nil
}
