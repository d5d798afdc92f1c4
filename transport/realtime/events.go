package realtime

import "encoding/json"

// Server event types from the OpenAI Realtime API.
const (
	EventTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	EventTranscriptionDelta     = "conversation.item.input_audio_transcription.delta"
	EventError                  = "error"

	// VAD Events
	EventSpeechStarted = "input_audio_buffer.speech_started"
	EventSpeechStopped = "input_audio_buffer.speech_stopped"

	EventSessionCreated = "transcription_session.created"
)

// Client event types.
const (
	EventBufferCommit = "input_audio_buffer.commit"
)

// VADEagerness controls how aggressive semantic VAD is.
type VADEagerness string

const (
	VADEagernessLow    VADEagerness = "low"
	VADEagernessMedium VADEagerness = "medium"
	VADEagernessHigh   VADEagerness = "high"
	VADEagernessAuto   VADEagerness = "auto"
)

// ServerEvent is a discriminated union for Realtime API events.
// Check the concrete type via type switch.
type ServerEvent interface {
	eventType() string
}

// SpeechStartedEvent is emitted when VAD detects speech.
type SpeechStartedEvent struct {
	EventID      string `json:"event_id"`
	AudioStartMs int64  `json:"audio_start_ms"`
	ItemID       string `json:"item_id"`
}

func (SpeechStartedEvent) eventType() string { return EventSpeechStarted }

// SpeechStoppedEvent is emitted when VAD detects silence.
type SpeechStoppedEvent struct {
	EventID    string `json:"event_id"`
	AudioEndMs int64  `json:"audio_end_ms"`
	ItemID     string `json:"item_id"`
}

func (SpeechStoppedEvent) eventType() string { return EventSpeechStopped }

// SessionCreatedEvent acknowledges the transcription session.
type SessionCreatedEvent struct {
	EventID string `json:"event_id"`
	Session struct {
		ID string `json:"id"`
	} `json:"session"`
}

func (SessionCreatedEvent) eventType() string { return EventSessionCreated }

// TranscriptEvent is emitted when transcription of an item completes.
type TranscriptEvent struct {
	EventID    string `json:"event_id"`
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

func (TranscriptEvent) eventType() string { return EventTranscriptionCompleted }

// TranscriptDeltaEvent is emitted for streaming transcription updates.
type TranscriptDeltaEvent struct {
	EventID    string `json:"event_id"`
	ItemID     string `json:"item_id"`
	ContentIdx int    `json:"content_index"`
	Delta      string `json:"delta"`
}

func (TranscriptDeltaEvent) eventType() string { return EventTranscriptionDelta }

// ErrorEvent is emitted when an API error occurs.
type ErrorEvent struct {
	EventID string `json:"event_id"`
	Error   struct {
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
		Message string `json:"message"`
		Param   string `json:"param,omitempty"`
	} `json:"error"`
}

func (ErrorEvent) eventType() string { return EventError }

// UnknownEvent holds events we don't recognize.
type UnknownEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Raw     json.RawMessage
}

func (e UnknownEvent) eventType() string { return e.Type }

// ParseServerEvent unmarshals JSON into the appropriate ServerEvent type.
func ParseServerEvent(data []byte) (ServerEvent, error) {
	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, err
	}

	switch header.Type {
	case EventSpeechStarted:
		return unmarshal[SpeechStartedEvent](data)
	case EventSpeechStopped:
		return unmarshal[SpeechStoppedEvent](data)
	case EventSessionCreated:
		return unmarshal[SessionCreatedEvent](data)
	case EventTranscriptionCompleted:
		return unmarshal[TranscriptEvent](data)
	case EventTranscriptionDelta:
		return unmarshal[TranscriptDeltaEvent](data)
	case EventError:
		return unmarshal[ErrorEvent](data)
	default:
		return UnknownEvent{Type: header.Type, Raw: data}, nil
	}
}

func unmarshal[T ServerEvent](data []byte) (ServerEvent, error) {
	var e T
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return e, nil
}
