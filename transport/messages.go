package transport

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.aimuz.me/livecaption/audiocapture"
)

// AudioProfile selects how audio chunks are framed on the wire.
type AudioProfile string

const (
	// ProfileBase64 sends one JSON text message per chunk with the PCM in
	// audio_base_64.
	ProfileBase64 AudioProfile = "base64"

	// ProfileBinary sends a JSON header followed by a binary frame of
	// little-endian PCM.
	ProfileBinary AudioProfile = "binary"
)

// Outbound message types.
const (
	TypeAudioChunk = "audio_chunk"
	TypeEndStream  = "end_stream"
)

// AudioChunkMessage is the control message describing one chunk.
type AudioChunkMessage struct {
	Type        string  `json:"type"`
	ChunkIndex  uint32  `json:"chunk_index"`
	DurationMs  float64 `json:"duration_ms"`
	AudioBase64 string  `json:"audio_base_64,omitempty"`
	ByteLength  int     `json:"byte_length,omitempty"`
}

var endStreamMessage = []byte(`{"type":"end_stream"}`)

// EncodePCM serializes samples as little-endian 16-bit PCM.
func EncodePCM(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// DecodePCM parses little-endian 16-bit PCM.
func DecodePCM(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: odd PCM length %d", ErrMalformed, len(data))
	}
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return out, nil
}

// EncodeAudioChunk frames chunk for the given profile. payload is nil for
// ProfileBase64.
func EncodeAudioChunk(profile AudioProfile, chunk audiocapture.Chunk) (header, payload []byte, err error) {
	pcm := EncodePCM(chunk.Samples)
	msg := AudioChunkMessage{
		Type:       TypeAudioChunk,
		ChunkIndex: chunk.Index,
		DurationMs: float64(chunk.Duration) / float64(time.Millisecond),
	}
	switch profile {
	case ProfileBinary:
		msg.ByteLength = len(pcm)
		payload = pcm
	case ProfileBase64, "":
		msg.AudioBase64 = base64.StdEncoding.EncodeToString(pcm)
	default:
		return nil, nil, fmt.Errorf("unknown audio profile %q", profile)
	}

	header, err = json.Marshal(msg)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal audio chunk: %w", err)
	}
	return header, payload, nil
}

// DecodeAudioChunk parses a base64-profile chunk message back into a chunk.
func DecodeAudioChunk(data []byte) (audiocapture.Chunk, error) {
	var msg AudioChunkMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return audiocapture.Chunk{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Type != TypeAudioChunk {
		return audiocapture.Chunk{}, fmt.Errorf("%w: type %q", ErrMalformed, msg.Type)
	}
	raw, err := base64.StdEncoding.DecodeString(msg.AudioBase64)
	if err != nil {
		return audiocapture.Chunk{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	samples, err := DecodePCM(raw)
	if err != nil {
		return audiocapture.Chunk{}, err
	}
	return audiocapture.Chunk{
		Samples:  samples,
		Index:    msg.ChunkIndex,
		Duration: time.Duration(msg.DurationMs * float64(time.Millisecond)),
	}, nil
}
