// Package audiocapture turns raw audio frames into the fixed-size, indexed
// 16-bit PCM chunks streamed to the transcription backend.
package audiocapture

import "errors"

var (
	// ErrRunning is returned when starting a source that is already running.
	ErrRunning = errors.New("audiocapture: already running")

	// ErrSourceEnded reports that the audio source ran out or went away.
	ErrSourceEnded = errors.New("audiocapture: source ended")

	// ErrUnsupportedRate is returned when the input rate is not an integer
	// multiple of the output rate.
	ErrUnsupportedRate = errors.New("audiocapture: unsupported sample rate")
)

// FrameHandler receives one block of input audio in [-1, 1].
// right is nil for mono sources. Slices are only valid during the call.
type FrameHandler func(left, right []float32)

// Source produces audio frames on its own goroutine.
type Source interface {
	// Start begins delivering frames to handler.
	Start(handler FrameHandler) error

	// Stop halts delivery. Safe to call more than once.
	Stop() error

	// SampleRate is the rate of the frames passed to the handler.
	SampleRate() int

	// Done is closed once the source stops producing frames.
	Done() <-chan struct{}

	// Err reports why the source stopped; nil after an explicit Stop.
	Err() error
}
