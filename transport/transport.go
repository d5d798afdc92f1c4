// Package transport carries audio chunks to the caption backend and parses
// the events it sends back.
package transport

import (
	"context"
	"errors"
	"time"

	"go.aimuz.me/livecaption/audiocapture"
)

const (
	// ConnectTimeout bounds how long Connect waits for the channel to open.
	ConnectTimeout = 5 * time.Second

	// DefaultGrace is how long Disconnect waits after end_stream before
	// closing, so the backend can flush its final confirmations.
	DefaultGrace = 500 * time.Millisecond

	eventBuffer = 100
)

// Sentinel errors.
var (
	ErrConnectTimeout = errors.New("transport: connect timeout")
	ErrConnectFailed  = errors.New("transport: connect failed")
	ErrMalformed      = errors.New("transport: malformed payload")
	ErrClosed         = errors.New("transport: closed")
)

// Transport is a duplex channel to the caption backend.
type Transport interface {
	// Connect opens the channel. It fails with ErrConnectTimeout when the
	// channel does not open within ConnectTimeout and with ErrConnectFailed
	// on any other failure.
	Connect(ctx context.Context) error

	// Send queues an audio chunk. It is a no-op unless the channel is open.
	Send(chunk audiocapture.Chunk)

	// Disconnect sends end-of-stream, waits out the grace period and closes.
	// It returns immediately; Done reports completion.
	Disconnect()

	// Events delivers parsed inbound events. It is closed when the read side
	// ends.
	Events() <-chan Event

	// Done is closed once the connection is fully torn down.
	Done() <-chan struct{}
}

// Observer receives transport-level notifications. All methods may be called
// from transport goroutines.
type Observer interface {
	ChunkSent(bytes int)
	EventReceived(eventType string)
	Malformed()
}

type nopObserver struct{}

func (nopObserver) ChunkSent(int)        {}
func (nopObserver) EventReceived(string) {}
func (nopObserver) Malformed()           {}

// Tap receives every raw inbound payload together with its arrival time.
type Tap func(at time.Time, payload []byte)
