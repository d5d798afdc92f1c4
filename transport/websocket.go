package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"go.aimuz.me/livecaption/audiocapture"
)

const (
	writeTimeout = 5 * time.Second
	writeQueue   = 64
)

// wsFrame is one queued write. A binary profile chunk travels as a single
// frame so its header and payload are written back to back or not at all.
type wsFrame struct {
	kind    int
	data    []byte
	payload []byte
	end     bool
}

// Option configures a WSTransport.
type Option func(*WSTransport)

// WithProfile selects the audio framing. The default is ProfileBase64.
func WithProfile(p AudioProfile) Option {
	return func(t *WSTransport) { t.profile = p }
}

// WithGrace overrides the end-of-stream grace period.
func WithGrace(d time.Duration) Option {
	return func(t *WSTransport) { t.grace = d }
}

// WithObserver reports sends, receives and malformed payloads.
func WithObserver(o Observer) Option {
	return func(t *WSTransport) {
		if o != nil {
			t.observer = o
		}
	}
}

// WithTap receives every raw inbound text payload.
func WithTap(tap Tap) Option {
	return func(t *WSTransport) { t.tap = tap }
}

// WithHeader adds request headers to the handshake.
func WithHeader(h http.Header) Option {
	return func(t *WSTransport) { t.header = h }
}

// WSTransport speaks the caption protocol over a WebSocket.
// A WSTransport is single-use: once Done is closed it cannot reconnect.
type WSTransport struct {
	url      string
	profile  AudioProfile
	grace    time.Duration
	header   http.Header
	observer Observer
	tap      Tap
	dialer   websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	open    bool
	started bool

	writes chan wsFrame
	events chan Event
	stop   chan struct{}
	done   chan struct{}

	stopOnce   sync.Once
	finishOnce sync.Once
	wg         sync.WaitGroup
}

// NewWS creates a WebSocket transport for url.
func NewWS(url string, opts ...Option) *WSTransport {
	t := &WSTransport{
		url:      url,
		profile:  ProfileBase64,
		grace:    DefaultGrace,
		observer: nopObserver{},
		dialer:   websocket.Dialer{HandshakeTimeout: ConnectTimeout},
		writes:   make(chan wsFrame, writeQueue),
		events:   make(chan Event, eventBuffer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect dials the backend.
func (t *WSTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return fmt.Errorf("%w: already used", ErrClosed)
	}
	t.started = true
	t.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	slog.Info("connecting to caption backend", "url", t.url, "profile", t.profile)
	conn, _, err := t.dialer.DialContext(dialCtx, t.url, t.header)
	if err != nil {
		t.finish()
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrConnectTimeout, t.url)
		}
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	t.mu.Lock()
	select {
	case <-t.stop:
		// Disconnect raced with the dial.
		t.mu.Unlock()
		conn.Close()
		t.finish()
		return ErrClosed
	default:
	}
	t.conn = conn
	t.open = true
	t.mu.Unlock()

	t.wg.Add(2)
	go t.readLoop(conn)
	go t.writeLoop(conn)
	go func() {
		t.wg.Wait()
		t.finish()
	}()

	slog.Info("caption backend connected", "url", t.url)
	return nil
}

// Send queues chunk for writing. It never blocks and is a no-op when the
// channel is not open.
func (t *WSTransport) Send(chunk audiocapture.Chunk) {
	t.mu.Lock()
	open := t.open
	t.mu.Unlock()
	if !open {
		return
	}

	header, payload, err := EncodeAudioChunk(t.profile, chunk)
	if err != nil {
		slog.Warn("encode audio chunk", "index", chunk.Index, "error", err)
		return
	}

	select {
	case t.writes <- wsFrame{kind: websocket.TextMessage, data: header, payload: payload}:
	default:
		slog.Warn("write queue full, dropping audio chunk", "index", chunk.Index)
		return
	}
	t.observer.ChunkSent(len(header) + len(payload))
}

// Disconnect sends end_stream and closes after the grace period. When the
// channel is not open it closes immediately.
func (t *WSTransport) Disconnect() {
	t.mu.Lock()
	wasOpen := t.open
	t.open = false
	t.mu.Unlock()

	if !wasOpen {
		t.shutdown()
		t.mu.Lock()
		connected := t.conn != nil
		t.mu.Unlock()
		if !connected {
			t.finish()
		}
		return
	}

	slog.Info("sending end_stream")
	select {
	case t.writes <- wsFrame{kind: websocket.TextMessage, data: endStreamMessage, end: true}:
	default:
		slog.Warn("write queue full, closing without end_stream")
		t.shutdown()
	}
}

// Events returns the channel for receiving parsed events.
func (t *WSTransport) Events() <-chan Event { return t.events }

// Done is closed once both connection goroutines have exited.
func (t *WSTransport) Done() <-chan struct{} { return t.done }

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	defer t.wg.Done()
	defer close(t.events)
	defer t.shutdown()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-t.stop:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Warn("caption backend read failed", "error", err)
				}
			}
			t.mu.Lock()
			t.open = false
			t.mu.Unlock()
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if t.tap != nil {
			t.tap(time.Now(), data)
		}

		ev, err := ParseEvent(data)
		if err != nil {
			slog.Warn("failed to parse event", "error", err)
			t.observer.Malformed()
			continue
		}
		t.observer.EventReceived(ev.Type())

		select {
		case t.events <- ev:
		case <-t.stop:
			return
		}
	}
}

func (t *WSTransport) writeLoop(conn *websocket.Conn) {
	defer t.wg.Done()

	for {
		select {
		case <-t.stop:
			return
		case f := <-t.writes:
			if err := t.write(conn, f); err != nil {
				slog.Warn("caption backend write failed", "error", err)
				t.shutdown()
				return
			}
			if !f.end {
				continue
			}

			select {
			case <-time.After(t.grace):
			case <-t.stop:
				return
			}
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			t.shutdown()
			return
		}
	}
}

func (t *WSTransport) write(conn *websocket.Conn, f wsFrame) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(f.kind, f.data); err != nil {
		return err
	}
	if f.payload == nil {
		return nil
	}
	return conn.WriteMessage(websocket.BinaryMessage, f.payload)
}

func (t *WSTransport) shutdown() {
	t.stopOnce.Do(func() {
		close(t.stop)
		t.mu.Lock()
		t.open = false
		conn := t.conn
		t.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	})
}

// finish closes the public channels when no goroutine owns them.
func (t *WSTransport) finish() {
	t.finishOnce.Do(func() {
		t.mu.Lock()
		connected := t.conn != nil
		t.mu.Unlock()
		if !connected {
			close(t.events)
		}
		close(t.done)
	})
}
