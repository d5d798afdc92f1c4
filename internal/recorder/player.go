package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.aimuz.me/livecaption/audiocapture"
	"go.aimuz.me/livecaption/transport"
)

// DecodeFunc turns a recorded payload into an event. ok is false for
// payloads with no caption meaning.
type DecodeFunc func(payload []byte) (ev transport.Event, ok bool, err error)

// ParseEvent decodes caption backend payloads.
func ParseEvent(payload []byte) (transport.Event, bool, error) {
	ev, err := transport.ParseEvent(payload)
	if err != nil {
		return nil, false, err
	}
	return ev, true, nil
}

// PlayerOption configures a Player.
type PlayerOption func(*Player)

// WithDecoder sets how payloads are decoded. The default is ParseEvent.
func WithDecoder(d DecodeFunc) PlayerOption {
	return func(p *Player) { p.decode = d }
}

// WithSpeed scales playback. 2 plays twice as fast; 0 delivers everything
// without waiting.
func WithSpeed(speed float64) PlayerOption {
	return func(p *Player) { p.speed = max(speed, 0) }
}

// WithObserver receives event and malformed payload notifications.
func WithObserver(o transport.Observer) PlayerOption {
	return func(p *Player) { p.obs = o }
}

// Player replays a Recording as a transport.Transport. Events are delivered
// at their recorded offsets from Connect. Like a live backend, the event
// stream stays open after the last entry until Disconnect.
type Player struct {
	rec    *Recording
	decode DecodeFunc
	speed  float64
	obs    transport.Observer

	mu        sync.Mutex
	connected bool
	sent      atomic.Int64

	events   chan transport.Event
	stop     chan struct{}
	stopOnce sync.Once
	finished chan struct{}
	done     chan struct{}
}

var _ transport.Transport = (*Player)(nil)

// NewPlayer creates a player for rec.
func NewPlayer(rec *Recording, opts ...PlayerOption) *Player {
	p := &Player{
		rec:      rec,
		decode:   ParseEvent,
		speed:    1,
		events:   make(chan transport.Event, 100),
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Connect starts playback. A player plays once.
func (p *Player) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.connected {
		return fmt.Errorf("%w: player already used", transport.ErrConnectFailed)
	}
	select {
	case <-p.stop:
		return transport.ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", transport.ErrConnectFailed, ctx.Err())
	default:
	}

	p.connected = true
	go p.play(time.Now())
	return nil
}

func (p *Player) play(start time.Time) {
	defer func() {
		<-p.stop
		close(p.events)
		close(p.done)
	}()

	for i, e := range p.rec.Entries {
		if p.speed > 0 {
			wait := time.Until(start.Add(time.Duration(float64(e.Offset) / p.speed)))
			if wait > 0 {
				t := time.NewTimer(wait)
				select {
				case <-t.C:
				case <-p.stop:
					t.Stop()
					return
				}
			}
		}

		ev, ok, err := p.decode(e.Payload)
		if err != nil {
			slog.Warn("skipping recorded payload", "entry", i, "error", err)
			if p.obs != nil {
				p.obs.Malformed()
			}
			continue
		}
		if !ok {
			continue
		}
		if p.obs != nil {
			p.obs.EventReceived(ev.Type())
		}
		select {
		case p.events <- ev:
		case <-p.stop:
			return
		}
	}

	slog.Info("replay finished", "entries", len(p.rec.Entries), "chunks_received", p.sent.Load())
	close(p.finished)
}

// Send counts the chunk and drops it.
func (p *Player) Send(audiocapture.Chunk) { p.sent.Add(1) }

// Sent returns the number of chunks passed to Send.
func (p *Player) Sent() int { return int(p.sent.Load()) }

// Disconnect stops playback and closes the event stream.
func (p *Player) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopOnce.Do(func() {
		close(p.stop)
		if !p.connected {
			close(p.events)
			close(p.done)
		}
	})
}

// Events returns the replayed events.
func (p *Player) Events() <-chan transport.Event { return p.events }

// Done is closed after Disconnect once playback has stopped.
func (p *Player) Done() <-chan struct{} { return p.done }

// Finished is closed once every entry has been delivered.
func (p *Player) Finished() <-chan struct{} { return p.finished }

// Source returns an audio source that captures nothing and ends when
// playback finishes, so a session driven by the player ends the way a live
// one does when its input runs out.
func (p *Player) Source() audiocapture.Source {
	return &playbackSource{p: p, stopped: make(chan struct{}), done: make(chan struct{})}
}

type playbackSource struct {
	p *Player

	stopped  chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once
	ended    atomic.Bool
}

func (s *playbackSource) SampleRate() int { return audiocapture.DefaultInputRate }

func (s *playbackSource) Start(audiocapture.FrameHandler) error {
	go func() {
		select {
		case <-s.p.finished:
			s.ended.Store(true)
		case <-s.stopped:
		}
		s.doneOnce.Do(func() { close(s.done) })
	}()
	return nil
}

func (s *playbackSource) Stop() error {
	s.stopOnce.Do(func() { close(s.stopped) })
	s.doneOnce.Do(func() { close(s.done) })
	return nil
}

func (s *playbackSource) Done() <-chan struct{} { return s.done }

func (s *playbackSource) Err() error {
	if s.ended.Load() {
		return audiocapture.ErrSourceEnded
	}
	return nil
}
