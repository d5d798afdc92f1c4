// Package session wires one capture session together: audio source, chunker,
// transport, caption pipeline and video delay, all anchored to the moment the
// transport opened.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"go.aimuz.me/livecaption/audiocapture"
	"go.aimuz.me/livecaption/caption"
	"go.aimuz.me/livecaption/internal/loop"
	"go.aimuz.me/livecaption/transport"
	"go.aimuz.me/livecaption/videodelay"
)

// DefaultDelay is the delay budget applied when none is configured.
const DefaultDelay = videodelay.DefaultDelay

// ErrConnectionLost is reported when the transport closes while audio is
// still being captured.
var ErrConnectionLost = errors.New("session: connection lost")

// Observer receives caption pipeline statistics. Calls happen on the loop.
type Observer interface {
	Scheduled(kind string)
	StaleDropped()
	SpeechActivity(active bool)
}

type nopObserver struct{}

func (nopObserver) Scheduled(string)    {}
func (nopObserver) StaleDropped()       {}
func (nopObserver) SpeechActivity(bool) {}

// Config holds configuration for a session.
type Config struct {
	Delay    time.Duration
	Chunker  audiocapture.ChunkerConfig // InputRate comes from the source
	Renderer caption.RendererConfig
	Observer Observer

	// OnTranscript receives every confirmed transcript line on the loop.
	OnTranscript func(speaker, text string)
}

// Session is a single capture session. Start and Stop may be called from any
// goroutine; everything else happens on the loop.
type Session struct {
	id    string
	exec  loop.Executor
	tr    transport.Transport
	src   audiocapture.Source
	video *videodelay.Delayer
	cfg   Config

	chunker    *audiocapture.Chunker
	activity   *audiocapture.ActivityDetector
	reconciler *caption.Reconciler
	scheduler  *caption.Scheduler
	renderer   *caption.Renderer

	// Loop-confined
	closed bool

	// Lifecycle
	stopped atomic.Bool // Stop was called
	ending  atomic.Bool // teardown has begun for any reason
	once    sync.Once
	done    chan struct{}
	mu      sync.Mutex
	started time.Time
	err     error
}

// New assembles a session. video may be nil.
func New(exec loop.Executor, tr transport.Transport, src audiocapture.Source, surface caption.Surface, video *videodelay.Delayer, cfg Config) (*Session, error) {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}

	s := &Session{
		id:         uuid.NewString(),
		exec:       exec,
		tr:         tr,
		src:        src,
		video:      video,
		cfg:        cfg,
		activity:   audiocapture.NewActivityDetector(0, 0, 0),
		reconciler: caption.NewReconciler(),
		scheduler:  caption.NewScheduler(exec),
		renderer:   caption.NewRenderer(exec, surface, cfg.Renderer),
		done:       make(chan struct{}),
	}

	chunkCfg := cfg.Chunker
	chunkCfg.InputRate = src.SampleRate()
	chunker, err := audiocapture.NewChunker(chunkCfg, s.sendChunk)
	if err != nil {
		return nil, err
	}
	s.chunker = chunker
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Delay returns the delay budget fixed for this session.
func (s *Session) Delay() time.Duration { return s.cfg.Delay }

// Chunker returns the session chunker.
func (s *Session) Chunker() *audiocapture.Chunker { return s.chunker }

// Started returns when the transport opened, or the zero time.
func (s *Session) Started() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why the session ended; nil after an explicit Stop.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Start connects the transport and begins capturing. On failure the session
// is left torn down exactly as after Stop.
func (s *Session) Start(ctx context.Context) error {
	slog.Info("starting session", "session", s.id, "delay", s.cfg.Delay)

	if err := s.tr.Connect(ctx); err != nil {
		s.end(err)
		return fmt.Errorf("connect: %w", err)
	}

	anchor := s.exec.Now()
	s.mu.Lock()
	s.started = anchor
	s.mu.Unlock()

	s.exec.Post(func() {
		if s.closed {
			return
		}
		s.scheduler.Begin(anchor, s.cfg.Delay)
		if s.video != nil {
			s.video.Start(s.cfg.Delay)
		}
	})
	go s.pump(anchor)

	if err := s.src.Start(s.chunker.Process); err != nil {
		s.ending.Store(true)
		s.tr.Disconnect()
		s.end(err)
		return fmt.Errorf("start audio: %w", err)
	}
	go s.watchSource()
	return nil
}

// Stop halts capture, disconnects and clears every caption and delayed
// frame. Nothing from this session is shown after the reset runs on the loop.
func (s *Session) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	s.ending.Store(true)
	slog.Info("stopping session", "session", s.id)
	if err := s.src.Stop(); err != nil {
		slog.Warn("stop audio source", "error", err)
	}
	s.tr.Disconnect()
	s.end(nil)
}

// end posts the reset and records err.
func (s *Session) end(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.exec.Post(s.reset)
}

// sendChunk hands a chunk from the audio goroutine to the loop.
func (s *Session) sendChunk(c audiocapture.Chunk) {
	s.exec.Post(func() {
		if s.closed {
			return
		}
		s.tr.Send(c)
		s.trackActivity(c)
	})
}

func (s *Session) trackActivity(c audiocapture.Chunk) {
	switch s.activity.Process(c) {
	case audiocapture.ActivitySpeechStart:
		slog.Debug("speech started", "session", s.id, "chunk", c.Index)
		s.cfg.Observer.SpeechActivity(true)
	case audiocapture.ActivitySpeechEnd:
		slog.Debug("speech ended", "session", s.id, "chunk", c.Index)
		s.cfg.Observer.SpeechActivity(false)
	}
}

// pump forwards transport events to the loop.
func (s *Session) pump(anchor time.Time) {
	for ev := range s.tr.Events() {
		arrival := s.exec.Now().Sub(anchor)
		s.exec.Post(func() { s.HandleEvent(ev, arrival) })
	}
	if !s.ending.CompareAndSwap(false, true) {
		return
	}

	// The backend went away on its own. If audio has ended this is the
	// normal end of stream: let the scheduled captions play out first.
	select {
	case <-s.src.Done():
		s.exec.Post(func() {
			s.exec.AfterFunc(s.cfg.Delay, func() { s.end(nil) })
		})
	default:
		slog.Error("caption backend disconnected", "session", s.id)
		if err := s.src.Stop(); err != nil {
			slog.Warn("stop audio source", "error", err)
		}
		s.exec.Post(func() {
			if !s.closed {
				s.renderer.ShowError("Connection lost")
			}
		})
		s.end(ErrConnectionLost)
	}
}

// watchSource ends the stream once the audio source runs out.
func (s *Session) watchSource() {
	<-s.src.Done()
	if s.ending.Load() {
		return
	}
	if err := s.src.Err(); err != nil && !errors.Is(err, audiocapture.ErrSourceEnded) {
		slog.Warn("audio source failed", "session", s.id, "error", err)
	} else {
		slog.Info("audio source ended", "session", s.id)
	}
	s.tr.Disconnect()
}

// HandleEvent feeds one backend event through the caption pipeline. arrival
// is the time since the transport opened.
func (s *Session) HandleEvent(ev transport.Event, arrival time.Duration) {
	if s.closed {
		return
	}

	switch e := ev.(type) {
	case transport.SessionStartedEvent:
		slog.Info("backend session started", "session", s.id, "backend_session", e.SessionID)
		return
	case transport.ErrorEvent:
		slog.Warn("backend error", "session", s.id, "code", e.Code, "message", e.Message)
		s.renderer.ShowError(e.Message)
		return
	}

	u, ok := s.reconciler.Apply(ev, arrival)
	if !ok {
		slog.Debug("ignoring event", "type", ev.Type())
		return
	}
	if u.Confirmation && u.Kind == caption.KindTranscript && s.cfg.OnTranscript != nil {
		s.cfg.OnTranscript(u.Speaker, u.Confirmed)
	}

	s.cfg.Observer.Scheduled(u.Kind.String())
	s.scheduler.Schedule(u.Elapsed, func() {
		if s.reconciler.Stale(u) {
			s.cfg.Observer.StaleDropped()
			return
		}
		s.renderer.Render(u)
	})
}

// reset runs on the loop. Pending captions are cancelled before any state
// is cleared so nothing from the old session can fire afterwards.
func (s *Session) reset() {
	if s.closed {
		return
	}
	s.closed = true

	s.scheduler.ResetAll()
	s.renderer.Reset()
	s.reconciler.Reset()
	if s.video != nil {
		s.video.Stop()
	}
	s.chunker.Reset()
	if s.activity.InSpeech() {
		s.cfg.Observer.SpeechActivity(false)
	}
	s.activity.Reset()

	s.once.Do(func() { close(s.done) })
	slog.Info("session ended", "session", s.id, "error", s.Err())
}

// Snapshot describes a running session.
type Snapshot struct {
	ID       string
	Started  time.Time
	Delay    time.Duration
	Speakers []string
	Pending  int
	Overlay  bool
}

// Snapshot returns the session's current state. It must run on the loop.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		ID:       s.id,
		Started:  s.Started(),
		Delay:    s.cfg.Delay,
		Speakers: s.reconciler.Speakers(),
		Pending:  s.scheduler.Pending(),
		Overlay:  s.renderer.OverlayVisible(),
	}
}
