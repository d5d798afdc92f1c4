// Package app provides the runtime control surface: starting and stopping
// capture sessions and changing the settings they are built from.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.aimuz.me/livecaption/audiocapture"
	"go.aimuz.me/livecaption/caption"
	"go.aimuz.me/livecaption/config"
	"go.aimuz.me/livecaption/internal/langdetect"
	"go.aimuz.me/livecaption/internal/loop"
	"go.aimuz.me/livecaption/internal/session"
	"go.aimuz.me/livecaption/internal/types"
	"go.aimuz.me/livecaption/transport"
	"go.aimuz.me/livecaption/videodelay"
)

// Observer receives session lifecycle and caption statistics.
// *metrics.Metrics implements it.
type Observer interface {
	session.Observer
	SessionStarted()
	SessionEnded()
}

type nopObserver struct{}

func (nopObserver) Scheduled(string)    {}
func (nopObserver) StaleDropped()       {}
func (nopObserver) SpeechActivity(bool) {}
func (nopObserver) SessionStarted()     {}
func (nopObserver) SessionEnded()       {}

// Deps are the collaborators sessions are built from.
type Deps struct {
	Exec    loop.Executor
	Surface caption.Surface

	// NewTransport and NewSource are called once per session with a copy of
	// the current configuration.
	NewTransport func(cfg *config.Config) (transport.Transport, error)
	NewSource    func(cfg *config.Config) (audiocapture.Source, error)

	Store    config.Store         // optional
	Video    *videodelay.Delayer  // optional
	Detector *langdetect.Detector // optional
	Observer Observer             // optional

	// OnTranscript, if set, receives every confirmed transcript line.
	OnTranscript func(types.Transcript)
}

// Controller starts and stops capture sessions and owns the runtime settings.
type Controller struct {
	deps    Deps
	tracker *langdetect.Tracker

	mu  sync.RWMutex
	cfg *config.Config

	live        LiveAdapter
	transcripts atomic.Int64
}

// New creates a controller. Settings found in deps.Store override cfg.
func New(cfg *config.Config, deps Deps) (*Controller, error) {
	if deps.Exec == nil || deps.Surface == nil || deps.NewTransport == nil || deps.NewSource == nil {
		return nil, errors.New("app: executor, surface, transport and source are required")
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}

	if deps.Store != nil {
		saved, err := deps.Store.Load()
		if err != nil {
			return nil, err
		}
		cfg.Apply(saved)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("stored settings: %w", err)
		}
	}

	c := &Controller{deps: deps, cfg: cfg}
	if deps.Detector != nil {
		c.tracker = langdetect.NewTracker(deps.Detector)
	}
	return c, nil
}

// StartCapture starts a new session with the current settings. A running
// session is stopped first.
func (c *Controller) StartCapture(ctx context.Context) error {
	c.mu.RLock()
	cfg := *c.cfg
	c.mu.RUnlock()

	tr, err := c.deps.NewTransport(&cfg)
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}
	src, err := c.deps.NewSource(&cfg)
	if err != nil {
		return fmt.Errorf("create audio source: %w", err)
	}

	var s *session.Session
	s, err = session.New(c.deps.Exec, tr, src, c.deps.Surface, c.deps.Video, session.Config{
		Delay: cfg.Captions.Delay,
		Chunker: audiocapture.ChunkerConfig{
			OutputRate:    cfg.Audio.OutputRate,
			ChunkDuration: cfg.Audio.ChunkDuration,
		},
		Renderer: caption.RendererConfig{Mode: RevealMode(cfg.Captions.Reveal)},
		Observer: c.deps.Observer,
		OnTranscript: func(speaker, text string) {
			c.onTranscript(s, speaker, text)
		},
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	if c.tracker != nil {
		c.tracker.Reset()
	}
	c.transcripts.Store(0)

	if err := c.live.Start(ctx, s); err != nil {
		return err
	}
	c.deps.Observer.SessionStarted()
	go c.watch(s)

	slog.Info("capture started",
		"session", s.ID(),
		"provider", cfg.Backend.Provider,
		"delay", cfg.Captions.Delay,
		"chunk_duration", cfg.Audio.ChunkDuration)
	return nil
}

// watch releases s once it has been torn down for any reason.
func (c *Controller) watch(s *session.Session) {
	<-s.Done()
	c.live.release(s)
	c.deps.Observer.SessionEnded()
	if err := s.Err(); err != nil {
		slog.Warn("capture session ended", "session", s.ID(), "error", err)
	}
}

// onTranscript runs on the loop for confirmed lines of s.
func (c *Controller) onTranscript(s *session.Session, speaker, text string) {
	if c.live.Current() != s {
		return
	}
	c.transcripts.Add(1)
	if c.tracker != nil {
		c.tracker.Observe(text)
	}
	if c.deps.OnTranscript != nil {
		c.deps.OnTranscript(types.Transcript{
			SessionID: s.ID(),
			Speaker:   speaker,
			Text:      text,
			Timestamp: c.deps.Exec.Now().UnixMilli(),
		})
	}
}

// Done is closed when the running session ends. It is already closed when
// no session is running.
func (c *Controller) Done() <-chan struct{} {
	if s := c.live.Current(); s != nil {
		return s.Done()
	}
	return closedCh
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// StopCapture stops the running session, if any.
func (c *Controller) StopCapture() {
	if c.live.Stop() {
		slog.Info("capture stopped")
	}
}

// ClearSession drops the running session and everything it displayed, along
// with the detected language.
func (c *Controller) ClearSession() {
	c.live.Stop()
	if c.tracker != nil {
		c.tracker.Reset()
	}
	c.transcripts.Store(0)
}

// Delay returns the delay budget the next session will use.
func (c *Controller) Delay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Captions.Delay
}

// SetDelay changes the delay budget. The running session keeps its delay;
// the new value applies from the next StartCapture.
func (c *Controller) SetDelay(d time.Duration) error {
	if err := config.ValidateDelay(d); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Captions.Delay = d
	return c.persistLocked()
}

// ChunkDuration returns the current chunk duration.
func (c *Controller) ChunkDuration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Audio.ChunkDuration
}

// SetChunkDuration changes the chunk duration. It also applies to the
// running session from its next chunk boundary.
func (c *Controller) SetChunkDuration(d time.Duration) error {
	if err := config.ValidateChunkDuration(d); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Audio.ChunkDuration = d
	if s := c.live.Current(); s != nil {
		s.Chunker().SetChunkDuration(d)
	}
	return c.persistLocked()
}

// SetLanguages changes the source and target languages for the next session.
func (c *Controller) SetLanguages(source, target string) error {
	src, err := config.ParseLanguage(source)
	if err != nil {
		return fmt.Errorf("source language: %w", err)
	}
	dst, err := config.ParseLanguage(target)
	if err != nil {
		return fmt.Errorf("target language: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Captions.SourceLanguage = src
	c.cfg.Captions.TargetLanguage = dst
	return c.persistLocked()
}

// SetProvider switches the backend provider for the next session.
func (c *Controller) SetProvider(provider string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.cfg.Backend.Provider
	c.cfg.Backend.Provider = provider
	if err := c.cfg.Validate(); err != nil {
		c.cfg.Backend.Provider = prev
		return err
	}
	return c.persistLocked()
}

func (c *Controller) persistLocked() error {
	if c.deps.Store == nil {
		return nil
	}
	delay, chunk := c.cfg.Captions.Delay, c.cfg.Audio.ChunkDuration
	return c.deps.Store.Save(config.Settings{
		Delay:          &delay,
		ChunkDuration:  &chunk,
		SourceLanguage: c.cfg.Captions.SourceLanguage,
		TargetLanguage: c.cfg.Captions.TargetLanguage,
		Provider:       c.cfg.Backend.Provider,
	})
}

// Status returns the current status, safe for concurrent access.
func (c *Controller) Status() types.Status {
	c.mu.RLock()
	st := types.Status{
		DelayMs:         c.cfg.Captions.Delay.Milliseconds(),
		ChunkDurationMs: c.cfg.Audio.ChunkDuration.Milliseconds(),
		SourceLang:      c.cfg.Captions.SourceLanguage,
		TargetLang:      c.cfg.Captions.TargetLanguage,
		Provider:        c.cfg.Backend.Provider,
		DetectedLang:    langdetect.Auto,
		TranscriptCount: int(c.transcripts.Load()),
	}
	c.mu.RUnlock()

	if c.tracker != nil {
		st.DetectedLang = c.tracker.Language()
	}
	if s := c.live.Current(); s != nil {
		st.Active = true
		st.SessionID = s.ID()
		st.DelayMs = s.Delay().Milliseconds()
		if started := s.Started(); !started.IsZero() {
			st.Duration = int64(c.deps.Exec.Now().Sub(started).Seconds())
		}
	}
	return st
}

// Close stops capture and closes the settings store.
func (c *Controller) Close() error {
	c.StopCapture()
	if c.deps.Store != nil {
		return c.deps.Store.Close()
	}
	return nil
}

// RevealMode maps a configured reveal name to the renderer mode.
func RevealMode(name string) caption.RevealMode {
	if name == config.RevealHighlight {
		return caption.RevealHighlight
	}
	return caption.RevealTypewriter
}
