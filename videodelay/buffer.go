package videodelay

import (
	"fmt"
	"log/slog"
	"time"

	"go.aimuz.me/livecaption/internal/loop"
)

// Config holds configuration for a delay buffer.
// Zero values are replaced with defaults.
type Config struct {
	Delay    time.Duration
	Refresh  time.Duration // display refresh interval
	PoolSize int
	Observer Observer
}

func (c Config) withDefaults() Config {
	if c.Delay <= 0 {
		c.Delay = DefaultDelay
	}
	if c.Refresh <= 0 {
		c.Refresh = DefaultRefresh
	}
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
	return c
}

type frame struct {
	tex Texture
	at  time.Time // capture time
}

// Buffer delays one element's picture. It must only be used from the loop.
type Buffer struct {
	exec loop.Executor
	el   Element
	dev  Device
	cfg  Config
	pool *pool

	// Playback state
	active    bool
	start     time.Time
	initial   *frame // drawn during warm-up
	delayed   *frame // most recent promoted frame
	lastDrawn time.Time
	pending   map[*frame]loop.Timer

	// Visibility
	visible   bool
	wasHidden bool

	renderTick  loop.Timer
	captureTick loop.Timer
	hideTimer   loop.Timer
}

// NewBuffer starts delaying el on dev.
func NewBuffer(exec loop.Executor, el Element, dev Device, cfg Config) (*Buffer, error) {
	if dev == nil {
		return nil, ErrNoDevice
	}
	cfg = cfg.withDefaults()

	w, h := el.Size()
	if err := dev.Init(w, h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	p, err := newPool(dev, cfg.PoolSize, cfg.Observer)
	if err != nil {
		dev.Release()
		return nil, err
	}

	b := &Buffer{
		exec:    exec,
		el:      el,
		dev:     dev,
		cfg:     cfg,
		pool:    p,
		active:  true,
		start:   exec.Now(),
		pending: make(map[*frame]loop.Timer),
		visible: true,
	}
	b.initial = b.grab()
	if b.initial != nil {
		b.draw(b.initial)
	}

	b.every(&b.renderTick, b.render)
	b.every(&b.captureTick, b.capture)

	// Hide the original once the overlay has had a refresh to paint.
	b.hideTimer = exec.AfterFunc(cfg.Refresh, func() {
		b.hideTimer = nil
		if b.active {
			el.SetHidden(true)
		}
	})
	return b, nil
}

// every runs f once per refresh until the buffer stops.
func (b *Buffer) every(slot *loop.Timer, f func()) {
	*slot = b.exec.AfterFunc(b.cfg.Refresh, func() {
		if !b.active {
			return
		}
		b.every(slot, f)
		f()
	})
}

// grab uploads the element's current picture into a pooled texture.
func (b *Buffer) grab() *frame {
	if !b.el.Ready() {
		return nil
	}
	tex, err := b.pool.get()
	if err != nil {
		slog.Debug("videodelay: no texture", "error", err)
		return nil
	}
	if err := b.dev.Upload(tex, b.el.Frame()); err != nil {
		slog.Debug("videodelay: upload failed", "error", err)
		b.pool.put(tex)
		return nil
	}
	b.cfg.Observer.FrameCaptured()
	return &frame{tex: tex, at: b.exec.Now()}
}

func (b *Buffer) draw(f *frame) {
	if !b.dev.IsTexture(f.tex) {
		return
	}
	if err := b.dev.Draw(f.tex); err != nil {
		slog.Debug("videodelay: draw failed", "error", err)
	}
}

func (b *Buffer) render() {
	if !b.visible || b.wasHidden {
		return
	}
	if b.exec.Now().Sub(b.start) < b.cfg.Delay+b.cfg.Refresh {
		if b.initial != nil {
			b.draw(b.initial)
		}
		return
	}
	if b.delayed != nil && b.delayed.at.After(b.lastDrawn.Add(-2*b.cfg.Refresh)) {
		b.draw(b.delayed)
		b.lastDrawn = b.delayed.at
	}
}

func (b *Buffer) capture() {
	if !b.visible || b.el.Paused() || b.el.Ended() {
		return
	}
	if b.wasHidden {
		b.wasHidden = false
		b.restart()
	}
	if b.initial == nil {
		b.initial = b.grab()
	}

	f := b.grab()
	if f == nil {
		return
	}
	b.promote(f)
}

// promote makes f the delayed frame once it is Delay old.
func (b *Buffer) promote(f *frame) {
	wait := b.cfg.Delay - b.exec.Now().Sub(f.at) - promoteLead
	b.pending[f] = b.exec.AfterFunc(max(wait, 0), func() {
		delete(b.pending, f)
		if !b.active {
			return
		}
		if b.delayed != nil {
			b.pool.put(b.delayed.tex)
		}
		b.delayed = f
	})
}

// restart begins a fresh warm-up after the picture was hidden. Frames
// buffered before the gap are dropped.
func (b *Buffer) restart() {
	for f, t := range b.pending {
		t.Stop()
		b.pool.put(f.tex)
	}
	clear(b.pending)
	if b.delayed != nil {
		b.pool.put(b.delayed.tex)
		b.delayed = nil
	}
	if b.initial != nil {
		b.pool.put(b.initial.tex)
	}
	b.initial = b.grab()
	b.start = b.exec.Now()
	b.lastDrawn = time.Time{}
}

// SetVisible pauses capture and drawing while the page is hidden.
func (b *Buffer) SetVisible(visible bool) {
	b.visible = visible
	if !visible {
		b.wasHidden = true
	}
}

// Resize matches the surface to the element's current size.
func (b *Buffer) Resize() {
	if !b.active {
		return
	}
	w, h := b.el.Size()
	b.dev.Viewport(w, h)
}

// Pending returns the number of frames waiting for promotion.
func (b *Buffer) Pending() int { return len(b.pending) }

// Textures returns the number of textures the buffer owns.
func (b *Buffer) Textures() int { return b.pool.live() }

// Stop cancels every pending promotion, releases all device resources and
// restores the original picture. Nothing is drawn afterwards.
func (b *Buffer) Stop() {
	if !b.active {
		return
	}
	b.active = false

	for _, t := range []*loop.Timer{&b.renderTick, &b.captureTick, &b.hideTimer} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
	for _, t := range b.pending {
		t.Stop()
	}
	clear(b.pending)

	b.el.SetHidden(false)

	b.pool.release()
	b.dev.Release()
	b.initial, b.delayed = nil, nil
}
