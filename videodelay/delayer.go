package videodelay

import (
	"log/slog"
	"time"

	"go.aimuz.me/livecaption/internal/loop"
)

// DeviceFactory creates a render device for a new buffer.
type DeviceFactory func() (Device, error)

// Delayer keeps one Buffer per observed element, all sharing the same delay
// budget. It must only be used from the loop.
type Delayer struct {
	exec      loop.Executor
	newDevice DeviceFactory
	cfg       Config

	active  bool
	visible bool
	buffers map[Element]*Buffer
	waiting map[Element]struct{}
}

// NewDelayer creates an idle delayer.
func NewDelayer(exec loop.Executor, newDevice DeviceFactory, cfg Config) *Delayer {
	return &Delayer{
		exec:      exec,
		newDevice: newDevice,
		cfg:       cfg.withDefaults(),
		visible:   true,
		buffers:   make(map[Element]*Buffer),
		waiting:   make(map[Element]struct{}),
	}
}

// Start begins delaying elements. A non-positive delay keeps the current one.
func (d *Delayer) Start(delay time.Duration) {
	if delay > 0 {
		d.cfg.Delay = delay
	}
	d.active = true
}

// Delay returns the delay applied to new buffers.
func (d *Delayer) Delay() time.Duration { return d.cfg.Delay }

// Active reports whether the delayer is running.
func (d *Delayer) Active() bool { return d.active }

// Buffers returns the number of elements currently delayed.
func (d *Delayer) Buffers() int { return len(d.buffers) }

// Observe registers el. Its buffer is created on the first frame it presents
// while playing. Observing an element twice is a no-op.
func (d *Delayer) Observe(el Element) {
	if !d.active {
		return
	}
	if _, ok := d.buffers[el]; ok {
		return
	}
	d.waiting[el] = struct{}{}
}

// FramePresented reports that el has shown a frame.
func (d *Delayer) FramePresented(el Element) {
	if _, ok := d.waiting[el]; !ok {
		return
	}
	delete(d.waiting, el)
	if !d.active || el.Paused() {
		return
	}

	dev, err := d.newDevice()
	if err != nil {
		slog.Warn("videodelay: device unavailable", "error", err)
		return
	}
	b, err := NewBuffer(d.exec, el, dev, d.cfg)
	if err != nil {
		slog.Warn("videodelay: buffer not started", "error", err)
		return
	}
	if !d.visible {
		b.SetVisible(false)
	}
	d.buffers[el] = b
	slog.Debug("videodelay: delaying element", "delay", d.cfg.Delay, "buffers", len(d.buffers))
}

// Forget stops delaying el, e.g. after it was removed.
func (d *Delayer) Forget(el Element) {
	delete(d.waiting, el)
	if b, ok := d.buffers[el]; ok {
		b.Stop()
		delete(d.buffers, el)
	}
}

// SetVisible forwards page visibility to every buffer.
func (d *Delayer) SetVisible(visible bool) {
	d.visible = visible
	for _, b := range d.buffers {
		b.SetVisible(visible)
	}
}

// Resized forwards a size change of el.
func (d *Delayer) Resized(el Element) {
	if b, ok := d.buffers[el]; ok {
		b.Resize()
	}
}

// Stop stops every buffer and forgets all elements.
func (d *Delayer) Stop() {
	d.active = false
	clear(d.waiting)
	for _, b := range d.buffers {
		b.Stop()
	}
	clear(d.buffers)
}
