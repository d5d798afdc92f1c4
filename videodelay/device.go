// Package videodelay holds a video picture back by the caption delay budget.
//
// Frames of a playing element are captured into pooled textures, each
// promoted to "current delayed frame" once it is old enough, and drawn on an
// overlay while the original picture is hidden.
package videodelay

import (
	"errors"
	"image"
	"time"
)

// Defaults.
const (
	DefaultDelay    = 5 * time.Second
	DefaultRefresh  = time.Second / 60
	DefaultPoolSize = 4

	// promotions fire slightly early so the frame is in place when the
	// render tick that should show it arrives.
	promoteLead = 2 * time.Millisecond
)

var (
	// ErrNoDevice is returned when no render device can be initialised.
	ErrNoDevice = errors.New("videodelay: no render device")
	// ErrNoTexture is returned for operations on unknown texture handles.
	ErrNoTexture = errors.New("videodelay: unknown texture")
)

// Texture is an opaque device texture handle. Zero is never a valid handle.
type Texture uint32

// Device is the accelerated surface frames are uploaded to and drawn on.
// Calls happen on the loop.
type Device interface {
	// Init prepares the surface at the given size.
	Init(width, height int) error
	CreateTexture() (Texture, error)
	// Upload copies frame into tex.
	Upload(tex Texture, frame image.Image) error
	// Draw paints tex over the whole surface.
	Draw(tex Texture) error
	DeleteTexture(tex Texture)
	IsTexture(tex Texture) bool
	// Viewport resizes the surface.
	Viewport(width, height int)
	// Release frees the surface and every texture still alive.
	Release()
}

// Element is an observed video element.
type Element interface {
	// Ready reports whether a current frame is available.
	Ready() bool
	Paused() bool
	Ended() bool
	// Size is the intrinsic picture size.
	Size() (width, height int)
	// Frame returns the picture currently shown.
	Frame() image.Image
	// SetHidden hides or restores the original picture.
	SetHidden(hidden bool)
}

// Observer receives buffer statistics.
type Observer interface {
	FrameCaptured()
	TextureOverflow()
}

type nopObserver struct{}

func (nopObserver) FrameCaptured()   {}
func (nopObserver) TextureOverflow() {}
