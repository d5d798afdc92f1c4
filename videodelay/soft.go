package videodelay

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
)

// SoftDevice is a Device that keeps textures and the surface in memory.
type SoftDevice struct {
	surface  *image.RGBA
	textures map[Texture]*image.RGBA
	next     Texture
	draws    int
}

// NewSoftDevice creates an uninitialised device.
func NewSoftDevice() *SoftDevice {
	return &SoftDevice{textures: make(map[Texture]*image.RGBA)}
}

// Init implements Device.
func (d *SoftDevice) Init(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid surface size %dx%d", width, height)
	}
	d.surface = image.NewRGBA(image.Rect(0, 0, width, height))
	return nil
}

// CreateTexture implements Device.
func (d *SoftDevice) CreateTexture() (Texture, error) {
	if d.surface == nil {
		return 0, errors.New("device not initialised")
	}
	d.next++
	d.textures[d.next] = nil
	return d.next, nil
}

// Upload implements Device.
func (d *SoftDevice) Upload(tex Texture, frame image.Image) error {
	img, ok := d.textures[tex]
	if !ok {
		return ErrNoTexture
	}
	if frame == nil {
		return errors.New("nil frame")
	}
	r := frame.Bounds()
	if img == nil || img.Bounds().Size() != r.Size() {
		img = image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
		d.textures[tex] = img
	}
	draw.Draw(img, img.Bounds(), frame, r.Min, draw.Src)
	return nil
}

// Draw implements Device.
func (d *SoftDevice) Draw(tex Texture) error {
	img, ok := d.textures[tex]
	if !ok {
		return ErrNoTexture
	}
	if d.surface == nil || img == nil {
		return nil
	}
	draw.Draw(d.surface, d.surface.Bounds(), img, image.Point{}, draw.Src)
	d.draws++
	return nil
}

// DeleteTexture implements Device.
func (d *SoftDevice) DeleteTexture(tex Texture) { delete(d.textures, tex) }

// IsTexture implements Device.
func (d *SoftDevice) IsTexture(tex Texture) bool {
	_, ok := d.textures[tex]
	return ok
}

// Viewport implements Device.
func (d *SoftDevice) Viewport(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	if d.surface != nil && d.surface.Bounds().Dx() == width && d.surface.Bounds().Dy() == height {
		return
	}
	d.surface = image.NewRGBA(image.Rect(0, 0, width, height))
}

// Release implements Device.
func (d *SoftDevice) Release() {
	clear(d.textures)
	d.surface = nil
}

// Surface returns the drawn picture, or nil after Release.
func (d *SoftDevice) Surface() *image.RGBA { return d.surface }

// Textures returns the number of live textures.
func (d *SoftDevice) Textures() int { return len(d.textures) }

// Draws returns the number of successful draws.
func (d *SoftDevice) Draws() int { return d.draws }
