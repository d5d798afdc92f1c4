package videodelay

import "fmt"

// pool hands out textures, keeping at most size of them around when idle.
type pool struct {
	dev  Device
	size int
	obs  Observer

	free []Texture
	used map[Texture]struct{}
}

func newPool(dev Device, size int, obs Observer) (*pool, error) {
	p := &pool{
		dev:  dev,
		size: size,
		obs:  obs,
		free: make([]Texture, 0, size),
		used: make(map[Texture]struct{}),
	}
	for range size {
		tex, err := dev.CreateTexture()
		if err != nil {
			p.release()
			return nil, fmt.Errorf("create texture: %w", err)
		}
		p.free = append(p.free, tex)
	}
	return p, nil
}

// get takes a free texture, allocating a new one when the pool is empty.
func (p *pool) get() (Texture, error) {
	if n := len(p.free); n > 0 {
		tex := p.free[n-1]
		p.free = p.free[:n-1]
		p.used[tex] = struct{}{}
		return tex, nil
	}
	tex, err := p.dev.CreateTexture()
	if err != nil {
		return 0, fmt.Errorf("create texture: %w", err)
	}
	p.obs.TextureOverflow()
	p.used[tex] = struct{}{}
	return tex, nil
}

// put returns tex. Textures beyond the pool size are deleted.
func (p *pool) put(tex Texture) {
	if _, ok := p.used[tex]; !ok {
		return
	}
	delete(p.used, tex)
	if len(p.free) < p.size {
		p.free = append(p.free, tex)
		return
	}
	p.dev.DeleteTexture(tex)
}

// live is the number of textures the pool currently owns.
func (p *pool) live() int { return len(p.free) + len(p.used) }

func (p *pool) release() {
	for _, tex := range p.free {
		if p.dev.IsTexture(tex) {
			p.dev.DeleteTexture(tex)
		}
	}
	for tex := range p.used {
		if p.dev.IsTexture(tex) {
			p.dev.DeleteTexture(tex)
		}
	}
	p.free = p.free[:0]
	clear(p.used)
}
