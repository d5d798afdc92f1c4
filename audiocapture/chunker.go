package audiocapture

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Defaults match what the transcription backend expects.
const (
	DefaultInputRate     = 48000
	DefaultOutputRate    = 16000
	DefaultChunkDuration = 320 * time.Millisecond

	maxFactor = 8
)

// Chunk is one fixed-duration block of mono 16-bit PCM at the output rate.
// It is never modified after emission.
type Chunk struct {
	Samples  []int16
	Index    uint32
	Duration time.Duration
}

// ChunkHandler receives ownership of every emitted chunk.
type ChunkHandler func(Chunk)

// ChunkerConfig holds configuration for the chunker.
// Zero values are replaced with defaults.
type ChunkerConfig struct {
	InputRate     int
	OutputRate    int
	ChunkDuration time.Duration
}

// Chunker downsamples, mixes to mono and quantizes audio into chunks.
//
// Process runs on the audio callback goroutine; SetChunkDuration may be
// called from any goroutine.
type Chunker struct {
	mu sync.Mutex

	inputRate  int
	outputRate int
	factor     int // input samples per output sample
	target     int // output samples per chunk

	// Box filter carry: mono samples from an incomplete group.
	carry    [maxFactor]float32
	carryLen int

	buf   []float32
	index uint32

	emit ChunkHandler
}

// NewChunker creates a chunker that hands each full chunk to emit.
func NewChunker(cfg ChunkerConfig, emit ChunkHandler) (*Chunker, error) {
	if cfg.InputRate == 0 {
		cfg.InputRate = DefaultInputRate
	}
	if cfg.OutputRate == 0 {
		cfg.OutputRate = DefaultOutputRate
	}
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = DefaultChunkDuration
	}
	if cfg.InputRate%cfg.OutputRate != 0 {
		return nil, fmt.Errorf("%w: %d Hz to %d Hz", ErrUnsupportedRate, cfg.InputRate, cfg.OutputRate)
	}
	factor := cfg.InputRate / cfg.OutputRate
	if factor > maxFactor {
		return nil, fmt.Errorf("%w: decimation factor %d", ErrUnsupportedRate, factor)
	}

	c := &Chunker{
		inputRate:  cfg.InputRate,
		outputRate: cfg.OutputRate,
		factor:     factor,
		buf:        make([]float32, 0, cfg.OutputRate), // one second
		emit:       emit,
	}
	c.target = c.samplesFor(cfg.ChunkDuration)
	return c, nil
}

func (c *Chunker) samplesFor(d time.Duration) int {
	n := int64(d) * int64(c.outputRate) / int64(time.Second)
	return max(int(n), 1)
}

// SetChunkDuration changes the threshold for future chunk boundaries.
// Samples already buffered are not re-sliced.
func (c *Chunker) SetChunkDuration(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.target = c.samplesFor(d)
	c.mu.Unlock()
}

// ChunkDuration returns the current target chunk duration.
func (c *Chunker) ChunkDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.durationOf(c.target)
}

func (c *Chunker) durationOf(samples int) time.Duration {
	return time.Duration(samples) * time.Second / time.Duration(c.outputRate)
}

// Buffered returns the number of output samples waiting for a boundary.
func (c *Chunker) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// Reset drops buffered audio and restarts chunk indices at zero.
func (c *Chunker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = c.buf[:0]
	c.carryLen = 0
	c.index = 0
}

// Process consumes one block of input frames. right is nil for mono input.
// Input shorter than the decimation factor is carried to the next call.
func (c *Chunker) Process(left, right []float32) {
	if right != nil && len(right) < len(left) {
		left = left[:len(right)]
	}

	var ready []Chunk

	c.mu.Lock()
	for i, l := range left {
		mono := l
		if right != nil {
			mono = (l + right[i]) / 2
		}
		c.carry[c.carryLen] = mono
		c.carryLen++
		if c.carryLen < c.factor {
			continue
		}

		var sum float32
		for _, s := range c.carry[:c.carryLen] {
			sum += s
		}
		c.carryLen = 0
		c.buf = append(c.buf, sum/float32(c.factor))

		if len(c.buf) >= c.target {
			ready = append(ready, c.cut())
		}
	}
	c.mu.Unlock()

	if c.emit == nil {
		return
	}
	for _, chunk := range ready {
		c.emit(chunk)
	}
}

// cut converts the whole buffer into a chunk. Caller holds mu.
func (c *Chunker) cut() Chunk {
	pcm := make([]int16, len(c.buf))
	for i, s := range c.buf {
		pcm[i] = ToPCM16(s)
	}
	chunk := Chunk{
		Samples:  pcm,
		Index:    c.index,
		Duration: c.durationOf(len(pcm)),
	}
	c.index++
	c.buf = c.buf[:0]
	return chunk
}

// ToPCM16 converts a float sample to signed 16-bit PCM, saturating outside
// [-1, 1].
func ToPCM16(x float32) int16 {
	if x != x { // NaN
		return 0
	}
	v := float64(min(max(x, -1), 1))
	if v < 0 {
		return int16(math.Round(v * 32768))
	}
	return int16(math.Round(v * 32767))
}
