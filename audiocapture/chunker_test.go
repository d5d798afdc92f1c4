package audiocapture

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func collect(t *testing.T, cfg ChunkerConfig) (*Chunker, *[]Chunk) {
	t.Helper()
	var chunks []Chunk
	c, err := NewChunker(cfg, func(ch Chunk) { chunks = append(chunks, ch) })
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}
	return c, &chunks
}

func constant(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestNewChunker(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ChunkerConfig
		wantErr error
		want    time.Duration
	}{
		{"defaults", ChunkerConfig{}, nil, 320 * time.Millisecond},
		{"explicit", ChunkerConfig{InputRate: 48000, OutputRate: 16000, ChunkDuration: time.Second}, nil, time.Second},
		{"44k1", ChunkerConfig{InputRate: 44100, OutputRate: 16000}, ErrUnsupportedRate, 0},
		{"factor too large", ChunkerConfig{InputRate: 160000, OutputRate: 16000}, ErrUnsupportedRate, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewChunker(tt.cfg, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("NewChunker() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got := c.ChunkDuration(); got != tt.want {
				t.Errorf("ChunkDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChunker_FixedSizeAndIndices(t *testing.T) {
	c, chunks := collect(t, ChunkerConfig{})

	// 48kHz render quanta of 128 frames, which is not a multiple of 3.
	rng := rand.New(rand.NewSource(1))
	total := 0
	for range 2000 {
		block := make([]float32, 128)
		for i := range block {
			block[i] = rng.Float32()*2 - 1
		}
		c.Process(block, nil)
		total += len(block)
	}

	if len(*chunks) == 0 {
		t.Fatal("no chunks emitted")
	}
	for i, ch := range *chunks {
		if ch.Index != uint32(i) {
			t.Fatalf("chunk %d has index %d", i, ch.Index)
		}
		if len(ch.Samples) < 5120 {
			t.Fatalf("chunk %d has %d samples, want >= 5120", i, len(ch.Samples))
		}
		if ch.Duration != 320*time.Millisecond {
			t.Errorf("chunk %d duration = %v", i, ch.Duration)
		}
	}

	// Nothing is lost between quanta.
	emitted := len(*chunks) * 5120
	if got := emitted + c.Buffered(); got != total/3 {
		t.Errorf("emitted+buffered = %d, want %d", got, total/3)
	}
}

func TestChunker_PartialNeverEmitted(t *testing.T) {
	c, chunks := collect(t, ChunkerConfig{})

	c.Process(constant(5119*3, 0.5), nil)
	if len(*chunks) != 0 {
		t.Fatalf("emitted %d chunks before threshold", len(*chunks))
	}
	if c.Buffered() != 5119 {
		t.Fatalf("Buffered() = %d, want 5119", c.Buffered())
	}

	c.Process(constant(3, 0.5), nil)
	if len(*chunks) != 1 {
		t.Fatalf("emitted %d chunks, want 1", len(*chunks))
	}
	if c.Buffered() != 0 {
		t.Errorf("Buffered() = %d after emit, want 0", c.Buffered())
	}
}

func TestChunker_StereoMatchesMono(t *testing.T) {
	mono, monoChunks := collect(t, ChunkerConfig{ChunkDuration: 10 * time.Millisecond})
	stereo, stereoChunks := collect(t, ChunkerConfig{ChunkDuration: 10 * time.Millisecond})

	rng := rand.New(rand.NewSource(7))
	signal := make([]float32, 4800)
	for i := range signal {
		signal[i] = rng.Float32()*2 - 1
	}

	mono.Process(signal, nil)
	stereo.Process(signal, signal)

	if diff := cmp.Diff(*monoChunks, *stereoChunks); diff != "" {
		t.Errorf("stereo output differs from mono (-mono +stereo):\n%s", diff)
	}
}

func TestChunker_BoxFilter(t *testing.T) {
	c, chunks := collect(t, ChunkerConfig{ChunkDuration: time.Second / 16000})

	c.Process([]float32{0.3, 0.6, 0.9}, []float32{0.1, 0.2, 0.3})

	if len(*chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(*chunks))
	}
	// mono = 0.2, 0.4, 0.6; mean 0.4
	if got, want := (*chunks)[0].Samples[0], ToPCM16(0.4); got != want {
		t.Errorf("sample = %d, want %d", got, want)
	}
}

func TestChunker_SetChunkDurationAffectsFutureBoundaries(t *testing.T) {
	c, chunks := collect(t, ChunkerConfig{ChunkDuration: 100 * time.Millisecond}) // 1600 samples

	c.Process(constant(1000*3, 0.1), nil)
	c.SetChunkDuration(50 * time.Millisecond) // 800 samples

	// Already buffered samples are not re-sliced: the next boundary takes
	// the whole buffer once the new threshold is crossed.
	c.Process(constant(3, 0.1), nil)
	if len(*chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(*chunks))
	}
	if n := len((*chunks)[0].Samples); n != 1001 {
		t.Errorf("first chunk has %d samples, want 1001", n)
	}

	c.Process(constant(800*3, 0.1), nil)
	if len(*chunks) != 2 || len((*chunks)[1].Samples) != 800 {
		t.Fatalf("second chunk wrong: %d chunks", len(*chunks))
	}
	if (*chunks)[1].Index != 1 {
		t.Errorf("second index = %d, want 1", (*chunks)[1].Index)
	}
}

func TestChunker_EmittedSamplesNotReused(t *testing.T) {
	c, chunks := collect(t, ChunkerConfig{ChunkDuration: time.Millisecond}) // 16 samples

	c.Process(constant(48, 0.5), nil)
	c.Process(constant(48, -0.5), nil)

	if len(*chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(*chunks))
	}
	if (*chunks)[0].Samples[0] <= 0 {
		t.Errorf("first chunk overwritten: %d", (*chunks)[0].Samples[0])
	}
}

func TestChunker_Reset(t *testing.T) {
	c, chunks := collect(t, ChunkerConfig{ChunkDuration: time.Millisecond})

	c.Process(constant(48+2, 0.5), nil)
	c.Reset()
	c.Process(constant(48, 0.5), nil)

	if len(*chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(*chunks))
	}
	if (*chunks)[1].Index != 0 {
		t.Errorf("index after reset = %d, want 0", (*chunks)[1].Index)
	}
}

func TestToPCM16(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{1.0, 32767},
		{-1.0, -32768},
		{0.0, 0},
		{0.5, 16384},
		{2.5, 32767},
		{-7, -32768},
	}

	for _, tt := range tests {
		if got := ToPCM16(tt.in); got != tt.want {
			t.Errorf("ToPCM16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
