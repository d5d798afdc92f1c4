package realtime

import "time"

const (
	// SampleRate is the rate of the chunks fed to the encoder.
	SampleRate = 16000

	frameDuration = 20 * time.Millisecond
	frameSamples  = SampleRate * int(frameDuration/time.Millisecond) / 1000
)

// framer re-slices chunk samples into fixed opus frames, carrying the
// remainder to the next push.
type framer struct {
	pending []int16
	frame   []float32
}

func newFramer() *framer {
	return &framer{
		pending: make([]int16, 0, frameSamples),
		frame:   make([]float32, frameSamples),
	}
}

// push calls emit once per complete frame. The frame slice is reused.
func (f *framer) push(samples []int16, emit func(frame []float32) error) error {
	for len(samples) > 0 {
		n := min(frameSamples-len(f.pending), len(samples))
		f.pending = append(f.pending, samples[:n]...)
		samples = samples[n:]
		if len(f.pending) < frameSamples {
			return nil
		}
		for i, s := range f.pending {
			f.frame[i] = float32(s) / 32768
		}
		f.pending = f.pending[:0]
		if err := emit(f.frame); err != nil {
			return err
		}
	}
	return nil
}
