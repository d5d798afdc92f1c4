package audiocapture

import (
	"math"
	"time"
)

// Activity detector defaults.
const (
	DefaultActivityThreshold = 0.02
	DefaultMinSpeech         = 300 * time.Millisecond
	DefaultSilence           = 400 * time.Millisecond
)

// ActivityEvent is a change in speech activity.
type ActivityEvent int

const (
	ActivityNone ActivityEvent = iota // No change
	ActivitySpeechStart
	ActivitySpeechEnd
)

// ActivityDetector tracks speech activity across emitted chunks by RMS
// level. Time is counted in chunk durations, not read from a clock.
type ActivityDetector struct {
	threshold float32
	minSpeech time.Duration // loud audio needed before speech starts
	silence   time.Duration // quiet audio needed before speech ends

	inSpeech bool
	loud     time.Duration
	quiet    time.Duration
}

// NewActivityDetector creates a detector. Zero values select defaults.
func NewActivityDetector(threshold float32, minSpeech, silence time.Duration) *ActivityDetector {
	if threshold <= 0 {
		threshold = DefaultActivityThreshold
	}
	if minSpeech <= 0 {
		minSpeech = DefaultMinSpeech
	}
	if silence <= 0 {
		silence = DefaultSilence
	}
	return &ActivityDetector{threshold: threshold, minSpeech: minSpeech, silence: silence}
}

// Process accounts for one chunk and reports whether speech started or ended.
func (d *ActivityDetector) Process(c Chunk) ActivityEvent {
	if chunkRMS(c.Samples) > d.threshold {
		d.quiet = 0
		if d.inSpeech {
			return ActivityNone
		}
		d.loud += c.Duration
		if d.loud >= d.minSpeech {
			d.inSpeech = true
			return ActivitySpeechStart
		}
		return ActivityNone
	}

	d.loud = 0
	if !d.inSpeech {
		return ActivityNone
	}
	d.quiet += c.Duration
	if d.quiet >= d.silence {
		d.inSpeech = false
		d.quiet = 0
		return ActivitySpeechEnd
	}
	return ActivityNone
}

// InSpeech reports whether a speech segment is open.
func (d *ActivityDetector) InSpeech() bool { return d.inSpeech }

// Reset clears the detector state.
func (d *ActivityDetector) Reset() {
	d.inSpeech = false
	d.loud = 0
	d.quiet = 0
}

// chunkRMS returns the root mean square of samples on a [-1, 1] scale.
func chunkRMS(samples []int16) float32 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	return float32(math.Sqrt(sum / float64(len(samples))))
}
