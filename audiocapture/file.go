package audiocapture

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
)

// fileBlock is the amount of audio delivered per handler call.
const fileBlock = 10 * time.Millisecond

// FileSource plays a WAV file as if it were live capture.
type FileSource struct {
	path     string
	rate     int
	realtime bool

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
	err     error
}

// NewFileSource creates a source that decodes path and resamples it to rate.
// When realtime is false frames are delivered as fast as the handler accepts
// them.
func NewFileSource(path string, rate int, realtime bool) *FileSource {
	if rate <= 0 {
		rate = DefaultInputRate
	}
	done := make(chan struct{})
	close(done)
	return &FileSource{path: path, rate: rate, realtime: realtime, done: done}
}

// SampleRate returns the delivery rate.
func (f *FileSource) SampleRate() int { return f.rate }

// Start opens the file and begins delivering frames.
func (f *FileSource) Start(handler FrameHandler) error {
	if handler == nil {
		return errors.New("audiocapture: nil handler")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return ErrRunning
	}

	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("open audio file: %w", err)
	}
	stream, format, err := wav.Decode(file)
	if err != nil {
		file.Close()
		return fmt.Errorf("decode wav: %w", err)
	}

	var s beep.Streamer = stream
	target := beep.SampleRate(f.rate)
	if format.SampleRate != target {
		s = beep.Resample(4, format.SampleRate, target, stream)
	}

	f.running = true
	f.err = nil
	f.stop = make(chan struct{})
	f.done = make(chan struct{})

	slog.Info("file source started", "path", f.path, "rate", format.SampleRate, "channels", format.NumChannels)
	go f.run(s, stream, format.NumChannels == 1, handler, f.stop, f.done)
	return nil
}

func (f *FileSource) run(s beep.Streamer, closer beep.StreamSeekCloser, mono bool, handler FrameHandler, stop, done chan struct{}) {
	defer close(done)
	defer closer.Close()

	n := beep.SampleRate(f.rate).N(fileBlock)
	buf := make([][2]float64, n)
	left := make([]float32, n)
	right := make([]float32, n)

	var tick <-chan time.Time
	if f.realtime {
		ticker := time.NewTicker(fileBlock)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-stop:
			return
		default:
		}
		if tick != nil {
			select {
			case <-tick:
			case <-stop:
				return
			}
		}

		got, ok := s.Stream(buf)
		for i := range got {
			left[i] = float32(buf[i][0])
			right[i] = float32(buf[i][1])
		}
		if got > 0 {
			if mono {
				handler(left[:got], nil)
			} else {
				handler(left[:got], right[:got])
			}
		}
		if !ok {
			f.finish(s.Err())
			return
		}
	}
}

func (f *FileSource) finish(streamErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	if streamErr != nil {
		f.err = fmt.Errorf("%w: %v", ErrSourceEnded, streamErr)
	} else {
		f.err = ErrSourceEnded
	}
	slog.Info("file source ended", "path", f.path)
}

// Stop halts playback and waits for the delivery goroutine to exit.
func (f *FileSource) Stop() error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	close(f.stop)
	done := f.done
	f.mu.Unlock()

	<-done
	return nil
}

// Done is closed when playback stops.
func (f *FileSource) Done() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// Err returns ErrSourceEnded once the file is exhausted.
func (f *FileSource) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}
