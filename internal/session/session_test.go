package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"go.aimuz.me/livecaption/audiocapture"
	"go.aimuz.me/livecaption/caption"
	"go.aimuz.me/livecaption/internal/loop"
	"go.aimuz.me/livecaption/transport"
	"go.aimuz.me/livecaption/videodelay"
)

var epoch = time.Unix(1_700_000_000, 0)

type fakeTransport struct {
	connectErr error

	mu           sync.Mutex
	sent         []audiocapture.Chunk
	disconnected bool

	events chan transport.Event
	done   chan struct{}
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events: make(chan transport.Event, 16),
		done:   make(chan struct{}),
	}
}

func (f *fakeTransport) Connect(context.Context) error {
	if f.connectErr != nil {
		f.close()
	}
	return f.connectErr
}

func (f *fakeTransport) Send(c audiocapture.Chunk) {
	f.mu.Lock()
	f.sent = append(f.sent, c)
	f.mu.Unlock()
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	f.disconnected = true
	f.mu.Unlock()
	f.close()
}

func (f *fakeTransport) close() {
	f.once.Do(func() {
		close(f.events)
		close(f.done)
	})
}

func (f *fakeTransport) Events() <-chan transport.Event { return f.events }
func (f *fakeTransport) Done() <-chan struct{}          { return f.done }

func (f *fakeTransport) chunks() []audiocapture.Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]audiocapture.Chunk(nil), f.sent...)
}

type fakeSource struct {
	mu      sync.Mutex
	handler audiocapture.FrameHandler
	started bool
	stopped bool
	done    chan struct{}
	once    sync.Once
}

func newFakeSource() *fakeSource { return &fakeSource{done: make(chan struct{})} }

func (f *fakeSource) Start(h audiocapture.FrameHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
	f.started = true
	return nil
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeSource) SampleRate() int            { return 48000 }
func (f *fakeSource) Done() <-chan struct{}      { return f.done }
func (f *fakeSource) Err() error                 { return nil }
func (f *fakeSource) feed(left, right []float32) { f.handler(left, right) }

type recorder struct {
	shows  []caption.Presentation
	hidden []string
	errors []string
}

func (s *recorder) Show(p caption.Presentation) { s.shows = append(s.shows, p) }
func (s *recorder) Hide(speaker string)         { s.hidden = append(s.hidden, speaker) }
func (s *recorder) SetOverlayVisible(bool)      {}
func (s *recorder) ShowError(message string)    { s.errors = append(s.errors, message) }

type countingObserver struct {
	scheduled, stale int
	activity         []bool
}

func (o *countingObserver) Scheduled(string)           { o.scheduled++ }
func (o *countingObserver) StaleDropped()              { o.stale++ }
func (o *countingObserver) SpeechActivity(active bool) { o.activity = append(o.activity, active) }

type harness struct {
	m    *loop.Manual
	tr   *fakeTransport
	src  *fakeSource
	surf *recorder
	obs  *countingObserver
	s    *Session
}

func newHarness(t *testing.T, video *videodelay.Delayer) *harness {
	t.Helper()
	h := &harness{
		m:    loop.NewManual(epoch),
		tr:   newFakeTransport(),
		src:  newFakeSource(),
		surf: &recorder{},
		obs:  &countingObserver{},
	}
	s, err := New(h.m, h.tr, h.src, h.surf, video, Config{Delay: time.Second, Observer: h.obs})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.s = s
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.m.Flush()
}

func eventually(t *testing.T, m *loop.Manual, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.Flush()
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func ms(v float64) transport.Timing { return transport.Timing{Speaker: "A", ElapsedMs: &v} }

func TestSession_StartFailedLeavesCleanState(t *testing.T) {
	h := newHarness(t, nil)
	h.tr.connectErr = transport.ErrConnectFailed

	err := h.s.Start(context.Background())
	if !errors.Is(err, transport.ErrConnectFailed) {
		t.Fatalf("Start() error = %v, want ErrConnectFailed", err)
	}
	h.m.Flush()
	if !closed(h.s.Done()) {
		t.Error("session not torn down")
	}
	if h.src.started {
		t.Error("audio started after failed connect")
	}
	if !errors.Is(h.s.Err(), transport.ErrConnectFailed) {
		t.Errorf("Err() = %v", h.s.Err())
	}
}

func TestSession_ChunksFlowToTransport(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	frames := 48000 * int(audiocapture.DefaultChunkDuration/time.Millisecond) / 1000
	h.src.feed(make([]float32, frames), nil)
	if len(h.tr.chunks()) != 0 {
		t.Fatal("chunk sent off the loop")
	}
	h.m.Flush()

	got := h.tr.chunks()
	if len(got) != 1 || got[0].Index != 0 || len(got[0].Samples) != 5120 {
		t.Fatalf("sent %d chunks, first = %+v", len(got), got)
	}
}

func TestSession_SpeechActivity(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	frames := 48000 * int(audiocapture.DefaultChunkDuration/time.Millisecond) / 1000
	loud := make([]float32, frames)
	for i := range loud {
		loud[i] = 0.1
	}
	h.src.feed(loud, nil)
	h.m.Flush()
	if diff := cmp.Diff([]bool{true}, h.obs.activity); diff != "" {
		t.Fatalf("activity mismatch (-want +got):\n%s", diff)
	}

	h.s.Stop()
	h.m.Flush()
	if diff := cmp.Diff([]bool{true, false}, h.obs.activity); diff != "" {
		t.Errorf("activity after Stop mismatch (-want +got):\n%s", diff)
	}
}

func TestSession_RendersAtDeadline(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	h.s.HandleEvent(transport.PartialTranscriptEvent{Timing: ms(200), Text: "hi"}, 0)
	h.m.Advance(1199 * time.Millisecond)
	if len(h.surf.shows) != 0 {
		t.Fatal("rendered before deadline")
	}
	h.m.Advance(time.Millisecond)
	if len(h.surf.shows) != 1 || h.surf.shows[0].Transcript.Live != "hi" {
		t.Fatalf("shows = %+v", h.surf.shows)
	}
	if h.obs.scheduled != 1 {
		t.Errorf("scheduled = %d, want 1", h.obs.scheduled)
	}
}

func TestSession_StaleLiveDropped(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	h.s.HandleEvent(transport.PartialTranscriptEvent{Timing: ms(100), Text: "hel"}, 0)
	h.s.HandleEvent(transport.ConfirmedTranscriptEvent{Timing: ms(300), Text: "Hello."}, 0)
	h.m.Advance(2 * time.Second)

	for _, p := range h.surf.shows {
		if p.Transcript.Live == "hel" {
			t.Fatal("stale live text rendered after confirmation")
		}
	}
	if h.obs.stale != 1 {
		t.Errorf("stale = %d, want 1", h.obs.stale)
	}
}

func TestSession_EventsThroughTransport(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	h.tr.events <- transport.SessionStartedEvent{SessionID: "backend-1"}
	h.tr.events <- transport.ErrorEvent{Message: "quota exceeded"}
	eventually(t, h.m, func() bool { return len(h.surf.errors) == 1 })
	if diff := cmp.Diff([]string{"quota exceeded"}, h.surf.errors); diff != "" {
		t.Errorf("errors mismatch (-want +got):\n%s", diff)
	}
}

func TestSession_StopCancelsEverything(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	for i := range 5 {
		h.s.HandleEvent(transport.PartialTranscriptEvent{Timing: ms(float64(i * 100)), Text: "x"}, 0)
	}
	h.s.Stop()
	h.m.Flush()

	h.s.HandleEvent(transport.PartialTranscriptEvent{Timing: ms(0), Text: "late"}, 0)
	h.m.Advance(time.Hour)
	if len(h.surf.shows) != 0 {
		t.Errorf("%d presentations after Stop", len(h.surf.shows))
	}
	if h.m.Pending() != 0 {
		t.Errorf("%d timers pending after Stop", h.m.Pending())
	}
	if !h.tr.disconnected || !h.src.stopped {
		t.Errorf("disconnected = %v, source stopped = %v", h.tr.disconnected, h.src.stopped)
	}
	if !closed(h.s.Done()) || h.s.Err() != nil {
		t.Errorf("done = %v, err = %v", closed(h.s.Done()), h.s.Err())
	}
	h.s.Stop()
}

func TestSession_ConnectionLost(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	h.s.HandleEvent(transport.PartialTranscriptEvent{Timing: ms(0), Text: "x"}, 0)
	h.tr.close()

	eventually(t, h.m, func() bool { return closed(h.s.Done()) })
	if !errors.Is(h.s.Err(), ErrConnectionLost) {
		t.Errorf("Err() = %v, want ErrConnectionLost", h.s.Err())
	}
	if diff := cmp.Diff([]string{"Connection lost"}, h.surf.errors); diff != "" {
		t.Errorf("errors mismatch (-want +got):\n%s", diff)
	}
	if !h.src.stopped {
		t.Error("audio still running")
	}
	h.m.Advance(time.Hour)
	if len(h.surf.shows) != 0 {
		t.Error("caption rendered after connection loss")
	}
}

func TestSession_VideoFollowsSession(t *testing.T) {
	m := loop.NewManual(epoch)
	d := videodelay.NewDelayer(m, func() (videodelay.Device, error) {
		return videodelay.NewSoftDevice(), nil
	}, videodelay.Config{})

	tr, src := newFakeTransport(), newFakeSource()
	s, err := New(m, tr, src, &recorder{}, d, Config{Delay: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.Flush()
	if !d.Active() || d.Delay() != 2*time.Second {
		t.Fatalf("delayer active = %v, delay = %v", d.Active(), d.Delay())
	}

	s.Stop()
	m.Flush()
	if d.Active() {
		t.Error("delayer still active after Stop")
	}
}
