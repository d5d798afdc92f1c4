package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"go.aimuz.me/livecaption/audiocapture"
)

var upgrader = websocket.Upgrader{}

// fakeBackend records what the client sends and replays scripted messages.
type fakeBackend struct {
	script    []string
	readDelay time.Duration

	mu       sync.Mutex
	received [][]byte
	kinds    []int
	closed   chan struct{}
}

func newFakeBackend(t *testing.T, script ...string) (*fakeBackend, string) {
	t.Helper()
	return startBackend(t, &fakeBackend{script: script})
}

func startBackend(t *testing.T, b *fakeBackend) (*fakeBackend, string) {
	t.Helper()
	b.closed = make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(srv.Close)
	return b, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (b *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	defer close(b.closed)

	for _, msg := range b.script {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			return
		}
	}
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if b.readDelay > 0 {
			time.Sleep(b.readDelay)
		}
		b.mu.Lock()
		b.received = append(b.received, data)
		b.kinds = append(b.kinds, kind)
		b.mu.Unlock()
	}
}

func (b *fakeBackend) messages() ([][]byte, []int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.received...), append([]int(nil), b.kinds...)
}

type countingObserver struct {
	sent, received, malformed atomic.Int32
}

func (o *countingObserver) ChunkSent(int)        { o.sent.Add(1) }
func (o *countingObserver) EventReceived(string) { o.received.Add(1) }
func (o *countingObserver) Malformed()           { o.malformed.Add(1) }

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func TestWSTransport_ReceivesEvents(t *testing.T) {
	_, url := newFakeBackend(t,
		`{"type":"session_started"}`,
		`not json`,
		`{"type":"partial_transcript","speaker":"A","text":"hel"}`,
	)
	var obs countingObserver
	var tapped atomic.Int32
	tr := NewWS(url, WithObserver(&obs), WithTap(func(time.Time, []byte) { tapped.Add(1) }))
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer tr.Disconnect()

	var got []string
	for len(got) < 2 {
		select {
		case ev := <-tr.Events():
			got = append(got, ev.Type())
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out, got %v", got)
		}
	}
	if got[0] != TypeSessionStarted || got[1] != TypePartialTranscript {
		t.Errorf("events = %v", got)
	}
	if obs.malformed.Load() != 1 {
		t.Errorf("malformed = %d, want 1", obs.malformed.Load())
	}
	if tapped.Load() != 3 {
		t.Errorf("tapped = %d, want 3", tapped.Load())
	}
}

func TestWSTransport_SendAndDisconnect(t *testing.T) {
	tests := []struct {
		name      string
		profile   AudioProfile
		wantKinds []int
	}{
		{"base64", ProfileBase64, []int{websocket.TextMessage, websocket.TextMessage}},
		{"binary", ProfileBinary, []int{websocket.TextMessage, websocket.BinaryMessage, websocket.TextMessage}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, url := newFakeBackend(t)
			tr := NewWS(url, WithProfile(tt.profile), WithGrace(20*time.Millisecond))
			if err := tr.Connect(context.Background()); err != nil {
				t.Fatalf("Connect() error = %v", err)
			}

			tr.Send(audiocapture.Chunk{Samples: []int16{1, 2, 3}, Index: 0, Duration: 10 * time.Millisecond})
			tr.Disconnect()
			waitClosed(t, tr.Done())
			waitClosed(t, backend.closed)

			msgs, kinds := backend.messages()
			if len(kinds) != len(tt.wantKinds) {
				t.Fatalf("got %d messages, want %d", len(kinds), len(tt.wantKinds))
			}
			for i := range kinds {
				if kinds[i] != tt.wantKinds[i] {
					t.Errorf("message %d kind = %d, want %d", i, kinds[i], tt.wantKinds[i])
				}
			}
			if last := string(msgs[len(msgs)-1]); last != `{"type":"end_stream"}` {
				t.Errorf("last message = %s, want end_stream", last)
			}
			if _, ok := <-tr.Events(); ok {
				t.Error("Events() not closed after Done")
			}

			// Sending after close is a no-op.
			tr.Send(audiocapture.Chunk{Samples: []int16{1}})
		})
	}
}

func TestWSTransport_BinaryFramingUnderBackpressure(t *testing.T) {
	backend, url := startBackend(t, &fakeBackend{readDelay: 200 * time.Microsecond})

	var obs countingObserver
	tr := NewWS(url, WithProfile(ProfileBinary), WithGrace(10*time.Millisecond), WithObserver(&obs))
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// Far more chunks than the write queue holds, so some are dropped.
	for i := range 3000 {
		tr.Send(audiocapture.Chunk{
			Samples:  make([]int16, 1+i%7),
			Index:    uint32(i),
			Duration: time.Millisecond,
		})
	}
	deadline := time.Now().Add(10 * time.Second)
	for len(tr.writes) > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	tr.Disconnect()
	waitClosed(t, tr.Done())
	waitClosed(t, backend.closed)

	msgs, kinds := backend.messages()
	headers := 0
	for i := 0; i < len(msgs)-1; i++ {
		var h AudioChunkMessage
		if kinds[i] != websocket.TextMessage || json.Unmarshal(msgs[i], &h) != nil || h.Type != TypeAudioChunk {
			t.Fatalf("message %d: want audio_chunk header, got kind %d %q", i, kinds[i], msgs[i])
		}
		i++
		if kinds[i] != websocket.BinaryMessage {
			t.Fatalf("chunk %d: header followed by kind %d, want binary payload", h.ChunkIndex, kinds[i])
		}
		if len(msgs[i]) != h.ByteLength || h.ByteLength != 2*(1+int(h.ChunkIndex)%7) {
			t.Fatalf("chunk %d: payload %d bytes, header says %d", h.ChunkIndex, len(msgs[i]), h.ByteLength)
		}
		headers++
	}
	if last := string(msgs[len(msgs)-1]); last != `{"type":"end_stream"}` {
		t.Errorf("last message = %s, want end_stream", last)
	}
	if int(obs.sent.Load()) != headers {
		t.Errorf("ChunkSent reported %d, backend received %d chunks", obs.sent.Load(), headers)
	}
}

func TestWSTransport_SendBeforeConnect(t *testing.T) {
	tr := NewWS("ws://127.0.0.1:1")
	tr.Send(audiocapture.Chunk{Samples: []int16{1}})
	tr.Disconnect()
	waitClosed(t, tr.Done())
}

func TestWSTransport_ConnectFailed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	tr := NewWS("ws://" + addr)
	err = tr.Connect(context.Background())
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectFailed", err)
	}
	waitClosed(t, tr.Done())
}

func TestWSTransport_ConnectTimeout(t *testing.T) {
	// Accept TCP but never answer the handshake.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			defer c.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	tr := NewWS("ws://" + ln.Addr().String())
	err = tr.Connect(ctx)
	if !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("Connect() error = %v, want ErrConnectTimeout", err)
	}
}

func TestWSTransport_SingleUse(t *testing.T) {
	_, url := newFakeBackend(t)
	tr := NewWS(url, WithGrace(time.Millisecond))
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	tr.Disconnect()
	waitClosed(t, tr.Done())

	if err := tr.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("second Connect() error = %v, want ErrClosed", err)
	}
}
