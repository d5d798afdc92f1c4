package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"go.aimuz.me/livecaption/internal/session"
	"go.aimuz.me/livecaption/transport"
	"go.aimuz.me/livecaption/videodelay"
)

var (
	_ transport.Observer  = (*Metrics)(nil)
	_ session.Observer    = (*Metrics)(nil)
	_ videodelay.Observer = (*Metrics)(nil)
)

func TestMetrics_Observers(t *testing.T) {
	m := New()

	m.ChunkSent(2048)
	m.ChunkSent(4096)
	m.EventReceived(transport.TypePartialTranscript)
	m.EventReceived(transport.TypePartialTranscript)
	m.EventReceived(transport.TypeError)
	m.Malformed()
	m.Scheduled("transcript")
	m.StaleDropped()
	m.TextureOverflow()
	m.SpeechActivity(true)
	m.SessionStarted()
	m.SessionStarted()
	m.SessionEnded()

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"chunks", testutil.ToFloat64(m.ChunksSent), 2},
		{"partials", testutil.ToFloat64(m.EventsReceived.WithLabelValues(transport.TypePartialTranscript)), 2},
		{"errors", testutil.ToFloat64(m.EventsReceived.WithLabelValues(transport.TypeError)), 1},
		{"malformed", testutil.ToFloat64(m.MalformedPayloads), 1},
		{"scheduled", testutil.ToFloat64(m.CaptionsScheduled.WithLabelValues("transcript")), 1},
		{"stale", testutil.ToFloat64(m.StaleCaptions), 1},
		{"overflow", testutil.ToFloat64(m.TextureOverflows), 1},
		{"speech", testutil.ToFloat64(m.SpeechActive), 1},
		{"active", testutil.ToFloat64(m.ActiveSessions), 1},
		{"sessions", testutil.ToFloat64(m.SessionsTotal), 2},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.FrameCaptured()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "livecaption_video_frames_captured_total 1") {
		t.Errorf("metrics output missing frame counter:\n%s", body)
	}
	if strings.Contains(string(body), "go_goroutines") {
		t.Error("private registry exposes default collectors")
	}
}
