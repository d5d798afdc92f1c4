// Package realtime is the WebRTC transport profile: audio goes out as an
// opus track and transcription events come back on the oai-events data
// channel of the OpenAI Realtime API.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	opuscodec "github.com/jj11hh/opus"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"go.aimuz.me/livecaption/audiocapture"
	"go.aimuz.me/livecaption/transport"
)

// Config holds configuration for the client.
type Config struct {
	APIKey  string
	BaseURL string // API root for session and SDP requests, defaults to DefaultBaseURL
	Session SessionConfig

	// ICEServers defaults to a public STUN server.
	ICEServers []string

	// ConnectTimeout bounds all of Connect: session creation, ICE
	// gathering, the SDP exchange and the data channel opening. Defaults
	// to transport.ConnectTimeout.
	ConnectTimeout time.Duration

	Grace    time.Duration
	Observer transport.Observer
	Tap      transport.Tap
}

// Client handles the WebRTC connection to the OpenAI Realtime API and
// implements transport.Transport.
type Client struct {
	// ─── Hot path (audio encoding) ───────────────────────────────────────────
	sendMu      sync.Mutex
	opusEncoder *opuscodec.Encoder
	audioTrack  *webrtc.TrackLocalStaticSample
	opusBuffer  []byte
	framer      *framer

	// ─── Synchronization ─────────────────────────────────────────────────────
	mu      sync.Mutex // protects the state flags and connection handles
	open    bool
	started bool

	evMu     sync.RWMutex // guards events against close while delivering
	evClosed bool

	// ─── Cold path (connection state) ────────────────────────────────────────
	cfg            Config
	peerConnection *webrtc.PeerConnection
	dataChannel    *webrtc.DataChannel
	mapper         *mapper
	events         chan transport.Event
	stop           chan struct{}
	done           chan struct{}
	stopOnce       sync.Once
}

var _ transport.Transport = (*Client)(nil)

// NewClient creates a new WebRTC-based Realtime client.
func NewClient(cfg Config) *Client {
	if cfg.Grace <= 0 {
		cfg.Grace = transport.DefaultGrace
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = transport.ConnectTimeout
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = []string{"stun:stun.l.google.com:19302"}
	}
	return &Client{
		cfg:    cfg,
		mapper: newMapper(),
		framer: newFramer(),
		events: make(chan transport.Event, 100),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		// Max Opus packet size is typically 1275 bytes
		opusBuffer: make([]byte, 1275),
	}
}

// Connect creates an ephemeral session and negotiates the peer connection.
// It returns once the data channel is open.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	select {
	case <-c.stop:
		c.mu.Unlock()
		return transport.ErrClosed
	default:
	}
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("%w: already used", transport.ErrClosed)
	}
	c.started = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		c.shutdown()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, transport.ErrClosed) {
			return fmt.Errorf("%w: %v", transport.ErrConnectTimeout, err)
		}
		return err
	}
	return nil
}

func (c *Client) connect(ctx context.Context) error {
	// Step 1: Create ephemeral transcription session
	slog.Info("creating OpenAI realtime transcription session")
	key, err := openSession(ctx, c.cfg.APIKey, c.cfg.BaseURL, c.cfg.Session)
	if err != nil {
		return fmt.Errorf("%w: create session: %v", transport.ErrConnectFailed, err)
	}
	slog.Info("session created", "expires", key.expires)

	// Step 2: Create peer connection
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return fmt.Errorf("%w: register codecs: %v", transport.ErrConnectFailed, err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: c.cfg.ICEServers}},
	})
	if err != nil {
		return fmt.Errorf("%w: create peer connection: %v", transport.ErrConnectFailed, err)
	}
	c.mu.Lock()
	c.peerConnection = pc
	c.mu.Unlock()

	// Step 3: Audio track setup. Opus RTP always advertises 48kHz stereo.
	audioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		"audio",
		"livecaption-audio",
	)
	if err != nil {
		return fmt.Errorf("%w: create audio track: %v", transport.ErrConnectFailed, err)
	}
	if _, err = pc.AddTrack(audioTrack); err != nil {
		return fmt.Errorf("%w: add audio track: %v", transport.ErrConnectFailed, err)
	}

	opusEnc, err := opuscodec.NewEncoder(SampleRate, 1, opuscodec.AppRestrictedLowdelay)
	if err != nil {
		return fmt.Errorf("%w: create opus encoder: %v", transport.ErrConnectFailed, err)
	}

	// Step 4: Data channel
	dc, err := pc.CreateDataChannel("oai-events", nil)
	if err != nil {
		return fmt.Errorf("%w: create data channel: %v", transport.ErrConnectFailed, err)
	}

	c.sendMu.Lock()
	c.audioTrack = audioTrack
	c.opusEncoder = opusEnc
	c.sendMu.Unlock()
	c.mu.Lock()
	c.dataChannel = dc
	c.mu.Unlock()

	opened := make(chan struct{})
	var openOnce sync.Once
	dc.OnOpen(func() {
		slog.Info("data channel opened")
		openOnce.Do(func() { close(opened) })
	})
	dc.OnClose(func() {
		slog.Info("data channel closed")
		c.shutdown()
	})
	dc.OnMessage(c.handleDataMessage)

	// Step 5: Remote track handler (ignore incoming audio)
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := track.Read(buf); err != nil {
					return
				}
			}
		}()
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if state == webrtc.ICEConnectionStateFailed {
			slog.Warn("ICE connection failed")
			c.deliver(transport.ErrorEvent{Message: "ICE connection " + state.String()})
			c.shutdown()
		}
	})

	// Step 6: SDP Exchange
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("%w: create offer: %v", transport.ErrConnectFailed, err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("%w: set local description: %v", transport.ErrConnectFailed, err)
	}

	select {
	case <-webrtc.GatheringCompletePromise(pc):
	case <-ctx.Done():
		return fmt.Errorf("%w: gather ICE candidates: %v", transport.ErrConnectFailed, ctx.Err())
	case <-c.stop:
		return transport.ErrClosed
	}

	answerSDP, err := exchangeSDP(ctx, c.cfg.BaseURL, pc.LocalDescription().SDP, key)
	if err != nil {
		return fmt.Errorf("%w: exchange SDP: %v", transport.ErrConnectFailed, err)
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	}); err != nil {
		return fmt.Errorf("%w: set remote description: %v", transport.ErrConnectFailed, err)
	}

	select {
	case <-opened:
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", transport.ErrConnectFailed, ctx.Err())
	case <-c.stop:
		return transport.ErrClosed
	}

	c.mu.Lock()
	c.open = true
	c.mu.Unlock()
	return nil
}

func (c *Client) handleDataMessage(msg webrtc.DataChannelMessage) {
	slog.Debug("on message", "data", string(msg.Data))
	if c.cfg.Tap != nil {
		c.cfg.Tap(time.Now(), msg.Data)
	}

	event, err := ParseServerEvent(msg.Data)
	if err != nil {
		slog.Warn("failed to parse event", "error", err)
		if c.cfg.Observer != nil {
			c.cfg.Observer.Malformed()
		}
		return
	}

	// Data channel callbacks are serialized, so the mapper needs no lock.
	ev, ok := c.mapper.Map(event)
	if !ok {
		return
	}
	if c.cfg.Observer != nil {
		c.cfg.Observer.EventReceived(ev.Type())
	}
	c.deliver(ev)
}

func (c *Client) deliver(ev transport.Event) {
	c.evMu.RLock()
	defer c.evMu.RUnlock()
	if c.evClosed {
		return
	}
	select {
	case c.events <- ev:
	case <-c.stop:
	}
}

// Send encodes chunk into 20ms opus frames and writes them to the track.
// Samples that do not fill a frame wait for the next chunk.
func (c *Client) Send(chunk audiocapture.Chunk) {
	c.mu.Lock()
	open := c.open
	c.mu.Unlock()
	if !open {
		return
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	err := c.framer.push(chunk.Samples, func(frame []float32) error {
		n, err := c.opusEncoder.EncodeFloat32(frame, c.opusBuffer)
		if err != nil {
			return fmt.Errorf("opus encode: %w", err)
		}
		// WriteSample copies the data internally
		return c.audioTrack.WriteSample(media.Sample{
			Data:     c.opusBuffer[:n],
			Duration: frameDuration,
		})
	})
	if err != nil {
		slog.Warn("send audio chunk", "index", chunk.Index, "error", err)
		return
	}
	if c.cfg.Observer != nil {
		c.cfg.Observer.ChunkSent(2 * len(chunk.Samples))
	}
}

// Disconnect commits the input buffer so the server transcribes what it
// has, then closes after the grace period.
func (c *Client) Disconnect() {
	c.mu.Lock()
	wasOpen := c.open
	c.open = false
	dc := c.dataChannel
	c.mu.Unlock()

	if !wasOpen || dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		c.shutdown()
		return
	}

	data, _ := json.Marshal(map[string]string{"type": EventBufferCommit})
	if err := dc.SendText(string(data)); err != nil {
		slog.Warn("send commit", "error", err)
		c.shutdown()
		return
	}

	go func() {
		select {
		case <-time.After(c.cfg.Grace):
		case <-c.stop:
		}
		c.shutdown()
	}()
}

// Events returns the channel for receiving caption events.
func (c *Client) Events() <-chan transport.Event { return c.events }

// Done is closed after the peer connection has been closed.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) shutdown() {
	c.stopOnce.Do(func() {
		close(c.stop)

		c.mu.Lock()
		c.open = false
		pc := c.peerConnection
		c.mu.Unlock()

		go func() {
			if pc != nil {
				if err := pc.Close(); err != nil {
					slog.Warn("close peer connection", "error", err)
				}
			}
			c.evMu.Lock()
			c.evClosed = true
			close(c.events)
			c.evMu.Unlock()
			close(c.done)
		}()
	})
}
