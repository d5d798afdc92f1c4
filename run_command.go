package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"go.aimuz.me/livecaption/audiocapture"
	"go.aimuz.me/livecaption/config"
	"go.aimuz.me/livecaption/internal/app"
	"go.aimuz.me/livecaption/internal/langdetect"
	"go.aimuz.me/livecaption/internal/loop"
	"go.aimuz.me/livecaption/internal/metrics"
	"go.aimuz.me/livecaption/internal/recorder"
	"go.aimuz.me/livecaption/internal/types"
	"go.aimuz.me/livecaption/transport"
	"go.aimuz.me/livecaption/transport/realtime"
	"go.aimuz.me/livecaption/videodelay"
)

type runOptions struct {
	audioPath     string
	paced         bool
	recordPath    string
	metricsAddr   string
	delay         time.Duration
	chunkDuration time.Duration
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run --audio FILE",
		Short: "Caption an audio file through the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return runCapture(cmd.Context(), cmd.OutOrStdout(), cfg, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.audioPath, "audio", "a", "", "WAV file to caption")
	cmd.Flags().BoolVar(&opts.paced, "paced", true, "Stream the file in real time")
	cmd.Flags().StringVar(&opts.recordPath, "record", "", "Write inbound backend traffic to this file")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().DurationVar(&opts.delay, "delay", 0, "Delay budget; saved for later sessions")
	cmd.Flags().DurationVar(&opts.chunkDuration, "chunk-duration", 0, "Audio chunk duration; saved for later sessions")
	_ = cmd.MarkFlagRequired("audio")
	return cmd
}

func runCapture(parent context.Context, out io.Writer, cfg *config.Config, opts runOptions) error {
	sigCtx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	addr := opts.metricsAddr
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		srv := serveMetrics(addr, m)
		defer srv.Close()
	}

	store, err := config.OpenStore(cfg.StoreDir())
	if err != nil {
		return err
	}

	lp := loop.New(0)
	go func() { _ = lp.Run(context.Background()) }()
	defer lp.Close()

	var rec *recorder.Recorder
	var tap transport.Tap
	if opts.recordPath != "" {
		rec = recorder.New(cfg.Backend.Provider, time.Now())
		tap = rec.Tap
	}

	video := videodelay.NewDelayer(lp, func() (videodelay.Device, error) {
		return videodelay.NewSoftDevice(), nil
	}, videodelay.Config{Observer: m})

	ctrl, err := app.New(cfg, app.Deps{
		Exec:    lp,
		Surface: newTermSurface(out),
		NewTransport: func(c *config.Config) (transport.Transport, error) {
			return newTransport(c, m, tap)
		},
		NewSource: func(*config.Config) (audiocapture.Source, error) {
			return audiocapture.NewFileSource(opts.audioPath, audiocapture.DefaultInputRate, opts.paced), nil
		},
		Store:    store,
		Video:    video,
		Detector: langdetect.New(),
		Observer: m,
		OnTranscript: func(t types.Transcript) {
			slog.Debug("transcript", "speaker", t.Speaker, "text", t.Text)
		},
	})
	if err != nil {
		_ = store.Close()
		return err
	}
	defer func() {
		if err := ctrl.Close(); err != nil {
			slog.Warn("close settings store", "error", err)
		}
	}()

	if opts.delay > 0 {
		if err := ctrl.SetDelay(opts.delay); err != nil {
			return err
		}
	}
	if opts.chunkDuration > 0 {
		if err := ctrl.SetChunkDuration(opts.chunkDuration); err != nil {
			return err
		}
	}

	if err := ctrl.StartCapture(sigCtx); err != nil {
		return err
	}
	done := ctrl.Done()

	select {
	case <-done:
	case <-sigCtx.Done():
		ctrl.StopCapture()
		<-done
	}

	st := ctrl.Status()
	fmt.Fprintln(out, renderKeyValues([][2]string{
		{"Provider", st.Provider},
		{"Delay", (time.Duration(st.DelayMs) * time.Millisecond).String()},
		{"Chunk duration", (time.Duration(st.ChunkDurationMs) * time.Millisecond).String()},
		{"Transcript lines", strconv.Itoa(st.TranscriptCount)},
		{"Detected language", st.DetectedLang},
	}))

	if rec != nil {
		if err := rec.WriteFile(opts.recordPath); err != nil {
			return err
		}
		slog.Info("recording saved", "path", opts.recordPath, "entries", rec.Len())
	}
	return nil
}

// newTransport builds the transport for the configured provider.
func newTransport(cfg *config.Config, m *metrics.Metrics, tap transport.Tap) (transport.Transport, error) {
	switch cfg.Backend.Provider {
	case config.ProviderRealtime:
		key := cfg.Backend.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		return realtime.NewClient(realtime.Config{
			APIKey: key,
			Session: realtime.SessionConfig{
				Model:          cfg.Backend.Model,
				SourceLanguage: cfg.Captions.SourceLanguage,
			},
			Grace:    cfg.Backend.Grace,
			Observer: m,
			Tap:      tap,
		}), nil

	case config.ProviderWebSocket:
		header := http.Header{}
		header.Set("X-Client-ID", cfg.ClientID)
		return transport.NewWS(cfg.Backend.URL,
			transport.WithProfile(transport.AudioProfile(cfg.Backend.AudioProfile)),
			transport.WithGrace(cfg.Backend.Grace),
			transport.WithObserver(m),
			transport.WithHeader(header),
			transport.WithTap(tap),
		), nil
	}
	return nil, fmt.Errorf("unknown provider: %s", cfg.Backend.Provider)
}

func serveMetrics(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server", "error", err)
		}
	}()
	slog.Info("serving metrics", "addr", addr)
	return srv
}
