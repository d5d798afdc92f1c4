package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"go.aimuz.me/livecaption/caption"
	"go.aimuz.me/livecaption/config"
	"go.aimuz.me/livecaption/internal/app"
	"go.aimuz.me/livecaption/internal/loop"
	"go.aimuz.me/livecaption/internal/metrics"
	"go.aimuz.me/livecaption/internal/recorder"
	"go.aimuz.me/livecaption/internal/session"
	"go.aimuz.me/livecaption/transport/realtime"
)

func newReplayCommand(ctx *commandContext) *cobra.Command {
	var (
		speed float64
		delay time.Duration
	)

	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Play a recorded session through the caption pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if delay == 0 {
				delay = cfg.Captions.Delay
			}
			return replay(cmd.Context(), cmd.OutOrStdout(), args[0], speed, delay, cfg)
		},
	}

	cmd.Flags().Float64Var(&speed, "speed", 1, "Playback speed; 0 delivers everything at once")
	cmd.Flags().DurationVar(&delay, "delay", 0, "Delay budget (default from config)")
	return cmd
}

func replay(parent context.Context, out io.Writer, path string, speed float64, delay time.Duration, cfg *config.Config) error {
	if err := config.ValidateDelay(delay); err != nil {
		return err
	}
	rec, err := recorder.ReadFile(path)
	if err != nil {
		return err
	}

	decode := recorder.ParseEvent
	if rec.Provider == config.ProviderRealtime {
		decode = realtime.NewDecoder().Decode
	}

	sigCtx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lp := loop.New(0)
	go func() { _ = lp.Run(context.Background()) }()
	defer lp.Close()

	m := metrics.New()
	p := recorder.NewPlayer(rec,
		recorder.WithDecoder(decode),
		recorder.WithSpeed(speed),
		recorder.WithObserver(m))

	s, err := session.New(lp, p, p.Source(), newTermSurface(out), nil, session.Config{
		Delay:    delay,
		Renderer: caption.RendererConfig{Mode: app.RevealMode(cfg.Captions.Reveal)},
		Observer: m,
	})
	if err != nil {
		return err
	}

	slog.Info("replaying", "path", path, "entries", len(rec.Entries), "duration", rec.Duration(), "speed", speed)
	if err := s.Start(sigCtx); err != nil {
		return err
	}

	select {
	case <-s.Done():
	case <-sigCtx.Done():
		s.Stop()
		<-s.Done()
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	return nil
}
