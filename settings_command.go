package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"go.aimuz.me/livecaption/config"
)

func newSettingsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return showSettings(cmd.OutOrStdout(), cfg)
		},
	}
	cmd.AddCommand(newSettingsSetCommand(ctx))
	return cmd
}

func showSettings(out io.Writer, cfg *config.Config) error {
	store, err := config.OpenStore(cfg.StoreDir())
	if err != nil {
		return err
	}
	defer store.Close()

	saved, err := store.Load()
	if err != nil {
		return err
	}
	eff := *cfg
	eff.Apply(saved)

	storeDir := eff.StoreDir()
	if storeDir == "" {
		storeDir = "(in memory)"
	}
	fmt.Fprintln(out, renderKeyValues([][2]string{
		{"Config file", eff.Path()},
		{"Settings store", storeDir},
		{"Client ID", eff.ClientID},
		{"Provider", eff.Backend.Provider},
		{"Backend URL", eff.Backend.URL},
		{"Audio profile", eff.Backend.AudioProfile},
		{"Delay", eff.Captions.Delay.String()},
		{"Chunk duration", eff.Audio.ChunkDuration.String()},
		{"Source language", eff.Captions.SourceLanguage},
		{"Target language", eff.Captions.TargetLanguage},
		{"Reveal", eff.Captions.Reveal},
	}))
	return nil
}

type settingsFlags struct {
	delay         time.Duration
	chunkDuration time.Duration
	source        string
	target        string
	provider      string
}

func newSettingsSetCommand(ctx *commandContext) *cobra.Command {
	var f settingsFlags

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Persist runtime settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			changed := cmd.Flags().Changed
			return saveSettings(cfg, f, changed)
		},
	}

	cmd.Flags().DurationVar(&f.delay, "delay", 0, "Delay budget")
	cmd.Flags().DurationVar(&f.chunkDuration, "chunk-duration", 0, "Audio chunk duration")
	cmd.Flags().StringVar(&f.source, "source", "", "Source language (BCP 47)")
	cmd.Flags().StringVar(&f.target, "target", "", "Target language (BCP 47)")
	cmd.Flags().StringVar(&f.provider, "provider", "", "Backend provider (websocket, realtime)")
	return cmd
}

func saveSettings(cfg *config.Config, f settingsFlags, changed func(string) bool) error {
	if cfg.StoreDir() == "" {
		slog.Warn("data_dir is not configured; settings will not outlive this command")
	}

	store, err := config.OpenStore(cfg.StoreDir())
	if err != nil {
		return err
	}
	defer store.Close()

	s, err := store.Load()
	if err != nil {
		return err
	}

	if changed("delay") {
		if err := config.ValidateDelay(f.delay); err != nil {
			return err
		}
		s.Delay = &f.delay
	}
	if changed("chunk-duration") {
		if err := config.ValidateChunkDuration(f.chunkDuration); err != nil {
			return err
		}
		s.ChunkDuration = &f.chunkDuration
	}
	if changed("source") {
		tag, err := config.ParseLanguage(f.source)
		if err != nil {
			return err
		}
		s.SourceLanguage = tag
	}
	if changed("target") {
		tag, err := config.ParseLanguage(f.target)
		if err != nil {
			return err
		}
		s.TargetLanguage = tag
	}
	if changed("provider") {
		s.Provider = f.provider
	}

	check := *cfg
	check.Apply(s)
	if err := check.Validate(); err != nil {
		return err
	}
	return store.Save(s)
}
