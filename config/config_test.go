package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Captions.Delay != 5*time.Second || cfg.Audio.ChunkDuration != 320*time.Millisecond {
		t.Errorf("defaults = delay %v, chunk %v", cfg.Captions.Delay, cfg.Audio.ChunkDuration)
	}
	if cfg.ClientID == "" {
		t.Error("client id not generated")
	}
	if cfg.Path() != path {
		t.Errorf("Path() = %q, want %q", cfg.Path(), path)
	}
}

func TestLoad_ParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
client_id: abc
backend:
  provider: websocket
  url: wss://captions.example.com/stream
  audio_profile: binary
audio:
  chunk_duration: 250ms
captions:
  delay: 3s
  reveal: highlight
  source_language: ja
  target_language: pt-BR
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got := []any{
		cfg.ClientID, cfg.Backend.URL, cfg.Backend.AudioProfile,
		cfg.Audio.ChunkDuration, cfg.Captions.Delay, cfg.Captions.Reveal,
		cfg.Captions.SourceLanguage, cfg.Captions.TargetLanguage, cfg.Log.Level,
		cfg.Backend.Grace, cfg.Log.Format,
	}
	want := []any{
		"abc", "wss://captions.example.com/stream", "binary",
		250 * time.Millisecond, 3 * time.Second, RevealHighlight,
		"ja", "pt-BR", "debug",
		500 * time.Millisecond, "text",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad provider", "backend:\n  provider: carrier-pigeon\n", "unknown provider"},
		{"bad profile", "backend:\n  audio_profile: opus\n", "unknown audio profile"},
		{"bad reveal", "captions:\n  reveal: fade\n", "unknown reveal mode"},
		{"bad language", "captions:\n  target_language: not a tag\n", "target language"},
		{"delay too long", "captions:\n  delay: 1m\n", "delay"},
		{"chunk too short", "audio:\n  chunk_duration: 1ms\n", "chunk duration"},
		{"not yaml", "backend: [\n", "parse config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Captions.Delay = 1500 * time.Millisecond
	cfg.Captions.TargetLanguage = "de"
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if again.Captions.Delay != cfg.Captions.Delay || again.Captions.TargetLanguage != "de" || again.ClientID != cfg.ClientID {
		t.Errorf("reloaded = %+v", again.Captions)
	}
}

func TestParseLanguage(t *testing.T) {
	got, err := ParseLanguage("zh-hant-tw")
	if err != nil || got != "zh-Hant-TW" {
		t.Errorf("ParseLanguage() = %q, %v", got, err)
	}
	if _, err := ParseLanguage("!!"); err == nil {
		t.Error("ParseLanguage(!!) succeeded")
	}
}

func TestApply(t *testing.T) {
	cfg := Default()
	zero := time.Duration(0)
	cfg.Apply(Settings{Delay: &zero, TargetLanguage: "fr"})

	if cfg.Captions.Delay != 0 || cfg.Captions.TargetLanguage != "fr" {
		t.Errorf("after Apply: delay %v, target %q", cfg.Captions.Delay, cfg.Captions.TargetLanguage)
	}
	if cfg.Audio.ChunkDuration != 320*time.Millisecond {
		t.Error("unset setting overwrote config")
	}
}
