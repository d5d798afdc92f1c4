// Package config handles application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

const (
	appName        = "livecaption"
	configFileName = "config.yaml"
	storeDirName   = "settings"
)

// Backend providers.
const (
	ProviderWebSocket = "websocket"
	ProviderRealtime  = "realtime"
)

// Reveal modes.
const (
	RevealTypewriter = "typewriter"
	RevealHighlight  = "highlight"
)

// Delay bounds accepted from the control surface.
const (
	MinDelay = 0
	MaxDelay = 30 * time.Second

	MinChunkDuration = 20 * time.Millisecond
	MaxChunkDuration = 5 * time.Second
)

// Config represents the application configuration.
type Config struct {
	// ClientID identifies this installation to the backend.
	ClientID string `yaml:"client_id"`

	Backend struct {
		Provider     string        `yaml:"provider"` // "websocket" or "realtime"
		URL          string        `yaml:"url"`
		AudioProfile string        `yaml:"audio_profile"` // "base64" or "binary"
		APIKey       string        `yaml:"api_key,omitempty"`
		Model        string        `yaml:"model,omitempty"`
		Grace        time.Duration `yaml:"grace"`
	} `yaml:"backend"`

	Audio struct {
		ChunkDuration time.Duration `yaml:"chunk_duration"`
		OutputRate    int           `yaml:"output_rate"`
	} `yaml:"audio"`

	Captions struct {
		Delay          time.Duration `yaml:"delay"`
		Reveal         string        `yaml:"reveal"`
		SourceLanguage string        `yaml:"source_language"`
		TargetLanguage string        `yaml:"target_language"`
	} `yaml:"captions"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // "text" or "json"
	} `yaml:"log"`

	Metrics struct {
		Addr string `yaml:"addr,omitempty"`
	} `yaml:"metrics"`

	// DataDir holds the settings store. Empty keeps settings in memory.
	DataDir string `yaml:"data_dir,omitempty"`

	filePath string
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.ClientID == "" {
		c.ClientID = uuid.NewString()
	}
	if c.Backend.Provider == "" {
		c.Backend.Provider = ProviderWebSocket
	}
	if c.Backend.URL == "" {
		c.Backend.URL = "ws://localhost:8080/stream"
	}
	if c.Backend.AudioProfile == "" {
		c.Backend.AudioProfile = "base64"
	}
	if c.Backend.Model == "" {
		c.Backend.Model = "gpt-4o-transcribe"
	}
	if c.Backend.Grace == 0 {
		c.Backend.Grace = 500 * time.Millisecond
	}
	if c.Audio.ChunkDuration == 0 {
		c.Audio.ChunkDuration = 320 * time.Millisecond
	}
	if c.Audio.OutputRate == 0 {
		c.Audio.OutputRate = 16000
	}
	if c.Captions.Delay == 0 {
		c.Captions.Delay = 5 * time.Second
	}
	if c.Captions.Reveal == "" {
		c.Captions.Reveal = RevealTypewriter
	}
	if c.Captions.SourceLanguage == "" {
		c.Captions.SourceLanguage = "en"
	}
	if c.Captions.TargetLanguage == "" {
		c.Captions.TargetLanguage = "ko"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Load reads the configuration file at path. An empty path means the
// default location. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("get config path: %w", err)
		}
		path = p
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.filePath = path
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save persists the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.filePath == "" {
		p, err := DefaultPath()
		if err != nil {
			return fmt.Errorf("get config path: %w", err)
		}
		c.filePath = p
	}

	if err := os.MkdirAll(filepath.Dir(c.filePath), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(c.filePath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Path returns the file the configuration is saved to.
func (c *Config) Path() string { return c.filePath }

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Backend.Provider {
	case ProviderWebSocket:
		if c.Backend.URL == "" {
			return fmt.Errorf("backend url required")
		}
	case ProviderRealtime:
		if c.Backend.APIKey == "" && os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("api key required for realtime provider")
		}
	default:
		return fmt.Errorf("unknown provider: %s", c.Backend.Provider)
	}

	switch c.Backend.AudioProfile {
	case "base64", "binary":
	default:
		return fmt.Errorf("unknown audio profile: %s", c.Backend.AudioProfile)
	}

	switch c.Captions.Reveal {
	case RevealTypewriter, RevealHighlight:
	default:
		return fmt.Errorf("unknown reveal mode: %s", c.Captions.Reveal)
	}

	if err := ValidateDelay(c.Captions.Delay); err != nil {
		return err
	}
	if err := ValidateChunkDuration(c.Audio.ChunkDuration); err != nil {
		return err
	}

	for name, tag := range map[string]string{
		"source": c.Captions.SourceLanguage,
		"target": c.Captions.TargetLanguage,
	} {
		if _, err := ParseLanguage(tag); err != nil {
			return fmt.Errorf("%s language: %w", name, err)
		}
	}
	return nil
}

// ValidateDelay checks a delay budget.
func ValidateDelay(d time.Duration) error {
	if d < MinDelay || d > MaxDelay {
		return fmt.Errorf("delay %v out of range [%v, %v]", d, time.Duration(MinDelay), MaxDelay)
	}
	return nil
}

// ValidateChunkDuration checks a chunk duration.
func ValidateChunkDuration(d time.Duration) error {
	if d < MinChunkDuration || d > MaxChunkDuration {
		return fmt.Errorf("chunk duration %v out of range [%v, %v]", d, MinChunkDuration, MaxChunkDuration)
	}
	return nil
}

// ParseLanguage parses a BCP 47 tag, returning its canonical form.
func ParseLanguage(tag string) (string, error) {
	t, err := language.Parse(tag)
	if err != nil {
		return "", fmt.Errorf("invalid language tag %q: %w", tag, err)
	}
	return t.String(), nil
}

// StoreDir returns the settings store directory, or "" for an in-memory
// store.
func (c *Config) StoreDir() string {
	if c.DataDir == "" {
		return ""
	}
	return filepath.Join(c.DataDir, storeDirName)
}

// DefaultPath returns the default configuration file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appName, configFileName), nil
}

// Apply overlays the non-zero persisted settings.
func (c *Config) Apply(s Settings) {
	if s.Delay != nil {
		c.Captions.Delay = *s.Delay
	}
	if s.ChunkDuration != nil {
		c.Audio.ChunkDuration = *s.ChunkDuration
	}
	if s.SourceLanguage != "" {
		c.Captions.SourceLanguage = s.SourceLanguage
	}
	if s.TargetLanguage != "" {
		c.Captions.TargetLanguage = s.TargetLanguage
	}
	if s.Provider != "" {
		c.Backend.Provider = s.Provider
	}
}
