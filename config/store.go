package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
)

var settingsKey = []byte("settings/v1")

// Settings are the runtime overrides changed through the control surface.
// Nil or empty fields are unset.
type Settings struct {
	Delay          *time.Duration `cbor:"1,keyasint,omitempty"`
	ChunkDuration  *time.Duration `cbor:"2,keyasint,omitempty"`
	SourceLanguage string         `cbor:"3,keyasint,omitempty"`
	TargetLanguage string         `cbor:"4,keyasint,omitempty"`
	Provider       string         `cbor:"5,keyasint,omitempty"`
}

// Store persists Settings.
type Store interface {
	Load() (Settings, error)
	Save(s Settings) error
	Close() error
}

// BadgerStore keeps settings in a badger database.
type BadgerStore struct {
	db *badger.DB
}

// OpenStore opens the store in dir. An empty dir keeps everything in memory.
func OpenStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open settings store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Load returns the stored settings, or zero Settings when none were saved.
func (s *BadgerStore) Load() (Settings, error) {
	var out Settings
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(settingsKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return cbor.Unmarshal(val, &out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return out, nil
}

// Save replaces the stored settings.
func (s *BadgerStore) Save(settings Settings) error {
	data, err := cbor.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(settingsKey, data)
	}); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *BadgerStore) Close() error { return s.db.Close() }

// badgerLogger routes badger's logging to slog. Info and debug output is
// noisy and demoted to debug.
type badgerLogger struct{}

func msg(format string, args ...any) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}

func (badgerLogger) Errorf(format string, args ...any)   { slog.Error("badger: " + msg(format, args...)) }
func (badgerLogger) Warningf(format string, args ...any) { slog.Warn("badger: " + msg(format, args...)) }
func (badgerLogger) Infof(format string, args ...any)    { slog.Debug("badger: " + msg(format, args...)) }
func (badgerLogger) Debugf(format string, args ...any)   { slog.Debug("badger: " + msg(format, args...)) }
