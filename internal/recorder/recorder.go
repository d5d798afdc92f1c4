// Package recorder captures the raw payloads a transport receives and plays
// them back through the caption pipeline.
package recorder

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Version is the recording format version.
const Version = 1

// Entry is one inbound payload.
type Entry struct {
	Offset  time.Duration `cbor:"1,keyasint"` // since the recording started
	Payload []byte        `cbor:"2,keyasint"`
}

// Recording is a session's inbound traffic.
type Recording struct {
	Version  int     `cbor:"1,keyasint"`
	Provider string  `cbor:"2,keyasint,omitempty"` // decides how payloads are decoded
	Started  int64   `cbor:"3,keyasint"`           // Unix milliseconds
	Entries  []Entry `cbor:"4,keyasint"`
}

// Duration returns the offset of the last entry.
func (r *Recording) Duration() time.Duration {
	if len(r.Entries) == 0 {
		return 0
	}
	return r.Entries[len(r.Entries)-1].Offset
}

// Recorder accumulates payloads in memory. Tap is safe for concurrent use.
type Recorder struct {
	start time.Time

	mu  sync.Mutex
	rec Recording
}

// New creates a recorder whose offsets are measured from start.
func New(provider string, start time.Time) *Recorder {
	return &Recorder{
		start: start,
		rec: Recording{
			Version:  Version,
			Provider: provider,
			Started:  start.UnixMilli(),
		},
	}
}

// Tap records payload. It has the shape of transport.Tap.
func (r *Recorder) Tap(at time.Time, payload []byte) {
	e := Entry{
		Offset:  max(at.Sub(r.start), 0),
		Payload: append([]byte(nil), payload...),
	}
	r.mu.Lock()
	r.rec.Entries = append(r.rec.Entries, e)
	r.mu.Unlock()
}

// Len returns the number of recorded payloads.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rec.Entries)
}

// WriteFile stores the recording at path.
func (r *Recorder) WriteFile(path string) error {
	r.mu.Lock()
	b, err := cbor.Marshal(r.rec)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal recording: %w", err)
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return fmt.Errorf("write recording: %w", err)
	}
	return nil
}

// ReadFile loads a recording written by WriteFile.
func ReadFile(path string) (*Recording, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recording: %w", err)
	}
	var rec Recording
	if err := cbor.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("parse recording: %w", err)
	}
	if rec.Version != Version {
		return nil, fmt.Errorf("unsupported recording version %d", rec.Version)
	}
	return &rec, nil
}
