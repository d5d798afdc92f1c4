// Package types provides shared type definitions for the application.
package types

// Status represents the state of live captioning.
type Status struct {
	Active          bool   `json:"active"`
	SessionID       string `json:"sessionId,omitempty"`
	Duration        int64  `json:"duration"` // Running duration in seconds
	DelayMs         int64  `json:"delayMs"`
	ChunkDurationMs int64  `json:"chunkDurationMs"`
	SourceLang      string `json:"sourceLang"`
	TargetLang      string `json:"targetLang"`
	Provider        string `json:"provider"`
	DetectedLang    string `json:"detectedLang"`    // "auto" until enough speech was heard
	TranscriptCount int    `json:"transcriptCount"` // Number of confirmed transcript lines
}

// Transcript is one confirmed transcript line.
type Transcript struct {
	SessionID string `json:"sessionId"`
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // Unix timestamp in milliseconds
}
