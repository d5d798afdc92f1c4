package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jedib0t/go-pretty/v6/text"

	"go.aimuz.me/livecaption/caption"
)

var (
	speakerColors     = text.Colors{text.Bold, text.FgHiCyan}
	liveColors        = text.Colors{text.Faint}
	addedColors       = text.Colors{text.Bold, text.FgHiYellow}
	translationColors = text.Colors{text.FgHiGreen}
	errorColors       = text.Colors{text.Bold, text.FgRed}
)

// termSurface prints a line whenever a speaker's caption changes.
type termSurface struct {
	mu   sync.Mutex
	w    io.Writer
	last map[string]string
}

func newTermSurface(w io.Writer) *termSurface {
	return &termSurface{w: w, last: make(map[string]string)}
}

func (s *termSurface) Show(p caption.Presentation) {
	line := formatPresentation(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last[p.Speaker] == line {
		return
	}
	s.last[p.Speaker] = line
	fmt.Fprintln(s.w, line)
}

func (s *termSurface) Hide(speaker string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.last, speaker)
}

func (s *termSurface) SetOverlayVisible(bool) {}

func (s *termSurface) ShowError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, errorColors.Sprint("! "+message))
}

func formatPresentation(p caption.Presentation) string {
	var b strings.Builder
	b.WriteString(speakerColors.Sprint(p.Speaker))
	b.WriteString(" ")
	writeTrack(&b, p.Transcript)
	if p.Translation.Primary != "" {
		b.WriteString(" | ")
		b.WriteString(translationColors.Sprint(p.Translation.Primary))
	}
	return b.String()
}

func writeTrack(b *strings.Builder, t caption.Track) {
	if len(t.Words) > 0 {
		for i, w := range t.Words {
			if i > 0 {
				b.WriteString(" ")
			}
			if w.Added {
				b.WriteString(addedColors.Sprint(w.Text))
			} else {
				b.WriteString(w.Text)
			}
		}
	} else {
		b.WriteString(t.Confirmed)
	}

	if t.Live != "" {
		if t.Confirmed != "" || len(t.Words) > 0 {
			b.WriteString(" ")
		}
		b.WriteString(liveColors.Sprint(t.Live))
	}
}
