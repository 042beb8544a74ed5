// Package caption defines the live captioning capability: a streaming
// recognizer that turns captured audio into partial text while the user is
// still speaking.
package caption

import (
	"context"
	"strings"
	"sync"
)

// Event is one recognition result. Final holds segments the recognizer has
// committed since the previous event; Interim is the current uncommitted
// guess and replaces any earlier interim text.
type Event struct {
	Final   []string
	Interim string
}

// Captioner defines the interface for live caption providers.
type Captioner interface {
	// Start begins recognition. The returned channel is closed once the
	// recognizer has delivered its last event after Stop.
	Start(ctx context.Context) (<-chan Event, error)

	// SendAudio forwards one captured chunk to the recognizer.
	SendAudio(ctx context.Context, audio []byte) error

	// Stop halts recognition. Text already delivered is kept.
	Stop() error
}

// Factory creates a captioner for one recording session.
type Factory func(ctx context.Context) (Captioner, error)

// Transcript accumulates caption events into display text.
type Transcript struct {
	mu      sync.Mutex
	finals  strings.Builder
	interim string
}

// Apply folds an event into the transcript and returns the new text.
func (t *Transcript) Apply(ev Event) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, f := range ev.Final {
		t.finals.WriteString(f)
	}
	t.interim = ev.Interim
	return t.finals.String() + t.interim
}

// Text returns all final segments in arrival order followed by the current
// interim segment.
func (t *Transcript) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finals.String() + t.interim
}

func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finals.Reset()
	t.interim = ""
}
