// Package mock provides a scripted captioner for running without cloud
// credentials. Each captioner plays one utterance: progressive interim text as
// audio arrives, then exactly one final segment.
package mock

import (
	"context"
	"errors"
	"sync"

	"lifeops-voice-agent/internal/observability/logging"
	"lifeops-voice-agent/internal/observability/metrics"
	"lifeops-voice-agent/internal/service/caption"
)

var ErrAlreadyStarted = errors.New("mock captioner already started")

const eventBuffer = 64

// Utterance is a scripted recognition: interim guesses then the final text.
type Utterance struct {
	Partials []string
	Final    string
}

// DefaultUtterances are cycled through by New.
var DefaultUtterances = []Utterance{
	{
		Partials: []string{"I moved here", "I moved here three months ago", "I moved here three months ago and just started"},
		Final:    "I moved here three months ago and just started working a new job in California.",
	},
	{
		Partials: []string{"I need", "I need to get", "I need to get a state ID"},
		Final:    "I need to get a state ID and check my social security number.",
	},
	{
		Partials: []string{"What forms", "What forms do I", "What forms do I need"},
		Final:    "What forms do I need for my new job?",
	},
}

// Captioner implements caption.Captioner with scripted results.
type Captioner struct {
	mu               sync.Mutex
	utterance        Utterance
	framesPerPartial int
	framesReceived   int
	partialIndex     int
	finalSent        bool
	started          bool
	stopped          bool
	events           chan caption.Event
}

var (
	utteranceCounter int
	counterMu        sync.Mutex
)

// New creates a captioner playing the next default utterance.
func New() *Captioner {
	counterMu.Lock()
	idx := utteranceCounter % len(DefaultUtterances)
	utteranceCounter++
	counterMu.Unlock()

	return NewWithUtterance(DefaultUtterances[idx], 5)
}

// NewWithUtterance creates a captioner that advances one interim guess every
// framesPerPartial audio chunks.
func NewWithUtterance(u Utterance, framesPerPartial int) *Captioner {
	if framesPerPartial < 1 {
		framesPerPartial = 1
	}
	return &Captioner{utterance: u, framesPerPartial: framesPerPartial}
}

// Factory returns a caption.Factory producing default mock captioners.
func Factory() caption.Factory {
	return func(ctx context.Context) (caption.Captioner, error) {
		return New(), nil
	}
}

func (c *Captioner) Start(ctx context.Context) (<-chan caption.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil, ErrAlreadyStarted
	}
	c.started = true
	c.events = make(chan caption.Event, eventBuffer)
	return c.events, nil
}

// SendAudio advances the script. Once every partial has been shown the final
// segment is emitted, mimicking end-of-speech detection.
func (c *Captioner) SendAudio(ctx context.Context, audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started || c.stopped {
		return nil
	}

	c.framesReceived++
	if c.framesReceived%c.framesPerPartial != 0 {
		return nil
	}

	if c.partialIndex < len(c.utterance.Partials) {
		partial := c.utterance.Partials[c.partialIndex]
		c.partialIndex++
		c.emit(caption.Event{Interim: partial}, "interim")
	} else if !c.finalSent {
		c.finalSent = true
		c.emit(caption.Event{Final: []string{c.utterance.Final}}, "final")
	}
	return nil
}

// Stop ends the script. If speech ended before the final segment was
// reached, the final is delivered now.
func (c *Captioner) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil
	}
	c.stopped = true

	if !c.started {
		return nil
	}
	if !c.finalSent {
		c.finalSent = true
		c.emit(caption.Event{Final: []string{c.utterance.Final}}, "final")
	}
	close(c.events)
	return nil
}

// emit must be called with c.mu held.
func (c *Captioner) emit(ev caption.Event, kind string) {
	select {
	case c.events <- ev:
		metrics.DefaultMetrics.RecordCaptionEvent(kind)
	default:
		logger := logging.WithComponent("caption-mock")
		logger.Debug().Str("kind", kind).Msg("Caption event dropped, consumer is behind")
	}
}
