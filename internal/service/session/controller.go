// Package session implements the voice session controller: it owns the
// capture device, the live captioner and the pipeline for one user, and keeps
// the session status machine consistent across them.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lifeops-voice-agent/internal/activity"
	"lifeops-voice-agent/internal/models"
	"lifeops-voice-agent/internal/observability/logging"
	"lifeops-voice-agent/internal/observability/metrics"
	"lifeops-voice-agent/internal/service/caption"
	"lifeops-voice-agent/internal/service/capture"
	"lifeops-voice-agent/internal/service/pipeline"
	"lifeops-voice-agent/internal/service/state"
)

var ErrClosed = errors.New("session controller closed")

// captionDrainTimeout bounds how long Stop waits for a captioner to deliver
// its last events.
const captionDrainTimeout = 2 * time.Second

// Alerter shows a blocking notification to the user.
type Alerter interface {
	Alert(message string)
}

type AlertFunc func(message string)

func (f AlertFunc) Alert(message string) { f(message) }

type Options struct {
	Device  capture.Device
	Limits  capture.Limits
	Runner  *pipeline.Runner
	Store   *state.Store
	Log     *activity.Log
	Alerter Alerter
	IDs     *Generator
	// Captioner creates a live captioner per session. Nil disables live
	// captions.
	Captioner caption.Factory
}

// Controller drives the voice session. Lifecycle calls are serialized.
type Controller struct {
	mu        sync.Mutex
	opts      Options
	lifecycle *Lifecycle
	metrics   *metrics.Metrics
	closed    bool

	// handles of the current recording, nil when not listening
	capture   *capture.Manager
	captioner caption.Captioner
	feed      *captionFeed
	startedAt time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	pipelines sync.WaitGroup
}

func NewController(opts Options) *Controller {
	if opts.IDs == nil {
		opts.IDs = NewGenerator()
	}
	if opts.Limits == (capture.Limits{}) {
		opts.Limits = capture.DefaultLimits()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		opts:      opts,
		lifecycle: NewLifecycle(),
		metrics:   metrics.DefaultMetrics,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Announce writes the greeting entries shown before the first recording.
func (c *Controller) Announce() {
	c.opts.Log.Append("Your assistant is ready securely.", models.LogSystem)
	c.opts.Log.Append("Waiting for you to speak...", models.LogSystem)
}

func (c *Controller) Status() models.Status {
	return c.lifecycle.Status()
}

func (c *Controller) Snapshot() models.Snapshot {
	return c.opts.Store.Snapshot()
}

func (c *Controller) Logs() []models.LogEntry {
	return c.opts.Log.Entries()
}

// Start acquires the device and begins listening. It is a no-op unless the
// session is idle. Device failures are logged, alerted and returned; the
// session stays idle and the transcript is untouched.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.lifecycle.Status() != models.StatusIdle {
		return nil
	}

	logger := logging.WithComponent("session")
	captioner, events := c.startCaptioner(ctx, logger)

	mgr := capture.NewManager(c.opts.Device, c.opts.Limits)
	var tap capture.Tap
	if captioner != nil {
		tap = func(chunk []byte) {
			if err := captioner.SendAudio(c.ctx, chunk); err != nil {
				logger.Debug().Err(err).Msg("Caption audio dropped")
			}
		}
	}

	if err := mgr.Start(ctx, tap); err != nil {
		if captioner != nil {
			captioner.Stop()
			go drain(events)
		}
		logger.Warn().Err(err).Msg("Audio device acquisition failed")
		c.metrics.RecordSessionRejected(capture.Reason(err))
		c.opts.Log.Append("Microphone access denied. Please allow it to speak with the assistant.", models.LogError)
		if c.opts.Alerter != nil {
			c.opts.Alerter.Alert("Please allow microphone access to use the voice features.")
		}
		return err
	}

	id := c.opts.IDs.Next()
	if err := c.lifecycle.BeginListening(id); err != nil {
		mgr.Abort()
		if captioner != nil {
			captioner.Stop()
			go drain(events)
		}
		return err
	}

	c.capture = mgr
	c.captioner = captioner
	c.startedAt = time.Now()

	c.opts.Store.SetTranscript("")
	c.opts.Store.SetStatus(models.StatusListening, id)
	if captioner != nil {
		c.feed = newCaptionFeed()
		go c.feed.run(events, c.opts.Store)
	}

	c.metrics.RecordSessionStart()
	c.opts.Log.Append("Started listening securely.", models.LogSystem)
	sessionLogger := logging.WithSession("session", id)
	sessionLogger.Info().Bool("liveCaptions", captioner != nil).Msg("Session started")
	return nil
}

// startCaptioner returns nil when live captions are unavailable for this
// session. Failures never block capture.
func (c *Controller) startCaptioner(ctx context.Context, logger zerolog.Logger) (caption.Captioner, <-chan caption.Event) {
	if c.opts.Captioner == nil {
		return nil, nil
	}
	captioner, err := c.opts.Captioner(ctx)
	if err != nil || captioner == nil {
		logger.Debug().Err(err).Msg("Live captions unavailable")
		return nil, nil
	}
	events, err := captioner.Start(c.ctx)
	if err != nil {
		logger.Debug().Err(err).Msg("Live captions failed to start")
		return nil, nil
	}
	return captioner, events
}

// Stop finalizes the recording and hands it to the pipeline. It returns
// false when there is no active capture.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lifecycle.Status() != models.StatusListening {
		return false
	}
	id := c.lifecycle.SessionId()
	logger := logging.WithSession("session", id)

	c.stopCaptioner(logger)

	audio, ok := c.capture.Stop()
	c.capture = nil
	if !ok {
		audio = &capture.Audio{}
	}

	if err := c.lifecycle.BeginProcessing(); err != nil {
		logger.Error().Err(err).Msg("Unexpected status on stop")
		return false
	}
	c.opts.Store.SetStatus(models.StatusProcessing, id)
	c.opts.Log.Append("Audio captured. Sending to your assistant...", models.LogSystem)
	c.metrics.RecordSessionStop(time.Since(c.startedAt).Seconds())

	logger.Info().
		Int("bytes", len(audio.Data)).
		Int("chunks", audio.Chunks).
		Bool("truncated", audio.Truncated).
		Msg("Recording captured")

	c.pipelines.Add(1)
	go c.process(id, audio)
	return true
}

// Toggle starts when idle and stops when listening.
func (c *Controller) Toggle(ctx context.Context) error {
	switch c.Status() {
	case models.StatusListening:
		c.Stop()
		return nil
	case models.StatusIdle:
		return c.Start(ctx)
	default:
		return nil
	}
}

// Reset abandons any recording and forces the session back to idle. A
// pipeline still running for the reset session commits nothing further.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.abandon()
	prev := c.lifecycle.Reset()
	c.opts.Store.SetStatus(models.StatusIdle, "")
	if prev != models.StatusIdle {
		c.opts.Log.Append("Session reset. Ready for your next request.", models.LogSystem)
	}
}

// Close releases the device, cancels in-flight remote calls and waits for
// running pipelines to commit their fallbacks.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.abandon()
	c.mu.Unlock()

	c.cancel()
	c.pipelines.Wait()
	if c.opts.Runner != nil {
		c.opts.Runner.Close()
	}
}

// Wait blocks until running pipelines have finished.
func (c *Controller) Wait() {
	c.pipelines.Wait()
}

func (c *Controller) SubmitTask(id int, input string) (<-chan struct{}, error) {
	return c.opts.Runner.SubmitTask(id, input)
}

func (c *Controller) OpenTaskForm(id int) (models.Task, error) {
	return c.opts.Runner.OpenTaskForm(id)
}

func (c *Controller) process(id string, audio *capture.Audio) {
	defer c.pipelines.Done()

	_, err := c.opts.Runner.Run(c.ctx, id, audio)
	if errors.Is(err, pipeline.ErrSessionAbandoned) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.opts.Log.Append("Sorry, something went wrong processing your request.", models.LogError)
		if c.lifecycle.SessionId() == id {
			c.lifecycle.Reset()
			c.opts.Store.SetStatus(models.StatusIdle, "")
		}
		return
	}
	if err := c.lifecycle.Finish(id); err != nil {
		logger := logging.WithSession("session", id)
		logger.Debug().Err(err).Msg("Session reset while processing")
		return
	}
	c.opts.Store.SetStatus(models.StatusIdle, "")
	c.opts.Log.Append("Finished processing. Ready for your next request.", models.LogSystem)
}

// stopCaptioner halts recognition and waits until every delivered event has
// been applied. Must be called with c.mu held.
func (c *Controller) stopCaptioner(logger zerolog.Logger) {
	if c.captioner == nil {
		return
	}
	if err := c.captioner.Stop(); err != nil {
		logger.Debug().Err(err).Msg("Captioner stop failed")
	}
	c.feed.detach(captionDrainTimeout)
	c.captioner = nil
	c.feed = nil
}

// abandon releases the current recording without producing audio. Must be
// called with c.mu held.
func (c *Controller) abandon() {
	if c.capture == nil {
		return
	}
	c.stopCaptioner(logging.WithComponent("session"))
	c.capture.Abort()
	c.capture = nil
}

// captionFeed applies caption events to the shared transcript until detached.
type captionFeed struct {
	mu         sync.Mutex
	live       bool
	transcript caption.Transcript
	done       chan struct{}
}

func newCaptionFeed() *captionFeed {
	return &captionFeed{live: true, done: make(chan struct{})}
}

func (f *captionFeed) run(events <-chan caption.Event, store *state.Store) {
	defer close(f.done)
	for ev := range events {
		f.mu.Lock()
		if f.live {
			store.SetTranscript(f.transcript.Apply(ev))
		}
		f.mu.Unlock()
	}
}

// detach waits for the event channel to close, up to timeout. After it
// returns no further events reach the store.
func (f *captionFeed) detach(timeout time.Duration) {
	select {
	case <-f.done:
	case <-time.After(timeout):
	}
	f.mu.Lock()
	f.live = false
	f.mu.Unlock()
}

func drain(events <-chan caption.Event) {
	for range events {
	}
}
