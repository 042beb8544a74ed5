// Package pipeline turns a finished recording into profile facts and tasks.
//
// A run is two sequential stages, each backed by a remote call with a local
// fallback:
//
//	┌─────────────┐  text or fallback  ┌───────────┐  facts/tasks or demo set
//	│ transcribe  │ ─────────────────▶ │  reason   │ ─────────────────────────▶
//	└─────────────┘                    └───────────┘
//
// Remote failures never abort a run. Only a panic escaping the stage logic
// does, and it is reported as ErrUnexpected. Every commit is scoped to the
// session that recorded the audio; once that session is reset the run stops
// and returns ErrSessionAbandoned.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lifeops-voice-agent/internal/activity"
	"lifeops-voice-agent/internal/models"
	"lifeops-voice-agent/internal/observability/logging"
	"lifeops-voice-agent/internal/observability/metrics"
	"lifeops-voice-agent/internal/schema"
	"lifeops-voice-agent/internal/service/capture"
	"lifeops-voice-agent/internal/service/state"
)

var (
	ErrUnexpected   = errors.New("unexpected pipeline error")
	ErrValidation   = errors.New("task submission rejected")
	ErrTaskNotFound = state.ErrTaskNotFound
	ErrTaskBusy     = errors.New("task is already being processed")
	// ErrSessionAbandoned reports a run whose session was reset before its
	// results could be committed. Nothing was written.
	ErrSessionAbandoned = state.ErrStaleSession
)

// Backend is the remote service the pipeline calls.
type Backend interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
	Process(ctx context.Context, text string) (*models.ProcessResponse, error)
	Monitor(ctx context.Context, req models.MonitorRequest) (*models.MonitorResponse, error)
	State(ctx context.Context) (*models.StateResponse, error)
}

// ResultSink receives the committed outcome of every run.
type ResultSink interface {
	PublishResult(ctx context.Context, ev models.ResultEvent) error
}

type Config struct {
	// MonitorDelay is the pause before a task submission reaches the
	// monitoring service.
	MonitorDelay time.Duration
}

func DefaultConfig() Config {
	return Config{MonitorDelay: 2 * time.Second}
}

// Result describes what a run committed.
type Result struct {
	Transcript         string
	TranscribeFallback bool
	ReasonFallback     bool
}

// Fallback reports whether any stage used canned data.
func (r Result) Fallback() bool {
	return r.TranscribeFallback || r.ReasonFallback
}

// Runner executes capture pipelines and task submissions against one
// session's state.
type Runner struct {
	backend   Backend
	store     *state.Store
	log       *activity.Log
	cfg       Config
	validator *schema.Validator
	metrics   *metrics.Metrics
	results   ResultSink
	sleep     func(ctx context.Context, d time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRunner(b Backend, store *state.Store, log *activity.Log, cfg Config) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		backend:   b,
		store:     store,
		log:       log,
		cfg:       cfg,
		validator: schema.New(),
		metrics:   metrics.DefaultMetrics,
		sleep:     sleepContext,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetResultSink registers where run results are published. Nil disables it.
func (r *Runner) SetResultSink(s ResultSink) {
	r.results = s
}

// Run executes both stages for one recording. The returned error is
// ErrUnexpected or ErrSessionAbandoned; remote failures are absorbed into
// Result. The result is published in the background after Run returns.
func (r *Runner) Run(ctx context.Context, sessionID string, audio *capture.Audio) (res Result, err error) {
	logger := logging.WithSession("pipeline", sessionID)
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrUnexpected, rec)
			logger.Error().
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Msg("Pipeline aborted")
		}
		r.metrics.RecordPipelineRun(outcome(res, err), time.Since(start).Seconds())
	}()

	r.log.Append("Uploading your request securely...", models.LogSystem)

	text, ok := r.transcribe(ctx, logger, audio)
	if err := r.store.Commit(sessionID, func(tx *state.Tx) { tx.SetTranscript(text) }); err != nil {
		logger.Info().Msg("Session reset during transcription, discarding results")
		return res, err
	}
	res.Transcript = text
	res.TranscribeFallback = !ok
	r.log.Append(`You said: "`+text+`"`, models.LogAgent)

	r.log.Append("Understanding your unique situation...", models.LogSystem)
	reasoned, err := r.reason(ctx, logger, sessionID, text)
	if err != nil {
		logger.Info().Msg("Session reset during reasoning, discarding results")
		return res, err
	}
	res.ReasonFallback = !reasoned

	r.publish(logger, sessionID, res)

	logger.Info().
		Bool("transcribeFallback", res.TranscribeFallback).
		Bool("reasonFallback", res.ReasonFallback).
		Dur("elapsed", time.Since(start)).
		Msg("Pipeline completed")
	return res, nil
}

// transcribe returns the server text, or the fallback sentence and false.
func (r *Runner) transcribe(ctx context.Context, logger zerolog.Logger, audio *capture.Audio) (string, bool) {
	r.log.Append("Converting audio to text...", models.LogSystem)

	text, err := r.callTranscribe(ctx, audio)
	if err != nil {
		logger.Warn().Err(err).Msg("Transcription failed, using fallback text")
		r.metrics.RecordFallback("transcribe")
		r.log.Append("Audio processing temporarily unavailable. Using demo text...", models.LogWarning)
		return FallbackTranscript, false
	}
	return text, true
}

func (r *Runner) callTranscribe(ctx context.Context, audio *capture.Audio) (string, error) {
	if audio == nil || len(audio.Data) == 0 {
		return "", errors.New("no audio captured")
	}
	name, body := audio.Upload()
	return r.backend.Transcribe(ctx, bytes.NewReader(body), name)
}

// reason replaces facts and tasks from the server, or with the demo set. It
// reports whether the server answered.
func (r *Runner) reason(ctx context.Context, logger zerolog.Logger, sessionID, text string) (bool, error) {
	resp, err := r.backend.Process(ctx, text)
	if err != nil {
		logger.Warn().Err(err).Msg("Reasoning failed, using demo profile")
		if err := r.store.Commit(sessionID, func(tx *state.Tx) {
			tx.ReplaceContextFacts(DemoFacts())
			tx.ReplaceTasks(DemoTasks())
		}); err != nil {
			return false, err
		}
		r.metrics.RecordFallback("reason")
		r.log.Append("Service unreachable. Falling back to demo mode...", models.LogWarning)
		return false, nil
	}

	tasks := make([]models.Task, len(resp.InferredTasks))
	for i, t := range resp.InferredTasks {
		t.ShowForm = false
		t.UserInput = ""
		t.IsProcessing = false
		if t.Status == "" {
			t.Status = models.TaskPending
		}
		tasks[i] = t
	}

	if err := r.store.Commit(sessionID, func(tx *state.Tx) {
		tx.ReplaceContextFacts(resp.ContextFacts)
		tx.ReplaceTasks(tasks)
		if resp.APICalls != nil {
			tx.ReplaceAPICalls(resp.APICalls)
		}
	}); err != nil {
		return false, err
	}

	for _, t := range tasks {
		r.log.Append("Found recommended action: "+t.Title, models.LogAgent)
	}
	r.log.Append("Updated your personal profile safely.", models.LogSystem)
	return true, nil
}

// publish hands the committed result to the sink without holding up the
// session. Close cancels a publish stuck on an unreachable broker.
func (r *Runner) publish(logger zerolog.Logger, sessionID string, res Result) {
	if r.results == nil {
		return
	}
	ev := models.ResultEvent{
		EventType:    "pipeline_result",
		SessionID:    sessionID,
		Transcript:   res.Transcript,
		ContextFacts: r.store.ContextFacts(),
		Tasks:        r.store.Tasks(),
		Fallback:     res.Fallback(),
		Timestamp:    time.Now().UnixMilli(),
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.results.PublishResult(r.ctx, ev); err != nil {
			logger.Warn().Err(err).Msg("Failed to publish pipeline result")
		}
	}()
}

// Wait blocks until background task submissions and result publications
// have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Close cancels pending monitoring delays and waits for submissions to
// reach their terminal state.
func (r *Runner) Close() {
	r.cancel()
	r.wg.Wait()
}

func outcome(res Result, err error) string {
	switch {
	case errors.Is(err, ErrSessionAbandoned):
		return "abandoned"
	case err != nil:
		return "unexpected"
	case res.Fallback():
		return "fallback"
	default:
		return "success"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
