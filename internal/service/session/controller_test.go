package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"lifeops-voice-agent/internal/activity"
	"lifeops-voice-agent/internal/models"
	"lifeops-voice-agent/internal/service/caption"
	"lifeops-voice-agent/internal/service/caption/mock"
	"lifeops-voice-agent/internal/service/capture"
	"lifeops-voice-agent/internal/service/pipeline"
	"lifeops-voice-agent/internal/service/state"
)

type chanStream struct {
	ch   chan []byte
	once sync.Once
}

func (s *chanStream) Chunks() <-chan []byte { return s.ch }
func (s *chanStream) MimeType() string      { return "audio/webm" }
func (s *chanStream) Close() error {
	s.once.Do(func() { close(s.ch) })
	return nil
}

// fakeDevice hands out a fresh pre-loaded stream per Open and counts releases.
type fakeDevice struct {
	openErr  error
	chunks   [][]byte
	opens    int32
	releases int32
}

func (d *fakeDevice) Open(ctx context.Context) (capture.Stream, error) {
	atomic.AddInt32(&d.opens, 1)
	if d.openErr != nil {
		return nil, d.openErr
	}
	s := &chanStream{ch: make(chan []byte, len(d.chunks)+1)}
	for _, c := range d.chunks {
		s.ch <- c
	}
	return &countingStream{chanStream: s, releases: &d.releases}, nil
}

type countingStream struct {
	*chanStream
	releases *int32
}

func (s *countingStream) Close() error {
	atomic.AddInt32(s.releases, 1)
	return s.chanStream.Close()
}

type stubBackend struct {
	text string
}

func (b *stubBackend) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	if b.text == "" {
		return "", errors.New("transcription unavailable")
	}
	return b.text, nil
}

func (b *stubBackend) Process(ctx context.Context, text string) (*models.ProcessResponse, error) {
	return nil, errors.New("reasoning unavailable")
}

func (b *stubBackend) Monitor(ctx context.Context, req models.MonitorRequest) (*models.MonitorResponse, error) {
	return nil, errors.New("monitoring unavailable")
}

func (b *stubBackend) State(ctx context.Context) (*models.StateResponse, error) {
	return nil, errors.New("state unavailable")
}

type harness struct {
	ctrl   *Controller
	store  *state.Store
	log    *activity.Log
	alerts int32

	mu          sync.Mutex
	statuses    []models.Status
	transcripts []string
}

func newHarness(dev capture.Device, b pipeline.Backend, captioner caption.Factory) *harness {
	h := &harness{store: state.New(), log: activity.New()}
	h.store.Subscribe(func(ch state.Change) {
		h.mu.Lock()
		defer h.mu.Unlock()
		switch ch.Kind {
		case state.ChangeStatus:
			h.statuses = append(h.statuses, ch.Snapshot.Status)
		case state.ChangeTranscript:
			h.transcripts = append(h.transcripts, ch.Snapshot.Transcript)
		}
	})
	runner := pipeline.NewRunner(b, h.store, h.log, pipeline.Config{})
	h.ctrl = NewController(Options{
		Device:    dev,
		Runner:    runner,
		Store:     h.store,
		Log:       h.log,
		IDs:       NewGeneratorWithInstance("test"),
		Captioner: captioner,
		Alerter:   AlertFunc(func(string) { atomic.AddInt32(&h.alerts, 1) }),
	})
	return h
}

func (h *harness) count(status models.Status) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, s := range h.statuses {
		if s == status {
			n++
		}
	}
	return n
}

func (h *harness) transcriptChanges() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.transcripts...)
}

func hasEntry(entries []models.LogEntry, msg string, typ models.LogType) bool {
	for _, e := range entries {
		if e.Message == msg && e.Type == typ {
			return true
		}
	}
	return false
}

func TestController_PermissionDenied(t *testing.T) {
	dev := &fakeDevice{openErr: capture.ErrPermissionDenied}
	h := newHarness(dev, &stubBackend{}, mock.Factory())
	h.store.SetTranscript("previous request")

	err := h.ctrl.Start(context.Background())
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	if h.ctrl.Status() != models.StatusIdle {
		t.Errorf("expected idle, got %s", h.ctrl.Status())
	}
	if h.store.Transcript() != "previous request" {
		t.Errorf("expected transcript unchanged, got %q", h.store.Transcript())
	}
	if !hasEntry(h.log.Entries(), "Microphone access denied. Please allow it to speak with the assistant.", models.LogError) {
		t.Error("expected error entry")
	}
	if atomic.LoadInt32(&h.alerts) != 1 {
		t.Errorf("expected one alert, got %d", h.alerts)
	}
	if h.count(models.StatusListening) != 0 {
		t.Error("expected no listening transition")
	}
}

func TestController_FullCycle_BothStagesFail(t *testing.T) {
	dev := &fakeDevice{chunks: [][]byte{[]byte("a"), []byte("b")}}
	h := newHarness(dev, &stubBackend{}, nil)

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.ctrl.Status() != models.StatusListening {
		t.Fatalf("expected listening, got %s", h.ctrl.Status())
	}
	if snap := h.ctrl.Snapshot(); snap.SessionID != "test-session-1" {
		t.Errorf("expected session id test-session-1, got %q", snap.SessionID)
	}

	if !h.ctrl.Stop() {
		t.Fatal("expected effective stop")
	}
	h.ctrl.Wait()

	if h.ctrl.Status() != models.StatusIdle {
		t.Errorf("expected idle after pipeline, got %s", h.ctrl.Status())
	}
	snap := h.ctrl.Snapshot()
	if snap.Transcript != pipeline.FallbackTranscript {
		t.Errorf("expected fallback transcript, got %q", snap.Transcript)
	}
	if len(snap.ContextFacts) != 3 || len(snap.Tasks) != 3 {
		t.Errorf("expected demo facts and tasks, got %d/%d", len(snap.ContextFacts), len(snap.Tasks))
	}
	if snap.SessionID != "" {
		t.Errorf("expected session cleared, got %q", snap.SessionID)
	}

	entries := h.ctrl.Logs()
	if entries[0].Message != "Finished processing. Ready for your next request." {
		t.Errorf("expected finished entry last, got %q", entries[0].Message)
	}
	for _, msg := range []string{"Started listening securely.", "Audio captured. Sending to your assistant..."} {
		if !hasEntry(entries, msg, models.LogSystem) {
			t.Errorf("expected %q entry", msg)
		}
	}
	if n := atomic.LoadInt32(&dev.releases); n != 1 {
		t.Errorf("expected device released once, got %d", n)
	}
}

func TestController_Stop_Idempotent(t *testing.T) {
	dev := &fakeDevice{chunks: [][]byte{[]byte("audio")}}
	h := newHarness(dev, &stubBackend{text: "hello world"}, nil)
	h.ctrl.Start(context.Background())

	if !h.ctrl.Stop() {
		t.Fatal("expected first stop to be effective")
	}
	if h.ctrl.Stop() {
		t.Error("expected second stop to be a no-op")
	}
	h.ctrl.Wait()

	if n := h.count(models.StatusProcessing); n != 1 {
		t.Errorf("expected exactly one processing transition, got %d", n)
	}
	if n := atomic.LoadInt32(&dev.releases); n != 1 {
		t.Errorf("expected exactly one device release, got %d", n)
	}
	if h.store.Transcript() != "hello world" {
		t.Errorf("expected server transcript, got %q", h.store.Transcript())
	}
}

func TestController_Stop_WithoutStart(t *testing.T) {
	h := newHarness(&fakeDevice{}, &stubBackend{}, nil)

	if h.ctrl.Stop() {
		t.Error("expected stop without start to be a no-op")
	}
	if h.count(models.StatusProcessing) != 0 {
		t.Error("expected no processing transition")
	}
}

func TestController_Start_WhileListeningIsNoop(t *testing.T) {
	dev := &fakeDevice{}
	h := newHarness(dev, &stubBackend{}, nil)

	h.ctrl.Start(context.Background())
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if n := atomic.LoadInt32(&dev.opens); n != 1 {
		t.Errorf("expected one device open, got %d", n)
	}
	h.ctrl.Close()
}

func TestController_LiveCaptionsPrecedeServerTranscript(t *testing.T) {
	utterance := mock.Utterance{Partials: []string{"I need"}, Final: "I need a new job."}
	factory := func(ctx context.Context) (caption.Captioner, error) {
		return mock.NewWithUtterance(utterance, 1), nil
	}
	dev := &fakeDevice{chunks: [][]byte{[]byte("a"), []byte("b")}}
	h := newHarness(dev, &stubBackend{text: "hello world"}, factory)

	h.ctrl.Start(context.Background())
	h.ctrl.Stop()
	h.ctrl.Wait()

	changes := h.transcriptChanges()
	if len(changes) < 3 {
		t.Fatalf("expected clear, caption and server transcript changes, got %v", changes)
	}
	if changes[0] != "" {
		t.Errorf("expected transcript cleared on start, got %q", changes[0])
	}
	if last := changes[len(changes)-1]; last != "hello world" {
		t.Errorf("expected server transcript last, got %q", last)
	}
	if prev := changes[len(changes)-2]; prev != "I need a new job." {
		t.Errorf("expected final caption right before the server transcript, got %q", prev)
	}
}

func TestController_CaptionerFailureDoesNotBlockCapture(t *testing.T) {
	factory := func(ctx context.Context) (caption.Captioner, error) {
		return nil, errors.New("no credentials")
	}
	h := newHarness(&fakeDevice{}, &stubBackend{}, factory)

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("expected capture to start without captions, got %v", err)
	}
	if !h.ctrl.Stop() {
		t.Error("expected effective stop")
	}
	h.ctrl.Wait()
}

func TestController_Toggle(t *testing.T) {
	h := newHarness(&fakeDevice{}, &stubBackend{}, nil)

	h.ctrl.Toggle(context.Background())
	if h.ctrl.Status() != models.StatusListening {
		t.Fatalf("expected listening after first toggle, got %s", h.ctrl.Status())
	}
	h.ctrl.Toggle(context.Background())
	h.ctrl.Wait()
	if h.ctrl.Status() != models.StatusIdle {
		t.Errorf("expected idle after pipeline, got %s", h.ctrl.Status())
	}
	if h.count(models.StatusProcessing) != 1 {
		t.Error("expected second toggle to stop the recording")
	}
}

func TestController_Reset_ReleasesDevice(t *testing.T) {
	dev := &fakeDevice{}
	h := newHarness(dev, &stubBackend{}, mock.Factory())
	h.ctrl.Start(context.Background())

	h.ctrl.Reset()

	if h.ctrl.Status() != models.StatusIdle {
		t.Errorf("expected idle after reset, got %s", h.ctrl.Status())
	}
	if n := atomic.LoadInt32(&dev.releases); n != 1 {
		t.Errorf("expected device released, got %d", n)
	}
	if h.ctrl.Stop() {
		t.Error("expected stop after reset to be a no-op")
	}
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Errorf("expected a new session to start after reset, got %v", err)
	}
	h.ctrl.Close()
}

func TestController_Close(t *testing.T) {
	dev := &fakeDevice{}
	h := newHarness(dev, &stubBackend{}, nil)
	h.ctrl.Start(context.Background())

	h.ctrl.Close()

	if n := atomic.LoadInt32(&dev.releases); n != 1 {
		t.Errorf("expected device released on close, got %d", n)
	}
	if err := h.ctrl.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestController_Announce(t *testing.T) {
	h := newHarness(&fakeDevice{}, &stubBackend{}, nil)
	h.ctrl.Announce()

	entries := h.ctrl.Logs()
	if len(entries) != 2 || entries[0].Message != "Waiting for you to speak..." {
		t.Errorf("unexpected greeting entries %+v", entries)
	}
}

func TestController_SubmitTaskDelegates(t *testing.T) {
	h := newHarness(&fakeDevice{}, &stubBackend{}, nil)
	h.store.ReplaceTasks(pipeline.DemoTasks())

	if _, err := h.ctrl.SubmitTask(1, ""); !errors.Is(err, pipeline.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	done, err := h.ctrl.SubmitTask(1, "work permit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-done
	task, _ := h.store.Task(1)
	if task.Status != models.TaskCompleted || task.IsProcessing {
		t.Errorf("unexpected task state %+v", task)
	}
}

// gatedBackend holds transcription until gate is closed.
type gatedBackend struct {
	stubBackend
	gate chan struct{}
}

func (b *gatedBackend) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	<-b.gate
	return "old session text", nil
}

func TestController_ResetThenStart_StalePipelineDiscarded(t *testing.T) {
	dev := &fakeDevice{chunks: [][]byte{[]byte("frame")}}
	b := &gatedBackend{gate: make(chan struct{})}
	h := newHarness(dev, b, nil)

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !h.ctrl.Stop() {
		t.Fatal("expected stop to hand audio to the pipeline")
	}
	h.ctrl.Reset()
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}

	close(b.gate)
	h.ctrl.Wait()

	snap := h.store.Snapshot()
	if snap.Status != models.StatusListening {
		t.Errorf("expected new session still listening, got %s", snap.Status)
	}
	if snap.Transcript != "" || len(snap.ContextFacts) != 0 || len(snap.Tasks) != 0 {
		t.Errorf("expected stale results discarded, got transcript=%q facts=%d tasks=%d",
			snap.Transcript, len(snap.ContextFacts), len(snap.Tasks))
	}
	entries := h.log.Entries()
	if hasEntry(entries, "Sorry, something went wrong processing your request.", models.LogError) {
		t.Error("expected an abandoned run not to be reported as an error")
	}
	if hasEntry(entries, "Finished processing. Ready for your next request.", models.LogSystem) {
		t.Error("expected no completion entry for the abandoned run")
	}

	h.ctrl.Close()
}
