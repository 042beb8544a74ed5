// Package google provides a live captioner backed by Google Cloud
// Speech-to-Text streaming recognition.
package google

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/protobuf/types/known/durationpb"

	"lifeops-voice-agent/internal/observability/logging"
	"lifeops-voice-agent/internal/observability/metrics"
	"lifeops-voice-agent/internal/service/caption"
)

const (
	provider    = "google"
	eventBuffer = 64
	stopTimeout = 2 * time.Second
)

var ErrAlreadyStarted = errors.New("google captioner already started")

// Config holds recognition settings.
type Config struct {
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string
	// SpeechEndTimeout enables voice activity events and ends recognition
	// after this much trailing silence. Zero leaves it to the service.
	SpeechEndTimeout time.Duration
}

// DefaultConfig returns settings for 8kHz LINEAR16 mono English audio.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   8000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
	}
}

// parseAudioEncoding converts a string to the speech API encoding enum,
// falling back to LINEAR16.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

func streamingConfig(cfg Config) *speechpb.StreamingRecognizeRequest {
	sc := &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			Encoding:        parseAudioEncoding(cfg.AudioEncoding),
			SampleRateHertz: int32(cfg.SampleRateHz),
			LanguageCode:    cfg.LanguageCode,
		},
		InterimResults: cfg.InterimResults,
	}
	if cfg.SpeechEndTimeout > 0 {
		sc.EnableVoiceActivityEvents = true
		sc.VoiceActivityTimeout = &speechpb.StreamingRecognitionConfig_VoiceActivityTimeout{
			SpeechEndTimeout: durationpb.New(cfg.SpeechEndTimeout),
		}
	}
	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: sc,
		},
	}
}

// toEvent maps one recognition response onto a caption event. Final results
// are committed segments; non-final results together form the interim text.
func toEvent(resp *speechpb.StreamingRecognizeResponse) (caption.Event, bool) {
	var ev caption.Event
	var interim strings.Builder
	seen := false
	for _, r := range resp.GetResults() {
		if len(r.Alternatives) == 0 {
			continue
		}
		seen = true
		alt := r.Alternatives[0]
		if r.IsFinal {
			ev.Final = append(ev.Final, alt.Transcript)
		} else {
			interim.WriteString(alt.Transcript)
		}
	}
	ev.Interim = interim.String()
	return ev, seen
}

// recognizeStream is the subset of the gRPC stream the captioner needs.
type recognizeStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

type openFunc func(ctx context.Context) (recognizeStream, error)

// Provider owns the Speech client shared by all sessions.
type Provider struct {
	client *speech.Client
	cfg    Config
}

// NewProvider creates a Speech client.
// Requires GOOGLE_APPLICATION_CREDENTIALS to be set.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Provider{client: c, cfg: cfg}, nil
}

// Factory returns a caption.Factory opening one recognition stream per session.
func (p *Provider) Factory() caption.Factory {
	return func(ctx context.Context) (caption.Captioner, error) {
		return newCaptioner(p.cfg, func(ctx context.Context) (recognizeStream, error) {
			return p.client.StreamingRecognize(ctx)
		}), nil
	}
}

func (p *Provider) Close() error {
	return p.client.Close()
}

// Captioner implements caption.Captioner for one recognition stream.
type Captioner struct {
	cfg  Config
	open openFunc

	mu      sync.Mutex
	stream  recognizeStream
	cancel  context.CancelFunc
	started bool
	stopped bool
	done    chan struct{}

	// sendMu serializes Send and CloseSend on the stream. It is never held
	// together with mu.
	sendMu      sync.Mutex
	stopTimeout time.Duration
}

func newCaptioner(cfg Config, open openFunc) *Captioner {
	return &Captioner{cfg: cfg, open: open, done: make(chan struct{}), stopTimeout: stopTimeout}
}

// Start opens the stream, sends the recognition config and starts the
// receive loop.
func (c *Captioner) Start(ctx context.Context) (<-chan caption.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil, ErrAlreadyStarted
	}

	sctx, cancel := context.WithCancel(ctx)
	stream, err := c.open(sctx)
	if err != nil {
		cancel()
		metrics.DefaultMetrics.RecordCaptionError(provider, "start")
		return nil, err
	}
	if err := stream.Send(streamingConfig(c.cfg)); err != nil {
		cancel()
		metrics.DefaultMetrics.RecordCaptionError(provider, "config")
		return nil, err
	}

	c.stream = stream
	c.cancel = cancel
	c.started = true

	events := make(chan caption.Event, eventBuffer)
	go c.listen(sctx, events)
	return events, nil
}

// SendAudio forwards one chunk. A Send blocked by flow control does not
// hold up Stop.
func (c *Captioner) SendAudio(ctx context.Context, audio []byte) error {
	if !c.sending() {
		return nil
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	// Stop may have half-closed the stream while we waited
	if !c.sending() {
		return nil
	}
	err := c.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
	if err != nil {
		metrics.DefaultMetrics.RecordCaptionError(provider, "send")
	}
	return err
}

func (c *Captioner) sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started && !c.stopped
}

// Stop half-closes the stream so pending results are flushed, waits for the
// receive loop to finish, then tears the stream down. It returns within
// stopTimeout even when a Send is stuck.
func (c *Captioner) Stop() error {
	c.mu.Lock()
	if c.stopped || !c.started {
		c.stopped = true
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.mu.Unlock()

	closed := make(chan error, 1)
	go func() {
		c.sendMu.Lock()
		defer c.sendMu.Unlock()
		closed <- c.stream.CloseSend()
	}()

	select {
	case <-c.done:
	case <-time.After(c.stopTimeout):
	}
	c.cancel()
	<-c.done
	return <-closed
}

// listen forwards responses until the stream ends. It owns the events channel.
func (c *Captioner) listen(ctx context.Context, events chan<- caption.Event) {
	defer close(c.done)
	defer close(events)

	logger := logging.WithComponent("caption-google")
	for {
		resp, err := c.stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				metrics.DefaultMetrics.RecordCaptionError(provider, "recv")
				logger.Debug().Err(err).Msg("Recognition stream ended with error")
			}
			return
		}

		ev, ok := toEvent(resp)
		if !ok {
			continue
		}
		kind := "interim"
		if len(ev.Final) > 0 {
			kind = "final"
		}
		select {
		case events <- ev:
			metrics.DefaultMetrics.RecordCaptionEvent(kind)
		case <-ctx.Done():
			return
		}
	}
}
