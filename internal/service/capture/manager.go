package capture

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lifeops-voice-agent/internal/observability/logging"
	"lifeops-voice-agent/internal/observability/metrics"
)

// Limits bounds how much audio one capture may buffer.
type Limits struct {
	MaxAudioBytes int64         // Max buffered audio per capture
	MaxDuration   time.Duration // Max capture duration
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxAudioBytes: 5 * 1024 * 1024,
		MaxDuration:   5 * time.Minute,
	}
}

// flushTimeout bounds how long Stop waits for a released stream to deliver
// its queued chunks.
const flushTimeout = 2 * time.Second

// Audio is the finalized recording of one capture.
type Audio struct {
	Data      []byte
	MimeType  string
	Chunks    int
	Duration  time.Duration
	Truncated bool // true if a limit caused chunks to be discarded
}

// Tap observes every buffered chunk. It runs on the drain goroutine and must
// not block.
type Tap func(chunk []byte)

type managerState int

const (
	stateIdle managerState = iota
	stateActive
	stateStopped
)

// Manager captures audio from a Device for a single recording cycle.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	IDLE → ACTIVE → STOPPED
//	  │
//	  └── Start() failure stays IDLE with nothing acquired
type Manager struct {
	device  Device
	limits  Limits
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu        sync.Mutex
	state     managerState
	stream    Stream
	cancel    context.CancelFunc
	drained   chan struct{}
	startedAt time.Time

	// written by the drain goroutine, read after drained is closed
	chunks    [][]byte
	size      int64
	truncated bool
}

// NewManager creates a capture manager for one recording cycle.
func NewManager(device Device, limits Limits) *Manager {
	return &Manager{
		device:  device,
		limits:  limits,
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithComponent("capture"),
	}
}

// Start acquires the device and begins buffering chunks. Errors are
// ErrPermissionDenied or ErrDeviceUnavailable; nothing stays acquired on
// failure. Calling Start on a manager that is not idle is a no-op.
func (m *Manager) Start(ctx context.Context, tap Tap) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != stateIdle {
		return nil
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	stream, err := m.device.Open(ctx)
	if err != nil {
		cancel()
		if stream != nil {
			stream.Close()
		}
		return classify(err)
	}

	m.stream = stream
	m.cancel = cancel
	m.drained = make(chan struct{})
	m.startedAt = time.Now()
	m.state = stateActive

	go m.drain(streamCtx, stream.Chunks(), tap)
	return nil
}

// drain buffers chunks in arrival order until the stream ends or Stop.
func (m *Manager) drain(ctx context.Context, chunks <-chan []byte, tap Tap) {
	defer close(m.drained)
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			if len(chunk) == 0 {
				continue
			}
			if m.exceeded(len(chunk)) {
				if !m.truncated {
					m.logger.Warn().
						Int64("bufferedBytes", m.size).
						Dur("elapsed", time.Since(m.startedAt)).
						Msg("Capture limit reached, discarding further audio")
				}
				m.truncated = true
				m.metrics.RecordAudioChunkDropped()
				continue
			}
			m.chunks = append(m.chunks, chunk)
			m.size += int64(len(chunk))
			m.metrics.RecordAudioChunk(len(chunk))
			if tap != nil {
				tap(chunk)
			}
		}
	}
}

func (m *Manager) exceeded(n int) bool {
	if m.limits.MaxAudioBytes > 0 && m.size+int64(n) > m.limits.MaxAudioBytes {
		return true
	}
	if m.limits.MaxDuration > 0 && time.Since(m.startedAt) > m.limits.MaxDuration {
		return true
	}
	return false
}

// Active reports whether a capture is in progress.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == stateActive
}

// Stop releases the device and finalizes the buffered chunks into one Audio.
// Returns false if there was no active capture; later calls are no-ops.
func (m *Manager) Stop() (*Audio, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != stateActive {
		return nil, false
	}
	m.release()

	var buf bytes.Buffer
	buf.Grow(int(m.size))
	for _, c := range m.chunks {
		buf.Write(c)
	}
	audio := &Audio{
		Data:      buf.Bytes(),
		MimeType:  m.stream.MimeType(),
		Chunks:    len(m.chunks),
		Duration:  time.Since(m.startedAt),
		Truncated: m.truncated,
	}
	m.chunks = nil
	return audio, true
}

// Abort releases the device without producing audio.
func (m *Manager) Abort() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != stateActive {
		return false
	}
	m.release()
	m.chunks = nil
	return true
}

// release closes the stream and waits for the drain goroutine to flush the
// chunks still queued on the channel. Caller holds mu.
func (m *Manager) release() {
	m.state = stateStopped
	if err := m.stream.Close(); err != nil {
		m.logger.Warn().Err(err).Msg("Error releasing audio device")
	}
	select {
	case <-m.drained:
	case <-time.After(flushTimeout):
		m.logger.Warn().Msg("Audio stream did not close its channel, abandoning queued chunks")
	}
	m.cancel()
	<-m.drained
}
