package session

import (
	"errors"
	"fmt"
	"sync"

	"lifeops-voice-agent/internal/models"
)

var ErrInvalidTransition = errors.New("invalid session status transition")

// Lifecycle manages the status machine of the voice session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	IDLE → LISTENING → PROCESSING → IDLE
//	  ▲        │            │
//	  └────────┴── Reset() ─┘
//
// Rules:
//   - IDLE: a new session id is assigned on BeginListening
//   - LISTENING: the device is held; only BeginProcessing or Reset leave it
//   - PROCESSING: the pipeline owns the session until Finish or Reset
type Lifecycle struct {
	mu        sync.RWMutex
	sessionId string
	status    models.Status
}

// NewLifecycle creates a lifecycle in IDLE state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{status: models.StatusIdle}
}

func (l *Lifecycle) SessionId() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sessionId
}

func (l *Lifecycle) Status() models.Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

// BeginListening moves IDLE → LISTENING under a new session id.
func (l *Lifecycle) BeginListening(sessionId string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.transition(models.StatusIdle, models.StatusListening); err != nil {
		return err
	}
	l.sessionId = sessionId
	return nil
}

// BeginProcessing moves LISTENING → PROCESSING.
func (l *Lifecycle) BeginProcessing() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transition(models.StatusListening, models.StatusProcessing)
}

// Finish moves PROCESSING → IDLE for the given session. A stale session id
// means the session was reset while its pipeline ran.
func (l *Lifecycle) Finish(sessionId string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sessionId != sessionId {
		return fmt.Errorf("%w: session %s is no longer current", ErrInvalidTransition, sessionId)
	}
	if err := l.transition(models.StatusProcessing, models.StatusIdle); err != nil {
		return err
	}
	l.sessionId = ""
	return nil
}

// Reset forces IDLE from any state and returns the previous status.
func (l *Lifecycle) Reset() models.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.status
	l.status = models.StatusIdle
	l.sessionId = ""
	return prev
}

// transition must be called with l.mu held.
func (l *Lifecycle) transition(from, to models.Status) error {
	if l.status != from {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, l.status, to)
	}
	l.status = to
	return nil
}
