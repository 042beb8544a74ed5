// Package state holds the UI-facing session state and notifies subscribers
// whenever part of it changes.
package state

import (
	"errors"
	"sync"

	"lifeops-voice-agent/internal/models"
)

// ChangeKind names the part of the state that changed.
type ChangeKind string

const (
	ChangeStatus     ChangeKind = "status"
	ChangeTranscript ChangeKind = "transcript"
	ChangeFacts      ChangeKind = "facts"
	ChangeTasks      ChangeKind = "tasks"
	ChangeAPICalls   ChangeKind = "api_calls"
)

// Change is delivered to subscribers after a mutation is committed.
type Change struct {
	Kind     ChangeKind      `json:"kind"`
	Snapshot models.Snapshot `json:"snapshot"`
}

// Observer receives changes. It must not block for long.
type Observer func(Change)

var (
	// ErrTaskNotFound is returned when a task id is not in the current task set.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTasksReplaced is returned when the task set a caller was working on
	// has been replaced by a newer run.
	ErrTasksReplaced = errors.New("task set replaced")
	// ErrStaleSession is returned by Commit when the session has been reset
	// or superseded.
	ErrStaleSession = errors.New("session no longer current")
)

// Store is the session state. Thread-safe for concurrent access.
type Store struct {
	mu         sync.RWMutex
	sessionId  string
	status     models.Status
	transcript string
	facts      []models.ContextFact
	tasks      []models.Task
	taskGen    uint64
	apiCalls   []models.APICallRecord

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObsId int
}

// New creates a store in the idle state.
func New() *Store {
	return &Store{
		status:    models.StatusIdle,
		observers: make(map[int]Observer),
	}
}

// Subscribe registers an observer and returns a function that removes it.
func (s *Store) Subscribe(o Observer) func() {
	s.obsMu.Lock()
	id := s.nextObsId
	s.nextObsId++
	s.observers[id] = o
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

func (s *Store) notify(kind ChangeKind) {
	snap := s.Snapshot()
	s.obsMu.RLock()
	observers := make([]Observer, 0, len(s.observers))
	for _, o := range s.observers {
		observers = append(observers, o)
	}
	s.obsMu.RUnlock()

	for _, o := range observers {
		o(Change{Kind: kind, Snapshot: snap})
	}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]models.Task, len(s.tasks))
	for i, t := range s.tasks {
		tasks[i] = t.Clone()
	}
	return models.Snapshot{
		SessionID:    s.sessionId,
		Status:       s.status,
		Transcript:   s.transcript,
		ContextFacts: append([]models.ContextFact{}, s.facts...),
		Tasks:        tasks,
		APICalls:     append([]models.APICallRecord{}, s.apiCalls...),
	}
}

// Status returns the current session status.
func (s *Store) Status() models.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetStatus records a status change and the session it belongs to.
func (s *Store) SetStatus(status models.Status, sessionId string) {
	s.mu.Lock()
	s.status = status
	s.sessionId = sessionId
	s.mu.Unlock()
	s.notify(ChangeStatus)
}

// Transcript returns the current transcript.
func (s *Store) Transcript() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transcript
}

// SetTranscript overwrites the transcript.
func (s *Store) SetTranscript(text string) {
	s.mu.Lock()
	s.transcript = text
	s.mu.Unlock()
	s.notify(ChangeTranscript)
}

// ContextFacts returns a copy of the current fact set.
func (s *Store) ContextFacts() []models.ContextFact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ContextFact{}, s.facts...)
}

// ReplaceContextFacts swaps the fact set wholesale.
func (s *Store) ReplaceContextFacts(facts []models.ContextFact) {
	s.mu.Lock()
	s.facts = append([]models.ContextFact{}, facts...)
	s.mu.Unlock()
	s.notify(ChangeFacts)
}

// Tasks returns deep copies of the current tasks.
func (s *Store) Tasks() []models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Task, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.Clone()
	}
	return out
}

// Task returns a copy of the task with the given id.
func (s *Store) Task(id int) (models.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks {
		if t.ID == id {
			return t.Clone(), true
		}
	}
	return models.Task{}, false
}

// ReplaceTasks swaps the task set wholesale and starts a new task
// generation.
func (s *Store) ReplaceTasks(tasks []models.Task) {
	s.mu.Lock()
	s.replaceTasks(tasks)
	s.mu.Unlock()
	s.notify(ChangeTasks)
}

func (s *Store) replaceTasks(tasks []models.Task) {
	cp := make([]models.Task, len(tasks))
	for i, t := range tasks {
		cp[i] = t.Clone()
	}
	s.tasks = cp
	s.taskGen++
}

// TaskGeneration identifies the current task set. It changes on every
// ReplaceTasks.
func (s *Store) TaskGeneration() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.taskGen
}

// UpdateTask applies fn to the task with the given id under the store lock.
// fn returning false aborts the update without notifying.
func (s *Store) UpdateTask(id int, fn func(t *models.Task) bool) (models.Task, error) {
	task, _, err := s.updateTask(nil, id, fn)
	return task, err
}

// UpdateTaskIn is UpdateTask restricted to task generation gen. It returns
// ErrTasksReplaced once the set has been replaced.
func (s *Store) UpdateTaskIn(gen uint64, id int, fn func(t *models.Task) bool) (models.Task, error) {
	task, _, err := s.updateTask(&gen, id, fn)
	return task, err
}

// ClaimTask is UpdateTask that also reports the generation the task
// belongs to.
func (s *Store) ClaimTask(id int, fn func(t *models.Task) bool) (models.Task, uint64, error) {
	return s.updateTask(nil, id, fn)
}

func (s *Store) updateTask(gen *uint64, id int, fn func(t *models.Task) bool) (models.Task, uint64, error) {
	s.mu.Lock()
	current := s.taskGen
	if gen != nil && *gen != current {
		s.mu.Unlock()
		return models.Task{}, current, ErrTasksReplaced
	}
	var (
		updated models.Task
		found   bool
		changed bool
	)
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			found = true
			changed = fn(&s.tasks[i])
			updated = s.tasks[i].Clone()
			break
		}
	}
	s.mu.Unlock()

	if !found {
		return models.Task{}, current, ErrTaskNotFound
	}
	if changed {
		s.notify(ChangeTasks)
	}
	return updated, current, nil
}

// APICalls returns a copy of the API call records.
func (s *Store) APICalls() []models.APICallRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.APICallRecord{}, s.apiCalls...)
}

// ReplaceAPICalls swaps the API call records wholesale.
func (s *Store) ReplaceAPICalls(calls []models.APICallRecord) {
	s.mu.Lock()
	s.apiCalls = append([]models.APICallRecord{}, calls...)
	s.mu.Unlock()
	s.notify(ChangeAPICalls)
}

// Tx is the write view handed to Commit.
type Tx struct {
	s       *Store
	changed []ChangeKind
}

func (tx *Tx) mark(kind ChangeKind) {
	for _, k := range tx.changed {
		if k == kind {
			return
		}
	}
	tx.changed = append(tx.changed, kind)
}

func (tx *Tx) SetTranscript(text string) {
	tx.s.transcript = text
	tx.mark(ChangeTranscript)
}

func (tx *Tx) ReplaceContextFacts(facts []models.ContextFact) {
	tx.s.facts = append([]models.ContextFact{}, facts...)
	tx.mark(ChangeFacts)
}

func (tx *Tx) ReplaceTasks(tasks []models.Task) {
	tx.s.replaceTasks(tasks)
	tx.mark(ChangeTasks)
}

func (tx *Tx) ReplaceAPICalls(calls []models.APICallRecord) {
	tx.s.apiCalls = append([]models.APICallRecord{}, calls...)
	tx.mark(ChangeAPICalls)
}

// Commit applies fn atomically if sessionId is still the current session,
// then notifies once per changed part in the order fn touched them. A reset
// or newer session makes it return ErrStaleSession without calling fn.
func (s *Store) Commit(sessionId string, fn func(tx *Tx)) error {
	tx := &Tx{s: s}
	if err := s.apply(sessionId, tx, fn); err != nil {
		return err
	}
	for _, kind := range tx.changed {
		s.notify(kind)
	}
	return nil
}

func (s *Store) apply(sessionId string, tx *Tx, fn func(tx *Tx)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionId != sessionId {
		return ErrStaleSession
	}
	fn(tx)
	return nil
}
