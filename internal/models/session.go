// Package models defines the data structures shared by the voice session
// controller, its pipeline and the presentation layer.
package models

// Status is the UI-facing state of the voice session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusListening  Status = "listening"
	StatusProcessing Status = "processing"
)

// TaskStatus tracks an inferred task through its lifecycle.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// LogType classifies an activity log entry.
type LogType string

const (
	LogSystem  LogType = "system"
	LogAgent   LogType = "agent"
	LogWarning LogType = "warning"
	LogError   LogType = "error"
)

// ContextFact is an extracted user-profile datum.
type ContextFact struct {
	Entity string `json:"entity"`
	Value  string `json:"value"`
}

// Link points at an official resource relevant to a task.
type Link struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Task is an inferred actionable item. ShowForm, UserInput and IsProcessing
// are UI-only fields that never come from the reasoning service.
type Task struct {
	ID               int        `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Status           TaskStatus `json:"status"`
	Action           string     `json:"action"`
	Links            []Link     `json:"links,omitempty"`
	UserInput        string     `json:"userInput"`
	ShowForm         bool       `json:"showForm"`
	IsProcessing     bool       `json:"isProcessing"`
	MonitoredInfo    string     `json:"monitoredInfo,omitempty"`
	MonitoredUpdates []string   `json:"monitoredUpdates,omitempty"`
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	c := t
	if t.Links != nil {
		c.Links = append([]Link(nil), t.Links...)
	}
	if t.MonitoredUpdates != nil {
		c.MonitoredUpdates = append([]string(nil), t.MonitoredUpdates...)
	}
	return c
}

// LogEntry is one line of the activity log.
type LogEntry struct {
	Time    string  `json:"time"`
	Message string  `json:"message"`
	Type    LogType `json:"type"`
}

// APICallRecord is a side artifact of a monitoring call, consumed by the
// graph view.
type APICallRecord struct {
	Service   string `json:"service"`
	Endpoint  string `json:"endpoint,omitempty"`
	Status    string `json:"status,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Snapshot is a read-only copy of everything the presentation layer renders.
type Snapshot struct {
	SessionID    string          `json:"sessionId,omitempty"`
	Status       Status          `json:"status"`
	Transcript   string          `json:"transcript"`
	ContextFacts []ContextFact   `json:"contextFacts"`
	Tasks        []Task          `json:"tasks"`
	APICalls     []APICallRecord `json:"apiCalls"`
}
