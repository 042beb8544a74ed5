package models

// ActivityEvent is published for every activity log entry.
type ActivityEvent struct {
	EventType string  `json:"eventType"`
	SessionID string  `json:"sessionId,omitempty"`
	Time      string  `json:"time"`
	Message   string  `json:"message"`
	Type      LogType `json:"type"`
	Timestamp int64   `json:"timestamp"`
}

// ResultEvent is published when a pipeline run commits its results.
type ResultEvent struct {
	EventType    string        `json:"eventType"`
	SessionID    string        `json:"sessionId"`
	Transcript   string        `json:"transcript"`
	ContextFacts []ContextFact `json:"contextFacts"`
	Tasks        []Task        `json:"tasks"`
	Fallback     bool          `json:"fallback"`
	Timestamp    int64         `json:"timestamp"`
}
