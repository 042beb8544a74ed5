package models

// TranscribeResponse is the body of POST /transcribe.
type TranscribeResponse struct {
	Text   *string `json:"text"`
	Status string  `json:"status,omitempty"`
}

// ProcessResponse is the body of POST /agent/process.
type ProcessResponse struct {
	Status        string          `json:"status,omitempty"`
	ContextFacts  []ContextFact   `json:"context_facts"`
	InferredTasks []Task          `json:"inferred_tasks"`
	APICalls      []APICallRecord `json:"api_calls,omitempty"`
}

// MonitorRequest is the body sent to POST /agent/monitor.
type MonitorRequest struct {
	TaskID    int    `json:"task_id"`
	UserInput string `json:"user_input"`
}

// MonitorResponse is the body of POST /agent/monitor.
type MonitorResponse struct {
	Message string   `json:"message"`
	Updates []string `json:"updates"`
}

// StateResponse is the body of GET /agent/state.
type StateResponse struct {
	ContextFacts  []ContextFact   `json:"context_facts,omitempty"`
	InferredTasks []Task          `json:"inferred_tasks,omitempty"`
	APICalls      []APICallRecord `json:"api_calls"`
}
