// Package schema validates payloads crossing the backend boundary and user
// submissions before they enter the pipeline.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"lifeops-voice-agent/internal/models"
)

var (
	// ErrMalformed marks a backend response that is missing required data.
	ErrMalformed = errors.New("malformed payload")
	// ErrEmptyInput marks a user submission without any input.
	ErrEmptyInput = errors.New("user input is empty")
)

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks a known payload type. Unknown types pass.
func (v *Validator) Validate(payload any) error {
	switch p := payload.(type) {
	case *models.TranscribeResponse:
		if p == nil || p.Text == nil {
			return fmt.Errorf("%w: transcription text missing", ErrMalformed)
		}
		if strings.TrimSpace(*p.Text) == "" {
			return fmt.Errorf("%w: transcription text blank", ErrMalformed)
		}
	case *models.ProcessResponse:
		if p == nil {
			return fmt.Errorf("%w: empty reasoning response", ErrMalformed)
		}
		if p.ContextFacts == nil {
			return fmt.Errorf("%w: context_facts missing", ErrMalformed)
		}
		if p.InferredTasks == nil {
			return fmt.Errorf("%w: inferred_tasks missing", ErrMalformed)
		}
		for i, f := range p.ContextFacts {
			if f.Entity == "" {
				return fmt.Errorf("%w: context_facts[%d] has no entity", ErrMalformed, i)
			}
		}
		for i, t := range p.InferredTasks {
			if strings.TrimSpace(t.Title) == "" {
				return fmt.Errorf("%w: inferred_tasks[%d] has no title", ErrMalformed, i)
			}
		}
	case *models.MonitorResponse:
		if p == nil {
			return fmt.Errorf("%w: empty monitoring response", ErrMalformed)
		}
	case *models.StateResponse:
		if p == nil {
			return fmt.Errorf("%w: empty state response", ErrMalformed)
		}
	case models.MonitorRequest:
		if p.UserInput == "" {
			return ErrEmptyInput
		}
	}
	return nil
}
