package pipeline

import "lifeops-voice-agent/internal/models"

// FallbackTranscript replaces the transcription when the remote call fails.
const FallbackTranscript = "I moved here three months ago and just started working a new job in California. I don't know what forms I need."

const (
	fallbackMonitorInfo = "Yutori verified your documents against official standards."
	monitorAgent        = "Yutori"
)

var fallbackMonitorUpdates = []string{
	"Official requirements cross-referenced.",
	"Compliance verified.",
}

// DemoFacts is the profile used when reasoning is unavailable.
func DemoFacts() []models.ContextFact {
	return []models.ContextFact{
		{Entity: "Arrival", Value: "3 months ago"},
		{Entity: "Employment", Value: "Recently Employed"},
		{Entity: "Location", Value: "California"},
	}
}

// DemoTasks is the task set used when reasoning is unavailable.
func DemoTasks() []models.Task {
	return []models.Task{
		{
			ID:          1,
			Title:       "Check SSN Status",
			Description: "Agent will verify if an SSN has been issued for your work permit.",
			Status:      models.TaskPending,
			Action:      "Provide Info",
			Links:       []models.Link{{Title: "SSA Official Site", URL: "https://www.ssa.gov"}},
		},
		{
			ID:          2,
			Title:       "Draft W-4 Form",
			Description: "Agent will auto-fill your federal tax withholding form based on your profile.",
			Status:      models.TaskPending,
			Action:      "Provide Docs",
			Links:       []models.Link{{Title: "IRS W-4 Info", URL: "https://www.irs.gov/forms-pubs/about-form-w-4"}},
		},
		{
			ID:          3,
			Title:       "State ID Appointment",
			Description: "California DMV appointment needed within 90 days.",
			Status:      models.TaskPending,
			Action:      "Provide Schedule",
			Links:       []models.Link{{Title: "CA DMV Official", URL: "https://www.dmv.ca.gov"}},
		},
	}
}
