package activity

import (
	"github.com/rs/zerolog"

	"lifeops-voice-agent/internal/models"
	"lifeops-voice-agent/internal/observability/metrics"
)

// LoggerSink mirrors activity entries into the structured service log.
type LoggerSink struct {
	Logger zerolog.Logger
}

func (s LoggerSink) OnLogEntry(entry models.LogEntry) {
	var ev *zerolog.Event
	switch entry.Type {
	case models.LogError:
		ev = s.Logger.Error()
	case models.LogWarning:
		ev = s.Logger.Warn()
	default:
		ev = s.Logger.Info()
	}
	ev.Str("logType", string(entry.Type)).
		Str("logTime", entry.Time).
		Msg(entry.Message)
}

// MetricsSink counts activity entries by type.
type MetricsSink struct {
	Metrics *metrics.Metrics
}

func (s MetricsSink) OnLogEntry(entry models.LogEntry) {
	s.Metrics.RecordLogEntry(string(entry.Type))
}
