package app

import (
	"context"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"lifeops-voice-agent/internal/config"
	"lifeops-voice-agent/internal/models"
)

const serviceName = "lifeops-voice-agent"

// SessionController is the voice session as seen by the transport layer.
type SessionController interface {
	Snapshot() models.Snapshot
	Logs() []models.LogEntry
	Start(ctx context.Context) error
	Stop() bool
	Toggle(ctx context.Context) error
	Reset()
	SubmitTask(id int, input string) (<-chan struct{}, error)
	OpenTaskForm(id int) (models.Task, error)
}

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config
	Session     SessionController

	ready atomic.Bool
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Config, session SessionController) *Application {
	a := &Application{
		Cfg:     cfg,
		Session: session,
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	appLogger.Info().Msg("Voice session application created")
	return a
}

// setupLogger derives the application logger from the global one, honouring
// ZEROLOG_LOG_LEVEL and ENV=dev overrides.
func (a *Application) setupLogger() {
	if envLevel := os.Getenv("ZEROLOG_LOG_LEVEL"); envLevel != "" {
		if parsedLevel, err := zerolog.ParseLevel(strings.ToLower(envLevel)); err == nil {
			zerolog.SetGlobalLevel(parsedLevel)
		}
	}

	base := log.Logger
	if os.Getenv("ENV") == "dev" {
		base = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	a.Logger = base.With().
		Str("service", serviceName).
		Str("component", "application").
		Logger()

	a.Logger.Debug().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("environment", os.Getenv("ENV")).
		Msg("Logger setup completed")
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	a.ready.Store(true)
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Str("backend", a.Cfg.Backend.BaseURL).
		Str("captioner", a.Cfg.Captioner.Provider).
		Msg("Voice session service starting")

	return nil
}

// Ready reports whether Start has completed and Shutdown has not begun.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	a.ready.Store(false)
	shutdownLogger.Info().
		Dur("uptime", time.Since(a.StartupTime)).
		Msg("Voice session service shutting down")
}
