package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"lifeops-voice-agent/internal/app"
	"lifeops-voice-agent/internal/models"
	"lifeops-voice-agent/internal/observability"
	"lifeops-voice-agent/internal/observability/metrics"
	"lifeops-voice-agent/internal/service/capture"
	"lifeops-voice-agent/internal/service/pipeline"
	"lifeops-voice-agent/internal/service/session"
)

type sessionResponse struct {
	Changed  bool            `json:"changed"`
	Snapshot models.Snapshot `json:"snapshot"`
}

type submitRequest struct {
	UserInput string `json:"user_input"`
}

type submitResponse struct {
	TaskID int    `json:"task_id"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter constructs the HTTP router for the service. hub may be nil, in
// which case no WebSocket endpoint is mounted.
func NewRouter(application *app.Application, hub *Hub) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMetrics(metrics.DefaultMetrics))

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !application.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	h := &handlers{session: application.Session}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/session", h.getSession)
		r.Post("/session/start", h.start)
		r.Post("/session/stop", h.stop)
		r.Post("/session/toggle", h.toggle)
		r.Post("/session/reset", h.reset)
		r.Get("/logs", h.logs)
		r.Post("/tasks/{id}/form", h.openForm)
		r.Post("/tasks/{id}/submit", h.submit)
		if hub != nil {
			r.Get("/ws", hub.ServeWS)
		}
	})

	return r
}

type handlers struct {
	session app.SessionController
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

func (h *handlers) start(w http.ResponseWriter, r *http.Request) {
	before := h.session.Snapshot().Status
	if err := h.session.Start(r.Context()); err != nil {
		writeStartError(w, err)
		return
	}
	snap := h.session.Snapshot()
	writeJSON(w, http.StatusOK, sessionResponse{Changed: snap.Status != before, Snapshot: snap})
}

func (h *handlers) stop(w http.ResponseWriter, r *http.Request) {
	changed := h.session.Stop()
	writeJSON(w, http.StatusOK, sessionResponse{Changed: changed, Snapshot: h.session.Snapshot()})
}

func (h *handlers) toggle(w http.ResponseWriter, r *http.Request) {
	before := h.session.Snapshot().Status
	if err := h.session.Toggle(r.Context()); err != nil {
		writeStartError(w, err)
		return
	}
	snap := h.session.Snapshot()
	writeJSON(w, http.StatusOK, sessionResponse{Changed: snap.Status != before, Snapshot: snap})
}

func (h *handlers) reset(w http.ResponseWriter, r *http.Request) {
	before := h.session.Snapshot().Status
	h.session.Reset()
	snap := h.session.Snapshot()
	writeJSON(w, http.StatusOK, sessionResponse{Changed: snap.Status != before, Snapshot: snap})
}

func (h *handlers) logs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Logs())
}

func (h *handlers) openForm(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	task, err := h.session.OpenTaskForm(id)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *handlers) submit(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if _, err := h.session.SubmitTask(id, req.UserInput); err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{TaskID: id, Status: "accepted"})
}

func taskID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "task id must be an integer"})
		return 0, false
	}
	return id, true
}

func writeStartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error()})
	case errors.Is(err, capture.ErrDeviceUnavailable), errors.Is(err, session.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func writeTaskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, pipeline.ErrTaskNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, pipeline.ErrTaskBusy):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}
