package pipeline

import (
	"errors"
	"fmt"
	"runtime/debug"

	"lifeops-voice-agent/internal/models"
	"lifeops-voice-agent/internal/observability/logging"
	"lifeops-voice-agent/internal/service/state"
)

// OpenTaskForm toggles the input form of a task.
func (r *Runner) OpenTaskForm(id int) (models.Task, error) {
	busy := false
	t, err := r.store.UpdateTask(id, func(t *models.Task) bool {
		if t.IsProcessing {
			busy = true
			return false
		}
		t.ShowForm = !t.ShowForm
		return true
	})
	if err != nil {
		return models.Task{}, err
	}
	if busy {
		return t, ErrTaskBusy
	}
	return t, nil
}

// SubmitTask validates the input and claims the task, then runs monitoring in
// the background. The returned channel is closed once the task has reached
// its terminal state. A rejected submission leaves the task untouched.
func (r *Runner) SubmitTask(id int, input string) (<-chan struct{}, error) {
	req := models.MonitorRequest{TaskID: id, UserInput: input}
	if err := r.validator.Validate(req); err != nil {
		r.metrics.RecordTaskSubmission("rejected")
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	busy := false
	task, gen, err := r.store.ClaimTask(id, func(t *models.Task) bool {
		if t.IsProcessing {
			busy = true
			return false
		}
		t.IsProcessing = true
		t.Status = models.TaskInProgress
		t.UserInput = input
		return true
	})
	if errors.Is(err, state.ErrTaskNotFound) {
		r.metrics.RecordTaskSubmission("not_found")
		return nil, fmt.Errorf("task %d: %w", id, ErrTaskNotFound)
	}
	if err != nil {
		return nil, err
	}
	if busy {
		r.metrics.RecordTaskSubmission("busy")
		return nil, fmt.Errorf("task %d: %w", id, ErrTaskBusy)
	}

	r.log.Append(fmt.Sprintf(`Submitting information for "%s"...`, task.Title), models.LogSystem)

	done := make(chan struct{})
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(done)
		r.monitor(task, gen, req)
	}()
	return done, nil
}

// monitor finishes a claimed task. Its writes apply only to the task set the
// task was claimed from; a set replaced by a newer run is left alone.
func (r *Runner) monitor(task models.Task, gen uint64, req models.MonitorRequest) {
	logger := logging.WithTask("pipeline", task.ID)
	ctx := r.ctx

	update := func(fn func(t *models.Task)) {
		_, err := r.store.UpdateTaskIn(gen, task.ID, func(t *models.Task) bool {
			fn(t)
			return true
		})
		if errors.Is(err, state.ErrTasksReplaced) {
			logger.Debug().Msg("Task set replaced, dropping monitoring update")
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Msg("Task monitoring aborted")
			r.log.Append("Sorry, something went wrong processing your request.", models.LogError)
		}
		update(func(t *models.Task) {
			t.IsProcessing = false
			t.ShowForm = false
		})
	}()

	if err := r.sleep(ctx, r.cfg.MonitorDelay); err != nil {
		logger.Debug().Err(err).Msg("Monitoring delay interrupted")
	}

	r.log.Append(fmt.Sprintf("%s is now monitoring official websites for: %s", monitorAgent, task.Title), models.LogAgent)

	resp, err := r.backend.Monitor(ctx, req)
	if err != nil {
		logger.Warn().Err(err).Msg("Monitoring failed, using fallback result")
		r.metrics.RecordFallback("monitor")
		r.metrics.RecordTaskSubmission("fallback")
		update(func(t *models.Task) {
			t.Status = models.TaskCompleted
			t.MonitoredInfo = fallbackMonitorInfo
			t.MonitoredUpdates = append([]string(nil), fallbackMonitorUpdates...)
		})
		r.log.Append(fmt.Sprintf(`%s finished monitoring for "%s".`, monitorAgent, task.Title), models.LogAgent)
		return
	}

	update(func(t *models.Task) {
		t.Status = models.TaskCompleted
		t.MonitoredInfo = resp.Message
		t.MonitoredUpdates = append([]string(nil), resp.Updates...)
	})
	r.metrics.RecordTaskSubmission("completed")
	r.log.Append(fmt.Sprintf(`Requirements verified for "%s" by %s.`, task.Title, monitorAgent), models.LogAgent)

	st, err := r.backend.State(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to refresh API call records")
		return
	}
	r.store.ReplaceAPICalls(st.APICalls)
}
