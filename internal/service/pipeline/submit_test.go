package pipeline

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"lifeops-voice-agent/internal/models"
)

func seedTasks(r *Runner) {
	r.store.ReplaceTasks(DemoTasks())
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task submission")
	}
}

func TestSubmitTask_EmptyInputRejected(t *testing.T) {
	b := &fakeBackend{}
	r, store, log := newTestRunner(b)
	seedTasks(r)
	before, _ := store.Task(1)

	done, err := r.SubmitTask(1, "")
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if done != nil {
		t.Error("expected no background work")
	}

	after, _ := store.Task(1)
	if !reflect.DeepEqual(before, after) {
		t.Errorf("expected task unchanged, got %+v", after)
	}
	if after.IsProcessing {
		t.Error("expected isProcessing to remain false")
	}
	if log.Len() != 0 {
		t.Errorf("expected no log entries, got %d", log.Len())
	}
	if len(b.Calls()) != 0 {
		t.Error("expected no remote calls")
	}
}

func TestSubmitTask_MonitoringSucceeds(t *testing.T) {
	b := &fakeBackend{
		monitor: func(ctx context.Context, req models.MonitorRequest) (*models.MonitorResponse, error) {
			if req.TaskID != 2 || req.UserInput != "W-2 attached" {
				t.Errorf("unexpected monitor request %+v", req)
			}
			return &models.MonitorResponse{Message: "Form drafted.", Updates: []string{"IRS form prepared."}}, nil
		},
		state: func(ctx context.Context) (*models.StateResponse, error) {
			return &models.StateResponse{APICalls: []models.APICallRecord{{Service: "irs", Status: "ok"}}}, nil
		},
	}
	r, store, log := newTestRunner(b)
	seedTasks(r)
	r.OpenTaskForm(2)

	done, err := r.SubmitTask(2, "W-2 attached")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitDone(t, done)

	task, _ := store.Task(2)
	if task.Status != models.TaskCompleted {
		t.Errorf("expected completed, got %s", task.Status)
	}
	if task.IsProcessing || task.ShowForm {
		t.Errorf("expected processing and form cleared, got %+v", task)
	}
	if task.MonitoredInfo != "Form drafted." || len(task.MonitoredUpdates) != 1 {
		t.Errorf("expected monitoring result stored, got %+v", task)
	}
	if calls := store.APICalls(); len(calls) != 1 || calls[0].Service != "irs" {
		t.Errorf("expected api calls refreshed, got %+v", calls)
	}
	if !hasEntry(log.Entries(), `Requirements verified for "Draft W-4 Form" by Yutori.`, models.LogAgent) {
		t.Error("expected verification entry")
	}
	if !hasEntry(log.Entries(), `Submitting information for "Draft W-4 Form"...`, models.LogSystem) {
		t.Error("expected submission entry")
	}
}

func TestSubmitTask_MonitoringFails(t *testing.T) {
	r, store, log := newTestRunner(&fakeBackend{})
	seedTasks(r)

	done, err := r.SubmitTask(1, "123-45-6789")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitDone(t, done)

	task, _ := store.Task(1)
	if task.Status != models.TaskCompleted || task.IsProcessing || task.ShowForm {
		t.Errorf("expected fail-open terminal state, got %+v", task)
	}
	if task.MonitoredInfo != fallbackMonitorInfo {
		t.Errorf("expected fallback monitoring text, got %q", task.MonitoredInfo)
	}
	if !reflect.DeepEqual(task.MonitoredUpdates, fallbackMonitorUpdates) {
		t.Errorf("expected fallback updates, got %v", task.MonitoredUpdates)
	}
	if !hasEntry(log.Entries(), `Yutori finished monitoring for "Check SSN Status".`, models.LogAgent) {
		t.Error("expected fallback agent entry")
	}
}

func TestSubmitTask_StateRefreshFailureOnlyLogged(t *testing.T) {
	b := &fakeBackend{
		monitor: func(ctx context.Context, req models.MonitorRequest) (*models.MonitorResponse, error) {
			return &models.MonitorResponse{Message: "done"}, nil
		},
	}
	r, store, log := newTestRunner(b)
	seedTasks(r)
	store.ReplaceAPICalls([]models.APICallRecord{{Service: "previous"}})

	done, _ := r.SubmitTask(3, "Tuesday morning")
	waitDone(t, done)

	task, _ := store.Task(3)
	if task.Status != models.TaskCompleted || task.MonitoredInfo != "done" {
		t.Errorf("expected monitoring success kept, got %+v", task)
	}
	if calls := store.APICalls(); len(calls) != 1 || calls[0].Service != "previous" {
		t.Errorf("expected api calls untouched, got %+v", calls)
	}
	if countType(log.Entries(), models.LogWarning) != 0 {
		t.Error("expected no warning entries for a failed state refresh")
	}
}

func TestSubmitTask_BusyAndNotFound(t *testing.T) {
	release := make(chan struct{})
	b := &fakeBackend{
		monitor: func(ctx context.Context, req models.MonitorRequest) (*models.MonitorResponse, error) {
			<-release
			return &models.MonitorResponse{Message: "ok"}, nil
		},
	}
	r, _, _ := newTestRunner(b)
	seedTasks(r)

	done, err := r.SubmitTask(1, "first")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.SubmitTask(1, "second"); !errors.Is(err, ErrTaskBusy) {
		t.Errorf("expected ErrTaskBusy, got %v", err)
	}
	if _, err := r.OpenTaskForm(1); !errors.Is(err, ErrTaskBusy) {
		t.Errorf("expected form toggle refused while busy, got %v", err)
	}
	if _, err := r.SubmitTask(2, "other task runs concurrently"); err != nil {
		t.Errorf("expected other task to be accepted, got %v", err)
	}
	if _, err := r.SubmitTask(42, "input"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}

	close(release)
	waitDone(t, done)
	r.Wait()
}

func TestSubmitTask_InProgressWhileMonitoring(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	b := &fakeBackend{
		monitor: func(ctx context.Context, req models.MonitorRequest) (*models.MonitorResponse, error) {
			close(entered)
			<-release
			return &models.MonitorResponse{}, nil
		},
	}
	r, store, _ := newTestRunner(b)
	seedTasks(r)

	done, _ := r.SubmitTask(1, "input")
	<-entered
	task, _ := store.Task(1)
	if !task.IsProcessing || task.Status != models.TaskInProgress {
		t.Errorf("expected in-progress task while monitoring, got %+v", task)
	}
	close(release)
	waitDone(t, done)
}

func TestSubmitTask_CloseInterruptsDelay(t *testing.T) {
	b := &fakeBackend{
		monitor: func(ctx context.Context, req models.MonitorRequest) (*models.MonitorResponse, error) {
			return nil, ctx.Err()
		},
	}
	r, store, _ := newTestRunner(b)
	r.cfg.MonitorDelay = time.Hour
	seedTasks(r)

	done, _ := r.SubmitTask(1, "input")

	closed := make(chan struct{})
	go func() {
		r.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Close to interrupt the monitoring delay")
	}
	waitDone(t, done)

	task, _ := store.Task(1)
	if task.IsProcessing || task.Status != models.TaskCompleted {
		t.Errorf("expected terminal state after close, got %+v", task)
	}
}

func TestOpenTaskForm(t *testing.T) {
	r, _, _ := newTestRunner(&fakeBackend{})
	seedTasks(r)

	task, err := r.OpenTaskForm(3)
	if err != nil || !task.ShowForm {
		t.Errorf("expected form shown, got %+v, %v", task, err)
	}
	task, _ = r.OpenTaskForm(3)
	if task.ShowForm {
		t.Error("expected second toggle to hide the form")
	}
	if _, err := r.OpenTaskForm(99); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), 0); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSubmitTask_ReplacedTaskSetIsNotTouched(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	b := &fakeBackend{
		monitor: func(ctx context.Context, req models.MonitorRequest) (*models.MonitorResponse, error) {
			close(entered)
			<-release
			return &models.MonitorResponse{Message: "old", Updates: []string{"old update"}}, nil
		},
	}
	r, store, _ := newTestRunner(b)
	seedTasks(r)

	done, err := r.SubmitTask(1, "123-45-6789")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-entered

	// a new run falls back to the demo set, which reuses ids 1-3
	if _, err := r.Run(context.Background(), testSession, webmAudio()); err != nil {
		t.Fatalf("run: %v", err)
	}
	close(release)
	waitDone(t, done)

	task, _ := store.Task(1)
	if task.Status != models.TaskPending || task.MonitoredInfo != "" || task.IsProcessing || task.UserInput != "" {
		t.Errorf("expected the new task 1 untouched, got %+v", task)
	}
}
