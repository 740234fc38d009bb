// Package worker runs premium recalculations received over the event bus.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/jurisdiction"
)

// QueueGroup is the queue every worker node joins, so each task runs once.
const QueueGroup = "kestrel-recalculation"

// TaskRetention is how long a finished task stays queryable.
const TaskRetention = time.Hour

var (
	// ErrNotStarted is returned by Submit before Start.
	ErrNotStarted = errors.New("worker is not started")
	// ErrStopped fails tasks still pending at Stop.
	ErrStopped = errors.New("worker stopped")
)

// Calculator prices a quote.
type Calculator interface {
	CalculatePremium(ctx context.Context, req *domain.RatingRequest) (*domain.RatingResult, error)
}

// Config holds worker configuration.
type Config struct {
	// Jurisdictions to process; empty subscribes to every jurisdiction.
	Jurisdictions []string
}

// TaskStatus is the lifecycle state of a recalculation task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// RecalculationRequest is the payload of kestrel.recalculation.requested.
type RecalculationRequest struct {
	TaskID  string                `json:"taskId"`
	Request *domain.RatingRequest `json:"request"`
}

// RecalculationCompleted is the payload of kestrel.recalculation.completed.
type RecalculationCompleted struct {
	TaskID     string               `json:"taskId"`
	Result     *domain.RatingResult `json:"result,omitempty"`
	Error      *domain.RatingError  `json:"error,omitempty"`
	DurationMs int64                `json:"durationMs"`
}

// Task tracks one submitted recalculation.
type Task struct {
	ID           string
	Jurisdiction string
	SubmittedAt  time.Time

	done chan struct{}

	mu       sync.Mutex
	finished time.Time
	result   *domain.RatingResult
	err      error
}

// Done is closed once the task completed or failed.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Result returns the outcome. It is nil, nil while the task is pending.
func (t *Task) Result() (*domain.RatingResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}

// Status reports the lifecycle state.
func (t *Task) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.finished.IsZero():
		return TaskPending
	case t.err != nil:
		return TaskFailed
	default:
		return TaskCompleted
	}
}

func (t *Task) complete(result *domain.RatingResult, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.finished.IsZero() {
		return false
	}
	t.result, t.err, t.finished = result, err, time.Now()
	close(t.done)
	return true
}

// Worker consumes recalculation tasks from the event bus and tracks the tasks
// submitted through it.
type Worker struct {
	bus  domain.EventBus
	calc Calculator

	mu            sync.Mutex
	subscriptions []domain.Subscription
	tasks         map[string]*Task
	started       bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorker creates a worker. calc may be nil on nodes that only submit.
func NewWorker(b domain.EventBus, calc Calculator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    b,
		calc:   calc,
		tasks:  make(map[string]*Task),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to completions and, when a calculator is set, joins the
// recalculation queue for the configured jurisdictions.
func (w *Worker) Start(cfg Config) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	sub, err := w.bus.Subscribe(w.ctx, domain.AnyScope, domain.TopicRecalculationCompleted, w.handleCompleted)
	if err != nil {
		return fmt.Errorf("failed to subscribe to completions: %w", err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	if w.calc != nil {
		scopes := cfg.Jurisdictions
		if len(scopes) == 0 {
			scopes = []string{domain.AnyScope}
		}
		for _, scope := range scopes {
			if scope != domain.AnyScope {
				scope = jurisdiction.Normalize(scope)
			}
			sub, err := w.bus.SubscribeQueue(w.ctx, scope, domain.TopicRecalculationRequested, QueueGroup, w.handleRequested)
			if err != nil {
				slog.Error("failed to start worker for jurisdiction",
					"jurisdiction", scope,
					"error", err,
				)
				continue
			}
			w.subscriptions = append(w.subscriptions, sub)
			slog.Info("recalculation worker started",
				"jurisdiction", scope,
				"topic", domain.TopicRecalculationRequested,
			)
		}
	}

	w.started = true
	return nil
}

// Submit publishes a recalculation task. The returned task's Done channel
// closes when any worker node finishes it.
func (w *Worker) Submit(ctx context.Context, req *domain.RatingRequest) (*Task, error) {
	if req == nil {
		return nil, domain.NewValidationFailed("request is required", "send a rating request", nil)
	}
	code := jurisdiction.Normalize(req.Jurisdiction)
	if _, ok := jurisdiction.Lookup(code); !ok {
		return nil, domain.NewConfigurationMissing(fmt.Sprintf("jurisdiction %q is not configured", req.Jurisdiction), "", nil)
	}

	task := &Task{
		ID:           uuid.New().String(),
		Jurisdiction: code,
		SubmittedAt:  time.Now(),
		done:         make(chan struct{}),
	}

	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil, ErrNotStarted
	}
	w.pruneLocked(task.SubmittedAt)
	w.tasks[task.ID] = task
	w.mu.Unlock()

	clone := req.Clone()
	err := bus.PublishJSON(ctx, w.bus, code, domain.TopicRecalculationRequested, RecalculationRequest{
		TaskID:  task.ID,
		Request: &clone,
	})
	if err != nil {
		w.mu.Lock()
		delete(w.tasks, task.ID)
		w.mu.Unlock()
		return nil, domain.NewDependencyUnavailable("event bus", err)
	}

	slog.Debug("recalculation submitted", "task_id", task.ID, "jurisdiction", code)
	return task, nil
}

// Task returns a task submitted through this worker.
func (w *Worker) Task(id string) (*Task, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.tasks[id]
	return t, ok
}

func (w *Worker) pruneLocked(now time.Time) {
	for id, t := range w.tasks {
		t.mu.Lock()
		expired := !t.finished.IsZero() && now.Sub(t.finished) > TaskRetention
		t.mu.Unlock()
		if expired {
			delete(w.tasks, id)
		}
	}
}

// handleRequested prices one task and publishes the outcome. A rating failure
// is part of the outcome, not a handler error.
func (w *Worker) handleRequested(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var in RecalculationRequest
	if err := bus.DecodeJSON(msg, &in); err != nil {
		slog.Error("failed to parse recalculation request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	out := RecalculationCompleted{TaskID: in.TaskID}
	result, err := w.calc.CalculatePremium(ctx, in.Request)
	if err != nil {
		out.Error = asRatingError(err)
	} else {
		out.Result = result
	}
	out.DurationMs = time.Since(start).Milliseconds()

	if err := bus.PublishJSON(ctx, w.bus, msg.Scope, domain.TopicRecalculationCompleted, out); err != nil {
		slog.Error("failed to publish recalculation result",
			"task_id", in.TaskID,
			"error", err,
		)
		return err
	}

	slog.Info("recalculation processed",
		"task_id", in.TaskID,
		"jurisdiction", msg.Scope,
		"failed", out.Error != nil,
		"duration_ms", out.DurationMs,
	)
	return nil
}

// handleCompleted resolves tasks submitted from this node and ignores the rest.
func (w *Worker) handleCompleted(ctx context.Context, msg *domain.Message) error {
	var out RecalculationCompleted
	if err := bus.DecodeJSON(msg, &out); err != nil {
		return err
	}

	task, ok := w.Task(out.TaskID)
	if !ok {
		return nil
	}
	var err error
	if out.Error != nil {
		err = out.Error
	}
	task.complete(out.Result, err)
	return nil
}

func asRatingError(err error) *domain.RatingError {
	var re *domain.RatingError
	if errors.As(err, &re) {
		return re
	}
	return &domain.RatingError{Kind: domain.KindDependencyUnavailable, Message: err.Error()}
}

// Stop unsubscribes and fails every pending task.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.started = false

	for _, t := range w.tasks {
		t.complete(nil, ErrStopped)
	}

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	PendingTasks      int      `json:"pendingTasks"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	pending := 0
	for _, t := range w.tasks {
		if t.Status() == TaskPending {
			pending++
		}
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		PendingTasks:      pending,
	}
}
