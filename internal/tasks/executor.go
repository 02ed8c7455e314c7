package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/camerafleet/orchestrator/internal/errs"
)

// Notifier is the narrow interface Executor needs from the
// notification bus, mirroring device.Notifier to avoid an import
// cycle between tasks and notify.
type Notifier interface {
	Publish(kind string, data any)
}

// TaskEntity is the handle Submit returns: a thread-safe view over a
// Task's evolving TaskState plus a channel that closes when the task
// finishes.
type TaskEntity struct {
	Task Task

	mu    sync.Mutex
	state TaskState
	done  chan struct{}
}

func newEntity(t Task) *TaskEntity {
	return &TaskEntity{
		Task:  t,
		state: TaskState{Status: Initializing, StartedAt: time.Now()},
		done:  make(chan struct{}),
	}
}

// State returns a snapshot of the task's current status.
func (e *TaskEntity) State() TaskState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *TaskEntity) setState(s TaskState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Done returns a channel closed once the task reaches Success or Error.
func (e *TaskEntity) Done() <-chan struct{} { return e.done }

// Executor is the background deployment scheduler: a single
// dispatch loop that pulls queued tasks whose device is idle and
// runs at most one task per device concurrently.
type Executor struct {
	log    *logrus.Entry
	notify Notifier

	mu            sync.Mutex
	entities      map[string]*TaskEntity   // id -> queued or running entity
	queue         []*TaskEntity            // submit order
	runningDevice map[int]string           // device id -> running task id
	cancels       map[string]context.CancelFunc

	wake chan struct{}
}

// NewExecutor builds an idle Executor. Call Run in its own goroutine
// to start the scheduling loop.
func NewExecutor(notify Notifier, log *logrus.Logger) *Executor {
	if log == nil {
		log = logrus.New()
	}
	return &Executor{
		log:           log.WithField("component", "tasks.executor"),
		notify:        notify,
		entities:      make(map[string]*TaskEntity),
		runningDevice: make(map[int]string),
		cancels:       make(map[string]context.CancelFunc),
		wake:          make(chan struct{}, 1),
	}
}

// Run services the dispatch loop until ctx is cancelled.
func (ex *Executor) Run(ctx context.Context) {
	ex.tryDispatch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ex.wake:
			ex.tryDispatch(ctx)
		}
	}
}

func (ex *Executor) wakeUp() {
	select {
	case ex.wake <- struct{}{}:
	default:
	}
}

// Submit enqueues t. If a task with the same ID is already queued or
// running, the existing TaskEntity is returned unchanged.
func (ex *Executor) Submit(t Task) *TaskEntity {
	ex.mu.Lock()
	if existing, ok := ex.entities[t.ID()]; ok {
		ex.mu.Unlock()
		return existing
	}
	entity := newEntity(t)
	ex.entities[t.ID()] = entity
	ex.queue = append(ex.queue, entity)
	ex.mu.Unlock()

	ex.wakeUp()
	return entity
}

// tryDispatch scans the queue in submit order and starts every
// queued task whose device is currently idle, preserving per-device
// ordering: a device's later tasks stay queued until its earlier one
// finishes and frees runningDevice[id].
func (ex *Executor) tryDispatch(ctx context.Context) {
	ex.mu.Lock()
	remaining := ex.queue[:0:0]
	var toRun []*TaskEntity
	for _, entity := range ex.queue {
		deviceID := entity.Task.DeviceID()
		if _, busy := ex.runningDevice[deviceID]; busy {
			remaining = append(remaining, entity)
			continue
		}
		ex.runningDevice[deviceID] = entity.Task.ID()
		toRun = append(toRun, entity)
	}
	ex.queue = remaining
	ex.mu.Unlock()

	for _, entity := range toRun {
		go ex.runTask(ctx, entity)
	}
}

func (ex *Executor) runTask(parent context.Context, entity *TaskEntity) {
	t := entity.Task
	runCtx, cancel := context.WithTimeout(parent, t.Timeout())

	ex.mu.Lock()
	ex.cancels[t.ID()] = cancel
	ex.mu.Unlock()

	entity.setState(TaskState{Status: Running, StartedAt: time.Now()})

	resultCh := make(chan error, 1)
	go func() { resultCh <- t.Run(runCtx) }()

	var final TaskState
	select {
	case err := <-resultCh:
		cancel()
		if err != nil {
			final = TaskState{Status: Error, Err: err}
		} else {
			final = TaskState{Status: Success}
		}
	case <-runCtx.Done():
		reason := "timeout"
		if parent.Err() != nil {
			reason = "externally stopped"
		}
		stopCtx, stopCancel := context.WithTimeout(context.Background(), t.Timeout()/2)
		_ = t.Stop(stopCtx)
		stopCancel()
		<-resultCh // Run must respect ctx and return promptly once Stop completes.
		final = TaskState{Status: Error, Err: errs.External(errs.ExternalDeploymentFailed, "%s: %s", t.ID(), reason)}
		cancel()
	}

	entity.setState(final)
	close(entity.done)

	if ex.notify != nil {
		ex.notify.Publish("task_finished", map[string]any{
			"task_id":   t.ID(),
			"device_id": t.DeviceID(),
			"status":    string(final.Status),
		})
	}

	ex.mu.Lock()
	delete(ex.cancels, t.ID())
	delete(ex.entities, t.ID())
	if ex.runningDevice[t.DeviceID()] == t.ID() {
		delete(ex.runningDevice, t.DeviceID())
	}
	ex.mu.Unlock()

	ex.wakeUp()
}

// Stop cancels every running task cooperatively and drains the queue,
// marking queued tasks Error("externally stopped") without running
// them.
func (ex *Executor) Stop() {
	ex.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(ex.cancels))
	for _, c := range ex.cancels {
		cancels = append(cancels, c)
	}
	queued := ex.queue
	ex.queue = nil
	ex.mu.Unlock()

	for _, c := range cancels {
		c()
	}

	for _, entity := range queued {
		entity.setState(TaskState{Status: Error, Err: errs.External(errs.ExternalDeploymentFailed, "%s: externally stopped", entity.Task.ID())})
		close(entity.done)
		ex.mu.Lock()
		delete(ex.entities, entity.Task.ID())
		ex.mu.Unlock()
	}
}

// RunningCount reports how many tasks are currently executing, mostly
// useful for tests asserting the at-most-one-per-device invariant.
func (ex *Executor) RunningCount() int {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return len(ex.runningDevice)
}
