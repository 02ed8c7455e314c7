package tasks

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeTask is a minimal Task implementation for Executor tests.
type fakeTask struct {
	id       string
	deviceID int
	timeout  time.Duration
	run      func(ctx context.Context) error
	stopped  chan struct{}
}

func newFakeTask(id string, deviceID int, run func(ctx context.Context) error) *fakeTask {
	return &fakeTask{id: id, deviceID: deviceID, timeout: time.Second, run: run, stopped: make(chan struct{}, 1)}
}

func (f *fakeTask) ID() string { return f.id }
func (f *fakeTask) DeviceID() int { return f.deviceID }
func (f *fakeTask) Timeout() time.Duration { return f.timeout }
func (f *fakeTask) HistoryInfo() HistoryInfo { return HistoryInfo{Kind: "fake", DeviceID: f.deviceID} }
func (f *fakeTask) Run(ctx context.Context) error { return f.run(ctx) }
func (f *fakeTask) Stop(context.Context) error {
	select {
	case f.stopped <- struct{}{}:
	default:
	}
	return nil
}

func startExecutor(t *testing.T) *Executor {
	t.Helper()
	ex := NewExecutor(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go ex.Run(ctx)
	t.Cleanup(cancel)
	return ex
}

func TestExecutor_SubmitRunsTaskToSuccess(t *testing.T) {
	ex := startExecutor(t)
	task := newFakeTask("t1", 1, func(ctx context.Context) error { return nil })

	entity := ex.Submit(task)
	select {
	case <-entity.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not finish")
	}
	if entity.State().Status != Success {
		t.Errorf("Status = %s, want Success", entity.State().Status)
	}
}

func TestExecutor_CoalescesSameID(t *testing.T) {
	ex := startExecutor(t)
	started := make(chan struct{})
	release := make(chan struct{})
	task := newFakeTask("dup", 1, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})

	e1 := ex.Submit(task)
	<-started
	e2 := ex.Submit(newFakeTask("dup", 1, func(ctx context.Context) error { return nil }))
	if e1 != e2 {
		t.Error("Submit with a running duplicate id returned a different entity")
	}
	close(release)
	<-e1.Done()
}

func TestExecutor_AtMostOneRunningPerDevice(t *testing.T) {
	ex := startExecutor(t)

	var mu sync.Mutex
	running := 0
	maxRunning := 0
	release := make(chan struct{})

	track := func(ctx context.Context) error {
		mu.Lock()
		running++
		if running > maxRunning {
			maxRunning = running
		}
		mu.Unlock()
		<-release
		mu.Lock()
		running--
		mu.Unlock()
		return nil
	}

	e1 := ex.Submit(newFakeTask("a", 5, track))
	e2 := ex.Submit(newFakeTask("b", 5, track))

	time.Sleep(50 * time.Millisecond)
	if ex.RunningCount() != 1 {
		t.Errorf("RunningCount = %d, want 1 (at most one task per device)", ex.RunningCount())
	}
	close(release)
	<-e1.Done()
	<-e2.Done()

	mu.Lock()
	defer mu.Unlock()
	if maxRunning != 1 {
		t.Errorf("observed %d concurrently running tasks for one device, want at most 1", maxRunning)
	}
}

func TestExecutor_DistinctDevicesRunConcurrently(t *testing.T) {
	ex := startExecutor(t)
	release := make(chan struct{})

	var entities []*TaskEntity
	for i := 0; i < 3; i++ {
		entities = append(entities, ex.Submit(newFakeTask(fmt.Sprintf("dev-%d", i), i, func(ctx context.Context) error {
			<-release
			return nil
		})))
	}

	time.Sleep(50 * time.Millisecond)
	if got := ex.RunningCount(); got != 3 {
		t.Errorf("RunningCount = %d, want 3 distinct devices running concurrently", got)
	}
	close(release)
	for _, e := range entities {
		<-e.Done()
	}
}

func TestExecutor_TimeoutStopsTaskAndMarksError(t *testing.T) {
	ex := startExecutor(t)
	task := newFakeTask("slow", 9, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	task.timeout = 30 * time.Millisecond

	entity := ex.Submit(task)
	select {
	case <-entity.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("task did not finish after timeout")
	}
	if entity.State().Status != Error {
		t.Errorf("Status = %s, want Error", entity.State().Status)
	}
	select {
	case <-task.stopped:
	default:
		t.Error("expected Stop to be invoked on timeout")
	}
}

func TestExecutor_StopDrainsQueueAndCancelsRunning(t *testing.T) {
	ex := NewExecutor(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go ex.Run(ctx)
	defer cancel()

	running := ex.Submit(newFakeTask("running", 1, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	// Second task for the same device stays queued behind the first.
	queued := ex.Submit(newFakeTask("queued", 1, func(ctx context.Context) error { return nil }))

	time.Sleep(20 * time.Millisecond)
	ex.Stop()

	select {
	case <-queued.Done():
	case <-time.After(time.Second):
		t.Fatal("queued task was not drained by Stop")
	}
	if queued.State().Status != Error {
		t.Errorf("queued task Status = %s, want Error", queued.State().Status)
	}

	select {
	case <-running.Done():
	case <-time.After(time.Second):
		t.Fatal("running task was not cancelled by Stop")
	}
}
