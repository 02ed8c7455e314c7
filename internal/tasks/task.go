// Package tasks implements the deployment task engine: a background
// scheduler that runs at most one task per device, and the concrete
// App/Model/Firmware/Config task variants that each walk a device
// through a deployment sub-protocol over MQTT.
package tasks

import (
	"context"
	"time"
)

// Status is a task's lifecycle phase.
type Status string

const (
	Initializing Status = "Initializing"
	Running      Status = "Running"
	Success      Status = "Success"
	Error        Status = "Error"
)

// TaskState is a task's observable state: {status, started_at, error?}.
type TaskState struct {
	Status    Status
	StartedAt time.Time
	Err       error
}

// HistoryInfo is the per-task summary recorded into the deploy
// history.
type HistoryInfo struct {
	Kind      string
	DeviceID  int
	Status    Status
	StartedAt time.Time
	Error     string
}

// Task is the common interface over the closed set of deployment
// variants: {Run, Stop, ID, Timeout, HistoryInfo}. ID is derived
// from kind+device_id so that duplicate submissions for the same
// device and kind collide.
type Task interface {
	// ID identifies this task for coalescing and lookup. Derived from
	// kind + device id, e.g. "firmware_task_for_device_7".
	ID() string
	// DeviceID names the device this task targets, used by the
	// Executor to enforce at-most-one-running-task-per-device.
	DeviceID() int
	// Run executes the task's sub-protocol. It must honor ctx
	// cancellation/deadline promptly.
	Run(ctx context.Context) error
	// Stop cooperatively aborts a running task. Must be idempotent and
	// return well within Timeout()/2.
	Stop(ctx context.Context) error
	// Timeout is the deadline the Executor applies to Run.
	Timeout() time.Duration
	// HistoryInfo summarizes this task for DeployHistory regardless of
	// whether it has finished running yet.
	HistoryInfo() HistoryInfo
}
