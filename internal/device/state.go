package device

import "time"

// Kind names one of the tagged State variants. Exactly one Kind is
// active for a Device at any time; a freshly-constructed Device that
// has not yet connected is Uninitialized. The zero Kind ("") is not a
// variant.
type Kind string

const (
	KindUninitialized     Kind = "Uninitialized"
	KindDisconnected      Kind = "Disconnected"
	KindReady             Kind = "Ready"
	KindAppDeploying      Kind = "AppDeploying"
	KindModelDeploying    Kind = "ModelDeploying"
	KindFirmwareDeploying Kind = "FirmwareDeploying"
	KindStreaming         Kind = "Streaming"
	KindError             Kind = "Error"
)

// DeploymentManifest is the minimal shape an *Deploying state needs
// to remember while a task is in flight: which task is deploying and
// when it started.
type DeploymentManifest struct {
	TaskID  string
	Started time.Time
}

// State is the tagged variant a Device is always in exactly one of:
// each concrete state may carry state-local data, and the only
// mutator of a Device's current State is transition(), which calls
// OnExit on the outgoing state and OnEnter on the incoming one.
type State interface {
	Kind() Kind
	// OnExit runs before the state is replaced. It may block (e.g. to
	// signal waiters) but must complete; the caller never cancels it,
	// so cleanup always finishes.
	OnExit(d *Device)
	// OnEnter runs immediately after the state is installed.
	OnEnter(d *Device)
}

type baseState struct{}

func (baseState) OnExit(*Device) {}
func (baseState) OnEnter(*Device) {}

// UninitializedState is the state of a Device before its MQTT session
// has ever connected.
type UninitializedState struct{ baseState }

func (UninitializedState) Kind() Kind { return KindUninitialized }

// DisconnectedState is entered on MQTT loss from any other state, and
// is the state of a freshly-declared device before its first telemetry.
type DisconnectedState struct{ baseState }

func (DisconnectedState) Kind() Kind { return KindDisconnected }

// ReadyState is the idle state a device settles into between
// deployments and streaming sessions.
type ReadyState struct{ baseState }

func (ReadyState) Kind() Kind { return KindReady }

// AppDeployingState carries the manifest and completion signal for an
// in-flight AppTask.
type AppDeployingState struct {
	baseState
	Manifest DeploymentManifest
	Done     chan struct{}
}

func (AppDeployingState) Kind() Kind { return KindAppDeploying }

func (s AppDeployingState) OnExit(d *Device) {
	select {
	case <-s.Done:
	default:
		close(s.Done)
	}
}

// ModelDeployingState mirrors AppDeployingState for ModelTask.
type ModelDeployingState struct {
	baseState
	Manifest DeploymentManifest
	Done     chan struct{}
}

func (ModelDeployingState) Kind() Kind { return KindModelDeploying }

func (s ModelDeployingState) OnExit(d *Device) {
	select {
	case <-s.Done:
	default:
		close(s.Done)
	}
}

// FirmwareDeployingState mirrors AppDeployingState for FirmwareTask.
type FirmwareDeployingState struct {
	baseState
	Manifest DeploymentManifest
	Done     chan struct{}
}

func (FirmwareDeployingState) Kind() Kind { return KindFirmwareDeploying }

func (s FirmwareDeployingState) OnExit(d *Device) {
	select {
	case <-s.Done:
	default:
		close(s.Done)
	}
}

// StreamingState is entered by StartStreaming and left on Stop.
type StreamingState struct{ baseState }

func (StreamingState) Kind() Kind { return KindStreaming }

// ErrorState carries the error that caused the transition.
type ErrorState struct {
	baseState
	Err error
}

func (ErrorState) Kind() Kind { return KindError }
