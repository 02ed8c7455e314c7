package device

import (
	"context"

	"github.com/looplab/fsm"
)

// newDeviceFSM builds the looplab/fsm.FSM that validates Kind-to-Kind
// transitions: one fsm.FSM per device, events named after the
// destination state, an enter_state logging callback. The FSM only
// judges whether a move is legal; transition() in device.go is what
// actually swaps the richer State value and runs OnExit/OnEnter.
func newDeviceFSM(d *Device) *fsm.FSM {
	return fsm.NewFSM(
		string(KindUninitialized),
		fsm.Events{
			{Name: string(KindDisconnected), Src: []string{
				string(KindUninitialized), string(KindReady), string(KindStreaming),
				string(KindAppDeploying), string(KindModelDeploying), string(KindFirmwareDeploying),
				string(KindError),
			}, Dst: string(KindDisconnected)},

			{Name: string(KindReady), Src: []string{
				string(KindDisconnected), string(KindAppDeploying), string(KindModelDeploying),
				string(KindFirmwareDeploying), string(KindStreaming), string(KindError),
			}, Dst: string(KindReady)},

			{Name: string(KindAppDeploying), Src: []string{string(KindReady)}, Dst: string(KindAppDeploying)},
			{Name: string(KindModelDeploying), Src: []string{string(KindReady)}, Dst: string(KindModelDeploying)},
			{Name: string(KindFirmwareDeploying), Src: []string{string(KindReady)}, Dst: string(KindFirmwareDeploying)},

			{Name: string(KindStreaming), Src: []string{string(KindReady)}, Dst: string(KindStreaming)},

			{Name: string(KindError), Src: []string{
				string(KindReady), string(KindAppDeploying), string(KindModelDeploying),
				string(KindFirmwareDeploying), string(KindStreaming), string(KindDisconnected),
			}, Dst: string(KindError)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				d.log.WithFields(map[string]any{
					"from": e.Src,
					"to":   e.Dst,
				}).Debug("device state transition")
			},
		},
	)
}
