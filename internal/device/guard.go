package device

import "github.com/camerafleet/orchestrator/internal/errs"

// RequireState checks that the device is in one of the allowed
// states. Operations that are only valid in certain states call it
// first and return its error unchanged if non-nil; this is the only
// source of the InvalidMethodDuringState code.
func RequireState(d *Device, allowed ...Kind) error {
	current := d.Kind()
	for _, k := range allowed {
		if current == k {
			return nil
		}
	}
	return errs.External(errs.ExternalInvalidMethodDuringState,
		"operation not valid while device %d is in state %s", d.ID, current)
}
