// Package enforce implements the shadow/enforce decision of §4.6: in
// enforce mode, the offending host PID is sent exactly one SIGKILL per
// emitted match, synchronously on the consumer thread.
package enforce

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Mode is the enforcement posture, canonicalized per §9(c).
type Mode int

const (
	// Shadow logs only; no process is terminated. Default mode.
	Shadow Mode = iota
	// Enforce additionally issues a best-effort SIGKILL.
	Enforce
)

// Action is the outcome recorded in the alert log's "action" field.
type Action string

const (
	ActionLogged           Action = "logged"
	ActionTerminated        Action = "terminated"
	ActionTerminateFailed   Action = "terminate_failed"
)

// Decide issues a SIGKILL to pid when mode is Enforce, and reports the
// action to record in the alert log. EPERM/ESRCH are treated as expected,
// non-fatal outcomes (§7 "Enforcement" taxonomy) — logged, not retried.
func Decide(mode Mode, pid uint32) Action {
	if mode == Shadow {
		return ActionLogged
	}

	err := unix.Kill(int(pid), unix.SIGKILL)
	if err == nil {
		return ActionTerminated
	}
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.ESRCH) {
		return ActionTerminateFailed
	}
	return ActionTerminateFailed
}
