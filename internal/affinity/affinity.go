// Package affinity pins the calling OS thread to a specific CPU core, used
// by a reactor thread to reduce cache-line migration across cores. This is
// an ambient, best-effort optimization adapted from the teacher's
// internal/concurrency affinity/pin machinery; failure to pin is never
// fatal, it is only ever a hint.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package affinity

// Pin attempts to bind the current OS thread to cpu. Callers must have
// already called runtime.LockOSThread. Returns nil if pinning is
// unsupported on this platform or cpu is negative; otherwise returns the
// underlying syscall's error, which is informational only.
func Pin(cpu int) error {
	return pin(cpu)
}
