// Package affinity pins pipeline stages to CPU cores. High-rate producers
// keep their ring-local caches warm by staying on the core the ring was
// configured for.
package affinity

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// None marks the absence of a core hint.
const None = -1

// Bind locks the calling goroutine to its OS thread and restricts that
// thread to the given core. The caller owns the thread until Unbind.
func Bind(core int) error {
	if core < 0 || core >= runtime.NumCPU() {
		return fmt.Errorf("core %d is out of range [0, %d)", core, runtime.NumCPU())
	}
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		runtime.UnlockOSThread()
		return fmt.Errorf("failed to set affinity to core %d: %w", core, err)
	}
	return nil
}

// Unbind restores the thread's default affinity mask and releases the
// goroutine from its OS thread.
func Unbind() {
	var set unix.CPUSet
	set.Zero()
	for i := 0; i < runtime.NumCPU(); i++ {
		set.Set(i)
	}
	unix.SchedSetaffinity(0, &set)
	runtime.UnlockOSThread()
}

// Current returns the first core in the calling thread's affinity mask,
// or None if the mask cannot be read.
func Current() int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return None
	}
	for i := 0; i < runtime.NumCPU(); i++ {
		if set.IsSet(i) {
			return i
		}
	}
	return None
}
