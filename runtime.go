package dill

import "sync"

// defaultRuntime backs the package-level free functions, giving callers
// who don't need multiple independent runtimes a zero-configuration
// entry point, the same way libdill has exactly one process-wide
// scheduler. Tests that need isolation should construct their own
// Runtime with New instead.
var (
	defaultOnce sync.Once
	defaultRT   *Runtime
)

func defaultRuntime() *Runtime {
	defaultOnce.Do(func() {
		defaultRT = New(NewConfig())
	})
	return defaultRT
}

// Main returns the Coroutine representing the calling goroutine on the
// default Runtime.
func Main() *Coroutine {
	return defaultRuntime().Main()
}

// Go launches fn as a coroutine on the default Runtime.
func Go(fn func(*Coroutine)) (Handle, error) {
	return defaultRuntime().Go(fn)
}

// NewChannel creates a channel on the default Runtime, as seen from the
// calling (main) coroutine.
func NewChannel(bufsz int) (Handle, error) {
	return Main().NewChannel(bufsz)
}
