package dill

// FDEvents is a bitmask of the I/O readiness conditions Fdwait can watch
// for, named after the teacher pack's eventloop.IOEvents.
type FDEvents uint32

const (
	FDRead FDEvents = 1 << iota
	FDWrite
	FDError
)

// Poller is the external collaborator a Runtime asks to park a coroutine
// on file descriptor readiness, mirroring poller.h's dill_poller_init /
// dill_wait contract. It is callback-based rather than exposing the
// package's unexported coroutine type. An implementation may invoke Add's
// wake callback from any goroutine; Fdwait forwards it to the scheduler
// goroutine, so it takes effect like a timer firing.
type Poller interface {
	// Add registers interest in events on fd, arming an optional deadline
	// (0 means no deadline). wake is called at most once, with the
	// events that fired or a non-nil err (ErrTimedOut on deadline,
	// ErrCanceled on cancellation).
	Add(fd int, events FDEvents, deadline int64, wake func(events FDEvents, err error)) error

	// Remove cancels a prior Add for fd that has not yet fired.
	Remove(fd int) error

	// PostFork re-establishes any OS-level polling handle that does not
	// survive fork, mirroring dill_poller_postfork.
	PostFork() error

	// Close releases the poller's OS resources.
	Close() error
}

// NoopPoller rejects every Fdwait; it is the default Poller for runtimes
// that never touch file descriptors, so the core package carries no OS
// dependency of its own.
type NoopPoller struct{}

func (NoopPoller) Add(int, FDEvents, int64, func(FDEvents, error)) error { return ErrNotSupported }
func (NoopPoller) Remove(int) error                                     { return ErrNotSupported }
func (NoopPoller) PostFork() error                                      { return nil }
func (NoopPoller) Close() error                                         { return nil }

// Fdwait parks the caller until fd becomes ready for one of events, the
// deadline elapses, or the coroutine is canceled.
//
// Poller implementations may invoke the wake callback from any
// goroutine (their own polling loop), so Fdwait never lets it touch
// Runtime state directly: it hands the actual wakeCoroutine call to the
// scheduler goroutine via rt.pollerWake, preserving the single-authority
// invariant the rest of the package relies on to stay lock-free.
func (c *Coroutine) Fdwait(fd int, events FDEvents, deadline int64) (FDEvents, error) {
	if c.cr.canceled {
		return 0, opErr("Fdwait", 0, ErrCanceled)
	}
	verbose := c.rt.HasToggle("fdwait")
	if verbose {
		c.rt.logf(LevelDebug, "poller", 0, nil, "fdwait fd=%d events=%d deadline=%d", fd, events, deadline)
	}
	var got FDEvents
	err := c.rt.poller.Add(fd, events, deadline, func(events FDEvents, err error) {
		c.rt.pollerWake <- func() {
			got = events
			c.rt.wakeCoroutine(c.cr, 0, err)
		}
	})
	if err != nil {
		return 0, opErr("Fdwait", 0, err)
	}
	c.rt.park(c)
	if verbose {
		c.rt.logf(LevelDebug, "poller", 0, c.cr.resumeErr, "fdwait fd=%d woke events=%d", fd, got)
	}
	if c.cr.resumeErr != nil {
		return 0, opErr("Fdwait", 0, c.cr.resumeErr)
	}
	return got, nil
}
