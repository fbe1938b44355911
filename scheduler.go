package dill

import (
	"fmt"
	"io"
	"runtime"
)

// resumeTimedOut and resumePoll are the clause-index values carried on a
// resume that did not complete any particular clause, matching the
// convention that only peer-completion or a done cascade ever deliver a
// non-negative clause index (SPEC_FULL.md §4.4 "Wake sources").
const (
	resumeTimedOut = -1
	resumePoll     = -1
)

// wakeMsg is handed from whoever is driving the schedule to a parked
// coroutine's goroutine, to let it continue running.
type wakeMsg struct {
	val int
	err error
}

// reportKind tells the driver why a coroutine stopped running.
type reportKind uint8

const (
	reportParked reportKind = iota
	reportFinished
)

type reportMsg struct {
	kind reportKind
}

// coroutine is the control block described in SPEC_FULL.md §3. Exactly
// one coroutine's body is ever executing user code at a time; every
// other live coroutine is either sitting in the ready queue or parked
// waiting on a channel endpoint / timer. This invariant is what lets the
// rest of the package mutate Runtime state without locks.
type coroutine struct {
	handle  Handle
	wake    chan wakeMsg
	report  chan reportMsg
	queued  bool
	canceled bool
	stopping bool
	finished bool

	pendingVal int
	pendingErr error

	resumeVal int
	resumeErr error

	// choosedata: populated only while a Choose call from this coroutine
	// is in flight.
	cd *choosedata

	timer *timerEntry

	joinWaiters []*coroutine

	created string
}

// choosedata mirrors SPEC_FULL.md §3: the scratch state a blocked Choose
// call needs to find its own clauses again when woken or cancelled.
type choosedata struct {
	clauses  []Clause
	postings []*clausePosting // one per clause; clauses naming the same endpoint each get their own
	deadline int64
	timer    *timerEntry

	// triggered is set the first time any clause of this choose is woken
	// (by a peer, Done, closeChannel, a timeout or a cancellation). Once
	// set, every other posting has already been stripped from its
	// endpoint by wakeCoroutine, so a second peer racing to complete a
	// different clause in the same scheduler quantum finds nothing to
	// transfer against and blocks normally instead.
	triggered bool
}

// Coroutine is the public handle a caller uses to perform blocking
// operations "as" a particular coroutine: Go's goroutines have no
// ambient notion of "the current coroutine" the way libdill's global
// dill_running does, so every blocking method in this package is an
// explicit method on *Coroutine instead of a free function that looks up
// implicit state.
type Coroutine struct {
	rt *Runtime
	cr *coroutine
}

// Handle returns the handle naming this coroutine.
func (c *Coroutine) Handle() Handle { return c.cr.handle }

// Runtime owns every piece of process-wide mutable state named in
// SPEC_FULL.md §9 ("Global mutable state"): the handle table, the ready
// queue, the timer heap, the invocation sequence counter, the poller and
// the logger. It is safe to run many independent Runtimes in one
// process (e.g. one per test); within a single Runtime only one
// coroutine body ever executes at a time.
type Runtime struct {
	handles *hregistry

	ready []*coroutine

	timers timerHeap

	seq uint64

	poller  Poller
	logger  Logger
	runID   string
	toggles map[string]bool

	main *Coroutine

	bell       chan struct{}
	stop       chan struct{}
	pollerWake chan func()

	spawn func(func())
}

// HasToggle reports whether name was enabled in the Config this Runtime
// was built from (see WithFeatureToggles / LoadFeatureToggles).
func (rt *Runtime) HasToggle(name string) bool { return rt.toggles[name] }

// New creates a Runtime and starts its internal scheduler. cfg supplies
// the ambient tuning (logger, poller, run ID, spawn hook, toggles); zero-value
// Config is usable and yields a NoopLogger + NoopPoller.
func New(cfg Config) *Runtime {
	toggles := make(map[string]bool, len(cfg.FeatureToggles))
	for _, t := range cfg.FeatureToggles {
		toggles[t] = true
	}
	rt := &Runtime{
		handles:    newRegistry(),
		logger:     cfg.logger(),
		poller:     cfg.poller(),
		runID:      cfg.runID(),
		toggles:    toggles,
		bell:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		pollerWake: make(chan func(), 64),
		spawn:      cfg.goFunc(),
	}
	mainCR := &coroutine{wake: make(chan wakeMsg), report: make(chan reportMsg), created: "main"}
	rt.main = &Coroutine{rt: rt, cr: mainCR}
	rt.spawn(func() {
		<-mainCR.report // wait for main's very first park; see DESIGN.md (scheduler.go)
		rt.schedulerLoop()
	})
	rt.logf(LevelInfo, "runtime", 0, nil, "runtime started")
	return rt
}

// Main returns the Coroutine representing the goroutine that called New.
// It is the Go-native equivalent of libdill's implicit top-level
// coroutine: the caller of New never goes through Go(), but still needs
// a *Coroutine to invoke blocking operations.
func (rt *Runtime) Main() *Coroutine { return rt.main }

// Shutdown stops the scheduler. It does not cancel or join outstanding
// coroutines; callers should Close every coroutine handle they care
// about first.
func (rt *Runtime) Shutdown() {
	close(rt.stop)
}

func (rt *Runtime) ring() {
	select {
	case rt.bell <- struct{}{}:
	default:
	}
}

func (rt *Runtime) pushReady(cr *coroutine) {
	if cr.queued {
		return
	}
	cr.queued = true
	rt.ready = append(rt.ready, cr)
	rt.ring()
}

func (rt *Runtime) popReady() (*coroutine, bool) {
	if len(rt.ready) == 0 {
		return nil, false
	}
	cr := rt.ready[0]
	rt.ready = rt.ready[1:]
	cr.queued = false
	return cr, true
}

// wakeCoroutine is dill_resume: append cr to the ready tail and record
// the value/error its next suspend call should observe.
//
// If cr is currently blocked in a Choose, this also performs the job
// dill_trigger does in the reference implementation: every one of that
// Choose's clause postings is stripped from its endpoint right now,
// before this call returns, not deferred until cr is eventually
// dispatched and its suspend's onUnblock callback runs. Without this, a
// second peer that becomes ready on a different clause of the same
// blocked Choose within the same scheduler quantum would still find its
// posting registered, complete a second transfer, and call wakeCoroutine
// again — overwriting the first wake's pendingVal/pendingErr while
// pushReady's already-queued check silently drops the duplicate
// resumption, which both loses the first peer's transferred value and
// lets a clause other than the reported winner observe a side effect.
// Stripping at trigger time instead means the second peer's own
// chooseError check sees the channel as still blocked and parks
// normally, deferring to a later round.
func (rt *Runtime) wakeCoroutine(cr *coroutine, val int, err error) {
	if cr.finished {
		return
	}
	if cd := cr.cd; cd != nil && !cd.triggered {
		cd.triggered = true
		for _, p := range cd.postings {
			p.unregister()
		}
		if cd.timer != nil {
			rt.removeTimer(cd.timer)
		}
	}
	cr.pendingVal = val
	cr.pendingErr = err
	rt.pushReady(cr)
}

// dispatch hands control to cr and blocks until it parks or finishes.
func (rt *Runtime) dispatch(cr *coroutine) {
	cr.wake <- wakeMsg{val: cr.pendingVal, err: cr.pendingErr}
	rep := <-cr.report
	if rep.kind == reportFinished {
		cr.finished = true
		waiters := cr.joinWaiters
		cr.joinWaiters = nil
		for _, w := range waiters {
			rt.wakeCoroutine(w, 0, nil)
		}
	}
}

// schedulerLoop is the single driver that ever pops the ready queue. It
// is started once per Runtime and runs for its lifetime.
func (rt *Runtime) schedulerLoop() {
	for {
		if cr, ok := rt.popReady(); ok {
			rt.dispatch(cr)
			continue
		}
		if deadline, ok := rt.nextDeadline(); ok {
			delay := deadline - Now()
			if delay <= 0 {
				rt.firePastDeadlines(Now())
				continue
			}
			select {
			case <-rt.bell:
			case fn := <-rt.pollerWake:
				fn()
			case <-afterMillis(delay):
			case <-rt.stop:
				return
			}
			rt.firePastDeadlines(Now())
			continue
		}
		select {
		case <-rt.bell:
		case fn := <-rt.pollerWake:
			fn()
		case <-rt.stop:
			return
		}
	}
}

// park hands control back to the scheduler and blocks until this
// coroutine is dispatched again, recording the resume value/error it
// was woken with.
func (rt *Runtime) park(c *Coroutine) {
	c.cr.report <- reportMsg{kind: reportParked}
	msg := <-c.cr.wake
	c.cr.resumeVal = msg.val
	c.cr.resumeErr = msg.err
}

// GoFunc spawns the goroutine backing a new coroutine. Overriding it (via
// Config) lets tests observe or intercept coroutine creation, preserving
// the role the teacher's WithGoFunc option played.
type GoFunc = func(func())

// Go launches a coroutine running fn and returns its handle immediately;
// fn does not start running until the scheduler reaches it.
func (rt *Runtime) Go(fn func(*Coroutine)) (Handle, error) {
	_, file, line, _ := runtime.Caller(1)
	site := fmt.Sprintf("%s:%d", file, line)

	cr := &coroutine{wake: make(chan wakeMsg), report: make(chan reportMsg), created: site}
	self := &Coroutine{rt: rt, cr: cr}

	h, err := rt.handles.create(kindCoroutine, cr, vtable{
		isCoroutine: true,
		target:      cr,
		dump: func(h Handle, w io.Writer) {
			fmt.Fprintf(w, "  COROUTINE canceled:%v finished:%v created:%s\n", cr.canceled, cr.finished, cr.created)
		},
	}, site)
	if err != nil {
		return 0, opErr("Go", 0, err)
	}
	cr.handle = h

	rt.spawn(func() {
		msg := <-cr.wake
		cr.resumeVal = msg.val
		cr.resumeErr = msg.err
		fn(self)
		cr.report <- reportMsg{kind: reportFinished}
	})
	rt.wakeCoroutine(cr, 0, nil)
	rt.logf(LevelDebug, "handle", h, nil, "coroutine created at %s", site)
	return h, nil
}

// Yield places the caller on the tail of the ready queue and runs the
// next ready coroutine, returning once its turn comes back around.
func (c *Coroutine) Yield() error {
	if c.cr.canceled {
		return opErr("Yield", 0, ErrCanceled)
	}
	c.rt.wakeCoroutine(c.cr, 0, nil)
	c.rt.park(c)
	return opErr("Yield", 0, c.cr.resumeErr)
}

// Sleep suspends the caller until deadline (an absolute Now()-scale
// millisecond timestamp) elapses, or until cancellation.
func (c *Coroutine) Sleep(deadline int64) error {
	if c.cr.canceled {
		return opErr("Sleep", 0, ErrCanceled)
	}
	e := c.rt.addTimer(c.cr, deadline)
	c.cr.timer = e
	c.rt.park(c)
	c.rt.removeTimer(e)
	c.cr.timer = nil
	if c.cr.resumeErr == ErrTimedOut {
		return nil // a fired sleep timer is a normal wakeup, not an error
	}
	return opErr("Sleep", 0, c.cr.resumeErr)
}

// suspend is the generic "park and report one outcome" primitive choose
// uses: callers must have already registered cr wherever it needs to be
// found again (endpoint lists, timer heap) before calling this. onUnblock
// runs unconditionally once woken, regardless of why, to strip any
// registrations the wake reason didn't already consume (SPEC_FULL.md
// §4.4).
func (c *Coroutine) suspend(onUnblock func()) (int, error) {
	c.rt.park(c)
	if onUnblock != nil {
		onUnblock()
	}
	return c.cr.resumeVal, c.cr.resumeErr
}

// Dup increments h's reference count.
func (c *Coroutine) Dup(h Handle) (Handle, error) {
	h2, err := c.rt.handles.dup(h)
	return h2, opErr("Dup", h, err)
}

// Close releases one reference to h. If it was the last reference and h
// names a coroutine, Close delivers cancellation and blocks (parks) until
// the target finishes, joining it; closing a channel never blocks.
func (c *Coroutine) Close(h Handle) error {
	wasStopping := c.cr.stopping
	c.cr.stopping = true
	defer func() { c.cr.stopping = wasStopping }()

	err := c.rt.handles.close(h, func(vt vtable) error {
		if vt.isCoroutine {
			return c.rt.cancelAndJoin(c, vt.target)
		}
		return vt.close(h)
	})
	return opErr("Close", h, err)
}

// cancelAndJoin implements the cancel+join half of a coroutine handle's
// Close, per SPEC_FULL.md §4.2.
func (rt *Runtime) cancelAndJoin(joiner *Coroutine, target *coroutine) error {
	target.canceled = true
	if target.finished {
		return nil
	}
	if rt.toggles["strict-close"] {
		rt.logf(LevelWarn, "handle", target.handle, nil, "coroutine closed while still running, forcing cancellation (created at %s)", target.created)
	}
	if !target.queued {
		rt.wakeCoroutine(target, -1, ErrCanceled)
	}
	target.joinWaiters = append(target.joinWaiters, joiner.cr)
	rt.park(joiner)
	return nil
}

// Dump writes a human-readable description of h to w.
func (c *Coroutine) Dump(h Handle, w io.Writer) error {
	return opErr("Dump", h, c.rt.handles.dump(h, w))
}
