package dill

import (
	"container/list"
	"fmt"
	"io"
	"runtime"
)

// endpoint is one side (sender or receiver) of a channel: a FIFO of
// parked clauses waiting for a peer, backed by container/list so an
// arbitrary clause can be removed in O(1) when some other clause of the
// same choose wins instead (SPEC_FULL.md §4.3).
type endpoint struct {
	clauses *list.List // of *clausePosting
}

func newEndpoint() endpoint {
	return endpoint{clauses: list.New()}
}

// clausePosting is one clause of one in-flight Choose call, registered on
// a channel endpoint while its coroutine is parked waiting for a peer.
type clausePosting struct {
	cr   *coroutine
	idx  int // index into the owning choosedata.clauses
	op   Op
	val  any // outgoing value for a send, or delivery slot for a recv
	err  error
	list *list.List    // the endpoint list elem is threaded onto
	elem *list.Element // nil once removed
}

// unregister removes p from its endpoint, if it is still registered
// there. It is idempotent: once removed (by a peer's transfer or by a
// trigger stripping every posting of a just-woken choose), further calls
// are no-ops, so the same posting can safely be unregistered twice by
// independent code paths racing to clean it up.
func (p *clausePosting) unregister() {
	if p.elem == nil {
		return
	}
	p.list.Remove(p.elem)
	p.elem = nil
}

// chanObj is the channel object a Handle of kind kindChannel points at.
// bufsz 0 means unbuffered (pure rendezvous); ring is nil in that case.
type chanObj struct {
	bufsz int
	ring  []any
	first int
	items int
	done  bool

	sender   endpoint
	receiver endpoint
}

// NewChannel creates a channel able to hold bufsz buffered items (0 for
// an unbuffered, synchronous channel) and returns its handle.
func (c *Coroutine) NewChannel(bufsz int) (Handle, error) {
	if bufsz < 0 {
		return 0, opErr("NewChannel", 0, ErrInvalid)
	}
	ch := &chanObj{
		bufsz:    bufsz,
		sender:   newEndpoint(),
		receiver: newEndpoint(),
	}
	if bufsz > 0 {
		ch.ring = make([]any, bufsz)
	}
	_, file, line, _ := runtime.Caller(1)
	site := fmt.Sprintf("%s:%d", file, line)
	h, err := c.rt.handles.create(kindChannel, ch, vtable{
		close: func(h Handle) error { return c.rt.closeChannel(h, ch) },
		dump: func(h Handle, w io.Writer) {
			fmt.Fprintf(w, "  CHANNEL items:%d/%d done:%v\n", ch.items, ch.bufsz, ch.done)
		},
	}, site)
	if err != nil {
		return 0, opErr("NewChannel", 0, err)
	}
	return h, nil
}

func (rt *Runtime) chanData(h Handle) (*chanObj, error) {
	d, err := rt.handles.data(h, kindChannel)
	if err != nil {
		return nil, err
	}
	return d.(*chanObj), nil
}

// closeChannel resumes every still-parked sender and receiver with
// ErrPipe before the handle is released, matching dill_chan_close.
func (rt *Runtime) closeChannel(h Handle, ch *chanObj) error {
	for e := ch.sender.clauses.Front(); e != nil; e = ch.sender.clauses.Front() {
		p := e.Value.(*clausePosting)
		p.unregister()
		p.err = ErrPipe
		rt.wakeCoroutine(p.cr, p.idx, nil)
	}
	for e := ch.receiver.clauses.Front(); e != nil; e = ch.receiver.clauses.Front() {
		p := e.Value.(*clausePosting)
		p.unregister()
		p.err = ErrPipe
		rt.wakeCoroutine(p.cr, p.idx, nil)
	}
	return nil
}

// Done puts ch into done mode: every future receive drains the buffer and
// then returns ErrPipe with a zero value, and every currently parked
// sender/receiver is resumed with ErrPipe right away. Calling Done twice
// is an error, matching dill_chdone.
func (c *Coroutine) Done(h Handle) error {
	ch, err := c.rt.chanData(h)
	if err != nil {
		return opErr("Done", h, err)
	}
	if ch.done {
		return opErr("Done", h, ErrPipe)
	}
	ch.done = true
	for e := ch.sender.clauses.Front(); e != nil; e = ch.sender.clauses.Front() {
		p := e.Value.(*clausePosting)
		p.unregister()
		p.err = ErrPipe
		c.rt.wakeCoroutine(p.cr, p.idx, nil)
	}
	for e := ch.receiver.clauses.Front(); e != nil; e = ch.receiver.clauses.Front() {
		p := e.Value.(*clausePosting)
		p.unregister()
		p.err = ErrPipe
		c.rt.wakeCoroutine(p.cr, p.idx, nil)
	}
	return nil
}

// enqueue pushes val onto ch, handing it directly to a parked receiver if
// one exists rather than ever touching the ring buffer in that case.
// Callers must already know the operation will not block (chooseError
// returned nil).
func (rt *Runtime) enqueue(ch *chanObj, val any) {
	if e := ch.receiver.clauses.Front(); e != nil {
		p := e.Value.(*clausePosting)
		p.unregister()
		p.val = val
		p.err = nil
		rt.wakeCoroutine(p.cr, p.idx, nil)
		return
	}
	pos := (ch.first + ch.items) % ch.bufsz
	ch.ring[pos] = val
	ch.items++
}

// dequeue pops one value from ch, unblocking a parked sender into the
// freed slot if one is waiting.
func (rt *Runtime) dequeue(ch *chanObj) any {
	if ch.items == 0 {
		if ch.done {
			return nil
		}
		e := ch.sender.clauses.Front()
		p := e.Value.(*clausePosting)
		p.unregister()
		val := p.val
		p.err = nil
		rt.wakeCoroutine(p.cr, p.idx, nil)
		return val
	}
	val := ch.ring[ch.first]
	ch.ring[ch.first] = nil
	ch.first = (ch.first + 1) % ch.bufsz
	ch.items--
	if e := ch.sender.clauses.Front(); e != nil {
		p := e.Value.(*clausePosting)
		p.unregister()
		pos := (ch.first + ch.items) % ch.bufsz
		ch.ring[pos] = p.val
		ch.items++
		p.err = nil
		rt.wakeCoroutine(p.cr, p.idx, nil)
	}
	return val
}

// chooseError reports whether op on ch can proceed right now: nil
// if it can, ErrPipe if the channel is done, or a sentinel "would block"
// reported via the bool return.
func chooseError(ch *chanObj, op Op) (wouldBlock bool, err error) {
	switch op {
	case OpSend:
		if ch.done {
			return false, ErrPipe
		}
		if ch.receiver.clauses.Len() == 0 && ch.items == ch.bufsz {
			return true, nil
		}
		return false, nil
	case OpRecv:
		if ch.sender.clauses.Len() > 0 || ch.items > 0 {
			return false, nil
		}
		if ch.done {
			return false, ErrPipe
		}
		return true, nil
	default:
		return false, ErrInvalid
	}
}
