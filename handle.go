package dill

import (
	"fmt"
	"io"
)

// Handle names either a coroutine or a channel. It is a small, dense,
// non-negative integer, reused once closed. The zero Handle is never
// issued and is used as a "no handle" sentinel internally.
type Handle uint64

// handleKind tags what kind of object a handle's data points at, standing
// in for the C implementation's opaque-pointer type tag (see SPEC_FULL.md
// §3).
type handleKind uint8

const (
	kindChannel handleKind = iota + 1
	kindCoroutine
)

// vtable holds the two polymorphic operations the handle table needs to
// perform without knowing the concrete kind: close and an optional dump.
// Coroutine handles are a special case: their shutdown is cancel+join,
// which needs the closing coroutine's own identity, so they set
// isCoroutine/target instead of close and let Coroutine.Close dispatch to
// Runtime.cancelAndJoin directly.
type vtable struct {
	close       func(Handle) error
	dump        func(Handle, io.Writer)
	isCoroutine bool
	target      *coroutine
}

// slot is one entry of the dense handle table. next encodes the free
// list: -2 marks a live slot, -1 marks the end of the free list, and any
// other non-negative value is the index of the next free slot.
type slot struct {
	kind    handleKind
	data    any
	vt      vtable
	refs    int
	created string
	next    int64
}

const slotLive = -2
const slotEnd = -1

// maxSlots bounds how large the handle table may grow. It is the Go
// equivalent of the reference implementation's ERR_NOMEM outcome: rather
// than let the table grow without limit until an allocation fails
// unpredictably, create refuses once this ceiling is hit. It is a var,
// not a const, so tests can lower it to exercise the ceiling without
// allocating a million-slot table; grow doubles from 256, so any test
// override should stay on that doubling sequence (256, 512, ...) or the
// ceiling check (which runs before grow, not after) can let a table
// temporarily overshoot it in one jump.
var maxSlots = 1 << 20

// hregistry is the dense handle table described in SPEC_FULL.md §4.1. It
// starts at 256 slots and doubles on exhaustion; freed slots are threaded
// onto an intrusive free list.
type hregistry struct {
	slots  []slot
	unused int64 // head of the free list, or slotEnd
}

func newRegistry() *hregistry {
	return &hregistry{unused: slotEnd}
}

func (r *hregistry) grow() {
	oldLen := len(r.slots)
	newLen := 256
	if oldLen > 0 {
		newLen = oldLen * 2
	}
	grown := make([]slot, newLen)
	copy(grown, r.slots)
	for i := oldLen; i != newLen-1; i++ {
		grown[i].next = int64(i + 1)
	}
	grown[newLen-1].next = slotEnd
	r.slots = grown
	r.unused = int64(oldLen)
}

// create allocates a new handle for data, under kind, with the given
// vtable and creation site. vt.close must be non-nil. It returns
// ErrNoMemory once the table has grown to maxSlots and every slot is
// live.
func (r *hregistry) create(kind handleKind, data any, vt vtable, site string) (Handle, error) {
	if data == nil || (vt.close == nil && !vt.isCoroutine) {
		return 0, ErrInvalid
	}
	if r.unused == slotEnd {
		if len(r.slots) >= maxSlots {
			return 0, ErrNoMemory
		}
		r.grow()
	}
	idx := r.unused
	s := &r.slots[idx]
	r.unused = s.next
	s.kind = kind
	s.data = data
	s.vt = vt
	s.refs = 1
	s.created = site
	s.next = slotLive
	return Handle(idx) + 1, nil
}

func (r *hregistry) index(h Handle) (int64, error) {
	if h == 0 {
		return 0, ErrBadHandle
	}
	idx := int64(h) - 1
	if idx < 0 || idx >= int64(len(r.slots)) || r.slots[idx].next != slotLive {
		return 0, ErrBadHandle
	}
	return idx, nil
}

// dup increments the handle's reference count.
func (r *hregistry) dup(h Handle) (Handle, error) {
	idx, err := r.index(h)
	if err != nil {
		return 0, err
	}
	r.slots[idx].refs++
	return h, nil
}

// data returns the handle's underlying data, type-checked against kind
// unless kind is 0 (wildcard).
func (r *hregistry) data(h Handle, kind handleKind) (any, error) {
	idx, err := r.index(h)
	if err != nil {
		return nil, err
	}
	s := &r.slots[idx]
	if kind != 0 && s.kind != kind {
		return nil, ErrNotSupported
	}
	return s.data, nil
}

// close decrements the refcount; on reaching zero it invokes vt.close
// exactly once (through runClose) and returns the slot to the free list.
// The caller, Coroutine.Close, raises its coroutine's stopping flag
// around the whole call, per SPEC_FULL.md §4.1.
func (r *hregistry) close(h Handle, runClose func(vt vtable) error) error {
	idx, err := r.index(h)
	if err != nil {
		return err
	}
	if r.slots[idx].refs > 1 {
		r.slots[idx].refs--
		return nil
	}
	vt := r.slots[idx].vt
	// runClose may park the caller (coroutine cancel+join) and let other
	// coroutines run before it returns; those may call create and grow
	// r.slots, reallocating the backing array, so idx (stable) is
	// re-indexed afterward rather than holding a *slot across the call.
	if err := runClose(vt); err != nil {
		return err
	}
	r.slots[idx].vt = vtable{}
	r.slots[idx].data = nil
	r.slots[idx].next = r.unused
	r.unused = idx
	return nil
}

func (r *hregistry) dump(h Handle, w io.Writer) error {
	idx, err := r.index(h)
	if err != nil {
		return err
	}
	s := &r.slots[idx]
	fmt.Fprintf(w, "Handle:{%d} Kind:%d Refcount:%d Created: %s\n", h, s.kind, s.refs, s.created)
	if s.vt.dump != nil {
		s.vt.dump(h, w)
	}
	return nil
}
