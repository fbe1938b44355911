// Package typed wraps dill's any-typed channels with a compile-time-safe
// generic handle, the modern replacement for reflect-based wrappers like
// coro.NewIterator: the element type is carried in the Go type system
// instead of recovered at runtime via reflect.Value.
package typed

import "github.com/tcard/dill"

// Channel is a type-safe view of a dill.Handle known to carry values of
// type T.
type Channel[T any] struct {
	h  dill.Handle
	cr *dill.Coroutine
}

// New creates a channel of bufsz capacity (0 for unbuffered) and wraps
// it as a Channel[T].
func New[T any](cr *dill.Coroutine, bufsz int) (Channel[T], error) {
	h, err := cr.NewChannel(bufsz)
	if err != nil {
		return Channel[T]{}, err
	}
	return Channel[T]{h: h, cr: cr}, nil
}

// Handle returns the underlying untyped handle, for use with Close/Dup or
// as a Clause in a mixed-type Choose.
func (c Channel[T]) Handle() dill.Handle { return c.h }

// Send blocks until v is accepted by a receiver or buffered, the deadline
// elapses, or the channel reaches Done.
func (c Channel[T]) Send(v T, deadline int64) error {
	return c.cr.Send(c.h, v, deadline)
}

// Recv blocks until a value is available, the deadline elapses, or the
// channel is Done-and-empty, in which case it returns the zero value of
// T and dill.ErrPipe.
func (c Channel[T]) Recv(deadline int64) (T, error) {
	v, err := c.cr.Recv(c.h, deadline)
	if err != nil {
		var zero T
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, dill.ErrNotSupported
	}
	return t, nil
}

// Done marks the channel as done; see dill.Coroutine.Done.
func (c Channel[T]) Done() error { return c.cr.Done(c.h) }

// Close releases one reference to the channel.
func (c Channel[T]) Close() error { return c.cr.Close(c.h) }

// SendClause builds a dill.Clause that sends v on this channel, for use
// in a multi-way dill.Coroutine.Choose alongside other typed channels.
func (c Channel[T]) SendClause(v T) dill.Clause {
	return dill.Clause{Chan: c.h, Op: dill.OpSend, Val: v}
}

// RecvClause builds a dill.Clause that receives from this channel. After
// a winning Choose, cast the returned value with AssertRecv.
func (c Channel[T]) RecvClause() dill.Clause {
	return dill.Clause{Chan: c.h, Op: dill.OpRecv}
}

// AssertRecv type-asserts a value returned by Choose when clause idx was
// built by this channel's RecvClause.
func AssertRecv[T any](v any) (T, bool) {
	t, ok := v.(T)
	return t, ok
}
