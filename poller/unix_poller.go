// Package poller implements dill.Poller backed by the POSIX poll(2)
// syscall via golang.org/x/sys/unix, scaled down from the pack's
// epoll-based FastPoller to the portable unix.Poll call so it runs on
// every unix dill targets (not just Linux).
package poller

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tcard/dill"
)

type registration struct {
	fd       int
	events   dill.FDEvents
	deadline int64
	wake     func(dill.FDEvents, error)
	fired    bool
}

// UnixPoller runs its own background goroutine that repeatedly calls
// unix.Poll over every registered file descriptor. It satisfies
// dill.Poller; wake callbacks are invoked from that background
// goroutine, never from the caller of Add.
type UnixPoller struct {
	mu   sync.Mutex
	regs map[int]*registration

	closed chan struct{}
	wake   chan struct{}
	once   sync.Once
}

// New starts a UnixPoller's background poll loop.
func New() *UnixPoller {
	p := &UnixPoller{
		regs:   make(map[int]*registration),
		closed: make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}
	go p.loop()
	return p
}

func (p *UnixPoller) ring() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *UnixPoller) Add(fd int, events dill.FDEvents, deadline int64, wake func(dill.FDEvents, error)) error {
	p.mu.Lock()
	if _, exists := p.regs[fd]; exists {
		p.mu.Unlock()
		return dill.ErrInvalid
	}
	p.regs[fd] = &registration{fd: fd, events: events, deadline: deadline, wake: wake}
	p.mu.Unlock()
	p.ring()
	return nil
}

func (p *UnixPoller) Remove(fd int) error {
	p.mu.Lock()
	delete(p.regs, fd)
	p.mu.Unlock()
	return nil
}

func (p *UnixPoller) PostFork() error { return nil }

func (p *UnixPoller) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func toPollEvents(e dill.FDEvents) int16 {
	var ev int16
	if e&dill.FDRead != 0 {
		ev |= unix.POLLIN
	}
	if e&dill.FDWrite != 0 {
		ev |= unix.POLLOUT
	}
	if e&dill.FDError != 0 {
		ev |= unix.POLLERR
	}
	return ev
}

func fromPollEvents(ev int16) dill.FDEvents {
	var e dill.FDEvents
	if ev&unix.POLLIN != 0 {
		e |= dill.FDRead
	}
	if ev&unix.POLLOUT != 0 {
		e |= dill.FDWrite
	}
	if ev&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		e |= dill.FDError
	}
	return e
}

// loop is the poller's sole reader/writer of p.regs besides Add/Remove
// under p.mu; it rebuilds the pollfd slice every iteration, which keeps
// the implementation simple at the cost of not scaling to huge fd counts
// the way FastPoller's direct-indexed array does.
func (p *UnixPoller) loop() {
	for {
		select {
		case <-p.closed:
			return
		default:
		}

		p.mu.Lock()
		fds := make([]unix.PollFd, 0, len(p.regs))
		order := make([]*registration, 0, len(p.regs))
		now := dill.Now()
		timeout := int32(100)
		for _, r := range p.regs {
			if r.deadline > 0 {
				remaining := r.deadline - now
				if remaining <= 0 {
					r.fired = true
					continue
				}
				if int32(remaining) < timeout {
					timeout = int32(remaining)
				}
			}
			fds = append(fds, unix.PollFd{Fd: int32(r.fd), Events: toPollEvents(r.events)})
			order = append(order, r)
		}
		var expired []*registration
		for k, r := range p.regs {
			if r.fired {
				expired = append(expired, r)
				delete(p.regs, k)
			}
		}
		p.mu.Unlock()

		for _, r := range expired {
			r.wake(0, dill.ErrTimedOut)
		}

		if len(fds) == 0 {
			select {
			case <-p.closed:
				return
			case <-p.wake:
				continue
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		n, err := unix.Poll(fds, int(timeout))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			continue
		}
		if n == 0 {
			continue
		}

		p.mu.Lock()
		var ready []*registration
		for i, pfd := range fds {
			if pfd.Revents == 0 {
				continue
			}
			r := order[i]
			if _, still := p.regs[r.fd]; !still {
				continue
			}
			delete(p.regs, r.fd)
			r.events = fromPollEvents(pfd.Revents)
			ready = append(ready, r)
		}
		p.mu.Unlock()

		for _, r := range ready {
			r.wake(r.events, nil)
		}
	}
}

var _ dill.Poller = (*UnixPoller)(nil)
