package dill

import "math/rand/v2"

// Op names which side of a channel a Clause operates on.
type Op int

const (
	OpSend Op = iota
	OpRecv
)

// Clause is one branch of a Choose call: either "send Val on Chan" or
// "receive from Chan" (Val is ignored for OpRecv and filled into the
// result instead).
type Clause struct {
	Chan Handle
	Op   Op
	Val  any
}

// Choose waits for exactly one of clauses to be ready, performs it, and
// returns its index and (for a winning receive) the value received.
// deadline is an absolute Now()-scale millisecond timestamp; 0 makes
// Choose non-blocking (poll-only) and a negative value disables the
// deadline entirely. Choose implements the many-way rendezvous described
// in SPEC_FULL.md §4.4, generalizing libdill's dill_choose_.
func (c *Coroutine) Choose(clauses []Clause, deadline int64) (int, any, error) {
	if len(clauses) == 0 {
		return -1, nil, opErr("Choose", 0, ErrInvalid)
	}
	if c.cr.canceled || c.cr.stopping {
		return -1, nil, opErr("Choose", 0, ErrCanceled)
	}

	chans := make([]*chanObj, len(clauses))
	for i, cl := range clauses {
		ch, err := c.rt.chanData(cl.Chan)
		if err != nil {
			return -1, nil, opErr("Choose", cl.Chan, err)
		}
		chans[i] = ch
	}

	available := make([]int, 0, len(clauses))
	clauseErr := make([]error, len(clauses))
	for i, cl := range clauses {
		wouldBlock, err := chooseError(chans[i], cl.Op)
		clauseErr[i] = err
		if !wouldBlock {
			available = append(available, i)
		}
	}

	if len(available) > 0 {
		chosen := available[0]
		if len(available) > 1 {
			chosen = available[rand.IntN(len(available))]
		}
		if clauseErr[chosen] == nil {
			cl := clauses[chosen]
			if cl.Op == OpSend {
				c.rt.enqueue(chans[chosen], cl.Val)
			} else {
				clauses[chosen].Val = c.rt.dequeue(chans[chosen])
			}
		}
		c.rt.wakeCoroutine(c.cr, chosen, clauseErr[chosen])
		c.rt.park(c)
		if c.cr.resumeErr != nil {
			return chosen, nil, opErr("Choose", clauses[chosen].Chan, c.cr.resumeErr)
		}
		return chosen, clauses[chosen].Val, nil
	}

	if deadline == 0 {
		c.rt.wakeCoroutine(c.cr, -1, ErrTimedOut)
		c.rt.park(c)
		return -1, nil, opErr("Choose", 0, ErrTimedOut)
	}

	cd := &choosedata{clauses: clauses, deadline: deadline}
	cd.postings = make([]*clausePosting, len(clauses))
	c.cr.cd = cd
	for i, cl := range clauses {
		p := &clausePosting{cr: c.cr, idx: i, op: cl.Op, val: cl.Val}
		ep := endpointFor(chans[i], cl.Op)
		p.list = ep.clauses
		p.elem = ep.clauses.PushBack(p)
		cd.postings[i] = p
	}
	if deadline > 0 {
		cd.timer = c.rt.addTimer(c.cr, deadline)
	}

	res, resErr := c.suspend(func() {
		// Normally a no-op: wakeCoroutine already stripped every posting
		// (and the timer) at trigger time. This only does real work when
		// the chooser unblocks some other way that doesn't go through
		// wakeCoroutine's trigger path.
		for _, p := range cd.postings {
			p.unregister()
		}
		if cd.timer != nil {
			c.rt.removeTimer(cd.timer)
		}
	})
	c.cr.cd = nil

	if resErr != nil {
		return -1, nil, opErr("Choose", 0, resErr)
	}
	p := cd.postings[res]
	if p.err != nil {
		return res, nil, opErr("Choose", clauses[res].Chan, p.err)
	}
	if p.op == OpRecv {
		return res, p.val, nil
	}
	return res, nil, nil
}

func endpointFor(ch *chanObj, op Op) *endpoint {
	if op == OpSend {
		return &ch.sender
	}
	return &ch.receiver
}

// Send is a single-clause Choose(OpSend). It returns ErrTimedOut if
// deadline elapses first and ErrPipe if the channel reaches Done before
// the value is accepted.
func (c *Coroutine) Send(h Handle, val any, deadline int64) error {
	_, _, err := c.Choose([]Clause{{Chan: h, Op: OpSend, Val: val}}, deadline)
	return err
}

// Recv is a single-clause Choose(OpRecv). On a done-and-empty channel it
// returns the zero value and ErrPipe.
func (c *Coroutine) Recv(h Handle, deadline int64) (any, error) {
	_, val, err := c.Choose([]Clause{{Chan: h, Op: OpRecv}}, deadline)
	return val, err
}
