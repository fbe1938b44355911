package dill

import "container/heap"

// timerEntry is one armed deadline, associating a deadline (in Now()
// milliseconds) with the coroutine to resume when it fires. Grounded on
// joeycumines-go-utilpkg/eventloop's timerHeap (container/heap over a
// slice of {when, task}), adapted here to resume a parked coroutine
// instead of invoking a callback.
type timerEntry struct {
	deadline int64
	cr       *coroutine
	index    int // heap index, maintained by container/heap
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline < h[j].deadline }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// addTimer arms a deadline for cr, returning the entry so it can later be
// removed by removeTimer (used by the choose engine's unblock callback
// and by Sleep's cancellation path).
func (rt *Runtime) addTimer(cr *coroutine, deadline int64) *timerEntry {
	e := &timerEntry{deadline: deadline, cr: cr}
	heap.Push(&rt.timers, e)
	return e
}

// removeTimer cancels a previously armed deadline, if it is still
// pending. It is a no-op if the timer already fired.
func (rt *Runtime) removeTimer(e *timerEntry) {
	if e == nil || e.index < 0 {
		return
	}
	heap.Remove(&rt.timers, e.index)
}

// nextDeadline reports the earliest pending deadline and whether one
// exists.
func (rt *Runtime) nextDeadline() (int64, bool) {
	if len(rt.timers) == 0 {
		return 0, false
	}
	return rt.timers[0].deadline, true
}

// firePastDeadlines pops every timer whose deadline has passed and
// resumes its owning coroutine with the global timeout resume value.
func (rt *Runtime) firePastDeadlines(now int64) {
	for len(rt.timers) > 0 && rt.timers[0].deadline <= now {
		e := heap.Pop(&rt.timers).(*timerEntry)
		rt.wakeCoroutine(e.cr, resumeTimedOut, ErrTimedOut)
	}
}
