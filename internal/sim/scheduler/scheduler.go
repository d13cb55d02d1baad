// Package scheduler is the single cooperative tick scheduler that drives all container reads,
// writes and deferred reconciliation. It is not safe for concurrent use: exactly one
// goroutine (the runtime loop) owns it.
package scheduler

import "container/heap"

type Task func()

type entry struct {
	due    uint64
	seq    uint64
	epoch  uint64
	period uint64 // 0 = one-shot
	name   string
	fn     Task
}

type queue []*entry

func (q queue) Len() int { return len(q) }
func (q queue) Less(i, j int) bool {
	if q[i].due != q[j].due {
		return q[i].due < q[j].due
	}
	return q[i].seq < q[j].seq
}
func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *queue) Push(x any)   { *q = append(*q, x.(*entry)) }
func (q *queue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}

type Scheduler struct {
	tick  uint64
	seq   uint64
	epoch uint64
	q     queue
}

func New() *Scheduler { return &Scheduler{} }

// Tick is the number of completed Advance calls.
func (s *Scheduler) Tick() uint64 { return s.tick }

// Submit runs fn once, delay ticks from now. A delay of 0 behaves like 1: tasks never run
// inside the call that submitted them.
func (s *Scheduler) Submit(delay uint64, fn Task) {
	s.push("", delay, 0, fn)
}

// SubmitNamed is Submit with a label used only for introspection.
func (s *Scheduler) SubmitNamed(name string, delay uint64, fn Task) {
	s.push(name, delay, 0, fn)
}

// Repeat runs fn after delay ticks and then every period ticks until CancelAll.
func (s *Scheduler) Repeat(name string, delay, period uint64, fn Task) {
	if period == 0 {
		period = 1
	}
	s.push(name, delay, period, fn)
}

func (s *Scheduler) push(name string, delay, period uint64, fn Task) {
	if fn == nil {
		return
	}
	if delay == 0 {
		delay = 1
	}
	s.seq++
	heap.Push(&s.q, &entry{
		due:    s.tick + delay,
		seq:    s.seq,
		epoch:  s.epoch,
		period: period,
		name:   name,
		fn:     fn,
	})
}

// CancelAll drops every pending task, including repeating ones. Tasks already popped for the
// current tick but not yet run are skipped as well.
func (s *Scheduler) CancelAll() int {
	n := len(s.q)
	s.q = nil
	s.epoch++
	return n
}

// Pending returns the number of queued tasks.
func (s *Scheduler) Pending() int { return len(s.q) }

// PendingNamed counts queued tasks carrying name.
func (s *Scheduler) PendingNamed(name string) int {
	n := 0
	for _, e := range s.q {
		if e.name == name {
			n++
		}
	}
	return n
}

// Advance moves to the next tick and runs every task due at it, in submission order.
// It returns the number of tasks run.
func (s *Scheduler) Advance() int {
	s.tick++
	var due []*entry
	for len(s.q) > 0 && s.q[0].due <= s.tick {
		due = append(due, heap.Pop(&s.q).(*entry))
	}
	ran := 0
	for _, e := range due {
		if e.epoch != s.epoch {
			continue
		}
		e.fn()
		ran++
		if e.period > 0 && e.epoch == s.epoch {
			s.seq++
			e.seq = s.seq
			e.due = s.tick + e.period
			heap.Push(&s.q, e)
		}
	}
	return ran
}

// AdvanceN calls Advance n times and returns the total number of tasks run.
func (s *Scheduler) AdvanceN(n int) int {
	ran := 0
	for i := 0; i < n; i++ {
		ran += s.Advance()
	}
	return ran
}
