package pal

import (
	"container/heap"
	"time"
)

type event struct {
	at    time.Duration
	seq   uint64
	fn    func()
	index int
	dead  bool
}

type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *eventHeap) Push(x any) {
	e := x.(*event)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Sim is a discrete-event platform on virtual time. It is not safe for
// concurrent use: the simulated chip, the timers and the task loop all run
// on the goroutine that drives Step, Advance or Delay.
//
// The critical region nests. While it is held, Delay advances the clock but
// does not fire events, the way interrupts stay pending while masked.
type Sim struct {
	now    time.Duration
	seq    uint64
	events eventHeap
	timers map[TimerID]*event
	depth  int
}

// NewSim returns a simulator at time zero
func NewSim() *Sim {
	return &Sim{timers: make(map[TimerID]*event)}
}

// Lock enters the critical region
func (s *Sim) Lock() {
	s.depth++
}

// Unlock leaves the critical region
func (s *Sim) Unlock() {
	if s.depth > 0 {
		s.depth--
	}
}

// Now returns the virtual time
func (s *Sim) Now() time.Duration {
	return s.now
}

// After schedules fn at now+d and returns a cancel function.
// A zero d runs fn at the next Step, after events already due.
func (s *Sim) After(d time.Duration, fn func()) (cancel func()) {
	if d < 0 {
		d = 0
	}
	e := s.push(s.now+d, fn)
	return func() { s.cancel(e) }
}

// StartTimer implements Platform
func (s *Sim) StartTimer(id TimerID, d time.Duration, fn func()) error {
	if d <= 0 {
		return ErrInvalidTimeout
	}
	if s.TimerRunning(id) {
		return ErrTimerRunning
	}
	var e *event
	e = s.push(s.now+d, func() {
		if s.timers[id] == e {
			delete(s.timers, id)
		}
		fn()
	})
	s.timers[id] = e
	return nil
}

// StopTimer implements Platform
func (s *Sim) StopTimer(id TimerID) error {
	e, ok := s.timers[id]
	if !ok {
		return ErrTimerNotRunning
	}
	delete(s.timers, id)
	s.cancel(e)
	return nil
}

// TimerRunning implements Platform
func (s *Sim) TimerRunning(id TimerID) bool {
	_, ok := s.timers[id]
	return ok
}

// Delay advances virtual time by d, firing events that fall due on the way
// unless the critical region is held.
func (s *Sim) Delay(d time.Duration) {
	s.Advance(d)
}

// Advance moves the clock forward by d and fires every due event
func (s *Sim) Advance(d time.Duration) {
	end := s.now + d
	for s.depth == 0 && len(s.events) > 0 && s.events[0].at <= end {
		s.fireNext()
	}
	if end > s.now {
		s.now = end
	}
}

// Step jumps to the next pending event and fires it. It returns false when
// nothing is pending.
func (s *Sim) Step() bool {
	if len(s.events) == 0 {
		return false
	}
	s.fireNext()
	return true
}

// Pending returns the number of scheduled events
func (s *Sim) Pending() int {
	return len(s.events)
}

// NextEvent returns the time of the earliest pending event
func (s *Sim) NextEvent() (time.Duration, bool) {
	if len(s.events) == 0 {
		return 0, false
	}
	return s.events[0].at, true
}

func (s *Sim) push(at time.Duration, fn func()) *event {
	s.seq++
	e := &event{at: at, seq: s.seq, fn: fn}
	heap.Push(&s.events, e)
	return e
}

func (s *Sim) cancel(e *event) {
	if e.dead || e.index < 0 {
		return
	}
	e.dead = true
	heap.Remove(&s.events, e.index)
}

func (s *Sim) fireNext() {
	e := heap.Pop(&s.events).(*event)
	e.dead = true
	if e.at > s.now {
		s.now = e.at
	}
	e.fn()
}

// nodeTimerSpan separates the timer slots of the nodes sharing one Sim
const nodeTimerSpan = 1 << 10

// Node is a Platform view on a shared Sim with its own timer slots, so
// several stacks can run on one virtual clock. The critical region is
// shared.
type Node struct {
	*Sim
	base TimerID
}

// Node returns the view for node index n
func (s *Sim) Node(n int) *Node {
	return &Node{Sim: s, base: TimerID(n+1) * nodeTimerSpan}
}

// StartTimer implements Platform
func (n *Node) StartTimer(id TimerID, d time.Duration, fn func()) error {
	return n.Sim.StartTimer(n.base+id, d, fn)
}

// StopTimer implements Platform
func (n *Node) StopTimer(id TimerID) error {
	return n.Sim.StopTimer(n.base + id)
}

// TimerRunning implements Platform
func (n *Node) TimerRunning(id TimerID) bool {
	return n.Sim.TimerRunning(n.base + id)
}
