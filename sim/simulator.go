//Package sim is a small discrete-event harness for running epidemic nodes in
//virtual time: a scheduler with a deterministic tie-break, a seeded jitter
//source and an in-memory radio network with dynamic pairwise contacts. It
//exists for tests and example scenarios; a real deployment uses stack/udp.
package sim

import (
	"container/heap"
	"math/rand"
	"time"
)

type event struct {
	at  time.Time
	seq uint64
	fn  func()
}

type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x interface{}) { *h = append(*h, x.(*event)) }

func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

//Simulator is a single-threaded event scheduler over a virtual clock.
//Events at the same instant run in submission order.
type Simulator struct {
	now    time.Time
	events eventHeap
	seq    uint64
	rng    *rand.Rand
}

//SimulatorFactory creates a simulator whose clock starts at the Unix epoch
//and whose jitter source is seeded deterministically.
func SimulatorFactory(seed int64) *Simulator {
	return &Simulator{
		now: time.Unix(0, 0),
		rng: rand.New(rand.NewSource(seed)),
	}
}

func (s *Simulator) Now() time.Time {
	return s.now
}

//Schedule queues fn to run after delay. A zero delay runs fn on the next
//turn of the loop, after everything already queued for this instant.
func (s *Simulator) Schedule(delay time.Duration, fn func()) {
	if delay < 0 {
		delay = 0
	}
	s.seq++
	heap.Push(&s.events, &event{at: s.now.Add(delay), seq: s.seq, fn: fn})
}

//Jitter draws a uniform random duration in [0, max].
func (s *Simulator) Jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(s.rng.Int63n(int64(max) + 1))
}

//Run executes events for the given span of virtual time and leaves the clock
//at the end of the span.
func (s *Simulator) Run(span time.Duration) {
	end := s.now.Add(span)
	for s.events.Len() > 0 {
		next := s.events[0]
		if next.at.After(end) {
			break
		}
		heap.Pop(&s.events)
		s.now = next.at
		next.fn()
	}
	s.now = end
}
