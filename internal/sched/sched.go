// Package sched implements the round-robin run queue.
// It is deliberately decoupled from internal/task's concrete Task type —
// Runnable is the minimal contract a task handle must satisfy — so the
// scheduler can be unit-tested without a real CPUContext or page table.
package sched

import (
	"sync"

	"github.com/ppodds/osc2024/internal/kerror"
)

type State int

const (
	StateRunning State = iota
	StateInterruptible
	StateZombie
	StateDead
)

// Runnable is what the scheduler needs from a task handle.
type Runnable interface {
	State() State
}

// Switcher performs the two-phase context switch.
// SaveAndLoad handles the software-visible thread state (TPIDR, ELR_EL1,
// SP_EL0, SPSR_EL1, TTBR0_EL1 + TLB invalidation, TPIDR_EL1); SwapCalleeSaved
// is the assembly routine swapping x19..x28/fp/lr/sp and returning on the
// new stack. Tests substitute trivial recorders for both.
type Switcher interface {
	SaveAndLoad(prev, next Runnable)
	SwapCalleeSaved(prev, next Runnable)
}

// Scheduler owns the run queue: an ordered double-ended queue of task
// handles, plus the "current" task and an initialised flag.
type Scheduler struct {
	mu sync.Mutex
	queue []Runnable
	current Runnable
	initialised bool
	sw Switcher
}

func New(sw Switcher) *Scheduler {
	return &Scheduler{sw: sw}
}

// Enqueue pushes t to the back of the run queue.
func (s *Scheduler) Enqueue(t Runnable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, t)
}

// Current returns the presently-running task handle.
func (s *Scheduler) Current() Runnable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// StartScheduler binds idle as the pre-existing kernel stack's task (so
// the very first switch "saves into" it) and makes it current. It does
// not call Schedule: the caller's first Schedule performs the switch to
// the first real task. The recurring
// timer re-arm and the idle reap loop are the caller's responsibility
// (internal/timersvc and a driver loop respectively); this method only
// captures the one-time bootstrap step.
func (s *Scheduler) StartScheduler(idle Runnable) {
	s.mu.Lock()
	s.current = idle
	s.initialised = true
	s.mu.Unlock()
}

// Initialised reports whether StartScheduler has run.
func (s *Scheduler) Initialised() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialised
}

// ReapDead removes Dead tasks from the run queue and returns the handles
// removed, so the idle loop's sweep can release whatever else keys off
// those handles (PID table entries, accounting, ...).
func (s *Scheduler) ReapDead() []Runnable {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.queue[:0]
	var removed []Runnable
	for _, t := range s.queue {
		if t.State() == StateDead {
			removed = append(removed, t)
			continue
		}
		kept = append(kept, t)
	}
	s.queue = kept
	return removed
}

// Schedule pops the front of the run queue; if it is Running, pushes it
// back and switches to it; otherwise discards it and keeps popping.
// An empty queue is a fatal condition upstream (a panic in the real
// kernel); here it is reported as kerror.ErrRunQueueEmpty so tests can
// assert on it without crashing the process.
func (s *Scheduler) Schedule() error {
	s.mu.Lock()
	for {
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return kerror.ErrRunQueueEmpty
		}
		next := s.queue[0]
		s.queue = s.queue[1:]
		if next.State() != StateRunning {
			continue
		}
		s.queue = append(s.queue, next)
		prev := s.current
		s.current = next
		s.mu.Unlock()

		s.sw.SaveAndLoad(prev, next)
		s.sw.SwapCalleeSaved(prev, next)
		return nil
	}
}

// QueueLen is a test/introspection hook.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
