// Package timersvc implements a time-ordered timeout list sitting on top
// of the core timer's compare register.
package timersvc

import (
	"sort"
	"sync"
)

// Handler runs with interrupts enabled; it may itself call
// SetTimeout, as the scheduler tick does.
type Handler func()

type timeout struct {
	deadline uint64
	handler Handler
	seq uint64 // tie-break for deadline ties, FIFO
}

// Service is the process-wide deadline-ordered timeout list. Program is
// called whenever the new head changes, to write CNTP_CVAL_EL0.
type Service struct {
	mu sync.Mutex
	list []timeout
	nextSeq uint64
	Program func(deadline uint64)
}

func New(program func(deadline uint64)) *Service {
	return &Service{Program: program}
}

// SetTimeout inserts (now+duration, handler) in deadline order and
// reprograms the compare register if the head changed.
func (s *Service) SetTimeout(now, duration uint64, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := now + duration
	t := timeout{deadline: deadline, handler: h, seq: s.nextSeq}
	s.nextSeq++

	hadHead := len(s.list) > 0
	var oldHeadDeadline uint64
	if hadHead {
		oldHeadDeadline = s.list[0].deadline
	}

	idx := sort.Search(len(s.list), func(i int) bool {
		if s.list[i].deadline != deadline {
			return s.list[i].deadline > deadline
		}
		return s.list[i].seq > t.seq
	})
	s.list = append(s.list, timeout{})
	copy(s.list[idx+1:], s.list[idx:])
	s.list[idx] = t

	if !hadHead || s.list[0].deadline != oldHeadDeadline {
		if s.Program != nil {
			s.Program(s.list[0].deadline)
		}
	}
}

// OnTimerIRQ handles the timer IRQ: if the head hasn't
// actually expired yet, just reprogram and return (guards against a
// spurious early fire); otherwise pop it, reprogram for the new head, and
// run the popped handler with the list unlocked.
func (s *Service) OnTimerIRQ(now uint64) {
	s.mu.Lock()
	if len(s.list) == 0 {
		s.mu.Unlock()
		return
	}
	if s.list[0].deadline > now {
		deadline := s.list[0].deadline
		s.mu.Unlock()
		if s.Program != nil {
			s.Program(deadline)
		}
		return
	}

	head := s.list[0]
	s.list = s.list[1:]
	if len(s.list) > 0 && s.Program != nil {
		s.Program(s.list[0].deadline)
	}
	s.mu.Unlock()

	head.handler()
}

// Len is a test/introspection hook.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}
