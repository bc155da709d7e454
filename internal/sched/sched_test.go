package sched

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeTask struct {
	name  string
	state State
}

func (f *fakeTask) State() State { return f.state }

type recordingSwitcher struct {
	switches [][2]string
}

func nameOf(t Runnable) string {
	if t == nil {
		return "<nil>"
	}
	return t.(*fakeTask).name
}

func (r *recordingSwitcher) SaveAndLoad(prev, next Runnable) {
	r.switches = append(r.switches, [2]string{nameOf(prev), nameOf(next)})
}
func (r *recordingSwitcher) SwapCalleeSaved(prev, next Runnable) {}

// Property 9: round-robin fairness — with N runnable tasks, each appears
// exactly once in every window of N consecutive Schedule() calls.
func TestRoundRobinFairness(t *testing.T) {
	sw := &recordingSwitcher{}
	s := New(sw)

	a := &fakeTask{name: "a", state: StateRunning}
	b := &fakeTask{name: "b", state: StateRunning}
	c := &fakeTask{name: "c", state: StateRunning}
	s.Enqueue(a)
	s.Enqueue(b)
	s.Enqueue(c)
	s.StartScheduler(&fakeTask{name: "idle", state: StateRunning})

	for round := 0; round < 3; round++ {
		seen := map[string]bool{}
		for i := 0; i < 3; i++ {
			require.NoError(t, s.Schedule())
			seen[nameOf(s.Current())] = true
		}
		require.Len(t, seen, 3, "every task must run exactly once per round-robin window")
	}
}

func TestScheduleSkipsNonRunningTasks(t *testing.T) {
	sw := &recordingSwitcher{}
	s := New(sw)

	a := &fakeTask{name: "a", state: StateRunning}
	dead := &fakeTask{name: "dead", state: StateDead}
	b := &fakeTask{name: "b", state: StateRunning}
	s.Enqueue(a)
	s.Enqueue(dead)
	s.Enqueue(b)
	s.StartScheduler(&fakeTask{name: "idle", state: StateRunning})

	require.NoError(t, s.Schedule())
	require.Equal(t, "a", nameOf(s.Current()))
	require.NoError(t, s.Schedule())
	require.Equal(t, "b", nameOf(s.Current()), "the Dead task must be silently discarded, not switched to")
}

func TestReapDeadRemovesFromQueue(t *testing.T) {
	s := New(&recordingSwitcher{})
	a := &fakeTask{name: "a", state: StateRunning}
	dead := &fakeTask{name: "dead", state: StateDead}
	s.Enqueue(a)
	s.Enqueue(dead)

	require.Len(t, s.ReapDead(), 1)
	require.Equal(t, 1, s.QueueLen())
}

func TestScheduleOnEmptyQueueErrors(t *testing.T) {
	s := New(&recordingSwitcher{})
	require.ErrorContains(t, s.Schedule(), "run queue")
}
