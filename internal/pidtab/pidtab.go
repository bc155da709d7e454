// Package pidtab implements the PID manager: lazy
// initialisation, monotonic allocation, and number -> task-handle lookup.
package pidtab

import (
	"sync"

	"github.com/ppodds/osc2024/internal/kerror"
)

// Table maps PID -> task handle (any concrete *task.Task in production).
type Table struct {
	mu sync.Mutex
	next int
	tasks map[int]interface{}
}

func New() *Table {
	return &Table{tasks: map[int]interface{}{}}
}

// Allocate hands out the next monotonic PID and records handle against it.
func (t *Table) Allocate(handle interface{}) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	pid := t.next
	t.next++
	t.tasks[pid] = handle
	return pid
}

// Set overwrites pid's registered handle — used by fork(), which must
// reserve a PID before the child task handle it belongs to exists.
func (t *Table) Set(pid int, handle interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tasks[pid] = handle
}

// Lookup returns the handle registered for pid.
func (t *Table) Lookup(pid int) (interface{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.tasks[pid]
	if !ok {
		return nil, kerror.ErrNoSuchTask
	}
	return h, nil
}

// Reap drops pid's entry, recycling it out of the live table.
func (t *Table) Reap(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tasks, pid)
}

// Len is a test/introspection hook.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}
