// Package sched implements the thread state machine, per-CPU run queues,
// preemption accounting, and sleep/wake plumbing of spec.md §4.5.
//
// Corvid's kernel threads are goroutines, the same strategy Biscuit itself
// uses: Biscuit runs kernel threads as real goroutines under a (forked)
// Go runtime scheduler rather than reimplementing context switching in
// portable Go (_examples/.../biscuit/src/accnt/accnt.go's Accnt_t is
// exactly the per-thread accounting struct this package's Thread embeds).
// This package's RunQueue/priority/preempt-counter bookkeeping models the
// queueing discipline spec.md §4.5 specifies and is what corvid/sched's
// own tests exercise directly; the actual concurrent execution and the
// fairness-among-equal-priority-threads property (spec.md §8 scenario S4)
// is provided by the underlying Go scheduler, which is exactly the
// "architecture glue ... native context-switch trampolines" collaborator
// spec.md §1 places out of this core's scope.
package sched

// NumPriorities is the number of run-queue priority levels per CPU
// (spec.md §4.5 "each CPU owns N priority levels").
const NumPriorities = 32

// DefaultPriority is the priority level assigned to a thread that does
// not request one explicitly.
const DefaultPriority = NumPriorities / 2

// runQueue holds one CPU's ready threads, one FIFO per priority level.
type runQueue struct {
	levels [NumPriorities][]*Thread
	count  int
}

func (q *runQueue) push(t *Thread) {
	p := t.priority
	q.levels[p] = append(q.levels[p], t)
	q.count++
}

// popHighest removes and returns the head of the highest non-empty
// priority level, FIFO within that level (spec.md §4.5 "Run queues").
func (q *runQueue) popHighest() *Thread {
	for p := NumPriorities - 1; p >= 0; p-- {
		if len(q.levels[p]) == 0 {
			continue
		}
		t := q.levels[p][0]
		q.levels[p] = q.levels[p][1:]
		q.count--
		return t
	}
	return nil
}

// remove drops t from whichever level it is linked into, used when a
// thread is killed or migrated before it was ever dispatched.
func (q *runQueue) remove(t *Thread) bool {
	lvl := q.levels[t.priority]
	for i, o := range lvl {
		if o == t {
			q.levels[t.priority] = append(lvl[:i], lvl[i+1:]...)
			q.count--
			return true
		}
	}
	return false
}

func (q *runQueue) len() int { return q.count }
