package ir

import "github.com/bits-and-blooms/bitset"

// Worklist is a bitset-deduplicated FIFO of dirty nodes driving the
// peephole loop (spec.md 4.3). Not thread-safe; owned by one peephole
// driver, mirroring the spec's stated ownership.
type Worklist struct {
	queue  []*Node
	member *bitset.BitSet
}

func newWorklist() *Worklist {
	return &Worklist{member: bitset.New(256)}
}

// Push enqueues n if it is not already a member; idempotent per spec.md 4.3.
func (w *Worklist) Push(n *Node) {
	if n == nil || n.dead {
		return
	}
	idx := uint(n.GVN)
	if w.member.Test(idx) {
		return
	}
	w.member.Set(idx)
	w.queue = append(w.queue, n)
}

// Pop returns the next dirty node and clears its membership bit, or nil
// if the worklist is empty.
func (w *Worklist) Pop() *Node {
	for len(w.queue) > 0 {
		n := w.queue[0]
		w.queue = w.queue[1:]
		w.member.Clear(uint(n.GVN))
		if n.dead {
			continue
		}
		return n
	}
	return nil
}

// Empty reports whether the worklist has no pending nodes.
func (w *Worklist) Empty() bool { return len(w.queue) == 0 }

// Clear truncates both the queue and the membership bitset.
func (w *Worklist) Clear() {
	w.queue = w.queue[:0]
	w.member.ClearAll()
}

// Worklist exposes the function's internal peephole worklist so callers
// (e.g. the builder, tests) can seed it before running the peephole loop.
func (f *Func) Worklist() *Worklist { return f.worklist }

// PushAllNodes seeds the worklist with every live node in the function,
// used to kick off the first peephole pass after the builder finishes.
func (f *Func) PushAllNodes() {
	for _, n := range f.allNodesSnapshot() {
		f.worklist.Push(n)
	}
}
