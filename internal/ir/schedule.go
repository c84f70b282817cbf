package ir

import "container/heap"

// Scheduling priority bands, closest-to-top first. Grounded directly on
// cmd/compile/internal/ssa/schedule.go's ScorePhi..ScoreControl constants
// and priority-queue design, adapted to this spec's opcode set and memory
// model (spec.md 4.8).
const (
	scorePhi = iota
	scoreMemory
	scoreDefault
	scoreControl
)

type nodeHeap struct {
	a     []*Node
	score []int8
}

func (h nodeHeap) Len() int      { return len(h.a) }
func (h nodeHeap) Swap(i, j int) { h.a[i], h.a[j] = h.a[j], h.a[i] }

func (h *nodeHeap) Push(x interface{}) { h.a = append(h.a, x.(*Node)) }
func (h *nodeHeap) Pop() interface{} {
	old := h.a
	n := len(old)
	x := old[n-1]
	h.a = old[:n-1]
	return x
}

// Less orders the ready heap; the node it ranks first pops first. A higher
// kind score pops first (control, then default, then memory, then PHI),
// and since LocalSchedule reverses the pop order, PHIs end up first in
// program order and the block's control value last. Among equal scores a
// non-PHI node with fewer inputs pops first, and remaining ties pop the
// larger gvn first. Latency is not consulted. Mirrored from the teacher's
// score-then-ID ordering.
func (h nodeHeap) Less(i, j int) bool {
	x, y := h.a[i], h.a[j]
	if c := h.score[x.GVN] - h.score[y.GVN]; c != 0 {
		return c > 0 // higher score pops first, so it lands later in program order
	}
	if x.Op != OpPhi {
		if c := len(x.Inputs) - len(y.Inputs); c != 0 {
			return c < 0
		}
	}
	return x.GVN > y.GVN
}

// LocalSchedule produces, for every block, a linear node order consistent
// with data dependence, memory ordering, and the PHI-at-entry convention
// (spec.md 4.8). Must run after GCM has assigned every data node a block.
func (f *Func) LocalSchedule() {
	uses := make(map[GVN]int32)
	scoreOf := make(map[GVN]int8)
	nextMem := make(map[GVN]*Node)
	extraArgs := make(map[GVN][]*Node)

	contents := f.blockContents()

	for _, b := range f.Blocks {
		for _, n := range contents[b.ID] {
			switch {
			case n.Op == OpPhi:
				scoreOf[n.GVN] = scorePhi
			case n.DT.IsMemory():
				scoreOf[n.GVN] = scoreMemory
			default:
				scoreOf[n.GVN] = scoreDefault
			}
		}
		if ctrl := blockControlValue(b); ctrl != nil && ctrl.Op != OpPhi {
			scoreOf[ctrl.GVN] = scoreControl
			for _, n := range contents[b.ID] {
				if n.Op == OpPhi {
					continue
				}
				for _, a := range n.Inputs {
					if a == ctrl {
						scoreOf[n.GVN] = scoreControl
					}
				}
			}
		}
	}

	for _, b := range f.Blocks {
		bNodes := contents[b.ID]
		inBlock := make(map[GVN]bool, len(bNodes))
		for _, n := range bNodes {
			inBlock[n.GVN] = true
		}

		for _, n := range bNodes {
			if n.Op != OpPhi && n.DT.IsMemory() {
				for _, w := range n.Inputs {
					if w != nil && w.DT.IsMemory() {
						nextMem[w.GVN] = n
					}
				}
			}
		}

		for _, n := range bNodes {
			if n.Op == OpPhi {
				continue
			}
			for _, w := range n.Inputs {
				if w == nil {
					continue
				}
				if inBlock[w.GVN] {
					uses[w.GVN]++
				}
				if n.DT.IsMemory() || !w.DT.IsMemory() {
					continue
				}
				s := nextMem[w.GVN]
				if s == nil || !inBlock[s.GVN] {
					continue
				}
				extraArgs[s.GVN] = append(extraArgs[s.GVN], n)
				uses[n.GVN]++
			}
		}

		pq := &nodeHeap{score: scoreAsSlice(scoreOf, f.nextGVN)}
		for _, n := range bNodes {
			if uses[n.GVN] == 0 {
				heap.Push(pq, n)
			}
		}

		var order []*Node
		for pq.Len() > 0 {
			n := heap.Pop(pq).(*Node)
			order = append(order, n)
			for _, w := range n.Inputs {
				if w == nil || !inBlock[w.GVN] {
					continue
				}
				uses[w.GVN]--
				if uses[w.GVN] == 0 {
					heap.Push(pq, w)
				}
			}
			for _, w := range extraArgs[n.GVN] {
				uses[w.GVN]--
				if uses[w.GVN] == 0 {
					heap.Push(pq, w)
				}
			}
		}

		if len(order) != len(bNodes) {
			panic("internal invariant: local schedule does not include all block nodes")
		}
		b.Nodes = make([]*Node, len(order))
		for i, n := range order {
			b.Nodes[len(order)-1-i] = n
		}
	}
	f.scheduled = true
}

// scoreAsSlice converts the gvn-keyed score map into a dense slice the
// heap can index directly, mirroring the teacher's own dense []int8 score
// array (it indexes by Value.ID the same way).
func scoreAsSlice(m map[GVN]int8, n GVN) []int8 {
	s := make([]int8, n+1)
	for k, v := range m {
		if int(k) < len(s) {
			s[k] = v
		}
	}
	return s
}

// blockContents groups every scheduled data node by the block GCM (or
// seedPinned) assigned it, plus the block's own pinned control-adjacent
// nodes (PHI, PROJ of the block's control node).
func (f *Func) blockContents() map[BlockID][]*Node {
	out := make(map[BlockID][]*Node)
	for _, n := range f.allNodesSnapshot() {
		if n.dead || n.Op == OpStart {
			continue
		}
		b, ok := f.schedule[n.GVN]
		if !ok {
			continue
		}
		out[b.ID] = append(out[b.ID], n)
	}
	return out
}

// blockControlValue returns the node whose result drives b's outgoing
// edge (a BRANCH's key, or nil for a plain fallthrough/RETURN region).
func blockControlValue(b *Block) *Node {
	for _, u := range b.Ctrl.Users {
		if u.Node.Op == OpBranch && len(u.Node.Inputs) > 1 {
			return u.Node.Inputs[1]
		}
	}
	return nil
}
