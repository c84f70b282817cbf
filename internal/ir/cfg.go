package ir

import "github.com/bits-and-blooms/bitset"

// BlockID identifies a Block within a Func.
type BlockID int32

// Block is a basic block derived from a REGION node plus the unique START
// (spec.md 3.4).
type Block struct {
	ID       BlockID
	Ctrl     *Node // the REGION or START node this block was derived from
	RPO      int
	Idom     *Block
	DomDepth int
	Preds    []*Block
	Succs    []*Block

	Nodes []*Node // scheduled contents, filled in by GCM + the local scheduler

	LiveIn, LiveOut, Gen, Kill *bitset.BitSet

	// Set by instruction selection (internal/backend); left untyped here
	// to avoid a backend->ir import cycle. Both are nil until isel runs.
	FirstTile, LastTile interface{}
}

func (b *Block) String() string {
	if b == nil {
		return "<nil block>"
	}
	return b.Ctrl.String()
}

// Dominates reports whether b dominates other (reflexive: b dominates
// itself).
func (b *Block) Dominates(other *Block) bool {
	for o := other; o != nil; o = o.Idom {
		if o == b {
			return true
		}
		if o.Idom == o {
			break
		}
	}
	return false
}

// BuildCFG performs the forward RPO walk from START collecting basic
// blocks (one per REGION/START), grounded on the teacher's own CFG walk
// in cmd/compile/internal/ssa (blockorder.go's postorder/RPO machinery),
// generalized to this spec's REGION-node-is-the-block model rather than
// the teacher's own *Block type. Must run after peepholes have stabilized
// (spec.md 4.6).
func (f *Func) BuildCFG() {
	f.Blocks = nil
	ctrlToBlock := make(map[*Node]*Block)

	var order []*Node
	visited := make(map[*Node]bool)
	var visit func(n *Node)
	visit = func(n *Node) {
		if n == nil || visited[n] {
			return
		}
		visited[n] = true
		for _, succ := range controlSuccessors(n) {
			visit(succ)
		}
		if n.Op == OpRegion || n.Op == OpStart {
			order = append(order, n)
		}
	}
	visit(f.Start)

	// order is now a postorder of control nodes; reverse for RPO.
	blocks := make([]*Block, 0, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		b := &Block{ID: BlockID(len(blocks)), Ctrl: n, RPO: len(blocks)}
		ctrlToBlock[n] = b
		blocks = append(blocks, b)
	}

	for _, b := range blocks {
		for _, pred := range controlPredecessors(b.Ctrl) {
			if pb, ok := ctrlToBlock[pred]; ok {
				b.Preds = append(b.Preds, pb)
				pb.Succs = append(pb.Succs, b)
			}
		}
	}

	f.Blocks = blocks
	f.computeDominators()
	for _, b := range blocks {
		n := blockSize(f)
		b.LiveIn = bitset.New(n)
		b.LiveOut = bitset.New(n)
		b.Gen = bitset.New(n)
		b.Kill = bitset.New(n)
	}
}

func blockSize(f *Func) uint { return uint(f.nextGVN + 1) }

// controlSuccessors returns the control nodes n transfers to: the targets
// of a BRANCH's projections, or a RETURN's implicit none, or a REGION's
// successors discovered via its users that are themselves control nodes.
func controlSuccessors(n *Node) []*Node {
	var out []*Node
	for _, u := range n.Users {
		un := u.Node
		switch un.Op {
		case OpRegion:
			// un has n (possibly via a PROJ) as one of its control inputs.
			for _, in := range un.Inputs {
				if in == n {
					out = append(out, un)
				}
			}
		case OpProj:
			out = append(out, controlSuccessors(un)...)
		case OpBranch:
			if len(un.Inputs) > 0 && un.Inputs[0] == n {
				out = append(out, controlSuccessors(un)...)
			}
		}
	}
	if n.Op == OpBranch || n.Op == OpStart || n.Op == OpRegion {
		for _, u := range n.Users {
			if u.Node.Op == OpRegion {
				out = append(out, u.Node)
			}
		}
	}
	return dedupNodes(out)
}

// controlPredecessors returns the owning block (REGION/START) of every
// control edge feeding a REGION, or nil for START (no predecessors).
func controlPredecessors(n *Node) []*Node {
	if n.Op != OpRegion {
		return nil
	}
	var out []*Node
	for _, in := range n.Inputs {
		if in == nil {
			continue
		}
		out = append(out, controlChainOrigin(in))
	}
	return out
}

// controlChainOrigin walks n's control-predecessor chain back through
// PROJ/BRANCH/RETURN/pinned-effect nodes until it reaches the owning
// REGION or START block (spec.md 3.4: blocks are derived only from
// REGION and START; every other control-shaped node lives inside the
// block its chain resolves to).
func controlChainOrigin(n *Node) *Node {
	for n != nil {
		switch n.Op {
		case OpRegion, OpStart:
			return n
		case OpProj, OpBranch, OpReturn, OpSafepoint, OpStore, OpMemcpy, OpMemset,
			OpAtomicLoad, OpAtomicStore, OpAtomicCAS, OpAtomicAdd, OpCall:
			if len(n.Inputs) == 0 {
				return n
			}
			n = n.Inputs[0]
		default:
			return n
		}
	}
	return n
}

func dedupNodes(ns []*Node) []*Node {
	seen := make(map[*Node]bool, len(ns))
	out := ns[:0]
	for _, n := range ns {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// computeDominators computes immediate dominators with the iterative
// Cooper-Harvey-Kennedy algorithm: it sweeps the RPO blocks, intersecting
// the dominators of each block's already-processed predecessors, until no
// immediate dominator changes. It does not use Semi-NCA or another
// Lengauer-Tarjan-family algorithm.
func (f *Func) computeDominators() {
	if len(f.Blocks) == 0 {
		return
	}
	entry := f.Blocks[0]
	entry.Idom = entry
	entry.DomDepth = 0

	idom := make([]*Block, len(f.Blocks))
	idom[entry.RPO] = entry

	changed := true
	for changed {
		changed = false
		for _, b := range f.Blocks[1:] {
			var newIdom *Block
			for _, p := range b.Preds {
				if idom[p.RPO] == nil {
					continue
				}
				if newIdom == nil {
					newIdom = p
					continue
				}
				newIdom = intersect(idom, newIdom, p)
			}
			if newIdom != nil && idom[b.RPO] != newIdom {
				idom[b.RPO] = newIdom
				changed = true
			}
		}
	}

	for _, b := range f.Blocks {
		b.Idom = idom[b.RPO]
	}
	entry.Idom = entry
	for _, b := range f.Blocks {
		depth := 0
		for cur := b; cur != entry; cur = cur.Idom {
			depth++
			if cur.Idom == nil {
				depth = 0
				break
			}
		}
		b.DomDepth = depth
	}
}

func intersect(idom []*Block, a, b *Block) *Block {
	for a != b {
		for a.RPO > b.RPO {
			a = idom[a.RPO]
		}
		for b.RPO > a.RPO {
			b = idom[b.RPO]
		}
	}
	return a
}

// Loop is a natural loop: a header dominating a set of backedge sources.
type Loop struct {
	Header   *Block
	Backedge *Block
	Body     []*Block
	Affine   bool // single backedge, header has exactly two predecessors
}

// FindLoops identifies backedges (successor dominates predecessor) and
// assembles nested loop bodies (spec.md 4.6).
func (f *Func) FindLoops() []*Loop {
	var loops []*Loop
	for _, b := range f.Blocks {
		for _, s := range b.Succs {
			if s.Dominates(b) {
				loops = append(loops, buildLoop(s, b))
			}
		}
	}
	byHeader := make(map[*Block][]*Loop)
	for _, l := range loops {
		byHeader[l.Header] = append(byHeader[l.Header], l)
	}
	for h, ls := range byHeader {
		if len(ls) == 1 {
			ls[0].Affine = len(h.Preds) == 2
		}
	}
	return loops
}

func buildLoop(header, latch *Block) *Loop {
	body := map[*Block]bool{header: true}
	var stack []*Block
	if !body[latch] {
		body[latch] = true
		stack = append(stack, latch)
	}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, p := range b.Preds {
			if !body[p] {
				body[p] = true
				stack = append(stack, p)
			}
		}
	}
	out := make([]*Block, 0, len(body))
	for b := range body {
		out = append(out, b)
	}
	return &Loop{Header: header, Backedge: latch, Body: out}
}
