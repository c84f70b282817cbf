package ir

// HoistThreshold is the latency (in the target's expected-cycle units) at
// or above which GCM hoists a node one dominator step out of its late
// placement, trading a longer live range for fewer dynamic re-executions
// of an expensive op (spec.md 4.7). Below the threshold a node stays at
// its late placement, which minimizes its live range.
const HoistThreshold = 3

// LatencyFunc mirrors the target vtable's get_latency(n) callback
// (spec.md 6.3); passed in rather than imported to avoid ir depending on
// internal/target.
type LatencyFunc func(n *Node) int

// DefaultLatency is used when the caller has no target-specific latency
// model yet (e.g. unit tests): loads get a bump to reflect real hardware,
// everything else is treated as cheap.
func DefaultLatency(n *Node) int {
	if n.Op == OpLoad {
		return 4
	}
	return 1
}

// RunGCM places every non-pinned data node in a basic block chosen by
// dominator analysis and late-use liveness (spec.md 4.7). Must run after
// BuildCFG. Pinned nodes (spec.md 4.7's list) are seeded into the block
// their control input already determined before this pass begins.
func (f *Func) RunGCM(latency LatencyFunc) {
	if latency == nil {
		latency = DefaultLatency
	}
	f.seedPinned()

	early := make(map[*Node]*Block)
	visited := make(map[*Node]bool)
	var scheduleEarly func(n *Node) *Block
	scheduleEarly = func(n *Node) *Block {
		if b, ok := early[n]; ok {
			return b
		}
		if b, ok := f.schedule[n.GVN]; ok {
			early[n] = b
			return b
		}
		visited[n] = true
		best := f.Blocks[0]
		for _, in := range n.Inputs {
			if in == nil || in.Op == OpStart {
				continue
			}
			var ib *Block
			if b, ok := f.schedule[in.GVN]; ok {
				ib = b
			} else if !visited[in] {
				ib = scheduleEarly(in)
			} else {
				continue
			}
			if ib != nil && ib.DomDepth > best.DomDepth {
				best = ib
			}
		}
		early[n] = best
		return best
	}

	var dataNodes []*Node
	for _, n := range f.allNodesSnapshot() {
		if n.dead || n.Op.Pinned() || n.Op == OpStart {
			continue
		}
		dataNodes = append(dataNodes, n)
	}
	for _, n := range dataNodes {
		scheduleEarly(n)
	}

	for _, n := range dataNodes {
		lateBlock := f.lateSchedule(n, early[n])
		chosen := pickPlacement(early[n], lateBlock, n, latency)
		f.schedule[n.GVN] = chosen
	}
}

// seedPinned places every pinned node in the block its control input
// determines, before GCM considers the rest of the graph (spec.md 4.7).
func (f *Func) seedPinned() {
	blockOf := make(map[*Node]*Block, len(f.Blocks))
	for _, b := range f.Blocks {
		blockOf[b.Ctrl] = b
	}
	for _, n := range f.allNodesSnapshot() {
		if n.dead {
			continue
		}
		if n.Op == OpStart {
			if b, ok := blockOf[n]; ok {
				f.schedule[n.GVN] = b
			}
			continue
		}
		if !n.Op.Pinned() {
			continue
		}
		ctrl := pinnedControlBlock(n, blockOf)
		if ctrl != nil {
			f.schedule[n.GVN] = ctrl
		}
	}
}

func pinnedControlBlock(n *Node, blockOf map[*Node]*Block) *Block {
	if n.Op == OpRegion {
		return blockOf[n]
	}
	if len(n.Inputs) == 0 || n.Inputs[0] == nil {
		return nil
	}
	origin := controlChainOrigin(n.Inputs[0])
	return blockOf[origin]
}

// lateSchedule finds the LCA in the dominator tree of every user's block,
// treating a PHI use as occurring in the matching predecessor block
// (spec.md 4.7 step 2).
func (f *Func) lateSchedule(n *Node, fallback *Block) *Block {
	var lca *Block
	for _, u := range n.Users {
		var ub *Block
		if u.Node.Op == OpPhi {
			region := u.Node.Inputs[0]
			predIdx := u.Slot - 1
			if predIdx >= 0 && region != nil && predIdx < len(region.Inputs) {
				origin := controlChainOrigin(region.Inputs[predIdx])
				ub = f.blockOfCtrl(origin)
			}
		} else {
			ub = f.schedule[u.Node.GVN]
			if ub == nil {
				ub = f.lateSchedule(u.Node, fallback)
			}
		}
		if ub == nil {
			continue
		}
		if lca == nil {
			lca = ub
		} else {
			lca = lcaBlock(lca, ub)
		}
	}
	if lca == nil {
		return fallback
	}
	return lca
}

func (f *Func) blockOfCtrl(ctrl *Node) *Block {
	for _, b := range f.Blocks {
		if b.Ctrl == ctrl {
			return b
		}
	}
	return nil
}

func lcaBlock(a, b *Block) *Block {
	for a.DomDepth > b.DomDepth {
		a = a.Idom
	}
	for b.DomDepth > a.DomDepth {
		b = b.Idom
	}
	for a != b {
		a = a.Idom
		b = b.Idom
	}
	return a
}

// pickPlacement chooses a block on the dominator chain between early and
// late: late (deepest, shortest live range) by default, hoisted one
// dominator step toward early when the node's latency meets
// HoistThreshold (spec.md 4.7 step 3). This mirrors TB's try_to_hoist
// (original_source/tb/src/opt/gcm.h), which defaults to the late
// schedule and only climbs the dominator chain one block at a time for
// latency-sensitive ops, rather than jumping straight to the earliest
// legal placement.
func pickPlacement(early, late *Block, n *Node, latency LatencyFunc) *Block {
	if late == nil {
		return early
	}
	if early == late {
		return early
	}
	if !isOnChainAbove(early, late) {
		// late isn't dominator-reachable from early (disconnected CFG
		// region, e.g. dead code not yet cleaned up); fall back to early.
		return early
	}
	if latency(n) < HoistThreshold {
		return late
	}
	hoisted := late.Idom
	if hoisted == nil || !isOnChainAbove(early, hoisted) {
		return late
	}
	return hoisted
}

// isOnChainAbove reports whether early dominates late (i.e. late is a
// valid placement reachable by walking up from late to early).
func isOnChainAbove(early, late *Block) bool {
	return early.Dominates(late)
}
