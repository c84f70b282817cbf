package ir

import (
	"fmt"

	"github.com/nodec-project/nodec/internal/lattice"
)

// GVN is the stable small integer assigned to a node at creation (spec.md
// 3.1). The name intentionally matches the spec's own term rather than
// "ID", since it indexes the GVN table directly.
type GVN int32

// Use is a back-edge: node n uses its input at Slot.
type Use struct {
	Node *Node
	Slot int
}

// Node is a sea-of-nodes graph node: it represents both values and
// effects. Generalizes cmd/compile/internal/ssa's *Value (Op/Type/Args/
// Aux/AuxInt) with an eager, explicit Users list the teacher's Value
// doesn't carry — this spec's set_input/subsume/kill contract (spec.md
// 4.2) needs eager use-list maintenance (O(deg) per removed edge, see
// removeUser) rather than the teacher's
// recompute-on-demand uses, grounded on original_source/tb_internal.h's
// own eager TB_Node use list (see DESIGN.md).
type Node struct {
	GVN    GVN
	Op     Op
	DT     DataType
	Inputs []*Node
	Users  []Use

	AuxInt int64
	Aux    Aux

	// ProjIndex is meaningful only for OpProj: which tuple element it reads.
	ProjIndex int

	dead bool
}

// Aux is opcode-specific extra payload beyond AuxInt (spec.md 3.1's "extra
// payload"): symbol references, branch key lists, member offsets, and so
// on. Implementations must be comparable with == or implement Key for
// structural hashing/equality in the GVN table.
type Aux interface {
	// Key returns a string uniquely identifying this aux value for
	// structural equality and hashing purposes.
	Key() string
}

// SymAux names a SYMBOL or PTRCON's external symbol.
type SymAux struct{ Name string }

func (a SymAux) Key() string { return "sym:" + a.Name }

// MemberAux carries a MEMBER node's byte offset.
type MemberAux struct{ Offset int64 }

func (a MemberAux) Key() string { return fmt.Sprintf("member:%d", a.Offset) }

// ArrayAux carries an ARRAY node's element stride.
type ArrayAux struct{ Stride int64 }

func (a ArrayAux) Key() string { return fmt.Sprintf("array:%d", a.Stride) }

// BranchAux carries a BRANCH's matched key values, one per non-default
// successor, in projection order.
type BranchAux struct{ Keys []int64 }

func (a BranchAux) Key() string { return fmt.Sprintf("branch:%v", a.Keys) }

// SafepointAux records a pinned debug location (spec.md 6.1's safepoint).
type SafepointAux struct {
	File             string
	Line, Col        int
}

func (a SafepointAux) Key() string { return fmt.Sprintf("safept:%s:%d:%d", a.File, a.Line, a.Col) }

// RegionAux tags a REGION with a stable kind used by the frontend (e.g.
// "loop-header", "if-join"); purely advisory, never read by the optimizer.
type RegionAux struct{ Tag string }

func (a RegionAux) Key() string { return "region:" + a.Tag }

// MemLenAux carries a MEMCPY/MEMSET node's byte length, when known at
// construction time; Length < 0 means the length is itself a runtime value
// carried as an extra input rather than folded into Aux.
type MemLenAux struct{ Length int64 }

func (a MemLenAux) Key() string { return fmt.Sprintf("memlen:%d", a.Length) }

func (n *Node) String() string {
	return fmt.Sprintf("v%d:%s", n.GVN, n.Op)
}

// IsDead reports whether kill has already been called on n.
func (n *Node) IsDead() bool { return n.dead }

// Func owns one function's worth of nodes: the gvn→node table and the
// side tables keyed by gvn (spec.md 3.3). Nodes are ordinary Go heap
// allocations made by NewNode; Func holds no arena.
type Func struct {
	Name   string
	Proto  Prototype

	nextGVN GVN
	nodes   map[GVN]*Node

	Start  *Node
	worklist *Worklist
	gvnTable *gvnTable

	Lat *lattice.Universe

	// side tables, spec.md 3.3
	typeMap  map[GVN]*lattice.Value
	useCount map[GVN]int
	schedule map[GVN]*Block
	stackSlots map[GVN]int64

	Blocks []*Block

	scheduled bool
	gcmDone   bool
}

// Prototype is a function's calling signature (spec.md 6.1).
type Prototype struct {
	CallingConvention string
	ReturnTypes       []DataType
	ParamTypes        []DataType
	Varargs           bool
}

// NewFunc creates an empty function context with its own GVN/use-list
// bookkeeping and a pre-built START node (spec.md 3.1: "the unique START").
func NewFunc(name string, proto Prototype) *Func {
	f := &Func{
		Name:       name,
		Proto:      proto,
		nodes:      make(map[GVN]*Node),
		typeMap:    make(map[GVN]*lattice.Value),
		useCount:   make(map[GVN]int),
		schedule:   make(map[GVN]*Block),
		stackSlots: make(map[GVN]int64),
	}
	f.worklist = newWorklist()
	f.gvnTable = newGVNTable()
	f.Lat = lattice.NewUniverse()
	f.Start = f.NewNode(OpStart, Control(), 0)
	return f
}

// NewNode allocates, zeroes, assigns a fresh gvn, and returns a pre-wired
// node with inputCount nil input slots (spec.md 4.2's new_node contract).
func (f *Func) NewNode(op Op, dt DataType, inputCount int) *Node {
	n := &Node{
		GVN:    f.nextGVN,
		Op:     op,
		DT:     dt,
		Inputs: make([]*Node, inputCount),
	}
	f.nextGVN++
	f.nodes[n.GVN] = n
	return n
}

// Node looks up a live node by gvn, or nil if it was killed or never existed.
func (f *Func) Node(g GVN) *Node { return f.nodes[g] }

func (f *Func) NumNodes() int { return len(f.nodes) }

func (f *Func) allNodesSnapshot() []*Node {
	out := make([]*Node, 0, len(f.nodes))
	for _, n := range f.nodes {
		out = append(out, n)
	}
	return out
}

// addUser records that n reads v at slot (the v-side half of an edge).
func addUser(v *Node, n *Node, slot int) {
	if v == nil {
		return
	}
	v.Users = append(v.Users, Use{Node: n, Slot: slot})
}

// removeUser deletes the single (n, slot) entry from v.Users. O(deg(v)),
// matching spec.md 4.2's stated complexity for set_input.
func removeUser(v *Node, n *Node, slot int) {
	if v == nil {
		return
	}
	for i, u := range v.Users {
		if u.Node == n && u.Slot == slot {
			v.Users[i] = v.Users[len(v.Users)-1]
			v.Users = v.Users[:len(v.Users)-1]
			return
		}
	}
}

// SetInput detaches n's previous input at slot (if any) and attaches v,
// updating both sides of the edge atomically (spec.md 4.2). v == nil
// disconnects the slot.
func (f *Func) SetInput(n *Node, slot int, v *Node) {
	old := n.Inputs[slot]
	if old == v {
		return
	}
	removeUser(old, n, slot)
	n.Inputs[slot] = v
	addUser(v, n, slot)
}

// AppendInput grows n's input list by one slot wired to v.
func (f *Func) AppendInput(n *Node, v *Node) {
	slot := len(n.Inputs)
	n.Inputs = append(n.Inputs, nil)
	f.SetInput(n, slot, v)
}

// RemoveInputAt deletes n's input slot idx outright, shifting every later
// slot down by one and fixing up the corresponding Users entries. Used by
// arity-changing structural rewrites such as REGION dead-edge folding
// (spec.md 8: "branch with a statically dead edge has its region
// collapsed and the corresponding PHI inputs removed") where plain
// set_input (fixed arity) doesn't apply.
func (f *Func) RemoveInputAt(n *Node, idx int) {
	removeUser(n.Inputs[idx], n, idx)
	for i := idx; i < len(n.Inputs)-1; i++ {
		n.Inputs[i] = n.Inputs[i+1]
		relabelUserSlot(n.Inputs[i], n, i+1, i)
	}
	n.Inputs = n.Inputs[:len(n.Inputs)-1]
}

// relabelUserSlot updates the (n, oldSlot) entry in v.Users to (n, newSlot)
// after a RemoveInputAt shift.
func relabelUserSlot(v *Node, n *Node, oldSlot, newSlot int) {
	if v == nil {
		return
	}
	for i := range v.Users {
		if v.Users[i].Node == n && v.Users[i].Slot == oldSlot {
			v.Users[i].Slot = newSlot
			return
		}
	}
}

// Subsume migrates every user of old onto new, preserving new's own user
// list consistently, then kills old (spec.md 4.2).
func (f *Func) Subsume(old, new *Node) {
	if old == new {
		return
	}
	users := old.Users
	old.Users = nil
	for _, u := range users {
		f.SetInput(u.Node, u.Slot, new)
	}
	f.Kill(old)
	if f.worklist != nil {
		f.worklist.Push(new)
		for _, u := range new.Users {
			f.worklist.Push(u.Node)
		}
	}
}

// Kill removes n from the GVN table, unwires all of its inputs, and marks
// it DEAD. Must not be called on a node with live users (spec.md 4.2).
// Each former input is queued on the worklist, so an input left with no
// users is collected by the running peephole pass.
func (f *Func) Kill(n *Node) {
	if n.dead {
		return
	}
	if len(n.Users) != 0 {
		panic(fmt.Sprintf("internal invariant: kill(%s) called with %d live users", n, len(n.Users)))
	}
	if f.gvnTable != nil {
		f.gvnTable.remove(n)
	}
	for i, v := range n.Inputs {
		removeUser(v, n, i)
		n.Inputs[i] = nil
		if v != nil && f.worklist != nil {
			f.worklist.Push(v)
		}
	}
	n.Op = OpDead
	n.dead = true
	delete(f.nodes, n.GVN)
	delete(f.typeMap, n.GVN)
	delete(f.useCount, n.GVN)
	delete(f.schedule, n.GVN)
}

// IsDeadEligible reports whether n has no users and no effect, the
// condition the peephole main loop uses to kill a node outright (spec.md
// 4.5's "if n has no users and n has no effect: kill(n); continue").
func (n *Node) IsDeadEligible() bool {
	return len(n.Users) == 0 && !n.Op.HasEffect()
}
