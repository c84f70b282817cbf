package ir

import (
	"math"

	"github.com/nodec-project/nodec/internal/lattice"
)

// RunPeephole drives idealize -> dataflow/try-as-const -> identity -> GVN
// to a fixed point (spec.md 4.5's main loop). Callers seed the worklist
// (e.g. via PushAllNodes) before calling this.
func (f *Func) RunPeephole() {
	wl := f.worklist
	for {
		n := wl.Pop()
		if n == nil {
			return
		}
		if n.IsDeadEligible() {
			f.Kill(n)
			continue
		}

		for {
			k := f.idealize(n)
			if k == nil {
				break
			}
			f.markUsersDirty(n)
			if k != n {
				f.Subsume(n, k)
				n = k
			}
		}
		if n.dead {
			continue
		}

		if n.DT.IsValue() || n.DT.IsTuple() || n.Op == OpRegion || n.Op == OpProj {
			t := f.Dataflow(n)
			if t.IsSingleton() {
				c := f.tryAsConst(n, t)
				if c != nil && c != n {
					f.markUsersDirty(n)
					f.Subsume(n, c)
					continue
				}
			}
			if f.setType(n, t) {
				f.markUsersDirty(n)
			}
		}

		if id := f.identity(n); id != nil && id != n {
			f.markUsersDirty(n)
			f.Subsume(n, id)
			continue
		}

		g := f.GVNIntern(n)
		if g != n {
			f.markUsersDirty(n)
			f.Subsume(n, g)
		}
	}
}

func (f *Func) markUsersDirty(n *Node) {
	for _, u := range n.Users {
		f.worklist.Push(u.Node)
	}
	f.worklist.Push(n)
}

// newConst builds (without registering) a fresh constant node of the
// given singleton lattice value, used by tryAsConst and by idealize rules
// that fold an input to a literal.
func (f *Func) newConst(dt DataType, v *lattice.Value) *Node {
	switch v.Kind() {
	case lattice.Int:
		min, _, _ := v.IntRange()
		n := f.NewNode(OpIntConst, dt, 0)
		n.AuxInt = min
		return n
	case lattice.FltCon32:
		n := f.NewNode(OpFloatConst, dt, 0)
		n.AuxInt = int64(uint32FromFloat32(v.Float32()))
		return n
	case lattice.FltCon64:
		n := f.NewNode(OpFloatConst, dt, 0)
		n.AuxInt = int64(uint64FromFloat64(v.Float64()))
		return n
	case lattice.Null:
		return f.NewNode(OpIntConst, dt, 0)
	case lattice.PtrCon:
		n := f.NewNode(OpSymbol, dt, 0)
		n.Aux = SymAux{Name: v.Sym()}
		return n
	}
	return nil
}

func uint32FromFloat32(f float32) uint32 { return math.Float32bits(f) }
func uint64FromFloat64(f float64) uint64 { return math.Float64bits(f) }

// tryAsConst converts a lattice singleton into the appropriate constant
// node (spec.md 4.5). Returns nil when dt doesn't admit a constant form
// (e.g. MEMORY, CONTROL).
func (f *Func) tryAsConst(n *Node, t *lattice.Value) *Node {
	if !n.DT.IsValue() {
		return nil
	}
	if n.Op == OpIntConst || n.Op == OpFloatConst || n.Op == OpSymbol {
		return n // already canonical
	}
	c := f.newConst(n.DT, t)
	if c == nil {
		return nil
	}
	return f.GVNIntern(c)
}

// idealize performs structural rewrites (spec.md 4.5's idealize column).
// Returns nil if no rewrite applies, n itself if the node was simplified
// in place (payload-only change), or a replacement node otherwise.
func (f *Func) idealize(n *Node) *Node {
	switch n.Op {
	case OpAdd, OpMul, OpAnd, OpOr, OpXor:
		if n.Op.IsCommutative() && len(n.Inputs) == 2 && rank(n.Inputs[0]) < rank(n.Inputs[1]) {
			a, b := n.Inputs[0], n.Inputs[1]
			f.SetInput(n, 0, b)
			f.SetInput(n, 1, a)
			return n
		}
	}

	switch n.Op {
	case OpMul:
		if k, ok := constShiftAmount(n.Inputs[1]); ok {
			shl := f.NewNode(OpShl, n.DT, 2)
			f.SetInput(shl, 0, n.Inputs[0])
			amt := f.NewNode(OpIntConst, n.DT, 0)
			amt.AuxInt = k
			f.SetInput(shl, 1, amt)
			return shl
		}
	case OpUDiv:
		if k, ok := constShiftAmount(n.Inputs[1]); ok {
			shr := f.NewNode(OpShr, n.DT, 2)
			f.SetInput(shr, 0, n.Inputs[0])
			amt := f.NewNode(OpIntConst, n.DT, 0)
			amt.AuxInt = k
			f.SetInput(shr, 1, amt)
			return shr
		}
	case OpUMod:
		if k, ok := constShiftAmount(n.Inputs[1]); ok {
			and := f.NewNode(OpAnd, n.DT, 2)
			f.SetInput(and, 0, n.Inputs[0])
			mask := f.NewNode(OpIntConst, n.DT, 0)
			mask.AuxInt = (int64(1) << uint(k)) - 1
			f.SetInput(and, 1, mask)
			return and
		}
	case OpOr:
		if rol := f.matchRotate(n); rol != nil {
			return rol
		}
	case OpMember:
		if base, ok := n.Inputs[0], true; ok && base.Op == OpMember {
			aux, _ := n.Aux.(MemberAux)
			baseAux, _ := base.Aux.(MemberAux)
			merged := f.NewNode(OpMember, n.DT, 1)
			f.SetInput(merged, 0, base.Inputs[0])
			merged.Aux = MemberAux{Offset: baseAux.Offset + aux.Offset}
			return merged
		}
	case OpArray:
		aux, _ := n.Aux.(ArrayAux)
		// array+mul/shl folds the constant factor straight into the
		// array's own stride, so idx*4 feeding a stride-1 array becomes
		// idx feeding a stride-4 array.
		if inner, factor, ok := arrayStrideFold(n.Inputs[1]); ok {
			folded := f.NewNode(OpArray, n.DT, 2)
			f.SetInput(folded, 0, n.Inputs[0])
			f.SetInput(folded, 1, inner)
			folded.Aux = ArrayAux{Stride: aux.Stride * factor}
			return folded
		}
		// array+add splits a constant index offset into a MEMBER byte
		// offset chained after a narrower array access.
		if idx := n.Inputs[1]; idx != nil && idx.Op == OpAdd {
			if base2, c, ok := constOperand(idx); ok {
				arr := f.NewNode(OpArray, n.DT, 2)
				f.SetInput(arr, 0, n.Inputs[0])
				f.SetInput(arr, 1, base2)
				arr.Aux = ArrayAux{Stride: aux.Stride}
				member := f.NewNode(OpMember, n.DT, 1)
				f.SetInput(member, 0, arr)
				member.Aux = MemberAux{Offset: c * aux.Stride}
				return member
			}
		}
	case OpCmpEQ:
		// cmp_eq x 0 negates x's own comparison rather than materializing
		// a separate flags test, when x is itself an integer compare.
		if isConstBool(n.Inputs[1], 0) && n.Inputs[0] != nil && n.Inputs[0].Op.IsCompare() {
			if negOp, swap, ok := negatedCompare(n.Inputs[0].Op); ok {
				cmp := n.Inputs[0]
				x, y := cmp.Inputs[0], cmp.Inputs[1]
				if swap {
					x, y = y, x
				}
				neg := f.NewNode(negOp, Int(1), 2)
				f.SetInput(neg, 0, x)
				f.SetInput(neg, 1, y)
				return neg
			}
		}
	case OpSelect:
		cond := f.TypeOf(n.Inputs[0])
		if min, max, ok := cond.IntRange(); ok && min == max {
			if min != 0 {
				return n.Inputs[1]
			}
			return n.Inputs[2]
		}
		if isConstBool(n.Inputs[1], 1) && isConstBool(n.Inputs[2], 0) {
			zxt := f.NewNode(OpZeroExt, n.DT, 1)
			f.SetInput(zxt, 0, n.Inputs[0])
			return zxt
		}
	case OpRegion:
		if len(n.Inputs) == 1 && !hasPhiUsers(n) {
			return n.Inputs[0]
		}
		if idx, ok := f.deadPredecessorIndex(n); ok {
			f.collapseDeadPredecessor(n, idx)
			return n
		}
	case OpMemset:
		if aux, ok := n.Aux.(MemLenAux); ok && smallConstantLength(aux.Length) {
			if val := n.Inputs[2]; val.Op == OpIntConst {
				return f.unrollMemset(n, aux.Length, val.AuxInt)
			}
		}
	case OpMemcpy:
		if aux, ok := n.Aux.(MemLenAux); ok && smallConstantLength(aux.Length) {
			return f.unrollMemcpy(n, aux.Length)
		}
	}
	return nil
}

// smallConstantLength gates the memset/memcpy unrolling rule (SPEC_FULL.md
// §C, grounded on tb/src/opt/fold.h's small-length unroll) to lengths a
// handful of 8-byte stores can cover without bloating the graph.
const memUnrollMaxBytes = 32

func smallConstantLength(n int64) bool {
	return n > 0 && n <= memUnrollMaxBytes && n%8 == 0
}

// unrollMemset rewrites a constant-length, constant-value MEMSET into a
// chain of 8-byte STOREs of the byte value broadcast across a word,
// mirroring TB's own memset-unroll fold (tb/src/opt/fold.h).
func (f *Func) unrollMemset(n *Node, length, byteVal int64) *Node {
	addr, mem := n.Inputs[1], n.Inputs[3]
	pattern := broadcastByte(byteVal)
	last := mem
	for off := int64(0); off < length; off += 8 {
		member := f.NewNode(OpMember, Ptr(), 1)
		f.SetInput(member, 0, addr)
		member.Aux = MemberAux{Offset: off}

		c := f.NewNode(OpIntConst, Int(64), 0)
		c.AuxInt = pattern

		store := f.NewNode(OpStore, Memory(), 4)
		f.SetInput(store, 0, n.Inputs[0])
		f.SetInput(store, 1, member)
		f.SetInput(store, 2, c)
		f.SetInput(store, 3, last)
		last = store
	}
	return last
}

// unrollMemcpy rewrites a constant-length MEMCPY into a chain of 8-byte
// LOAD/STORE pairs, mirroring TB's own memcpy-unroll fold.
func (f *Func) unrollMemcpy(n *Node, length int64) *Node {
	dst, src, mem := n.Inputs[1], n.Inputs[2], n.Inputs[3]
	last := mem
	for off := int64(0); off < length; off += 8 {
		srcMember := f.NewNode(OpMember, Ptr(), 1)
		f.SetInput(srcMember, 0, src)
		srcMember.Aux = MemberAux{Offset: off}

		load := f.NewNode(OpLoad, Int(64), 2)
		f.SetInput(load, 0, srcMember)
		f.SetInput(load, 1, last)

		dstMember := f.NewNode(OpMember, Ptr(), 1)
		f.SetInput(dstMember, 0, dst)
		dstMember.Aux = MemberAux{Offset: off}

		store := f.NewNode(OpStore, Memory(), 4)
		f.SetInput(store, 0, n.Inputs[0])
		f.SetInput(store, 1, dstMember)
		f.SetInput(store, 2, load)
		f.SetInput(store, 3, last)
		last = store
	}
	return last
}

func broadcastByte(v int64) int64 {
	b := v & 0xff
	var pattern int64
	for i := 0; i < 8; i++ {
		pattern |= b << uint(i*8)
	}
	return pattern
}

// deadPredecessorIndex finds a REGION input whose own lattice type has
// been proven XCTRL (unreachable), the condition spec.md 8 calls out for
// region collapse.
func (f *Func) deadPredecessorIndex(n *Node) (int, bool) {
	if len(n.Inputs) <= 1 {
		return 0, false
	}
	for i, in := range n.Inputs {
		if in == nil {
			continue
		}
		if f.TypeOf(in) == f.Lat.XCtrl() {
			return i, true
		}
	}
	return 0, false
}

// collapseDeadPredecessor removes region input idx and the matching input
// (idx+1) from every PHI bound to the region (spec.md 8).
func (f *Func) collapseDeadPredecessor(n *Node, idx int) {
	for _, u := range append([]Use(nil), n.Users...) {
		if u.Node.Op == OpPhi && u.Node.Inputs[0] == n {
			f.RemoveInputAt(u.Node, idx+1)
			f.markUsersDirty(u.Node)
		}
	}
	f.RemoveInputAt(n, idx)
}

func hasPhiUsers(n *Node) bool {
	for _, u := range n.Users {
		if u.Node.Op == OpPhi {
			return true
		}
	}
	return false
}

func isConstBool(n *Node, v int64) bool {
	return n != nil && n.Op == OpIntConst && n.AuxInt == v
}

// constShiftAmount reports whether n is an IntConst whose value is a
// power of two, returning log2 of it.
func constShiftAmount(n *Node) (int64, bool) {
	if n == nil || n.Op != OpIntConst || n.AuxInt <= 0 {
		return 0, false
	}
	v := n.AuxInt
	if v&(v-1) != 0 {
		return 0, false
	}
	k := int64(0)
	for v > 1 {
		v >>= 1
		k++
	}
	return k, true
}

// constOperand reports whether one of n's two inputs is an IntConst,
// returning the other input and the constant's value.
func constOperand(n *Node) (*Node, int64, bool) {
	if n.Inputs[1] != nil && n.Inputs[1].Op == OpIntConst {
		return n.Inputs[0], n.Inputs[1].AuxInt, true
	}
	if n.Inputs[0] != nil && n.Inputs[0].Op == OpIntConst {
		return n.Inputs[1], n.Inputs[0].AuxInt, true
	}
	return nil, 0, false
}

// arrayStrideFold recognizes an ARRAY index of the form idx*k or idx<<k
// for a constant k, returning the narrower index and the multiplier to
// fold into the array's own stride.
func arrayStrideFold(idx *Node) (*Node, int64, bool) {
	if idx == nil {
		return nil, 0, false
	}
	switch idx.Op {
	case OpMul:
		if inner, k, ok := constOperand(idx); ok {
			return inner, k, true
		}
	case OpShl:
		if c := idx.Inputs[1]; c != nil && c.Op == OpIntConst && c.AuxInt >= 0 && c.AuxInt < 63 {
			return idx.Inputs[0], int64(1) << uint(c.AuxInt), true
		}
	}
	return nil, 0, false
}

// negatedCompare returns the compare op and operand order logically
// equivalent to "not(op)" for the integer compares, e.g. not(a < b) is
// b <= a. Float compares are excluded since their negation isn't sound
// across NaN without also knowing orderedness.
func negatedCompare(op Op) (negated Op, swap bool, ok bool) {
	switch op {
	case OpCmpEQ:
		return OpCmpNE, false, true
	case OpCmpNE:
		return OpCmpEQ, false, true
	case OpCmpULT:
		return OpCmpULE, true, true
	case OpCmpULE:
		return OpCmpULT, true, true
	case OpCmpSLT:
		return OpCmpSLE, true, true
	case OpCmpSLE:
		return OpCmpSLT, true, true
	}
	return OpInvalid, false, false
}

// matchRotate recognizes or(shl a k, shr a (bits-k)) -> rol a k (spec.md 4.5).
func (f *Func) matchRotate(n *Node) *Node {
	a, b := n.Inputs[0], n.Inputs[1]
	if a == nil || b == nil {
		return nil
	}
	shl, shr := a, b
	if shl.Op != OpShl {
		shl, shr = shr, shl
	}
	if shl.Op != OpShl || shr.Op != OpShr {
		return nil
	}
	if shl.Inputs[0] != shr.Inputs[0] {
		return nil
	}
	c1, c2 := shl.Inputs[1], shr.Inputs[1]
	if c1 == nil || c2 == nil || c1.Op != OpIntConst || c2.Op != OpIntConst {
		return nil
	}
	if c1.AuxInt+c2.AuxInt != int64(n.DT.Bits) {
		return nil
	}
	rol := f.NewNode(OpRol, n.DT, 2)
	f.SetInput(rol, 0, shl.Inputs[0])
	f.SetInput(rol, 1, shl.Inputs[1])
	return rol
}

// rank is the canonicalization key idealize uses to decide which operand
// of a commutative op goes on the right ("smaller-rank operand on the
// right", spec.md 4.5): constants rank lowest, then by gvn.
func rank(n *Node) int64 {
	if n == nil {
		return -1
	}
	if n.Op == OpIntConst || n.Op == OpFloatConst {
		return -1
	}
	return int64(n.GVN)
}

// identity returns a structurally distinct node computing the same value
// (spec.md 4.5's identity column), or nil if none applies.
func (f *Func) identity(n *Node) *Node {
	switch n.Op {
	case OpAdd:
		if isConstBool(n.Inputs[1], 0) {
			return n.Inputs[0]
		}
	case OpMul:
		if isConstBool(n.Inputs[1], 1) {
			return n.Inputs[0]
		}
	case OpAnd:
		if c := n.Inputs[1]; c != nil && c.Op == OpIntConst && isAllBits(c.AuxInt, n.DT.Bits) {
			return n.Inputs[0]
		}
		if zeros, _ := f.TypeOf(n.Inputs[0]).KnownBits(); n.Inputs[1].Op == OpIntConst {
			// x&mask == x when every bit the mask clears is known zero in x.
			mask := n.Inputs[1].AuxInt
			if isAllBits(int64(zeros)|mask, n.DT.Bits) {
				return n.Inputs[0]
			}
		}
	case OpPhi:
		var distinct *Node
		same := true
		for i := 1; i < len(n.Inputs); i++ {
			v := n.Inputs[i]
			if v == n {
				continue
			}
			if distinct == nil {
				distinct = v
			} else if distinct != v {
				same = false
				break
			}
		}
		if same && distinct != nil {
			return distinct
		}
	case OpMember:
		if aux, ok := n.Aux.(MemberAux); ok && aux.Offset == 0 {
			return n.Inputs[0]
		}
	case OpSafepoint:
		if n.Inputs[0] != nil && n.Inputs[0].Op == OpSafepoint {
			return n.Inputs[0]
		}
	case OpSelect:
		cond := n.Inputs[0]
		if cond != nil && cond.Op == OpIntConst {
			if cond.AuxInt != 0 {
				return n.Inputs[1]
			}
			return n.Inputs[2]
		}
	}
	return nil
}

func isAllBits(v int64, bits int) bool {
	if bits <= 0 || bits >= 64 {
		return v == -1
	}
	return v&((int64(1)<<uint(bits))-1) == (int64(1)<<uint(bits))-1
}
