package ir

import (
	"math"

	"github.com/nodec-project/nodec/internal/lattice"
)

// LatticeFromDT returns a node's type-wide starting lattice value
// (spec.md 3.3: "initialized from lattice_from_dt on first read").
func (f *Func) LatticeFromDT(dt DataType) *lattice.Value {
	switch dt.Kind {
	case KindInt:
		return f.Lat.NewIntFull(dt.Bits)
	case KindFloat:
		return f.Lat.Flt(dt.Bits)
	case KindPtr:
		return f.Lat.Ptr()
	case KindControl:
		return f.Lat.Ctrl()
	case KindMemory:
		return f.Lat.AllMem()
	case KindTuple:
		elems := make([]*lattice.Value, len(dt.Elem))
		for i, e := range dt.Elem {
			elems[i] = f.LatticeFromDT(e)
		}
		return f.Lat.NewTuple(elems...)
	default:
		return f.Lat.Top()
	}
}

// TypeOf returns n's current lattice value, lazily initializing it from
// its data type on first read (spec.md 3.3).
func (f *Func) TypeOf(n *Node) *lattice.Value {
	if v, ok := f.typeMap[n.GVN]; ok {
		return v
	}
	v := f.LatticeFromDT(n.DT)
	f.typeMap[n.GVN] = v
	return v
}

func (f *Func) setType(n *Node, v *lattice.Value) (changed bool) {
	old, ok := f.typeMap[n.GVN]
	f.typeMap[n.GVN] = v
	return !ok || old != v
}

// Dataflow computes n's per-opcode lattice transfer function (spec.md
// 4.5, 4.7 column "dataflow").
func (f *Func) Dataflow(n *Node) *lattice.Value {
	in := func(i int) *lattice.Value {
		if i >= len(n.Inputs) || n.Inputs[i] == nil {
			return f.Lat.Top()
		}
		return f.TypeOf(n.Inputs[i])
	}

	switch n.Op {
	case OpIntConst:
		return f.Lat.NewIntConst(n.AuxInt, n.DT.Bits)
	case OpFloatConst:
		if n.DT.Bits == 32 {
			return f.Lat.NewFltCon32(float32FromBits(n.AuxInt))
		}
		return f.Lat.NewFltCon64(float64FromBits(n.AuxInt))
	case OpSymbol:
		sym := ""
		if s, ok := n.Aux.(SymAux); ok {
			sym = s.Name
		}
		return f.Lat.NewPtrCon(sym)
	case OpLocal:
		return f.Lat.NewMemSlice(localAliasClass(n))

	case OpAdd, OpSub, OpMul:
		return f.dataflowArith(n, in(0), in(1))
	case OpAnd, OpOr, OpXor:
		return f.dataflowBitwise(n, in(0), in(1))
	case OpShl, OpShr, OpSar:
		return f.dataflowShift(n, in(0), in(1))
	case OpNeg, OpNot:
		return f.LatticeFromDT(n.DT)

	case OpCmpEQ, OpCmpNE, OpCmpULT, OpCmpULE, OpCmpSLT, OpCmpSLE:
		return f.dataflowCompare(n, in(0), in(1))
	case OpCmpFLT, OpCmpFLE:
		return f.LatticeFromDT(n.DT)

	case OpPhi:
		return f.dataflowPhi(n)
	case OpRegion:
		return f.dataflowRegion(n)
	case OpBranch:
		return f.dataflowBranch(n)
	case OpProj:
		parent := in(0)
		if n.ProjIndex < parent.NumElems() {
			return parent.Elem(n.ProjIndex)
		}
		return f.Lat.Bot()

	case OpStart:
		return f.Lat.Ctrl()
	case OpReturn:
		return f.Lat.Ctrl()

	default:
		return f.LatticeFromDT(n.DT)
	}
}

func localAliasClass(n *Node) uint64 {
	// Each LOCAL gets its own alias-class bit, keyed by a stable hash of
	// its gvn so distinct LOCALs never collide within the 64-class budget
	// in typical functions (spec.md 9's aliasing-precision open question;
	// see DESIGN.md).
	return uint64(1) << (uint(n.GVN) % 63)
}

func (f *Func) dataflowArith(n *Node, a, b *lattice.Value) *lattice.Value {
	amin, amax, aok := a.IntRange()
	bmin, bmax, bok := b.IntRange()
	if !aok || !bok {
		return f.LatticeFromDT(n.DT)
	}
	var lo, hi int64
	var overflow bool
	switch n.Op {
	case OpAdd:
		lo, overflow = addOverflows(amin, bmin)
		if overflow {
			return f.LatticeFromDT(n.DT)
		}
		hi, overflow = addOverflows(amax, bmax)
	case OpSub:
		lo, overflow = subOverflows(amin, bmax)
		if overflow {
			return f.LatticeFromDT(n.DT)
		}
		hi, overflow = subOverflows(amax, bmin)
	case OpMul:
		lo, hi, overflow = mulRange(amin, amax, bmin, bmax)
	}
	if overflow {
		return f.LatticeFromDT(n.DT)
	}
	widen := a.WidenCount()
	if b.WidenCount() > widen {
		widen = b.WidenCount()
	}
	return f.Lat.NewInt(lo, hi, 0, 0, widen)
}

func addOverflows(a, b int64) (int64, bool) {
	s := a + b
	if (a > 0 && b > 0 && s < 0) || (a < 0 && b < 0 && s > 0) {
		return 0, true
	}
	return s, false
}

func subOverflows(a, b int64) (int64, bool) {
	s := a - b
	if (b < 0 && s < a) || (b > 0 && s > a) {
		return 0, true
	}
	return s, false
}

// mulRange computes the product range of [amin,amax] x [bmin,bmax] from
// the four corner products, reporting overflow when any corner product
// does not fit in an int64 (checked by mulOverflows).
func mulRange(amin, amax, bmin, bmax int64) (lo, hi int64, overflow bool) {
	vals := make([]int64, 0, 4)
	for _, x := range [2]int64{amin, amax} {
		for _, y := range [2]int64{bmin, bmax} {
			p, ok := mulOverflows(x, y)
			if !ok {
				return 0, 0, true
			}
			vals = append(vals, p)
		}
	}
	lo, hi = vals[0], vals[0]
	for _, v := range vals[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi, false
}

// mulOverflows reports whether a*b fits in an int64, returning the
// product when it does.
func mulOverflows(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if b == -1 && a == math.MinInt64 {
		return 0, false
	}
	p := a * b
	if p/b != a {
		return 0, false
	}
	return p, true
}

func (f *Func) dataflowBitwise(n *Node, a, b *lattice.Value) *lattice.Value {
	az, ao := a.KnownBits()
	bz, bo := b.KnownBits()
	switch n.Op {
	case OpAnd:
		return f.Lat.NewInt(0, n.DT.bitsFullRangeHi(), az|bz, ao&bo, maxWiden(a, b))
	case OpOr:
		return f.Lat.NewInt(0, n.DT.bitsFullRangeHi(), az&bz, ao|bo, maxWiden(a, b))
	case OpXor:
		return f.Lat.NewInt(0, n.DT.bitsFullRangeHi(), (az&bz)|(ao&bo), (az&bo)|(ao&bz), maxWiden(a, b))
	}
	return f.LatticeFromDT(n.DT)
}

func (dt DataType) bitsFullRangeHi() int64 {
	if dt.Bits <= 0 || dt.Bits >= 64 {
		return 1<<63 - 1
	}
	return 1<<uint(dt.Bits) - 1
}

func maxWiden(a, b *lattice.Value) int {
	if a.WidenCount() > b.WidenCount() {
		return a.WidenCount()
	}
	return b.WidenCount()
}

func (f *Func) dataflowShift(n *Node, a, amount *lattice.Value) *lattice.Value {
	min, max, ok := amount.IntRange()
	if !ok || min != max {
		return f.LatticeFromDT(n.DT)
	}
	shift := min
	if shift < 0 || shift >= int64(n.DT.Bits) {
		// spec.md 8: "shift by a constant >= bitwidth produces POISON",
		// modeled here as falling back to the type-wide range since the
		// peephole idealize step (not dataflow) is responsible for
		// rewriting the node itself to POISON.
		return f.LatticeFromDT(n.DT)
	}
	amin, amax, aok := a.IntRange()
	if !aok {
		return f.LatticeFromDT(n.DT)
	}
	switch n.Op {
	case OpShl:
		return f.Lat.NewInt(amin<<uint(shift), amax<<uint(shift), 0, 0, a.WidenCount())
	case OpShr:
		return f.Lat.NewInt(int64(uint64(amin)>>uint(shift)), int64(uint64(amax)>>uint(shift)), 0, 0, a.WidenCount())
	case OpSar:
		return f.Lat.NewInt(amin>>uint(shift), amax>>uint(shift), 0, 0, a.WidenCount())
	}
	return f.LatticeFromDT(n.DT)
}

func (f *Func) dataflowCompare(n *Node, a, b *lattice.Value) *lattice.Value {
	amin, amax, aok := a.IntRange()
	bmin, bmax, bok := b.IntRange()
	boolDT := Int(1)
	if !aok || !bok {
		return f.LatticeFromDT(boolDT)
	}
	disjoint := amax < bmin || bmax < amin
	same := amin == amax && bmin == bmax && amin == bmin
	switch n.Op {
	case OpCmpEQ:
		if same {
			return f.Lat.NewIntConst(1, 1)
		}
		if disjoint {
			return f.Lat.NewIntConst(0, 1)
		}
	case OpCmpNE:
		if same {
			return f.Lat.NewIntConst(0, 1)
		}
		if disjoint {
			return f.Lat.NewIntConst(1, 1)
		}
	case OpCmpSLT:
		if amax < bmin {
			return f.Lat.NewIntConst(1, 1)
		}
		if amin >= bmax {
			return f.Lat.NewIntConst(0, 1)
		}
	case OpCmpSLE:
		if amax <= bmin {
			return f.Lat.NewIntConst(1, 1)
		}
		if amin > bmax {
			return f.Lat.NewIntConst(0, 1)
		}
	case OpCmpULT, OpCmpULE:
		// The tracked interval is a signed int64 range. Unsigned comparison
		// only matches signed comparison on that same range when neither
		// side can be negative (no wraparound between the two
		// interpretations); otherwise stay conservative.
		if amin >= 0 && bmin >= 0 {
			if n.Op == OpCmpULT {
				if amax < bmin {
					return f.Lat.NewIntConst(1, 1)
				}
				if amin >= bmax {
					return f.Lat.NewIntConst(0, 1)
				}
			} else {
				if amax <= bmin {
					return f.Lat.NewIntConst(1, 1)
				}
				if amin > bmax {
					return f.Lat.NewIntConst(0, 1)
				}
			}
		}
	}
	return f.LatticeFromDT(boolDT)
}

func (f *Func) dataflowPhi(n *Node) *lattice.Value {
	region := n.Inputs[0]
	result := f.Lat.Top()
	for i := 1; i < len(n.Inputs); i++ {
		predCtrl := region.Inputs[i-1]
		if predCtrl != nil && f.TypeOf(predCtrl) == f.Lat.XCtrl() {
			continue // unreachable predecessor contributes nothing
		}
		if n.Inputs[i] == nil {
			continue
		}
		result = f.Lat.Meet(result, f.TypeOf(n.Inputs[i]))
	}
	// An INT PHI whose widen counter has reached lattice.IntWidenLimit is
	// promoted to its type-wide range. The counter stays at the limit, so
	// the promoted value is the same on every later visit.
	if _, _, ok := result.IntRange(); ok && n.DT.Kind == KindInt && result.WidenCount() >= lattice.IntWidenLimit {
		lo, hi, _ := f.LatticeFromDT(n.DT).IntRange()
		return f.Lat.NewInt(lo, hi, 0, 0, lattice.IntWidenLimit)
	}
	return result
}

// dataflowRegion computes a REGION's own reachability as the meet of its
// control predecessors (spec.md 4.5: "REGION meets its control
// predecessors"), mirroring dataflowPhi's Meet-from-Top accumulator so an
// all-XCTRL region (every predecessor proven unreachable) itself reduces
// toward XCTRL rather than staying stuck at Top.
func (f *Func) dataflowRegion(n *Node) *lattice.Value {
	result := f.Lat.Top()
	for _, in := range n.Inputs {
		if in == nil {
			continue
		}
		result = f.Lat.Meet(result, f.TypeOf(in))
	}
	return result
}

func (f *Func) dataflowBranch(n *Node) *lattice.Value {
	aux, _ := n.Aux.(BranchAux)
	numEdges := len(aux.Keys) + 1 // +1 for the default edge
	key := f.TypeOf(n.Inputs[1])
	kmin, kmax, kok := key.IntRange()
	elems := make([]*lattice.Value, numEdges)
	reachedDefault := !kok || kmin != kmax
	for i, k := range aux.Keys {
		if kok && kmin == kmax && kmin == k {
			elems[i] = f.Lat.Ctrl()
		} else if kok && (kmax < k || kmin > k) {
			elems[i] = f.Lat.XCtrl()
		} else {
			elems[i] = f.Lat.Ctrl()
			reachedDefault = true
		}
	}
	if kok && kmin == kmax {
		matched := false
		for _, k := range aux.Keys {
			if k == kmin {
				matched = true
			}
		}
		reachedDefault = !matched
	}
	if reachedDefault {
		elems[numEdges-1] = f.Lat.Ctrl()
	} else {
		elems[numEdges-1] = f.Lat.XCtrl()
	}
	return f.Lat.NewTuple(elems...)
}

func float32FromBits(bits int64) float32 {
	return math.Float32frombits(uint32(bits))
}
func float64FromBits(bits int64) float64 {
	return math.Float64frombits(uint64(bits))
}
