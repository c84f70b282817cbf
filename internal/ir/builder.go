package ir

import "github.com/nodec-project/nodec/internal/diag"

// Builder exposes the frontend-facing construction API (spec.md 6.1). One
// Builder is bound to one Func and tracks the current control insertion
// point the way cmd/compile/internal/ssa's own state.newValue helpers
// track the "current block" during SSA construction, generalized here to
// a single floating "current control" node since this IR has no fixed
// block shape until scheduling.
type Builder struct {
	F *Func

	ctrl   *Node
	mem    *Node
	params []*Node
	diagSink *diag.Sink
}

// NewBuilder starts building fn, seeding the control/memory cursors at
// START's two implicit projections.
func NewBuilder(fn *Func, sink *diag.Sink) *Builder {
	b := &Builder{F: fn, diagSink: sink}
	ctrlProj := fn.NewNode(OpProj, Control(), 1)
	fn.SetInput(ctrlProj, 0, fn.Start)
	ctrlProj.ProjIndex = 0
	memProj := fn.NewNode(OpProj, Memory(), 1)
	fn.SetInput(memProj, 0, fn.Start)
	memProj.ProjIndex = 1
	b.ctrl = ctrlProj
	b.mem = memProj

	if len(fn.Proto.ParamTypes) > 0 {
		paramsTuple := fn.NewNode(OpProj, Tuple(fn.Proto.ParamTypes...), 1)
		fn.SetInput(paramsTuple, 0, fn.Start)
		paramsTuple.ProjIndex = 2
		b.params = make([]*Node, len(fn.Proto.ParamTypes))
		for i, dt := range fn.Proto.ParamTypes {
			b.params[i] = b.Proj(paramsTuple, i, dt)
		}
	}
	return b
}

// Param returns the i-th incoming parameter value.
func (b *Builder) Param(i int) *Node { return b.params[i] }

func (b *Builder) SetControl(n *Node) { b.ctrl = n }
func (b *Builder) GetControl() *Node  { return b.ctrl }
func (b *Builder) SetMem(n *Node)     { b.mem = n }
func (b *Builder) GetMem() *Node      { return b.mem }

func (b *Builder) require(cond bool, format string, args ...interface{}) {
	if !cond {
		b.diagSink.Raise(diag.UserIRInvariant, b.F.Name, format, args...)
	}
}

// Region creates a REGION joining the given control predecessors.
func (b *Builder) Region(preds ...*Node) *Node {
	r := b.F.NewNode(OpRegion, Control(), len(preds))
	for i, p := range preds {
		b.F.SetInput(r, i, p)
	}
	return r
}

// Phi creates a PHI bound to region with one value per region predecessor
// (spec.md 3.1: "input_count = region.input_count + 1").
func (b *Builder) Phi(region *Node, dt DataType, vals ...*Node) *Node {
	b.require(len(vals) == len(region.Inputs), "phi arity %d does not match region predecessor count %d", len(vals), len(region.Inputs))
	p := b.F.NewNode(OpPhi, dt, len(vals)+1)
	b.F.SetInput(p, 0, region)
	for i, v := range vals {
		b.F.SetInput(p, i+1, v)
	}
	return p
}

// Proj projects element idx out of a tuple-typed parent (e.g. a BRANCH's
// outgoing edges, a CALL's return values).
func (b *Builder) Proj(parent *Node, idx int, dt DataType) *Node {
	p := b.F.NewNode(OpProj, dt, 1)
	b.F.SetInput(p, 0, parent)
	p.ProjIndex = idx
	return p
}

// Goto creates an unconditional control edge: a one-edge BRANCH-free
// region predecessor, i.e. just the current control node itself. Callers
// feed the returned node into Region as a predecessor.
func (b *Builder) Goto() *Node { return b.ctrl }

// Branch creates a BRANCH reading key, with one PROJ per case key plus an
// implicit default edge as the final projection (spec.md 6.1).
func (b *Builder) Branch(key *Node, caseKeys []int64) (cases []*Node, def *Node) {
	numEdges := len(caseKeys) + 1
	elems := make([]DataType, numEdges)
	for i := range elems {
		elems[i] = Control()
	}
	br := b.F.NewNode(OpBranch, Tuple(elems...), 2)
	b.F.SetInput(br, 0, b.ctrl)
	b.F.SetInput(br, 1, key)
	br.Aux = BranchAux{Keys: append([]int64(nil), caseKeys...)}

	cases = make([]*Node, len(caseKeys))
	for i := range caseKeys {
		cases[i] = b.Proj(br, i, Control())
	}
	def = b.Proj(br, numEdges-1, Control())
	return cases, def
}

// Ret creates a RETURN control node with the given return values.
func (b *Builder) Ret(vals ...*Node) *Node {
	r := b.F.NewNode(OpReturn, Control(), 1+len(vals))
	b.F.SetInput(r, 0, b.ctrl)
	for i, v := range vals {
		b.F.SetInput(r, i+1, v)
	}
	return r
}

func (b *Builder) IntConst(dt DataType, v int64) *Node {
	n := b.F.NewNode(OpIntConst, dt, 0)
	n.AuxInt = v
	return b.F.GVNIntern(n)
}

func (b *Builder) SInt(bits int, v int64) *Node  { return b.IntConst(Int(bits), v) }
func (b *Builder) UInt(bits int, v uint64) *Node { return b.IntConst(Int(bits), int64(v)) }
func (b *Builder) Bool(v bool) *Node {
	if v {
		return b.IntConst(Int(1), 1)
	}
	return b.IntConst(Int(1), 0)
}

func (b *Builder) Float32(v float64) *Node {
	n := b.F.NewNode(OpFloatConst, Float(32), 0)
	n.AuxInt = int64(uint32FromFloat32(float32(v)))
	return b.F.GVNIntern(n)
}
func (b *Builder) Float64(v float64) *Node {
	n := b.F.NewNode(OpFloatConst, Float(64), 0)
	n.AuxInt = int64(uint64FromFloat64(v))
	return b.F.GVNIntern(n)
}

// CString interns a byte-string constant as a SYMBOL referencing a
// to-be-materialized read-only data blob; the external writer is
// responsible for actually laying out the bytes (spec.md 1's "out of
// scope: file-format output").
func (b *Builder) CString(name string, bytes []byte) *Node {
	n := b.F.NewNode(OpSymbol, Ptr(), 0)
	n.Aux = SymAux{Name: name}
	return b.F.GVNIntern(n)
}

// Local creates a LOCAL node and records its entry in the stack-slot map
// (spec.md 3.3) as -1, unresolved. size and align are not recorded.
func (b *Builder) Local(size, align int64) *Node {
	n := b.F.NewNode(OpLocal, Ptr(), 0)
	b.F.stackSlots[n.GVN] = -1 // unresolved until frame layout
	_ = size
	_ = align
	return n
}

func binOp(b *Builder, op Op, dt DataType, x, y *Node) *Node {
	n := b.F.NewNode(op, dt, 2)
	b.F.SetInput(n, 0, x)
	b.F.SetInput(n, 1, y)
	return n
}

func (b *Builder) Add(dt DataType, x, y *Node) *Node  { return binOp(b, OpAdd, dt, x, y) }
func (b *Builder) Sub(dt DataType, x, y *Node) *Node  { return binOp(b, OpSub, dt, x, y) }
func (b *Builder) Mul(dt DataType, x, y *Node) *Node  { return binOp(b, OpMul, dt, x, y) }
func (b *Builder) UDiv(dt DataType, x, y *Node) *Node { return binOp(b, OpUDiv, dt, x, y) }
func (b *Builder) SDiv(dt DataType, x, y *Node) *Node { return binOp(b, OpSDiv, dt, x, y) }
func (b *Builder) And(dt DataType, x, y *Node) *Node  { return binOp(b, OpAnd, dt, x, y) }
func (b *Builder) Or(dt DataType, x, y *Node) *Node   { return binOp(b, OpOr, dt, x, y) }
func (b *Builder) Xor(dt DataType, x, y *Node) *Node  { return binOp(b, OpXor, dt, x, y) }
func (b *Builder) Shl(dt DataType, x, y *Node) *Node  { return binOp(b, OpShl, dt, x, y) }
func (b *Builder) Cmp(op Op, innerDT DataType, x, y *Node) *Node {
	b.require(op.IsCompare(), "Cmp called with non-compare op %s", op)
	n := b.F.NewNode(op, Int(1), 2)
	b.F.SetInput(n, 0, x)
	b.F.SetInput(n, 1, y)
	return n
}

func (b *Builder) Select(dt DataType, cond, t, f *Node) *Node {
	n := b.F.NewNode(OpSelect, dt, 3)
	b.F.SetInput(n, 0, cond)
	b.F.SetInput(n, 1, t)
	b.F.SetInput(n, 2, f)
	return n
}

// Member computes a field address at a constant byte offset from base.
func (b *Builder) Member(base *Node, offset int64) *Node {
	n := b.F.NewNode(OpMember, Ptr(), 1)
	b.F.SetInput(n, 0, base)
	n.Aux = MemberAux{Offset: offset}
	return n
}

// Array computes base + index*stride as a pointer.
func (b *Builder) Array(base, index *Node, stride int64) *Node {
	n := b.F.NewNode(OpArray, Ptr(), 2)
	b.F.SetInput(n, 0, base)
	b.F.SetInput(n, 1, index)
	n.Aux = ArrayAux{Stride: stride}
	return n
}

// Load reads dt from addr, threading the builder's current memory edge.
func (b *Builder) Load(dt DataType, addr *Node) *Node {
	n := b.F.NewNode(OpLoad, dt, 2)
	b.F.SetInput(n, 0, addr)
	b.F.SetInput(n, 1, b.mem)
	return n
}

// Store writes val to addr, producing (and installing) the new memory
// edge.
func (b *Builder) Store(addr, val *Node) *Node {
	n := b.F.NewNode(OpStore, Memory(), 3)
	b.F.SetInput(n, 0, b.ctrl)
	b.F.SetInput(n, 1, addr)
	b.F.SetInput(n, 2, val)
	b.F.AppendInput(n, b.mem)
	b.mem = n
	return n
}

// Memset fills length bytes at addr with the low byte of val, producing
// (and installing) the new memory edge. Small constant lengths are later
// unrolled into plain stores by idealize (SPEC_FULL.md §C).
func (b *Builder) Memset(addr, val *Node, length int64) *Node {
	n := b.F.NewNode(OpMemset, Memory(), 3)
	b.F.SetInput(n, 0, b.ctrl)
	b.F.SetInput(n, 1, addr)
	b.F.SetInput(n, 2, val)
	b.F.AppendInput(n, b.mem)
	n.Aux = MemLenAux{Length: length}
	b.mem = n
	return n
}

// Memcpy copies length bytes from src to dst, producing (and installing)
// the new memory edge. Small constant lengths are later unrolled into
// plain load/store pairs by idealize (SPEC_FULL.md §C).
func (b *Builder) Memcpy(dst, src *Node, length int64) *Node {
	n := b.F.NewNode(OpMemcpy, Memory(), 3)
	b.F.SetInput(n, 0, b.ctrl)
	b.F.SetInput(n, 1, dst)
	b.F.SetInput(n, 2, src)
	b.F.AppendInput(n, b.mem)
	n.Aux = MemLenAux{Length: length}
	b.mem = n
	return n
}

// AtomicLoad atomically reads dt from addr. Its result is a tuple of
// (control, memory, value) reachable via Proj, mirroring Call, since
// (unlike Load) an atomic access is pinned and threads control.
func (b *Builder) AtomicLoad(dt DataType, addr *Node) *Node {
	n := b.F.NewNode(OpAtomicLoad, Tuple(Control(), Memory(), dt), 2)
	b.F.SetInput(n, 0, b.ctrl)
	b.F.SetInput(n, 1, addr)
	b.F.AppendInput(n, b.mem)
	ctrlProj := b.Proj(n, 0, Control())
	memProj := b.Proj(n, 1, Memory())
	b.ctrl = ctrlProj
	b.mem = memProj
	return n
}

// AtomicStore atomically writes val to addr, producing (and installing)
// the new memory edge.
func (b *Builder) AtomicStore(addr, val *Node) *Node {
	n := b.F.NewNode(OpAtomicStore, Memory(), 3)
	b.F.SetInput(n, 0, b.ctrl)
	b.F.SetInput(n, 1, addr)
	b.F.SetInput(n, 2, val)
	b.F.AppendInput(n, b.mem)
	b.mem = n
	return n
}

// AtomicCAS atomically compares *addr against old and, if equal, stores
// new. The result tuple's value element is whatever was observed at addr
// before the attempt; the caller compares it against old to test success.
func (b *Builder) AtomicCAS(dt DataType, addr, old, new *Node) *Node {
	n := b.F.NewNode(OpAtomicCAS, Tuple(Control(), Memory(), dt), 4)
	b.F.SetInput(n, 0, b.ctrl)
	b.F.SetInput(n, 1, addr)
	b.F.SetInput(n, 2, old)
	b.F.SetInput(n, 3, new)
	b.F.AppendInput(n, b.mem)
	ctrlProj := b.Proj(n, 0, Control())
	memProj := b.Proj(n, 1, Memory())
	b.ctrl = ctrlProj
	b.mem = memProj
	return n
}

// AtomicAdd atomically adds delta to *addr (fetch-and-add); the result
// tuple's value element is the value observed before the add.
func (b *Builder) AtomicAdd(dt DataType, addr, delta *Node) *Node {
	n := b.F.NewNode(OpAtomicAdd, Tuple(Control(), Memory(), dt), 3)
	b.F.SetInput(n, 0, b.ctrl)
	b.F.SetInput(n, 1, addr)
	b.F.SetInput(n, 2, delta)
	b.F.AppendInput(n, b.mem)
	ctrlProj := b.Proj(n, 0, Control())
	memProj := b.Proj(n, 1, Memory())
	b.ctrl = ctrlProj
	b.mem = memProj
	return n
}

func convOp(b *Builder, op Op, dt DataType, x *Node) *Node {
	n := b.F.NewNode(op, dt, 1)
	b.F.SetInput(n, 0, x)
	return n
}

// SignExt widens x to dt, replicating its sign bit into the new high bits.
func (b *Builder) SignExt(dt DataType, x *Node) *Node { return convOp(b, OpSignExt, dt, x) }

// ZeroExt widens x to dt, filling the new high bits with zero.
func (b *Builder) ZeroExt(dt DataType, x *Node) *Node { return convOp(b, OpZeroExt, dt, x) }

// Truncate narrows x to dt, discarding its high bits.
func (b *Builder) Truncate(dt DataType, x *Node) *Node { return convOp(b, OpTruncate, dt, x) }

// Int2Ptr reinterprets an integer value as a pointer.
func (b *Builder) Int2Ptr(x *Node) *Node { return convOp(b, OpInt2Ptr, Ptr(), x) }

// Ptr2Int reinterprets a pointer value as an integer of the given width.
func (b *Builder) Ptr2Int(dt DataType, x *Node) *Node { return convOp(b, OpPtr2Int, dt, x) }

// Int2Float converts a signed integer value to a floating-point value.
func (b *Builder) Int2Float(dt DataType, x *Node) *Node { return convOp(b, OpInt2Float, dt, x) }

// Float2Int converts a floating-point value to a signed integer value,
// truncating toward zero.
func (b *Builder) Float2Int(dt DataType, x *Node) *Node { return convOp(b, OpFloat2Int, dt, x) }

// Bitcast reinterprets x's bits as dt without conversion; the caller is
// responsible for only bitcasting between equal-width types (spec.md 3.1).
func (b *Builder) Bitcast(dt DataType, x *Node) *Node { return convOp(b, OpBitcast, dt, x) }

// Safepoint pins a debug location without affecting semantics.
func (b *Builder) Safepoint(file string, line, col int) *Node {
	n := b.F.NewNode(OpSafepoint, Control(), 1)
	b.F.SetInput(n, 0, b.ctrl)
	n.Aux = SafepointAux{File: file, Line: line, Col: col}
	b.ctrl = n
	return n
}

// Call emits one tile-worthy CALL node reading the given arguments; its
// result is a tuple of (control, memory, returns...) reachable via Proj.
func (b *Builder) Call(target *Node, cc string, args []*Node, returnDTs []DataType) *Node {
	elems := append([]DataType{Control(), Memory()}, returnDTs...)
	n := b.F.NewNode(OpCall, Tuple(elems...), 2+len(args))
	b.F.SetInput(n, 0, b.ctrl)
	b.F.SetInput(n, 1, target)
	for i, a := range args {
		b.F.SetInput(n, 2+i, a)
	}
	_ = cc
	ctrlProj := b.Proj(n, 0, Control())
	memProj := b.Proj(n, 1, Memory())
	b.ctrl = ctrlProj
	b.mem = memProj
	return n
}
