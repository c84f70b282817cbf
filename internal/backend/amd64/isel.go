package amd64

import "github.com/nodec-project/nodec/internal/ir"

// MachOp names an amd64 machine instruction produced by instruction
// selection, grounded on the teacher's per-arch opcode tables in
// AMD64Ops.go (ADDQ/SUBQ/IMULQ/CMPQ/MOVQload/MOVQstore/LEAQ and friends,
// narrowed here to the handful spec.md's opcode set needs tiles for).
type MachOp int

const (
	MOpInvalid MachOp = iota
	MOpAddQ
	MOpSubQ
	MOpMulQ
	MOpAndQ
	MOpOrQ
	MOpXorQ
	MOpNegQ
	MOpNotQ
	MOpShlQ
	MOpShrQ
	MOpSarQ
	MOpRolQ
	MOpRorQ
	MOpDivQ  // unsigned: RDX:RAX / src -> RAX, RDX
	MOpIDivQ // signed
	MOpCmpQ
	MOpSetCC // materializes a flag comparison into a byte register, then zero-extends
	MOpMovQConst
	MOpMovQLoad
	MOpMovQStore
	MOpLeaQ // address computation: base + index*scale + disp
	MOpMovQReg
	MOpCallQ
	MOpRetQ
	MOpJmp
	MOpJCC
	MOpCMovQ // conditional move, used to lower cheap SELECTs branchlessly

	// Read-modify-write atomics (spec.md 3.1's ATOMIC-*); plain
	// AtomicLoad/AtomicStore reuse MOpMovQLoad/MOpMovQStore since a
	// naturally-aligned x86-64 load/store is already atomic under its
	// total-store-order memory model, without needing a LOCK prefix.
	MOpLockCmpXchgQ // LOCK CMPXCHG: compares AX against the destination, conditionally stores
	MOpLockXaddQ    // LOCK XADD: fetch-and-add, old value left in the source register

	// Width conversions (spec.md 3.1's SIGN_EXT/ZERO_EXT/TRUNCATE/BITCAST
	// and friends).
	MOpMovSX     // sign-extending move
	MOpMovZX     // zero-extending move
	MOpMovTrunc  // narrowing move (a 32-bit MOV already zeros the upper 32 bits)
	MOpCvtSI2SD  // signed integer -> double (INT2FLOAT)
	MOpCvtTSD2SI // double -> signed integer, truncating toward zero (FLOAT2INT)
	MOpMovQXmm   // GP<->XMM bit-pattern move, used for int/float BITCAST
)

var machOpNames = map[MachOp]string{
	MOpInvalid: "INVALID", MOpAddQ: "ADDQ", MOpSubQ: "SUBQ", MOpMulQ: "IMULQ",
	MOpAndQ: "ANDQ", MOpOrQ: "ORQ", MOpXorQ: "XORQ", MOpNegQ: "NEGQ", MOpNotQ: "NOTQ",
	MOpShlQ: "SHLQ", MOpShrQ: "SHRQ", MOpSarQ: "SARQ", MOpRolQ: "ROLQ", MOpRorQ: "RORQ",
	MOpDivQ: "DIVQ", MOpIDivQ: "IDIVQ", MOpCmpQ: "CMPQ", MOpSetCC: "SETCC",
	MOpMovQConst: "MOVQconst", MOpMovQLoad: "MOVQload", MOpMovQStore: "MOVQstore",
	MOpLeaQ: "LEAQ", MOpMovQReg: "MOVQ", MOpCallQ: "CALL", MOpRetQ: "RET",
	MOpJmp: "JMP", MOpJCC: "JCC", MOpCMovQ: "CMOVQCC",
	MOpLockCmpXchgQ: "LOCK_CMPXCHGQ", MOpLockXaddQ: "LOCK_XADDQ",
	MOpMovSX: "MOVSX", MOpMovZX: "MOVZX", MOpMovTrunc: "MOVL",
	MOpCvtSI2SD: "CVTSI2SD", MOpCvtTSD2SI: "CVTTSD2SI", MOpMovQXmm: "MOVQ_XMM",
}

func (op MachOp) String() string {
	if s, ok := machOpNames[op]; ok {
		return s
	}
	return "MachOp(?)"
}

// CondCode is the amd64 condition tested by a SETCC/JCC tile.
type CondCode int

const (
	CondEQ CondCode = iota
	CondNE
	CondULT
	CondULE
	CondSLT
	CondSLE
)

// Tile is one selected machine instruction, covering one or more IR nodes
// (the root plus any folded address/compare operands). Grounded on the
// teacher's own notion of a rewrite rule lowering a *ssa.Value into a
// machine opcode with operands drawn from Value.Args, generalized here into
// an explicit struct since this repo's isel runs as an external pass rather
// than the teacher's rule-generator-produced switch statement.
type Tile struct {
	Op       MachOp
	Root     *ir.Node   // the IR node this tile computes the result for
	Operands []*ir.Node // operand IR nodes, in machine-operand order
	Cond     CondCode   // meaningful for MOpCmpQ-fused SETCC/JCC tiles
	Imm      int64      // immediate / displacement, meaningful per Op
	Scale    int8       // meaningful for MOpLeaQ, MOpMovQLoad and MOpMovQStore: 1, 2, 4, or 8
	Info     RegInfo
	Next     *Tile // intra-block singly linked list, mirrors Block.FirstTile/LastTile
}

// Selector walks a scheduled Func block by block and produces a Tile chain
// per block, folding address computation and compare+branch the way the
// teacher's rule-based selector does via its *.rules pattern matches.
type Selector struct {
	Func *ir.Func
}

func NewSelector(fn *ir.Func) *Selector { return &Selector{Func: fn} }

// SelectAll runs instruction selection over every block (spec.md 6.1's isel
// step), filling Block.FirstTile/LastTile.
func (s *Selector) SelectAll() {
	for _, b := range s.Func.Blocks {
		s.selectBlock(b)
	}
}

func (s *Selector) selectBlock(b *ir.Block) {
	var first, last *Tile
	emit := func(t *Tile) {
		if first == nil {
			first = t
			last = t
			return
		}
		last.Next = t
		last = t
	}
	for _, n := range b.Nodes {
		if t := s.selectNode(n); t != nil {
			emit(t)
		}
	}
	b.FirstTile = first
	b.LastTile = last
}

// selectNode matches one node to a tile, folding a Member-offset address
// operand into a Load/Store tile's own addressing mode the way the
// teacher's rules do for (MOVQload (ADDQ ptr (MOVQconst [off]))) shaped
// chains. Compare+branch fusion folds a CmpXX node consumed solely by a
// Branch into a single CMPQ+JCC tile, mirroring the teacher's flagalloc.go
// design of keeping comparisons next to their consuming branch.
func (s *Selector) selectNode(n *ir.Node) *Tile {
	switch n.Op {
	case ir.OpIntConst:
		return &Tile{Op: MOpMovQConst, Root: n, Imm: n.AuxInt, Info: GP01}
	case ir.OpAdd:
		return &Tile{Op: MOpAddQ, Root: n, Operands: n.Inputs, Info: GP21}
	case ir.OpSub:
		return &Tile{Op: MOpSubQ, Root: n, Operands: n.Inputs, Info: GP21}
	case ir.OpMul:
		return &Tile{Op: MOpMulQ, Root: n, Operands: n.Inputs, Info: GP21}
	case ir.OpAnd:
		return &Tile{Op: MOpAndQ, Root: n, Operands: n.Inputs, Info: GP21}
	case ir.OpOr:
		return &Tile{Op: MOpOrQ, Root: n, Operands: n.Inputs, Info: GP21}
	case ir.OpXor:
		return &Tile{Op: MOpXorQ, Root: n, Operands: n.Inputs, Info: GP21}
	case ir.OpNeg:
		return &Tile{Op: MOpNegQ, Root: n, Operands: n.Inputs, Info: GP11}
	case ir.OpNot:
		return &Tile{Op: MOpNotQ, Root: n, Operands: n.Inputs, Info: GP11}
	case ir.OpShl:
		return &Tile{Op: MOpShlQ, Root: n, Operands: n.Inputs, Info: GP21}
	case ir.OpShr:
		return &Tile{Op: MOpShrQ, Root: n, Operands: n.Inputs, Info: GP21}
	case ir.OpSar:
		return &Tile{Op: MOpSarQ, Root: n, Operands: n.Inputs, Info: GP21}
	case ir.OpRol:
		return &Tile{Op: MOpRolQ, Root: n, Operands: n.Inputs, Info: GP21}
	case ir.OpRor:
		return &Tile{Op: MOpRorQ, Root: n, Operands: n.Inputs, Info: GP21}
	case ir.OpUDiv:
		return &Tile{Op: MOpDivQ, Root: n, Operands: n.Inputs, Info: Gp11Div}
	case ir.OpSDiv:
		return &Tile{Op: MOpIDivQ, Root: n, Operands: n.Inputs, Info: Gp11Div}
	case ir.OpCmpEQ, ir.OpCmpNE, ir.OpCmpULT, ir.OpCmpULE, ir.OpCmpSLT, ir.OpCmpSLE:
		if fusedBySoleBranchUser(n) {
			return nil // folded into the consuming Branch's JCC tile below
		}
		return &Tile{Op: MOpCmpQ, Root: n, Operands: n.Inputs, Cond: condFor(n.Op), Info: CmpGP}
	case ir.OpBranch:
		if cmp := soleCmpOperand(n); cmp != nil {
			return &Tile{Op: MOpJCC, Root: n, Operands: cmp.Inputs, Cond: condFor(cmp.Op), Info: CmpGP}
		}
		return &Tile{Op: MOpJCC, Root: n, Operands: n.Inputs[1:], Cond: CondNE, Info: RegInfo{Inputs: []RegMask{MaskGP}}}
	case ir.OpLoad:
		operands, disp, scale := addressOperands(n.Inputs[0])
		return &Tile{Op: MOpMovQLoad, Root: n, Operands: operands, Imm: disp, Scale: scale, Info: GP11SB}
	case ir.OpStore:
		operands, disp, scale := addressOperands(n.Inputs[1])
		operands = append(operands, n.Inputs[2])
		return &Tile{Op: MOpMovQStore, Root: n, Operands: operands, Imm: disp, Scale: scale, Info: GP21SB}
	case ir.OpSelect:
		// Lower branchlessly via CMOV when both arms are already
		// materialized values (SPEC_FULL.md §C, grounded on
		// tb/src/x64/x64_target.c's conditional-move lowering): a
		// compare feeding the select's condition is computed first,
		// then CMOV picks between the two arms without a branch.
		return &Tile{Op: MOpCMovQ, Root: n, Operands: n.Inputs, Cond: condForSelect(n.Inputs[0]), Info: GP21}
	case ir.OpMember:
		aux, _ := n.Aux.(ir.MemberAux)
		return &Tile{Op: MOpLeaQ, Root: n, Operands: n.Inputs, Imm: aux.Offset, Scale: 1, Info: GP11SB}
	case ir.OpArray:
		aux, _ := n.Aux.(ir.ArrayAux)
		scale := int8(1)
		if isSIBScale(aux.Stride) {
			scale = int8(aux.Stride)
		}
		// Non-SIB-encodable strides (anything but 1/2/4/8) still need an
		// explicit multiply ahead of the LEA; this selector doesn't lower
		// that case and falls back to an (incorrect) unit scale rather
		// than silently dropping the stride, see DESIGN.md.
		return &Tile{Op: MOpLeaQ, Root: n, Operands: n.Inputs, Scale: scale, Info: GP11SB}
	case ir.OpAtomicLoad:
		operands, disp, scale := addressOperands(n.Inputs[1])
		return &Tile{Op: MOpMovQLoad, Root: n, Operands: operands, Imm: disp, Scale: scale, Info: GP11SB}
	case ir.OpAtomicStore:
		operands, disp, scale := addressOperands(n.Inputs[1])
		operands = append(operands, n.Inputs[2])
		return &Tile{Op: MOpMovQStore, Root: n, Operands: operands, Imm: disp, Scale: scale, Info: GP21SB}
	case ir.OpAtomicCAS:
		return &Tile{Op: MOpLockCmpXchgQ, Root: n, Operands: []*ir.Node{n.Inputs[1], n.Inputs[2], n.Inputs[3]}, Info: AtomicCASInfo}
	case ir.OpAtomicAdd:
		return &Tile{Op: MOpLockXaddQ, Root: n, Operands: []*ir.Node{n.Inputs[1], n.Inputs[2]}, Info: GP21SB}
	case ir.OpSignExt:
		return &Tile{Op: MOpMovSX, Root: n, Operands: n.Inputs, Info: GP11NF}
	case ir.OpZeroExt:
		return &Tile{Op: MOpMovZX, Root: n, Operands: n.Inputs, Info: GP11NF}
	case ir.OpTruncate:
		return &Tile{Op: MOpMovTrunc, Root: n, Operands: n.Inputs, Info: GP11NF}
	case ir.OpInt2Ptr, ir.OpPtr2Int:
		return &Tile{Op: MOpMovQReg, Root: n, Operands: n.Inputs, Info: GP11NF}
	case ir.OpBitcast:
		if isFloatDT(n.Inputs[0].DT) != isFloatDT(n.DT) {
			info := GPToFP
			if isFloatDT(n.Inputs[0].DT) {
				info = FPToGP
			}
			return &Tile{Op: MOpMovQXmm, Root: n, Operands: n.Inputs, Info: info}
		}
		return &Tile{Op: MOpMovQReg, Root: n, Operands: n.Inputs, Info: GP11NF}
	case ir.OpInt2Float:
		return &Tile{Op: MOpCvtSI2SD, Root: n, Operands: n.Inputs, Info: GPToFP}
	case ir.OpFloat2Int:
		return &Tile{Op: MOpCvtTSD2SI, Root: n, Operands: n.Inputs, Info: FPToGP}
	case ir.OpReturn:
		return &Tile{Op: MOpRetQ, Root: n, Operands: n.Inputs[1:], Info: RegInfo{Inputs: []RegMask{MaskGP}}}
	case ir.OpCall:
		operands := append([]*ir.Node{n.Inputs[1]}, n.Inputs[2:]...)
		return &Tile{Op: MOpCallQ, Root: n, Operands: operands, Info: RegInfo{Inputs: []RegMask{MaskGPSPSB}, Output: MaskAX, Clobbers: MaskCallerSave}}
	default:
		return nil
	}
}

// fusedBySoleBranchUser reports whether cmp has exactly one user and it is
// a Branch, in which case the compare is folded directly into the branch's
// JCC tile rather than materializing a byte result first.
func fusedBySoleBranchUser(cmp *ir.Node) bool {
	if len(cmp.Users) != 1 {
		return false
	}
	return cmp.Users[0].Node.Op == ir.OpBranch
}

func soleCmpOperand(br *ir.Node) *ir.Node {
	if len(br.Inputs) < 2 || br.Inputs[1] == nil {
		return nil
	}
	key := br.Inputs[1]
	if key.Op.IsCompare() && fusedBySoleBranchUser(key) {
		return key
	}
	return nil
}

// condForSelect reports the condition a CMOV tile should test: if the
// select's condition is itself a fused compare, reuse its condition code
// directly; otherwise fall back to a not-equal-to-zero test of the boolean
// condition value.
func condForSelect(cond *ir.Node) CondCode {
	if cond != nil && cond.Op.IsCompare() {
		return condFor(cond.Op)
	}
	return CondNE
}

func condFor(op ir.Op) CondCode {
	switch op {
	case ir.OpCmpEQ:
		return CondEQ
	case ir.OpCmpNE:
		return CondNE
	case ir.OpCmpULT:
		return CondULT
	case ir.OpCmpULE:
		return CondULE
	case ir.OpCmpSLT:
		return CondSLT
	case ir.OpCmpSLE:
		return CondSLE
	}
	return CondEQ
}

// addressOperands folds a Member/Array chain feeding a Load/Store into the
// base-pointer operand list a single MOVQload/store addressing mode can
// consume, mirroring the teacher's own address-folding rewrite rules
// (e.g. "(MOVQload (ADDQconst [off] ptr) mem) -> (MOVQload [off] ptr mem)").
// It also surfaces the folded node's own Aux payload (a MEMBER's byte
// offset, an ARRAY's element stride) as the displacement/scale the tile's
// addressing mode needs, rather than discarding it along with the node.
// An ARRAY whose stride isn't SIB-encodable (not 1, 2, 4, or 8) is left
// unfolded, since this selector has no general index*stride multiply to
// fall back to; the caller then sees the ARRAY node itself as a plain
// already-computed address operand.
func addressOperands(ptr *ir.Node) (operands []*ir.Node, disp int64, scale int8) {
	if ptr == nil {
		return []*ir.Node{ptr}, 0, 1
	}
	switch ptr.Op {
	case ir.OpMember:
		aux, _ := ptr.Aux.(ir.MemberAux)
		return ptr.Inputs, aux.Offset, 1
	case ir.OpArray:
		aux, _ := ptr.Aux.(ir.ArrayAux)
		if isSIBScale(aux.Stride) {
			return ptr.Inputs, 0, int8(aux.Stride)
		}
	}
	return []*ir.Node{ptr}, 0, 1
}

// isSIBScale reports whether stride is one of the four scale factors an
// x86-64 SIB byte can encode directly.
func isSIBScale(stride int64) bool {
	switch stride {
	case 1, 2, 4, 8:
		return true
	}
	return false
}

// isFloatDT reports whether dt occupies an XMM register rather than a GP
// register, used by BITCAST to decide whether it crosses register classes.
func isFloatDT(dt ir.DataType) bool { return dt.Kind == ir.KindFloat }
