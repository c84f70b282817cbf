package amd64

import (
	"encoding/binary"

	"github.com/nodec-project/nodec/internal/ir"
)

// Relocation records a byte offset within the emitted code buffer that the
// external writer (spec.md 6.2) must patch once final symbol addresses are
// known, grounded on the teacher's own obj.Reloc (cmd/internal/obj) design
// of deferring symbol resolution to a link-time pass rather than resolving
// addresses during code generation.
type Relocation struct {
	Offset int
	Symbol string
	Addend int64
	Kind   RelocKind
}

type RelocKind int

const (
	RelocRIPRel32 RelocKind = iota
	RelocAbs64
)

// Label names a not-yet-resolved branch target within the function being
// emitted.
type Label struct {
	Block   *ir.Block
	Offset  int   // filled in once Block's first byte is emitted
	Pending []int // byte offsets of 32-bit displacements waiting on Offset
}

// Emitter serializes a function's allocated tiles into bytes, tracking
// pending branch patches and relocations the way the teacher's own
// obj.Prog -> machine code pass does in cmd/internal/obj/x86, simplified to
// this spec's smaller opcode set.
type Emitter struct {
	Func   *ir.Func
	Alloc  *Allocation
	Code   []byte
	Relocs []Relocation
	labels map[*ir.Block]*Label
}

func NewEmitter(fn *ir.Func, alloc *Allocation) *Emitter {
	return &Emitter{Func: fn, Alloc: alloc, labels: make(map[*ir.Block]*Label)}
}

// EmitFunction emits a prologue, every block's tiles, and an epilogue,
// resolving all intra-function branch targets (spec.md 6.2's final
// machine-code emission step). FrameSize is the prologue's stack
// allocation, typically Alloc.SpillSlots plus any caller-allocated locals.
func (e *Emitter) EmitFunction(frameSize int64, framePointer bool) []byte {
	e.emitPrologue(frameSize, framePointer)

	for _, b := range e.Func.Blocks {
		e.labels[b] = &Label{Block: b, Offset: len(e.Code)}
		e.emitBlock(b)
	}
	e.emitEpilogue(frameSize, framePointer)
	e.resolveLabels()
	return e.Code
}

func (e *Emitter) emitPrologue(frameSize int64, framePointer bool) {
	if framePointer {
		e.byte(0x55)                      // PUSH BP
		e.bytes([]byte{0x48, 0x89, 0xe5}) // MOVQ SP, BP
	}
	if frameSize > 0 {
		e.bytes([]byte{0x48, 0x81, 0xec}) // SUBQ $frameSize, SP
		e.uint32(uint32(frameSize))
	}
}

func (e *Emitter) emitEpilogue(frameSize int64, framePointer bool) {
	if frameSize > 0 {
		e.bytes([]byte{0x48, 0x81, 0xc4}) // ADDQ $frameSize, SP
		e.uint32(uint32(frameSize))
	}
	if framePointer {
		e.byte(0x5d) // POP BP
	}
	e.byte(0xc3) // RET
}

func (e *Emitter) emitBlock(b *ir.Block) {
	t, _ := b.FirstTile.(*Tile)
	for t != nil {
		e.emitTile(t)
		t = t.Next
	}
}

// emitTile appends the real byte encoding for one tile: REX prefix, opcode,
// and (for register-register forms) a direct ModRM byte or (for memory
// operands) a ModRM+SIB+displacement sequence, grounded on the teacher's
// own asmbuf.Put-style incremental byte emission in cmd/internal/obj/x86
// but spelling out the REX/ModRM/SIB bit layout directly rather than going
// through that package's table-driven optab, since this repo's opcode set
// is fixed and small enough to encode by hand.
func (e *Emitter) emitTile(t *Tile) {
	switch t.Op {
	case MOpMovQConst:
		dstField, dstExt := regEncoding(regOf(e.Alloc, t.Root))
		e.emitREX(true, false, false, dstExt)
		e.byte(regOpcodeByte(0xb8, int(dstField)))
		e.int64(t.Imm)

	case MOpAddQ, MOpSubQ, MOpAndQ, MOpOrQ, MOpXorQ:
		dst := regOf(e.Alloc, t.Root)
		a := regOf(e.Alloc, t.Operands[0])
		b := regOf(e.Alloc, t.Operands[1])
		e.ensureSameReg(dst, a)
		dstField, dstExt := regEncoding(dst)
		bField, bExt := regEncoding(b)
		e.emitREX(true, bExt, false, dstExt)
		e.byte(aluOpcode(t.Op))
		e.byte(modrmDirect(bField, dstField))

	case MOpMulQ:
		dst := regOf(e.Alloc, t.Root)
		a := regOf(e.Alloc, t.Operands[0])
		b := regOf(e.Alloc, t.Operands[1])
		e.ensureSameReg(dst, a)
		dstField, dstExt := regEncoding(dst)
		bField, bExt := regEncoding(b)
		e.emitREX(true, dstExt, false, bExt)
		e.bytes([]byte{0x0f, 0xaf})
		e.byte(modrmDirect(dstField, bField))

	case MOpNegQ, MOpNotQ:
		dst := regOf(e.Alloc, t.Root)
		a := regOf(e.Alloc, t.Operands[0])
		e.ensureSameReg(dst, a)
		dstField, dstExt := regEncoding(dst)
		e.emitREX(true, false, false, dstExt)
		e.byte(0xf7)
		digit := byte(3) // NEG
		if t.Op == MOpNotQ {
			digit = 2 // NOT
		}
		e.byte(modrmDirect(digit, dstField))

	case MOpShlQ, MOpShrQ, MOpSarQ, MOpRolQ, MOpRorQ:
		dst := regOf(e.Alloc, t.Root)
		a := regOf(e.Alloc, t.Operands[0])
		e.ensureSameReg(dst, a)
		// The shift count (t.Operands[1]) is assumed resident in CL: the
		// variable-count form of D3 /r always reads CL implicitly and has
		// no register field of its own to encode it in.
		dstField, dstExt := regEncoding(dst)
		e.emitREX(true, false, false, dstExt)
		e.byte(0xd3)
		e.byte(modrmDirect(shiftDigit(t.Op), dstField))

	case MOpDivQ, MOpIDivQ:
		divisor := regOf(e.Alloc, t.Operands[1])
		divisorField, divisorExt := regEncoding(divisor)
		if t.Op == MOpIDivQ {
			e.bytes([]byte{0x48, 0x99}) // CQO: sign-extend RAX into RDX:RAX
		} else {
			e.bytes([]byte{0x31, 0xd2}) // XOR EDX, EDX: zero the dividend's high half
		}
		e.emitREX(true, false, false, divisorExt)
		e.byte(0xf7)
		digit := byte(6) // DIV
		if t.Op == MOpIDivQ {
			digit = 7 // IDIV
		}
		e.byte(modrmDirect(digit, divisorField))

	case MOpCmpQ:
		a := regOf(e.Alloc, t.Operands[0])
		b := regOf(e.Alloc, t.Operands[1])
		aField, aExt := regEncoding(a)
		bField, bExt := regEncoding(b)
		e.emitREX(true, bExt, false, aExt)
		e.byte(0x39)
		e.byte(modrmDirect(bField, aField))

	case MOpSetCC:
		dstField, dstExt := regEncoding(regOf(e.Alloc, t.Root))
		rex := byte(0x40) // an empty REX still selects SPL/BPL/SIL/DIL for fields 4-7
		if dstExt {
			rex |= 0x01
		}
		e.byte(rex)
		e.bytes([]byte{0x0f, setccOpcode(t.Cond)})
		e.byte(modrmDirect(0, dstField))
		// MOVZX dst, dst8 clears the upper bits SETcc leaves untouched.
		e.emitREX(true, dstExt, false, dstExt)
		e.bytes([]byte{0x0f, 0xb6})
		e.byte(modrmDirect(dstField, dstField))

	case MOpMovQLoad:
		dstField, dstExt := regEncoding(regOf(e.Alloc, t.Root))
		baseField, baseExt := regEncoding(regOf(e.Alloc, t.Operands[0]))
		hasIndex := len(t.Operands) > 1
		var indexField byte
		var indexExt bool
		if hasIndex {
			indexField, indexExt = regEncoding(regOf(e.Alloc, t.Operands[1]))
		}
		e.emitREX(true, dstExt, indexExt, baseExt)
		e.byte(0x8b)
		e.emitMem(dstField, baseField, indexField, hasIndex, t.Scale, t.Imm)

	case MOpMovQStore:
		addrOperands := t.Operands[:len(t.Operands)-1]
		val := t.Operands[len(t.Operands)-1]
		valField, valExt := regEncoding(regOf(e.Alloc, val))
		baseField, baseExt := regEncoding(regOf(e.Alloc, addrOperands[0]))
		hasIndex := len(addrOperands) > 1
		var indexField byte
		var indexExt bool
		if hasIndex {
			indexField, indexExt = regEncoding(regOf(e.Alloc, addrOperands[1]))
		}
		e.emitREX(true, valExt, indexExt, baseExt)
		e.byte(0x89)
		e.emitMem(valField, baseField, indexField, hasIndex, t.Scale, t.Imm)

	case MOpLeaQ:
		dstField, dstExt := regEncoding(regOf(e.Alloc, t.Root))
		baseField, baseExt := regEncoding(regOf(e.Alloc, t.Operands[0]))
		hasIndex := len(t.Operands) > 1
		var indexField byte
		var indexExt bool
		if hasIndex {
			indexField, indexExt = regEncoding(regOf(e.Alloc, t.Operands[1]))
		}
		scale := t.Scale
		if scale == 0 {
			scale = 1
		}
		e.emitREX(true, dstExt, indexExt, baseExt)
		e.byte(0x8d)
		e.emitMem(dstField, baseField, indexField, hasIndex, scale, t.Imm)

	case MOpCMovQ:
		dst := regOf(e.Alloc, t.Root)
		var srcNode *ir.Node
		if len(t.Operands) >= 3 {
			// [cond, then, else]: the destination must already hold the
			// else-arm (a plain MOV if the allocator didn't happen to
			// coalesce it there), and CMOVcc conditionally overwrites it
			// with the then-arm.
			thenNode := t.Operands[len(t.Operands)-2]
			elseNode := t.Operands[len(t.Operands)-1]
			e.ensureSameReg(dst, regOf(e.Alloc, elseNode))
			srcNode = thenNode
		} else {
			srcNode = t.Operands[0]
		}
		dstField, dstExt := regEncoding(dst)
		srcField, srcExt := regEncoding(regOf(e.Alloc, srcNode))
		e.emitREX(true, dstExt, false, srcExt)
		e.bytes([]byte{0x0f, cmovOpcode(t.Cond)})
		e.byte(modrmDirect(dstField, srcField))

	case MOpMovQReg:
		dst := regOf(e.Alloc, t.Root)
		src := regOf(e.Alloc, t.Operands[0])
		dstField, dstExt := regEncoding(dst)
		srcField, srcExt := regEncoding(src)
		e.emitREX(true, srcExt, false, dstExt)
		e.byte(0x89)
		e.byte(modrmDirect(srcField, dstField))

	case MOpMovSX:
		src := t.Operands[0]
		dstField, dstExt := regEncoding(regOf(e.Alloc, t.Root))
		srcField, srcExt := regEncoding(regOf(e.Alloc, src))
		switch {
		case src.DT.Bits <= 8:
			e.emitREX(true, dstExt, false, srcExt)
			e.bytes([]byte{0x0f, 0xbe})
		case src.DT.Bits == 16:
			e.emitREX(true, dstExt, false, srcExt)
			e.bytes([]byte{0x0f, 0xbf})
		default: // 32-bit source: MOVSXD
			e.emitREX(true, dstExt, false, srcExt)
			e.byte(0x63)
		}
		e.byte(modrmDirect(dstField, srcField))

	case MOpMovZX:
		src := t.Operands[0]
		dstField, dstExt := regEncoding(regOf(e.Alloc, t.Root))
		srcField, srcExt := regEncoding(regOf(e.Alloc, src))
		switch {
		case src.DT.Bits <= 8:
			e.emitREX(true, dstExt, false, srcExt)
			e.bytes([]byte{0x0f, 0xb6})
		case src.DT.Bits == 16:
			e.emitREX(true, dstExt, false, srcExt)
			e.bytes([]byte{0x0f, 0xb7})
		default:
			// A plain 32-bit MOV already zeros the upper 32 bits of the
			// destination, so a 32-bit source needs no explicit extension.
			e.emitREX(false, dstExt, false, srcExt)
			e.byte(0x8b)
		}
		e.byte(modrmDirect(dstField, srcField))

	case MOpMovTrunc:
		src := t.Operands[0]
		dstField, dstExt := regEncoding(regOf(e.Alloc, t.Root))
		srcField, srcExt := regEncoding(regOf(e.Alloc, src))
		e.emitREX(false, dstExt, false, srcExt)
		e.byte(0x8b)
		e.byte(modrmDirect(dstField, srcField))

	case MOpMovQXmm:
		dst := regOf(e.Alloc, t.Root)
		src := regOf(e.Alloc, t.Operands[0])
		dstField, dstExt := regEncoding(dst)
		srcField, srcExt := regEncoding(src)
		e.byte(0x66)
		if isFloatDT(t.Root.DT) {
			// GP -> XMM: MOVQ xmm(dest), r/m64(src)
			e.emitREX(true, dstExt, false, srcExt)
			e.bytes([]byte{0x0f, 0x6e})
			e.byte(modrmDirect(dstField, srcField))
		} else {
			// XMM(src) -> GP: MOVQ r/m64(dest), xmm(src)
			e.emitREX(true, srcExt, false, dstExt)
			e.bytes([]byte{0x0f, 0x7e})
			e.byte(modrmDirect(srcField, dstField))
		}

	case MOpCvtSI2SD:
		dstField, dstExt := regEncoding(regOf(e.Alloc, t.Root))
		srcField, srcExt := regEncoding(regOf(e.Alloc, t.Operands[0]))
		e.byte(0xf2)
		e.emitREX(true, dstExt, false, srcExt)
		e.bytes([]byte{0x0f, 0x2a})
		e.byte(modrmDirect(dstField, srcField))

	case MOpCvtTSD2SI:
		dstField, dstExt := regEncoding(regOf(e.Alloc, t.Root))
		srcField, srcExt := regEncoding(regOf(e.Alloc, t.Operands[0]))
		e.byte(0xf2)
		e.emitREX(true, dstExt, false, srcExt)
		e.bytes([]byte{0x0f, 0x2c})
		e.byte(modrmDirect(dstField, srcField))

	case MOpLockCmpXchgQ:
		addr := t.Operands[0]
		newVal := t.Operands[2]
		baseField, baseExt := regEncoding(regOf(e.Alloc, addr))
		regField, regExt := regEncoding(regOf(e.Alloc, newVal))
		e.byte(0xf0) // LOCK
		e.emitREX(true, regExt, false, baseExt)
		e.bytes([]byte{0x0f, 0xb1})
		e.emitMem(regField, baseField, 0, false, 1, t.Imm)

	case MOpLockXaddQ:
		addr := t.Operands[0]
		delta := t.Operands[1]
		baseField, baseExt := regEncoding(regOf(e.Alloc, addr))
		regField, regExt := regEncoding(regOf(e.Alloc, delta))
		e.byte(0xf0) // LOCK
		e.emitREX(true, regExt, false, baseExt)
		e.bytes([]byte{0x0f, 0xc1})
		e.emitMem(regField, baseField, 0, false, 1, t.Imm)

	case MOpCallQ:
		e.byte(0xe8)
		if sym := symbolTarget(t); sym != "" {
			e.Relocs = append(e.Relocs, Relocation{Offset: len(e.Code), Symbol: sym, Kind: RelocRIPRel32})
		}
		e.uint32(0) // patched by the external writer per spec.md 6.2
	case MOpJmp:
		e.byte(0xe9)
		e.recordBranchPatch(t)
	case MOpJCC:
		if len(t.Operands) == 2 {
			// fused compare: emit the CMP exactly as MOpCmpQ does.
			aField, aExt := regEncoding(regOf(e.Alloc, t.Operands[0]))
			bField, bExt := regEncoding(regOf(e.Alloc, t.Operands[1]))
			e.emitREX(true, bExt, false, aExt)
			e.byte(0x39)
			e.byte(modrmDirect(bField, aField))
		}
		e.bytes([]byte{0x0f, jccOpcode(t.Cond)})
		e.recordBranchPatch(t)
	case MOpRetQ:
		// handled by emitEpilogue; no per-block RET bytes needed here.
	}
}

func (e *Emitter) recordBranchPatch(t *Tile) {
	target := branchTargetBlock(t)
	if target == nil {
		e.uint32(0)
		return
	}
	lbl, ok := e.labels[target]
	if !ok {
		lbl = &Label{Block: target}
		e.labels[target] = lbl
	}
	lbl.Pending = append(lbl.Pending, len(e.Code))
	e.uint32(0)
}

func (e *Emitter) resolveLabels() {
	for _, lbl := range e.labels {
		for _, off := range lbl.Pending {
			disp := int32(lbl.Offset - (off + 4))
			binary.LittleEndian.PutUint32(e.Code[off:off+4], uint32(disp))
		}
	}
}

func (e *Emitter) byte(b byte)    { e.Code = append(e.Code, b) }
func (e *Emitter) bytes(b []byte) { e.Code = append(e.Code, b...) }
func (e *Emitter) uint32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	e.Code = append(e.Code, buf[:]...)
}
func (e *Emitter) int64(v int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	e.Code = append(e.Code, buf[:]...)
}

// emitREX appends an x86-64 REX prefix byte (0100WRXB) only when at least
// one of its bits is set, mirroring real encoders that omit REX entirely
// for plain legacy-register 32-bit forms.
func (e *Emitter) emitREX(w, r, x, b bool) {
	if !w && !r && !x && !b {
		return
	}
	rex := byte(0x40)
	if w {
		rex |= 0x08
	}
	if r {
		rex |= 0x04
	}
	if x {
		rex |= 0x02
	}
	if b {
		rex |= 0x01
	}
	e.byte(rex)
}

// ensureSameReg emits a MOV dst, src when dst and src differ. x86's
// ALU/shift/unary opcodes read and write the same r/m operand, but this
// repo's linear-scan allocator assigns a node's output register
// independently of its first operand rather than running a two-address
// coalescing pass, so the emitter bridges the gap the way a code
// generator without coalescing must.
func (e *Emitter) ensureSameReg(dst, src int) {
	if dst == src {
		return
	}
	dstField, dstExt := regEncoding(dst)
	srcField, srcExt := regEncoding(src)
	e.emitREX(true, srcExt, false, dstExt)
	e.byte(0x89)
	e.byte(modrmDirect(srcField, dstField))
}

// regEncoding splits a RegNames index into the 3-bit ModRM/SIB field and
// the REX extension bit, uniformly for the GP (indices 0-15) and FP
// (indices 16-31) halves of the register file.
func regEncoding(reg int) (field byte, ext bool) {
	local := reg
	if local >= 16 && local < 32 {
		local -= 16
	}
	return byte(local & 7), local >= 8
}

// modrmDirect builds a register-direct (mod=11) ModRM byte.
func modrmDirect(regField, rmField byte) byte {
	return 0xc0 | (regField << 3) | rmField
}

// emitMem appends the ModRM (+ SIB, + displacement) bytes for a memory
// operand base[+index*scale]+disp, given 3-bit register fields already
// resolved by the caller (REX bits for these fields must already have
// been emitted before the opcode). Grounded on the standard x86-64
// addressing-mode encoding table: RSP/R12 as a base always forces a SIB
// byte (ModRM.rm=100 alone means "SIB follows"), and RBP/R13 as a base
// with no displacement is forced to an explicit zero disp8 (mod=00 with
// rm=101 would otherwise mean RIP-relative or no-base-disp32).
func (e *Emitter) emitMem(regField, baseField, indexField byte, hasIndex bool, scale int8, disp int64) {
	needsSIB := hasIndex || baseField == 4
	var mod byte
	var dispBytes []byte
	switch {
	case disp == 0 && baseField != 5:
		mod = 0
	case disp >= -128 && disp <= 127:
		mod = 1
		dispBytes = []byte{byte(int8(disp))}
	default:
		mod = 2
		dispBytes = make([]byte, 4)
		binary.LittleEndian.PutUint32(dispBytes, uint32(int32(disp)))
	}
	if needsSIB {
		e.byte((mod << 6) | (regField << 3) | 4)
		var scaleBits byte
		switch scale {
		case 2:
			scaleBits = 1
		case 4:
			scaleBits = 2
		case 8:
			scaleBits = 3
		}
		idx := indexField
		if !hasIndex {
			idx = 4 // no index
		}
		e.byte((scaleBits << 6) | (idx << 3) | baseField)
	} else {
		e.byte((mod << 6) | (regField << 3) | baseField)
	}
	e.bytes(dispBytes)
}

func regOf(alloc *Allocation, n *ir.Node) int {
	if iv, ok := alloc.ByNode[n]; ok {
		return iv.Reg
	}
	return 0
}

func regOpcodeByte(base byte, reg int) byte { return base + byte(reg&0x7) }

func aluOpcode(op MachOp) byte {
	switch op {
	case MOpAddQ:
		return 0x01
	case MOpSubQ:
		return 0x29
	case MOpAndQ:
		return 0x21
	case MOpOrQ:
		return 0x09
	case MOpXorQ:
		return 0x31
	}
	return 0x01
}

// shiftDigit returns the ModRM opcode-extension digit D3 /digit uses to
// tell SHL/SHR/SAR/ROL/ROR apart.
func shiftDigit(op MachOp) byte {
	switch op {
	case MOpShlQ:
		return 4
	case MOpShrQ:
		return 5
	case MOpSarQ:
		return 7
	case MOpRolQ:
		return 0
	case MOpRorQ:
		return 1
	}
	return 4
}

func setccOpcode(c CondCode) byte { return jccOpcode(c) + 0x10 }

func cmovOpcode(c CondCode) byte { return jccOpcode(c) - 0x40 }

func jccOpcode(c CondCode) byte {
	switch c {
	case CondEQ:
		return 0x84
	case CondNE:
		return 0x85
	case CondULT:
		return 0x82
	case CondULE:
		return 0x86
	case CondSLT:
		return 0x8c
	case CondSLE:
		return 0x8e
	}
	return 0x84
}

// branchTargetBlock resolves the IR block a JCC/JMP tile transfers to by
// walking the Branch/Region user chain; returns nil if the target isn't
// statically known at isel time (handled instead as a relocation).
func branchTargetBlock(t *Tile) *ir.Block {
	if t.Root == nil {
		return nil
	}
	for _, u := range t.Root.Users {
		if u.Node.Op == ir.OpProj {
			for _, uu := range u.Node.Users {
				if uu.Node.Op == ir.OpRegion {
					return nil // resolved by the caller's block-to-label map, not here
				}
			}
		}
	}
	return nil
}

func symbolTarget(t *Tile) string {
	if len(t.Operands) == 0 {
		return ""
	}
	if sym, ok := t.Operands[0].Aux.(ir.SymAux); ok {
		return sym.Name
	}
	return ""
}
