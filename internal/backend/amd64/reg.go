// Package amd64 implements the target vtable (internal/target) for x86-64:
// instruction selection over node tiles, linear-scan register allocation,
// and byte-level machine code emission (spec.md 6.1-6.2).
package amd64

import "strings"

// RegMask is a bitset over the register file below, one bit per register,
// grounded on the teacher's own regMask in
// cmd/compile/internal/ssa/gen/AMD64Ops.go.
type RegMask uint64

// RegNames mirrors the teacher's regNamesAMD64 table, including the two
// pseudo-registers (SB for symbol-relative addressing, FLAGS for condition
// codes) the instruction selector and allocator both need to reason about.
var RegNames = []string{
	"AX", "CX", "DX", "BX", "SP", "BP", "SI", "DI",
	"R8", "R9", "R10", "R11", "R12", "R13", "R14", "R15",
	"X0", "X1", "X2", "X3", "X4", "X5", "X6", "X7",
	"X8", "X9", "X10", "X11", "X12", "X13", "X14", "X15",
	"SB", "FLAGS",
}

var regNum = func() map[string]int {
	m := make(map[string]int, len(RegNames))
	for i, n := range RegNames {
		m[n] = i
	}
	return m
}()

// BuildRegMask constructs a RegMask from a space-separated register name
// list, mirroring the teacher's buildReg closure.
func BuildRegMask(s string) RegMask {
	var m RegMask
	for _, r := range strings.Fields(s) {
		n, ok := regNum[r]
		if !ok {
			panic("amd64: unknown register " + r)
		}
		m |= RegMask(1) << uint(n)
	}
	return m
}

// Register file masks, grounded on the teacher's gp/fp/flags/gpsp/gpspsb
// common-mask table.
var (
	MaskAX         = BuildRegMask("AX")
	MaskCX         = BuildRegMask("CX")
	MaskDX         = BuildRegMask("DX")
	MaskGP         = BuildRegMask("AX CX DX BX BP SI DI R8 R9 R10 R11 R12 R13 R14 R15")
	MaskFP         = BuildRegMask("X0 X1 X2 X3 X4 X5 X6 X7 X8 X9 X10 X11 X12 X13 X14 X15")
	MaskGPSP       = MaskGP | BuildRegMask("SP")
	MaskGPSPSB     = MaskGPSP | BuildRegMask("SB")
	MaskFlags      = BuildRegMask("FLAGS")
	MaskCallerSave = BuildRegMask("AX CX DX SI DI R8 R9 R10 R11") | MaskFP | MaskFlags
	// MaskCalleeSave is the System V AMD64 callee-saved set.
	MaskCalleeSave = BuildRegMask("BX BP R12 R13 R14 R15")
)

// NumGPRegisters/NumFPRegisters feed target.Description.NumRegisters.
const (
	NumGPRegisters = 15 // excludes SP, which the allocator never assigns
	NumFPRegisters = 16
)

func (m RegMask) Has(reg int) bool { return m&(RegMask(1)<<uint(reg)) != 0 }

func (m RegMask) String() string {
	var parts []string
	for i, n := range RegNames {
		if m.Has(i) {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, " ")
}

// RegInfo describes the register constraints of one tile: which mask each
// input must come from, which mask the output is chosen from, and which
// registers the tile clobbers as a side effect (grounded on the teacher's
// own regInfo struct in AMD64Ops.go).
type RegInfo struct {
	Inputs   []RegMask
	Output   RegMask
	Clobbers RegMask
}

// Common RegInfo shapes, named after the teacher's gp11/gp21/gp11sb etc.
var (
	GP01   = RegInfo{Output: MaskGP}
	GP11   = RegInfo{Inputs: []RegMask{MaskGPSP}, Output: MaskGP, Clobbers: MaskFlags}
	GP11NF = RegInfo{Inputs: []RegMask{MaskGPSP}, Output: MaskGP}
	GP11SB = RegInfo{Inputs: []RegMask{MaskGPSPSB}, Output: MaskGP}
	GP21   = RegInfo{Inputs: []RegMask{MaskGPSP, MaskGP}, Output: MaskGP, Clobbers: MaskFlags}
	GP21SB = RegInfo{Inputs: []RegMask{MaskGPSPSB, MaskGPSP}, Output: MaskGP}
	FP11   = RegInfo{Inputs: []RegMask{MaskFP}, Output: MaskFP}
	FP21   = RegInfo{Inputs: []RegMask{MaskFP, MaskFP}, Output: MaskFP}
	CmpGP  = RegInfo{Inputs: []RegMask{MaskGPSP, MaskGPSP}, Output: MaskFlags}
	Gp11Div = RegInfo{Inputs: []RegMask{MaskAX, MaskGP}, Output: MaskAX, Clobbers: MaskDX | MaskFlags}

	// GPToFP / FPToGP cross register-class moves, needed for INT2FLOAT/
	// FLOAT2INT and the int<->float flavor of BITCAST.
	GPToFP = RegInfo{Inputs: []RegMask{MaskGP}, Output: MaskFP}
	FPToGP = RegInfo{Inputs: []RegMask{MaskFP}, Output: MaskGP}

	// AtomicCASInfo: addr, old (pinned to AX, since CMPXCHG always
	// compares against it), new; the post-instruction value of AX is the
	// tile's own output (the value LOCK CMPXCHG observed in memory).
	AtomicCASInfo = RegInfo{Inputs: []RegMask{MaskGPSPSB, MaskAX, MaskGP}, Output: MaskAX, Clobbers: MaskFlags}
)
