package amd64

import (
	"github.com/nodec-project/nodec/internal/ir"
	"github.com/nodec-project/nodec/internal/target"
)

// SysVCC is the System V AMD64 calling convention most of the pack's
// originating ecosystem targets, grounded on the teacher's own
// cmd/compile/internal/amd64 ABI tables (integer args in DI/SI/DX/CX/R8/R9,
// floats in X0-X7, integer return in AX:DX).
var SysVCC = target.CallingConvention{
	Name:              "sysv64",
	IntArgRegs:        []string{"DI", "SI", "DX", "CX", "R8", "R9"},
	FloatArgRegs:      []string{"X0", "X1", "X2", "X3", "X4", "X5", "X6", "X7"},
	IntReturnRegs:     []string{"AX", "DX"},
	FloatReturnRegs:   []string{"X0", "X1"},
	CallerSaved:       []string{"AX", "CX", "DX", "SI", "DI", "R8", "R9", "R10", "R11"},
	CalleeSaved:       []string{"BX", "BP", "R12", "R13", "R14", "R15"},
	ChkstkThreshold:   4096,
	VarargsSpillBytes: 48,
}

// Description is the amd64 implementation of the target vtable
// (internal/target, spec.md 6.3).
var Description = &target.Description{
	Name: "amd64",
	Sizes: target.IntegerSizes{
		BoolBits: 8, CharBits: 8, ShortBits: 16, IntBits: 32,
		LongBits: 64, LLongBits: 64, PointerBits: 64,
		LittleEndian: true,
	},
	CCs:         map[string]target.CallingConvention{"sysv64": SysVCC},
	Relocations: []target.RelocationKind{target.RelRel32, target.RelAbs64},

	ClassifyRegClass: func(dt ir.DataType) target.RegClass {
		switch dt.Kind {
		case ir.KindFloat:
			return target.RegClassFloat
		case ir.KindControl:
			return target.RegClassFlags
		default:
			return target.RegClassInt
		}
	},
	NumRegisters: func(class target.RegClass) int {
		switch class {
		case target.RegClassFloat:
			return NumFPRegisters
		case target.RegClassFlags:
			return 1
		default:
			return NumGPRegisters
		}
	},
	GetLatency: func(n *ir.Node) int {
		switch n.Op {
		case ir.OpLoad:
			return 4
		case ir.OpMul:
			return 3
		case ir.OpUDiv, ir.OpSDiv, ir.OpUMod, ir.OpSMod:
			return 20
		case ir.OpCall:
			return 50
		default:
			return 1
		}
	},

	SupportsAtomicCAS: true,
	SupportsTLS: func(cfg target.Config) bool {
		return cfg.TLSIndexSymbol != ""
	},
}

// CompileFunc runs isel, register allocation, and emission over a single
// scheduled function, the amd64 backend's implementation of spec.md 6.1's
// final three pipeline stages.
func CompileFunc(fn *ir.Func, frameSize int64, framePointer bool) ([]byte, *Allocation, []Relocation) {
	sel := NewSelector(fn)
	sel.SelectAll()

	alloc := NewAllocator(fn).Run()

	emitter := NewEmitter(fn, alloc)
	code := emitter.EmitFunction(frameSize+alloc.SpillSlots, framePointer)
	return code, alloc, emitter.Relocs
}
