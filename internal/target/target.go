// Package target declares the vtable contract the core consumes from a
// target description (spec.md 6.3): integer sizes, calling convention
// tables, register classification, latency estimates, and relocation
// kinds. It has no instruction selection or emission hooks; a backend
// exposes those through its own package API. internal/backend/amd64
// implements this contract for x86-64; internal/ir's GCM pass consumes
// only the latency hook via ir.LatencyFunc to avoid an ir -> target
// import.
package target

import "github.com/nodec-project/nodec/internal/ir"

// RegClass names a register file (general purpose, SSE, flags, ...).
type RegClass int

const (
	RegClassInt RegClass = iota
	RegClassFloat
	RegClassFlags
)

// RelocationKind names a relocation the external writer (spec.md 6.2)
// knows how to resolve.
type RelocationKind int

const (
	RelRel32 RelocationKind = iota
	RelAbs64
	RelAbs32
)

// IntegerSizes mirrors spec.md 6.3's "integer sizes {bool, char, short,
// int, long, llong, pointer} and endianness".
type IntegerSizes struct {
	BoolBits, CharBits, ShortBits, IntBits, LongBits, LLongBits, PointerBits int
	LittleEndian                                                            bool
}

// CallingConvention describes argument/return placement for one calling
// convention name.
type CallingConvention struct {
	Name              string
	IntArgRegs        []string
	FloatArgRegs      []string
	IntReturnRegs     []string
	FloatReturnRegs   []string
	CallerSaved       []string
	CalleeSaved       []string
	ChkstkThreshold   int64
	VarargsSpillBytes int64
}

// Config is the subset of spec.md 6.4's configuration a target-facing
// Description reads when deciding feasibility (e.g. TLS support).
type Config struct {
	FramePointer      bool
	TLSIndexSymbol    string
	ChkstkLimit       int64
	EmitDebugLocations bool
}

// Description is the vtable the core consumes from a target (spec.md 6.3).
type Description struct {
	Name     string
	Sizes    IntegerSizes
	CCs      map[string]CallingConvention
	Relocations []RelocationKind

	ClassifyRegClass func(dt ir.DataType) RegClass
	NumRegisters     func(class RegClass) int
	GetLatency       func(n *ir.Node) int

	SupportsAtomicCAS bool
	SupportsTLS       func(cfg Config) bool
}

// Latency adapts Description.GetLatency to ir.LatencyFunc so internal/ir's
// GCM pass can consume it without importing this package.
func (d *Description) Latency() ir.LatencyFunc {
	if d.GetLatency == nil {
		return ir.DefaultLatency
	}
	return d.GetLatency
}
