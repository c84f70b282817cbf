// Package ir implements the sea-of-nodes SSA graph, its incremental
// peephole optimizer, and the scheduling passes that turn a floating graph
// into per-block linear order, generalizing the design
// cmd/compile/internal/ssa uses for *Value/*Block/*Func (see
// _examples/Go-zh-go.old/src/cmd/compile/internal/ssa) to a standalone,
// reusable IR core.
package ir

// Op identifies a node's operation.
type Op int

const (
	OpInvalid Op = iota

	OpStart
	OpRegion
	OpPhi
	OpProj
	OpBranch
	OpReturn

	OpIntConst
	OpFloatConst
	OpSymbol
	OpLocal

	OpLoad
	OpStore
	OpMemcpy
	OpMemset
	OpAtomicLoad
	OpAtomicStore
	OpAtomicCAS
	OpAtomicAdd
	OpCall
	OpSafepoint

	OpAdd
	OpSub
	OpMul
	OpUDiv
	OpSDiv
	OpUMod
	OpSMod
	OpShl
	OpShr
	OpSar
	OpRol
	OpRor
	OpAnd
	OpOr
	OpXor
	OpNeg
	OpNot

	OpCmpEQ
	OpCmpNE
	OpCmpULT
	OpCmpULE
	OpCmpSLT
	OpCmpSLE
	OpCmpFLT
	OpCmpFLE

	OpSignExt
	OpZeroExt
	OpTruncate
	OpInt2Ptr
	OpPtr2Int
	OpInt2Float
	OpFloat2Int
	OpBitcast

	OpMember
	OpArray
	OpSelect
	OpMergeMem
	OpPoison
	OpDead

	// Machine-level, introduced by instruction selection.
	OpMachCopy
	OpMachProj
)

var opNames = map[Op]string{
	OpInvalid: "Invalid", OpStart: "Start", OpRegion: "Region", OpPhi: "Phi",
	OpProj: "Proj", OpBranch: "Branch", OpReturn: "Return",
	OpIntConst: "IntConst", OpFloatConst: "FloatConst", OpSymbol: "Symbol", OpLocal: "Local",
	OpLoad: "Load", OpStore: "Store", OpMemcpy: "Memcpy", OpMemset: "Memset",
	OpAtomicLoad: "AtomicLoad", OpAtomicStore: "AtomicStore", OpAtomicCAS: "AtomicCAS", OpAtomicAdd: "AtomicAdd",
	OpCall: "Call", OpSafepoint: "Safepoint",
	OpAdd: "Add", OpSub: "Sub", OpMul: "Mul", OpUDiv: "UDiv", OpSDiv: "SDiv",
	OpUMod: "UMod", OpSMod: "SMod", OpShl: "Shl", OpShr: "Shr", OpSar: "Sar",
	OpRol: "Rol", OpRor: "Ror", OpAnd: "And", OpOr: "Or", OpXor: "Xor", OpNeg: "Neg", OpNot: "Not",
	OpCmpEQ: "CmpEQ", OpCmpNE: "CmpNE", OpCmpULT: "CmpULT", OpCmpULE: "CmpULE",
	OpCmpSLT: "CmpSLT", OpCmpSLE: "CmpSLE", OpCmpFLT: "CmpFLT", OpCmpFLE: "CmpFLE",
	OpSignExt: "SignExt", OpZeroExt: "ZeroExt", OpTruncate: "Truncate",
	OpInt2Ptr: "Int2Ptr", OpPtr2Int: "Ptr2Int", OpInt2Float: "Int2Float", OpFloat2Int: "Float2Int", OpBitcast: "Bitcast",
	OpMember: "Member", OpArray: "Array", OpSelect: "Select", OpMergeMem: "MergeMem",
	OpPoison: "Poison", OpDead: "Dead", OpMachCopy: "MachCopy", OpMachProj: "MachProj",
}

func (op Op) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}
	return "Op(?)"
}

func (op Op) IsCompare() bool {
	switch op {
	case OpCmpEQ, OpCmpNE, OpCmpULT, OpCmpULE, OpCmpSLT, OpCmpSLE, OpCmpFLT, OpCmpFLE:
		return true
	}
	return false
}

func (op Op) IsCommutative() bool {
	switch op {
	case OpAdd, OpMul, OpAnd, OpOr, OpXor, OpCmpEQ, OpCmpNE:
		return true
	}
	return false
}

// pinned nodes stay in the basic block determined by their control input;
// GCM never moves them (spec.md 4.7).
func (op Op) Pinned() bool {
	switch op {
	case OpRegion, OpPhi, OpProj, OpBranch, OpReturn, OpSafepoint, OpLocal,
		OpStore, OpAtomicLoad, OpAtomicStore, OpAtomicCAS, OpAtomicAdd, OpCall, OpStart:
		return true
	}
	return false
}

// HasEffect reports whether the node participates in the memory/control
// effect chain and therefore can't be killed merely for having no users.
func (op Op) HasEffect() bool {
	switch op {
	case OpStore, OpMemcpy, OpMemset, OpAtomicLoad, OpAtomicStore, OpAtomicCAS,
		OpAtomicAdd, OpCall, OpSafepoint, OpBranch, OpReturn, OpRegion, OpStart:
		return true
	}
	return false
}

// ExcludedFromGVN reports opcodes the GVN table (C5) never deduplicates:
// LOCAL per spec.md 4.4 because its identity carries frame-slot meaning
// beyond structural equality, and CALL/ATOMIC-*/SAFEPOINT per
// original_source/tb/src/opt/gvn.h's exclusion list (see DESIGN.md) since
// two structurally identical calls or atomics are never interchangeable.
func (op Op) ExcludedFromGVN() bool {
	switch op {
	case OpLocal, OpCall, OpSafepoint, OpAtomicLoad, OpAtomicStore, OpAtomicCAS, OpAtomicAdd:
		return true
	}
	return false
}

// TypeKind is the coarse shape of a node's data type (spec.md 3.1).
type TypeKind int

const (
	KindInvalid TypeKind = iota
	KindInt
	KindFloat
	KindPtr
	KindControl
	KindMemory
	KindTuple
	KindVoid
)

func (k TypeKind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindPtr:
		return "ptr"
	case KindControl:
		return "control"
	case KindMemory:
		return "memory"
	case KindTuple:
		return "tuple"
	case KindVoid:
		return "void"
	}
	return "invalid"
}

// DataType is a node's typed data slot (spec.md 3.1's `dt`).
type DataType struct {
	Kind TypeKind
	Bits int // meaningful for KindInt (width) and KindFloat (32 or 64)
	Elem []DataType // meaningful for KindTuple: one entry per PROJ index
}

func Control() DataType { return DataType{Kind: KindControl} }
func Memory() DataType  { return DataType{Kind: KindMemory} }
func Void() DataType    { return DataType{Kind: KindVoid} }
func Ptr() DataType     { return DataType{Kind: KindPtr} }
func Int(bits int) DataType   { return DataType{Kind: KindInt, Bits: bits} }
func Float(bits int) DataType { return DataType{Kind: KindFloat, Bits: bits} }
func Tuple(elems ...DataType) DataType {
	return DataType{Kind: KindTuple, Elem: append([]DataType(nil), elems...)}
}

func (dt DataType) IsMemory() bool  { return dt.Kind == KindMemory }
func (dt DataType) IsControl() bool { return dt.Kind == KindControl }
func (dt DataType) IsTuple() bool   { return dt.Kind == KindTuple }
func (dt DataType) IsValue() bool {
	return dt.Kind == KindInt || dt.Kind == KindFloat || dt.Kind == KindPtr
}

func (dt DataType) Equal(o DataType) bool {
	if dt.Kind != o.Kind || dt.Bits != o.Bits || len(dt.Elem) != len(o.Elem) {
		return false
	}
	for i := range dt.Elem {
		if !dt.Elem[i].Equal(o.Elem[i]) {
			return false
		}
	}
	return true
}
