// Package lattice implements the partially ordered set of abstract values
// the peephole engine's dataflow transfer functions (idealize/identity/
// dataflow, see internal/ir) use for constant propagation and range
// analysis. Every lattice.Value is interned: pointer equality implies
// semantic equality, the same discipline cmd/compile/internal/ssa uses for
// its own *Type (and the discipline the original Tilde Backend source
// uses for its own lattice_intern, see tb/src/opt/lattice.h).
package lattice

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Kind tags the variant a Value holds, per spec.md 3.2.
type Kind uint8

const (
	Top Kind = iota
	Bot
	Int
	Flt32
	Flt64
	Nan32
	Nan64
	Xnan32
	Xnan64
	FltCon32
	FltCon64
	Null
	Xnull
	Ptr
	PtrCon
	Ctrl
	Xctrl
	MemSlice
	AllMem
	AnyMem
	Tuple
)

func (k Kind) String() string {
	switch k {
	case Top:
		return "Top"
	case Bot:
		return "Bot"
	case Int:
		return "Int"
	case Flt32:
		return "Flt32"
	case Flt64:
		return "Flt64"
	case Nan32:
		return "Nan32"
	case Nan64:
		return "Nan64"
	case Xnan32:
		return "Xnan32"
	case Xnan64:
		return "Xnan64"
	case FltCon32:
		return "FltCon32"
	case FltCon64:
		return "FltCon64"
	case Null:
		return "Null"
	case Xnull:
		return "Xnull"
	case Ptr:
		return "Ptr"
	case PtrCon:
		return "PtrCon"
	case Ctrl:
		return "Ctrl"
	case Xctrl:
		return "Xctrl"
	case MemSlice:
		return "MemSlice"
	case AllMem:
		return "AllMem"
	case AnyMem:
		return "AnyMem"
	case Tuple:
		return "Tuple"
	}
	return "Kind(?)"
}

// IntWidenLimit bounds how many times an INT range may grow under meet
// across the peephole fixed point; the PHI transfer function in
// internal/ir forces a PHI's range to the type-wide range once the
// counter reaches it. Only INT carries a widen counter: every other lattice kind has
// bounded height (at most a handful of steps from TOP to BOT) and cannot
// fail to converge, so it needs none. This resolves spec.md's "exact
// widening policy... open" question — see DESIGN.md.
const IntWidenLimit = 5

// Value is an interned lattice element. Construct values with the package
// constructors (Universe.Top, Universe.Bot, NewInt, ...) and a *Universe, never with a
// literal; identity is only meaningful for values that came out of the
// same Universe.
type Value struct {
	kind Kind

	// Int
	min, max               int64
	knownZeros, knownOnes  uint64
	widen                  int

	// FltCon32 / FltCon64 (math.Float64bits of the constant)
	floatBits uint64

	// PtrCon
	sym string

	// MemSlice / AllMem / AnyMem: bitset of alias classes this value may
	// touch. Each LOCAL gets its own class bit; all global memory shares
	// one class bit (spec.md's noted aliasing precision, Open Questions).
	alias uint64

	// Tuple
	elems []*Value
}

func (v *Value) Kind() Kind { return v.kind }

// IsSingleton reports whether v denotes exactly one runtime value, which
// is what lets try-as-const (spec.md 4.5) replace a node with a constant.
func (v *Value) IsSingleton() bool {
	switch v.kind {
	case Int:
		return v.min == v.max
	case FltCon32, FltCon64, PtrCon, Null, Xctrl:
		return true
	default:
		return false
	}
}

func (v *Value) IsTop() bool  { return v.kind == Top }
func (v *Value) IsBot() bool  { return v.kind == Bot }
func (v *Value) IntRange() (min, max int64, ok bool) {
	if v.kind != Int {
		return 0, 0, false
	}
	return v.min, v.max, true
}
func (v *Value) KnownBits() (zeros, ones uint64) { return v.knownZeros, v.knownOnes }
func (v *Value) WidenCount() int                 { return v.widen }
func (v *Value) FloatBits() uint64               { return v.floatBits }
func (v *Value) Float32() float32                { return math.Float32frombits(uint32(v.floatBits)) }
func (v *Value) Float64() float64                { return math.Float64frombits(v.floatBits) }
func (v *Value) Sym() string                     { return v.sym }
func (v *Value) Alias() uint64                   { return v.alias }
func (v *Value) Elem(i int) *Value               { return v.elems[i] }
func (v *Value) NumElems() int                   { return len(v.elems) }

// Universe interns Values for a single function. It is not safe for
// concurrent use, matching the function-scoped, thread-bound arenas the
// rest of the core uses (spec.md 5).
type Universe struct {
	buckets map[uint64][]*Value

	top, bot, null, xnull, ptr, ctrl, xctrl, allMem, anyMem, nan32, nan64, xnan32, xnan64, flt32, flt64 *Value
}

// NewUniverse returns an interner with the height-1 singletons pre-seeded.
func NewUniverse() *Universe {
	u := &Universe{buckets: make(map[uint64][]*Value)}
	u.top = u.intern(&Value{kind: Top})
	u.bot = u.intern(&Value{kind: Bot})
	u.null = u.intern(&Value{kind: Null})
	u.xnull = u.intern(&Value{kind: Xnull})
	u.ptr = u.intern(&Value{kind: Ptr})
	u.ctrl = u.intern(&Value{kind: Ctrl})
	u.xctrl = u.intern(&Value{kind: Xctrl})
	u.allMem = u.intern(&Value{kind: AllMem, alias: ^uint64(0)})
	u.anyMem = u.intern(&Value{kind: AnyMem})
	u.nan32 = u.intern(&Value{kind: Nan32})
	u.nan64 = u.intern(&Value{kind: Nan64})
	u.xnan32 = u.intern(&Value{kind: Xnan32})
	u.xnan64 = u.intern(&Value{kind: Xnan64})
	u.flt32 = u.intern(&Value{kind: Flt32})
	u.flt64 = u.intern(&Value{kind: Flt64})
	return u
}

func (u *Universe) Top() *Value    { return u.top }
func (u *Universe) Bot() *Value    { return u.bot }
func (u *Universe) Null() *Value   { return u.null }
func (u *Universe) XNull() *Value  { return u.xnull }
func (u *Universe) Ptr() *Value    { return u.ptr }
func (u *Universe) Ctrl() *Value   { return u.ctrl }
func (u *Universe) XCtrl() *Value  { return u.xctrl }
func (u *Universe) AllMem() *Value { return u.allMem }
func (u *Universe) AnyMem() *Value { return u.anyMem }
func (u *Universe) Flt(bits int) *Value {
	if bits == 32 {
		return u.flt32
	}
	return u.flt64
}
func (u *Universe) Nan(bits int) *Value {
	if bits == 32 {
		return u.nan32
	}
	return u.nan64
}
func (u *Universe) XNan(bits int) *Value {
	if bits == 32 {
		return u.xnan32
	}
	return u.xnan64
}

func hashKey(v *Value) uint64 {
	var buf [1 + 8 + 8 + 8 + 8 + 8 + 8 + 8]byte
	buf[0] = byte(v.kind)
	binary.LittleEndian.PutUint64(buf[1:], uint64(v.min))
	binary.LittleEndian.PutUint64(buf[9:], uint64(v.max))
	binary.LittleEndian.PutUint64(buf[17:], v.knownZeros)
	binary.LittleEndian.PutUint64(buf[25:], v.knownOnes)
	binary.LittleEndian.PutUint64(buf[33:], uint64(v.widen))
	binary.LittleEndian.PutUint64(buf[41:], v.floatBits)
	binary.LittleEndian.PutUint64(buf[49:], v.alias)
	h := xxhash.Sum64(buf[:])
	if v.sym != "" {
		h ^= xxhash.Sum64String(v.sym)
	}
	for i, e := range v.elems {
		h = h*1099511628211 ^ (hashKey(e) + uint64(i))
	}
	return h
}

func equalVal(a, b *Value) bool {
	if a.kind != b.kind || a.min != b.min || a.max != b.max ||
		a.knownZeros != b.knownZeros || a.knownOnes != b.knownOnes ||
		a.widen != b.widen || a.floatBits != b.floatBits ||
		a.sym != b.sym || a.alias != b.alias || len(a.elems) != len(b.elems) {
		return false
	}
	for i := range a.elems {
		if a.elems[i] != b.elems[i] { // elems are themselves interned
			return false
		}
	}
	return true
}

func (u *Universe) intern(v *Value) *Value {
	h := hashKey(v)
	for _, cand := range u.buckets[h] {
		if equalVal(cand, v) {
			return cand
		}
	}
	u.buckets[h] = append(u.buckets[h], v)
	return v
}

// NewInt interns an integer range lattice value.
func (u *Universe) NewInt(min, max int64, knownZeros, knownOnes uint64, widen int) *Value {
	if widen > IntWidenLimit {
		widen = IntWidenLimit
	}
	return u.intern(&Value{kind: Int, min: min, max: max, knownZeros: knownZeros, knownOnes: knownOnes, widen: widen})
}

// NewIntConst interns the singleton range {c}.
func (u *Universe) NewIntConst(c int64, bits int) *Value {
	mask := maskForBits(bits)
	uc := uint64(c) & mask
	return u.NewInt(c, c, ^uc&mask, uc, 0)
}

func maskForBits(bits int) uint64 {
	if bits >= 64 || bits <= 0 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(bits)) - 1
}

// NewIntFull returns the widest representable range for a bits-wide signed
// integer: lattice_from_dt's INT case.
func (u *Universe) NewIntFull(bits int) *Value {
	if bits <= 0 || bits >= 64 {
		return u.NewInt(math.MinInt64, math.MaxInt64, 0, 0, 0)
	}
	min := -(int64(1) << uint(bits-1))
	max := int64(1)<<uint(bits-1) - 1
	return u.NewInt(min, max, 0, 0, 0)
}

// NewFltCon32 / NewFltCon64 intern an exact floating-point constant.
func (u *Universe) NewFltCon32(f float32) *Value {
	return u.intern(&Value{kind: FltCon32, floatBits: uint64(math.Float32bits(f))})
}
func (u *Universe) NewFltCon64(f float64) *Value {
	return u.intern(&Value{kind: FltCon64, floatBits: math.Float64bits(f)})
}

// NewPtrCon interns a symbol-valued pointer constant.
func (u *Universe) NewPtrCon(sym string) *Value {
	return u.intern(&Value{kind: PtrCon, sym: sym})
}

// NewMemSlice interns a memory value that may alias the given class bitset.
func (u *Universe) NewMemSlice(alias uint64) *Value {
	if alias == 0 {
		return u.anyMem
	}
	if alias == ^uint64(0) {
		return u.allMem
	}
	return u.intern(&Value{kind: MemSlice, alias: alias})
}

// NewTuple interns a tuple of already-interned element values, one per
// projection index (spec.md 3.1's PROJ contract).
func (u *Universe) NewTuple(elems ...*Value) *Value {
	cp := append([]*Value(nil), elems...)
	return u.intern(&Value{kind: Tuple, elems: cp})
}

// Meet computes the greatest lower bound, spec.md 3.2.
func (u *Universe) Meet(a, b *Value) *Value {
	if a == b {
		return a
	}
	if a.kind == Top {
		return b
	}
	if b.kind == Top {
		return a
	}
	if a.kind == Bot || b.kind == Bot {
		return u.bot
	}
	if a.kind != b.kind {
		// Mixed-kind meets below TOP/above BOT are only ever taken between
		// "compatible" sub-lattices in practice (e.g. Flt64 and FltCon64);
		// anything else is a frontend type error surfaced long before the
		// peephole engine runs, so collapse conservatively to BOT.
		switch {
		case isFloatFamily(a.kind) && isFloatFamily(b.kind):
			return u.meetFloatFamily(a, b)
		case isMemFamily(a.kind) && isMemFamily(b.kind):
			return u.NewMemSlice(a.aliasOf() | b.aliasOf())
		default:
			return u.bot
		}
	}
	switch a.kind {
	case Int:
		min := a.min
		if b.min < min {
			min = b.min
		}
		max := a.max
		if b.max > max {
			max = b.max
		}
		widen := a.widen
		if b.widen > widen {
			widen = b.widen
		}
		if min != a.min || max != a.max || min != b.min || max != b.max {
			widen++
		}
		return u.NewInt(min, max, a.knownZeros&b.knownZeros, a.knownOnes&b.knownOnes, widen)
	case FltCon32, FltCon64:
		if a.floatBits == b.floatBits {
			return a
		}
		return u.meetFloatFamily(a, b)
	case PtrCon:
		if a.sym == b.sym {
			return a
		}
		return u.ptr
	case MemSlice:
		return u.NewMemSlice(a.alias | b.alias)
	case Tuple:
		if len(a.elems) != len(b.elems) {
			return u.bot
		}
		elems := make([]*Value, len(a.elems))
		for i := range elems {
			elems[i] = u.Meet(a.elems[i], b.elems[i])
		}
		return u.NewTuple(elems...)
	default:
		// Height-1 singletons (Ptr, Ctrl, XCtrl, Null, XNull, AllMem,
		// AnyMem, Nan*, Xnan*, Flt*): equal kinds already handled by a==b.
		return u.bot
	}
}

func (v *Value) aliasOf() uint64 {
	switch v.kind {
	case AllMem:
		return ^uint64(0)
	case AnyMem:
		return 0
	default:
		return v.alias
	}
}

func isMemFamily(k Kind) bool { return k == MemSlice || k == AllMem || k == AnyMem }
func isFloatFamily(k Kind) bool {
	switch k {
	case Flt32, Flt64, Nan32, Nan64, Xnan32, Xnan64, FltCon32, FltCon64:
		return true
	}
	return false
}

func (u *Universe) meetFloatFamily(a, b *Value) *Value {
	bits := 64
	if a.kind == Flt32 || a.kind == Nan32 || a.kind == Xnan32 || a.kind == FltCon32 {
		bits = 32
	}
	// Conservative: any disagreement among the float sub-lattice collapses
	// to the "could be anything float" member for that width.
	return u.Flt(bits)
}

// Dual inverts the lattice: dual(dual(a)) == a for every interned value.
func (u *Universe) Dual(a *Value) *Value {
	switch a.kind {
	case Top:
		return u.bot
	case Bot:
		return u.top
	case Int:
		return u.NewInt(a.max, a.min, ^a.knownZeros, ^a.knownOnes, a.widen)
	case Null:
		return u.xnull
	case Xnull:
		return u.null
	case Ctrl:
		return u.xctrl
	case Xctrl:
		return u.ctrl
	case AllMem:
		return u.anyMem
	case AnyMem:
		return u.allMem
	case MemSlice:
		return u.NewMemSlice(^a.alias)
	case Nan32:
		return u.xnan32
	case Xnan32:
		return u.nan32
	case Nan64:
		return u.xnan64
	case Xnan64:
		return u.nan64
	case Tuple:
		elems := make([]*Value, len(a.elems))
		for i, e := range a.elems {
			elems[i] = u.Dual(e)
		}
		return u.NewTuple(elems...)
	default:
		// Ptr, PtrCon, Flt32/64, FltCon32/64 are self-dual members of
		// their own finite-height sub-lattices in this design.
		return a
	}
}

// Join computes the least upper bound: join(a,b) = dual(meet(dual a, dual b)).
func (u *Universe) Join(a, b *Value) *Value {
	return u.Dual(u.Meet(u.Dual(a), u.Dual(b)))
}
