package ir

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// gvnTable is the hash set keyed by (opcode, dt, input gvns, extra bytes)
// that canonicalizes congruent nodes (spec.md 4.4). Implemented as
// Go-map bucket chaining over a structural hash rather than a hand-rolled
// open-addressed table: the collision-chain behavior spec.md describes
// falls out of the map's bucket naturally, and reaching for `map[uint64]`
// here matches how the lattice interner (internal/lattice) already does
// its own hash-consing.
type gvnTable struct {
	buckets map[uint64][]*Node
}

func newGVNTable() *gvnTable {
	return &gvnTable{buckets: make(map[uint64][]*Node)}
}

func structuralHash(n *Node) uint64 {
	var buf []byte
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(n.Op))
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint64(tmp[:], uint64(n.DT.Kind))
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint64(tmp[:], uint64(n.DT.Bits))
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint64(tmp[:], uint64(n.AuxInt))
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint64(tmp[:], uint64(n.ProjIndex))
	buf = append(buf, tmp[:]...)
	for _, in := range n.Inputs {
		if in == nil {
			binary.LittleEndian.PutUint64(tmp[:], ^uint64(0))
		} else {
			binary.LittleEndian.PutUint64(tmp[:], uint64(in.GVN))
		}
		buf = append(buf, tmp[:]...)
	}
	h := xxhash.Sum64(buf)
	if n.Aux != nil {
		h ^= xxhash.Sum64String(n.Aux.Key())
	}
	return h
}

func structurallyEqual(a, b *Node) bool {
	if a.Op != b.Op || !a.DT.Equal(b.DT) || a.AuxInt != b.AuxInt || a.ProjIndex != b.ProjIndex {
		return false
	}
	if len(a.Inputs) != len(b.Inputs) {
		return false
	}
	for i := range a.Inputs {
		if a.Inputs[i] != b.Inputs[i] { // nodes compare by identity (gvn-stable pointer)
			return false
		}
	}
	if (a.Aux == nil) != (b.Aux == nil) {
		return false
	}
	if a.Aux != nil && a.Aux.Key() != b.Aux.Key() {
		return false
	}
	return true
}

// insert returns the existing equivalent node if one is already present;
// otherwise it adds n to the table and returns n. LOCAL (and the other
// opcodes ExcludedFromGVN names) are never inserted: their identity
// carries meaning beyond structural equality (spec.md 4.4, and
// original_source/tb/src/opt/gvn.h's exclusion list — see DESIGN.md).
func (t *gvnTable) insert(n *Node) *Node {
	if n.Op.ExcludedFromGVN() {
		return n
	}
	h := structuralHash(n)
	for _, cand := range t.buckets[h] {
		if cand != n && structurallyEqual(cand, n) {
			return cand
		}
	}
	t.buckets[h] = append(t.buckets[h], n)
	return n
}

func (t *gvnTable) remove(n *Node) {
	if n.Op.ExcludedFromGVN() {
		return
	}
	h := structuralHash(n)
	bucket := t.buckets[h]
	for i, cand := range bucket {
		if cand == n {
			bucket[i] = bucket[len(bucket)-1]
			t.buckets[h] = bucket[:len(bucket)-1]
			return
		}
	}
}

// GVNIntern runs the GVN-intern step of the peephole loop (spec.md 4.5):
// insert n and return the canonical representative (n itself if it was
// novel).
func (f *Func) GVNIntern(n *Node) *Node {
	return f.gvnTable.insert(n)
}
