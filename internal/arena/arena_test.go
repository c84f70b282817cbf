package arena

import "testing"

func TestArenaBytesStableUntilRestore(t *testing.T) {
	a := NewSize(16)
	cp := a.Save()
	b1 := a.Bytes(4, 1)
	for i := range b1 {
		b1[i] = byte(i + 1)
	}
	b2 := a.Bytes(4, 1)
	for i := range b2 {
		b2[i] = byte(i + 100)
	}
	if b1[0] != 1 || b2[0] != 100 {
		t.Fatalf("allocations overlapped: b1=%v b2=%v", b1, b2)
	}
	a.Restore(cp)
	b3 := a.Bytes(4, 1)
	for _, v := range b3 {
		if v != 0 {
			t.Fatalf("expected zeroed reuse after restore, got %v", b3)
		}
	}
}

func TestArenaChunkSpill(t *testing.T) {
	a := NewSize(8)
	var ptrs [][]byte
	for i := 0; i < 20; i++ {
		b := a.Bytes(4, 1)
		b[0] = byte(i)
		ptrs = append(ptrs, b)
	}
	for i, b := range ptrs {
		if b[0] != byte(i) {
			t.Fatalf("allocation %d corrupted by later allocations: got %d", i, b[0])
		}
	}
}

type point struct{ X, Y int }

func TestTypedArenaAllocAndRestore(t *testing.T) {
	a := NewTyped[point](4)
	p1 := a.Alloc()
	p1.X, p1.Y = 1, 2
	cp := a.Save()
	for i := 0; i < 10; i++ {
		p := a.Alloc()
		p.X = i
	}
	if a.Len() != 11 {
		t.Fatalf("expected 11 live elements, got %d", a.Len())
	}
	a.Restore(cp)
	if a.Len() != 1 {
		t.Fatalf("expected 1 live element after restore, got %d", a.Len())
	}
	if p1.X != 1 || p1.Y != 2 {
		t.Fatalf("restore corrupted an earlier allocation: %+v", p1)
	}
}

func TestTypedArenaPointerStability(t *testing.T) {
	a := NewTyped[point](2)
	var ptrs []*point
	for i := 0; i < 9; i++ {
		p := a.Alloc()
		p.X = i
		ptrs = append(ptrs, p)
	}
	for i, p := range ptrs {
		if p.X != i {
			t.Fatalf("pointer %d no longer stable: want %d got %d", i, i, p.X)
		}
	}
}
