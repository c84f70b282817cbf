package amd64

import (
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/nodec-project/nodec/internal/ir"
)

// Interval is a live range [Start, End) measured in the linear instruction
// numbering the allocator assigns across a function's scheduled blocks,
// grounded on the classic Poletto & Sarkar linear-scan algorithm spec.md
// 6.1 names directly (the teacher's own regalloc.go instead does an
// SSA-value-coloring pass with no interval representation at all, so this
// part of the design has no teacher analog and follows the textbook
// algorithm the spec calls for).
type Interval struct {
	Node      *ir.Node
	Start, End int
	Reg       int  // assigned register index into RegNames, -1 until allocated
	Spilled   bool
	SpillSlot int64 // valid when Spilled
	Class     RegMask
}

// Allocation is the result of linear-scan register allocation over one
// function: a register (or spill slot) per live interval, plus the size in
// bytes of the spill area (8 bytes per spilled interval).
type Allocation struct {
	Intervals  []*Interval
	ByNode     map[*ir.Node]*Interval
	SpillSlots int64
}

// Allocator runs linear-scan allocation over the tiles a Selector produced.
type Allocator struct {
	Func     *ir.Func
	GPCount  int
	FPCount  int
}

func NewAllocator(fn *ir.Func) *Allocator {
	return &Allocator{Func: fn, GPCount: NumGPRegisters, FPCount: NumFPRegisters}
}

// Run numbers every tile linearly across the function's blocks in RPO
// order, computes each value-producing tile's live interval from first
// definition to last use, and assigns registers greedily in interval start
// order, spilling the interval whose end is furthest away when the active
// set for a class is full (Poletto & Sarkar's "spill the farthest" rule).
func (a *Allocator) Run() *Allocation {
	order, pos := a.numberTiles()
	intervals := a.buildIntervals(order, pos)

	sort.Slice(intervals, func(i, j int) bool { return intervals[i].Start < intervals[j].Start })

	alloc := &Allocation{ByNode: make(map[*ir.Node]*Interval, len(intervals))}
	a.linearScan(intervals, MaskGP, a.GPCount, 0)
	a.linearScan(intervals, MaskFP, a.FPCount, gpFirstFPRegister)

	var spillCursor int64
	for _, iv := range intervals {
		if iv.Spilled {
			iv.SpillSlot = spillCursor
			spillCursor += 8
		}
		alloc.Intervals = append(alloc.Intervals, iv)
		alloc.ByNode[iv.Node] = iv
	}
	alloc.SpillSlots = spillCursor
	return alloc
}

// numberTiles assigns each tile a position in program order and returns
// that order plus a node->position index.
func (a *Allocator) numberTiles() ([]*Tile, map[*ir.Node]int) {
	var order []*Tile
	pos := make(map[*ir.Node]int)
	n := 0
	for _, b := range a.Func.Blocks {
		t, _ := b.FirstTile.(*Tile)
		for t != nil {
			order = append(order, t)
			pos[t.Root] = n
			n++
			t = t.Next
		}
	}
	return order, pos
}

func (a *Allocator) buildIntervals(order []*Tile, pos map[*ir.Node]int) []*Interval {
	var intervals []*Interval
	for _, t := range order {
		if t.Info.Output == 0 {
			continue
		}
		start := pos[t.Root]
		end := start
		for _, u := range t.Root.Users {
			if up, ok := pos[u.Node]; ok && up > end {
				end = up
			}
		}
		intervals = append(intervals, &Interval{
			Node:  t.Root,
			Start: start,
			End:   end + 1,
			Reg:   -1,
			Class: classOf(t.Info.Output),
		})
	}
	return intervals
}

func classOf(mask RegMask) RegMask {
	if mask&MaskFP != 0 {
		return MaskFP
	}
	return MaskGP
}

// gpFirstFPRegister is X0's index into RegNames: the linear-scan bitset
// below tracks each class locally (0..numRegs-1), so the FP class needs its
// local slot offset back into RegNames' global numbering before it reaches
// regOf/emitTile.
const gpFirstFPRegister = 16

// linearScan allocates registers to the subset of intervals belonging to
// class, freeing expired intervals as the scan advances and spilling the
// active interval ending furthest in the future when the class is full
// (spec.md 6.1's register allocation step). base is the class's first
// register's index into RegNames; the bitset is indexed locally, slot i
// standing for the i-th register of class at or after base.
func (a *Allocator) linearScan(intervals []*Interval, class RegMask, numRegs, base int) {
	used := bitset.New(uint(numRegs))
	var active []*Interval

	// phys maps each local slot to its RegNames index, skipping registers
	// outside class (SP, for the GP class); slotOf is its inverse.
	var phys []int
	slotOf := make(map[int]int)
	for r := base; r < len(RegNames) && len(phys) < numRegs; r++ {
		if class.Has(r) {
			slotOf[r] = len(phys)
			phys = append(phys, r)
		}
	}

	expire := func(at int) {
		var still []*Interval
		for _, iv := range active {
			if iv.End <= at {
				used.Clear(uint(slotOf[iv.Reg]))
				continue
			}
			still = append(still, iv)
		}
		active = still
	}

	for _, iv := range intervals {
		if iv.Class != class {
			continue
		}
		expire(iv.Start)

		reg := firstClear(used, numRegs)
		if reg < 0 {
			// Spill the active interval ending furthest away, per
			// Poletto & Sarkar; spilling iv itself if it ends latest.
			worst := iv
			worstIdx := -1
			for i, act := range active {
				if act.End > worst.End {
					worst = act
					worstIdx = i
				}
			}
			if worstIdx >= 0 {
				worst.Spilled = true
				used.Clear(uint(slotOf[worst.Reg]))
				active = append(active[:worstIdx], active[worstIdx+1:]...)
				reg = firstClear(used, numRegs)
				iv.Reg = phys[reg]
				used.Set(uint(reg))
				active = append(active, iv)
			} else {
				iv.Spilled = true
			}
			continue
		}
		iv.Reg = phys[reg]
		used.Set(uint(reg))
		active = append(active, iv)
	}
}

func firstClear(b *bitset.BitSet, n int) int {
	for i := 0; i < n; i++ {
		if !b.Test(uint(i)) {
			return i
		}
	}
	return -1
}
