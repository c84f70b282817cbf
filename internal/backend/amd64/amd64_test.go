package amd64

import (
	"testing"

	"github.com/nodec-project/nodec/internal/diag"
	"github.com/nodec-project/nodec/internal/ir"
	"github.com/stretchr/testify/require"
)

func buildAddFunc(t *testing.T) *ir.Func {
	t.Helper()
	fn := ir.NewFunc("add", ir.Prototype{
		ReturnTypes: []ir.DataType{ir.Int(64)},
		ParamTypes:  []ir.DataType{ir.Int(64), ir.Int(64)},
	})
	b := ir.NewBuilder(fn, diag.NewSink())
	x := b.Param(0)
	y := b.Param(1)
	sum := b.Add(ir.Int(64), x, y)
	b.Ret(sum)

	fn.PushAllNodes()
	fn.RunPeephole()
	fn.BuildCFG()
	fn.RunGCM(Description.Latency())
	fn.LocalSchedule()
	return fn
}

func TestSelectAllProducesTiles(t *testing.T) {
	fn := buildAddFunc(t)
	sel := NewSelector(fn)
	sel.SelectAll()

	require.NotEmpty(t, fn.Blocks)
	found := false
	for _, b := range fn.Blocks {
		tile, _ := b.FirstTile.(*Tile)
		for tile != nil {
			if tile.Op == MOpAddQ {
				found = true
			}
			tile = tile.Next
		}
	}
	require.True(t, found, "expected an ADDQ tile for the Add node")
}

func TestLinearScanAssignsDistinctRegisters(t *testing.T) {
	fn := buildAddFunc(t)
	NewSelector(fn).SelectAll()

	alloc := NewAllocator(fn).Run()
	require.NotEmpty(t, alloc.Intervals)
	for _, iv := range alloc.Intervals {
		if !iv.Spilled {
			require.GreaterOrEqual(t, iv.Reg, 0)
		}
	}
	for i, a := range alloc.Intervals {
		for _, b := range alloc.Intervals[i+1:] {
			if a.Spilled || b.Spilled || a.Class != b.Class {
				continue
			}
			if a.Start < b.End && b.Start < a.End {
				require.NotEqual(t, a.Reg, b.Reg, "overlapping intervals share a register")
			}
		}
	}
}

func TestCompileFuncEmitsNonEmptyCode(t *testing.T) {
	fn := buildAddFunc(t)
	code, alloc, relocs := CompileFunc(fn, 0, true)

	require.NotEmpty(t, code)
	require.NotNil(t, alloc)
	require.Empty(t, relocs, "a pure arithmetic function should need no relocations")

	// Frame-pointer prologue: PUSH BP; MOVQ SP, BP. With frameSize 0 there
	// is no SUBQ to follow.
	require.GreaterOrEqual(t, len(code), 5)
	require.Equal(t, byte(0x55), code[0], "expected PUSH BP")
	require.Equal(t, []byte{0x48, 0x89, 0xe5}, code[1:4], "expected MOVQ SP, BP")

	// Frame-pointer epilogue: POP BP; RET. With frameSize 0 there is no
	// preceding ADDQ.
	require.Equal(t, byte(0x5d), code[len(code)-2], "expected POP BP before RET")
	require.Equal(t, byte(0xc3), code[len(code)-1], "expected the epilogue's RET opcode as the final byte")

	// Somewhere in the body, the ADD tile must have lowered to a
	// REX.W-prefixed ADD r/m64, r64 (opcode 0x01) with a register-direct
	// ModRM byte (mod bits == 11).
	found := false
	body := code[4 : len(code)-2]
	for i := 0; i+2 < len(body); i++ {
		if body[i]&0xf0 == 0x40 && body[i+1] == 0x01 && body[i+2]&0xc0 == 0xc0 {
			found = true
			break
		}
	}
	require.True(t, found, "expected a REX-prefixed ADD opcode with a register-direct ModRM byte in %x", body)
}
