// Command nodecdemo drives the builder API to construct one function,
// optimizes and schedules it, compiles it for amd64, and prints the
// emitted bytes. It is illustrative only, not a compiler driver: spec.md's
// scope is the library core, and nothing here parses source text.
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/nodec-project/nodec/internal/backend/amd64"
	"github.com/nodec-project/nodec/internal/diag"
	"github.com/nodec-project/nodec/internal/driver"
	"github.com/nodec-project/nodec/internal/ir"
)

// buildAbsLike constructs `long abs_like(long x, long y) { return (x - y) *
// 8; }` — enough to exercise constant strength reduction, GCM, scheduling,
// and the amd64 backend end to end in one small function.
func buildAbsLike() *ir.Func {
	fn := ir.NewFunc("abs_like", ir.Prototype{
		ReturnTypes: []ir.DataType{ir.Int(64)},
		ParamTypes:  []ir.DataType{ir.Int(64), ir.Int(64)},
	})
	sink := diag.NewSink()
	b := ir.NewBuilder(fn, sink)

	x := b.Param(0)
	y := b.Param(1)
	diff := b.Sub(ir.Int(64), x, y)
	eight := b.SInt(64, 8)
	scaled := b.Mul(ir.Int(64), diff, eight)
	b.Ret(scaled)

	return fn
}

func main() {
	log, _ := zap.NewDevelopment()
	defer log.Sync()

	fn := buildAbsLike()

	fn.PushAllNodes()
	fn.RunPeephole()
	fn.BuildCFG()
	fn.RunGCM(amd64.Description.Latency())
	fn.LocalSchedule()

	cfg := driver.DefaultConfig()
	mod := driver.NewModule(cfg, log)
	mod.Declare(fn.Name, fn)

	results, err := mod.CompileAll(context.Background(), func(f *ir.Func) ([]byte, error) {
		code, _, _ := amd64.CompileFunc(f, 0, cfg.FramePointer)
		return code, nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "compile failed:", err)
		os.Exit(1)
	}

	for _, r := range results {
		fmt.Printf("%s: %d bytes\n", r.Name, len(r.Code))
		fmt.Printf("% x\n", r.Code)
	}
}
