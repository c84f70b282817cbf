// Package driver coordinates compiling a whole module's worth of functions:
// a shared symbol table guarded by one coarse lock, a bounded-concurrency
// fan-out across functions, and the module-level configuration knobs
// spec.md 6.4 names (spec.md 5).
package driver

// Config mirrors spec.md 6.4's per-module configuration surface.
type Config struct {
	FramePointer       bool
	OptimizeLevel      int
	EmitDebugLocations bool
	TLSIndexSymbol     string
	ChkstkLimit        int64

	// MaxParallelFunctions bounds the driver's cross-function concurrency
	// (spec.md 5); zero means "pick a sensible default" (see Module.CompileAll).
	MaxParallelFunctions int
}

// DefaultConfig matches the teacher's own gc.Main defaults for the handful
// of knobs this spec exposes (frame pointers on by default, optimizations
// on, debug locations on, no TLS index symbol until the caller sets one).
func DefaultConfig() Config {
	return Config{
		FramePointer:         true,
		OptimizeLevel:        1,
		EmitDebugLocations:   true,
		ChkstkLimit:          4096,
		MaxParallelFunctions: 0,
	}
}
