package driver

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nodec-project/nodec/internal/ir"
	"github.com/stretchr/testify/require"
)

func newFunc(name string) *ir.Func {
	return ir.NewFunc(name, ir.Prototype{ReturnTypes: []ir.DataType{ir.Int(32)}})
}

func TestCompileAllRunsEveryFunction(t *testing.T) {
	m := NewModule(DefaultConfig(), nil)
	m.Declare("a", newFunc("a"))
	m.Declare("b", newFunc("b"))
	m.Declare("c", newFunc("c"))

	results, err := m.CompileAll(context.Background(), func(fn *ir.Func) ([]byte, error) {
		return []byte(fn.Name), nil
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	sym, ok := m.Lookup("a")
	require.True(t, ok)
	require.True(t, sym.Resolved)
}

func TestCompileAllPropagatesFirstError(t *testing.T) {
	m := NewModule(DefaultConfig(), nil)
	m.Declare("bad", newFunc("bad"))

	_, err := m.CompileAll(context.Background(), func(fn *ir.Func) ([]byte, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)
}

func TestCompileAllRespectsParallelismLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxParallelFunctions = 2
	m := NewModule(cfg, nil)
	for i := 0; i < 5; i++ {
		m.Declare(string(rune('a'+i)), newFunc(string(rune('a'+i))))
	}
	var inFlight, maxInFlight int32
	results, err := m.CompileAll(context.Background(), func(fn *ir.Func) ([]byte, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&maxInFlight)
			if cur <= old || atomic.CompareAndSwapInt32(&maxInFlight, old, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return []byte{1}, nil
	})
	require.NoError(t, err)
	require.Len(t, results, 5)
	require.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(2))
}
