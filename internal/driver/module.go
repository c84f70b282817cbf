package driver

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nodec-project/nodec/internal/diag"
	"github.com/nodec-project/nodec/internal/ir"
)

// Symbol is one entry in the module-wide symbol table: a function or data
// blob other functions in the module can reference by name before it has
// necessarily been compiled itself.
type Symbol struct {
	Name     string
	Func     *ir.Func
	Resolved bool
}

// symbolTable is guarded by a single coarse lock (spec.md 5): the teacher's
// own package-level symbol table (cmd/compile/internal/gc's global `Ctxt`
// and symbol maps) has no such lock because the original compiler processes
// one package sequentially; this spec's module concurrently compiles many
// functions against a shared table, so the table itself becomes the one
// piece of mutable shared state every worker goroutine must serialize on.
type symbolTable struct {
	mu      sync.Mutex
	symbols map[string]*Symbol
}

func newSymbolTable() *symbolTable {
	return &symbolTable{symbols: make(map[string]*Symbol)}
}

func (t *symbolTable) declare(name string, fn *ir.Func) *Symbol {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &Symbol{Name: name, Func: fn}
	t.symbols[name] = s
	return s
}

func (t *symbolTable) lookup(name string) (*Symbol, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.symbols[name]
	return s, ok
}

func (t *symbolTable) markResolved(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.symbols[name]; ok {
		s.Resolved = true
	}
}

// CompileResult is one function's compiled output, produced by the
// CompileFunc callback supplied to Module.CompileAll.
type CompileResult struct {
	Name  string
	Code  []byte
	Diags []*diag.Diagnostic
}

// CompileFunc compiles a single *ir.Func to machine code; internal/backend/amd64's
// CompileFunc (wrapped to this signature) is the production
// implementation, kept out of this package to avoid driver depending on a
// specific target backend.
type CompileFunc func(fn *ir.Func) ([]byte, error)

// Module is one compilation unit: the shared symbol table, its functions,
// and the configuration governing how they're compiled (spec.md 5, 6.4).
type Module struct {
	ID     string
	Config Config
	Log    *zap.Logger

	symtab *symbolTable
	funcs  []*ir.Func
}

// NewModule creates a module with a fresh correlation id (spec.md 5's
// "module instance"), grounded on the ambient-stack decision in
// SPEC_FULL.md §A to tag concurrent work with a uuid the way the other
// retrieved service-shaped repos correlate a request's logs.
func NewModule(cfg Config, log *zap.Logger) *Module {
	if log == nil {
		log = zap.NewNop()
	}
	id := uuid.NewString()
	return &Module{
		ID:     id,
		Config: cfg,
		Log:    log.With(zap.String("module_id", id)),
		symtab: newSymbolTable(),
	}
}

// Declare registers fn under name in the module's shared symbol table.
func (m *Module) Declare(name string, fn *ir.Func) {
	m.symtab.declare(name, fn)
	m.funcs = append(m.funcs, fn)
}

// Lookup resolves a previously declared symbol, for cross-function
// reference resolution (e.g. a Call node's target).
func (m *Module) Lookup(name string) (*Symbol, bool) {
	return m.symtab.lookup(name)
}

// CompileAll compiles every declared function, bounding concurrency to
// Config.MaxParallelFunctions (falling back to defaultParallelism's fixed
// limit of 8 when zero), grounded on the
// ambient-stack decision (SPEC_FULL.md §A) to use
// golang.org/x/sync/errgroup + semaphore for bounded fan-out rather than a
// hand-rolled worker-pool channel, matching how the rest of the retrieval
// pack's service-shaped repos bound concurrent work.
func (m *Module) CompileAll(ctx context.Context, compile CompileFunc) ([]CompileResult, error) {
	limit := m.Config.MaxParallelFunctions
	if limit <= 0 {
		limit = defaultParallelism()
	}

	sem := semaphore.NewWeighted(int64(limit))
	g, gctx := errgroup.WithContext(ctx)

	results := make([]CompileResult, len(m.funcs))
	for i, fn := range m.funcs {
		i, fn := i, fn
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			log := m.Log.With(zap.String("function", fn.Name))
			log.Debug("compiling function")
			code, err := compile(fn)
			if err != nil {
				log.Error("compile failed", zap.Error(err))
				return errors.Wrapf(err, "compiling function %q", fn.Name)
			}
			m.symtab.markResolved(fn.Name)
			results[i] = CompileResult{Name: fn.Name, Code: code}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func defaultParallelism() int {
	return 8
}
