package guest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/sentinel/internal/analysis"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"
)

// Executor runs the Tier 1 analysis module inside a wazero runtime. Every
// file gets a fresh module instance, so no guest state survives between
// analyses. Execute is safe for concurrent use.
type Executor struct {
	config  Config
	logger  *zap.Logger
	runtime wazero.Runtime

	mu      sync.RWMutex
	module  wazero.CompiledModule
	hasFree bool

	seq atomic.Uint64

	statsMu sync.Mutex
	stats   Statistics
}

// New creates an executor. It never fails: if the runtime cannot be set up
// every Execute call uses the host fallback.
func New(ctx context.Context, config Config, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{config: config, logger: logger}

	rc := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(config.memoryLimitPages()).
		WithCloseOnContextDone(true)
	r := wazero.NewRuntimeWithConfig(ctx, rc)

	// WASI preview1 for modules built against it. Instances get no
	// filesystem, args or stdio, so these imports are inert.
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		logger.Error("Failed to instantiate WASI", zap.Error(err))
		_ = r.Close(ctx)
		return e
	}
	if err := e.instantiateHost(ctx, r); err != nil {
		logger.Error("Failed to register guest host functions", zap.Error(err))
		_ = r.Close(ctx)
		return e
	}
	e.runtime = r
	return e
}

// LoadModuleFile reads and compiles the module at path.
func (e *Executor) LoadModuleFile(ctx context.Context, path string) error {
	wasm, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read guest module: %w", err)
	}
	return e.LoadModule(ctx, wasm)
}

// LoadModule compiles wasm and verifies its exports. On error the
// previously loaded module, if any, stays active.
func (e *Executor) LoadModule(ctx context.Context, wasm []byte) error {
	if e.runtime == nil {
		return ErrNoRuntime
	}

	compileCtx := ctx
	if e.config.CallBudget > 0 {
		compileCtx = experimental.WithFunctionListenerFactory(ctx, budgetFactory{})
	}
	compiled, err := e.runtime.CompileModule(compileCtx, wasm)
	if err != nil {
		return fmt.Errorf("compile guest module: %w", err)
	}

	funcs := compiled.ExportedFunctions()
	for _, name := range []string{ExportAllocate, ExportAnalyze} {
		if _, ok := funcs[name]; !ok {
			_ = compiled.Close(ctx)
			return fmt.Errorf("%w: %s", ErrMissingExport, name)
		}
	}
	if _, ok := compiled.ExportedMemories()[ExportMemory]; !ok {
		_ = compiled.Close(ctx)
		return fmt.Errorf("%w: %s", ErrMissingExport, ExportMemory)
	}
	_, hasFree := funcs[ExportDeallocate]

	e.mu.Lock()
	old := e.module
	e.module, e.hasFree = compiled, hasFree
	e.mu.Unlock()
	if old != nil {
		_ = old.Close(ctx)
	}

	if !hasFree {
		e.logger.Warn("Guest module exports no deallocate; allocations live until the instance closes",
			zap.String("export", ExportDeallocate))
	}
	e.logger.Info("Guest analysis module loaded",
		zap.Int("size", len(wasm)),
		zap.Bool("deallocate", hasFree))
	return nil
}

// Loaded reports whether an analysis module is ready.
func (e *Executor) Loaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.module != nil
}

// Execute analyzes data. It never fails and never panics: any problem with
// the runtime, the module or the guest's behavior yields a host fallback
// result with Fallback set.
func (e *Executor) Execute(ctx context.Context, data []byte, filename string) (res analysis.GuestResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Guest execution panicked", zap.Any("panic", r), zap.String("filename", filename))
			res = fallbackAnalysis(data, fmt.Sprintf("guest execution panicked: %v", r))
		}
		res.Elapsed = time.Since(start)
		if res.ExecutionTimeUS == 0 {
			res.ExecutionTimeUS = uint64(res.Elapsed.Microseconds())
		}
		e.record(res)
	}()

	res, err := e.executeGuest(ctx, data)
	if err == nil {
		return res
	}

	res = fallbackAnalysis(data, err.Error())
	if errors.Is(err, errDeadline) {
		res.TimedOut = true
	}
	var be *BoundsError
	if errors.As(err, &be) {
		res.BoundaryViolation = be.Boundary
		e.boundaryViolation(be)
	} else {
		e.logger.Debug("Guest analysis fell back to host heuristics",
			zap.String("filename", filename),
			zap.Error(err))
	}
	return res
}

func (e *Executor) executeGuest(ctx context.Context, data []byte) (analysis.GuestResult, error) {
	if e.runtime == nil {
		return analysis.GuestResult{}, ErrNoRuntime
	}
	e.mu.RLock()
	compiled, hasFree := e.module, e.hasFree
	e.mu.RUnlock()
	if compiled == nil {
		return analysis.GuestResult{}, ErrNoModule
	}
	if uint64(len(data)) > math.MaxInt32 {
		return analysis.GuestResult{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	// Setup deadline and optional call budget
	timeout := e.config.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var budget *callBudget
	if e.config.CallBudget > 0 {
		callCtx, budget = withBudget(callCtx, e.config.CallBudget, cancel)
	}

	// Fresh instance per file
	name := fmt.Sprintf("analysis-%d", e.seq.Add(1))
	inst, err := e.runtime.InstantiateModule(callCtx, compiled,
		wazero.NewModuleConfig().WithName(name).WithStartFunctions("_initialize"))
	if err != nil {
		return analysis.GuestResult{}, e.classify(err, budget, "instantiate")
	}
	defer inst.Close(context.Background())

	alloc := inst.ExportedFunction(ExportAllocate)
	analyze := inst.ExportedFunction(ExportAnalyze)
	mem := inst.ExportedMemory(ExportMemory)
	if alloc == nil || analyze == nil || mem == nil {
		return analysis.GuestResult{}, ErrMissingExport
	}
	var free api.Function
	if hasFree {
		free = inst.ExportedFunction(ExportDeallocate)
	}

	size := uint32(len(data))
	out, err := alloc.Call(callCtx, api.EncodeU32(size))
	if err != nil {
		return analysis.GuestResult{}, e.classify(err, budget, ExportAllocate)
	}
	if len(out) != 1 {
		return analysis.GuestResult{}, fmt.Errorf("%w: allocate returned %d values", ErrBadResult, len(out))
	}
	ptr := api.DecodeU32(out[0])
	if free != nil {
		defer e.release(callCtx, free, ptr, size)
	}

	if err := (foreignMemory{mem: mem, boundary: "guest_input"}).Write(ptr, data); err != nil {
		return analysis.GuestResult{}, err
	}

	out, err = analyze.Call(callCtx, api.EncodeU32(ptr), api.EncodeU32(size))
	if err != nil {
		return analysis.GuestResult{}, e.classify(err, budget, ExportAnalyze)
	}
	if len(out) != 1 {
		return analysis.GuestResult{}, fmt.Errorf("%w: analyze returned %d values", ErrBadResult, len(out))
	}
	resPtr := api.DecodeU32(out[0])
	if free != nil {
		defer e.release(callCtx, free, resPtr, ResultRecordSize)
	}

	raw, err := foreignMemory{mem: mem, boundary: "guest_result"}.Read(resPtr, ResultRecordSize)
	if err != nil {
		return analysis.GuestResult{}, err
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return analysis.GuestResult{}, err
	}
	return rec.toResult(), nil
}

// release returns a guest allocation. Failures are logged only.
func (e *Executor) release(ctx context.Context, free api.Function, ptr, size uint32) {
	if _, err := free.Call(ctx, api.EncodeU32(ptr), api.EncodeU32(size)); err != nil {
		e.logger.Debug("Guest deallocate failed", zap.Uint32("ptr", ptr), zap.Error(err))
	}
}

// classify maps a guest trap to a fallback reason.
func (e *Executor) classify(err error, budget *callBudget, stage string) error {
	if budget != nil && budget.exhausted.Load() {
		return fmt.Errorf("%w: call budget exhausted during %s", errDeadline, stage)
	}
	var exit *sys.ExitError
	if errors.As(err, &exit) {
		switch exit.ExitCode() {
		case sys.ExitCodeDeadlineExceeded, sys.ExitCodeContextCanceled:
			return fmt.Errorf("%w: during %s", errDeadline, stage)
		}
	}
	var be *BoundsError
	if errors.As(err, &be) {
		return be
	}
	return fmt.Errorf("guest trap during %s: %w", stage, err)
}

func (e *Executor) boundaryViolation(err error) {
	var be *BoundsError
	if !errors.As(err, &be) {
		return
	}
	e.statsMu.Lock()
	e.stats.BoundaryViolations++
	e.statsMu.Unlock()
	e.logger.Error("Guest memory boundary violation",
		zap.Bool("security_event", true),
		zap.String("boundary", be.Boundary),
		zap.Uint64("offset", be.Offset),
		zap.Uint64("length", be.Length),
		zap.Uint64("memory_size", be.Size))
}

func (e *Executor) record(res analysis.GuestResult) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	s := &e.stats
	s.TotalExecutions++
	if res.Fallback {
		s.Fallbacks++
	} else {
		s.GuestExecutions++
	}
	if res.TimedOut {
		s.Timeouts++
	}
	n := time.Duration(s.TotalExecutions)
	s.AverageExecutionTime = (s.AverageExecutionTime*(n-1) + res.Elapsed) / n
	if res.Elapsed > s.MaxExecutionTime {
		s.MaxExecutionTime = res.Elapsed
	}
}

// Stats returns a snapshot of executor statistics.
func (e *Executor) Stats() Statistics {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// Close releases the runtime and any compiled module.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	e.module = nil
	e.mu.Unlock()
	if e.runtime == nil {
		return nil
	}
	return e.runtime.Close(ctx)
}
