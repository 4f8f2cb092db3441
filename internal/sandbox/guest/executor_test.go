package guest

import (
	"context"
	"testing"
	"time"

	"github.com/GriffinCanCode/sentinel/internal/sandbox/guest/wasmtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var (
	i32   = wasmtest.I32
	one   = []wasmtest.ValType{i32}
	two   = []wasmtest.ValType{i32, i32}
	three = []wasmtest.ValType{i32, i32, i32}
)

const recordOffset = 64

// analysisModule builds a one-page module whose allocate returns allocPtr
// and whose analyze runs analyzeBody.
func analysisModule(allocPtr int32, analyzeBody []byte, record []byte) *wasmtest.Module {
	m := wasmtest.New().
		Memory(ExportMemory, 1).
		Func(ExportAllocate, one, one, wasmtest.I32Const(allocPtr)...).
		Func(ExportAnalyze, two, one, analyzeBody...).
		Func(ExportDeallocate, two, nil)
	if record != nil {
		m.Data(recordOffset, record)
	}
	return m
}

func returnRecord() []byte {
	return wasmtest.I32Const(recordOffset)
}

func newExecutor(t *testing.T, cfg Config, wasm []byte) *Executor {
	t.Helper()
	ctx := context.Background()
	e := New(ctx, cfg, zap.NewNop())
	t.Cleanup(func() { _ = e.Close(ctx) })
	if wasm != nil {
		require.NoError(t, e.LoadModule(ctx, wasm))
	}
	return e
}

func TestExecuteGuestResult(t *testing.T) {
	rec := EncodeRecord(0.9, 0.8, 42, 150, ErrorCodeOK)
	e := newExecutor(t, DefaultConfig(), analysisModule(1024, returnRecord(), rec).Bytes())

	res := e.Execute(context.Background(), []byte("hello sample"), "sample.bin")

	assert.False(t, res.Fallback)
	assert.False(t, res.TimedOut)
	assert.Equal(t, float32(0.9), res.YaraLikeScore)
	assert.Equal(t, float32(0.8), res.MLLikeScore)
	assert.Equal(t, uint32(42), res.DetectedPatternCount)
	assert.Equal(t, uint64(150), res.ExecutionTimeUS)
	assert.Len(t, res.TriggeredRules, 2)

	stats := e.Stats()
	assert.Equal(t, uint64(1), stats.TotalExecutions)
	assert.Equal(t, uint64(1), stats.GuestExecutions)
}

func TestExecuteFreshInstancePerFile(t *testing.T) {
	rec := EncodeRecord(0.1, 0.2, 1, 10, ErrorCodeOK)
	e := newExecutor(t, DefaultConfig(), analysisModule(1024, returnRecord(), rec).Bytes())

	for i := 0; i < 5; i++ {
		res := e.Execute(context.Background(), []byte("x"), "x")
		require.False(t, res.Fallback, res.FallbackReason)
	}
	assert.Equal(t, uint64(5), e.Stats().GuestExecutions)
}

func TestExecuteGuestTimeoutCode(t *testing.T) {
	rec := EncodeRecord(0.4, 0.4, 3, 900, ErrorCodeTimeout)
	e := newExecutor(t, DefaultConfig(), analysisModule(1024, returnRecord(), rec).Bytes())

	res := e.Execute(context.Background(), []byte("data"), "f")
	assert.False(t, res.Fallback)
	assert.True(t, res.TimedOut)
}

func TestExecuteClampsScores(t *testing.T) {
	rec := EncodeRecord(3.5, -1, 0, 1, ErrorCodeOK)
	e := newExecutor(t, DefaultConfig(), analysisModule(1024, returnRecord(), rec).Bytes())

	res := e.Execute(context.Background(), []byte("data"), "f")
	assert.Equal(t, float32(1), res.YaraLikeScore)
	assert.Equal(t, float32(0), res.MLLikeScore)
}

func TestLoadModuleMissingExports(t *testing.T) {
	ctx := context.Background()
	e := New(ctx, DefaultConfig(), zap.NewNop())
	defer e.Close(ctx)

	err := e.LoadModule(ctx, wasmtest.New().Bytes())
	assert.ErrorIs(t, err, ErrMissingExport)
	assert.False(t, e.Loaded())

	noMemory := wasmtest.New().
		Func(ExportAllocate, one, one, wasmtest.I32Const(0)...).
		Func(ExportAnalyze, two, one, wasmtest.I32Const(0)...)
	err = e.LoadModule(ctx, noMemory.Bytes())
	assert.ErrorIs(t, err, ErrMissingExport)
}

func TestExecuteFallback(t *testing.T) {
	tests := []struct {
		name      string
		cfg       func(*Config)
		wasm      []byte
		data      []byte
		timedOut  bool
		violation bool
	}{
		{
			name: "no module",
			data: nil,
		},
		{
			name:      "input past end of memory",
			wasm:      analysisModule(65500, returnRecord(), nil).Bytes(),
			data:      make([]byte, 100),
			violation: true,
		},
		{
			name:      "input larger than memory",
			wasm:      analysisModule(0, returnRecord(), nil).Bytes(),
			data:      make([]byte, 70_000),
			violation: true,
		},
		{
			name:      "result record out of bounds",
			wasm:      analysisModule(1024, wasmtest.I32Const(65530), nil).Bytes(),
			data:      []byte("abc"),
			violation: true,
		},
		{
			name: "guest trap",
			wasm: analysisModule(1024, []byte{wasmtest.OpUnreachable}, nil).Bytes(),
			data: []byte("abc"),
		},
		{
			name: "deadline",
			cfg: func(c *Config) {
				c.Timeout = 50 * time.Millisecond
				c.CallBudget = 0
			},
			wasm: analysisModule(1024, wasmtest.Concat(
				[]byte{wasmtest.OpLoop, wasmtest.OpBlockVoid, wasmtest.OpBr, 0x00, wasmtest.OpEnd},
				wasmtest.I32Const(0),
			), nil).Bytes(),
			data:     []byte("abc"),
			timedOut: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			e := newExecutor(t, cfg, tt.wasm)

			res := e.Execute(context.Background(), tt.data, "sample")

			assert.True(t, res.Fallback)
			assert.NotEmpty(t, res.FallbackReason)
			assert.Equal(t, tt.timedOut, res.TimedOut)
			assert.GreaterOrEqual(t, res.YaraLikeScore, float32(0))
			assert.LessOrEqual(t, res.MLLikeScore, float32(1))

			stats := e.Stats()
			assert.Equal(t, uint64(1), stats.Fallbacks)
			if tt.violation {
				assert.Equal(t, uint64(1), stats.BoundaryViolations)
			} else {
				assert.Zero(t, stats.BoundaryViolations)
			}
		})
	}
}

func TestExecuteCallBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 10 * time.Second
	cfg.CallBudget = 100

	m := wasmtest.New().
		Memory(ExportMemory, 1).
		Func(ExportAllocate, one, one, wasmtest.I32Const(1024)...).
		Func("", nil, nil)
	helper := m.FuncIndex(1)
	m.Func(ExportAnalyze, two, one, wasmtest.Concat(
		[]byte{wasmtest.OpLoop, wasmtest.OpBlockVoid},
		wasmtest.Call(helper),
		[]byte{wasmtest.OpBr, 0x00, wasmtest.OpEnd},
		wasmtest.I32Const(0),
	)...)

	e := newExecutor(t, cfg, m.Bytes())
	start := time.Now()
	res := e.Execute(context.Background(), []byte("loop"), "loop")

	assert.True(t, res.Fallback)
	assert.True(t, res.TimedOut)
	assert.Contains(t, res.FallbackReason, "call budget")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestHostLog(t *testing.T) {
	build := func(ptr int32) []byte {
		m := wasmtest.New().
			Import(HostModule, "log", three, nil).
			Memory(ExportMemory, 1).
			Func(ExportAllocate, one, one, wasmtest.I32Const(1024)...).
			Func(ExportAnalyze, two, one, wasmtest.Concat(
				wasmtest.I32Const(int32(logInfo)),
				wasmtest.I32Const(ptr),
				wasmtest.I32Const(8),
				wasmtest.Call(0),
				returnRecord(),
			)...).
			Data(recordOffset, EncodeRecord(0.2, 0.2, 0, 5, ErrorCodeOK))
		return m.Bytes()
	}

	t.Run("in bounds", func(t *testing.T) {
		e := newExecutor(t, DefaultConfig(), build(recordOffset))
		res := e.Execute(context.Background(), []byte("abc"), "f")
		assert.False(t, res.Fallback, res.FallbackReason)
	})

	t.Run("out of bounds traps", func(t *testing.T) {
		e := newExecutor(t, DefaultConfig(), build(1_000_000))
		res := e.Execute(context.Background(), []byte("abc"), "f")
		assert.True(t, res.Fallback)
		assert.Equal(t, "guest_log", res.BoundaryViolation)
		assert.Equal(t, uint64(1), e.Stats().BoundaryViolations)
	})
}

func TestLoadModuleWarnsWithoutDeallocate(t *testing.T) {
	tests := []struct {
		name  string
		free  bool
		warns int
	}{
		{"with deallocate", true, 0},
		{"without deallocate", false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := wasmtest.New().
				Memory(ExportMemory, 1).
				Func(ExportAllocate, one, one, wasmtest.I32Const(1024)...).
				Func(ExportAnalyze, two, one, returnRecord()...)
			if tt.free {
				m.Func(ExportDeallocate, two, nil)
			}

			core, logs := observer.New(zap.WarnLevel)
			ctx := context.Background()
			e := New(ctx, DefaultConfig(), zap.New(core))
			defer e.Close(ctx)

			require.NoError(t, e.LoadModule(ctx, m.Bytes()))
			assert.Equal(t, tt.warns, logs.FilterMessageSnippet("deallocate").Len())
		})
	}
}

func TestEmptyInputNoExportModule(t *testing.T) {
	ctx := context.Background()
	e := New(ctx, DefaultConfig(), zap.NewNop())
	defer e.Close(ctx)
	require.Error(t, e.LoadModule(ctx, []byte("\x00asm\x01\x00\x00\x00")))

	res := e.Execute(ctx, nil, "empty")
	assert.True(t, res.Fallback)
	assert.Equal(t, float32(0), res.YaraLikeScore)
	assert.InDelta(t, 0.25, res.MLLikeScore, 1e-6)
}
