package guest

import (
	"context"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

const maxGuestLogBytes = 4096

// Guest log levels accepted by env.log.
const (
	logDebug uint32 = iota
	logInfo
	logWarn
	logError
)

// instantiateHost exports env.log and env.current_time_ms. A log call that
// points outside guest memory traps the guest.
func (e *Executor) instantiateHost(ctx context.Context, r wazero.Runtime) error {
	_, err := r.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().WithFunc(e.hostLog).Export("log").
		NewFunctionBuilder().WithFunc(hostTimeMS).Export("current_time_ms").
		Instantiate(ctx)
	return err
}

func (e *Executor) hostLog(_ context.Context, m api.Module, level, ptr, length uint32) {
	if length > maxGuestLogBytes {
		length = maxGuestLogBytes
	}
	mem := m.Memory()
	if mem == nil {
		panic(ErrMissingExport)
	}
	msg, err := foreignMemory{mem: mem, boundary: "guest_log"}.Read(ptr, length)
	if err != nil {
		// wazero wraps the panic value, so the *BoundsError survives to classify
		panic(err)
	}

	fields := []zap.Field{zap.String("source", "guest"), zap.ByteString("message", msg)}
	switch level {
	case logDebug:
		e.logger.Debug("guest log", fields...)
	case logInfo:
		e.logger.Info("guest log", fields...)
	case logWarn:
		e.logger.Warn("guest log", fields...)
	default:
		e.logger.Error("guest log", fields...)
	}
}

func hostTimeMS() int64 {
	return time.Now().UnixMilli()
}
