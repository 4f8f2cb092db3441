package guest

import (
	"context"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
)

// callBudget bounds the number of guest function calls per analysis. When
// it runs out the call context is canceled and the runtime aborts the guest.
type callBudget struct {
	remaining atomic.Int64
	exhausted atomic.Bool
	cancel    context.CancelFunc
}

type budgetKey struct{}

func withBudget(ctx context.Context, limit int64, cancel context.CancelFunc) (context.Context, *callBudget) {
	b := &callBudget{cancel: cancel}
	b.remaining.Store(limit)
	return context.WithValue(ctx, budgetKey{}, b), b
}

func (b *callBudget) spend() {
	if b.remaining.Add(-1) < 0 && b.exhausted.CompareAndSwap(false, true) {
		b.cancel()
	}
}

// budgetFactory is registered at compile time; listeners find the per-call
// budget through the context.
type budgetFactory struct{}

func (budgetFactory) NewFunctionListener(api.FunctionDefinition) experimental.FunctionListener {
	return budgetListener{}
}

type budgetListener struct{}

func (budgetListener) Before(ctx context.Context, _ api.Module, _ api.FunctionDefinition, _ []uint64, _ experimental.StackIterator) {
	if b, ok := ctx.Value(budgetKey{}).(*callBudget); ok {
		b.spend()
	}
}

func (budgetListener) After(context.Context, api.Module, api.FunctionDefinition, []uint64) {}

func (budgetListener) Abort(context.Context, api.Module, api.FunctionDefinition, error) {}
