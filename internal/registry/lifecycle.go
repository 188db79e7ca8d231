package registry

import (
	"context"
	"sync"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
)

// LifecycleHook runs when a table is opened or closed through the
// registry. Hooks run synchronously in registration order.
type LifecycleHook interface {
	// OnOpen runs before the table starts initializing. An error aborts
	// the open.
	OnOpen(ctx context.Context, tableName string, schema *core.Schema) error

	// OnClose runs after the table has been destroyed.
	OnClose(ctx context.Context, tableName string, schema *core.Schema) error
}

// LifecycleHookFunc adapts plain functions to LifecycleHook.
type LifecycleHookFunc struct {
	OnOpenFunc  func(ctx context.Context, tableName string, schema *core.Schema) error
	OnCloseFunc func(ctx context.Context, tableName string, schema *core.Schema) error
}

func (f LifecycleHookFunc) OnOpen(ctx context.Context, tableName string, schema *core.Schema) error {
	if f.OnOpenFunc != nil {
		return f.OnOpenFunc(ctx, tableName, schema)
	}
	return nil
}

func (f LifecycleHookFunc) OnClose(ctx context.Context, tableName string, schema *core.Schema) error {
	if f.OnCloseFunc != nil {
		return f.OnCloseFunc(ctx, tableName, schema)
	}
	return nil
}

type registeredHook struct {
	id   uint64
	hook LifecycleHook
}

// LifecycleManager keeps the registered hooks.
type LifecycleManager struct {
	mu     sync.RWMutex
	nextID uint64
	hooks  []registeredHook
}

func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{}
}

// RegisterHook adds a hook and returns the function removing it. Calling
// the returned function more than once is harmless.
func (lm *LifecycleManager) RegisterHook(hook LifecycleHook) (unregister func()) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.nextID++
	id := lm.nextID
	lm.hooks = append(lm.hooks, registeredHook{id: id, hook: hook})

	return func() {
		lm.mu.Lock()
		defer lm.mu.Unlock()
		for i, h := range lm.hooks {
			if h.id == id {
				lm.hooks = append(lm.hooks[:i], lm.hooks[i+1:]...)
				return
			}
		}
	}
}

func (lm *LifecycleManager) snapshot() []LifecycleHook {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	hooks := make([]LifecycleHook, len(lm.hooks))
	for i, h := range lm.hooks {
		hooks[i] = h.hook
	}
	return hooks
}

// ExecuteOpenHooks runs every OnOpen hook, stopping at the first error.
func (lm *LifecycleManager) ExecuteOpenHooks(ctx context.Context, tableName string, schema *core.Schema) error {
	for _, hook := range lm.snapshot() {
		if err := hook.OnOpen(ctx, tableName, schema); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteCloseHooks runs every OnClose hook, stopping at the first error.
func (lm *LifecycleManager) ExecuteCloseHooks(ctx context.Context, tableName string, schema *core.Schema) error {
	for _, hook := range lm.snapshot() {
		if err := hook.OnClose(ctx, tableName, schema); err != nil {
			return err
		}
	}
	return nil
}

// HookCount returns the number of registered hooks.
func (lm *LifecycleManager) HookCount() int {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return len(lm.hooks)
}
