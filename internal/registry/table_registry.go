package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
	"github.com/rzpsarthak13/rpc-absorber/internal/logger"
	"github.com/rzpsarthak13/rpc-absorber/internal/table"
)

// TableMetadata describes an open table.
type TableMetadata struct {
	TableName string
	Table     *table.Proxy
	Schema    *core.Schema
	Config    InternalTableConfig
	OpenedAt  time.Time
	UpdatedAt time.Time
}

// DestroyListener is notified after the table it subscribed to is closed.
type DestroyListener func(ctx context.Context, tableName string)

type openTable struct {
	meta      TableMetadata
	listeners map[uint64]DestroyListener
}

// TableRegistry owns the tables opened on a row store. The owner closing a
// table notifies the dependents that subscribed to it.
type TableRegistry struct {
	mu         sync.RWMutex
	tables     map[string]*openTable
	nextListen uint64

	store     core.RowStore
	configMgr *ConfigManager
	lifecycle *LifecycleManager
	opts      []table.Option
	log       zerolog.Logger
}

// NewTableRegistry creates a registry opening tables on store.
func NewTableRegistry(configMgr *ConfigManager, store core.RowStore, lifecycle *LifecycleManager, opts ...table.Option) *TableRegistry {
	if lifecycle == nil {
		lifecycle = NewLifecycleManager()
	}
	return &TableRegistry{
		tables:    make(map[string]*openTable),
		store:     store,
		configMgr: configMgr,
		lifecycle: lifecycle,
		opts:      opts,
		log:       logger.Component(logger.New(), "registry"),
	}
}

// Lifecycle returns the hook manager.
func (tr *TableRegistry) Lifecycle() *LifecycleManager {
	return tr.lifecycle
}

// TableConfig converts a configuration section to a strategy selection.
func TableConfig(cfg InternalTableConfig) table.Config {
	return table.Config{
		Strategy:     table.Strategy(cfg.Strategy),
		LazyLifetime: cfg.LazyLifetime,
		DebugTarget:  table.Strategy(cfg.DebugTarget),
	}
}

// Open returns the proxy of the named table, creating it on first use.
// Initialization runs in the background; calls on the proxy wait for it.
func (tr *TableRegistry) Open(ctx context.Context, tableName string, schema *core.Schema) (*table.Proxy, error) {
	if tableName == "" {
		return nil, fmt.Errorf("table name cannot be empty")
	}
	if schema == nil {
		return nil, fmt.Errorf("schema cannot be nil")
	}
	if schema.TableName != tableName {
		return nil, fmt.Errorf("schema table name %q does not match provided table name %q", schema.TableName, tableName)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if existing, ok := tr.tables[tableName]; ok {
		return existing.meta.Table, nil
	}

	if err := tr.lifecycle.ExecuteOpenHooks(ctx, tableName, schema); err != nil {
		return nil, fmt.Errorf("open hook for %s: %w", tableName, err)
	}

	cfg := tr.configMgr.GetTableConfig(tableName)
	proxy := table.NewProxy(TableConfig(cfg), tr.store, schema, tr.opts...)
	now := time.Now()
	tr.tables[tableName] = &openTable{
		meta: TableMetadata{
			TableName: tableName,
			Table:     proxy,
			Schema:    schema,
			Config:    cfg,
			OpenedAt:  now,
			UpdatedAt: now,
		},
		listeners: make(map[uint64]DestroyListener),
	}

	go func() {
		if err := proxy.Initialize(context.WithoutCancel(ctx)); err != nil {
			tr.log.Error().Err(err).Str("table", tableName).Msg("table initialization failed")
			return
		}
		tr.log.Debug().Str("table", tableName).Str("strategy", cfg.Strategy).Msg("table ready")
	}()
	return proxy, nil
}

// Get returns the proxy of an open table.
func (tr *TableRegistry) Get(tableName string) (*table.Proxy, error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	t, ok := tr.tables[tableName]
	if !ok {
		return nil, fmt.Errorf("table %q is not open", tableName)
	}
	return t.meta.Table, nil
}

// GetMetadata returns a copy of the metadata of an open table.
func (tr *TableRegistry) GetMetadata(tableName string) (TableMetadata, error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	t, ok := tr.tables[tableName]
	if !ok {
		return TableMetadata{}, fmt.Errorf("table %q is not open", tableName)
	}
	return t.meta, nil
}

// List returns the names of the open tables, sorted.
func (tr *TableRegistry) List() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	names := make([]string, 0, len(tr.tables))
	for name := range tr.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OnDestroy subscribes fn to the closing of tableName. The returned
// function unsubscribes it.
func (tr *TableRegistry) OnDestroy(tableName string, fn DestroyListener) (unsubscribe func(), err error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	t, ok := tr.tables[tableName]
	if !ok {
		return nil, fmt.Errorf("table %q is not open", tableName)
	}
	tr.nextListen++
	id := tr.nextListen
	t.listeners[id] = fn

	return func() {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		delete(t.listeners, id)
	}, nil
}

// Reconfigure switches an open table to another strategy.
func (tr *TableRegistry) Reconfigure(ctx context.Context, tableName string, cfg InternalTableConfig) error {
	tr.mu.Lock()
	t, ok := tr.tables[tableName]
	if ok {
		t.meta.Config = cfg
		t.meta.UpdatedAt = time.Now()
	}
	tr.mu.Unlock()
	if !ok {
		return fmt.Errorf("table %q is not open", tableName)
	}
	return t.meta.Table.Reconfigure(ctx, TableConfig(cfg))
}

// Reload applies the current configuration to every open table whose
// strategy settings changed.
func (tr *TableRegistry) Reload(ctx context.Context) error {
	for _, name := range tr.List() {
		meta, err := tr.GetMetadata(name)
		if err != nil {
			continue
		}
		cfg := tr.configMgr.GetTableConfig(name)
		if cfg == meta.Config {
			continue
		}
		if err := tr.Reconfigure(ctx, name, cfg); err != nil {
			return err
		}
	}
	return nil
}

// Close destroys the table, then notifies its dependents and runs the
// close hooks.
func (tr *TableRegistry) Close(ctx context.Context, tableName string) error {
	tr.mu.Lock()
	t, ok := tr.tables[tableName]
	delete(tr.tables, tableName)
	var listeners []DestroyListener
	if ok {
		ids := make([]uint64, 0, len(t.listeners))
		for id := range t.listeners {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			listeners = append(listeners, t.listeners[id])
		}
		t.listeners = nil
	}
	tr.mu.Unlock()
	if !ok {
		return fmt.Errorf("table %q is not open", tableName)
	}

	if err := t.meta.Table.Destroy(ctx); err != nil {
		return fmt.Errorf("failed to destroy %s: %w", tableName, err)
	}
	for _, fn := range listeners {
		fn(ctx, tableName)
	}
	return tr.lifecycle.ExecuteCloseHooks(ctx, tableName, t.meta.Schema)
}

// CloseAll closes every open table and returns the first error.
func (tr *TableRegistry) CloseAll(ctx context.Context) error {
	var first error
	for _, name := range tr.List() {
		if err := tr.Close(ctx, name); err != nil && first == nil {
			first = err
		}
	}
	return first
}
