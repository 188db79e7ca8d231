package rpcabsorber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
	"github.com/rzpsarthak13/rpc-absorber/internal/database"
	"github.com/rzpsarthak13/rpc-absorber/internal/events"
	"github.com/rzpsarthak13/rpc-absorber/internal/kvstore"
	"github.com/rzpsarthak13/rpc-absorber/internal/logger"
	"github.com/rzpsarthak13/rpc-absorber/internal/registry"
	"github.com/rzpsarthak13/rpc-absorber/internal/transport"
	"github.com/rzpsarthak13/rpc-absorber/internal/ws"
)

type (
	Record     = core.Record
	Conditions = core.Conditions
	Query      = core.Query
	Schema     = core.Schema
	Column     = core.Column
	Table      = core.Table
	Event      = core.Event
	EventType  = core.EventType
	Handler    = events.Handler

	Orchestrator = ws.Orchestrator
	Directives   = ws.Directives
	Dispatcher   = events.Dispatcher
)

// Client ties the local tables, the call orchestrator and the notification
// dispatcher to one configuration.
//
// Typical usage:
//
//	client, _ := rpcabsorber.NewClient(rpcabsorber.DefaultConfig())
//	defer client.Close()
//
//	client.Subscribe(core.EventSessionExpired, relogin)
//	client.Start(ctx) // deliver notifications in the background
//	defer client.Stop()
//
//	info, err := client.WS().Read(ctx, "core_webservice_get_site_info", nil)
type Client interface {
	// Table opens a table on the local store with the strategy configured
	// for it. Calls may be issued at once; they wait for initialization.
	Table(ctx context.Context, name string, schema *Schema) (Table, error)

	// CloseTable destroys an open table and notifies its dependents.
	CloseTable(ctx context.Context, name string) error

	// ListTables and DescribeTable inspect SQL stores.
	ListTables(ctx context.Context) ([]string, error)
	DescribeTable(ctx context.Context, name string) (*Schema, error)

	// WS returns the call orchestrator.
	WS() *Orchestrator

	// Events returns the notification dispatcher.
	Events() *Dispatcher

	// SetOnline and SetMetered report connectivity changes.
	SetOnline(online bool)
	SetMetered(metered bool)

	// Subscribe registers a handler for a notification type.
	Subscribe(t EventType, h Handler) (unsubscribe func())

	// Start begins delivering notifications in the background.
	Start(ctx context.Context) error

	// Stop stops delivering notifications.
	Stop() error

	// IsRunning reports whether notifications are being delivered.
	IsRunning() bool

	// Close flushes pending calls and releases every resource. It also
	// stops delivery.
	Close() error
}

// ClientOption customizes NewClient.
type ClientOption func(*clientOptions)

type clientOptions struct {
	transport core.Transport
	store     core.RowStore
	wsOpts    []ws.OrchestratorOption
}

// WithTransport replaces the HTTP transport, e.g. with a test double.
func WithTransport(tr core.Transport) ClientOption {
	return func(o *clientOptions) { o.transport = tr }
}

// WithRowStore uses store instead of opening the configured one. The
// client closes it.
func WithRowStore(store core.RowStore) ClientOption {
	return func(o *clientOptions) { o.store = store }
}

// WithOrchestratorOptions passes options to the call orchestrator.
func WithOrchestratorOptions(opts ...ws.OrchestratorOption) ClientOption {
	return func(o *clientOptions) { o.wsOpts = append(o.wsOpts, opts...) }
}

type client struct {
	mu      sync.Mutex
	started bool
	closed  bool

	configMgr  *registry.ConfigManager
	kv         core.KVStore
	kvInStore  bool
	store      core.RowStore
	tables     *registry.TableRegistry
	queue      core.EventQueue
	dispatcher *events.Dispatcher
	network    *ws.StaticNetwork
	ws         *ws.Orchestrator
	log        zerolog.Logger
}

// NewClient validates cfg and opens everything it configures: the row
// store (migrating SQL stores), the KV store when one is needed, the event
// queue, the HTTP transport and the call orchestrator.
func NewClient(cfg *Config, opts ...ClientOption) (Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	mgr, err := cfg.manager()
	if err != nil {
		return nil, err
	}
	in := mgr.GetConfig()

	c := &client{
		configMgr: mgr,
		log:       logger.Component(logger.New(), "client"),
	}
	ok := false
	defer func() {
		if !ok {
			c.release()
		}
	}()

	if in.Store.Type == "kv" || in.Events.QueueType == "redis" {
		c.kv, err = kvstore.Create(kvstore.ConfigFromInternal(in.KVStore))
		if err != nil {
			return nil, fmt.Errorf("failed to create KV store: %w", err)
		}
	}

	switch {
	case o.store != nil:
		c.store = o.store
	case in.Store.Type == "kv":
		c.store = database.NewKVRowStore(c.kv, in.Store.Namespace)
		c.kvInStore = true
	default:
		c.store, err = database.Open(in)
		if err != nil {
			return nil, err
		}
	}
	c.tables = registry.NewTableRegistry(mgr, c.store, registry.NewLifecycleManager())

	c.queue, err = events.NewQueue(in.Events, c.kv)
	if err != nil {
		return nil, fmt.Errorf("failed to create event queue: %w", err)
	}
	c.dispatcher = events.NewDispatcher(c.queue, events.DispatcherConfigFromInternal(in.Events))

	tr := o.transport
	switch {
	case tr != nil:
	case in.WS.BaseURL == "":
		c.log.Warn().Msg("no ws.base_url configured, remote calls will fail as offline")
		tr = offlineTransport{}
	default:
		tr = transport.NewHTTPTransport(in.WS.BaseURL, in.WS.Token, in.WS.Timeout, nil)
	}

	c.network = ws.NewStaticNetwork(true, in.WS.Metered)
	wsOpts := append([]ws.OrchestratorOption{
		ws.WithNetwork(c.network),
		ws.WithNotifier(events.NewNotifier(c.queue, nil)),
	}, o.wsOpts...)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c.ws, err = ws.New(ctx, ws.ConfigFromInternal(in.WS), tr, c.store, wsOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	ok = true
	c.log.Info().Str("store", in.Store.Type).Str("events", in.Events.QueueType).Str("site", in.WS.SiteID).Msg("client ready")
	return c, nil
}

func (c *client) Table(ctx context.Context, name string, schema *Schema) (Table, error) {
	if c.isClosed() {
		return nil, core.ErrClosed
	}
	t, err := c.tables.Open(ctx, name, schema)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (c *client) CloseTable(ctx context.Context, name string) error {
	return c.tables.Close(ctx, name)
}

// describer is implemented by stores that can read their own catalog.
type describer interface {
	ListTables(ctx context.Context) ([]string, error)
	DescribeTable(ctx context.Context, table string) (*core.Schema, error)
}

func (c *client) ListTables(ctx context.Context) ([]string, error) {
	d, ok := c.store.(describer)
	if !ok {
		return nil, fmt.Errorf("store %T cannot list its tables", c.store)
	}
	return d.ListTables(ctx)
}

func (c *client) DescribeTable(ctx context.Context, name string) (*Schema, error) {
	d, ok := c.store.(describer)
	if !ok {
		return nil, fmt.Errorf("store %T cannot describe its tables", c.store)
	}
	return d.DescribeTable(ctx, name)
}

func (c *client) WS() *Orchestrator {
	return c.ws
}

func (c *client) Events() *Dispatcher {
	return c.dispatcher
}

func (c *client) SetOnline(online bool) {
	c.network.SetOnline(online)
}

func (c *client) SetMetered(metered bool) {
	c.network.SetMetered(metered)
}

func (c *client) Subscribe(t EventType, h Handler) (unsubscribe func()) {
	return c.dispatcher.Subscribe(t, h)
}

func (c *client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrClosed
	}
	if c.started {
		return nil
	}
	if err := c.dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	c.started = true
	return nil
}

func (c *client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	if err := c.dispatcher.Stop(); err != nil {
		return fmt.Errorf("failed to stop dispatcher: %w", err)
	}
	c.started = false
	return nil
}

func (c *client) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func (c *client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *client) Close() error {
	if err := c.Stop(); err != nil {
		c.log.Warn().Err(err).Msg("error stopping dispatcher")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	return c.release()
}

// release closes whatever was opened, in reverse order.
func (c *client) release() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error
	if c.ws != nil {
		errs = append(errs, c.ws.Close(ctx))
	}
	if c.tables != nil {
		errs = append(errs, c.tables.CloseAll(ctx))
	}
	if c.queue != nil {
		errs = append(errs, c.queue.Close())
	}
	if c.store != nil {
		errs = append(errs, c.store.Close())
	}
	// the kv row store closes the backend itself
	if c.kv != nil && !c.kvInStore {
		errs = append(errs, c.kv.Close())
	}
	return errors.Join(errs...)
}

// offlineTransport serves clients configured without a site.
type offlineTransport struct{}

func (offlineTransport) Call(_ context.Context, method string, _ any, _ core.Settings) (json.RawMessage, error) {
	return nil, fmt.Errorf("cannot call %s without a site: %w", method, core.ErrOffline)
}

func (offlineTransport) CallMulti(_ context.Context, _ []core.MultiCall, _ core.Settings) ([]core.Slot, error) {
	return nil, fmt.Errorf("cannot call without a site: %w", core.ErrOffline)
}
