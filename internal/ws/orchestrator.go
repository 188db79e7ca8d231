package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
	"github.com/rzpsarthak13/rpc-absorber/internal/logger"
	"github.com/rzpsarthak13/rpc-absorber/internal/table"
	"github.com/rzpsarthak13/rpc-absorber/internal/transport"
)

// Notifier publishes session and account notifications.
type Notifier interface {
	Notify(ctx context.Context, eventType core.EventType, siteID, method, message string) error
}

// Orchestrator turns remote calls into results, answering from its cache
// when allowed, sharing identical calls in flight and batching dispatches.
type Orchestrator struct {
	cfg      Config
	tr       core.Transport
	cache    *cache
	queue    *batchQueue
	net      Network
	notifier Notifier
	clock    clockwork.Clock
	log      zerolog.Logger

	// set after the server first rejects characters outside the BMP
	cleanUnicode atomic.Bool

	mu         sync.Mutex
	pending    map[string]*pendingCall
	background map[string]*pendingCall
	closed     bool

	calls  sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithClock sets the clock used for expiration and batching delays.
func WithClock(c clockwork.Clock) OrchestratorOption {
	return func(o *Orchestrator) { o.clock = c }
}

// WithNetwork sets the connectivity source. The default is always online.
func WithNetwork(n Network) OrchestratorOption {
	return func(o *Orchestrator) { o.net = n }
}

// WithNotifier sets where session and account notifications go.
func WithNotifier(n Notifier) OrchestratorOption {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.log = l }
}

// New creates an orchestrator caching into store. The cache table is
// created if needed.
func New(ctx context.Context, cfg Config, tr core.Transport, store core.RowStore, opts ...OrchestratorOption) (*Orchestrator, error) {
	cfg.setDefaults()
	o := &Orchestrator{
		cfg:        cfg,
		tr:         tr,
		net:        NewStaticNetwork(true, false),
		clock:      clockwork.NewRealClock(),
		log:        logger.Component(logger.New(), "ws"),
		pending:    make(map[string]*pendingCall),
		background: make(map[string]*pendingCall),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.With().Str("site", cfg.SiteID).Logger()

	// the cache must see every write at once, so it is never memoized
	t, err := table.New(table.Config{Strategy: table.StrategyNone}, store, CacheSchema(), table.WithLogger(o.log))
	if err != nil {
		return nil, err
	}
	if err := t.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize response cache: %w", err)
	}
	o.cache = &cache{table: t}

	if !cfg.DisableQueue {
		o.queue = newBatchQueue(tr, cfg.Lang, cfg.QueueLimit, cfg.QueueDelay, o.clock, o.log)
	}
	o.ctx, o.cancel = context.WithCancel(context.Background())
	return o, nil
}

// Read calls a method that does not change server state. opts adjust
// ReadDirectives.
func (o *Orchestrator) Read(ctx context.Context, method string, args any, opts ...Option) (json.RawMessage, error) {
	d := ReadDirectives()
	for _, opt := range opts {
		opt(&d)
	}
	return o.Request(ctx, method, args, d)
}

// Write calls a method that changes server state. opts adjust
// WriteDirectives.
func (o *Orchestrator) Write(ctx context.Context, method string, args any, opts ...Option) (json.RawMessage, error) {
	d := WriteDirectives()
	for _, opt := range opts {
		opt(&d)
	}
	return o.Request(ctx, method, args, d)
}

// Request performs a call and returns its first result. With a background
// refresh that is the cached value; the refresh still completes and
// updates the cache.
func (o *Orchestrator) Request(ctx context.Context, method string, args any, d Directives) (json.RawMessage, error) {
	p, err := o.start(method, args, d)
	if err != nil {
		return nil, err
	}
	r := p.first(ctx)
	return r.Data, r.Err
}

// RequestStream performs a call and delivers one result, or two when a
// stale cached value is followed by a background refresh. The channel is
// closed afterwards.
func (o *Orchestrator) RequestStream(ctx context.Context, method string, args any, d Directives) (<-chan Result, error) {
	p, err := o.start(method, args, d)
	if err != nil {
		return nil, err
	}
	return p.subscribe(ctx), nil
}

// Decode unmarshals a call result.
//
//	site, err := ws.Decode[SiteInfo](o.Read(ctx, "core_webservice_get_site_info", nil))
func Decode[T any](data json.RawMessage, err error) (T, error) {
	var v T
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("failed to decode response: %w", err)
	}
	return v, nil
}

type call struct {
	id     string
	method string
	args   any
	d      Directives
}

// start joins the identical call in flight or starts a new one. The call
// runs to completion even if every caller stops waiting.
func (o *Orchestrator) start(method string, args any, d Directives) (*pendingCall, error) {
	plain, err := transport.PlainArgs(args)
	if err != nil {
		return nil, err
	}
	canon, err := canonicalPlain(plain)
	if err != nil {
		return nil, err
	}
	c := call{id: hashID(method, canon), method: method, args: plain, d: d}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, core.ErrClosed
	}

	calls := o.pending
	if d.UpdateInBackground {
		calls = o.background
	}
	if p, ok := calls[c.id]; ok {
		o.log.Debug().Str("method", method).Str("id", c.id).Msg("joining pending call")
		return p, nil
	}

	p := newPendingCall()
	calls[c.id] = p
	o.calls.Add(1)
	go func() {
		defer o.calls.Done()
		o.execute(o.ctx, c, p)
		p.finish()

		o.mu.Lock()
		if calls[c.id] == p {
			delete(calls, c.id)
		}
		o.mu.Unlock()
	}()
	return p, nil
}

func (o *Orchestrator) execute(ctx context.Context, c call, p *pendingCall) {
	entry, refresh, err := o.lookup(ctx, c, false)
	if err == nil {
		o.log.Debug().Str("method", c.method).Str("id", c.id).Bool("refresh", refresh).Msg("cache hit")
		p.emit(entry.result())
		if refresh {
			o.refresh(ctx, c, p)
		}
		return
	}

	if c.d.ForceOffline {
		p.emit(Result{Err: fmt.Errorf("%s is not cached: %w", c.method, core.ErrOffline)})
		return
	}
	data, err := o.fetch(ctx, c)
	p.emit(Result{Data: data, Err: err})
}

// refresh fetches a fresh value after a stale one was emitted. Failures
// are logged only; the caller already has a value.
func (o *Orchestrator) refresh(ctx context.Context, c call, p *pendingCall) {
	no := false
	c.d.EmergencyCache = &no
	data, err := o.fetch(ctx, c)
	if err != nil {
		o.log.Warn().Err(err).Str("method", c.method).Str("id", c.id).Msg("background refresh failed")
		return
	}
	p.emit(Result{Data: data})
}

func (o *Orchestrator) expirationDelay(f UpdateFrequency) time.Duration {
	if f < FrequencyUsually || f > FrequencyRarely {
		f = FrequencyUsually
	}
	delay := o.cfg.Frequencies[f]
	if o.net.IsMetered() {
		delay = time.Duration(float64(delay) * o.cfg.MeteredMultiplier)
	}
	return delay
}

// lookup finds a usable cache entry. refresh reports an entry past its
// expiration but inside the background window.
func (o *Orchestrator) lookup(ctx context.Context, c call, emergency bool) (entry cacheEntry, refresh bool, err error) {
	d := c.d
	if !d.ReadFromCache && !emergency {
		return cacheEntry{}, false, core.ErrCacheMiss
	}

	byKey := d.CacheKey != "" && (d.GetCacheUsingCacheKey || (emergency && d.GetEmergencyCacheUsingCacheKey))
	if byKey {
		entry, err = o.cache.byKey(ctx, d.CacheKey, c.id)
	}
	if !byKey || errors.Is(err, core.ErrCacheMiss) {
		entry, err = o.cache.byID(ctx, c.id)
	}
	if err != nil {
		if !errors.Is(err, core.ErrCacheMiss) {
			o.log.Warn().Err(err).Str("method", c.method).Msg("cache read failed")
		}
		return cacheEntry{}, false, core.ErrCacheMiss
	}

	if emergency || d.OmitExpires || d.ForceOffline || !o.net.IsOnline() {
		return entry, false, nil
	}
	now := o.clock.Now().UnixMilli()
	if now < entry.LastModified+o.expirationDelay(d.UpdateFrequency).Milliseconds() {
		return entry, false, nil
	}
	if d.UpdateInBackground && now < entry.LastModified+o.cfg.BackgroundWindow.Milliseconds() {
		return entry, true, nil
	}
	return cacheEntry{}, false, core.ErrCacheMiss
}

// fetch dispatches the call, caches a success and recovers from failures.
func (o *Orchestrator) fetch(ctx context.Context, c call) (json.RawMessage, error) {
	data, err := o.dispatch(ctx, c)
	if err == nil {
		if c.d.SaveToCache {
			o.save(ctx, c, string(data))
		}
		return data, nil
	}
	return o.handleFailure(ctx, c, err)
}

func (o *Orchestrator) dispatch(ctx context.Context, c call) (json.RawMessage, error) {
	if c.d.ForceOffline || !o.net.IsOnline() {
		return nil, fmt.Errorf("cannot call %s: %w", c.method, core.ErrOffline)
	}

	clean := o.cleanUnicode.Load()
	data, err := o.send(ctx, c, clean)
	if err == nil || !hasCode(err, codeDMLWrite) || !transport.HasOutsideBMP(c.args) {
		return data, err
	}
	if !clean {
		o.log.Warn().Str("method", c.method).Msg("server rejected characters outside the BMP, retrying without them")
		o.cleanUnicode.Store(true)
		data, err = o.send(ctx, c, true)
		if err == nil || !hasCode(err, codeDMLWrite) {
			return data, err
		}
	}
	return nil, &EncodingError{Err: err}
}

func (o *Orchestrator) send(ctx context.Context, c call, clean bool) (json.RawMessage, error) {
	settings := c.d.settings(o.cfg.Lang, clean)
	if c.d.SkipQueue || o.queue == nil {
		return o.tr.Call(ctx, c.method, c.args, settings)
	}
	return o.queue.enqueue(c.id, c.method, c.args, settings, c.d.ReusePending).wait(ctx)
}

// handleFailure classifies a failed dispatch. Session, account and permission
// failures are returned as is; other failures fall back to the emergency
// cache when the directives allow it.
func (o *Orchestrator) handleFailure(ctx context.Context, c call, err error) (json.RawMessage, error) {
	kind := Classify(err)
	var surfaced error
	switch kind {
	case KindSessionExpired, KindAccountState:
		var se *core.ServerError
		errors.As(err, &se)
		event, _ := eventFor(se)
		o.notify(ctx, event, c.method, se.Message)
		surfaced = &SilentError{Kind: kind, Event: event, Err: err}
	case KindServer, KindPermissionDenied:
		surfaced = &WSError{Err: err}
	default:
		surfaced = err
	}
	switch kind {
	case KindSessionExpired, KindAccountState, KindPermissionDenied:
		return nil, surfaced
	}

	if kind == KindServer && o.cacheable(c.d, err) {
		if c.d.SaveToCache {
			var se *core.ServerError
			errors.As(err, &se)
			o.save(ctx, c, string(se.Raw()))
		}
		return nil, surfaced
	}
	if !c.d.EmergencyAllowed() {
		return nil, surfaced
	}
	if c.d.DeleteCacheIfWSError && IsServerError(err) {
		if derr := o.cache.deleteID(ctx, c.id); derr != nil {
			o.log.Warn().Err(derr).Str("method", c.method).Msg("failed to delete cache entry")
		}
		return nil, surfaced
	}

	entry, _, cerr := o.lookup(ctx, c, true)
	if cerr != nil {
		o.log.Debug().Err(err).Str("method", c.method).Str("kind", kind.String()).Msg("call failed")
		return nil, surfaced
	}
	o.log.Info().Err(err).Str("method", c.method).Msg("serving emergency cache")
	r := entry.result()
	return r.Data, r.Err
}

func (o *Orchestrator) cacheable(d Directives, err error) bool {
	var se *core.ServerError
	if !errors.As(err, &se) {
		return false
	}
	return slices.Contains(d.CacheErrors, se.ErrorCode) || slices.Contains(o.cfg.CacheErrors, se.ErrorCode)
}

func (o *Orchestrator) save(ctx context.Context, c call, data string) {
	e := cacheEntry{
		ID:           c.id,
		Data:         data,
		Key:          c.d.CacheKey,
		LastModified: o.clock.Now().UnixMilli(),
		Component:    c.d.Component,
		ComponentID:  c.d.ComponentID,
	}
	if err := o.cache.save(ctx, e, c.d.UniqueCacheKey); err != nil {
		o.log.Warn().Err(err).Str("method", c.method).Msg("failed to cache response")
	}
}

func (o *Orchestrator) notify(ctx context.Context, event core.EventType, method, message string) {
	o.log.Warn().Str("event", string(event)).Str("method", method).Msg(message)
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(ctx, event, o.cfg.SiteID, method, message); err != nil {
		o.log.Error().Err(err).Str("event", string(event)).Msg("failed to publish notification")
	}
}

// Close flushes the batching queue and waits for the calls in flight
// until ctx ends. Later calls fail with core.ErrClosed.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		if o.queue != nil {
			o.queue.drain()
		}
		o.calls.Wait()
		close(done)
	}()

	defer o.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
