package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/UltimateTournament/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
	"github.com/rzpsarthak13/rpc-absorber/internal/logger"
	"github.com/rzpsarthak13/rpc-absorber/internal/registry"
)

// Handler receives a dispatched event. A returned error is retried with
// exponential backoff.
type Handler func(ctx context.Context, event *core.Event) error

// DispatcherConfig tunes the delivery loop.
type DispatcherConfig struct {
	// Rate is the number of events delivered per second.
	Rate int

	// BatchSize is the number of events read from the queue at once.
	BatchSize int

	// PollInterval is how long the loop idles on an empty queue.
	PollInterval time.Duration

	// MaxRetries bounds the retries of a failing handler.
	MaxRetries int

	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DispatcherConfigFromInternal maps the events section of the configuration.
func DispatcherConfigFromInternal(cfg registry.InternalEventsConfig) DispatcherConfig {
	return DispatcherConfig{
		Rate:         cfg.DispatchRate,
		BatchSize:    cfg.BatchSize,
		PollInterval: cfg.PollInterval,
		MaxRetries:   cfg.MaxRetries,
		BackoffBase:  cfg.RetryBackoffBase,
		BackoffMax:   cfg.RetryBackoffMax,
	}
}

func (c *DispatcherConfig) setDefaults() {
	if c.Rate <= 0 {
		c.Rate = 100
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 100 * time.Millisecond
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = 10 * c.BackoffBase
	}
}

type subscription struct {
	id      uint64
	handler Handler
}

// DispatcherStats counts delivery outcomes.
type DispatcherStats struct {
	Delivered int64
	Failed    int64
}

// Dispatcher drains an event queue at a bounded rate and hands each event
// to the handlers subscribed to its type.
type Dispatcher struct {
	queue   core.EventQueue
	cfg     DispatcherConfig
	clock   clockwork.Clock
	limiter *rate.Limiter
	log     zerolog.Logger

	mu     sync.RWMutex
	subs   map[core.EventType][]subscription
	nextID uint64

	delivered atomic.Int64
	failed    atomic.Int64

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherClock sets the clock the idle poll waits on.
func WithDispatcherClock(c clockwork.Clock) DispatcherOption {
	return func(d *Dispatcher) { d.clock = c }
}

// NewDispatcher creates a stopped dispatcher reading from queue.
func NewDispatcher(queue core.EventQueue, cfg DispatcherConfig, opts ...DispatcherOption) *Dispatcher {
	cfg.setDefaults()
	d := &Dispatcher{
		queue:   queue,
		cfg:     cfg,
		clock:   clockwork.NewRealClock(),
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), 1),
		log:     logger.Component(logger.New(), "events"),
		subs:    make(map[core.EventType][]subscription),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscribe registers h for events of type t. The returned function removes
// the subscription and may be called more than once.
func (d *Dispatcher) Subscribe(t core.EventType, h Handler) (unsubscribe func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.subs[t] = append(d.subs[t], subscription{id: id, handler: h})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			subs := d.subs[t]
			for i, s := range subs {
				if s.id == id {
					d.subs[t] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
			if len(d.subs[t]) == 0 {
				delete(d.subs, t)
			}
		})
	}
}

func (d *Dispatcher) handlers(t core.EventType) []Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Handler, 0, len(d.subs[t]))
	for _, s := range d.subs[t] {
		out = append(out, s.handler)
	}
	return out
}

// Stats returns the delivery counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{Delivered: d.delivered.Load(), Failed: d.failed.Load()}
}

func (d *Dispatcher) deliver(ctx context.Context, event *core.Event) {
	for _, h := range d.handlers(event.Type) {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = d.cfg.BackoffBase
		b.MaxInterval = d.cfg.BackoffMax
		b.MaxElapsedTime = 0

		policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.cfg.MaxRetries)), ctx)
		err := backoff.Retry(func() error { return h(ctx, event) }, policy)
		if err != nil {
			d.failed.Add(1)
			d.log.Error().Err(err).Str("id", event.ID).Str("type", string(event.Type)).Msg("handler gave up")
			continue
		}
		d.delivered.Add(1)
	}
}

// Drain delivers every event currently queued and returns how many were
// read. It honours the rate limit.
func (d *Dispatcher) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		events, err := d.queue.Dequeue(ctx, d.cfg.BatchSize)
		if err != nil {
			return total, err
		}
		if len(events) == 0 {
			return total, nil
		}
		for _, event := range events {
			if err := d.limiter.Wait(ctx); err != nil {
				return total, err
			}
			d.deliver(ctx, event)
			total++
		}
	}
}

// Start runs the delivery loop in the background until Stop or ctx ends.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.running {
		return errors.New("dispatcher is already running")
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	go d.run(ctx, d.stopCh, d.doneCh)
	d.log.Info().Int("rate", d.cfg.Rate).Dur("poll", d.cfg.PollInterval).Msg("dispatcher started")
	return nil
}

// Stop ends the loop and waits for the event in progress.
func (d *Dispatcher) Stop() error {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if !d.running {
		return nil
	}
	close(d.stopCh)
	<-d.doneCh
	d.running = false
	return nil
}

func (d *Dispatcher) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		n, err := d.Drain(ctx)
		if ctx.Err() != nil {
			d.log.Info().Msg("dispatcher stopped")
			return
		}
		if err != nil {
			d.log.Warn().Err(err).Msg("dequeue failed")
		}
		if n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			d.log.Info().Msg("dispatcher stopped")
			return
		case <-d.clock.After(d.cfg.PollInterval):
		}
	}
}
