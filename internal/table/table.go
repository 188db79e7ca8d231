package table

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
	"github.com/rzpsarthak13/rpc-absorber/internal/logger"
	"github.com/rzpsarthak13/rpc-absorber/internal/schema"
)

// Strategy names a caching strategy.
type Strategy string

const (
	StrategyNone  Strategy = "none"
	StrategyEager Strategy = "eager"
	StrategyLazy  Strategy = "lazy"
	StrategyDebug Strategy = "debug"
)

// DefaultLazyLifetime is how long the lazy index lives before it is cleared.
const DefaultLazyLifetime = 60 * time.Second

// Config selects the strategy backing a table.
type Config struct {
	Strategy Strategy

	// LazyLifetime is the interval at which the lazy index is cleared.
	LazyLifetime time.Duration

	// DebugTarget is the strategy wrapped by the debug strategy.
	DebugTarget Strategy
}

type options struct {
	log   zerolog.Logger
	clock clockwork.Clock
}

// Option customizes table construction.
type Option func(*options)

// WithLogger sets the logger tables write to.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithClock sets the clock driving the lazy index lifetime.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

func buildOptions(opts []Option) options {
	o := options{
		log:   logger.Component(logger.New(), "table"),
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New builds the table variant selected by cfg. The table is not
// initialized.
func New(cfg Config, store core.RowStore, sc *core.Schema, opts ...Option) (core.Table, error) {
	if store == nil {
		return nil, fmt.Errorf("row store is required")
	}
	if sc == nil || sc.TableName == "" {
		return nil, fmt.Errorf("schema with a table name is required")
	}
	o := buildOptions(opts)

	switch cfg.Strategy {
	case StrategyNone, "":
		return newNone(store, sc, o), nil
	case StrategyEager:
		return newEager(store, sc, o), nil
	case StrategyLazy:
		lifetime := cfg.LazyLifetime
		if lifetime <= 0 {
			lifetime = DefaultLazyLifetime
		}
		return newLazy(store, sc, lifetime, o), nil
	case StrategyDebug:
		if cfg.DebugTarget == StrategyDebug {
			return nil, fmt.Errorf("debug strategy cannot wrap itself")
		}
		target, err := New(Config{Strategy: cfg.DebugTarget, LazyLifetime: cfg.LazyLifetime}, store, sc, opts...)
		if err != nil {
			return nil, err
		}
		return NewDebug(target, o.log), nil
	default:
		return nil, fmt.Errorf("unknown caching strategy %q", cfg.Strategy)
	}
}

// keyer serializes primary keys and completes records for a schema.
type keyer struct {
	schema *core.Schema
	tr     *schema.Translator
}

func (k keyer) key(r core.Record) (string, error) {
	return k.tr.SerializeKey(k.schema, r)
}

// primaryKey validates a caller-supplied key and returns its conditions.
func (k keyer) primaryKey(key core.Record) (core.Conditions, string, error) {
	if len(key) != len(k.schema.PrimaryKeys) {
		return core.Conditions{}, "", fmt.Errorf("table %s: primary key needs columns %v", k.schema.TableName, k.schema.PrimaryKeys)
	}
	pk, err := k.schema.PrimaryKeyOf(key)
	if err != nil {
		return core.Conditions{}, "", err
	}
	serialized, err := k.key(pk)
	if err != nil {
		return core.Conditions{}, "", err
	}
	return core.Equal(pk), serialized, nil
}

// complete fills the columns missing from record with their default and
// converts every value to its column type, so the store and the in-memory
// mirrors hold the same row.
func (k keyer) complete(record core.Record) (core.Record, error) {
	r, err := k.tr.NormalizeRecord(record, k.schema)
	if err != nil {
		return nil, err
	}
	for _, col := range k.schema.Columns {
		if _, ok := r[col.Name]; ok {
			continue
		}
		if k.schema.IsRowIDKey() && col.Name == k.schema.RowIDColumn {
			continue
		}
		def, err := k.tr.Mapper().ConvertToDBValue(col.Default, col.Type)
		if err != nil {
			return nil, fmt.Errorf("default of column %s: %w", col.Name, err)
		}
		r[col.Name] = def
	}
	return r, nil
}

func (k keyer) touchesPrimaryKey(values core.Record) bool {
	for _, pk := range k.schema.PrimaryKeys {
		if _, ok := values[pk]; ok {
			return true
		}
	}
	return false
}

// fold evaluates a reducer over records in memory.
func fold(records []core.Record, reducer core.Reducer) (any, error) {
	if reducer.Fn == nil {
		return nil, errors.New("reducer has no in-memory function")
	}
	acc := reducer.Initial
	for _, r := range records {
		acc = reducer.Fn(acc, r)
	}
	return acc, nil
}

func checkEvaluable(conds core.Conditions) error {
	if !conds.Evaluable() {
		return fmt.Errorf("%w: in-memory predicate missing for %s", core.ErrInvalidConditions, conds)
	}
	return nil
}

func notFound(table string, conds core.Conditions) error {
	return fmt.Errorf("%s %s: %w", table, conds, core.ErrNotFound)
}
