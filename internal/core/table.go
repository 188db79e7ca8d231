package core

import (
	"context"
)

// Reducer computes a single aggregate over the matching records. SQL is
// the store-native aggregate expression (e.g. "SUM(amount)"), Fn its
// in-memory fold. Both must compute the same value.
type Reducer struct {
	// SQL is evaluated as SELECT <SQL> FROM <table> WHERE <conditions>.
	SQL string

	// SQLInitial is returned when the store aggregate yields NULL.
	SQLInitial any

	// Fn folds one record into the accumulator.
	Fn func(acc any, r Record) any

	// Initial is the starting accumulator for Fn.
	Initial any
}

// Table is the uniform query/mutate contract over one persisted table.
// Every caching strategy implements it, so callers never depend on which
// one is in use.
type Table interface {
	// Initialize prepares the strategy (e.g. loads the in-memory mirror).
	Initialize(ctx context.Context) error

	// Destroy releases timers and in-memory state.
	Destroy(ctx context.Context) error

	// Schema returns the table definition.
	Schema() *Schema

	// GetMany returns the records matching the equality conditions.
	GetMany(ctx context.Context, where Record, opts Query) ([]Record, error)

	// GetManyWhere returns the records matching conds.
	GetManyWhere(ctx context.Context, conds Conditions) ([]Record, error)

	// GetOne returns the first matching record or ErrNotFound.
	GetOne(ctx context.Context, where Record, opts Query) (Record, error)

	// GetOneByPrimaryKey returns the record with the given key or ErrNotFound.
	GetOneByPrimaryKey(ctx context.Context, key Record) (Record, error)

	// Reduce aggregates the matching records.
	Reduce(ctx context.Context, reducer Reducer, conds Conditions) (any, error)

	// HasAny reports whether at least one record matches.
	HasAny(ctx context.Context, where Record) (bool, error)

	// HasAnyByPrimaryKey reports whether a record with the key exists.
	HasAnyByPrimaryKey(ctx context.Context, key Record) (bool, error)

	// Count returns the number of matching records.
	Count(ctx context.Context, where Record) (int, error)

	// Insert inserts or replaces a record and returns its row id.
	Insert(ctx context.Context, record Record) (int64, error)

	// Update sets values on every record matching the equality conditions.
	Update(ctx context.Context, values Record, where Record) error

	// UpdateWhere sets values on every record matching conds.
	UpdateWhere(ctx context.Context, values Record, conds Conditions) error

	// Delete removes the records matching the equality conditions. An empty
	// mapping removes every record.
	Delete(ctx context.Context, where Record) error

	// DeleteWhere removes the records matching conds.
	DeleteWhere(ctx context.Context, conds Conditions) error

	// DeleteByPrimaryKey removes the record with the given key.
	DeleteByPrimaryKey(ctx context.Context, key Record) error
}
