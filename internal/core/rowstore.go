package core

import "context"

// RowStore is the persisted CRUD contract the table strategies build on.
// Stores that evaluate native expressions use Conditions.SQL; the others
// must use Conditions.Matches exclusively.
type RowStore interface {
	// EnsureTable registers the schema and creates the table if needed.
	EnsureTable(ctx context.Context, schema *Schema) error

	// GetAllRecords returns every record of the table.
	GetAllRecords(ctx context.Context, table string) ([]Record, error)

	// GetRecords returns the records matching conds, honouring the query
	// modifiers.
	GetRecords(ctx context.Context, table string, conds Conditions, q Query) ([]Record, error)

	// GetRecordsSelect returns the records matching conds.
	GetRecordsSelect(ctx context.Context, table string, conds Conditions) ([]Record, error)

	// GetRecord returns the first matching record or ErrNotFound.
	GetRecord(ctx context.Context, table string, conds Conditions) (Record, error)

	// GetFieldSQL evaluates SELECT <aggregate> over the matching records.
	// Returns ErrNativeUnsupported when the store cannot evaluate it.
	GetFieldSQL(ctx context.Context, table, aggregate string, conds Conditions) (any, error)

	// CountRecords returns the number of matching records.
	CountRecords(ctx context.Context, table string, conds Conditions) (int, error)

	// InsertRecord inserts or replaces a record and returns its row id.
	InsertRecord(ctx context.Context, table string, record Record) (int64, error)

	// UpdateRecords sets values on records matching the equality mapping.
	UpdateRecords(ctx context.Context, table string, values, where Record) error

	// UpdateRecordsWhere sets values on records matching conds.
	UpdateRecordsWhere(ctx context.Context, table string, values Record, conds Conditions) error

	// DeleteRecords removes records matching the equality mapping.
	DeleteRecords(ctx context.Context, table string, where Record) error

	// DeleteRecordsSelect removes records matching conds.
	DeleteRecordsSelect(ctx context.Context, table string, conds Conditions) error

	// Close releases the underlying connections.
	Close() error
}
