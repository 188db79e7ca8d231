package table

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
	"github.com/rzpsarthak13/rpc-absorber/internal/schema"
)

// NoneTable passes every call straight to the row store.
type NoneTable struct {
	keyer
	store core.RowStore
	name  string
	log   zerolog.Logger
}

func newNone(store core.RowStore, sc *core.Schema, o options) *NoneTable {
	return &NoneTable{
		keyer: keyer{schema: sc, tr: schema.NewTranslator()},
		store: store,
		name:  sc.TableName,
		log:   o.log.With().Str("table", sc.TableName).Logger(),
	}
}

// Initialize creates the backing table if needed.
func (t *NoneTable) Initialize(ctx context.Context) error {
	return t.store.EnsureTable(ctx, t.schema)
}

// Destroy is a no-op; the store outlives the table.
func (t *NoneTable) Destroy(context.Context) error {
	return nil
}

func (t *NoneTable) Schema() *core.Schema {
	return t.schema
}

func (t *NoneTable) GetMany(ctx context.Context, where core.Record, opts core.Query) ([]core.Record, error) {
	return t.store.GetRecords(ctx, t.name, core.Equal(where), opts)
}

func (t *NoneTable) GetManyWhere(ctx context.Context, conds core.Conditions) ([]core.Record, error) {
	return t.store.GetRecordsSelect(ctx, t.name, conds)
}

func (t *NoneTable) GetOne(ctx context.Context, where core.Record, opts core.Query) (core.Record, error) {
	if len(opts.Sort) == 0 && opts.Offset == 0 {
		r, err := t.store.GetRecord(ctx, t.name, core.Equal(where))
		if err != nil {
			return nil, err
		}
		return r.Project(opts.Columns), nil
	}
	opts.Limit = 1
	records, err := t.store.GetRecords(ctx, t.name, core.Equal(where), opts)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, notFound(t.name, core.Equal(where))
	}
	return records[0], nil
}

func (t *NoneTable) GetOneByPrimaryKey(ctx context.Context, key core.Record) (core.Record, error) {
	conds, _, err := t.primaryKey(key)
	if err != nil {
		return nil, err
	}
	return t.store.GetRecord(ctx, t.name, conds)
}

// Reduce evaluates the aggregate in the store when it understands native
// expressions and folds the matching records in memory otherwise.
func (t *NoneTable) Reduce(ctx context.Context, reducer core.Reducer, conds core.Conditions) (any, error) {
	if reducer.SQL != "" {
		v, err := t.store.GetFieldSQL(ctx, t.name, reducer.SQL, conds)
		if err == nil {
			if v == nil {
				return reducer.SQLInitial, nil
			}
			return v, nil
		}
		if !errors.Is(err, core.ErrNativeUnsupported) {
			return nil, err
		}
	}
	records, err := t.store.GetRecordsSelect(ctx, t.name, conds)
	if err != nil {
		return nil, err
	}
	return fold(records, reducer)
}

func (t *NoneTable) HasAny(ctx context.Context, where core.Record) (bool, error) {
	_, err := t.store.GetRecord(ctx, t.name, core.Equal(where))
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (t *NoneTable) HasAnyByPrimaryKey(ctx context.Context, key core.Record) (bool, error) {
	_, err := t.GetOneByPrimaryKey(ctx, key)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (t *NoneTable) Count(ctx context.Context, where core.Record) (int, error) {
	return t.store.CountRecords(ctx, t.name, core.Equal(where))
}

func (t *NoneTable) Insert(ctx context.Context, record core.Record) (int64, error) {
	id, _, err := t.insert(ctx, record)
	return id, err
}

// insert writes the completed record and returns it as stored, with a
// generated row id filled in.
func (t *NoneTable) insert(ctx context.Context, record core.Record) (int64, core.Record, error) {
	r, err := t.complete(record)
	if err != nil {
		return 0, nil, err
	}
	id, err := t.store.InsertRecord(ctx, t.name, r)
	if err != nil {
		return 0, nil, err
	}
	if t.schema.IsRowIDKey() && r[t.schema.RowIDColumn] == nil {
		r[t.schema.RowIDColumn] = id
	}
	return id, r, nil
}

func (t *NoneTable) Update(ctx context.Context, values, where core.Record) error {
	return t.store.UpdateRecords(ctx, t.name, values, where)
}

func (t *NoneTable) UpdateWhere(ctx context.Context, values core.Record, conds core.Conditions) error {
	return t.store.UpdateRecordsWhere(ctx, t.name, values, conds)
}

func (t *NoneTable) Delete(ctx context.Context, where core.Record) error {
	return t.store.DeleteRecords(ctx, t.name, where)
}

func (t *NoneTable) DeleteWhere(ctx context.Context, conds core.Conditions) error {
	return t.store.DeleteRecordsSelect(ctx, t.name, conds)
}

func (t *NoneTable) DeleteByPrimaryKey(ctx context.Context, key core.Record) error {
	conds, _, err := t.primaryKey(key)
	if err != nil {
		return err
	}
	return t.store.DeleteRecordsSelect(ctx, t.name, conds)
}
