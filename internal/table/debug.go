package table

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
)

// DebugTable logs every call and forwards it unchanged to its target.
type DebugTable struct {
	target core.Table
	log    zerolog.Logger
}

// NewDebug wraps target.
func NewDebug(target core.Table, log zerolog.Logger) *DebugTable {
	return &DebugTable{
		target: target,
		log:    log.With().Str("table", target.Schema().TableName).Str("strategy", "debug").Logger(),
	}
}

// Target returns the wrapped table.
func (t *DebugTable) Target() core.Table {
	return t.target
}

func (t *DebugTable) trace(op string) *zerolog.Event {
	return t.log.Debug().Str("op", op)
}

func (t *DebugTable) Initialize(ctx context.Context) error {
	t.trace("initialize").Send()
	return t.target.Initialize(ctx)
}

func (t *DebugTable) Destroy(ctx context.Context) error {
	t.trace("destroy").Send()
	return t.target.Destroy(ctx)
}

func (t *DebugTable) Schema() *core.Schema {
	return t.target.Schema()
}

func (t *DebugTable) GetMany(ctx context.Context, where core.Record, opts core.Query) ([]core.Record, error) {
	t.trace("getMany").Interface("where", where).Interface("options", opts).Send()
	return t.target.GetMany(ctx, where, opts)
}

func (t *DebugTable) GetManyWhere(ctx context.Context, conds core.Conditions) ([]core.Record, error) {
	t.trace("getManyWhere").Stringer("conditions", conds).Send()
	return t.target.GetManyWhere(ctx, conds)
}

func (t *DebugTable) GetOne(ctx context.Context, where core.Record, opts core.Query) (core.Record, error) {
	t.trace("getOne").Interface("where", where).Interface("options", opts).Send()
	return t.target.GetOne(ctx, where, opts)
}

func (t *DebugTable) GetOneByPrimaryKey(ctx context.Context, key core.Record) (core.Record, error) {
	t.trace("getOneByPrimaryKey").Interface("key", key).Send()
	return t.target.GetOneByPrimaryKey(ctx, key)
}

func (t *DebugTable) Reduce(ctx context.Context, reducer core.Reducer, conds core.Conditions) (any, error) {
	t.trace("reduce").Str("sql", reducer.SQL).Stringer("conditions", conds).Send()
	return t.target.Reduce(ctx, reducer, conds)
}

func (t *DebugTable) HasAny(ctx context.Context, where core.Record) (bool, error) {
	t.trace("hasAny").Interface("where", where).Send()
	return t.target.HasAny(ctx, where)
}

func (t *DebugTable) HasAnyByPrimaryKey(ctx context.Context, key core.Record) (bool, error) {
	t.trace("hasAnyByPrimaryKey").Interface("key", key).Send()
	return t.target.HasAnyByPrimaryKey(ctx, key)
}

func (t *DebugTable) Count(ctx context.Context, where core.Record) (int, error) {
	t.trace("count").Interface("where", where).Send()
	return t.target.Count(ctx, where)
}

func (t *DebugTable) Insert(ctx context.Context, record core.Record) (int64, error) {
	t.trace("insert").Interface("record", record).Send()
	return t.target.Insert(ctx, record)
}

func (t *DebugTable) Update(ctx context.Context, values, where core.Record) error {
	t.trace("update").Interface("values", values).Interface("where", where).Send()
	return t.target.Update(ctx, values, where)
}

func (t *DebugTable) UpdateWhere(ctx context.Context, values core.Record, conds core.Conditions) error {
	t.trace("updateWhere").Interface("values", values).Stringer("conditions", conds).Send()
	return t.target.UpdateWhere(ctx, values, conds)
}

func (t *DebugTable) Delete(ctx context.Context, where core.Record) error {
	t.trace("delete").Interface("where", where).Send()
	return t.target.Delete(ctx, where)
}

func (t *DebugTable) DeleteWhere(ctx context.Context, conds core.Conditions) error {
	t.trace("deleteWhere").Stringer("conditions", conds).Send()
	return t.target.DeleteWhere(ctx, conds)
}

func (t *DebugTable) DeleteByPrimaryKey(ctx context.Context, key core.Record) error {
	t.trace("deleteByPrimaryKey").Interface("key", key).Send()
	return t.target.DeleteByPrimaryKey(ctx, key)
}
