package table

import (
	"context"
	"fmt"
	"sync"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
)

// EagerTable mirrors the whole table in memory. Reads never reach the
// store after Initialize; writes go to the store first and are mirrored
// only when the store accepted them.
type EagerTable struct {
	*NoneTable

	mu    sync.RWMutex
	index map[string]core.Record
	// order keeps store order for unsorted reads
	order []string
}

func newEager(store core.RowStore, sc *core.Schema, o options) *EagerTable {
	return &EagerTable{
		NoneTable: newNone(store, sc, o),
		index:     make(map[string]core.Record),
	}
}

// Initialize creates the table and loads every record into the index.
func (t *EagerTable) Initialize(ctx context.Context) error {
	if err := t.NoneTable.Initialize(ctx); err != nil {
		return err
	}
	records, err := t.store.GetAllRecords(ctx, t.name)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", t.name, err)
	}

	index := make(map[string]core.Record, len(records))
	order := make([]string, 0, len(records))
	for _, r := range records {
		key, err := t.key(r)
		if err != nil {
			return err
		}
		if _, dup := index[key]; !dup {
			order = append(order, key)
		}
		index[key] = r
	}

	t.mu.Lock()
	t.index, t.order = index, order
	t.mu.Unlock()
	t.log.Debug().Int("records", len(records)).Msg("eager index loaded")
	return nil
}

// Destroy drops the index.
func (t *EagerTable) Destroy(context.Context) error {
	t.mu.Lock()
	t.index = make(map[string]core.Record)
	t.order = nil
	t.mu.Unlock()
	return nil
}

// matching returns copies of the indexed records satisfying conds, in
// store order.
func (t *EagerTable) matching(conds core.Conditions) []core.Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]core.Record, 0)
	for _, key := range t.order {
		if r := t.index[key]; conds.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	return out
}

func (t *EagerTable) GetMany(_ context.Context, where core.Record, opts core.Query) ([]core.Record, error) {
	return core.ApplyQuery(t.matching(core.Equal(where)), opts), nil
}

func (t *EagerTable) GetManyWhere(_ context.Context, conds core.Conditions) ([]core.Record, error) {
	if err := checkEvaluable(conds); err != nil {
		return nil, err
	}
	return t.matching(conds), nil
}

func (t *EagerTable) GetOne(ctx context.Context, where core.Record, opts core.Query) (core.Record, error) {
	opts.Limit = 1
	records, _ := t.GetMany(ctx, where, opts)
	if len(records) == 0 {
		return nil, notFound(t.name, core.Equal(where))
	}
	return records[0], nil
}

func (t *EagerTable) GetOneByPrimaryKey(_ context.Context, key core.Record) (core.Record, error) {
	conds, serialized, err := t.primaryKey(key)
	if err != nil {
		return nil, err
	}
	t.mu.RLock()
	r, ok := t.index[serialized]
	t.mu.RUnlock()
	if !ok {
		return nil, notFound(t.name, conds)
	}
	return r.Clone(), nil
}

// Reduce folds the indexed records; the store is never consulted.
func (t *EagerTable) Reduce(_ context.Context, reducer core.Reducer, conds core.Conditions) (any, error) {
	if err := checkEvaluable(conds); err != nil {
		return nil, err
	}
	return fold(t.matching(conds), reducer)
}

func (t *EagerTable) HasAny(_ context.Context, where core.Record) (bool, error) {
	return len(t.matching(core.Equal(where))) > 0, nil
}

func (t *EagerTable) HasAnyByPrimaryKey(_ context.Context, key core.Record) (bool, error) {
	_, serialized, err := t.primaryKey(key)
	if err != nil {
		return false, err
	}
	t.mu.RLock()
	_, ok := t.index[serialized]
	t.mu.RUnlock()
	return ok, nil
}

func (t *EagerTable) Count(_ context.Context, where core.Record) (int, error) {
	return len(t.matching(core.Equal(where))), nil
}

func (t *EagerTable) Insert(ctx context.Context, record core.Record) (int64, error) {
	id, r, err := t.insert(ctx, record)
	if err != nil {
		return 0, err
	}
	key, err := t.key(r)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.index[key]; !ok {
		t.order = append(t.order, key)
	}
	t.index[key] = r
	return id, nil
}

func (t *EagerTable) Update(ctx context.Context, values, where core.Record) error {
	return t.UpdateWhere(ctx, values, core.Equal(where))
}

func (t *EagerTable) UpdateWhere(ctx context.Context, values core.Record, conds core.Conditions) error {
	if err := checkEvaluable(conds); err != nil {
		return err
	}
	vals, err := t.tr.NormalizeRecord(values, t.schema)
	if err != nil {
		return err
	}
	if err := t.store.UpdateRecordsWhere(ctx, t.name, values, conds); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.touchesPrimaryKey(vals) {
		for _, key := range t.order {
			if r := t.index[key]; conds.Matches(r) {
				t.index[key] = merged(r, vals)
			}
		}
		return nil
	}

	// A re-keyed record replaces whatever held its new key.
	index := make(map[string]core.Record, len(t.index))
	order := make([]string, 0, len(t.order))
	moved := make(map[string]bool)
	for _, key := range t.order {
		r := t.index[key]
		match := conds.Matches(r)
		if match {
			r = merged(r, vals)
			if key, err = t.key(r); err != nil {
				return err
			}
		}
		if _, dup := index[key]; dup {
			if moved[key] && !match {
				continue
			}
		} else {
			order = append(order, key)
		}
		index[key] = r
		if match {
			moved[key] = true
		}
	}
	t.index, t.order = index, order
	return nil
}

func merged(r, vals core.Record) core.Record {
	out := r.Clone()
	for k, v := range vals {
		out[k] = v
	}
	return out
}

func (t *EagerTable) Delete(ctx context.Context, where core.Record) error {
	return t.DeleteWhere(ctx, core.Equal(where))
}

func (t *EagerTable) DeleteWhere(ctx context.Context, conds core.Conditions) error {
	if err := checkEvaluable(conds); err != nil {
		return err
	}
	if err := t.store.DeleteRecordsSelect(ctx, t.name, conds); err != nil {
		return err
	}
	t.removeMatching(conds)
	return nil
}

func (t *EagerTable) DeleteByPrimaryKey(ctx context.Context, key core.Record) error {
	conds, _, err := t.primaryKey(key)
	if err != nil {
		return err
	}
	return t.DeleteWhere(ctx, conds)
}

func (t *EagerTable) removeMatching(conds core.Conditions) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.order[:0]
	for _, key := range t.order {
		if conds.Matches(t.index[key]) {
			delete(t.index, key)
			continue
		}
		kept = append(kept, key)
	}
	t.order = kept
}
