package database

import (
	"context"
	"fmt"
	"sync"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
	"github.com/rzpsarthak13/rpc-absorber/internal/schema"
)

type memTable struct {
	schema *core.Schema
	rows   []core.Record
	seq    int64
}

// MemoryStore is a process-local core.RowStore keeping rows in insertion
// order. It counts calls per operation so tests can observe which reads a
// caching strategy let through.
type MemoryStore struct {
	mu     sync.RWMutex
	tr     *schema.Translator
	tables map[string]*memTable
	calls  map[string]int
	closed bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tr:     schema.NewTranslator(),
		tables: make(map[string]*memTable),
		calls:  make(map[string]int),
	}
}

// Calls returns how many times op (e.g. "GetRecord") was invoked.
func (m *MemoryStore) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// TotalReads returns the number of read operations served.
func (m *MemoryStore) TotalReads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, op := range []string{"GetAllRecords", "GetRecords", "GetRecordsSelect", "GetRecord", "CountRecords"} {
		n += m.calls[op]
	}
	return n
}

// table returns the table and counts the call. Callers hold mu.
func (m *MemoryStore) table(op, name string) (*memTable, error) {
	m.calls[op]++
	if m.closed {
		return nil, core.ErrClosed
	}
	t, ok := m.tables[name]
	if !ok {
		return nil, fmt.Errorf("table %s is not registered with the store", name)
	}
	return t, nil
}

// EnsureTable registers the schema. Re-registering keeps existing rows.
func (m *MemoryStore) EnsureTable(_ context.Context, sc *core.Schema) error {
	if sc == nil || sc.TableName == "" {
		return fmt.Errorf("schema with a table name is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tables[sc.TableName]; ok {
		t.schema = sc
		return nil
	}
	m.tables[sc.TableName] = &memTable{schema: sc}
	return nil
}

func (m *MemoryStore) read(op, table string, conds core.Conditions) ([]core.Record, error) {
	if err := checkEvaluable(conds); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(op, table)
	if err != nil {
		return nil, err
	}
	matched := filterRecords(t.rows, conds)
	out := make([]core.Record, len(matched))
	for i, r := range matched {
		out[i] = r.Clone()
	}
	return out, nil
}

// GetAllRecords returns every record of the table.
func (m *MemoryStore) GetAllRecords(_ context.Context, table string) ([]core.Record, error) {
	return m.read("GetAllRecords", table, core.Conditions{})
}

// GetRecords returns the matching records with the query modifiers applied.
func (m *MemoryStore) GetRecords(_ context.Context, table string, conds core.Conditions, q core.Query) ([]core.Record, error) {
	records, err := m.read("GetRecords", table, conds)
	if err != nil {
		return nil, err
	}
	return core.ApplyQuery(records, q), nil
}

// GetRecordsSelect returns the records matching conds.
func (m *MemoryStore) GetRecordsSelect(_ context.Context, table string, conds core.Conditions) ([]core.Record, error) {
	return m.read("GetRecordsSelect", table, conds)
}

// GetRecord returns the first matching record.
func (m *MemoryStore) GetRecord(_ context.Context, table string, conds core.Conditions) (core.Record, error) {
	records, err := m.read("GetRecord", table, conds)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s %s: %w", table, conds, core.ErrNotFound)
	}
	return records[0], nil
}

// GetFieldSQL is not supported; callers fold in memory.
func (m *MemoryStore) GetFieldSQL(context.Context, string, string, core.Conditions) (any, error) {
	m.mu.Lock()
	m.calls["GetFieldSQL"]++
	m.mu.Unlock()
	return nil, core.ErrNativeUnsupported
}

// CountRecords returns the number of matching records.
func (m *MemoryStore) CountRecords(_ context.Context, table string, conds core.Conditions) (int, error) {
	records, err := m.read("CountRecords", table, conds)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// InsertRecord inserts or replaces the record with the same primary key.
func (m *MemoryStore) InsertRecord(_ context.Context, table string, record core.Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table("InsertRecord", table)
	if err != nil {
		return 0, err
	}

	r, err := m.tr.NormalizeRecord(record, t.schema)
	if err != nil {
		return 0, err
	}

	var rowID int64
	if t.schema.IsRowIDKey() && r[t.schema.RowIDColumn] != nil {
		n, _ := core.ToNumber(r[t.schema.RowIDColumn])
		rowID = int64(n)
		if rowID > t.seq {
			t.seq = rowID
		}
	} else {
		t.seq++
		rowID = t.seq
		if t.schema.IsRowIDKey() {
			r[t.schema.RowIDColumn] = rowID
		}
	}

	key, err := m.tr.SerializeKey(t.schema, r)
	if err != nil {
		return 0, err
	}
	for i, existing := range t.rows {
		if k, err := m.tr.SerializeKey(t.schema, existing); err == nil && k == key {
			t.rows[i] = r
			return rowID, nil
		}
	}
	t.rows = append(t.rows, r)
	return rowID, nil
}

// UpdateRecords sets values on the records matching the equality mapping.
func (m *MemoryStore) UpdateRecords(ctx context.Context, table string, values, where core.Record) error {
	return m.UpdateRecordsWhere(ctx, table, values, core.Equal(where))
}

// UpdateRecordsWhere sets values on the records matching conds.
func (m *MemoryStore) UpdateRecordsWhere(_ context.Context, table string, values core.Record, conds core.Conditions) error {
	if err := checkEvaluable(conds); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table("UpdateRecordsWhere", table)
	if err != nil {
		return err
	}
	vals, err := m.tr.NormalizeRecord(values, t.schema)
	if err != nil {
		return err
	}
	for i, r := range t.rows {
		if conds.Matches(r) {
			t.rows[i] = applyValues(r, vals)
		}
	}
	return nil
}

// DeleteRecords removes the records matching the equality mapping.
func (m *MemoryStore) DeleteRecords(ctx context.Context, table string, where core.Record) error {
	return m.DeleteRecordsSelect(ctx, table, core.Equal(where))
}

// DeleteRecordsSelect removes the records matching conds.
func (m *MemoryStore) DeleteRecordsSelect(_ context.Context, table string, conds core.Conditions) error {
	if err := checkEvaluable(conds); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table("DeleteRecordsSelect", table)
	if err != nil {
		return err
	}
	kept := t.rows[:0]
	for _, r := range t.rows {
		if !conds.Matches(r) {
			kept = append(kept, r)
		}
	}
	for i := len(kept); i < len(t.rows); i++ {
		t.rows[i] = nil
	}
	t.rows = kept
	return nil
}

// Close drops every table.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.tables = nil
	return nil
}
