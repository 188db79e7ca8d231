package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
	"github.com/rzpsarthak13/rpc-absorber/internal/schema"
)

// KVRowStore implements core.RowStore on top of a key-value backend. Each
// record is one JSON value keyed "<namespace>:<table>:<primary key>";
// selects scan the table prefix and filter with the in-memory predicate.
type KVRowStore struct {
	kv        core.KVStore
	tr        *schema.Translator
	namespace string

	mu      sync.RWMutex
	schemas map[string]*core.Schema

	// writes are read-modify-write over several keys
	writeMu sync.Mutex
}

// NewKVRowStore creates a row store over kv. namespace may be empty.
func NewKVRowStore(kv core.KVStore, namespace string) *KVRowStore {
	tr := schema.NewTranslator()
	if namespace != "" {
		tr = schema.NewTranslatorWithNamespace(namespace)
	}
	return &KVRowStore{
		kv:        kv,
		tr:        tr,
		namespace: namespace,
		schemas:   make(map[string]*core.Schema),
	}
}

// EnsureTable registers the schema. KV backends need no DDL.
func (s *KVRowStore) EnsureTable(_ context.Context, sc *core.Schema) error {
	if sc == nil || sc.TableName == "" {
		return fmt.Errorf("schema with a table name is required")
	}
	if len(sc.PrimaryKeys) == 0 {
		return fmt.Errorf("table %s needs a primary key to be stored in a KV backend", sc.TableName)
	}
	s.mu.Lock()
	s.schemas[sc.TableName] = sc
	s.mu.Unlock()
	return nil
}

func (s *KVRowStore) schemaOf(table string) (*core.Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schemas[table]
	if !ok {
		return nil, fmt.Errorf("table %s is not registered with the store", table)
	}
	return sc, nil
}

func (s *KVRowStore) sequenceKey(table string) string {
	if s.namespace != "" {
		return s.namespace + ":__rowid:" + table
	}
	return "__rowid:" + table
}

type kvRow struct {
	key    string
	record core.Record
}

// load reads every record of the table in key order.
func (s *KVRowStore) load(ctx context.Context, sc *core.Schema) ([]kvRow, error) {
	keys, err := s.kv.Keys(ctx, s.tr.KeyPrefix(sc.TableName))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", sc.TableName, err)
	}
	sort.Strings(keys)

	rows := make([]kvRow, 0, len(keys))
	for _, key := range keys {
		value, err := s.kv.Get(ctx, key)
		if errors.Is(err, core.ErrNotFound) {
			// deleted between the scan and the read
			continue
		}
		if err != nil {
			return nil, err
		}
		r, err := s.tr.FromKV(key, value, sc)
		if err != nil {
			return nil, err
		}
		rows = append(rows, kvRow{key: key, record: r})
	}
	return rows, nil
}

func (s *KVRowStore) selectRecords(ctx context.Context, table string, conds core.Conditions) ([]core.Record, error) {
	if err := checkEvaluable(conds); err != nil {
		return nil, err
	}
	sc, err := s.schemaOf(table)
	if err != nil {
		return nil, err
	}
	rows, err := s.load(ctx, sc)
	if err != nil {
		return nil, err
	}
	records := make([]core.Record, len(rows))
	for i, row := range rows {
		records[i] = row.record
	}
	return filterRecords(records, conds), nil
}

// GetAllRecords returns every record of the table.
func (s *KVRowStore) GetAllRecords(ctx context.Context, table string) ([]core.Record, error) {
	return s.selectRecords(ctx, table, core.Conditions{})
}

// GetRecords returns the matching records with the query modifiers applied.
func (s *KVRowStore) GetRecords(ctx context.Context, table string, conds core.Conditions, q core.Query) ([]core.Record, error) {
	records, err := s.selectRecords(ctx, table, conds)
	if err != nil {
		return nil, err
	}
	return core.ApplyQuery(records, q), nil
}

// GetRecordsSelect returns the records matching conds.
func (s *KVRowStore) GetRecordsSelect(ctx context.Context, table string, conds core.Conditions) ([]core.Record, error) {
	return s.selectRecords(ctx, table, conds)
}

// GetRecord returns the first matching record. A full primary-key equality
// is served with a single read.
func (s *KVRowStore) GetRecord(ctx context.Context, table string, conds core.Conditions) (core.Record, error) {
	sc, err := s.schemaOf(table)
	if err != nil {
		return nil, err
	}
	if conds.IsEquality() {
		eq := conds.Equality()
		if len(eq) == len(sc.PrimaryKeys) {
			if pk, err := s.tr.SerializeKey(sc, eq); err == nil {
				key := s.tr.BuildKey(table, pk)
				value, err := s.kv.Get(ctx, key)
				if errors.Is(err, core.ErrNotFound) {
					return nil, fmt.Errorf("%s %s: %w", table, conds, core.ErrNotFound)
				}
				if err != nil {
					return nil, err
				}
				return s.tr.FromKV(key, value, sc)
			}
		}
	}

	records, err := s.selectRecords(ctx, table, conds)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s %s: %w", table, conds, core.ErrNotFound)
	}
	return records[0], nil
}

// GetFieldSQL is not supported; callers fold in memory.
func (s *KVRowStore) GetFieldSQL(context.Context, string, string, core.Conditions) (any, error) {
	return nil, core.ErrNativeUnsupported
}

// CountRecords returns the number of matching records.
func (s *KVRowStore) CountRecords(ctx context.Context, table string, conds core.Conditions) (int, error) {
	records, err := s.selectRecords(ctx, table, conds)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// InsertRecord inserts or replaces a record. Row ids come from a per-table
// counter; a row-id primary key is filled from it when absent.
func (s *KVRowStore) InsertRecord(ctx context.Context, table string, record core.Record) (int64, error) {
	sc, err := s.schemaOf(table)
	if err != nil {
		return 0, err
	}

	r := record.Clone()
	var rowID int64
	if sc.IsRowIDKey() && r[sc.RowIDColumn] != nil {
		n, ok := core.ToNumber(r[sc.RowIDColumn])
		if !ok {
			return 0, fmt.Errorf("row id of %s must be numeric", table)
		}
		rowID = int64(n)
	} else {
		rowID, err = s.kv.Incr(ctx, s.sequenceKey(table))
		if err != nil {
			return 0, fmt.Errorf("failed to allocate row id for %s: %w", table, err)
		}
		if sc.IsRowIDKey() {
			r[sc.RowIDColumn] = rowID
		}
	}

	key, value, err := s.tr.ToKV(r, sc)
	if err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.kv.Set(ctx, key, value, 0); err != nil {
		return 0, fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	return rowID, nil
}

// UpdateRecords sets values on the records matching the equality mapping.
func (s *KVRowStore) UpdateRecords(ctx context.Context, table string, values, where core.Record) error {
	return s.UpdateRecordsWhere(ctx, table, values, core.Equal(where))
}

// UpdateRecordsWhere rewrites every matching record. Records whose primary
// key changes move to their new key.
func (s *KVRowStore) UpdateRecordsWhere(ctx context.Context, table string, values core.Record, conds core.Conditions) error {
	if len(values) == 0 {
		return nil
	}
	if err := checkEvaluable(conds); err != nil {
		return err
	}
	sc, err := s.schemaOf(table)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rows, err := s.load(ctx, sc)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if !conds.Matches(row.record) {
			continue
		}
		key, value, err := s.tr.ToKV(applyValues(row.record, values), sc)
		if err != nil {
			return err
		}
		if key != row.key {
			if err := s.kv.Delete(ctx, row.key); err != nil {
				return fmt.Errorf("failed to move %s: %w", row.key, err)
			}
		}
		if err := s.kv.Set(ctx, key, value, 0); err != nil {
			return fmt.Errorf("failed to update %s: %w", key, err)
		}
	}
	return nil
}

// DeleteRecords removes the records matching the equality mapping.
func (s *KVRowStore) DeleteRecords(ctx context.Context, table string, where core.Record) error {
	return s.DeleteRecordsSelect(ctx, table, core.Equal(where))
}

// DeleteRecordsSelect removes the records matching conds.
func (s *KVRowStore) DeleteRecordsSelect(ctx context.Context, table string, conds core.Conditions) error {
	if err := checkEvaluable(conds); err != nil {
		return err
	}
	sc, err := s.schemaOf(table)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rows, err := s.load(ctx, sc)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if !conds.Matches(row.record) {
			continue
		}
		if err := s.kv.Delete(ctx, row.key); err != nil {
			return fmt.Errorf("failed to delete %s: %w", row.key, err)
		}
	}
	return nil
}

// Close closes the KV backend.
func (s *KVRowStore) Close() error {
	return s.kv.Close()
}
