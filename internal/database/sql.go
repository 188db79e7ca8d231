package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
	"github.com/rzpsarthak13/rpc-absorber/internal/logger"
	"github.com/rzpsarthak13/rpc-absorber/internal/schema"
)

var pkgLogger = logger.Component(logger.New(), "database")

// SQLStore implements core.RowStore on a database/sql connection. It
// evaluates native condition expressions, so every strategy's predicate
// filters are pushed down to the engine.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	mapper  *schema.TypeMapper
	log     zerolog.Logger

	mu      sync.RWMutex
	schemas map[string]*core.Schema
	closed  bool
}

// NewSQLStore wraps an open connection. Migrations are not run.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: dialect,
		mapper:  schema.NewTypeMapper(),
		log:     pkgLogger.With().Str("dialect", dialect.Name).Logger(),
		schemas: make(map[string]*core.Schema),
	}
}

// DB returns the underlying connection.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Dialect returns the engine dialect.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

func (s *SQLStore) schemaOf(table string) (*core.Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, core.ErrClosed
	}
	sc, ok := s.schemas[table]
	if !ok {
		return nil, fmt.Errorf("table %s is not registered with the store", table)
	}
	return sc, nil
}

// EnsureTable registers the schema and creates the table and its indexes.
func (s *SQLStore) EnsureTable(ctx context.Context, sc *core.Schema) error {
	if sc == nil || sc.TableName == "" {
		return fmt.Errorf("schema with a table name is required")
	}

	if _, err := s.exec(ctx, s.dialect.CreateTable(sc)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", sc.TableName, err)
	}
	for _, idx := range sc.Indexes {
		if _, err := s.exec(ctx, s.dialect.CreateIndex(sc.TableName, idx)); err != nil {
			var myErr *mysql.MySQLError
			// 1061: duplicate key name
			if errors.As(err, &myErr) && myErr.Number == 1061 {
				continue
			}
			return fmt.Errorf("failed to create index %s: %w", idx.Name, err)
		}
	}

	s.mu.Lock()
	s.schemas[sc.TableName] = sc
	s.mu.Unlock()
	return nil
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	query = s.dialect.Rebind(query)
	s.log.Debug().Str("query", query).Interface("args", args).Msg("exec")
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		s.log.Error().Err(err).Str("query", query).Msg("exec failed")
		return nil, err
	}
	return res, nil
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	query = s.dialect.Rebind(query)
	s.log.Debug().Str("query", query).Interface("args", args).Msg("query")
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.log.Error().Err(err).Str("query", query).Msg("query failed")
		return nil, err
	}
	return rows, nil
}

// where renders conds as a WHERE clause. Equality values are converted to
// their column type so strictly typed engines accept the parameters.
func (s *SQLStore) where(sc *core.Schema, conds core.Conditions) (string, []any, error) {
	if conds.IsEquality() {
		eq, err := s.convertRecord(sc, conds.Equality())
		if err != nil {
			return "", nil, err
		}
		conds = core.Equal(eq)
	}
	expr, params := conds.SQL()
	if expr == "" {
		return "", nil, nil
	}
	return " WHERE " + expr, params, nil
}

func (s *SQLStore) convertRecord(sc *core.Schema, r core.Record) (core.Record, error) {
	out := make(core.Record, len(r))
	for k, v := range r {
		var dbType string
		if col, ok := sc.Column(k); ok {
			dbType = col.Type
		}
		cv, err := s.mapper.ConvertToDBValue(v, dbType)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", k, err)
		}
		out[k] = cv
	}
	return out, nil
}

func (s *SQLStore) scan(sc *core.Schema, rows *sql.Rows) ([]core.Record, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	records := make([]core.Record, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r := make(core.Record, len(cols))
		for i, name := range cols {
			var dbType string
			if col, ok := sc.Column(name); ok {
				dbType = col.Type
			}
			v, err := s.mapper.ConvertFromDBValue(values[i], dbType)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", name, err)
			}
			r[name] = v
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLStore) selectRecords(ctx context.Context, table string, conds core.Conditions, suffix string) ([]core.Record, error) {
	sc, err := s.schemaOf(table)
	if err != nil {
		return nil, err
	}
	where, params, err := s.where(sc, conds)
	if err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, "SELECT * FROM "+core.QuoteIdent(table)+where+suffix, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to select from %s: %w", table, err)
	}
	return s.scan(sc, rows)
}

// GetAllRecords returns every record of the table.
func (s *SQLStore) GetAllRecords(ctx context.Context, table string) ([]core.Record, error) {
	return s.selectRecords(ctx, table, core.Conditions{}, "")
}

// GetRecords returns the matching records. Sorting always happens in Go
// with the shared comparator so NULLs order as zero on every engine;
// paging is pushed down only when there is no sort.
func (s *SQLStore) GetRecords(ctx context.Context, table string, conds core.Conditions, q core.Query) ([]core.Record, error) {
	if len(q.Sort) == 0 && q.Limit > 0 {
		suffix := " LIMIT " + strconv.Itoa(q.Limit)
		if q.Offset > 0 {
			suffix += " OFFSET " + strconv.Itoa(q.Offset)
		}
		records, err := s.selectRecords(ctx, table, conds, suffix)
		if err != nil {
			return nil, err
		}
		return core.ApplyQuery(records, core.Query{Columns: q.Columns}), nil
	}

	records, err := s.selectRecords(ctx, table, conds, "")
	if err != nil {
		return nil, err
	}
	return core.ApplyQuery(records, q), nil
}

// GetRecordsSelect returns the records matching conds.
func (s *SQLStore) GetRecordsSelect(ctx context.Context, table string, conds core.Conditions) ([]core.Record, error) {
	return s.selectRecords(ctx, table, conds, "")
}

// GetRecord returns the first matching record.
func (s *SQLStore) GetRecord(ctx context.Context, table string, conds core.Conditions) (core.Record, error) {
	records, err := s.selectRecords(ctx, table, conds, " LIMIT 1")
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s %s: %w", table, conds, core.ErrNotFound)
	}
	return records[0], nil
}

// GetFieldSQL evaluates an aggregate expression over the matching records.
func (s *SQLStore) GetFieldSQL(ctx context.Context, table, aggregate string, conds core.Conditions) (any, error) {
	sc, err := s.schemaOf(table)
	if err != nil {
		return nil, err
	}
	where, params, err := s.where(sc, conds)
	if err != nil {
		return nil, err
	}

	var v any
	q := s.dialect.Rebind("SELECT " + aggregate + " FROM " + core.QuoteIdent(table) + where)
	if err := s.db.QueryRowContext(ctx, q, params...).Scan(&v); err != nil {
		return nil, fmt.Errorf("failed to evaluate %s on %s: %w", aggregate, table, err)
	}
	return aggregateValue(s.mapper, v), nil
}

// aggregateValue normalizes an aggregate scanned without a column type.
// MySQL returns DECIMAL sums as text.
func aggregateValue(m *schema.TypeMapper, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if str, ok := v.(string); ok {
		if i, err := strconv.ParseInt(str, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(str, 64); err == nil {
			return m.Normalize(f)
		}
		return str
	}
	return m.Normalize(v)
}

// CountRecords returns the number of matching records.
func (s *SQLStore) CountRecords(ctx context.Context, table string, conds core.Conditions) (int, error) {
	v, err := s.GetFieldSQL(ctx, table, "COUNT(*)", conds)
	if err != nil {
		return 0, err
	}
	n, _ := core.ToNumber(v)
	return int(n), nil
}

// InsertRecord inserts or replaces a record and returns its row id. A nil
// row-id primary key is omitted so the engine generates it.
func (s *SQLStore) InsertRecord(ctx context.Context, table string, record core.Record) (int64, error) {
	sc, err := s.schemaOf(table)
	if err != nil {
		return 0, err
	}
	r, err := s.convertRecord(sc, record)
	if err != nil {
		return 0, err
	}

	cols := make([]string, 0, len(r))
	for _, col := range sc.Columns {
		v, ok := r[col.Name]
		if !ok || (v == nil && sc.IsRowIDKey() && col.Name == sc.RowIDColumn) {
			continue
		}
		cols = append(cols, col.Name)
	}
	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = r[c]
	}

	if s.dialect == Postgres {
		returning := ""
		if sc.IsRowIDKey() {
			returning = sc.RowIDColumn
		}
		q := s.dialect.Upsert(sc, cols, returning)
		if returning == "" {
			_, err := s.exec(ctx, q, args...)
			return 0, wrapInsert(table, err)
		}
		var id int64
		err := s.db.QueryRowContext(ctx, s.dialect.Rebind(q), args...).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			// DO NOTHING hit an existing row.
			n, _ := core.ToNumber(r[sc.RowIDColumn])
			return int64(n), nil
		}
		return id, wrapInsert(table, err)
	}

	res, err := s.exec(ctx, s.dialect.Upsert(sc, cols, ""), args...)
	if err != nil {
		return 0, wrapInsert(table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, nil
	}
	return id, nil
}

func wrapInsert(table string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to insert into %s: %w", table, err)
}

// UpdateRecords sets values on the records matching the equality mapping.
func (s *SQLStore) UpdateRecords(ctx context.Context, table string, values, where core.Record) error {
	return s.UpdateRecordsWhere(ctx, table, values, core.Equal(where))
}

// UpdateRecordsWhere sets values on the records matching conds.
func (s *SQLStore) UpdateRecordsWhere(ctx context.Context, table string, values core.Record, conds core.Conditions) error {
	if len(values) == 0 {
		return nil
	}
	sc, err := s.schemaOf(table)
	if err != nil {
		return err
	}
	vals, err := s.convertRecord(sc, values)
	if err != nil {
		return err
	}
	where, params, err := s.where(sc, conds)
	if err != nil {
		return err
	}

	sets := make([]string, 0, len(vals))
	args := make([]any, 0, len(vals)+len(params))
	for _, col := range sortedColumns(vals) {
		sets = append(sets, core.QuoteIdent(col)+" = ?")
		args = append(args, vals[col])
	}
	args = append(args, params...)

	if _, err := s.exec(ctx, "UPDATE "+core.QuoteIdent(table)+" SET "+strings.Join(sets, ", ")+where, args...); err != nil {
		return fmt.Errorf("failed to update %s: %w", table, err)
	}
	return nil
}

// DeleteRecords removes the records matching the equality mapping. An
// empty mapping empties the table.
func (s *SQLStore) DeleteRecords(ctx context.Context, table string, where core.Record) error {
	return s.DeleteRecordsSelect(ctx, table, core.Equal(where))
}

// DeleteRecordsSelect removes the records matching conds.
func (s *SQLStore) DeleteRecordsSelect(ctx context.Context, table string, conds core.Conditions) error {
	sc, err := s.schemaOf(table)
	if err != nil {
		return err
	}
	where, params, err := s.where(sc, conds)
	if err != nil {
		return err
	}
	if _, err := s.exec(ctx, "DELETE FROM "+core.QuoteIdent(table)+where, params...); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func sortedColumns(r core.Record) []string {
	cols := make([]string, 0, len(r))
	for k := range r {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}
