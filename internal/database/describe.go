package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
)

// DescribeTable reads the live definition of a table from the engine's
// catalog. Column types are reported as the engine names them.
func (s *SQLStore) DescribeTable(ctx context.Context, table string) (*core.Schema, error) {
	if s.isClosed() {
		return nil, core.ErrClosed
	}

	var (
		sc  *core.Schema
		err error
	)
	switch s.dialect.Name {
	case SQLite.Name:
		sc, err = s.describeSQLite(ctx, table)
	case MySQL.Name:
		sc, err = s.describeInformationSchema(ctx, table, "DATABASE()")
		if err == nil {
			err = s.describeMySQLIndexes(ctx, sc)
		}
	case Postgres.Name:
		sc, err = s.describeInformationSchema(ctx, table, "current_schema()")
	default:
		return nil, fmt.Errorf("describe not supported for %s", s.dialect.Name)
	}
	if err != nil {
		return nil, err
	}
	if len(sc.Columns) == 0 {
		return nil, fmt.Errorf("table %s: %w", table, core.ErrNotFound)
	}
	return sc, nil
}

func (s *SQLStore) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *SQLStore) describeSQLite(ctx context.Context, table string) (*core.Schema, error) {
	rows, err := s.query(ctx, "PRAGMA table_info("+core.QuoteIdent(table)+")")
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	sc := &core.Schema{TableName: table}
	pks := map[int]string{}
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, dataType   string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		col := core.Column{Name: name, Type: dataType, Nullable: notNull == 0 && pk == 0}
		if dflt.Valid {
			col.Default = dflt.String
		}
		sc.Columns = append(sc.Columns, col)
		if pk > 0 {
			pks[pk] = name
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns: %w", err)
	}

	order := make([]int, 0, len(pks))
	for i := range pks {
		order = append(order, i)
	}
	sort.Ints(order)
	for _, i := range order {
		sc.PrimaryKeys = append(sc.PrimaryKeys, pks[i])
	}
	// a lone INTEGER primary key aliases the sqlite rowid
	if len(sc.PrimaryKeys) == 1 {
		if col, _ := sc.Column(sc.PrimaryKeys[0]); col.Type == "INTEGER" {
			sc.RowIDColumn = col.Name
		}
	}
	return sc, nil
}

func (s *SQLStore) describeInformationSchema(ctx context.Context, table, schemaExpr string) (*core.Schema, error) {
	rows, err := s.query(ctx, `
		SELECT column_name, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = `+schemaExpr+` AND table_name = ?
		ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	sc := &core.Schema{TableName: table}
	for rows.Next() {
		var name, dataType, nullable string
		var dflt sql.NullString
		if err := rows.Scan(&name, &dataType, &nullable, &dflt); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		col := core.Column{Name: name, Type: dataType, Nullable: nullable == "YES"}
		if dflt.Valid {
			col.Default = dflt.String
		}
		sc.Columns = append(sc.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns: %w", err)
	}

	pkRows, err := s.query(ctx, `
		SELECT k.column_name
		FROM information_schema.table_constraints t
		JOIN information_schema.key_column_usage k
		  ON k.constraint_name = t.constraint_name
		 AND k.table_schema = t.table_schema
		 AND k.table_name = t.table_name
		WHERE t.constraint_type = 'PRIMARY KEY'
		  AND t.table_schema = `+schemaExpr+` AND t.table_name = ?
		ORDER BY k.ordinal_position`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query primary key: %w", err)
	}
	defer pkRows.Close()
	for pkRows.Next() {
		var name string
		if err := pkRows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan primary key: %w", err)
		}
		sc.PrimaryKeys = append(sc.PrimaryKeys, name)
	}
	return sc, pkRows.Err()
}

func (s *SQLStore) describeMySQLIndexes(ctx context.Context, sc *core.Schema) error {
	rows, err := s.query(ctx, `
		SELECT index_name, column_name, non_unique
		FROM information_schema.statistics
		WHERE table_schema = DATABASE() AND table_name = ? AND index_name <> 'PRIMARY'
		ORDER BY index_name, seq_in_index`, sc.TableName)
	if err != nil {
		return fmt.Errorf("failed to query indexes: %w", err)
	}
	defer rows.Close()

	byName := map[string]int{}
	for rows.Next() {
		var name, column string
		var nonUnique int
		if err := rows.Scan(&name, &column, &nonUnique); err != nil {
			return fmt.Errorf("failed to scan index: %w", err)
		}
		if i, ok := byName[name]; ok {
			sc.Indexes[i].Columns = append(sc.Indexes[i].Columns, column)
			continue
		}
		byName[name] = len(sc.Indexes)
		sc.Indexes = append(sc.Indexes, core.Index{Name: name, Columns: []string{column}, Unique: nonUnique == 0})
	}
	return rows.Err()
}

// ListTables returns the user tables of the database, sorted.
func (s *SQLStore) ListTables(ctx context.Context) ([]string, error) {
	if s.isClosed() {
		return nil, core.ErrClosed
	}
	var q string
	switch s.dialect.Name {
	case SQLite.Name:
		q = "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'"
	case MySQL.Name:
		q = "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'"
	default:
		q = "SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'"
	}
	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	sort.Strings(tables)
	return tables, rows.Err()
}
