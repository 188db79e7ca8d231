package database

import (
	"strconv"
	"strings"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
	"github.com/rzpsarthak13/rpc-absorber/internal/schema"
)

// Dialect captures the SQL differences between the supported engines.
type Dialect struct {
	// Name is the sql-migrate dialect and the migrations directory.
	Name string

	// Driver is the database/sql driver name.
	Driver string
}

var (
	SQLite   = Dialect{Name: "sqlite3", Driver: "sqlite3"}
	MySQL    = Dialect{Name: "mysql", Driver: "mysql"}
	Postgres = Dialect{Name: "postgres", Driver: "pgx"}
)

// Rebind rewrites '?' placeholders to the engine's style.
func (d Dialect) Rebind(query string) string {
	if d != Postgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// rowIDColumnDDL declares a primary key generated by the engine.
func (d Dialect) rowIDColumnDDL(column string) string {
	switch d {
	case MySQL:
		return core.QuoteIdent(column) + " BIGINT AUTO_INCREMENT PRIMARY KEY"
	case Postgres:
		return core.QuoteIdent(column) + " BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
	default:
		// Aliases the sqlite rowid.
		return core.QuoteIdent(column) + " INTEGER PRIMARY KEY"
	}
}

// CreateTable returns the DDL creating the table if it does not exist.
func (d Dialect) CreateTable(s *core.Schema) string {
	mapper := schema.NewTypeMapper()
	isPK := make(map[string]bool, len(s.PrimaryKeys))
	for _, pk := range s.PrimaryKeys {
		isPK[pk] = true
	}

	defs := make([]string, 0, len(s.Columns)+1)
	for _, col := range s.Columns {
		if s.IsRowIDKey() && col.Name == s.RowIDColumn {
			defs = append(defs, d.rowIDColumnDDL(col.Name))
			continue
		}
		defs = append(defs, core.QuoteIdent(col.Name)+" "+mapper.DDLType(col.Type, d.Name, isPK[col.Name]))
	}
	if !s.IsRowIDKey() && len(s.PrimaryKeys) > 0 {
		defs = append(defs, "PRIMARY KEY ("+quoteList(s.PrimaryKeys)+")")
	}

	return "CREATE TABLE IF NOT EXISTS " + core.QuoteIdent(s.TableName) + " (" + strings.Join(defs, ", ") + ")"
}

// CreateIndex returns the DDL for a secondary index. MySQL has no
// IF NOT EXISTS for indexes; duplicates are tolerated by the caller.
func (d Dialect) CreateIndex(table string, idx core.Index) string {
	var b strings.Builder
	b.WriteString("CREATE ")
	if idx.Unique {
		b.WriteString("UNIQUE ")
	}
	b.WriteString("INDEX ")
	if d != MySQL {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(core.QuoteIdent(idx.Name))
	b.WriteString(" ON ")
	b.WriteString(core.QuoteIdent(table))
	b.WriteString(" (")
	b.WriteString(quoteList(idx.Columns))
	b.WriteString(")")
	return b.String()
}

// Upsert returns an insert-or-replace statement for the given columns.
// returning, when set, is appended as a RETURNING clause (postgres only).
func (d Dialect) Upsert(s *core.Schema, columns []string, returning string) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	target := core.QuoteIdent(s.TableName) + " (" + quoteList(columns) + ") VALUES (" + marks + ")"

	switch d {
	case MySQL:
		return "REPLACE INTO " + target
	case Postgres:
		q := "INSERT INTO " + target + " ON CONFLICT (" + quoteList(s.PrimaryKeys) + ") "
		// Every non-key column is overwritten so the row is replaced, not merged.
		var sets []string
		isPK := make(map[string]bool, len(s.PrimaryKeys))
		for _, pk := range s.PrimaryKeys {
			isPK[pk] = true
		}
		for _, col := range s.Columns {
			if isPK[col.Name] {
				continue
			}
			sets = append(sets, core.QuoteIdent(col.Name)+" = EXCLUDED."+core.QuoteIdent(col.Name))
		}
		if len(sets) == 0 {
			q += "DO NOTHING"
		} else {
			q += "DO UPDATE SET " + strings.Join(sets, ", ")
		}
		if returning != "" {
			q += " RETURNING " + core.QuoteIdent(returning)
		}
		return q
	default:
		return "INSERT OR REPLACE INTO " + target
	}
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = core.QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}
