package core

import "fmt"

// Schema represents the structure of a persisted table.
type Schema struct {
	// TableName is the name of the table.
	TableName string

	// PrimaryKeys are the columns whose value tuple identifies a record.
	PrimaryKeys []string

	// RowIDColumn, when set, is a surrogate identifier generated by the
	// store on insert if the record does not carry one.
	RowIDColumn string

	// Columns contains all column definitions for the table.
	Columns []Column

	// Indexes contains secondary index definitions.
	Indexes []Index
}

// Column represents a single column in a table.
type Column struct {
	// Name is the column name.
	Name string

	// Type is the logical type: INTEGER, REAL, TEXT, BLOB, BOOLEAN or JSON.
	Type string

	// Nullable indicates whether the column can contain NULL values.
	Nullable bool

	// Default is the default value for the column, if any.
	Default any
}

// Index represents a secondary index.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// Column returns the definition of the named column.
func (s *Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// PrimaryKeyOf extracts the primary-key tuple of a record.
func (s *Schema) PrimaryKeyOf(r Record) (Record, error) {
	if len(s.PrimaryKeys) == 0 {
		return nil, fmt.Errorf("table %s declares no primary key", s.TableName)
	}
	pk := make(Record, len(s.PrimaryKeys))
	for _, col := range s.PrimaryKeys {
		v, ok := r[col]
		if !ok || v == nil {
			return nil, fmt.Errorf("primary key column %q missing from record of table %s", col, s.TableName)
		}
		pk[col] = v
	}
	return pk, nil
}

// IsRowIDKey reports whether the primary key is the store-generated row id.
func (s *Schema) IsRowIDKey() bool {
	return s.RowIDColumn != "" && len(s.PrimaryKeys) == 1 && s.PrimaryKeys[0] == s.RowIDColumn
}
