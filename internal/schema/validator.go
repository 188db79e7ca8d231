package schema

import (
	"fmt"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
)

// SchemaValidator validates records against schema definitions.
type SchemaValidator struct {
	schema *core.Schema
	mapper *TypeMapper
}

// NewSchemaValidator creates a new schema validator.
func NewSchemaValidator(schema *core.Schema) *SchemaValidator {
	return &SchemaValidator{
		schema: schema,
		mapper: NewTypeMapper(),
	}
}

// ValidateRecord validates a full record before it is inserted.
// Primary-key columns must be present unless the key is the store-generated
// row id, non-nullable columns must be set and every value must convert to
// its column type.
func (sv *SchemaValidator) ValidateRecord(record core.Record) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if sv.schema == nil {
		return fmt.Errorf("schema cannot be nil")
	}

	if !sv.schema.IsRowIDKey() {
		for _, pk := range sv.schema.PrimaryKeys {
			if v, exists := record[pk]; !exists || v == nil {
				return fmt.Errorf("missing required primary key: %s", pk)
			}
		}
	}

	for _, column := range sv.schema.Columns {
		value, exists := record[column.Name]
		if !exists || value == nil {
			if !column.Nullable && column.Default == nil && column.Name != sv.schema.RowIDColumn {
				return fmt.Errorf("column '%s' cannot be NULL", column.Name)
			}
			continue
		}

		if err := sv.validateColumnType(column, value); err != nil {
			return fmt.Errorf("column '%s': %w", column.Name, err)
		}
	}

	return nil
}

// ValidatePartialRecord validates the values of an update.
// Only validates fields that are present in the record.
func (sv *SchemaValidator) ValidatePartialRecord(record core.Record) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if sv.schema == nil {
		return fmt.Errorf("schema cannot be nil")
	}

	for fieldName, fieldValue := range record {
		column, ok := sv.schema.Column(fieldName)
		if !ok {
			continue
		}

		if fieldValue == nil {
			if !column.Nullable {
				return fmt.Errorf("column '%s' cannot be NULL", fieldName)
			}
			continue
		}

		if err := sv.validateColumnType(column, fieldValue); err != nil {
			return fmt.Errorf("column '%s': %w", fieldName, err)
		}
	}

	return nil
}

// ValidatePrimaryKey checks that key carries exactly the primary-key columns.
func (sv *SchemaValidator) ValidatePrimaryKey(key core.Record) error {
	if sv.schema == nil || len(sv.schema.PrimaryKeys) == 0 {
		return fmt.Errorf("schema has no primary key defined")
	}
	if len(key) != len(sv.schema.PrimaryKeys) {
		return fmt.Errorf("primary key of %s needs %d columns, got %d", sv.schema.TableName, len(sv.schema.PrimaryKeys), len(key))
	}
	for _, pk := range sv.schema.PrimaryKeys {
		v, ok := key[pk]
		if !ok || v == nil {
			return fmt.Errorf("missing primary key column: %s", pk)
		}
		if column, ok := sv.schema.Column(pk); ok {
			if err := sv.validateColumnType(column, v); err != nil {
				return fmt.Errorf("column '%s': %w", pk, err)
			}
		}
	}
	return nil
}

// validateColumnType validates that a value is compatible with the column type.
func (sv *SchemaValidator) validateColumnType(column core.Column, value any) error {
	_, err := sv.mapper.ConvertToDBValue(value, column.Type)
	if err != nil {
		return fmt.Errorf("type mismatch: expected %s, got %T: %w", column.Type, value, err)
	}
	return nil
}
