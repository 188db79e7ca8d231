package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
)

// Translator converts records between their in-memory form, their
// serialized KV form and the canonical values stores compare on.
type Translator struct {
	mapper    *TypeMapper
	keyFormat string // Format for building keys: "{namespace}:{table}:{primary_key}"
	namespace string
}

// NewTranslator creates a new schema translator.
func NewTranslator() *Translator {
	return &Translator{
		mapper:    NewTypeMapper(),
		keyFormat: "%s:%s", // Default format: table:primary_key
	}
}

// NewTranslatorWithNamespace creates a translator whose KV keys are
// prefixed with namespace, so several sites can share one KV backend.
func NewTranslatorWithNamespace(namespace string) *Translator {
	t := NewTranslator()
	t.namespace = namespace
	return t
}

// Mapper returns the type mapper used by the translator.
func (t *Translator) Mapper() *TypeMapper {
	return t.mapper
}

// NormalizeRecord converts every value of the record to the canonical Go
// value of its column type. Columns unknown to the schema are normalized
// generically.
func (t *Translator) NormalizeRecord(record core.Record, schema *core.Schema) (core.Record, error) {
	if record == nil {
		return nil, fmt.Errorf("record cannot be nil")
	}

	out := make(core.Record, len(record))
	for colName, value := range record {
		var dbType string
		if schema != nil {
			if col, ok := schema.Column(colName); ok {
				dbType = col.Type
			}
		}

		converted, err := t.mapper.ConvertToDBValue(value, dbType)
		if err != nil {
			return nil, fmt.Errorf("failed to convert value for column '%s': %w", colName, err)
		}
		out[colName] = converted
	}
	return out, nil
}

// SerializeKey renders a primary-key tuple as a stable string. Values are
// compared by their canonical text, so 5, int64(5) and 5.0 share a key.
func (t *Translator) SerializeKey(schema *core.Schema, record core.Record) (string, error) {
	pk, err := schema.PrimaryKeyOf(record)
	if err != nil {
		return "", err
	}
	if len(schema.PrimaryKeys) == 1 {
		return core.ToText(pk[schema.PrimaryKeys[0]]), nil
	}
	parts := make([]string, len(schema.PrimaryKeys))
	for i, col := range schema.PrimaryKeys {
		parts[i] = core.ToText(pk[col])
	}
	data, err := json.Marshal(parts)
	if err != nil {
		return "", fmt.Errorf("failed to serialize primary key: %w", err)
	}
	return string(data), nil
}

// KeyPrefix returns the prefix shared by every KV key of the table.
func (t *Translator) KeyPrefix(tableName string) string {
	if t.namespace != "" {
		return t.namespace + ":" + tableName + ":"
	}
	return tableName + ":"
}

// BuildKey returns the KV key for a serialized primary key.
func (t *Translator) BuildKey(tableName, serializedKey string) string {
	return t.KeyPrefix(tableName) + serializedKey
}

// ToKV converts a record to a key-value pair.
// Returns the key (namespace:table:primary_key) and the serialized value.
func (t *Translator) ToKV(record core.Record, schema *core.Schema) (string, []byte, error) {
	if record == nil {
		return "", nil, fmt.Errorf("record cannot be nil")
	}
	if schema == nil {
		return "", nil, fmt.Errorf("schema cannot be nil")
	}

	validator := NewSchemaValidator(schema)
	if err := validator.ValidateRecord(record); err != nil {
		return "", nil, fmt.Errorf("validation failed: %w", err)
	}

	kvRecord, err := t.NormalizeRecord(record, schema)
	if err != nil {
		return "", nil, err
	}

	pk, err := t.SerializeKey(schema, kvRecord)
	if err != nil {
		return "", nil, err
	}

	value, err := json.Marshal(kvRecord)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal record to JSON: %w", err)
	}

	return t.BuildKey(schema.TableName, pk), value, nil
}

// FromKV deserializes a key-value pair back into a record.
// Numbers are decoded exactly and converted back to their column type.
func (t *Translator) FromKV(key string, value []byte, schema *core.Schema) (core.Record, error) {
	if value == nil {
		return nil, fmt.Errorf("value cannot be nil")
	}
	if schema == nil {
		return nil, fmt.Errorf("schema cannot be nil")
	}
	if !strings.HasPrefix(key, t.KeyPrefix(schema.TableName)) {
		return nil, fmt.Errorf("key %q does not belong to table %s", key, schema.TableName)
	}

	dec := json.NewDecoder(bytes.NewReader(value))
	dec.UseNumber()
	var kvRecord core.Record
	if err := dec.Decode(&kvRecord); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	return t.NormalizeRecord(kvRecord, schema)
}
