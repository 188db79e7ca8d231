package schema

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
)

// Logical column types understood by every row store.
const (
	TypeInteger = "INTEGER"
	TypeReal    = "REAL"
	TypeText    = "TEXT"
	TypeBlob    = "BLOB"
	TypeBoolean = "BOOLEAN"
	TypeJSON    = "JSON"
)

// TypeMapper handles mapping between logical column types, SQL dialect types
// and the canonical Go values records carry.
type TypeMapper struct{}

// NewTypeMapper creates a new type mapper.
func NewTypeMapper() *TypeMapper {
	return &TypeMapper{}
}

// LogicalType folds a SQL type name (e.g. "VARCHAR(255)", "BIGINT") into
// one of the logical types.
func (tm *TypeMapper) LogicalType(dbType string) string {
	baseType := strings.ToUpper(strings.TrimSpace(dbType))
	if idx := strings.Index(baseType, "("); idx > 0 {
		baseType = baseType[:idx]
	}

	switch baseType {
	case "INT", "INTEGER", "MEDIUMINT", "BIGINT", "SMALLINT", "TINYINT":
		return TypeInteger
	case "FLOAT", "DOUBLE", "DOUBLE PRECISION", "REAL", "NUMERIC", "DECIMAL":
		return TypeReal
	case "BINARY", "VARBINARY", "BLOB", "LONGBLOB", "MEDIUMBLOB", "TINYBLOB", "BYTEA":
		return TypeBlob
	case "BOOLEAN", "BOOL":
		return TypeBoolean
	case "JSON", "JSONB":
		return TypeJSON
	case "":
		return ""
	default:
		return TypeText
	}
}

// DDLType returns the column type used in CREATE TABLE for the dialect.
func (tm *TypeMapper) DDLType(dbType, dialect string, primaryKey bool) string {
	switch tm.LogicalType(dbType) {
	case TypeInteger:
		if dialect == "sqlite3" {
			return "INTEGER"
		}
		return "BIGINT"
	case TypeReal:
		if dialect == "postgres" {
			return "DOUBLE PRECISION"
		}
		return "DOUBLE"
	case TypeBlob:
		if dialect == "postgres" {
			return "BYTEA"
		}
		return "BLOB"
	case TypeBoolean:
		return "BOOLEAN"
	default:
		// MySQL cannot index unbounded TEXT columns.
		if primaryKey && dialect == "mysql" {
			return "VARCHAR(255)"
		}
		return "TEXT"
	}
}

// ConvertToDBValue converts a Go value to the canonical value for the
// column type. Unknown types are normalized generically.
func (tm *TypeMapper) ConvertToDBValue(value any, dbType string) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch tm.LogicalType(dbType) {
	case TypeInteger:
		return tm.toInt64(value)
	case TypeReal:
		return tm.toFloat64(value)
	case TypeText:
		return tm.toString(value)
	case TypeBlob:
		return tm.toBytes(value)
	case TypeBoolean:
		return tm.toBool(value)
	case TypeJSON:
		return tm.toJSON(value)
	default:
		return tm.Normalize(value), nil
	}
}

// ConvertFromDBValue converts a value read from a store to its canonical
// Go form. Handles driver.Valuer wrappers such as sql.NullString.
func (tm *TypeMapper) ConvertFromDBValue(value any, dbType string) (any, error) {
	if valuer, ok := value.(driver.Valuer); ok {
		val, err := valuer.Value()
		if err != nil {
			return nil, err
		}
		value = val
	}
	return tm.ConvertToDBValue(value, dbType)
}

// Normalize maps a value of unknown column type to its canonical form:
// integers become int64, floats float64, json.Number whichever fits.
func (tm *TypeMapper) Normalize(value any) any {
	switch v := value.(type) {
	case nil, string, bool, float64, int64, []byte:
		return v
	case float32:
		return float64(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	}
	if i, ok, err := exactInt(value); ok && err == nil {
		return i
	}
	if f, ok := core.ToNumber(value); ok {
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	}
	return fmt.Sprint(value)
}

func (tm *TypeMapper) toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to integer: %w", v, err)
		}
		return i, nil
	case []byte:
		return tm.toInt64(string(v))
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
	}
	if i, ok, err := exactInt(value); ok {
		return i, err
	}
	f, ok := core.ToNumber(value)
	if !ok {
		return 0, fmt.Errorf("cannot convert %T to integer", value)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("cannot convert non-integral %v to integer", f)
	}
	return int64(f), nil
}

// exactInt converts Go integer types without passing through float64.
func exactInt(value any) (int64, bool, error) {
	switch v := value.(type) {
	case int:
		return int64(v), true, nil
	case int8:
		return int64(v), true, nil
	case int16:
		return int64(v), true, nil
	case int32:
		return int64(v), true, nil
	case int64:
		return v, true, nil
	case uint8:
		return int64(v), true, nil
	case uint16:
		return int64(v), true, nil
	case uint32:
		return int64(v), true, nil
	case uint:
		return uintToInt64(uint64(v))
	case uint64:
		return uintToInt64(v)
	}
	return 0, false, nil
}

func uintToInt64(v uint64) (int64, bool, error) {
	if v > math.MaxInt64 {
		return 0, true, fmt.Errorf("cannot convert %d to integer: overflows int64", v)
	}
	return int64(v), true, nil
}

func (tm *TypeMapper) toFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to real: %w", v, err)
		}
		return f, nil
	case []byte:
		return tm.toFloat64(string(v))
	}
	f, ok := core.ToNumber(value)
	if !ok {
		return 0, fmt.Errorf("cannot convert %T to real", value)
	}
	return f, nil
}

func (tm *TypeMapper) toString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return core.ToText(value), nil
}

func (tm *TypeMapper) toBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("cannot convert %T to bytes", value)
	}
}

func (tm *TypeMapper) toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("cannot convert %q to boolean: %w", v, err)
		}
		return b, nil
	case []byte:
		return tm.toBool(string(v))
	}
	f, ok := core.ToNumber(value)
	if !ok {
		return false, fmt.Errorf("cannot convert %T to boolean", value)
	}
	return f != 0, nil
}

// toJSON stores structured values as their JSON text.
func (tm *TypeMapper) toJSON(value any) (string, error) {
	switch v := value.(type) {
	case string:
		if !json.Valid([]byte(v)) {
			return "", fmt.Errorf("invalid JSON text")
		}
		return v, nil
	case []byte:
		return tm.toJSON(string(v))
	case json.RawMessage:
		return string(v), nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON value: %w", err)
	}
	return string(data), nil
}
