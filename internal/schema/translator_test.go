package schema

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
)

func widgetSchema() *core.Schema {
	return &core.Schema{
		TableName:   "widgets",
		PrimaryKeys: []string{"id"},
		Columns: []core.Column{
			{Name: "id", Type: TypeInteger},
			{Name: "name", Type: TypeText, Nullable: true},
			{Name: "price", Type: TypeReal, Nullable: true},
			{Name: "active", Type: TypeBoolean, Nullable: true},
		},
	}
}

func TestTranslatorRoundTrip(t *testing.T) {
	tr := NewTranslator()
	s := widgetSchema()

	key, value, err := tr.ToKV(core.Record{"id": 42, "name": "gear", "price": float32(1.5), "active": true}, s)
	require.NoError(t, err)
	assert.Equal(t, "widgets:42", key)

	got, err := tr.FromKV(key, value, s)
	require.NoError(t, err)
	assert.Equal(t, core.Record{"id": int64(42), "name": "gear", "price": 1.5, "active": true}, got)
}

func TestTranslatorKeepsLargeIntegersExact(t *testing.T) {
	tr := NewTranslator()
	s := widgetSchema()

	key, value, err := tr.ToKV(core.Record{"id": int64(9007199254740993)}, s)
	require.NoError(t, err)

	got, err := tr.FromKV(key, value, s)
	require.NoError(t, err)
	assert.Equal(t, int64(9007199254740993), got["id"])
}

func TestTranslatorRejectsForeignKey(t *testing.T) {
	tr := NewTranslator()
	_, err := tr.FromKV("gadgets:1", []byte(`{"id":1}`), widgetSchema())
	assert.Error(t, err)
}

func TestSerializeKey(t *testing.T) {
	tr := NewTranslator()

	single, err := tr.SerializeKey(widgetSchema(), core.Record{"id": 5.0, "name": "x"})
	require.NoError(t, err)
	assert.Equal(t, "5", single)

	composite := &core.Schema{TableName: "grades", PrimaryKeys: []string{"course", "user"}}
	key, err := tr.SerializeKey(composite, core.Record{"user": 7, "course": "c1"})
	require.NoError(t, err)

	var parts []string
	require.NoError(t, json.Unmarshal([]byte(key), &parts))
	assert.Equal(t, []string{"c1", "7"}, parts)

	_, err = tr.SerializeKey(composite, core.Record{"course": "c1"})
	assert.Error(t, err)
}

func TestNamespacedKeys(t *testing.T) {
	tr := NewTranslatorWithNamespace("site1")
	assert.Equal(t, "site1:widgets:", tr.KeyPrefix("widgets"))
	assert.Equal(t, "site1:widgets:9", tr.BuildKey("widgets", "9"))
}

func TestNormalizeRecordGeneric(t *testing.T) {
	tr := NewTranslator()
	got, err := tr.NormalizeRecord(core.Record{"n": json.Number("3"), "f": json.Number("2.5"), "i": uint16(4)}, nil)
	require.NoError(t, err)
	assert.Equal(t, core.Record{"n": int64(3), "f": 2.5, "i": int64(4)}, got)
}

func TestValidator(t *testing.T) {
	v := NewSchemaValidator(widgetSchema())

	assert.NoError(t, v.ValidateRecord(core.Record{"id": 1}))
	assert.Error(t, v.ValidateRecord(core.Record{"name": "no id"}))
	assert.Error(t, v.ValidateRecord(core.Record{"id": "abc"}))

	assert.NoError(t, v.ValidatePartialRecord(core.Record{"name": nil, "unknown": 3}))
	assert.Error(t, v.ValidatePartialRecord(core.Record{"id": nil}))

	assert.NoError(t, v.ValidatePrimaryKey(core.Record{"id": 3}))
	assert.Error(t, v.ValidatePrimaryKey(core.Record{"id": 3, "name": "x"}))
}

func TestValidatorRowIDKey(t *testing.T) {
	s := &core.Schema{
		TableName:   "logs",
		PrimaryKeys: []string{"rowid"},
		RowIDColumn: "rowid",
		Columns:     []core.Column{{Name: "rowid", Type: TypeInteger}, {Name: "msg", Type: TypeText}},
	}
	assert.NoError(t, NewSchemaValidator(s).ValidateRecord(core.Record{"msg": "hello"}))
}

func TestDDLType(t *testing.T) {
	m := NewTypeMapper()
	assert.Equal(t, "INTEGER", m.DDLType("int", "sqlite3", true))
	assert.Equal(t, "BIGINT", m.DDLType("INTEGER", "postgres", false))
	assert.Equal(t, "DOUBLE PRECISION", m.DDLType(TypeReal, "postgres", false))
	assert.Equal(t, "VARCHAR(255)", m.DDLType(TypeText, "mysql", true))
	assert.Equal(t, "TEXT", m.DDLType(TypeText, "mysql", false))
}

func TestConvertIntegersExactly(t *testing.T) {
	m := NewTypeMapper()
	for _, v := range []any{
		int(9007199254740993),
		int64(9007199254740993),
		uint(9007199254740993),
		uint64(9007199254740993),
	} {
		got, err := m.ConvertToDBValue(v, TypeInteger)
		require.NoError(t, err)
		assert.Equal(t, int64(9007199254740993), got, "%T", v)
		assert.Equal(t, int64(9007199254740993), m.Normalize(v), "%T", v)
	}

	got, err := m.ConvertToDBValue(int8(-7), TypeInteger)
	require.NoError(t, err)
	assert.Equal(t, int64(-7), got)

	_, err = m.ConvertToDBValue(uint64(math.MaxInt64)+1, TypeInteger)
	assert.Error(t, err)
}
