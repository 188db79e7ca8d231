package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
	"github.com/rzpsarthak13/rpc-absorber/internal/kvstore"
	"github.com/rzpsarthak13/rpc-absorber/internal/registry"
)

func itemSchema() *core.Schema {
	return &core.Schema{
		TableName:   "items",
		PrimaryKeys: []string{"id"},
		Columns: []core.Column{
			{Name: "id", Type: "INTEGER"},
			{Name: "name", Type: "TEXT", Nullable: true},
			{Name: "price", Type: "REAL", Nullable: true},
		},
		Indexes: []core.Index{{Name: "items_name", Columns: []string{"name"}}},
	}
}

func noteSchema() *core.Schema {
	return &core.Schema{
		TableName:   "notes",
		PrimaryKeys: []string{"rowid"},
		RowIDColumn: "rowid",
		Columns: []core.Column{
			{Name: "rowid", Type: "INTEGER", Nullable: true},
			{Name: "body", Type: "TEXT", Nullable: true},
		},
	}
}

func openStores(t *testing.T) map[string]core.RowStore {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	stores := map[string]core.RowStore{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
		"kv":     NewKVRowStore(kvstore.NewMemoryKVStore(), "test"),
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func seed(t *testing.T, ctx context.Context, s core.RowStore) {
	t.Helper()
	require.NoError(t, s.EnsureTable(ctx, itemSchema()))
	for _, r := range []core.Record{
		{"id": 1, "name": "bolt", "price": 1.5},
		{"id": 2, "name": "nut", "price": 0.5},
		{"id": 3, "name": "washer", "price": 2.0},
	} {
		_, err := s.InsertRecord(ctx, "items", r)
		require.NoError(t, err)
	}
}

func ids(records []core.Record) []int64 {
	out := make([]int64, len(records))
	for i, r := range records {
		n, _ := core.ToNumber(r["id"])
		out[i] = int64(n)
	}
	return out
}

func TestRowStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, ctx, s)

			r, err := s.GetRecord(ctx, "items", core.Equal(core.Record{"id": 2}))
			require.NoError(t, err)
			assert.Equal(t, "nut", r["name"])
			assert.Equal(t, int64(2), r["id"])

			_, err = s.GetRecord(ctx, "items", core.Equal(core.Record{"id": 9}))
			assert.ErrorIs(t, err, core.ErrNotFound)

			all, err := s.GetAllRecords(ctx, "items")
			require.NoError(t, err)
			assert.ElementsMatch(t, []int64{1, 2, 3}, ids(all))

			sorted, err := s.GetRecords(ctx, "items", core.Conditions{}, core.Query{
				Sort:  []core.Sort{{Column: "price", Desc: true}},
				Limit: 2,
			})
			require.NoError(t, err)
			assert.Equal(t, []int64{3, 1}, ids(sorted))

			projected, err := s.GetRecords(ctx, "items", core.Equal(core.Record{"name": "bolt"}), core.Query{Columns: []string{"name"}})
			require.NoError(t, err)
			require.Len(t, projected, 1)
			assert.Equal(t, core.Record{"name": "bolt"}, projected[0])

			cheap := core.Filter(core.Lt("price", 1.6))
			selected, err := s.GetRecordsSelect(ctx, "items", cheap)
			require.NoError(t, err)
			assert.ElementsMatch(t, []int64{1, 2}, ids(selected))

			n, err := s.CountRecords(ctx, "items", cheap)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			require.NoError(t, s.UpdateRecords(ctx, "items", core.Record{"price": 9.0}, core.Record{"id": 2}))
			r, err = s.GetRecord(ctx, "items", core.Equal(core.Record{"id": 2}))
			require.NoError(t, err)
			assert.Equal(t, 9.0, r["price"])

			require.NoError(t, s.UpdateRecordsWhere(ctx, "items", core.Record{"name": "big"}, core.Filter(core.Gt("price", 1.9))))
			big, err := s.GetRecordsSelect(ctx, "items", core.Equal(core.Record{"name": "big"}))
			require.NoError(t, err)
			assert.ElementsMatch(t, []int64{2, 3}, ids(big))

			// insert replaces on primary key
			_, err = s.InsertRecord(ctx, "items", core.Record{"id": 1, "name": "screw", "price": 1.0})
			require.NoError(t, err)
			n, err = s.CountRecords(ctx, "items", core.Conditions{})
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			require.NoError(t, s.DeleteRecordsSelect(ctx, "items", core.Filter(core.HasPrefix("name", "b"))))
			require.NoError(t, s.DeleteRecords(ctx, "items", core.Record{"id": 1}))
			n, err = s.CountRecords(ctx, "items", core.Conditions{})
			require.NoError(t, err)
			assert.Equal(t, 0, n)
		})
	}
}

func TestRowIDGeneration(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.EnsureTable(ctx, noteSchema()))

			first, err := s.InsertRecord(ctx, "notes", core.Record{"body": "a"})
			require.NoError(t, err)
			second, err := s.InsertRecord(ctx, "notes", core.Record{"rowid": nil, "body": "b"})
			require.NoError(t, err)
			assert.Equal(t, int64(1), first)
			assert.Equal(t, int64(2), second)

			r, err := s.GetRecord(ctx, "notes", core.Equal(core.Record{"rowid": second}))
			require.NoError(t, err)
			assert.Equal(t, "b", r["body"])
		})
	}
}

func TestGetFieldSQL(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, ctx, s)
			v, err := s.GetFieldSQL(ctx, "items", "SUM(price)", core.Filter(core.Ge("id", 2)))
			if name != "sqlite" {
				assert.ErrorIs(t, err, core.ErrNativeUnsupported)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 2.5, v)
		})
	}
}

func TestRawExpressionRejectedWithoutPredicate(t *testing.T) {
	ctx := context.Background()
	raw := core.Where(`length("name") > ?`, []any{3}, nil)
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, ctx, s)
			records, err := s.GetRecordsSelect(ctx, "items", raw)
			if name == "sqlite" {
				require.NoError(t, err)
				assert.ElementsMatch(t, []int64{1, 3}, ids(records))
				return
			}
			assert.ErrorIs(t, err, core.ErrInvalidConditions)
		})
	}
}

func TestKVRowStoreMovesRecordOnKeyChange(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemoryKVStore()
	s := NewKVRowStore(kv, "")
	seed(t, ctx, s)

	require.NoError(t, s.UpdateRecords(ctx, "items", core.Record{"id": 7}, core.Record{"id": 3}))

	keys, err := kv.Keys(ctx, "items:")
	require.NoError(t, err)
	assert.Equal(t, []string{"items:1", "items:2", "items:7"}, keys)

	r, err := s.GetRecord(ctx, "items", core.Equal(core.Record{"id": 7}))
	require.NoError(t, err)
	assert.Equal(t, "washer", r["name"])
}

func TestMemoryStoreCountsCalls(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, ctx, s)

	_, _ = s.GetRecord(ctx, "items", core.Equal(core.Record{"id": 1}))
	_, _ = s.GetRecord(ctx, "items", core.Equal(core.Record{"id": 1}))
	_, _ = s.GetAllRecords(ctx, "items")

	assert.Equal(t, 2, s.Calls("GetRecord"))
	assert.Equal(t, 3, s.Calls("InsertRecord"))
	assert.Equal(t, 3, s.TotalReads())
}

func TestMigrationsCreateCacheTable(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, CheckMigrations(s.DB(), SQLite))

	n, err := Migrate(s.DB(), SQLite)
	require.NoError(t, err)
	assert.Zero(t, n)

	tables, err := s.ListTables(ctx)
	require.NoError(t, err)
	assert.Contains(t, tables, "wscache")

	sc, err := s.DescribeTable(ctx, "wscache")
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, sc.PrimaryKeys)
	assert.Len(t, sc.Columns, 6)

	_, err = s.DescribeTable(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDescribeRowIDTable(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "d.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.EnsureTable(ctx, noteSchema()))
	sc, err := s.DescribeTable(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, "rowid", sc.RowIDColumn)
	assert.True(t, sc.IsRowIDKey())
}

func TestDialectStatements(t *testing.T) {
	assert.Equal(t, `SELECT * FROM "t" WHERE "a" = $1 AND "b" = $2`, Postgres.Rebind(`SELECT * FROM "t" WHERE "a" = ? AND "b" = ?`))
	assert.Equal(t, `"a" = ?`, MySQL.Rebind(`"a" = ?`))

	sc := itemSchema()
	cols := []string{"id", "name", "price"}
	assert.Equal(t, `INSERT OR REPLACE INTO "items" ("id", "name", "price") VALUES (?, ?, ?)`, SQLite.Upsert(sc, cols, ""))
	assert.Equal(t, `REPLACE INTO "items" ("id", "name", "price") VALUES (?, ?, ?)`, MySQL.Upsert(sc, cols, ""))
	assert.Equal(t,
		`INSERT INTO "items" ("id", "name", "price") VALUES (?, ?, ?) ON CONFLICT ("id") DO UPDATE SET "name" = EXCLUDED."name", "price" = EXCLUDED."price" RETURNING "id"`,
		Postgres.Upsert(sc, cols, "id"))

	assert.Equal(t, `CREATE TABLE IF NOT EXISTS "notes" ("rowid" INTEGER PRIMARY KEY, "body" TEXT)`, SQLite.CreateTable(noteSchema()))
	assert.Equal(t, `CREATE INDEX "items_name" ON "items" ("name")`, MySQL.CreateIndex("items", sc.Indexes[0]))
}

func TestDSNs(t *testing.T) {
	sc := registry.InternalStoreConfig{
		Host: "db", Database: "app", Username: "u", Password: "p", SSLMode: "disable",
	}
	assert.Equal(t, "postgres://u:p@db:5432/app?sslmode=disable", PostgresDSN(sc))
	assert.Contains(t, MySQLDSN(sc), "u:p@tcp(db:3306)/app")
}

func TestOpenDispatchesOnStoreType(t *testing.T) {
	cfg := registry.DefaultInternalConfig()
	cfg.Store.Type = "memory"
	s, err := Open(cfg)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	cfg.Store.Type = "kv"
	s, err = Open(cfg)
	require.NoError(t, err)
	assert.IsType(t, &KVRowStore{}, s)

	cfg.Store.Type = "sqlite"
	cfg.Store.Path = filepath.Join(t.TempDir(), "o.db")
	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &SQLStore{}, s)
}
