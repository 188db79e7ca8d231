package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
	"github.com/rzpsarthak13/rpc-absorber/internal/database"
	"github.com/rzpsarthak13/rpc-absorber/internal/registry"
	"github.com/rzpsarthak13/rpc-absorber/internal/table"
)

func courseSchema() *core.Schema {
	return &core.Schema{
		TableName:   "courses",
		PrimaryKeys: []string{"id"},
		Columns: []core.Column{
			{Name: "id", Type: "INTEGER"},
			{Name: "fullname", Type: "TEXT", Nullable: true},
		},
	}
}

func newRegistry(t *testing.T, yaml string) (*registry.TableRegistry, *registry.ConfigManager, *database.MemoryStore) {
	t.Helper()
	cm := registry.NewConfigManager()
	require.NoError(t, cm.LoadFromYAML([]byte(yaml)))
	store := database.NewMemoryStore()
	return registry.NewTableRegistry(cm, store, nil), cm, store
}

func TestOpenReturnsUsableProxyImmediately(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := newRegistry(t, "tables: {courses: {strategy: eager}}")

	p, err := tr.Open(ctx, "courses", courseSchema())
	require.NoError(t, err)

	_, err = p.Insert(ctx, core.Record{"id": 1, "fullname": "Maths"})
	require.NoError(t, err)
	r, err := p.GetOneByPrimaryKey(ctx, core.Record{"id": 1})
	require.NoError(t, err)
	assert.Equal(t, "Maths", r["fullname"])

	again, err := tr.Open(ctx, "courses", courseSchema())
	require.NoError(t, err)
	assert.Same(t, p, again)

	target, err := p.Target(ctx)
	require.NoError(t, err)
	assert.IsType(t, &table.EagerTable{}, target)
	assert.Equal(t, []string{"courses"}, tr.List())
}

func TestOpenValidatesArguments(t *testing.T) {
	tr, _, _ := newRegistry(t, "")
	_, err := tr.Open(context.Background(), "", courseSchema())
	assert.Error(t, err)
	_, err = tr.Open(context.Background(), "other", courseSchema())
	assert.Error(t, err)
}

func TestCloseNotifiesSubscribers(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := newRegistry(t, "")
	_, err := tr.Open(ctx, "courses", courseSchema())
	require.NoError(t, err)

	var notified []string
	_, err = tr.OnDestroy("courses", func(_ context.Context, name string) { notified = append(notified, "first:"+name) })
	require.NoError(t, err)
	unsubscribe, err := tr.OnDestroy("courses", func(_ context.Context, name string) { notified = append(notified, "second:"+name) })
	require.NoError(t, err)
	unsubscribe()

	closed := 0
	tr.Lifecycle().RegisterHook(registry.LifecycleHookFunc{
		OnCloseFunc: func(context.Context, string, *core.Schema) error {
			closed++
			return nil
		},
	})

	require.NoError(t, tr.Close(ctx, "courses"))
	assert.Equal(t, []string{"first:courses"}, notified)
	assert.Equal(t, 1, closed)

	_, err = tr.Get("courses")
	assert.Error(t, err)
	assert.Error(t, tr.Close(ctx, "courses"))
	_, err = tr.OnDestroy("courses", func(context.Context, string) {})
	assert.Error(t, err)
}

func TestReloadSwitchesStrategy(t *testing.T) {
	ctx := context.Background()
	tr, cm, store := newRegistry(t, "")
	p, err := tr.Open(ctx, "courses", courseSchema())
	require.NoError(t, err)
	_, err = p.Insert(ctx, core.Record{"id": 1})
	require.NoError(t, err)

	cfg := cm.GetConfig()
	next := *cfg
	next.Tables = map[string]registry.InternalTableConfig{"courses": {Strategy: "lazy", LazyLifetime: time.Minute}}
	require.NoError(t, cm.Set(&next))
	require.NoError(t, tr.Reload(ctx))

	meta, err := tr.GetMetadata("courses")
	require.NoError(t, err)
	assert.Equal(t, "lazy", meta.Config.Strategy)
	assert.Equal(t, table.StrategyLazy, p.Config().Strategy)

	_, err = p.GetOneByPrimaryKey(ctx, core.Record{"id": 1})
	require.NoError(t, err)
	_, err = p.GetOneByPrimaryKey(ctx, core.Record{"id": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, store.Calls("GetRecord"))

	require.NoError(t, tr.CloseAll(ctx))
	assert.Empty(t, tr.List())
}
