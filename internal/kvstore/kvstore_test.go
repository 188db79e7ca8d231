package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
	"github.com/rzpsarthak13/rpc-absorber/internal/registry"
)

func TestMemoryKVStoreBasics(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryKVStore()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, s.Set(ctx, "a", []byte("1"), 0))
	v, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	// returned slices are copies
	v[0] = 'x'
	v, _ = s.Get(ctx, "a")
	assert.Equal(t, []byte("1"), v)

	ok, err := s.Exists(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "a"))
	ok, _ = s.Exists(ctx, "a")
	assert.False(t, ok)
}

func TestMemoryKVStoreTTL(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	s := NewMemoryKVStoreWithClock(clock)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	clock.Advance(59 * time.Second)
	_, err := s.Get(ctx, "k")
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, core.ErrNotFound)

	keys, err := s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMemoryKVStoreKeysAndIncr(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryKVStore()

	require.NoError(t, s.BatchSet(ctx, map[string][]byte{
		"w:2": []byte("b"),
		"w:1": []byte("a"),
		"x:1": []byte("c"),
	}, 0))

	keys, err := s.Keys(ctx, "w:")
	require.NoError(t, err)
	assert.Equal(t, []string{"w:1", "w:2"}, keys)

	n, err := s.Incr(ctx, "seq")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = s.Incr(ctx, "seq")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.Incr(ctx, "w:1")
	assert.Error(t, err)
}

func TestMemoryKVStoreClosed(t *testing.T) {
	s := NewMemoryKVStore()
	require.NoError(t, s.Close())
	_, err := s.Get(context.Background(), "a")
	assert.ErrorIs(t, err, core.ErrClosed)
}

func TestFactoryRegistry(t *testing.T) {
	assert.Equal(t, []string{"dynamodb", "memory", "redis"}, GetRegisteredTypes())
	assert.True(t, IsTypeRegistered("memory"))
	assert.False(t, IsTypeRegistered("cassandra"))

	store, err := Create(KVStoreConfig{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryKVStore{}, store)

	_, err = Create(KVStoreConfig{Type: "cassandra"})
	assert.Error(t, err)

	_, err = Create(KVStoreConfig{Type: "redis"})
	assert.ErrorContains(t, err, "endpoint")

	_, err = Create(KVStoreConfig{Type: "dynamodb", Region: "eu-west-1"})
	assert.ErrorContains(t, err, "table_name")
}

func TestConfigValidatorsRegistered(t *testing.T) {
	cfg := registry.DefaultInternalConfig()
	cfg.Store.Type = "kv"
	cfg.KVStore.Type = "dynamodb"
	assert.ErrorContains(t, registry.ValidateConfig(cfg), "region")

	cfg.KVStore.DynamoDBConfig.Region = "eu-west-1"
	cfg.KVStore.DynamoDBConfig.TableName = "absorber"
	assert.NoError(t, registry.ValidateConfig(cfg))

	cfg.KVStore.Type = "redis"
	cfg.KVStore.RedisConfig.DB = 16
	assert.ErrorContains(t, registry.ValidateConfig(cfg), "between 0 and 15")
}

func TestConfigFromInternal(t *testing.T) {
	in := registry.DefaultInternalConfig().KVStore
	out := ConfigFromInternal(in)
	assert.Equal(t, "memory", out.Type)
	assert.Equal(t, []string{"localhost:6379"}, out.Endpoints)
	assert.Equal(t, int64(5*time.Second), out.DialTimeout)
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `wscache:a\*b\?\[c\]`, escapeGlob("wscache:a*b?[c]"))
}
