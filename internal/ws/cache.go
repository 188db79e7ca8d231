package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
)

// CacheTableName is the table holding cached responses.
const CacheTableName = "wscache"

// CacheSchema describes the response cache table. last_modified is in
// unix milliseconds; zero marks an invalidated entry.
func CacheSchema() *core.Schema {
	return &core.Schema{
		TableName:   CacheTableName,
		PrimaryKeys: []string{"id"},
		Columns: []core.Column{
			{Name: "id", Type: "TEXT"},
			{Name: "data", Type: "TEXT", Nullable: true},
			{Name: "key", Type: "TEXT", Nullable: true},
			{Name: "last_modified", Type: "INTEGER", Nullable: true},
			{Name: "component", Type: "TEXT", Nullable: true},
			{Name: "component_id", Type: "INTEGER", Nullable: true},
		},
		Indexes: []core.Index{
			{Name: "wscache_key", Columns: []string{"key"}},
			{Name: "wscache_component", Columns: []string{"component", "component_id"}},
		},
	}
}

type cacheEntry struct {
	ID           string
	Data         string
	Key          string
	LastModified int64
	Component    string
	ComponentID  int64
}

func entryFromRecord(r core.Record) cacheEntry {
	lm, _ := core.ToNumber(r["last_modified"])
	cid, _ := core.ToNumber(r["component_id"])
	return cacheEntry{
		ID:           core.ToText(r["id"]),
		Data:         core.ToText(r["data"]),
		Key:          core.ToText(r["key"]),
		LastModified: int64(lm),
		Component:    core.ToText(r["component"]),
		ComponentID:  int64(cid),
	}
}

func (e cacheEntry) record() core.Record {
	r := core.Record{
		"id":            e.ID,
		"data":          e.Data,
		"last_modified": e.LastModified,
		"key":           nil,
		"component":     nil,
		"component_id":  nil,
	}
	if e.Key != "" {
		r["key"] = e.Key
	}
	if e.Component != "" {
		r["component"] = e.Component
	}
	if e.ComponentID != 0 {
		r["component_id"] = e.ComponentID
	}
	return r
}

// result replays the entry. Cached server errors come back as errors.
func (e cacheEntry) result() Result {
	if se, ok := core.ParseServerError([]byte(e.Data)); ok {
		return Result{Err: &WSError{Err: se}, Cached: true}
	}
	return Result{Data: json.RawMessage(e.Data), Cached: true}
}

// cache stores entries in a table. It never memoizes on its own.
type cache struct {
	table core.Table
}

func (c *cache) byID(ctx context.Context, id string) (cacheEntry, error) {
	r, err := c.table.GetOneByPrimaryKey(ctx, core.Record{"id": id})
	if errors.Is(err, core.ErrNotFound) {
		return cacheEntry{}, core.ErrCacheMiss
	}
	if err != nil {
		return cacheEntry{}, fmt.Errorf("failed to read cache entry %s: %w", id, err)
	}
	return entryFromRecord(r), nil
}

// byKey returns an entry of the group key, preferring the one with the
// given identity.
func (c *cache) byKey(ctx context.Context, key, id string) (cacheEntry, error) {
	records, err := c.table.GetMany(ctx, core.Record{"key": key}, core.Query{})
	if err != nil {
		return cacheEntry{}, fmt.Errorf("failed to read cache key %s: %w", key, err)
	}
	if len(records) == 0 {
		return cacheEntry{}, core.ErrCacheMiss
	}
	for _, r := range records {
		if core.ToText(r["id"]) == id {
			return entryFromRecord(r), nil
		}
	}
	return entryFromRecord(records[0]), nil
}

func (c *cache) save(ctx context.Context, e cacheEntry, unique bool) error {
	if unique && e.Key != "" {
		others := core.Filter(core.Eq("key", e.Key), core.Ne("id", e.ID))
		if err := c.table.DeleteWhere(ctx, others); err != nil {
			return fmt.Errorf("failed to replace cache key %s: %w", e.Key, err)
		}
	}
	if _, err := c.table.Insert(ctx, e.record()); err != nil {
		return fmt.Errorf("failed to save cache entry %s: %w", e.ID, err)
	}
	return nil
}

func (c *cache) deleteID(ctx context.Context, id string) error {
	return c.table.DeleteByPrimaryKey(ctx, core.Record{"id": id})
}

func (c *cache) deleteKey(ctx context.Context, key string) error {
	return c.table.Delete(ctx, core.Record{"key": key})
}

func (c *cache) clear(ctx context.Context) error {
	return c.table.Delete(ctx, nil)
}

var expired = core.Record{"last_modified": int64(0)}

func (c *cache) expire(ctx context.Context, conds core.Conditions) error {
	return c.table.UpdateWhere(ctx, expired, conds)
}
