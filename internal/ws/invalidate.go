package ws

import (
	"context"
	"fmt"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
)

// Invalidation expires entries without deleting them, so they remain
// available to the emergency cache.

// InvalidateAll expires every cached response.
func (o *Orchestrator) InvalidateAll(ctx context.Context) error {
	if err := o.cache.expire(ctx, core.Conditions{}); err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}

// InvalidateCall expires the response of one call.
func (o *Orchestrator) InvalidateCall(ctx context.Context, method string, args any) error {
	id, err := CallID(method, args)
	if err != nil {
		return err
	}
	return o.cache.expire(ctx, core.Equal(core.Record{"id": id}))
}

// InvalidateForKey expires the entries grouped under key.
func (o *Orchestrator) InvalidateForKey(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return o.cache.expire(ctx, core.Equal(core.Record{"key": key}))
}

// InvalidateForKeyStartingWith expires the entries whose key has the prefix.
func (o *Orchestrator) InvalidateForKeyStartingWith(ctx context.Context, prefix string) error {
	if prefix == "" {
		return nil
	}
	return o.cache.expire(ctx, core.Filter(core.HasPrefix("key", prefix)))
}

// InvalidateForComponent expires the entries of a component. A zero
// componentID covers every id.
func (o *Orchestrator) InvalidateForComponent(ctx context.Context, component string, componentID int64) error {
	if component == "" {
		return nil
	}
	where := core.Record{"component": component}
	if componentID != 0 {
		where["component_id"] = componentID
	}
	return o.cache.expire(ctx, core.Equal(where))
}

// DeleteCall removes the cached response of one call.
func (o *Orchestrator) DeleteCall(ctx context.Context, method string, args any) error {
	id, err := CallID(method, args)
	if err != nil {
		return err
	}
	return o.cache.deleteID(ctx, id)
}

// DeleteForKey removes every entry grouped under key.
func (o *Orchestrator) DeleteForKey(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return o.cache.deleteKey(ctx, key)
}

// ClearCache removes every cached response.
func (o *Orchestrator) ClearCache(ctx context.Context) error {
	return o.cache.clear(ctx)
}
