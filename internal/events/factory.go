package events

import (
	"fmt"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
	"github.com/rzpsarthak13/rpc-absorber/internal/registry"
)

// NewQueue builds the queue selected by cfg.QueueType. The redis queue
// borrows kv, which must support list operations.
func NewQueue(cfg registry.InternalEventsConfig, kv core.KVStore) (core.EventQueue, error) {
	switch cfg.QueueType {
	case "", "memory":
		return NewMemoryQueue(cfg.QueueBufferSize), nil
	case "redis":
		ops, ok := kv.(ListOperations)
		if !ok {
			return nil, fmt.Errorf("redis event queue needs a KV store with list operations, got %T", kv)
		}
		return NewRedisQueue(ops, cfg.RedisKey), nil
	case "kafka":
		return NewKafkaQueue(cfg.KafkaConfig)
	default:
		return nil, fmt.Errorf("unsupported event queue type: %s", cfg.QueueType)
	}
}
