package calls

import (
	"context"
	"sync"
	"time"

	"voice-agent-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Capacity caps concurrent calls per agent.
type Capacity interface {
	Acquire(ctx context.Context, agentID string) (bool, error)
	Release(ctx context.Context, agentID string) error
}

// RedisCapacity shares the per-agent counter across API instances.
type RedisCapacity struct {
	rdb   redis.Scripter
	limit int
	ttl   time.Duration
}

func NewRedisCapacity(rdb redis.Scripter, limit int, ttl time.Duration) *RedisCapacity {
	return &RedisCapacity{rdb: rdb, limit: limit, ttl: ttl}
}

func capacityKey(agentID string) string {
	return "calls:agent:" + agentID + ":active"
}

func (c *RedisCapacity) Acquire(ctx context.Context, agentID string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, c.rdb, capacityKey(agentID), c.limit, c.ttl)
}

func (c *RedisCapacity) Release(ctx context.Context, agentID string) error {
	return utils.ReleaseConcurrencyCap(ctx, c.rdb, capacityKey(agentID))
}

// MemoryCapacity is a single-process Capacity.
type MemoryCapacity struct {
	mu     sync.Mutex
	limit  int
	active map[string]int
}

func NewMemoryCapacity(limit int) *MemoryCapacity {
	return &MemoryCapacity{limit: limit, active: map[string]int{}}
}

func (c *MemoryCapacity) Acquire(ctx context.Context, agentID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[agentID] >= c.limit {
		return false, nil
	}
	c.active[agentID]++
	return true, nil
}

func (c *MemoryCapacity) Release(ctx context.Context, agentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[agentID] <= 1 {
		delete(c.active, agentID)
		return nil
	}
	c.active[agentID]--
	return nil
}

// Active returns the slots held by agentID.
func (c *MemoryCapacity) Active(agentID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[agentID]
}
