package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/RARPlayzDev/StudyVerse-sub000/internal/domain"
)

type taskFetcher interface {
	FetchTasks(ctx context.Context, owner string) ([]domain.Task, error)
}

// Cache keeps owner snapshots in Redis in front of a slower fetcher.
// Concurrent misses for one owner share a single backend read.
type Cache struct {
	base  taskFetcher
	redis *redis.Client
	ttl   time.Duration
	group  singleflight.Group
	now    func() time.Time
	logger *log.Logger

	mu  sync.Mutex
	gen map[string]uint64
}

type cachedSnapshot struct {
	Version  int           `json:"version"`
	CachedAt time.Time     `json:"cachedAt"`
	Tasks    []domain.Task `json:"tasks"`
}

const snapshotCacheVersion = 1

// NewCache wraps base. A nil client or zero ttl disables caching.
func NewCache(base taskFetcher, client *redis.Client, ttl time.Duration, logger *log.Logger) *Cache {
	if base == nil {
		panic("storage.NewCache: base fetcher is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Cache{base: base, redis: client, ttl: ttl, now: time.Now, logger: logger, gen: make(map[string]uint64)}
}

func (c *Cache) FetchTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	if tasks, ok := c.load(ctx, owner); ok {
		return tasks, nil
	}
	v, err, _ := c.group.Do(owner, func() (any, error) {
		gen := c.generation(owner)
		tasks, err := c.base.FetchTasks(ctx, owner)
		if err != nil {
			return nil, err
		}
		// A write evicted the entry while reading; don't cache what may be stale.
		if c.generation(owner) == gen {
			c.store(ctx, owner, tasks)
		}
		return tasks, nil
	})
	if err != nil {
		return nil, err
	}
	tasks := v.([]domain.Task)
	out := make([]domain.Task, len(tasks))
	copy(out, tasks)
	return out, nil
}

// Evict drops the cached snapshot of owner and forgets any read in flight so
// the next fetch observes the latest write.
func (c *Cache) Evict(ctx context.Context, owner string) {
	c.mu.Lock()
	c.gen[owner]++
	c.mu.Unlock()
	c.group.Forget(owner)
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, snapshotCacheKey(owner)).Err(); err != nil {
		c.logger.WithError(err).WithField("owner", owner).Warn("failed to evict snapshot cache entry")
	}
}

func (c *Cache) generation(owner string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen[owner]
}

func (c *Cache) load(ctx context.Context, owner string) ([]domain.Task, bool) {
	if c.redis == nil || c.ttl == 0 {
		return nil, false
	}
	key := snapshotCacheKey(owner)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// On redis errors fall back to the backing storage without failing.
			c.logger.WithError(err).WithField("owner", owner).Debug("snapshot cache read failed")
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var snap cachedSnapshot
	if err := sonic.Unmarshal(data, &snap); err != nil || snap.Version != snapshotCacheVersion {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	if snap.Tasks == nil {
		snap.Tasks = []domain.Task{}
	}
	return snap.Tasks, true
}

func (c *Cache) store(ctx context.Context, owner string, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(cachedSnapshot{Version: snapshotCacheVersion, CachedAt: c.now().UTC(), Tasks: tasks})
	if err != nil {
		c.logger.WithError(err).WithField("owner", owner).Error("failed to marshal snapshot cache entry")
		return
	}
	if err := c.redis.Set(ctx, snapshotCacheKey(owner), data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("owner", owner).Error("failed to store snapshot cache entry")
	}
}

func snapshotCacheKey(owner string) string {
	return "board:" + owner + ":snapshot"
}
