package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"collab-board/domain"
)

type backend interface {
	FindTask(ctx context.Context, id string) (domain.Task, error)
	InsertTask(ctx context.Context, task domain.Task) error
	UpdateTask(ctx context.Context, task domain.Task) error
	DeleteTask(ctx context.Context, task domain.Task) error
	ListAccessibleTasks(ctx context.Context, userID string) ([]domain.Task, error)
	SampleTask(ctx context.Context) (domain.Task, error)
	AppendActivity(ctx context.Context, activity domain.Activity, task domain.Task) error
	ListActivities(ctx context.Context, userID string, limit int) ([]domain.Activity, error)
	FindUser(ctx context.Context, id string) (domain.User, error)
	ListUsers(ctx context.Context) ([]domain.UserRef, error)
}

// Cache wraps a Storage instance with a Redis-backed read-through cache of
// each user's accessible task list. Every mutation evicts the boards of the
// users it touches; an update also evicts the boards of the task's previous
// creator and assignee so a reassignment does not leave the old assignee's
// board stale.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis
// client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) FindTask(ctx context.Context, id string) (domain.Task, error) {
	return c.base.FindTask(ctx, id)
}

func (c *Cache) InsertTask(ctx context.Context, task domain.Task) error {
	if err := c.base.InsertTask(ctx, task); err != nil {
		return err
	}
	c.evictBoards(ctx, task)
	return nil
}

func (c *Cache) UpdateTask(ctx context.Context, task domain.Task) error {
	// The stored version names the previous assignee, whose board must be
	// evicted as well when the update reassigns the task.
	prev, prevErr := c.base.FindTask(ctx, task.ID)
	if err := c.base.UpdateTask(ctx, task); err != nil {
		return err
	}
	c.evictBoards(ctx, task)
	if prevErr == nil {
		c.evictBoards(ctx, prev)
	}
	return nil
}

func (c *Cache) DeleteTask(ctx context.Context, task domain.Task) error {
	if err := c.base.DeleteTask(ctx, task); err != nil {
		return err
	}
	c.evictBoards(ctx, task)
	return nil
}

func (c *Cache) ListAccessibleTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	if tasks, ok := c.loadBoardFromCache(ctx, userID); ok {
		return tasks, nil
	}
	tasks, err := c.base.ListAccessibleTasks(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.storeBoard(ctx, userID, tasks)
	return tasks, nil
}

func (c *Cache) SampleTask(ctx context.Context) (domain.Task, error) {
	return c.base.SampleTask(ctx)
}

func (c *Cache) AppendActivity(ctx context.Context, activity domain.Activity, task domain.Task) error {
	return c.base.AppendActivity(ctx, activity, task)
}

func (c *Cache) ListActivities(ctx context.Context, userID string, limit int) ([]domain.Activity, error) {
	return c.base.ListActivities(ctx, userID, limit)
}

func (c *Cache) FindUser(ctx context.Context, id string) (domain.User, error) {
	return c.base.FindUser(ctx, id)
}

func (c *Cache) ListUsers(ctx context.Context) ([]domain.UserRef, error) {
	return c.base.ListUsers(ctx)
}

func (c *Cache) loadBoardFromCache(ctx context.Context, userID string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, boardCacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, boardCacheKey(userID)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, boardCacheKey(userID)).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) storeBoard(ctx context.Context, userID string, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, boardCacheKey(userID), data, c.ttl).Err()
}

func (c *Cache) evictBoards(ctx context.Context, task domain.Task) {
	if c.redis == nil {
		return
	}
	keys := []string{boardCacheKey(task.CreatedBy.ID)}
	if task.AssignedTo != nil && task.AssignedTo.ID != task.CreatedBy.ID {
		keys = append(keys, boardCacheKey(task.AssignedTo.ID))
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

func boardCacheKey(userID string) string {
	return "board:" + userID
}
