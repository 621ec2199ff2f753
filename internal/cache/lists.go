package cache

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"daily-triage/internal/model"
	"daily-triage/internal/service"
)

const (
	viewInbox = "inbox"
	viewToday = "today"
	viewTrash = "trash"
)

var cachedViews = []string{viewInbox, viewToday, viewTrash}

// Lists wraps a Planner with Redis-backed caching of the inbox, today and
// trash views. Keys carry the local date, so a new day always misses and
// the daily reset runs on the underlying planner. Every write evicts the
// user's keys.
type Lists struct {
	service.Planner
	redis *redis.Client
	ttl   time.Duration
	clock service.Clock
	cal   service.Calendar
	log   logrus.FieldLogger
}

func NewLists(base service.Planner, client *redis.Client, ttl time.Duration, clock service.Clock, cal service.Calendar, log logrus.FieldLogger) *Lists {
	if base == nil {
		panic("cache.NewLists: base planner is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Lists{Planner: base, redis: client, ttl: ttl, clock: clock, cal: cal, log: log}
}

func (c *Lists) Inbox(ctx context.Context, userID string) ([]model.Task, error) {
	return c.cached(ctx, viewInbox, userID, c.Planner.Inbox)
}

func (c *Lists) Today(ctx context.Context, userID string) ([]model.Task, error) {
	return c.cached(ctx, viewToday, userID, c.Planner.Today)
}

func (c *Lists) Trash(ctx context.Context, userID string) ([]model.Task, error) {
	return c.cached(ctx, viewTrash, userID, c.Planner.Trash)
}

func (c *Lists) CreateTask(ctx context.Context, userID string, input service.TaskInput) (*model.Task, error) {
	task, err := c.Planner.CreateTask(ctx, userID, input)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, userID)
	return task, nil
}

func (c *Lists) UpdateTask(ctx context.Context, userID, id string, patch service.TaskPatch) (*model.Task, error) {
	task, err := c.Planner.UpdateTask(ctx, userID, id, patch)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, userID)
	return task, nil
}

func (c *Lists) Transition(ctx context.Context, userID, id string, ev model.Event) (*model.Task, error) {
	task, err := c.Planner.Transition(ctx, userID, id, ev)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, userID)
	return task, nil
}

func (c *Lists) ToggleSubtask(ctx context.Context, userID, taskID, subtaskID string) (*model.Subtask, error) {
	sub, err := c.Planner.ToggleSubtask(ctx, userID, taskID, subtaskID)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, userID)
	return sub, nil
}

func (c *Lists) PerformDailyReset(ctx context.Context, userID string) (service.ResetResult, error) {
	res, err := c.Planner.PerformDailyReset(ctx, userID)
	if err != nil {
		return res, err
	}
	if res.Applied {
		c.evict(ctx, userID)
	}
	return res, nil
}

func (c *Lists) ResetAllUsers(ctx context.Context) (service.FleetReport, error) {
	report, err := c.Planner.ResetAllUsers(ctx)
	for _, userID := range report.ResetUsers {
		c.evict(ctx, userID)
	}
	return report, err
}

func (c *Lists) cached(ctx context.Context, view, userID string, load func(context.Context, string) ([]model.Task, error)) ([]model.Task, error) {
	now := c.clock.Now()
	key := listKey(view, userID, c.cal.DayKey(now))
	if tasks, ok := c.loadFromCache(ctx, key); ok {
		return tasks, nil
	}

	tasks, err := load(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, tasks, now)
	return tasks, nil
}

func (c *Lists) loadFromCache(ctx context.Context, key string) ([]model.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WithError(err).WithField("key", key).Warn("list cache read failed")
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var tasks []model.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Lists) store(ctx context.Context, key string, tasks []model.Task, now time.Time) {
	ttl := c.ttlAt(now)
	if c.redis == nil || ttl <= 0 {
		return
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("list cache write failed")
	}
}

// ttlAt caps the configured TTL at the next local midnight.
func (c *Lists) ttlAt(now time.Time) time.Duration {
	if c.ttl == 0 {
		return 0
	}
	if untilMidnight := c.cal.NextMidnight(now).Sub(now); untilMidnight < c.ttl {
		return untilMidnight
	}
	return c.ttl
}

func (c *Lists) evict(ctx context.Context, userID string) {
	if c.redis == nil {
		return
	}
	day := c.cal.DayKey(c.clock.Now())
	keys := make([]string, 0, len(cachedViews))
	for _, view := range cachedViews {
		keys = append(keys, listKey(view, userID, day))
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.log.WithError(err).WithField("user", userID).Warn("list cache eviction failed")
	}
}

func listKey(view, userID, day string) string {
	return "lists:" + view + ":" + userID + ":" + day
}
