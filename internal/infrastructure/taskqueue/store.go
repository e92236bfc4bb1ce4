package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
)

// MemoryStore keeps task status for the life of the process.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	tasks map[string]domain.Task
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, tasks: make(map[string]domain.Task)}
}

func (s *MemoryStore) Put(_ context.Context, task domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	s.pruneLocked()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	task, ok := s.tasks[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get task", fmt.Errorf("task %s", id))
	}
	return &task, nil
}

func (s *MemoryStore) pruneLocked() {
	if s.ttl <= 0 {
		return
	}
	cutoff := s.now().Add(-s.ttl)
	for id, task := range s.tasks {
		if task.UpdatedAt.Before(cutoff) {
			delete(s.tasks, id)
		}
	}
}

const redisTaskKeyTpl = "essay:task:%s" // essay:task:${taskID}

// RedisStore shares task status between api and worker processes.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{redis: client, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, task domain.Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := s.redis.Set(ctx, fmt.Sprintf(redisTaskKeyTpl, task.ID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("store task: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	raw, err := s.redis.Get(ctx, fmt.Sprintf(redisTaskKeyTpl, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.WrapError(domain.ErrNotFound, "get task", fmt.Errorf("task %s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	var task domain.Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &task, nil
}
