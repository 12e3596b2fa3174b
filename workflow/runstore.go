package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/superglue-ai/superglue-go/core"
)

// Run records one workflow execution.
type Run struct {
	ID          string                 `json:"id"`
	WorkflowID  string                 `json:"workflowId"`
	Success     bool                   `json:"success"`
	Error       string                 `json:"error,omitempty"`
	StepResults map[string]interface{} `json:"stepResults,omitempty"`
	Data        interface{}            `json:"data,omitempty"`
	StartedAt   time.Time              `json:"startedAt"`
	CompletedAt time.Time              `json:"completedAt"`
}

// RunStore persists runs. Implementations must be safe for concurrent
// use.
type RunStore interface {
	Save(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	ListRecent(ctx context.Context, limit int) ([]*Run, error)
	Delete(ctx context.Context, id string) error
}

// InMemoryRunStore keeps runs in process memory. Suitable for tests and
// single-process deployments.
type InMemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewInMemoryRunStore builds an empty store.
func NewInMemoryRunStore() *InMemoryRunStore {
	return &InMemoryRunStore{runs: make(map[string]*Run)}
}

func (s *InMemoryRunStore) Save(_ context.Context, run *Run) error {
	if run.ID == "" {
		return fmt.Errorf("run has no id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *run
	s.runs[run.ID] = &copied
	return nil
}

func (s *InMemoryRunStore) Get(_ context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %q not found", id)
	}
	copied := *run
	return &copied, nil
}

func (s *InMemoryRunStore) ListRecent(_ context.Context, limit int) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		copied := *run
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryRunStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, id)
	return nil
}

// RedisRunStore persists runs in Redis as JSON values under a
// namespaced key, with an index sorted-set for recency listing.
type RedisRunStore struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	logger    core.Logger
}

// NewRedisRunStore connects to redisURL and verifies the connection.
// A zero ttl keeps runs indefinitely.
func NewRedisRunStore(redisURL, namespace string, ttl time.Duration, logger core.Logger) (*RedisRunStore, error) {
	if namespace == "" {
		namespace = "superglue"
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 5 * time.Second
	opt.WriteTimeout = 5 * time.Second

	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisRunStore{client: client, namespace: namespace, ttl: ttl, logger: logger}, nil
}

func (s *RedisRunStore) runKey(id string) string {
	return fmt.Sprintf("%s:run:%s", s.namespace, id)
}

func (s *RedisRunStore) indexKey() string {
	return fmt.Sprintf("%s:runs", s.namespace)
}

func (s *RedisRunStore) Save(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return fmt.Errorf("run has no id")
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.runKey(run.ID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), &redis.Z{
		Score:  float64(run.StartedAt.UnixMilli()),
		Member: run.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

func (s *RedisRunStore) Get(ctx context.Context, id string) (*Run, error) {
	data, err := s.client.Get(ctx, s.runKey(id)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("run %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("corrupt run record %s: %w", id, err)
	}
	return &run, nil
}

func (s *RedisRunStore) ListRecent(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	out := make([]*Run, 0, len(ids))
	for _, id := range ids {
		run, err := s.Get(ctx, id)
		if err != nil {
			// Expired value still indexed; skip and let Delete clean up.
			s.logger.Debug("Skipping unreadable run record", map[string]interface{}{
				"operation": "runstore_list",
				"run_id":    id,
				"error":     err.Error(),
			})
			continue
		}
		out = append(out, run)
	}
	return out, nil
}

func (s *RedisRunStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.runKey(id))
	pipe.ZRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisRunStore) Close() error {
	return s.client.Close()
}
