package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/meetcap/pkg/logging"
)

// Redis key prefixes
const (
	keyPrefixQueue   = "queue:" // sorted set of message ids per task
	keyPrefixMessage = "msg:"   // message envelope
)

// RedisConfig configures the Redis dispatcher.
type RedisConfig struct {
	// Namespace is prepended to every key, e.g. "meetcap:".
	Namespace       string
	RetentionPeriod time.Duration
}

// DefaultRedisConfig returns the default dispatcher settings.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Namespace:       "meetcap:",
		RetentionPeriod: 7 * 24 * time.Hour,
	}
}

// RedisDispatcher implements Dispatcher on Redis.
type RedisDispatcher struct {
	client redis.Cmdable
	config RedisConfig
	logger logging.Logger
	now    func() time.Time
}

// NewRedisDispatcher creates a dispatcher over an existing client.
func NewRedisDispatcher(client redis.Cmdable, config RedisConfig, logger logging.Logger) *RedisDispatcher {
	if config.RetentionPeriod <= 0 {
		config.RetentionPeriod = DefaultRedisConfig().RetentionPeriod
	}
	return &RedisDispatcher{
		client: client,
		config: config,
		logger: logger.With(logging.F("component", "job_dispatcher")),
		now:    time.Now,
	}
}

// QueueKey returns the sorted-set key holding the task's pending messages.
func (d *RedisDispatcher) QueueKey(task string) string {
	return d.config.Namespace + keyPrefixQueue + task
}

// MessageKey returns the key holding one message envelope.
func (d *RedisDispatcher) MessageKey(task, id string) string {
	return d.config.Namespace + keyPrefixMessage + task + ":" + id
}

// Dispatch stores the task envelope and queues its id in one transaction.
func (d *RedisDispatcher) Dispatch(ctx context.Context, task Task) (string, error) {
	now := d.now()
	qm, err := newQueuedMessage(task, now)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(qm)
	if err != nil {
		return "", fmt.Errorf("failed to marshal queued message: %w", err)
	}

	pipe := d.client.TxPipeline()
	pipe.Set(ctx, d.MessageKey(task.Name, qm.ID), data, d.config.RetentionPeriod)
	pipe.ZAdd(ctx, d.QueueKey(task.Name), redis.Z{Score: score(task.Priority, now), Member: qm.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		d.logger.Error("Failed to dispatch task", logging.F("task", task.Name), logging.Err(err))
		return "", fmt.Errorf("failed to enqueue %s task: %w", task.Name, err)
	}

	d.logger.Debug("Dispatched task", logging.F("task", task.Name), logging.F("message_id", qm.ID))
	return qm.ID, nil
}

// Depth returns the number of queued messages for a task.
func (d *RedisDispatcher) Depth(ctx context.Context, task string) (int64, error) {
	return d.client.ZCard(ctx, d.QueueKey(task)).Result()
}

func newQueuedMessage(task Task, now time.Time) (*QueuedMessage, error) {
	if task.Name == "" {
		return nil, ErrInvalidTask
	}

	args := task.Args
	if args == nil {
		args = []any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s arguments: %w", task.Name, err)
	}

	return &QueuedMessage{
		ID:         uuid.New().String(),
		Task:       task.Name,
		Args:       raw,
		Priority:   task.Priority,
		EnqueuedAt: now,
	}, nil
}

// score is popped with ZPOPMAX: higher priority first, older first within a priority.
func score(p Priority, at time.Time) float64 {
	return float64(p)*1e12 - float64(at.Unix())
}

var _ Dispatcher = (*RedisDispatcher)(nil)
