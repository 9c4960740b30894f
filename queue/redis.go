package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"webrag/types"
)

// ErrEmptyAddress is returned when Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

// ErrMalformedMessage wraps payloads that are not a valid ingestion message.
var ErrMalformedMessage = errors.New("malformed ingestion message")

const connectionTimeout = 5 * time.Second

// Queue is a FIFO of ingestion jobs. Dequeue returns (nil, nil) when the
// timeout elapses with nothing to take.
type Queue interface {
	Enqueue(context.Context, types.IngestionMessage) error
	Dequeue(ctx context.Context, timeout time.Duration) (*types.IngestionMessage, error)
	Length(context.Context) (int64, error)
	Ping(context.Context) error
}

type Config struct {
	Address  string
	Password string
	DB       int
	Name     string
}

// RedisQueue keeps jobs in a Redis list: RPUSH to enqueue, BLPOP to take.
type RedisQueue struct {
	client *redis.Client
	name   string
	logger *slog.Logger
}

// NewClient creates a Redis client and verifies the connection.
func NewClient(cfg Config) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

func NewRedisQueue(client *redis.Client, name string, logger *slog.Logger) *RedisQueue {
	return &RedisQueue{
		client: client,
		name:   name,
		logger: logger,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, msg types.IngestionMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal ingestion message: %w", err)
	}
	if err := q.client.RPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", msg.URLID, err)
	}
	q.logger.Debug("job enqueued", "url_id", msg.URLID, "url", msg.URL)
	return nil
}

// Dequeue blocks for up to timeout. A message that cannot be decoded is
// consumed and reported as an error so a bad payload cannot wedge the queue.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*types.IngestionMessage, error) {
	res, err := q.client.BLPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	// BLPOP replies with [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("dequeue: unexpected reply length %d", len(res))
	}

	var msg types.IngestionMessage
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return &msg, nil
}

func (q *RedisQueue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.name).Result()
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
