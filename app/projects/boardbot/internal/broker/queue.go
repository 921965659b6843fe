package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
)

// ErrQueueClosed is returned by Pop once the queue is closed and empty.
var ErrQueueClosed = errors.New("broker: queue closed")

// Queue carries packed messages from producers to the worker pool.
type Queue interface {
	Push(ctx context.Context, raw []byte) error
	// Pop blocks until a message is available, ctx is done or the queue is closed.
	Pop(ctx context.Context) ([]byte, error)
	Len(ctx context.Context) int64
	Close() error
}

// MemoryQueue is a bounded in-process queue. Push never blocks; a full queue is a transient error.
type MemoryQueue struct {
	ch        chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryQueue{ch: make(chan []byte, size), closed: make(chan struct{})}
}

func (q *MemoryQueue) Push(_ context.Context, raw []byte) error {
	select {
	case <-q.closed:
		return errs.Transient("broker.push", ErrQueueClosed)
	default:
	}
	select {
	case q.ch <- raw:
		return nil
	default:
		return errs.Transient("broker.push", errors.New("memory queue full"))
	}
}

func (q *MemoryQueue) Pop(ctx context.Context) ([]byte, error) {
	select {
	case raw := <-q.ch:
		return raw, nil
	default:
	}
	select {
	case raw := <-q.ch:
		return raw, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.closed:
		return nil, ErrQueueClosed
	}
}

func (q *MemoryQueue) Len(context.Context) int64 { return int64(len(q.ch)) }

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	return nil
}

// RedisQueue is a list used as a FIFO: LPUSH on one end, BRPOP on the other.
type RedisQueue struct {
	client  redis.UniversalClient
	key     string
	block   time.Duration
	closeMu sync.RWMutex
	closed  bool
}

func NewRedisQueue(client redis.UniversalClient, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key, block: time.Second}
}

func (q *RedisQueue) Push(ctx context.Context, raw []byte) error {
	if err := q.client.LPush(ctx, q.key, raw).Err(); err != nil {
		return errs.Transient("broker.push", err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context) ([]byte, error) {
	for {
		q.closeMu.RLock()
		closed := q.closed
		q.closeMu.RUnlock()
		if closed {
			return nil, ErrQueueClosed
		}
		res, err := q.client.BRPop(ctx, q.block, q.key).Result()
		switch {
		case err == nil:
			if len(res) == 2 {
				return []byte(res[1]), nil
			}
		case errors.Is(err, redis.Nil):
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			return nil, errs.Transient("broker.pop", err)
		}
	}
}

func (q *RedisQueue) Len(ctx context.Context) int64 {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0
	}
	return n
}

// Close stops Pop loops; the client belongs to the redis component.
func (q *RedisQueue) Close() error {
	q.closeMu.Lock()
	q.closed = true
	q.closeMu.Unlock()
	return nil
}
