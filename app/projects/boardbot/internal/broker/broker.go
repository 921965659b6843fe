package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/logging"
	redisComp "github.com/grand-thief-cash/chaos/app/infra/go/application/components/redis"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/consts"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/codec"
	bizConfig "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/config"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/metrics"
)

var tracer = otel.Tracer("boardbot/broker")

// Message is the queued form of one task invocation.
type Message struct {
	ID         string            `json:"id"`
	Task       string            `json:"task"`
	Args       []json.RawMessage `json:"args"`
	Carrier    map[string]string `json:"carrier,omitempty"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// Broker owns the task registry, the queue and the worker pool.
type Broker struct {
	*core.BaseComponent
	Redis   *redisComp.RedisComponent `infra:"dep:redis?"`
	Metrics *metrics.Component        `infra:"dep:boardbot_metrics?"`

	cfg bizConfig.BrokerConfig

	mu     sync.RWMutex
	tasks  map[string]*Task
	unions map[reflect.Type][]reflect.Type

	queue    Queue
	sem      *semaphore.Weighted
	cancel   context.CancelFunc
	workers  sync.WaitGroup
	inflight sync.WaitGroup
	active   atomic.Int64
}

func NewBroker(cfg bizConfig.BrokerConfig) *Broker {
	return &Broker{
		BaseComponent: core.NewBaseComponent(bizConsts.COMP_TASK_BROKER, consts.COMPONENT_LOGGING),
		cfg:           cfg,
		tasks:         map[string]*Task{},
		unions:        map[reflect.Type][]reflect.Type{},
	}
}

// NewLocal returns a started broker that runs every task inline on the caller's goroutine.
func NewLocal() *Broker {
	b := NewBroker(bizConfig.BrokerConfig{Mode: bizConsts.BROKER_LOCAL})
	b.SetActive(true)
	return b
}

// NewWithQueue returns a started remote broker draining q with workers goroutines.
func NewWithQueue(q Queue, workers int, asyncConcurrency int64) *Broker {
	b := NewBroker(bizConfig.BrokerConfig{
		Mode:             bizConsts.BROKER_REMOTE,
		WorkerPoolSize:   workers,
		AsyncConcurrency: asyncConcurrency,
	})
	b.queue = q
	b.startWorkers()
	b.SetActive(true)
	return b
}

func (b *Broker) Local() bool { return b.cfg.Mode == bizConsts.BROKER_LOCAL }

func (b *Broker) Start(ctx context.Context) error {
	if b.IsActive() {
		return nil
	}
	if !b.Local() {
		switch b.cfg.Queue {
		case bizConsts.QUEUE_REDIS:
			if b.Redis == nil {
				return fmt.Errorf("broker queue %q needs the redis component", b.cfg.Queue)
			}
			b.queue = NewRedisQueue(b.Redis.Client(), b.cfg.QueueName)
		default:
			b.queue = NewMemoryQueue(b.cfg.QueueSize)
		}
		b.startWorkers()
	}
	logging.Info(ctx, "task broker started",
		zap.String("mode", b.cfg.Mode),
		zap.String("queue", b.cfg.Queue),
		zap.Int("workers", b.cfg.WorkerPoolSize))
	return b.BaseComponent.Start(ctx)
}

func (b *Broker) startWorkers() {
	n := b.cfg.WorkerPoolSize
	if n <= 0 {
		n = 1
	}
	limit := b.cfg.AsyncConcurrency
	if limit <= 0 {
		limit = int64(n) * 4
	}
	b.sem = semaphore.NewWeighted(limit)
	loopCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	for i := 0; i < n; i++ {
		b.workers.Add(1)
		go b.work(loopCtx, i)
	}
}

// Register adds fn under name. fn must look like func(context.Context, args...) error.
func (b *Broker) Register(name string, fn any, async bool) (*Task, error) {
	t, err := newTask(name, fn, async)
	if err != nil {
		return nil, err
	}
	t.broker = b
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.tasks[name]; ok {
		return nil, errs.Conflict("broker.register", "task %s already registered", name)
	}
	b.tasks[name] = t
	return t, nil
}

// WrapAsync registers fn as a task that runs concurrently on the worker.
func (b *Broker) WrapAsync(name string, fn any) (*Task, error) { return b.Register(name, fn, true) }

// WrapSync registers fn as a task that runs inline on the worker.
func (b *Broker) WrapSync(name string, fn any) (*Task, error) { return b.Register(name, fn, false) }

func (b *Broker) Task(name string) (*Task, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.tasks[name]
	return t, ok
}

// RegisterUnion declares the concrete variants an interface-typed task argument may decode into.
// Variants are tried in order.
func RegisterUnion[T any](b *Broker, variants ...T) {
	iface := reflect.TypeOf((*T)(nil)).Elem()
	types := make([]reflect.Type, 0, len(variants))
	for _, v := range variants {
		types = append(types, reflect.TypeOf(v))
	}
	b.mu.Lock()
	b.unions[iface] = types
	b.mu.Unlock()
}

func (b *Broker) submit(ctx context.Context, t *Task, args []any) error {
	raws, err := t.pack(args)
	if err != nil {
		logging.Error(ctx, "task arguments rejected", zap.String("task", t.name), zap.Error(err))
		return err
	}
	msg := Message{
		ID:         uuid.NewString(),
		Task:       t.name,
		Args:       raws,
		Carrier:    map[string]string{},
		EnqueuedAt: time.Now().UTC(),
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Carrier))

	// Local mode blocks the caller until the task returns, async tasks included; schedule ticks
	// and bot triggers therefore run their bots serially. Remote mode only enqueues.
	if b.Local() {
		return b.execute(context.WithoutCancel(ctx), msg)
	}
	raw, err := codec.Marshal(msg)
	if err != nil {
		return errs.Invalid("broker.submit", "encode %s: %v", t.name, err)
	}
	if err := b.queue.Push(ctx, raw); err != nil {
		logging.Warn(ctx, "task enqueue failed", zap.String("task", t.name), zap.Error(err))
		return err
	}
	return nil
}

func (b *Broker) work(ctx context.Context, idx int) {
	defer b.workers.Done()
	for {
		raw, err := b.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				return
			}
			logging.Warn(ctx, "task queue pop failed", zap.Int("worker", idx), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		b.active.Add(1)
		b.dispatch(ctx, raw)
	}
}

func (b *Broker) dispatch(ctx context.Context, raw []byte) {
	var msg Message
	if err := codec.Unmarshal(raw, &msg); err != nil {
		b.active.Add(-1)
		logging.Error(ctx, "undecodable task message dropped", zap.Error(err))
		return
	}
	t, ok := b.Task(msg.Task)
	if !ok {
		b.active.Add(-1)
		logging.Error(ctx, "task message for unknown task dropped", zap.String("task", msg.Task))
		return
	}
	if !t.async {
		_ = b.execute(ctx, msg)
		b.active.Add(-1)
		return
	}
	if err := b.sem.Acquire(ctx, 1); err != nil {
		b.active.Add(-1)
		return
	}
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		defer b.sem.Release(1)
		defer b.active.Add(-1)
		_ = b.execute(context.Background(), msg)
	}()
}

func (b *Broker) execute(ctx context.Context, msg Message) (err error) {
	t, ok := b.Task(msg.Task)
	if !ok {
		return errs.NotFound("broker.execute", "task %s", msg.Task)
	}
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Carrier))
	ctx, span := tracer.Start(ctx, "broker.task "+t.name,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("task", t.name), attribute.String("message.id", msg.ID)))
	defer span.End()
	done := b.Metrics.BrokerTask(t.name)
	defer func() {
		done(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logging.Error(ctx, "task failed", zap.String("task", t.name), zap.String("id", msg.ID), zap.Error(err))
		}
	}()

	b.mu.RLock()
	args, err := t.unpack(msg.Args, b.unions)
	b.mu.RUnlock()
	if err != nil {
		return err
	}
	return t.call(ctx, args)
}

// Drain waits until the queue is empty and no task is running, or until ctx is done.
func (b *Broker) Drain(ctx context.Context) error {
	if b.Local() || b.queue == nil {
		return nil
	}
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	idle := 0
	for {
		if b.queue.Len(ctx) == 0 && b.active.Load() == 0 {
			idle++
			if idle >= 2 {
				return nil
			}
		} else {
			idle = 0
		}
		select {
		case <-ctx.Done():
			logging.Warn(ctx, "broker drain interrupted",
				zap.Int64("queued", b.queue.Len(context.Background())),
				zap.Int64("running", b.active.Load()))
			return ctx.Err()
		case <-tick.C:
		}
	}
}

func (b *Broker) Stop(ctx context.Context) error {
	defer b.BaseComponent.Stop(ctx)
	if b.cancel != nil {
		b.cancel()
	}
	if b.queue != nil {
		_ = b.queue.Close()
	}
	b.workers.Wait()
	b.inflight.Wait()
	return nil
}

func (b *Broker) HealthCheck() error {
	if err := b.BaseComponent.HealthCheck(); err != nil {
		return err
	}
	if !b.Local() && b.queue == nil {
		return fmt.Errorf("broker queue not initialised")
	}
	return nil
}
