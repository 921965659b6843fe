package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/logging"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/consts"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/cache"
	bizConfig "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/config"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/metrics"
)

var tracer = otel.Tracer("boardbot/dispatch")

// Putter is what producers depend on.
type Putter interface {
	Put(ctx context.Context, event string, data any) string
	PutEnvelope(ctx context.Context, env Envelope) string
}

// MessageWriter is the subset of *kafka.Writer used by the queue.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Queue persists envelopes and returns immediately. Failures are logged and counted, never returned.
type Queue struct {
	*core.BaseComponent
	Cache   cache.Cache        `infra:"dep:cache"`
	Metrics *metrics.Component `infra:"dep:boardbot_metrics?"`

	cfg    *bizConfig.BizConfig
	dir    string
	writer MessageWriter
	prefix string
	now    func() time.Time

	stampMu sync.Mutex
	last    time.Time
}

func NewQueue(cfg *bizConfig.BizConfig) *Queue {
	return &Queue{
		BaseComponent: core.NewBaseComponent(bizConsts.COMP_DISPATCH_QUEUE, consts.COMPONENT_LOGGING),
		cfg:           cfg,
		dir:           cfg.BroadcastDir(),
		prefix:        cfg.Broadcast.TopicPrefix,
		now:           time.Now,
	}
}

// NewFileQueue returns a started queue staging into dir.
func NewFileQueue(dir string, c cache.Cache) *Queue {
	q := &Queue{
		BaseComponent: core.NewBaseComponent(bizConsts.COMP_DISPATCH_QUEUE),
		Cache:         c,
		dir:           dir,
		now:           time.Now,
	}
	q.SetActive(true)
	return q
}

// NewKafkaQueue returns a started queue publishing pointers through w.
func NewKafkaQueue(dir, prefix string, c cache.Cache, w MessageWriter) *Queue {
	q := NewFileQueue(dir, c)
	q.writer = w
	q.prefix = prefix
	return q
}

func (q *Queue) Start(ctx context.Context) error {
	if q.IsActive() {
		return nil
	}
	if err := os.MkdirAll(q.dir, 0o755); err != nil {
		return fmt.Errorf("create broadcast dir: %w", err)
	}
	if q.cfg != nil && q.cfg.Broadcast.Type == bizConsts.BROADCAST_KAFKA {
		brokers := q.cfg.Broadcast.Brokers()
		q.writer = &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			Async:                  true,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					logging.Warn(context.Background(), "kafka pointer delivery failed; envelope stays in cache until expiry",
						zap.Int("messages", len(messages)), zap.Error(err))
				}
			},
		}
		logging.Info(ctx, "dispatch queue using kafka", zap.Strings("brokers", brokers))
	} else {
		logging.Info(ctx, "dispatch queue using staging dir", zap.String("dir", q.dir))
	}
	return q.BaseComponent.Start(ctx)
}

func (q *Queue) Stop(ctx context.Context) error {
	defer q.BaseComponent.Stop(ctx)
	if q.writer != nil {
		if err := q.writer.Close(); err != nil {
			logging.Warn(ctx, "kafka writer close", zap.Error(err))
		}
	}
	return nil
}

func (q *Queue) HealthCheck() error {
	if err := q.BaseComponent.HealthCheck(); err != nil {
		return err
	}
	if _, err := os.Stat(q.dir); err != nil {
		return fmt.Errorf("broadcast dir: %w", err)
	}
	return nil
}

func (q *Queue) Put(ctx context.Context, event string, data any) string {
	return q.PutEnvelope(ctx, Envelope{Event: event, Data: data})
}

// PutEnvelope stores env and returns its key, or "" when the envelope was dropped.
func (q *Queue) PutEnvelope(ctx context.Context, env Envelope) string {
	ctx, span := tracer.Start(ctx, "dispatch.put")
	defer span.End()
	span.SetAttributes(attribute.String("dispatch.event", env.Event))

	raw, err := marshalEnvelope(env)
	if err != nil {
		logging.Error(ctx, "dispatch envelope dropped: encode failed", zap.String("event", env.Event), zap.Error(err))
		span.SetStatus(codes.Error, err.Error())
		q.Metrics.DispatchPut(env.Event, "invalid")
		return ""
	}
	stem := newStem(q.stamp())
	key := cacheKeyFor(stem)
	span.SetAttributes(attribute.String("dispatch.key", key))

	if err := q.store(ctx, stem, key, env, raw); err != nil {
		logging.Warn(ctx, "dispatch envelope dropped", zap.String("event", env.Event), zap.String("key", key), zap.Error(err))
		span.SetStatus(codes.Error, err.Error())
		q.Metrics.DispatchPut(env.Event, "dropped")
		return ""
	}
	q.Metrics.DispatchPut(env.Event, "ok")
	return key
}

// store writes the body before the pointer so a consumer never sees a pointer without a body.
func (q *Queue) store(ctx context.Context, stem, key string, env Envelope, raw []byte) error {
	if env.FileOnly || (q.writer == nil && cache.IsEmbedded(q.Cache)) {
		return q.stage(stagingName(stem, env.FileOnly), raw)
	}
	if err := q.Cache.SetRaw(ctx, key, raw, EnvelopeTTL); err != nil {
		return err
	}
	ptr, err := marshalPointer(key)
	if err != nil {
		return err
	}
	if q.writer != nil {
		return q.writer.WriteMessages(ctx, kafka.Message{
			Topic: TopicFor(q.prefix, env.Event),
			Key:   []byte(key),
			Value: ptr,
		})
	}
	return q.stage(stagingName(stem, false), ptr)
}

func (q *Queue) stage(name string, body []byte) error {
	if err := os.MkdirAll(q.dir, 0o755); err != nil {
		return err
	}
	final := filepath.Join(q.dir, name)
	tmp := final + tmpExt
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

// stamp returns a strictly increasing microsecond timestamp so staging order follows put order.
func (q *Queue) stamp() time.Time {
	q.stampMu.Lock()
	defer q.stampMu.Unlock()
	t := q.now().Truncate(time.Microsecond)
	if !t.After(q.last) {
		t = q.last.Add(time.Microsecond)
	}
	q.last = t
	return t
}

func marshalPointer(key string) ([]byte, error) {
	return json.Marshal(pointer{CacheKey: key})
}
