package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/logging"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/consts"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/cache"
	bizConfig "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/config"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/metrics"
)

// Handler consumes one delivered envelope.
type Handler func(ctx context.Context, env Received) error

// MessageReader is the subset of *kafka.Reader used by the subscriber.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// consume outcomes
const (
	outcomeHandled   = "handled"
	outcomeDuplicate = "duplicate"
	outcomeExpired   = "expired"
	outcomeInvalid   = "invalid"
	outcomeUnrouted  = "unrouted"
	outcomeFailed    = "failed"
)

// Subscriber drains the staging directory (and kafka topics in streaming mode) and routes each
// envelope to the handler registered for its event. Delivery is at-least-once; envelope keys
// already seen inside SeenTTL are skipped.
type Subscriber struct {
	*core.BaseComponent
	Cache   cache.Cache        `infra:"dep:cache"`
	Metrics *metrics.Component `infra:"dep:boardbot_metrics?"`

	dir          string
	pollInterval time.Duration
	topicPrefix  string
	newReader    func(topic string) MessageReader

	mu       sync.RWMutex
	handlers map[string]Handler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSubscriber(cfg *bizConfig.BizConfig) *Subscriber {
	s := &Subscriber{
		BaseComponent: core.NewBaseComponent(bizConsts.COMP_DISPATCH_SUBSCRIBER, consts.COMPONENT_LOGGING, bizConsts.COMP_DISPATCH_QUEUE),
		dir:           cfg.BroadcastDir(),
		pollInterval:  cfg.Broadcast.PollInterval,
		topicPrefix:   cfg.Broadcast.TopicPrefix,
		handlers:      map[string]Handler{},
	}
	if cfg.Broadcast.Type == bizConsts.BROADCAST_KAFKA {
		brokers := cfg.Broadcast.Brokers()
		group := cfg.Broadcast.ConsumerGroup
		s.newReader = func(topic string) MessageReader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:  brokers,
				GroupID:  group,
				Topic:    topic,
				MinBytes: 1,
				MaxBytes: 10e6,
				MaxWait:  500 * time.Millisecond,
			})
		}
	}
	return s
}

// NewFileSubscriber polls dir only; Start is still required to run the loop.
func NewFileSubscriber(dir string, c cache.Cache) *Subscriber {
	return &Subscriber{
		BaseComponent: core.NewBaseComponent(bizConsts.COMP_DISPATCH_SUBSCRIBER),
		Cache:         c,
		dir:           dir,
		pollInterval:  20 * time.Millisecond,
		handlers:      map[string]Handler{},
	}
}

// WithKafkaReaders enables streaming consumption through readers built by fn.
func (s *Subscriber) WithKafkaReaders(prefix string, fn func(topic string) MessageReader) *Subscriber {
	s.topicPrefix = prefix
	s.newReader = fn
	return s
}

// Handle registers fn for event. Registration must happen before Start.
func (s *Subscriber) Handle(event string, fn Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = fn
}

func (s *Subscriber) handler(event string) (Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[event]
	return h, ok
}

func (s *Subscriber) events() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.handlers))
	for e := range s.handlers {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

func (s *Subscriber) Start(ctx context.Context) error {
	if s.IsActive() {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create broadcast dir: %w", err)
	}
	if err := s.BaseComponent.Start(ctx); err != nil {
		return err
	}
	// the ctx passed to Start is canceled once Start returns
	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.pollLoop(loopCtx)

	if s.newReader != nil {
		for _, event := range s.events() {
			topic := TopicFor(s.topicPrefix, event)
			s.wg.Add(1)
			go s.readLoop(loopCtx, topic, s.newReader(topic))
		}
	}
	logging.Info(ctx, "dispatch subscriber started", zap.Strings("events", s.events()))
	return nil
}

func (s *Subscriber) Stop(ctx context.Context) error {
	if !s.IsActive() {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return s.BaseComponent.Stop(ctx)
}

func (s *Subscriber) pollLoop(ctx context.Context) {
	defer s.wg.Done()
	interval := s.pollInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll drains the staging directory once, in key order.
func (s *Subscriber) Poll(ctx context.Context) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.Warn(ctx, "read broadcast dir failed", zap.String("dir", s.dir), zap.Error(err))
		}
		return 0
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), stagingExt) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	n := 0
	for _, name := range names {
		if ctx.Err() != nil {
			return n
		}
		path := filepath.Join(s.dir, name)
		claimed := path + claimedExt
		// rename claims the file against other workers sharing the directory
		if err := os.Rename(path, claimed); err != nil {
			continue
		}
		raw, err := os.ReadFile(claimed)
		_ = os.Remove(claimed)
		if err != nil {
			logging.Warn(ctx, "read staged envelope failed", zap.String("file", name), zap.Error(err))
			continue
		}
		s.Consume(ctx, keyFromStagingName(name), raw)
		n++
	}
	return n
}

func (s *Subscriber) readLoop(ctx context.Context, topic string, r MessageReader) {
	defer s.wg.Done()
	defer r.Close()
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			logging.Warn(ctx, "kafka fetch failed", zap.String("topic", topic), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		s.Consume(ctx, string(msg.Key), msg.Value)
		if err := r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logging.Warn(ctx, "kafka commit failed", zap.String("topic", topic), zap.Error(err))
		}
	}
}

// Consume resolves raw (an envelope or a cache pointer) and hands it to its handler.
func (s *Subscriber) Consume(ctx context.Context, key string, raw []byte) {
	ctx, span := tracer.Start(ctx, "dispatch.consume")
	defer span.End()

	env, ptr, err := decodeBody(raw)
	if err != nil {
		logging.Error(ctx, "dispatch envelope invalid", zap.String("key", key), zap.Error(err))
		s.Metrics.DispatchConsumed("", outcomeInvalid)
		return
	}
	if ptr != nil {
		key = ptr.CacheKey
		body, ok := s.Cache.GetRaw(ctx, key)
		if !ok {
			s.Metrics.DispatchConsumed("", outcomeExpired)
			return
		}
		if env, _, err = decodeBody(body); err != nil || env == nil {
			logging.Error(ctx, "dispatch envelope invalid", zap.String("key", key), zap.Error(err))
			s.Metrics.DispatchConsumed("", outcomeInvalid)
			return
		}
		_ = s.Cache.Delete(ctx, key)
	}
	env.Key = key
	span.SetAttributes(attribute.String("dispatch.event", env.Event), attribute.String("dispatch.key", key))

	h, ok := s.handler(env.Event)
	if !ok {
		logging.Error(ctx, "dispatch envelope has no handler", zap.String("event", env.Event), zap.String("key", key))
		s.Metrics.DispatchConsumed(env.Event, outcomeUnrouted)
		return
	}
	if s.seen(ctx, key) {
		s.Metrics.DispatchConsumed(env.Event, outcomeDuplicate)
		return
	}
	if err := h(ctx, *env); err != nil {
		logging.Warn(ctx, "dispatch handler failed", zap.String("event", env.Event), zap.String("key", key), zap.Error(err))
		s.Metrics.DispatchConsumed(env.Event, outcomeFailed)
		return
	}
	s.Metrics.DispatchConsumed(env.Event, outcomeHandled)
}

// seen marks key as delivered and reports whether it already was.
func (s *Subscriber) seen(ctx context.Context, key string) bool {
	dup := false
	err := s.Cache.Mutate(ctx, bizConsts.CACHE_PREFIX_SEEN+key, SeenTTL, func(raw []byte, exists bool) ([]byte, error) {
		dup = exists
		return []byte(`1`), nil
	})
	if err != nil {
		logging.Warn(ctx, "dispatch dedupe unavailable", zap.String("key", key), zap.Error(err))
		return false
	}
	return dup
}
