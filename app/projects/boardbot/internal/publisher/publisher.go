package publisher

import (
	"context"

	"go.uber.org/zap"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/logging"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/codec"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/dispatch"
)

// Sender is what producers depend on.
type Sender interface {
	Put(ctx context.Context, data map[string]any, models ...PublishModel) string
}

// Publisher turns one producer payload and N publish models into N frames inside one envelope.
type Publisher struct {
	*core.BaseComponent
	Queue dispatch.Putter `infra:"dep:dispatch_queue"`
}

func NewPublisher() *Publisher {
	return &Publisher{BaseComponent: core.NewBaseComponent(bizConsts.COMP_SOCKET_PUBLISHER)}
}

// NewWithQueue returns a started publisher writing into q.
func NewWithQueue(q dispatch.Putter) *Publisher {
	p := &Publisher{BaseComponent: core.NewBaseComponent(bizConsts.COMP_SOCKET_PUBLISHER), Queue: q}
	p.SetActive(true)
	return p
}

// Put enqueues the frames for models and returns the envelope key ("" when nothing was queued).
func (p *Publisher) Put(ctx context.Context, data map[string]any, models ...PublishModel) string {
	if len(models) == 0 {
		return ""
	}
	frames := make([]Frame, 0, len(models))
	for _, m := range models {
		if !m.Topic.Valid() {
			logging.Error(ctx, "publish model with unknown topic dropped",
				zap.String("topic", string(m.Topic)), zap.String("event", m.Event))
			continue
		}
		f := Project(data, m)
		if n, ok := codec.Normalize(f.Data).(map[string]any); ok {
			f.Data = n
		}
		frames = append(frames, f)
	}
	if len(frames) == 0 {
		return ""
	}
	return p.Queue.Put(ctx, bizConsts.EVENT_SOCKET_PUBLISH, envelopeData{Frames: frames})
}
