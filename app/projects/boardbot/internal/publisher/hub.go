package publisher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/logging"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/consts"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/dispatch"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
)

const defaultSubscriberBuffer = 64

// envelopeData is the socket_publish envelope payload.
type envelopeData struct {
	Frames []Frame `json:"frames"`
}

type subscription struct {
	channel string
	ch      chan Frame
}

// Hub delivers frames to channel subscribers. Frames for one channel are delivered in publish
// order; a subscriber that falls behind loses frames rather than blocking the hub.
type Hub struct {
	*core.BaseComponent

	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscription
}

func NewHub() *Hub {
	return &Hub{
		BaseComponent: core.NewBaseComponent(bizConsts.COMP_SOCKET_HUB, consts.COMPONENT_LOGGING),
		subs:          map[int]*subscription{},
	}
}

// Subscribe returns frames for channel ("" receives every channel) and a cancel func.
func (h *Hub) Subscribe(channel string) (<-chan Frame, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	sub := &subscription{channel: channel, ch: make(chan Frame, defaultSubscriberBuffer)}
	h.subs[id] = sub
	return sub.ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub.ch)
		}
	}
}

func (h *Hub) Publish(ctx context.Context, f Frame) {
	channel := f.Channel()
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.channel != "" && sub.channel != channel {
			continue
		}
		select {
		case sub.ch <- f:
		default:
			logging.Warn(ctx, "socket subscriber lagging; frame dropped",
				zap.String("channel", channel), zap.String("event", f.Event))
		}
	}
}

// HandleEnvelope is the dispatcher handler for socket_publish envelopes.
func (h *Hub) HandleEnvelope(ctx context.Context, env dispatch.Received) error {
	var data envelopeData
	if err := env.Decode(&data); err != nil {
		return errs.Invalid("hub.handle", "decode frames of %s: %v", env.Key, err)
	}
	for _, f := range data.Frames {
		if f.Data == nil {
			f.Data = map[string]any{}
		}
		h.Publish(ctx, f)
	}
	return nil
}

func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
	}
	h.mu.Unlock()
	return h.BaseComponent.Stop(ctx)
}
