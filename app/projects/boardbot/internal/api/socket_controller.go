package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/publisher"
)

// SocketController streams hub frames of one channel as server-sent events.
type SocketController struct {
	*core.BaseComponent
	Hub *publisher.Hub `infra:"dep:socket_hub"`
}

func NewSocketController() *SocketController {
	return &SocketController{BaseComponent: core.NewBaseComponent(bizConsts.COMP_CTRL_SOCKET)}
}

func (c *SocketController) Routes(r chi.Router) {
	r.Get("/api/v1/socket/{topic}/{topic_id}", c.subscribe)
}

func (c *SocketController) subscribe(w http.ResponseWriter, r *http.Request) {
	topic := publisher.Topic(chi.URLParam(r, "topic"))
	if !topic.Valid() {
		fail(w, errs.Invalid("api.socket", "unknown topic %q", topic))
		return
	}
	sse, err := newSSE(w)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	frames, cancel := c.Hub.Subscribe(publisher.ChannelOf(topic, chi.URLParam(r, "topic_id")))
	defer cancel()
	if err := sse.comment("subscribed"); err != nil {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			if err := sse.event(f.Event, f); err != nil {
				return
			}
		}
	}
}
