package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/codec"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
)

// Ticker applies one clock signal; the schedule engine implements it.
type Ticker interface {
	Tick(ctx context.Context, raw string) error
}

// ScheduleController lets an external clock drive the schedule engine.
type ScheduleController struct {
	*core.BaseComponent
	Engine Ticker `infra:"dep:bot_schedule_engine"`
}

func NewScheduleController() *ScheduleController {
	return &ScheduleController{BaseComponent: core.NewBaseComponent(bizConsts.COMP_CTRL_SCHEDULE)}
}

func (c *ScheduleController) Routes(r chi.Router) {
	r.Post("/api/v1/schedules/tick", c.tick)
}

// tick accepts {"tick": "..."} or the tick as a plain text body.
func (c *ScheduleController) tick(w http.ResponseWriter, r *http.Request) {
	raw := readAll(r)
	tick := strings.TrimSpace(string(raw))
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Tick string `json:"tick"`
		}
		if err := codec.Unmarshal(raw, &body); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid json: "+err.Error())
			return
		}
		tick = body.Tick
	}
	if tick == "" {
		fail(w, errs.Invalid("api.tick", "tick is required"))
		return
	}
	if err := c.Engine.Tick(r.Context(), tick); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, map[string]any{"tick": tick, "applied": true})
}
