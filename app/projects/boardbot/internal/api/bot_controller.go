package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/logging"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/codec"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/model"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/runner"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/snowflake"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/webhook"
)

// BotRunner is the part of the runner the controller drives.
type BotRunner interface {
	Run(ctx context.Context, req runner.Request) (*runner.Result, error)
	Stream(ctx context.Context, req runner.Request, emit func(runner.Event) error) (*runner.Result, error)
	Status() *runner.StatusMap
}

type BotController struct {
	*core.BaseComponent
	Runner BotRunner       `infra:"dep:bot_runner"`
	Schema *webhook.Schema `infra:"dep:webhook_schema?"`
}

func NewBotController() *BotController {
	return &BotController{BaseComponent: core.NewBaseComponent(bizConsts.COMP_CTRL_BOT)}
}

func (c *BotController) Routes(r chi.Router) {
	r.Route("/api/v1/bots", func(r chi.Router) {
		r.Get("/status", c.status)
		r.Post("/{bot_uid}/run", c.run)
		r.Get("/{bot_uid}/stream", c.stream)
	})
	r.Get("/api/v1/schema/webhook", c.webhookSchema)
}

type runBody struct {
	ProjectID  string          `json:"project_uid"`
	TargetType model.ScopeType `json:"target_type"`
	TargetID   string          `json:"target_uid"`
	Condition  model.Condition `json:"condition,omitempty"`
	Payload    map[string]any  `json:"payload,omitempty"`
	Tweaks     map[string]any  `json:"tweaks,omitempty"`
}

func (b runBody) request(r *http.Request) (runner.Request, error) {
	bot, err := pathID(r, "bot_uid")
	if err != nil {
		return runner.Request{}, err
	}
	project, err := parseID(b.ProjectID, "project_uid")
	if err != nil {
		return runner.Request{}, err
	}
	target, err := parseID(b.TargetID, "target_uid")
	if err != nil {
		return runner.Request{}, err
	}
	req := runner.Request{
		BotID:      bot,
		ProjectID:  project,
		TargetType: b.TargetType,
		TargetID:   target,
		Condition:  b.Condition,
		Payload:    b.Payload,
		Tweaks:     b.Tweaks,
	}
	return req, req.Validate()
}

func (c *BotController) run(w http.ResponseWriter, r *http.Request) {
	var body runBody
	if err := codec.Unmarshal(readAll(r), &body); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	req, err := body.request(r)
	if err != nil {
		fail(w, err)
		return
	}
	res, err := c.Runner.Run(r.Context(), req)
	if err != nil {
		if res != nil {
			w.Header().Set("X-Bot-Log-Uid", res.LogID.String())
		}
		fail(w, err)
		return
	}
	writeJSON(w, res)
}

// stream runs the bot and relays every flow event; a closed connection cancels the run.
func (c *BotController) stream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	body := runBody{
		ProjectID:  q.Get("project_uid"),
		TargetType: model.ScopeType(q.Get("target_type")),
		TargetID:   q.Get("target_uid"),
		Condition:  model.Condition(q.Get("condition")),
	}
	if raw := q.Get("tweaks"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &body.Tweaks); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid tweaks: "+err.Error())
			return
		}
	}
	req, err := body.request(r)
	if err != nil {
		fail(w, err)
		return
	}
	sse, err := newSSE(w)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	_, err = c.Runner.Stream(r.Context(), req, func(ev runner.Event) error {
		return sse.event(ev.Type, ev.Data)
	})
	if err == nil {
		return
	}
	if !sse.started {
		fail(w, err)
		return
	}
	logging.Info(r.Context(), "bot stream ended with error",
		zap.String("bot_uid", req.BotID.String()), zap.Error(err))
}

func (c *BotController) status(w http.ResponseWriter, r *http.Request) {
	project, err := queryID(r, "project_uid")
	if err != nil {
		fail(w, err)
		return
	}
	status := c.Runner.Status()
	tt := model.ScopeType(r.URL.Query().Get("target_type"))
	if tt == "" {
		writeJSON(w, map[string]any{"project_uid": project, "bots": status.Project(r.Context(), project)})
		return
	}
	if !tt.Valid() {
		fail(w, errs.Invalid("api.status", "unknown target_type %q", tt))
		return
	}
	target, err := queryID(r, "target_uid")
	if err != nil {
		fail(w, err)
		return
	}
	bots := status.Bots(r.Context(), project, tt, target)
	if bots == nil {
		bots = []snowflake.ID{}
	}
	writeJSON(w, map[string]any{
		"project_uid": project,
		"target_type": tt,
		"target_uid":  target,
		"bot_uids":    bots,
	})
}

func (c *BotController) webhookSchema(w http.ResponseWriter, _ *http.Request) {
	if c.Schema == nil {
		writeErr(w, http.StatusNotFound, "webhook schema disabled")
		return
	}
	raw, err := c.Schema.JSON()
	if err != nil {
		fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}
