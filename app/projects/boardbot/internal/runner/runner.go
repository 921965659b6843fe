// Package runner executes bots against flow graphs and tracks which bots are running where.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/http_client"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/logging"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/consts"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/cache"
	bizConfig "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/config"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/dao"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/metrics"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/model"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/publisher"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/snowflake"
)

const (
	StatusRunning = "running"
	StatusStopped = "stopped"
)

// Request is one run of one bot against one target.
type Request struct {
	BotID      snowflake.ID    `json:"bot_uid"`
	ProjectID  snowflake.ID    `json:"project_uid"`
	TargetType model.ScopeType `json:"target_type"`
	TargetID   snowflake.ID    `json:"target_uid"`
	Condition  model.Condition `json:"condition,omitempty"`
	Payload    map[string]any  `json:"payload,omitempty"`
	Tweaks     map[string]any  `json:"tweaks,omitempty"`
}

func (r Request) Validate() error {
	switch {
	case r.BotID.IsZero():
		return errs.Invalid("run.validate", "bot_uid is required")
	case r.ProjectID.IsZero():
		return errs.Invalid("run.validate", "project_uid is required")
	case !r.TargetType.Valid():
		return errs.Invalid("run.validate", "unknown target_type %q", r.TargetType)
	case r.TargetID.IsZero():
		return errs.Invalid("run.validate", "target_uid is required")
	case r.Condition != "" && !r.Condition.Valid():
		return errs.Invalid("run.validate", "unknown condition %q", r.Condition)
	}
	return nil
}

type Result struct {
	LogID   snowflake.ID   `json:"log_uid"`
	Outputs map[string]any `json:"outputs,omitempty"`
}

type Runner struct {
	*core.BaseComponent
	Cache     cache.Cache                       `infra:"dep:cache"`
	Bots      dao.BotDao                        `infra:"dep:bot_dao"`
	Logs      dao.BotLogDao                     `infra:"dep:bot_log_dao"`
	Publisher publisher.Sender                  `infra:"dep:socket_publisher"`
	Clients   *http_client.HTTPClientsComponent `infra:"dep:http_clients?"`
	Metrics   *metrics.Component                `infra:"dep:boardbot_metrics?"`

	// Flows defaults to an HTTPFlowClient over the configured http_clients entry.
	Flows FlowClient

	cfg      bizConfig.BotConfig
	status   *StatusMap
	runs     sync.WaitGroup
	stopping atomic.Bool
}

func NewRunner(cfg bizConfig.BotConfig) *Runner {
	return &Runner{
		BaseComponent: core.NewBaseComponent(bizConsts.COMP_BOT_RUNNER, consts.COMPONENT_LOGGING),
		cfg:           cfg,
	}
}

// NewWith returns a started runner over the given collaborators.
func NewWith(cfg bizConfig.BotConfig, c cache.Cache, bots dao.BotDao, logs dao.BotLogDao, pub publisher.Sender, flows FlowClient) *Runner {
	r := NewRunner(cfg)
	r.Cache, r.Bots, r.Logs, r.Publisher, r.Flows = c, bots, logs, pub, flows
	r.status = NewStatusMap(c)
	r.SetActive(true)
	return r
}

func (r *Runner) Start(ctx context.Context) error {
	if r.IsActive() {
		return nil
	}
	if r.Flows == nil {
		if r.Clients == nil {
			return fmt.Errorf("bot runner needs the http_clients component or a flow client")
		}
		cli, err := r.Clients.Client(r.cfg.FlowClient)
		if err != nil {
			return fmt.Errorf("bot runner flow client: %w", err)
		}
		r.Flows = NewHTTPFlowClient(cli, r.cfg)
	}
	r.status = NewStatusMap(r.Cache)
	return r.BaseComponent.Start(ctx)
}

// Drain waits for in-flight runs.
func (r *Runner) Drain(ctx context.Context) error {
	r.stopping.Store(true)
	done := make(chan struct{})
	go func() {
		r.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) Stop(ctx context.Context) error {
	r.stopping.Store(true)
	return r.BaseComponent.Stop(ctx)
}

func (r *Runner) Status() *StatusMap { return r.status }

// Run executes the bot to completion and returns its outputs.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	return r.execute(ctx, req, nil)
}

// Stream executes the bot and hands every flow event to emit. Cancelling ctx cancels the run.
func (r *Runner) Stream(ctx context.Context, req Request, emit func(Event) error) (*Result, error) {
	if emit == nil {
		return nil, errs.Invalid("run.stream", "emit is required")
	}
	return r.execute(ctx, req, emit)
}

func (r *Runner) execute(ctx context.Context, req Request, emit func(Event) error) (*Result, error) {
	if err := req.Validate(); err != nil {
		logging.Error(ctx, "bot run rejected", zap.Error(err))
		return nil, err
	}
	if r.stopping.Load() {
		return nil, errs.Transient("bot.run", errors.New("runner is stopping"))
	}
	bot, err := r.Bots.Get(ctx, req.BotID)
	if err != nil {
		return nil, err
	}

	r.runs.Add(1)
	defer r.runs.Done()

	ctx, span := otel.Tracer("boardbot/runner").Start(ctx, "bot.run")
	span.SetAttributes(
		attribute.String("bot_uid", req.BotID.String()),
		attribute.String("target_type", string(req.TargetType)),
		attribute.String("target_uid", req.TargetID.String()),
	)
	defer span.End()

	record := r.Metrics.BotRun(string(bot.Platform))
	release := r.acquire(ctx, req)
	defer release()

	entry := &model.BotLog{
		BotID:      req.BotID,
		ProjectID:  req.ProjectID,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		Status:     model.BotLogRunning,
	}
	logged := true
	if err := r.Logs.Create(ctx, entry); err != nil {
		logged = false
		logging.Warn(ctx, "bot log not created", zap.String("bot_uid", req.BotID.String()), zap.Error(err))
	}

	start := time.Now()
	outputs, records, err := r.invoke(ctx, bot, req, emit)

	status, msg := model.BotLogSuccess, ""
	if err != nil {
		status, msg = model.BotLogError, err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
	}
	if logged {
		if ferr := r.Logs.Finish(context.WithoutCancel(ctx), entry.ID, status, msg, records); ferr != nil {
			logging.Warn(ctx, "bot log not finished", zap.String("log_uid", entry.ID.String()), zap.Error(ferr))
		}
	}
	record(err)

	fields := []zap.Field{
		zap.String("bot_uid", req.BotID.String()),
		zap.String("target_type", string(req.TargetType)),
		zap.String("target_uid", req.TargetID.String()),
		zap.Duration("latency", time.Since(start)),
	}
	if err != nil {
		logging.Warn(ctx, "bot run failed", append(fields, zap.Error(err))...)
		return &Result{LogID: entry.ID}, err
	}
	logging.Info(ctx, "bot run finished", fields...)
	return &Result{LogID: entry.ID, Outputs: outputs}, nil
}

func (r *Runner) invoke(ctx context.Context, bot *model.Bot, req Request, emit func(Event) error) (map[string]any, model.JSONList, error) {
	flow, err := loadFlow(bot, r.cfg.DefaultFlowPath)
	if err != nil {
		return nil, nil, err
	}
	if flow, err = applyTweaks(flow, req.Tweaks); err != nil {
		return nil, nil, err
	}
	if missing := requiredInputs(flow); len(missing) > 0 {
		return nil, nil, errs.Invalid("bot.run", "missing required tweak: %s", strings.Join(missing, ", "))
	}
	call := FlowCall{
		Bot:  bot,
		Flow: flow,
		Inputs: map[string]any{
			"condition":   string(req.Condition),
			"project_uid": req.ProjectID,
			"target_type": string(req.TargetType),
			"target_uid":  req.TargetID,
			"payload":     req.Payload,
		},
	}

	if emit == nil {
		out, err := r.Flows.Run(ctx, call)
		if err != nil {
			return nil, nil, flowFailure(ctx, err)
		}
		return out, model.JSONList{out}, nil
	}

	var (
		records  model.JSONList
		terminal bool
	)
	err = r.Flows.Stream(ctx, call, func(ev Event) error {
		records = append(records, map[string]any{"event": ev.Type, "data": ev.Data})
		terminal = ev.Terminal()
		return emit(ev)
	})
	if err == nil {
		return nil, records, nil
	}
	err = flowFailure(ctx, err)
	if !terminal && ctx.Err() == nil {
		_ = emit(Event{Type: EventError, Data: map[string]any{"message": err.Error()}})
	}
	return nil, records, err
}

func flowFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errs.KindOf(err) != nil {
		return err
	}
	return errs.Platform("bot.run", err)
}

// acquire marks the bot running on its target and returns the release func. Release runs at most
// once and survives cancellation of ctx.
func (r *Runner) acquire(ctx context.Context, req Request) func() {
	if err := r.status.Add(ctx, req.ProjectID, req.TargetType, req.TargetID, req.BotID); err != nil {
		logging.Warn(ctx, "bot status not recorded", zap.String("bot_uid", req.BotID.String()), zap.Error(err))
	}
	r.publishStatus(ctx, req, StatusRunning)

	var once sync.Once
	return func() {
		once.Do(func() {
			cctx := context.WithoutCancel(ctx)
			if err := r.status.Remove(cctx, req.ProjectID, req.TargetType, req.TargetID, req.BotID); err != nil {
				logging.Warn(cctx, "bot status not cleared", zap.String("bot_uid", req.BotID.String()), zap.Error(err))
			}
			r.publishStatus(cctx, req, StatusStopped)
		})
	}
}

func (r *Runner) publishStatus(ctx context.Context, req Request, status string) {
	if r.Publisher == nil {
		return
	}
	project := req.ProjectID.String()
	r.Publisher.Put(ctx, map[string]any{
		"bot_uid":                       req.BotID,
		string(req.TargetType) + "_uid": req.TargetID,
		"status":                        status,
	}, publisher.PublishModel{
		Topic:    publisher.TopicBoard,
		TopicID:  project,
		Event:    "board:bot:status:changed:" + project,
		DataKeys: publisher.AllKeys(),
	})
}
