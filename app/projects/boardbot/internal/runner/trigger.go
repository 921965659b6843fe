package runner

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/logging"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/consts"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/broker"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/dispatch"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/model"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/scope"
)

// TriggerEvent is the body of a bot_trigger envelope.
type TriggerEvent struct {
	Condition model.Condition `json:"condition"`
	scope.Target
	Payload map[string]any `json:"payload,omitempty"`
}

type MatchResolver interface {
	Resolve(ctx context.Context, cond model.Condition, t scope.Target) (model.ScopeType, []scope.Match, error)
}

// Trigger turns conditions and schedule ticks into bot.run broker tasks.
type Trigger struct {
	*core.BaseComponent
	Resolver MatchResolver   `infra:"dep:bot_scope_resolver"`
	Broker   *broker.Broker  `infra:"dep:task_broker"`
	Runner   *Runner         `infra:"dep:bot_runner"`
	Queue    dispatch.Putter `infra:"dep:dispatch_queue?"`

	task *broker.Task
}

func NewTrigger() *Trigger {
	return &Trigger{BaseComponent: core.NewBaseComponent(bizConsts.COMP_BOT_TRIGGER, consts.COMPONENT_LOGGING)}
}

// NewTriggerWith returns a started trigger with its task registered on b.
func NewTriggerWith(res MatchResolver, b *broker.Broker, r *Runner, q dispatch.Putter) (*Trigger, error) {
	t := NewTrigger()
	t.Resolver, t.Broker, t.Runner, t.Queue = res, b, r, q
	if err := t.register(); err != nil {
		return nil, err
	}
	t.SetActive(true)
	return t, nil
}

func (t *Trigger) Start(ctx context.Context) error {
	if t.IsActive() {
		return nil
	}
	if err := t.register(); err != nil {
		return err
	}
	return t.BaseComponent.Start(ctx)
}

func (t *Trigger) register() error {
	task, err := t.Broker.WrapAsync(bizConsts.TASK_BOT_RUN, t.run)
	if errors.Is(err, errs.ErrConflict) {
		task, _ = t.Broker.Task(bizConsts.TASK_BOT_RUN)
		err = nil
	}
	if err != nil {
		return fmt.Errorf("register %s: %w", bizConsts.TASK_BOT_RUN, err)
	}
	t.task = task
	return nil
}

func (t *Trigger) run(ctx context.Context, req Request) error {
	_, err := t.Runner.Run(ctx, req)
	return err
}

// Fire enqueues a bot_trigger envelope; producers never see dispatch errors.
func (t *Trigger) Fire(ctx context.Context, ev TriggerEvent) string {
	if t.Queue == nil {
		logging.Warn(ctx, "bot trigger dropped: no dispatch queue", zap.String("condition", string(ev.Condition)))
		return ""
	}
	return t.Queue.Put(ctx, bizConsts.EVENT_BOT_TRIGGER, ev)
}

// HandleEnvelope is the dispatcher handler for bot_trigger.
func (t *Trigger) HandleEnvelope(ctx context.Context, env dispatch.Received) error {
	var ev TriggerEvent
	if err := env.Decode(&ev); err != nil {
		return errs.Invalid("trigger.decode", "envelope %s: %v", env.Key, err)
	}
	_, err := t.Dispatch(ctx, ev)
	return err
}

// Dispatch resolves the subscribed bots and queues one run per match.
func (t *Trigger) Dispatch(ctx context.Context, ev TriggerEvent) (int, error) {
	st, matches, err := t.Resolver.Resolve(ctx, ev.Condition, ev.Target)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, m := range matches {
		req := Request{
			BotID:      m.Bot.ID,
			ProjectID:  ev.ProjectID,
			TargetType: st,
			TargetID:   m.Scope.ScopeID,
			Condition:  ev.Condition,
			Payload:    ev.Payload,
		}
		if err := t.task.Delay(ctx, req); err != nil {
			logging.Warn(ctx, "bot run not queued",
				zap.String("bot_uid", m.Bot.ID.String()), zap.String("condition", string(ev.Condition)), zap.Error(err))
			continue
		}
		queued++
	}
	logging.Debug(ctx, "bot trigger dispatched",
		zap.String("condition", string(ev.Condition)), zap.String("scope_type", string(st)), zap.Int("queued", queued))
	return queued, nil
}

// RunScheduled queues one run for a schedule.
func (t *Trigger) RunScheduled(ctx context.Context, s *model.BotSchedule) error {
	return t.task.Delay(ctx, Request{
		BotID:      s.BotID,
		ProjectID:  s.ProjectID,
		TargetType: s.TargetType,
		TargetID:   s.TargetID,
		Payload: map[string]any{
			"schedule_uid": s.ID,
			"interval":     s.Interval,
		},
	})
}
