// Package scheduler drives bot schedules through pending -> started -> stopped from clock ticks.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/logging"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/consts"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/dao"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/metrics"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/model"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/publisher"
)

const defaultInvokeConcurrency = 8

// Invoker starts one scheduled run of a bot. It must not block on the run itself.
type Invoker interface {
	RunScheduled(ctx context.Context, s *model.BotSchedule) error
}

type Engine struct {
	*core.BaseComponent
	Schedules dao.BotScheduleDao `infra:"dep:bot_schedule_dao"`
	Invoker   Invoker            `infra:"dep:bot_trigger"`
	Publisher publisher.Sender   `infra:"dep:socket_publisher"`
	Metrics   *metrics.Component `infra:"dep:boardbot_metrics?"`

	now         func() time.Time
	concurrency int
}

func NewEngine() *Engine {
	return &Engine{
		BaseComponent: core.NewBaseComponent(bizConsts.COMP_SCHEDULE_ENGINE, consts.COMPONENT_LOGGING),
		now:           time.Now,
		concurrency:   defaultInvokeConcurrency,
	}
}

// NewWith returns a started engine over the given collaborators.
func NewWith(schedules dao.BotScheduleDao, inv Invoker, pub publisher.Sender) *Engine {
	e := NewEngine()
	e.Schedules, e.Invoker, e.Publisher = schedules, inv, pub
	e.SetActive(true)
	return e
}

// Tick applies one clock signal. Per-schedule failures are logged; only a bad tick or a failed
// listing is returned.
func (e *Engine) Tick(ctx context.Context, raw string) error {
	t, err := ParseTick(raw)
	if err != nil {
		logging.Error(ctx, "bad schedule tick", zap.String("tick", raw), zap.Error(err))
		return err
	}
	if t.Scheduled {
		return e.promote(ctx, t.At)
	}
	return e.runInterval(ctx, t.Interval)
}

func (e *Engine) promote(ctx context.Context, at time.Time) error {
	due, err := e.Schedules.ListDuePending(ctx, at)
	if err != nil {
		return err
	}
	for _, s := range due {
		if s.RunningType == model.RunningDuration && !validWindow(s) {
			logging.Debug(ctx, "duration schedule with empty window not started",
				zap.String("schedule_uid", s.ID.String()))
			continue
		}
		ok, err := e.transition(ctx, s, model.SchedulePending, model.ScheduleStarted)
		if err != nil || !ok {
			continue
		}
		if s.RunningType != model.RunningOnetime {
			continue
		}
		e.invoke(ctx, s, at)
		_, _ = e.transition(ctx, s, model.ScheduleStarted, model.ScheduleStopped)
	}
	return nil
}

func (e *Engine) runInterval(ctx context.Context, interval string) error {
	started, err := e.Schedules.ListStarted(ctx, interval)
	if err != nil {
		return err
	}
	now := e.now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, s := range started {
		if s.RunningType == model.RunningOnetime {
			continue
		}
		g.Go(func() error {
			e.invoke(gctx, s, now)
			if s.RunningType == model.RunningDuration && s.EndAt != nil && s.EndAt.Before(now) {
				_, _ = e.transition(gctx, s, model.ScheduleStarted, model.ScheduleStopped)
			}
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) invoke(ctx context.Context, s *model.BotSchedule, at time.Time) {
	if err := e.Invoker.RunScheduled(ctx, s); err != nil {
		logging.Warn(ctx, "scheduled bot run not started",
			zap.String("schedule_uid", s.ID.String()), zap.String("bot_uid", s.BotID.String()), zap.Error(err))
		return
	}
	if err := e.Schedules.TouchLastRun(ctx, s.ID, at); err != nil {
		logging.Warn(ctx, "schedule last_run_at not updated", zap.String("schedule_uid", s.ID.String()), zap.Error(err))
	}
}

// transition moves s with one conditional update and publishes the new status when it moved.
func (e *Engine) transition(ctx context.Context, s *model.BotSchedule, from, to model.ScheduleStatus) (bool, error) {
	ok, err := e.Schedules.Transition(ctx, s.ID, from, to)
	if err != nil {
		logging.Warn(ctx, "schedule transition failed",
			zap.String("schedule_uid", s.ID.String()), zap.String("from", string(from)), zap.String("to", string(to)), zap.Error(err))
		return false, err
	}
	if !ok {
		logging.Info(ctx, "schedule transition lost to a concurrent tick",
			zap.String("schedule_uid", s.ID.String()), zap.String("from", string(from)), zap.String("to", string(to)))
		return false, nil
	}
	s.Status = to
	e.Metrics.ScheduleTransition(string(from), string(to))
	e.publishRescheduled(ctx, s)
	return true, nil
}

func (e *Engine) publishRescheduled(ctx context.Context, s *model.BotSchedule) {
	if e.Publisher == nil {
		return
	}
	project := s.ProjectID.String()
	e.Publisher.Put(ctx, map[string]any{
		"uid":          s.ID,
		"bot_uid":      s.BotID,
		"target_type":  string(s.TargetType),
		"target_uid":   s.TargetID,
		"running_type": string(s.RunningType),
		"interval":     s.Interval,
		"status":       string(s.Status),
		"start_at":     s.StartAt,
		"end_at":       s.EndAt,
	}, publisher.PublishModel{
		Topic:    publisher.TopicBoardSettings,
		TopicID:  project,
		Event:    "board:settings:bot:schedule:rescheduled:" + project,
		DataKeys: publisher.AllKeys(),
	})
}

func validWindow(s *model.BotSchedule) bool {
	return s.StartAt != nil && s.EndAt != nil && s.StartAt.Before(*s.EndAt)
}
