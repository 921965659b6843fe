package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/logging"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/consts"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/dao"
)

// Clock feeds the engine: a scheduled tick at the top of every minute and one interval tick for
// each distinct started interval due at the current second. It only runs on the main worker.
type Clock struct {
	*core.BaseComponent
	Engine    *Engine            `infra:"dep:bot_schedule_engine"`
	Schedules dao.BotScheduleDao `infra:"dep:bot_schedule_dao"`

	enabled bool
	period  time.Duration
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu         sync.Mutex
	lastMinute time.Time
}

func NewClock(mainWorker bool) *Clock {
	return &Clock{
		BaseComponent: core.NewBaseComponent(bizConsts.COMP_SCHEDULE_CLOCK, consts.COMPONENT_LOGGING),
		enabled:       mainWorker,
		period:        time.Second,
	}
}

func (c *Clock) Start(ctx context.Context) error {
	if c.IsActive() {
		return nil
	}
	if err := c.BaseComponent.Start(ctx); err != nil {
		return err
	}
	if !c.enabled {
		logging.Info(ctx, "schedule clock idle on non-main worker")
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.period)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case now := <-ticker.C:
				c.Fire(loopCtx, now)
			}
		}
	}()
	return nil
}

func (c *Clock) Stop(ctx context.Context) error {
	if !c.IsActive() {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.BaseComponent.Stop(ctx)
}

// Fire emits the ticks due at now (truncated to the second).
func (c *Clock) Fire(ctx context.Context, now time.Time) {
	sec := now.UTC().Truncate(time.Second)
	if minute := sec.Truncate(time.Minute); c.claimMinute(minute) {
		if err := c.Engine.Tick(ctx, ScheduledTick(minute)); err != nil {
			logging.Warn(ctx, "scheduled tick failed", zap.Error(err))
		}
	}
	intervals, err := c.Schedules.Intervals(ctx)
	if err != nil {
		logging.Warn(ctx, "list schedule intervals failed", zap.Error(err))
		return
	}
	for _, iv := range intervals {
		if !Due(sec, iv) {
			continue
		}
		if err := c.Engine.Tick(ctx, iv); err != nil {
			logging.Warn(ctx, "interval tick failed", zap.String("interval", iv), zap.Error(err))
		}
	}
}

// claimMinute reports whether minute has not been ticked yet.
func (c *Clock) claimMinute(minute time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !minute.After(c.lastMinute) {
		return false
	}
	c.lastMinute = minute
	return true
}
