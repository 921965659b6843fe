// Package metrics holds the engine's prometheus collectors. All methods are safe on a nil
// receiver so packages can be exercised without a registry.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	promComp "github.com/grand-thief-cash/chaos/app/infra/go/application/components/prometheus"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
)

type Component struct {
	*core.BaseComponent
	Prom *promComp.Component `infra:"dep:prometheus?"`

	dispatchPut      *prometheus.CounterVec
	dispatchConsumed *prometheus.CounterVec
	brokerTasks      *prometheus.CounterVec
	brokerDuration   *prometheus.HistogramVec
	brokerInflight   *prometheus.GaugeVec
	botRuns          *prometheus.CounterVec
	botRunsActive    *prometheus.GaugeVec
	botRunDuration   *prometheus.HistogramVec
	scheduleMoves    *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	activities       *prometheus.CounterVec
}

func NewComponent() *Component {
	return &Component{BaseComponent: core.NewBaseComponent(bizConsts.COMP_METRICS)}
}

// NewStandalone builds collectors on a private registry.
func NewStandalone() *Component {
	m := NewComponent()
	m.Prom = promComp.NewStandalone("boardbot")
	m.init()
	return m
}

func (m *Component) Start(ctx context.Context) error {
	if m.Prom == nil {
		m.Prom = promComp.NewStandalone("boardbot")
	}
	m.init()
	return m.BaseComponent.Start(ctx)
}

func (m *Component) init() {
	p := m.Prom
	m.dispatchPut = p.NewCounter("dispatch_put_total", "Envelopes handed to the dispatcher.", []string{"event", "outcome"})
	m.dispatchConsumed = p.NewCounter("dispatch_consumed_total", "Envelopes drained by the subscriber.", []string{"event", "outcome"})
	m.brokerTasks = p.NewCounter("broker_tasks_total", "Broker task executions.", []string{"task", "outcome"})
	m.brokerDuration = p.NewHistogram("broker_task_duration_seconds", "Broker task latency.", []string{"task"}, nil)
	m.brokerInflight = p.NewGauge("broker_tasks_inflight", "Broker tasks currently executing.", []string{"task"})
	m.botRuns = p.NewCounter("bot_runs_total", "Finished bot runs.", []string{"platform", "outcome"})
	m.botRunsActive = p.NewGauge("bot_runs_active", "Bot runs in progress.", []string{"platform"})
	m.botRunDuration = p.NewHistogram("bot_run_duration_seconds", "Bot run latency.", []string{"platform"},
		[]float64{0.5, 1, 5, 15, 30, 60, 120, 300, 900})
	m.scheduleMoves = p.NewCounter("schedule_transitions_total", "Bot schedule status transitions.", []string{"from", "to"})
	m.notifications = p.NewCounter("notifications_total", "Notification channel decisions.", []string{"channel", "outcome"})
	m.activities = p.NewCounter("activities_recorded_total", "Activity rows recorded.", []string{"table"})
}

func (m *Component) DispatchPut(event, outcome string) {
	if m == nil || m.dispatchPut == nil {
		return
	}
	m.dispatchPut.WithLabelValues(event, outcome).Inc()
}

func (m *Component) DispatchConsumed(event, outcome string) {
	if m == nil || m.dispatchConsumed == nil {
		return
	}
	m.dispatchConsumed.WithLabelValues(event, outcome).Inc()
}

// BrokerTask marks a task as in flight and returns the function that records its outcome.
func (m *Component) BrokerTask(task string) func(err error) {
	if m == nil || m.brokerTasks == nil {
		return func(error) {}
	}
	start := time.Now()
	m.brokerInflight.WithLabelValues(task).Inc()
	return func(err error) {
		m.brokerInflight.WithLabelValues(task).Dec()
		m.brokerDuration.WithLabelValues(task).Observe(time.Since(start).Seconds())
		m.brokerTasks.WithLabelValues(task, outcome(err)).Inc()
	}
}

func (m *Component) BotRun(platform string) func(err error) {
	if m == nil || m.botRuns == nil {
		return func(error) {}
	}
	start := time.Now()
	m.botRunsActive.WithLabelValues(platform).Inc()
	return func(err error) {
		m.botRunsActive.WithLabelValues(platform).Dec()
		m.botRunDuration.WithLabelValues(platform).Observe(time.Since(start).Seconds())
		m.botRuns.WithLabelValues(platform, outcome(err)).Inc()
	}
}

func (m *Component) ScheduleTransition(from, to string) {
	if m == nil || m.scheduleMoves == nil {
		return
	}
	m.scheduleMoves.WithLabelValues(from, to).Inc()
}

func (m *Component) Notification(channel, outcome string) {
	if m == nil || m.notifications == nil {
		return
	}
	m.notifications.WithLabelValues(channel, outcome).Inc()
}

func (m *Component) Activity(table string) {
	if m == nil || m.activities == nil {
		return
	}
	m.activities.WithLabelValues(table).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
