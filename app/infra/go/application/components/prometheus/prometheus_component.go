package prometheus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/logging"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/consts"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
)

type Component struct {
	*core.BaseComponent
	cfg       *Config
	server    *http.Server
	registry  *prometheus.Registry
	started   bool
	namespace string
	subsystem string
}

func NewComponent(cfg *Config) *Component {
	return &Component{
		BaseComponent: core.NewBaseComponent(consts.COMPONENT_PROMETHEUS, consts.COMPONENT_LOGGING),
		cfg:           cfg,
		registry:      prometheus.NewRegistry(),
		namespace:     cfg.Namespace,
		subsystem:     cfg.Subsystem,
	}
}

// NewStandalone returns a component with a private registry and no listener; used by tests.
func NewStandalone(namespace string) *Component {
	return NewComponent(&Config{Namespace: namespace})
}

func (c *Component) Registry() *prometheus.Registry { return c.registry }

func (c *Component) Start(ctx context.Context) error {
	if err := c.BaseComponent.Start(ctx); err != nil {
		return err
	}
	if c.cfg.CollectGoMetrics {
		_ = c.registry.Register(prometheus.NewGoCollector())
	}
	if c.cfg.CollectProcess {
		_ = c.registry.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	}
	mux := http.NewServeMux()
	mux.Handle(c.cfg.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	c.server = &http.Server{
		Addr:              c.cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logging.Infof(ctx, "prometheus metrics listening on %s%s", c.cfg.Address, c.cfg.Path)
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Errorf(ctx, "prometheus server error: %v", err)
		}
	}()

	c.started = true
	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	defer c.BaseComponent.Stop(ctx)
	if !c.started || c.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("prometheus server shutdown: %w", err)
	}
	logging.Info(ctx, "prometheus component stopped")
	return nil
}

func (c *Component) HealthCheck() error {
	if err := c.BaseComponent.HealthCheck(); err != nil {
		return err
	}
	if !c.started {
		return fmt.Errorf("prometheus not started")
	}
	return nil
}

// Helpers to build fully qualified name.
func (c *Component) fqName(name string) string {
	if c.namespace == "" && c.subsystem == "" {
		return name
	}
	if c.namespace != "" && c.subsystem != "" {
		return c.namespace + "_" + c.subsystem + "_" + name
	}
	if c.namespace != "" {
		return c.namespace + "_" + name
	}
	return c.subsystem + "_" + name
}

// register returns the already registered collector when an identical one exists,
// so components that restart (or tests) can ask for the same metric twice.
func register[T prometheus.Collector](c *Component, col T) T {
	if err := c.registry.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return col
}

func (c *Component) NewCounter(name, help string, labels []string) *prometheus.CounterVec {
	return register(c, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: c.fqName(name),
		Help: help,
	}, labels))
}

func (c *Component) NewGauge(name, help string, labels []string) *prometheus.GaugeVec {
	return register(c, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: c.fqName(name),
		Help: help,
	}, labels))
}

func (c *Component) NewHistogram(name, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	return register(c, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    c.fqName(name),
		Help:    help,
		Buckets: buckets,
	}, labels))
}
