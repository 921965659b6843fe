package http_server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"
	"go.uber.org/zap"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/logging"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/consts"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
)

type HTTPServerComponent struct {
	*core.BaseComponent
	cfg       *HTTPServerConfig
	container *core.Container
	router    chi.Router
	server    *http.Server
	extras    []RouteRegisterFunc
	started   bool
}

func NewHTTPServerComponent(cfg *HTTPServerConfig, c *core.Container) *HTTPServerComponent {
	return &HTTPServerComponent{
		BaseComponent: core.NewBaseComponent(
			consts.COMPONENT_HTTP_SERVER,
			consts.COMPONENT_LOGGING,
			consts.COMPONENT_TELEMETRY,
		),
		cfg:       cfg,
		container: c,
	}
}

// AddRouteRegistrar must be called before Start (use a BeforeStart hook).
func (hc *HTTPServerComponent) AddRouteRegistrar(fn RouteRegisterFunc) error {
	if fn == nil {
		return nil
	}
	if hc.started {
		return fmt.Errorf("cannot register route: http_server already started (use BeforeStart hook)")
	}
	hc.extras = append(hc.extras, fn)
	return nil
}

func (hc *HTTPServerComponent) Router() chi.Router { return hc.router }

// Handler builds the router without listening; tests drive it through httptest.
func (hc *HTTPServerComponent) Handler() (http.Handler, error) {
	hc.applyDefaults()
	hc.router = chi.NewRouter()
	hc.setupMiddlewares()
	if hc.cfg.EnableHealth {
		hc.router.Get("/healthz", hc.healthHandler)
	}
	if err := hc.registerAllRoutes(); err != nil {
		return nil, err
	}
	return hc.router, nil
}

func (hc *HTTPServerComponent) Start(ctx context.Context) error {
	if err := hc.BaseComponent.Start(ctx); err != nil {
		return err
	}
	if hc.cfg == nil || !hc.cfg.Enabled {
		return errors.New("http_server component enabled flag mismatch")
	}
	handler, err := hc.Handler()
	if err != nil {
		return err
	}
	hc.server = &http.Server{
		Addr:              hc.cfg.Address,
		ReadTimeout:       hc.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      hc.cfg.WriteTimeout,
		IdleTimeout:       hc.cfg.IdleTimeout,
		Handler:           handler,
	}
	go func() {
		logging.Infof(ctx, "http_server listening on %s", hc.cfg.Address)
		if err := hc.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Errorf(ctx, "http_server server error: %v", err)
		}
	}()
	hc.started = true
	return nil
}

func (hc *HTTPServerComponent) Stop(ctx context.Context) error {
	defer hc.BaseComponent.Stop(ctx)
	if !hc.started || hc.server == nil {
		return nil
	}
	stopCtx, cancel := context.WithTimeout(ctx, hc.cfg.GracefulTimeout)
	defer cancel()
	if err := hc.server.Shutdown(stopCtx); err != nil {
		return fmt.Errorf("http_server graceful shutdown failed: %w", err)
	}
	logging.Info(ctx, "http_server server stopped")
	return nil
}

func (hc *HTTPServerComponent) HealthCheck() error {
	if err := hc.BaseComponent.HealthCheck(); err != nil {
		return err
	}
	if !hc.started {
		return fmt.Errorf("http_server server not started")
	}
	return nil
}

// healthHandler reports every registered component; 503 when any is unhealthy.
func (hc *HTTPServerComponent) healthHandler(w http.ResponseWriter, _ *http.Request) {
	status := map[string]string{}
	code := http.StatusOK
	if hc.container != nil {
		for name := range hc.container.ListRegistered() {
			if name == consts.COMPONENT_HTTP_SERVER {
				status[name] = "ok"
				continue
			}
			comp, err := hc.container.Resolve(name)
			if err == nil {
				err = comp.HealthCheck()
			}
			if err != nil {
				status[name] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			status[name] = "ok"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

func (hc *HTTPServerComponent) setupMiddlewares() {
	hc.router.Use(middleware.RequestID)
	hc.router.Use(middleware.RealIP)
	hc.router.Use(middleware.Recoverer)

	serviceName := hc.cfg.ServiceName
	if serviceName == "" {
		serviceName = hc.cfg.Address
	}
	hc.router.Use(otelchi.Middleware(serviceName, otelchi.WithChiRoutes(hc.router)))
	hc.router.Use(requestTimeout(hc.cfg.RequestTimeout))
	hc.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logging.Info(r.Context(), "http_access",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Duration("dur", time.Since(start)),
			)
		})
	})
}

// requestTimeout bounds handler contexts; event streams are exempt.
func requestTimeout(d time.Duration) func(http.Handler) http.Handler {
	bounded := middleware.Timeout(d)
	return func(next http.Handler) http.Handler {
		withTimeout := bounded(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
				next.ServeHTTP(w, r)
				return
			}
			withTimeout.ServeHTTP(w, r)
		})
	}
}

func (hc *HTTPServerComponent) registerAllRoutes() error {
	for _, fn := range append(snapshot(), hc.extras...) {
		if err := fn(hc.router, hc.container); err != nil {
			return fmt.Errorf("route register failed: %w", err)
		}
	}
	return nil
}

func (hc *HTTPServerComponent) applyDefaults() {
	if hc.cfg.Address == "" {
		hc.cfg.Address = ":8080"
	}
	if hc.cfg.ReadTimeout == 0 {
		hc.cfg.ReadTimeout = 15 * time.Second
	}
	if hc.cfg.IdleTimeout == 0 {
		hc.cfg.IdleTimeout = 60 * time.Second
	}
	if hc.cfg.GracefulTimeout == 0 {
		hc.cfg.GracefulTimeout = 10 * time.Second
	}
	if hc.cfg.RequestTimeout == 0 {
		hc.cfg.RequestTimeout = 60 * time.Second
	}
}
