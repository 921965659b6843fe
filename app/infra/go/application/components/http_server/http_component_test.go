package http_server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
)

type flakyComponent struct {
	*core.BaseComponent
	err error
}

func (f *flakyComponent) HealthCheck() error { return f.err }

func newServer(t *testing.T, cfg *HTTPServerConfig) (*HTTPServerComponent, *core.Container) {
	t.Helper()
	c := core.NewContainer()
	hc, err := NewFactory(c).Create(cfg)
	require.NoError(t, err)
	comp := hc.(*HTTPServerComponent)
	require.NoError(t, c.Register(comp.Name(), comp))
	return comp, c
}

func TestZeroWriteTimeoutMeansNoDeadline(t *testing.T) {
	hc, _ := newServer(t, &HTTPServerConfig{Enabled: true, Address: "127.0.0.1:0", RequestTimeout: 30 * time.Second})
	require.NoError(t, hc.Start(context.Background()))
	t.Cleanup(func() { _ = hc.Stop(context.Background()) })

	assert.Zero(t, hc.server.WriteTimeout)
	assert.Equal(t, 15*time.Second, hc.server.ReadTimeout)
	assert.Equal(t, 30*time.Second, hc.cfg.RequestTimeout)
}

func TestExplicitWriteTimeoutKept(t *testing.T) {
	hc, _ := newServer(t, &HTTPServerConfig{Enabled: true, WriteTimeout: 2 * time.Minute})
	_, err := hc.Handler()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, hc.cfg.WriteTimeout)
}

func TestFactoryRejectsNegativeTimeouts(t *testing.T) {
	_, err := NewFactory(core.NewContainer()).Create(&HTTPServerConfig{Enabled: true, WriteTimeout: -time.Second})
	assert.Error(t, err)
	_, err = NewFactory(core.NewContainer()).Create(&HTTPServerConfig{Enabled: false})
	assert.Error(t, err)
}

func TestHealthzReportsEveryComponent(t *testing.T) {
	hc, c := newServer(t, &HTTPServerConfig{Enabled: true, EnableHealth: true})
	require.NoError(t, c.Register("cache", &flakyComponent{BaseComponent: core.NewBaseComponent("cache")}))
	broker := &flakyComponent{BaseComponent: core.NewBaseComponent("broker")}
	require.NoError(t, c.Register("broker", broker))

	h, err := hc.Handler()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{"http_server": "ok", "cache": "ok", "broker": "ok"}, body)

	broker.err = errors.New("queue unreachable")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "queue unreachable")
}

func TestEventStreamsSkipRequestTimeout(t *testing.T) {
	hc, _ := newServer(t, &HTTPServerConfig{Enabled: true, RequestTimeout: 20 * time.Millisecond})
	require.NoError(t, hc.AddRouteRegistrar(func(r chi.Router, _ *core.Container) error {
		r.Get("/wait", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
				w.WriteHeader(http.StatusGatewayTimeout)
			case <-time.After(80 * time.Millisecond):
				w.WriteHeader(http.StatusOK)
			}
		})
		return nil
	}))
	h, err := hc.Handler()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/wait", nil))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/wait", nil)
	req.Header.Set("Accept", "text/event-stream")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
