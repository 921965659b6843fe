package http_server

import (
	"fmt"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
)

const defaultAddress = ":8080"

type Factory struct {
	container *core.Container
}

func NewFactory(c *core.Container) *Factory { return &Factory{container: c} }

func (f *Factory) Create(cfg interface{}) (core.Component, error) {
	httpCfg, ok := cfg.(*HTTPServerConfig)
	if !ok {
		return nil, fmt.Errorf("invalid config type for http_server component (need *HTTPServerConfig)")
	}
	if !httpCfg.Enabled {
		return nil, fmt.Errorf("http_server component disabled")
	}
	if httpCfg.Address == "" {
		httpCfg.Address = defaultAddress
	}
	if httpCfg.ReadTimeout < 0 || httpCfg.WriteTimeout < 0 || httpCfg.RequestTimeout < 0 {
		return nil, fmt.Errorf("http_server timeouts must not be negative")
	}
	return NewHTTPServerComponent(httpCfg, f.container), nil
}
