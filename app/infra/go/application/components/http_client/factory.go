package http_client

import (
	"fmt"
	"net/url"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
)

type Factory struct{}

func NewFactory() *Factory { return &Factory{} }

// Create rejects a config whose clients carry unusable base urls.
func (f *Factory) Create(cfg interface{}) (core.Component, error) {
	c, ok := cfg.(*HTTPClientsConfig)
	if !ok {
		return nil, fmt.Errorf("invalid config type for http_clients component (need *HTTPClientsConfig)")
	}
	if !c.Enabled {
		return nil, fmt.Errorf("http_clients component disabled")
	}
	for name, cc := range c.Clients {
		if cc == nil || cc.BaseURL == "" {
			continue
		}
		u, err := url.Parse(cc.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("http client %s: invalid base_url %q", name, cc.BaseURL)
		}
	}
	return NewHTTPClientsComponent(c), nil
}
