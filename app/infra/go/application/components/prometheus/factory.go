package prometheus

import (
	"fmt"
	"strings"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
)

type Factory struct{}

func NewFactory() *Factory { return &Factory{} }

func (f *Factory) Create(cfg interface{}) (core.Component, error) {
	c, ok := cfg.(*Config)
	if !ok || c == nil {
		return nil, fmt.Errorf("invalid config type for prometheus component (*Config required)")
	}
	if !c.Enabled {
		return nil, fmt.Errorf("prometheus component disabled")
	}
	if c.Address == "" {
		c.Address = ":9090"
	}
	switch {
	case c.Path == "":
		c.Path = "/metrics"
	case !strings.HasPrefix(c.Path, "/"):
		c.Path = "/" + c.Path
	}
	return NewComponent(c), nil
}
