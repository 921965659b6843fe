// core/component.go
package core

import (
	"context"
	"fmt"
	"sync"
)

// Component 定义组件的基本接口
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	HealthCheck() error
	Dependencies() []string
	IsActive() bool
}

// Drainer is implemented by components that own in-flight work (bot runs, queued tasks).
// The lifecycle manager drains every Drainer, in reverse start order, before stopping anything.
type Drainer interface {
	Drain(ctx context.Context) error
}

// BaseComponent 提供组件的基础实现
type BaseComponent struct {
	mu     sync.RWMutex
	name   string
	active bool
	deps   []string
}

func NewBaseComponent(name string, deps ...string) *BaseComponent {
	return &BaseComponent{name: name, deps: dedupe(deps)}
}

func (c *BaseComponent) Name() string { return c.name }

func (c *BaseComponent) Dependencies() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.deps))
	copy(out, c.deps)
	return out
}

func (c *BaseComponent) IsActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

func (c *BaseComponent) SetActive(active bool) {
	c.mu.Lock()
	c.active = active
	c.mu.Unlock()
}

func (c *BaseComponent) Start(ctx context.Context) error {
	c.SetActive(true)
	return nil
}

func (c *BaseComponent) Stop(ctx context.Context) error {
	c.SetActive(false)
	return nil
}

func (c *BaseComponent) HealthCheck() error {
	if !c.IsActive() {
		return fmt.Errorf("component %s is not active", c.name)
	}
	return nil
}

// AddDependencies 在 StartAll 之前追加运行期依赖（autowire 与 registry 扩展使用）。
func (c *BaseComponent) AddDependencies(deps ...string) {
	if len(deps) == 0 {
		return
	}
	c.mu.Lock()
	c.deps = dedupe(append(c.deps, deps...))
	c.mu.Unlock()
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0:0]
	for _, d := range in {
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}
