// core/container.go
package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Container 依赖注入容器
type Container struct {
	components map[string]Component
	configs    map[string]interface{}
	mutex      sync.RWMutex
}

func NewContainer() *Container {
	return &Container{
		components: make(map[string]Component),
		configs:    make(map[string]interface{}),
	}
}

func (c *Container) Register(name string, component Component) error {
	if component == nil {
		return fmt.Errorf("component %s is nil", name)
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if _, exists := c.components[name]; exists {
		return fmt.Errorf("component %s already registered", name)
	}
	c.components[name] = component
	return nil
}

func (c *Container) Resolve(name string) (Component, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	component, exists := c.components[name]
	if !exists {
		return nil, fmt.Errorf("component %s not found", name)
	}
	return component, nil
}

// ResolveAs resolves name and asserts it to T. T may be an interface the component implements.
func ResolveAs[T any](c *Container, name string) (T, error) {
	var zero T
	comp, err := c.Resolve(name)
	if err != nil {
		return zero, err
	}
	typed, ok := comp.(T)
	if !ok {
		return zero, fmt.Errorf("component %s is %T, not %T", name, comp, zero)
	}
	return typed, nil
}

func (c *Container) Has(name string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	_, ok := c.components[name]
	return ok
}

func (c *Container) ListRegistered() map[string]Component {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	result := make(map[string]Component, len(c.components))
	for name, comp := range c.components {
		result[name] = comp
	}
	return result
}

func (c *Container) SetConfig(name string, config interface{}) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.configs[name] = config
}

func (c *Container) GetConfig(name string) (interface{}, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	config, exists := c.configs[name]
	return config, exists
}

// SortComponentsByDependencies 拓扑排序。未注册的依赖视为可选（例如关闭的 telemetry），直接跳过。
func (c *Container) SortComponentsByDependencies() ([]Component, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(c.components))
	result := make([]Component, 0, len(c.components))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case visiting:
			return fmt.Errorf("circular dependency detected: %s -> %s", strings.Join(path, " -> "), name)
		case done:
			return nil
		}
		component, exists := c.components[name]
		if !exists {
			return nil
		}
		state[name] = visiting
		deps := component.Dependencies()
		sort.Strings(deps)
		for _, dep := range deps {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = done
		result = append(result, component)
		return nil
	}

	names := make([]string, 0, len(c.components))
	for name := range c.components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := visit(name, nil); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Replace 替换尚未启动的组件（测试用）
func (c *Container) Replace(name string, component Component) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	existing, exists := c.components[name]
	if !exists {
		return fmt.Errorf("component %s not registered", name)
	}
	if existing.IsActive() {
		return fmt.Errorf("component %s is active; cannot replace", name)
	}
	c.components[name] = component
	return nil
}

// MissingDependencies reports declared dependencies that were never registered, keyed by component.
func (c *Container) MissingDependencies() map[string][]string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	missing := make(map[string][]string)
	for name, comp := range c.components {
		for _, dep := range comp.Dependencies() {
			if _, ok := c.components[dep]; !ok {
				missing[name] = append(missing[name], dep)
			}
		}
	}
	return missing
}
