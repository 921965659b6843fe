// hooks/hooks.go
package hooks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// HookFunc 钩子函数类型
type HookFunc func(ctx context.Context) error

// Phase 生命周期阶段
type Phase string

const (
	BeforeStart    Phase = "before_start"
	AfterStart     Phase = "after_start"
	BeforeShutdown Phase = "before_shutdown"
	AfterShutdown  Phase = "after_shutdown"
)

var validPhases = map[Phase]struct{}{
	BeforeStart:    {},
	AfterStart:     {},
	BeforeShutdown: {},
	AfterShutdown:  {},
}

// Hook runs in ascending Priority order inside its phase; equal priorities keep registration order.
type Hook struct {
	Name     string
	Phase    Phase
	Function HookFunc
	Priority int
}

type Manager struct {
	hooks map[Phase][]*Hook
	mutex sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{hooks: make(map[Phase][]*Hook)}
}

func (m *Manager) Register(hook *Hook) error {
	switch {
	case hook == nil:
		return errors.New("hook cannot be nil")
	case hook.Function == nil:
		return fmt.Errorf("hook %s: function cannot be nil", hook.Name)
	}
	if _, ok := validPhases[hook.Phase]; !ok {
		return fmt.Errorf("hook %s: invalid phase %q", hook.Name, hook.Phase)
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	list := append(m.hooks[hook.Phase], hook)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Priority < list[j].Priority })
	m.hooks[hook.Phase] = list
	return nil
}

// Execute stops at the first failing hook.
func (m *Manager) Execute(ctx context.Context, phase Phase) error {
	m.mutex.RLock()
	list := make([]*Hook, len(m.hooks[phase]))
	copy(list, m.hooks[phase])
	m.mutex.RUnlock()

	for _, hook := range list {
		if err := hook.Function(ctx); err != nil {
			return fmt.Errorf("hook %s failed: %w", hook.Name, err)
		}
	}
	return nil
}

func (m *Manager) Count(phase Phase) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.hooks[phase])
}
