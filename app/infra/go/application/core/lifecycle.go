// core/lifecycle.go
package core

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/hooks"
)

// LifecycleManager 生命周期管理器：按依赖顺序启动，逆序排空 + 停止。
type LifecycleManager struct {
	container   *Container
	hookManager *hooks.Manager
	timeout     time.Duration

	mutex          sync.Mutex
	started        []Component
	shutdownCalled bool
}

func NewLifecycleManager(container *Container) *LifecycleManager {
	return NewLifecycleManagerWithManager(container, hooks.NewManager())
}

func NewLifecycleManagerWithManager(container *Container, hm *hooks.Manager) *LifecycleManager {
	if hm == nil {
		hm = hooks.NewManager()
	}
	return &LifecycleManager{
		container:   container,
		hookManager: hm,
		timeout:     30 * time.Second,
	}
}

// SetTimeout bounds each component Start/Stop/Drain call.
func (lm *LifecycleManager) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		lm.timeout = timeout
	}
}

func (lm *LifecycleManager) AddHook(name string, phase hooks.Phase, function hooks.HookFunc, priority int) error {
	return lm.hookManager.Register(&hooks.Hook{Name: name, Phase: phase, Function: function, Priority: priority})
}

func (lm *LifecycleManager) StartAll(ctx context.Context) error {
	if err := lm.hookManager.Execute(ctx, hooks.BeforeStart); err != nil {
		return fmt.Errorf("before_start hooks failed: %w", err)
	}

	components, err := lm.container.SortComponentsByDependencies()
	if err != nil {
		return fmt.Errorf("failed to sort components: %w", err)
	}

	for _, comp := range components {
		startCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		err := comp.Start(startCtx)
		cancel()
		if err != nil {
			log.Printf("component %s failed to start: %v", comp.Name(), err)
			lm.stopReverse(context.Background(), lm.snapshotStarted())
			return fmt.Errorf("failed to start component %s: %w", comp.Name(), err)
		}
		lm.mutex.Lock()
		lm.started = append(lm.started, comp)
		lm.mutex.Unlock()
		log.Printf("component %s started", comp.Name())
	}

	if err := lm.hookManager.Execute(ctx, hooks.AfterStart); err != nil {
		log.Printf("after_start hooks failed: %v", err)
	}
	return nil
}

// StopAll drains every Drainer, then stops started components in reverse order. Safe to call twice.
func (lm *LifecycleManager) StopAll(ctx context.Context) {
	lm.mutex.Lock()
	if lm.shutdownCalled {
		lm.mutex.Unlock()
		return
	}
	lm.shutdownCalled = true
	lm.mutex.Unlock()

	if err := lm.hookManager.Execute(ctx, hooks.BeforeShutdown); err != nil {
		log.Printf("before_shutdown hooks failed: %v", err)
	}

	started := lm.snapshotStarted()
	lm.drainReverse(ctx, started)
	lm.stopReverse(ctx, started)

	if err := lm.hookManager.Execute(ctx, hooks.AfterShutdown); err != nil {
		log.Printf("after_shutdown hooks failed: %v", err)
	}
}

func (lm *LifecycleManager) snapshotStarted() []Component {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()
	out := make([]Component, len(lm.started))
	copy(out, lm.started)
	return out
}

func (lm *LifecycleManager) drainReverse(ctx context.Context, components []Component) {
	for i := len(components) - 1; i >= 0; i-- {
		d, ok := components[i].(Drainer)
		if !ok || !components[i].IsActive() {
			continue
		}
		drainCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		if err := d.Drain(drainCtx); err != nil {
			log.Printf("component %s drain: %v", components[i].Name(), err)
		}
		cancel()
	}
}

func (lm *LifecycleManager) stopReverse(ctx context.Context, components []Component) {
	for i := len(components) - 1; i >= 0; i-- {
		comp := components[i]
		if !comp.IsActive() {
			continue
		}
		stopCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		if err := comp.Stop(stopCtx); err != nil {
			log.Printf("component %s stop: %v", comp.Name(), err)
		}
		cancel()
	}
}
