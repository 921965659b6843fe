// hooks/default.go
package hooks

import (
	"context"
	"log"
)

var globalHookManager = NewManager()

func init() {
	defaults := []struct {
		name  string
		phase Phase
		msg   string
	}{
		{"log_startup", BeforeStart, "application is starting"},
		{"log_started", AfterStart, "application started"},
		{"log_shutdown", BeforeShutdown, "application is shutting down"},
		{"log_shutdown_complete", AfterShutdown, "application shutdown completed"},
	}
	for _, d := range defaults {
		msg := d.msg
		if err := RegisterHook(d.name, d.phase, func(ctx context.Context) error {
			log.Println(msg)
			return nil
		}, 100); err != nil {
			log.Printf("register default hook %s: %v", d.name, err)
		}
	}
}

// RegisterHook 向全局钩子管理器注册钩子
func RegisterHook(name string, phase Phase, function HookFunc, priority int) error {
	return globalHookManager.Register(&Hook{Name: name, Phase: phase, Function: function, Priority: priority})
}

func ExecuteHooks(ctx context.Context, phase Phase) error {
	return globalHookManager.Execute(ctx, phase)
}

func GetGlobalHookManager() *Manager { return globalHookManager }
