package application

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/autowire"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/config"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/hooks"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/registry"
)

type App struct {
	container        *core.Container
	lifecycleManager *core.LifecycleManager
	configManager    *config.ConfigManager

	bootOnce sync.Once
	bootErr  error

	shutdownTimeout time.Duration
}

func NewApp(env string, configPath string) *App {
	abs := configPath
	if p, err := filepath.Abs(configPath); err == nil {
		abs = p
	}
	container := core.NewContainer()
	// global hook manager so default hooks (hooks/default.go) apply
	lm := core.NewLifecycleManagerWithManager(container, hooks.GetGlobalHookManager())
	return &App{
		configManager:    config.NewConfigManager(env, abs),
		container:        container,
		lifecycleManager: lm,
		shutdownTimeout:  30 * time.Second,
	}
}

// NewAppWithBiz 创建 App 并注入业务配置结构指针 (biz_config)。
func NewAppWithBiz(env, configPath string, biz any) *App {
	app := NewApp(env, configPath)
	app.configManager.SetBizConfig(biz)
	return app
}

func (app *App) SetShutdownTimeout(d time.Duration) { app.shutdownTimeout = d }

func (app *App) boot() error {
	app.bootOnce.Do(func() {
		if err := app.configManager.LoadConfig(); err != nil {
			app.bootErr = fmt.Errorf("load config failed: %w", err)
			return
		}
		if err := app.registerComponents(); err != nil {
			app.bootErr = fmt.Errorf("register components failed: %w", err)
		}
	})
	return app.bootErr
}

// registerComponents builds every registry builder, then wires `infra:"dep:..."` fields.
func (app *App) registerComponents() error {
	cfg := app.configManager.GetConfig()
	if cfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if err := registry.BuildAndRegisterAll(cfg, app.container); err != nil {
		return err
	}
	if err := autowire.InjectAll(app.container); err != nil {
		return err
	}
	for name, missing := range app.container.MissingDependencies() {
		log.Printf("[app] component %s has unregistered optional deps %v", name, missing)
	}
	return nil
}

func (app *App) Container() *core.Container { return app.container }

func (app *App) GetComponent(name string) (core.Component, error) {
	return app.container.Resolve(name)
}

func (app *App) GetConfig() *config.AppConfig {
	if app.configManager == nil {
		return nil
	}
	return app.configManager.GetConfig()
}

func (app *App) AddHook(name string, phase hooks.Phase, fn hooks.HookFunc, priority int) error {
	return app.lifecycleManager.AddHook(name, phase, fn, priority)
}

// Run listens for SIGINT/SIGTERM. The first signal starts graceful shutdown; a second
// signal or an expired shutdown timeout forces exit with code 1.
func (app *App) Run() error {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- app.RunWithContext(ctx) }()

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Printf("received signal %s, graceful shutdown (timeout %s)", sig, app.shutdownTimeout)
		cancel()
	}

	timer := time.NewTimer(app.shutdownTimeout)
	defer timer.Stop()
	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Printf("second signal, forcing exit")
	case <-timer.C:
		log.Printf("graceful shutdown timed out, forcing exit")
	}
	os.Exit(1)
	return nil
}

// RunWithContext starts components and blocks until ctx is done, then stops them.
func (app *App) RunWithContext(ctx context.Context) error {
	if err := app.boot(); err != nil {
		return err
	}
	if err := app.lifecycleManager.StartAll(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	app.lifecycleManager.StopAll(context.Background())
	return nil
}

func (app *App) Shutdown(ctx context.Context) {
	app.lifecycleManager.StopAll(ctx)
}
