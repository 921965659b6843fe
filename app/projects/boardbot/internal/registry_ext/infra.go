package registry_ext

import (
	"fmt"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/config"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/registry"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/broker"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/cache"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/dispatch"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/metrics"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/publisher"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/runner"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/webhook"
)

func init() {
	registry.RegisterAuto(func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		return true, metrics.NewComponent(), nil
	})
	registry.RegisterAuto(func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		return true, publisher.NewHub(), nil
	})
	registry.RegisterAuto(func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		return true, publisher.NewPublisher(), nil
	})

	registry.Register(bizConsts.COMP_CACHE, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		biz, err := bizCfg(cfg)
		if err != nil {
			return true, nil, err
		}
		return true, cache.NewComponent(biz), nil
	})
	registry.Register(bizConsts.COMP_DISPATCH_QUEUE, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		biz, err := bizCfg(cfg)
		if err != nil {
			return true, nil, err
		}
		return true, dispatch.NewQueue(biz), nil
	})
	registry.Register(bizConsts.COMP_TASK_BROKER, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		biz, err := bizCfg(cfg)
		if err != nil {
			return true, nil, err
		}
		return true, broker.NewBroker(biz.Broker), nil
	})
	registry.Register(bizConsts.COMP_WEBHOOK_SCHEMA, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		biz, err := bizCfg(cfg)
		if err != nil {
			return true, nil, err
		}
		return true, webhook.NewSchema(biz), nil
	})

	// subscriber handlers must be bound before it starts polling
	registry.RegisterWithDeps(bizConsts.COMP_DISPATCH_SUBSCRIBER, []string{
		bizConsts.COMP_SOCKET_HUB, bizConsts.COMP_BOT_TRIGGER,
	}, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		biz, err := bizCfg(cfg)
		if err != nil {
			return true, nil, err
		}
		compHub, err := c.Resolve(bizConsts.COMP_SOCKET_HUB)
		if err != nil {
			return true, nil, fmt.Errorf("resolve socket_hub failed: %w", err)
		}
		hub, ok := compHub.(*publisher.Hub)
		if !ok {
			return true, nil, fmt.Errorf("socket_hub type assertion failed")
		}
		compTrigger, err := c.Resolve(bizConsts.COMP_BOT_TRIGGER)
		if err != nil {
			return true, nil, fmt.Errorf("resolve bot_trigger failed: %w", err)
		}
		trigger, ok := compTrigger.(*runner.Trigger)
		if !ok {
			return true, nil, fmt.Errorf("bot_trigger type assertion failed")
		}

		sub := dispatch.NewSubscriber(biz)
		sub.Handle(bizConsts.EVENT_SOCKET_PUBLISH, hub.HandleEnvelope)
		sub.Handle(bizConsts.EVENT_BOT_TRIGGER, trigger.HandleEnvelope)
		sub.AddDependencies(bizConsts.COMP_SOCKET_HUB, bizConsts.COMP_BOT_TRIGGER)
		return true, sub, nil
	})
}
