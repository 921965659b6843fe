package main

import (
	"flag"
	"log"

	"github.com/grand-thief-cash/chaos/app/infra/go/application"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/consts"
	_ "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/api"
	bizConfig "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/config"
	_ "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/registry_ext"
)

func main() {
	env := flag.String("env", consts.ENV_DEVELOPMENT, "runtime environment")
	cfgPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	app := application.NewAppWithBiz(*env, *cfgPath, bizConfig.Default())
	if err := app.Run(); err != nil {
		log.Fatalf("boardbot exited with error: %v", err)
	}
}
