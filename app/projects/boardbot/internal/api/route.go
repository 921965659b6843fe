package api

import (
	"fmt"

	"github.com/go-chi/chi/v5"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/http_server"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
)

type routable interface {
	Routes(r chi.Router)
}

func init() {
	http_server.RegisterRoutes(func(r chi.Router, c *core.Container) error {
		for _, name := range []string{bizConsts.COMP_CTRL_BOT, bizConsts.COMP_CTRL_SCHEDULE, bizConsts.COMP_CTRL_SOCKET} {
			comp, err := c.Resolve(name)
			if err != nil {
				return err
			}
			ctrl, ok := comp.(routable)
			if !ok {
				return fmt.Errorf("%s type assertion failed", name)
			}
			ctrl.Routes(r)
		}
		return nil
	})
}
