package registry

import (
	"log"
	"slices"
	"sort"
	"sync"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
)

// extra runtime edges, target component -> components it must start after
var (
	runtimeDepExt   = map[string][]string{}
	runtimeDepExtMu sync.Mutex
)

// ExtendRuntimeDependencies makes target start after deps. It only changes start/stop order, never
// build order (use RegisterWithDeps for that), and must be called before BuildAndRegisterAll,
// normally from an init().
func ExtendRuntimeDependencies(target string, deps ...string) {
	if target == "" || len(deps) == 0 {
		return
	}
	runtimeDepExtMu.Lock()
	defer runtimeDepExtMu.Unlock()
	for _, d := range deps {
		if d != "" && !slices.Contains(runtimeDepExt[target], d) {
			runtimeDepExt[target] = append(runtimeDepExt[target], d)
		}
	}
}

// applyRuntimeDepExtensions patches the declared edges into registered components and clears them.
func applyRuntimeDepExtensions(c *core.Container) {
	runtimeDepExtMu.Lock()
	defer runtimeDepExtMu.Unlock()
	targets := make([]string, 0, len(runtimeDepExt))
	for t := range runtimeDepExt {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	for _, target := range targets {
		extra := runtimeDepExt[target]
		comp, err := c.Resolve(target)
		if err != nil {
			log.Printf("registry: dependency extension for unregistered %s skipped", target)
			continue
		}
		extender, ok := comp.(interface{ AddDependencies(...string) })
		if !ok {
			log.Printf("registry: %s cannot take extra dependencies; skipped", target)
			continue
		}
		extender.AddDependencies(extra...)
		log.Printf("registry: %s now starts after %v", target, extra)
	}
	runtimeDepExt = map[string][]string{}
}
