package runner

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/model"
)

// flow graph paths
const (
	nodesPath    = "data.nodes"
	templatePath = "data.node.template"
)

// loadFlow returns the flow graph the bot runs: the shared default flow for default-platform
// bots, the bot's own flow JSON otherwise.
func loadFlow(bot *model.Bot, defaultPath string) ([]byte, error) {
	var raw []byte
	if bot.Platform == model.BotPlatformDefault {
		b, err := os.ReadFile(defaultPath)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.NotFound("flow.load", "default flow %s missing", defaultPath)
		}
		if err != nil {
			return nil, errs.Transient("flow.load", err)
		}
		raw = b
	} else {
		if strings.TrimSpace(bot.FlowJSON) == "" {
			return nil, errs.NotFound("flow.load", "bot %s has no flow", bot.ID)
		}
		raw = []byte(bot.FlowJSON)
	}
	if !gjson.ValidBytes(raw) {
		return nil, errs.Invalid("flow.load", "bot %s flow is not valid JSON", bot.ID)
	}
	return raw, nil
}

// applyTweaks writes tweak values into the template of the node they name. Tweaks are keyed by
// node id ({"ChatInput-1": {"input_value": "hi"}}) or by "<node id>.<field>".
func applyTweaks(flow []byte, tweaks map[string]any) ([]byte, error) {
	if len(tweaks) == 0 {
		return flow, nil
	}
	index := map[string]int{}
	for i, node := range gjson.GetBytes(flow, nodesPath).Array() {
		index[node.Get("id").String()] = i
	}

	type edit struct {
		node, field string
		value       any
	}
	var edits []edit
	for key, v := range tweaks {
		if fields, ok := v.(map[string]any); ok {
			for f, fv := range fields {
				edits = append(edits, edit{key, f, fv})
			}
			continue
		}
		node, field, ok := strings.Cut(key, ".")
		if !ok || field == "" {
			return nil, errs.Invalid("flow.tweak", "tweak %q must name node and field", key)
		}
		edits = append(edits, edit{node, field, v})
	}
	sort.Slice(edits, func(i, j int) bool {
		if edits[i].node != edits[j].node {
			return edits[i].node < edits[j].node
		}
		return edits[i].field < edits[j].field
	})

	out := flow
	for _, e := range edits {
		i, ok := index[e.node]
		if !ok {
			return nil, errs.Invalid("flow.tweak", "tweak targets unknown node %q", e.node)
		}
		path := fmt.Sprintf("%s.%d.%s.%s.value", nodesPath, i, templatePath, escapePath(e.field))
		var err error
		if out, err = sjson.SetBytes(out, path, e.value); err != nil {
			return nil, errs.Invalid("flow.tweak", "set %s.%s: %v", e.node, e.field, err)
		}
	}
	return out, nil
}

// requiredInputs lists template fields marked required that carry no value.
func requiredInputs(flow []byte) []string {
	var missing []string
	for _, node := range gjson.GetBytes(flow, nodesPath).Array() {
		id := node.Get("id").String()
		node.Get(templatePath).ForEach(func(field, tmpl gjson.Result) bool {
			if tmpl.Get("required").Bool() && !tmpl.Get("value").Exists() {
				missing = append(missing, id+"."+field.String())
			}
			return true
		})
	}
	sort.Strings(missing)
	return missing
}

func escapePath(s string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return r.Replace(s)
}
