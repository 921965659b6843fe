// Package webhook publishes the payload schema bots receive for every trigger condition.
package webhook

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/logging"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/consts"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/codec"
	bizConfig "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/config"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/model"
)

// Field types as they appear in the document.
const (
	TypeString = "string"
	TypeObject = "object"
	TypeUID    = "uid"
)

// ConditionSchema describes the inputs of a run triggered by one condition.
type ConditionSchema struct {
	ScopeTypes []model.ScopeType `json:"scope_types"`
	Inputs     map[string]string `json:"inputs"`
	Payload    map[string]string `json:"payload"`
}

// Document is the file written to <data_dir>/schemas/webhook.json.
type Document struct {
	Version    int                                 `json:"version"`
	Conditions map[model.Condition]ConditionSchema `json:"conditions"`
}

var runInputs = map[string]string{
	"condition":   TypeString,
	"project_uid": TypeUID,
	"target_type": TypeString,
	"target_uid":  TypeUID,
	"payload":     TypeObject,
}

// payload keys by condition family; the longest matching prefix wins
var families = map[string][]string{
	"project_":           {"project_uid"},
	"project_label_":     {"project_uid", "label_uid"},
	"project_column_":    {"project_uid", "project_column_uid"},
	"project_wiki_":      {"project_uid", "project_wiki_uid"},
	"card_":              {"project_uid", "project_column_uid", "card_uid"},
	"card_labels_":       {"project_uid", "project_column_uid", "card_uid", "label_uids"},
	"card_relationships": {"project_uid", "project_column_uid", "card_uid", "related_card_uids"},
	"card_comment_":      {"project_uid", "card_uid", "comment_uid"},
	"card_attachment_":   {"project_uid", "card_uid", "attachment_uid"},
	"card_checklist_":    {"project_uid", "card_uid", "checklist_uid"},
	"card_checkitem_":    {"project_uid", "card_uid", "checklist_uid", "checkitem_uid"},
}

// changes carried by update-like conditions
var changeKeys = map[model.Condition][]string{
	model.ProjectUpdated:            {"before", "after"},
	model.ProjectColumnNameChanged:  {"before", "after"},
	model.ProjectWikiUpdated:        {"before", "after"},
	model.ProjectWikiPublicity:      {"is_public"},
	model.CardUpdated:               {"before", "after"},
	model.CardMoved:                 {"from_column_uid", "to_column_uid"},
	model.CardCommentAdded:          {"content"},
	model.CardCommentUpdated:        {"content"},
	model.CardCommentReacted:        {"reaction", "user_uid"},
	model.CardAttachmentNameChanged: {"before", "after"},
	model.CardChecklistTitleChanged: {"before", "after"},
	model.CardCheckitemTitleChanged: {"before", "after"},
	model.CardCheckitemCardified:    {"new_card_uid"},
}

// Build returns the schema of every condition.
func Build() Document {
	doc := Document{Version: 1, Conditions: map[model.Condition]ConditionSchema{}}
	for _, c := range model.AllConditions() {
		payload := map[string]string{}
		for _, k := range familyOf(c) {
			payload[k] = fieldType(k)
		}
		for _, k := range changeKeys[c] {
			payload[k] = fieldType(k)
		}
		doc.Conditions[c] = ConditionSchema{ScopeTypes: c.ScopeTypes(), Inputs: runInputs, Payload: payload}
	}
	return doc
}

func familyOf(c model.Condition) []string {
	prefixes := make([]string, 0, len(families))
	for p := range families {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	for _, p := range prefixes {
		if strings.HasPrefix(string(c), p) {
			return families[p]
		}
	}
	return nil
}

func fieldType(key string) string {
	switch {
	case strings.HasSuffix(key, "_uid"):
		return TypeUID
	case strings.HasSuffix(key, "_uids"):
		return "uid[]"
	case key == "before" || key == "after":
		return TypeObject
	case key == "is_public":
		return "bool"
	}
	return TypeString
}

// Schema writes the document on the main worker and serves it from memory.
type Schema struct {
	*core.BaseComponent
	cfg *bizConfig.BizConfig

	once sync.Once
	raw  []byte
	err  error
}

func NewSchema(cfg *bizConfig.BizConfig) *Schema {
	return &Schema{BaseComponent: core.NewBaseComponent(bizConsts.COMP_WEBHOOK_SCHEMA, consts.COMPONENT_LOGGING), cfg: cfg}
}

func (s *Schema) Start(ctx context.Context) error {
	if s.IsActive() {
		return nil
	}
	raw, err := s.JSON()
	if err != nil {
		return err
	}
	if s.cfg.IsMainWorker() {
		path := s.cfg.SchemaPath()
		if err := writeFile(path, raw); err != nil {
			return fmt.Errorf("write webhook schema: %w", err)
		}
		logging.Info(ctx, "webhook schema written", zap.String("path", path), zap.Int("conditions", len(model.AllConditions())))
	}
	return s.BaseComponent.Start(ctx)
}

// JSON returns the encoded document.
func (s *Schema) JSON() ([]byte, error) {
	s.once.Do(func() { s.raw, s.err = codec.Marshal(Build()) })
	return s.raw, s.err
}

// writeFile replaces path through a temp file in the same directory.
func writeFile(path string, raw []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".webhook-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
