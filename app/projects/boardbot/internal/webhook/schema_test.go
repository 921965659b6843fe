package webhook

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	bizConfig "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/config"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/model"
)

func TestBuildCoversEveryCondition(t *testing.T) {
	doc := Build()
	require.Len(t, doc.Conditions, len(model.AllConditions()))
	for c, s := range doc.Conditions {
		assert.NotEmpty(t, s.ScopeTypes, c)
		assert.Equal(t, TypeUID, s.Payload["project_uid"], c)
		assert.Equal(t, TypeUID, s.Inputs["target_uid"], c)
	}

	checkitem := doc.Conditions[model.CardCheckitemCardified]
	assert.Equal(t, TypeUID, checkitem.Payload["checkitem_uid"])
	assert.Equal(t, TypeUID, checkitem.Payload["new_card_uid"])
	assert.Equal(t, []model.ScopeType{model.ScopeCard}, checkitem.ScopeTypes)

	moved := doc.Conditions[model.CardMoved]
	assert.Contains(t, moved.Payload, "to_column_uid")
	assert.Equal(t, []model.ScopeType{model.ScopeProjectColumn, model.ScopeProject}, moved.ScopeTypes)

	labels := doc.Conditions[model.CardLabelsUpdated]
	assert.Equal(t, "uid[]", labels.Payload["label_uids"])
	assert.Contains(t, doc.Conditions[model.ProjectColumnDeleted].Payload, "project_column_uid")
}

func TestStartWritesFileOnMainWorkerOnly(t *testing.T) {
	cfg := bizConfig.Default()
	cfg.DataDir = t.TempDir()
	s := NewSchema(cfg)
	require.NoError(t, s.Start(context.Background()))

	raw, err := os.ReadFile(cfg.SchemaPath())
	require.NoError(t, err)
	served, err := s.JSON()
	require.NoError(t, err)
	assert.Equal(t, served, raw)
	assert.Equal(t, "uid", gjson.GetBytes(raw, "conditions.card_comment_added.payload.comment_uid").String())

	other := bizConfig.Default()
	other.DataDir = t.TempDir()
	other.Worker = "worker-2"
	require.NoError(t, NewSchema(other).Start(context.Background()))
	_, err = os.Stat(other.SchemaPath())
	assert.True(t, os.IsNotExist(err))
}
