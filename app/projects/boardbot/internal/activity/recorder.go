// Package activity writes the append-only audit trail: one self-contained domain activity row
// per change plus a user_activity pointer to it.
package activity

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/logging"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/consts"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/broker"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/dao"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/metrics"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/model"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/snowflake"
)

type Scope string

const (
	ScopeProject     Scope = "project"
	ScopeProjectWiki Scope = "project_wiki"
	ScopeUser        Scope = "user"
)

// Ref names a record whose snapshot is copied into the history under its key.
type Ref struct {
	Kind string       `json:"kind"`
	ID   snowflake.ID `json:"uid"`
}

// Entry is one domain change as producers describe it.
type Entry struct {
	Scope         Scope              `json:"scope"`
	ActivityType  string             `json:"activity_type"`
	RecorderType  model.RecorderType `json:"recorder_type"`
	RecorderID    snowflake.ID       `json:"recorder_uid"`
	ProjectID     snowflake.ID       `json:"project_uid,omitempty"`
	ProjectWikiID snowflake.ID       `json:"project_wiki_uid,omitempty"`
	UserID        snowflake.ID       `json:"user_uid,omitempty"`
	Before        map[string]any     `json:"before,omitempty"`
	After         map[string]any     `json:"after,omitempty"`
	Refs          map[string]Ref     `json:"refs,omitempty"`
	Extra         map[string]any     `json:"extra,omitempty"`
}

func (e Entry) Validate() error {
	if e.ActivityType == "" {
		return errs.Invalid("activity.validate", "activity_type is required")
	}
	if e.RecorderType != model.RecorderUser && e.RecorderType != model.RecorderBot {
		return errs.Invalid("activity.validate", "unknown recorder_type %q", e.RecorderType)
	}
	if e.RecorderID.IsZero() {
		return errs.Invalid("activity.validate", "recorder_uid is required")
	}
	switch e.Scope {
	case ScopeProject:
		if e.ProjectID.IsZero() {
			return errs.Invalid("activity.validate", "project_uid is required")
		}
	case ScopeProjectWiki:
		if e.ProjectID.IsZero() || e.ProjectWikiID.IsZero() {
			return errs.Invalid("activity.validate", "project_uid and project_wiki_uid are required")
		}
	case ScopeUser:
		if e.UserID.IsZero() {
			return errs.Invalid("activity.validate", "user_uid is required")
		}
	default:
		return errs.Invalid("activity.validate", "unknown scope %q", e.Scope)
	}
	return nil
}

type Recorder struct {
	*core.BaseComponent
	Activities dao.ActivityDao    `infra:"dep:activity_dao"`
	Records    dao.RecordDao      `infra:"dep:record_dao"`
	Broker     *broker.Broker     `infra:"dep:task_broker"`
	Metrics    *metrics.Component `infra:"dep:boardbot_metrics?"`

	task *broker.Task
}

func NewRecorder() *Recorder {
	return &Recorder{BaseComponent: core.NewBaseComponent(bizConsts.COMP_ACTIVITY_RECORDER, consts.COMPONENT_LOGGING)}
}

// NewWith returns a started recorder with its task registered on b.
func NewWith(activities dao.ActivityDao, records dao.RecordDao, b *broker.Broker) (*Recorder, error) {
	r := NewRecorder()
	r.Activities, r.Records, r.Broker = activities, records, b
	if err := r.register(); err != nil {
		return nil, err
	}
	r.SetActive(true)
	return r, nil
}

func (r *Recorder) Start(ctx context.Context) error {
	if r.IsActive() {
		return nil
	}
	if err := r.register(); err != nil {
		return err
	}
	return r.BaseComponent.Start(ctx)
}

func (r *Recorder) register() error {
	task, err := r.Broker.WrapAsync(bizConsts.TASK_ACTIVITY_RECORD, func(ctx context.Context, e Entry) error {
		_, err := r.Write(ctx, e)
		return err
	})
	if errors.Is(err, errs.ErrConflict) {
		task, _ = r.Broker.Task(bizConsts.TASK_ACTIVITY_RECORD)
		err = nil
	}
	if err != nil {
		return fmt.Errorf("register %s: %w", bizConsts.TASK_ACTIVITY_RECORD, err)
	}
	r.task = task
	return nil
}

// Record hands the entry to the broker.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		logging.Error(ctx, "activity rejected", zap.String("activity_type", e.ActivityType), zap.Error(err))
		return err
	}
	return r.task.Delay(ctx, e)
}

// Write persists the domain row and its user pointer in one transaction.
func (r *Recorder) Write(ctx context.Context, e Entry) (model.ActivityRow, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	history, err := r.history(ctx, e)
	if err != nil {
		return nil, err
	}
	common := model.ActivityCommon{
		RecorderType: e.RecorderType,
		RecorderID:   e.RecorderID,
		ActivityType: e.ActivityType,
		History:      history,
	}

	var row model.ActivityRow
	switch e.Scope {
	case ScopeProject:
		row = &model.ProjectActivity{ActivityCommon: common, ProjectID: e.ProjectID}
	case ScopeProjectWiki:
		row = &model.ProjectWikiActivity{ActivityCommon: common, ProjectID: e.ProjectID, ProjectWikiID: e.ProjectWikiID}
	case ScopeUser:
		uid := e.UserID
		row = &model.UserActivity{ActivityCommon: common, UserID: &uid}
	}

	var pointer *model.UserActivity
	if e.Scope != ScopeUser {
		pointer = &model.UserActivity{
			ActivityCommon: model.ActivityCommon{
				RecorderType: e.RecorderType,
				RecorderID:   e.RecorderID,
				ActivityType: e.ActivityType,
				History:      model.JSONMap{},
			},
		}
		if e.RecorderType == model.RecorderUser {
			uid := e.RecorderID
			pointer.UserID = &uid
		}
	}
	if err := r.Activities.CreatePair(ctx, row, pointer); err != nil {
		logging.Warn(ctx, "activity not recorded", zap.String("activity_type", e.ActivityType), zap.Error(err))
		return nil, err
	}
	r.Metrics.Activity(row.TableName())
	if pointer != nil {
		r.Metrics.Activity(pointer.TableName())
	}
	return row, nil
}

func (r *Recorder) history(ctx context.Context, e Entry) (model.JSONMap, error) {
	h := map[string]any{}
	for k, v := range e.Extra {
		h[k] = v
	}
	if e.Before != nil || e.After != nil {
		before, after := Diff(e.Before, e.After)
		if len(before) > 0 {
			h["before"] = before
		}
		if len(after) > 0 {
			h["after"] = after
		}
	}
	h = normalizeMap(h)

	for key, ref := range e.Refs {
		row, err := r.Records.Lookup(ctx, ref.Kind, ref.ID)
		if err != nil {
			return nil, err
		}
		h[key] = snapshot(ref.Kind, row)
	}

	mentions := newMentionResolver(r.Records)
	mentions.collect(h)
	if err := mentions.load(ctx); err != nil {
		return nil, err
	}
	if out, ok := mentions.apply(h).(map[string]any); ok {
		h = out
	}
	return model.JSONMap(h), nil
}
