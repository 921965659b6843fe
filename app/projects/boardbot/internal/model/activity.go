package model

import (
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/snowflake"
)

type RecorderType string

const (
	RecorderUser RecorderType = "user"
	RecorderBot  RecorderType = "bot"
)

// ActivityRow is implemented by every domain activity table.
type ActivityRow interface {
	TableName() string
	ActivityID() snowflake.ID
}

// ActivityCommon is the self-contained part of every activity row.
type ActivityCommon struct {
	Base
	RecorderType RecorderType `gorm:"type:varchar(16);not null" json:"recorder_type"`
	RecorderID   snowflake.ID `gorm:"index;not null" json:"recorder_uid"`
	ActivityType string       `gorm:"type:varchar(64);index;not null" json:"activity_type"`
	History      JSONMap      `gorm:"type:json" json:"history"`
}

func (a *ActivityCommon) ActivityID() snowflake.ID { return a.ID }

type ProjectActivity struct {
	ActivityCommon
	ProjectID snowflake.ID `gorm:"index;not null" json:"project_uid"`
}

func (ProjectActivity) TableName() string { return "project_activity" }

type ProjectWikiActivity struct {
	ActivityCommon
	ProjectID     snowflake.ID `gorm:"index;not null" json:"project_uid"`
	ProjectWikiID snowflake.ID `gorm:"index;not null" json:"project_wiki_uid"`
}

func (ProjectWikiActivity) TableName() string { return "project_wiki_activity" }

// UserActivity either records a change to the user itself or points at a domain activity row.
type UserActivity struct {
	ActivityCommon
	UserID             *snowflake.ID `gorm:"index" json:"user_uid"` // nil on pointers recorded by a bot
	ReferActivityTable string        `gorm:"type:varchar(64)" json:"refer_activity_table,omitempty"`
	ReferActivityID    snowflake.ID  `json:"refer_activity_uid,omitempty"`
}

func (UserActivity) TableName() string { return "user_activity" }
