package model

import (
	"time"

	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/snowflake"
)

type BotPlatform string

const (
	BotPlatformDefault  BotPlatform = "default"
	BotPlatformLangflow BotPlatform = "langflow"
)

// Bot is a flow-backed automation user.
type Bot struct {
	Base
	SoftDelete
	Name     string      `gorm:"type:varchar(255);not null" json:"name"`
	BotUname string      `gorm:"type:varchar(255);uniqueIndex;not null" json:"bot_uname"`
	Platform BotPlatform `gorm:"type:varchar(32);not null;default:'default'" json:"platform"`
	APIURL   string      `gorm:"type:varchar(1024)" json:"api_url"`
	APIKey   string      `gorm:"type:varchar(1024)" json:"-"`
	FlowJSON string      `gorm:"type:text" json:"-"`
}

func (Bot) TableName() string { return "bot" }

type ScopeType string

const (
	ScopeProject       ScopeType = "project"
	ScopeProjectColumn ScopeType = "project_column"
	ScopeCard          ScopeType = "card"
)

func (s ScopeType) Valid() bool {
	switch s {
	case ScopeProject, ScopeProjectColumn, ScopeCard:
		return true
	}
	return false
}

// BotScope subscribes a bot to conditions on one project, column or card.
type BotScope struct {
	Base
	BotID      snowflake.ID `gorm:"index;not null" json:"bot_uid"`
	ScopeType  ScopeType    `gorm:"type:varchar(32);index:idx_bot_scope_target;not null" json:"scope_type"`
	ScopeID    snowflake.ID `gorm:"index:idx_bot_scope_target;not null" json:"scope_uid"`
	Conditions StringList   `gorm:"type:json" json:"conditions"`
}

func (BotScope) TableName() string { return "bot_scope" }

// Validate rejects unknown scope types and conditions the scope type does not admit.
func (s *BotScope) Validate() error {
	if !s.ScopeType.Valid() {
		return errs.Invalid("bot_scope.validate", "unknown scope type %q", s.ScopeType)
	}
	for _, c := range s.Conditions {
		if !Condition(c).AdmissibleFor(s.ScopeType) {
			return errs.Invalid("bot_scope.validate", "condition %q not admissible for %s scope", c, s.ScopeType)
		}
	}
	return nil
}

type RunningType string

const (
	RunningInfinite RunningType = "infinite"
	RunningDuration RunningType = "duration"
	RunningReserved RunningType = "reserved"
	RunningOnetime  RunningType = "onetime"
)

func (r RunningType) Valid() bool {
	switch r {
	case RunningInfinite, RunningDuration, RunningReserved, RunningOnetime:
		return true
	}
	return false
}

type ScheduleStatus string

const (
	SchedulePending ScheduleStatus = "pending"
	ScheduleStarted ScheduleStatus = "started"
	ScheduleStopped ScheduleStatus = "stopped"
)

// BotSchedule drives periodic or one-time runs of a bot against one target.
type BotSchedule struct {
	Base
	SoftDelete
	BotID       snowflake.ID   `gorm:"index;not null" json:"bot_uid"`
	ProjectID   snowflake.ID   `gorm:"index;not null" json:"project_uid"`
	TargetType  ScopeType      `gorm:"type:varchar(32);not null" json:"target_type"`
	TargetID    snowflake.ID   `gorm:"not null" json:"target_uid"`
	RunningType RunningType    `gorm:"type:varchar(16);not null" json:"running_type"`
	Status      ScheduleStatus `gorm:"type:varchar(16);index;not null;default:'pending'" json:"status"`
	Interval    string         `gorm:"type:varchar(64);index;not null" json:"interval"`
	StartAt     *time.Time     `json:"start_at"`
	EndAt       *time.Time     `json:"end_at"`
	LastRunAt   *time.Time     `json:"last_run_at"`
}

func (BotSchedule) TableName() string { return "bot_schedule" }

// Validate checks the window each running type needs. Reserved schedules may carry either bound.
func (s *BotSchedule) Validate() error {
	const op = "bot_schedule.validate"
	if !s.TargetType.Valid() {
		return errs.Invalid(op, "unknown target type %q", s.TargetType)
	}
	switch s.RunningType {
	case RunningInfinite:
		if s.StartAt != nil || s.EndAt != nil {
			return errs.Invalid(op, "infinite schedule takes no start_at or end_at")
		}
	case RunningDuration:
		if s.StartAt == nil || s.EndAt == nil {
			return errs.Invalid(op, "duration schedule needs start_at and end_at")
		}
		if !s.StartAt.Before(*s.EndAt) {
			return errs.Invalid(op, "start_at must be before end_at")
		}
	case RunningOnetime:
		if s.StartAt == nil {
			return errs.Invalid(op, "onetime schedule needs start_at")
		}
	case RunningReserved:
	default:
		return errs.Invalid(op, "unknown running type %q", s.RunningType)
	}
	if s.RunningType != RunningOnetime && s.Interval == "" {
		return errs.Invalid(op, "%s schedule needs an interval", s.RunningType)
	}
	return nil
}

// InitialStatus is pending while start_at lies in the future, started otherwise.
func (s *BotSchedule) InitialStatus(now time.Time) ScheduleStatus {
	if s.StartAt != nil && s.StartAt.After(now) {
		return SchedulePending
	}
	return ScheduleStarted
}

type BotLogStatus string

const (
	BotLogRunning BotLogStatus = "running"
	BotLogSuccess BotLogStatus = "success"
	BotLogError   BotLogStatus = "error"
)

// BotLog is one run's outcome plus the records it streamed.
type BotLog struct {
	Base
	BotID      snowflake.ID `gorm:"index;not null" json:"bot_uid"`
	ProjectID  snowflake.ID `gorm:"index" json:"project_uid"`
	TargetType ScopeType    `gorm:"type:varchar(32)" json:"target_type"`
	TargetID   snowflake.ID `json:"target_uid"`
	Status     BotLogStatus `gorm:"type:varchar(16);not null" json:"status"`
	Message    string       `gorm:"type:text" json:"message"`
	Records    JSONList     `gorm:"type:json" json:"records"`
}

func (BotLog) TableName() string { return "bot_log" }
