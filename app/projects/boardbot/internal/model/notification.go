package model

import (
	"time"

	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/snowflake"
)

type NotificationType string

const (
	NotificationProjectInvited          NotificationType = "project_invited"
	NotificationMentionedInCard         NotificationType = "mentioned_in_card"
	NotificationMentionedInComment      NotificationType = "mentioned_in_comment"
	NotificationMentionedInWiki         NotificationType = "mentioned_in_wiki"
	NotificationAssignedToCard          NotificationType = "assigned_to_card"
	NotificationReactedToComment        NotificationType = "reacted_to_comment"
	NotificationNotifiedFromChecklist   NotificationType = "notified_from_checklist"
	NotificationNotifiedFromBotSchedule NotificationType = "notified_from_bot_schedule"
)

type NotificationChannel string

const (
	ChannelSocket NotificationChannel = "socket"
	ChannelEmail  NotificationChannel = "email"
)

func Channels() []NotificationChannel { return []NotificationChannel{ChannelSocket, ChannelEmail} }

type UnsubscriptionScope string

const (
	UnsubscribeAll      UnsubscriptionScope = "all"
	UnsubscribeSpecific UnsubscriptionScope = "specific"
)

// ScopeModel names one record a notification is about.
type ScopeModel struct {
	Table string       `json:"table"`
	ID    snowflake.ID `json:"uid"`
}

// UserNotification is persisted before any channel is attempted.
type UserNotification struct {
	Base
	ReceiverID       snowflake.ID     `gorm:"index;not null" json:"receiver_uid"`
	NotifierType     RecorderType     `gorm:"type:varchar(16);not null" json:"notifier_type"`
	NotifierID       snowflake.ID     `gorm:"not null" json:"notifier_uid"`
	NotificationType NotificationType `gorm:"type:varchar(64);index;not null" json:"type"`
	MessageVars      JSONMap          `gorm:"type:json" json:"message_vars"`
	RecordList       JSONList         `gorm:"type:json" json:"record_list"`
	ReadAt           *time.Time       `json:"read_at"`
}

func (UserNotification) TableName() string { return "user_notification" }

type UserNotificationUnsubscription struct {
	Base
	UserID           snowflake.ID        `gorm:"index:idx_unsub_user_type;not null" json:"user_uid"`
	Channel          NotificationChannel `gorm:"type:varchar(16);not null" json:"channel"`
	NotificationType NotificationType    `gorm:"type:varchar(64);index:idx_unsub_user_type;not null" json:"notification_type"`
	Scope            UnsubscriptionScope `gorm:"type:varchar(16);not null" json:"scope"`
	SpecificTable    string              `gorm:"type:varchar(64)" json:"specific_table,omitempty"`
	SpecificID       snowflake.ID        `json:"specific_uid,omitempty"`
}

func (UserNotificationUnsubscription) TableName() string { return "user_notification_unsubscription" }

// Matches reports whether the unsubscription drops channel for a notification about models.
func (u UserNotificationUnsubscription) Matches(channel NotificationChannel, t NotificationType, models []ScopeModel) bool {
	if u.Channel != channel || u.NotificationType != t {
		return false
	}
	switch u.Scope {
	case UnsubscribeAll:
		return true
	case UnsubscribeSpecific:
		for _, m := range models {
			if m.Table == u.SpecificTable && m.ID == u.SpecificID {
				return true
			}
		}
	}
	return false
}
