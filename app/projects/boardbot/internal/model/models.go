package model

import (
	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/gormdb"
)

func init() {
	gormdb.RegisterModels(
		&Bot{}, &BotScope{}, &BotSchedule{}, &BotLog{},
		&ProjectActivity{}, &ProjectWikiActivity{}, &UserActivity{},
		&UserNotification{}, &UserNotificationUnsubscription{},
	)
}
