package dao

import (
	"context"

	"gorm.io/gorm"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/gormdb"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/model"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/snowflake"
)

type NotificationDao interface {
	Create(ctx context.Context, n *model.UserNotification) error
	// Unsubscriptions returns every unsubscription of user for notification type t, all channels.
	Unsubscriptions(ctx context.Context, user snowflake.ID, t model.NotificationType) ([]*model.UserNotificationUnsubscription, error)
}

type NotificationDaoImpl struct {
	gormDao
	GormComp *gormdb.GormComponent `infra:"dep:gorm"`
}

func NewNotificationDao(dsName string) *NotificationDaoImpl {
	return &NotificationDaoImpl{gormDao: newGormDao(bizConsts.COMP_DAO_NOTIFICATION, dsName)}
}

func NewNotificationDaoWithDB(db *gorm.DB) *NotificationDaoImpl {
	return &NotificationDaoImpl{gormDao: withDB(bizConsts.COMP_DAO_NOTIFICATION, db)}
}

func (d *NotificationDaoImpl) Start(ctx context.Context) error { return d.open(ctx, d.GormComp) }

func (d *NotificationDaoImpl) Create(ctx context.Context, n *model.UserNotification) error {
	return classify("notification.create", d.write(ctx).Create(n).Error)
}

func (d *NotificationDaoImpl) Unsubscriptions(ctx context.Context, user snowflake.ID, t model.NotificationType) ([]*model.UserNotificationUnsubscription, error) {
	var rows []*model.UserNotificationUnsubscription
	err := d.read(ctx).
		Where("user_id = ? AND notification_type = ?", user, t).
		Find(&rows).Error
	return rows, classify("notification.unsubscriptions", err)
}
