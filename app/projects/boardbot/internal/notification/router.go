// Package notification persists user notifications and fans them out to the socket and email
// channels the receiver has not unsubscribed from.
package notification

import (
	"context"

	"go.uber.org/zap"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/logging"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/consts"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/dao"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/metrics"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/model"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/publisher"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/snowflake"
)

const EventNotificationCreated = "user:notification:created"

// Publish is one notification as producers submit it.
type Publish struct {
	Type          model.NotificationType `json:"type"`
	NotifierType  model.RecorderType     `json:"notifier_type"`
	NotifierID    snowflake.ID           `json:"notifier_uid"`
	TargetUser    snowflake.ID           `json:"target_user_uid"`
	ScopeModels   []model.ScopeModel     `json:"scope_models"`
	MessageVars   map[string]any         `json:"message_vars,omitempty"`
	RecordList    []any                  `json:"record_list,omitempty"`
	EmailTemplate string                 `json:"email_template,omitempty"`
	EmailFormats  map[string]any         `json:"email_formats,omitempty"`
}

func (p Publish) Validate() error {
	if p.Type == "" {
		return errs.Invalid("notification.validate", "type is required")
	}
	if p.TargetUser.IsZero() {
		return errs.Invalid("notification.validate", "target_user_uid is required")
	}
	if p.NotifierType != model.RecorderUser && p.NotifierType != model.RecorderBot {
		return errs.Invalid("notification.validate", "unknown notifier_type %q", p.NotifierType)
	}
	return nil
}

// Delivery reports what happened to one notification.
type Delivery struct {
	Notification *model.UserNotification
	Delivered    []model.NotificationChannel
	Dropped      []model.NotificationChannel
}

// Mailer queues one email; EmailSender implements it.
type Mailer interface {
	Enqueue(ctx context.Context, msg EmailMessage) error
}

type Router struct {
	*core.BaseComponent
	Notifications dao.NotificationDao `infra:"dep:notification_dao"`
	Publisher     publisher.Sender    `infra:"dep:socket_publisher"`
	Mailer        Mailer              `infra:"dep:email_sender"`
	Metrics       *metrics.Component  `infra:"dep:boardbot_metrics?"`
}

func NewRouter() *Router {
	return &Router{BaseComponent: core.NewBaseComponent(bizConsts.COMP_NOTIFICATION_ROUTER, consts.COMPONENT_LOGGING)}
}

// NewRouterWith returns a started router.
func NewRouterWith(n dao.NotificationDao, pub publisher.Sender, mailer Mailer) *Router {
	r := NewRouter()
	r.Notifications, r.Publisher, r.Mailer = n, pub, mailer
	r.SetActive(true)
	return r
}

// Notify persists the notification, then hands it to every channel the receiver still listens on.
func (r *Router) Notify(ctx context.Context, p Publish) (*Delivery, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	n := &model.UserNotification{
		ReceiverID:       p.TargetUser,
		NotifierType:     p.NotifierType,
		NotifierID:       p.NotifierID,
		NotificationType: p.Type,
		MessageVars:      model.JSONMap(p.MessageVars),
		RecordList:       model.JSONList(p.RecordList),
	}
	if err := r.Notifications.Create(ctx, n); err != nil {
		return nil, err
	}
	unsubs, err := r.Notifications.Unsubscriptions(ctx, p.TargetUser, p.Type)
	if err != nil {
		logging.Error(ctx, "unsubscriptions unavailable, channels skipped",
			zap.String("notification_uid", n.ID.String()), zap.Error(err))
		return &Delivery{Notification: n, Dropped: model.Channels()}, err
	}

	d := &Delivery{Notification: n}
	for _, ch := range model.Channels() {
		if unsubscribed(unsubs, ch, p) {
			r.Metrics.Notification(string(ch), "unsubscribed")
			d.Dropped = append(d.Dropped, ch)
			continue
		}
		var err error
		switch ch {
		case model.ChannelSocket:
			err = r.toSocket(ctx, n)
		case model.ChannelEmail:
			if p.EmailTemplate == "" {
				r.Metrics.Notification(string(ch), "no_template")
				d.Dropped = append(d.Dropped, ch)
				continue
			}
			err = r.Mailer.Enqueue(ctx, EmailMessage{
				NotificationID: n.ID,
				Receiver:       p.TargetUser,
				Template:       p.EmailTemplate,
				Formats:        p.EmailFormats,
			})
		}
		if err != nil {
			logging.Warn(ctx, "notification channel failed",
				zap.String("channel", string(ch)), zap.String("notification_uid", n.ID.String()), zap.Error(err))
			r.Metrics.Notification(string(ch), "error")
			d.Dropped = append(d.Dropped, ch)
			continue
		}
		r.Metrics.Notification(string(ch), "ok")
		d.Delivered = append(d.Delivered, ch)
	}
	return d, nil
}

func (r *Router) toSocket(ctx context.Context, n *model.UserNotification) error {
	data, err := publisher.ToMap(n)
	if err != nil {
		return err
	}
	r.Publisher.Put(ctx, data, publisher.PublishModel{
		Topic:    publisher.TopicUserPrivate,
		TopicID:  n.ReceiverID.String(),
		Event:    EventNotificationCreated,
		DataKeys: publisher.AllKeys(),
	})
	return nil
}

func unsubscribed(unsubs []*model.UserNotificationUnsubscription, ch model.NotificationChannel, p Publish) bool {
	for _, u := range unsubs {
		if u.Matches(ch, p.Type, p.ScopeModels) {
			return true
		}
	}
	return false
}
