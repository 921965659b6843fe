package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/http_client"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/logging"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/consts"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/broker"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/dao"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/metrics"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/snowflake"
)

const mailerSendPath = "/api/v1/send"

// EmailMessage is the broker payload of one email. Rendering is up to the mailer.
type EmailMessage struct {
	NotificationID snowflake.ID   `json:"notification_uid"`
	Receiver       snowflake.ID   `json:"receiver_uid"`
	Template       string         `json:"template"`
	Formats        map[string]any `json:"formats,omitempty"`
}

func (m EmailMessage) Validate() error {
	if m.Receiver.IsZero() || m.Template == "" {
		return errs.Invalid("email.validate", "receiver_uid and template are required")
	}
	return nil
}

// EmailSender resolves the receiver address and posts {to, template, formats} to the mailer.
type EmailSender struct {
	*core.BaseComponent
	Broker  *broker.Broker                    `infra:"dep:task_broker"`
	Records dao.RecordDao                     `infra:"dep:record_dao"`
	Clients *http_client.HTTPClientsComponent `infra:"dep:http_clients?"`
	Metrics *metrics.Component                `infra:"dep:boardbot_metrics?"`

	clientName string
	mailer     *http_client.InstrumentedClient
	task       *broker.Task
}

func NewEmailSender(clientName string) *EmailSender {
	return &EmailSender{
		BaseComponent: core.NewBaseComponent(bizConsts.COMP_EMAIL_SENDER, consts.COMPONENT_LOGGING),
		clientName:    clientName,
	}
}

// NewEmailSenderWith returns a started sender; mailer may be nil.
func NewEmailSenderWith(b *broker.Broker, records dao.RecordDao, mailer *http_client.InstrumentedClient) (*EmailSender, error) {
	s := NewEmailSender("")
	s.Broker, s.Records, s.mailer = b, records, mailer
	if err := s.register(); err != nil {
		return nil, err
	}
	s.SetActive(true)
	return s, nil
}

func (s *EmailSender) Start(ctx context.Context) error {
	if s.IsActive() {
		return nil
	}
	if s.clientName != "" && s.Clients != nil {
		c, err := s.Clients.Client(s.clientName)
		if err != nil {
			return fmt.Errorf("mailer client %q: %w", s.clientName, err)
		}
		s.mailer = c
	}
	if s.mailer == nil {
		logging.Warn(ctx, "no mailer client configured, emails will be dropped")
	}
	if err := s.register(); err != nil {
		return err
	}
	return s.BaseComponent.Start(ctx)
}

func (s *EmailSender) register() error {
	task, err := s.Broker.WrapAsync(bizConsts.TASK_NOTIFICATION_EMAIL, s.Send)
	if errors.Is(err, errs.ErrConflict) {
		task, _ = s.Broker.Task(bizConsts.TASK_NOTIFICATION_EMAIL)
		err = nil
	}
	if err != nil {
		return fmt.Errorf("register %s: %w", bizConsts.TASK_NOTIFICATION_EMAIL, err)
	}
	s.task = task
	return nil
}

func (s *EmailSender) Enqueue(ctx context.Context, msg EmailMessage) error {
	return s.task.Delay(ctx, msg)
}

// Send runs on the broker.
func (s *EmailSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.mailer == nil {
		logging.Warn(ctx, "email dropped, no mailer",
			zap.String("template", msg.Template), zap.String("receiver_uid", msg.Receiver.String()))
		s.Metrics.Notification("email", "dropped")
		return nil
	}
	user, err := s.Records.Lookup(ctx, "user", msg.Receiver)
	if err != nil {
		return err
	}
	to, _ := user["email"].(string)
	if to == "" {
		logging.Warn(ctx, "email dropped, receiver has no address", zap.String("receiver_uid", msg.Receiver.String()))
		s.Metrics.Notification("email", "dropped")
		return nil
	}
	formats := msg.Formats
	if formats == nil {
		formats = map[string]any{}
	}
	_, err = s.mailer.Do(ctx, http.MethodPost, mailerSendPath, nil, nil, map[string]any{
		"to":       to,
		"template": msg.Template,
		"formats":  formats,
	}, nil)
	if err != nil {
		s.Metrics.Notification("email", "error")
		return errs.Platform("email.send", err)
	}
	logging.Info(ctx, "email sent",
		zap.String("template", msg.Template), zap.String("notification_uid", msg.NotificationID.String()))
	s.Metrics.Notification("email", "sent")
	return nil
}
