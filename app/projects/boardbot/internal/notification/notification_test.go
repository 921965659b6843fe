package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/http_client"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/broker"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/model"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/publisher"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/snowflake"
)

const (
	userU    = snowflake.ID(501)
	cardC    = snowflake.ID(502)
	projectP = snowflake.ID(503)
	botB     = snowflake.ID(504)
)

type memNotifications struct {
	mu      sync.Mutex
	created []*model.UserNotification
	unsubs  []*model.UserNotificationUnsubscription
	failing error
	nextID  snowflake.ID
}

func (m *memNotifications) Create(_ context.Context, n *model.UserNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	n.ID = 9000 + m.nextID
	m.created = append(m.created, n)
	return nil
}

func (m *memNotifications) Unsubscriptions(_ context.Context, user snowflake.ID, t model.NotificationType) ([]*model.UserNotificationUnsubscription, error) {
	if m.failing != nil {
		return nil, m.failing
	}
	var out []*model.UserNotificationUnsubscription
	for _, u := range m.unsubs {
		if u.UserID == user && u.NotificationType == t {
			out = append(out, u)
		}
	}
	return out, nil
}

type recPub struct {
	mu     sync.Mutex
	frames []publisher.Frame
}

func (p *recPub) Put(_ context.Context, data map[string]any, models ...publisher.PublishModel) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range models {
		p.frames = append(p.frames, publisher.Project(data, m))
	}
	return "k"
}

type userRecords struct {
	emails map[snowflake.ID]string
}

func (r userRecords) Lookup(_ context.Context, kind string, id snowflake.ID) (map[string]any, error) {
	email, ok := r.emails[id]
	if kind != "user" || !ok {
		return nil, errs.NotFound("record.lookup", "%s %s", kind, id)
	}
	return map[string]any{"id": id, "email": email}, nil
}

func (r userRecords) LookupMany(context.Context, string, []snowflake.ID) (map[snowflake.ID]map[string]any, error) {
	return nil, nil
}

func (r userRecords) Parent(context.Context, string, snowflake.ID) (snowflake.ID, error) {
	return 0, nil
}

func (r userRecords) Persist(context.Context, any) error { return nil }

type mailbox struct {
	mu   sync.Mutex
	sent []map[string]any
}

func (m *mailbox) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, mailerSendPath, r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		m.mu.Lock()
		m.sent = append(m.sent, body)
		m.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type fixture struct {
	router *Router
	store  *memNotifications
	pub    *recPub
	box    *mailbox
}

func newFixture(t *testing.T, withMailer bool) *fixture {
	t.Helper()
	f := &fixture{store: &memNotifications{}, pub: &recPub{}, box: &mailbox{}}
	var mailer *http_client.InstrumentedClient
	if withMailer {
		mailer = http_client.NewInstrumentedClient("mailer", &http_client.HTTPClientConfig{BaseURL: f.box.server(t).URL})
	}
	sender, err := NewEmailSenderWith(broker.NewLocal(), userRecords{emails: map[snowflake.ID]string{userU: "u@example.com"}}, mailer)
	require.NoError(t, err)
	f.router = NewRouterWith(f.store, f.pub, sender)
	return f
}

func mention() Publish {
	return Publish{
		Type:          model.NotificationMentionedInComment,
		NotifierType:  model.RecorderBot,
		NotifierID:    botB,
		TargetUser:    userU,
		ScopeModels:   []model.ScopeModel{{Table: "card", ID: cardC}, {Table: "project", ID: projectP}},
		MessageVars:   map[string]any{"card_title": "Fix login"},
		EmailTemplate: "mention",
		EmailFormats:  map[string]any{"card_title": "Fix login"},
	}
}

func TestSpecificUnsubscriptionDropsOnlyThatChannel(t *testing.T) {
	f := newFixture(t, true)
	f.store.unsubs = []*model.UserNotificationUnsubscription{{
		UserID:           userU,
		Channel:          model.ChannelSocket,
		NotificationType: model.NotificationMentionedInComment,
		Scope:            model.UnsubscribeSpecific,
		SpecificTable:    "card",
		SpecificID:       cardC,
	}}

	d, err := f.router.Notify(context.Background(), mention())
	require.NoError(t, err)
	assert.Equal(t, []model.NotificationChannel{model.ChannelEmail}, d.Delivered)
	assert.Equal(t, []model.NotificationChannel{model.ChannelSocket}, d.Dropped)

	assert.Empty(t, f.pub.frames, "no socket frame to the receiver")
	require.Len(t, f.box.sent, 1)
	assert.Equal(t, "u@example.com", f.box.sent[0]["to"])
	assert.Equal(t, "mention", f.box.sent[0]["template"])
	assert.Equal(t, map[string]any{"card_title": "Fix login"}, f.box.sent[0]["formats"])
	require.Len(t, f.store.created, 1, "persisted before channels")
}

func TestAllChannelsWithoutUnsubscriptions(t *testing.T) {
	f := newFixture(t, true)
	d, err := f.router.Notify(context.Background(), mention())
	require.NoError(t, err)
	assert.ElementsMatch(t, model.Channels(), d.Delivered)

	require.Len(t, f.pub.frames, 1)
	fr := f.pub.frames[0]
	assert.Equal(t, publisher.TopicUserPrivate, fr.Topic)
	assert.Equal(t, userU.String(), fr.TopicID)
	assert.Equal(t, EventNotificationCreated, fr.Event)
	assert.Equal(t, string(model.NotificationMentionedInComment), fr.Data["type"])
	assert.Equal(t, userU.String(), fr.Data["receiver_uid"])
	assert.Len(t, f.box.sent, 1)
}

func TestUnsubscriptionScopes(t *testing.T) {
	other := snowflake.ID(999)
	cases := []struct {
		name    string
		unsub   model.UserNotificationUnsubscription
		dropped bool
	}{
		{"all", model.UserNotificationUnsubscription{Channel: model.ChannelEmail, Scope: model.UnsubscribeAll}, true},
		{"specific project", model.UserNotificationUnsubscription{Channel: model.ChannelEmail, Scope: model.UnsubscribeSpecific, SpecificTable: "project", SpecificID: projectP}, true},
		{"specific other card", model.UserNotificationUnsubscription{Channel: model.ChannelEmail, Scope: model.UnsubscribeSpecific, SpecificTable: "card", SpecificID: other}, false},
		{"same id other table", model.UserNotificationUnsubscription{Channel: model.ChannelEmail, Scope: model.UnsubscribeSpecific, SpecificTable: "project_wiki", SpecificID: cardC}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, true)
			u := tc.unsub
			u.UserID = userU
			u.NotificationType = model.NotificationMentionedInComment
			f.store.unsubs = []*model.UserNotificationUnsubscription{&u}

			d, err := f.router.Notify(context.Background(), mention())
			require.NoError(t, err)
			assert.Equal(t, tc.dropped, len(f.box.sent) == 0)
			assert.Contains(t, d.Delivered, model.ChannelSocket)
		})
	}
}

func TestOtherTypeUnsubscriptionIgnored(t *testing.T) {
	f := newFixture(t, true)
	f.store.unsubs = []*model.UserNotificationUnsubscription{{
		UserID:           userU,
		Channel:          model.ChannelSocket,
		NotificationType: model.NotificationAssignedToCard,
		Scope:            model.UnsubscribeAll,
	}}
	_, err := f.router.Notify(context.Background(), mention())
	require.NoError(t, err)
	assert.Len(t, f.pub.frames, 1)
}

func TestEmailWithoutMailerIsDropped(t *testing.T) {
	f := newFixture(t, false)
	d, err := f.router.Notify(context.Background(), mention())
	require.NoError(t, err)
	assert.ElementsMatch(t, model.Channels(), d.Delivered, "the broker task accepted the email")
	assert.Empty(t, f.box.sent)
}

func TestEmailWithoutTemplateIsSkipped(t *testing.T) {
	f := newFixture(t, true)
	p := mention()
	p.EmailTemplate = ""
	d, err := f.router.Notify(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []model.NotificationChannel{model.ChannelEmail}, d.Dropped)
	assert.Empty(t, f.box.sent)
}

func TestUnsubscriptionLookupFailureSkipsChannels(t *testing.T) {
	f := newFixture(t, true)
	f.store.failing = errs.Transient("notification.unsubscriptions", errors.New("db down"))
	d, err := f.router.Notify(context.Background(), mention())
	assert.ErrorIs(t, err, errs.ErrTransient)
	require.NotNil(t, d)
	assert.Len(t, f.store.created, 1)
	assert.Empty(t, f.pub.frames)
	assert.Empty(t, f.box.sent)
}

func TestInvalidPublishRejected(t *testing.T) {
	f := newFixture(t, true)
	p := mention()
	p.TargetUser = 0
	_, err := f.router.Notify(context.Background(), p)
	assert.ErrorIs(t, err, errs.ErrInvalid)
	assert.Empty(t, f.store.created)
}
