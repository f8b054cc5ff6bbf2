package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shinyyama/messaging-backend/internal/cache"
	"github.com/shinyyama/messaging-backend/internal/model"
	"github.com/shinyyama/messaging-backend/internal/push"
	"github.com/shinyyama/messaging-backend/internal/repository"
	"github.com/shinyyama/messaging-backend/internal/store/memstore"
)

type fixture struct {
	client    *repository.Client
	convRepo  repository.ConversationRepository
	msgRepo   repository.MessageRepository
	notifRepo repository.NotificationRepository
	presRepo  repository.PresenceRepository
	convs     ConversationService
	notifs    NotificationService
}

func newFixture(t *testing.T, pusher *push.Dispatcher) *fixture {
	t.Helper()
	var (
		mu sync.Mutex
		ts = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	)
	client := repository.New(memstore.New(), model.Schema(), repository.Options{Now: func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		ts = ts.Add(time.Second)
		return ts
	}})
	if err := client.EnsureIndexes(context.Background()); err != nil {
		t.Fatalf("EnsureIndexes: %v", err)
	}
	f := &fixture{
		client:    client,
		convRepo:  repository.NewConversationRepository(client),
		msgRepo:   repository.NewMessageRepository(client),
		notifRepo: repository.NewNotificationRepository(client),
		presRepo:  repository.NewPresenceRepository(client),
	}
	f.notifs = NewNotificationService(f.notifRepo, pusher)
	f.convs = NewConversationService(client, f.convRepo, f.msgRepo, f.presRepo, f.notifs)
	return f
}

func (f *fixture) group(t *testing.T, owner string, members ...string) *model.Conversation {
	t.Helper()
	cv, err := f.convs.CreateGroup(context.Background(), owner, "team", members)
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	return cv
}

func (f *fixture) send(t *testing.T, convID, from, content string) *model.Message {
	t.Helper()
	msg, err := f.convs.SendMessage(context.Background(), SendMessageInput{ConversationID: convID, SenderID: from, Content: content})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	return msg
}

func (f *fixture) count(t *testing.T, modelName string) int64 {
	t.Helper()
	n, err := f.client.MustModel(modelName).Count(context.Background(), repository.CountArgs{})
	if err != nil {
		t.Fatalf("count %s: %v", modelName, err)
	}
	return n
}

func TestStartDirectIsReused(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	a, err := f.convs.StartDirect(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("StartDirect: %v", err)
	}
	b, err := f.convs.StartDirect(ctx, "u2", "u1")
	if err != nil || b.ID != a.ID {
		t.Fatalf("second StartDirect = %v, %v; want %s", b, err, a.ID)
	}
	if _, err := f.convs.StartDirect(ctx, "u1", "u1"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("self conversation error = %v", err)
	}
	if _, err := f.convs.CreateGroup(ctx, "u1", "solo", []string{"u1", " "}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("group without members error = %v", err)
	}
}

func TestSharesConversation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.group(t, "u1", "u2")
	if _, err := f.convs.StartDirect(ctx, "u3", "u4"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		uid, other string
		want       bool
	}{
		{"u1", "u2", true},
		{"u2", "u1", true},
		{"u4", "u3", true},
		{"u1", "u3", false},
		{"u5", "u5", true},
	}
	for _, tt := range tests {
		got, err := f.convs.SharesConversation(ctx, tt.uid, tt.other)
		if err != nil || got != tt.want {
			t.Fatalf("SharesConversation(%s, %s) = %v, %v; want %v", tt.uid, tt.other, got, err, tt.want)
		}
	}
}

func TestSendMessageAndUnread(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	cv := f.group(t, "u1", "u2", "u3")

	f.send(t, cv.ID, "u1", "hello")
	last := f.send(t, cv.ID, "u1", "  second  ")
	if last.Content != "second" || last.Type != model.MessageTypeText {
		t.Fatalf("stored message = %+v", last)
	}

	n, err := f.convs.UnreadCount(ctx, cv.ID, "u2")
	if err != nil || n != 2 {
		t.Fatalf("unread for u2 = %d, %v", n, err)
	}
	if n, _ := f.convs.UnreadCount(ctx, cv.ID, "u1"); n != 0 {
		t.Fatalf("sender has %d unread", n)
	}

	got, err := f.convs.Get(ctx, cv.ID, "u3")
	if err != nil {
		t.Fatal(err)
	}
	if got.LastMessage["content"] != "second" || !got.LastActivity.After(cv.LastActivity) {
		t.Fatalf("conversation preview = %v at %v", got.LastMessage, got.LastActivity)
	}

	notifs, unread, err := f.notifs.List(ctx, "u2", false, "", 0)
	if err != nil || len(notifs) != 2 || unread != 2 {
		t.Fatalf("u2 notifications = %d (unread %d), %v", len(notifs), unread, err)
	}
	if notifs[0].Type != model.NotificationTypeMessageReceived || notifs[0].Data["conversationId"] != cv.ID {
		t.Fatalf("notification = %+v", notifs[0])
	}

	marked, err := f.convs.MarkRead(ctx, cv.ID, "u2")
	if err != nil || marked != 2 {
		t.Fatalf("MarkRead = %d, %v", marked, err)
	}
	if n, _ := f.convs.UnreadCount(ctx, cv.ID, "u2"); n != 0 {
		t.Fatalf("unread after MarkRead = %d", n)
	}
	if marked, _ := f.convs.MarkRead(ctx, cv.ID, "u2"); marked != 0 {
		t.Fatalf("second MarkRead marked %d", marked)
	}

	list, err := f.convs.ListByUser(ctx, "u3")
	if err != nil || len(list) != 1 || list[0].UnreadCount != 2 {
		t.Fatalf("ListByUser = %+v, %v", list, err)
	}

	if _, err := f.convs.SendMessage(ctx, SendMessageInput{ConversationID: cv.ID, SenderID: "u9", Content: "hi"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("outsider send error = %v", err)
	}
	if _, err := f.convs.SendMessage(ctx, SendMessageInput{ConversationID: cv.ID, SenderID: "u1", Content: "   "}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("empty content error = %v", err)
	}
}

func TestListMessagesPages(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	cv := f.group(t, "u1", "u2")
	var sent []*model.Message
	for _, c := range []string{"m0", "m1", "m2", "m3", "m4"} {
		sent = append(sent, f.send(t, cv.ID, "u1", c))
	}

	page, err := f.convs.ListMessages(ctx, cv.ID, "u2", "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].Content != "m4" || page[1].Content != "m3" {
		t.Fatalf("first page = %+v", page)
	}
	if len(page[0].Status) != 1 || page[0].Status[0].Status != model.MessageStatusSent {
		t.Fatalf("receipts = %+v", page[0].Status)
	}
	page, err = f.convs.ListMessages(ctx, cv.ID, "u2", page[1].ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].Content != "m2" || page[1].Content != "m1" {
		t.Fatalf("second page = %+v", page)
	}
	if _, err := f.convs.ListMessages(ctx, cv.ID, "u9", "", 2); !errors.Is(err, ErrForbidden) {
		t.Fatalf("outsider list error = %v", err)
	}

	edited, err := f.convs.EditMessage(ctx, sent[0].ID, "u1", "m0!")
	if err != nil || !edited.IsEdited || edited.EditedAt == nil || edited.Content != "m0!" {
		t.Fatalf("EditMessage = %+v, %v", edited, err)
	}
	if _, err := f.convs.EditMessage(ctx, sent[0].ID, "u2", "nope"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("edit by other user error = %v", err)
	}
}

func TestRepliesAndThreads(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	cv := f.group(t, "u1", "u2", "u3")
	root := f.send(t, cv.ID, "u1", "root")

	var replies []*model.Message
	for _, from := range []string{"u2", "u3", "u2"} {
		r, err := f.convs.SendMessage(ctx, SendMessageInput{ConversationID: cv.ID, SenderID: from, Content: "re", ReplyToID: root.ID})
		if err != nil {
			t.Fatalf("reply: %v", err)
		}
		replies = append(replies, r)
	}

	th, err := f.convs.GetThread(ctx, root.ID, "u1")
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if th.Thread == nil || th.Thread.MessageCount != 3 || len(th.Thread.Participants) != 2 {
		t.Fatalf("thread = %+v", th.Thread)
	}
	if len(th.Message.Replies) != 3 || th.Message.Replies[0].ID != replies[0].ID {
		t.Fatalf("replies = %+v", th.Message.Replies)
	}

	if err := f.convs.DeleteMessage(ctx, replies[1].ID, "u1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("delete by other user error = %v", err)
	}
	if err := f.convs.DeleteMessage(ctx, replies[1].ID, "u3"); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	th, _ = f.convs.GetThread(ctx, root.ID, "u2")
	if th.Thread.MessageCount != 2 || len(th.Message.Replies) != 2 {
		t.Fatalf("after delete thread = %+v, replies %d", th.Thread, len(th.Message.Replies))
	}

	other := f.group(t, "u1", "u2")
	_, err = f.convs.SendMessage(ctx, SendMessageInput{ConversationID: other.ID, SenderID: "u1", Content: "x", ReplyToID: root.ID})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("cross-conversation reply error = %v", err)
	}

	if err := f.convs.DeleteMessage(ctx, root.ID, "u1"); err != nil {
		t.Fatalf("delete root: %v", err)
	}
	if n := f.count(t, model.ModelMessageThread); n != 0 {
		t.Fatalf("thread of deleted message survived: %d", n)
	}
	left, err := f.msgRepo.FindByID(ctx, replies[0].ID, map[string]*repository.FindArgs{"replyTo": nil})
	if err != nil || left.ReplyTo != nil {
		t.Fatalf("reply to a deleted message = %+v, %v", left, err)
	}
}

func TestReceiptsAndReactions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	cv := f.group(t, "u1", "u2")
	msg := f.send(t, cv.ID, "u1", "hi")

	st, err := f.convs.MarkDelivered(ctx, msg.ID, "u2")
	if err != nil || st.Status != model.MessageStatusDelivered {
		t.Fatalf("MarkDelivered = %+v, %v", st, err)
	}
	if _, err := f.convs.MarkRead(ctx, cv.ID, "u2"); err != nil {
		t.Fatal(err)
	}
	st, _ = f.convs.MarkDelivered(ctx, msg.ID, "u2")
	if st.Status != model.MessageStatusRead {
		t.Fatalf("late delivery receipt downgraded status to %s", st.Status)
	}
	if _, err := f.convs.MarkDelivered(ctx, msg.ID, "u1"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("sender receipt error = %v", err)
	}

	a, err := f.convs.React(ctx, msg.ID, "u2", "👍")
	if err != nil {
		t.Fatalf("React: %v", err)
	}
	b, err := f.convs.React(ctx, msg.ID, "u2", "👍")
	if err != nil || b.ID != a.ID {
		t.Fatalf("repeated reaction = %+v, %v", b, err)
	}
	if _, err := f.convs.React(ctx, msg.ID, "u9", "👍"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("outsider reaction error = %v", err)
	}
	if _, err := f.convs.React(ctx, msg.ID, "u2", " "); !errors.Is(err, ErrInvalid) {
		t.Fatalf("blank emoji error = %v", err)
	}
	if err := f.convs.Unreact(ctx, msg.ID, "u2", "👍"); err != nil {
		t.Fatalf("Unreact: %v", err)
	}
	if err := f.convs.Unreact(ctx, msg.ID, "u2", "👍"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Unreact error = %v", err)
	}
}

func TestDeleteConversationCascades(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	cv := f.group(t, "u1", "u2")
	keep := f.group(t, "u1", "u2")
	root := f.send(t, cv.ID, "u1", "root")
	f.send(t, keep.ID, "u1", "stays")
	if _, err := f.convs.SendMessage(ctx, SendMessageInput{ConversationID: cv.ID, SenderID: "u2", Content: "re", ReplyToID: root.ID}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.convs.React(ctx, root.ID, "u2", "🎉"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.presRepo.SetTyping(ctx, cv.ID, "u2", true, time.Now()); err != nil {
		t.Fatal(err)
	}

	if err := f.convs.DeleteConversation(ctx, cv.ID, "u2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("delete by non-creator error = %v", err)
	}
	if err := f.convs.DeleteConversation(ctx, cv.ID, "u1"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if _, err := f.convs.Get(ctx, cv.ID, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete error = %v", err)
	}

	want := map[string]int64{
		model.ModelConversation:        1,
		model.ModelMessage:             1,
		model.ModelMessageReaction:     0,
		model.ModelMessageStatusRecord: 1,
		model.ModelMessageThread:       0,
		model.ModelTypingIndicator:     0,
	}
	for name, n := range want {
		if got := f.count(t, name); got != n {
			t.Errorf("%s rows = %d, want %d", name, got, n)
		}
	}
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	stale map[string]bool
}

func (s *fakeSender) Send(_ context.Context, token string, _ push.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale[token] {
		return push.ErrInvalidToken
	}
	s.sent = append(s.sent, token)
	return nil
}

func TestNotifyRespectsSettings(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.notifs.UpdateSettings(ctx, "u1", map[string]any{"messages": false}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	n, err := f.notifs.Notify(ctx, NotifyInput{UserID: "u1", Type: model.NotificationTypeMessageReceived, Title: "t", Message: "m"})
	if err != nil || n != nil {
		t.Fatalf("muted notify = %+v, %v", n, err)
	}
	n, err = f.notifs.Notify(ctx, NotifyInput{UserID: "u1", Type: model.NotificationTypeSystemAnnouncement, Title: "t", Message: "m", ActionURL: "/news"})
	if err != nil || n == nil || n.ActionURL == nil || *n.ActionURL != "/news" {
		t.Fatalf("notify = %+v, %v", n, err)
	}
	if _, err := f.notifs.Notify(ctx, NotifyInput{UserID: "u1"}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("notify without type error = %v", err)
	}
}

func TestNotificationInbox(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		n, err := f.notifs.Notify(ctx, NotifyInput{UserID: "u1", Type: model.NotificationTypeFriendRequest, Title: "t", Message: "m"})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, n.ID)
	}
	expired := time.Now().Add(-time.Hour)
	if _, err := f.notifs.Notify(ctx, NotifyInput{UserID: "u1", Type: model.NotificationTypeBoxAvailable, Title: "t", Message: "m", ExpiresAt: &expired}); err != nil {
		t.Fatal(err)
	}

	list, unread, err := f.notifs.List(ctx, "u1", true, "", 0)
	if err != nil || len(list) != 4 || unread != 3 {
		t.Fatalf("List = %d items (unread %d), %v", len(list), unread, err)
	}

	if _, err := f.notifs.MarkRead(ctx, "u2", ids[0]); !errors.Is(err, ErrNotFound) {
		t.Fatalf("marking another user's notification error = %v", err)
	}
	n, err := f.notifs.MarkRead(ctx, "u1", ids[0])
	if err != nil || !n.IsRead {
		t.Fatalf("MarkRead = %+v, %v", n, err)
	}
	if cnt, _ := f.notifs.MarkAllRead(ctx, "u1"); cnt != 3 {
		t.Fatalf("MarkAllRead = %d", cnt)
	}

	groups, err := f.notifs.CountByType(ctx, "u1")
	if err != nil || len(groups) != 2 || groups[0]["type"] != string(model.NotificationTypeFriendRequest) {
		t.Fatalf("CountByType = %v, %v", groups, err)
	}

	purged, err := f.notifs.PurgeExpired(ctx, 0)
	if err != nil || purged != 1 {
		t.Fatalf("PurgeExpired = %d, %v", purged, err)
	}
	if _, err := f.notifs.PurgeExpired(ctx, -1); !errors.Is(err, ErrInvalid) {
		t.Fatalf("negative limit error = %v", err)
	}
}

func TestUpdateSettings(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	s, err := f.notifs.Settings(ctx, "u1")
	if err != nil || !s.Messages || s.EmailFrequency != model.EmailFrequencyImmediate || s.Timezone != "UTC" {
		t.Fatalf("default settings = %+v, %v", s, err)
	}

	s, err = f.notifs.UpdateSettings(ctx, "u1", map[string]any{
		"quietHoursEnabled": true,
		"quietHoursStart":   "22:00",
		"quietHoursEnd":     "07:30",
		"emailFrequency":    "daily",
		"timezone":          "UTC",
	})
	if err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if !s.QuietHoursEnabled || s.QuietHoursStart == nil || *s.QuietHoursStart != "22:00" || s.EmailFrequency != "daily" {
		t.Fatalf("settings = %+v", s)
	}
	s, err = f.notifs.UpdateSettings(ctx, "u1", map[string]any{"quietHoursStart": nil})
	if err != nil || s.QuietHoursStart != nil {
		t.Fatalf("clearing quiet hours = %+v, %v", s, err)
	}

	bad := []map[string]any{
		{"messages": "yes"},
		{"emailFrequency": "hourly"},
		{"quietHoursStart": "25:00"},
		{"quietHoursEnd": "7"},
		{"timezone": "Nowhere/Land"},
		{"timezone": ""},
		{"userId": "u2"},
		{"pushTokens": []string{"x"}},
	}
	for _, patch := range bad {
		if _, err := f.notifs.UpdateSettings(ctx, "u1", patch); !errors.Is(err, ErrInvalid) {
			t.Errorf("UpdateSettings(%v) error = %v", patch, err)
		}
	}
}

func TestPushTokens(t *testing.T) {
	sender := &fakeSender{stale: map[string]bool{"dead": true}}
	noon := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, &push.Dispatcher{FCM: sender, Now: func() time.Time { return noon }})
	ctx := context.Background()

	for _, tok := range []string{"live", "dead", "live"} {
		if _, err := f.notifs.RegisterPushToken(ctx, "u1", tok); err != nil {
			t.Fatalf("RegisterPushToken(%s): %v", tok, err)
		}
	}
	s, _ := f.notifs.Settings(ctx, "u1")
	if len(s.PushTokens) != 2 {
		t.Fatalf("tokens = %v", s.PushTokens)
	}
	if _, err := f.notifs.RegisterPushToken(ctx, "u1", "  "); !errors.Is(err, ErrInvalid) {
		t.Fatalf("blank token error = %v", err)
	}

	if _, err := f.notifs.Notify(ctx, NotifyInput{UserID: "u1", Type: model.NotificationTypeSystemAnnouncement, Title: "t", Message: "m"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0] != "live" {
		t.Fatalf("sent to %v", sender.sent)
	}
	s, _ = f.notifs.Settings(ctx, "u1")
	if len(s.PushTokens) != 1 || s.PushTokens[0] != "live" {
		t.Fatalf("rejected token was not pruned: %v", s.PushTokens)
	}

	s, err := f.notifs.RemovePushToken(ctx, "u1", "live")
	if err != nil || len(s.PushTokens) != 0 {
		t.Fatalf("RemovePushToken = %v, %v", s, err)
	}
}

func TestPresence(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	mem := cache.NewMemory()
	svc := NewPresenceService(f.presRepo, f.convRepo, mem)

	web := "web"
	p, err := svc.SetOnline(ctx, "u1", &web)
	if err != nil || !p.IsOnline || p.CurrentDevice == nil || *p.CurrentDevice != "web" {
		t.Fatalf("SetOnline = %+v, %v", p, err)
	}
	if _, err := mem.Get(ctx, cache.PresenceKey("u1")); err != nil {
		t.Fatalf("presence was not cached: %v", err)
	}
	p, err = svc.SetOffline(ctx, "u1")
	if err != nil || p.IsOnline || p.CurrentDevice != nil {
		t.Fatalf("SetOffline = %+v, %v", p, err)
	}
	p, err = svc.Get(ctx, "u1")
	if err != nil || p.IsOnline {
		t.Fatalf("Get = %+v, %v", p, err)
	}

	if err := mem.Set(ctx, cache.PresenceKey("u5"), `{"userId":"u5","isOnline":true}`, time.Minute); err != nil {
		t.Fatal(err)
	}
	if p, err := svc.Get(ctx, "u5"); err != nil || !p.IsOnline {
		t.Fatalf("cached Get = %+v, %v", p, err)
	}
	if _, err := svc.Get(ctx, "u9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown user error = %v", err)
	}

	if _, err := svc.SetOnline(ctx, "u2", nil); err != nil {
		t.Fatal(err)
	}
	many, err := svc.GetMany(ctx, []string{"u2", "u1", "u1", "", "u9"})
	if err != nil || len(many) != 2 || many[0].UserID != "u1" || many[1].UserID != "u2" {
		t.Fatalf("GetMany = %+v, %v", many, err)
	}
	tooMany := make([]string, 201)
	for i := range tooMany {
		tooMany[i] = string(rune('a'+i%26)) + string(rune('a'+i/26))
	}
	if _, err := svc.GetMany(ctx, tooMany); !errors.Is(err, ErrInvalid) {
		t.Fatalf("oversized GetMany error = %v", err)
	}
	if _, err := svc.SetOnline(ctx, "", nil); !errors.Is(err, ErrInvalid) {
		t.Fatalf("blank uid error = %v", err)
	}
}

func TestTyping(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	cv := f.group(t, "u1", "u2", "u3")
	svc := NewPresenceService(f.presRepo, f.convRepo, nil)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	svc.(*presenceService).now = func() time.Time { return now }

	for _, uid := range []string{"u2", "u3"} {
		if _, err := svc.SetTyping(ctx, cv.ID, uid, true); err != nil {
			t.Fatalf("SetTyping(%s): %v", uid, err)
		}
	}
	typers, err := svc.ActiveTypers(ctx, cv.ID, "u2")
	if err != nil || len(typers) != 1 || typers[0].UserID != "u3" {
		t.Fatalf("ActiveTypers = %+v, %v", typers, err)
	}
	if _, err := svc.SetTyping(ctx, cv.ID, "u3", false); err != nil {
		t.Fatal(err)
	}
	typers, _ = svc.ActiveTypers(ctx, cv.ID, "u1")
	if len(typers) != 1 || typers[0].UserID != "u2" {
		t.Fatalf("after stop = %+v", typers)
	}

	now = now.Add(time.Minute)
	if typers, _ := svc.ActiveTypers(ctx, cv.ID, "u1"); len(typers) != 0 {
		t.Fatalf("stale typers = %+v", typers)
	}
	if _, err := svc.SetTyping(ctx, cv.ID, "u9", true); !errors.Is(err, ErrForbidden) {
		t.Fatalf("outsider typing error = %v", err)
	}
	if _, err := svc.ActiveTypers(ctx, "000000000000000000000000", "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown conversation error = %v", err)
	}
}
