package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"outagebot/internal/outage"
	"outagebot/internal/storage"
	kit "outagebot/internal/transport"
	logx "outagebot/pkg/logx"
)

type sent struct {
	To     kit.ChatTarget
	Text   string
	Opt    kit.SendOptions
	Markup *tele.ReplyMarkup
}

type edited struct {
	Ref    kit.MessageRef
	Text   string
	Markup *tele.ReplyMarkup
}

type answered struct {
	ID   string
	Text string
}

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []sent
	edits   []edited
	answers []answered
	menus   [][]kit.BotCommand
}

func markupOf(opt *kit.SendOptions) *tele.ReplyMarkup {
	if opt == nil {
		return nil
	}
	rm, _ := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup)
	return rm
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := sent{To: to, Text: text, Markup: markupOf(opt)}
	if opt != nil {
		s.Opt = *opt
	}
	a.sent = append(a.sent, s)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(a.sent)}, nil
}

func (a *fakeAdapter) EditText(_ context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.edits = append(a.edits, edited{Ref: ref, Text: text, Markup: markupOf(opt)})
	return nil
}

func (a *fakeAdapter) AnswerCallback(_ context.Context, id, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.answers = append(a.answers, answered{ID: id, Text: text})
	return nil
}

func (a *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.menus = append(a.menus, cmds)
	return nil
}

func (a *fakeAdapter) sentMessages() []sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]sent(nil), a.sent...)
}

type fakeUsers struct {
	mu        sync.Mutex
	users     map[int64]storage.User
	chats     map[int64]storage.Chat
	upsertErr error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: map[int64]storage.User{}, chats: map[int64]storage.Chat{}}
}

func (f *fakeUsers) UpsertUser(_ context.Context, u storage.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	if old, ok := f.users[u.UniqueID]; ok {
		u.InterestGroups = old.InterestGroups
	}
	f.users[u.UniqueID] = u
	return nil
}

func (f *fakeUsers) UpsertChat(_ context.Context, c storage.Chat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats[c.UniqueID] = c
	return nil
}

func (f *fakeUsers) User(_ context.Context, id int64) (storage.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return storage.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) SetInterestGroups(_ context.Context, id int64, groups []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	u.InterestGroups = groups
	f.users[id] = u
	return nil
}

type fakeLatest struct {
	msg outage.Message
	ok  bool
	err error
}

func (f fakeLatest) ComposeLatest(context.Context, string) (outage.Message, bool, error) {
	return f.msg, f.ok, f.err
}

type harness struct {
	m     *CommandManager
	ad    *fakeAdapter
	users *fakeUsers
}

func newHarness(t *testing.T, latest LatestSource) *harness {
	t.Helper()
	ad := &fakeAdapter{}
	users := newFakeUsers()
	m := NewCommandManager(Config{Provider: "Zakarpattia", Workers: 1}, logx.Nop(), ad, users, latest, outage.DefaultComposer)
	return &harness{m: m, ad: ad, users: users}
}

// dispatch routes up and runs the job it enqueued, if any.
func (h *harness) dispatch(t *testing.T, up kit.Update) {
	t.Helper()
	h.m.routeUpdate(context.Background(), up)
	select {
	case job := <-h.m.jobs:
		job()
	default:
	}
}

func text(chatType string, fromID int64, s string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID:   1,
		Chat: kit.Chat{ID: fromID * 10, Type: chatType, Username: "chat"},
		From: kit.Sender{ID: fromID, Username: "user", IsPremium: true},
		Text: s,
	}}
}

func press(fromID int64, data string) kit.Update {
	return kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: "cb-1", From: kit.Sender{ID: fromID}, ChatID: fromID * 10, MessageID: 77, Data: data,
	}}
}

func TestStartRegistersAndShowsKeyboard(t *testing.T) {
	h := newHarness(t, fakeLatest{})
	h.dispatch(t, text("private", 5, "/start"))

	u, err := h.users.User(context.Background(), 5)
	if err != nil || u.Username != "user" || !u.IsPremium {
		t.Fatalf("user not registered: %+v %v", u, err)
	}
	if c := h.users.chats[50]; c.UserID != 5 || c.Type != "private" {
		t.Fatalf("chat not registered: %+v", c)
	}

	msgs := h.ad.sentMessages()
	if len(msgs) != 1 {
		t.Fatalf("sent=%d", len(msgs))
	}
	if msgs[0].Text != outage.DefaultComposer.Welcome().Body || msgs[0].Opt.ParseMode != "MarkdownV2" {
		t.Fatalf("unexpected welcome %+v", msgs[0])
	}
	rm := msgs[0].Markup
	if rm == nil || len(rm.ReplyKeyboard) != 1 || rm.ReplyKeyboard[0][0].Text != ButtonGroups || rm.ReplyKeyboard[0][1].Text != ButtonLatest {
		t.Fatalf("reply keyboard missing: %+v", rm)
	}
}

func TestGroupsCommandAndButtonShowSelection(t *testing.T) {
	h := newHarness(t, fakeLatest{})
	h.dispatch(t, text("private", 5, "/start"))
	_ = h.users.SetInterestGroups(context.Background(), 5, []string{"3-1"})

	for _, in := range []string{"/groups", ButtonGroups} {
		h.dispatch(t, text("private", 5, in))
	}
	msgs := h.ad.sentMessages()
	if len(msgs) != 3 {
		t.Fatalf("sent=%d", len(msgs))
	}
	for _, m := range msgs[1:] {
		rm := m.Markup
		if rm == nil || len(rm.InlineKeyboard) != 6 {
			t.Fatalf("expected 6 rows of groups, got %+v", rm)
		}
		if got := rm.InlineKeyboard[2][0]; got.Text != "✅ 3-1" || got.Data != "toggle_group:3-1" {
			t.Fatalf("selected button=%+v", got)
		}
		if got := rm.InlineKeyboard[2][1]; got.Text != "3-2" {
			t.Fatalf("unselected button=%+v", got)
		}
	}
}

func TestLatestRendersSnapshotOrNoData(t *testing.T) {
	h := newHarness(t, fakeLatest{})
	h.dispatch(t, text("private", 5, "/latest"))
	if got := h.ad.sentMessages()[0].Text; got != outage.DefaultComposer.NoData().Body {
		t.Fatalf("no data text=%q", got)
	}

	msg := outage.Message{Body: `*Актуальна інформація*` + "\n\nЧерга 1", Dialect: outage.DialectMarkdownV2}
	h = newHarness(t, fakeLatest{msg: msg, ok: true})
	h.dispatch(t, text("group", 5, "/latest@outage_bot"))
	h.dispatch(t, text("private", 5, ButtonLatest))
	for _, m := range h.ad.sentMessages() {
		if m.Text != msg.Body || m.Opt.ParseMode != "MarkdownV2" {
			t.Fatalf("latest=%+v", m)
		}
	}
}

func TestLatestFailureSendsNothing(t *testing.T) {
	h := newHarness(t, fakeLatest{err: errors.New("database is locked")})
	h.dispatch(t, text("private", 5, "/latest"))
	if n := len(h.ad.sentMessages()); n != 0 {
		t.Fatalf("sent=%d", n)
	}
}

func TestToggleGroupCallback(t *testing.T) {
	h := newHarness(t, fakeLatest{})

	h.dispatch(t, press(5, "toggle_group:3-1"))
	if got := h.ad.answers; len(got) != 1 || got[0].Text != answerUnknownUser {
		t.Fatalf("answers=%+v", got)
	}

	h.dispatch(t, text("private", 5, "/start"))
	h.dispatch(t, press(5, "toggle_group:9-9"))
	if got := h.ad.answers[1]; got.Text != answerInvalidGroup {
		t.Fatalf("answer=%+v", got)
	}

	h.dispatch(t, press(5, "toggle_group:3-1"))
	h.dispatch(t, press(5, "toggle_group:1-2"))
	u, _ := h.users.User(context.Background(), 5)
	if strings.Join(u.InterestGroups, ",") != "1-2,3-1" {
		t.Fatalf("groups=%v", u.InterestGroups)
	}
	if got := h.ad.answers[3]; got.Text != answerUpdated || got.ID != "cb-1" {
		t.Fatalf("answer=%+v", got)
	}
	if len(h.ad.answers) != 4 {
		t.Fatalf("each callback must be answered exactly once: %+v", h.ad.answers)
	}

	last := h.ad.edits[len(h.ad.edits)-1]
	if last.Ref.MessageID != 77 || last.Ref.ChatID != 50 {
		t.Fatalf("edit ref=%+v", last.Ref)
	}
	if last.Text != outage.DefaultComposer.GroupsMenu([]string{"1-2", "3-1"}).Body {
		t.Fatalf("edit text=%q", last.Text)
	}
	if last.Markup.InlineKeyboard[0][1].Text != "✅ 1-2" {
		t.Fatalf("edited keyboard=%+v", last.Markup.InlineKeyboard[0])
	}

	h.dispatch(t, press(5, "toggle_group:3-1"))
	u, _ = h.users.User(context.Background(), 5)
	if strings.Join(u.InterestGroups, ",") != "1-2" {
		t.Fatalf("second press must remove the group: %v", u.InterestGroups)
	}
}

func TestUnknownCallbackIsAnsweredQuietly(t *testing.T) {
	h := newHarness(t, fakeLatest{})
	h.dispatch(t, press(5, "plugin:action"))
	if len(h.ad.answers) != 1 || h.ad.answers[0].Text != "" {
		t.Fatalf("answers=%+v", h.ad.answers)
	}
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t, fakeLatest{})
	h.dispatch(t, text("group", 5, "/nope"))
	if n := len(h.ad.sentMessages()); n != 0 {
		t.Fatalf("group chats must not get unknown-command replies, sent=%d", n)
	}
	if _, err := h.users.User(context.Background(), 5); err != nil {
		t.Fatalf("sender should still be registered: %v", err)
	}

	h.dispatch(t, text("private", 5, "/nope"))
	if got := h.ad.sentMessages(); len(got) != 1 || got[0].Text != outage.DefaultComposer.Unknown().Body {
		t.Fatalf("sent=%+v", got)
	}
}

func TestPlainTextOnlyRegisters(t *testing.T) {
	h := newHarness(t, fakeLatest{})
	h.dispatch(t, text("private", 8, "дякую"))
	if n := len(h.ad.sentMessages()); n != 0 {
		t.Fatalf("sent=%d", n)
	}
	if _, err := h.users.User(context.Background(), 8); err != nil {
		t.Fatalf("sender not registered: %v", err)
	}
}

func TestRegistrationFailureDoesNotBlockCommand(t *testing.T) {
	h := newHarness(t, fakeLatest{})
	h.users.upsertErr = errors.New("disk full")
	h.dispatch(t, text("private", 5, "/help"))
	msgs := h.ad.sentMessages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].Text, "/groups") {
		t.Fatalf("help not sent: %+v", msgs)
	}
}

func TestPublishMenu(t *testing.T) {
	h := newHarness(t, fakeLatest{})
	if err := h.m.PublishMenu(context.Background()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(h.ad.menus) != 1 {
		t.Fatalf("menus=%d", len(h.ad.menus))
	}
	var names []string
	for _, c := range h.ad.menus[0] {
		names = append(names, c.Command)
	}
	if strings.Join(names, ",") != "start,groups,latest,help" {
		t.Fatalf("menu=%v", names)
	}
}

func TestSanitizeTelegramCommand(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Start", "start"},
		{"latest-info", "latest_info"},
		{"a  b", "a_b"},
		{"__x__", "x"},
		{"черги", ""},
		{strings.Repeat("a", 40), strings.Repeat("a", 32)},
	}
	for _, tc := range cases {
		if got := sanitizeTelegramCommand(tc.in); got != tc.want {
			t.Fatalf("sanitize(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestDispatchLoopRunsWorkers(t *testing.T) {
	h := newHarness(t, fakeLatest{})
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 1)
	done := make(chan error, 1)
	go func() { done <- h.m.DispatchLoop(ctx, updates) }()

	updates <- text("private", 5, "/start")
	deadline := time.Now().Add(2 * time.Second)
	for len(h.ad.sentMessages()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("command was not handled")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("dispatch loop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("dispatch loop did not stop")
	}
	if h.m.Supervisor() != nil {
		t.Fatalf("supervisor should be cleared after stop")
	}
}
