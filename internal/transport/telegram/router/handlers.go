package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"outagebot/internal/outage"
	"outagebot/internal/storage"
	logx "outagebot/pkg/logx"
	"outagebot/pkg/tgui"
)

const (
	ButtonGroups = "⚙️ Обрати чергу"
	ButtonLatest = "📋 Актуальна інформація"

	ActionToggleGroup = "toggle_group"

	answerUnknownUser  = "Користувача не знайдено"
	answerInvalidGroup = "Невірна черга"
	answerUpdated      = "✅ Оновлено!"
)

// MainKeyboard is the persistent reply keyboard shown after /start.
func MainKeyboard() *tele.ReplyMarkup {
	return tgui.Keyboard([]string{ButtonGroups, ButtonLatest})
}

// GroupsKeyboard lists every available group in two columns; selected
// groups carry a check mark.
func GroupsKeyboard(selected []string) *tele.ReplyMarkup {
	btns := make([]tele.Btn, 0, len(outage.AvailableGroups))
	for _, g := range outage.AvailableGroups {
		label := g
		if outage.ContainsGroup(selected, g) {
			label = "✅ " + g
		}
		btns = append(btns, tgui.Btn(label, tgui.MustData(ActionToggleGroup, g)))
	}
	return tgui.Grid2(btns)
}

func (m *CommandManager) builtinCommands() []Command {
	return []Command{
		{Name: "start", Description: "Підписатися на оновлення", Handle: m.handleStart},
		{Name: "groups", Description: "Обрати свої черги", Buttons: []string{ButtonGroups}, Handle: m.handleGroups},
		{Name: "latest", Description: "Актуальна інформація", Buttons: []string{ButtonLatest}, Handle: m.handleLatest},
		{Name: "help", Aliases: []string{"h"}, Description: "Список команд", Handle: m.handleHelp},
	}
}

func (m *CommandManager) builtinCallbacks() []CallbackRoute {
	return []CallbackRoute{
		{Action: ActionToggleGroup, Description: "toggle interest group", Handle: m.handleToggleGroup},
	}
}

func (m *CommandManager) handleStart(ctx context.Context, req *Request) error {
	_, err := req.Reply(ctx, m.composer.Welcome(), MainKeyboard())
	return err
}

func (m *CommandManager) handleGroups(ctx context.Context, req *Request) error {
	u, err := m.users.User(ctx, req.From.ID)
	if errors.Is(err, storage.ErrNotFound) {
		req.Logger.Debug("groups requested by unregistered user")
		return nil
	}
	if err != nil {
		return err
	}
	_, err = req.Reply(ctx, m.composer.GroupsMenu(u.InterestGroups), GroupsKeyboard(u.InterestGroups))
	return err
}

func (m *CommandManager) handleLatest(ctx context.Context, req *Request) error {
	msg, ok, err := m.latest.ComposeLatest(ctx, m.cfg.Provider)
	if err != nil {
		return err
	}
	if !ok {
		msg = m.composer.NoData()
	}
	_, err = req.Reply(ctx, msg, nil)
	return err
}

func (m *CommandManager) handleHelp(ctx context.Context, req *Request) error {
	_, err := req.Reply(ctx, outage.Message{Body: m.helpText(), Dialect: outage.DialectPlain}, nil)
	return err
}

func (m *CommandManager) helpText() string {
	m.mu.RLock()
	cmds := append([]Command(nil), m.commands...)
	m.mu.RUnlock()

	var b strings.Builder
	b.WriteString("Команди:\n")
	for _, c := range cmds {
		fmt.Fprintf(&b, "/%s - %s\n", c.Name, c.Description)
	}
	b.WriteString("\nКнопки «" + ButtonGroups + "» та «" + ButtonLatest + "» працюють так само.")
	return b.String()
}

func (m *CommandManager) handleToggleGroup(ctx context.Context, req *Request, group string) error {
	u, err := m.users.User(ctx, req.From.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return req.Answer(ctx, answerUnknownUser)
	}
	if err != nil {
		return err
	}
	if !outage.IsAvailableGroup(group) {
		return req.Answer(ctx, answerInvalidGroup)
	}

	groups := outage.ToggleGroup(u.InterestGroups, group)
	if err := m.users.SetInterestGroups(ctx, u.UniqueID, groups); err != nil {
		return err
	}
	req.Logger.Info("interest groups updated", logx.Strings("groups", groups))

	if req.MessageID != 0 {
		if err := req.Edit(ctx, m.composer.GroupsMenu(groups), GroupsKeyboard(groups)); err != nil {
			req.Logger.Warn("groups menu edit failed", logx.Err(err))
		}
	}
	return req.Answer(ctx, answerUpdated)
}
