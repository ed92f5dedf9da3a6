package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Inline is a small builder for inline keyboards (ReplyMarkup).
// It stores rows as tele.Row ([]tele.Btn) and applies them via ReplyMarkup.Inline().
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a new row (buttons) to the inline keyboard.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

// Markup returns underlying reply markup.
func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn creates a callback button with raw callback_data (we do NOT encode it).
// Use Data to build "action:payload" safely.
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

// Grid splits buttons into rows of cols and returns a ready inline ReplyMarkup.
func Grid(cols int, buttons []tele.Btn) *tele.ReplyMarkup {
	if cols <= 0 {
		cols = 1
	}
	rm := &tele.ReplyMarkup{}
	rm.Inline(rm.Split(cols, buttons)...)
	return rm
}

// Grid2 splits buttons into 2 columns.
func Grid2(buttons []tele.Btn) *tele.ReplyMarkup { return Grid(2, buttons) }

// Keyboard builds a persistent, resized reply keyboard with one row per
// argument. Pressing a button sends its text as a plain message.
func Keyboard(rows ...[]string) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{ResizeKeyboard: true}
	out := make([]tele.Row, 0, len(rows))
	for _, r := range rows {
		btns := make([]tele.Btn, 0, len(r))
		for _, text := range r {
			btns = append(btns, rm.Text(text))
		}
		out = append(out, rm.Row(btns...))
	}
	rm.Reply(out...)
	return rm
}
