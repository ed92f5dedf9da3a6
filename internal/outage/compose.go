package outage

import (
	"errors"
	"strings"
)

// Dialect is the markup dialect a message body is written in.
type Dialect string

const (
	DialectMarkdownV2 Dialect = "MarkdownV2"
	DialectPlain      Dialect = ""
)

// Sound is the notification priority of a delivery.
type Sound int

const (
	// SoundUndetermined leaves the decision to the fanout.
	SoundUndetermined Sound = iota
	SoundAudible
	SoundSilent
)

// Message is a transport-agnostic payload.
type Message struct {
	Body    string
	Dialect Dialect
	Sound   Sound
}

// NewMessage validates and builds a message.
func NewMessage(body string, dialect Dialect) (Message, error) {
	if strings.TrimSpace(body) == "" {
		return Message{}, errors.New("message body is empty")
	}
	switch dialect {
	case DialectMarkdownV2, DialectPlain:
	default:
		return Message{}, errors.New("unknown markup dialect: " + string(dialect))
	}
	return Message{Body: body, Dialect: dialect, Sound: SoundUndetermined}, nil
}

// markdownV2Special lists the characters that must be backslash-escaped in
// Telegram MarkdownV2 text.
var markdownV2Special = []string{"_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}

var (
	escaper   *strings.Replacer
	unescaper *strings.Replacer
)

func init() {
	esc := make([]string, 0, len(markdownV2Special)*2)
	unesc := make([]string, 0, len(markdownV2Special)*2)
	for _, c := range markdownV2Special {
		esc = append(esc, c, `\`+c)
		unesc = append(unesc, `\`+c, c)
	}
	escaper = strings.NewReplacer(esc...)
	unescaper = strings.NewReplacer(unesc...)
}

// Escape prefixes every MarkdownV2 special character with a backslash in a
// single pass.
func Escape(s string) string { return escaper.Replace(s) }

// Unescape reverses Escape.
func Unescape(s string) string { return unescaper.Replace(s) }

// Bold renders s as escaped bold MarkdownV2 text.
func Bold(s string) string { return "*" + Escape(s) + "*" }

// Composer renders change events and bot screens.
type Composer struct {
	// Header precedes a message that restates the whole current content.
	Header string
	// ProviderTitle names the publisher in the welcome text.
	ProviderTitle string
}

// DefaultComposer carries the Ukrainian texts of the Zakarpattia bot.
var DefaultComposer = Composer{
	Header:        "Актуальна інформація",
	ProviderTitle: "Закарпаттяобленерго",
}

// ComposeChange renders the added paragraphs of ev. The header is included
// when there is no previous snapshot or every current paragraph is new.
func (c Composer) ComposeChange(ev ChangeEvent) (Message, error) {
	if len(ev.Added) == 0 {
		return Message{}, ErrNothingToSend
	}
	body := Escape(JoinParagraphs(ev.Added))
	if ev.AddsEverything() && c.Header != "" {
		body = Bold(c.Header) + ParagraphSeparator + body
	}
	return NewMessage(body, DialectMarkdownV2)
}

// ComposeLatest renders the full content of s as if it were first seen.
func (c Composer) ComposeLatest(s Snapshot) (Message, error) {
	return c.ComposeChange(Diff(s, nil))
}

// Welcome is the /start greeting.
func (c Composer) Welcome() Message {
	var b strings.Builder
	b.WriteString(Bold("Привіт"))
	b.WriteString(ParagraphSeparator)
	b.WriteString(Escape("Цей бот надсилатиме тобі повідомлення про "))
	b.WriteString(Bold("оновлення графіку відключень"))
	b.WriteString(Escape(" на сайті "))
	b.WriteString(Bold(c.ProviderTitle))
	b.WriteString(Escape("."))
	b.WriteString(ParagraphSeparator)
	b.WriteString(Escape("Обери свої черги, щоб отримувати сповіщення зі звуком лише тоді, коли вони згадуються в оновленні."))
	return Message{Body: b.String(), Dialect: DialectMarkdownV2}
}

// GroupsMenu is the text above the group selection keyboard.
func (c Composer) GroupsMenu(selected []string) Message {
	var b strings.Builder
	b.WriteString(Bold("Обрані черги"))
	b.WriteString(Escape(": "))
	if len(selected) == 0 {
		b.WriteString(Escape("не обрано (усі сповіщення зі звуком)"))
	} else {
		b.WriteString(Escape(strings.Join(selected, ", ")))
	}
	b.WriteString(ParagraphSeparator)
	b.WriteString(Escape("Натисни на чергу, щоб додати або прибрати її."))
	return Message{Body: b.String(), Dialect: DialectMarkdownV2}
}

// NoData is shown by /latest before the first successful fetch.
func (c Composer) NoData() Message {
	return Message{Body: Escape("Ще немає даних. Спробуй трохи пізніше."), Dialect: DialectMarkdownV2}
}

// Unknown answers an unrecognized command in a private chat.
func (c Composer) Unknown() Message {
	return Message{Body: "Невідома команда. Спробуй /help", Dialect: DialectPlain}
}

// Busy is shown when the bot cannot take another request right now.
func (c Composer) Busy() Message {
	return Message{Body: "Бот зайнятий, спробуй ще раз за хвилину", Dialect: DialectPlain}
}
