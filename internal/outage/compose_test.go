package outage

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestEscape(t *testing.T) {
	if got := Escape("a.b-c"); got != `a\.b\-c` {
		t.Fatalf("Escape=%q", got)
	}
	if got := Escape("Черга 3-1 (з 10:00)!"); got != `Черга 3\-1 \(з 10:00\)\!` {
		t.Fatalf("Escape=%q", got)
	}
}

func TestEscapeRoundTrip(t *testing.T) {
	for _, s := range []string{
		"",
		"plain text",
		"_*[]()~`>#+-=|{}.!",
		"Чергу 3-1 та 5-2 вимкнено з 08:00 до 12:00.",
	} {
		if got := Unescape(Escape(s)); got != s {
			t.Fatalf("round trip %q -> %q", s, got)
		}
	}
}

func TestComposeChangePartialHasNoHeader(t *testing.T) {
	prev := NewSnapshot("Zakarpattia", "u", "Para A\n\nPara B", t0)
	ev := Diff(NewSnapshot("Zakarpattia", "u", "Para A\n\nPara B\n\nPara C", t0.Add(time.Minute)), &prev)

	msg, err := DefaultComposer.ComposeChange(ev)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if msg.Body != "Para C" {
		t.Fatalf("body=%q", msg.Body)
	}
	if msg.Dialect != DialectMarkdownV2 || msg.Sound != SoundUndetermined {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestComposeChangeFirstObservationHasHeader(t *testing.T) {
	ev := Diff(NewSnapshot("Zakarpattia", "u", "Черга 1-1.\n\nЧерга 2-2.", t0), nil)

	msg, err := DefaultComposer.ComposeChange(ev)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	want := "*Актуальна інформація*\n\nЧерга 1\\-1\\.\n\nЧерга 2\\-2\\."
	if msg.Body != want {
		t.Fatalf("body=%q want %q", msg.Body, want)
	}
}

func TestComposeChangeNothingToSend(t *testing.T) {
	prev := NewSnapshot("Zakarpattia", "u", "Para A\n\nPara B", t0)
	ev := Diff(NewSnapshot("Zakarpattia", "u", "Para B", t0.Add(time.Minute)), &prev)
	if !ev.Changed {
		t.Fatalf("removal should still be a change")
	}
	if _, err := DefaultComposer.ComposeChange(ev); !errors.Is(err, ErrNothingToSend) {
		t.Fatalf("expected ErrNothingToSend, got %v", err)
	}
}

func TestComposeLatest(t *testing.T) {
	msg, err := DefaultComposer.ComposeLatest(NewSnapshot("Zakarpattia", "u", "Para A", t0))
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if !strings.HasPrefix(msg.Body, "*Актуальна інформація*") || !strings.HasSuffix(msg.Body, "Para A") {
		t.Fatalf("body=%q", msg.Body)
	}
}

func TestNewMessageValidates(t *testing.T) {
	if _, err := NewMessage("  ", DialectMarkdownV2); err == nil {
		t.Fatalf("expected error for empty body")
	}
	if _, err := NewMessage("x", Dialect("HTML5")); err == nil {
		t.Fatalf("expected error for unknown dialect")
	}
	if _, err := NewMessage("x", DialectPlain); err != nil {
		t.Fatalf("plain: %v", err)
	}
}

func TestScreensAreEscaped(t *testing.T) {
	c := DefaultComposer
	for name, m := range map[string]Message{
		"welcome": c.Welcome(),
		"menu":    c.GroupsMenu([]string{"1-1", "3-2"}),
		"empty":   c.GroupsMenu(nil),
		"nodata":  c.NoData(),
	} {
		if strings.Contains(strings.ReplaceAll(m.Body, `\.`, ""), ".") {
			t.Fatalf("%s has unescaped dot: %q", name, m.Body)
		}
		if m.Dialect != DialectMarkdownV2 {
			t.Fatalf("%s dialect=%q", name, m.Dialect)
		}
	}
	if !strings.Contains(c.GroupsMenu([]string{"1-1", "3-2"}).Body, `1\-1, 3\-2`) {
		t.Fatalf("menu does not list selection")
	}
}
