package outage

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestNewSnapshotHashMatchesContent(t *testing.T) {
	at := time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC)
	for _, content := range []string{"", "Para A", "Para A\n\nPara B", "Чергу 3-1 вимкнено"} {
		s := NewSnapshot("Zakarpattia", "https://example.test", content, at)
		if s.ContentHash != Digest(content) {
			t.Fatalf("hash mismatch for %q", content)
		}
		if len(s.ContentHash) != 64 {
			t.Fatalf("hash should be sha256 hex, got %q", s.ContentHash)
		}
	}
	if Digest("a") == Digest("b") {
		t.Fatalf("different content must hash differently")
	}
}

func TestRestoreSnapshotRejectsForeignHash(t *testing.T) {
	at := time.Unix(100, 0)
	s, err := RestoreSnapshot(7, "Zakarpattia", "u", "Para A", Digest("Para A"), at, nil)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if s.ID != 7 || s.ContentHash != Digest("Para A") {
		t.Fatalf("unexpected snapshot %+v", s)
	}
	_, err = RestoreSnapshot(8, "Zakarpattia", "u", "Para A", Digest("Para B"), at, nil)
	if !errors.Is(err, ErrCorruptSnapshot) {
		t.Fatalf("expected ErrCorruptSnapshot, got %v", err)
	}
}

func TestSplitParagraphs(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"whitespace", " \n\n \t", nil},
		{"single", "Para A", []string{"Para A"}},
		{"two", "Para A\n\nPara B", []string{"Para A", "Para B"}},
		{"extra blank lines", "Para A\n\n\n\nPara B\n\n", []string{"Para A", "Para B"}},
		{"spaces on blank line", "Para A\n  \nPara B", []string{"Para A", "Para B"}},
		{"crlf", "Para A\r\n\r\nPara B", []string{"Para A", "Para B"}},
		{"single newline stays", "line 1\nline 2\n\nPara B", []string{"line 1\nline 2", "Para B"}},
		{"trimmed", "  Para A  \n\n\tPara B", []string{"Para A", "Para B"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SplitParagraphs(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("SplitParagraphs(%q)=%q want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestJoinParagraphsRoundTrip(t *testing.T) {
	ps := []string{"Para A", "Para B", "Para C"}
	if got := SplitParagraphs(JoinParagraphs(ps)); !reflect.DeepEqual(got, ps) {
		t.Fatalf("round trip=%q", got)
	}
}
