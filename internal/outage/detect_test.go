package outage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

var t0 = time.Date(2026, 1, 21, 9, 0, 0, 0, time.UTC)

func TestEvaluateFirstObservation(t *testing.T) {
	log := &memLog{}
	cur := NewSnapshot("Zakarpattia", "u", "Para A\n\nPara B\n\nPara A", t0)

	ev, err := NewDetector(log).Evaluate(context.Background(), cur)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !ev.Changed || !ev.FirstObservation() {
		t.Fatalf("first observation must be a change: %+v", ev)
	}
	if want := []string{"Para A", "Para B"}; !reflect.DeepEqual(ev.Added, want) {
		t.Fatalf("added=%q want %q", ev.Added, want)
	}
}

func TestEvaluateUnchanged(t *testing.T) {
	log := &memLog{}
	log.add(NewSnapshot("Zakarpattia", "u", "Para A\n\nPara B", t0))
	cur := NewSnapshot("Zakarpattia", "u", "Para A\n\nPara B", t0.Add(5*time.Minute))

	ev, err := NewDetector(log).Evaluate(context.Background(), cur)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if ev.Changed {
		t.Fatalf("identical content must not be a change")
	}
	if len(ev.Added) != 0 {
		t.Fatalf("added=%q", ev.Added)
	}
}

func TestEvaluateAddedParagraph(t *testing.T) {
	log := &memLog{}
	log.add(NewSnapshot("Zakarpattia", "u", "Para A\n\nPara B", t0))
	cur := NewSnapshot("Zakarpattia", "u", "Para A\n\nPara B\n\nPara C", t0.Add(time.Minute))

	ev, err := NewDetector(log).Evaluate(context.Background(), cur)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !ev.Changed || ev.FirstObservation() || ev.AddsEverything() {
		t.Fatalf("unexpected flags: %+v", ev)
	}
	if want := []string{"Para C"}; !reflect.DeepEqual(ev.Added, want) {
		t.Fatalf("added=%q want %q", ev.Added, want)
	}
}

func TestEvaluateIgnoresOtherProvidersAndLaterRows(t *testing.T) {
	log := &memLog{}
	log.add(NewSnapshot("Other", "u", "Para X", t0.Add(-time.Minute)))
	log.add(NewSnapshot("Zakarpattia", "u", "Para A", t0.Add(-time.Minute)))
	// Appended by the run under evaluation: fetchedAt equal, must not count as previous.
	log.add(NewSnapshot("Zakarpattia", "u", "Para A\n\nPara B", t0))
	log.add(NewSnapshot("Zakarpattia", "u", "Para Z", t0.Add(time.Hour)))

	cur := NewSnapshot("Zakarpattia", "u", "Para A\n\nPara B", t0)
	ev, err := NewDetector(log).Evaluate(context.Background(), cur)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if ev.Previous == nil || ev.Previous.Content != "Para A" {
		t.Fatalf("previous=%+v", ev.Previous)
	}
	if want := []string{"Para B"}; !reflect.DeepEqual(ev.Added, want) {
		t.Fatalf("added=%q want %q", ev.Added, want)
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	log := &memLog{}
	log.add(NewSnapshot("Zakarpattia", "u", "Para A\n\nPara B", t0))
	cur := NewSnapshot("Zakarpattia", "u", "Para B\n\nPara D\n\nPara D\n\nPara E", t0.Add(time.Minute))
	d := NewDetector(log)

	first, err := d.Evaluate(context.Background(), cur)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	second, err := d.Evaluate(context.Background(), cur)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("evaluate is not idempotent:\n%+v\n%+v", first, second)
	}
	if want := []string{"Para D", "Para E"}; !reflect.DeepEqual(first.Added, want) {
		t.Fatalf("added=%q want %q", first.Added, want)
	}
}

func TestEvaluateLookupFailureIsPersistenceError(t *testing.T) {
	log := &memLog{err: errors.New("database is locked")}
	_, err := NewDetector(log).Evaluate(context.Background(), NewSnapshot("Zakarpattia", "u", "Para A", t0))
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}

func TestAddedParagraphs(t *testing.T) {
	cases := []struct {
		name string
		prev *Snapshot
		cur  string
		want []string
	}{
		{"nil previous", nil, "A\n\nB", []string{"A", "B"}},
		{"empty previous", &Snapshot{Content: ""}, "A\n\nB\n\nA", []string{"A", "B"}},
		{"reordered only", &Snapshot{Content: "A\n\nB"}, "B\n\nA", []string{}},
		{"removal only", &Snapshot{Content: "A\n\nB"}, "A", []string{}},
		{"set difference not positional", &Snapshot{Content: "A\n\nB\n\nC"}, "C\n\nX\n\nA\n\nX", []string{"X"}},
		{"edited paragraph is new", &Snapshot{Content: "Черга 3-1 з 10:00"}, "Черга 3-1 з 11:00", []string{"Черга 3-1 з 11:00"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := AddedParagraphs(NewSnapshot("p", "u", tc.cur, t0), tc.prev)
			if len(got) == 0 && len(tc.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("added=%q want %q", got, tc.want)
			}
		})
	}
}

func TestAddsEverything(t *testing.T) {
	prev := NewSnapshot("p", "u", "Old", t0)
	ev := Diff(NewSnapshot("p", "u", "New 1\n\nNew 2\n\nNew 1", t0.Add(time.Minute)), &prev)
	if !ev.AddsEverything() {
		t.Fatalf("fully replaced content should add everything: %+v", ev)
	}
	ev = Diff(NewSnapshot("p", "u", "Old\n\nNew", t0.Add(time.Minute)), &prev)
	if ev.AddsEverything() {
		t.Fatalf("partial change must not add everything")
	}
}
