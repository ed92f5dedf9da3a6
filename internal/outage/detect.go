package outage

import (
	"context"
	"errors"
	"fmt"
)

// ChangeEvent is the outcome of comparing a snapshot with its predecessor.
// It is never persisted.
type ChangeEvent struct {
	Current  Snapshot
	Previous *Snapshot
	Added    []string
	Changed  bool
}

// FirstObservation reports whether there was no earlier snapshot to compare with.
func (e ChangeEvent) FirstObservation() bool { return e.Previous == nil }

// AddsEverything reports whether every current paragraph counts as new.
func (e ChangeEvent) AddsEverything() bool {
	if e.Previous == nil {
		return true
	}
	all := uniqueInOrder(e.Current.Paragraphs())
	if len(all) != len(e.Added) {
		return false
	}
	for i := range all {
		if all[i] != e.Added[i] {
			return false
		}
	}
	return true
}

// Detector decides whether a snapshot changed relative to the log.
type Detector struct {
	lookup SnapshotLookup
}

func NewDetector(lookup SnapshotLookup) *Detector {
	return &Detector{lookup: lookup}
}

// Evaluate compares current with the most recent snapshot of the same
// provider fetched strictly before it. An unchanged snapshot yields an event
// with Changed == false and no error.
func (d *Detector) Evaluate(ctx context.Context, current Snapshot) (ChangeEvent, error) {
	if d == nil || d.lookup == nil {
		return ChangeEvent{}, errors.New("detector is not initialized")
	}
	prev, err := d.lookup.MostRecentBefore(ctx, current.Provider, current.FetchedAt)
	if err != nil {
		return ChangeEvent{}, fmt.Errorf("%w: previous snapshot: %w", ErrPersistence, err)
	}
	return Diff(current, prev), nil
}

// Diff is the pure comparison behind Evaluate.
func Diff(current Snapshot, previous *Snapshot) ChangeEvent {
	ev := ChangeEvent{Current: current, Previous: previous}
	if previous != nil && previous.ContentHash == current.ContentHash {
		return ev
	}
	ev.Changed = true
	ev.Added = AddedParagraphs(current, previous)
	return ev
}

// AddedParagraphs returns the current paragraphs that appear nowhere in the
// previous snapshot, without repeats, in first-occurrence order.
func AddedParagraphs(current Snapshot, previous *Snapshot) []string {
	cur := current.Paragraphs()
	if previous == nil || previous.Empty() {
		return uniqueInOrder(cur)
	}
	seenBefore := make(map[string]struct{})
	for _, p := range previous.Paragraphs() {
		seenBefore[p] = struct{}{}
	}
	out := make([]string, 0, len(cur))
	emitted := make(map[string]struct{}, len(cur))
	for _, p := range cur {
		if _, ok := seenBefore[p]; ok {
			continue
		}
		if _, ok := emitted[p]; ok {
			continue
		}
		emitted[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func uniqueInOrder(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
