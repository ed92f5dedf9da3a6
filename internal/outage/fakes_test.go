package outage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// memLog is an in-memory SnapshotLookup for detector tests.
type memLog struct {
	mu    sync.Mutex
	rows  []Snapshot
	err   error
	calls int
}

func (m *memLog) add(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, s)
}

func (m *memLog) MostRecentBefore(_ context.Context, provider string, before time.Time) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var best *Snapshot
	for i := range m.rows {
		r := m.rows[i]
		if r.Provider != provider || !r.FetchedAt.Before(before) {
			continue
		}
		if best == nil || r.FetchedAt.After(best.FetchedAt) {
			cp := r
			best = &cp
		}
	}
	return best, nil
}

func (m *memLog) MostRecent(ctx context.Context, provider string) (*Snapshot, error) {
	return m.MostRecentBefore(ctx, provider, time.Unix(1<<40, 0))
}

type fakeRegistry struct {
	mu        sync.Mutex
	subs      []Subscriber
	listErr   error
	removeErr error
	removed   []Target
}

func (r *fakeRegistry) AllSubscribers(context.Context) ([]Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	return append([]Subscriber(nil), r.subs...), nil
}

func (r *fakeRegistry) RemoveDeliveryTarget(_ context.Context, t Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removeErr != nil {
		return r.removeErr
	}
	r.removed = append(r.removed, t)
	return nil
}

type sentRecord struct {
	ChatID int64
	Body   string
	Silent bool
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []sentRecord
	errFor map[int64]error
	onSend func(chatID int64)
}

func (s *fakeSender) Send(_ context.Context, to Target, msg Message, silent bool) (Receipt, error) {
	if s.onSend != nil {
		s.onSend(to.ChatID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errFor[to.ChatID]; err != nil {
		return Receipt{}, err
	}
	s.sent = append(s.sent, sentRecord{ChatID: to.ChatID, Body: msg.Body, Silent: silent})
	return Receipt{MessageID: len(s.sent), SentAt: time.Now()}, nil
}

func (s *fakeSender) records() []sentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]sentRecord(nil), s.sent...)
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}

var errBlocked = errors.New("telegram: Forbidden: bot was blocked by the user (403)")

func sub(id int64, groups ...string) Subscriber {
	return Subscriber{
		ID:             id,
		InterestGroups: groups,
		Targets:        []Target{{ChatID: id * 10, RegisteredAt: time.Unix(id, 0)}},
	}
}
