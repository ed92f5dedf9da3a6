package outage

import (
	"context"
	"time"
)

// RawContent is what a Fetcher hands back before it becomes a Snapshot.
type RawContent struct {
	SourceURL string
	Text      string
	Metadata  map[string]string
}

// Fetcher supplies the current provider content.
type Fetcher interface {
	Fetch(ctx context.Context, provider string) (RawContent, error)
}

// SnapshotLookup is the read side of the snapshot log used by the Detector.
type SnapshotLookup interface {
	MostRecentBefore(ctx context.Context, provider string, before time.Time) (*Snapshot, error)
	MostRecent(ctx context.Context, provider string) (*Snapshot, error)
}

// PrunePolicy bounds the rows kept for one (provider, content hash) group.
type PrunePolicy struct {
	KeepOldest bool
	KeepNewest bool
	Threshold  int
}

// DefaultPrunePolicy keeps first-seen and last-seen rows once a hash repeats
// more than five times.
var DefaultPrunePolicy = PrunePolicy{KeepOldest: true, KeepNewest: true, Threshold: 5}

// SnapshotStore is the append-only snapshot log.
type SnapshotStore interface {
	SnapshotLookup
	Append(ctx context.Context, s Snapshot) (Snapshot, error)
	PruneDuplicates(ctx context.Context, provider, contentHash string, policy PrunePolicy) (int64, error)
}

// Target is one delivery destination (a chat).
type Target struct {
	ChatID       int64
	RegisteredAt time.Time
}

// Subscriber is a registered recipient with its delivery targets ordered
// most recently registered first.
type Subscriber struct {
	ID             int64
	Username       string
	InterestGroups []string
	Targets        []Target
}

// MostRecentTarget returns the target messages should go to.
func (s Subscriber) MostRecentTarget() (Target, bool) {
	if len(s.Targets) == 0 {
		return Target{}, false
	}
	best := s.Targets[0]
	for _, t := range s.Targets[1:] {
		if t.RegisteredAt.After(best.RegisteredAt) {
			best = t
		}
	}
	return best, true
}

// SubscriberRegistry lists subscribers and forgets dead targets.
type SubscriberRegistry interface {
	AllSubscribers(ctx context.Context) ([]Subscriber, error)
	RemoveDeliveryTarget(ctx context.Context, t Target) error
}

// Receipt acknowledges a delivered message.
type Receipt struct {
	MessageID int
	SentAt    time.Time
}

// Sender delivers one message to one target. Implementations enforce their own
// timeout and return errors wrapping ErrTargetInvalid for permanently dead targets.
type Sender interface {
	Send(ctx context.Context, to Target, msg Message, silent bool) (Receipt, error)
}

// Clock stamps fetchedAt.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }
