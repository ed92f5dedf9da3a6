package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"outagebot/internal/eventbus"
	"outagebot/internal/outage"
	logx "outagebot/pkg/logx"
)

// Dispatcher delivers a composed message to subscribers.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev outage.ChangeEvent, msg outage.Message) (outage.FanoutReport, error)
}

// Report summarizes one run.
type Report struct {
	RunID      string              `json:"run_id"`
	Provider   string              `json:"provider"`
	SnapshotID int64               `json:"snapshot_id"`
	Changed    bool                `json:"changed"`
	Added      int                 `json:"added"`
	Fanout     outage.FanoutReport `json:"fanout"`
	Pruned     int64               `json:"pruned"`
	StartedAt  time.Time           `json:"started_at"`
	Took       time.Duration       `json:"took"`
	Err        string              `json:"error,omitempty"`
}

// Preview is the result of a run that neither persists nor sends.
type Preview struct {
	Snapshot outage.Snapshot
	Event    outage.ChangeEvent
	Message  *outage.Message
}

type Deps struct {
	Fetcher  outage.Fetcher
	Store    outage.SnapshotStore
	Fanout   Dispatcher
	Composer outage.Composer
	Bus      eventbus.Bus
	Clock    outage.Clock
	Prune    outage.PrunePolicy
	Log      logx.Logger
}

type Pipeline struct {
	fetcher  outage.Fetcher
	store    outage.SnapshotStore
	detector *outage.Detector
	fanout   Dispatcher
	composer outage.Composer
	bus      eventbus.Bus
	clock    outage.Clock
	prune    atomic.Pointer[outage.PrunePolicy]
	log      logx.Logger

	locks *keyedLock
	last  atomic.Pointer[Report]
}

func New(d Deps) (*Pipeline, error) {
	if d.Fetcher == nil {
		return nil, errors.New("pipeline: fetcher is required")
	}
	if d.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	if d.Fanout == nil {
		return nil, errors.New("pipeline: fanout is required")
	}
	if d.Clock == nil {
		d.Clock = outage.SystemClock{}
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Composer == (outage.Composer{}) {
		d.Composer = outage.DefaultComposer
	}
	p := &Pipeline{
		fetcher:  d.Fetcher,
		store:    d.Store,
		detector: outage.NewDetector(d.Store),
		fanout:   d.Fanout,
		composer: d.Composer,
		bus:      d.Bus,
		clock:    d.Clock,
		log:      d.Log,
		locks:    newKeyedLock(),
	}
	p.SetPrunePolicy(d.Prune)
	return p, nil
}

// SetPrunePolicy replaces the duplicate pruning policy for subsequent runs.
func (p *Pipeline) SetPrunePolicy(policy outage.PrunePolicy) {
	if policy == (outage.PrunePolicy{}) {
		policy = outage.DefaultPrunePolicy
	}
	p.prune.Store(&policy)
}

// PrunePolicy returns the policy applied by the next run.
func (p *Pipeline) PrunePolicy() outage.PrunePolicy { return *p.prune.Load() }

// Run executes one detection cycle. Runs for the same provider never overlap.
// A failed fetch persists nothing; a failed append or lookup aborts before any
// notification; prune failures are only logged.
func (p *Pipeline) Run(ctx context.Context, provider string) (Report, error) {
	rep := Report{RunID: uuid.NewString(), Provider: provider, StartedAt: time.Now()}
	log := p.log.With(logx.String("run_id", rep.RunID), logx.String("provider", provider))

	release, err := p.locks.acquire(ctx, provider)
	if err != nil {
		return p.finish(log, rep, fmt.Errorf("wait for running %s: %w", provider, err))
	}
	defer release()

	raw, err := p.fetcher.Fetch(ctx, provider)
	if err != nil {
		if !errors.Is(err, outage.ErrFetch) {
			err = fmt.Errorf("%w: %w", outage.ErrFetch, err)
		}
		return p.finish(log, rep, err)
	}
	if strings.TrimSpace(raw.Text) == "" {
		return p.finish(log, rep, fmt.Errorf("%w: empty text from %s", outage.ErrMalformedContent, provider))
	}

	snap := outage.NewSnapshot(provider, raw.SourceURL, raw.Text, p.clock.Now())
	snap.Metadata = raw.Metadata
	snap, err = p.store.Append(ctx, snap)
	if err != nil {
		return p.finish(log, rep, fmt.Errorf("%w: %w", outage.ErrPersistence, err))
	}
	rep.SnapshotID = snap.ID

	ev, err := p.detector.Evaluate(ctx, snap)
	if err != nil {
		return p.finish(log, rep, err)
	}
	rep.Changed = ev.Changed
	rep.Added = len(ev.Added)

	if ev.Changed {
		msg, cerr := p.composer.ComposeChange(ev)
		switch {
		case errors.Is(cerr, outage.ErrNothingToSend):
			log.Info("content changed without new paragraphs, nothing to send", logx.Int64("snapshot_id", snap.ID))
		case cerr != nil:
			log.Error("compose failed", logx.Err(cerr))
		default:
			fr, derr := p.fanout.Dispatch(ctx, ev, msg)
			rep.Fanout = fr
			if derr != nil {
				return p.finish(log, rep, derr)
			}
			p.publish(eventbus.TypeFanoutDone, fr)
		}
	}

	// Prune runs even if the caller gave up; the snapshot is already stored.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	pruned, perr := p.store.PruneDuplicates(pctx, provider, snap.ContentHash, *p.prune.Load())
	if perr != nil {
		log.Warn("prune duplicates failed", logx.Err(perr))
	}
	rep.Pruned = pruned

	return p.finish(log, rep, nil)
}

func (p *Pipeline) finish(log logx.Logger, rep Report, err error) (Report, error) {
	rep.Took = time.Since(rep.StartedAt)
	if err != nil {
		rep.Err = err.Error()
		log.Warn("run failed", logx.Err(err), logx.Duration("dur", rep.Took))
		p.publish(eventbus.TypeRunFailed, rep)
	} else {
		log.Info("run finished",
			logx.Int64("snapshot_id", rep.SnapshotID),
			logx.Bool("changed", rep.Changed),
			logx.Int("added", rep.Added),
			logx.Int("delivered", rep.Fanout.Delivered),
			logx.Int("failed", rep.Fanout.Failed),
			logx.Int64("pruned", rep.Pruned),
			logx.Duration("dur", rep.Took),
		)
		p.publish(eventbus.TypeRunFinished, rep)
	}
	r := rep
	p.last.Store(&r)
	return rep, err
}

func (p *Pipeline) publish(typ string, data any) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// LastReport returns the most recent run report, if any.
func (p *Pipeline) LastReport() (Report, bool) {
	r := p.last.Load()
	if r == nil {
		return Report{}, false
	}
	return *r, true
}

// Latest returns the most recent stored snapshot of provider (nil when none).
func (p *Pipeline) Latest(ctx context.Context, provider string) (*outage.Snapshot, error) {
	s, err := p.store.MostRecent(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("%w: latest snapshot: %w", outage.ErrPersistence, err)
	}
	return s, nil
}

// ComposeLatest renders the latest snapshot for display. ok is false when
// nothing has been fetched yet.
func (p *Pipeline) ComposeLatest(ctx context.Context, provider string) (msg outage.Message, ok bool, err error) {
	s, err := p.Latest(ctx, provider)
	if err != nil || s == nil {
		return outage.Message{}, false, err
	}
	msg, err = p.composer.ComposeLatest(*s)
	if errors.Is(err, outage.ErrNothingToSend) {
		return outage.Message{}, false, nil
	}
	return msg, err == nil, err
}

// DryRun fetches and evaluates against the stored log without persisting or sending.
func (p *Pipeline) DryRun(ctx context.Context, provider string) (Preview, error) {
	raw, err := p.fetcher.Fetch(ctx, provider)
	if err != nil {
		if !errors.Is(err, outage.ErrFetch) {
			err = fmt.Errorf("%w: %w", outage.ErrFetch, err)
		}
		return Preview{}, err
	}
	if strings.TrimSpace(raw.Text) == "" {
		return Preview{}, fmt.Errorf("%w: empty text from %s", outage.ErrMalformedContent, provider)
	}
	snap := outage.NewSnapshot(provider, raw.SourceURL, raw.Text, p.clock.Now())
	snap.Metadata = raw.Metadata

	ev, err := p.detector.Evaluate(ctx, snap)
	if err != nil {
		return Preview{}, err
	}
	pv := Preview{Snapshot: snap, Event: ev}
	if ev.Changed {
		msg, err := p.composer.ComposeChange(ev)
		if err == nil {
			pv.Message = &msg
		} else if !errors.Is(err, outage.ErrNothingToSend) {
			return pv, err
		}
	}
	return pv, nil
}

// PruneLatest prunes the duplicate group of the newest snapshot of provider.
func (p *Pipeline) PruneLatest(ctx context.Context, provider string) (int64, error) {
	s, err := p.Latest(ctx, provider)
	if err != nil || s == nil {
		return 0, err
	}
	n, err := p.store.PruneDuplicates(ctx, provider, s.ContentHash, *p.prune.Load())
	if err != nil {
		return 0, fmt.Errorf("%w: prune: %w", outage.ErrPersistence, err)
	}
	return n, nil
}
