package outage

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "outagebot/pkg/logx"
)

// FanoutReport counts the outcome of one dispatch.
type FanoutReport struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Removed   int `json:"removed"`
	// Skipped counts subscribers without a target and subscribers that were
	// not attempted because the dispatch was cancelled.
	Skipped int `json:"skipped"`
}

// FanoutConfig tunes the delivery worker pool.
type FanoutConfig struct {
	Workers int
}

const defaultFanoutWorkers = 4

// Fanout delivers one message to every subscriber with per-subscriber
// failure isolation.
type Fanout struct {
	registry SubscriberRegistry
	sender   Sender
	log      logx.Logger

	workers atomic.Int32
}

func NewFanout(cfg FanoutConfig, registry SubscriberRegistry, sender Sender, log logx.Logger) *Fanout {
	if log.IsZero() {
		log = logx.Nop()
	}
	f := &Fanout{registry: registry, sender: sender, log: log}
	f.Apply(cfg)
	return f
}

// Apply updates the pool size for subsequent dispatches.
func (f *Fanout) Apply(cfg FanoutConfig) {
	n := cfg.Workers
	if n <= 0 {
		n = defaultFanoutWorkers
	}
	f.workers.Store(int32(n))
}

type delivery struct {
	sub    Subscriber
	target Target
}

// Dispatch sends msg to the most recent target of every subscriber. Sound is
// decided per subscriber against the unescaped body. Only a failure to list
// subscribers is returned as an error.
func (f *Fanout) Dispatch(ctx context.Context, ev ChangeEvent, msg Message) (FanoutReport, error) {
	start := time.Now()
	subs, err := f.registry.AllSubscribers(ctx)
	if err != nil {
		return FanoutReport{}, fmt.Errorf("%w: list subscribers: %w", ErrPersistence, err)
	}

	var delivered, failed, removed, skipped atomic.Int64
	plain := Unescape(msg.Body)

	workers := int(f.workers.Load())
	if workers > len(subs) {
		workers = len(subs)
	}
	jobs := make(chan delivery)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for d := range jobs {
				if ctx.Err() != nil {
					skipped.Add(1)
					continue
				}
				switch f.deliver(ctx, d, msg, plain) {
				case outcomeDelivered:
					delivered.Add(1)
				case outcomeRemoved:
					failed.Add(1)
					removed.Add(1)
				default:
					failed.Add(1)
				}
			}
		}(i)
	}

feed:
	for i, s := range subs {
		t, ok := s.MostRecentTarget()
		if !ok {
			skipped.Add(1)
			continue
		}
		select {
		case jobs <- delivery{sub: s, target: t}:
		case <-ctx.Done():
			skipped.Add(int64(len(subs) - i))
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	rep := FanoutReport{
		Delivered: int(delivered.Load()),
		Failed:    int(failed.Load()),
		Removed:   int(removed.Load()),
		Skipped:   int(skipped.Load()),
	}
	fields := []logx.Field{
		logx.String("provider", ev.Current.Provider),
		logx.Int("subscribers", len(subs)),
		logx.Int("delivered", rep.Delivered),
		logx.Int("failed", rep.Failed),
		logx.Int("removed", rep.Removed),
		logx.Int("skipped", rep.Skipped),
		logx.Duration("dur", time.Since(start)),
	}
	if rep.Failed > 0 {
		f.log.Warn("fanout finished with failures", fields...)
	} else {
		f.log.Info("fanout finished", fields...)
	}
	return rep, nil
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeDelivered
	outcomeRemoved
)

func (f *Fanout) deliver(ctx context.Context, d delivery, msg Message, plain string) (res outcome) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("panic in fanout delivery", logx.Int64("chat_id", d.target.ChatID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			res = outcomeFailed
		}
	}()

	silent := len(d.sub.InterestGroups) > 0 && !HasAnyInterestedGroup(plain, d.sub.InterestGroups)
	m := msg
	m.Sound = SoundAudible
	if silent {
		m.Sound = SoundSilent
	}

	_, err := f.sender.Send(ctx, d.target, m, silent)
	if err == nil {
		f.log.Debug("delivered", logx.Int64("user_id", d.sub.ID), logx.Int64("chat_id", d.target.ChatID), logx.Bool("silent", silent))
		return outcomeDelivered
	}

	if !errors.Is(err, ErrTargetInvalid) {
		f.log.Warn("delivery failed", logx.Int64("user_id", d.sub.ID), logx.Int64("chat_id", d.target.ChatID), logx.Err(err))
		return outcomeFailed
	}

	// The target is dead regardless of whether the run is being cancelled.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if rerr := f.registry.RemoveDeliveryTarget(rctx, d.target); rerr != nil {
		f.log.Error("remove invalid target failed", logx.Int64("chat_id", d.target.ChatID), logx.Err(rerr), logx.String("send_err", err.Error()))
		return outcomeFailed
	}
	f.log.Info("removed invalid delivery target", logx.Int64("user_id", d.sub.ID), logx.Int64("chat_id", d.target.ChatID), logx.Err(err))
	return outcomeRemoved
}
