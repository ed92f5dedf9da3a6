package app

import (
	"context"
	"strings"

	"outagebot/internal/config"
	logx "outagebot/pkg/logx"
)

// reloadLoop applies published configs until ctx ends. Bursts are coalesced
// so only the newest config is applied.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			if next == nil {
				continue
			}
			a.sd.reloading()
			a.applyConfig(ctx, last, next)
			a.sd.ready()
			last = next
		}
	}
}

// applyConfig pushes the live-tunable parts of next into running components.
// Sections that are only read at startup are reported once.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	if prev == nil {
		prev = &config.Config{}
	}
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	restart := config.RestartRequired(sections)
	if prev.Telegram.Token != next.Telegram.Token ||
		prev.Telegram.APIURL != next.Telegram.APIURL ||
		prev.Telegram.PollTimeout != next.Telegram.PollTimeout ||
		prev.Telegram.SendTimeout != next.Telegram.SendTimeout {
		restart = append(restart, "telegram")
	}
	if len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.Strings("sections", restart))
	}

	if a.logs != nil {
		a.logs.Apply(mapLogging(next))
	}
	if a.adapter != nil {
		a.adapter.SetSendRate(next.Telegram.SendRatePerSec)
	}
	a.fanout.Apply(mapFanout(next))
	a.pipe.SetPrunePolicy(mapPrune(next))

	if ss, err := mapSchedule(next); err != nil {
		a.log.Warn("invalid schedule config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(ss.service)
		// re-adding resets the overlap guard, so only do it on a real change
		if old, err := mapSchedule(prev); err != nil || old.spec != ss.spec || old.timeout != ss.timeout {
			if err := a.sched.AddSchedule(a.schedName, ss.spec, ss.timeout, a.runScheduled); err != nil {
				a.log.Warn("reschedule failed", logx.Err(err))
			} else {
				a.log.Info("fetch rescheduled", logx.String("spec", ss.spec), logx.Duration("timeout", ss.timeout))
			}
		}
	}

	if oc, err := mapOps(next); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else if err := a.ops.Reconfigure(ctx, oc); err != nil {
		a.log.Warn("ops reconfigure failed", logx.Err(err))
	}

	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
}
