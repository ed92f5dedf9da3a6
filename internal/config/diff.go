package config

import (
	"reflect"
	"sort"
	"strings"

	logx "outagebot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Tokens are reported only as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	tokenChanged := ot.Token != nt.Token
	ot.Token, nt.Token = "", ""
	if tokenChanged || ot != nt {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", tokenChanged),
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.String("telegram.send_timeout", strings.TrimSpace(nt.SendTimeout)),
			logx.Any("telegram.send_rate_per_sec", nt.SendRatePerSec),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert_enabled", newCfg.Logging.Alert.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_changed", oldCfg.Storage.Path != newCfg.Storage.Path),
		)
	}

	if oldCfg.Provider != newCfg.Provider {
		changed = append(changed, "provider")
		attrs = append(attrs, logx.String("provider.name", newCfg.Provider.Name))
	}

	if !reflect.DeepEqual(oldCfg.Schedule, newCfg.Schedule) {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.Bool("schedule.enabled", newCfg.Schedule.IsEnabled()),
			logx.String("schedule.spec", strings.TrimSpace(newCfg.Schedule.Spec)),
			logx.String("schedule.timezone", strings.TrimSpace(newCfg.Schedule.Timezone)),
		)
	}

	if oldCfg.Fanout != newCfg.Fanout {
		changed = append(changed, "fanout")
		attrs = append(attrs,
			logx.Int("fanout.workers", newCfg.Fanout.Workers),
			logx.Int("fanout.prune_threshold", newCfg.Fanout.PruneThreshold),
		)
	}

	if oldCfg.Router != newCfg.Router {
		changed = append(changed, "router")
		attrs = append(attrs,
			logx.Int("router.workers", newCfg.Router.Workers),
			logx.Int("router.queue_size", newCfg.Router.QueueSize),
		)
	}

	oo, no := oldCfg.Ops, newCfg.Ops
	opsTokenChanged := oo.Token != no.Token
	oo.Token, no.Token = "", ""
	if opsTokenChanged || oo != no {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", no.Enabled),
			logx.String("ops.addr", strings.TrimSpace(no.Addr)),
			logx.Bool("ops.pprof", no.Pprof),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
		)
	}

	if oldCfg.Texts != newCfg.Texts {
		changed = append(changed, "texts")
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that are only read at startup.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "storage", "provider", "router", "texts":
			out = append(out, s)
		}
	}
	return out
}
