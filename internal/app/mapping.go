package app

import (
	"fmt"
	"strings"
	"time"

	"outagebot/internal/config"
	"outagebot/internal/observability/ops"
	"outagebot/internal/outage"
	"outagebot/internal/provider/zakarpattia"
	"outagebot/internal/storage"
	"outagebot/internal/task/scheduler"
	telegram "outagebot/internal/transport/telegram/adapter"
	"outagebot/internal/transport/telegram/router"
	logx "outagebot/pkg/logx"
)

const (
	defaultScheduleSpec = "@every 5m"
	defaultRunTimeout   = 2 * time.Minute
	defaultBusyTimeout  = 5 * time.Second
)

func scheduleName(provider string) string {
	return "fetch." + strings.ToLower(provider)
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, fmt.Errorf("storage.path is required")
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		driver = "sqlite"
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
}

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alert: logx.AlertConfig{
			Enabled:    l.Alert.Enabled,
			ChatID:     l.Alert.ChatID,
			MinLevel:   l.Alert.MinLevel,
			RatePerSec: l.Alert.RatePerSec,
		},
	}
}

func mapTelegram(cfg *config.Config) (telegram.Config, error) {
	t := cfg.Telegram
	poll, err := config.ParseDurationField("telegram.poll_timeout", t.PollTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	send, err := config.ParseDurationField("telegram.send_timeout", t.SendTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:          strings.TrimSpace(t.Token),
		APIURL:         strings.TrimSpace(t.APIURL),
		PollTimeout:    poll,
		SendTimeout:    send,
		SendRatePerSec: t.SendRatePerSec,
	}, nil
}

// mapProvider builds the fetcher for the configured publisher and returns the
// provider key snapshots are stored under.
func mapProvider(cfg *config.Config, log logx.Logger) (outage.Fetcher, string, error) {
	timeout, err := config.ParseDurationField("provider.timeout", cfg.Provider.Timeout)
	if err != nil {
		return nil, "", err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider.Name)) {
	case "", "zakarpattia":
		f := zakarpattia.New(zakarpattia.Options{
			BaseURL: strings.TrimSpace(cfg.Provider.BaseURL),
			Timeout: timeout,
			Log:     log,
		})
		return f, zakarpattia.ProviderName, nil
	default:
		return nil, "", fmt.Errorf("unknown provider.name: %s", cfg.Provider.Name)
	}
}

type scheduleSettings struct {
	service scheduler.Config
	spec    string
	timeout time.Duration
}

func mapSchedule(cfg *config.Config) (scheduleSettings, error) {
	s := cfg.Schedule
	spec := strings.TrimSpace(s.Spec)
	if spec == "" {
		spec = defaultScheduleSpec
	}
	if _, err := scheduler.ParseSchedule(spec); err != nil {
		return scheduleSettings{}, fmt.Errorf("schedule.spec: %w", err)
	}
	timeout, err := config.ParseDurationOrDefault("schedule.timeout", s.Timeout, defaultRunTimeout)
	if err != nil {
		return scheduleSettings{}, err
	}
	return scheduleSettings{
		service: scheduler.Config{
			Enabled:     s.IsEnabled(),
			Timezone:    strings.TrimSpace(s.Timezone),
			HistorySize: s.HistorySize,
		},
		spec:    spec,
		timeout: timeout,
	}, nil
}

func mapFanout(cfg *config.Config) outage.FanoutConfig {
	return outage.FanoutConfig{Workers: cfg.Fanout.Workers}
}

func mapPrune(cfg *config.Config) outage.PrunePolicy {
	p := outage.DefaultPrunePolicy
	if cfg.Fanout.PruneThreshold > 0 {
		p.Threshold = cfg.Fanout.PruneThreshold
	}
	return p
}

func mapComposer(cfg *config.Config) outage.Composer {
	c := outage.DefaultComposer
	if h := strings.TrimSpace(cfg.Texts.Header); h != "" {
		c.Header = h
	}
	if t := strings.TrimSpace(cfg.Texts.ProviderTitle); t != "" {
		c.ProviderTitle = t
	}
	return c
}

func mapRouter(cfg *config.Config, provider string) (router.Config, error) {
	timeout, err := config.ParseDurationField("router.command_timeout", cfg.Router.CommandTimeout)
	if err != nil {
		return router.Config{}, err
	}
	return router.Config{
		Provider:       provider,
		Workers:        cfg.Router.Workers,
		QueueSize:      cfg.Router.QueueSize,
		CommandTimeout: timeout,
	}, nil
}

func mapOps(cfg *config.Config) (ops.Config, error) {
	o := cfg.Ops
	var (
		out ops.Config
		err error
	)
	out.Enabled = o.Enabled
	out.Addr = strings.TrimSpace(o.Addr)
	out.Token = strings.TrimSpace(o.Token)
	out.AllowInsecure = o.AllowInsecure
	out.Pprof = o.Pprof
	out.MutexProfileFraction = o.MutexProfileFraction
	out.BlockProfileRate = o.BlockProfileRate
	if out.FetchMinInterval, err = config.ParseDurationField("ops.fetch_min_interval", o.FetchMinInterval); err != nil {
		return ops.Config{}, err
	}
	if out.ReadTimeout, err = config.ParseDurationOrDefault("ops.read_timeout", o.ReadTimeout, 10*time.Second); err != nil {
		return ops.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("ops.write_timeout", o.WriteTimeout); err != nil {
		return ops.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("ops.idle_timeout", o.IdleTimeout, 60*time.Second); err != nil {
		return ops.Config{}, err
	}
	return out, nil
}
