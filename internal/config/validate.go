package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"outagebot/internal/task/scheduler"
)

var ErrInvalid = errors.New("invalid config")

var knownLevels = map[string]bool{
	"": true, "trace": true, "debug": true, "info": true,
	"warn": true, "warning": true, "error": true,
}

// Validate rejects configs that would fail at runtime. It is the default
// ConfigManager validator, so a bad hot reload keeps the previous config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: empty", ErrInvalid)
	}
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
	}

	durations := []struct{ key, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"telegram.send_timeout", cfg.Telegram.SendTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"provider.timeout", cfg.Provider.Timeout},
		{"schedule.timeout", cfg.Schedule.Timeout},
		{"router.command_timeout", cfg.Router.CommandTimeout},
		{"ops.fetch_min_interval", cfg.Ops.FetchMinInterval},
		{"ops.read_timeout", cfg.Ops.ReadTimeout},
		{"ops.write_timeout", cfg.Ops.WriteTimeout},
		{"ops.idle_timeout", cfg.Ops.IdleTimeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.key, d.raw); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}

	if cfg.Telegram.SendRatePerSec < 0 {
		return fail("telegram.send_rate_per_sec must be >= 0")
	}
	if u := strings.TrimSpace(cfg.Telegram.APIURL); u != "" {
		if err := checkURL(u); err != nil {
			return fail("telegram.api_url: %v", err)
		}
	}

	if !knownLevels[strings.ToLower(strings.TrimSpace(cfg.Logging.Level))] {
		return fail("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		return fail("logging.file.path is required when logging.file.enabled")
	}
	if a := cfg.Logging.Alert; a.Enabled {
		if a.ChatID == 0 {
			return fail("logging.alert.chat_id is required when logging.alert.enabled")
		}
		if !knownLevels[strings.ToLower(strings.TrimSpace(a.MinLevel))] {
			return fail("logging.alert.min_level: unknown level %q", a.MinLevel)
		}
		if a.RatePerSec < 0 {
			return fail("logging.alert.rate_per_sec must be >= 0")
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
	default:
		return fail("unknown storage.driver: %s", cfg.Storage.Driver)
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return fail("storage.path is required")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Provider.Name)) {
	case "", "zakarpattia":
	default:
		return fail("unknown provider.name: %s", cfg.Provider.Name)
	}
	if u := strings.TrimSpace(cfg.Provider.BaseURL); u != "" {
		if err := checkURL(u); err != nil {
			return fail("provider.base_url: %v", err)
		}
	}

	if spec := strings.TrimSpace(cfg.Schedule.Spec); spec != "" {
		if _, err := scheduler.ParseSchedule(spec); err != nil {
			return fail("schedule.spec: %v", err)
		}
	}
	if tz := strings.TrimSpace(cfg.Schedule.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fail("schedule.timezone: invalid %q: %v", tz, err)
		}
	}
	if cfg.Schedule.HistorySize < 0 {
		return fail("schedule.history_size must be >= 0")
	}

	if cfg.Fanout.Workers < 0 {
		return fail("fanout.workers must be >= 0")
	}
	if cfg.Fanout.PruneThreshold < 0 {
		return fail("fanout.prune_threshold must be >= 0")
	}
	if cfg.Router.Workers < 0 {
		return fail("router.workers must be >= 0")
	}
	if cfg.Router.QueueSize < 0 {
		return fail("router.queue_size must be >= 0")
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
