package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "5m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Provider ProviderConfig `json:"provider"`
	Schedule ScheduleConfig `json:"schedule"`
	Fanout   FanoutConfig   `json:"fanout"`
	Router   RouterConfig   `json:"router"`
	Ops      OpsConfig      `json:"ops,omitempty"`
	Texts    TextsConfig    `json:"texts,omitempty"`
}

type TelegramConfig struct {
	// Token is usually supplied via OUTAGEBOT_TELEGRAM_TOKEN (do not log).
	Token string `json:"token,omitempty"`
	// APIURL overrides the Bot API endpoint (self-hosted bot API server).
	APIURL         string  `json:"api_url,omitempty"`
	PollTimeout    string  `json:"poll_timeout,omitempty"`
	SendTimeout    string  `json:"send_timeout,omitempty"`
	SendRatePerSec float64 `json:"send_rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert forwards warnings and errors to an operator chat.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the snapshot log and subscriber registry.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./outagebot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// ProviderConfig selects the publisher that is polled.
type ProviderConfig struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// ScheduleConfig controls the periodic fetch.
//
// Enabled is a pointer so an omitted key keeps the default (enabled) and an
// explicit false disables polling.
type ScheduleConfig struct {
	Enabled     *bool  `json:"enabled,omitempty"`
	Spec        string `json:"spec"`
	Timeout     string `json:"timeout,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	RunOnStart  bool   `json:"run_on_start,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
}

// IsEnabled reports the effective enabled flag.
func (s ScheduleConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// FanoutConfig tunes delivery and duplicate pruning.
type FanoutConfig struct {
	Workers        int `json:"workers,omitempty"`
	PruneThreshold int `json:"prune_threshold,omitempty"`
}

type RouterConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	CommandTimeout string `json:"command_timeout,omitempty"`
}

// OpsConfig controls the operator HTTP server.
//
// Security note:
//   - Prefer binding to localhost (default "127.0.0.1:8085").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled          bool   `json:"enabled"`
	Addr             string `json:"addr,omitempty"`
	Token            string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure    bool   `json:"allow_insecure,omitempty"`
	Pprof            bool   `json:"pprof,omitempty"`
	FetchMinInterval string `json:"fetch_min_interval,omitempty"`

	// WriteTimeout defaults to 0 (disabled) so /debug/pprof/profile works.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

// TextsConfig overrides the localized strings of outgoing messages.
type TextsConfig struct {
	Header        string `json:"header,omitempty"`
	ProviderTitle string `json:"provider_title,omitempty"`
}
