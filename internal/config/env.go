package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "OUTAGEBOT"

// Env holds secrets and deployment-specific overrides that should not live in
// the config file. Empty values leave the file value untouched.
type Env struct {
	TelegramToken string `envconfig:"TELEGRAM_TOKEN"`
	StoragePath   string `envconfig:"STORAGE_PATH"`
	OpsToken      string `envconfig:"OPS_TOKEN"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ReadEnv reads the OUTAGEBOT_* variables.
func ReadEnv() (Env, error) {
	var e Env
	if err := envconfig.Process(EnvPrefix, &e); err != nil {
		return Env{}, err
	}
	return e, nil
}

// Apply overlays non-empty env values onto cfg.
func (e Env) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(e.TelegramToken); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(e.StoragePath); v != "" {
		cfg.Storage.Path = v
	}
	if v := strings.TrimSpace(e.OpsToken); v != "" {
		cfg.Ops.Token = v
	}
	if v := strings.TrimSpace(e.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
}
