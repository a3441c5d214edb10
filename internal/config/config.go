// Package config resolves the pipeline's runtime configuration. Three
// layers, later wins: built-in defaults, an optional survctl.yaml, and
// SURV_-prefixed environment variables.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment variable overrides. Double
// underscores separate nesting levels so key names keep their own
// underscores, e.g. SURV_PATHS__TOKEN_LEDGER=/srv/ledgers/tokens.yaml.
const EnvPrefix = "SURV_"

// Config is the resolved runtime configuration.
type Config struct {
	LogLevel string `koanf:"log_level"`

	Paths     PathsConfig     `koanf:"paths"`
	Alerting  AlertingConfig  `koanf:"alerting"`
	Directory DirectoryConfig `koanf:"directory"`
}

// PathsConfig locates every file and directory the pipeline touches.
type PathsConfig struct {
	TokenLedger   string `koanf:"token_ledger"`
	AgentLedger   string `koanf:"agent_ledger"`
	ProductLedger string `koanf:"product_ledger"`
	Policy        string `koanf:"policy"`
	Ops           string `koanf:"ops"`
	Reports       string `koanf:"reports"`
	AlertLog      string `koanf:"alert_log"`
	AlertIndex    string `koanf:"alert_index"`
	Members       string `koanf:"members"`
}

// AlertingConfig configures alert delivery.
type AlertingConfig struct {
	WebhookURL     string            `koanf:"webhook_url"`
	WebhookHeaders map[string]string `koanf:"webhook_headers"`
}

// DirectoryConfig configures the member directory sync source.
type DirectoryConfig struct {
	URL   string `koanf:"url"`
	Token string `koanf:"token"`
}

// Default returns the built-in configuration rooted at dir.
func Default(dir string) *Config {
	return &Config{
		LogLevel: "info",
		Paths: PathsConfig{
			TokenLedger:   filepath.Join(dir, "ledgers", "tokens.yaml"),
			AgentLedger:   filepath.Join(dir, "ledgers", "agents.yaml"),
			ProductLedger: filepath.Join(dir, "ledgers", "products.yaml"),
			Policy:        filepath.Join(dir, "policy.yaml"),
			Ops:           filepath.Join(dir, "ops"),
			Reports:       filepath.Join(dir, "reports"),
			AlertLog:      filepath.Join(dir, "alerts", "alerts.jsonl"),
			AlertIndex:    filepath.Join(dir, "alerts", "alerts.db"),
			Members:       filepath.Join(dir, "members.json"),
		},
	}
}

// Load resolves configuration for a working directory. The config file
// is optional; a present but malformed one is an error.
func Load(dir, configFile string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(dir), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if configFile == "" {
		configFile = filepath.Join(dir, "survctl.yaml")
	}
	if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
		if !strings.Contains(err.Error(), "no such file") {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
