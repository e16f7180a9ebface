// Package config loads labelsweep's configuration file and environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/joshsymonds/labelsweep/internal/classify"
	"github.com/joshsymonds/labelsweep/internal/gmail"
	"github.com/joshsymonds/labelsweep/internal/imapmail"
	"github.com/joshsymonds/labelsweep/internal/labeller"
	"github.com/joshsymonds/labelsweep/internal/mail"
	"github.com/joshsymonds/labelsweep/internal/rules"
	"github.com/joshsymonds/labelsweep/internal/state"
)

// Provider kinds.
const (
	ProviderGmail = "gmail"
	ProviderIMAP  = "imap"
)

// DefaultName is the config file base name searched for when no explicit
// path is given.
const DefaultName = "labelsweep"

// Config is the full labelsweep configuration.
type Config struct {
	Labels               []mail.LabelDefinition `mapstructure:"labels"`
	CleanupRules         []rules.CleanupRule    `mapstructure:"cleanup_rules"`
	AutoTrashRules       []rules.Filter         `mapstructure:"auto_trash_rules"`
	LabelRules           []rules.LabelRule      `mapstructure:"label_rules"`
	ClassificationPrompt string                 `mapstructure:"classification_prompt"`

	Provider   ProviderConfig   `mapstructure:"provider"`
	Classifier classify.Options `mapstructure:"classifier"`
	State      StateConfig      `mapstructure:"state"`
	Gmailctl   GmailctlConfig   `mapstructure:"gmailctl"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ProviderConfig selects and configures the mail backend.
type ProviderConfig struct {
	Kind  string           `mapstructure:"kind"`
	Gmail gmail.Options    `mapstructure:"gmail"`
	IMAP  imapmail.Options `mapstructure:"imap"`
}

// StateConfig locates the processed-id store.
type StateConfig struct {
	Path            string `mapstructure:"path"`
	MaxProcessedIDs int    `mapstructure:"max_processed_ids"`
	TokensPath      string `mapstructure:"tokens_path"`
}

// GmailctlConfig controls importing label rules from gmailctl.
type GmailctlConfig struct {
	ImportRules bool   `mapstructure:"import_rules"`
	Binary      string `mapstructure:"binary"`
	ConfigDir   string `mapstructure:"config_dir"`
}

// TelemetryConfig enables OTLP metric export.
type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// envBindings maps secrets to the conventional variable names.
var envBindings = map[string]string{
	"provider.gmail.client_id":     "GOOGLE_CLIENT_ID",
	"provider.gmail.client_secret": "GOOGLE_CLIENT_SECRET",
	"classifier.gemini.api_key":    "GEMINI_API_KEY",
	"provider.imap.password":       "IMAP_PASSWORD",
	"telemetry.otlp_endpoint":      "OTEL_EXPORTER_OTLP_METRICS_ENDPOINT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider.kind", ProviderGmail)
	v.SetDefault("provider.gmail.redirect_url", "http://localhost:3000/callback")
	v.SetDefault("provider.gmail.rps", 10)
	v.SetDefault("provider.imap.port", "993")
	v.SetDefault("provider.imap.tls", true)
	v.SetDefault("provider.imap.mailbox", "INBOX")
	v.SetDefault("provider.imap.trash_mailbox", "Trash")
	v.SetDefault("classifier.kind", classify.KindAuto)
	v.SetDefault("state.path", "state.json")
	v.SetDefault("state.max_processed_ids", state.DefaultMaxProcessedIDs)
	v.SetDefault("state.tokens_path", "tokens.json")
	v.SetDefault("gmailctl.binary", "gmailctl")
}

// Load reads the config at path, or searches the working directory and
// ~/.config/labelsweep for labelsweep.{yaml,toml,json} when path is empty.
// A .env file next to the config is loaded into the environment first;
// variables already set win.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		loadDotEnv(filepath.Dir(path))
	} else {
		v.SetConfigName(DefaultName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", DefaultName))
		}
		loadDotEnv(".")
	}

	v.SetEnvPrefix("LABELSWEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, "LABELSWEEP_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, &mail.ConfigError{Message: "no config file found (looked for " + DefaultName + ".yaml)"}
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", v.ConfigFileUsed(), err)
	}
	return cfg, nil
}

func loadDotEnv(dir string) {
	_ = godotenv.Load(filepath.Join(dir, ".env"))
}

const localKeysMsg = "needs from, subject, subject_regex or snippet_regex"

// Validate checks the constraints the engine relies on.
func (c *Config) Validate() error {
	if len(c.Labels) == 0 {
		return &mail.ConfigError{Field: "labels", Message: "at least one label is required"}
	}
	seen := make(map[string]bool, len(c.Labels))
	for i, l := range c.Labels {
		if strings.TrimSpace(l.Name) == "" {
			return &mail.ConfigError{Field: fmt.Sprintf("labels[%d].name", i), Message: "must not be empty"}
		}
		if seen[l.Name] {
			return &mail.ConfigError{Field: fmt.Sprintf("labels[%d].name", i), Message: "duplicate label " + l.Name}
		}
		seen[l.Name] = true
	}
	for i, r := range c.CleanupRules {
		if r.Label == "" {
			return &mail.ConfigError{Field: fmt.Sprintf("cleanup_rules[%d].label", i), Message: "must not be empty"}
		}
		if r.RetentionDays <= 0 {
			return &mail.ConfigError{Field: fmt.Sprintf("cleanup_rules[%d].retention_days", i), Message: "must be positive"}
		}
	}
	for i := range c.AutoTrashRules {
		if !c.AutoTrashRules[i].Local() {
			return &mail.ConfigError{Field: fmt.Sprintf("auto_trash_rules[%d]", i), Message: localKeysMsg}
		}
		if err := c.AutoTrashRules[i].Compile(); err != nil {
			return &mail.ConfigError{Field: fmt.Sprintf("auto_trash_rules[%d]", i), Message: err.Error()}
		}
	}
	for i := range c.LabelRules {
		r := &c.LabelRules[i]
		if len(r.Labels) == 0 {
			return &mail.ConfigError{Field: fmt.Sprintf("label_rules[%d].labels", i), Message: "must name at least one label"}
		}
		if !r.Match.Local() {
			return &mail.ConfigError{Field: fmt.Sprintf("label_rules[%d].match", i), Message: localKeysMsg}
		}
		if err := r.Match.Compile(); err != nil {
			return &mail.ConfigError{Field: fmt.Sprintf("label_rules[%d].match", i), Message: err.Error()}
		}
	}
	switch c.Provider.Kind {
	case ProviderGmail, "":
	case ProviderIMAP:
		if c.Provider.IMAP.Host == "" {
			return &mail.ConfigError{Field: "provider.imap.host", Message: "required for the imap provider"}
		}
	default:
		return &mail.ConfigError{Field: "provider.kind", Message: "unknown provider " + c.Provider.Kind}
	}
	switch c.Classifier.Kind {
	case classify.KindGemini, classify.KindOllama, classify.KindAuto, "":
	default:
		return &mail.ConfigError{Field: "classifier.kind", Message: "unknown classifier " + c.Classifier.Kind}
	}
	if t := c.Classifier.Temperature; t != nil && (*t < 0 || *t > 2) {
		return &mail.ConfigError{Field: "classifier.temperature", Message: "must be between 0 and 2"}
	}
	return nil
}

// Labeller returns the part of the config the labelling engine consumes.
func (c *Config) Labeller() labeller.Config {
	return labeller.Config{
		Labels:               c.Labels,
		CleanupRules:         c.CleanupRules,
		AutoTrashRules:       c.AutoTrashRules,
		ClassificationPrompt: c.ClassificationPrompt,
	}
}
