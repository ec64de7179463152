package config

import (
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap/zapcore"
)

// ValidationRule represents a configuration validation rule
type ValidationRule interface {
	Name() string
	Validate(cfg *Config) error
}

// Validator validates configuration
type Validator struct {
	rules []ValidationRule
}

// NewValidator creates a validator with the default rules
func NewValidator() *Validator {
	return &Validator{
		rules: []ValidationRule{
			chainRule{},
			emitterRule{},
			watcherRule{},
			apiRule{},
			metricsRule{},
			logRule{},
		},
	}
}

// AddRule adds a custom validation rule
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules = append(v.rules, rule)
}

// Validate runs every rule and reports all failures together
func (v *Validator) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var errors []string
	for _, rule := range v.rules {
		if err := rule.Validate(cfg); err != nil {
			errors = append(errors, fmt.Sprintf("%s: %v", rule.Name(), err))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("validation failed:\n%s", strings.Join(errors, "\n"))
	}
	return nil
}

type chainRule struct{}

func (chainRule) Name() string { return "chain" }

func (chainRule) Validate(cfg *Config) error {
	if cfg.Chain.Mock {
		return nil
	}
	if cfg.Chain.RPCURL == "" {
		return fmt.Errorf("rpc_url is required")
	}
	u, err := url.Parse(cfg.Chain.RPCURL)
	if err != nil {
		return fmt.Errorf("invalid rpc_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("rpc_url scheme must be http or https, got %q", u.Scheme)
	}
	if cfg.Chain.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

type emitterRule struct{}

func (emitterRule) Name() string { return "emitter" }

func (emitterRule) Validate(cfg *Config) error {
	if cfg.Emitter.CancelGrace < 0 {
		return fmt.Errorf("cancel_grace cannot be negative")
	}
	if cfg.Emitter.LockStripes < 1 {
		return fmt.Errorf("lock_stripes must be at least 1")
	}
	return nil
}

type watcherRule struct{}

func (watcherRule) Name() string { return "watcher" }

func (watcherRule) Validate(cfg *Config) error {
	w := cfg.Watcher
	if w.PollInterval < MinPollInterval {
		return fmt.Errorf("poll_interval too short (minimum %v)", MinPollInterval)
	}
	if w.BatchSize == 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if w.PageSize == 0 {
		return fmt.Errorf("page_size must be positive")
	}
	if w.RetryBase <= 0 {
		return fmt.Errorf("retry_base must be positive")
	}
	if w.RetryCap < w.RetryBase {
		return fmt.Errorf("retry_cap (%v) must not be below retry_base (%v)", w.RetryCap, w.RetryBase)
	}
	if w.WebhookURL != "" {
		u, err := url.Parse(w.WebhookURL)
		if err != nil {
			return fmt.Errorf("invalid webhook_url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("webhook_url scheme must be http or https, got %q", u.Scheme)
		}
		if w.WebhookTimeout <= 0 {
			return fmt.Errorf("webhook_timeout must be positive")
		}
	}
	return nil
}

type apiRule struct{}

func (apiRule) Name() string { return "api" }

func (apiRule) Validate(cfg *Config) error {
	if cfg.API.Port < 0 || cfg.API.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535")
	}
	return nil
}

type metricsRule struct{}

func (metricsRule) Name() string { return "metrics" }

func (metricsRule) Validate(cfg *Config) error {
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("path must start with /")
	}
	return nil
}

type logRule struct{}

func (logRule) Name() string { return "log" }

func (logRule) Validate(cfg *Config) error {
	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		return err
	}
	switch cfg.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("format must be json or console, got %q", cfg.Log.Format)
	}
	return nil
}
