package config

import (
	"fmt"
	"net/url"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

var (
	validBinds         = []string{"auto", "lan", "loopback", "custom"}
	validCaches        = []string{"memory", "redis"}
	validLogLevels     = []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	validStreamSchemes = []string{"ws", "wss"}
)

// Validate checks a Config for structural issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		add("gateway.bind", "must be one of %v, got %q", validBinds, cfg.Gateway.Bind)
	}
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		add("gateway.customBindHost", "required when bind is custom")
	}
	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		add("gateway.tls", "certPath and keyPath are required when TLS is enabled")
	}
	if cfg.Gateway.RateLimit.PerSecond < 0 {
		add("gateway.rateLimit.perSecond", "must not be negative")
	}

	if cfg.Audio.SourceSampleRate < 0 {
		add("audio.sourceSampleRate", "must be positive, got %d", cfg.Audio.SourceSampleRate)
	}
	if cfg.Audio.Cache != "" && !slices.Contains(validCaches, cfg.Audio.Cache) {
		add("audio.cache", "must be one of %v, got %q", validCaches, cfg.Audio.Cache)
	}
	if cfg.Audio.Cache == "redis" && cfg.Audio.Redis.Addr == "" {
		add("audio.redis.addr", "required when cache is redis")
	}

	if cb := cfg.Twilio.StreamCallback; cb != "" {
		u, err := url.Parse(cb)
		if err != nil || !slices.Contains(validStreamSchemes, u.Scheme) || u.Host == "" {
			add("twilio.streamCallback", "must be a ws:// or wss:// URL, got %q", cb)
		}
	}

	if irc := cfg.CallLog.IRC; irc != nil {
		if irc.Server == "" {
			add("callLog.irc.server", "server is required")
		}
		if irc.Nick == "" {
			add("callLog.irc.nick", "nick is required")
		}
		if irc.Channel == "" {
			add("callLog.irc.channel", "channel is required")
		}
		if irc.Port < 0 || irc.Port > 65535 {
			add("callLog.irc.port", "port must be 0-65535, got %d", irc.Port)
		}
	}

	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", validLogLevels, cfg.Logging.Level)
	}

	return issues
}

// ValidateServe extends Validate with the credentials the gateway cannot
// run without.
func ValidateServe(cfg *Config) []ValidationIssue {
	issues := Validate(cfg)
	if cfg.OpenAI.APIKey == "" {
		issues = append(issues, ValidationIssue{
			Path:    "openai.apiKey",
			Message: "required for speech synthesis (set OPENAI_API_KEY)",
		})
	}
	return issues
}
