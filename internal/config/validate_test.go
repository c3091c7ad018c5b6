package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issuePaths(issues []ValidationIssue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Path)
	}
	return out
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Empty(t, Validate(&cfg))
}

func TestValidateIssues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"port too high", func(c *Config) { c.Gateway.Port = 70000 }, "gateway.port"},
		{"bad bind", func(c *Config) { c.Gateway.Bind = "tailnet" }, "gateway.bind"},
		{"custom bind without host", func(c *Config) { c.Gateway.Bind = "custom" }, "gateway.customBindHost"},
		{"tls without cert", func(c *Config) { c.Gateway.TLS.Enabled = true }, "gateway.tls"},
		{"negative rate", func(c *Config) { c.Gateway.RateLimit.PerSecond = -1 }, "gateway.rateLimit.perSecond"},
		{"bad cache", func(c *Config) { c.Audio.Cache = "disk" }, "audio.cache"},
		{"redis without addr", func(c *Config) { c.Audio.Cache = "redis" }, "audio.redis.addr"},
		{"http stream callback", func(c *Config) { c.Twilio.StreamCallback = "https://example.com/streams" }, "twilio.streamCallback"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"irc without server", func(c *Config) {
			c.CallLog.IRC = &IRCConfig{Nick: "n", Channel: "#c"}
		}, "callLog.irc.server"},
		{"irc without channel", func(c *Config) {
			c.CallLog.IRC = &IRCConfig{Server: "s", Nick: "n"}
		}, "callLog.irc.channel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			assert.Contains(t, issuePaths(Validate(&cfg)), tt.path)
		})
	}
}

func TestValidateAcceptsWSStreamCallback(t *testing.T) {
	cfg := Defaults()
	cfg.Twilio.StreamCallback = "wss://bridge.example.com/streams"
	assert.Empty(t, Validate(&cfg))
}

func TestValidateServeRequiresAPIKey(t *testing.T) {
	cfg := Defaults()
	issues := ValidateServe(&cfg)
	require.Len(t, issues, 1)
	assert.Equal(t, "openai.apiKey", issues[0].Path)

	cfg.OpenAI.APIKey = "sk-test"
	assert.Empty(t, ValidateServe(&cfg))
}

func TestValidationIssueString(t *testing.T) {
	issue := ValidationIssue{Path: "audio.cache", Message: "nope"}
	assert.Equal(t, "audio.cache: nope", issue.String())
}
