package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

const (
	DefaultPort             = 5050
	DefaultRealtimeURL      = "wss://api.openai.com/v1/realtime"
	DefaultRealtimeModel    = "gpt-4o-realtime-preview-2024-10-01"
	DefaultTTSModel         = "tts-1"
	DefaultSourceSampleRate = 24000
	DefaultPrompt           = "You are a helpful phone assistant. You help the caller review and manage their to-do list. " +
		"Keep answers short and conversational."
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Port: DefaultPort,
			Bind: "loopback",
			RateLimit: RateLimitConfig{
				PerSecond: 5,
				Burst:     10,
			},
		},
		OpenAI: OpenAIConfig{
			Prompt:          DefaultPrompt,
			RealtimeEnabled: boolPtr(true),
			RealtimeURL:     DefaultRealtimeURL,
			RealtimeModel:   DefaultRealtimeModel,
			TTSModel:        DefaultTTSModel,
		},
		Audio: AudioConfig{
			SourceSampleRate: DefaultSourceSampleRate,
			Cache:            "memory",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func boolPtr(b bool) *bool { return &b }
