package config

import "time"

// Config is the root configuration for dialtask.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway,omitempty"`
	OpenAI  OpenAIConfig  `yaml:"openai,omitempty"`
	Twilio  TwilioConfig  `yaml:"twilio,omitempty"`
	Audio   AudioConfig   `yaml:"audio,omitempty"`
	CallLog CallLogConfig `yaml:"callLog,omitempty"`
	Store   StoreConfig   `yaml:"store,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
}

// GatewayConfig controls the HTTP/WebSocket server Twilio connects to.
type GatewayConfig struct {
	Port           int             `yaml:"port,omitempty"`
	Bind           string          `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string          `yaml:"customBindHost,omitempty"`
	Token          string          `yaml:"token,omitempty"` // bearer token for POST /calls
	TLS            GatewayTLS      `yaml:"tls,omitempty"`
	RateLimit      RateLimitConfig `yaml:"rateLimit,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// RateLimitConfig bounds request rates on the webhook and call endpoints.
// A zero PerSecond disables limiting.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"perSecond,omitempty"`
	Burst     int     `yaml:"burst,omitempty"`
}

// OpenAIConfig holds speech synthesis and realtime agent settings.
type OpenAIConfig struct {
	APIKey          string `yaml:"apiKey,omitempty"`
	OrganizationID  string `yaml:"organizationId,omitempty"`
	Prompt          string `yaml:"prompt,omitempty"`
	RealtimeEnabled *bool  `yaml:"realtimeEnabled,omitempty"` // defaults to true
	RealtimeURL     string `yaml:"realtimeUrl,omitempty"`
	RealtimeModel   string `yaml:"realtimeModel,omitempty"`
	TTSModel        string `yaml:"ttsModel,omitempty"`
	BaseURL         string `yaml:"baseUrl,omitempty"` // REST API override, mostly for tests
}

// Realtime reports whether calls are bridged to the realtime agent.
func (o OpenAIConfig) Realtime() bool {
	return o.RealtimeEnabled == nil || *o.RealtimeEnabled
}

// TwilioConfig holds account credentials and callback URLs.
type TwilioConfig struct {
	AccountSID     string `yaml:"accountSid,omitempty"`
	AuthToken      string `yaml:"authToken,omitempty"`
	PhoneNumber    string `yaml:"phoneNumber,omitempty"`
	StatusCallback string `yaml:"statusCallback,omitempty"`
	StreamCallback string `yaml:"streamCallback,omitempty"` // wss:// URL of our /streams endpoint
}

// AudioConfig controls the transcoding pipeline and its cache.
type AudioConfig struct {
	SourceSampleRate int         `yaml:"sourceSampleRate,omitempty"`
	Cache            string      `yaml:"cache,omitempty"` // "memory" | "redis"
	Redis            RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig points the audio cache at a shared Redis.
type RedisConfig struct {
	Addr     string        `yaml:"addr,omitempty"`
	Password string        `yaml:"password,omitempty"`
	DB       int           `yaml:"db,omitempty"`
	TTL      time.Duration `yaml:"ttl,omitempty"` // zero keeps entries forever
}

// CallLogConfig configures where call log lines are mirrored.
type CallLogConfig struct {
	IRC *IRCConfig `yaml:"irc,omitempty"`
}

// IRCConfig mirrors call logs into an IRC channel.
type IRCConfig struct {
	Server   string `yaml:"server"`
	Port     int    `yaml:"port,omitempty"`
	Nick     string `yaml:"nick"`
	Password string `yaml:"password,omitempty"`
	Channel  string `yaml:"channel"`
	UseTLS   bool   `yaml:"useTLS,omitempty"`
}

// StoreConfig locates the task database.
type StoreConfig struct {
	Path string `yaml:"path,omitempty"` // defaults to <data>/dialtask.db
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
}
