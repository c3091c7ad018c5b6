package config

import (
	"errors"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} references with environment values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if val, ok := os.LookupEnv(match[2 : len(match)-1]); ok {
			return val
		}
		return match
	})
}

func expandSensitiveFields(cfg *Config) {
	cfg.Gateway.Token = expandEnvVars(cfg.Gateway.Token)
	cfg.OpenAI.APIKey = expandEnvVars(cfg.OpenAI.APIKey)
	cfg.OpenAI.OrganizationID = expandEnvVars(cfg.OpenAI.OrganizationID)
	cfg.Twilio.AccountSID = expandEnvVars(cfg.Twilio.AccountSID)
	cfg.Twilio.AuthToken = expandEnvVars(cfg.Twilio.AuthToken)
	cfg.Audio.Redis.Password = expandEnvVars(cfg.Audio.Redis.Password)
	if cfg.CallLog.IRC != nil {
		cfg.CallLog.IRC.Password = expandEnvVars(cfg.CallLog.IRC.Password)
	}
}

// LoadDotenv loads KEY=VALUE pairs from the given files (".env" when none
// are given) without overriding variables already set. Missing files are
// not an error.
func LoadDotenv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &ConfigError{Message: "failed to load " + f + ": " + err.Error()}
		}
	}
	return nil
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults refills fields an explicit YAML document zeroed out.
func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = d.Gateway.Port
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = d.Gateway.Bind
	}
	if cfg.OpenAI.Prompt == "" {
		cfg.OpenAI.Prompt = d.OpenAI.Prompt
	}
	if cfg.OpenAI.RealtimeURL == "" {
		cfg.OpenAI.RealtimeURL = d.OpenAI.RealtimeURL
	}
	if cfg.OpenAI.RealtimeModel == "" {
		cfg.OpenAI.RealtimeModel = d.OpenAI.RealtimeModel
	}
	if cfg.OpenAI.TTSModel == "" {
		cfg.OpenAI.TTSModel = d.OpenAI.TTSModel
	}
	if cfg.Audio.SourceSampleRate == 0 {
		cfg.Audio.SourceSampleRate = d.Audio.SourceSampleRate
	}
	if cfg.Audio.Cache == "" {
		cfg.Audio.Cache = d.Audio.Cache
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.CallLog.IRC != nil && cfg.CallLog.IRC.Port == 0 {
		cfg.CallLog.IRC.Port = 6667
		if cfg.CallLog.IRC.UseTLS {
			cfg.CallLog.IRC.Port = 6697
		}
	}
}

// applyEnvOverrides lets the usual provider variables (OPENAI_*, TWILIO_*)
// and DIALTASK_* settings win over the file.
func applyEnvOverrides(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAI.OrganizationID, "OPENAI_ORGANIZATION_ID")
	setString(&cfg.OpenAI.Prompt, "OPENAI_PROMPT")
	if v := os.Getenv("OPENAI_REALTIME_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.OpenAI.RealtimeEnabled = boolPtr(b)
		}
	}

	setString(&cfg.Twilio.AccountSID, "TWILIO_ACCOUNT_SID")
	setString(&cfg.Twilio.AuthToken, "TWILIO_AUTH_TOKEN")
	setString(&cfg.Twilio.PhoneNumber, "TWILIO_PHONE_NUMBER")
	setString(&cfg.Twilio.StatusCallback, "TWILIO_STATUS_CALLBACK")
	setString(&cfg.Twilio.StreamCallback, "TWILIO_STREAM_CALLBACK")

	if v := os.Getenv("DIALTASK_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	setString(&cfg.Gateway.Bind, "DIALTASK_GATEWAY_BIND")
	setString(&cfg.Gateway.Token, "DIALTASK_GATEWAY_TOKEN")
	if v := os.Getenv("DIALTASK_REDIS_URL"); v != "" {
		cfg.Audio.Cache = "redis"
		cfg.Audio.Redis.Addr = v
	}
	if v := os.Getenv("DIALTASK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}
