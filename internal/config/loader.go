package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so keys and secrets can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Edna.APIKey = expandEnvVars(cfg.Edna.APIKey)
	cfg.AmoCRM.ChannelSecret = expandEnvVars(cfg.AmoCRM.ChannelSecret)
	cfg.AmoCRM.Token = expandEnvVars(cfg.AmoCRM.Token)
	cfg.Dedup.RedisURL = expandEnvVars(cfg.Dedup.RedisURL)
	cfg.Hooks.AlertURL = expandEnvVars(cfg.Hooks.AlertURL)
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
	expandSensitiveFields(&cfg)
	applyEnvOverrides(&cfg)
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

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	d := Defaults()

	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = d.Gateway.Port
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = d.Gateway.Bind
	}
	if cfg.Gateway.MaxWorkers == 0 {
		cfg.Gateway.MaxWorkers = d.Gateway.MaxWorkers
	}
	if cfg.Gateway.MaxBodyBytes == 0 {
		cfg.Gateway.MaxBodyBytes = d.Gateway.MaxBodyBytes
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = d.Logging.ConsoleStyle
	}
	if cfg.Edna.BaseURL == "" {
		cfg.Edna.BaseURL = d.Edna.BaseURL
	}
	if cfg.Edna.SendPath == "" {
		cfg.Edna.SendPath = d.Edna.SendPath
	}
	if cfg.Edna.CallbackPath == "" {
		cfg.Edna.CallbackPath = d.Edna.CallbackPath
	}
	if cfg.Edna.IMType == "" {
		cfg.Edna.IMType = d.Edna.IMType
	}
	if cfg.Edna.TimeoutSeconds == 0 {
		cfg.Edna.TimeoutSeconds = d.Edna.TimeoutSeconds
	}
	if cfg.AmoCRM.AmojoBaseURL == "" {
		cfg.AmoCRM.AmojoBaseURL = d.AmoCRM.AmojoBaseURL
	}
	if cfg.AmoCRM.ConnectTitle == "" {
		cfg.AmoCRM.ConnectTitle = d.AmoCRM.ConnectTitle
	}
	if cfg.AmoCRM.HookAPIVersion == "" {
		cfg.AmoCRM.HookAPIVersion = d.AmoCRM.HookAPIVersion
	}
	if cfg.AmoCRM.SourceName == "" {
		cfg.AmoCRM.SourceName = d.AmoCRM.SourceName
	}
	if cfg.AmoCRM.TimeoutSeconds == 0 {
		cfg.AmoCRM.TimeoutSeconds = d.AmoCRM.TimeoutSeconds
	}
	if cfg.Routing.DeadlineSeconds == 0 {
		cfg.Routing.DeadlineSeconds = d.Routing.DeadlineSeconds
	}
	if cfg.Routing.Retry.MaxAttempts == 0 {
		cfg.Routing.Retry.MaxAttempts = d.Routing.Retry.MaxAttempts
	}
	if cfg.Routing.Retry.InitialBackoffMs == 0 {
		cfg.Routing.Retry.InitialBackoffMs = d.Routing.Retry.InitialBackoffMs
	}
	if cfg.Routing.Retry.MaxBackoffMs == 0 {
		cfg.Routing.Retry.MaxBackoffMs = d.Routing.Retry.MaxBackoffMs
	}
	if cfg.Dedup.Backend == "" {
		cfg.Dedup.Backend = d.Dedup.Backend
	}
	if cfg.Dedup.TTLSeconds == 0 {
		cfg.Dedup.TTLSeconds = d.Dedup.TTLSeconds
	}
	if cfg.Dedup.MaxEntries == 0 {
		cfg.Dedup.MaxEntries = d.Dedup.MaxEntries
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = d.Store.Backend
	}
	if cfg.Store.MaxLinks == 0 {
		cfg.Store.MaxLinks = d.Store.MaxLinks
	}
	if cfg.Store.LinkTTLSeconds == 0 {
		cfg.Store.LinkTTLSeconds = d.Store.LinkTTLSeconds
	}
	if cfg.Hooks.TimeoutMs == 0 {
		cfg.Hooks.TimeoutMs = d.Hooks.TimeoutMs
	}
	if cfg.Media.MaxBytes == 0 {
		cfg.Media.MaxBytes = d.Media.MaxBytes
	}
	if cfg.Media.MaxItems == 0 {
		cfg.Media.MaxItems = d.Media.MaxItems
	}
	if cfg.Media.TTLSeconds == 0 {
		cfg.Media.TTLSeconds = d.Media.TTLSeconds
	}
}

// applyEnvOverrides reads CHATBRIDGE_* and credential environment variables
// and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHATBRIDGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("CHATBRIDGE_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("CHATBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("EDNA_API_KEY"); v != "" {
		cfg.Edna.APIKey = v
	}
	if v := os.Getenv("EDNA_BASE_URL"); v != "" {
		cfg.Edna.BaseURL = v
	}
	if v := os.Getenv("AMOCRM_CHANNEL_SECRET"); v != "" {
		cfg.AmoCRM.ChannelSecret = v
	}
	if v := os.Getenv("AMOCRM_TOKEN"); v != "" {
		cfg.AmoCRM.Token = v
	}
	if v := os.Getenv("CHATBRIDGE_PUBLIC_URL"); v != "" {
		cfg.Gateway.PublicURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Dedup.RedisURL = v
	}
}
