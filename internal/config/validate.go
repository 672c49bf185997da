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

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	// Gateway validation
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}

	validBinds := []string{"loopback", "lan", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		add("gateway.bind", "must be one of %v, got %q", validBinds, cfg.Gateway.Bind)
	}
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		add("gateway.customBindHost", "required when bind is custom")
	}
	if cfg.Gateway.MaxWorkers < 1 {
		add("gateway.maxWorkers", "must be at least 1, got %d", cfg.Gateway.MaxWorkers)
	}
	if cfg.Gateway.MaxBodyBytes < 1 {
		add("gateway.maxBodyBytes", "must be positive, got %d", cfg.Gateway.MaxBodyBytes)
	}

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", validLogLevels, cfg.Logging.Level)
	}

	validConsoleStyles := []string{"pretty", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		add("logging.consoleStyle", "must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle)
	}

	// edna validation
	if !validHTTPURL(cfg.Edna.BaseURL) {
		add("edna.baseUrl", "must be an http(s) URL, got %q", cfg.Edna.BaseURL)
	}
	if cfg.Edna.APIKey == "" {
		add("edna.apiKey", "api key is required")
	}
	if cfg.Edna.Callbacks.Any() && cfg.Edna.SubjectID == 0 {
		add("edna.subjectId", "required when callbacks are configured")
	}
	for path, u := range map[string]string{
		"edna.callbacks.statusUrl":    cfg.Edna.Callbacks.StatusURL,
		"edna.callbacks.inMessageUrl": cfg.Edna.Callbacks.InMessageURL,
		"edna.callbacks.matcherUrl":   cfg.Edna.Callbacks.MatcherURL,
	} {
		if u != "" && !validHTTPURL(u) {
			add(path, "must be an http(s) URL, got %q", u)
		}
	}

	// amoCRM validation
	amo := cfg.AmoCRM
	if !validHTTPURL(amo.AmojoBaseURL) {
		add("amocrm.amojoBaseUrl", "must be an http(s) URL, got %q", amo.AmojoBaseURL)
	}
	if amo.ChannelSecret == "" {
		add("amocrm.channelSecret", "channel secret is required")
	}
	if amo.ScopeID == "" && (amo.ChannelID == "" || amo.AccountID == "") {
		add("amocrm.scopeId", "set scopeId, or channelId and accountId to connect")
	}
	if amo.BaseURL != "" && !validHTTPURL(amo.BaseURL) {
		add("amocrm.baseUrl", "must be an http(s) URL, got %q", amo.BaseURL)
	}
	if amo.Token != "" && amo.BaseURL == "" {
		add("amocrm.baseUrl", "required when a REST token is set")
	}

	// Routing validation
	retry := cfg.Routing.Retry
	if retry.MaxAttempts < 1 {
		add("routing.retry.maxAttempts", "must be at least 1, got %d", retry.MaxAttempts)
	}
	if retry.InitialBackoffMs < 0 || retry.MaxBackoffMs < 0 {
		add("routing.retry", "backoff must not be negative")
	}
	if retry.MaxBackoffMs > 0 && retry.InitialBackoffMs > retry.MaxBackoffMs {
		add("routing.retry.initialBackoffMs", "must not exceed maxBackoffMs (%d > %d)", retry.InitialBackoffMs, retry.MaxBackoffMs)
	}
	if cfg.Routing.DeadlineSeconds < 1 {
		add("routing.deadlineSeconds", "must be at least 1, got %d", cfg.Routing.DeadlineSeconds)
	}

	// Media validation
	if cfg.Gateway.PublicURL != "" && !validHTTPURL(cfg.Gateway.PublicURL) {
		add("gateway.publicUrl", "must be an http(s) URL, got %q", cfg.Gateway.PublicURL)
	}
	if cfg.Media.MaxBytes < 1 {
		add("media.maxBytes", "must be positive, got %d", cfg.Media.MaxBytes)
	}
	if cfg.Media.MaxItems < 1 {
		add("media.maxItems", "must be at least 1, got %d", cfg.Media.MaxItems)
	}
	if cfg.Media.TTLSeconds < 1 {
		add("media.ttlSeconds", "must be at least 1, got %d", cfg.Media.TTLSeconds)
	}

	// Dedup validation
	validDedup := []string{"memory", "redis"}
	if !slices.Contains(validDedup, cfg.Dedup.Backend) {
		add("dedup.backend", "must be one of %v, got %q", validDedup, cfg.Dedup.Backend)
	}
	if cfg.Dedup.Backend == "redis" && cfg.Dedup.RedisURL == "" {
		add("dedup.redisUrl", "required when backend is redis")
	}
	if cfg.Dedup.TTLSeconds < 1 {
		add("dedup.ttlSeconds", "must be at least 1, got %d", cfg.Dedup.TTLSeconds)
	}
	if cfg.Dedup.MaxEntries < 1 {
		add("dedup.maxEntries", "must be at least 1, got %d", cfg.Dedup.MaxEntries)
	}

	// Store validation
	validStores := []string{"memory", "sqlite"}
	if !slices.Contains(validStores, cfg.Store.Backend) {
		add("store.backend", "must be one of %v, got %q", validStores, cfg.Store.Backend)
	}
	if cfg.Store.MaxLinks < 1 {
		add("store.maxLinks", "must be at least 1, got %d", cfg.Store.MaxLinks)
	}
	if cfg.Store.LinkTTLSeconds < 1 {
		add("store.linkTtlSeconds", "must be at least 1, got %d", cfg.Store.LinkTTLSeconds)
	}

	// Hooks validation
	if cfg.Hooks.AlertURL != "" && !validHTTPURL(cfg.Hooks.AlertURL) {
		add("hooks.alertUrl", "must be an http(s) URL, got %q", cfg.Hooks.AlertURL)
	}
	for _, kind := range cfg.Hooks.AlertKinds {
		if !slices.Contains(errorKinds, kind) {
			add("hooks.alertKinds", "unknown error kind %q", kind)
		}
	}

	return issues
}

// errorKinds mirrors domain.ErrorKind values.
var errorKinds = []string{
	"unrecognized_shape",
	"validation_failed",
	"unmapped_conversation",
	"send_transient",
	"send_permanent",
	"missing_status_target",
	"delivery_failed",
	"internal",
}

func validHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
