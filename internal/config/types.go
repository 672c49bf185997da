package config

import "time"

// Config is the root configuration for chatbridge.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
	Edna    EdnaConfig    `yaml:"edna,omitempty"`
	AmoCRM  AmoCRMConfig  `yaml:"amocrm,omitempty"`
	Routing RoutingConfig `yaml:"routing,omitempty"`
	Dedup   DedupConfig   `yaml:"dedup,omitempty"`
	Store   StoreConfig   `yaml:"store,omitempty"`
	Hooks   HooksConfig   `yaml:"hooks,omitempty"`
	Media   MediaConfig   `yaml:"media,omitempty"`
}

// GatewayConfig controls the webhook HTTP server.
type GatewayConfig struct {
	Port           int      `yaml:"port,omitempty"`
	Bind           string   `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string   `yaml:"customBindHost,omitempty"`
	MaxWorkers     int      `yaml:"maxWorkers,omitempty"`   // concurrent dispatches
	Async          bool     `yaml:"async,omitempty"`        // acknowledge before dispatching
	MaxBodyBytes   int64    `yaml:"maxBodyBytes,omitempty"` // webhook body limit
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
	PublicURL      string   `yaml:"publicUrl,omitempty"` // externally reachable base URL; enables relayed media
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}

// EdnaConfig configures the edna client gateway.
type EdnaConfig struct {
	BaseURL        string        `yaml:"baseUrl,omitempty"`
	APIKey         string        `yaml:"apiKey,omitempty"`
	SendPath       string        `yaml:"sendPath,omitempty"`
	CallbackPath   string        `yaml:"callbackPath,omitempty"`
	IMType         string        `yaml:"imType,omitempty"` // "whatsapp" | "telegram" | ...
	SubjectID      int           `yaml:"subjectId,omitempty"`
	Callbacks      EdnaCallbacks `yaml:"callbacks,omitempty"`
	TimeoutSeconds int           `yaml:"timeoutSeconds,omitempty"`
}

// EdnaCallbacks are the webhook URLs registered with edna at startup.
type EdnaCallbacks struct {
	StatusURL    string `yaml:"statusUrl,omitempty"`
	InMessageURL string `yaml:"inMessageUrl,omitempty"`
	MatcherURL   string `yaml:"matcherUrl,omitempty"`
}

// Any reports whether at least one callback URL is set.
func (c EdnaCallbacks) Any() bool {
	return c.StatusURL != "" || c.InMessageURL != "" || c.MatcherURL != ""
}

// AmoCRMConfig configures the amojo chat API and the amoCRM REST API.
type AmoCRMConfig struct {
	AmojoBaseURL     string `yaml:"amojoBaseUrl,omitempty"`
	BaseURL          string `yaml:"baseUrl,omitempty"` // REST, e.g. https://example.amocrm.ru
	Token            string `yaml:"token,omitempty"`   // REST long-lived token
	ChannelID        string `yaml:"channelId,omitempty"`
	ChannelSecret    string `yaml:"channelSecret,omitempty"`
	AccountID        string `yaml:"accountId,omitempty"` // amojo account id
	ScopeID          string `yaml:"scopeId,omitempty"`   // discovered via connect when empty
	ConnectTitle     string `yaml:"connectTitle,omitempty"`
	HookAPIVersion   string `yaml:"hookApiVersion,omitempty"`
	SourceExternalID string `yaml:"sourceExternalId,omitempty"` // fixed chat source; skips the lookup by name
	SourceName       string `yaml:"sourceName,omitempty"`       // chat source found or created through REST
	SourcePipelineID int64  `yaml:"sourcePipelineId,omitempty"` // pipeline a created source goes to
	EnrichPhone      *bool  `yaml:"enrichPhone,omitempty"` // write client phone onto the contact; defaults to true when a token is set
	TimeoutSeconds   int    `yaml:"timeoutSeconds,omitempty"`
}

// RESTEnabled reports whether the amoCRM REST API can be called.
func (c AmoCRMConfig) RESTEnabled() bool {
	return c.Token != "" && c.BaseURL != ""
}

// PhoneEnrichment reports whether contact phone enrichment should run.
func (c AmoCRMConfig) PhoneEnrichment() bool {
	if !c.RESTEnabled() {
		return false
	}
	return c.EnrichPhone == nil || *c.EnrichPhone
}

// RoutingConfig controls dispatch behavior.
type RoutingConfig struct {
	AutoCreateChats *bool       `yaml:"autoCreateChats,omitempty"` // defaults to true
	DeadlineSeconds int         `yaml:"deadlineSeconds,omitempty"`
	Retry           RetryConfig `yaml:"retry,omitempty"`
}

// CreateChats reports whether unmapped client conversations open a CRM chat.
func (c RoutingConfig) CreateChats() bool {
	return c.AutoCreateChats == nil || *c.AutoCreateChats
}

// Deadline returns the per-event processing deadline.
func (c RoutingConfig) Deadline() time.Duration {
	return time.Duration(c.DeadlineSeconds) * time.Second
}

// RetryConfig bounds outbound retries.
type RetryConfig struct {
	MaxAttempts      int `yaml:"maxAttempts,omitempty"`
	InitialBackoffMs int `yaml:"initialBackoffMs,omitempty"`
	MaxBackoffMs     int `yaml:"maxBackoffMs,omitempty"`
}

// DedupConfig configures the idempotency window.
type DedupConfig struct {
	Backend    string `yaml:"backend,omitempty"` // "memory" | "redis"
	TTLSeconds int    `yaml:"ttlSeconds,omitempty"`
	MaxEntries int    `yaml:"maxEntries,omitempty"`
	RedisURL   string `yaml:"redisUrl,omitempty"`
}

// TTL returns how long an event key is remembered.
func (c DedupConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// StoreConfig configures mapping persistence.
type StoreConfig struct {
	Backend string `yaml:"backend,omitempty"` // "memory" | "sqlite"
	Path    string `yaml:"path,omitempty"`    // defaults to ~/.chatbridge/data/chatbridge.db
	Reports *bool  `yaml:"reports,omitempty"` // persist error reports; defaults to true with sqlite

	// Bounds for message links held by the memory backend.
	MaxLinks       int `yaml:"maxLinks,omitempty"`
	LinkTTLSeconds int `yaml:"linkTtlSeconds,omitempty"`
}

// LinkTTL returns how long the memory backend keeps a message link.
func (c StoreConfig) LinkTTL() time.Duration {
	return time.Duration(c.LinkTTLSeconds) * time.Second
}

// PersistReports reports whether error reports are written to the database.
func (c StoreConfig) PersistReports() bool {
	if c.Backend != "sqlite" {
		return false
	}
	return c.Reports == nil || *c.Reports
}

// HooksConfig configures operational alerting.
type HooksConfig struct {
	AlertURL   string   `yaml:"alertUrl,omitempty"`   // receives error_reported payloads as JSON
	AlertKinds []string `yaml:"alertKinds,omitempty"` // error kinds to alert on; empty means all
	TimeoutMs  int      `yaml:"timeoutMs,omitempty"`
}

// MediaConfig bounds the in-process cache that serves relayed attachments.
type MediaConfig struct {
	MaxBytes   int64 `yaml:"maxBytes,omitempty"`   // per item
	MaxItems   int   `yaml:"maxItems,omitempty"`
	TTLSeconds int   `yaml:"ttlSeconds,omitempty"` // how long a published URL stays valid
}

// TTL returns how long a published item is served.
func (c MediaConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}
