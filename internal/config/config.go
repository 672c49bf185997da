package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Port:         8080,
			Bind:         "loopback",
			MaxWorkers:   64,
			MaxBodyBytes: 1 << 20,
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
		Edna: EdnaConfig{
			BaseURL:        "https://app.edna.ru",
			SendPath:       "/api/messages/send",
			CallbackPath:   "/api/callback/set",
			IMType:         "whatsapp",
			TimeoutSeconds: 10,
		},
		AmoCRM: AmoCRMConfig{
			AmojoBaseURL:   "https://amojo.amocrm.ru",
			ConnectTitle:   "chatbridge",
			HookAPIVersion: "v2",
			SourceName:     "TeMa Edna",
			TimeoutSeconds: 10,
		},
		Routing: RoutingConfig{
			DeadlineSeconds: 30,
			Retry: RetryConfig{
				MaxAttempts:      4,
				InitialBackoffMs: 500,
				MaxBackoffMs:     8000,
			},
		},
		Dedup: DedupConfig{
			Backend:    "memory",
			TTLSeconds: 86400,
			MaxEntries: 100000,
		},
		Store: StoreConfig{
			Backend:        "sqlite",
			MaxLinks:       100000,
			LinkTTLSeconds: 7 * 24 * 3600,
		},
		Hooks: HooksConfig{
			TimeoutMs: 5000,
		},
		Media: MediaConfig{
			MaxBytes:   16 << 20,
			MaxItems:   256,
			TTLSeconds: 3600,
		},
	}
}
