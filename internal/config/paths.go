package config

import (
	"os"
	"path/filepath"
	"strings"
)

const defaultBaseDir = ".chatbridge"

// Paths holds resolved filesystem paths for chatbridge data.
type Paths struct {
	Base   string // ~/.chatbridge
	Config string // ~/.chatbridge/config.yaml
	Data   string // ~/.chatbridge/data
	Logs   string // ~/.chatbridge/logs
}

// ResolvePaths computes all standard paths from the home directory.
// If CHATBRIDGE_HOME is set, it overrides the default base directory.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("CHATBRIDGE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}
	return PathsAt(base), nil
}

// PathsAt lays out the standard paths under base.
func PathsAt(base string) Paths {
	return Paths{
		Base:   base,
		Config: filepath.Join(base, "config.yaml"),
		Data:   filepath.Join(base, "data"),
		Logs:   filepath.Join(base, "logs"),
	}
}

// Database returns the SQLite path, honoring an explicit store path.
func (p Paths) Database(cfg StoreConfig) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	return filepath.Join(p.Data, "chatbridge.db")
}

// EnsureDirs creates all standard directories if they don't exist.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.Data, p.Logs} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// ParseConfigPath splits a dot-separated config path into segments.
// Returns an error if any segment is empty.
func ParseConfigPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		if p == "" {
			return nil, &ConfigError{Message: "config path contains empty segment"}
		}
	}
	return parts, nil
}

// GetValueAtPath traverses a nested map using the given path segments.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	current := any(root)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// SetValueAtPath sets a value in a nested map, creating intermediate maps as needed.
func SetValueAtPath(root map[string]any, path []string, value any) {
	current := root
	for _, key := range path[:len(path)-1] {
		m, ok := current[key].(map[string]any)
		if !ok {
			m = map[string]any{}
			current[key] = m
		}
		current = m
	}
	current[path[len(path)-1]] = value
}

// UnsetValueAtPath removes a value at the given path. Returns true if removed.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	current := root
	for _, key := range path[:len(path)-1] {
		m, ok := current[key].(map[string]any)
		if !ok {
			return false
		}
		current = m
	}
	last := path[len(path)-1]
	if _, ok := current[last]; !ok {
		return false
	}
	delete(current, last)
	return true
}

// Redacted returns a copy of cfg with credentials masked for display.
func Redacted(cfg Config) Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	cfg.Edna.APIKey = mask(cfg.Edna.APIKey)
	cfg.AmoCRM.ChannelSecret = mask(cfg.AmoCRM.ChannelSecret)
	cfg.AmoCRM.Token = mask(cfg.AmoCRM.Token)
	cfg.Dedup.RedisURL = mask(cfg.Dedup.RedisURL)
	return cfg
}

var secretPaths = map[string]bool{
	"edna.apiKey":          true,
	"amocrm.channelSecret": true,
	"amocrm.token":         true,
	"dedup.redisUrl":       true,
}

// IsSecretPath reports whether a dotted config path holds a credential.
func IsSecretPath(path []string) bool {
	return secretPaths[strings.Join(path, ".")]
}
