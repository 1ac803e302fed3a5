package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/gaborage/proxyfetch/fetch"
	"github.com/gaborage/proxyfetch/proxy"
)

// EnvPrefix marks the environment variables that override configuration keys.
// PROXYFETCH_FETCH_ATTEMPTS maps to fetch.attempts.
const EnvPrefix = "PROXYFETCH_"

// Load loads configuration from multiple sources with priority:
// 1. Environment variables (highest priority)
// 2. The YAML file at path, when path is not empty
// 3. Default values (lowest priority)
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, NewLoadError(path, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: envKey,
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	return decode(k)
}

// LoadBytes loads YAML configuration held in memory on top of the defaults.
// Environment variables are not consulted.
func LoadBytes(data []byte) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, NewLoadError("yaml", err)
	}

	return decode(k)
}

// envKey converts PROXYFETCH_UPPER_CASE to upper.case for koanf.
func envKey(key, value string) (string, any) {
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "_", "."), value
}

func decode(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Observability.ServiceName = cfg.App.Name
	cfg.Observability.ServiceVersion = cfg.App.Version
	cfg.Fetch.NotFound = strings.ToLower(cfg.Fetch.NotFound)
	for i := range cfg.Proxies {
		cfg.Proxies[i].Protocol = proxy.ParseProtocol(string(cfg.Proxies[i].Protocol))
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"app.name":    "proxyfetch",
		"app.version": "v1.0.0",

		"log.level":  "info",
		"log.pretty": false,

		"fetch.attempts":        fetch.DefaultAttempts,
		"fetch.delay":           fetch.DefaultDelay,
		"fetch.timeout":         fetch.DefaultTimeout,
		"fetch.requestidheader": fetch.HeaderXRequestID,
		"fetch.useragent":       "proxyfetch",
		"fetch.notfound":        NotFoundContinue,
		"fetch.rate.limit":      0,
		"fetch.rate.burst":      0,

		"observability.enabled":    false,
		"observability.exporter":   "stdout",
		"observability.samplerate": 1.0,
		"observability.interval":   "60s",
	}

	return k.Load(confmap.Provider(defaults, "."), nil)
}
