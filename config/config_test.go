package config

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/proxyfetch/fetch"
	"github.com/gaborage/proxyfetch/logger"
	"github.com/gaborage/proxyfetch/observability"
	"github.com/gaborage/proxyfetch/proxy"
)

const (
	envAttempts = "PROXYFETCH_FETCH_ATTEMPTS"
	envLogLevel = "PROXYFETCH_LOG_LEVEL"
	envTimeout  = "PROXYFETCH_FETCH_TIMEOUT"
	appName     = "proxyfetch"
	appVersion  = "v1.0.0"
)

const sampleYAML = `
app:
  name: crawler
log:
  level: warn
  pretty: true
fetch:
  attempts: 5
  delay: 250ms
  timeout: 2s
  useragent: crawler/2.0
  notfound: terminal
  rate:
    limit: 10
    burst: 2
proxies:
  - host: 10.0.0.1
    port: 3128
    protocol: http
  - host: socks.example
    port: 1080
    protocol: SOCKS5
    username: alice
    password: s3cret
`

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, appName, cfg.App.Name)
	assert.Equal(t, appVersion, cfg.App.Version)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Log.Pretty)

	assert.Equal(t, fetch.DefaultBudget(), cfg.Fetch.Budget())
	assert.Equal(t, fetch.HeaderXRequestID, cfg.Fetch.RequestIDHeader)
	assert.Equal(t, NotFoundContinue, cfg.Fetch.NotFound)
	assert.Equal(t, fetch.NotFoundContinue, cfg.Fetch.NotFoundPolicy())
	assert.Zero(t, cfg.Fetch.Rate.Limit)
	assert.Empty(t, cfg.Proxies)

	assert.False(t, cfg.Observability.Enabled)
	assert.Equal(t, observability.ExporterStdout, cfg.Observability.Exporter)
	assert.Equal(t, time.Minute, cfg.Observability.Interval)
	assert.Equal(t, appName, cfg.Observability.ServiceName)
	assert.Equal(t, appVersion, cfg.Observability.ServiceVersion)
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "crawler", cfg.App.Name)
	assert.Equal(t, appVersion, cfg.App.Version, "unset keys keep defaults")
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)

	assert.Equal(t, fetch.Budget{Attempts: 5, Delay: 250 * time.Millisecond, Timeout: 2 * time.Second}, cfg.Fetch.Budget())
	assert.Equal(t, "crawler/2.0", cfg.Fetch.UserAgent)
	assert.Equal(t, fetch.NotFoundTerminal, cfg.Fetch.NotFoundPolicy())
	assert.InDelta(t, 10.0, cfg.Fetch.Rate.Limit, 0.001)
	assert.Equal(t, 2, cfg.Fetch.Rate.Burst)

	require.Len(t, cfg.Proxies, 2)
	assert.Equal(t, proxy.Descriptor{Host: "10.0.0.1", Port: 3128, Protocol: proxy.ProtocolHTTP}, cfg.Proxies[0])
	assert.Equal(t, proxy.Descriptor{
		Host:     "socks.example",
		Port:     1080,
		Protocol: proxy.ProtocolSOCKS5,
		Username: "alice",
		Password: "s3cret",
	}, cfg.Proxies[1])
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	t.Setenv(envAttempts, "7")
	t.Setenv(envLogLevel, "DEBUG")
	t.Setenv(envTimeout, "45s")

	cfg, err := Load(writeConfigFile(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Fetch.Attempts, "env overrides file")
	assert.Equal(t, 45*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Fetch.Delay, "file overrides defaults")
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "load", cfgErr.Category)
	assert.Contains(t, err.Error(), "absent.yaml could not be loaded")
}

func TestLoadBytes(t *testing.T) {
	t.Setenv(envAttempts, "9")

	cfg, err := LoadBytes([]byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Fetch.Attempts, "environment is not consulted")
	assert.Len(t, cfg.Proxies, 2)

	_, err = LoadBytes([]byte("fetch: [unterminated"))
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "load", cfgErr.Category)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name      string
		yaml      string
		category  string
		field     string
		wantInMsg string
	}{
		{
			name:      "missing app name",
			yaml:      "app:\n  name: \"\"\n",
			category:  "missing",
			field:     "app.name",
			wantInMsg: "set PROXYFETCH_APP_NAME env var",
		},
		{
			name:      "zero attempts",
			yaml:      "fetch:\n  attempts: 0\n",
			category:  "invalid",
			field:     "fetch.attempts",
			wantInMsg: "must be at least 1",
		},
		{
			name:      "negative delay",
			yaml:      "fetch:\n  delay: -1s\n",
			category:  "invalid",
			field:     "fetch.delay",
			wantInMsg: "must be at least 0",
		},
		{
			name:      "unknown log level",
			yaml:      "log:\n  level: verbose\n",
			category:  "invalid",
			field:     "log.level",
			wantInMsg: "must be one of: trace, debug, info",
		},
		{
			name:      "unknown not found policy",
			yaml:      "fetch:\n  notfound: skip\n",
			category:  "invalid",
			field:     "fetch.notfound",
			wantInMsg: `"skip" is not supported`,
		},
		{
			name:      "proxy without host",
			yaml:      "proxies:\n  - port: 8080\n    protocol: http\n",
			category:  "missing",
			field:     "proxies[0].host",
			wantInMsg: "add proxies[0].host to the config file",
		},
		{
			name:      "proxy port out of range",
			yaml:      "proxies:\n  - host: h\n    port: 70000\n    protocol: http\n",
			category:  "invalid",
			field:     "proxies[0].port",
			wantInMsg: "must be at most 65535",
		},
		{
			name:      "otlp exporter without endpoint",
			yaml:      "observability:\n  enabled: true\n  exporter: otlphttp\n",
			category:  "missing",
			field:     "observability.endpoint",
			wantInMsg: "PROXYFETCH_OBSERVABILITY_ENDPOINT",
		},
		{
			name:      "sample rate above one",
			yaml:      "observability:\n  samplerate: 1.5\n",
			category:  "invalid",
			field:     "observability.samplerate",
			wantInMsg: "must be at most 1",
		},
		{
			name:      "unsupported proxy protocol",
			yaml:      "proxies:\n  - host: h\n    port: 21\n    protocol: ftp\n",
			category:  "invalid",
			field:     "proxies[0].protocol",
			wantInMsg: "must be one of: http, https, socks4, socks5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBytes([]byte(tt.yaml))
			require.Error(t, err)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %v", err)
			assert.Equal(t, tt.category, cfgErr.Category)
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.Contains(t, err.Error(), tt.wantInMsg)
		})
	}
}

func TestConfigErrorFormatting(t *testing.T) {
	err := &ConfigError{
		Category: "invalid",
		Field:    "fetch.attempts",
		Message:  "must be at least 1",
		Details:  []string{"got 0", "see docs"},
	}
	assert.Equal(t, "config_invalid: fetch.attempts must be at least 1 got 0; see docs", err.Error())

	assert.Equal(t, "config_missing: app.name required set PROXYFETCH_APP_NAME env var or add app.name to the config file",
		NewMissingFieldError("app.name").Error())
}

func TestFetchConfigApply(t *testing.T) {
	var gotUA, gotRequestID string
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotRequestID = r.Header.Get("X-Trace-ID")
		w.WriteHeader(http.StatusOK)
	}))
	server.Listener = listener
	server.Start()
	defer server.Close()

	fc := FetchConfig{
		Attempts:        2,
		Delay:           time.Millisecond,
		Timeout:         5 * time.Second,
		RequestIDHeader: "X-Trace-ID",
		UserAgent:       "crawler/2.0",
		Rate:            RateConfig{Limit: 100},
	}

	fetcher := fc.Apply(fetch.NewBuilder(logger.Nop())).Build()
	outcome := fetcher.Get(fetch.WithRequestID(context.Background(), "req-42"), server.URL)

	require.True(t, outcome.OK, "unexpected error: %v", outcome.Err)
	assert.Equal(t, "crawler/2.0", gotUA)
	assert.Equal(t, "req-42", gotRequestID)
}
