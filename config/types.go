package config

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/gaborage/proxyfetch/fetch"
	"github.com/gaborage/proxyfetch/observability"
	"github.com/gaborage/proxyfetch/proxy"
)

// Config represents the overall proxyfetch configuration. Proxies is the
// ordered list used for fallback.
type Config struct {
	App           AppConfig            `koanf:"app" json:"app" yaml:"app"`
	Log           LogConfig            `koanf:"log" json:"log" yaml:"log"`
	Fetch         FetchConfig          `koanf:"fetch" json:"fetch" yaml:"fetch"`
	Proxies       []proxy.Descriptor   `koanf:"proxies" json:"proxies" yaml:"proxies" validate:"dive"`
	Observability observability.Config `koanf:"observability" json:"observability" yaml:"observability"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name    string `koanf:"name" json:"name" yaml:"name" validate:"required"`
	Version string `koanf:"version" json:"version" yaml:"version" validate:"required"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" yaml:"level" validate:"oneof=trace debug info warn error fatal panic"`
	Pretty bool   `koanf:"pretty" json:"pretty" yaml:"pretty"`
}

// FetchConfig holds the retry budget and request decoration applied to every fetch.
type FetchConfig struct {
	Attempts        int           `koanf:"attempts" json:"attempts" yaml:"attempts" validate:"min=1"`
	Delay           time.Duration `koanf:"delay" json:"delay" yaml:"delay" validate:"min=0"`
	Timeout         time.Duration `koanf:"timeout" json:"timeout" yaml:"timeout" validate:"min=0"`
	RequestIDHeader string        `koanf:"requestidheader" json:"requestidheader" yaml:"requestidheader"`
	UserAgent       string        `koanf:"useragent" json:"useragent" yaml:"useragent"`
	NotFound        string        `koanf:"notfound" json:"notfound" yaml:"notfound" validate:"oneof=continue terminal"`
	Rate            RateConfig    `koanf:"rate" json:"rate" yaml:"rate"`
}

// RateConfig throttles outgoing attempts. A zero Limit disables throttling.
type RateConfig struct {
	Limit float64 `koanf:"limit" json:"limit" yaml:"limit" validate:"min=0"`
	Burst int     `koanf:"burst" json:"burst" yaml:"burst" validate:"min=0"`
}

// Not-found policy names accepted in fetch.notfound.
const (
	NotFoundContinue = "continue"
	NotFoundTerminal = "terminal"
)

// Budget converts the configured attempts, delay and timeout into a fetch.Budget.
func (c *FetchConfig) Budget() fetch.Budget {
	return fetch.Budget{
		Attempts: c.Attempts,
		Delay:    c.Delay,
		Timeout:  c.Timeout,
	}
}

// NotFoundPolicy maps the configured policy name onto the fallback option value.
func (c *FetchConfig) NotFoundPolicy() fetch.NotFoundPolicy {
	if c.NotFound == NotFoundTerminal {
		return fetch.NotFoundTerminal
	}
	return fetch.NotFoundContinue
}

// Apply configures b with the budget, request decoration and rate limit from c.
func (c *FetchConfig) Apply(b *fetch.Builder) *fetch.Builder {
	b = b.WithBudget(c.Budget())
	if c.RequestIDHeader != "" {
		b = b.WithRequestIDHeader(c.RequestIDHeader)
	}
	if c.UserAgent != "" {
		b = b.WithDefaultHeader("User-Agent", c.UserAgent)
	}
	if c.Rate.Limit > 0 {
		burst := c.Rate.Burst
		if burst < 1 {
			burst = 1
		}
		b = b.WithRateLimit(rate.Limit(c.Rate.Limit), burst)
	}
	return b
}
