package observability

import (
	"time"
)

const (
	// ExporterStdout writes spans and metrics as JSON (for local development).
	ExporterStdout = "stdout"
	// ExporterOTLPHTTP exports over OTLP HTTP/protobuf.
	ExporterOTLPHTTP = "otlphttp"
	// ExporterOTLPGRPC exports over OTLP gRPC.
	ExporterOTLPGRPC = "otlpgrpc"

	defaultSampleRate     = 1.0
	defaultExportInterval = 60 * time.Second
)

// Config controls telemetry export for the fetch spans and metrics.
type Config struct {
	// Enabled turns export on. When false NewProvider returns a no-op provider.
	Enabled bool `koanf:"enabled" json:"enabled" yaml:"enabled"`

	// Exporter is one of stdout, otlphttp or otlpgrpc.
	Exporter string `koanf:"exporter" json:"exporter" yaml:"exporter" validate:"oneof=stdout otlphttp otlpgrpc"`

	// Endpoint is the collector host:port for the OTLP exporters.
	Endpoint string `koanf:"endpoint" json:"endpoint" yaml:"endpoint" validate:"required_unless=Exporter stdout"`

	// Insecure disables TLS towards the collector.
	Insecure bool `koanf:"insecure" json:"insecure" yaml:"insecure"`

	// Headers are sent with every export (e.g., authentication).
	Headers map[string]string `koanf:"headers" json:"headers" yaml:"headers"`

	// SampleRate is the ratio of traces kept, between 0.0 and 1.0.
	SampleRate float64 `koanf:"samplerate" json:"samplerate" yaml:"samplerate" validate:"min=0,max=1"`

	// Interval is the metric export period.
	Interval time.Duration `koanf:"interval" json:"interval" yaml:"interval" validate:"min=0"`

	// ServiceName and ServiceVersion populate the resource; they are filled
	// from the application settings rather than loaded.
	ServiceName    string `koanf:"-" json:"-" yaml:"-"`
	ServiceVersion string `koanf:"-" json:"-" yaml:"-"`
}

// ApplyDefaults fills zero values with safe defaults.
func (c *Config) ApplyDefaults() {
	if c.Exporter == "" {
		c.Exporter = ExporterStdout
	}
	if c.SampleRate == 0 {
		c.SampleRate = defaultSampleRate
	}
	if c.Interval <= 0 {
		c.Interval = defaultExportInterval
	}
	if c.ServiceName == "" {
		c.ServiceName = "proxyfetch"
	}
}
