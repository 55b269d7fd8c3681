package telemetry

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/shelve/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"disabled skips checks", func(c *Config) { c.Endpoint = "" }, false},
		{"enabled defaults", func(c *Config) { c.Enabled = true }, false},
		{"missing endpoint", func(c *Config) { c.Enabled = true; c.Endpoint = "" }, true},
		{"bad sample rate", func(c *Config) { c.Enabled = true; c.SampleRate = 2 }, true},
		{"zero interval", func(c *Config) { c.Enabled = true; c.ExportInterval = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.Equal(t, tt.wantErr, cfg.Validate() != nil)
		})
	}
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig(), nil)
	require.NoError(t, err)

	assert.False(t, tel.Degraded())
	assert.NotNil(t, tel.Tracer("shelve.test"))
	assert.NotNil(t, tel.Meter("shelve.test"))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestFromObservability(t *testing.T) {
	cfg := FromObservability(config.ObservabilityConfig{
		EnableTelemetry: true,
		ServiceName:     "shelve",
		Endpoint:        "collector:4318",
		Protocol:        "http/protobuf",
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "collector:4318", cfg.Endpoint)
	assert.Equal(t, "http/protobuf", cfg.Protocol)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
}

func TestNewResource(t *testing.T) {
	res := newResource(NewDefaultConfig())
	var found bool
	for _, attr := range res.Attributes() {
		if attr.Key == "service.name" {
			assert.Equal(t, "shelve", attr.Value.AsString())
			found = true
		}
	}
	assert.True(t, found)
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "otel:4318", stripScheme("https://otel:4318"))
	assert.Equal(t, "otel:4318", stripScheme("http://otel:4318"))
	assert.Equal(t, "otel:4318", stripScheme("otel:4318"))
}

func TestTestTelemetry_RecordsSpansAndMetrics(t *testing.T) {
	tel := NewTestTelemetry()

	_, span := tel.Tracer("shelve.test").Start(context.Background(), "op")
	span.End()
	assert.Equal(t, []string{"op"}, tel.SpanNames())

	counter, err := tel.Meter("shelve.test").Int64Counter("shelve.test.count")
	require.NoError(t, err)
	counter.Add(context.Background(), 2)
	counter.Add(context.Background(), 3)

	assert.Equal(t, int64(5), tel.CounterTotal(t, "shelve.test.count"))
}

func TestSkipVerify(t *testing.T) {
	creds := skipVerify()
	assert.Equal(t, "tls", creds.Info().SecurityProtocol)

	cfg := FromObservability(config.ObservabilityConfig{TLSSkipVerify: true}, "")
	assert.True(t, cfg.TLSSkipVerify)
}
