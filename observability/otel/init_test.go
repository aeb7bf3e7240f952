package otel

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" api-key = abc ,broken, =skip,tenant=raffle")
	if len(got) != 2 || got["api-key"] != "abc" || got["tenant"] != "raffle" {
		t.Fatalf("unexpected headers %v", got)
	}
}

func TestConfigFromEnvDisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg := ConfigFromEnv("anchord", "test")
	if cfg.Traces || cfg.Metrics {
		t.Fatalf("exporters should stay off without an endpoint")
	}
	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestConfigFromEnvStripsScheme(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4318")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")
	cfg := ConfigFromEnv("anchord", "")
	if cfg.Endpoint != "collector:4318" || !cfg.Traces || cfg.SampleRatio != 0.25 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestSamplerRatio(t *testing.T) {
	if got := sampler(0).Description(); got != "AlwaysOnSampler" {
		t.Fatalf("zero ratio should keep everything, got %s", got)
	}
	if got := sampler(0.5).Description(); got == "AlwaysOnSampler" {
		t.Fatalf("fractional ratio should sample")
	}
}
