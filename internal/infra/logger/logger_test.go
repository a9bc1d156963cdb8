package logger

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMaskIP(t *testing.T) {
	cases := map[string]string{
		"":                    "",
		"192.168.1.100":       "192.168.*.*",
		"2001:db8:85a3:0:1:2": "2001:db8:85a3:0:*:*:*:*",
		"garbage":             "***",
	}
	for in, want := range cases {
		if got := MaskIP(in); got != want {
			t.Fatalf("MaskIP(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaskString(t *testing.T) {
	if got := MaskString("secret123"); got != "se***23" {
		t.Fatalf("unexpected mask %q", got)
	}
	if got := MaskString("abc"); got != "***" {
		t.Fatalf("short strings must be fully masked, got %q", got)
	}
}

func TestMaskName(t *testing.T) {
	if got := MaskName("alice"); got != "a***" {
		t.Fatalf("unexpected mask %q", got)
	}
	if got := MaskName("é"); got != "*" {
		t.Fatalf("unexpected mask %q", got)
	}
}

func TestFromContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})

	ctx := trace.ContextWithSpanContext(WithRequestID(context.Background(), "req-1"), sc)
	FromContext(ctx, base).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-1" {
		t.Fatalf("missing request_id: %v", fields)
	}
	if fields["trace_id"] != traceID.String() {
		t.Fatalf("missing trace_id: %v", fields)
	}
}

func TestFromContextWithoutFields(t *testing.T) {
	base := zap.NewNop()
	if got := FromContext(context.Background(), base); got != base {
		t.Fatalf("expected base logger back when context carries nothing")
	}
}
