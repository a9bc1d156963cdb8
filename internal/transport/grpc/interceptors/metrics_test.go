package interceptors

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func newTestMetrics(t *testing.T) *GRPCMetrics {
	t.Helper()
	metrics, err := NewGRPCMetrics(GRPCMetricsOptions{Registerer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("NewGRPCMetrics: %v", err)
	}
	return metrics
}

func TestGRPCMetricsCountsByStatusCode(t *testing.T) {
	metrics := newTestMetrics(t)
	interceptor := metrics.UnaryServerInterceptor()

	calls := []struct {
		method string
		err    error
	}{
		{method: "/authsession.v1.SessionService/Introspect"},
		{method: "/authsession.v1.SessionService/Introspect"},
		{method: "/authsession.v1.SessionService/Introspect", err: status.Error(codes.Unauthenticated, "invalid access token")},
		{method: "/authsession.v1.SessionService/Logout", err: status.Error(codes.Unavailable, "logout unavailable")},
	}
	for _, call := range calls {
		info := &grpc.UnaryServerInfo{FullMethod: call.method}
		_, err := interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return nil, call.err
		})
		if status.Code(err) != status.Code(call.err) {
			t.Fatalf("interceptor changed the handler error: %v", err)
		}
	}

	const service = "authsession.v1.SessionService"
	tests := []struct {
		method string
		code   codes.Code
		want   float64
	}{
		{"Introspect", codes.OK, 2},
		{"Introspect", codes.Unauthenticated, 1},
		{"Logout", codes.Unavailable, 1},
	}
	for _, tt := range tests {
		labels := prometheus.Labels{"service": service, "method": tt.method, "code": tt.code.String()}
		if got := testutil.ToFloat64(metrics.requests.With(labels)); got != tt.want {
			t.Fatalf("%s/%s: expected %v, got %v", tt.method, tt.code, tt.want, got)
		}
	}
	if inflight := testutil.ToFloat64(metrics.inFlight.WithLabelValues(service)); inflight != 0 {
		t.Fatalf("expected in-flight gauge 0, got %f", inflight)
	}
}

func TestSplitFullMethod(t *testing.T) {
	tests := []struct {
		in            string
		service, meth string
	}{
		{"/authsession.v1.SessionService/Logout", "authsession.v1.SessionService", "Logout"},
		{"/grpc.health.v1.Health/Check", "grpc.health.v1.Health", "Check"},
		{"", "unknown", "unknown"},
		{"/malformed", "malformed", "unknown"},
		{"//Logout", "unknown", "Logout"},
	}
	for _, tt := range tests {
		service, method := splitFullMethod(tt.in)
		if service != tt.service || method != tt.meth {
			t.Fatalf("splitFullMethod(%q) = %q, %q; want %q, %q", tt.in, service, method, tt.service, tt.meth)
		}
	}
}

func TestNewGRPCMetricsSharesCollectorsOnReuse(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewGRPCMetrics(GRPCMetricsOptions{Registerer: reg})
	if err != nil {
		t.Fatalf("first NewGRPCMetrics: %v", err)
	}
	second, err := NewGRPCMetrics(GRPCMetricsOptions{Registerer: reg})
	if err != nil {
		t.Fatalf("second NewGRPCMetrics: %v", err)
	}
	if first.requests != second.requests {
		t.Fatalf("expected the registered request counter to be reused")
	}
}

func TestNilGRPCMetricsPassThrough(t *testing.T) {
	interceptor := (*GRPCMetrics)(nil).UnaryServerInterceptor()
	resp, err := interceptor(context.Background(), struct{}{}, &grpc.UnaryServerInfo{FullMethod: "/x/y"}, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	})
	if err != nil || resp != "ok" {
		t.Fatalf("unexpected result %v, %v", resp, err)
	}
}
