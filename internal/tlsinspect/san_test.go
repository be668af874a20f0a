package tlsinspect_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"phishdetect/internal/monitoring"
	"phishdetect/internal/tlsinspect"
)

// A host that cannot be dialed must produce no evidence, not an error, and
// the failure shows up on the error counter.
func TestSANNamesUnreachableHostReturnsEmpty(t *testing.T) {
	m := monitoring.NewMetricsWith(prometheus.NewRegistry())
	r := tlsinspect.NewResolver(200*time.Millisecond, m, zap.NewNop())

	start := time.Now()
	names := r.SANNames(context.Background(), "host.invalid")
	if len(names) != 0 {
		t.Fatalf("expected no SAN names for unreachable host, got %v", names)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("lookup was not bounded by timeout, took %v", elapsed)
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("san_lookup")); got != 1 {
		t.Fatalf("expected one san_lookup error counted, got %v", got)
	}
}

func TestSANNamesCancelledContext(t *testing.T) {
	m := monitoring.NewMetricsWith(prometheus.NewRegistry())
	r := tlsinspect.NewResolver(2*time.Second, m, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if names := r.SANNames(ctx, "example.com"); len(names) != 0 {
		t.Fatalf("expected no SAN names with cancelled context, got %v", names)
	}
}
