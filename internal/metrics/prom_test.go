package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)
	SetBuildInfo("1.0.0", "abc", "2026-01-01")
	RecordForwarded(DirectionInbound)
	RecordForwarded(DirectionInbound)
	RecordForwarded(DirectionOutbound)
	RecordDropped(ReasonBadLocalLine)
	RecordPostDuration(250 * time.Millisecond)
	SetQueueDepth(3)

	if v := testutil.ToFloat64(forwarded.WithLabelValues(DirectionInbound)); v != 2 {
		t.Fatalf("inbound forwarded: %v", v)
	}
	if v := testutil.ToFloat64(forwarded.WithLabelValues(DirectionOutbound)); v != 1 {
		t.Fatalf("outbound forwarded: %v", v)
	}
	if v := testutil.ToFloat64(dropped.WithLabelValues(ReasonBadLocalLine)); v != 1 {
		t.Fatalf("dropped: %v", v)
	}
	if v := testutil.ToFloat64(postSeconds); v != 0.25 {
		t.Fatalf("post seconds: %v", v)
	}
	if v := testutil.ToFloat64(queued); v != 3 {
		t.Fatalf("queued: %v", v)
	}
	if v := testutil.ToFloat64(buildInfo.WithLabelValues("2026-01-01", "abc", "1.0.0")); v != 1 {
		t.Fatalf("build info: %v", v)
	}
}
