package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAnchorMetricsRecordsRejects(t *testing.T) {
	m := Anchor()
	before := testutil.ToFloat64(m.rejects.WithLabelValues("ordering"))
	m.ObserveBatch("ordering", time.Millisecond)
	if got := testutil.ToFloat64(m.rejects.WithLabelValues("ordering")); got != before+1 {
		t.Fatalf("expected reject counter to advance, got %v", got)
	}
	m.SetFaulted(true)
	if testutil.ToFloat64(m.faulted) != 1 {
		t.Fatalf("faulted gauge not set")
	}
	m.SetFaulted(false)
	m.SetQueueDepth("requests", 3)
	if testutil.ToFloat64(m.depth.WithLabelValues("requests")) != 3 {
		t.Fatalf("queue depth not published")
	}
}

func TestStatusClass(t *testing.T) {
	cases := map[int]string{200: "2xx", 302: "3xx", 429: "4xx", 503: "5xx"}
	for status, want := range cases {
		if got := statusClass(status); got != want {
			t.Fatalf("status %d: got %s want %s", status, got, want)
		}
	}
}

func TestEventMetricsNormalisesType(t *testing.T) {
	m := Events()
	before := testutil.ToFloat64(m.emitted.WithLabelValues("raffle.payout"))
	m.Record(" Raffle.Payout ")
	if got := testutil.ToFloat64(m.emitted.WithLabelValues("raffle.payout")); got != before+1 {
		t.Fatalf("expected payout counter to advance, got %v", got)
	}
	var nilMetrics *EventMetrics
	nilMetrics.Record("ignored")
}
