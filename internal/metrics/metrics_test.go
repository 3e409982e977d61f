package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := scrapeItemsTotal
	Init()
	if scrapeItemsTotal != first {
		t.Fatal("Init() re-created collectors")
	}
}

func TestObserveItem(t *testing.T) {
	Init()
	before := testutil.ToFloat64(scrapeItemsTotal.WithLabelValues("skipped", "no_match"))
	ObserveItem("skipped", "no_match")
	if got := testutil.ToFloat64(scrapeItemsTotal.WithLabelValues("skipped", "no_match")); got != before+1 {
		t.Errorf("expected counter to grow by 1, got %f -> %f", before, got)
	}
}

func TestObserveAlertAndPlanned(t *testing.T) {
	Init()
	before := testutil.ToFloat64(alertsTotal.WithLabelValues("sent"))
	ObserveAlert("sent")
	if got := testutil.ToFloat64(alertsTotal.WithLabelValues("sent")); got != before+1 {
		t.Errorf("alerts_total(sent) = %f, want %f", got, before+1)
	}

	SetPlanned(4)
	if got := testutil.ToFloat64(plannedItems); got != 4 {
		t.Errorf("planned_items = %f, want 4", got)
	}
}

func TestObserveBatchAndDelays(t *testing.T) {
	ObserveBatch("scheduled", 3*time.Second)
	ObserveRateLimitDelay("www.example.com", 20*time.Millisecond)
	if n := testutil.CollectAndCount(batchDurationSeconds); n == 0 {
		t.Error("expected batch duration to be observed")
	}
	if n := testutil.CollectAndCount(rateLimitDelaysSeconds); n == 0 {
		t.Error("expected rate limit delay to be observed")
	}
}
