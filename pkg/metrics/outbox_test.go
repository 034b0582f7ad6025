package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestOutboxMetricsCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)

	m.Observe("invoice_created", OutboxPublished)
	m.Observe("invoice_created", OutboxRetry)
	m.Observe("invoice_created", OutboxPublished)
	m.ObserveBatch(3)
	m.ObserveBatch(0)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	mf := findMetricFamily(mfs, "housing_outbox_events_total")
	if mf == nil {
		t.Fatal("outbox counter not exported")
	}
	var published, retry float64
	for _, metric := range mf.GetMetric() {
		if !matchesLabel(metric.GetLabel(), "event_type", "invoice_created") {
			continue
		}
		switch {
		case matchesLabel(metric.GetLabel(), "outcome", OutboxPublished):
			published = metric.GetCounter().GetValue()
		case matchesLabel(metric.GetLabel(), "outcome", OutboxRetry):
			retry = metric.GetCounter().GetValue()
		}
	}
	if published != 2 || retry != 1 {
		t.Fatalf("unexpected counts published=%f retry=%f", published, retry)
	}

	batches := findMetricFamily(mfs, "housing_outbox_batch_rows")
	if batches == nil || batches.GetMetric()[0].GetHistogram().GetSampleCount() != 1 {
		t.Fatal("expected one batch sample")
	}
}

func TestOutboxMetricsNilSafe(t *testing.T) {
	var m *OutboxMetrics
	m.Observe("invoice_created", OutboxPublished)
	m.ObserveBatch(1)
	NewOutboxMetrics(nil).Observe("invoice_created", OutboxDeadLettered)
}
