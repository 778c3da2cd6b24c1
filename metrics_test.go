package goIdentity

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricUsernameChangeRequested)

	if got := m.Value(MetricUsernameChangeRequested); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if len(m.Snapshot().Counters) != 0 {
		t.Fatal("disabled metrics must snapshot empty")
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 16
	const perG = 2000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricRateLimitHit)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricRateLimitHit); got != goroutines*perG {
		t.Fatalf("expected %d, got %d", goroutines*perG, got)
	}
}

func TestMetricsHistogramBuckets(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	for _, d := range []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		2 * time.Second,
	} {
		m.Observe(MetricRedeemLatency, d)
	}
	// Only the redemption latency metric carries a histogram.
	m.Observe(MetricRateLimitHit, time.Millisecond)

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricRedeemLatency]
	if len(buckets) != histBucketCount {
		t.Fatalf("expected %d buckets, got %d", histBucketCount, len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d: expected 1, got %d", i, v)
		}
	}
	if _, ok := snap.Counters[MetricRedeemLatency]; ok {
		t.Fatal("histogram metric must not appear among counters")
	}
	if len(snap.Histograms) != 1 {
		t.Fatalf("expected a single histogram, got %d", len(snap.Histograms))
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricTokenInvalid)
	m.Observe(MetricRedeemLatency, time.Millisecond)
	if m.Enabled() || m.LatencyEnabled() || m.Value(MetricTokenInvalid) != 0 {
		t.Fatal("nil metrics must be inert")
	}
}

func TestEngineRecordsRedeemLatency(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Metrics.EnableLatencyHistograms = true
	}, establishedUser("u1", "alice", "alice@example.com"))

	if _, err := env.engine.RedeemUsernameChange(context.Background(), "u1", "bogus"); err == nil {
		t.Fatal("expected invalid token")
	}

	buckets := env.engine.MetricsSnapshot().Histograms[MetricRedeemLatency]
	var total uint64
	for _, v := range buckets {
		total += v
	}
	if total != 1 {
		t.Fatalf("expected one latency observation, got %d", total)
	}
	if env.metric(MetricTokenInvalid) != 1 {
		t.Fatalf("expected one invalid token, got %d", env.metric(MetricTokenInvalid))
	}
}

func TestBucketIndexBoundaries(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want int
	}{
		{0, 0},
		{5 * time.Millisecond, 0},
		{5*time.Millisecond + time.Nanosecond, 1},
		{500 * time.Millisecond, 6},
		{500*time.Millisecond + time.Nanosecond, 7},
		{time.Hour, 7},
	}
	for _, c := range cases {
		if got := bucketIndex(c.d); got != c.want {
			t.Fatalf("bucketIndex(%v) = %d, want %d", c.d, got, c.want)
		}
	}
}

func TestMetricsIncIgnoresHistogramID(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricRedeemLatency)
	if m.Value(MetricRedeemLatency) != 0 {
		t.Fatal("histogram id must not count as a counter")
	}
}
