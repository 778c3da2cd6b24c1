package goIdentity

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter.
type MetricID uint16

const (
	MetricUsernameChangeRequested MetricID = iota
	MetricUsernameChangeNoOp
	MetricUsernameChangeCompleted
	MetricUsernameClaimed
	MetricEmailChangeRequested
	MetricEmailChangeNoOp
	MetricEmailChangeCompleted
	MetricRateLimitHit
	MetricAPIRateLimited
	MetricIdentityConflict
	MetricTokenInvalid
	MetricTokenExpired
	MetricTokenWrongSubject
	MetricTokenSuperseded
	MetricDispatchFailure
	MetricTokenCleanupFailure
	MetricSecurityAlertSent
	MetricSecurityAlertFailed
	MetricBackendUnavailable
	// MetricRedeemLatency is the only histogram-backed metric.
	MetricRedeemLatency
	metricIDCount
)

const cacheLineSize = 64

// redeemLatencyBounds are the inclusive upper bounds of the first seven
// latency buckets. Slower redemptions land in the eighth.
var redeemLatencyBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const histBucketCount = len(redeemLatencyBounds) + 1

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters and the redemption latency histogram.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	redeemLatency [histBucketCount]uint64
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a Metrics set according to cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to id. Safe for concurrent use.
func (m *Metrics) Inc(id MetricID) {
	if !m.Enabled() || id >= metricIDCount || id == MetricRedeemLatency {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram of id. Only [MetricRedeemLatency] has one.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() || id != MetricRedeemLatency {
		return
	}
	atomic.AddUint64(&m.redeemLatency[bucketIndex(d)], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter, and the latency buckets when enabled.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id != MetricRedeemLatency {
			s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
		}
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&m.redeemLatency[i])
		}
		s.Histograms[MetricRedeemLatency] = buckets
	}
	return s
}

func bucketIndex(d time.Duration) int {
	for i, bound := range redeemLatencyBounds {
		if d <= bound {
			return i
		}
	}
	return len(redeemLatencyBounds)
}
