package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/metrics/export/internaldefs"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	snapshot goIdentity.MetricsSnapshot
	dropped  uint64
	failed   uint64
}

func (f fakeSource) MetricsSnapshot() goIdentity.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                        { return f.dropped }
func (f fakeSource) AuditFailed() uint64                         { return f.failed }

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler(c).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCollectEmptyWhenMetricsDisabled(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{
		snapshot: goIdentity.MetricsSnapshot{
			Counters:   map[goIdentity.MetricID]uint64{},
			Histograms: map[goIdentity.MetricID][]uint64{},
		},
	})

	assert.Equal(t, 0, testutil.CollectAndCount(c))
}

func TestCollectCountersAndHistogram(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{
		snapshot: goIdentity.MetricsSnapshot{
			Counters: map[goIdentity.MetricID]uint64{
				goIdentity.MetricUsernameChangeRequested: 7,
				goIdentity.MetricTokenExpired:            2,
			},
			Histograms: map[goIdentity.MetricID][]uint64{
				goIdentity.MetricRedeemLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 3,
		failed:  1,
	})

	assert.Equal(t, len(internaldefs.CounterDefs)+1+2, testutil.CollectAndCount(c))

	out := scrape(t, c)
	assert.Contains(t, out, "goidentity_username_change_requested_total 7")
	assert.Contains(t, out, "goidentity_token_expired_total 2")
	assert.Contains(t, out, "goidentity_email_change_completed_total 0")
	assert.Contains(t, out, `goidentity_redeem_latency_seconds_bucket{le="0.005"} 1`)
	assert.Contains(t, out, `goidentity_redeem_latency_seconds_bucket{le="0.5"} 28`)
	assert.Contains(t, out, `goidentity_redeem_latency_seconds_bucket{le="+Inf"} 36`)
	assert.Contains(t, out, "goidentity_redeem_latency_seconds_count 36")
	assert.Contains(t, out, "goidentity_audit_dropped_total 3")
	assert.Contains(t, out, "goidentity_audit_failed_total 1")
}

func TestCollectWithoutHistogram(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{
		snapshot: goIdentity.MetricsSnapshot{
			Counters:   map[goIdentity.MetricID]uint64{goIdentity.MetricRateLimitHit: 1},
			Histograms: map[goIdentity.MetricID][]uint64{},
		},
	})

	out := scrape(t, c)
	assert.Contains(t, out, "goidentity_change_rate_limited_total 1")
	assert.NotContains(t, out, "goidentity_redeem_latency_seconds")
}

func TestNilSource(t *testing.T) {
	c := NewCollectorFromSource(nil)
	assert.Equal(t, 0, testutil.CollectAndCount(c))
}

func TestNilEngine(t *testing.T) {
	c := NewCollector(nil)
	assert.Equal(t, 0, testutil.CollectAndCount(c))
}
