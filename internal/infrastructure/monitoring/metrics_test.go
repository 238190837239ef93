package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.RecordPass("succeeded", "2d")
	assert.Equal(t, float64(1), testutil.ToFloat64(a.PassesTotal.WithLabelValues("succeeded", "2d")))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.PassesTotal.WithLabelValues("succeeded", "2d")))
}

func TestRecordPassSnapshot(t *testing.T) {
	m := NewMetrics()
	m.RecordPass("succeeded", "2d")
	m.RecordPass("failed", "3d")
	m.RecordPass("stale", "3d")
	m.RecordPass("noop", "demo")

	snap := m.Snapshot()
	assert.Equal(t, int64(4), snap.Passes)
	assert.Equal(t, int64(2), snap.Succeeded)
	assert.Equal(t, int64(1), snap.Failed)
	assert.Equal(t, int64(1), snap.Stale)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StaleDiscarded))
}

func TestTimerObservesStage(t *testing.T) {
	m := NewMetrics()
	timer := NewTimer(m, "execute")
	time.Sleep(time.Millisecond)
	assert.Greater(t, timer.Stop(), time.Duration(0))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDuration))

	// nil metrics is tolerated
	assert.GreaterOrEqual(t, NewTimer(nil, "noop").Stop(), time.Duration(0))
}
