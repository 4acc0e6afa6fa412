package tinyrtos

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsSetsStartTime(t *testing.T) {
	m := NewMetrics()
	require.NotZero(t, m.StartTime.Load(), "NewMetrics should stamp StartTime")
	require.Zero(t, m.StopTime.Load(), "StopTime should be unset until Stop is called")
}

func TestMetricsObserverRecordsContextSwitchesAndTasks(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	o.ObserveContextSwitch(1, 2)
	o.ObserveContextSwitch(2, 1)
	o.ObserveTaskStart(1)
	o.ObserveTaskEnd(1)
	o.ObserveIndicationDiscarded(3)

	assert.Equal(t, uint64(2), m.ContextSwitches.Load())
	assert.Equal(t, uint64(1), m.TaskStarts.Load())
	assert.Equal(t, uint64(1), m.TaskEnds.Load())
	assert.Equal(t, uint64(1), m.IndicationsDiscarded.Load())
}

func TestMetricsObserverRecordsAllocAndFree(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	o.ObserveAlloc(64, 500)
	o.ObserveAlloc(128, 1500)
	o.ObserveFree(64, 200)

	assert.Equal(t, uint64(2), m.Allocs.Load())
	assert.Equal(t, uint64(1), m.Frees.Load())
	assert.Equal(t, uint64(192), m.AllocBytes.Load())
	assert.Equal(t, uint64(3), m.OpCount.Load(), "alloc and free both record latency samples")
}

func TestMetricsObserverRecordsQueueDepthByQueueName(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	o.ObserveQueueDepth(1, "req", 3)
	o.ObserveQueueDepth(1, "req", 5)
	o.ObserveQueueDepth(2, "ind", 1)

	assert.Equal(t, uint64(2), m.RequestsSent.Load())
	assert.Equal(t, uint64(1), m.IndicationsSent.Load())
	assert.Equal(t, uint32(5), m.MaxQueueDepth.Load())
}

func TestMetricsObserverRecordsHeapStats(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	o.ObserveHeapStats(2048, 1024, 3)

	assert.Equal(t, uint32(2048), m.HeapBytesFree.Load())
	assert.Equal(t, uint32(1024), m.HeapLargestFree.Load())
	assert.Equal(t, int64(3), m.HeapFragments.Load())
}

func TestSnapshotComputesAveragesAndMax(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	o.ObserveQueueDepth(1, "req", 2)
	o.ObserveQueueDepth(1, "req", 4)
	o.ObserveQueueDepth(1, "req", 6)

	snap := m.Snapshot()
	assert.Equal(t, 4.0, snap.AvgQueueDepth)
	assert.Equal(t, uint32(6), snap.MaxQueueDepth)
}

func TestSnapshotLatencyHistogramBucketsCumulatively(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	// 500ns falls in every bucket from 1us upward; 5ms falls in every
	// bucket from 10ms upward.
	o.ObserveAlloc(8, 500)
	o.ObserveAlloc(8, 5_000_000)

	snap := m.Snapshot()
	require.Len(t, snap.LatencyHistogram, numLatencyBuckets)
	assert.Equal(t, uint64(2), snap.LatencyHistogram[numLatencyBuckets-1], "both samples fall under the widest bucket")
	assert.Equal(t, uint64(1), snap.LatencyHistogram[0], "only the 500ns sample falls under the 1us bucket")
}

func TestSnapshotWithNoSamplesLeavesPercentilesZero(t *testing.T) {
	m := NewMetrics()
	snap := m.Snapshot()

	assert.Zero(t, snap.LatencyP50Ns)
	assert.Zero(t, snap.LatencyP99Ns)
	assert.Zero(t, snap.AvgLatencyNs)
}

func TestStopFreezesUptime(t *testing.T) {
	m := NewMetrics()
	m.Stop()

	require.NotZero(t, m.StopTime.Load())
	snap1 := m.Snapshot()
	snap2 := m.Snapshot()
	assert.Equal(t, snap1.UptimeNs, snap2.UptimeNs, "uptime should be stable once stopped")
}

func TestNoOpObserverDoesNothing(t *testing.T) {
	var o Observer = NoOpObserver{}
	// None of these should panic; there is nothing else to assert against
	// a deliberately empty implementation.
	o.ObserveAlloc(1, 1)
	o.ObserveFree(1, 1)
	o.ObserveHeapStats(1, 1, 1)
	o.ObserveContextSwitch(1, 2)
	o.ObserveTaskStart(1)
	o.ObserveTaskEnd(1)
	o.ObserveIndicationDiscarded(1)
	o.ObserveQueueDepth(1, "req", 1)
}
