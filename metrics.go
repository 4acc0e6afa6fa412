package tinyrtos

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering from 1us to 10s with logarithmic spacing -- scheduler
// operations on a cooperative executive are expected to complete in
// single-digit microseconds, so the bucket range is kept wide enough to
// also catch an accidental busy-loop or a stalled task.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks scheduler and heap activity for one Executive.
type Metrics struct {
	ContextSwitches      atomic.Uint64
	TaskStarts           atomic.Uint64
	TaskEnds             atomic.Uint64
	RequestsSent         atomic.Uint64
	IndicationsSent      atomic.Uint64
	IndicationsDiscarded atomic.Uint64

	Allocs     atomic.Uint64
	Frees      atomic.Uint64
	AllocBytes atomic.Uint64

	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	HeapBytesFree   atomic.Uint32
	HeapLargestFree atomic.Uint32
	HeapFragments   atomic.Int64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) recordContextSwitch() {
	m.ContextSwitches.Add(1)
}

func (m *Metrics) recordTaskStart() {
	m.TaskStarts.Add(1)
}

func (m *Metrics) recordTaskEnd() {
	m.TaskEnds.Add(1)
}

func (m *Metrics) recordIndicationDiscarded() {
	m.IndicationsDiscarded.Add(1)
}

func (m *Metrics) recordQueueDepth(depth int) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)
	for {
		current := m.MaxQueueDepth.Load()
		if uint32(depth) <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, uint32(depth)) {
			break
		}
	}
}

func (m *Metrics) recordAlloc(size int, latencyNs uint64) {
	m.Allocs.Add(1)
	m.AllocBytes.Add(uint64(size))
	m.recordLatency(latencyNs)
}

func (m *Metrics) recordFree(size int, latencyNs uint64) {
	m.Frees.Add(1)
	m.recordLatency(latencyNs)
}

func (m *Metrics) recordHeapStats(bytesFree, largestFree uint32, fragments int) {
	m.HeapBytesFree.Store(bytesFree)
	m.HeapLargestFree.Store(largestFree)
	m.HeapFragments.Store(int64(fragments))
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the executive as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	ContextSwitches      uint64
	TaskStarts           uint64
	TaskEnds             uint64
	RequestsSent         uint64
	IndicationsSent      uint64
	IndicationsDiscarded uint64

	Allocs     uint64
	Frees      uint64
	AllocBytes uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	HeapBytesFree   uint32
	HeapLargestFree uint32
	HeapFragments   int64

	SwitchesPerSecond float64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ContextSwitches:      m.ContextSwitches.Load(),
		TaskStarts:           m.TaskStarts.Load(),
		TaskEnds:             m.TaskEnds.Load(),
		RequestsSent:         m.RequestsSent.Load(),
		IndicationsSent:      m.IndicationsSent.Load(),
		IndicationsDiscarded: m.IndicationsDiscarded.Load(),
		Allocs:               m.Allocs.Load(),
		Frees:                m.Frees.Load(),
		AllocBytes:           m.AllocBytes.Load(),
		MaxQueueDepth:        m.MaxQueueDepth.Load(),
		HeapBytesFree:        m.HeapBytesFree.Load(),
		HeapLargestFree:      m.HeapLargestFree.Load(),
		HeapFragments:        m.HeapFragments.Load(),
	}

	queueDepthTotal := m.QueueDepthTotal.Load()
	queueDepthCount := m.QueueDepthCount.Load()
	if queueDepthCount > 0 {
		snap.AvgQueueDepth = float64(queueDepthTotal) / float64(queueDepthCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.SwitchesPerSecond = float64(snap.ContextSwitches) / uptimeSeconds
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Observer receives instrumentation events from the heap allocator and
// the scheduler. This is the public mirror of internal/interfaces.Observer;
// MetricsObserver implements both so it can be handed directly to
// internal/heap.New and internal/task.NewExecutive.
type Observer interface {
	ObserveAlloc(size int, latencyNs uint64)
	ObserveFree(size int, latencyNs uint64)
	ObserveHeapStats(bytesFree uint32, largestFree uint32, fragments int)
	ObserveContextSwitch(fromTask, toTask int)
	ObserveTaskStart(taskID int)
	ObserveTaskEnd(taskID int)
	ObserveIndicationDiscarded(taskID int)
	ObserveQueueDepth(taskID int, queue string, depth int)
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveAlloc(int, uint64)             {}
func (NoOpObserver) ObserveFree(int, uint64)              {}
func (NoOpObserver) ObserveHeapStats(uint32, uint32, int) {}
func (NoOpObserver) ObserveContextSwitch(int, int)        {}
func (NoOpObserver) ObserveTaskStart(int)                 {}
func (NoOpObserver) ObserveTaskEnd(int)                   {}
func (NoOpObserver) ObserveIndicationDiscarded(int)       {}
func (NoOpObserver) ObserveQueueDepth(int, string, int)   {}

// MetricsObserver implements Observer using the built-in Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveAlloc(size int, latencyNs uint64) {
	o.metrics.recordAlloc(size, latencyNs)
}

func (o *MetricsObserver) ObserveFree(size int, latencyNs uint64) {
	o.metrics.recordFree(size, latencyNs)
}

func (o *MetricsObserver) ObserveHeapStats(bytesFree, largestFree uint32, fragments int) {
	o.metrics.recordHeapStats(bytesFree, largestFree, fragments)
}

func (o *MetricsObserver) ObserveContextSwitch(int, int) {
	o.metrics.recordContextSwitch()
}

func (o *MetricsObserver) ObserveTaskStart(int) {
	o.metrics.recordTaskStart()
}

func (o *MetricsObserver) ObserveTaskEnd(int) {
	o.metrics.recordTaskEnd()
}

func (o *MetricsObserver) ObserveIndicationDiscarded(int) {
	o.metrics.recordIndicationDiscarded()
}

func (o *MetricsObserver) ObserveQueueDepth(taskID int, queue string, depth int) {
	o.metrics.recordQueueDepth(depth)
	if queue == "req" {
		o.metrics.RequestsSent.Add(1)
	} else {
		o.metrics.IndicationsSent.Add(1)
	}
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
