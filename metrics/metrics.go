package metrics

import "sync/atomic"

// Metrics captures shared operational stats for the queue, workers and the
// point-level adjustment outcomes.
type Metrics struct {
	queueLength   int64
	queueCapacity int64
	workerCount   int64

	processedWorkbooks int64
	failedWorkbooks    int64

	pointsConverged   int64
	pointsUnconverged int64
	pointsFailed      int64
}

// Snapshot provides a consistent view of the current metrics.
type Snapshot struct {
	QueueLength        int
	QueueCapacity      int
	WorkerCount        int
	ProcessedWorkbooks int64
	FailedWorkbooks    int64
	PointsConverged    int64
	PointsUnconverged  int64
	PointsFailed       int64
}

// New creates a zeroed Metrics instance.
func New() *Metrics {
	return &Metrics{}
}

// UpdateQueue records the current queue stats.
func (m *Metrics) UpdateQueue(length, capacity, workers int) {
	atomic.StoreInt64(&m.queueLength, int64(length))
	atomic.StoreInt64(&m.queueCapacity, int64(capacity))
	atomic.StoreInt64(&m.workerCount, int64(workers))
}

// RecordWorkbook increments processed/failed counters based on outcome.
func (m *Metrics) RecordWorkbook(err error) {
	atomic.AddInt64(&m.processedWorkbooks, 1)
	if err != nil {
		atomic.AddInt64(&m.failedWorkbooks, 1)
	}
}

// RecordPoints accumulates point outcomes from one run.
func (m *Metrics) RecordPoints(converged, unconverged, failed int) {
	atomic.AddInt64(&m.pointsConverged, int64(converged))
	atomic.AddInt64(&m.pointsUnconverged, int64(unconverged))
	atomic.AddInt64(&m.pointsFailed, int64(failed))
}

// Snapshot returns a read-only view of metrics.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		QueueLength:        int(atomic.LoadInt64(&m.queueLength)),
		QueueCapacity:      int(atomic.LoadInt64(&m.queueCapacity)),
		WorkerCount:        int(atomic.LoadInt64(&m.workerCount)),
		ProcessedWorkbooks: atomic.LoadInt64(&m.processedWorkbooks),
		FailedWorkbooks:    atomic.LoadInt64(&m.failedWorkbooks),
		PointsConverged:    atomic.LoadInt64(&m.pointsConverged),
		PointsUnconverged:  atomic.LoadInt64(&m.pointsUnconverged),
		PointsFailed:       atomic.LoadInt64(&m.pointsFailed),
	}
}
