package pstore

import (
	"sync/atomic"
	"time"
)

// Metrics tracks operational statistics for a manager instance, adapted
// from a block-device I/O counter set to this engine's save/load/clear/
// update vocabulary.
type Metrics struct {
	SaveOps   atomic.Uint64
	LoadOps   atomic.Uint64
	ClearOps  atomic.Uint64
	UpdateOps atomic.Uint64

	SaveBytes atomic.Uint64
	LoadBytes atomic.Uint64

	SaveErrors   atomic.Uint64
	LoadErrors   atomic.Uint64
	ClearErrors  atomic.Uint64
	UpdateErrors atomic.Uint64

	RollbackCount atomic.Uint64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a zeroed metrics instance with StartTime stamped now.
func NewMetrics(now time.Time) *Metrics {
	m := &Metrics{}
	m.StartTime.Store(now.UnixNano())
	return m
}

// RecordSave accumulates one save's outcome.
func (m *Metrics) RecordSave(bytes uint64, latencyNs uint64, success bool) {
	m.SaveOps.Add(1)
	m.SaveBytes.Add(bytes)
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	if !success {
		m.SaveErrors.Add(1)
	}
}

// RecordLoad accumulates one load's outcome.
func (m *Metrics) RecordLoad(bytes uint64, latencyNs uint64, success bool) {
	m.LoadOps.Add(1)
	m.LoadBytes.Add(bytes)
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	if !success {
		m.LoadErrors.Add(1)
	}
}

// RecordClear accumulates one clear's outcome.
func (m *Metrics) RecordClear(latencyNs uint64, success bool) {
	m.ClearOps.Add(1)
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	if !success {
		m.ClearErrors.Add(1)
	}
}

// RecordUpdate accumulates one update_begin/complete/cancel's outcome.
func (m *Metrics) RecordUpdate(latencyNs uint64, success bool) {
	m.UpdateOps.Add(1)
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	if !success {
		m.UpdateErrors.Add(1)
	}
}

// RecordRollback increments the count of rollback passes the engine ran.
func (m *Metrics) RecordRollback() {
	m.RollbackCount.Add(1)
}

// Reset zeroes every counter (useful for testing).
func (m *Metrics) Reset() {
	m.SaveOps.Store(0)
	m.LoadOps.Store(0)
	m.ClearOps.Store(0)
	m.UpdateOps.Store(0)
	m.SaveBytes.Store(0)
	m.LoadBytes.Store(0)
	m.SaveErrors.Store(0)
	m.LoadErrors.Store(0)
	m.ClearErrors.Store(0)
	m.UpdateErrors.Store(0)
	m.RollbackCount.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection independent of the built-in
// Metrics type.
type Observer interface {
	ObserveSave(bytes uint64, latencyNs uint64, success bool)
	ObserveLoad(bytes uint64, latencyNs uint64, success bool)
	ObserveClear(latencyNs uint64, success bool)
	ObserveUpdate(latencyNs uint64, success bool)
	ObserveRollback()
}

// NoOpObserver discards every observation.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSave(uint64, uint64, bool) {}
func (NoOpObserver) ObserveLoad(uint64, uint64, bool) {}
func (NoOpObserver) ObserveClear(uint64, bool)        {}
func (NoOpObserver) ObserveUpdate(uint64, bool)       {}
func (NoOpObserver) ObserveRollback()                 {}

// MetricsObserver implements Observer by recording into a Metrics instance.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSave(bytes, latencyNs uint64, success bool) {
	o.metrics.RecordSave(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveLoad(bytes, latencyNs uint64, success bool) {
	o.metrics.RecordLoad(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveClear(latencyNs uint64, success bool) {
	o.metrics.RecordClear(latencyNs, success)
}

func (o *MetricsObserver) ObserveUpdate(latencyNs uint64, success bool) {
	o.metrics.RecordUpdate(latencyNs, success)
}

func (o *MetricsObserver) ObserveRollback() {
	o.metrics.RecordRollback()
}

var (
	_ Observer = (*MetricsObserver)(nil)
	_ Observer = NoOpObserver{}
)
