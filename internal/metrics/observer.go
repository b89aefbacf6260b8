package metrics

import "time"

// DeliveryObserver receives delivery outcomes from the executor.
type DeliveryObserver interface {
	RecordDelivery(result string, latency time.Duration)
	RecordAutoStop()
}

// WorkerObserver tracks the size of the worker registry.
type WorkerObserver interface {
	SetActiveWorkers(n int)
}

const (
	ResultPosted  = "posted"
	ResultRetried = "retried"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// Nop discards everything. Used by tests and tools that do not scrape.
type Nop struct{}

func (Nop) RecordDelivery(string, time.Duration) {}
func (Nop) RecordAutoStop()                      {}
func (Nop) SetActiveWorkers(int)                 {}
