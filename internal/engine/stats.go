package engine

import (
	"sync"
	"time"
)

// Statistics are the process-wide execution counters. Average and last
// execution times are reported in milliseconds.
type Statistics struct {
	TotalExecutions        int64   `json:"totalExecutions"`
	SuccessfulExecutions   int64   `json:"successfulExecutions"`
	FailedExecutions       int64   `json:"failedExecutions"`
	AverageExecutionTimeMS float64 `json:"averageExecutionTime"`
	LastExecutionTimeMS    int64   `json:"lastExecutionTime"`
}

// statsRecorder serializes updates so concurrent executions never lose a
// count. The running average is updated incrementally.
type statsRecorder struct {
	mu    sync.Mutex
	stats Statistics
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{}
}

func (r *statsRecorder) Record(d time.Duration, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.TotalExecutions++
	if success {
		r.stats.SuccessfulExecutions++
	} else {
		r.stats.FailedExecutions++
	}
	ms := float64(d.Milliseconds())
	r.stats.AverageExecutionTimeMS += (ms - r.stats.AverageExecutionTimeMS) / float64(r.stats.TotalExecutions)
	r.stats.LastExecutionTimeMS = d.Milliseconds()
}

func (r *statsRecorder) Snapshot() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *statsRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = Statistics{}
}
