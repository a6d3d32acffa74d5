package scheduler

import (
	"sync"
	"time"
)

// SchedulerMetrics tracks cumulative statistics across every executed plan.
type SchedulerMetrics struct {
	StepsExecuted    int
	StepsCompleted   int
	StepsFailed      int
	StepsSkipped     int
	StepsTimedOut    int
	BatchesExecuted  int
	TotalDuration    time.Duration
	LongestStepTime  time.Duration
	ShortestStepTime time.Duration

	mu sync.Mutex
}

// Copy returns a snapshot without the mutex.
func (m *SchedulerMetrics) Copy() SchedulerMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	shortest := m.ShortestStepTime
	if m.StepsExecuted == 0 {
		shortest = 0
	}
	return SchedulerMetrics{
		StepsExecuted:    m.StepsExecuted,
		StepsCompleted:   m.StepsCompleted,
		StepsFailed:      m.StepsFailed,
		StepsSkipped:     m.StepsSkipped,
		StepsTimedOut:    m.StepsTimedOut,
		BatchesExecuted:  m.BatchesExecuted,
		TotalDuration:    m.TotalDuration,
		LongestStepTime:  m.LongestStepTime,
		ShortestStepTime: shortest,
	}
}

func (m *SchedulerMetrics) recordBatch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchesExecuted++
}

func (m *SchedulerMetrics) recordSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StepsSkipped++
}

func (m *SchedulerMetrics) recordCompleted(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StepsCompleted++
	m.recordDurationLocked(d)
}

func (m *SchedulerMetrics) recordFailed(d time.Duration, timedOut bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StepsFailed++
	if timedOut {
		m.StepsTimedOut++
	}
	m.recordDurationLocked(d)
}

func (m *SchedulerMetrics) recordDurationLocked(d time.Duration) {
	m.StepsExecuted++
	m.TotalDuration += d
	if d > m.LongestStepTime {
		m.LongestStepTime = d
	}
	if d < m.ShortestStepTime && d > 0 {
		m.ShortestStepTime = d
	}
}
