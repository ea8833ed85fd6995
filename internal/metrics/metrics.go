package metrics

import (
	"sync"
)

// Metrics tracks pipeline counters since process start
type Metrics struct {
	mu sync.RWMutex

	uploadedDocuments  int64
	completedDocuments int64
	processedDocuments int64
	failedAttempts     int64
	retriedJobs        int64
	deadLetteredJobs   int64
	replayedJobs       int64
	inFlightJobs       int64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncrementUploadedDocuments counts a document accepted and enqueued
func (m *Metrics) IncrementUploadedDocuments() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadedDocuments++
}

// IncrementCompletedDocuments counts a document that passed validation
func (m *Metrics) IncrementCompletedDocuments() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completedDocuments++
}

// IncrementProcessedDocuments counts a document finished below the confidence threshold
func (m *Metrics) IncrementProcessedDocuments() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processedDocuments++
}

// IncrementFailedAttempts counts one failed processing attempt
func (m *Metrics) IncrementFailedAttempts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedAttempts++
}

// IncrementRetriedJobs counts a job rescheduled after failure
func (m *Metrics) IncrementRetriedJobs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retriedJobs++
}

// IncrementDeadLetteredJobs counts a job moved to the dead letter store
func (m *Metrics) IncrementDeadLetteredJobs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLetteredJobs++
}

// IncrementReplayedJobs counts a dead letter replayed by an operator
func (m *Metrics) IncrementReplayedJobs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replayedJobs++
}

// JobStarted marks a job as in flight
func (m *Metrics) JobStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlightJobs++
}

// JobFinished marks an in-flight job as done
func (m *Metrics) JobFinished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlightJobs--
}

// InFlight returns the number of jobs currently being processed
func (m *Metrics) InFlight() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inFlightJobs
}

// GetSnapshot returns a snapshot of all metrics
func (m *Metrics) GetSnapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int64{
		"uploaded_documents":  m.uploadedDocuments,
		"completed_documents": m.completedDocuments,
		"processed_documents": m.processedDocuments,
		"failed_attempts":     m.failedAttempts,
		"retried_jobs":        m.retriedJobs,
		"dead_lettered_jobs":  m.deadLetteredJobs,
		"replayed_jobs":       m.replayedJobs,
		"in_flight_jobs":      m.inFlightJobs,
	}
}
