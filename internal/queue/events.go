package queue

import (
	"context"
	"time"
)

// EventType names a queue lifecycle event
type EventType string

const (
	// EventFailed is published for every failed attempt
	EventFailed EventType = "failed"
	// EventRetrying is published when a failed job is rescheduled
	EventRetrying EventType = "retrying"
)

// Event describes a job failure. Consumers re-read the job for its current state.
type Event struct {
	Type         EventType
	JobID        string
	AttemptsMade int
	Reason       string
	At           time.Time
	// Replayed is set for events synthesized from jobs already exhausted at subscribe time
	Replayed bool
}

// Subscribe returns a channel of queue events. Jobs already exhausted in the store
// are delivered first as failed events, then live events follow until ctx is done.
// Live events are dropped (and logged) when the subscriber falls behind.
func (q *Queue) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, q.cfg.EventBuffer)

	q.mu.Lock()
	id := q.nextSubID
	q.nextSubID++
	q.subscribers[id] = ch
	q.mu.Unlock()

	go func() {
		q.replayExhausted(ctx, ch)

		<-ctx.Done()

		q.mu.Lock()
		delete(q.subscribers, id)
		close(ch)
		q.mu.Unlock()
	}()

	return ch
}

func (q *Queue) replayExhausted(ctx context.Context, ch chan Event) {
	jobs, err := q.Exhausted(ctx)
	if err != nil {
		q.logger.Error("failed to load exhausted jobs", "error", err)
		return
	}

	for _, job := range jobs {
		ev := Event{
			Type:         EventFailed,
			JobID:        job.ID,
			AttemptsMade: job.AttemptsMade,
			Reason:       job.FailedReason,
			At:           job.UpdatedAt,
			Replayed:     true,
		}

		select {
		case ch <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (q *Queue) publish(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, ch := range q.subscribers {
		select {
		case ch <- ev:
		default:
			q.logger.Warn("event dropped, subscriber is behind", "job_id", ev.JobID, "event", ev.Type)
		}
	}
}
