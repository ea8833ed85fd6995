package service

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const uploadWindow = time.Minute

// RateLimiter admits uploads per account. An account is refused while its queue
// backlog is at maxBacklog, or once it has made maxUploads uploads in the last
// minute. A zero limit disables that check.
type RateLimiter struct {
	maxBacklog int
	maxUploads int
	now        func() time.Time

	mu sync.Mutex
	// Upload times per account inside the sliding window, oldest first
	uploads   map[string][]time.Time
	nextSweep time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(maxBacklog, maxUploadsPerMinute int) *RateLimiter {
	return &RateLimiter{
		maxBacklog: maxBacklog,
		maxUploads: maxUploadsPerMinute,
		now:        time.Now,
		uploads:    make(map[string][]time.Time),
	}
}

// Admit decides whether accountID, with backlog unfinished jobs, may upload now.
// Only an admitted upload takes a slot in the account's window.
func (rl *RateLimiter) Admit(ctx context.Context, accountID string, backlog int) error {
	if rl.maxBacklog > 0 && backlog >= rl.maxBacklog {
		return fmt.Errorf("%w: %d documents still queued", ErrRateLimitExceeded, backlog)
	}
	if rl.maxUploads <= 0 {
		return nil
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.After(rl.nextSweep) {
		for id := range rl.uploads {
			rl.recent(id, now)
		}
		rl.nextSweep = now.Add(uploadWindow)
	}

	recent := rl.recent(accountID, now)
	if len(recent) >= rl.maxUploads {
		return fmt.Errorf("%w: retry in %s", ErrRateLimitExceeded, recent[0].Add(uploadWindow).Sub(now).Round(time.Second))
	}

	rl.uploads[accountID] = append(recent, now)
	return nil
}

// recent drops upload times that have left the window. Accounts with none left
// are forgotten. Caller must hold rl.mu.
func (rl *RateLimiter) recent(accountID string, now time.Time) []time.Time {
	times := rl.uploads[accountID]
	cutoff := now.Add(-uploadWindow)

	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	times = times[i:]

	if len(times) == 0 {
		delete(rl.uploads, accountID)
		return nil
	}
	rl.uploads[accountID] = times
	return times
}
