package core

// submit_limiter.go bounds outbound submissions.
//
// Two rules apply. A semaphore caps how many submissions talk to the backend
// at once; a request that cannot get a slot within maxWait fails with
// ErrTooManySubmissions. Independently, each key (a session's slot) may have
// only one submission in flight; a second attempt fails immediately with
// ErrSubmissionInFlight.
//
// WaitForDrain blocks until every active submission has finished and is used
// during shutdown.

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrTooManySubmissions is returned when every submission slot stays
	// occupied for the whole wait time.
	ErrTooManySubmissions = errors.New("too many submissions in progress, please try again later")

	// ErrSubmissionInFlight is returned when the same slot is already being submitted.
	ErrSubmissionInFlight = errors.New("submission already in progress for this slot")
)

// DefaultMaxConcurrentSubmissions is the default limit for parallel submissions.
const DefaultMaxConcurrentSubmissions = 4

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// SubmitLimiter controls concurrent submissions with a semaphore and a set
// of in-flight keys.
type SubmitLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu       sync.Mutex
	active   int
	inFlight map[string]struct{}
}

// NewSubmitLimiter creates a limiter that allows at most maxConcurrent
// simultaneous submissions.
func NewSubmitLimiter(maxConcurrent int, maxWait time.Duration) *SubmitLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentSubmissions
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	return &SubmitLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
		inFlight:  make(map[string]struct{}),
	}
}

// Acquire claims key and then a submission slot. The returned release func
// must be called exactly once when the submission completes.
func (l *SubmitLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	l.mu.Lock()
	if _, busy := l.inFlight[key]; busy {
		l.mu.Unlock()
		return nil, ErrSubmissionInFlight
	}
	l.inFlight[key] = struct{}{}
	l.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		var once sync.Once
		return func() { once.Do(func() { l.release(key) }) }, nil

	case <-waitCtx.Done():
		l.forget(key)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrTooManySubmissions
	}
}

func (l *SubmitLimiter) release(key string) {
	l.mu.Lock()
	l.active--
	delete(l.inFlight, key)
	l.mu.Unlock()

	<-l.semaphore
}

func (l *SubmitLimiter) forget(key string) {
	l.mu.Lock()
	delete(l.inFlight, key)
	l.mu.Unlock()
}

// InFlight reports whether key has a submission running or waiting.
func (l *SubmitLimiter) InFlight(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.inFlight[key]
	return ok
}

// ActiveCount returns the number of submissions holding a slot.
func (l *SubmitLimiter) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// MaxConcurrent returns the maximum allowed concurrent submissions.
func (l *SubmitLimiter) MaxConcurrent() int {
	return cap(l.semaphore)
}

// Available returns the number of free slots.
func (l *SubmitLimiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// WaitForDrain blocks until all active submissions complete or ctx is done.
func (l *SubmitLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SubmitLimiterStatus is a snapshot of the limiter's state.
type SubmitLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"maxConcurrent"`
	Waiting       int `json:"waiting"`
}

// Status returns the current limiter state for monitoring.
func (l *SubmitLimiter) Status() SubmitLimiterStatus {
	l.mu.Lock()
	active, keys := l.active, len(l.inFlight)
	l.mu.Unlock()

	return SubmitLimiterStatus{
		Active:        active,
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
		Waiting:       keys - active,
	}
}
