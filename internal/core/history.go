package core

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Outcome is the end state of a submission attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Submission is the history record of one submit attempt. It carries
// metadata only; the backend's per-file results are never stored.
type Submission struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"sessionId"`
	Slot       string        `json:"slot"`
	FileCount  int           `json:"fileCount"`
	TotalBytes int64         `json:"totalBytes"`
	Outcome    Outcome       `json:"outcome"`
	ErrorCode  string        `json:"errorCode,omitempty"`
	Duration   time.Duration `json:"duration"`
	IPAddress  string        `json:"ipAddress,omitempty"`
	UserAgent  string        `json:"userAgent,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// HistoryFilter narrows Recent. Zero fields match everything.
type HistoryFilter struct {
	SessionID string
	Slot      string
	Outcome   Outcome
	Limit     int
}

const (
	// DefaultHistoryLimit caps Recent when the filter sets no limit.
	DefaultHistoryLimit = 50
	// MaxHistoryLimit is the most records one Recent call returns.
	MaxHistoryLimit = 500
)

// limit returns f.Limit bounded to [1, MaxHistoryLimit], using
// DefaultHistoryLimit when unset.
func (f HistoryFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultHistoryLimit
	case f.Limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return f.Limit
	}
}

// HistoryStore persists submission records.
type HistoryStore interface {
	Record(ctx context.Context, sub Submission) error
	Recent(ctx context.Context, f HistoryFilter) ([]Submission, error)
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// MemoryHistory is a bounded in-process HistoryStore used when no database
// is configured.
type MemoryHistory struct {
	mu      sync.RWMutex
	max     int
	entries []Submission
}

// NewMemoryHistory keeps at most max records; older ones fall off.
func NewMemoryHistory(max int) *MemoryHistory {
	if max <= 0 {
		max = 1000
	}
	return &MemoryHistory{max: max}
}

func (h *MemoryHistory) Record(_ context.Context, sub Submission) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, sub)
	if over := len(h.entries) - h.max; over > 0 {
		h.entries = append([]Submission(nil), h.entries[over:]...)
	}
	return nil
}

func (h *MemoryHistory) Recent(_ context.Context, f HistoryFilter) ([]Submission, error) {
	limit := f.limit()

	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Submission, 0, min(limit, len(h.entries)))
	for i := len(h.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := h.entries[i]
		if f.matches(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (h *MemoryHistory) Purge(_ context.Context, before time.Time) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := h.entries[:0]
	var purged int64
	for _, e := range h.entries {
		if e.CreatedAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	h.entries = kept
	return purged, nil
}

func (f HistoryFilter) matches(s Submission) bool {
	if f.SessionID != "" && s.SessionID != f.SessionID {
		return false
	}
	if f.Slot != "" && s.Slot != f.Slot {
		return false
	}
	if f.Outcome != "" && s.Outcome != f.Outcome {
		return false
	}
	return true
}
