package core

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"
)

func TestMemoryHistory_RecentNewestFirst(t *testing.T) {
	h := NewMemoryHistory(10)
	ctx := context.Background()
	base := time.Now()
	for i := 0; i < 5; i++ {
		h.Record(ctx, Submission{ID: fmt.Sprint(i), Slot: "box1", CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}

	got, err := h.Recent(ctx, HistoryFilter{Limit: 3})
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	var ids []string
	for _, s := range got {
		ids = append(ids, s.ID)
	}
	if !reflect.DeepEqual(ids, []string{"4", "3", "2"}) {
		t.Errorf("ids = %v, want [4 3 2]", ids)
	}
}

func TestMemoryHistory_Bounded(t *testing.T) {
	h := NewMemoryHistory(3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		h.Record(ctx, Submission{ID: fmt.Sprint(i), CreatedAt: time.Now()})
	}
	got, _ := h.Recent(ctx, HistoryFilter{Limit: 10})
	if len(got) != 3 {
		t.Errorf("len = %d, want 3", len(got))
	}
}

func TestMemoryHistory_HugeLimit(t *testing.T) {
	h := NewMemoryHistory(0)
	ctx := context.Background()
	h.Record(ctx, Submission{ID: "a", CreatedAt: time.Now()})

	got, err := h.Recent(ctx, HistoryFilter{Limit: 1 << 40})
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("len = %d, want 1", len(got))
	}
}

func TestHistoryFilter_Limit(t *testing.T) {
	tests := map[int]int{
		0:               DefaultHistoryLimit,
		-3:              DefaultHistoryLimit,
		7:               7,
		MaxHistoryLimit: MaxHistoryLimit,
		1 << 40:         MaxHistoryLimit,
	}
	for in, want := range tests {
		if got := (HistoryFilter{Limit: in}).limit(); got != want {
			t.Errorf("HistoryFilter{Limit: %d}.limit() = %d, want %d", in, got, want)
		}
	}
}

func TestMemoryHistory_Filter(t *testing.T) {
	h := NewMemoryHistory(0)
	ctx := context.Background()
	h.Record(ctx, Submission{ID: "a", SessionID: "s1", Slot: "box1", Outcome: OutcomeSucceeded})
	h.Record(ctx, Submission{ID: "b", SessionID: "s1", Slot: "box2", Outcome: OutcomeFailed})
	h.Record(ctx, Submission{ID: "c", SessionID: "s2", Slot: "box1", Outcome: OutcomeFailed})

	tests := []struct {
		filter HistoryFilter
		want   int
	}{
		{HistoryFilter{}, 3},
		{HistoryFilter{SessionID: "s1"}, 2},
		{HistoryFilter{Slot: "box1"}, 2},
		{HistoryFilter{Outcome: OutcomeFailed}, 2},
		{HistoryFilter{SessionID: "s2", Outcome: OutcomeSucceeded}, 0},
	}
	for _, tt := range tests {
		got, _ := h.Recent(ctx, tt.filter)
		if len(got) != tt.want {
			t.Errorf("Recent(%+v) = %d entries, want %d", tt.filter, len(got), tt.want)
		}
	}
}

func TestMemoryHistory_Purge(t *testing.T) {
	h := NewMemoryHistory(0)
	ctx := context.Background()
	now := time.Now()
	h.Record(ctx, Submission{ID: "old", CreatedAt: now.Add(-time.Hour)})
	h.Record(ctx, Submission{ID: "new", CreatedAt: now})

	n, err := h.Purge(ctx, now.Add(-time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("Purge() = %d, %v, want 1", n, err)
	}
	got, _ := h.Recent(ctx, HistoryFilter{})
	if len(got) != 1 || got[0].ID != "new" {
		t.Errorf("remaining = %+v", got)
	}
}

func TestWhereBuilder(t *testing.T) {
	wb := newWhereBuilder()
	wb.add("session_id", "s1")
	wb.add("slot", "")
	wb.add("outcome", "failed")

	where, args := wb.build()
	if where != " WHERE session_id = $1 AND outcome = $2" {
		t.Errorf("where = %q", where)
	}
	if len(args) != 2 || wb.nextArg() != 3 {
		t.Errorf("args = %v, next = %d", args, wb.nextArg())
	}

	empty, _ := newWhereBuilder().build()
	if empty != "" {
		t.Errorf("empty where = %q", empty)
	}
}
