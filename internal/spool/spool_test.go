package spool

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/bridgette/internal/staging"
)

var (
	_ staging.Source   = (*Blob)(nil)
	_ staging.Releaser = (*Blob)(nil)
)

func TestSpool_SaveOpenRelease(t *testing.T) {
	sp, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	blob, err := sp.Save("data.csv", strings.NewReader("id,name\n1,alice\n"), 0)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if blob.Size() != 16 {
		t.Errorf("Size = %d, want 16", blob.Size())
	}
	if blob.Name() != "data.csv" {
		t.Errorf("Name = %q, want data.csv", blob.Name())
	}

	rc, err := blob.Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != "id,name\n1,alice\n" {
		t.Errorf("content = %q", got)
	}

	if err := blob.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(sp.Dir(), blob.ID()+".part")); !os.IsNotExist(err) {
		t.Errorf("spool file still present after Release")
	}
	if err := blob.Release(); err != nil {
		t.Errorf("second Release() error = %v, want nil", err)
	}
	if _, err := blob.Open(); err == nil {
		t.Error("Open() after Release succeeded")
	}
}

func TestSpool_SaveStopsPastLimit(t *testing.T) {
	sp, _ := New(t.TempDir())

	blob, err := sp.Save("big.csv", strings.NewReader(strings.Repeat("x", 100)), 10)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if blob.Size() != 11 {
		t.Errorf("Size = %d, want limit+1 (11)", blob.Size())
	}
}

func TestSpool_PurgeOlderThan(t *testing.T) {
	sp, _ := New(t.TempDir())

	old, _ := sp.Save("old.csv", strings.NewReader("a"), 0)
	sp.mu.Lock()
	sp.entries[old.ID()].CreatedAt = time.Now().Add(-2 * time.Hour)
	sp.mu.Unlock()
	fresh, _ := sp.Save("fresh.csv", strings.NewReader("b"), 0)

	n, err := sp.PurgeOlderThan(time.Hour, nil)
	if err != nil {
		t.Fatalf("PurgeOlderThan() error = %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
	if _, err := sp.Get(fresh.ID()); err != nil {
		t.Errorf("fresh entry purged: %v", err)
	}
	if count, bytes := sp.Usage(); count != 1 || bytes != 1 {
		t.Errorf("Usage = %d/%d, want 1/1", count, bytes)
	}
}

func TestSpool_PurgeKeepsReferenced(t *testing.T) {
	sp, _ := New(t.TempDir())

	kept, _ := sp.Save("kept.csv", strings.NewReader("a"), 0)
	dropped, _ := sp.Save("dropped.csv", strings.NewReader("b"), 0)
	sp.mu.Lock()
	for _, e := range sp.entries {
		e.CreatedAt = time.Now().Add(-2 * time.Hour)
	}
	sp.mu.Unlock()

	n, err := sp.PurgeOlderThan(time.Hour, func(id string) bool { return id == kept.ID() })
	if err != nil {
		t.Fatalf("PurgeOlderThan() error = %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
	rc, err := sp.Open(kept.ID())
	if err != nil {
		t.Errorf("referenced entry purged: %v", err)
	} else {
		rc.Close()
	}
	if _, err := sp.Open(dropped.ID()); err == nil {
		t.Error("unreferenced entry survived")
	}
}

func TestNew_RemovesLeftovers(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "stale.part")
	os.WriteFile(stale, []byte("x"), 0o644)

	if _, err := New(dir); err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("leftover spool file not removed")
	}
}
