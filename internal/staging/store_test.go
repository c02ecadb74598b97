package staging

import (
	"errors"
	"io"
	"sync"
	"testing"
)

// countingSource records how many times it was released.
type countingSource struct {
	mu       sync.Mutex
	released int
}

func (c *countingSource) Open() (io.ReadCloser, error) { return Bytes("a,b\n1,2\n").Open() }

func (c *countingSource) Release() error {
	c.mu.Lock()
	c.released++
	c.mu.Unlock()
	return nil
}

func (c *countingSource) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

func file(name string, size int64) PendingFile {
	return NewPendingFile(name, size, Bytes(nil))
}

func names(files []PendingFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Name
	}
	return out
}

func equalNames(t *testing.T, got []PendingFile, want ...string) {
	t.Helper()
	g := names(got)
	if len(g) != len(want) {
		t.Fatalf("files = %v, want %v", g, want)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Fatalf("files = %v, want %v", g, want)
		}
	}
}

func newMultiStore() *Store {
	return NewStore(DefaultRegistry(ModeMulti, 0))
}

func TestStore_AddFiles_PreservesOrder(t *testing.T) {
	s := newMultiStore()

	res, err := s.AddFiles(SlotBox1, file("report.xlsx", 2*MB), file("data.csv", 1*MB))
	if err != nil {
		t.Fatalf("AddFiles error = %v", err)
	}
	if len(res.Rejected) != 0 {
		t.Fatalf("unexpected rejections: %v", res.Err())
	}
	if res.Err() != nil {
		t.Errorf("Err() = %v, want nil", res.Err())
	}

	files, _ := s.Files(SlotBox1)
	equalNames(t, files, "report.xlsx", "data.csv")
	if got := s.Len(SlotBox1); got != len(files) {
		t.Errorf("Len = %d, want %d", got, len(files))
	}
	if got := s.TotalSize(SlotBox1); got != 3*MB {
		t.Errorf("TotalSize = %d, want %d", got, 3*MB)
	}
}

func TestStore_AddFiles_NoDeduplication(t *testing.T) {
	s := newMultiStore()
	s.AddFiles(SlotBox1, file("data.csv", 10))
	s.AddFiles(SlotBox1, file("data.csv", 10))

	if got := s.Len(SlotBox1); got != 2 {
		t.Errorf("Len = %d, want 2", got)
	}
}

func TestStore_AddFiles_RejectsOversized(t *testing.T) {
	s := newMultiStore()

	res, err := s.AddFiles(SlotBox1, file("huge.csv", 60*MB))
	if err != nil {
		t.Fatalf("AddFiles error = %v", err)
	}
	if len(res.Rejected) != 1 {
		t.Fatalf("Rejected = %d, want 1", len(res.Rejected))
	}
	if !errors.Is(res.Rejected[0], ErrFileTooLarge) {
		t.Errorf("rejection reason = %v, want ErrFileTooLarge", res.Rejected[0].Reason)
	}
	if got := s.Len(SlotBox1); got != 0 {
		t.Errorf("Len = %d, want 0", got)
	}
	if !errors.Is(res.Err(), ErrFileTooLarge) {
		t.Errorf("Err() = %v, want to wrap ErrFileTooLarge", res.Err())
	}
}

func TestStore_AddFiles_SizeBoundary(t *testing.T) {
	s := newMultiStore()

	s.AddFiles(SlotBox1, file("edge.csv", 50*MB), file("over.csv", 50*MB+1))

	files, _ := s.Files(SlotBox1)
	equalNames(t, files, "edge.csv")
}

func TestStore_AddFiles_RejectsExtension(t *testing.T) {
	s := newMultiStore()

	res, _ := s.AddFiles(SlotBox1,
		file("notes.txt", 10),
		file("schema.json", 10),
		file("noext", 10),
		file("ok.CSV", 10),
	)

	if len(res.Rejected) != 3 {
		t.Fatalf("Rejected = %d, want 3: %v", len(res.Rejected), res.Err())
	}
	for _, rej := range res.Rejected {
		if !errors.Is(rej, ErrUnsupportedType) {
			t.Errorf("%s: reason = %v, want ErrUnsupportedType", rej.Name, rej.Reason)
		}
	}
	files, _ := s.Files(SlotBox1)
	equalNames(t, files, "ok.CSV")
}

func TestStore_AddFiles_SchemaSlotAllowsJSON(t *testing.T) {
	s := newMultiStore()

	res, _ := s.AddFiles(SlotSchemaBox2, file("schema.json", 10))
	if len(res.Rejected) != 0 {
		t.Fatalf("schema slot rejected json: %v", res.Err())
	}
}

func TestStore_AddFiles_ReleasesRejected(t *testing.T) {
	s := newMultiStore()
	src := &countingSource{}

	s.AddFiles(SlotBox1, NewPendingFile("bad.txt", 1, src))

	if got := src.count(); got != 1 {
		t.Errorf("released = %d, want 1", got)
	}
}

func TestStore_AddFiles_UnknownSlot(t *testing.T) {
	s := NewStore(DefaultRegistry(ModeSingle, 0))

	_, err := s.AddFiles(SlotBox2, file("data.csv", 1))
	if !errors.Is(err, ErrUnknownSlot) {
		t.Errorf("error = %v, want ErrUnknownSlot", err)
	}
}

func TestStore_SingleModeLimit(t *testing.T) {
	s := NewStore(DefaultRegistry(ModeSingle, 0))

	res, _ := s.AddFiles(SlotBox1, file("big.csv", 11*MB), file("small.csv", 9*MB))

	if len(res.Rejected) != 1 || res.Rejected[0].Name != "big.csv" {
		t.Fatalf("Rejected = %v, want big.csv", res.Err())
	}
	files, _ := s.Files(SlotBox1)
	equalNames(t, files, "small.csv")
}

func TestStore_RemoveFile(t *testing.T) {
	s := newMultiStore()
	src := &countingSource{}
	s.AddFiles(SlotBox1, file("a.csv", 1), NewPendingFile("b.csv", 1, src), file("c.csv", 1))

	removed, err := s.RemoveFile(SlotBox1, 1)
	if err != nil {
		t.Fatalf("RemoveFile error = %v", err)
	}
	if removed.Name != "b.csv" {
		t.Errorf("removed = %s, want b.csv", removed.Name)
	}
	if src.count() != 1 {
		t.Errorf("removed file not released")
	}

	files, _ := s.Files(SlotBox1)
	equalNames(t, files, "a.csv", "c.csv")
}

func TestStore_RemoveFile_OutOfRange(t *testing.T) {
	s := newMultiStore()
	s.AddFiles(SlotBox1, file("a.csv", 1))

	for _, idx := range []int{-1, 1, 5} {
		if _, err := s.RemoveFile(SlotBox1, idx); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("RemoveFile(%d) error = %v, want ErrIndexOutOfRange", idx, err)
		}
	}
	if got := s.Len(SlotBox1); got != 1 {
		t.Errorf("Len = %d, want 1", got)
	}
}

func TestStore_Clear(t *testing.T) {
	s := newMultiStore()
	src := &countingSource{}
	s.AddFiles(SlotBox2, NewPendingFile("a.csv", 1, src), NewPendingFile("b.csv", 1, src))
	s.AddFiles(SlotBox1, file("keep.csv", 1))

	var notified []PendingFile
	calls := 0
	s.OnChange(func(slot Slot, files []PendingFile) {
		if slot == SlotBox2 {
			calls++
			notified = files
		}
	})

	if err := s.Clear(SlotBox2); err != nil {
		t.Fatalf("Clear error = %v", err)
	}
	if got := s.Len(SlotBox2); got != 0 {
		t.Errorf("Len = %d, want 0", got)
	}
	if calls != 1 || len(notified) != 0 {
		t.Errorf("observer calls = %d with %d files, want 1 with 0", calls, len(notified))
	}
	if src.count() != 2 {
		t.Errorf("released = %d, want 2", src.count())
	}
	if got := s.Len(SlotBox1); got != 1 {
		t.Errorf("other slot Len = %d, want 1", got)
	}
}

func TestStore_Discard_KeepsLateArrivals(t *testing.T) {
	s := newMultiStore()
	s.AddFiles(SlotBox1, file("a.csv", 1), file("b.csv", 1))
	submitted, _ := s.Files(SlotBox1)

	s.AddFiles(SlotBox1, file("late.csv", 1))

	n, err := s.Discard(SlotBox1, submitted)
	if err != nil {
		t.Fatalf("Discard error = %v", err)
	}
	if n != 2 {
		t.Errorf("discarded = %d, want 2", n)
	}
	files, _ := s.Files(SlotBox1)
	equalNames(t, files, "late.csv")
}

func TestStore_FilesIsSnapshot(t *testing.T) {
	s := newMultiStore()
	s.AddFiles(SlotBox1, file("a.csv", 1))

	files, _ := s.Files(SlotBox1)
	files[0].Name = "mutated.csv"

	again, _ := s.Files(SlotBox1)
	equalNames(t, again, "a.csv")
}

func TestStore_ConcurrentAdds(t *testing.T) {
	s := newMultiStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.AddFiles(SlotBox1, file("data.csv", 1))
		}()
	}
	wg.Wait()

	if got := s.Len(SlotBox1); got != 50 {
		t.Errorf("Len = %d, want 50", got)
	}
}
