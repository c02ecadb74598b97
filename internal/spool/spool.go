// Package spool keeps the bytes of files uploaded through the web UI on
// local disk until they are submitted, removed, or swept.
package spool

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// Entry is metadata about one spooled file.
type Entry struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// Spool stores uploaded bytes under uuid-named files in one directory.
type Spool struct {
	dir string

	mu      sync.RWMutex
	entries map[string]*Entry
}

// New creates the spool directory if needed. Files left over from a previous
// process are removed since nothing references them any more.
func New(dir string) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating spool directory: %w", err)
	}
	leftovers, err := filepath.Glob(filepath.Join(dir, "*.part"))
	if err != nil {
		return nil, fmt.Errorf("scanning spool directory: %w", err)
	}
	for _, p := range leftovers {
		os.Remove(p)
	}
	return &Spool{
		dir:     dir,
		entries: make(map[string]*Entry),
	}, nil
}

// Dir returns the spool directory.
func (s *Spool) Dir() string { return s.dir }

// Save copies r into the spool, reading at most limit+1 bytes so that an
// oversized upload is detected without buffering it whole. A non-positive
// limit disables the cap.
func (s *Spool) Save(name string, r io.Reader, limit int64) (*Blob, error) {
	id := uuid.New().String()
	path := s.path(id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating spool file: %w", err)
	}
	defer f.Close()

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	size, err := io.Copy(f, src)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing spool file: %w", err)
	}

	entry := &Entry{ID: id, Name: name, Size: size, CreatedAt: time.Now()}
	s.mu.Lock()
	s.entries[id] = entry
	s.mu.Unlock()

	return &Blob{spool: s, entry: *entry}, nil
}

// Get returns the metadata for id.
func (s *Spool) Get(id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("spool entry not found: %s", id)
	}
	return *e, nil
}

// Usage returns the number of entries and their summed size.
func (s *Spool) Usage() (count int, bytes int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		bytes += e.Size
	}
	return len(s.entries), bytes
}

// Open opens the spooled content of id.
func (s *Spool) Open(id string) (io.ReadCloser, error) {
	if _, err := s.Get(id); err != nil {
		return nil, err
	}
	return os.Open(s.path(id))
}

// Delete removes id from the spool. Deleting an unknown id is not an error
// so that release paths can run more than once.
func (s *Spool) Delete(id string) error {
	s.mu.Lock()
	_, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting spool file: %w", err)
	}
	return nil
}

// PurgeOlderThan deletes entries created before now-maxAge for which keep
// returns false, and returns how many were removed. A nil keep purges every
// old entry.
func (s *Spool) PurgeOlderThan(maxAge time.Duration, keep func(id string) bool) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	s.mu.RLock()
	var stale []string
	for id, e := range s.entries {
		if e.CreatedAt.Before(cutoff) && (keep == nil || !keep(id)) {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	var errs *multierror.Error
	for _, id := range stale {
		if err := s.Delete(id); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return len(stale), errs.ErrorOrNil()
}

func (s *Spool) path(id string) string {
	return filepath.Join(s.dir, id+".part")
}

// Blob is a spooled file. It satisfies staging.Source and staging.Releaser.
type Blob struct {
	spool *Spool
	entry Entry
}

// ID returns the spool id.
func (b *Blob) ID() string { return b.entry.ID }

// Name returns the original file name.
func (b *Blob) Name() string { return b.entry.Name }

// Size returns the number of bytes stored.
func (b *Blob) Size() int64 { return b.entry.Size }

// Open opens the stored bytes.
func (b *Blob) Open() (io.ReadCloser, error) { return b.spool.Open(b.entry.ID) }

// Release deletes the stored bytes.
func (b *Blob) Release() error { return b.spool.Delete(b.entry.ID) }
