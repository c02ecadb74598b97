package staging

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// ChangeFunc observes the contents of a slot after every mutation.
// files is a snapshot the observer may keep.
type ChangeFunc func(slot Slot, files []PendingFile)

// AddResult reports which files AddFiles accepted and which it turned away.
type AddResult struct {
	Accepted []PendingFile
	Rejected []*RejectionError
}

// Err returns nil when every file was accepted, otherwise one error per
// rejected file aggregated into a multierror.
func (r AddResult) Err() error {
	var errs *multierror.Error
	for _, rej := range r.Rejected {
		errs = multierror.Append(errs, rej)
	}
	return errs.ErrorOrNil()
}

// Store maps each registered slot to its ordered pending files.
// It is safe for concurrent use.
type Store struct {
	registry *Registry

	mu        sync.RWMutex
	slots     map[Slot][]PendingFile
	observers []ChangeFunc
}

// NewStore creates an empty store for the slots in reg.
func NewStore(reg *Registry) *Store {
	s := &Store{
		registry: reg,
		slots:    make(map[Slot][]PendingFile, len(reg.order)),
	}
	for _, slot := range reg.order {
		s.slots[slot] = nil
	}
	return s
}

// Registry returns the registry the store was built from.
func (s *Store) Registry() *Registry { return s.registry }

// OnChange registers fn to be called after each mutation of any slot.
func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// AddFiles appends the files that pass the slot's policy, in input order.
// Rejected files are reported in the result and their sources released;
// the returned error is non-nil only for an unknown slot.
func (s *Store) AddFiles(slot Slot, files ...PendingFile) (AddResult, error) {
	target, ok := s.registry.Lookup(slot)
	if !ok {
		return AddResult{}, fmt.Errorf("%w: %s", ErrUnknownSlot, slot)
	}

	var res AddResult
	for _, f := range files {
		if err := target.Policy.Check(f.Name, f.Size); err != nil {
			res.Rejected = append(res.Rejected, &RejectionError{
				Slot:   slot,
				Name:   f.Name,
				Size:   f.Size,
				Policy: target.Policy,
				Reason: err,
			})
			f.release()
			continue
		}
		res.Accepted = append(res.Accepted, f)
	}

	if len(res.Accepted) == 0 {
		return res, nil
	}

	s.mu.Lock()
	s.slots[slot] = append(s.slots[slot], res.Accepted...)
	snapshot, observers := s.snapshotLocked(slot)
	s.mu.Unlock()

	notify(observers, slot, snapshot)
	return res, nil
}

// RemoveFile removes the file at index and releases it.
func (s *Store) RemoveFile(slot Slot, index int) (PendingFile, error) {
	s.mu.Lock()
	files, ok := s.slots[slot]
	if !ok {
		s.mu.Unlock()
		return PendingFile{}, fmt.Errorf("%w: %s", ErrUnknownSlot, slot)
	}
	if index < 0 || index >= len(files) {
		s.mu.Unlock()
		return PendingFile{}, fmt.Errorf("%w: %d (slot %s holds %d)", ErrIndexOutOfRange, index, slot, len(files))
	}

	removed := files[index]
	next := make([]PendingFile, 0, len(files)-1)
	next = append(next, files[:index]...)
	next = append(next, files[index+1:]...)
	s.slots[slot] = next
	snapshot, observers := s.snapshotLocked(slot)
	s.mu.Unlock()

	notify(observers, slot, snapshot)
	return removed, removed.release()
}

// Clear empties the slot. Observers are notified even when the slot was
// already empty so that input controls reset.
func (s *Store) Clear(slot Slot) error {
	s.mu.Lock()
	files, ok := s.slots[slot]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSlot, slot)
	}
	s.slots[slot] = nil
	observers := s.observersLocked()
	s.mu.Unlock()

	notify(observers, slot, nil)
	return releaseAll(files)
}

// ClearAll empties every slot.
func (s *Store) ClearAll() error {
	var errs *multierror.Error
	for _, slot := range s.registry.order {
		if err := s.Clear(slot); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// Discard removes the given files (matched by ID) from the slot and releases
// them. Files added after the snapshot was taken stay in place.
// It returns how many files were removed.
func (s *Store) Discard(slot Slot, files []PendingFile) (int, error) {
	ids := make(map[string]struct{}, len(files))
	for _, f := range files {
		ids[f.ID] = struct{}{}
	}

	s.mu.Lock()
	current, ok := s.slots[slot]
	if !ok {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrUnknownSlot, slot)
	}
	var kept, dropped []PendingFile
	for _, f := range current {
		if _, hit := ids[f.ID]; hit {
			dropped = append(dropped, f)
		} else {
			kept = append(kept, f)
		}
	}
	s.slots[slot] = kept
	snapshot, observers := s.snapshotLocked(slot)
	s.mu.Unlock()

	notify(observers, slot, snapshot)
	return len(dropped), releaseAll(dropped)
}

// Files returns a snapshot of the slot's files in order.
func (s *Store) Files(slot Slot) ([]PendingFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	files, ok := s.slots[slot]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSlot, slot)
	}
	out := make([]PendingFile, len(files))
	copy(out, files)
	return out, nil
}

// Len returns the number of files in the slot; zero for unknown slots.
func (s *Store) Len(slot Slot) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots[slot])
}

// TotalSize returns the summed size of the slot's files.
func (s *Store) TotalSize(slot Slot) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, f := range s.slots[slot] {
		n += f.Size
	}
	return n
}

func (s *Store) snapshotLocked(slot Slot) ([]PendingFile, []ChangeFunc) {
	files := s.slots[slot]
	snapshot := make([]PendingFile, len(files))
	copy(snapshot, files)
	return snapshot, s.observersLocked()
}

func (s *Store) observersLocked() []ChangeFunc {
	if len(s.observers) == 0 {
		return nil
	}
	out := make([]ChangeFunc, len(s.observers))
	copy(out, s.observers)
	return out
}

func notify(observers []ChangeFunc, slot Slot, files []PendingFile) {
	for _, fn := range observers {
		fn(slot, files)
	}
}

func releaseAll(files []PendingFile) error {
	var errs *multierror.Error
	for _, f := range files {
		if err := f.release(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("release %s: %w", f.Name, err))
		}
	}
	return errs.ErrorOrNil()
}
