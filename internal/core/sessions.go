package core

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/bridgette/internal/spool"
	"github.com/JonMunkholm/bridgette/internal/staging"
)

// NewSessionID returns a fresh opaque session id.
func NewSessionID() string { return uuid.New().String() }

type session struct {
	store    *staging.Store
	created  time.Time
	lastSeen time.Time
}

// SessionInfo describes a live session.
type SessionInfo struct {
	ID       string    `json:"id"`
	Created  time.Time `json:"created"`
	LastSeen time.Time `json:"last_seen"`
	Files    int       `json:"files"`
}

// sessions holds one staging store per session id.
type sessions struct {
	registry *staging.Registry

	mu    sync.Mutex
	byID  map[string]*session
	clock func() time.Time
}

func newSessions(reg *staging.Registry) *sessions {
	return &sessions{
		registry: reg,
		byID:     make(map[string]*session),
		clock:    time.Now,
	}
}

// get returns the store for id, creating it on first use, and marks the
// session as seen.
func (s *sessions) get(id string) *staging.Store {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	sess, ok := s.byID[id]
	if !ok {
		sess = &session{store: staging.NewStore(s.registry), created: now}
		sess.store.OnChange(func(slot staging.Slot, files []staging.PendingFile) {
			s.touch(id)
			slog.Debug("slot changed", "session", id, "slot", slot, "files", len(files))
		})
		s.byID[id] = sess
	}
	sess.lastSeen = now
	return sess.store
}

// touch marks id as seen if it is still live. A submission that ends long
// after the request that started it keeps its session from expiring.
func (s *sessions) touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.byID[id]; ok {
		sess.lastSeen = s.clock()
	}
}

// drop forgets id and returns its store, if any.
func (s *sessions) drop(id string) (*staging.Store, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	delete(s.byID, id)
	return sess.store, true
}

// expire removes every session idle for longer than ttl and returns their stores.
func (s *sessions) expire(ttl time.Duration) map[string]*staging.Store {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock().Add(-ttl)
	out := make(map[string]*staging.Store)
	for id, sess := range s.byID {
		if sess.lastSeen.Before(cutoff) {
			out[id] = sess.store
			delete(s.byID, id)
		}
	}
	return out
}

func (s *sessions) list() []SessionInfo {
	s.mu.Lock()
	infos := make([]SessionInfo, 0, len(s.byID))
	stores := make([]*staging.Store, 0, len(s.byID))
	for id, sess := range s.byID {
		infos = append(infos, SessionInfo{ID: id, Created: sess.created, LastSeen: sess.lastSeen})
		stores = append(stores, sess.store)
	}
	s.mu.Unlock()

	for i, st := range stores {
		for _, slot := range s.registry.Slots() {
			infos[i].Files += st.Len(slot)
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].LastSeen.After(infos[j].LastSeen) })
	return infos
}

// spooled returns the ids of every spooled file a live session still holds.
func (s *sessions) spooled() map[string]bool {
	s.mu.Lock()
	stores := make([]*staging.Store, 0, len(s.byID))
	for _, sess := range s.byID {
		stores = append(stores, sess.store)
	}
	s.mu.Unlock()

	ids := make(map[string]bool)
	for _, st := range stores {
		for _, slot := range s.registry.Slots() {
			files, _ := st.Files(slot)
			for _, f := range files {
				if b, ok := f.Source.(*spool.Blob); ok {
					ids[b.ID()] = true
				}
			}
		}
	}
	return ids
}
