package dsync

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// Message Store
// ============================================================================

// Store holds the ordered, duplicate-free message sequence for the active
// conversation. Records are owned by the store: mutation goes through the
// sync coordinator and the ingestion path only, presentation gets read-only
// snapshots.
//
// Internally the store keeps a map keyed by id plus a sorted id index, so
// single-record mutations never rebuild the whole sequence. The externally
// observed sequence is always sorted by CreatedAt ascending.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*Message
	order   []string
	log     zerolog.Logger
	subs    map[int]func([]Message)
	nextSub int
}

// NewStore creates an empty store. Logging is off by default; the engine
// injects its logger on construction.
func NewStore() *Store {
	return &Store{
		byID: make(map[string]*Message),
		subs: make(map[int]func([]Message)),
		log:  zerolog.Nop(),
	}
}

// Subscribe registers a change handler. Every mutating call delivers a fresh
// immutable snapshot to all handlers. The returned function unsubscribes.
func (s *Store) Subscribe(h func([]Message)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = h
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Insert adds a message maintaining sort-by-CreatedAt order. Inserting an id
// that already exists is a no-op: ingestion events and optimistic paths can
// race, and the first record wins.
func (s *Store) Insert(msg *Message) {
	s.mu.Lock()
	if _, ok := s.byID[msg.ID]; ok {
		s.mu.Unlock()
		s.log.Debug().Str("component", "store").Str("id", msg.ID).Msg("insert skipped, id already present")
		return
	}
	c := msg.Clone()
	s.byID[c.ID] = c
	i := s.searchIndex(c.CreatedAt)
	s.order = append(s.order, "")
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = c.ID
	snap, subs := s.snapshotLocked()
	s.mu.Unlock()
	notify(subs, snap)
}

// ReplaceID atomically swaps a provisional record for its canonical twin:
// the old id is removed and the replacement takes its sequence position.
// The provisional CreatedAt is kept for ordering, so a diverging server
// clock never visibly reorders messages the user has already seen; only
// identity and server-owned fields come from the replacement.
//
// A missing oldId is logged and absorbed: the provisional record may already
// have been superseded by an ingestion event.
func (s *Store) ReplaceID(oldID string, repl *Message) {
	s.mu.Lock()
	old, ok := s.byID[oldID]
	if !ok {
		s.mu.Unlock()
		s.log.Debug().Str("component", "store").Str("old_id", oldID).Str("new_id", repl.ID).Msg("replace skipped, old id absent")
		return
	}
	c := repl.Clone()
	c.CreatedAt = old.CreatedAt
	delete(s.byID, oldID)
	s.byID[c.ID] = c
	for i, id := range s.order {
		if id == oldID {
			s.order[i] = c.ID
			break
		}
	}
	snap, subs := s.snapshotLocked()
	s.mu.Unlock()
	notify(subs, snap)
}

// Patch merges partial fields into an existing record. An unknown id is a
// silently absorbed no-op: races between ingestion and local mutation are
// expected, not exceptional.
func (s *Store) Patch(id string, p MessagePatch) {
	s.mu.Lock()
	m, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		s.log.Debug().Str("component", "store").Str("id", id).Msg("patch skipped, id absent")
		return
	}
	if p.Body != nil {
		m.Body = *p.Body
	}
	if p.Edited != nil {
		m.Edited = *p.Edited
	}
	if p.State != nil {
		m.State = *p.State
	}
	if p.LikedBy != nil {
		m.LikedBy = cloneIDs(p.LikedBy)
	}
	if p.DeliveredTo != nil {
		m.DeliveredTo = unionIDs(m.DeliveredTo, p.DeliveredTo)
	}
	if p.ReadBy != nil {
		m.ReadBy = unionIDs(m.ReadBy, p.ReadBy)
	}
	snap, subs := s.snapshotLocked()
	s.mu.Unlock()
	notify(subs, snap)
}

// Remove deletes a message by id. An unknown id is a no-op.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	if _, ok := s.byID[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.byID, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	snap, subs := s.snapshotLocked()
	s.mu.Unlock()
	notify(subs, snap)
}

// Clear removes all messages (conversation teardown).
func (s *Store) Clear() {
	s.mu.Lock()
	s.byID = make(map[string]*Message)
	s.order = s.order[:0]
	snap, subs := s.snapshotLocked()
	s.mu.Unlock()
	notify(subs, snap)
}

// Snapshot returns the current ordered sequence as value copies. Callers
// must not assume it reflects later mutations.
func (s *Store) Snapshot() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copySequence()
}

// Get returns a copy of the message with the given id.
func (s *Store) Get(id string) (*Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Search returns messages whose body contains the query, case-insensitively,
// in sequence order.
func (s *Store) Search(query string) []Message {
	q := strings.ToLower(query)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for _, id := range s.order {
		m := s.byID[id]
		if strings.Contains(strings.ToLower(m.Body), q) {
			out = append(out, *m.Clone())
		}
	}
	return out
}

// ── internals ────────────────────────────────────────────

// searchIndex finds the insertion point that keeps order sorted by
// CreatedAt; equal timestamps insert after existing entries.
func (s *Store) searchIndex(t time.Time) int {
	return sort.Search(len(s.order), func(i int) bool {
		return s.byID[s.order[i]].CreatedAt.After(t)
	})
}

func (s *Store) copySequence() []Message {
	out := make([]Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id].Clone())
	}
	return out
}

// snapshotLocked collects the snapshot and handler list while the lock is
// held; handlers run after it is released.
func (s *Store) snapshotLocked() ([]Message, []func([]Message)) {
	if len(s.subs) == 0 {
		return nil, nil
	}
	handlers := make([]func([]Message), 0, len(s.subs))
	for _, h := range s.subs {
		handlers = append(handlers, h)
	}
	return s.copySequence(), handlers
}

func notify(subs []func([]Message), snap []Message) {
	for _, h := range subs {
		h(snap)
	}
}
