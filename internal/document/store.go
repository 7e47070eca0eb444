// Package document holds the dictated document: an ordered list of utterance
// records plus the insertion cursor.
//
// Every mutation is a transform from the current [Snapshot] to a new one,
// applied under a single lock. Record slices are copy-on-write, so a
// snapshot handed out earlier never changes underneath its holder.
//
// Operations are total. Out-of-range indices are clamped (insert, move
// target) or turn the call into a no-op (move source, remove).
package document

import (
	"strings"
	"sync"
)

// Snapshot is an immutable view of the document.
//
// Records must not be modified by the receiver.
type Snapshot struct {
	Records []*Record
	Cursor  Cursor

	// Version increases with every change, including transcription
	// updates that leave the order untouched.
	Version uint64
}

// Len returns the number of records.
func (s Snapshot) Len() int { return len(s.Records) }

// IndexOf returns the position of the record with the given ID, or -1.
func (s Snapshot) IndexOf(id string) int {
	for i, r := range s.Records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// Store is the mutable document. The zero value is an empty document with an
// unset cursor.
type Store struct {
	mu   sync.Mutex
	snap Snapshot

	lmu       sync.Mutex
	listeners map[int]func(Snapshot)
	nextID    int
}

// New returns an empty store.
func New() *Store { return &Store{} }

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Len returns the number of records.
func (s *Store) Len() int { return s.Snapshot().Len() }

// At returns the record at index i.
func (s *Store) At(i int) (*Record, bool) {
	snap := s.Snapshot()
	if i < 0 || i >= len(snap.Records) {
		return nil, false
	}
	return snap.Records[i], true
}

// Find returns the record with the given ID and its index.
func (s *Store) Find(id string) (*Record, int, bool) {
	snap := s.Snapshot()
	i := snap.IndexOf(id)
	if i < 0 {
		return nil, -1, false
	}
	return snap.Records[i], i, true
}

// Cursor returns the current cursor.
func (s *Store) Cursor() Cursor { return s.Snapshot().Cursor }

// Subscribe registers fn to receive every new snapshot after it is
// committed. fn runs on the mutating goroutine without the store lock held;
// snapshots from concurrent mutations may arrive out of order, so consumers
// should compare Version. The returned function unsubscribes.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	if s.listeners == nil {
		s.listeners = make(map[int]func(Snapshot))
	}
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		delete(s.listeners, id)
	}
}

// update applies fn to the current snapshot. When fn reports a change the
// result is committed with a bumped version and published.
func (s *Store) update(fn func(Snapshot) (Snapshot, bool)) (Snapshot, bool) {
	s.mu.Lock()
	next, changed := fn(s.snap)
	if changed {
		next.Version = s.snap.Version + 1
		s.snap = next
	}
	cur := s.snap
	s.mu.Unlock()

	if changed {
		s.publish(cur)
	}
	return cur, changed
}

func (s *Store) publish(snap Snapshot) {
	s.lmu.Lock()
	fns := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.lmu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// Insert places rec at the cursor's index, or at the end when the cursor is
// unset or past the end, and returns the index used. The document cursor is
// not changed. Inserting a nil record returns -1; inserting a record whose ID
// is already present changes nothing and returns its current index.
func (s *Store) Insert(rec *Record, at Cursor) int {
	idx := -1
	s.update(func(cur Snapshot) (Snapshot, bool) {
		if rec == nil {
			return cur, false
		}
		if i := cur.IndexOf(rec.ID); i >= 0 {
			idx = i
			return cur, false
		}
		idx = insertIndex(at, len(cur.Records))
		cur.Records = insertAt(cur.Records, idx, rec)
		return cur, true
	})
	return idx
}

// Append inserts rec at the end.
func (s *Store) Append(rec *Record) int { return s.Insert(rec, NoCursor) }

// InsertAtCursor inserts rec at the document cursor and, when the cursor is
// set, advances it to just after the new record so consecutive utterances
// keep their spoken order. An unset cursor stays unset.
func (s *Store) InsertAtCursor(rec *Record) int {
	idx := -1
	s.update(func(cur Snapshot) (Snapshot, bool) {
		if rec == nil {
			return cur, false
		}
		if i := cur.IndexOf(rec.ID); i >= 0 {
			idx = i
			return cur, false
		}
		idx = insertIndex(cur.Cursor, len(cur.Records))
		cur.Records = insertAt(cur.Records, idx, rec)
		if cur.Cursor.IsSet() {
			cur.Cursor = At(idx + 1)
		}
		return cur, true
	})
	return idx
}

// Move relocates the record at from so that it ends up at index to, where to
// is interpreted against the sequence with the record already removed. An
// out-of-range from is a no-op; to is clamped. Reports whether the order
// changed.
func (s *Store) Move(from, to int) bool {
	_, changed := s.update(func(cur Snapshot) (Snapshot, bool) {
		n := len(cur.Records)
		if from < 0 || from >= n {
			return cur, false
		}
		to = min(max(to, 0), n-1)
		if to == from {
			return cur, false
		}
		rec := cur.Records[from]
		cur.Records = insertAt(removeAt(cur.Records, from), to, rec)
		return cur, true
	})
	return changed
}

// Remove deletes the record at index and shifts later records left. The
// cursor is clamped to the new length. An out-of-range index is a no-op.
func (s *Store) Remove(index int) (*Record, bool) {
	var removed *Record
	_, changed := s.update(func(cur Snapshot) (Snapshot, bool) {
		if index < 0 || index >= len(cur.Records) {
			return cur, false
		}
		removed = cur.Records[index]
		cur.Records = removeAt(cur.Records, index)
		cur.Cursor = cur.Cursor.clamp(len(cur.Records))
		return cur, true
	})
	return removed, changed
}

// Resolve attaches a transcription outcome to the record with the given ID.
// If the record is no longer in the document, or was already resolved, the
// call is a no-op and returns false; it never re-inserts anything.
func (s *Store) Resolve(id string, tr Transcription) bool {
	_, changed := s.update(func(cur Snapshot) (Snapshot, bool) {
		i := cur.IndexOf(id)
		if i < 0 {
			return cur, false
		}
		return cur, cur.Records[i].settle(tr)
	})
	return changed
}

// SetCursor moves the cursor. A set cursor past the end is clamped to the
// end.
func (s *Store) SetCursor(c Cursor) Cursor {
	snap, _ := s.update(func(cur Snapshot) (Snapshot, bool) {
		next := c.clamp(len(cur.Records))
		if next == cur.Cursor {
			return cur, false
		}
		cur.Cursor = next
		return cur, true
	})
	return snap.Cursor
}

// UpdateCursor replaces the cursor with fn's result, computed from the
// current snapshot under the store lock. Completion handlers use this to
// decide on the cursor they actually see rather than one captured earlier.
// The result is not clamped.
func (s *Store) UpdateCursor(fn func(Snapshot) Cursor) Cursor {
	snap, _ := s.update(func(cur Snapshot) (Snapshot, bool) {
		next := fn(cur)
		if next == cur.Cursor {
			return cur, false
		}
		cur.Cursor = next
		return cur, true
	})
	return snap.Cursor
}

// Text joins the resolved transcriptions in document order, separated by
// single spaces. Pending and failed records are skipped.
func (s *Store) Text() string {
	snap := s.Snapshot()
	parts := make([]string, 0, len(snap.Records))
	for _, r := range snap.Records {
		tr := r.Transcription()
		if tr.Status != StatusResolved {
			continue
		}
		if t := strings.TrimSpace(tr.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func insertIndex(c Cursor, n int) int {
	if i, ok := c.Index(); ok && i <= n {
		return i
	}
	return n
}

// insertAt returns a new slice with rec at index i. records is not modified.
func insertAt(records []*Record, i int, rec *Record) []*Record {
	out := make([]*Record, 0, len(records)+1)
	out = append(out, records[:i]...)
	out = append(out, rec)
	return append(out, records[i:]...)
}

// removeAt returns a new slice without index i. records is not modified.
func removeAt(records []*Record, i int) []*Record {
	out := make([]*Record, 0, len(records)-1)
	out = append(out, records[:i]...)
	return append(out, records[i+1:]...)
}
