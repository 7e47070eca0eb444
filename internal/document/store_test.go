package document_test

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/speechblobs/internal/document"
)

func rec(id string) *document.Record {
	r := document.NewRecord(nil, nil, 0)
	r.ID = id
	return r
}

func ids(s *document.Store) []string {
	snap := s.Snapshot()
	out := make([]string, len(snap.Records))
	for i, r := range snap.Records {
		out[i] = r.ID
	}
	return out
}

func storeOf(names ...string) *document.Store {
	s := document.New()
	for _, n := range names {
		s.Append(rec(n))
	}
	return s
}

func TestInsert_AtCursorIndex(t *testing.T) {
	s := document.New()
	if got := s.Insert(rec("A"), document.NoCursor); got != 0 {
		t.Errorf("insert A index = %d, want 0", got)
	}
	if got := s.Insert(rec("B"), document.NoCursor); got != 1 {
		t.Errorf("insert B index = %d, want 1", got)
	}
	if got := s.Insert(rec("C"), document.At(1)); got != 1 {
		t.Errorf("insert C index = %d, want 1", got)
	}
	if got, want := ids(s), []string{"A", "C", "B"}; !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestInsert_Clamping(t *testing.T) {
	tests := []struct {
		name    string
		at      document.Cursor
		wantIdx int
	}{
		{name: "unset appends", at: document.NoCursor, wantIdx: 2},
		{name: "past end appends", at: document.At(99), wantIdx: 2},
		{name: "at end", at: document.At(2), wantIdx: 2},
		{name: "front", at: document.At(0), wantIdx: 0},
		{name: "negative is unset", at: document.At(-3), wantIdx: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := storeOf("A", "B")
			if got := s.Insert(rec("X"), tt.at); got != tt.wantIdx {
				t.Errorf("index = %d, want %d", got, tt.wantIdx)
			}
			if got := ids(s)[tt.wantIdx]; got != "X" {
				t.Errorf("record at %d = %s, want X", tt.wantIdx, got)
			}
		})
	}
}

func TestInsert_DuplicateIDIsNoop(t *testing.T) {
	s := storeOf("A", "B")
	dup := rec("A")
	if got := s.Insert(dup, document.At(2)); got != 0 {
		t.Errorf("duplicate insert index = %d, want existing 0", got)
	}
	if got := s.Len(); got != 2 {
		t.Errorf("len = %d, want 2", got)
	}
	if got := s.Insert(nil, document.NoCursor); got != -1 {
		t.Errorf("nil insert index = %d, want -1", got)
	}
}

func TestInsertAtCursor_AdvancesSetCursor(t *testing.T) {
	s := storeOf("A", "B", "C")
	s.SetCursor(document.At(1))

	s.InsertAtCursor(rec("X"))
	s.InsertAtCursor(rec("Y"))

	if got, want := ids(s), []string{"A", "X", "Y", "B", "C"}; !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	if c := s.Cursor(); !c.Is(3) {
		t.Errorf("cursor = %v, want 3", c)
	}
}

func TestInsertAtCursor_UnsetStaysUnset(t *testing.T) {
	s := storeOf("A")
	if got := s.InsertAtCursor(rec("B")); got != 1 {
		t.Errorf("index = %d, want 1", got)
	}
	if s.Cursor().IsSet() {
		t.Errorf("cursor = %v, want unset", s.Cursor())
	}
}

func TestInsertThenRemove_RestoresOriginal(t *testing.T) {
	for at := range 4 {
		s := storeOf("A", "B", "C")
		before := ids(s)
		idx := s.Insert(rec("X"), document.At(at))
		removed, ok := s.Remove(idx)
		if !ok || removed.ID != "X" {
			t.Fatalf("at=%d: removed %v, %v", at, removed, ok)
		}
		if got := ids(s); !slices.Equal(got, before) {
			t.Errorf("at=%d: order = %v, want %v", at, got, before)
		}
	}
}

func TestMove_SpliceSemantics(t *testing.T) {
	tests := []struct {
		from, to int
		want     []string
		changed  bool
	}{
		{from: 0, to: 2, want: []string{"B", "C", "A", "D"}, changed: true},
		{from: 3, to: 0, want: []string{"D", "A", "B", "C"}, changed: true},
		{from: 1, to: 2, want: []string{"A", "C", "B", "D"}, changed: true},
		{from: 0, to: 99, want: []string{"B", "C", "D", "A"}, changed: true},
		{from: 2, to: -5, want: []string{"C", "A", "B", "D"}, changed: true},
		{from: 1, to: 1, want: []string{"A", "B", "C", "D"}, changed: false},
		{from: 4, to: 0, want: []string{"A", "B", "C", "D"}, changed: false},
		{from: -1, to: 0, want: []string{"A", "B", "C", "D"}, changed: false},
	}
	for _, tt := range tests {
		s := storeOf("A", "B", "C", "D")
		if got := s.Move(tt.from, tt.to); got != tt.changed {
			t.Errorf("Move(%d,%d) changed = %v, want %v", tt.from, tt.to, got, tt.changed)
		}
		if got := ids(s); !slices.Equal(got, tt.want) {
			t.Errorf("Move(%d,%d) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestMove_ThenMoveBack_RestoresOriginal(t *testing.T) {
	for from := range 4 {
		for to := range 4 {
			s := storeOf("A", "B", "C", "D")
			before := ids(s)
			s.Move(from, to)
			s.Move(to, from)
			if got := ids(s); !slices.Equal(got, before) {
				t.Errorf("move(%d,%d) then back: %v, want %v", from, to, got, before)
			}
		}
	}
}

func TestMove_InterleavedMutationDoesNotRestore(t *testing.T) {
	s := storeOf("A", "B", "C", "D")
	s.Move(0, 3) // B C D A
	s.Remove(0)  // C D A
	s.Move(3, 0) // out of range: no-op
	if got, want := ids(s), []string{"C", "D", "A"}; !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestRemove_OutOfRangeIsNoop(t *testing.T) {
	s := storeOf("A", "B")
	for _, i := range []int{-1, 2, 50} {
		if _, ok := s.Remove(i); ok {
			t.Errorf("Remove(%d) reported a change", i)
		}
	}
	if got := s.Len(); got != 2 {
		t.Errorf("len = %d", got)
	}
}

func TestRemove_ClampsCursor(t *testing.T) {
	s := storeOf("A", "B", "C")
	s.SetCursor(document.At(3))
	s.Remove(2)
	if c := s.Cursor(); !c.Is(2) {
		t.Errorf("cursor = %v, want 2", c)
	}
	s.SetCursor(document.At(0))
	s.Remove(1)
	if c := s.Cursor(); !c.Is(0) {
		t.Errorf("cursor = %v, want 0 (position, not identity)", c)
	}
}

func TestSetCursor_Clamps(t *testing.T) {
	s := storeOf("A")
	if c := s.SetCursor(document.At(10)); !c.Is(1) {
		t.Errorf("cursor = %v, want 1", c)
	}
	if c := s.SetCursor(document.NoCursor); c.IsSet() {
		t.Errorf("cursor = %v, want unset", c)
	}
}

func TestUpdateCursor_SeesCurrentState(t *testing.T) {
	s := storeOf("A", "B", "C")
	s.SetCursor(document.At(0))
	s.SetCursor(document.At(2)) // moved away by the user

	advanced := false
	s.UpdateCursor(func(cur document.Snapshot) document.Cursor {
		if cur.Cursor.Is(0) {
			advanced = true
			return document.At(1)
		}
		return cur.Cursor
	})
	if advanced {
		t.Error("transform saw a stale cursor")
	}
	if c := s.Cursor(); !c.Is(2) {
		t.Errorf("cursor = %v, want 2", c)
	}
}

func TestResolve_ByID(t *testing.T) {
	s := storeOf("A", "B")
	s.Move(1, 0)
	if !s.Resolve("A", document.Resolved("alpha")) {
		t.Fatal("Resolve(A) = false")
	}
	r, idx, ok := s.Find("A")
	if !ok || idx != 1 {
		t.Fatalf("Find(A) = %v, %d, %v", r, idx, ok)
	}
	if tr := r.Transcription(); tr.Status != document.StatusResolved || tr.Text != "alpha" {
		t.Errorf("transcription = %+v", tr)
	}
	if s.Resolve("A", document.Failed("late")) {
		t.Error("second resolve must be ignored")
	}
}

func TestResolve_AfterRemoveIsSilentNoop(t *testing.T) {
	s := storeOf("A", "B")
	removed, _ := s.Remove(0)
	version := s.Snapshot().Version

	if s.Resolve(removed.ID, document.Resolved("ghost")) {
		t.Error("Resolve on removed record reported a change")
	}
	if got, want := ids(s), []string{"B"}; !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	if s.Snapshot().Version != version {
		t.Error("no-op resolve must not publish a new version")
	}
}

func TestSubscribe_ReceivesCommittedSnapshots(t *testing.T) {
	s := document.New()
	var mu sync.Mutex
	var versions []uint64
	unsub := s.Subscribe(func(snap document.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		versions = append(versions, snap.Version)
	})

	s.Append(rec("A"))
	s.Remove(7) // no change, no event
	s.Resolve("A", document.Resolved("x"))
	unsub()
	s.Append(rec("B"))

	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(versions, []uint64{1, 2}) {
		t.Errorf("versions = %v, want [1 2]", versions)
	}
}

func TestSnapshot_IsImmutable(t *testing.T) {
	s := storeOf("A", "B")
	before := s.Snapshot()
	s.Insert(rec("C"), document.At(0))
	s.Remove(1)
	if before.Records[0].ID != "A" || before.Records[1].ID != "B" || before.Len() != 2 {
		t.Error("earlier snapshot changed after mutations")
	}
}

func TestText_JoinsResolvedInOrder(t *testing.T) {
	s := storeOf("A", "B", "C", "D")
	s.Resolve("C", document.Resolved("world."))
	s.Resolve("A", document.Resolved(" Hello "))
	s.Resolve("B", document.Failed("boom"))
	if got, want := s.Text(), "Hello world."; got != want {
		t.Errorf("Text = %q, want %q", got, want)
	}
}

func TestRecord_Wait(t *testing.T) {
	s := storeOf("A")
	r, _ := s.At(0)
	go s.Resolve("A", document.Resolved("done"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	tr, err := r.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if tr.Text != "done" {
		t.Errorf("Text = %q", tr.Text)
	}
}

func TestCursor_JSON(t *testing.T) {
	tests := []struct {
		c    document.Cursor
		want string
	}{
		{document.NoCursor, "null"},
		{document.At(3), "3"},
	}
	for _, tt := range tests {
		data, err := json.Marshal(tt.c)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if string(data) != tt.want {
			t.Errorf("Marshal(%v) = %s, want %s", tt.c, data, tt.want)
		}
		var back document.Cursor
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if back != tt.c {
			t.Errorf("round trip = %v, want %v", back, tt.c)
		}
	}
}
