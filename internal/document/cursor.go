package document

import (
	"encoding/json"
	"strconv"
)

// Cursor is an optional insertion position. The zero value is unset, which
// means "append at the end".
//
// A cursor is a position, not a record identity: removing or moving records
// does not make it follow a particular record.
type Cursor struct {
	index int
	set   bool
}

// NoCursor is the unset cursor.
var NoCursor = Cursor{}

// At returns a cursor set to index i. Negative indices yield the unset cursor.
func At(i int) Cursor {
	if i < 0 {
		return NoCursor
	}
	return Cursor{index: i, set: true}
}

// Index returns the position and whether the cursor is set.
func (c Cursor) Index() (int, bool) { return c.index, c.set }

// IsSet reports whether the cursor holds a position.
func (c Cursor) IsSet() bool { return c.set }

// Is reports whether the cursor is set to exactly i.
func (c Cursor) Is(i int) bool { return c.set && c.index == i }

// clamp bounds a set cursor to [0, n].
func (c Cursor) clamp(n int) Cursor {
	if c.set && c.index > n {
		return At(n)
	}
	return c
}

// String returns the index, or "unset".
func (c Cursor) String() string {
	if !c.set {
		return "unset"
	}
	return strconv.Itoa(c.index)
}

// MarshalJSON encodes the cursor as its index or null.
func (c Cursor) MarshalJSON() ([]byte, error) {
	if !c.set {
		return []byte("null"), nil
	}
	return json.Marshal(c.index)
}

// UnmarshalJSON decodes an index or null.
func (c *Cursor) UnmarshalJSON(data []byte) error {
	var v *int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v == nil {
		*c = NoCursor
		return nil
	}
	*c = At(*v)
	return nil
}
