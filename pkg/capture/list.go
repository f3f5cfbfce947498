package capture

// List is the ordered sequence of captures for one kind, oldest first.
// The zero value is an empty list.
type List []Capture

// Add appends c and trims the list to limit captures. Resolved captures
// are dropped oldest first before any pending one, and c itself is kept.
// A non-positive limit keeps every capture.
func (l List) Add(c Capture, limit int) List {
	l = append(l, c)
	excess := len(l) - limit
	if limit <= 0 || excess <= 0 {
		return l
	}

	drop := make(map[int]bool, excess)
	for _, resolved := range []bool{true, false} {
		for i := 0; i < len(l)-1 && len(drop) < excess; i++ {
			if l[i].Valid.Resolved() == resolved {
				drop[i] = true
			}
		}
	}

	out := make(List, 0, limit)
	for i := range l {
		if !drop[i] {
			out = append(out, l[i])
		}
	}
	return out
}

// Index returns the position of the capture with id, or -1.
func (l List) Index(id string) int {
	for i := range l {
		if l[i].ID == id {
			return i
		}
	}
	return -1
}

// Resolve sets the validity of an unresolved capture. It reports false
// when the id is absent or already resolved.
func (l List) Resolve(id string, valid bool) bool {
	i := l.Index(id)
	if i < 0 || l[i].Valid.Resolved() {
		return false
	}
	l[i].Valid = ValidityOf(valid)
	return true
}

// Pending returns the captures still awaiting validation.
func (l List) Pending() List {
	var out List
	for _, c := range l {
		if !c.Valid.Resolved() {
			out = append(out, c)
		}
	}
	return out
}

// PendingCount returns the number of unresolved captures.
func (l List) PendingCount() int {
	n := 0
	for _, c := range l {
		if !c.Valid.Resolved() {
			n++
		}
	}
	return n
}

// HasValid reports whether any capture resolved valid.
func (l List) HasValid() bool {
	for _, c := range l {
		if c.Valid == Valid {
			return true
		}
	}
	return false
}

// AllInvalid reports whether the list is non-empty and every capture
// resolved invalid.
func (l List) AllInvalid() bool {
	if len(l) == 0 {
		return false
	}
	for _, c := range l {
		if c.Valid != Invalid {
			return false
		}
	}
	return true
}

// Clone returns a copy that shares no backing array with l.
func (l List) Clone() List {
	if l == nil {
		return nil
	}
	return append(List(nil), l...)
}
