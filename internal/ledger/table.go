package ledger

// Table is a keyed record collection whose writes are staged per Tx.
// Values are stored by value; callers get copies and must Put to persist.
type Table[K comparable, V any] struct {
	rows    map[K]V
	owner   *Tx
	overlay map[K]staged[V]
}

type staged[V any] struct {
	val     V
	deleted bool
}

// NewTable creates an empty Table.
func NewTable[K comparable, V any]() *Table[K, V] {
	return &Table[K, V]{rows: make(map[K]V)}
}

// Get returns the value for k as seen by tx, including tx's own staged writes.
func (t *Table[K, V]) Get(tx *Tx, k K) (V, bool) {
	if t.owner == tx && tx != nil {
		if s, ok := t.overlay[k]; ok {
			if s.deleted {
				var zero V
				return zero, false
			}
			return s.val, true
		}
	}
	v, ok := t.rows[k]
	return v, ok
}

// Has reports whether k exists as seen by tx.
func (t *Table[K, V]) Has(tx *Tx, k K) bool {
	_, ok := t.Get(tx, k)
	return ok
}

// Put stages v under k.
func (t *Table[K, V]) Put(tx *Tx, k K, v V) {
	t.stage(tx)
	t.overlay[k] = staged[V]{val: v}
}

// Delete stages the removal of k. Deleting a missing key is a no-op.
func (t *Table[K, V]) Delete(tx *Tx, k K) {
	t.stage(tx)
	t.overlay[k] = staged[V]{deleted: true}
}

// Range calls fn for every live row as seen by tx, in no particular order.
// Iteration stops when fn returns false.
func (t *Table[K, V]) Range(tx *Tx, fn func(K, V) bool) {
	mine := t.owner == tx && tx != nil
	for k, v := range t.rows {
		if mine {
			if _, shadowed := t.overlay[k]; shadowed {
				continue
			}
		}
		if !fn(k, v) {
			return
		}
	}
	if !mine {
		return
	}
	for k, s := range t.overlay {
		if s.deleted {
			continue
		}
		if !fn(k, s.val) {
			return
		}
	}
}

// Len returns the number of live rows as seen by tx.
func (t *Table[K, V]) Len(tx *Tx) int {
	n := 0
	t.Range(tx, func(K, V) bool {
		n++
		return true
	})
	return n
}

func (t *Table[K, V]) stage(tx *Tx) {
	if t.owner == tx {
		return
	}
	tx.Enlist(t)
	t.owner = tx
	t.overlay = make(map[K]staged[V])
}

// Commit applies the staged writes.
func (t *Table[K, V]) Commit() {
	for k, s := range t.overlay {
		if s.deleted {
			delete(t.rows, k)
			continue
		}
		t.rows[k] = s.val
	}
	t.owner = nil
	t.overlay = nil
}

// Discard drops the staged writes.
func (t *Table[K, V]) Discard() {
	t.owner = nil
	t.overlay = nil
}

// Cell is a single transactional value.
type Cell[V any] struct {
	t *Table[struct{}, V]
}

// NewCell creates an unset Cell.
func NewCell[V any]() *Cell[V] {
	return &Cell[V]{t: NewTable[struct{}, V]()}
}

// Get returns the current value and whether it has been set.
func (c *Cell[V]) Get(tx *Tx) (V, bool) {
	return c.t.Get(tx, struct{}{})
}

// Set stages v.
func (c *Cell[V]) Set(tx *Tx, v V) {
	c.t.Put(tx, struct{}{}, v)
}
