package directive

// KeyTable is the ordered set of citation keys seen in one document scope.
// A key's index is fixed at first sight.
type KeyTable struct {
	keys  []string
	index map[string]int
}

// NewKeyTable returns an empty table.
func NewKeyTable() *KeyTable {
	return &KeyTable{index: map[string]int{}}
}

// Add records key if it is new and returns its index.
func (t *KeyTable) Add(key string) int {
	if i, ok := t.index[key]; ok {
		return i
	}
	i := len(t.keys)
	t.keys = append(t.keys, key)
	t.index[key] = i
	return i
}

// Index returns the index of key.
func (t *KeyTable) Index(key string) (int, bool) {
	i, ok := t.index[key]
	return i, ok
}

// Keys returns a copy of the keys in first-seen order.
func (t *KeyTable) Keys() []string {
	return append([]string(nil), t.keys...)
}

// Len returns the number of distinct keys.
func (t *KeyTable) Len() int { return len(t.keys) }
