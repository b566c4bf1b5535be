package state

// collection is a list that can hold each id at most once.
type collection[T any] struct {
	idOf  func(T) string
	byID  map[string]T
	order []string

	// newestFirst inserts new ids at the head instead of the tail.
	newestFirst bool
	// limit caps the length when > 0; the tail is dropped.
	limit int
}

func newCollection[T any](idOf func(T) string) collection[T] {
	return collection[T]{idOf: idOf, byID: make(map[string]T)}
}

func (c *collection[T]) items() []T {
	out := make([]T, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

func (c *collection[T]) replace(items []T) {
	c.byID = make(map[string]T, len(items))
	c.order = make([]string, 0, len(items))
	for _, item := range items {
		id := c.idOf(item)
		if _, seen := c.byID[id]; !seen {
			c.order = append(c.order, id)
		}
		c.byID[id] = item
	}
	c.trim()
}

func (c *collection[T]) upsert(item T) {
	id := c.idOf(item)
	if _, ok := c.byID[id]; !ok {
		if c.newestFirst {
			c.order = append([]string{id}, c.order...)
		} else {
			c.order = append(c.order, id)
		}
	}
	c.byID[id] = item
	c.trim()
}

func (c *collection[T]) remove(id string) bool {
	if _, ok := c.byID[id]; !ok {
		return false
	}
	delete(c.byID, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

func (c *collection[T]) removeWhere(pred func(T) bool) int {
	kept := c.order[:0]
	removed := 0
	for _, id := range c.order {
		if pred(c.byID[id]) {
			delete(c.byID, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	c.order = kept
	return removed
}

func (c *collection[T]) trim() {
	if c.limit <= 0 || len(c.order) <= c.limit {
		return
	}
	for _, id := range c.order[c.limit:] {
		delete(c.byID, id)
	}
	c.order = c.order[:c.limit]
}
