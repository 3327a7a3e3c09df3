package explorer

// Cache holds one fetched listing per directory path. Keys are
// "/"-joined path segments; "" is the account root. Stored slices are
// copied on every write so callers can mutate their working view
// without corrupting the snapshot.
type Cache struct {
	entries map[string][]Entry
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string][]Entry)}
}

func (c *Cache) Has(pathKey string) bool {
	_, ok := c.entries[pathKey]
	return ok
}

// Get returns a copy of the cached listing for pathKey.
func (c *Cache) Get(pathKey string) ([]Entry, bool) {
	cached, ok := c.entries[pathKey]
	if !ok {
		return nil, false
	}
	out := make([]Entry, len(cached))
	copy(out, cached)
	return out, true
}

func (c *Cache) Set(pathKey string, entries []Entry) {
	stored := make([]Entry, len(entries))
	copy(stored, entries)
	c.entries[pathKey] = stored
}

// Delete invalidates the snapshot for pathKey, forcing a re-fetch on
// the next visit.
func (c *Cache) Delete(pathKey string) {
	delete(c.entries, pathKey)
}

// Confirm replaces the optimistic entry identified by tempID with its
// server-confirmed form. When the snapshot never saw the optimistic
// entry the confirmed one is appended so a later cache hit still shows
// it; when the whole path was invalidated concurrently this is a no-op.
func (c *Cache) Confirm(pathKey, tempID string, confirmed Entry) {
	cached, ok := c.Get(pathKey)
	if !ok {
		return
	}

	confirmed.Optimistic = false
	confirmed.TempID = ""

	replaced := false
	for i := range cached {
		if cached[i].TempID == tempID {
			cached[i] = confirmed
			replaced = true
			break
		}
	}
	if !replaced {
		cached = append(cached, confirmed)
	}

	SortEntries(cached)
	c.entries[pathKey] = cached
}

// Remove drops the optimistic entry identified by tempID from the
// snapshot, if both still exist.
func (c *Cache) Remove(pathKey, tempID string) {
	cached, ok := c.Get(pathKey)
	if !ok {
		return
	}
	kept := cached[:0]
	for _, entry := range cached {
		if entry.TempID != tempID {
			kept = append(kept, entry)
		}
	}
	c.entries[pathKey] = kept
}
