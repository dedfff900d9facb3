// Package cache provides the in-memory rendezvous between HTTP handlers
// and workers: a concurrent map from task key to a per-key cell holding
// live state and a condition variable. Workers broadcast on every status
// transition; pollers read snapshots and dependent workers block until
// the state they need appears.
package cache

import "sync"

// Cell pairs one key's live state with its condition variable. All state
// access goes through the cell's lock; cells are shared freely by
// pointer and never evicted.
type Cell[S any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state S
}

func newCell[S any]() *Cell[S] {
	c := &Cell[S]{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Load returns a copy of the current state.
func (c *Cell[S]) Load() S {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Update runs f on the state under the cell lock. When f returns true
// the cell broadcasts, waking every waiter; progress merges that change
// no status return false and wake nobody.
func (c *Cell[S]) Update(f func(*S) bool) {
	c.mu.Lock()
	changed := f(&c.state)
	c.mu.Unlock()
	if changed {
		c.cond.Broadcast()
	}
}

// WaitUntil blocks until pred holds for the state, re-evaluating after
// every broadcast, and returns the state observed. The wait is
// indefinite; release comes only from another party's transition.
func (c *Cell[S]) WaitUntil(pred func(S) bool) S {
	c.mu.Lock()
	defer c.mu.Unlock()
	for !pred(c.state) {
		c.cond.Wait()
	}
	return c.state
}

// Cache is the concurrent key-to-cell map. Lookups for different keys
// never contend, and no map-level lock is held once a cell pointer has
// been handed out.
type Cache[K comparable, S any] struct {
	cells sync.Map // map[K]*Cell[S]
}

func New[K comparable, S any]() *Cache[K, S] {
	return &Cache[K, S]{}
}

// EntryOrDefault returns the cell for key, atomically inserting a
// zero-state cell on first reference.
func (c *Cache[K, S]) EntryOrDefault(key K) *Cell[S] {
	if cell, ok := c.cells.Load(key); ok {
		return cell.(*Cell[S])
	}
	cell, _ := c.cells.LoadOrStore(key, newCell[S]())
	return cell.(*Cell[S])
}

// Get returns the cell for key if one was ever created.
func (c *Cache[K, S]) Get(key K) (*Cell[S], bool) {
	cell, ok := c.cells.Load(key)
	if !ok {
		return nil, false
	}
	return cell.(*Cell[S]), true
}
