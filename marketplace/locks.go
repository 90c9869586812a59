package marketplace

import "sync"

// =============================================================================
// PER-ITEM SERIALIZATION
// =============================================================================

// Catalog quantity is the only resource contended by multiple actors: the
// owner editing stock and the owner approving competing requests. Every
// mutation path takes the item's lock before its transaction, so approvals
// against the same item are linearized; first committer wins, the loser
// sees the post-commit quantity and fails cleanly on insufficient stock.

var itemLocks sync.Map // ItemID -> *sync.Mutex

// lockItem locks the mutex for an item id and returns the unlock func.
func lockItem(id ItemID) func() {
	mu, _ := itemLocks.LoadOrStore(id, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}
