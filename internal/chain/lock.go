package chain

import (
	"github.com/google/uuid"

	"github.com/rzbill/trustchain/pkg/id"
)

// TryLock takes a local pessimistic lock on key for owner. It reports false
// if another owner holds it. Locks are process-local and never persisted;
// commits by other owners touching key fail with ErrObjectStillLocked.
func (c *Chain) TryLock(key id.PrimaryKey, owner uuid.UUID) bool {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	if cur, ok := c.locks[key]; ok {
		return cur == owner
	}
	c.locks[key] = owner
	return true
}

// Unlock releases owner's lock on key. Locks held by others are untouched.
func (c *Chain) Unlock(key id.PrimaryKey, owner uuid.UUID) {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	if cur, ok := c.locks[key]; ok && cur == owner {
		delete(c.locks, key)
	}
}

func (c *Chain) lockOwner(key id.PrimaryKey) (uuid.UUID, bool) {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	owner, ok := c.locks[key]
	return owner, ok
}
