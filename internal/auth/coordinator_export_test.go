package auth

import "github.com/google/uuid"

type entryState struct {
	id              uuid.UUID
	requiresRefresh bool
	waiters         int
}

// state reports the current entry for key.
func (c *Coordinator) state(key string) (entryState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return entryState{}, false
	}

	return entryState{id: e.id, requiresRefresh: e.requiresRefresh, waiters: e.waiters}, true
}
