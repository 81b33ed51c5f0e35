package session

// Ignored reports whether the id is a member of the category set.
func (c *Client) Ignored(category, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ignored[category][id]
	return ok
}

// Ignore adds the id to the category set. Returns false when the id was
// already present (idempotent no-op, nothing persisted).
func (c *Client) Ignore(category, id string) bool {
	c.mu.Lock()
	set, ok := c.ignored[category]
	if !ok {
		set = make(map[string]struct{})
		c.ignored[category] = set
	}
	if _, exists := set[id]; exists {
		c.mu.Unlock()
		return false
	}
	set[id] = struct{}{}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.hub.Persist(snap)
	return true
}

// Unignore removes the id from the category set. Returns false when it was
// absent. Empty categories are pruned after their last member goes.
func (c *Client) Unignore(category, id string) bool {
	c.mu.Lock()
	set, ok := c.ignored[category]
	if !ok {
		c.mu.Unlock()
		return false
	}
	if _, exists := set[id]; !exists {
		c.mu.Unlock()
		return false
	}
	delete(set, id)
	if len(set) == 0 {
		delete(c.ignored, category)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.hub.Persist(snap)
	return true
}
