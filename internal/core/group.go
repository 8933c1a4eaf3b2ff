package core

// group is the set of live connections subscribed to a room or owned by an identity.
type group map[*Client]struct{}

// add inserts a client. Returns true if newly added.
func (g group) add(c *Client) bool {
	if _, exists := g[c]; exists {
		return false
	}
	g[c] = struct{}{}
	return true
}

// remove deletes a client. Returns true if removed.
func (g group) remove(c *Client) bool {
	if _, exists := g[c]; !exists {
		return false
	}
	delete(g, c)
	return true
}

// collect appends the members not rejected by skip to dst, once each.
func (g group) collect(dst []*Client, seen map[*Client]struct{}, skip func(*Client) bool) []*Client {
	for c := range g {
		if skip != nil && skip(c) {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		dst = append(dst, c)
	}
	return dst
}
