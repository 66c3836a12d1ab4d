package node

import "sort"

// rebuildRing recomputes the sorted ring order and this node's left/right
// neighbors (spec.md §4.2). Called on every membership change. When only
// one server is known, left and right both point back at self.
func (n *Node) rebuildRing() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rebuildRingLocked()
}

// rebuildRingLocked assumes n.mu is already held for writing.
func (n *Node) rebuildRingLocked() {
	if _, ok := n.servers[n.ID]; !ok {
		n.servers[n.ID] = struct{}{}
	}

	ordered := make([]string, 0, len(n.servers))
	for s := range n.servers {
		ordered = append(ordered, s)
	}
	sort.Strings(ordered)

	if len(ordered) == 0 {
		n.left, n.right = "", ""
		return
	}

	idx := sort.SearchStrings(ordered, n.ID)
	count := len(ordered)
	n.left = ordered[(idx-1+count)%count]
	n.right = ordered[(idx+1)%count]
}
