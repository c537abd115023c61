package hierarchy

import (
	"context"
	"slices"
)

// AddChild makes child a child of parent. Unknown ids are registered as
// part of the call. The call fails without changing anything if child
// already has a parent, if the edge would close a cycle, if any node of
// child's subtree would end up deeper than the depth limit, or if parent is
// at its child limit.
func (m *Manager) AddChild(ctx context.Context, parent, child string) error {
	if parent == "" || child == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	if p, ok := m.parent[child]; ok && parent != child {
		m.mu.Unlock()
		if p == parent {
			return &RelationError{Op: "add_child", Parent: parent, Child: child, Reason: "already a child"}
		}
		return &RelationError{Op: "add_child", Parent: parent, Child: child, Reason: "already a child of " + p + ", use Reparent"}
	}
	if err := m.checkAttachLocked("add_child", parent, child); err != nil {
		m.mu.Unlock()
		return err
	}

	m.ensureLocked(parent)
	m.ensureLocked(child)
	m.attachLocked(parent, child)
	sub := m.recomputeLocked(child)
	m.cache.invalidate(sub...)
	depth := m.depth[child]
	m.mu.Unlock()

	m.logger.Debug("child added", "parent", parent, "child", child, "depth", depth)
	m.emit(ctx, EventChildAdded, map[string]any{
		"parent": parent,
		"child":  child,
		"depth":  depth,
	})
	return nil
}

// checkAttachLocked validates attaching child (with its subtree) under
// parent, ignoring child's current parent.
func (m *Manager) checkAttachLocked(op, parent, child string) error {
	if parent == child {
		return &RelationError{Op: op, Parent: parent, Child: child, Reason: "a node cannot be its own parent"}
	}
	if m.wouldCreateCycleLocked(parent, child) {
		path := m.ancestorsLocked(parent, true)
		if i := slices.Index(path, child); i >= 0 {
			path = path[:i+1]
		}
		return &CycleError{Parent: parent, Child: child, Path: path}
	}

	height := 0
	if m.hasLocked(child) {
		height = m.heightLocked(child)
	}
	if deepest := m.depthOfLocked(parent) + 1 + height; deepest > m.maxDepth {
		return &DepthExceededError{Node: child, Depth: deepest, Max: m.maxDepth}
	}

	if n := len(m.children[parent]); n >= m.maxChildren {
		return &CapacityExceededError{Parent: parent, Children: n + 1, Max: m.maxChildren}
	}
	return nil
}

// RemoveChild detaches child from parent. The relation must exist. Child
// becomes a root with depth 0; mode decides what happens below it:
// KeepSubtree keeps its descendants attached, OrphanChildren turns its
// children into roots, PromoteChildren moves its children to parent, and
// Cascade removes child and its descendants from the hierarchy.
func (m *Manager) RemoveChild(ctx context.Context, parent, child string, mode RemoveMode) error {
	if parent == "" || child == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	if !m.hasLocked(parent) {
		m.mu.Unlock()
		return &NotFoundError{ID: parent}
	}
	if !m.hasLocked(child) {
		m.mu.Unlock()
		return &NotFoundError{ID: child}
	}
	if p, ok := m.parent[child]; !ok || p != parent {
		m.mu.Unlock()
		return &RelationError{Op: "remove_child", Parent: parent, Child: child, Reason: "not a child"}
	}

	grandchildren := m.children[child]
	if mode == PromoteChildren {
		if n := len(m.children[parent]) - 1 + len(grandchildren); n > m.maxChildren {
			m.mu.Unlock()
			return &CapacityExceededError{Parent: parent, Children: n, Max: m.maxChildren}
		}
	}

	var removed []string
	switch mode {
	case Cascade:
		removed = m.subtreeLocked(child)
		m.detachLocked(child)
		for _, id := range removed {
			m.dropLocked(id)
		}
		m.cache.invalidate(removed...)
	case PromoteChildren:
		m.promoteLocked(child, parent)
		m.detachLocked(child)
		m.children[child] = []string{}
		m.cache.invalidate(m.recomputeLocked(parent)...)
		m.cache.invalidate(m.recomputeLocked(child)...)
	case OrphanChildren:
		m.detachLocked(child)
		m.cache.invalidate(m.recomputeLocked(child)...)
		m.orphanLocked(child)
	default:
		m.detachLocked(child)
		m.cache.invalidate(m.recomputeLocked(child)...)
	}
	m.mu.Unlock()

	m.logger.Debug("child removed", "parent", parent, "child", child, "mode", mode.String())
	payload := map[string]any{
		"parent": parent,
		"child":  child,
		"mode":   mode.String(),
	}
	if len(removed) > 0 {
		payload["removed"] = removed
	}
	m.emit(ctx, EventChildRemoved, payload)
	return nil
}

// promoteLocked moves the children of id into id's slot in newParent's
// child list, keeping their order.
func (m *Manager) promoteLocked(id, newParent string) {
	kids := m.children[id]
	siblings := m.children[newParent]
	next := make([]string, 0, len(siblings)+len(kids))
	for _, s := range siblings {
		if s == id {
			next = append(next, kids...)
			continue
		}
		next = append(next, s)
	}
	m.children[newParent] = next
	for _, k := range kids {
		m.parent[k] = newParent
	}
}

// orphanLocked turns every child of id into a root.
func (m *Manager) orphanLocked(id string) {
	kids := m.children[id]
	m.children[id] = []string{}
	for _, k := range kids {
		delete(m.parent, k)
		m.roots[k] = struct{}{}
		m.cache.invalidate(m.recomputeLocked(k)...)
	}
}

// Reparent moves child from oldParent to newParent in one step. An empty
// oldParent asserts that child is currently a root. Observers see child
// under exactly one of the two parents, never both and never neither.
// Unknown newParent ids are registered as roots.
func (m *Manager) Reparent(ctx context.Context, child, newParent, oldParent string) error {
	if child == "" || newParent == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	if !m.hasLocked(child) {
		m.mu.Unlock()
		return &NotFoundError{ID: child}
	}

	current, hasParent := m.parent[child]
	switch {
	case oldParent == "" && hasParent:
		m.mu.Unlock()
		return &RelationError{Op: "reparent", Parent: current, Child: child, Reason: "node is not a root"}
	case oldParent != "" && (!hasParent || current != oldParent):
		m.mu.Unlock()
		return &RelationError{Op: "reparent", Parent: oldParent, Child: child, Reason: "not a child"}
	}

	if newParent == oldParent {
		m.mu.Unlock()
		return nil
	}
	if err := m.checkAttachLocked("reparent", newParent, child); err != nil {
		m.mu.Unlock()
		return err
	}

	m.ensureLocked(newParent)
	m.detachLocked(child)
	m.attachLocked(newParent, child)
	m.cache.invalidate(m.recomputeLocked(child)...)
	depth := m.depth[child]
	m.mu.Unlock()

	m.logger.Debug("node reparented", "child", child, "old_parent", oldParent, "new_parent", newParent, "depth", depth)
	m.emit(ctx, EventReparented, map[string]any{
		"child":      child,
		"old_parent": oldParent,
		"new_parent": newParent,
		"depth":      depth,
	})
	return nil
}

// Unregister removes id from the hierarchy. Its children become roots under
// KeepSubtree and OrphanChildren, move to id's parent under
// PromoteChildren, and are removed with all their descendants under Cascade.
// It returns the removed ids.
func (m *Manager) Unregister(ctx context.Context, id string, mode RemoveMode) ([]string, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.Lock()
	if !m.hasLocked(id) {
		m.mu.Unlock()
		return nil, &NotFoundError{ID: id}
	}

	parent, hasParent := m.parent[id]
	if mode == PromoteChildren && hasParent {
		if n := len(m.children[parent]) - 1 + len(m.children[id]); n > m.maxChildren {
			m.mu.Unlock()
			return nil, &CapacityExceededError{Parent: parent, Children: n, Max: m.maxChildren}
		}
	}

	removed := []string{id}
	switch {
	case mode == Cascade:
		removed = m.subtreeLocked(id)
		m.detachLocked(id)
	case mode == PromoteChildren && hasParent:
		m.promoteLocked(id, parent)
		m.children[id] = []string{}
		delete(m.parent, id)
		m.cache.invalidate(m.recomputeLocked(parent)...)
	default:
		m.detachLocked(id)
		m.orphanLocked(id)
	}
	for _, r := range removed {
		m.dropLocked(r)
	}
	m.cache.invalidate(removed...)
	m.mu.Unlock()

	m.logger.Debug("node removed", "id", id, "mode", mode.String(), "removed", len(removed))
	payload := map[string]any{
		"id":      id,
		"mode":    mode.String(),
		"removed": removed,
	}
	if hasParent {
		payload["parent"] = parent
	}
	m.emit(ctx, EventNodeRemoved, payload)
	return removed, nil
}
